package webrtcpeer

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/pion/logging"
	"github.com/pion/transport/v4/vnet"
	"github.com/pion/webrtc/v4"

	"github.com/Vtheonly/Nasa-Hackathon-2025/galaxy-signaling/internal/rooms"
	"github.com/Vtheonly/Nasa-Hackathon-2025/galaxy-signaling/internal/signaling"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newVNetAPIs returns two APIs on a private virtual network so the tests do
// not depend on host interfaces.
func newVNetAPIs(t *testing.T) (a, b *webrtc.API) {
	t.Helper()

	router, err := vnet.NewRouter(&vnet.RouterConfig{
		CIDR:          "10.0.0.0/24",
		LoggerFactory: logging.NewDefaultLoggerFactory(),
	})
	if err != nil {
		t.Fatalf("new router: %v", err)
	}
	t.Cleanup(func() { _ = router.Stop() })

	netA, err := vnet.NewNet(&vnet.NetConfig{StaticIPs: []string{"10.0.0.1"}})
	if err != nil {
		t.Fatalf("new net A: %v", err)
	}
	netB, err := vnet.NewNet(&vnet.NetConfig{StaticIPs: []string{"10.0.0.2"}})
	if err != nil {
		t.Fatalf("new net B: %v", err)
	}
	if err := router.AddNet(netA); err != nil {
		t.Fatalf("add net A: %v", err)
	}
	if err := router.AddNet(netB); err != nil {
		t.Fatalf("add net B: %v", err)
	}
	if err := router.Start(); err != nil {
		t.Fatalf("start router: %v", err)
	}

	log := discardLogger()
	return NewAPI(APIOptions{Logger: log, Net: netA}), NewAPI(APIOptions{Logger: log, Net: netB})
}

func startSignaling(t *testing.T) (*rooms.Registry, string) {
	t.Helper()
	reg := rooms.New(rooms.Config{})
	srv := signaling.NewServer(signaling.Config{Registry: reg, Logger: discardLogger()})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		srv.Close()
		ts.Close()
	})
	return reg, "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestProbe_RoundTripOverVNet(t *testing.T) {
	reg, url := startSignaling(t)
	streamerAPI, viewerAPI := newVNetAPIs(t)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	res, err := Probe(ctx, ProbeConfig{
		URL:         url,
		Logger:      discardLogger(),
		StreamerAPI: streamerAPI,
		ViewerAPI:   viewerAPI,
	})
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if len(res.RoomCode) != rooms.DefaultCodeLength {
		t.Fatalf("RoomCode=%q", res.RoomCode)
	}
	if res.RoundTrip < res.Joined {
		t.Fatalf("RoundTrip=%v < Joined=%v", res.RoundTrip, res.Joined)
	}

	waitFor(t, "room cleanup after probe", func() bool { return reg.Stats() == (rooms.Stats{}) })
}

func TestJoinRoom_UnknownRoom(t *testing.T) {
	_, url := startSignaling(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := JoinRoom(ctx, url, "ZZZZZ", Config{Logger: discardLogger()})
	var roomErr *RoomError
	if !errors.As(err, &roomErr) {
		t.Fatalf("err=%v, want *RoomError", err)
	}
	if roomErr.Message != "Room not found" {
		t.Fatalf("message=%q, want Room not found", roomErr.Message)
	}
}

func TestViewerRun_ReturnsWhenStreamerLeaves(t *testing.T) {
	reg, url := startSignaling(t)
	streamerAPI, viewerAPI := newVNetAPIs(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	opened := make(chan string, 1)
	streamer, err := NewStreamer(ctx, url, Config{
		API:    streamerAPI,
		Logger: discardLogger(),
		OnDataChannel: func(peer string, _ *webrtc.DataChannel) {
			opened <- peer
		},
	})
	if err != nil {
		t.Fatalf("NewStreamer: %v", err)
	}
	go func() { _ = streamer.Run(ctx) }()

	viewer, err := JoinRoom(ctx, url, streamer.RoomCode(), Config{API: viewerAPI, Logger: discardLogger()})
	if err != nil {
		t.Fatalf("JoinRoom: %v", err)
	}
	runErr := make(chan error, 1)
	go func() { runErr <- viewer.Run(ctx) }()

	var viewerID string
	select {
	case viewerID = <-opened:
	case <-ctx.Done():
		t.Fatalf("datachannel never opened")
	}
	info, ok := reg.Room(streamer.RoomCode())
	if !ok || len(info.Viewers) != 1 || info.Viewers[0] != viewerID {
		t.Fatalf("room=%+v, want viewer %q", info, viewerID)
	}

	if err := streamer.Close(); err != nil {
		t.Fatalf("streamer close: %v", err)
	}
	select {
	case err := <-runErr:
		if !errors.Is(err, ErrStreamerDisconnected) {
			t.Fatalf("viewer Run=%v, want ErrStreamerDisconnected", err)
		}
	case <-ctx.Done():
		t.Fatalf("viewer Run did not return")
	}
	_ = viewer.Close()
}

func TestRemotePeer_QueuesCandidatesUntilRemoteDescription(t *testing.T) {
	api := NewAPI(APIOptions{Logger: discardLogger()})
	pc, err := api.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		t.Fatalf("new pc: %v", err)
	}
	defer pc.Close()

	p := &remotePeer{id: "s", pc: pc}
	cand := webrtc.ICECandidateInit{Candidate: "candidate:1 1 udp 2130706431 10.0.0.1 5000 typ host"}
	if err := p.addCandidate(cand); err != nil {
		t.Fatalf("addCandidate: %v", err)
	}
	if len(p.pending) != 1 {
		t.Fatalf("pending=%d, want 1", len(p.pending))
	}
}

func TestLoggerFactory_RoutesToSlog(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	l := NewLoggerFactory(log).NewLogger("ice")
	l.Infof("gathered %d candidates", 3)
	l.Trace("too chatty")
	l.Warn("selected pair changed")

	out := buf.String()
	if !strings.Contains(out, `msg="gathered 3 candidates"`) || !strings.Contains(out, "pion_scope=ice") {
		t.Fatalf("missing info record:\n%s", out)
	}
	if strings.Contains(out, "too chatty") {
		t.Fatalf("trace record emitted at debug level:\n%s", out)
	}
	if !strings.Contains(out, "level=WARN") {
		t.Fatalf("missing warn record:\n%s", out)
	}
}
