package webrtcpeer

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/pion/webrtc/v4"
)

const (
	probePing = "ping"
	probePong = "pong"

	probeRetryInterval = 200 * time.Millisecond
)

type ProbeConfig struct {
	// URL is the signaling WebSocket, e.g. ws://127.0.0.1:8081/ws.
	URL        string
	Header     http.Header
	ICEServers []webrtc.ICEServer
	Logger     *slog.Logger

	// StreamerAPI and ViewerAPI default to NewAPI(APIOptions{Logger: Logger}).
	StreamerAPI *webrtc.API
	ViewerAPI   *webrtc.API
}

type ProbeResult struct {
	RoomCode string
	// Joined is the time until both sides were in the room.
	Joined time.Duration
	// RoundTrip is the time until the streamer got the viewer's pong.
	RoundTrip time.Duration
}

// Probe runs one streamer and one viewer through the signaling server at
// cfg.URL and succeeds once a DataChannel message has crossed the
// negotiated connection in both directions.
func Probe(ctx context.Context, cfg ProbeConfig) (ProbeResult, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.StreamerAPI == nil {
		cfg.StreamerAPI = NewAPI(APIOptions{Logger: cfg.Logger})
	}
	if cfg.ViewerAPI == nil {
		cfg.ViewerAPI = NewAPI(APIOptions{Logger: cfg.Logger})
	}

	start := time.Now()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	pong := make(chan struct{}, 1)
	streamer, err := NewStreamer(ctx, cfg.URL, Config{
		API:        cfg.StreamerAPI,
		ICEServers: cfg.ICEServers,
		Logger:     cfg.Logger.With("side", "streamer"),
		Header:     cfg.Header,
		OnDataChannel: func(_ string, dc *webrtc.DataChannel) {
			dc.OnMessage(func(msg webrtc.DataChannelMessage) {
				if msg.IsString && string(msg.Data) == probePong {
					select {
					case pong <- struct{}{}:
					default:
					}
				}
			})
			go pingUntil(ctx, dc, pong)
		},
	})
	if err != nil {
		return ProbeResult{}, err
	}
	defer streamer.Close()
	res := ProbeResult{RoomCode: streamer.RoomCode()}

	viewer, err := JoinRoom(ctx, cfg.URL, res.RoomCode, Config{
		API:        cfg.ViewerAPI,
		ICEServers: cfg.ICEServers,
		Logger:     cfg.Logger.With("side", "viewer"),
		Header:     cfg.Header,
		OnDataChannel: func(_ string, dc *webrtc.DataChannel) {
			dc.OnMessage(func(msg webrtc.DataChannelMessage) {
				if msg.IsString && string(msg.Data) == probePing {
					_ = dc.SendText(probePong)
				}
			})
		},
	})
	if err != nil {
		return res, err
	}
	defer viewer.Close()
	res.Joined = time.Since(start)

	runErr := make(chan error, 2)
	go func() { runErr <- fmt.Errorf("streamer: %w", streamer.Run(ctx)) }()
	go func() { runErr <- fmt.Errorf("viewer: %w", viewer.Run(ctx)) }()

	select {
	case <-pong:
		res.RoundTrip = time.Since(start)
		return res, nil
	case err := <-runErr:
		return res, err
	case <-ctx.Done():
		return res, fmt.Errorf("waiting for datachannel round trip: %w", ctx.Err())
	}
}

// pingUntil repeats the ping until the pong arrives; the first one can race
// the viewer registering its message handler.
func pingUntil(ctx context.Context, dc *webrtc.DataChannel, pong <-chan struct{}) {
	t := time.NewTicker(probeRetryInterval)
	defer t.Stop()
	for {
		if err := dc.SendText(probePing); err != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		if len(pong) > 0 {
			return
		}
	}
}
