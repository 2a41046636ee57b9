package webrtcpeer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/Vtheonly/Nasa-Hackathon-2025/galaxy-signaling/internal/envelope"
)

type Config struct {
	API        *webrtc.API
	ICEServers []webrtc.ICEServer
	Logger     *slog.Logger
	// Header is sent with the WebSocket handshake (e.g. Origin).
	Header http.Header
	// OnDataChannel is called once per remote peer when its DataChannel
	// opens. Streamers get the channel they created, viewers the one they
	// received.
	OnDataChannel func(peer string, dc *webrtc.DataChannel)
}

func (c Config) withDefaults() Config {
	if c.API == nil {
		c.API = NewAPI(APIOptions{})
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Streamer owns a room and offers a PeerConnection to every viewer that
// joins it.
type Streamer struct {
	cfg      Config
	sig      *signalConn
	roomCode string

	mu    sync.Mutex
	peers map[string]*remotePeer
}

// NewStreamer dials the signaling endpoint at url and creates a room.
func NewStreamer(ctx context.Context, url string, cfg Config) (*Streamer, error) {
	cfg = cfg.withDefaults()
	sig, err := dialSignal(ctx, url, cfg.Header)
	if err != nil {
		return nil, err
	}
	if err := sig.send(control{Type: envelope.TypeCreateRoom}); err != nil {
		_ = sig.close()
		return nil, fmt.Errorf("create room: %w", err)
	}
	m, err := sig.await(ctx, envelope.TypeRoomCreated)
	if err != nil {
		_ = sig.close()
		return nil, fmt.Errorf("create room: %w", err)
	}
	cfg.Logger.Info("room created", "room_code", m.RoomCode)
	return &Streamer{
		cfg:      cfg,
		sig:      sig,
		roomCode: m.RoomCode,
		peers:    make(map[string]*remotePeer),
	}, nil
}

func (s *Streamer) RoomCode() string { return s.roomCode }

// Run handles signaling until ctx is done or the connection fails.
func (s *Streamer) Run(ctx context.Context) error {
	stop := watchContext(ctx, s.sig)
	defer stop()

	for {
		m, err := s.sig.read()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		if err := s.handle(m); err != nil {
			s.cfg.Logger.Warn("streamer signaling step failed", "from", m.From, "err", err)
		}
	}
}

func (s *Streamer) handle(m message) error {
	switch {
	case m.Type == envelope.TypeViewerJoined:
		return s.offer(m.From)
	case m.Answer != nil:
		p := s.peer(m.From)
		if p == nil {
			return nil
		}
		if p.pc.SignalingState() == webrtc.SignalingStateStable {
			return nil
		}
		return p.setRemote(*m.Answer)
	case m.ICECandidate != nil:
		p := s.peer(m.From)
		if p == nil {
			return nil
		}
		return p.addCandidate(*m.ICECandidate)
	}
	return nil
}

func (s *Streamer) peer(id string) *remotePeer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peers[id]
}

func (s *Streamer) offer(viewer string) error {
	if viewer == "" {
		return errors.New("viewer-joined without from")
	}
	pc, err := s.cfg.API.NewPeerConnection(webrtc.Configuration{ICEServers: s.cfg.ICEServers})
	if err != nil {
		return fmt.Errorf("new peer connection: %w", err)
	}
	log := s.cfg.Logger.With("viewer", viewer)
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		log.Debug("peer connection state", "state", state.String())
	})
	trickle(s.sig, pc, viewer, func(err error) { log.Debug("send candidate", "err", err) })

	dc, err := pc.CreateDataChannel(DataChannelLabel, nil)
	if err != nil {
		_ = pc.Close()
		return fmt.Errorf("create datachannel: %w", err)
	}
	if s.cfg.OnDataChannel != nil {
		dc.OnOpen(func() { s.cfg.OnDataChannel(viewer, dc) })
	}

	s.mu.Lock()
	if old := s.peers[viewer]; old != nil {
		_ = old.pc.Close()
	}
	s.peers[viewer] = &remotePeer{id: viewer, pc: pc}
	s.mu.Unlock()

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("set local offer: %w", err)
	}
	return s.sig.send(relay{To: viewer, Offer: pc.LocalDescription()})
}

// Close tears down every PeerConnection and leaves the room, which closes it
// for all viewers.
func (s *Streamer) Close() error {
	s.mu.Lock()
	peers := s.peers
	s.peers = map[string]*remotePeer{}
	s.mu.Unlock()

	var errs []error
	for _, p := range peers {
		errs = append(errs, p.pc.Close())
	}
	errs = append(errs, s.sig.close())
	return errors.Join(errs...)
}
