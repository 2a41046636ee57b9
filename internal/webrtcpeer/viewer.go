package webrtcpeer

import (
	"context"
	"fmt"

	"github.com/pion/webrtc/v4"

	"github.com/Vtheonly/Nasa-Hackathon-2025/galaxy-signaling/internal/envelope"
)

// Viewer joins an existing room and answers the streamer's offer.
type Viewer struct {
	cfg Config
	sig *signalConn

	// Owned by the Run goroutine.
	streamer *remotePeer
	// Candidates that arrive before the offer.
	early []webrtc.ICECandidateInit
}

// JoinRoom dials the signaling endpoint at url and joins room code. A room
// that does not exist yields a *RoomError.
func JoinRoom(ctx context.Context, url, code string, cfg Config) (*Viewer, error) {
	cfg = cfg.withDefaults()
	sig, err := dialSignal(ctx, url, cfg.Header)
	if err != nil {
		return nil, err
	}
	if err := sig.send(control{Type: envelope.TypeJoinRoom, RoomCode: code}); err != nil {
		_ = sig.close()
		return nil, fmt.Errorf("join room %s: %w", code, err)
	}
	if _, err := sig.await(ctx, envelope.TypeRoomJoined); err != nil {
		_ = sig.close()
		return nil, fmt.Errorf("join room %s: %w", code, err)
	}
	cfg.Logger.Info("room joined", "room_code", code)
	return &Viewer{cfg: cfg, sig: sig}, nil
}

// Run handles signaling until the streamer leaves (ErrStreamerDisconnected),
// ctx is done or the connection fails.
func (v *Viewer) Run(ctx context.Context) error {
	stop := watchContext(ctx, v.sig)
	defer stop()
	defer v.closePeer()

	for {
		m, err := v.sig.read()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		if m.Type == envelope.TypeStreamerDisconnected {
			return ErrStreamerDisconnected
		}
		if err := v.handle(m); err != nil {
			v.cfg.Logger.Warn("viewer signaling step failed", "from", m.From, "err", err)
		}
	}
}

func (v *Viewer) handle(m message) error {
	switch {
	case m.Offer != nil:
		return v.answer(m.From, *m.Offer)
	case m.ICECandidate != nil:
		if v.streamer == nil || v.streamer.id != m.From {
			v.early = append(v.early, *m.ICECandidate)
			return nil
		}
		return v.streamer.addCandidate(*m.ICECandidate)
	}
	return nil
}

func (v *Viewer) answer(from string, offer webrtc.SessionDescription) error {
	v.closePeer()

	pc, err := v.cfg.API.NewPeerConnection(webrtc.Configuration{ICEServers: v.cfg.ICEServers})
	if err != nil {
		return fmt.Errorf("new peer connection: %w", err)
	}
	log := v.cfg.Logger.With("streamer", from)
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		log.Debug("peer connection state", "state", state.String())
	})
	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		if dc.Label() != DataChannelLabel || v.cfg.OnDataChannel == nil {
			return
		}
		dc.OnOpen(func() { v.cfg.OnDataChannel(from, dc) })
	})
	trickle(v.sig, pc, from, func(err error) { log.Debug("send candidate", "err", err) })

	v.streamer = &remotePeer{id: from, pc: pc, pending: v.early}
	v.early = nil

	if err := v.streamer.setRemote(offer); err != nil {
		return err
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return fmt.Errorf("create answer: %w", err)
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		return fmt.Errorf("set local answer: %w", err)
	}
	return v.sig.send(relay{To: from, Answer: pc.LocalDescription()})
}

func (v *Viewer) closePeer() {
	if v.streamer != nil {
		_ = v.streamer.pc.Close()
		v.streamer = nil
	}
}

// Close leaves the room. Call it after Run has returned or to make a running
// Run return.
func (v *Viewer) Close() error {
	return v.sig.close()
}
