// Package webrtcpeer is a Go signaling peer: it speaks the room protocol over
// a signaling WebSocket and negotiates pion PeerConnections with the other
// side, the same way the browser streamer and viewer pages do. It backs the
// signaling probe and end-to-end tests.
//
// Peers carry a single ordered DataChannel instead of media tracks.
package webrtcpeer

import (
	"log/slog"

	"github.com/pion/logging"
	"github.com/pion/transport/v4"
	"github.com/pion/webrtc/v4"
)

// DataChannelLabel is the label of the channel a Streamer opens to each
// viewer.
const DataChannelLabel = "galaxy"

type APIOptions struct {
	// Logger receives pion's internal logs. Nil silences them below warn.
	Logger *slog.Logger
	// Net replaces the host network, e.g. with a vnet.Net in tests.
	Net transport.Net
}

func NewAPI(opts APIOptions) *webrtc.API {
	se := webrtc.SettingEngine{}
	if opts.Logger != nil {
		se.LoggerFactory = NewLoggerFactory(opts.Logger)
	} else {
		lf := logging.NewDefaultLoggerFactory()
		lf.DefaultLogLevel = logging.LogLevelWarn
		se.LoggerFactory = lf
	}
	if opts.Net != nil {
		se.SetNet(opts.Net)
	}
	return webrtc.NewAPI(webrtc.WithSettingEngine(se))
}
