// Command galaxy-signaling-probe checks a running signaling server end to
// end: it creates a room, joins it, negotiates a WebRTC DataChannel through
// the relay and exits 0 once a message has crossed it both ways.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/Vtheonly/Nasa-Hackathon-2025/galaxy-signaling/internal/webrtcpeer"
)

func main() {
	fs := flag.NewFlagSet("galaxy-signaling-probe", flag.ContinueOnError)
	url := fs.String("url", envOrDefault("PROBE_SIGNALING_URL", "ws://127.0.0.1:8081/ws"), "signaling WebSocket URL (env PROBE_SIGNALING_URL)")
	iceURL := fs.String("ice-url", os.Getenv("PROBE_ICE_URL"), "optional URL of GET /webrtc/ice to take ICE servers from (env PROBE_ICE_URL)")
	origin := fs.String("origin", os.Getenv("PROBE_ORIGIN"), "Origin header to send (env PROBE_ORIGIN)")
	timeout := fs.Duration("timeout", 20*time.Second, "overall probe timeout")
	verbose := fs.Bool("v", false, "debug logging, including pion internals")
	if err := fs.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		os.Exit(2)
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	header := http.Header{}
	if *origin != "" {
		header.Set("Origin", *origin)
	}

	var iceServers []webrtc.ICEServer
	if *iceURL != "" {
		var err error
		iceServers, err = fetchICEServers(ctx, *iceURL, header)
		if err != nil {
			logger.Error("fetch ice servers", "url", *iceURL, "err", err)
			os.Exit(1)
		}
		logger.Info("using ice servers", "count", len(iceServers))
	}

	res, err := webrtcpeer.Probe(ctx, webrtcpeer.ProbeConfig{
		URL:        *url,
		Header:     header,
		ICEServers: iceServers,
		Logger:     logger,
	})
	if err != nil {
		logger.Error("probe failed", "url", *url, "room_code", res.RoomCode, "err", err)
		os.Exit(1)
	}
	logger.Info("probe ok",
		"room_code", res.RoomCode,
		"joined_ms", res.Joined.Milliseconds(),
		"round_trip_ms", res.RoundTrip.Milliseconds(),
	)
}

func fetchICEServers(ctx context.Context, url string, header http.Header) ([]webrtc.ICEServer, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header = header.Clone()
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}
	var body struct {
		ICEServers []webrtc.ICEServer `json:"iceServers"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	return body.ICEServers, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
