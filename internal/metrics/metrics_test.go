package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/Vtheonly/Nasa-Hackathon-2025/galaxy-signaling/internal/rooms"
)

func TestMetrics_CountersAndGauges(t *testing.T) {
	m := New(nil)

	m.ConnectionOpened()
	m.ConnectionOpened()
	m.ConnectionClosed("client")
	m.Envelope("relay")
	m.Envelope("relay")
	m.Envelope("create-room")
	m.RelayDropped(DropReasonUnknownPeer)
	m.JoinFailed()
	m.RoomCreated()

	if got := testutil.ToFloat64(m.connectionsActive); got != 1 {
		t.Fatalf("connections_active=%v, want 1", got)
	}
	if got := testutil.ToFloat64(m.envelopes.WithLabelValues("relay")); got != 2 {
		t.Fatalf("envelopes_total{kind=relay}=%v, want 2", got)
	}
	if got := testutil.ToFloat64(m.relayDropped.WithLabelValues(DropReasonUnknownPeer)); got != 1 {
		t.Fatalf("relay_dropped_total=%v, want 1", got)
	}
	if got := testutil.ToFloat64(m.joinFailures); got != 1 {
		t.Fatalf("join_failures_total=%v, want 1", got)
	}
	if got := testutil.ToFloat64(m.connectionsClosed.WithLabelValues("client")); got != 1 {
		t.Fatalf("connections_closed_total{cause=client}=%v, want 1", got)
	}
}

func TestMetrics_NilReceiverIsNoop(t *testing.T) {
	var m *Metrics
	m.ConnectionOpened()
	m.ConnectionClosed("client")
	m.Envelope("relay")
	m.RelayDropped(DropReasonQueueFull)
	m.JoinFailed()
	m.RoomCreated()
	m.WatchRooms(func() rooms.Stats { return rooms.Stats{} })

	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d, want %d", rr.Code, http.StatusInternalServerError)
	}
}

func TestMetrics_RoomGauges(t *testing.T) {
	m := New(nil)
	m.WatchRooms(func() rooms.Stats { return rooms.Stats{Rooms: 3, Streamers: 2, Viewers: 7} })

	want := `
# HELP signaling_participants Participants currently bound to a room, by role.
# TYPE signaling_participants gauge
signaling_participants{role="streamer"} 2
signaling_participants{role="viewer"} 7
# HELP signaling_rooms_active Rooms currently held in memory.
# TYPE signaling_rooms_active gauge
signaling_rooms_active 3
`
	if err := testutil.GatherAndCompare(m.Registry(), strings.NewReader(want),
		"signaling_rooms_active", "signaling_participants"); err != nil {
		t.Fatalf("GatherAndCompare: %v", err)
	}
}

func TestMetrics_Handler(t *testing.T) {
	m := New(nil)
	m.Envelope("join-room")

	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d, want %d", rr.Code, http.StatusOK)
	}
	body := rr.Body.String()
	if !strings.Contains(body, `signaling_envelopes_total{kind="join-room"} 1`) {
		t.Fatalf("missing envelope counter: %s", body)
	}
	if !strings.Contains(body, "go_goroutines") {
		t.Fatalf("missing go runtime collector: %s", body)
	}
}
