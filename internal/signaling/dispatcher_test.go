package signaling

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/Vtheonly/Nasa-Hackathon-2025/galaxy-signaling/internal/metrics"
	"github.com/Vtheonly/Nasa-Hackathon-2025/galaxy-signaling/internal/rooms"
)

type fakeTransport struct {
	mu     sync.Mutex
	closed bool
	full   bool
	sent   []map[string]any
}

func (f *fakeTransport) Open() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.closed
}

func (f *fakeTransport) Send(msg []byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed || f.full {
		return false
	}
	var v map[string]any
	if err := json.Unmarshal(msg, &v); err != nil {
		panic(fmt.Sprintf("server sent invalid JSON %q: %v", msg, err))
	}
	f.sent = append(f.sent, v)
	return true
}

func (f *fakeTransport) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func (f *fakeTransport) messages() []map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]map[string]any(nil), f.sent...)
}

func (f *fakeTransport) last(t *testing.T) map[string]any {
	t.Helper()
	msgs := f.messages()
	if len(msgs) == 0 {
		t.Fatalf("no messages received")
	}
	return msgs[len(msgs)-1]
}

type dispatcherHarness struct {
	d        *Dispatcher
	registry *rooms.Registry
	metrics  *metrics.Metrics
}

func newHarness(t *testing.T, codes ...string) *dispatcherHarness {
	t.Helper()
	n := 0
	cfg := rooms.Config{NewIdentity: func() string {
		n++
		return fmt.Sprintf("peer-%d", n)
	}}
	if len(codes) > 0 {
		cfg.NewCode = func() string {
			c := codes[0]
			codes = codes[1:]
			return c
		}
	}
	reg := rooms.New(cfg)
	m := metrics.New(nil)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return &dispatcherHarness{d: NewDispatcher(reg, log, m), registry: reg, metrics: m}
}

func (h *dispatcherHarness) connect() *fakeTransport {
	t := &fakeTransport{}
	h.d.Connect(t)
	return t
}

func (h *dispatcherHarness) send(t *fakeTransport, raw string) {
	h.d.Handle(t, []byte(raw))
}

// createRoom has a new connection create a room and returns it with the code.
func (h *dispatcherHarness) createRoom(t *testing.T) (*fakeTransport, string) {
	t.Helper()
	streamer := h.connect()
	h.send(streamer, `{"type":"create-room"}`)
	msg := streamer.last(t)
	if msg["type"] != "room-created" {
		t.Fatalf("reply=%v, want room-created", msg)
	}
	return streamer, msg["roomCode"].(string)
}

func (h *dispatcherHarness) join(t *testing.T, code string) *fakeTransport {
	t.Helper()
	viewer := h.connect()
	h.send(viewer, fmt.Sprintf(`{"type":"join-room","roomCode":%q}`, code))
	if msg := viewer.last(t); msg["type"] != "room-joined" {
		t.Fatalf("reply=%v, want room-joined", msg)
	}
	return viewer
}

func (h *dispatcherHarness) identity(t *testing.T, tr *fakeTransport) string {
	t.Helper()
	_, id, _, ok := h.d.Bound(tr)
	if !ok {
		t.Fatalf("transport is not bound")
	}
	return id
}

func (h *dispatcherHarness) expectMetric(t *testing.T, name, want string) {
	t.Helper()
	if err := testutil.GatherAndCompare(h.metrics.Registry(), strings.NewReader(want), name); err != nil {
		t.Fatalf("%s: %v", name, err)
	}
}

func TestDispatcher_CreateJoinAndViewerJoinedNotification(t *testing.T) {
	h := newHarness(t, "AB3K7")

	a, code := h.createRoom(t)
	if code != "AB3K7" {
		t.Fatalf("roomCode=%q, want AB3K7", code)
	}
	if role, _, _, _ := h.d.Bound(a); role != rooms.RoleStreamer {
		t.Fatalf("creator role=%q, want streamer", role)
	}

	b := h.join(t, code)
	role, bID, roomCode, ok := h.d.Bound(b)
	if !ok || role != rooms.RoleViewer || roomCode != code {
		t.Fatalf("Bound(b)=%q,%q,%q,%v, want viewer in %s", role, bID, roomCode, ok, code)
	}

	got := a.last(t)
	if got["type"] != "viewer-joined" || got["from"] != bID {
		t.Fatalf("streamer got %v, want viewer-joined from %s", got, bID)
	}
	if n := len(b.messages()); n != 1 {
		t.Fatalf("viewer got %d messages, want only room-joined", n)
	}
}

func TestDispatcher_RelayInjectsFromAndStripsTo(t *testing.T) {
	h := newHarness(t)
	a, code := h.createRoom(t)
	b := h.join(t, code)
	aID, bID := h.identity(t, a), h.identity(t, b)

	h.send(a, fmt.Sprintf(`{"offer":{"type":"offer","sdp":"v=0\r\n"},"to":%q}`, bID))

	got := b.last(t)
	if _, ok := got["to"]; ok {
		t.Fatalf("viewer saw to: %v", got)
	}
	if got["from"] != aID {
		t.Fatalf("from=%v, want %s", got["from"], aID)
	}
	offer, _ := got["offer"].(map[string]any)
	if offer["type"] != "offer" || offer["sdp"] != "v=0\r\n" {
		t.Fatalf("offer=%v, want untouched", got["offer"])
	}

	h.send(b, fmt.Sprintf(`{"answer":{"type":"answer","sdp":"x"},"to":%q,"from":"forged"}`, aID))
	got = a.last(t)
	if got["from"] != bID {
		t.Fatalf("from=%v, want sender identity %s", got["from"], bID)
	}
}

func TestDispatcher_RelayPreservesPerSenderOrder(t *testing.T) {
	h := newHarness(t)
	a, code := h.createRoom(t)
	b := h.join(t, code)
	aID := h.identity(t, a)
	before := len(a.messages())

	for i := 0; i < 20; i++ {
		h.send(b, fmt.Sprintf(`{"iceCandidate":{"candidate":"c%d"},"to":%q}`, i, aID))
	}
	msgs := a.messages()[before:]
	if len(msgs) != 20 {
		t.Fatalf("got %d candidates, want 20", len(msgs))
	}
	for i, m := range msgs {
		cand := m["iceCandidate"].(map[string]any)
		if want := fmt.Sprintf("c%d", i); cand["candidate"] != want {
			t.Fatalf("candidate %d=%v, want %s", i, cand["candidate"], want)
		}
	}
}

func TestDispatcher_StreamerDisconnectClosesViewers(t *testing.T) {
	h := newHarness(t)
	a, code := h.createRoom(t)
	b := h.join(t, code)
	c := h.join(t, code)

	h.d.Disconnect(a)

	for _, v := range []*fakeTransport{b, c} {
		if got := v.last(t); got["type"] != "streamer-disconnected" {
			t.Fatalf("viewer got %v, want streamer-disconnected", got)
		}
		if v.Open() {
			t.Fatalf("viewer transport still open")
		}
	}

	late := h.connect()
	h.send(late, fmt.Sprintf(`{"type":"join-room","roomCode":%q}`, code))
	if got := late.last(t); got["type"] != "error" || got["message"] != "Room not found" {
		t.Fatalf("late join got %v, want Room not found", got)
	}

	// The closed viewers then run their own leave path against the gone room.
	h.d.Disconnect(b)
	h.d.Disconnect(c)
	if s := h.registry.Stats(); s != (rooms.Stats{}) {
		t.Fatalf("stats=%+v, want empty", s)
	}
}

func TestDispatcher_ViewerDisconnectDoesNotNotifyStreamer(t *testing.T) {
	h := newHarness(t)
	a, code := h.createRoom(t)
	b := h.join(t, code)
	aID := h.identity(t, a)
	before := len(a.messages())

	h.d.Disconnect(b)

	if got := len(a.messages()); got != before {
		t.Fatalf("streamer received %d new messages after viewer left, want 0", got-before)
	}
	info, ok := h.registry.Room(code)
	if !ok || info.Streamer != aID || len(info.Viewers) != 0 {
		t.Fatalf("room=%+v ok=%v, want streamer only", info, ok)
	}

	// The room remains joinable and the streamer addressable.
	c := h.join(t, code)
	h.send(c, fmt.Sprintf(`{"iceCandidate":{},"to":%q}`, aID))
	if got := a.last(t); got["from"] != h.identity(t, c) {
		t.Fatalf("streamer got %v, want relay from new viewer", got)
	}
}

func TestDispatcher_UnknownRoom(t *testing.T) {
	h := newHarness(t)
	_, code := h.createRoom(t)
	before := h.registry.Stats()

	x := h.connect()
	h.send(x, `{"type":"join-room","roomCode":"ZZZZZ"}`)

	got := x.last(t)
	if got["type"] != "error" || got["message"] != "Room not found" {
		t.Fatalf("got %v, want error Room not found", got)
	}
	if _, _, _, ok := h.d.Bound(x); ok {
		t.Fatalf("connection bound after failed join")
	}
	if after := h.registry.Stats(); after != before {
		t.Fatalf("stats=%+v, want unchanged %+v", after, before)
	}
	h.expectMetric(t, "signaling_join_failures_total", `
# HELP signaling_join_failures_total join-room requests naming a room that does not exist.
# TYPE signaling_join_failures_total counter
signaling_join_failures_total 1
`)

	// Still unbound, so a retry with a valid code works.
	h.send(x, fmt.Sprintf(`{"type":"join-room","roomCode":%q}`, code))
	if got := x.last(t); got["type"] != "room-joined" {
		t.Fatalf("retry got %v, want room-joined", got)
	}
}

func TestDispatcher_UnresolvedRecipientIsDroppedSilently(t *testing.T) {
	h := newHarness(t)
	a, code := h.createRoom(t)
	b := h.join(t, code)
	bID := h.identity(t, b)
	h.d.Disconnect(b)
	before := len(a.messages())

	for i := 0; i < 3; i++ {
		h.send(a, fmt.Sprintf(`{"offer":{},"to":%q}`, bID))
	}
	if got := len(a.messages()); got != before {
		t.Fatalf("sender received %d messages for a dropped relay", got-before)
	}
	if !a.Open() {
		t.Fatalf("sender transport closed by dropped relay")
	}
}

func TestDispatcher_RelayDoesNotCrossRooms(t *testing.T) {
	h := newHarness(t)
	a, _ := h.createRoom(t)
	_, codeB := h.createRoom(t)
	other := h.join(t, codeB)
	otherID := h.identity(t, other)

	before := len(other.messages())
	h.send(a, fmt.Sprintf(`{"offer":{},"to":%q}`, otherID))
	if got := len(other.messages()); got != before {
		t.Fatalf("message crossed rooms")
	}
}

func TestDispatcher_IgnoresOutOfStateEnvelopes(t *testing.T) {
	h := newHarness(t)

	unbound := h.connect()
	h.send(unbound, `{"offer":{},"to":"peer-1"}`)
	h.send(unbound, `{"type":"hello"}`)
	if n := len(unbound.messages()); n != 0 {
		t.Fatalf("unbound connection got %d replies, want 0", n)
	}

	a, code := h.createRoom(t)
	before := len(a.messages())
	h.send(a, `{"type":"create-room"}`)
	h.send(a, fmt.Sprintf(`{"type":"join-room","roomCode":%q}`, code))
	if got := len(a.messages()); got != before {
		t.Fatalf("bound connection got %d replies to control envelopes, want 0", got-before)
	}
	if s := h.registry.Stats(); s.Rooms != 1 || s.Streamers != 1 || s.Viewers != 0 {
		t.Fatalf("stats=%+v, want one room with its streamer", s)
	}
}

func TestDispatcher_MalformedFramesAreDiscarded(t *testing.T) {
	h := newHarness(t)
	a, _ := h.createRoom(t)
	before := len(a.messages())

	for _, raw := range []string{`not json`, `[]`, `{"type":"join-room"}`, `{"to":7}`, "{\"type\":\"\xff\"}"} {
		h.send(a, raw)
	}
	if got := len(a.messages()); got != before {
		t.Fatalf("malformed frames produced %d replies", got-before)
	}
	if !a.Open() {
		t.Fatalf("malformed frame closed the connection")
	}
}

func TestDispatcher_InvalidUTF8RelayIsNotForwarded(t *testing.T) {
	h := newHarness(t)
	a, code := h.createRoom(t)
	b := h.join(t, code)
	streamerID := h.identity(t, a)
	before := len(a.messages())

	h.send(b, "{\"to\":\""+streamerID+"\",\"offer\":\"\xff\xfe\"}")
	if got := len(a.messages()); got != before {
		t.Fatalf("streamer received %d messages, want none: %v", got-before, a.messages()[before:])
	}
	if !a.Open() || !b.Open() {
		t.Fatalf("invalid UTF-8 frame closed a connection")
	}

	h.send(b, fmt.Sprintf(`{"to":%q,"offer":"ok"}`, streamerID))
	if msg := a.last(t); msg["offer"] != "ok" {
		t.Fatalf("streamer got %v, want the valid relay", msg)
	}
}

func TestDispatcher_EnvelopesFromUnregisteredTransportsAreNotCounted(t *testing.T) {
	h := newHarness(t)
	a, _ := h.createRoom(t)

	stranger := &fakeTransport{}
	h.send(stranger, `{"type":"create-room"}`)
	h.send(stranger, `not json`)

	gone := h.connect()
	h.d.Disconnect(gone)
	h.send(gone, `{"type":"create-room"}`)

	if got := len(stranger.messages()) + len(gone.messages()); got != 0 {
		t.Fatalf("unregistered transports got %d replies", got)
	}
	h.expectMetric(t, "signaling_envelopes_total", `
# HELP signaling_envelopes_total Inbound envelopes by kind.
# TYPE signaling_envelopes_total counter
signaling_envelopes_total{kind="create-room"} 1
`)
	if !a.Open() {
		t.Fatalf("streamer closed")
	}
}

func TestDispatcher_DisconnectIsIdempotent(t *testing.T) {
	h := newHarness(t)
	a, code := h.createRoom(t)
	h.d.Disconnect(a)
	h.d.Disconnect(a)
	h.send(a, `{"type":"create-room"}`)

	if _, ok := h.registry.Room(code); ok {
		t.Fatalf("room survived streamer disconnect")
	}
	if s := h.registry.Stats(); s.Rooms != 0 {
		t.Fatalf("frames after disconnect created a room: %+v", s)
	}

	unbound := h.connect()
	h.d.Disconnect(unbound)
	h.d.Disconnect(unbound)
}

func TestDispatcher_FullQueueCountsDrop(t *testing.T) {
	h := newHarness(t)
	a, code := h.createRoom(t)
	b := h.join(t, code)
	aID := h.identity(t, a)

	a.mu.Lock()
	a.full = true
	a.mu.Unlock()
	h.send(b, fmt.Sprintf(`{"offer":{},"to":%q}`, aID))

	h.expectMetric(t, "signaling_relay_dropped_total", `
# HELP signaling_relay_dropped_total Relay payloads that were not delivered, by reason.
# TYPE signaling_relay_dropped_total counter
signaling_relay_dropped_total{reason="queue_full"} 1
`)
}

// Concurrent joins and leaves never leave a room with more than one
// streamer, and every room ends up with the creator as its streamer.
func TestDispatcher_ConcurrentJoinLeave(t *testing.T) {
	h := newHarness(t)
	_, code := h.createRoom(t)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr := h.connect()
			h.send(tr, fmt.Sprintf(`{"type":"join-room","roomCode":%q}`, code))
			if i%2 == 0 {
				h.d.Disconnect(tr)
			}
		}()
	}
	wg.Wait()

	s := h.registry.Stats()
	if s.Rooms != 1 || s.Streamers != 1 || s.Viewers != 16 {
		t.Fatalf("stats=%+v, want 1 room, 1 streamer, 16 viewers", s)
	}
}
