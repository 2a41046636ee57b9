package envelope

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestParse_ControlEnvelopes(t *testing.T) {
	got, err := Parse([]byte(`{"type":"create-room"}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if _, ok := got.(CreateRoom); !ok {
		t.Fatalf("got %T, want CreateRoom", got)
	}

	got, err = Parse([]byte(`{"type":"join-room","roomCode":"AB3K7"}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	join, ok := got.(JoinRoom)
	if !ok {
		t.Fatalf("got %T, want JoinRoom", got)
	}
	if join.RoomCode != "AB3K7" {
		t.Fatalf("roomCode=%q, want %q", join.RoomCode, "AB3K7")
	}
}

func TestParse_RelayFallsBackToPayloadShape(t *testing.T) {
	got, err := Parse([]byte(`{"offer":{"type":"offer","sdp":"v=0"},"to":"peer-b"}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	rel, ok := got.(Relay)
	if !ok {
		t.Fatalf("got %T, want Relay", got)
	}
	if rel.To != "peer-b" {
		t.Fatalf("to=%q, want %q", rel.To, "peer-b")
	}
	if _, ok := rel.Field("offer"); !ok {
		t.Fatalf("offer field missing")
	}
}

func TestParse_TypedRelayIsStillRelayed(t *testing.T) {
	got, err := Parse([]byte(`{"type":"custom","to":"x"}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if _, ok := got.(Relay); !ok {
		t.Fatalf("got %T, want Relay", got)
	}
}

func TestParse_Unrecognized(t *testing.T) {
	for _, raw := range []string{
		`{}`,
		`{"type":"hello"}`,
		`{"iceCandidate":{"candidate":"c"}}`,
		`{"iceCandidate":{},"to":""}`,
		`{"iceCandidate":{},"to":null}`,
	} {
		got, err := Parse([]byte(raw))
		if err != nil {
			t.Fatalf("parse %s: %v", raw, err)
		}
		if _, ok := got.(Unrecognized); !ok {
			t.Fatalf("parse %s: got %T, want Unrecognized", raw, got)
		}
	}
}

func TestParse_Malformed(t *testing.T) {
	for _, raw := range []string{
		``,
		`not json`,
		`null`,
		`[1,2]`,
		`"create-room"`,
		`{"type":7}`,
		`{"type":"join-room"}`,
		`{"type":"join-room","roomCode":""}`,
		`{"type":"join-room","roomCode":12}`,
		`{"answer":{},"to":42}`,
		`{"type":"create-room"} {"type":"create-room"}`,
		"{\"to\":\"p1\",\"offer\":\"\xff\xfe\"}",
		"{\"type\":\"join-room\",\"roomCode\":\"AB\xc3\"}",
	} {
		_, err := Parse([]byte(raw))
		if !errors.Is(err, ErrMalformed) {
			t.Fatalf("parse %q: err=%v, want ErrMalformed", raw, err)
		}
	}
}

func TestRelay_StampedInjectsFromAndDropsTo(t *testing.T) {
	got, err := Parse([]byte(`{"offer":{"sdp":"v=0","type":"offer"},"to":"b","from":"spoofed"}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	orig := got.(Relay)
	stamped := orig.Stamped("a")

	b, err := Encode(stamped)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	var out map[string]json.RawMessage
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, ok := out["to"]; ok {
		t.Fatalf("recipient must not see to: %s", b)
	}
	if string(out["from"]) != `"a"` {
		t.Fatalf("from=%s, want %q", out["from"], "a")
	}
	if string(out["offer"]) != `{"sdp":"v=0","type":"offer"}` {
		t.Fatalf("offer payload modified: %s", out["offer"])
	}

	if orig.From != "spoofed" {
		t.Fatalf("original relay mutated: from=%q", orig.From)
	}
}

func TestEncode_ServerEnvelopes(t *testing.T) {
	cases := []struct {
		v    any
		want string
	}{
		{NewRoomCreated("AB3K7"), `{"type":"room-created","roomCode":"AB3K7"}`},
		{NewRoomJoined(), `{"type":"room-joined"}`},
		{NewError("Room not found"), `{"type":"error","message":"Room not found"}`},
		{NewViewerJoined("v1"), `{"type":"viewer-joined","from":"v1"}`},
		{NewStreamerDisconnected(), `{"type":"streamer-disconnected"}`},
	}
	for _, tc := range cases {
		b, err := Encode(tc.v)
		if err != nil {
			t.Fatalf("encode %T: %v", tc.v, err)
		}
		if string(b) != tc.want {
			t.Fatalf("encode %T=%s, want %s", tc.v, b, tc.want)
		}
	}
}
