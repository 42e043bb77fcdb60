package signaling

import (
	"encoding/json"
	"testing"

	"github.com/pion/webrtc/v4"
)

func TestParseMessage(t *testing.T) {
	msg, err := ParseMessage([]byte(`{"type":"offer","to":"abc","from":"forged","offer":{"type":"offer","sdp":"v=0\r\n"}}`))
	if err != nil {
		t.Fatalf("ParseMessage: %v", err)
	}
	if msg.Type != MessageTypeOffer || msg.To != "abc" {
		t.Fatalf("msg = %+v", msg)
	}
	if msg.Offer == nil || msg.Offer.SDP != "v=0\r\n" {
		t.Fatalf("offer = %+v", msg.Offer)
	}
	// The forged from is parsed; the router overwrites it before forwarding.
	if msg.From != "forged" {
		t.Fatalf("from = %q", msg.From)
	}
}

func TestParseMessageRejectsMalformed(t *testing.T) {
	for _, raw := range []string{
		``,
		`not json`,
		`[1,2,3]`,
		`{"type":"offer"}`,
		`{"type":"answer"}`,
		`{"type":"ice-candidate"}`,
	} {
		if _, err := ParseMessage([]byte(raw)); err == nil {
			t.Errorf("ParseMessage(%q) succeeded, want error", raw)
		} else if IsUnknownType(err) {
			t.Errorf("ParseMessage(%q) reported unknown type, want malformed", raw)
		}
	}
}

func TestParseMessageUnknownType(t *testing.T) {
	_, err := ParseMessage([]byte(`{"type":"future-extension","payload":42}`))
	if err == nil || !IsUnknownType(err) {
		t.Fatalf("err = %v, want unknown type", err)
	}
}

func TestRegisteredAckEncoding(t *testing.T) {
	data, err := json.Marshal(Message{
		Type:            MessageTypeRegistered,
		Role:            RoleViewer,
		ClientID:        "v-1",
		StreamAvailable: boolPtr(false),
	})
	if err != nil {
		t.Fatal(err)
	}
	var got map[string]any
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatal(err)
	}
	if got["role"] != "viewer" || got["clientId"] != "v-1" {
		t.Fatalf("encoded ack = %s", data)
	}
	// false must still appear; viewers branch on it.
	if v, ok := got["streamAvailable"]; !ok || v != false {
		t.Fatalf("encoded ack missing streamAvailable=false: %s", data)
	}

	data, err = json.Marshal(Message{
		Type:     MessageTypeRegistered,
		Role:     RoleStreamer,
		ClientID: "s-1",
	})
	if err != nil {
		t.Fatal(err)
	}
	var streamerAck map[string]any
	if err := json.Unmarshal(data, &streamerAck); err != nil {
		t.Fatal(err)
	}
	if _, ok := streamerAck["streamAvailable"]; ok {
		t.Fatalf("streamer ack carries streamAvailable: %s", data)
	}
}

func TestSDPPionRoundTrip(t *testing.T) {
	wire := SDP{Type: "offer", SDP: "v=0\r\n"}
	desc := wire.ToPion()
	if desc.Type != webrtc.SDPTypeOffer || desc.SDP != wire.SDP {
		t.Fatalf("ToPion = %+v", desc)
	}
	if back := SDPFromPion(desc); back != wire {
		t.Fatalf("SDPFromPion = %+v, want %+v", back, wire)
	}
}

func TestCandidatePionRoundTrip(t *testing.T) {
	mid := "0"
	idx := uint16(0)
	wire := Candidate{
		Candidate:     "candidate:1 1 udp 2130706431 192.0.2.1 54321 typ host",
		SDPMid:        &mid,
		SDPMLineIndex: &idx,
	}
	init := wire.ToPion()
	if init.Candidate != wire.Candidate || init.SDPMid != &mid {
		t.Fatalf("ToPion = %+v", init)
	}
	back := CandidateFromPion(init)
	if back.Candidate != wire.Candidate || back.SDPMid != wire.SDPMid {
		t.Fatalf("CandidateFromPion = %+v", back)
	}
}

func TestCandidateEndOfCandidates(t *testing.T) {
	// Browsers trickle an empty candidate to mark the end of candidates;
	// it must survive parsing.
	msg, err := ParseMessage([]byte(`{"type":"ice-candidate","to":"x","candidate":{"candidate":""}}`))
	if err != nil {
		t.Fatalf("ParseMessage: %v", err)
	}
	if msg.Candidate == nil || msg.Candidate.Candidate != "" {
		t.Fatalf("candidate = %+v", msg.Candidate)
	}
}
