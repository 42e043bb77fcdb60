package signaling

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pion/webrtc/v4"
)

// MessageType discriminates the signaling wire messages. Every websocket
// frame on /signal is a single JSON object carrying a "type" field.
type MessageType string

const (
	// Client-to-server.
	MessageTypeRegisterStreamer MessageType = "register-streamer"
	MessageTypeRegisterViewer   MessageType = "register-viewer"
	MessageTypeRequestStream    MessageType = "request-stream"
	MessageTypeStopStream       MessageType = "stop-stream"

	// Server-to-client.
	MessageTypeRegistered      MessageType = "registered"
	MessageTypeStreamAvailable MessageType = "stream-available"
	MessageTypeStreamEnded     MessageType = "stream-ended"
	MessageTypeViewerJoined    MessageType = "viewer-joined"
	MessageTypeError           MessageType = "error"

	// Relayed verbatim between peers, with "from" stamped by the server.
	MessageTypeOffer        MessageType = "offer"
	MessageTypeAnswer       MessageType = "answer"
	MessageTypeICECandidate MessageType = "ice-candidate"
)

// Role is the registered role reported back to a client.
type Role string

const (
	RoleStreamer Role = "streamer"
	RoleViewer   Role = "viewer"
)

// SDP is a session description on the wire. It mirrors the shape produced by
// the browser's RTCSessionDescription.toJSON.
type SDP struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// ToPion converts the wire form into a pion session description.
func (s SDP) ToPion() webrtc.SessionDescription {
	return webrtc.SessionDescription{
		Type: webrtc.NewSDPType(s.Type),
		SDP:  s.SDP,
	}
}

// SDPFromPion converts a pion session description into its wire form.
func SDPFromPion(desc webrtc.SessionDescription) SDP {
	return SDP{Type: desc.Type.String(), SDP: desc.SDP}
}

// Candidate is a trickled ICE candidate on the wire, in the shape produced by
// RTCIceCandidate.toJSON. A zero Candidate field set is valid: browsers signal
// end-of-candidates with an empty candidate string.
type Candidate struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

// ToPion converts the wire form into a pion candidate init.
func (c Candidate) ToPion() webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}
}

// CandidateFromPion converts a pion candidate init into its wire form.
func CandidateFromPion(init webrtc.ICECandidateInit) Candidate {
	return Candidate{
		Candidate:        init.Candidate,
		SDPMid:           init.SDPMid,
		SDPMLineIndex:    init.SDPMLineIndex,
		UsernameFragment: init.UsernameFragment,
	}
}

// Message is the signaling envelope. Exactly one message type is set per
// frame; unused fields are omitted from the encoded form.
type Message struct {
	Type MessageType `json:"type"`

	// Addressing. From is always stamped by the server on forwarded
	// messages; any client-supplied value is discarded.
	To   string `json:"to,omitempty"`
	From string `json:"from,omitempty"`

	// Negotiation payloads.
	Offer     *SDP       `json:"offer,omitempty"`
	Answer    *SDP       `json:"answer,omitempty"`
	Candidate *Candidate `json:"candidate,omitempty"`

	// Registration acknowledgement.
	Role            Role   `json:"role,omitempty"`
	ClientID        string `json:"clientId,omitempty"`
	StreamAvailable *bool  `json:"streamAvailable,omitempty"`

	// Broadcaster notification.
	ViewerID string `json:"viewerId,omitempty"`

	// Error description.
	Message string `json:"message,omitempty"`
}

var (
	errUnknownMessageType = errors.New("unknown message type")
	errMissingPayload     = errors.New("missing message payload")
)

// ParseMessage decodes one inbound frame. It tolerates extra fields (clients
// routinely include a "from" they should not) but rejects frames that are not
// a single JSON object or that carry a negotiation type without its payload.
func ParseMessage(data []byte) (Message, error) {
	var msg Message
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&msg); err != nil {
		return Message{}, fmt.Errorf("decode signaling message: %w", err)
	}
	if err := msg.validateInbound(); err != nil {
		return Message{}, err
	}
	return msg, nil
}

func (m Message) validateInbound() error {
	switch m.Type {
	case MessageTypeRegisterStreamer, MessageTypeRegisterViewer,
		MessageTypeRequestStream, MessageTypeStopStream:
		return nil
	case MessageTypeOffer:
		if m.Offer == nil {
			return fmt.Errorf("%w: offer", errMissingPayload)
		}
		return nil
	case MessageTypeAnswer:
		if m.Answer == nil {
			return fmt.Errorf("%w: answer", errMissingPayload)
		}
		return nil
	case MessageTypeICECandidate:
		if m.Candidate == nil {
			return fmt.Errorf("%w: candidate", errMissingPayload)
		}
		return nil
	default:
		return fmt.Errorf("%w: %q", errUnknownMessageType, m.Type)
	}
}

// IsUnknownType reports whether err came from an unrecognized message type,
// as opposed to a malformed frame. Unknown types are ignored rather than
// answered with an error, so that the protocol can grow without breaking old
// servers.
func IsUnknownType(err error) bool {
	return errors.Is(err, errUnknownMessageType)
}

func errorMessage(text string) Message {
	return Message{Type: MessageTypeError, Message: text}
}

func boolPtr(b bool) *bool { return &b }
