package signaling

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

type messageType string

const (
	messageTypeHello      messageType = "hello"
	messageTypeJoin       messageType = "join"
	messageTypeJoined     messageType = "joined"
	messageTypePeerJoined messageType = "peer-joined"
	messageTypeLeave      messageType = "leave"
	messageTypeLeft       messageType = "left"
	messageTypePeerLeft   messageType = "peer-left"
	messageTypeBye        messageType = "bye"
	messageTypeOffer      messageType = "offer"
	messageTypeAnswer     messageType = "answer"
	messageTypeICE        messageType = "ice"
	messageTypeError      messageType = "error"
)

// Error codes carried in the "error" field of error frames.
const (
	ErrCodeInvalidJSON      = "invalid_json"
	ErrCodeMissingRoomPeer  = "missing_room_or_peer"
	ErrCodeUnauthorized     = "unauthorized_ws"
	ErrCodeMissingRoutingTo = "missing_room_to_from"
	ErrCodeTargetNotFound   = "target_not_found"
	ErrCodeUnknownType      = "unknown_type"
	ErrCodeRateLimited      = "rate_limited"
	// ErrCodeSenderMismatch answers a relay from a joined connection whose
	// room or from names a membership other than its own.
	ErrCodeSenderMismatch = "sender_mismatch"
)

const byeReasonReplaced = "replaced"

var ErrInvalidFrame = errors.New("invalid signaling frame")

// inboundFrame is the union of every field a client may send. Negotiation
// payloads stay raw so they are re-emitted uninspected; fields not listed
// here are discarded on decode and can never reach another peer.
type inboundFrame struct {
	Type   messageType `json:"type"`
	Room   string      `json:"room"`
	PeerID string      `json:"peerId"`
	Token  string      `json:"token"`
	From   string      `json:"from"`
	To     string      `json:"to"`

	SDP       json.RawMessage `json:"sdp"`
	Candidate json.RawMessage `json:"candidate"`
	Payload   json.RawMessage `json:"payload"`

	// Browsers often send RTCIceCandidateInit flattened into the frame;
	// addIceCandidate on the far side needs these next to candidate.
	SDPMid           json.RawMessage `json:"sdpMid"`
	SDPMLineIndex    json.RawMessage `json:"sdpMLineIndex"`
	UsernameFragment json.RawMessage `json:"usernameFragment"`
}

// parseFrame decodes exactly one JSON object.
func parseFrame(data []byte) (inboundFrame, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return inboundFrame{}, fmt.Errorf("%w: not a JSON object", ErrInvalidFrame)
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	var f inboundFrame
	if err := dec.Decode(&f); err != nil {
		return inboundFrame{}, fmt.Errorf("%w: %v", ErrInvalidFrame, err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return inboundFrame{}, fmt.Errorf("%w: unexpected trailing data", ErrInvalidFrame)
	}
	return f, nil
}

func (f inboundFrame) isRelay() bool {
	switch f.Type {
	case messageTypeOffer, messageTypeAnswer, messageTypeICE:
		return true
	default:
		return false
	}
}

type helloMessage struct {
	Type         messageType `json:"type"`
	ConnID       string      `json:"connId"`
	AuthRequired bool        `json:"authRequired"`
}

type joinedMessage struct {
	Type   messageType `json:"type"`
	Room   string      `json:"room"`
	PeerID string      `json:"peerId"`
	Peers  []string    `json:"peers"`
}

// peerMessage is used for peer-joined and peer-left.
type peerMessage struct {
	Type   messageType `json:"type"`
	Room   string      `json:"room"`
	PeerID string      `json:"peerId"`
}

type leftMessage struct {
	Type   messageType `json:"type"`
	Room   string      `json:"room,omitempty"`
	PeerID string      `json:"peerId,omitempty"`
	Left   bool        `json:"left"`
}

type byeMessage struct {
	Type   messageType `json:"type"`
	Reason string      `json:"reason"`
}

type relayMessage struct {
	Type messageType `json:"type"`
	Room string      `json:"room"`
	From string      `json:"from"`
	To   string      `json:"to"`

	SDP       json.RawMessage `json:"sdp,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`

	SDPMid           json.RawMessage `json:"sdpMid,omitempty"`
	SDPMLineIndex    json.RawMessage `json:"sdpMLineIndex,omitempty"`
	UsernameFragment json.RawMessage `json:"usernameFragment,omitempty"`
}

type errorMessage struct {
	Type    messageType `json:"type"`
	Error   string      `json:"error"`
	To      string      `json:"to,omitempty"`
	Message string      `json:"message,omitempty"`
}

// encodeFrame leaves HTML characters unescaped so SDP and candidate strings
// reach the target exactly as the sender wrote them (modulo whitespace
// between JSON tokens).
func encodeFrame(v any) []byte {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		// Every outbound type is plain strings plus RawMessage copied from a
		// frame that already decoded, so this is unreachable.
		panic(fmt.Sprintf("signaling: encode %T: %v", v, err))
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n"))
}

func helloFrame(connID string, authRequired bool) []byte {
	return encodeFrame(helloMessage{Type: messageTypeHello, ConnID: connID, AuthRequired: authRequired})
}

func joinedFrame(room, peerID string, peers []string) []byte {
	if peers == nil {
		peers = []string{}
	}
	return encodeFrame(joinedMessage{Type: messageTypeJoined, Room: room, PeerID: peerID, Peers: peers})
}

func peerJoinedFrame(room, peerID string) []byte {
	return encodeFrame(peerMessage{Type: messageTypePeerJoined, Room: room, PeerID: peerID})
}

func peerLeftFrame(room, peerID string) []byte {
	return encodeFrame(peerMessage{Type: messageTypePeerLeft, Room: room, PeerID: peerID})
}

func leftFrame(room, peerID string) []byte {
	return encodeFrame(leftMessage{Type: messageTypeLeft, Room: room, PeerID: peerID, Left: true})
}

func byeFrame(reason string) []byte {
	return encodeFrame(byeMessage{Type: messageTypeBye, Reason: reason})
}

func relayFrame(f inboundFrame, room, from, to string) []byte {
	return encodeFrame(relayMessage{
		Type:      f.Type,
		Room:      room,
		From:      from,
		To:        to,
		SDP:       f.SDP,
		Candidate: f.Candidate,
		Payload:   f.Payload,

		SDPMid:           f.SDPMid,
		SDPMLineIndex:    f.SDPMLineIndex,
		UsernameFragment: f.UsernameFragment,
	})
}

func errorFrame(code string) []byte {
	return encodeFrame(errorMessage{Type: messageTypeError, Error: code})
}

func targetNotFoundFrame(to string) []byte {
	return encodeFrame(errorMessage{Type: messageTypeError, Error: ErrCodeTargetNotFound, To: to})
}

func invalidFrameError(err error) []byte {
	msg := strings.TrimPrefix(err.Error(), ErrInvalidFrame.Error()+": ")
	return encodeFrame(errorMessage{Type: messageTypeError, Error: ErrCodeInvalidJSON, Message: msg})
}
