package signal

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/MrsZ/janus-gateway-win/internal/domain"
)

// Decode errors. Callers drop the offending message; none of these is
// fatal to a session.
var (
	// ErrMalformed covers invalid JSON and JSON whose shape matches no
	// known variant.
	ErrMalformed = errors.New("signal: malformed message")

	// ErrUnknownType marks a session description whose type string maps
	// to no known SDP type.
	ErrUnknownType = errors.New("signal: unknown SDP type")

	// ErrMissingFields marks a candidate message lacking one of sdpMid,
	// sdpMLineIndex or candidate, or a description lacking its SDP body.
	ErrMissingFields = errors.New("signal: missing required fields")
)

// envelope is the superset of fields a wire message may carry. Pointer
// fields distinguish "absent" from "zero".
type envelope struct {
	Janus       string `json:"janus"`
	Transaction string `json:"transaction"`
	Sender      string `json:"sender"`

	Type string  `json:"type"`
	SDP  *string `json:"sdp"`

	SDPMid        *string         `json:"sdpMid"`
	SDPMLineIndex *int            `json:"sdpMLineIndex"`
	Candidate     json.RawMessage `json:"candidate"`

	Error *struct {
		Code   int    `json:"code"`
		Reason string `json:"reason"`
	} `json:"error"`
}

// Decode parses one wire message into its variant. The gateway control
// tag wins when present; otherwise a non-empty type field selects a
// description variant; otherwise the three candidate fields must all be
// present.
func Decode(raw []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	if env.Janus != "" {
		return decodeControl(env)
	}

	if env.Type != "" {
		return decodeDescription(env)
	}

	if env.SDPMid == nil || env.SDPMLineIndex == nil || env.Candidate == nil {
		return Message{}, fmt.Errorf("%w: candidate requires sdpMid, sdpMLineIndex and candidate", ErrMissingFields)
	}
	var candidate string
	if err := json.Unmarshal(env.Candidate, &candidate); err != nil {
		return Message{}, fmt.Errorf("%w: candidate is not a string", ErrMalformed)
	}
	return Message{
		Kind: KindCandidate,
		Candidate: domain.Candidate{
			SDPMid:        *env.SDPMid,
			SDPMLineIndex: *env.SDPMLineIndex,
			Candidate:     candidate,
		},
		HasCandidate: true,
	}, nil
}

func decodeControl(env envelope) (Message, error) {
	msg := Message{Transaction: env.Transaction, Sender: env.Sender}

	switch env.Janus {
	case "ack":
		msg.Kind = KindAck
	case "keepalive":
		msg.Kind = KindKeepalive
	case "success":
		msg.Kind = KindSuccess
	case "error":
		msg.Kind = KindError
		if env.Error != nil {
			msg.ErrorDetail = env.Error.Reason
		}
	case "trickle":
		msg.Kind = KindTrickle
		if env.Candidate != nil {
			var c domain.Candidate
			if err := json.Unmarshal(env.Candidate, &c); err != nil {
				return Message{}, fmt.Errorf("%w: trickle candidate: %v", ErrMalformed, err)
			}
			msg.Candidate = c
			msg.HasCandidate = true
		}
	case "webrtcup":
		msg.Kind = KindWebRTCUp
	case "hangup":
		msg.Kind = KindHangup
	case "detached":
		msg.Kind = KindDetached
	case "media":
		msg.Kind = KindMedia
	case "slowlink":
		msg.Kind = KindSlowLink
	case "event":
		msg.Kind = KindEvent
	default:
		return Message{}, fmt.Errorf("%w: unrecognized gateway tag %q", ErrMalformed, env.Janus)
	}
	return msg, nil
}

func decodeDescription(env envelope) (Message, error) {
	if env.Type == domain.SDPTypeLoopback {
		msg := Message{Kind: KindLoopbackOffer}
		if env.SDP != nil {
			msg.Description = domain.SessionDescription{Type: env.Type, SDP: *env.SDP}
		}
		return msg, nil
	}

	var kind Kind
	switch env.Type {
	case domain.SDPTypeOffer:
		kind = KindOffer
	case domain.SDPTypeAnswer:
		kind = KindAnswer
	case domain.SDPTypePranswer:
		kind = KindPranswer
	default:
		return Message{}, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}

	if env.SDP == nil {
		return Message{}, fmt.Errorf("%w: description requires an sdp body", ErrMissingFields)
	}
	return Message{
		Kind:        kind,
		Description: domain.SessionDescription{Type: env.Type, SDP: *env.SDP},
	}, nil
}

// NewDescription builds the outbound variant for a locally produced
// session description.
func NewDescription(desc domain.SessionDescription) (Message, error) {
	switch desc.Type {
	case domain.SDPTypeOffer:
		return Message{Kind: KindOffer, Description: desc}, nil
	case domain.SDPTypeAnswer:
		return Message{Kind: KindAnswer, Description: desc}, nil
	case domain.SDPTypePranswer:
		return Message{Kind: KindPranswer, Description: desc}, nil
	default:
		return Message{}, fmt.Errorf("%w: %q", ErrUnknownType, desc.Type)
	}
}

// NewCandidate builds the outbound variant for a locally discovered
// trickle candidate.
func NewCandidate(c domain.Candidate) Message {
	return Message{Kind: KindCandidate, Candidate: c, HasCandidate: true}
}

// Encode serializes a message with the exact inverse layout of Decode:
// descriptions as {type, sdp}, candidates as {sdpMid, sdpMLineIndex,
// candidate}, control envelopes as {janus, transaction}.
func Encode(msg Message) ([]byte, error) {
	switch {
	case msg.Kind.IsDescription() || msg.Kind == KindLoopbackOffer:
		return json.Marshal(domain.SessionDescription{
			Type: msg.Kind.String(),
			SDP:  msg.Description.SDP,
		})
	case msg.Kind == KindCandidate:
		return json.Marshal(msg.Candidate)
	case msg.Kind.IsControl():
		return json.Marshal(struct {
			Janus       string `json:"janus"`
			Transaction string `json:"transaction,omitempty"`
		}{Janus: msg.Kind.String(), Transaction: msg.Transaction})
	default:
		return nil, fmt.Errorf("signal: cannot encode message kind %d", int(msg.Kind))
	}
}
