// Package signal encodes and decodes the JSON wire format spoken with
// the gateway: SDP session descriptions, trickle ICE candidates, and the
// gateway's own control envelope. The codec is pure and stateless; a
// message decodes to exactly one variant or to an error, never to a
// partially populated value.
package signal

import "github.com/MrsZ/janus-gateway-win/internal/domain"

// Kind enumerates the signaling message variants.
type Kind int

const (
	KindOffer Kind = iota
	KindAnswer
	KindPranswer
	KindLoopbackOffer
	KindCandidate

	// Gateway control envelope tags.
	KindAck
	KindKeepalive
	KindSuccess
	KindError
	KindTrickle
	KindWebRTCUp
	KindHangup
	KindDetached
	KindMedia
	KindSlowLink
	KindEvent
)

func (k Kind) String() string {
	switch k {
	case KindOffer:
		return "offer"
	case KindAnswer:
		return "answer"
	case KindPranswer:
		return "pranswer"
	case KindLoopbackOffer:
		return "offer-loopback"
	case KindCandidate:
		return "candidate"
	case KindAck:
		return "ack"
	case KindKeepalive:
		return "keepalive"
	case KindSuccess:
		return "success"
	case KindError:
		return "error"
	case KindTrickle:
		return "trickle"
	case KindWebRTCUp:
		return "webrtcup"
	case KindHangup:
		return "hangup"
	case KindDetached:
		return "detached"
	case KindMedia:
		return "media"
	case KindSlowLink:
		return "slowlink"
	case KindEvent:
		return "event"
	default:
		return "unknown"
	}
}

// IsControl reports whether the variant is a gateway control notification
// rather than negotiation traffic.
func (k Kind) IsControl() bool {
	return k >= KindAck
}

// IsDescription reports whether the variant carries a session description
// to apply to the engine.
func (k Kind) IsDescription() bool {
	return k == KindOffer || k == KindAnswer || k == KindPranswer
}

// Message is the decoded form of one unit of wire traffic.
type Message struct {
	Kind Kind

	// Description is populated for offer/answer/pranswer variants, and
	// for a loopback offer when the marker carried an SDP body.
	Description domain.SessionDescription

	// Candidate is populated for KindCandidate, and for KindTrickle when
	// the envelope embedded a candidate (HasCandidate distinguishes an
	// empty candidate from an absent one).
	Candidate    domain.Candidate
	HasCandidate bool

	// Control envelope correlation fields.
	Transaction string
	Sender      string

	// ErrorDetail carries the reason of a KindError envelope.
	ErrorDetail string
}
