package domain

// SDP type strings as they appear on the wire.
const (
	SDPTypeOffer    = "offer"
	SDPTypeAnswer   = "answer"
	SDPTypePranswer = "pranswer"

	// SDPTypeLoopback is the reserved marker that asks the client to
	// answer its own offer locally instead of negotiating with a real
	// remote party.
	SDPTypeLoopback = "offer-loopback"
)

// SessionDescription is the JSON shape for SDP offer/answer messages.
type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// Candidate is the JSON shape for trickle ICE candidate messages.
type Candidate struct {
	SDPMid        string `json:"sdpMid"`
	SDPMLineIndex int    `json:"sdpMLineIndex"`
	Candidate     string `json:"candidate"`
}

// ICEServer holds STUN/TURN server configuration handed to the engine.
type ICEServer struct {
	URL        string
	Username   string
	Credential string
}
