package domain

// GatewayPeerID identifies the gateway itself. The gateway terminates the
// media session on its side, so all of its traffic arrives as this peer.
const GatewayPeerID = 0

// Track kinds, matching WebRTC media kinds.
const (
	TrackKindAudio = "audio"
	TrackKindVideo = "video"
)

// Track is the minimal view of a media track handed to renderers.
type Track interface {
	ID() string
	Kind() string
}

// TrackSender is a snapshot of one outbound track attachment, sufficient
// to reattach the track after the engine is rebuilt.
type TrackSender struct {
	Kind     string
	StreamID string
}

// EngineOptions tune how the engine builds its peer connection.
type EngineOptions struct {
	// DisableEncryption skips transport security. Only the loopback
	// self-test uses this: the synthesized answer carries the offer's
	// own certificate, which a verifying transport would reject.
	DisableEncryption bool
}

// Engine drives the external media engine that owns the peer connection.
// Initialize and Teardown may be called repeatedly; the loopback path
// rebuilds the connection mid-session. CreateOffer and CreateAnswer are
// asynchronous and report through EngineObserver.OnDescriptionReady.
type Engine interface {
	Initialize(opts EngineOptions) error
	CreateOffer()
	CreateAnswer()
	SetLocalDescription(desc SessionDescription) error
	SetRemoteDescription(desc SessionDescription) error
	AddCandidate(c Candidate) bool
	AddTrack(kind, streamID string) error
	Senders() []TrackSender
	Teardown()
}

// ConnectionState mirrors the engine's peer connection state string.
type ConnectionState string

const (
	ConnectionNew          ConnectionState = "new"
	ConnectionConnecting   ConnectionState = "connecting"
	ConnectionConnected    ConnectionState = "connected"
	ConnectionDisconnected ConnectionState = "disconnected"
	ConnectionFailed       ConnectionState = "failed"
	ConnectionClosed       ConnectionState = "closed"
)

// EngineObserver receives asynchronous engine callbacks. The engine
// invokes these from its own goroutines; implementations must marshal
// onto their own execution context before touching shared state.
type EngineObserver interface {
	OnDescriptionReady(desc SessionDescription)
	OnCandidateDiscovered(c Candidate)
	OnLocalTrack(track Track)
	OnRemoteTrack(track Track)
	OnConnectionStateChange(state ConnectionState)
}

// Gateway is the signaling transport toward the gateway server.
// SendToPeer only reports acceptance; the actual write completes
// asynchronously through GatewayObserver.OnSendComplete.
type Gateway interface {
	Connect(address, clientName string) error
	SignOut()
	SendToPeer(peerID int, text string) bool
	SendHangup(peerID int, transaction string) bool
	IsConnected() bool
	Peers() []string
}

// GatewayObserver receives transport lifecycle events and inbound peer
// traffic. The gateway invokes these from its read loop and send
// goroutines.
type GatewayObserver interface {
	OnSignedIn(peers []string)
	OnDisconnected()
	OnPeerConnected(id int, name string)
	OnPeerDisconnected(id int)
	OnPeerMessage(peerID int, raw []byte)
	OnSendComplete(err error)
	OnServerConnectionFailure(err error)
}

// UI is the application surface that reacts to session lifecycle changes.
type UI interface {
	SwitchToPeerList(peers []string)
	SwitchToConnectUI()
	SwitchToStreamingUI()
	StartLocalRenderer(track Track)
	StartRemoteRenderer(track Track)
	StopLocalRenderer()
	StopRemoteRenderer()
	ShowError(title, message string)
}
