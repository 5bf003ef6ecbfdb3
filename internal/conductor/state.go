package conductor

import "sync/atomic"

// Phase captures the lifecycle of the single peer session: Idle,
// AwaitingEngineInit, Negotiating, Active, or Closing.
type Phase uint32

const (
	// Idle means no session is bound.
	Idle Phase = iota
	// AwaitingEngineInit means a peer is bound and the engine is being
	// brought up.
	AwaitingEngineInit
	// Negotiating means descriptions and candidates are being exchanged.
	Negotiating
	// Active means a local description was produced and a remote one
	// applied; connectivity itself is reported by the engine.
	Active
	// Closing means teardown side effects are running.
	Closing
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "Idle"
	case AwaitingEngineInit:
		return "AwaitingEngineInit"
	case Negotiating:
		return "Negotiating"
	case Active:
		return "Active"
	case Closing:
		return "Closing"
	default:
		return "Unknown"
	}
}

// noPeer is the peer identifier while no session is bound.
const noPeer = -1

// session is the finite-state record for the single active negotiation.
// Only the conductor's run loop mutates it. The phase is stored
// atomically so observers may read it without joining the loop.
type session struct {
	phase    uint32
	peerID   int
	loopback bool

	// Negotiation progress toward Active.
	localReady  bool
	remoteReady bool
}

func (s *session) Phase() Phase {
	return Phase(atomic.LoadUint32(&s.phase))
}

func (s *session) setPhase(p Phase) {
	atomic.StoreUint32(&s.phase, uint32(p))
}

func (s *session) bound() bool {
	return s.peerID != noPeer
}

// bind attaches the session to a peer and starts engine bring-up.
func (s *session) bind(peerID int) {
	s.peerID = peerID
	s.setPhase(AwaitingEngineInit)
}

// restartNegotiation clears negotiation progress, keeping the binding.
// The loopback reinit path goes through here.
func (s *session) restartNegotiation() {
	s.localReady = false
	s.remoteReady = false
	s.setPhase(Negotiating)
}

// reset returns the record to Idle with no peer bound.
func (s *session) reset() {
	s.peerID = noPeer
	s.loopback = false
	s.localReady = false
	s.remoteReady = false
	s.setPhase(Idle)
}
