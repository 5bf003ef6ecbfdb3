// Package webrtc adapts a Pion peer connection to the engine port the
// conductor drives. The underlying connection is rebuilt whenever
// Initialize is called again after Teardown; the loopback self-test
// relies on that to restart negotiation with encryption checks off.
package webrtc

import (
	"fmt"
	"sync"

	"github.com/pion/interceptor"
	pion "github.com/pion/webrtc/v4"
	"github.com/sirupsen/logrus"

	"github.com/MrsZ/janus-gateway-win/internal/domain"
)

// Track labels attached to outbound media, matching the original
// client's defaults.
const (
	audioLabel = "audio_label"
	videoLabel = "video_label"
)

// trackRef is the renderer-facing view of a track.
type trackRef struct {
	id   string
	kind string
}

func (t trackRef) ID() string   { return t.id }
func (t trackRef) Kind() string { return t.kind }

// Engine implements domain.Engine on top of Pion.
type Engine struct {
	observer   domain.EngineObserver
	iceServers []domain.ICEServer
	log        *logrus.Entry

	mu      sync.Mutex
	pc      *pion.PeerConnection
	senders []domain.TrackSender
}

// NewEngine creates an engine. SetObserver must be called before
// Initialize.
func NewEngine(iceServers []domain.ICEServer) *Engine {
	return &Engine{
		iceServers: iceServers,
		log:        logrus.WithField("component", "engine"),
	}
}

// SetObserver injects the observer after construction to resolve the
// circular dependency (the conductor needs the engine, the engine needs
// the conductor).
func (e *Engine) SetObserver(observer domain.EngineObserver) {
	e.observer = observer
}

// Initialize builds a fresh peer connection. Any previous connection
// must have been released with Teardown first.
func (e *Engine) Initialize(opts domain.EngineOptions) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pc != nil {
		return fmt.Errorf("engine: already initialized")
	}

	m := &pion.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return fmt.Errorf("register codecs: %w", err)
	}

	registry := &interceptor.Registry{}
	if err := pion.RegisterDefaultInterceptors(m, registry); err != nil {
		return fmt.Errorf("register interceptors: %w", err)
	}

	se := pion.SettingEngine{}
	if opts.DisableEncryption {
		// The loopback answer carries our own offer's fingerprint;
		// verification would reject it.
		se.DisableCertificateFingerprintVerification(true)
	}

	api := pion.NewAPI(
		pion.WithMediaEngine(m),
		pion.WithInterceptorRegistry(registry),
		pion.WithSettingEngine(se),
	)

	var servers []pion.ICEServer
	for _, s := range e.iceServers {
		servers = append(servers, pion.ICEServer{
			URLs:       []string{s.URL},
			Username:   s.Username,
			Credential: s.Credential,
		})
	}

	pc, err := api.NewPeerConnection(pion.Configuration{ICEServers: servers})
	if err != nil {
		return fmt.Errorf("create peer connection: %w", err)
	}

	// Callbacks check against the connection they were registered on so
	// a torn-down connection cannot leak events into its replacement.
	pc.OnICECandidate(func(c *pion.ICECandidate) {
		if c == nil || !e.isCurrent(pc) {
			return
		}
		j := c.ToJSON()
		cand := domain.Candidate{Candidate: j.Candidate}
		if j.SDPMid != nil {
			cand.SDPMid = *j.SDPMid
		}
		if j.SDPMLineIndex != nil {
			cand.SDPMLineIndex = int(*j.SDPMLineIndex)
		}
		e.observer.OnCandidateDiscovered(cand)
	})

	pc.OnTrack(func(track *pion.TrackRemote, receiver *pion.RTPReceiver) {
		if !e.isCurrent(pc) {
			return
		}
		e.log.WithFields(logrus.Fields{
			"id":   track.ID(),
			"kind": track.Kind().String(),
		}).Info("remote track")
		go e.drainRemoteTrack(track)
		e.observer.OnRemoteTrack(trackRef{id: track.ID(), kind: track.Kind().String()})
	})

	pc.OnConnectionStateChange(func(state pion.PeerConnectionState) {
		if !e.isCurrent(pc) {
			return
		}
		e.observer.OnConnectionStateChange(domain.ConnectionState(state.String()))
	})

	e.pc = pc
	return nil
}

func (e *Engine) isCurrent(pc *pion.PeerConnection) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pc == pc
}

func (e *Engine) current() *pion.PeerConnection {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pc
}

// CreateOffer asynchronously produces a local offer, reported through
// OnDescriptionReady.
func (e *Engine) CreateOffer() {
	go e.createDescription(false)
}

// CreateAnswer asynchronously produces a local answer, reported through
// OnDescriptionReady.
func (e *Engine) CreateAnswer() {
	go e.createDescription(true)
}

func (e *Engine) createDescription(answer bool) {
	pc := e.current()
	if pc == nil {
		return
	}

	var desc pion.SessionDescription
	var err error
	if answer {
		desc, err = pc.CreateAnswer(nil)
	} else {
		desc, err = pc.CreateOffer(nil)
	}
	if err != nil {
		e.log.WithError(err).Error("create description failed")
		return
	}
	if !e.isCurrent(pc) {
		return
	}
	e.observer.OnDescriptionReady(domain.SessionDescription{
		Type: desc.Type.String(),
		SDP:  desc.SDP,
	})
}

// SetLocalDescription applies a locally produced description.
func (e *Engine) SetLocalDescription(desc domain.SessionDescription) error {
	pc := e.current()
	if pc == nil {
		return fmt.Errorf("engine: no peer connection")
	}
	if err := pc.SetLocalDescription(toPion(desc)); err != nil {
		return fmt.Errorf("set local description: %w", err)
	}
	return nil
}

// SetRemoteDescription applies the remote party's description.
func (e *Engine) SetRemoteDescription(desc domain.SessionDescription) error {
	pc := e.current()
	if pc == nil {
		return fmt.Errorf("engine: no peer connection")
	}
	if err := pc.SetRemoteDescription(toPion(desc)); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	return nil
}

// AddCandidate applies a remote trickle candidate, reporting success.
func (e *Engine) AddCandidate(c domain.Candidate) bool {
	pc := e.current()
	if pc == nil {
		return false
	}
	index := uint16(c.SDPMLineIndex)
	mid := c.SDPMid
	err := pc.AddICECandidate(pion.ICECandidateInit{
		Candidate:     c.Candidate,
		SDPMid:        &mid,
		SDPMLineIndex: &index,
	})
	if err != nil {
		e.log.WithError(err).Warn("add candidate failed")
		return false
	}
	return true
}

// AddTrack attaches an outbound media track of the given kind.
func (e *Engine) AddTrack(kind, streamID string) error {
	pc := e.current()
	if pc == nil {
		return fmt.Errorf("engine: no peer connection")
	}

	var capability pion.RTPCodecCapability
	var label string
	switch kind {
	case domain.TrackKindAudio:
		capability = pion.RTPCodecCapability{MimeType: pion.MimeTypeOpus, ClockRate: 48000, Channels: 2}
		label = audioLabel
	case domain.TrackKindVideo:
		capability = pion.RTPCodecCapability{MimeType: pion.MimeTypeVP8, ClockRate: 90000}
		label = videoLabel
	default:
		return fmt.Errorf("engine: unknown track kind %q", kind)
	}

	track, err := pion.NewTrackLocalStaticSample(capability, label, streamID)
	if err != nil {
		return fmt.Errorf("create %s track: %w", kind, err)
	}
	if _, err := pc.AddTrack(track); err != nil {
		return fmt.Errorf("add %s track: %w", kind, err)
	}

	e.mu.Lock()
	e.senders = append(e.senders, domain.TrackSender{Kind: kind, StreamID: streamID})
	e.mu.Unlock()

	e.observer.OnLocalTrack(trackRef{id: label, kind: kind})
	return nil
}

// Senders snapshots the outbound track attachments, sufficient to
// reattach them on a rebuilt connection.
func (e *Engine) Senders() []domain.TrackSender {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]domain.TrackSender, len(e.senders))
	copy(out, e.senders)
	return out
}

// Teardown releases the peer connection. The engine may be initialized
// again afterwards.
func (e *Engine) Teardown() {
	e.mu.Lock()
	pc := e.pc
	e.pc = nil
	e.senders = nil
	e.mu.Unlock()

	if pc != nil {
		if err := pc.Close(); err != nil {
			e.log.WithError(err).Warn("peer connection close failed")
		}
	}
}

func toPion(desc domain.SessionDescription) pion.SessionDescription {
	var t pion.SDPType
	switch desc.Type {
	case domain.SDPTypeAnswer:
		t = pion.SDPTypeAnswer
	case domain.SDPTypePranswer:
		t = pion.SDPTypePranswer
	default:
		t = pion.SDPTypeOffer
	}
	return pion.SessionDescription{Type: t, SDP: desc.SDP}
}
