package conductor

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrsZ/janus-gateway-win/internal/domain"
	"github.com/MrsZ/janus-gateway-win/internal/signal"
)

// mockEngine records calls for verification.
type mockEngine struct {
	mu sync.Mutex

	initOpts         []domain.EngineOptions
	initErr          error
	offers           int
	answers          int
	local            []domain.SessionDescription
	remote           []domain.SessionDescription
	candidates       []domain.Candidate
	rejectCandidates bool
	tracks           []domain.TrackSender
	teardowns        int
}

func (m *mockEngine) Initialize(opts domain.EngineOptions) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.initOpts = append(m.initOpts, opts)
	return m.initErr
}

func (m *mockEngine) CreateOffer() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.offers++
}

func (m *mockEngine) CreateAnswer() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.answers++
}

func (m *mockEngine) SetLocalDescription(desc domain.SessionDescription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.local = append(m.local, desc)
	return nil
}

func (m *mockEngine) SetRemoteDescription(desc domain.SessionDescription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.remote = append(m.remote, desc)
	return nil
}

func (m *mockEngine) AddCandidate(c domain.Candidate) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.candidates = append(m.candidates, c)
	return !m.rejectCandidates
}

func (m *mockEngine) AddTrack(kind, streamID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tracks = append(m.tracks, domain.TrackSender{Kind: kind, StreamID: streamID})
	return nil
}

func (m *mockEngine) Senders() []domain.TrackSender {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.TrackSender, len(m.tracks))
	copy(out, m.tracks)
	return out
}

func (m *mockEngine) Teardown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.teardowns++
	m.tracks = nil
}

func (m *mockEngine) candidateCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.candidates)
}

func (m *mockEngine) setInitErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.initErr = err
}

// mockGateway records outbound traffic.
type mockGateway struct {
	mu sync.Mutex

	connected bool
	refuse    bool
	sent      []string
	hangups   []string
	signOuts  int
}

func (m *mockGateway) Connect(address, clientName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = true
	return nil
}

func (m *mockGateway) SignOut() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.signOuts++
	m.connected = false
}

func (m *mockGateway) SendToPeer(peerID int, text string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.refuse {
		return false
	}
	m.sent = append(m.sent, text)
	return true
}

func (m *mockGateway) SendHangup(peerID int, transaction string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hangups = append(m.hangups, transaction)
	return true
}

func (m *mockGateway) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *mockGateway) Peers() []string {
	return []string{"janus"}
}

// mockUI records surface transitions.
type mockUI struct {
	mu sync.Mutex

	views        []string
	errors       []string
	localStarts  int
	remoteStarts int
	localStops   int
	remoteStops  int
}

func (m *mockUI) SwitchToPeerList(peers []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.views = append(m.views, "peers")
}

func (m *mockUI) SwitchToConnectUI() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.views = append(m.views, "connect")
}

func (m *mockUI) SwitchToStreamingUI() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.views = append(m.views, "streaming")
}

func (m *mockUI) StartLocalRenderer(track domain.Track) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.localStarts++
}

func (m *mockUI) StartRemoteRenderer(track domain.Track) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.remoteStarts++
}

func (m *mockUI) StopLocalRenderer() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.localStops++
}

func (m *mockUI) StopRemoteRenderer() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.remoteStops++
}

func (m *mockUI) ShowError(title, message string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors = append(m.errors, message)
}

func (m *mockUI) errorCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.errors)
}

func newTestConductor() (*Conductor, *mockEngine, *mockGateway, *mockUI) {
	engine := &mockEngine{}
	gateway := &mockGateway{connected: true}
	ui := &mockUI{}
	c := New(engine, gateway, ui, Options{ClientName: "test"})
	return c, engine, gateway, ui
}

func offerJSON(t *testing.T, sdp string) []byte {
	t.Helper()
	raw, err := json.Marshal(domain.SessionDescription{Type: "offer", SDP: sdp})
	if err != nil {
		t.Fatal(err)
	}
	return raw
}

func candidateJSON(t *testing.T, mid string, index int) []byte {
	t.Helper()
	raw, err := json.Marshal(domain.Candidate{
		SDPMid:        mid,
		SDPMLineIndex: index,
		Candidate:     "candidate:1 1 UDP 2122252543 192.168.1.5 46154 typ host",
	})
	if err != nil {
		t.Fatal(err)
	}
	return raw
}

func TestConnectToPeerSecondCallFails(t *testing.T) {
	c, engine, _, _ := newTestConductor()

	if err := c.connectToPeer(7); err != nil {
		t.Fatalf("first connect: %v", err)
	}
	if err := c.connectToPeer(9); !errors.Is(err, ErrAlreadyInSession) {
		t.Fatalf("second connect: got %v, want ErrAlreadyInSession", err)
	}

	if c.sess.peerID != 7 {
		t.Errorf("session rebound: peer %d, want 7", c.sess.peerID)
	}
	if len(engine.initOpts) != 1 {
		t.Errorf("engine initialized %d times, want 1", len(engine.initOpts))
	}
	if engine.offers != 1 {
		t.Errorf("offers requested %d times, want 1", engine.offers)
	}
	if c.Phase() != Negotiating {
		t.Errorf("phase %s, want Negotiating", c.Phase())
	}
}

func TestInboundOfferBindsAndAnswers(t *testing.T) {
	c, engine, _, _ := newTestConductor()

	c.handlePeerMessage(domain.GatewayPeerID, offerJSON(t, "v=0\r\n"))

	if c.sess.peerID != domain.GatewayPeerID {
		t.Errorf("peer %d, want %d", c.sess.peerID, domain.GatewayPeerID)
	}
	if len(engine.initOpts) != 1 {
		t.Fatalf("engine initialized %d times, want 1", len(engine.initOpts))
	}
	if len(engine.remote) != 1 || engine.remote[0].SDP != "v=0\r\n" {
		t.Errorf("remote descriptions %+v, want the inbound offer", engine.remote)
	}
	if engine.answers != 1 {
		t.Errorf("answers requested %d times, want 1", engine.answers)
	}
	if len(engine.tracks) != 2 {
		t.Errorf("tracks attached %d, want 2", len(engine.tracks))
	}
	if c.Phase() != Negotiating {
		t.Errorf("phase %s, want Negotiating", c.Phase())
	}
}

func TestForeignPeerMessageDropped(t *testing.T) {
	c, engine, _, _ := newTestConductor()
	if err := c.connectToPeer(7); err != nil {
		t.Fatal(err)
	}
	phase := c.Phase()
	queued := c.queue.len()

	c.handlePeerMessage(9, candidateJSON(t, "audio", 0))

	if len(engine.candidates) != 0 {
		t.Errorf("candidate applied for foreign peer")
	}
	if c.sess.peerID != 7 || c.Phase() != phase || c.queue.len() != queued {
		t.Errorf("state mutated by foreign-peer message")
	}
}

func TestInboundCandidateAppliedNoOutbound(t *testing.T) {
	c, engine, gateway, _ := newTestConductor()
	if err := c.connectToPeer(7); err != nil {
		t.Fatal(err)
	}

	c.handlePeerMessage(7, candidateJSON(t, "audio", 0))

	if len(engine.candidates) != 1 {
		t.Fatalf("candidate applied %d times, want 1", len(engine.candidates))
	}
	if engine.candidates[0].SDPMid != "audio" {
		t.Errorf("got candidate %+v", engine.candidates[0])
	}
	if len(gateway.sent) != 0 {
		t.Errorf("outbound messages %v, want none", gateway.sent)
	}
}

func TestUndecodableMessagesDropped(t *testing.T) {
	c, engine, _, _ := newTestConductor()

	for _, raw := range []string{`{{{`, `{"type":"rollback","sdp":"x"}`, `{"sdpMid":"0"}`} {
		c.handlePeerMessage(domain.GatewayPeerID, []byte(raw))
	}

	if len(engine.initOpts) != 0 {
		t.Errorf("engine initialized for undecodable input")
	}
	if c.Phase() != Idle {
		t.Errorf("phase %s, want Idle", c.Phase())
	}
}

func TestControlMessagesDoNotBind(t *testing.T) {
	c, engine, _, _ := newTestConductor()

	for _, raw := range []string{
		`{"janus":"keepalive"}`,
		`{"janus":"ack"}`,
		`{"janus":"webrtcup","sender":"1"}`,
		`{"janus":"media"}`,
		`{"janus":"slowlink"}`,
	} {
		c.handlePeerMessage(domain.GatewayPeerID, []byte(raw))
	}

	if len(engine.initOpts) != 0 {
		t.Errorf("engine initialized by control traffic")
	}
	if c.sess.bound() || c.Phase() != Idle {
		t.Errorf("control traffic bound a session")
	}
}

func TestUnknownTransactionIsNoop(t *testing.T) {
	c, _, _, _ := newTestConductor()
	if err := c.connectToPeer(7); err != nil {
		t.Fatal(err)
	}
	phase := c.Phase()

	c.handlePeerMessage(7, []byte(`{"janus":"success","transaction":"nope"}`))
	c.handlePeerMessage(7, []byte(`{"janus":"error","transaction":"nope","error":{"code":458,"reason":"x"}}`))

	if c.Phase() != phase || c.sess.peerID != 7 {
		t.Errorf("unknown transaction mutated state")
	}
}

func TestTransactionConsumedExactlyOnce(t *testing.T) {
	c, _, _, _ := newTestConductor()
	resolved := 0
	c.txns.add("t1", transaction{
		onSuccess: func(msg signal.Message) { resolved++ },
	})

	c.handleControl(signal.Message{Kind: signal.KindSuccess, Transaction: "t1"})
	c.handleControl(signal.Message{Kind: signal.KindSuccess, Transaction: "t1"})

	if resolved != 1 {
		t.Errorf("transaction resolved %d times, want 1", resolved)
	}
	if c.txns.len() != 0 {
		t.Errorf("transaction not consumed")
	}
}

func TestOutboundDeliveredInOrderOneInFlight(t *testing.T) {
	c, _, gateway, _ := newTestConductor()
	if err := c.connectToPeer(7); err != nil {
		t.Fatal(err)
	}

	c.handleDescriptionReady(domain.SessionDescription{Type: "offer", SDP: "v=0\r\n"})
	c.handleCandidateDiscovered(domain.Candidate{SDPMid: "audio", SDPMLineIndex: 0, Candidate: "candidate:1"})
	c.handleCandidateDiscovered(domain.Candidate{SDPMid: "video", SDPMLineIndex: 1, Candidate: "candidate:2"})

	if len(gateway.sent) != 1 {
		t.Fatalf("sent %d messages before completion, want 1", len(gateway.sent))
	}
	if !c.queue.hasInFlight() {
		t.Fatal("no delivery in flight")
	}

	c.handleSendComplete(nil)
	c.handleSendComplete(nil)

	if len(gateway.sent) != 3 {
		t.Fatalf("sent %d messages, want 3", len(gateway.sent))
	}

	first, err := signal.Decode([]byte(gateway.sent[0]))
	if err != nil || first.Kind != signal.KindOffer {
		t.Errorf("first delivery %q, want the offer", gateway.sent[0])
	}
	second, err := signal.Decode([]byte(gateway.sent[1]))
	if err != nil || second.Candidate.SDPMid != "audio" {
		t.Errorf("second delivery %q, want the audio candidate", gateway.sent[1])
	}
	third, err := signal.Decode([]byte(gateway.sent[2]))
	if err != nil || third.Candidate.SDPMid != "video" {
		t.Errorf("third delivery %q, want the video candidate", gateway.sent[2])
	}
}

func TestRefusedSendIsSessionFatal(t *testing.T) {
	c, engine, gateway, ui := newTestConductor()
	gateway.refuse = true
	if err := c.connectToPeer(7); err != nil {
		t.Fatal(err)
	}

	c.handleDescriptionReady(domain.SessionDescription{Type: "offer", SDP: "v=0\r\n"})

	if c.sess.bound() || c.Phase() != Idle {
		t.Errorf("session survived a refused send")
	}
	if engine.teardowns == 0 {
		t.Errorf("engine not torn down")
	}
	if len(ui.errors) != 1 {
		t.Errorf("ui notified %d times, want 1", len(ui.errors))
	}
}

func TestSendCompletionFailureIsSessionFatal(t *testing.T) {
	c, _, _, ui := newTestConductor()
	if err := c.connectToPeer(7); err != nil {
		t.Fatal(err)
	}
	c.handleDescriptionReady(domain.SessionDescription{Type: "offer", SDP: "v=0\r\n"})

	c.handleSendComplete(errors.New("broken pipe"))

	if c.sess.bound() || c.Phase() != Idle {
		t.Errorf("session survived a failed send")
	}
	if len(ui.errors) != 1 {
		t.Errorf("ui notified %d times, want 1", len(ui.errors))
	}

	// A completion straggling in after teardown must not notify again.
	c.handleSendComplete(errors.New("broken pipe"))
	if len(ui.errors) != 1 {
		t.Errorf("duplicate notification after teardown")
	}
}

func TestLoopbackAnswersLocally(t *testing.T) {
	c, engine, gateway, _ := newTestConductor()
	if err := c.connectToPeer(7); err != nil {
		t.Fatal(err)
	}

	c.handlePeerMessage(7, []byte(`{"type":"offer-loopback"}`))

	if !c.sess.loopback {
		t.Fatal("loopback flag not set")
	}
	if engine.teardowns != 1 {
		t.Errorf("engine rebuilt %d times, want 1", engine.teardowns)
	}
	if len(engine.initOpts) != 2 || !engine.initOpts[1].DisableEncryption {
		t.Errorf("loopback engine not rebuilt with encryption disabled: %+v", engine.initOpts)
	}
	if len(engine.tracks) != 2 {
		t.Errorf("tracks reattached %d, want 2", len(engine.tracks))
	}
	if engine.offers != 2 {
		t.Errorf("offers requested %d times, want 2", engine.offers)
	}

	c.handleDescriptionReady(domain.SessionDescription{Type: "offer", SDP: "v=0\r\nloopback"})

	last := engine.remote[len(engine.remote)-1]
	if last.Type != domain.SDPTypeAnswer || last.SDP != "v=0\r\nloopback" {
		t.Errorf("loopback answer %+v, want answer with the offer's SDP", last)
	}
	if len(gateway.sent) != 0 {
		t.Errorf("loopback emitted network traffic: %v", gateway.sent)
	}

	// Local candidates also stay local.
	c.handleCandidateDiscovered(domain.Candidate{SDPMid: "audio", Candidate: "candidate:1"})
	if len(engine.candidates) != 1 || len(gateway.sent) != 0 {
		t.Errorf("loopback candidate left the process")
	}
}

func TestHangupForcesTeardown(t *testing.T) {
	c, engine, _, ui := newTestConductor()
	if err := c.connectToPeer(7); err != nil {
		t.Fatal(err)
	}

	c.handlePeerMessage(7, []byte(`{"janus":"hangup","sender":"123"}`))

	if c.sess.bound() || c.Phase() != Idle {
		t.Errorf("session survived hangup")
	}
	if engine.teardowns != 1 {
		t.Errorf("engine torn down %d times, want 1", engine.teardowns)
	}
	if len(ui.views) == 0 || ui.views[len(ui.views)-1] != "peers" {
		t.Errorf("ui views %v, want to end on the peer list", ui.views)
	}
	if ui.localStops != 1 || ui.remoteStops != 1 {
		t.Errorf("renderers not stopped")
	}
}

func TestDisconnectFromPeerSendsHangup(t *testing.T) {
	c, _, gateway, ui := newTestConductor()
	if err := c.connectToPeer(7); err != nil {
		t.Fatal(err)
	}

	c.handleDisconnectFromPeer()

	if len(gateway.hangups) != 1 {
		t.Fatalf("hangups sent %d, want 1", len(gateway.hangups))
	}
	if c.txns.len() != 1 {
		t.Errorf("hangup transaction not registered")
	}
	if c.sess.bound() || c.Phase() != Idle {
		t.Errorf("session survived disconnect")
	}
	if ui.views[len(ui.views)-1] != "peers" {
		t.Errorf("ui views %v, want to end on the peer list", ui.views)
	}

	// The gateway's response resolves the registered transaction.
	c.handleControl(signal.Message{Kind: signal.KindSuccess, Transaction: gateway.hangups[0]})
	if c.txns.len() != 0 {
		t.Errorf("hangup transaction not consumed")
	}
}

func TestTrickleCandidateApplied(t *testing.T) {
	c, engine, _, _ := newTestConductor()
	if err := c.connectToPeer(7); err != nil {
		t.Fatal(err)
	}

	c.handlePeerMessage(7, []byte(`{"janus":"trickle","candidate":{"sdpMid":"0","sdpMLineIndex":0,"candidate":"candidate:5"}}`))

	if len(engine.candidates) != 1 || engine.candidates[0].Candidate != "candidate:5" {
		t.Errorf("trickle candidate not applied: %+v", engine.candidates)
	}
}

func TestActivePhaseAfterBothDescriptions(t *testing.T) {
	c, _, _, _ := newTestConductor()
	if err := c.connectToPeer(7); err != nil {
		t.Fatal(err)
	}

	c.handleDescriptionReady(domain.SessionDescription{Type: "offer", SDP: "v=0\r\n"})
	if c.Phase() != Negotiating {
		t.Fatalf("phase %s after local description, want Negotiating", c.Phase())
	}

	c.handlePeerMessage(7, []byte(`{"type":"answer","sdp":"v=0\r\n"}`))
	if c.Phase() != Active {
		t.Errorf("phase %s after both descriptions, want Active", c.Phase())
	}
}

func TestEngineInitFailureOnConnectLeavesIdle(t *testing.T) {
	c, engine, _, ui := newTestConductor()
	engine.initErr = errors.New("no codecs")

	if err := c.connectToPeer(7); err == nil {
		t.Fatal("connect succeeded with a failing engine")
	}
	if c.sess.bound() || c.Phase() != Idle {
		t.Errorf("failed init left session bound: phase %s", c.Phase())
	}
	if len(ui.errors) != 1 {
		t.Errorf("ui notified %d times, want 1", len(ui.errors))
	}

	// The conductor stays usable once the engine recovers.
	engine.initErr = nil
	if err := c.connectToPeer(7); err != nil {
		t.Fatalf("connect after engine recovery: %v", err)
	}
}

func TestEngineInitFailureOnInboundBindSignsOut(t *testing.T) {
	c, engine, gateway, ui := newTestConductor()
	engine.initErr = errors.New("no codecs")

	c.handlePeerMessage(domain.GatewayPeerID, offerJSON(t, "v=0\r\n"))

	if c.sess.bound() || c.Phase() != Idle {
		t.Errorf("failed init left session bound: phase %s", c.Phase())
	}
	if gateway.signOuts != 1 {
		t.Errorf("signed out %d times, want 1", gateway.signOuts)
	}
	if len(ui.errors) != 1 {
		t.Errorf("ui notified %d times, want 1", len(ui.errors))
	}
	if len(ui.views) == 0 || ui.views[len(ui.views)-1] != "connect" {
		t.Errorf("ui views %v, want to end on the connect view", ui.views)
	}

	engine.initErr = nil
	if err := c.connectToPeer(7); err != nil {
		t.Fatalf("connect after engine recovery: %v", err)
	}
}

func TestAutoCallLoopbackInitFailureIsSessionFatal(t *testing.T) {
	engine := &mockEngine{initErr: errors.New("no codecs")}
	gateway := &mockGateway{connected: true}
	ui := &mockUI{}
	c := New(engine, gateway, ui, Options{ClientName: "test", AutoCall: true, LoopbackSelfTest: true})
	go c.Run()
	defer c.Close()

	c.OnSignedIn([]string{"janus"})

	deadline := time.After(2 * time.Second)
	for ui.errorCount() < 1 {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for the init failure notification")
		case <-time.After(10 * time.Millisecond):
		}
	}
	if c.Phase() != Idle {
		t.Errorf("phase %s after failed auto call, want Idle", c.Phase())
	}

	// A later session must not be blocked by the failed auto call.
	engine.setInitErr(nil)
	if err := c.ConnectToPeer(domain.GatewayPeerID); err != nil {
		t.Fatalf("conductor unusable after failed auto call: %v", err)
	}
}

func TestMailboxProcessesEventsInOrder(t *testing.T) {
	c, engine, _, _ := newTestConductor()
	go c.Run()
	defer c.Close()

	c.OnPeerMessage(domain.GatewayPeerID, offerJSON(t, "v=0\r\n"))
	c.OnPeerMessage(domain.GatewayPeerID, candidateJSON(t, "audio", 0))
	c.OnPeerMessage(domain.GatewayPeerID, candidateJSON(t, "video", 1))

	deadline := time.After(2 * time.Second)
	for engine.candidateCount() < 2 {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for candidates to be applied")
		case <-time.After(10 * time.Millisecond):
		}
	}

	engine.mu.Lock()
	defer engine.mu.Unlock()
	if engine.candidates[0].SDPMid != "audio" || engine.candidates[1].SDPMid != "video" {
		t.Errorf("candidates applied out of order: %+v", engine.candidates)
	}
}
