// Package conductor owns the signaling session: it dispatches inbound
// gateway messages, drives the media engine through offer/answer and
// candidate exchange, and serializes outbound messages in the order
// they were produced. All session state lives behind a mailbox that a
// single run loop drains one event at a time; gateway and engine
// callbacks post into it rather than touching state directly.
package conductor

import (
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/MrsZ/janus-gateway-win/internal/domain"
	"github.com/MrsZ/janus-gateway-win/internal/signal"
)

var (
	// ErrAlreadyInSession is returned by ConnectToPeer and StartLoopback
	// while a session is already bound.
	ErrAlreadyInSession = errors.New("conductor: already in a session with another peer")

	// ErrClosed is returned once Close has been called.
	ErrClosed = errors.New("conductor: closed")
)

// streamID labels the outbound media stream, matching the original
// client's default.
const streamID = "stream_id"

// Options tune conductor behavior that in the windowed original came
// from UI interaction.
type Options struct {
	// ClientName is presented to the gateway on connect.
	ClientName string

	// AutoCall starts a session with the gateway peer as soon as the
	// transport signs in.
	AutoCall bool

	// LoopbackSelfTest runs the loopback negotiation instead of a real
	// call when AutoCall fires.
	LoopbackSelfTest bool
}

// Conductor mediates between the gateway transport, the media engine
// and the UI. It implements domain.GatewayObserver and
// domain.EngineObserver; those callbacks are marshalled into the run
// loop started by Run.
type Conductor struct {
	engine  domain.Engine
	gateway domain.Gateway
	ui      domain.UI
	opts    Options
	log     *logrus.Entry

	events    chan func()
	done      chan struct{}
	closeOnce sync.Once

	// Owned by the run loop.
	sess   session
	queue  outboundQueue
	txns   *transactionTable
	server string
}

// New assembles a conductor. Run must be called before any events flow.
func New(engine domain.Engine, gateway domain.Gateway, ui domain.UI, opts Options) *Conductor {
	c := &Conductor{
		engine:  engine,
		gateway: gateway,
		ui:      ui,
		opts:    opts,
		log:     logrus.WithField("component", "conductor"),
		events:  make(chan func(), 64),
		done:    make(chan struct{}),
		txns:    newTransactionTable(),
	}
	c.sess.reset()
	return c
}

// Run drains the mailbox until Close is processed. It is the only
// goroutine that touches session state, the outbound queue and the
// transaction table.
func (c *Conductor) Run() {
	for {
		select {
		case ev := <-c.events:
			ev()
		case <-c.done:
			return
		}
	}
}

// post marshals an event onto the run loop. Events arriving after Close
// are discarded.
func (c *Conductor) post(ev func()) {
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

// Phase reports the current session lifecycle phase.
func (c *Conductor) Phase() Phase {
	return c.sess.Phase()
}

// Start begins the transport connect sequence. It is a no-op when the
// gateway is already connected.
func (c *Conductor) Start(server string) {
	c.post(func() {
		if c.gateway.IsConnected() {
			return
		}
		c.server = server
		if err := c.gateway.Connect(server, c.opts.ClientName); err != nil {
			c.log.WithError(err).WithField("server", server).Error("gateway connect failed")
		}
	})
}

// ConnectToPeer binds the session to peerID, brings up the engine and
// requests a local offer. It fails with ErrAlreadyInSession while a
// session is bound.
func (c *Conductor) ConnectToPeer(peerID int) error {
	reply := make(chan error, 1)
	c.post(func() {
		reply <- c.connectToPeer(peerID)
	})
	select {
	case err := <-reply:
		return err
	case <-c.done:
		return ErrClosed
	}
}

func (c *Conductor) connectToPeer(peerID int) error {
	if c.sess.bound() {
		return ErrAlreadyInSession
	}
	c.sess.bind(peerID)
	if err := c.initializeEngine(domain.EngineOptions{}); err != nil {
		c.log.WithError(err).Error("engine initialization failed")
		c.teardown()
		c.ui.ShowError("Error", "Failed to initialize the media engine")
		return err
	}
	c.sess.restartNegotiation()
	c.engine.CreateOffer()
	return nil
}

// StartLoopback runs the self-test negotiation: the local engine
// answers its own offer without any network traffic.
func (c *Conductor) StartLoopback() error {
	reply := make(chan error, 1)
	c.post(func() {
		reply <- c.startLoopback()
	})
	select {
	case err := <-reply:
		return err
	case <-c.done:
		return ErrClosed
	}
}

func (c *Conductor) startLoopback() error {
	if c.sess.bound() {
		return ErrAlreadyInSession
	}
	c.sess.bind(domain.GatewayPeerID)
	if err := c.initializeEngine(domain.EngineOptions{}); err != nil {
		c.log.WithError(err).Error("engine initialization failed")
		c.teardown()
		c.ui.ShowError("Error", "Failed to initialize the media engine")
		return err
	}
	c.sess.restartNegotiation()
	c.enterLoopback()
	return nil
}

// DisconnectFromPeer hangs up the current session, if any, and returns
// to the peer list.
func (c *Conductor) DisconnectFromPeer() {
	c.post(c.handleDisconnectFromPeer)
}

func (c *Conductor) handleDisconnectFromPeer() {
	if c.sess.bound() {
		id := uuid.NewString()
		c.txns.add(id, transaction{
			onError: func(msg signal.Message) {
				c.log.WithField("reason", msg.ErrorDetail).Warn("hangup rejected by gateway")
			},
		})
		c.gateway.SendHangup(c.sess.peerID, id)
		c.teardown()
	}
	c.ui.SwitchToPeerList(c.gateway.Peers())
}

// Close tears down unconditionally, signs out from the gateway and
// stops the run loop.
func (c *Conductor) Close() {
	c.closeOnce.Do(func() {
		c.post(func() {
			c.teardown()
			c.txns.clear()
			c.gateway.SignOut()
			close(c.done)
		})
	})
}

//
// GatewayObserver implementation.
//

// OnSignedIn is called once the gateway session is established.
func (c *Conductor) OnSignedIn(peers []string) {
	c.post(func() {
		c.ui.SwitchToPeerList(peers)
		if !c.opts.AutoCall || c.sess.bound() {
			return
		}
		var err error
		if c.opts.LoopbackSelfTest {
			err = c.startLoopback()
		} else {
			err = c.connectToPeer(domain.GatewayPeerID)
		}
		if err != nil {
			c.log.WithError(err).Error("auto call failed")
		}
	})
}

// OnDisconnected is called when the transport connection is gone.
func (c *Conductor) OnDisconnected() {
	c.post(func() {
		c.teardown()
		c.ui.SwitchToConnectUI()
	})
}

// OnPeerConnected refreshes the peer list.
func (c *Conductor) OnPeerConnected(id int, name string) {
	c.post(func() {
		c.ui.SwitchToPeerList(c.gateway.Peers())
	})
}

// OnPeerDisconnected tears down if the bound peer left; otherwise it
// only refreshes the list.
func (c *Conductor) OnPeerDisconnected(id int) {
	c.post(func() {
		if c.sess.bound() && id == c.sess.peerID {
			c.log.WithField("peer", id).Info("our peer disconnected")
			c.teardown()
		}
		c.ui.SwitchToPeerList(c.gateway.Peers())
	})
}

// OnPeerMessage is the central dispatch for inbound signaling traffic.
func (c *Conductor) OnPeerMessage(peerID int, raw []byte) {
	c.post(func() {
		c.handlePeerMessage(peerID, raw)
	})
}

// OnSendComplete releases the in-flight slot and attempts the next
// delivery. A failed send is fatal to the session.
func (c *Conductor) OnSendComplete(err error) {
	c.post(func() {
		c.handleSendComplete(err)
	})
}

func (c *Conductor) handleSendComplete(err error) {
	c.queue.release()
	if err != nil {
		c.log.WithError(err).Error("transport send failed")
		if c.sess.bound() {
			c.sessionFatal("Failed to send to the gateway")
		}
		return
	}
	c.pumpOutbound()
}

// OnServerConnectionFailure surfaces a failed connect attempt.
func (c *Conductor) OnServerConnectionFailure(err error) {
	c.post(func() {
		c.log.WithError(err).Error("server connection failure")
		c.ui.ShowError("Error", "Failed to connect to "+c.server)
		c.ui.SwitchToConnectUI()
	})
}

//
// EngineObserver implementation.
//

// OnDescriptionReady fires when the engine produced a local offer or
// answer.
func (c *Conductor) OnDescriptionReady(desc domain.SessionDescription) {
	c.post(func() {
		c.handleDescriptionReady(desc)
	})
}

// OnCandidateDiscovered fires for each locally gathered ICE candidate.
func (c *Conductor) OnCandidateDiscovered(cand domain.Candidate) {
	c.post(func() {
		c.handleCandidateDiscovered(cand)
	})
}

// OnLocalTrack hands a newly attached outbound track to the UI.
func (c *Conductor) OnLocalTrack(track domain.Track) {
	c.post(func() {
		if track.Kind() == domain.TrackKindVideo {
			c.ui.StartLocalRenderer(track)
		}
	})
}

// OnRemoteTrack hands a newly received track to the UI.
func (c *Conductor) OnRemoteTrack(track domain.Track) {
	c.post(func() {
		if !c.sess.bound() {
			return
		}
		if track.Kind() == domain.TrackKindVideo {
			c.ui.StartRemoteRenderer(track)
		}
	})
}

// OnConnectionStateChange forwards the engine's own connectivity signal.
func (c *Conductor) OnConnectionStateChange(state domain.ConnectionState) {
	c.post(func() {
		c.log.WithField("state", state).Info("engine connection state")
		switch state {
		case domain.ConnectionConnected:
			if c.sess.bound() {
				c.ui.SwitchToStreamingUI()
			}
		case domain.ConnectionFailed, domain.ConnectionClosed:
			if c.sess.bound() {
				c.teardown()
				c.ui.SwitchToPeerList(c.gateway.Peers())
			}
		}
	})
}

//
// Run-loop internals. Everything below executes on the run loop only.
//

func (c *Conductor) handlePeerMessage(peerID int, raw []byte) {
	msg, err := signal.Decode(raw)
	if err != nil {
		c.log.WithError(err).WithField("peer", peerID).Warn("dropping undecodable message")
		return
	}

	// Control notifications never bind a session; they correlate
	// transactions or force teardown, and otherwise get logged.
	if msg.Kind.IsControl() {
		c.handleControl(msg)
		return
	}

	if !c.sess.bound() {
		c.sess.bind(peerID)
		if err := c.initializeEngine(domain.EngineOptions{}); err != nil {
			c.log.WithError(err).Error("engine initialization failed")
			c.teardown()
			c.gateway.SignOut()
			c.ui.ShowError("Error", "Failed to initialize the media engine")
			c.ui.SwitchToConnectUI()
			return
		}
		c.sess.restartNegotiation()
	} else if peerID != c.sess.peerID {
		c.log.WithFields(logrus.Fields{
			"peer":  peerID,
			"bound": c.sess.peerID,
		}).Warn("message from unknown peer while in a session; dropped")
		return
	}

	switch msg.Kind {
	case signal.KindLoopbackOffer:
		c.enterLoopback()
	case signal.KindOffer, signal.KindAnswer, signal.KindPranswer:
		c.applyRemoteDescription(msg)
	case signal.KindCandidate:
		c.applyRemoteCandidate(msg.Candidate)
	}
}

func (c *Conductor) handleControl(msg signal.Message) {
	switch msg.Kind {
	case signal.KindAck, signal.KindKeepalive:
		c.log.WithField("janus", msg.Kind.String()).Debug("gateway heartbeat")

	case signal.KindSuccess:
		if !c.txns.resolve(msg.Transaction, msg) {
			c.log.WithField("transaction", msg.Transaction).Debug("success for unknown transaction")
		}

	case signal.KindError:
		c.log.WithFields(logrus.Fields{
			"transaction": msg.Transaction,
			"reason":      msg.ErrorDetail,
		}).Warn("gateway error")
		if !c.txns.resolve(msg.Transaction, msg) {
			c.log.WithField("transaction", msg.Transaction).Debug("error for unknown transaction")
		}

	case signal.KindTrickle:
		if !msg.HasCandidate {
			c.log.Debug("trickle without candidate")
			return
		}
		if !c.sess.bound() {
			c.log.Warn("trickle candidate with no session; dropped")
			return
		}
		c.applyRemoteCandidate(msg.Candidate)

	case signal.KindWebRTCUp, signal.KindMedia, signal.KindSlowLink:
		c.log.WithFields(logrus.Fields{
			"janus":  msg.Kind.String(),
			"sender": msg.Sender,
		}).Info("gateway notification")

	case signal.KindHangup, signal.KindDetached:
		c.log.WithField("janus", msg.Kind.String()).Info("gateway requested teardown")
		if c.sess.bound() {
			c.teardown()
		}
		c.ui.SwitchToPeerList(c.gateway.Peers())

	case signal.KindEvent:
		if msg.Transaction == "" {
			c.log.Debug("plugin event without transaction")
			return
		}
		if !c.txns.notifyEvent(msg.Transaction, msg) {
			c.log.WithField("transaction", msg.Transaction).Debug("event for unknown transaction")
		}
	}
}

func (c *Conductor) applyRemoteDescription(msg signal.Message) {
	if err := c.engine.SetRemoteDescription(msg.Description); err != nil {
		c.log.WithError(err).Warn("failed to apply remote description")
		return
	}
	c.sess.remoteReady = true
	c.maybeActivate()
	if msg.Kind == signal.KindOffer {
		c.engine.CreateAnswer()
	}
}

func (c *Conductor) applyRemoteCandidate(cand domain.Candidate) {
	if !c.engine.AddCandidate(cand) {
		c.log.Warn("failed to apply remote candidate")
	}
}

func (c *Conductor) handleDescriptionReady(desc domain.SessionDescription) {
	if !c.sess.bound() {
		c.log.Debug("local description after teardown; dropped")
		return
	}

	// Fire-and-forget: a local description the engine itself produced
	// is not expected to be rejected.
	if err := c.engine.SetLocalDescription(desc); err != nil {
		c.log.WithError(err).Error("failed to set local description")
	}
	c.sess.localReady = true
	c.maybeActivate()

	if c.sess.loopback {
		// Answer our own offer locally; nothing goes on the wire.
		if desc.Type == domain.SDPTypeOffer {
			answer := domain.SessionDescription{Type: domain.SDPTypeAnswer, SDP: desc.SDP}
			if err := c.engine.SetRemoteDescription(answer); err != nil {
				c.log.WithError(err).Warn("failed to apply loopback answer")
				return
			}
			c.sess.remoteReady = true
			c.maybeActivate()
		}
		return
	}

	msg, err := signal.NewDescription(desc)
	if err != nil {
		c.log.WithError(err).Error("unencodable local description")
		return
	}
	c.enqueueOutbound(msg)
}

func (c *Conductor) handleCandidateDiscovered(cand domain.Candidate) {
	if !c.sess.bound() {
		c.log.Debug("local candidate after teardown; dropped")
		return
	}
	if c.sess.loopback {
		if !c.engine.AddCandidate(cand) {
			c.log.Warn("failed to apply loopback candidate")
		}
		return
	}
	c.enqueueOutbound(signal.NewCandidate(cand))
}

func (c *Conductor) enqueueOutbound(msg signal.Message) {
	raw, err := signal.Encode(msg)
	if err != nil {
		c.log.WithError(err).Error("failed to encode outbound message")
		return
	}
	c.queue.enqueue(string(raw))
	c.pumpOutbound()
}

// pumpOutbound hands the queue head to the transport unless a send is
// already in flight. A refused send means the transport is unusable for
// this session.
func (c *Conductor) pumpOutbound() {
	if !c.sess.bound() {
		return
	}
	ok := c.queue.tryDeliver(func(text string) bool {
		return c.gateway.SendToPeer(c.sess.peerID, text)
	})
	if !ok {
		c.log.Error("transport refused outbound message")
		c.sessionFatal("Failed to send to the gateway")
	}
}

func (c *Conductor) initializeEngine(opts domain.EngineOptions) error {
	if err := c.engine.Initialize(opts); err != nil {
		return err
	}
	c.addTracks()
	return nil
}

func (c *Conductor) addTracks() {
	if len(c.engine.Senders()) > 0 {
		return
	}
	if err := c.engine.AddTrack(domain.TrackKindAudio, streamID); err != nil {
		c.log.WithError(err).Error("failed to add audio track")
	}
	if err := c.engine.AddTrack(domain.TrackKindVideo, streamID); err != nil {
		c.log.WithError(err).Error("failed to add video track")
	}
}

// enterLoopback rebuilds the engine with encryption disabled, reattaches
// the outbound tracks, and starts a fresh self-answered offer. Loopback
// only ends with full teardown.
func (c *Conductor) enterLoopback() {
	c.sess.loopback = true

	senders := c.engine.Senders()
	c.engine.Teardown()

	if err := c.engine.Initialize(domain.EngineOptions{DisableEncryption: true}); err != nil {
		c.log.WithError(err).Error("loopback engine initialization failed")
		c.teardown()
		c.gateway.SignOut()
		c.ui.ShowError("Error", "Failed to reinitialize the media engine")
		c.ui.SwitchToConnectUI()
		return
	}
	for _, s := range senders {
		if err := c.engine.AddTrack(s.Kind, s.StreamID); err != nil {
			c.log.WithError(err).WithField("kind", s.Kind).Error("failed to reattach track")
		}
	}

	c.sess.restartNegotiation()
	c.engine.CreateOffer()
}

func (c *Conductor) maybeActivate() {
	if c.sess.Phase() == Negotiating && c.sess.localReady && c.sess.remoteReady {
		c.sess.setPhase(Active)
	}
}

// sessionFatal runs the single notification for a session-fatal
// condition: teardown, one error dialog, back to the disconnected UI.
func (c *Conductor) sessionFatal(message string) {
	c.teardown()
	c.ui.ShowError("Error", message)
	c.ui.SwitchToConnectUI()
}

// teardown releases the session: stop renderers, release the engine,
// drop queued outbound traffic, clear the binding. Safe to call in any
// state, including mid-negotiation.
func (c *Conductor) teardown() {
	c.sess.setPhase(Closing)
	c.ui.StopLocalRenderer()
	c.ui.StopRemoteRenderer()
	c.engine.Teardown()
	c.queue.clear()
	c.sess.reset()
}
