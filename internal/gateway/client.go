// Package gateway implements the WebSocket transport toward a Janus
// style gateway: dialing, the session handshake, keepalives, serialized
// writes, and the read loop that feeds inbound traffic to the observer.
package gateway

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/MrsZ/janus-gateway-win/internal/domain"
)

// subprotocol required by the gateway's WebSocket endpoint.
const subprotocol = "janus-protocol"

// keepaliveInterval keeps the gateway session from timing out; the
// gateway reaps sessions after 60 seconds of silence.
const keepaliveInterval = 25 * time.Second

// envelope is the control wrapper the gateway speaks for session
// management traffic.
type envelope struct {
	Janus       string `json:"janus"`
	Transaction string `json:"transaction,omitempty"`
	SessionID   int64  `json:"session_id,omitempty"`
	Data        *struct {
		ID int64 `json:"id"`
	} `json:"data,omitempty"`
}

// Client is the WebSocket connection to the gateway. The gateway itself
// terminates the media session, so all inbound traffic is attributed to
// domain.GatewayPeerID. Implements domain.Gateway.
type Client struct {
	observer domain.GatewayObserver
	log      *logrus.Entry

	mu        sync.Mutex // guards conn writes and the fields below
	conn      *websocket.Conn
	sessionID int64
	createTxn string

	keepaliveEvery time.Duration
	closed         chan struct{}
}

// NewClient creates a gateway client. SetObserver must be called before
// Connect.
func NewClient() *Client {
	return &Client{
		log:            logrus.WithField("component", "gateway"),
		keepaliveEvery: keepaliveInterval,
		closed:         make(chan struct{}),
	}
}

// SetObserver injects the observer after construction to resolve the
// circular dependency (the conductor needs the gateway, the gateway
// needs the conductor).
func (c *Client) SetObserver(observer domain.GatewayObserver) {
	c.observer = observer
}

// Connect dials the gateway, requests a session, and starts the read
// and keepalive loops. The sign-in completes asynchronously through
// OnSignedIn once the gateway acknowledges the session.
func (c *Client) Connect(address, clientName string) error {
	dialer := websocket.Dialer{
		Subprotocols:     []string{subprotocol},
		HandshakeTimeout: 10 * time.Second,
	}
	conn, _, err := dialer.Dial(address, nil)
	if err != nil {
		err = fmt.Errorf("gateway dial %s: %w", address, err)
		c.observer.OnServerConnectionFailure(err)
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.createTxn = uuid.NewString()
	create := envelope{Janus: "create", Transaction: c.createTxn}
	c.mu.Unlock()

	c.log.WithFields(logrus.Fields{
		"address": address,
		"name":    clientName,
	}).Info("connected, requesting session")
	if err := c.writeJSON(create); err != nil {
		conn.Close()
		c.observer.OnServerConnectionFailure(err)
		return err
	}

	go c.readLoop()
	go c.keepaliveLoop()

	return nil
}

// SignOut shuts down the connection. The observer sees no
// OnDisconnected for a deliberate sign-out.
func (c *Client) SignOut() {
	select {
	case <-c.closed:
		return
	default:
		close(c.closed)
	}

	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.sessionID = 0
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
}

// IsConnected reports whether a live connection exists.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Peers lists the reachable remote parties. The gateway is the only
// one.
func (c *Client) Peers() []string {
	if !c.IsConnected() {
		return nil
	}
	return []string{"janus"}
}

// SendToPeer queues text for delivery. It reports acceptance only; the
// write itself runs on a separate goroutine and completes through the
// observer's OnSendComplete, keeping the caller non-blocking.
func (c *Client) SendToPeer(peerID int, text string) bool {
	if !c.IsConnected() {
		return false
	}
	go func() {
		err := c.write([]byte(text))
		c.observer.OnSendComplete(err)
	}()
	return true
}

// SendHangup notifies the gateway that we are hanging up, correlated by
// the caller's transaction identifier.
func (c *Client) SendHangup(peerID int, transaction string) bool {
	c.mu.Lock()
	sessionID := c.sessionID
	c.mu.Unlock()

	err := c.writeJSON(envelope{
		Janus:       "hangup",
		Transaction: transaction,
		SessionID:   sessionID,
	})
	if err != nil {
		c.log.WithError(err).Warn("hangup write failed")
		return false
	}
	return true
}

func (c *Client) write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("gateway: not connected")
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *Client) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("gateway marshal: %w", err)
	}
	return c.write(data)
}

func (c *Client) readLoop() {
	for {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			return
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-c.closed:
				return
			default:
			}
			c.log.WithError(err).Warn("read failed, connection lost")
			c.mu.Lock()
			c.conn = nil
			c.sessionID = 0
			c.mu.Unlock()
			c.observer.OnDisconnected()
			return
		}

		if c.intercept(data) {
			continue
		}
		c.observer.OnPeerMessage(domain.GatewayPeerID, data)
	}
}

// intercept consumes the session-create acknowledgment; everything else
// belongs to the conductor.
func (c *Client) intercept(data []byte) bool {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return false
	}

	c.mu.Lock()
	pending := c.createTxn
	c.mu.Unlock()

	if pending == "" || env.Janus != "success" || env.Transaction != pending {
		return false
	}
	if env.Data == nil {
		c.log.Warn("session create acknowledged without an id")
		return true
	}

	c.mu.Lock()
	c.sessionID = env.Data.ID
	c.createTxn = ""
	c.mu.Unlock()

	c.log.WithField("session", env.Data.ID).Info("gateway session established")
	c.observer.OnSignedIn(c.Peers())
	return true
}

func (c *Client) keepaliveLoop() {
	ticker := time.NewTicker(c.keepaliveEvery)
	defer ticker.Stop()

	for {
		select {
		case <-c.closed:
			return
		case <-ticker.C:
			c.mu.Lock()
			sessionID := c.sessionID
			c.mu.Unlock()
			if sessionID == 0 {
				continue
			}
			err := c.writeJSON(envelope{
				Janus:       "keepalive",
				Transaction: uuid.NewString(),
				SessionID:   sessionID,
			})
			if err != nil {
				select {
				case <-c.closed:
					return
				default:
				}
				// Drop the transport so the read loop observes the
				// failure and reports the disconnect.
				c.log.WithError(err).Warn("keepalive write failed, dropping connection")
				c.mu.Lock()
				conn := c.conn
				c.mu.Unlock()
				if conn != nil {
					conn.Close()
				}
				return
			}
		}
	}
}
