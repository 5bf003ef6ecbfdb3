// Package ui provides a console implementation of the UI port. The
// original client drove a native window; this client runs headless and
// reports the same lifecycle transitions as log output.
package ui

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/MrsZ/janus-gateway-win/internal/domain"
)

// View names, mirroring the window states of the original client.
const (
	ViewConnect   = "connect"
	ViewPeerList  = "peers"
	ViewStreaming = "streaming"
)

// Console implements domain.UI.
type Console struct {
	log *logrus.Entry

	mu   sync.Mutex
	view string
}

// NewConsole creates the console surface, starting on the connect view.
func NewConsole() *Console {
	return &Console{
		log:  logrus.WithField("component", "ui"),
		view: ViewConnect,
	}
}

// CurrentView reports the active view name.
func (c *Console) CurrentView() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.view
}

func (c *Console) switchTo(view string) {
	c.mu.Lock()
	changed := c.view != view
	c.view = view
	c.mu.Unlock()
	if changed {
		c.log.WithField("view", view).Info("view changed")
	}
}

func (c *Console) SwitchToPeerList(peers []string) {
	c.switchTo(ViewPeerList)
	for _, p := range peers {
		c.log.WithField("peer", p).Info("available peer")
	}
}

func (c *Console) SwitchToConnectUI() {
	c.switchTo(ViewConnect)
}

func (c *Console) SwitchToStreamingUI() {
	c.switchTo(ViewStreaming)
}

func (c *Console) StartLocalRenderer(track domain.Track) {
	c.log.WithField("track", track.ID()).Info("local renderer started")
}

func (c *Console) StartRemoteRenderer(track domain.Track) {
	c.log.WithField("track", track.ID()).Info("remote renderer started")
}

func (c *Console) StopLocalRenderer() {
	c.log.Debug("local renderer stopped")
}

func (c *Console) StopRemoteRenderer() {
	c.log.Debug("remote renderer stopped")
}

func (c *Console) ShowError(title, message string) {
	c.log.WithField("title", title).Error(message)
}
