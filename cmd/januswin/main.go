package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/MrsZ/janus-gateway-win/internal/api"
	"github.com/MrsZ/janus-gateway-win/internal/conductor"
	"github.com/MrsZ/janus-gateway-win/internal/config"
	"github.com/MrsZ/janus-gateway-win/internal/gateway"
	"github.com/MrsZ/janus-gateway-win/internal/ui"
	"github.com/MrsZ/janus-gateway-win/internal/webrtc"
)

const helpText = `januswin - WebRTC signaling client for a Janus-style gateway

Connects to the gateway over WebSocket, negotiates a peer session
(offer/answer and trickle ICE), and logs session lifecycle and media
throughput. Set JANUS_LOOPBACK=1 to run the self-test negotiation
against the local engine instead of a real call.

Environment Variables:
  JANUS_WS_URL       Gateway WebSocket URL, e.g. ws://host:8188/janus (required)
  JANUS_HTTP_URL     Gateway REST URL for the pre-connect info probe (optional)
  JANUS_CLIENT_NAME  Name presented to the gateway (default: januswin)
  JANUS_STUN_URL     STUN server (default: stun:stun.l.google.com:19302)
  JANUS_TURN_URL     TURN server with JANUS_TURN_USER / JANUS_TURN_PASS (optional)
  JANUS_AUTOCALL     Call the gateway peer on sign-in (default: true)
  JANUS_LOOPBACK     Run the loopback self-test instead of a call (default: false)
  LOG_LEVEL          trace|debug|info|warn|error (default: info)

Options:
  -h, --help  Show this help message
`

func main() {
	if len(os.Args) > 1 && (os.Args[1] == "-h" || os.Args[1] == "--help") {
		fmt.Print(helpText)
		os.Exit(0)
	}

	log := logrus.WithField("component", "main")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logrus.SetLevel(level)
	}

	// Step 1: Probe the gateway's REST surface, when configured.
	if cfg.RestURL != "" {
		info, err := api.NewClient().FetchServerInfo(cfg.RestURL)
		if err != nil {
			log.WithError(err).Fatal("gateway info probe failed")
		}
		log.WithFields(logrus.Fields{
			"name":    info.Name,
			"version": info.VersionString,
		}).Info("gateway reachable")
	}

	// Step 2: Create the engine and transport adapters.
	engine := webrtc.NewEngine(cfg.ICEServers)
	gw := gateway.NewClient()

	// Step 3: Create the conductor wired to the console surface.
	cond := conductor.New(engine, gw, ui.NewConsole(), conductor.Options{
		ClientName:       cfg.ClientName,
		AutoCall:         cfg.AutoCall,
		LoopbackSelfTest: cfg.Loopback,
	})

	// Step 4: Complete the circular dependencies.
	engine.SetObserver(cond)
	gw.SetObserver(cond)

	// Step 5: Run the conductor's mailbox and connect.
	go cond.Run()
	cond.Start(cfg.GatewayURL)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.WithField("signal", sig.String()).Info("shutting down")

	cond.Close()
	log.Info("done")
}
