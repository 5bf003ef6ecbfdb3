package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"

	"github.com/MrsZ/janus-gateway-win/internal/domain"
)

// Config holds the application configuration.
type Config struct {
	GatewayURL  string
	RestURL     string
	ClientName  string
	ICEServers  []domain.ICEServer
	AutoCall    bool
	Loopback    bool
	LogLevel    string
}

// Load reads configuration from a .env file (if present) and environment
// variables. Environment variables take precedence over .env values.
func Load() (*Config, error) {
	// godotenv.Load does not overwrite existing env vars
	_ = godotenv.Load()

	gatewayURL := os.Getenv("JANUS_WS_URL")
	if gatewayURL == "" {
		return nil, fmt.Errorf("JANUS_WS_URL environment variable is required")
	}

	cfg := &Config{
		GatewayURL: gatewayURL,
		RestURL:    os.Getenv("JANUS_HTTP_URL"),
		ClientName: envOr("JANUS_CLIENT_NAME", "januswin"),
		AutoCall:   envBool("JANUS_AUTOCALL", true),
		Loopback:   envBool("JANUS_LOOPBACK", false),
		LogLevel:   envOr("LOG_LEVEL", "info"),
	}

	stun := envOr("JANUS_STUN_URL", "stun:stun.l.google.com:19302")
	cfg.ICEServers = append(cfg.ICEServers, domain.ICEServer{URL: stun})

	if turn := os.Getenv("JANUS_TURN_URL"); turn != "" {
		cfg.ICEServers = append(cfg.ICEServers, domain.ICEServer{
			URL:        turn,
			Username:   os.Getenv("JANUS_TURN_USER"),
			Credential: os.Getenv("JANUS_TURN_PASS"),
		})
	}

	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
