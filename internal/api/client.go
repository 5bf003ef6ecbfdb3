// Package api talks to the gateway's REST surface. Only the info
// endpoint is used, as a pre-connect sanity check.
package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ServerInfo describes the gateway, from GET /janus/info.
type ServerInfo struct {
	Janus         string `json:"janus"`
	Name          string `json:"name"`
	Version       int    `json:"version"`
	VersionString string `json:"version_string"`
}

// Client fetches gateway metadata over HTTP.
type Client struct {
	httpClient *http.Client
}

// NewClient creates an API client.
func NewClient() *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// FetchServerInfo queries the gateway's info endpoint.
func (c *Client) FetchServerInfo(baseURL string) (*ServerInfo, error) {
	url := strings.TrimRight(baseURL, "/") + "/janus/info"

	resp, err := c.httpClient.Get(url)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("http %d: %s", resp.StatusCode, string(body))
	}

	var info ServerInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	if info.Janus != "server_info" {
		return nil, fmt.Errorf("unexpected response tag %q", info.Janus)
	}
	return &info, nil
}
