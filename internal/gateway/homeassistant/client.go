// Package homeassistant calls Home Assistant services over its REST API.
package homeassistant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/oshokin/alarm-panel/internal/metrics"
	"github.com/oshokin/alarm-panel/internal/version"
)

const (
	gatewayName = "homeassistant"

	defaultTimeout = 10 * time.Second
	maxErrorBody   = 512
)

var errEmptyBaseURL = errors.New("homeassistant: empty base url")

// Client is a minimal Home Assistant REST client.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewClient creates a client authenticating with a long-lived access token.
func NewClient(baseURL, token string) (*Client, error) {
	if baseURL == "" {
		return nil, errEmptyBaseURL
	}

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: defaultTimeout},
	}, nil
}

// CallService calls domain.service. Target keys (entity_id, area_id, device_id)
// are merged into the service data as the REST API expects.
func (c *Client) CallService(ctx context.Context, domain, service string, target, data map[string]any) error {
	started := time.Now()

	err := c.callService(ctx, domain, service, target, data)
	metrics.ObserveGatewayCall(gatewayName, err, time.Since(started))

	return err
}

func (c *Client) callService(ctx context.Context, domain, service string, target, data map[string]any) error {
	if domain == "" || service == "" {
		return fmt.Errorf("homeassistant: domain and service are required, got %q.%q", domain, service)
	}

	body := make(map[string]any, len(target)+len(data))
	maps.Copy(body, data)
	maps.Copy(body, target)

	path := "/api/services/" + url.PathEscape(domain) + "/" + url.PathEscape(service)

	return c.doJSON(ctx, http.MethodPost, path, body)
}

func (c *Client) doJSON(ctx context.Context, method, path string, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("homeassistant: encode body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("homeassistant: build request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())

	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("homeassistant: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

		return fmt.Errorf("homeassistant: %s %s: http %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	_, _ = io.Copy(io.Discard, resp.Body)

	return nil
}
