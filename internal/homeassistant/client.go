// Package homeassistant implements the platform boundary against a Home
// Assistant host, using its REST API for states and service calls and its
// websocket API for the event stream.
package homeassistant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/halfdome/lightstated/internal/platform"
)

// Client talks to the Home Assistant REST API.
type Client struct {
	address    string
	token      string
	httpClient *http.Client
	limiter    *rate.Limiter
}

var _ platform.Platform = (*Client)(nil)

// NewClient creates a new Home Assistant client. rateLimitRPS caps outgoing
// service calls; zero or negative disables the limit.
func NewClient(address, token string, timeout time.Duration, rateLimitRPS float64) *Client {
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	limit := rate.Inf
	burst := 1
	if rateLimitRPS > 0 {
		limit = rate.Limit(rateLimitRPS)
		if rateLimitRPS > 1 {
			burst = int(rateLimitRPS)
		}
	}

	return &Client{
		address: address,
		token:   token,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		limiter: rate.NewLimiter(limit, burst),
	}
}

// Connect verifies the REST API is reachable and the token is accepted.
func (c *Client) Connect(ctx context.Context) error {
	resp, err := c.request(ctx, http.MethodGet, "", nil)
	if err != nil {
		return fmt.Errorf("failed to connect to Home Assistant API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code from Home Assistant API: %d", resp.StatusCode)
	}

	log.Info().Str("address", c.address).Msg("Connected to Home Assistant")
	return nil
}

// Close closes the client
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// Address returns the host address (used by the event stream).
func (c *Client) Address() string {
	return c.address
}

func (c *Client) apiURL(path string) string {
	return fmt.Sprintf("http://%s/api/%s", c.address, path)
}

func (c *Client) request(ctx context.Context, method, path string, payload any) (*http.Response, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request payload: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.apiURL(path), body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.httpClient.Do(req)
}

// GetState returns the current state of an entity, or (nil, nil) if the host
// does not know the entity.
func (c *Client) GetState(ctx context.Context, entityID string) (*platform.State, error) {
	resp, err := c.request(ctx, http.MethodGet, "states/"+entityID, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code fetching state of %s: %d", entityID, resp.StatusCode)
	}

	var state platform.State
	if err := json.NewDecoder(resp.Body).Decode(&state); err != nil {
		return nil, fmt.Errorf("failed to decode state of %s: %w", entityID, err)
	}

	return &state, nil
}

// CallService invokes a host service. The REST endpoint responds only after
// the service call has finished, which gives the per-command acknowledgment
// the restore path relies on.
func (c *Client) CallService(ctx context.Context, domain, service string, data map[string]any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	resp, err := c.request(ctx, http.MethodPost, fmt.Sprintf("services/%s/%s", domain, service), data)
	if err != nil {
		return fmt.Errorf("service call %s.%s failed: %w", domain, service, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("service call %s.%s: unexpected status code %d", domain, service, resp.StatusCode)
	}

	return nil
}

// FireEvent publishes an event on the host's event bus.
func (c *Client) FireEvent(ctx context.Context, eventType string, data map[string]any) error {
	resp, err := c.request(ctx, http.MethodPost, "events/"+eventType, data)
	if err != nil {
		return fmt.Errorf("failed to fire event %s: %w", eventType, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fire event %s: unexpected status code %d", eventType, resp.StatusCode)
	}

	return nil
}
