// Package push is the narrow client for the push-notification gateway.
// Payload formatting beyond this minimal body is owned by the gateway.
package push

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/vietddude/downlink/internal/observe/metrics"
	"github.com/vietddude/downlink/internal/resilience/classify"
)

// ServiceName tags this dependency in classifications.
const ServiceName = "push-gateway"

// Config holds gateway settings.
type Config struct {
	Endpoint string
	APIKey   string
	Timeout  time.Duration
}

// Client sends messages to the gateway.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// Message is one push delivery to a single device token.
type Message struct {
	Token string            `json:"token"`
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
}

// NewClient creates a gateway client.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// ErrTokenGone reports a device token the gateway says no longer
// exists; the caller should drop the device.
var ErrTokenGone = errors.New("push token no longer registered")

// Send delivers one message.
func (c *Client) Send(ctx context.Context, msg Message) error {
	if c.cfg.Endpoint == "" {
		return fmt.Errorf("%s endpoint not configured", ServiceName)
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.PushSends.WithLabelValues("error").Inc()
		return fmt.Errorf("push send: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusAccepted:
		metrics.PushSends.WithLabelValues("ok").Inc()
		return nil
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		metrics.PushSends.WithLabelValues("token_gone").Inc()
		return fmt.Errorf("token %s: %w", msg.Token, ErrTokenGone)
	default:
		metrics.PushSends.WithLabelValues("error").Inc()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &classify.HTTPError{Status: resp.StatusCode, Message: string(body)}
	}
}
