// Package videoinfo calls the upstream video-info provider that
// resolves a URI into playable metadata. The provider is flaky and
// rate-limited; callers wrap Lookup in a circuit breaker and classify
// failures under the external-api domain.
package videoinfo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/vietddude/downlink/internal/core/domain"
	"github.com/vietddude/downlink/internal/observe/metrics"
	"github.com/vietddude/downlink/internal/resilience/classify"
)

// ServiceName tags this dependency in classifications and breaker
// config.
const ServiceName = "video-info"

// Config holds provider settings.
type Config struct {
	Endpoint string
	Timeout  time.Duration
	Proxy    ProxyConfig
}

// Client is the HTTP client for the provider.
type Client struct {
	endpoint   string
	httpClient *http.Client
	proxies    *ProxyPool
}

// NewClient creates a provider client. proxies may be nil when the
// deployment reaches the provider directly.
func NewClient(cfg Config, proxies *ProxyPool) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		endpoint: cfg.Endpoint,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		proxies: proxies,
	}
}

type lookupRequest struct {
	URI   string `json:"uri"`
	Proxy string `json:"proxy,omitempty"`
}

type lookupResponse struct {
	ID           string   `json:"id"`
	Title        string   `json:"title"`
	Description  string   `json:"description"`
	Thumbnail    string   `json:"thumbnail"`
	Timestamp    int64    `json:"timestamp"`
	UploaderID   string   `json:"uploader_id"`
	UploaderName string   `json:"uploader"`
	Formats      []format `json:"formats"`
}

type format struct {
	Ext      string `json:"ext"`
	Protocol string `json:"protocol"`
	URL      string `json:"url"`
}

// Lookup resolves uri into VideoInfo, reduced to the best playable
// format.
func (c *Client) Lookup(ctx context.Context, uri string) (domain.VideoInfo, error) {
	if c.endpoint == "" {
		return domain.VideoInfo{}, fmt.Errorf("%s endpoint not configured", ServiceName)
	}

	reqBody := lookupRequest{URI: uri}
	if c.proxies != nil {
		proxy, err := c.proxies.Get(ctx)
		if err != nil {
			metrics.InfoLookups.WithLabelValues("error").Inc()
			return domain.VideoInfo{}, fmt.Errorf("proxy selection: %w", err)
		}
		reqBody.Proxy = proxy
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return domain.VideoInfo{}, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return domain.VideoInfo{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.InfoLookups.WithLabelValues("error").Inc()
		return domain.VideoInfo{}, fmt.Errorf("info lookup: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		metrics.InfoLookups.WithLabelValues("error").Inc()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return domain.VideoInfo{}, &classify.HTTPError{
			Status:  resp.StatusCode,
			Message: string(body),
		}
	}

	var out lookupResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		metrics.InfoLookups.WithLabelValues("error").Inc()
		return domain.VideoInfo{}, fmt.Errorf("decode response: %w", err)
	}

	best, ok := bestFormat(out.Formats)
	if !ok {
		metrics.InfoLookups.WithLabelValues("no_format").Inc()
		return domain.VideoInfo{}, fmt.Errorf("video unavailable: no https mp4 format for %s", uri)
	}

	metrics.InfoLookups.WithLabelValues("ok").Inc()
	return domain.VideoInfo{
		VideoID:      out.ID,
		VideoURL:     best.URL,
		Title:        out.Title,
		Description:  out.Description,
		ImageURI:     out.Thumbnail,
		Published:    out.Timestamp,
		UploaderID:   out.UploaderID,
		UploaderName: out.UploaderName,
		Ext:          best.Ext,
		MimeType:     "video/mp4",
	}, nil
}

// bestFormat picks the highest-quality https mp4. The provider lists
// formats in ascending quality, so the scan runs back to front.
func bestFormat(formats []format) (format, bool) {
	for i := len(formats) - 1; i >= 0; i-- {
		f := formats[i]
		if f.Ext == "mp4" && f.Protocol == "https" {
			return f, true
		}
	}
	return format{}, false
}
