package videoinfo

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// ProxyConfig holds proxy pool settings. The pool is optional; leave
// ListURL empty to reach the provider directly.
type ProxyConfig struct {
	ListURL      string
	CheckURL     string
	CheckTimeout time.Duration
	CacheFor     time.Duration
}

// ProxyPool fetches a free-proxy list and probes entries until one
// answers, caching the winner for a while.
type ProxyPool struct {
	cfg        ProxyConfig
	httpClient *http.Client

	mu        sync.Mutex
	cached    string
	cachedAt  time.Time
	now       func() time.Time
	checkFunc func(ctx context.Context, proxy string) bool
}

// NewProxyPool creates a pool, or nil when no list URL is configured.
func NewProxyPool(cfg ProxyConfig) *ProxyPool {
	if cfg.ListURL == "" {
		return nil
	}
	if cfg.CheckURL == "" {
		cfg.CheckURL = "https://httpbun.com/get"
	}
	if cfg.CheckTimeout <= 0 {
		cfg.CheckTimeout = 5 * time.Second
	}
	if cfg.CacheFor <= 0 {
		cfg.CacheFor = 10 * time.Minute
	}
	p := &ProxyPool{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		now:        time.Now,
	}
	p.checkFunc = p.check
	return p
}

// Get returns a healthy proxy URL.
func (p *ProxyPool) Get(ctx context.Context) (string, error) {
	p.mu.Lock()
	if p.cached != "" && p.now().Sub(p.cachedAt) < p.cfg.CacheFor {
		proxy := p.cached
		p.mu.Unlock()
		return proxy, nil
	}
	p.mu.Unlock()

	proxies, err := p.fetchList(ctx)
	if err != nil {
		return "", err
	}

	for _, proxy := range proxies {
		if !strings.HasPrefix(proxy, "http") {
			continue
		}
		if p.checkFunc(ctx, proxy) {
			p.mu.Lock()
			p.cached = proxy
			p.cachedAt = p.now()
			p.mu.Unlock()
			return proxy, nil
		}
	}

	return "", fmt.Errorf("no proxies available")
}

// Invalidate drops the cached proxy so the next Get probes again.
func (p *ProxyPool) Invalidate() {
	p.mu.Lock()
	p.cached = ""
	p.mu.Unlock()
}

func (p *ProxyPool) fetchList(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.ListURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch proxy list: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("proxy list returned status %d", resp.StatusCode)
	}

	var proxies []string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			proxies = append(proxies, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read proxy list: %w", err)
	}
	if len(proxies) == 0 {
		return nil, fmt.Errorf("no proxies available: empty list")
	}
	return proxies, nil
}

// check probes a proxy with a short GET through it.
func (p *ProxyPool) check(ctx context.Context, proxy string) bool {
	proxyURL, err := url.Parse(proxy)
	if err != nil {
		return false
	}

	client := &http.Client{
		Timeout:   p.cfg.CheckTimeout,
		Transport: &http.Transport{Proxy: http.ProxyURL(proxyURL)},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.CheckURL, nil)
	if err != nil {
		return false
	}

	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode == http.StatusOK
}
