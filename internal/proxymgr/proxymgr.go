// Package proxymgr rotates the outbound proxies handed to the download tools.
// A proxy that keeps failing cools down with an exponential backoff and is
// picked again once the backoff expired or a health check reached it.
package proxymgr

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net"
	"net/url"
	"sync"
	"time"

	"dvzoll/internal/config"
	"dvzoll/internal/errs"
	"dvzoll/internal/observability"
)

// State is the current state of a proxy.
type State int

const (
	// StateAvailable marks a proxy that can be picked.
	StateAvailable State = iota
	// StateCooling marks a proxy in backoff after repeated failures.
	StateCooling
)

func (s State) String() string {
	if s == StateCooling {
		return "cooling"
	}

	return "available"
}

const (
	healthCheckTimeout = 10 * time.Second
	maxBackoffShift    = 16
)

// default ports of the supported schemes
var defaultPorts = map[string]string{
	"http":    "8080",
	"https":   "8080",
	"socks5":  "1080",
	"socks5h": "1080",
}

type proxyInfo struct {
	url         string
	addr        string // host:port, also the metric label so credentials never leave
	state       State
	failures    int
	lastFailure time.Time
	coolUntil   time.Time
	lastCheck   time.Time
}

// Manager hands out proxies and tracks their failures. A nil Manager has no
// proxies.
type Manager struct {
	log     *slog.Logger
	cfg     config.Proxy
	metrics *observability.Metrics
	now     func() time.Time
	dial    func(ctx context.Context, network, addr string) (net.Conn, error)

	mu      sync.Mutex
	proxies map[string]*proxyInfo
	order   []string // keeps the configured order for stats and checks
}

// New validates the configured proxies. Duplicates are dropped.
func New(log *slog.Logger, cfg config.Proxy, metrics *observability.Metrics) (*Manager, error) {
	dialer := &net.Dialer{Timeout: healthCheckTimeout}

	mgr := &Manager{
		log:     log.With(slog.String("package", "proxymgr")),
		cfg:     cfg,
		metrics: metrics,
		now:     time.Now,
		dial:    dialer.DialContext,
		proxies: make(map[string]*proxyInfo, len(cfg.Proxies)),
		order:   make([]string, 0, len(cfg.Proxies)),
	}

	for _, raw := range cfg.Proxies {
		if _, ok := mgr.proxies[raw]; ok {
			continue
		}

		addr, err := dialAddress(raw)
		if err != nil {
			return nil, err
		}

		mgr.proxies[raw] = &proxyInfo{url: raw, addr: addr}
		mgr.order = append(mgr.order, raw)
	}

	metrics.SetProxiesAvailable(len(mgr.order))

	return mgr, nil
}

// dialAddress returns the host:port a proxy URL listens on.
func dialAddress(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w %q: %w", errs.ErrInvalidProxy, raw, err)
	}

	port, ok := defaultPorts[u.Scheme]
	if !ok {
		return "", fmt.Errorf("%w %q: scheme must be http, https, socks5 or socks5h", errs.ErrInvalidProxy, raw)
	}

	if u.Hostname() == "" {
		return "", fmt.Errorf("%w %q: missing host", errs.ErrInvalidProxy, raw)
	}

	if p := u.Port(); p != "" {
		port = p
	}

	return net.JoinHostPort(u.Hostname(), port), nil
}

// Len returns the number of configured proxies.
func (m *Manager) Len() int {
	if m == nil {
		return 0
	}

	return len(m.order)
}

// Pick returns a random usable proxy, or "" when none is configured or all
// of them cool down.
func (m *Manager) Pick() string {
	if m == nil {
		return ""
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	available := m.availableLocked()
	if len(available) == 0 {
		return ""
	}

	info := m.proxies[available[rand.IntN(len(available))]]
	m.metrics.RecordProxyRequest(info.addr)

	return info.url
}

// MarkFailed counts a failure. After MaxFailures in a row the proxy cools down
// for FailureBackoff, doubled with every further failure up to MaxBackoff.
func (m *Manager) MarkFailed(proxyURL string) {
	if m == nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	info, ok := m.proxies[proxyURL]
	if !ok {
		return
	}

	now := m.now()
	info.failures++
	info.lastFailure = now
	m.metrics.RecordProxyFailure(info.addr)

	threshold := max(m.cfg.MaxFailures, 1)
	if info.failures < threshold {
		return
	}

	backoff := m.cfg.FailureBackoff << min(info.failures-threshold, maxBackoffShift)
	if m.cfg.MaxBackoff > 0 && (backoff > m.cfg.MaxBackoff || backoff <= 0) {
		backoff = m.cfg.MaxBackoff
	}

	info.state = StateCooling
	info.coolUntil = now.Add(backoff)

	m.metrics.SetProxiesAvailable(len(m.availableLocked()))
	m.log.Warn("proxy cooling down",
		slog.String("proxy", info.addr),
		slog.Int("failures", info.failures),
		slog.Duration("backoff", backoff))
}

// MarkSuccess makes the proxy available and resets its failure count.
func (m *Manager) MarkSuccess(proxyURL string) {
	if m == nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	info, ok := m.proxies[proxyURL]
	if !ok {
		return
	}

	info.state = StateAvailable
	info.failures = 0
	info.coolUntil = time.Time{}

	m.metrics.SetProxiesAvailable(len(m.availableLocked()))
}

// HealthCheck dials the proxy and records the outcome.
func (m *Manager) HealthCheck(ctx context.Context, proxyURL string) error {
	m.mu.Lock()
	info, ok := m.proxies[proxyURL]
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w %q: not configured", errs.ErrInvalidProxy, proxyURL)
	}

	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	conn, err := m.dial(ctx, "tcp", info.addr)

	m.mu.Lock()
	info.lastCheck = m.now()
	m.mu.Unlock()

	if err != nil {
		m.MarkFailed(proxyURL)

		return fmt.Errorf("dial proxy %s: %w", info.addr, err)
	}

	_ = conn.Close()

	m.MarkSuccess(proxyURL)

	return nil
}

// StartHealthChecker dials every proxy each HealthCheckInterval until ctx is done.
func (m *Manager) StartHealthChecker(ctx context.Context) {
	if m.Len() == 0 || m.cfg.HealthCheckInterval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(m.cfg.HealthCheckInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.checkAll(ctx)
			}
		}
	}()

	m.log.InfoContext(ctx, "proxy health checker started",
		slog.Duration("interval", m.cfg.HealthCheckInterval),
		slog.Int("proxy_count", m.Len()))
}

func (m *Manager) checkAll(ctx context.Context) {
	m.mu.Lock()
	order := append([]string(nil), m.order...)
	m.mu.Unlock()

	for _, proxyURL := range order {
		if ctx.Err() != nil {
			return
		}

		if err := m.HealthCheck(ctx, proxyURL); err != nil {
			m.log.DebugContext(ctx, "proxy health check failed", slog.Any("error", err))
		}
	}
}

// Stats describes one proxy. Proxy is host:port without credentials.
type Stats struct {
	Proxy       string    `json:"proxy"`
	State       string    `json:"state"`
	Failures    int       `json:"failures"`
	LastFailure time.Time `json:"last_failure"`
	CoolUntil   time.Time `json:"cool_until"`
	LastCheck   time.Time `json:"last_check"`
}

// Stats returns the proxies in configured order.
func (m *Manager) Stats() []Stats {
	if m == nil {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	stats := make([]Stats, 0, len(m.order))

	for _, proxyURL := range m.order {
		info := m.proxies[proxyURL]

		state := info.state
		if state == StateCooling && !now.Before(info.coolUntil) {
			state = StateAvailable
		}

		stats = append(stats, Stats{
			Proxy:       info.addr,
			State:       state.String(),
			Failures:    info.failures,
			LastFailure: info.lastFailure,
			CoolUntil:   info.coolUntil,
			LastCheck:   info.lastCheck,
		})
	}

	return stats
}

// availableLocked lists proxies not cooling down; an expired backoff counts as available.
func (m *Manager) availableLocked() []string {
	now := m.now()
	available := make([]string, 0, len(m.order))

	for _, proxyURL := range m.order {
		info := m.proxies[proxyURL]
		if info.state == StateAvailable || !now.Before(info.coolUntil) {
			available = append(available, proxyURL)
		}
	}

	return available
}
