// package network tracks connectivity for the sync core
package network

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"sync"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/tsundoku/internal/shared"
)

const defaultProbeInterval = 30 * time.Second

// Monitor holds the binary online/offline signal and fans out transitions to subscribers.
//
// The signal can be driven by [Monitor.Set] (tests, manual toggles) or by [Monitor.Run], which probes a URL.
type Monitor struct {
	mu     sync.RWMutex
	online bool
	subs   map[int]chan bool
	nextID int

	probeURL string
	interval time.Duration
	client   *http.Client
	logger   *log.Logger
}

// Option configures a [Monitor].
type Option func(*Monitor)

// WithProbe sets the URL and interval used by [Monitor.Run].
func WithProbe(probeURL string, interval time.Duration) Option {
	return func(m *Monitor) {
		m.probeURL = probeURL
		if interval > 0 {
			m.interval = interval
		}
	}
}

// WithHTTPClient sets the client used for probes.
func WithHTTPClient(c *http.Client) Option {
	return func(m *Monitor) { m.client = c }
}

// WithLogger sets the parent logger.
func WithLogger(l *log.Logger) Option {
	return func(m *Monitor) { m.logger = shared.WithLogger(l, "component", "network") }
}

// NewMonitor creates a monitor with the given initial state.
func NewMonitor(online bool, opts ...Option) *Monitor {
	m := &Monitor{
		online:   online,
		subs:     make(map[int]chan bool),
		interval: defaultProbeInterval,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = shared.WithLogger(nil, "component", "network")
	}
	return m
}

// Online reports the current state.
func (m *Monitor) Online() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.online
}

// Set updates the state. Subscribers are notified only when the state changes.
func (m *Monitor) Set(online bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	subs := make([]chan bool, 0, len(m.subs))
	for _, ch := range m.subs {
		subs = append(subs, ch)
	}
	m.mu.Unlock()

	if online {
		m.logger.Info("connectivity restored")
	} else {
		m.logger.Warn("connectivity lost")
	}

	for _, ch := range subs {
		// keep only the latest state for slow subscribers
		select {
		case ch <- online:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- online:
			default:
			}
		}
	}
}

// Subscribe returns a channel receiving every state transition and a function that cancels the subscription.
func (m *Monitor) Subscribe() (<-chan bool, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID
	m.nextID++
	ch := make(chan bool, 1)
	m.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			delete(m.subs, id)
		})
	}
}

// Probe performs one connectivity check and updates the state.
func (m *Monitor) Probe(ctx context.Context) bool {
	if m.probeURL == "" {
		return m.Online()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, m.probeURL, nil)
	if err != nil {
		m.logger.Error("invalid probe url", "url", m.probeURL, "error", err)
		return m.Online()
	}

	resp, err := m.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return m.Online()
		}
		m.logger.Debug("probe failed", "error", err)
		m.Set(false)
		return false
	}
	resp.Body.Close()

	// any HTTP answer proves the network path works
	m.Set(true)
	return true
}

// Run probes on the configured interval until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	m.Probe(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Probe(ctx)
		}
	}
}

// IsConnectivityError reports whether err means the remote side could not be reached at all,
// as opposed to the remote side answering with an error.
func IsConnectivityError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, shared.ErrOffline) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	// the HTTP client wraps every transport failure, including token refresh errors, in *url.Error
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return urlErr.Timeout() || IsConnectivityError(urlErr.Err)
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	return errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ENETUNREACH) ||
		errors.Is(err, syscall.EHOSTUNREACH)
}
