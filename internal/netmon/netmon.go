// Package netmon observes connectivity to the remote backend.
//
// The monitor probes backend reachability on an interval and keeps a single
// boolean: online or offline. Subscribers are notified exactly once per
// transition, which is what lets an offline-to-online flip trigger exactly
// one sync pass rather than one per queued item.
package netmon

import (
	"context"
	"log"
	"os"
	"sync"
	"time"
)

// ProbeFunc checks backend reachability. A nil error means online.
type ProbeFunc func(ctx context.Context) error

// Monitor tracks connectivity and publishes transitions.
type Monitor struct {
	probe    ProbeFunc
	interval time.Duration
	timeout  time.Duration
	logger   *log.Logger

	mu     sync.Mutex
	online bool
	subs   []func(online bool)

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Config configures the network monitor.
type Config struct {
	// Interval between reachability probes (default: 15s).
	Interval time.Duration

	// Timeout for a single probe (default: 5s).
	Timeout time.Duration

	// Logger for monitor activity (default: stderr logger).
	Logger *log.Logger
}

// New creates a Monitor that uses probe to check reachability. The monitor
// starts offline; the first successful probe flips it online.
func New(probe ProbeFunc, config Config) *Monitor {
	if config.Interval == 0 {
		config.Interval = 15 * time.Second
	}
	if config.Timeout == 0 {
		config.Timeout = 5 * time.Second
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[netmon] ", log.LstdFlags)
	}

	return &Monitor{
		probe:    probe,
		interval: config.Interval,
		timeout:  config.Timeout,
		logger:   config.Logger,
	}
}

// IsOnline returns the current connectivity state.
func (m *Monitor) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Subscribe registers a callback invoked on every transition with the new
// state. Callbacks run on the monitor's goroutine and should return quickly.
func (m *Monitor) Subscribe(fn func(online bool)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs = append(m.subs, fn)
}

// Start begins periodic probing. An immediate probe runs before the first
// tick so callers don't wait a full interval for the initial state.
func (m *Monitor) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		m.CheckNow(ctx)

		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.CheckNow(ctx)
			}
		}
	}()
}

// Stop halts probing and waits for the probe goroutine to exit.
func (m *Monitor) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}

// CheckNow runs one probe immediately and updates the state.
func (m *Monitor) CheckNow(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	err := m.probe(probeCtx)
	m.SetOnline(err == nil)
}

// SetOnline forces the connectivity state. Used by the probe loop and by
// tests; notifies subscribers only when the state actually changes.
func (m *Monitor) SetOnline(online bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	subs := make([]func(bool), len(m.subs))
	copy(subs, m.subs)
	m.mu.Unlock()

	if online {
		m.logger.Printf("Connectivity restored")
	} else {
		m.logger.Printf("Connectivity lost")
	}

	for _, fn := range subs {
		fn(online)
	}
}
