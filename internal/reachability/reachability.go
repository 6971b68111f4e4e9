// Package reachability reports current network availability so the sync
// engine can skip doomed attempts and run opportunistically when
// connectivity returns.
package reachability

import (
	"context"
	"log"
	"net"
	"os"
	"sync"
	"time"
)

// Reachability is the surface the sync core consumes.
type Reachability interface {
	// IsReachable reports the last observed connectivity state.
	IsReachable() bool

	// OnChange registers a callback invoked whenever connectivity flips.
	// Callbacks run on the monitor's goroutine and must not block.
	OnChange(fn func(reachable bool))
}

// Config holds monitor settings.
type Config struct {
	// Address is the host:port probed to decide reachability.
	Address string

	// Interval is how often to probe. Zero means 30 seconds.
	Interval time.Duration

	// Timeout bounds each probe. Zero means 5 seconds.
	Timeout time.Duration

	// Logger for monitor activity. Nil means a default stderr logger.
	Logger *log.Logger
}

// Monitor probes a TCP endpoint on a timer and notifies registered
// callbacks on transitions.
type Monitor struct {
	addr     string
	interval time.Duration
	timeout  time.Duration
	logger   *log.Logger

	mu        sync.Mutex
	reachable bool
	callbacks []func(bool)

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewMonitor creates a Monitor. Use Start to begin probing; until the
// first probe completes the monitor optimistically reports reachable.
func NewMonitor(cfg Config) *Monitor {
	interval := cfg.Interval
	if interval == 0 {
		interval = 30 * time.Second
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[reachability] ", log.LstdFlags)
	}
	return &Monitor{
		addr:      cfg.Address,
		interval:  interval,
		timeout:   timeout,
		logger:    logger,
		reachable: true,
	}
}

// IsReachable implements Reachability.
func (m *Monitor) IsReachable() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reachable
}

// OnChange implements Reachability.
func (m *Monitor) OnChange(fn func(bool)) {
	m.mu.Lock()
	m.callbacks = append(m.callbacks, fn)
	m.mu.Unlock()
}

// Start begins probing in the background until Stop is called or ctx is
// cancelled.
func (m *Monitor) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	m.wg.Add(1)
	go m.loop(ctx)
}

// Stop halts probing and waits for the probe goroutine to finish.
func (m *Monitor) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}

func (m *Monitor) loop(ctx context.Context) {
	defer m.wg.Done()

	m.probe()
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.probe()
		}
	}
}

func (m *Monitor) probe() {
	conn, err := net.DialTimeout("tcp", m.addr, m.timeout)
	reachable := err == nil
	if conn != nil {
		conn.Close()
	}
	m.setReachable(reachable)
}

func (m *Monitor) setReachable(reachable bool) {
	m.mu.Lock()
	changed := m.reachable != reachable
	m.reachable = reachable
	callbacks := make([]func(bool), len(m.callbacks))
	copy(callbacks, m.callbacks)
	m.mu.Unlock()

	if !changed {
		return
	}
	m.logger.Printf("Reachability changed: %v", reachable)
	for _, fn := range callbacks {
		fn(reachable)
	}
}
