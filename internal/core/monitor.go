package core

// monitor.go polls the validation service's liveness endpoint.
//
// The monitor probes once on start and then on a fixed interval for as long as
// its context lives. There is no backoff: operators watch the status badge and
// expect it to follow the service within one interval. A ready service that
// stops answering flips to unreachable and back again on recovery.

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Availability is the tri-state liveness signal of the validation service.
type Availability string

const (
	AvailabilityChecking    Availability = "checking"
	AvailabilityReady       Availability = "ready"
	AvailabilityUnreachable Availability = "unreachable"
)

// DefaultPollInterval is the liveness probe cadence.
const DefaultPollInterval = 2 * time.Second

// Prober performs a single liveness probe. A nil error means ready.
type Prober interface {
	Probe(ctx context.Context) error
}

// ProberFunc adapts a plain function to Prober.
type ProberFunc func(ctx context.Context) error

func (f ProberFunc) Probe(ctx context.Context) error { return f(ctx) }

// AvailabilitySource is the read-only view of the monitor used to gate
// validation.
type AvailabilitySource interface {
	Availability() Availability
}

// Monitor owns the availability signal. Run is the only writer.
type Monitor struct {
	prober   Prober
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger

	state atomic.Value // Availability

	mu          sync.Mutex
	subscribers map[chan Availability]struct{}
	stopped     bool
}

// NewMonitor creates a monitor in the checking state. Non-positive interval or
// timeout select DefaultPollInterval.
func NewMonitor(prober Prober, interval, timeout time.Duration, logger *slog.Logger) *Monitor {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if timeout <= 0 {
		timeout = interval
	}
	if logger == nil {
		logger = slog.Default()
	}
	m := &Monitor{
		prober:      prober,
		interval:    interval,
		timeout:     timeout,
		logger:      logger,
		subscribers: make(map[chan Availability]struct{}),
	}
	m.state.Store(AvailabilityChecking)
	return m
}

// Availability returns the current signal.
func (m *Monitor) Availability() Availability {
	return m.state.Load().(Availability)
}

// Run probes immediately, then every interval, until ctx is cancelled.
// Subscribers are closed when Run returns.
func (m *Monitor) Run(ctx context.Context) {
	m.logger.Info("availability monitor started", "interval", m.interval)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	defer m.closeSubscribers()

	m.probe(ctx)
	for {
		select {
		case <-ctx.Done():
			m.logger.Info("availability monitor stopped")
			return
		case <-ticker.C:
			m.probe(ctx)
		}
	}
}

func (m *Monitor) probe(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	next := AvailabilityReady
	err := m.prober.Probe(probeCtx)
	if err != nil {
		// Shutting down is not an outage.
		if ctx.Err() != nil {
			return
		}
		next = AvailabilityUnreachable
	}

	prev := m.Availability()
	if prev == next {
		return
	}
	m.state.Store(next)

	if err != nil {
		m.logger.Warn("validation service unreachable", "previous", prev, "error", err)
	} else {
		m.logger.Info("validation service ready", "previous", prev)
	}
	m.publish(next)
}

// Subscribe returns a channel receiving every availability transition and a
// function that unsubscribes. Slow subscribers miss intermediate values but
// never block the monitor.
func (m *Monitor) Subscribe() (<-chan Availability, func()) {
	ch := make(chan Availability, 1)

	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	m.subscribers[ch] = struct{}{}
	m.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			if _, ok := m.subscribers[ch]; ok {
				delete(m.subscribers, ch)
				close(ch)
			}
		})
	}
}

func (m *Monitor) publish(a Availability) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for ch := range m.subscribers {
		// Drop the stale value so the latest one always fits.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- a:
		default:
		}
	}
}

func (m *Monitor) closeSubscribers() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = true
	for ch := range m.subscribers {
		close(ch)
		delete(m.subscribers, ch)
	}
}
