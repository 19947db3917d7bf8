// Package health tracks reachability of the agent's external
// dependencies: the transcript recorder, the Ollama backend, the SMS
// gateway. Each dependency is probed on its own schedule and the
// aggregate is reported by the admin API's health endpoint.
//
// This sits above httpkit's transport-level retry, which covers
// sub-second transient dial errors. health covers real outages:
// service restarts and network partitions that last seconds to
// minutes. A down dependency never stops the scan loop; it only
// surfaces in /health and the log.
package health

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// ProbeFunc checks whether a dependency is reachable. Return nil if
// healthy. Must be safe for concurrent use.
type ProbeFunc func(ctx context.Context) error

// Schedule controls probe timing. The zero value is usable: missing
// fields fall back to the defaults below.
type Schedule struct {
	// InitialDelay is the wait before the first startup retry.
	InitialDelay time.Duration
	// MaxDelay caps the exponential backoff growth.
	MaxDelay time.Duration
	// StartupRetries bounds the backoff phase before the monitor
	// settles into steady polling.
	StartupRetries int
	// PollInterval is the steady-state check interval.
	PollInterval time.Duration
	// ProbeTimeout limits each individual probe call.
	ProbeTimeout time.Duration
}

func (s Schedule) withDefaults() Schedule {
	if s.InitialDelay <= 0 {
		s.InitialDelay = 2 * time.Second
	}
	if s.MaxDelay <= 0 {
		s.MaxDelay = time.Minute
	}
	if s.StartupRetries <= 0 {
		s.StartupRetries = 10
	}
	if s.PollInterval <= 0 {
		s.PollInterval = time.Minute
	}
	if s.ProbeTimeout <= 0 {
		s.ProbeTimeout = 10 * time.Second
	}
	return s
}

// Status is one dependency's health, shaped for the health endpoint.
type Status struct {
	Name      string    `json:"name"`
	Ready     bool      `json:"ready"`
	LastCheck time.Time `json:"last_check"`
	LastError string    `json:"last_error,omitempty"`
}

// check is one monitored dependency.
type check struct {
	name     string
	probe    ProbeFunc
	schedule Schedule
	logger   *slog.Logger

	ready  atomic.Bool
	cancel context.CancelFunc
	done   chan struct{}

	mu        sync.Mutex
	lastErr   error
	lastCheck time.Time
}

// Monitor owns a set of dependency checks.
type Monitor struct {
	mu     sync.RWMutex
	checks map[string]*check
	logger *slog.Logger
}

// NewMonitor creates an empty monitor.
func NewMonitor(logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		checks: make(map[string]*check),
		logger: logger.With("component", "health"),
	}
}

// Watch starts probing a dependency in the background until ctx is
// cancelled or Stop is called. An empty name or nil probe is a
// programming error and panics.
func (m *Monitor) Watch(ctx context.Context, name string, probe ProbeFunc, schedule Schedule) {
	if name == "" {
		panic("health: name must not be empty")
	}
	if probe == nil {
		panic("health: probe must not be nil")
	}

	watchCtx, cancel := context.WithCancel(ctx)
	c := &check{
		name:     name,
		probe:    probe,
		schedule: schedule.withDefaults(),
		logger:   m.logger,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go c.run(watchCtx)

	m.mu.Lock()
	m.checks[name] = c
	m.mu.Unlock()
}

// Ready reports whether the named dependency is currently reachable.
// Unknown names report false.
func (m *Monitor) Ready(name string) bool {
	m.mu.RLock()
	c := m.checks[name]
	m.mu.RUnlock()
	return c != nil && c.ready.Load()
}

// Status returns the health of every monitored dependency.
func (m *Monitor) Status() map[string]Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]Status, len(m.checks))
	for name, c := range m.checks {
		out[name] = c.status()
	}
	return out
}

// Healthy reports whether every monitored dependency is reachable.
func (m *Monitor) Healthy() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, c := range m.checks {
		if !c.ready.Load() {
			return false
		}
	}
	return true
}

// Stop cancels all checks and waits for their goroutines to exit.
func (m *Monitor) Stop() {
	m.mu.RLock()
	checks := make([]*check, 0, len(m.checks))
	for _, c := range m.checks {
		checks = append(checks, c)
	}
	m.mu.RUnlock()

	for _, c := range checks {
		c.cancel()
		<-c.done
	}
}

func (c *check) status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Status{
		Name:      c.name,
		Ready:     c.ready.Load(),
		LastCheck: c.lastCheck,
	}
	if c.lastErr != nil {
		s.LastError = c.lastErr.Error()
	}
	return s
}

// run probes with exponential backoff until the first success or the
// startup retry budget runs out, then settles into steady polling with
// transition logging.
func (c *check) run(ctx context.Context) {
	defer close(c.done)

	delay := c.schedule.InitialDelay
	for attempt := 1; attempt <= c.schedule.StartupRetries; attempt++ {
		err := c.runProbe(ctx)
		c.record(err)

		if err == nil {
			c.ready.Store(true)
			c.logger.Info("dependency connected", "name", c.name, "attempts", attempt)
			break
		}
		if attempt == c.schedule.StartupRetries {
			c.logger.Warn("dependency unreachable at startup, polling in background",
				"name", c.name, "attempts", attempt, "error", err)
			break
		}

		c.logger.Debug("startup probe failed",
			"name", c.name, "attempt", attempt, "next_delay", delay, "error", err)
		if !sleepCtx(ctx, delay) {
			return
		}
		delay *= 2
		if delay > c.schedule.MaxDelay {
			delay = c.schedule.MaxDelay
		}
	}

	ticker := time.NewTicker(c.schedule.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := c.runProbe(ctx)
			c.record(err)
			wasReady := c.ready.Load()

			switch {
			case wasReady && err != nil:
				c.ready.Store(false)
				c.logger.Warn("dependency became unreachable", "name", c.name, "error", err)
			case !wasReady && err == nil:
				c.ready.Store(true)
				c.logger.Info("dependency recovered", "name", c.name)
			case !wasReady && err != nil:
				c.logger.Debug("dependency still unreachable", "name", c.name, "error", err)
			}
		}
	}
}

func (c *check) runProbe(ctx context.Context) error {
	probeCtx, cancel := context.WithTimeout(ctx, c.schedule.ProbeTimeout)
	defer cancel()
	return c.probe(probeCtx)
}

func (c *check) record(err error) {
	c.mu.Lock()
	c.lastErr = err
	c.lastCheck = time.Now()
	c.mu.Unlock()
}

// sleepCtx sleeps for d or until ctx is cancelled. Returns false if
// cancelled.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
