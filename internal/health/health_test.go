package health

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

// fastSchedule keeps test runtimes low.
func fastSchedule() Schedule {
	return Schedule{
		InitialDelay:   5 * time.Millisecond,
		MaxDelay:       20 * time.Millisecond,
		StartupRetries: 5,
		PollInterval:   10 * time.Millisecond,
		ProbeTimeout:   time.Second,
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within deadline")
}

func TestWatchConnectsOnStartup(t *testing.T) {
	m := NewMonitor(nil)
	defer m.Stop()

	m.Watch(context.Background(), "recorder", func(ctx context.Context) error {
		return nil
	}, fastSchedule())

	waitFor(t, func() bool { return m.Ready("recorder") })
	if !m.Healthy() {
		t.Error("monitor with one ready check should be healthy")
	}

	st := m.Status()["recorder"]
	if !st.Ready || st.LastError != "" {
		t.Errorf("status = %+v", st)
	}
}

func TestWatchRetriesWithBackoff(t *testing.T) {
	m := NewMonitor(nil)
	defer m.Stop()

	var calls atomic.Int32
	m.Watch(context.Background(), "ollama", func(ctx context.Context) error {
		if calls.Add(1) < 3 {
			return errors.New("connection refused")
		}
		return nil
	}, fastSchedule())

	waitFor(t, func() bool { return m.Ready("ollama") })
	if got := calls.Load(); got < 3 {
		t.Errorf("probe calls = %d, want at least 3", got)
	}
}

func TestWatchReportsOutageAndRecovery(t *testing.T) {
	m := NewMonitor(nil)
	defer m.Stop()

	var down atomic.Bool
	m.Watch(context.Background(), "recorder", func(ctx context.Context) error {
		if down.Load() {
			return errors.New("recorder offline")
		}
		return nil
	}, fastSchedule())
	waitFor(t, func() bool { return m.Ready("recorder") })

	down.Store(true)
	waitFor(t, func() bool { return !m.Ready("recorder") })
	if m.Healthy() {
		t.Error("monitor should be unhealthy during an outage")
	}
	if st := m.Status()["recorder"]; st.LastError == "" {
		t.Error("status should carry the probe error")
	}

	down.Store(false)
	waitFor(t, func() bool { return m.Ready("recorder") })
}

func TestWatchGivesUpStartupThenPolls(t *testing.T) {
	m := NewMonitor(nil)
	defer m.Stop()

	var healthy atomic.Bool
	m.Watch(context.Background(), "sms", func(ctx context.Context) error {
		if !healthy.Load() {
			return errors.New("gateway down")
		}
		return nil
	}, Schedule{
		InitialDelay:   time.Millisecond,
		MaxDelay:       2 * time.Millisecond,
		StartupRetries: 2,
		PollInterval:   5 * time.Millisecond,
		ProbeTimeout:   time.Second,
	})

	// Exhaust the startup budget, then recover via background polling.
	time.Sleep(20 * time.Millisecond)
	if m.Ready("sms") {
		t.Fatal("check should not be ready while gateway is down")
	}
	healthy.Store(true)
	waitFor(t, func() bool { return m.Ready("sms") })
}

func TestReadyUnknownName(t *testing.T) {
	m := NewMonitor(nil)
	if m.Ready("nope") {
		t.Error("unknown check reported ready")
	}
	if !m.Healthy() {
		t.Error("empty monitor should be healthy")
	}
}

func TestStopTerminatesChecks(t *testing.T) {
	m := NewMonitor(nil)

	var calls atomic.Int32
	m.Watch(context.Background(), "recorder", func(ctx context.Context) error {
		calls.Add(1)
		return nil
	}, fastSchedule())
	waitFor(t, func() bool { return calls.Load() > 0 })

	m.Stop()
	after := calls.Load()
	time.Sleep(30 * time.Millisecond)
	if calls.Load() != after {
		t.Error("probe still running after Stop")
	}
}
