package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/txn2/fieldwork/pkg/clock"
)

// Default monitor cadences.
const (
	// DefaultPollInterval is the coarse cadence at which authoritative
	// session state is re-fetched and expired sessions are swept.
	DefaultPollInterval = 30 * time.Second

	// DefaultTickInterval is the fine cadence at which the countdown is
	// recomputed locally from the last known snapshot.
	DefaultTickInterval = time.Second
)

// StateFunc receives countdown updates for a watched session.
type StateFunc func(sessionID string, state TimeoutState)

// MonitorConfig configures a Monitor.
type MonitorConfig struct {
	Manager      *Manager
	PollInterval time.Duration
	TickInterval time.Duration
	Clock        clock.Clock

	// OnState, if set, is invoked with the recomputed timeout state on
	// every fine tick and coarse poll of the watched session.
	OnState StateFunc
}

// Monitor drives the Manager on two independent cadences: a coarse poll that
// re-fetches authoritative state and sweeps expired sessions, and a fine tick
// that recomputes the countdown from the last snapshot without touching the
// store. Only the coarse path closes sessions; the fine tick is advisory, so
// a slow or clock-skewed local view can never terminate a valid session.
type Monitor struct {
	manager *Manager
	poll    time.Duration
	tick    time.Duration
	clk     clock.Clock
	onState StateFunc

	mu       sync.Mutex
	snapshot *Session

	cancel context.CancelFunc
	done   chan struct{}
}

// NewMonitor creates a Monitor with defaults applied.
func NewMonitor(cfg MonitorConfig) *Monitor {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	return &Monitor{
		manager: cfg.Manager,
		poll:    cfg.PollInterval,
		tick:    cfg.TickInterval,
		clk:     cfg.Clock,
		onState: cfg.OnState,
	}
}

// Watch sets the session whose countdown the fine tick reports. Passing nil
// clears the watch.
func (m *Monitor) Watch(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s == nil {
		m.snapshot = nil
		return
	}
	cp := *s
	m.snapshot = &cp
}

// Snapshot returns the last known state of the watched session, or nil.
func (m *Monitor) Snapshot() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.snapshot == nil {
		return nil
	}
	cp := *m.snapshot
	return &cp
}

// Start launches the polling and ticking goroutine. It is stopped by Close.
func (m *Monitor) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})

	go func() {
		defer close(m.done)

		pollTicker := time.NewTicker(m.poll)
		defer pollTicker.Stop()
		tickTicker := time.NewTicker(m.tick)
		defer tickTicker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-pollTicker.C:
				m.Poll(ctx)
			case <-tickTicker.C:
				m.Tick()
			}
		}
	}()
}

// Poll runs one coarse cycle: sweep expired sessions, then re-fetch the
// watched session's authoritative state. This is the only path with the
// authority to observe a server-side closure.
func (m *Monitor) Poll(ctx context.Context) {
	if _, err := m.manager.SweepExpired(ctx); err != nil {
		slog.Warn("monitor: sweep failed", "error", err)
	}

	snap := m.Snapshot()
	if snap == nil {
		return
	}

	s, state, err := m.manager.Evaluate(ctx, snap.ID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			m.Watch(nil)
			return
		}
		slog.Warn("monitor: evaluate failed", "session_id", snap.ID, "error", err)
		return
	}

	m.Watch(s)
	if m.onState != nil {
		m.onState(s.ID, state)
	}
}

// Tick runs one fine cycle: recompute the countdown purely from the last
// snapshot. It never writes and never decides closure.
func (m *Monitor) Tick() {
	snap := m.Snapshot()
	if snap == nil || snap.Status != StatusOpen {
		return
	}
	if m.onState != nil {
		m.onState(snap.ID, m.manager.Policy().State(snap, m.clk.Now()))
	}
}

// Close stops the monitor goroutine and waits for it to exit.
// It is safe to call Close even if Start was never called.
func (m *Monitor) Close() error {
	if m.cancel != nil {
		m.cancel()
		<-m.done
	}
	return nil
}
