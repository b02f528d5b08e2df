// Package session routes query updates from many clients to one lookup
// coordinator per client session and collects their answers.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/place-lookup-service/internal/domain"
	"github.com/couchcryptid/place-lookup-service/internal/lookup"
	"github.com/couchcryptid/place-lookup-service/internal/observability"
	"github.com/couchcryptid/place-lookup-service/internal/schedule"
)

// DefaultIdleTimeout is how long a session may go without an update before
// it is dropped.
const DefaultIdleTimeout = 30 * time.Minute

// Factory builds the coordinator for a new session.
type Factory func(loop *schedule.Loop) *lookup.Coordinator

// Option configures a Manager.
type Option func(*Manager)

// WithIdleTimeout drops sessions that receive no update for d. A d of zero or
// less keeps sessions until they end explicitly.
func WithIdleTimeout(d time.Duration) Option {
	return func(m *Manager) { m.idleTimeout = d }
}

type entry struct {
	coord *lookup.Coordinator
	idle  *schedule.Handle
}

// Manager owns the per-session coordinators. Coordinators share the loop but
// no other state, so sessions never see each other's requests or callbacks.
type Manager struct {
	loop    *schedule.Loop
	factory Factory
	logger  *slog.Logger
	metrics *observability.Metrics

	idleTimeout time.Duration

	// sessions is only touched on the loop.
	sessions map[string]*entry
	count    atomic.Int64

	outMu   sync.Mutex
	outbox  []domain.LookupResult
	outWake chan struct{}
}

// NewManager creates a Manager that builds coordinators with factory.
func NewManager(loop *schedule.Loop, factory Factory, logger *slog.Logger, metrics *observability.Metrics, opts ...Option) *Manager {
	m := &Manager{
		loop:        loop,
		factory:     factory,
		logger:      logger,
		metrics:     metrics,
		idleTimeout: DefaultIdleTimeout,
		sessions:    make(map[string]*entry),
		outWake:     make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Dispatch applies a query update to its session and waits until the loop has
// processed it. Results arrive later through Next.
func (m *Manager) Dispatch(ctx context.Context, u domain.QueryUpdate) error {
	if u.SessionID == "" {
		return errors.New("dispatch: session_id is required")
	}
	if err := m.loop.Do(ctx, func() { m.apply(u) }); err != nil {
		return fmt.Errorf("dispatch %s: %w", u.SessionID, err)
	}
	return nil
}

// Sessions returns the number of live sessions.
func (m *Manager) Sessions() int {
	return int(m.count.Load())
}

// CheckReadiness reports whether the manager can accept updates.
func (m *Manager) CheckReadiness(ctx context.Context) error {
	return m.loop.Do(ctx, func() {})
}

// Next blocks until a result is available or ctx is done.
func (m *Manager) Next(ctx context.Context) (domain.LookupResult, error) {
	for {
		if r, ok := m.pop(); ok {
			return r, nil
		}
		select {
		case <-ctx.Done():
			return domain.LookupResult{}, ctx.Err()
		case <-m.outWake:
		}
	}
}

// Drain returns up to max queued results without blocking.
func (m *Manager) Drain(max int) []domain.LookupResult {
	if max <= 0 {
		return nil
	}
	m.outMu.Lock()
	defer m.outMu.Unlock()
	n := min(max, len(m.outbox))
	out := make([]domain.LookupResult, n)
	copy(out, m.outbox[:n])
	m.outbox = m.outbox[n:]
	return out
}

func (m *Manager) apply(u domain.QueryUpdate) {
	switch u.Action {
	case domain.ActionCancel:
		if e, ok := m.sessions[u.SessionID]; ok {
			e.coord.Cancel()
			m.touch(u.SessionID, e)
		}
	case domain.ActionEnd:
		if e, ok := m.sessions[u.SessionID]; ok {
			m.drop(u.SessionID, e)
			m.logger.Debug("session ended", "session_id", u.SessionID)
		}
	default:
		e := m.session(u.SessionID)
		m.touch(u.SessionID, e)
		query := domain.NormalizeQuery(u.Query)
		e.coord.Decode(u.Query, func(places []domain.GeocodePlace) {
			m.push(domain.NewLookupResult(u.SessionID, u.Seq, query, places))
		})
	}
}

func (m *Manager) session(sessionID string) *entry {
	e, ok := m.sessions[sessionID]
	if !ok {
		e = &entry{coord: m.factory(m.loop)}
		m.sessions[sessionID] = e
		m.setCount()
		m.logger.Debug("session started", "session_id", sessionID)
	}
	return e
}

// touch re-arms the idle timer of a session.
func (m *Manager) touch(sessionID string, e *entry) {
	if m.idleTimeout <= 0 {
		return
	}
	e.idle.Cancel()
	e.idle = m.loop.After(m.idleTimeout, func() {
		if m.sessions[sessionID] != e {
			return
		}
		m.drop(sessionID, e)
		m.metrics.SessionsExpired.Inc()
		m.logger.Debug("session expired", "session_id", sessionID, "idle", m.idleTimeout)
	})
}

func (m *Manager) drop(sessionID string, e *entry) {
	e.idle.Cancel()
	e.coord.Cancel()
	delete(m.sessions, sessionID)
	m.setCount()
}

func (m *Manager) setCount() {
	m.count.Store(int64(len(m.sessions)))
	m.metrics.ActiveSessions.Set(float64(len(m.sessions)))
}

// push never blocks the loop; the outbox is unbounded.
func (m *Manager) push(r domain.LookupResult) {
	m.outMu.Lock()
	m.outbox = append(m.outbox, r)
	m.outMu.Unlock()

	select {
	case m.outWake <- struct{}{}:
	default:
	}
}

func (m *Manager) pop() (domain.LookupResult, bool) {
	m.outMu.Lock()
	defer m.outMu.Unlock()
	if len(m.outbox) == 0 {
		return domain.LookupResult{}, false
	}
	r := m.outbox[0]
	m.outbox = m.outbox[1:]
	return r, true
}
