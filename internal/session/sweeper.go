package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/gorhill/cronexpr"
	"github.com/mohammad-safakhou/researcher/models"
	"github.com/sirupsen/logrus"
)

// Sweep evicts sessions whose approval window or retention period has
// elapsed at now and returns how many were removed.
func (m *Manager) Sweep(now time.Time) int {
	n := 0
	for _, id := range m.expiredIDs(now) {
		if m.evict(id, now) {
			n++
		}
	}
	m.metrics.observeSwept(n)
	return n
}

func (m *Manager) expiredIDs(now time.Time) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var ids []string
	for _, id := range m.order {
		if m.expired(m.sessions[id], now) {
			ids = append(ids, id)
		}
	}
	return ids
}

// evict removes id if it is still expired at now. The check and the removal
// happen under the registry lock so a session approved in between survives.
func (m *Manager) evict(id string, now time.Time) bool {
	m.mu.Lock()
	e, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return false
	}
	e.mu.Lock()
	if !m.expiredLocked(e, now) {
		e.mu.Unlock()
		m.mu.Unlock()
		return false
	}
	m.removeLocked(id, e)
	e.mu.Unlock()
	m.mu.Unlock()

	m.events.Forget(id)
	m.log.WithField("research_id", id).Info("expired research session removed")
	return true
}

func (m *Manager) expired(e *entry, now time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return m.expiredLocked(e, now)
}

func (m *Manager) expiredLocked(e *entry, now time.Time) bool {
	switch e.state.Phase {
	case models.PhaseAwaitingApproval:
		return m.cfg.ApprovalTTL > 0 && now.Sub(e.phaseSince) >= m.cfg.ApprovalTTL
	case models.PhaseCompleted:
		return m.cfg.Retention > 0 && e.state.CompletedAt != nil && now.Sub(*e.state.CompletedAt) >= m.cfg.Retention
	}
	return false
}

// Sweeper runs Manager.Sweep on a cron schedule.
type Sweeper struct {
	manager *Manager
	expr    *cronexpr.Expression
	now     func() time.Time
	log     *logrus.Entry

	stop chan struct{}
	done chan struct{}
	once sync.Once
}

func NewSweeper(m *Manager, schedule string) (*Sweeper, error) {
	expr, err := cronexpr.Parse(schedule)
	if err != nil {
		return nil, fmt.Errorf("parse sweep schedule %q: %w", schedule, err)
	}
	return &Sweeper{
		manager: m,
		expr:    expr,
		now:     m.now,
		log:     logrus.WithField("component", "sweeper"),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}, nil
}

func (s *Sweeper) Start() {
	go func() {
		defer close(s.done)
		for {
			next := s.expr.Next(s.now())
			if next.IsZero() {
				s.log.Warn("sweep schedule has no future activation")
				return
			}
			timer := time.NewTimer(time.Until(next))
			select {
			case <-s.stop:
				timer.Stop()
				return
			case <-timer.C:
				if n := s.manager.Sweep(s.now()); n > 0 {
					s.log.WithField("evicted", n).Info("expired research sessions removed")
				}
			}
		}
	}()
}

// Stop halts the sweeper and waits for its loop to exit. Stop must follow Start.
func (s *Sweeper) Stop() {
	s.once.Do(func() { close(s.stop) })
	<-s.done
}
