package services

import (
	"sync"
	"time"
)

// PauseRegistry tracks per-exchange "paused until" deadlines set after
// rate-limit faults. The exchange's request budget is shared across all
// symbols and timeframes, so one deadline guards the whole source.
// Expired deadlines are cleared lazily on the next check; there is no
// timer-driven resume.
type PauseRegistry struct {
	mu          sync.Mutex
	pausedUntil map[string]time.Time
	now         func() time.Time
}

// NewPauseRegistry creates an empty registry.
func NewPauseRegistry() *PauseRegistry {
	return &PauseRegistry{
		pausedUntil: make(map[string]time.Time),
		now:         time.Now,
	}
}

// Pause defers all work for an exchange until now + d.
func (p *PauseRegistry) Pause(exchange string, d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pausedUntil[exchange] = p.now().Add(d)
}

// IsPaused reports whether the exchange is still within its pause
// window, clearing the deadline once it has elapsed.
func (p *PauseRegistry) IsPaused(exchange string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	deadline, ok := p.pausedUntil[exchange]
	if !ok {
		return false
	}
	if p.now().Before(deadline) {
		return true
	}
	delete(p.pausedUntil, exchange)
	return false
}

// Resume clears a pause immediately.
func (p *PauseRegistry) Resume(exchange string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.pausedUntil, exchange)
}

// Paused returns the exchanges currently paused with their resume
// deadlines.
func (p *PauseRegistry) Paused() map[string]time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	snapshot := make(map[string]time.Time)
	for exchange, deadline := range p.pausedUntil {
		if deadline.After(now) {
			snapshot[exchange] = deadline
		} else {
			delete(p.pausedUntil, exchange)
		}
	}
	return snapshot
}
