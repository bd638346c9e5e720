package runner

import (
	"sync"
	"time"
)

// Phase names the runner's position in the state machine (spec §4.5).
type Phase string

const (
	PhaseConnecting        Phase = "connecting"
	PhaseSessionInit       Phase = "session_init"
	PhasePrepareStatements Phase = "prepare_statements"
	PhaseSelecting         Phase = "selecting"
	PhaseExecuting         Phase = "executing"
	PhaseUpdating          Phase = "updating"
	PhaseWaiting           Phase = "waiting"
	PhaseReconnecting      Phase = "reconnecting"
	PhaseStopped           Phase = "stopped"
)

// RunnerStatus is a point-in-time snapshot of one runner, read by the
// admin surface's /queues and /queues/:identity handlers.
type RunnerStatus struct {
	Identity            string
	Phase               Phase
	Paused              bool
	ConnectedSince      time.Time
	LastCommandAt       time.Time
	LastCommandOutcome  string
	EmptyReselectStreak int
	LastError           string
}

// statusBox is the mutex-guarded home for a runner's status, mutated
// from the runner's own goroutine (and, for Paused, by Pause/Resume)
// and read from the admin HTTP handlers.
type statusBox struct {
	mu     sync.RWMutex
	status RunnerStatus
}

func newStatusBox(identity string) *statusBox {
	return &statusBox{status: RunnerStatus{Identity: identity, Phase: PhaseConnecting}}
}

func (b *statusBox) snapshot() RunnerStatus {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.status
}

func (b *statusBox) setPhase(p Phase) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.status.Phase = p
}

func (b *statusBox) recordCommand(outcome string, at time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.status.LastCommandAt = at
	b.status.LastCommandOutcome = outcome
	b.status.EmptyReselectStreak = 0
}

func (b *statusBox) setEmptyStreak(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.status.EmptyReselectStreak = n
}

func (b *statusBox) setPaused(p bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.status.Paused = p
}

func (b *statusBox) setConnected(t time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.status.ConnectedSince = t
}

func (b *statusBox) setLastError(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		b.status.LastError = ""
		return
	}
	b.status.LastError = err.Error()
}
