package service

import (
	"sync"
	"time"

	"github.com/noah-isme/homegroup-report-api/internal/models"
)

type progressEntry struct {
	runID    string
	progress models.Progress
	terminal bool
	doneAt   time.Time
}

// ProgressTracker holds in-memory generation progress per user. Finished
// runs linger for the configured TTL so a client polling after completion
// still sees the final state, then fall back to the idle default.
type ProgressTracker struct {
	mu      sync.Mutex
	entries map[string]*progressEntry
	ttl     time.Duration
	now     func() time.Time
}

// NewProgressTracker constructs a tracker. A non-positive ttl defaults to
// five minutes.
func NewProgressTracker(ttl time.Duration) *ProgressTracker {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &ProgressTracker{
		entries: make(map[string]*progressEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Start registers a new run for a user, replacing any previous run state.
func (t *ProgressTracker) Start(userID, runID string, total int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[userID] = &progressEntry{
		runID:    runID,
		progress: models.Progress{Current: 0, Total: total, Status: "Starting...", Progress: 0},
	}
}

// Update records progress for a run. Updates from a superseded run are
// dropped so a stale worker cannot overwrite the active run's state.
func (t *ProgressTracker) Update(userID, runID string, current, total int, status string, percent int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.entries[userID]
	if !ok || entry.runID != runID {
		return
	}
	entry.progress = models.Progress{Current: current, Total: total, Status: status, Progress: percent}
}

// Complete marks a run finished at 100%.
func (t *ProgressTracker) Complete(userID, runID string, total int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.entries[userID]
	if !ok || entry.runID != runID {
		return
	}
	entry.progress = models.Progress{Current: total, Total: total, Status: "Complete", Progress: 100}
	entry.terminal = true
	entry.doneAt = t.now()
}

// Fail marks a run failed, preserving the counters reached so far.
func (t *ProgressTracker) Fail(userID, runID, status string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.entries[userID]
	if !ok || entry.runID != runID {
		return
	}
	entry.progress.Status = status
	entry.terminal = true
	entry.doneAt = t.now()
}

// Get returns the current progress for a user. With no active run, or after
// a finished run's TTL has lapsed, the idle default is returned.
func (t *ProgressTracker) Get(userID string) models.Progress {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.entries[userID]
	if !ok {
		return models.NoActiveProgress()
	}
	if entry.terminal && t.now().Sub(entry.doneAt) > t.ttl {
		delete(t.entries, userID)
		return models.NoActiveProgress()
	}
	return entry.progress
}
