package jobs

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

const (
	TriggerSchedule = "schedule"
	TriggerManual   = "manual"
)

// Run is one execution of a job.
type Run struct {
	ID          uuid.UUID  `json:"id"`
	Job         string     `json:"job"`
	Trigger     string     `json:"trigger"`
	Status      string     `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Result      any        `json:"result,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// RunLog keeps recent job runs in memory. Finished runs older than the
// retention window are pruned whenever a new run starts.
type RunLog struct {
	mu        sync.RWMutex
	runs      map[uuid.UUID]*Run
	retention time.Duration
	now       func() time.Time
}

func NewRunLog(retention time.Duration) *RunLog {
	return &RunLog{
		runs:      make(map[uuid.UUID]*Run),
		retention: retention,
		now:       time.Now,
	}
}

func (l *RunLog) Start(job, trigger string) uuid.UUID {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.prune()
	run := &Run{
		ID:        uuid.New(),
		Job:       job,
		Trigger:   trigger,
		Status:    StatusRunning,
		StartedAt: l.now().UTC(),
	}
	l.runs[run.ID] = run
	return run.ID
}

// Finish records the outcome of a run.
func (l *RunLog) Finish(id uuid.UUID, result any, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	run, ok := l.runs[id]
	if !ok {
		return
	}
	now := l.now().UTC()
	run.CompletedAt = &now
	run.Result = result
	if err != nil {
		run.Status = StatusFailed
		run.Error = err.Error()
		return
	}
	run.Status = StatusCompleted
}

func (l *RunLog) Get(id uuid.UUID) (Run, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	run, ok := l.runs[id]
	if !ok {
		return Run{}, false
	}
	return *run, true
}

// List returns the retained runs, newest first.
func (l *RunLog) List() []Run {
	l.mu.RLock()
	defer l.mu.RUnlock()

	runs := make([]Run, 0, len(l.runs))
	for _, run := range l.runs {
		runs = append(runs, *run)
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].StartedAt.After(runs[j].StartedAt) })
	return runs
}

func (l *RunLog) prune() {
	cutoff := l.now().Add(-l.retention)
	for id, run := range l.runs {
		if run.CompletedAt != nil && run.CompletedAt.Before(cutoff) {
			delete(l.runs, id)
		}
	}
}
