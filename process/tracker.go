// Package process keeps track of the CLI processes started by this bridge
// and cleans up the ones a previous run left behind.
package process

import (
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Tracked is a process currently owned by this bridge.
type Tracked struct {
	PID     int
	Label   string
	Started time.Time
}

// Tracker records live CLI processes so they can be stopped on shutdown.
// It satisfies claude.Tracker.
type Tracker struct {
	mu    sync.Mutex
	procs map[int]Tracked
	log   *slog.Logger
}

// NewTracker creates an empty tracker.
func NewTracker(log *slog.Logger) *Tracker {
	if log == nil {
		log = slog.Default()
	}
	return &Tracker{procs: make(map[int]Tracked), log: log}
}

// Track records pid.
func (t *Tracker) Track(pid int, label string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.procs[pid] = Tracked{PID: pid, Label: label, Started: time.Now()}
}

// Untrack forgets pid once it has exited.
func (t *Tracker) Untrack(pid int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.procs, pid)
}

// IsTracked reports whether pid is owned by this bridge.
func (t *Tracker) IsTracked(pid int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.procs[pid]
	return ok
}

// Len returns the number of live processes.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.procs)
}

// Snapshot lists tracked processes ordered by PID.
func (t *Tracker) Snapshot() []Tracked {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Tracked, 0, len(t.procs))
	for _, p := range t.procs {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PID < out[j].PID })
	return out
}

// pollInterval is how often TerminateAll checks for exits during the grace
// period.
const pollInterval = 50 * time.Millisecond

// TerminateAll sends SIGTERM to every tracked process group, waits up to
// grace for their owners to untrack them, then kills whatever is left. It
// returns the number of processes that had to be killed.
func (t *Tracker) TerminateAll(grace time.Duration) int {
	procs := t.Snapshot()
	if len(procs) == 0 {
		return 0
	}

	t.log.Info("terminating CLI processes", "count", len(procs))
	for _, p := range procs {
		if err := terminateGroup(p.PID); err != nil {
			t.log.Debug("terminate failed", "pid", p.PID, "error", err)
		}
	}

	deadline := time.Now().Add(grace)
	for t.Len() > 0 && time.Now().Before(deadline) {
		time.Sleep(pollInterval)
	}

	killed := 0
	for _, p := range t.Snapshot() {
		t.log.Warn("killing CLI process after grace period", "pid", p.PID, "label", p.Label)
		if err := killGroup(p.PID); err != nil {
			t.log.Error("failed to kill process", "pid", p.PID, "error", err)
			continue
		}
		t.Untrack(p.PID)
		killed++
	}
	return killed
}
