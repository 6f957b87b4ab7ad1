package manager

import (
	"sync"

	"github.com/zhubert/plural-chat/status"
)

// job is one in-flight turn. It is registered before hooks run and removed
// only by the turn that created it.
type job struct {
	userID string
	chatID string

	mu       sync.Mutex
	proc     Process
	reporter *status.Reporter
	canceled bool
}

// attachReporter records the reporter, or reports false if the job was
// canceled first.
func (j *job) attachReporter(r *status.Reporter) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.canceled {
		return false
	}
	j.reporter = r
	return true
}

// attachProcess records the process, or reports false if the job was
// canceled first. The caller must then terminate it.
func (j *job) attachProcess(p Process) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.canceled {
		return false
	}
	j.proc = p
	return true
}

func (j *job) isCanceled() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.canceled
}

// cancel marks the job canceled, stops its reporter and signals its
// process. Only the first call has any effect.
func (j *job) cancel() bool {
	j.mu.Lock()
	if j.canceled {
		j.mu.Unlock()
		return false
	}
	j.canceled = true
	rep, proc := j.reporter, j.proc
	j.mu.Unlock()

	if rep != nil {
		rep.Stop()
	}
	if proc != nil {
		proc.Terminate()
	}
	return true
}
