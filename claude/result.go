package claude

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Kind classifies how a turn ended.
type Kind string

const (
	KindOK           Kind = "ok"
	KindTimeout      Kind = "timeout"
	KindSessionLost  Kind = "session_lost"
	KindToolFailure  Kind = "tool_failure"
	KindSpawnFailure Kind = "spawn_failure"
	KindCanceled     Kind = "canceled"
)

// Cancellation causes attached to a turn's context.
var (
	ErrTimeout  = errors.New("turn timed out")
	ErrCanceled = errors.New("turn canceled")
)

// Result is the outcome of one turn. Subprocess failures are reported here
// rather than as Go errors.
type Result struct {
	Success   bool
	Output    string
	Error     string
	SessionID string
	CostUSD   *float64 // nil when the CLI did not report a cost
	Duration  time.Duration
	Kind      Kind
}

// DurationMs returns the wall-clock duration in milliseconds.
func (r Result) DurationMs() int64 {
	return r.Duration.Milliseconds()
}

// Recoverable reports whether resending the same message is expected to work.
func (r Result) Recoverable() bool {
	return r.Kind == KindSessionLost
}

// SpawnFailure builds the result for a process that could not be started.
func SpawnFailure(err error, elapsed time.Duration) Result {
	return Result{
		Kind:     KindSpawnFailure,
		Error:    "Could not start the assistant: " + Sanitize(err.Error()),
		Duration: elapsed,
	}
}

// Stderr markers printed by the CLI when --resume names a conversation it
// does not have.
var sessionMissingMarkers = []string{
	"no conversation found",
	"session not found",
	"could not find session",
}

// Stderr markers printed when --session-id names a conversation that
// already exists.
var sessionInUseMarkers = []string{
	"already in use",
	"session id already exists",
}

func isSessionMissing(stderr string) bool {
	return containsAny(strings.ToLower(stderr), sessionMissingMarkers)
}

func isSessionInUse(stderr string) bool {
	return containsAny(strings.ToLower(stderr), sessionInUseMarkers)
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}

// formatTimeout renders d the way users write it in config ("5 minutes").
func formatTimeout(d time.Duration) string {
	switch {
	case d >= time.Minute && d%time.Minute == 0:
		n := int(d / time.Minute)
		if n == 1 {
			return "1 minute"
		}
		return fmt.Sprintf("%d minutes", n)
	case d >= time.Second && d%time.Second == 0:
		n := int(d / time.Second)
		if n == 1 {
			return "1 second"
		}
		return fmt.Sprintf("%d seconds", n)
	default:
		return d.String()
	}
}
