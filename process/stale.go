package process

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/zhubert/plural-chat/exec"
)

// CLIProcess is a running CLI process found on the system.
type CLIProcess struct {
	PID       int
	Command   string
	SessionID string
}

// Finder lists CLI processes through a command executor.
type Finder struct {
	executor   exec.CommandExecutor
	executable string
	log        *slog.Logger
}

// NewFinder looks for processes whose command name matches executable's
// base name. A nil executor uses the package default.
func NewFinder(executor exec.CommandExecutor, executable string, log *slog.Logger) *Finder {
	if executor == nil {
		executor = exec.GetDefaultExecutor()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Finder{executor: executor, executable: filepath.Base(executable), log: log}
}

// FindCLIProcesses returns every running CLI process that carries a session
// flag. Process listing is only supported on unix-like systems; elsewhere
// the result is empty.
func (f *Finder) FindCLIProcesses(ctx context.Context) ([]CLIProcess, error) {
	switch runtime.GOOS {
	case "windows", "plan9":
		return nil, nil
	}

	out, err := f.executor.Output(ctx, exec.Command{Name: "ps", Args: []string{"-eo", "pid=,args="}})
	if err != nil {
		return nil, fmt.Errorf("list processes: %w", err)
	}

	var procs []CLIProcess
	for line := range strings.SplitSeq(string(out), "\n") {
		pidStr, args, ok := strings.Cut(strings.TrimSpace(line), " ")
		if !ok {
			continue
		}
		pid, err := strconv.Atoi(pidStr)
		if err != nil {
			continue
		}
		args = strings.TrimSpace(args)
		if !f.matches(args) {
			continue
		}
		sessionID := extractSessionID(args)
		if sessionID == "" {
			continue
		}
		procs = append(procs, CLIProcess{PID: pid, Command: args, SessionID: sessionID})
	}

	f.log.Debug("found CLI processes", "count", len(procs))
	return procs, nil
}

// matches reports whether the command's program is the CLI.
func (f *Finder) matches(args string) bool {
	fields := strings.Fields(args)
	if len(fields) == 0 {
		return false
	}
	return filepath.Base(fields[0]) == f.executable
}

// FindStale returns CLI processes that belong to one of knownSessionIDs but
// are not owned by the running bridge. These are left over from a previous
// run that crashed or was killed. Processes for other session ids belong to
// someone else and are never reported.
func (f *Finder) FindStale(ctx context.Context, knownSessionIDs map[string]bool, owned func(pid int) bool) ([]CLIProcess, error) {
	all, err := f.FindCLIProcesses(ctx)
	if err != nil {
		return nil, err
	}

	var stale []CLIProcess
	for _, p := range all {
		if !knownSessionIDs[p.SessionID] {
			continue
		}
		if owned != nil && owned(p.PID) {
			continue
		}
		f.log.Info("found stale CLI process", "pid", p.PID, "sessionID", p.SessionID)
		stale = append(stale, p)
	}
	return stale, nil
}

// CleanupStale kills the processes FindStale reports and returns how many
// were killed.
func (f *Finder) CleanupStale(ctx context.Context, knownSessionIDs map[string]bool, owned func(pid int) bool) (int, error) {
	stale, err := f.FindStale(ctx, knownSessionIDs, owned)
	if err != nil {
		return 0, err
	}

	killed := 0
	for _, p := range stale {
		f.log.Info("killing stale CLI process", "pid", p.PID)
		if err := f.kill(ctx, p.PID); err != nil {
			f.log.Error("failed to kill process", "pid", p.PID, "error", err)
			continue
		}
		killed++
	}
	return killed, nil
}

func (f *Finder) kill(ctx context.Context, pid int) error {
	_, stderr, err := f.executor.Run(ctx, exec.Command{Name: "kill", Args: []string{"-9", strconv.Itoa(pid)}})
	if err != nil {
		return fmt.Errorf("kill %d: %w: %s", pid, err, strings.TrimSpace(string(stderr)))
	}
	return nil
}

// extractSessionID extracts the session ID from a CLI command line.
func extractSessionID(cmdLine string) string {
	// Look for --session-id or --resume followed by the ID
	for _, flag := range []string{"--session-id", "--resume"} {
		_, after, ok := strings.Cut(cmdLine, flag)
		if !ok {
			continue
		}

		rest := strings.TrimLeft(after, " =")
		if fields := strings.Fields(rest); len(fields) > 0 {
			return fields[0]
		}
	}
	return ""
}
