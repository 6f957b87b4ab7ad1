package claude

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zhubert/plural-chat/logger"
)

// pipeDrainGrace is how long output pipes stay open after the forced kill
// before they are closed under any process still holding them.
const pipeDrainGrace = time.Second

// SessionStore resolves and updates the conversation id of a user.
type SessionStore interface {
	GetOrCreate(userKey string) (id string, isNew bool, err error)
	Confirm(userKey, sessionID string) error
	Reset(userKey string) (string, error)
}

// Tracker records live subprocesses so they can be terminated on shutdown.
type Tracker interface {
	Track(pid int, label string)
	Untrack(pid int)
}

// RunnerConfig holds per-turn invocation settings.
type RunnerConfig struct {
	Options
	Timeout   time.Duration
	KillGrace time.Duration
	StreamLog bool
}

// Request is one user message to send to the CLI.
type Request struct {
	UserKey string
	Message string
}

// Runner spawns one CLI process per turn.
type Runner struct {
	cfg      RunnerConfig
	sessions SessionStore
	tracker  Tracker
	log      *slog.Logger
}

// NewRunner creates a Runner. tracker may be nil.
func NewRunner(cfg RunnerConfig, sessions SessionStore, tracker Tracker, log *slog.Logger) *Runner {
	return &Runner{cfg: cfg, sessions: sessions, tracker: tracker, log: log}
}

// Process is a running turn. All methods are safe for concurrent use.
type Process struct {
	cmd       *exec.Cmd
	stdout    *io.PipeReader
	stdoutW   *io.PipeWriter
	stderr    *tailBuffer
	ctx       context.Context
	cancel    context.CancelCauseFunc
	stopTimer context.CancelFunc
	onEvent   func(Event)
	sessions  SessionStore
	tracker   Tracker
	log       *slog.Logger
	streamLog *os.File

	userKey   string
	sessionID string
	isNew     bool
	timeout   time.Duration
	grace     time.Duration
	started   time.Time

	mu            sync.Mutex
	events        []Event
	fragments     []string
	final         *Event
	initSessionID string
	killTimer     *time.Timer
	exited        bool

	done   chan struct{}
	result Result
}

// Start resolves the user's session, spawns the CLI and begins consuming its
// output. onEvent is called from a separate goroutine for every parsed
// event, in order. A non-nil error means the process could not be started.
func (r *Runner) Start(ctx context.Context, req Request, onEvent func(Event)) (*Process, error) {
	sessionID, isNew, err := r.sessions.GetOrCreate(req.UserKey)
	if err != nil {
		return nil, fmt.Errorf("resolve session: %w", err)
	}

	args := BuildCommandArgs(r.cfg.Options, sessionID, isNew, req.Message)
	log := r.log.With("userKey", req.UserKey, "sessionID", sessionID)

	ctx, cancel := context.WithCancelCause(ctx)
	ctx, stopTimer := context.WithTimeoutCause(ctx, r.cfg.Timeout, ErrTimeout)

	stdout, stdoutW := io.Pipe()
	p := &Process{
		stdout:    stdout,
		stdoutW:   stdoutW,
		stderr:    newTailBuffer(stderrBufferLimit),
		ctx:       ctx,
		cancel:    cancel,
		stopTimer: stopTimer,
		onEvent:   onEvent,
		sessions:  r.sessions,
		tracker:   r.tracker,
		log:       log,
		userKey:   req.UserKey,
		sessionID: sessionID,
		isNew:     isNew,
		timeout:   r.cfg.Timeout,
		grace:     r.cfg.KillGrace,
		done:      make(chan struct{}),
	}

	cmd := exec.CommandContext(ctx, r.cfg.Executable, args...)
	cmd.Dir = r.cfg.WorkingDir
	cmd.Stdout = stdoutW
	cmd.Stderr = p.stderr
	cmd.Cancel = p.terminate
	cmd.WaitDelay = r.cfg.KillGrace + pipeDrainGrace
	setProcessGroup(cmd)
	p.cmd = cmd

	log.Debug("starting CLI", "command", r.cfg.Executable, "new", isNew, "workDir", r.cfg.WorkingDir)
	p.started = time.Now()
	if err := cmd.Start(); err != nil {
		stopTimer()
		cancel(nil)
		stdoutW.Close()
		log.Error("failed to start CLI", "error", err)
		return nil, fmt.Errorf("start %s: %w", r.cfg.Executable, err)
	}
	log.Info("CLI started", "pid", cmd.Process.Pid)

	if r.cfg.StreamLog {
		p.streamLog = openStreamLog(sessionID, log)
	}
	if p.tracker != nil {
		p.tracker.Track(cmd.Process.Pid, "session "+sessionID)
	}

	go p.run()
	return p, nil
}

// terminate is the first phase of shutdown: ask the process group to exit
// and arm the forced kill for when the grace period runs out. It runs as
// exec.Cmd.Cancel, so at most once.
func (p *Process) terminate() error {
	p.mu.Lock()
	if !p.exited {
		proc := p.cmd.Process
		p.killTimer = time.AfterFunc(p.grace, func() {
			p.mu.Lock()
			defer p.mu.Unlock()
			if p.exited {
				return
			}
			p.log.Warn("CLI ignored termination request, killing", "pid", proc.Pid, "grace", p.grace)
			_ = forceKill(proc)
		})
	}
	p.mu.Unlock()

	p.log.Info("terminating CLI", "pid", p.cmd.Process.Pid, "cause", context.Cause(p.ctx))
	return signalTerminate(p.cmd.Process)
}

// run owns cmd.Wait. It consumes stdout until the process exits and its
// output is drained, then classifies the result.
func (p *Process) run() {
	defer close(p.done)

	var g errgroup.Group
	g.Go(func() error {
		return readEvents(p.stdout, p.log, func(ev Event) bool {
			p.handle(ev)
			return true
		})
	})

	waitErr := p.cmd.Wait()

	p.mu.Lock()
	p.exited = true
	if p.killTimer != nil {
		p.killTimer.Stop()
	}
	p.mu.Unlock()

	p.stdoutW.Close()
	if err := g.Wait(); err != nil {
		p.log.Warn("CLI output was cut short", "error", err)
	}
	p.stdout.Close()

	if p.tracker != nil {
		p.tracker.Untrack(p.cmd.Process.Pid)
	}
	if p.streamLog != nil {
		p.streamLog.Close()
	}

	p.result = p.classify(waitErr)
	p.stopTimer()
	p.cancel(nil)

	p.log.Info("CLI finished",
		"kind", p.result.Kind,
		"durationMs", p.result.DurationMs(),
		"exitCode", p.cmd.ProcessState.ExitCode())
}

func (p *Process) handle(ev Event) {
	p.mu.Lock()
	p.events = append(p.events, ev)
	switch {
	case ev.IsInit():
		if ev.SessionID != "" {
			p.initSessionID = ev.SessionID
			if ev.SessionID != p.sessionID {
				p.log.Warn("CLI reported a different session id", "reported", ev.SessionID)
			}
		}
	case ev.Type == EventResult:
		final := ev
		p.final = &final
	case ev.Type == EventAssistant && ev.ParentToolUseID == "":
		if text := ev.Text(); text != "" {
			p.fragments = append(p.fragments, text)
		}
	}
	p.mu.Unlock()

	if p.streamLog != nil {
		fmt.Fprintln(p.streamLog, ev.Raw)
	}
	if p.onEvent != nil {
		p.onEvent(ev)
	}
}

func (p *Process) classify(waitErr error) Result {
	p.mu.Lock()
	final := p.final
	fragments := p.fragments
	initID := p.initSessionID
	p.mu.Unlock()

	res := Result{
		SessionID: p.sessionID,
		Duration:  time.Since(p.started),
	}
	if initID != "" {
		res.SessionID = initID
	}
	if final != nil {
		res.CostUSD = final.TotalCostUSD
	}

	if errors.Is(context.Cause(p.ctx), ErrTimeout) {
		res.Kind = KindTimeout
		res.Error = fmt.Sprintf("The assistant did not finish within %s and was stopped. "+
			"Try a smaller request, or raise claude.timeout.", formatTimeout(p.timeout))
		return res
	}
	if p.ctx.Err() != nil {
		res.Kind = KindCanceled
		res.Error = "The request was canceled."
		return res
	}

	exitCode := p.cmd.ProcessState.ExitCode()
	if exitCode != 0 {
		return p.classifyFailure(res, exitCode, final, waitErr)
	}

	res.Success = true
	res.Kind = KindOK
	if final != nil && final.Result != "" {
		res.Output = final.Result
	} else {
		res.Output = strings.Join(fragments, "\n\n")
	}

	if p.isNew {
		if err := p.sessions.Confirm(p.userKey, p.sessionID); err != nil {
			p.log.Error("failed to confirm session", "error", err)
		}
	}
	return res
}

func (p *Process) classifyFailure(res Result, exitCode int, final *Event, waitErr error) Result {
	stderr := p.stderr.String()

	if !p.isNew && isSessionMissing(stderr) {
		newID, err := p.sessions.Reset(p.userKey)
		if err != nil {
			p.log.Error("failed to reset lost session", "error", err)
		} else {
			res.SessionID = newID
		}
		p.log.Warn("resumed session no longer exists, reset", "newSessionID", newID)
		res.Kind = KindSessionLost
		res.Error = "Your previous conversation could not be found, so a new one has been started. " +
			"Please send your message again."
		return res
	}

	if p.isNew && isSessionInUse(stderr) {
		if err := p.sessions.Confirm(p.userKey, p.sessionID); err != nil {
			p.log.Error("failed to confirm existing session", "error", err)
		}
		p.log.Warn("session id already known to CLI, marked as confirmed")
		res.Kind = KindSessionLost
		res.Error = "Your conversation was picked up from an earlier run. Please send your message again."
		return res
	}

	detail := errorTail(stderr)
	if detail == "" && final != nil {
		detail = errorTail(final.ErrorText())
	}
	if detail == "" && waitErr != nil {
		detail = errorTail(waitErr.Error())
	}
	p.log.Warn("CLI exited with error", "exitCode", exitCode, "stderr", truncateForLog(stderr))

	res.Kind = KindToolFailure
	if detail == "" {
		res.Error = fmt.Sprintf("The assistant exited with code %d.", exitCode)
	} else {
		res.Error = fmt.Sprintf("The assistant exited with code %d:\n%s", exitCode, detail)
	}
	return res
}

// Terminate cancels the turn: SIGTERM now, SIGKILL after the grace period.
// Calling it more than once, or after exit, has no further effect.
func (p *Process) Terminate() {
	p.cancel(ErrCanceled)
}

// Wait blocks until the process has exited and returns the turn result.
func (p *Process) Wait() Result {
	<-p.done
	return p.result
}

// Done is closed when the result is available.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// PID returns the operating system process id.
func (p *Process) PID() int {
	return p.cmd.Process.Pid
}

// Events returns a copy of the events received so far.
func (p *Process) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Event, len(p.events))
	copy(out, p.events)
	return out
}

func openStreamLog(sessionID string, log *slog.Logger) *os.File {
	path, err := logger.StreamLogPath(sessionID)
	if err != nil {
		log.Warn("stream log unavailable", "error", err)
		return nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		log.Warn("failed to open stream log", "path", path, "error", err)
		return nil
	}
	return f
}
