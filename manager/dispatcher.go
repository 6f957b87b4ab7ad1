// Package manager turns incoming chat messages into assistant turns. It keeps
// at most one turn in flight per user, runs the hook pipeline around each
// turn, mirrors progress into a status message and delivers the result.
package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/zhubert/plural-chat/claude"
	"github.com/zhubert/plural-chat/hooks"
	"github.com/zhubert/plural-chat/status"
)

// ErrBusy is returned by Submit while the user already has a turn running.
var ErrBusy = errors.New("a turn is already running for this user")

// User-visible notices.
const (
	BusyNotice          = "Still working on your previous message. Send /cancel to stop it."
	CanceledNotice      = "Canceled."
	NothingToCancel     = "Nothing to cancel."
	ClearedNotice       = "Started a new conversation."
	internalErrorNotice = "Something went wrong while handling your message. Please try again."
)

// cleanupTimeout bounds settlement calls made after the caller's context is
// gone.
const cleanupTimeout = 10 * time.Second

// Options configures a Dispatcher.
type Options struct {
	Start          StartFunc
	Sessions       SessionResetter
	Delivery       Delivery
	Hooks          *hooks.Pipeline
	Workspace      string
	StatusInterval time.Duration
	Log            *slog.Logger
}

// Dispatcher owns the in-flight job registry.
type Dispatcher struct {
	start     StartFunc
	sessions  SessionResetter
	delivery  Delivery
	hooks     *hooks.Pipeline
	workspace string
	interval  time.Duration
	log       *slog.Logger

	mu   sync.Mutex
	jobs map[string]*job
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(opts Options) *Dispatcher {
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	if opts.Hooks == nil {
		opts.Hooks = hooks.NewPipeline(opts.Log)
	}
	return &Dispatcher{
		start:     opts.Start,
		sessions:  opts.Sessions,
		delivery:  opts.Delivery,
		hooks:     opts.Hooks,
		workspace: opts.Workspace,
		interval:  opts.StatusInterval,
		log:       opts.Log,
		jobs:      make(map[string]*job),
	}
}

// Busy reports whether userID has a turn in flight.
func (d *Dispatcher) Busy(userID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.jobs[userID]
	return ok
}

func (d *Dispatcher) reserve(userID, chatID string) (*job, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.jobs[userID]; ok {
		return nil, false
	}
	j := &job{userID: userID, chatID: chatID}
	d.jobs[userID] = j
	return j, true
}

// release removes j only if it is still the registered job for its user.
func (d *Dispatcher) release(j *job) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.jobs[j.userID] == j {
		delete(d.jobs, j.userID)
	}
}

func (d *Dispatcher) isCurrent(j *job) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.jobs[j.userID] == j
}

// Submit runs one turn for userID and blocks until it settles. While a turn
// is in flight further submissions get a busy notice and ErrBusy.
func (d *Dispatcher) Submit(ctx context.Context, userID, chatID, raw string) error {
	log := d.log.With("userID", userID, "chatID", chatID)

	j, ok := d.reserve(userID, chatID)
	if !ok {
		log.Info("rejected message while busy")
		d.notify(ctx, chatID, BusyNotice)
		return ErrBusy
	}
	defer d.release(j)

	if err := d.runTurn(ctx, j, raw, log); err != nil {
		log.Error("turn failed", "error", err)
		d.notify(context.WithoutCancel(ctx), chatID, internalErrorNotice)
		return err
	}
	return nil
}

func (d *Dispatcher) runTurn(ctx context.Context, j *job, raw string, log *slog.Logger) error {
	tc := &hooks.TurnContext{
		UserID:    j.userID,
		ChatID:    j.chatID,
		Workspace: d.workspace,
		StartedAt: time.Now(),
	}

	out := d.hooks.Before(ctx, tc, raw)
	if out.Denied {
		if out.Reply != "" {
			d.notify(ctx, j.chatID, out.Reply)
		}
		return nil
	}
	if j.isCanceled() {
		log.Debug("canceled during before hooks")
		return nil
	}

	msg, err := d.delivery.SendStatus(ctx, j.chatID, status.InitialText())
	if err != nil {
		return fmt.Errorf("send status message: %w", err)
	}
	rep := status.Start(msg, status.Options{Interval: d.interval, Log: log})
	settle := sync.OnceFunc(func() {
		rep.Stop()
		d.deleteStatus(ctx, msg, log)
	})
	defer settle()

	if !j.attachReporter(rep) {
		log.Debug("canceled before start")
		return nil
	}

	var res claude.Result
	started := time.Now()
	proc, err := d.start(ctx, claude.Request{UserKey: j.userID, Message: out.Message}, rep.OnEvent)
	if err != nil {
		log.Error("could not start turn", "error", err)
		res = claude.SpawnFailure(err, time.Since(started))
	} else {
		if !j.attachProcess(proc) {
			proc.Terminate()
		}
		res = proc.Wait()
	}
	settle()

	if j.isCanceled() || !d.isCurrent(j) {
		log.Info("turn canceled", "kind", res.Kind, "duration", res.Duration)
		return nil
	}

	settleCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()

	res = d.hooks.After(settleCtx, tc, res)
	log.Info("turn finished", "kind", res.Kind, "success", res.Success, "duration", res.Duration)
	if err := d.delivery.Deliver(settleCtx, j.chatID, res); err != nil {
		return fmt.Errorf("deliver result: %w", err)
	}
	return nil
}

// Cancel stops the user's in-flight turn. It reports false when there is
// nothing to cancel or a cancel is already under way.
func (d *Dispatcher) Cancel(userID string) bool {
	d.mu.Lock()
	j := d.jobs[userID]
	d.mu.Unlock()
	if j == nil {
		return false
	}
	if !j.cancel() {
		return false
	}
	d.log.Info("turn cancel requested", "userID", userID)
	return true
}

// Clear cancels any in-flight turn and starts a fresh conversation for
// userID. It returns the new session id.
func (d *Dispatcher) Clear(ctx context.Context, userID, chatID string) (string, error) {
	d.Cancel(userID)

	id, err := d.sessions.Reset(userID)
	if err != nil {
		return "", fmt.Errorf("reset session: %w", err)
	}
	d.notify(ctx, chatID, ClearedNotice)
	return id, nil
}

// Handle routes chat commands and submits everything else as a turn.
func (d *Dispatcher) Handle(ctx context.Context, userID, chatID, text string) error {
	switch command(text) {
	case "/cancel", "/stop":
		if d.Cancel(userID) {
			d.notify(ctx, chatID, CanceledNotice)
		} else {
			d.notify(ctx, chatID, NothingToCancel)
		}
		return nil
	case "/clear", "/new", "/reset":
		_, err := d.Clear(ctx, userID, chatID)
		return err
	}
	return d.Submit(ctx, userID, chatID, text)
}

// command extracts a leading slash command, dropping a "@botname" suffix.
func command(text string) string {
	fields := strings.Fields(text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return ""
	}
	cmd, _, _ := strings.Cut(fields[0], "@")
	return strings.ToLower(cmd)
}

func (d *Dispatcher) notify(ctx context.Context, chatID, text string) {
	if err := d.delivery.Notify(ctx, chatID, text); err != nil {
		d.log.Warn("notify failed", "chatID", chatID, "error", err)
	}
}

func (d *Dispatcher) deleteStatus(ctx context.Context, msg StatusMessage, log *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()
	if err := msg.Delete(ctx); err != nil {
		log.Debug("delete status message failed", "error", err)
	}
}
