package hooks

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/zhubert/plural-chat/claude"
	"github.com/zhubert/plural-chat/exec"
)

// DefaultShellTimeout bounds a single shell hook run.
const DefaultShellTimeout = 30 * time.Second

// ShellHook runs shell commands around a turn. The message (before) or the
// output (after) is written to the command's stdin, and the turn is
// described through PLURAL_CHAT_* environment variables.
//
// Before: a non-zero exit denies the turn with stdout as the reply; non-empty
// stdout otherwise replaces the message. After: non-empty stdout replaces the
// output.
type ShellHook struct {
	name     string
	before   string
	after    string
	timeout  time.Duration
	executor exec.CommandExecutor
	log      *slog.Logger
}

// NewShellHook builds a hook from its file entry. A nil executor uses the
// package default.
func NewShellHook(cfg ShellConfig, executor exec.CommandExecutor, log *slog.Logger) *ShellHook {
	if executor == nil {
		executor = exec.GetDefaultExecutor()
	}
	if log == nil {
		log = slog.Default()
	}
	timeout := cfg.Timeout.Duration
	if timeout <= 0 {
		timeout = DefaultShellTimeout
	}
	return &ShellHook{
		name:     cfg.Name,
		before:   cfg.Before,
		after:    cfg.After,
		timeout:  timeout,
		executor: executor,
		log:      log,
	}
}

func (h *ShellHook) Name() string { return h.name }

func (h *ShellHook) BeforeTurn(ctx context.Context, tc *TurnContext, msg string) (Outcome, error) {
	if h.before == "" {
		return Continue(msg), nil
	}

	stdout, stderr, err := h.run(ctx, h.before, tc, "before", nil, msg)
	if err != nil {
		if code, ok := exec.ExitCode(err); ok {
			h.log.Info("shell hook denied turn", "hook", h.name, "exitCode", code, "stderr", strings.TrimSpace(string(stderr)))
			return Deny(strings.TrimSpace(string(stdout))), nil
		}
		return Outcome{}, fmt.Errorf("run %s: %w", h.name, err)
	}

	if out := strings.TrimSpace(string(stdout)); out != "" {
		return Continue(out), nil
	}
	return Continue(msg), nil
}

func (h *ShellHook) AfterTurn(ctx context.Context, tc *TurnContext, res claude.Result) (claude.Result, error) {
	if h.after == "" {
		return res, nil
	}

	env := []string{
		"PLURAL_CHAT_SUCCESS=" + strconv.FormatBool(res.Success),
		"PLURAL_CHAT_KIND=" + string(res.Kind),
		"PLURAL_CHAT_SESSION_ID=" + res.SessionID,
		"PLURAL_CHAT_DURATION_MS=" + strconv.FormatInt(res.DurationMs(), 10),
	}
	if res.CostUSD != nil {
		env = append(env, "PLURAL_CHAT_COST_USD="+strconv.FormatFloat(*res.CostUSD, 'f', -1, 64))
	}

	stdout, _, err := h.run(ctx, h.after, tc, "after", env, res.Output)
	if err != nil {
		return res, fmt.Errorf("run %s: %w", h.name, err)
	}
	if out := strings.TrimSpace(string(stdout)); out != "" {
		res.Output = out
	}
	return res, nil
}

func (h *ShellHook) run(ctx context.Context, script string, tc *TurnContext, phase string, extra []string, stdin string) (stdout, stderr []byte, err error) {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	env := append(tc.envVars(phase), extra...)
	return h.executor.Run(ctx, exec.Command{
		Dir:   tc.Workspace,
		Name:  "sh",
		Args:  []string{"-c", script},
		Env:   env,
		Stdin: []byte(stdin),
	})
}

// envVars returns the turn context as environment variable pairs.
func (tc *TurnContext) envVars(phase string) []string {
	return []string{
		"PLURAL_CHAT_PHASE=" + phase,
		"PLURAL_CHAT_USER_ID=" + tc.UserID,
		"PLURAL_CHAT_CHAT_ID=" + tc.ChatID,
		"PLURAL_CHAT_WORKSPACE=" + tc.Workspace,
	}
}
