package hooks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/zhubert/plural-chat/claude"
)

// Pipeline runs hooks in registration order.
type Pipeline struct {
	mu    sync.RWMutex
	hooks []Hook
	log   *slog.Logger
}

// NewPipeline creates a pipeline over hooks.
func NewPipeline(log *slog.Logger, hooks ...Hook) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{hooks: hooks, log: log}
}

// Add appends hooks to the end of the chain.
func (p *Pipeline) Add(hooks ...Hook) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.hooks = append(p.hooks, hooks...)
}

// Names lists the registered hooks in order.
func (p *Pipeline) Names() []string {
	hs := p.snapshot()
	names := make([]string, len(hs))
	for i, h := range hs {
		names[i] = h.Name()
	}
	return names
}

func (p *Pipeline) snapshot() []Hook {
	p.mu.RLock()
	defer p.mu.RUnlock()
	hs := make([]Hook, len(p.hooks))
	copy(hs, p.hooks)
	return hs
}

// Before threads msg through every BeforeHook. A Deny, an error or a panic
// halts the chain; errors and panics become a Deny with a diagnostic reply.
func (p *Pipeline) Before(ctx context.Context, tc *TurnContext, msg string) Outcome {
	for _, h := range p.snapshot() {
		bh, ok := h.(BeforeHook)
		if !ok {
			continue
		}

		var out Outcome
		err := guard(h.Name(), func() error {
			var err error
			out, err = bh.BeforeTurn(ctx, tc, msg)
			return err
		})
		if err != nil {
			p.log.Error("before hook failed, denying turn", "hook", h.Name(), "userID", tc.UserID, "error", err)
			return Deny(failureReply(h.Name()))
		}
		if out.Denied {
			p.log.Info("turn denied by hook", "hook", h.Name(), "userID", tc.UserID)
			return out
		}
		msg = out.Message
	}
	return Continue(msg)
}

// After threads res through every AfterHook. A failing hook is logged and
// skipped; the previous result carries forward.
func (p *Pipeline) After(ctx context.Context, tc *TurnContext, res claude.Result) claude.Result {
	for _, h := range p.snapshot() {
		ah, ok := h.(AfterHook)
		if !ok {
			continue
		}

		var next claude.Result
		err := guard(h.Name(), func() error {
			var err error
			next, err = ah.AfterTurn(ctx, tc, res)
			return err
		})
		if err != nil {
			p.log.Warn("after hook failed, skipping", "hook", h.Name(), "userID", tc.UserID, "error", err)
			continue
		}
		res = next
	}
	return res
}

// Init calls Init on every hook that has one. The first failure aborts.
func (p *Pipeline) Init(ctx context.Context) error {
	for _, h := range p.snapshot() {
		in, ok := h.(Initializer)
		if !ok {
			continue
		}
		if err := guard(h.Name(), func() error { return in.Init(ctx) }); err != nil {
			return fmt.Errorf("init hook %s: %w", h.Name(), err)
		}
	}
	return nil
}

// Dispose calls Dispose on every hook that has one, in reverse order, and
// joins the errors.
func (p *Pipeline) Dispose() error {
	hs := p.snapshot()
	var errs []error
	for i := len(hs) - 1; i >= 0; i-- {
		d, ok := hs[i].(Disposer)
		if !ok {
			continue
		}
		if err := guard(hs[i].Name(), d.Dispose); err != nil {
			errs = append(errs, fmt.Errorf("dispose hook %s: %w", hs[i].Name(), err))
		}
	}
	return errors.Join(errs...)
}

func guard(name string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("hook %s panicked: %v", name, r)
		}
	}()
	return fn()
}

func failureReply(name string) string {
	return fmt.Sprintf("Your message was not processed: the %s check failed. Please try again later.", name)
}
