// Package hooks runs before/after transforms around each assistant turn.
//
// A hook is any value with a Name. It takes part in a stage by also
// implementing BeforeHook or AfterHook, and may opt into lifecycle calls
// through Initializer and Disposer.
package hooks

import (
	"context"
	"time"

	"github.com/zhubert/plural-chat/claude"
)

// TurnContext is shared by every hook invoked for one turn.
type TurnContext struct {
	UserID    string
	ChatID    string
	Workspace string
	StartedAt time.Time
}

// Outcome is the result of the before stage: either continue with a
// (possibly rewritten) message, or deny the turn with an optional reply.
type Outcome struct {
	Denied  bool
	Message string
	Reply   string
}

// Continue lets the turn proceed with msg.
func Continue(msg string) Outcome {
	return Outcome{Message: msg}
}

// Deny stops the turn. reply, if non-empty, is sent to the user verbatim.
func Deny(reply string) Outcome {
	return Outcome{Denied: true, Reply: reply}
}

// Hook is the base capability every hook has.
type Hook interface {
	Name() string
}

// BeforeHook may rewrite or refuse a message before the assistant sees it.
type BeforeHook interface {
	Hook
	BeforeTurn(ctx context.Context, tc *TurnContext, msg string) (Outcome, error)
}

// AfterHook may rewrite the result before it is delivered.
type AfterHook interface {
	Hook
	AfterTurn(ctx context.Context, tc *TurnContext, res claude.Result) (claude.Result, error)
}

// Initializer is called once before the pipeline serves turns.
type Initializer interface {
	Init(ctx context.Context) error
}

// Disposer is called once on shutdown.
type Disposer interface {
	Dispose() error
}
