package manager

import (
	"context"

	"github.com/zhubert/plural-chat/claude"
)

// StatusMessage is an interim chat message kept up to date while a turn
// runs. The dispatcher deletes it once the turn settles.
type StatusMessage interface {
	Edit(ctx context.Context, text string) error
	Delete(ctx context.Context) error
}

// Delivery is the chat transport as seen by the dispatcher.
type Delivery interface {
	// SendStatus posts a new status message to chatID.
	SendStatus(ctx context.Context, chatID, text string) (StatusMessage, error)

	// Notify posts a short notice, such as a busy or denial reply.
	Notify(ctx context.Context, chatID, text string) error

	// Deliver posts the final result of a turn.
	Deliver(ctx context.Context, chatID string, res claude.Result) error
}

// Process is a started turn.
type Process interface {
	Wait() claude.Result
	Terminate()
}

// StartFunc starts a turn. This allows tests to inject fake processes.
type StartFunc func(ctx context.Context, req claude.Request, onEvent func(claude.Event)) (Process, error)

// ClaudeStarter adapts a claude.Runner to a StartFunc.
func ClaudeStarter(r *claude.Runner) StartFunc {
	return func(ctx context.Context, req claude.Request, onEvent func(claude.Event)) (Process, error) {
		p, err := r.Start(ctx, req, onEvent)
		if err != nil {
			return nil, err
		}
		return p, nil
	}
}

// SessionResetter discards a user's conversation.
type SessionResetter interface {
	Reset(userKey string) (string, error)
}

// Compile-time interface satisfaction check.
var _ Process = (*claude.Process)(nil)
