package hooks

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhubert/plural-chat/claude"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// funcHook adapts plain functions to the hook interfaces.
type funcHook struct {
	name     string
	before   func(msg string) (Outcome, error)
	after    func(res claude.Result) (claude.Result, error)
	calls    *[]string
	initErr  error
	inited   bool
	disposed bool
}

func (h *funcHook) Name() string { return h.name }

func (h *funcHook) BeforeTurn(_ context.Context, _ *TurnContext, msg string) (Outcome, error) {
	if h.calls != nil {
		*h.calls = append(*h.calls, h.name)
	}
	if h.before == nil {
		return Continue(msg), nil
	}
	return h.before(msg)
}

func (h *funcHook) AfterTurn(_ context.Context, _ *TurnContext, res claude.Result) (claude.Result, error) {
	if h.calls != nil {
		*h.calls = append(*h.calls, h.name)
	}
	if h.after == nil {
		return res, nil
	}
	return h.after(res)
}

func (h *funcHook) Init(context.Context) error {
	h.inited = true
	return h.initErr
}

func (h *funcHook) Dispose() error {
	h.disposed = true
	return nil
}

// nameOnly implements neither stage.
type nameOnly struct{}

func (nameOnly) Name() string { return "inert" }

func tc() *TurnContext {
	return &TurnContext{UserID: "u1", ChatID: "c1"}
}

func TestPipeline_BeforeThreadsMessage(t *testing.T) {
	p := NewPipeline(discardLogger(),
		&funcHook{name: "upper", before: func(msg string) (Outcome, error) { return Continue(msg + "!"), nil }},
		nameOnly{},
		&funcHook{name: "prefix", before: func(msg string) (Outcome, error) { return Continue("> " + msg), nil }},
	)

	out := p.Before(context.Background(), tc(), "hi")
	assert.False(t, out.Denied)
	assert.Equal(t, "> hi!", out.Message)
}

func TestPipeline_DenyHaltsChain(t *testing.T) {
	var calls []string
	p := NewPipeline(discardLogger(),
		&funcHook{name: "a", calls: &calls},
		&funcHook{name: "b", calls: &calls, before: func(string) (Outcome, error) { return Deny("blocked"), nil }},
		&funcHook{name: "c", calls: &calls},
	)

	out := p.Before(context.Background(), tc(), "hi")
	assert.True(t, out.Denied)
	assert.Equal(t, "blocked", out.Reply)
	assert.Equal(t, []string{"a", "b"}, calls)
}

func TestPipeline_BeforeErrorIsDeny(t *testing.T) {
	var calls []string
	p := NewPipeline(discardLogger(),
		&funcHook{name: "broken", calls: &calls, before: func(string) (Outcome, error) { return Outcome{}, errors.New("db down") }},
		&funcHook{name: "never", calls: &calls},
	)

	out := p.Before(context.Background(), tc(), "hi")
	assert.True(t, out.Denied)
	assert.Contains(t, out.Reply, "broken")
	assert.NotContains(t, out.Reply, "db down")
	assert.Equal(t, []string{"broken"}, calls)
}

func TestPipeline_BeforePanicIsDeny(t *testing.T) {
	p := NewPipeline(discardLogger(),
		&funcHook{name: "panicky", before: func(string) (Outcome, error) { panic("boom") }},
	)

	var out Outcome
	require.NotPanics(t, func() { out = p.Before(context.Background(), tc(), "hi") })
	assert.True(t, out.Denied)
}

func TestPipeline_AfterFailOpen(t *testing.T) {
	p := NewPipeline(discardLogger(),
		&funcHook{name: "tag", after: func(res claude.Result) (claude.Result, error) {
			res.Output += " [a]"
			return res, nil
		}},
		&funcHook{name: "broken", after: func(res claude.Result) (claude.Result, error) {
			res.Output = "garbage"
			return res, errors.New("nope")
		}},
		&funcHook{name: "panicky", after: func(claude.Result) (claude.Result, error) { panic("boom") }},
		&funcHook{name: "tag2", after: func(res claude.Result) (claude.Result, error) {
			res.Output += " [b]"
			return res, nil
		}},
	)

	res := p.After(context.Background(), tc(), claude.Result{Success: true, Output: "answer"})
	assert.True(t, res.Success)
	assert.Equal(t, "answer [a] [b]", res.Output)
}

func TestPipeline_InitDispose(t *testing.T) {
	a := &funcHook{name: "a"}
	b := &funcHook{name: "b"}
	p := NewPipeline(discardLogger(), a, nameOnly{}, b)

	require.NoError(t, p.Init(context.Background()))
	assert.True(t, a.inited)
	assert.True(t, b.inited)

	require.NoError(t, p.Dispose())
	assert.True(t, a.disposed)
	assert.True(t, b.disposed)
}

func TestPipeline_InitError(t *testing.T) {
	p := NewPipeline(discardLogger(), &funcHook{name: "bad", initErr: errors.New("no token")})
	err := p.Init(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad")
}

func TestPipeline_AddAndNames(t *testing.T) {
	p := NewPipeline(nil)
	assert.Empty(t, p.Names())

	p.Add(NewAllowlist(nil), nameOnly{})
	assert.Equal(t, []string{"allowlist", "inert"}, p.Names())

	out := p.Before(context.Background(), tc(), "unchanged")
	assert.Equal(t, Continue("unchanged"), out)
}

func TestAllowlist(t *testing.T) {
	a := NewAllowlist(nil)
	assert.True(t, a.Allowed("anyone"), "empty list allows everyone")

	a.Set([]string{" u1 ", "u2", ""})
	assert.True(t, a.Allowed("u1"))
	assert.True(t, a.Allowed("u2"))
	assert.False(t, a.Allowed("u3"))

	out, err := a.BeforeTurn(context.Background(), &TurnContext{UserID: "u3"}, "hi")
	require.NoError(t, err)
	assert.True(t, out.Denied)
	assert.Equal(t, NotAllowedReply, out.Reply)

	out, err = a.BeforeTurn(context.Background(), &TurnContext{UserID: "u1"}, "hi")
	require.NoError(t, err)
	assert.Equal(t, Continue("hi"), out)

	a.Set(nil)
	assert.True(t, a.Allowed("u3"), "swapping to an empty list reopens access")
}
