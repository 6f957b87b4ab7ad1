package manager

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/zhubert/plural-chat/claude"
	"github.com/zhubert/plural-chat/hooks"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeStatus struct {
	mu      sync.Mutex
	edits   []string
	deleted bool
}

func (s *fakeStatus) Edit(_ context.Context, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.edits = append(s.edits, text)
	return nil
}

func (s *fakeStatus) Delete(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleted = true
	return nil
}

func (s *fakeStatus) isDeleted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleted
}

func (s *fakeStatus) editCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.edits)
}

func (s *fakeStatus) lastEdit() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.edits) == 0 {
		return ""
	}
	return s.edits[len(s.edits)-1]
}

type fakeDelivery struct {
	mu       sync.Mutex
	notices  []string
	results  []claude.Result
	statuses []*fakeStatus
	sendErr  error

	// deletedAtDeliver records whether every status message was already gone
	// when the result arrived.
	deletedAtDeliver []bool
}

func (d *fakeDelivery) SendStatus(_ context.Context, _, text string) (StatusMessage, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.sendErr != nil {
		return nil, d.sendErr
	}
	s := &fakeStatus{edits: []string{text}}
	d.statuses = append(d.statuses, s)
	return s, nil
}

func (d *fakeDelivery) Notify(_ context.Context, _, text string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.notices = append(d.notices, text)
	return nil
}

func (d *fakeDelivery) Deliver(_ context.Context, _ string, res claude.Result) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.results = append(d.results, res)
	all := true
	for _, s := range d.statuses {
		all = all && s.isDeleted()
	}
	d.deletedAtDeliver = append(d.deletedAtDeliver, all)
	return nil
}

func (d *fakeDelivery) snapshot() (notices []string, results []claude.Result, statuses []*fakeStatus) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.notices...), append([]claude.Result(nil), d.results...), append([]*fakeStatus(nil), d.statuses...)
}

type fakeProc struct {
	result     claude.Result
	release    chan struct{}
	once       sync.Once
	terminated atomic.Bool
}

func newFakeProc(res claude.Result) *fakeProc {
	return &fakeProc{result: res, release: make(chan struct{})}
}

func (p *fakeProc) finish() {
	p.once.Do(func() { close(p.release) })
}

func (p *fakeProc) Wait() claude.Result {
	<-p.release
	if p.terminated.Load() {
		return claude.Result{Kind: claude.KindCanceled, Error: "canceled"}
	}
	return p.result
}

func (p *fakeProc) Terminate() {
	p.terminated.Store(true)
	p.finish()
}

type fakeStarter struct {
	mu       sync.Mutex
	requests []claude.Request
	procs    []*fakeProc
	next     func(onEvent func(claude.Event)) (*fakeProc, error)
}

func (s *fakeStarter) start(_ context.Context, req claude.Request, onEvent func(claude.Event)) (Process, error) {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	next := s.next
	s.mu.Unlock()

	p, err := next(onEvent)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.procs = append(s.procs, p)
	s.mu.Unlock()
	return p, nil
}

func (s *fakeStarter) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

func (s *fakeStarter) proc(i int) *fakeProc {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.procs[i]
}

// immediate returns processes that have already finished with res.
func immediate(res claude.Result) func(func(claude.Event)) (*fakeProc, error) {
	return func(func(claude.Event)) (*fakeProc, error) {
		p := newFakeProc(res)
		p.finish()
		return p, nil
	}
}

// held returns processes that run until finished or terminated.
func held(res claude.Result) func(func(claude.Event)) (*fakeProc, error) {
	return func(func(claude.Event)) (*fakeProc, error) {
		return newFakeProc(res), nil
	}
}

type fakeSessions struct {
	mu     sync.Mutex
	resets []string
}

func (s *fakeSessions) Reset(userKey string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resets = append(s.resets, userKey)
	return "fresh-" + userKey, nil
}

type testEnv struct {
	d        *Dispatcher
	starter  *fakeStarter
	delivery *fakeDelivery
	sessions *fakeSessions
	pipeline *hooks.Pipeline
}

func newTestEnv(next func(func(claude.Event)) (*fakeProc, error), hs ...hooks.Hook) *testEnv {
	env := &testEnv{
		starter:  &fakeStarter{next: next},
		delivery: &fakeDelivery{},
		sessions: &fakeSessions{},
		pipeline: hooks.NewPipeline(discardLogger(), hs...),
	}
	env.d = NewDispatcher(Options{
		Start:          env.starter.start,
		Sessions:       env.sessions,
		Delivery:       env.delivery,
		Hooks:          env.pipeline,
		Workspace:      "/work",
		StatusInterval: 10 * time.Millisecond,
		Log:            discardLogger(),
	})
	return env
}

// submitAsync runs Submit on a goroutine and waits until the job is visible.
func (e *testEnv) submitAsync(t *testing.T, userID, msg string) <-chan error {
	t.Helper()
	errCh := make(chan error, 1)
	go func() { errCh <- e.d.Submit(context.Background(), userID, "chat-"+userID, msg) }()
	require.Eventually(t, func() bool { return e.starter.count() > 0 && e.d.Busy(userID) }, 5*time.Second, time.Millisecond)
	return errCh
}

func waitErr(t *testing.T, ch <-chan error) error {
	t.Helper()
	select {
	case err := <-ch:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("Submit did not return")
		return nil
	}
}

type denyHook struct{ reply string }

func (h denyHook) Name() string { return "deny" }
func (h denyHook) BeforeTurn(context.Context, *hooks.TurnContext, string) (hooks.Outcome, error) {
	return hooks.Deny(h.reply), nil
}

type errHook struct{}

func (errHook) Name() string { return "policy" }
func (errHook) BeforeTurn(context.Context, *hooks.TurnContext, string) (hooks.Outcome, error) {
	return hooks.Outcome{}, errors.New("policy service unavailable")
}

type rewriteHook struct{}

func (rewriteHook) Name() string { return "rewrite" }
func (rewriteHook) BeforeTurn(_ context.Context, _ *hooks.TurnContext, msg string) (hooks.Outcome, error) {
	return hooks.Continue(strings.ToUpper(msg)), nil
}

type afterHook struct {
	fn func(claude.Result) (claude.Result, error)
}

func (afterHook) Name() string { return "after" }
func (h afterHook) AfterTurn(_ context.Context, _ *hooks.TurnContext, res claude.Result) (claude.Result, error) {
	return h.fn(res)
}

func TestSubmit_DeliversResult(t *testing.T) {
	env := newTestEnv(immediate(claude.Result{Success: true, Output: "hi there", Kind: claude.KindOK}), rewriteHook{})

	err := env.d.Submit(context.Background(), "u1", "c1", "hello")
	require.NoError(t, err)

	notices, results, statuses := env.delivery.snapshot()
	assert.Empty(t, notices)
	require.Len(t, results, 1)
	assert.Equal(t, "hi there", results[0].Output)
	require.Len(t, statuses, 1)
	assert.True(t, statuses[0].isDeleted())
	assert.Equal(t, []bool{true}, env.delivery.deletedAtDeliver)

	require.Equal(t, 1, env.starter.count())
	assert.Equal(t, claude.Request{UserKey: "u1", Message: "HELLO"}, env.starter.requests[0])
	assert.False(t, env.d.Busy("u1"))
}

func TestSubmit_BusyRejectsSecondMessage(t *testing.T) {
	env := newTestEnv(held(claude.Result{Success: true, Output: "first"}))

	errCh := env.submitAsync(t, "u1", "first")

	err := env.d.Submit(context.Background(), "u1", "chat-u1", "second")
	require.ErrorIs(t, err, ErrBusy)
	assert.Equal(t, 1, env.starter.count(), "busy submit must not start a second process")

	notices, _, _ := env.delivery.snapshot()
	assert.Equal(t, []string{BusyNotice}, notices)

	// Other users are unaffected.
	assert.False(t, env.d.Busy("u2"))

	env.starter.proc(0).finish()
	require.NoError(t, waitErr(t, errCh))

	_, results, _ := env.delivery.snapshot()
	require.Len(t, results, 1)
	assert.Equal(t, "first", results[0].Output)
	assert.False(t, env.d.Busy("u1"))
}

func TestSubmit_DenyPreventsSpawn(t *testing.T) {
	env := newTestEnv(immediate(claude.Result{Success: true}), denyHook{reply: "blocked"})

	require.NoError(t, env.d.Submit(context.Background(), "u1", "c1", "hello"))

	notices, results, statuses := env.delivery.snapshot()
	assert.Equal(t, []string{"blocked"}, notices)
	assert.Empty(t, results)
	assert.Empty(t, statuses)
	assert.Zero(t, env.starter.count())
	assert.False(t, env.d.Busy("u1"))
}

func TestSubmit_DenyWithoutReplyIsSilent(t *testing.T) {
	env := newTestEnv(immediate(claude.Result{Success: true}), denyHook{})

	require.NoError(t, env.d.Submit(context.Background(), "u1", "c1", "hello"))

	notices, _, _ := env.delivery.snapshot()
	assert.Empty(t, notices)
	assert.Zero(t, env.starter.count())
}

func TestSubmit_HookErrorFailsClosed(t *testing.T) {
	env := newTestEnv(immediate(claude.Result{Success: true}), errHook{})

	require.NoError(t, env.d.Submit(context.Background(), "u1", "c1", "hello"))

	notices, results, _ := env.delivery.snapshot()
	require.Len(t, notices, 1)
	assert.Contains(t, notices[0], "policy")
	assert.NotContains(t, notices[0], "unavailable")
	assert.Empty(t, results)
	assert.Zero(t, env.starter.count())
}

func TestSubmit_AfterHookErrorCarriesForward(t *testing.T) {
	env := newTestEnv(immediate(claude.Result{Success: true, Output: "answer"}),
		afterHook{fn: func(res claude.Result) (claude.Result, error) {
			res.Output = "clobbered"
			return res, errors.New("formatter crashed")
		}},
	)

	require.NoError(t, env.d.Submit(context.Background(), "u1", "c1", "hello"))

	_, results, _ := env.delivery.snapshot()
	require.Len(t, results, 1)
	assert.Equal(t, "answer", results[0].Output)
	assert.True(t, results[0].Success)
}

func TestSubmit_AfterHookTransforms(t *testing.T) {
	env := newTestEnv(immediate(claude.Result{Success: true, Output: "answer"}),
		afterHook{fn: func(res claude.Result) (claude.Result, error) {
			res.Output += "\n-- bot"
			return res, nil
		}},
	)

	require.NoError(t, env.d.Submit(context.Background(), "u1", "c1", "hello"))

	_, results, _ := env.delivery.snapshot()
	require.Len(t, results, 1)
	assert.Equal(t, "answer\n-- bot", results[0].Output)
}

func TestSubmit_SpawnFailureIsDelivered(t *testing.T) {
	env := newTestEnv(func(func(claude.Event)) (*fakeProc, error) {
		return nil, errors.New("start /usr/local/bin/claude: no such file or directory")
	})

	require.NoError(t, env.d.Submit(context.Background(), "u1", "c1", "hello"))

	_, results, statuses := env.delivery.snapshot()
	require.Len(t, results, 1)
	assert.Equal(t, claude.KindSpawnFailure, results[0].Kind)
	assert.False(t, results[0].Success)
	assert.NotContains(t, results[0].Error, "/usr/local/bin")
	require.Len(t, statuses, 1)
	assert.True(t, statuses[0].isDeleted())
}

func TestSubmit_StatusSendFailure(t *testing.T) {
	env := newTestEnv(immediate(claude.Result{Success: true}))
	env.delivery.sendErr = errors.New("chat unavailable")

	err := env.d.Submit(context.Background(), "u1", "c1", "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "send status message")

	notices, _, _ := env.delivery.snapshot()
	assert.Equal(t, []string{internalErrorNotice}, notices)
	assert.Zero(t, env.starter.count())
	assert.False(t, env.d.Busy("u1"), "a failed turn must release the user")
}

func TestSubmit_StatusTracksEvents(t *testing.T) {
	env := newTestEnv(func(onEvent func(claude.Event)) (*fakeProc, error) {
		ev, _ := claude.ParseEvent(`{"type":"assistant","message":{"content":[{"type":"tool_use","name":"Read","input":{"file_path":"/repo/main.go"}}]}}`, discardLogger())
		onEvent(ev)
		return newFakeProc(claude.Result{Success: true, Output: "done"}), nil
	})

	errCh := env.submitAsync(t, "u1", "look at main.go")

	var status *fakeStatus
	require.Eventually(t, func() bool {
		_, _, statuses := env.delivery.snapshot()
		if len(statuses) == 0 {
			return false
		}
		status = statuses[0]
		return strings.HasPrefix(status.lastEdit(), "Reading main.go")
	}, 5*time.Second, time.Millisecond)

	env.starter.proc(0).finish()
	require.NoError(t, waitErr(t, errCh))

	n := status.editCount()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, n, status.editCount(), "reporter must stop when the turn settles")
}

func TestCancel_NoJob(t *testing.T) {
	env := newTestEnv(immediate(claude.Result{}))
	assert.False(t, env.d.Cancel("nobody"))
}

func TestCancel_SuppressesDelivery(t *testing.T) {
	env := newTestEnv(held(claude.Result{Success: true, Output: "late"}))

	errCh := env.submitAsync(t, "u1", "long task")
	require.Eventually(t, func() bool {
		env.starter.mu.Lock()
		defer env.starter.mu.Unlock()
		return len(env.starter.procs) == 1
	}, 5*time.Second, time.Millisecond)

	assert.True(t, env.d.Cancel("u1"))
	assert.False(t, env.d.Cancel("u1"), "second cancel is a no-op")

	require.NoError(t, waitErr(t, errCh))

	assert.True(t, env.starter.proc(0).terminated.Load())
	_, results, statuses := env.delivery.snapshot()
	assert.Empty(t, results, "canceled turns are not delivered")
	require.Len(t, statuses, 1)
	assert.True(t, statuses[0].isDeleted())
	assert.False(t, env.d.Busy("u1"))
}

func TestCancel_DuringBeforeHooksSkipsSpawn(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	gate := &gateHook{entered: entered, release: release}
	env := newTestEnv(immediate(claude.Result{Success: true}), gate)

	errCh := make(chan error, 1)
	go func() { errCh <- env.d.Submit(context.Background(), "u1", "c1", "hello") }()

	<-entered
	assert.True(t, env.d.Busy("u1"), "busy guard covers the hook stage")
	assert.True(t, env.d.Cancel("u1"))
	close(release)

	require.NoError(t, waitErr(t, errCh))
	assert.Zero(t, env.starter.count())
	_, results, statuses := env.delivery.snapshot()
	assert.Empty(t, results)
	assert.Empty(t, statuses)
}

type gateHook struct {
	entered chan struct{}
	release chan struct{}
}

func (g *gateHook) Name() string { return "gate" }
func (g *gateHook) BeforeTurn(_ context.Context, _ *hooks.TurnContext, msg string) (hooks.Outcome, error) {
	close(g.entered)
	<-g.release
	return hooks.Continue(msg), nil
}

func TestCancel_RacesNaturalCompletion(t *testing.T) {
	for range 50 {
		env := newTestEnv(held(claude.Result{Success: true, Output: "ok"}))
		errCh := env.submitAsync(t, "u1", "hi")
		require.Eventually(t, func() bool {
			env.starter.mu.Lock()
			defer env.starter.mu.Unlock()
			return len(env.starter.procs) == 1
		}, 5*time.Second, time.Millisecond)

		go env.starter.proc(0).finish()
		canceled := env.d.Cancel("u1")

		require.NoError(t, waitErr(t, errCh))
		_, results, _ := env.delivery.snapshot()
		if !canceled {
			assert.Len(t, results, 1, "an uncanceled turn is delivered")
		}
		assert.LessOrEqual(t, len(results), 1)
		assert.False(t, env.d.Busy("u1"))
	}
}

func TestClear_ResetsWhenIdle(t *testing.T) {
	env := newTestEnv(immediate(claude.Result{}))

	id, err := env.d.Clear(context.Background(), "u1", "c1")
	require.NoError(t, err)
	assert.Equal(t, "fresh-u1", id)
	assert.Equal(t, []string{"u1"}, env.sessions.resets)

	notices, _, _ := env.delivery.snapshot()
	assert.Equal(t, []string{ClearedNotice}, notices)
}

func TestClear_CancelsRunningTurn(t *testing.T) {
	env := newTestEnv(held(claude.Result{Success: true, Output: "late"}))

	errCh := env.submitAsync(t, "u1", "long task")
	require.Eventually(t, func() bool {
		env.starter.mu.Lock()
		defer env.starter.mu.Unlock()
		return len(env.starter.procs) == 1
	}, 5*time.Second, time.Millisecond)

	_, err := env.d.Clear(context.Background(), "u1", "chat-u1")
	require.NoError(t, err)
	require.NoError(t, waitErr(t, errCh))

	assert.True(t, env.starter.proc(0).terminated.Load())
	assert.Equal(t, []string{"u1"}, env.sessions.resets)
	_, results, _ := env.delivery.snapshot()
	assert.Empty(t, results)
}

func TestHandle_Routing(t *testing.T) {
	env := newTestEnv(immediate(claude.Result{Success: true, Output: "answer"}))
	ctx := context.Background()

	require.NoError(t, env.d.Handle(ctx, "u1", "c1", "/cancel"))
	require.NoError(t, env.d.Handle(ctx, "u1", "c1", "/clear@plural_bot"))
	require.NoError(t, env.d.Handle(ctx, "u1", "c1", "what is /cancel for?"))

	notices, results, _ := env.delivery.snapshot()
	assert.Equal(t, []string{NothingToCancel, ClearedNotice}, notices)
	require.Len(t, results, 1)
	assert.Equal(t, []string{"u1"}, env.sessions.resets)
	assert.Equal(t, "what is /cancel for?", env.starter.requests[0].Message)
}

func TestCommand(t *testing.T) {
	tests := map[string]string{
		"/cancel":          "/cancel",
		"  /Clear  ":       "/clear",
		"/new@my_bot":      "/new",
		"/reset please":    "/reset",
		"hello /cancel":    "",
		"":                 "",
		"plain message":    "",
		"/unknown command": "/unknown",
	}
	for in, want := range tests {
		assert.Equal(t, want, command(in), "command(%q)", in)
	}
}
