package status

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/zhubert/plural-chat/claude"
)

// DefaultInterval is how often the status message is refreshed.
const DefaultInterval = 3 * time.Second

// Surface is the message being kept up to date.
type Surface interface {
	Edit(ctx context.Context, text string) error
}

// Options configures a Reporter.
type Options struct {
	Interval time.Duration
	Log      *slog.Logger
	Now      func() time.Time // for tests
}

// Reporter refreshes a Surface on a fixed interval with the latest activity
// and the elapsed time. It never deletes the surface.
type Reporter struct {
	surface  Surface
	interval time.Duration
	log      *slog.Logger
	now      func() time.Time
	started  time.Time

	mu       sync.Mutex
	activity Activity
	detail   string
	lastText string

	ctx      context.Context
	cancel   context.CancelFunc
	stopOnce sync.Once
	doneCh   chan struct{}
}

// Start begins refreshing surface and returns the running Reporter.
func Start(surface Surface, opts Options) *Reporter {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &Reporter{
		surface:  surface,
		interval: opts.Interval,
		log:      opts.Log,
		now:      opts.Now,
		started:  opts.Now(),
		activity: ActivityThinking,
		lastText: InitialText(),
		ctx:      ctx,
		cancel:   cancel,
		doneCh:   make(chan struct{}),
	}
	go r.loop()
	return r
}

// OnEvent updates the current activity. It is safe to call from any
// goroutine and never blocks on the surface.
func (r *Reporter) OnEvent(ev claude.Event) {
	a, detail, ok := fromEvent(ev)
	if !ok {
		return
	}
	r.mu.Lock()
	r.activity = a
	r.detail = detail
	r.mu.Unlock()
}

// Activity returns the current activity.
func (r *Reporter) Activity() Activity {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.activity
}

// Text renders the current status line.
func (r *Reporter) Text() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Render(r.activity, r.detail, r.now().Sub(r.started))
}

// Stop halts refreshing and waits for an in-flight edit to return. Safe to
// call more than once.
func (r *Reporter) Stop() {
	r.stopOnce.Do(func() {
		r.cancel()
		<-r.doneCh
	})
}

func (r *Reporter) loop() {
	defer close(r.doneCh)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			r.refresh()
		}
	}
}

func (r *Reporter) refresh() {
	text := r.Text()

	r.mu.Lock()
	unchanged := text == r.lastText
	r.lastText = text
	r.mu.Unlock()
	if unchanged {
		return
	}

	if err := r.surface.Edit(r.ctx, text); err != nil {
		r.log.Debug("status edit failed", "error", err)
	}
}
