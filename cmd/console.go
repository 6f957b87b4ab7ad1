package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/zhubert/plural-chat/claude"
	"github.com/zhubert/plural-chat/manager"
)

// console is a Delivery that talks to a terminal. Replies go to out, status
// updates to status so they can be redirected separately.
type console struct {
	mu     sync.Mutex
	out    io.Writer
	status io.Writer
	last   *claude.Result
}

func newConsole(out, status io.Writer) *console {
	return &console{out: out, status: status}
}

func (c *console) SendStatus(_ context.Context, _ string, text string) (manager.StatusMessage, error) {
	m := &consoleStatus{c: c}
	m.write(text)
	return m, nil
}

func (c *console) Notify(_ context.Context, _ string, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := fmt.Fprintln(c.out, text)
	return err
}

func (c *console) Deliver(_ context.Context, _ string, res claude.Result) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.last = &res
	_, err := fmt.Fprintln(c.out, formatResult(res))
	return err
}

// lastResult returns the most recently delivered result, if any.
func (c *console) lastResult() (claude.Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.last == nil {
		return claude.Result{}, false
	}
	return *c.last, true
}

type consoleStatus struct {
	c       *console
	deleted bool
}

func (m *consoleStatus) write(text string) {
	m.c.mu.Lock()
	defer m.c.mu.Unlock()
	if m.deleted {
		return
	}
	fmt.Fprintf(m.c.status, "[%s]\n", text)
}

func (m *consoleStatus) Edit(_ context.Context, text string) error {
	m.write(text)
	return nil
}

func (m *consoleStatus) Delete(context.Context) error {
	m.c.mu.Lock()
	defer m.c.mu.Unlock()
	m.deleted = true
	return nil
}

// formatResult renders a turn result as chat text.
func formatResult(res claude.Result) string {
	if !res.Success {
		msg := res.Error
		if msg == "" {
			msg = "The assistant did not return a result."
		}
		return "Error: " + msg
	}

	out := strings.TrimSpace(res.Output)
	if out == "" {
		out = "(no output)"
	}
	footer := fmt.Sprintf("(%.1fs", res.Duration.Seconds())
	if res.CostUSD != nil {
		footer += fmt.Sprintf(", $%.4f", *res.CostUSD)
	}
	return out + "\n" + footer + ")"
}
