package cmd

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/zhubert/plural-chat/config"
	"github.com/zhubert/plural-chat/logger"
	"github.com/zhubert/plural-chat/manager"
)

const (
	consoleUser = "console"
	consoleChat = "console"
)

func newChatCmd(opts *rootOptions) *cobra.Command {
	var user string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Talk to the assistant from the terminal",
		Long: "Read messages from standard input, one per line, and relay them to the assistant. " +
			"Send /cancel to stop the running turn and /clear to start a new conversation.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := wireApp(opts)
			if err != nil {
				return err
			}
			defer a.close()

			b, err := a.startBridge(ctx, newConsole(cmd.OutOrStdout(), cmd.ErrOrStderr()))
			if err != nil {
				return err
			}
			defer b.shutdown()

			b.cleanupStale(ctx)

			watchCtx, stopWatch := context.WithCancel(ctx)
			defer stopWatch()
			if w, err := config.NewWatcher(a.cfg.Path(), b.applyConfig, logger.WithComponent("config")); err != nil {
				a.log.Warn("config hot reload disabled", "error", err)
			} else {
				go w.Run(watchCtx)
				defer func() {
					stopWatch()
					<-w.Done()
				}()
			}

			return chatLoop(ctx, b.dispatcher, cmd.InOrStdin(), user)
		},
	}

	cmd.Flags().StringVar(&user, "user", consoleUser, "user id to chat as")
	return cmd
}

// chatLoop submits every input line as a message from user. Turns run
// concurrently with reading so /cancel can interrupt a running turn. It
// returns once input is exhausted or ctx is done and every turn has settled.
func chatLoop(ctx context.Context, d *manager.Dispatcher, in io.Reader, user string) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	log := logger.WithUser(user)
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			text := strings.TrimSpace(line)
			if text == "" {
				continue
			}
			wg.Go(func() {
				err := d.Handle(ctx, user, consoleChat, text)
				if err != nil && !errors.Is(err, manager.ErrBusy) {
					log.Error("handle message", "error", err)
				}
			})
		}
	}
}
