package cmd

import (
	"errors"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
)

var errTurnFailed = errors.New("turn did not succeed")

func newAskCmd(opts *rootOptions) *cobra.Command {
	var user string

	cmd := &cobra.Command{
		Use:   "ask MESSAGE...",
		Short: "Send a single message and print the reply",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := wireApp(opts)
			if err != nil {
				return err
			}
			defer a.close()

			con := newConsole(cmd.OutOrStdout(), cmd.ErrOrStderr())
			b, err := a.startBridge(ctx, con)
			if err != nil {
				return err
			}
			defer b.shutdown()

			if err := b.dispatcher.Submit(ctx, user, consoleChat, strings.Join(args, " ")); err != nil {
				return err
			}
			if res, ok := con.lastResult(); ok && !res.Success {
				return errTurnFailed
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&user, "user", consoleUser, "user id whose conversation to continue")
	return cmd
}
