package cmd

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func newSessionsCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect and reset stored conversations",
	}
	cmd.AddCommand(
		newSessionsListCmd(opts),
		newSessionsResetCmd(opts),
	)
	return cmd
}

func newSessionsListCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the conversation of every known user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := wireApp(opts)
			if err != nil {
				return err
			}
			defer a.close()

			records := a.sessions.List()
			if len(records) == 0 {
				_, err := fmt.Fprintln(cmd.OutOrStdout(), "no sessions")
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "USER\tSESSION\tSTATE\tUPDATED")
			for _, r := range records {
				state := "pending"
				if r.Confirmed {
					state = "active"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.UserKey, r.SessionID, state, r.UpdatedAt.Local().Format(time.DateTime))
			}
			return tw.Flush()
		},
	}
}

func newSessionsResetCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reset USER",
		Short: "Start a new conversation for a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := wireApp(opts)
			if err != nil {
				return err
			}
			defer a.close()

			id, err := a.sessions.Reset(args[0])
			if err != nil {
				return fmt.Errorf("reset session for %s: %w", args[0], err)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "new session for %s: %s\n", args[0], id)
			return err
		},
	}
}
