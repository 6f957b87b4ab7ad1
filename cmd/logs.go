package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zhubert/plural-chat/logger"
)

func newLogsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Locate or remove log files",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "path",
			Short: "Print the bridge log file path",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				path, err := logger.DefaultLogPath()
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), path)
				return err
			},
		},
		&cobra.Command{
			Use:   "clear",
			Short: "Remove the bridge log and all stream logs",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				n, err := logger.ClearLogs()
				if err != nil {
					return fmt.Errorf("clear logs: %w", err)
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "removed %d log file(s)\n", n)
				return err
			},
		},
	)
	return cmd
}
