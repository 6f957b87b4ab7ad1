package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/zhubert/plural-chat/cli"
	"github.com/zhubert/plural-chat/logger"
	"github.com/zhubert/plural-chat/paths"
)

func newDoctorCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check configuration and required tools",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := wireApp(opts)
			if err != nil {
				return err
			}
			defer a.close()

			pipeline, _, err := a.loadPipeline()
			if err != nil {
				return err
			}
			names := pipeline.Names()
			logPath, _ := logger.DefaultLogPath()
			layout, err := paths.Resolve()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Layout:    %s (%s)\n", layout.Kind, layout.ConfigDir)
			fmt.Fprintf(out, "Config:    %s\n", a.cfg.Path())
			fmt.Fprintf(out, "Workspace: %s\n", a.cfg.Workspace)
			fmt.Fprintf(out, "Sessions:  %s (%d)\n", a.sessions.Path(), len(a.sessions.List()))
			fmt.Fprintf(out, "Log:       %s\n", logPath)
			fmt.Fprintf(out, "Hooks:     %s\n\n", strings.Join(names, ", "))

			// The allowlist is always present; anything more is a shell hook.
			prereqs := cli.DefaultPrerequisites(a.cfg.Claude.Path, len(names) > 1)
			checker := cli.NewChecker(nil)
			fmt.Fprint(out, cli.FormatCheckResults(checker.CheckAll(cmd.Context(), prereqs)))

			return checker.ValidateRequired(cmd.Context(), prereqs)
		},
	}
}
