package cmd

import "github.com/spf13/cobra"

// rootOptions holds the global flags shared by every subcommand.
type rootOptions struct {
	configPath string
	workspace  string
	debug      bool
}

func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:           "plural-chat",
		Short:         "Chat bridge to the Claude Code CLI",
		Long:          "plural-chat relays chat messages to the Claude Code CLI, one turn per user at a time, keeping each user's conversation alive across restarts.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "config file (default is config.yaml in the config directory)")
	flags.StringVarP(&opts.workspace, "workspace", "w", "", "directory the assistant works in (overrides the config file)")
	flags.BoolVar(&opts.debug, "debug", false, "enable debug logging")

	rootCmd.AddCommand(
		newVersionCmd(),
		newChatCmd(opts),
		newAskCmd(opts),
		newSessionsCmd(opts),
		newDoctorCmd(opts),
		newLogsCmd(),
	)

	return rootCmd
}
