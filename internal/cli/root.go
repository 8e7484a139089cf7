package cli

import (
	"fmt"

	"orchestra/internal/cli/commands"
	"orchestra/internal/constants"
	"orchestra/internal/logger"

	"github.com/spf13/cobra"
)

// createRootCommand creates the root command with global flags
func createRootCommand(opts *commands.Options) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "orchestra",
		Short: "Worktree lifecycle manager with zone-based automation",
		Long: `orchestra manages Git worktrees as isolated development environments.
Each worktree gets its own checkout and port. Zones group worktrees and run
triggers (tests, pull requests, notifications) when lifecycle or CI events
arrive. Run 'orchestra server start' and drive it with the other commands.`,
		Version:       constants.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			switch opts.Output {
			case "table", "json":
			default:
				return fmt.Errorf("invalid --output %q: must be table or json", opts.Output)
			}
			if opts.LogLevel != "" {
				logger.SetLevel(opts.LogLevel)
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			// Default to showing help if no subcommand
			return cmd.Help()
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.ServerURL, "server", "", "Server address (default $"+commands.ServerEnv+" or [server] from config)")
	flags.StringVar(&opts.ConfigPath, "config", "", "Path to config.toml (default XDG config directory)")
	flags.StringVarP(&opts.Output, "output", "o", "table", "Output format: table or json")
	flags.StringVar(&opts.LogLevel, "log-level", "", "Log level (debug, info, warn, error)")

	return rootCmd
}
