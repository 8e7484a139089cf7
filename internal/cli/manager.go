package cli

import (
	"context"

	"orchestra/internal/cli/commands"

	"github.com/spf13/cobra"
)

// Manager handles CLI operations
type Manager struct {
	opts    *commands.Options
	runner  commands.ServerRunner
	rootCmd *cobra.Command
}

// New creates the CLI. runner starts the API server for 'server start'.
func New(runner commands.ServerRunner) *Manager {
	m := &Manager{
		opts:   &commands.Options{},
		runner: runner,
	}
	m.rootCmd = createRootCommand(m.opts)
	m.setupCommands()
	return m
}

// Root returns the root command
func (m *Manager) Root() *cobra.Command {
	return m.rootCmd
}

// Execute executes the CLI with the given arguments
func (m *Manager) Execute(args []string) error {
	return m.ExecuteWithContext(context.Background(), args)
}

// ExecuteWithContext executes the CLI with the given arguments and context
func (m *Manager) ExecuteWithContext(ctx context.Context, args []string) error {
	m.rootCmd.SetArgs(args)
	return m.rootCmd.ExecuteContext(ctx)
}

// setupCommands sets up all CLI commands
func (m *Manager) setupCommands() {
	worktreeCmd := &cobra.Command{
		Use:     "worktree",
		Short:   "Worktree lifecycle commands",
		Aliases: []string{"wt"},
	}
	for _, cmd := range commands.WorktreeCommands(m.opts) {
		worktreeCmd.AddCommand(cmd)
	}
	m.rootCmd.AddCommand(worktreeCmd)

	zoneCmd := &cobra.Command{
		Use:   "zone",
		Short: "Zone and trigger commands",
	}
	for _, cmd := range commands.ZoneCommands(m.opts) {
		zoneCmd.AddCommand(cmd)
	}
	m.rootCmd.AddCommand(zoneCmd)

	eventCmd := &cobra.Command{
		Use:   "event",
		Short: "Raise external events",
	}
	for _, cmd := range commands.EventCommands(m.opts) {
		eventCmd.AddCommand(cmd)
	}
	m.rootCmd.AddCommand(eventCmd)

	configCmd := &cobra.Command{
		Use:     "config",
		Short:   "Configuration management commands",
		Aliases: []string{"cfg"},
	}
	for _, cmd := range commands.ConfigCommands(m.opts) {
		configCmd.AddCommand(cmd)
	}
	m.rootCmd.AddCommand(configCmd)

	serverCmd := &cobra.Command{
		Use:   "server",
		Short: "Server management commands",
		Long:  `Start, stop and check the orchestra HTTP API server.`,
	}
	for _, cmd := range commands.ServerCommands(m.opts, m.runner) {
		serverCmd.AddCommand(cmd)
	}
	m.rootCmd.AddCommand(serverCmd)
}
