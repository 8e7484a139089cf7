package app

import (
	"context"
	"fmt"

	"orchestra/internal/cli"
	"orchestra/internal/cli/commands"
	"orchestra/internal/config"
	"orchestra/internal/constants"
	"orchestra/internal/db"
	"orchestra/internal/events"
	"orchestra/internal/ghcontext"
	"orchestra/internal/git"
	"orchestra/internal/github"
	"orchestra/internal/logger"
	"orchestra/internal/metrics"
	"orchestra/internal/operations"
	"orchestra/internal/port"
	"orchestra/internal/server"
)

// App represents the main application
type App struct {
	Config    *config.GlobalConfig
	DB        *db.DB
	Git       *git.Manager
	Bus       *events.Bus
	Context   *ghcontext.Provider
	Worktrees *operations.WorktreeOperations
	Zones     *operations.ZoneOperations
	Server    *server.Server

	transport *events.Transport
	forwarder *events.Forwarder
	CLI       *cli.Manager
}

// New creates a new application instance
func New() *App {
	a := &App{}
	a.CLI = cli.New(a.runServer)
	return a
}

// Run starts the application
func (a *App) Run(args []string) error {
	return a.RunWithContext(context.Background(), args)
}

// RunWithContext runs the CLI with a context for cancellation
func (a *App) RunWithContext(ctx context.Context, args []string) error {
	// Show help if no arguments provided
	if len(args) == 0 {
		return a.CLI.ExecuteWithContext(ctx, []string{"--help"})
	}
	return a.CLI.ExecuteWithContext(ctx, args)
}

// runServer builds every server component from the config file and serves
// until ctx is cancelled
func (a *App) runServer(ctx context.Context, configPath string, so commands.ServerOptions) error {
	cfg, err := config.LoadGlobalConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if so.Host != "" {
		cfg.Server.Host = so.Host
	}
	if so.Port != 0 {
		cfg.Server.Port = so.Port
	}
	level := cfg.Log.Level
	if so.LogLevel != "" {
		level = so.LogLevel
	}
	logger.SetLevel(level)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	defer a.shutdown()
	if err := a.build(ctx, cfg); err != nil {
		return err
	}

	if err := a.Worktrees.Restore(ctx); err != nil {
		return fmt.Errorf("failed to restore worktrees: %w", err)
	}
	reconciled := a.Worktrees.StartReconciler(ctx, cfg.Worktrees.ReconcileInterval.Std())
	if a.forwarder != nil {
		a.forwarder.Start(ctx)
	}

	logger.WithFields(logger.Fields{
		"host":      cfg.Server.Host,
		"port":      cfg.Server.Port,
		"ports":     fmt.Sprintf("%d-%d", cfg.Ports.Min, cfg.Ports.Max),
		"database":  cfg.Database.Path,
		"operation": "server_start",
	}).Info("Starting orchestra server")

	err = a.Server.Start(ctx)
	cancel()
	<-reconciled
	return err
}

// build wires the server components. Anything created before a failure is
// released by shutdown.
func (a *App) build(ctx context.Context, cfg *config.GlobalConfig) error {
	a.Config = cfg

	database, err := db.New(db.DefaultConfig(cfg.Database.Path))
	if err != nil {
		return fmt.Errorf("failed to create database: %w", err)
	}
	a.DB = database
	if err := database.Migrate(); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	ports, err := port.NewAllocator(cfg.Ports.Min, cfg.Ports.Max, nil)
	if err != nil {
		return err
	}
	a.Git = git.New(cfg.Worktrees.Repository)
	a.Bus = events.NewBus(cfg.Events.Buffer)

	if cfg.Events.RedisURL != "" {
		transport, err := events.NewTransport(events.TransportConfig{RedisURL: cfg.Events.RedisURL, Buffer: cfg.Events.Buffer})
		if err != nil {
			return err
		}
		a.transport = transport
		a.forwarder = events.NewForwarder(a.Bus, transport, cfg.Events.StreamPrefix+".events")
	}

	gh := github.NewClient(github.Config{
		APIURL:  cfg.GitHub.APIURL,
		Token:   cfg.GitHub.Token(),
		Retries: uint(cfg.GitHub.Retries),
	})
	a.Context = ghcontext.NewProvider(gh, ghcontext.Options{
		TTL:       cfg.Context.CacheTTL.Std(),
		CacheSize: cfg.Context.CacheSize,
	})

	a.Worktrees = operations.NewWorktreeOperations(db.NewWorktreeRepository(database), a.Git, ports, a.Bus, operations.WorktreeConfig{
		Directory:       cfg.Worktrees.Directory,
		CreatingGrace:   cfg.Worktrees.CreatingGrace.Std(),
		AllowedCommands: cfg.Actions.AllowedCommands,
		CommandTimeout:  cfg.Actions.CommandTimeout.Std(),
	})

	baseBranch, err := a.Git.GetDefaultBranch(ctx)
	if err != nil {
		logger.WithError(err).Warn("Could not detect default branch, pull requests will target main")
		baseBranch = "main"
	}
	actions := operations.NewActionRegistry()
	operations.RegisterBuiltins(actions, a.Worktrees, gh, operations.BuiltinConfig{
		TestCommand: cfg.Actions.TestCommand,
		WebhookURL:  cfg.Actions.WebhookURL,
		BaseBranch:  baseBranch,
	})

	a.Zones = operations.NewZoneOperations(
		db.NewZoneRepository(database),
		db.NewExecutionRepository(database),
		a.Worktrees,
		actions,
		a.Context,
		a.Bus,
		operations.ZoneConfig{UnknownPlaceholders: ghcontext.UnknownPolicy(cfg.Context.UnknownPlaceholders)},
	)
	a.Worktrees.AddListener(a.Zones)

	metricsHandler, err := metrics.Init(ctx, "orchestra", a.Worktrees.CountByStatus)
	if err != nil {
		logger.WithError(err).Warn("Metrics disabled")
		metricsHandler = nil
	}

	serverConfig := server.DefaultConfig()
	serverConfig.Host = cfg.Server.Host
	serverConfig.Port = cfg.Server.Port
	a.Server = server.New(serverConfig, server.Dependencies{
		Worktrees: a.Worktrees,
		Zones:     a.Zones,
		Actions:   actions,
		Bus:       a.Bus,
		Context:   a.Context,
		Metrics:   metricsHandler,
		Database:  database,
	})
	return nil
}

// shutdown drains zone workers, then stops event delivery and closes storage
func (a *App) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), constants.DefaultServerShutdownTimeout)
	defer cancel()

	if a.Zones != nil {
		if err := a.Zones.Close(ctx); err != nil {
			logger.WithError(err).Warn("Zone workers did not drain")
		}
	}
	if a.Context != nil {
		a.Context.Close()
	}
	if a.forwarder != nil {
		a.forwarder.Stop()
	}
	if a.transport != nil {
		if err := a.transport.Close(); err != nil {
			logger.WithError(err).Warn("Failed to close event transport")
		}
	}
	if a.Bus != nil {
		a.Bus.Close()
	}
	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			logger.WithError(err).Warn("Failed to close database")
		}
	}
}
