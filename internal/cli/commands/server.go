package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"orchestra/internal/constants"
	"orchestra/internal/logger"
	"orchestra/internal/xdg"

	"github.com/spf13/cobra"
)

// ServerOptions override the [server] section of the config file. Zero
// values keep the configured value.
type ServerOptions struct {
	Host     string
	Port     int
	LogLevel string
}

// ServerRunner runs the API server in the foreground until ctx is cancelled
type ServerRunner func(ctx context.Context, configPath string, so ServerOptions) error

// ServerCommands creates server management commands
func ServerCommands(opts *Options, run ServerRunner) []*cobra.Command {
	commands := []*cobra.Command{}

	// orchestra server start
	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start the orchestra server",
		Long: `Start the HTTP API server. The server owns the worktree store, port
allocator and zone workers; every other command talks to it.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			port, _ := cmd.Flags().GetInt("port")
			host, _ := cmd.Flags().GetString("host")
			daemon, _ := cmd.Flags().GetBool("daemon")

			so := ServerOptions{Host: host, Port: port, LogLevel: opts.LogLevel}
			if daemon {
				return startServerDaemon(cmd.OutOrStdout(), opts.ConfigPath, so)
			}
			if run == nil {
				return fmt.Errorf("server is not available in this build")
			}
			return run(cmd.Context(), opts.ConfigPath, so)
		},
	}
	startCmd.Flags().IntP("port", "p", 0, "Port to listen on (default from config)")
	startCmd.Flags().String("host", "", "Host to bind (default from config)")
	startCmd.Flags().BoolP("daemon", "d", false, "Run server in the background")
	commands = append(commands, startCmd)

	// orchestra server stop
	stopCmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop a server started with --daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return stopServer(cmd.OutOrStdout())
		},
	}
	commands = append(commands, stopCmd)

	// orchestra server status
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Check whether the server is running and healthy",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serverStatus(cmd, opts)
		},
	}
	commands = append(commands, statusCmd)

	return commands
}

func serverFiles() (pidFile, logFile string, err error) {
	dir, err := xdg.StateDir()
	if err != nil {
		return "", "", err
	}
	return filepath.Join(dir, "server.pid"), filepath.Join(dir, "server.log"), nil
}

// startServerDaemon re-executes the binary with "server start" detached from
// the terminal and records its PID
func startServerDaemon(out io.Writer, configPath string, so ServerOptions) error {
	pidFile, logPath, err := serverFiles()
	if err != nil {
		return err
	}
	if pid, alive := readPID(pidFile); alive {
		return fmt.Errorf("server already running (PID: %d)", pid)
	}

	args := []string{"server", "start"}
	if so.Port != 0 {
		args = append(args, "--port", strconv.Itoa(so.Port))
	}
	if so.Host != "" {
		args = append(args, "--host", so.Host)
	}
	if configPath != "" {
		args = append(args, "--config", configPath)
	}
	if so.LogLevel != "" {
		args = append(args, "--log-level", so.LogLevel)
	}

	if err := os.MkdirAll(filepath.Dir(logPath), constants.DirPermissions); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, constants.FilePermissions)
	if err != nil {
		return fmt.Errorf("failed to create log file: %w", err)
	}
	defer logFile.Close()

	cmd := exec.Command(os.Args[0], args...)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start server daemon: %w", err)
	}

	if err := os.WriteFile(pidFile, []byte(strconv.Itoa(cmd.Process.Pid)), constants.FilePermissions); err != nil {
		// Kill the process since we can't track it
		_ = cmd.Process.Kill()
		return fmt.Errorf("failed to write PID file: %w", err)
	}
	_ = cmd.Process.Release()

	fmt.Fprintf(out, "orchestra server started in the background (PID: %d)\n", cmd.Process.Pid)
	fmt.Fprintf(out, "Logs: %s\n", logPath)
	fmt.Fprintln(out, "Use 'orchestra server stop' to stop the server")
	return nil
}

// readPID returns the recorded PID and whether that process is alive
func readPID(pidFile string) (int, bool) {
	data, err := os.ReadFile(pidFile)
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return pid, false
	}
	// Signal 0 checks for existence without delivering anything
	return pid, process.Signal(syscall.Signal(0)) == nil
}

func stopServer(out io.Writer) error {
	pidFile, _, err := serverFiles()
	if err != nil {
		return err
	}

	pid, alive := readPID(pidFile)
	if pid == 0 {
		fmt.Fprintln(out, "No server PID file found. Server may not be running.")
		return nil
	}
	if !alive {
		fmt.Fprintf(out, "Server (PID %d) is not running, removing stale PID file\n", pid)
		_ = os.Remove(pidFile)
		return nil
	}

	process, _ := os.FindProcess(pid)
	fmt.Fprintf(out, "Sending shutdown signal to server (PID: %d)...\n", pid)
	if err := process.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("failed to send shutdown signal: %w", err)
	}

	// The daemon is not our child, so poll for exit instead of waiting
	deadline := time.Now().Add(constants.DefaultServerShutdownTimeout)
	for time.Now().Before(deadline) {
		if process.Signal(syscall.Signal(0)) != nil {
			fmt.Fprintln(out, "Server stopped")
			_ = os.Remove(pidFile)
			return nil
		}
		time.Sleep(200 * time.Millisecond)
	}

	logger.WithField("pid", pid).Warn("Server did not stop gracefully, sending SIGKILL")
	_ = process.Kill()
	_ = os.Remove(pidFile)
	fmt.Fprintln(out, "Server force-stopped")
	return nil
}

func serverStatus(cmd *cobra.Command, opts *Options) error {
	out := cmd.OutOrStdout()

	if pidFile, logPath, err := serverFiles(); err == nil {
		if pid, alive := readPID(pidFile); alive {
			fmt.Fprintf(out, "Daemon: running (PID: %d)\n", pid)
			fmt.Fprintf(out, "Logs:   %s\n", logPath)
		}
	}

	client, err := opts.Client()
	if err != nil {
		return err
	}
	health, err := client.Health(cmd.Context())
	if err != nil {
		fmt.Fprintf(out, "Server: not reachable at %s\n", client.BaseURL())
		return HandleError(err)
	}
	return opts.render(cmd, health, func(out io.Writer) error {
		fmt.Fprintf(out, "Server: %v at %s\n", health["status"], client.BaseURL())
		for _, key := range []string{"version", "uptime", "database", "active_workers", "stream_clients"} {
			if v, ok := health[key]; ok {
				fmt.Fprintf(out, "  %-15s %v\n", key+":", v)
			}
		}
		return nil
	})
}
