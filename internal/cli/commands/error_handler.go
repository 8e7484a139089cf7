package commands

import (
	"fmt"
	"os"
	"strings"

	"orchestra/internal/errors"
	"orchestra/internal/logger"
)

// HandleError processes errors and provides user-friendly output
func HandleError(err error) error {
	if err == nil {
		return nil
	}

	code := errors.GetCode(err)
	if code != "" {
		logger.WithError(err).WithField("code", code).Debug("Command failed")
	}

	switch code {
	case errors.ErrNotFound:
		return fmt.Errorf("%v\n\nTip: Use 'orchestra worktree list' or 'orchestra zone list' to see what exists.", err)
	case errors.ErrInvalidTransition:
		return fmt.Errorf("%v\n\nTip: deleted is terminal and creating cannot be re-entered.", err)
	case errors.ErrPortsExhausted:
		return fmt.Errorf("%v\n\nTip: Delete unused worktrees or widen [ports] in the config file.", err)
	case errors.ErrBranchInvalid:
		return fmt.Errorf("%v\n\nTip: Branch names follow git ref rules, see 'git check-ref-format --help'.", err)
	case errors.ErrContextUnavailable:
		return fmt.Errorf("%v\n\nTip: Check the GitHub token environment variable named in [github].", err)
	}

	errStr := err.Error()
	switch {
	case strings.Contains(errStr, "connection refused"):
		return fmt.Errorf("%v\n\nTip: Start the server with 'orchestra server' or point --server at a running one.", err)
	case strings.Contains(errStr, "permission denied"):
		return fmt.Errorf("%v\n\nTip: Check file permissions of the worktree directory and database.", err)
	default:
		return err
	}
}

// ExitCode maps an error to a process exit code
func ExitCode(err error) int {
	switch errors.GetCode(err) {
	case "":
		return 1
	case errors.ErrNotFound, errors.ErrConfigNotFound:
		return 2
	case errors.ErrInvalidInput, errors.ErrBranchInvalid, errors.ErrImmutableField, errors.ErrInvalidTransition, errors.ErrConfigValidation:
		return 3
	default:
		return 1
	}
}

// ExitOnError handles errors consistently across CLI commands
func ExitOnError(err error) {
	if err == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", HandleError(err))
	os.Exit(ExitCode(err))
}
