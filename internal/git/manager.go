package git

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"

	"orchestra/internal/constants"
	"orchestra/internal/errors"
	"orchestra/internal/logger"
)

// maxBranchNameLength keeps branch names usable as directory names
const maxBranchNameLength = 200

// Checkout is one entry of `git worktree list --porcelain`
type Checkout struct {
	Path   string `json:"path"`
	Branch string `json:"branch,omitempty"`
	Commit string `json:"commit,omitempty"`
	IsBare bool   `json:"is_bare,omitempty"`
}

// Manager runs worktree operations against a single source repository.
// Reads go through go-git; checkouts are created and removed with the git
// CLI because go-git has no linked worktree support.
type Manager struct {
	repoPath string
}

// New creates a manager for the repository at repoPath
func New(repoPath string) *Manager {
	return &Manager{repoPath: repoPath}
}

// RepoPath returns the source repository path
func (m *Manager) RepoPath() string {
	return m.repoPath
}

// ValidateBranchName checks that name is a legal branch ref name
func (m *Manager) ValidateBranchName(name string) error {
	return ValidateBranchName(name)
}

// ValidateBranchName checks that name is a legal branch ref name
func ValidateBranchName(name string) error {
	if strings.TrimSpace(name) == "" {
		return errors.BranchInvalid(name, "branch name cannot be empty")
	}
	if len(name) > maxBranchNameLength {
		return errors.BranchInvalid(name, fmt.Sprintf("longer than %d characters", maxBranchNameLength))
	}
	for _, r := range name {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return errors.BranchInvalid(name, "contains whitespace or control characters")
		}
	}
	if strings.HasPrefix(name, "-") {
		return errors.BranchInvalid(name, "cannot start with '-'")
	}
	if name == "HEAD" {
		return errors.BranchInvalid(name, "HEAD is reserved")
	}
	if strings.HasSuffix(name, "/") || strings.HasSuffix(name, ".") || strings.HasSuffix(name, ".lock") {
		return errors.BranchInvalid(name, "invalid suffix")
	}
	if strings.Contains(name, "..") || strings.Contains(name, "//") || strings.Contains(name, "@{") {
		return errors.BranchInvalid(name, "invalid sequence")
	}
	if strings.ContainsAny(name, "~^:?*[\\") {
		return errors.BranchInvalid(name, "contains a character git forbids in ref names")
	}
	if err := plumbing.NewBranchReferenceName(name).Validate(); err != nil {
		return errors.BranchInvalid(name, err.Error())
	}
	return nil
}

// BranchExists reports whether the branch exists locally or on origin
func (m *Manager) BranchExists(ctx context.Context, name string) (bool, error) {
	repo, err := git.PlainOpen(m.repoPath)
	if err != nil {
		return false, errors.VCSOperationFailed("open repository", err)
	}

	for _, ref := range []plumbing.ReferenceName{
		plumbing.NewBranchReferenceName(name),
		plumbing.NewRemoteReferenceName("origin", name),
	} {
		_, err := repo.Reference(ref, true)
		if err == nil {
			return true, nil
		}
		if !stderrors.Is(err, plumbing.ErrReferenceNotFound) {
			return false, errors.VCSOperationFailed("resolve branch", err)
		}
	}
	return false, nil
}

// GetBranches returns all local branches in the repository
func (m *Manager) GetBranches(ctx context.Context) ([]string, error) {
	repo, err := git.PlainOpen(m.repoPath)
	if err != nil {
		return nil, errors.VCSOperationFailed("open repository", err)
	}

	branches, err := repo.Branches()
	if err != nil {
		return nil, errors.VCSOperationFailed("list branches", err)
	}

	var result []string
	err = branches.ForEach(func(ref *plumbing.Reference) error {
		result = append(result, ref.Name().Short())
		return nil
	})
	return result, err
}

// GetDefaultBranch returns origin's HEAD branch, or the first of main/master/develop found locally
func (m *Manager) GetDefaultBranch(ctx context.Context) (string, error) {
	repo, err := git.PlainOpen(m.repoPath)
	if err != nil {
		return "", errors.VCSOperationFailed("open repository", err)
	}

	originHead := plumbing.NewRemoteReferenceName("origin", "HEAD")
	if ref, err := repo.Reference(originHead, false); err == nil && ref.Type() == plumbing.SymbolicReference {
		return strings.TrimPrefix(ref.Target().Short(), "origin/"), nil
	}

	branches, err := m.GetBranches(ctx)
	if err != nil {
		return "", err
	}
	for _, candidate := range []string{"main", "master", "develop"} {
		for _, b := range branches {
			if b == candidate {
				return candidate, nil
			}
		}
	}
	if len(branches) > 0 {
		return branches[0], nil
	}
	return "main", nil
}

// CreateWorktreeCheckout adds a linked checkout of branch at path.
// With newBranch the branch is created from the current HEAD.
func (m *Manager) CreateWorktreeCheckout(ctx context.Context, branch, path string, newBranch bool) error {
	if err := os.MkdirAll(filepath.Dir(path), constants.DirPermissions); err != nil {
		return errors.VCSOperationFailed("create worktree directory", err)
	}

	args := []string{"-C", m.repoPath, "worktree", "add"}
	if newBranch {
		args = append(args, "-b", branch, path)
	} else {
		args = append(args, path, branch)
	}

	if out, err := m.run(ctx, args...); err != nil {
		return errors.VCSOperationFailed("worktree add", fmt.Errorf("%w: %s", err, out))
	}

	logger.WithFields(logger.Fields{
		"branch":     branch,
		"path":       path,
		"new_branch": newBranch,
	}).Debug("Created worktree checkout")
	return nil
}

// RemoveCheckout removes the linked checkout at path. A missing path only prunes git's metadata.
func (m *Manager) RemoveCheckout(ctx context.Context, path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		m.prune(ctx)
		return nil
	}

	if _, err := m.run(ctx, "-C", m.repoPath, "worktree", "remove", "--force", path); err != nil {
		// not a registered worktree or git refused; fall back to removing the directory
		if removeErr := os.RemoveAll(path); removeErr != nil {
			return errors.VCSOperationFailed("worktree remove",
				fmt.Errorf("git error: %v, fs error: %w", err, removeErr))
		}
		m.prune(ctx)
	}
	return nil
}

// ListCheckouts returns the repository's linked checkouts
func (m *Manager) ListCheckouts(ctx context.Context) ([]Checkout, error) {
	out, err := m.run(ctx, "-C", m.repoPath, "worktree", "list", "--porcelain")
	if err != nil {
		return nil, errors.VCSOperationFailed("worktree list", fmt.Errorf("%w: %s", err, out))
	}
	return parseWorktreeList(out), nil
}

func (m *Manager) prune(ctx context.Context) {
	if out, err := m.run(ctx, "-C", m.repoPath, "worktree", "prune"); err != nil {
		logger.WithError(err).WithField("output", out).Debug("git worktree prune failed")
	}
}

func (m *Manager) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	output, err := cmd.CombinedOutput()
	return strings.TrimSpace(string(output)), err
}

// parseWorktreeList parses the output of git worktree list --porcelain
func parseWorktreeList(output string) []Checkout {
	var checkouts []Checkout
	var current Checkout

	flush := func() {
		if current.Path != "" {
			checkouts = append(checkouts, current)
		}
		current = Checkout{}
	}

	for _, line := range strings.Split(strings.TrimSpace(output), "\n") {
		if line == "" {
			flush()
			continue
		}

		key, value, _ := strings.Cut(line, " ")
		switch key {
		case "worktree":
			current.Path = value
		case "HEAD":
			current.Commit = value
		case "branch":
			current.Branch = strings.TrimPrefix(value, "refs/heads/")
		case "bare":
			current.IsBare = true
		}
	}
	flush()

	return checkouts
}
