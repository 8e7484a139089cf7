package testutil

import (
	"context"
	"os"
	"sort"
	"sync"

	"github.com/stretchr/testify/mock"

	"orchestra/internal/constants"
	"orchestra/internal/git"
	"orchestra/internal/github"
)

// MockVCS is an in-memory version-control collaborator. Checkouts are real
// directories so filesystem checks behave as with git.
type MockVCS struct {
	mu       sync.RWMutex
	calls    map[string][]interface{}
	errors   map[string]error
	branches map[string]bool
	// checkouts maps registered checkout paths to their branch
	checkouts map[string]string
}

// NewMockVCS creates a mock that knows the given branches
func NewMockVCS(branches ...string) *MockVCS {
	m := &MockVCS{
		calls:     make(map[string][]interface{}),
		errors:    make(map[string]error),
		branches:  make(map[string]bool),
		checkouts: make(map[string]string),
	}
	for _, b := range branches {
		m.branches[b] = true
	}
	return m
}

// SetError sets an error to be returned for a specific method
func (m *MockVCS) SetError(method string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors[method] = err
}

// GetCalls returns the recorded arguments of every call to method
func (m *MockVCS) GetCalls(method string) []interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]interface{}(nil), m.calls[method]...)
}

// HasBranch reports whether the branch exists in the mock repository
func (m *MockVCS) HasBranch(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.branches[name]
}

func (m *MockVCS) recordCall(method string, args ...interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[method] = append(m.calls[method], args)
}

func (m *MockVCS) checkError(method string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.errors[method]
}

// ValidateBranchName uses the real ref-name rules
func (m *MockVCS) ValidateBranchName(name string) error {
	return git.ValidateBranchName(name)
}

// BranchExists reports whether the branch was seeded or created
func (m *MockVCS) BranchExists(ctx context.Context, name string) (bool, error) {
	m.recordCall("BranchExists", name)
	if err := m.checkError("BranchExists"); err != nil {
		return false, err
	}
	return m.HasBranch(name), nil
}

// CreateWorktreeCheckout creates the checkout directory and, with newBranch, the branch
func (m *MockVCS) CreateWorktreeCheckout(ctx context.Context, branch, path string, newBranch bool) error {
	m.recordCall("CreateWorktreeCheckout", branch, path, newBranch)
	if err := m.checkError("CreateWorktreeCheckout"); err != nil {
		return err
	}
	if err := os.MkdirAll(path, constants.DirPermissions); err != nil {
		return err
	}
	m.mu.Lock()
	m.checkouts[path] = branch
	if newBranch {
		m.branches[branch] = true
	}
	m.mu.Unlock()
	return nil
}

// RemoveCheckout deletes the checkout directory
func (m *MockVCS) RemoveCheckout(ctx context.Context, path string) error {
	m.recordCall("RemoveCheckout", path)
	if err := m.checkError("RemoveCheckout"); err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.checkouts, path)
	m.mu.Unlock()
	return os.RemoveAll(path)
}

// ListCheckouts returns the registered checkouts sorted by path
func (m *MockVCS) ListCheckouts(ctx context.Context) ([]git.Checkout, error) {
	m.recordCall("ListCheckouts")
	if err := m.checkError("ListCheckouts"); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]git.Checkout, 0, len(m.checkouts))
	for path, branch := range m.checkouts {
		out = append(out, git.Checkout{Path: path, Branch: branch})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

// MockIssueFetcher is a testify mock for the issue fetch capability
type MockIssueFetcher struct {
	mock.Mock
}

// FetchIssueOrPR returns the configured issue
func (m *MockIssueFetcher) FetchIssueOrPR(ctx context.Context, url string) (*github.Issue, error) {
	args := m.Called(ctx, url)
	issue, _ := args.Get(0).(*github.Issue)
	return issue, args.Error(1)
}

// MockPullRequester is a testify mock for pull request creation
type MockPullRequester struct {
	mock.Mock
}

// CreatePullRequest returns the configured pull request
func (m *MockPullRequester) CreatePullRequest(ctx context.Context, repository, head, base, title, body string) (*github.PullRequest, error) {
	args := m.Called(ctx, repository, head, base, title, body)
	pr, _ := args.Get(0).(*github.PullRequest)
	return pr, args.Error(1)
}
