package operations_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"orchestra/internal/db"
	"orchestra/internal/errors"
	"orchestra/internal/github"
	"orchestra/internal/operations"
	"orchestra/internal/testutil"
)

func builtinRequest(t *testing.T, r *operations.ActionRegistry, actionType string, w *db.Worktree, params map[string]string) (string, error) {
	t.Helper()
	h, ok := r.Get(actionType)
	require.True(t, ok, "%s is not registered", actionType)
	return h.Execute(context.Background(), operations.ActionRequest{
		ZoneID:     "zone-1",
		TriggerID:  "trigger-1",
		Event:      "worktree:created",
		Type:       actionType,
		Worktree:   w,
		Parameters: params,
	})
}

func TestActionRegistry(t *testing.T) {
	r := operations.NewActionRegistry()
	assert.Error(t, r.Register("", operations.ActionFunc(nil)))
	assert.Error(t, r.Register("custom", nil))

	require.NoError(t, r.Register("custom", operations.ActionFunc(func(ctx context.Context, req operations.ActionRequest) (string, error) {
		return "ran", nil
	})))
	assert.True(t, r.Has("custom"))
	assert.False(t, r.Has("other"))

	operations.RegisterBuiltins(r, nil, nil, operations.BuiltinConfig{})
	assert.Equal(t, []string{"custom", db.ActionNotify}, r.Types(), "run-tests and create-pull-request need collaborators")
}

func TestRunTestsAction(t *testing.T) {
	f := newWorktreeFixture(t, 3001, 3010)
	w := f.create(t, "feature/x")

	r := operations.NewActionRegistry()
	operations.RegisterBuiltins(r, f.ops, nil, operations.BuiltinConfig{TestCommand: "echo default suite"})

	out, err := builtinRequest(t, r, db.ActionRunTests, w, nil)
	require.NoError(t, err)
	assert.Equal(t, "default suite\n", out)

	out, err = builtinRequest(t, r, db.ActionRunTests, w, map[string]string{"command": "echo custom"})
	require.NoError(t, err)
	assert.Equal(t, "custom\n", out)

	_, err = builtinRequest(t, r, db.ActionRunTests, w, map[string]string{"command": "false"})
	assert.True(t, errors.HasCode(err, errors.ErrActionFailed))
}

func TestRunTestsAction_NoCommand(t *testing.T) {
	f := newWorktreeFixture(t, 3001, 3010)
	w := f.create(t, "feature/x")

	r := operations.NewActionRegistry()
	operations.RegisterBuiltins(r, f.ops, nil, operations.BuiltinConfig{})

	_, err := builtinRequest(t, r, db.ActionRunTests, w, nil)
	assert.True(t, errors.HasCode(err, errors.ErrActionFailed))
}

func TestCreatePullRequestAction(t *testing.T) {
	prs := &testutil.MockPullRequester{}
	prs.On("CreatePullRequest", mock.Anything, "acme/app", "feature/login", "main", "feature/login", "").
		Return(&github.PullRequest{Number: 12, URL: "https://github.com/acme/app/pull/12"}, nil)
	prs.On("CreatePullRequest", mock.Anything, "acme/other", "feature/login", "develop", "Fix login", "Closes #7").
		Return(&github.PullRequest{Number: 13, URL: "https://github.com/acme/other/pull/13"}, nil)

	r := operations.NewActionRegistry()
	operations.RegisterBuiltins(r, nil, prs, operations.BuiltinConfig{})
	w := &db.Worktree{ID: "w1", BranchName: "feature/login", IssueURL: "https://github.com/acme/app/issues/7"}

	out, err := builtinRequest(t, r, db.ActionCreatePullRequest, w, nil)
	require.NoError(t, err)
	assert.Equal(t, "https://github.com/acme/app/pull/12", out)

	out, err = builtinRequest(t, r, db.ActionCreatePullRequest, w, map[string]string{
		"repository": "acme/other",
		"base":       "develop",
		"title":      "Fix login",
		"body":       "Closes #7",
	})
	require.NoError(t, err)
	assert.Equal(t, "https://github.com/acme/other/pull/13", out)
	prs.AssertExpectations(t)
}

func TestCreatePullRequestAction_NoRepository(t *testing.T) {
	prs := &testutil.MockPullRequester{}
	r := operations.NewActionRegistry()
	operations.RegisterBuiltins(r, nil, prs, operations.BuiltinConfig{})

	_, err := builtinRequest(t, r, db.ActionCreatePullRequest, &db.Worktree{ID: "w1", BranchName: "x"}, nil)
	assert.True(t, errors.HasCode(err, errors.ErrActionFailed))
	prs.AssertNotCalled(t, "CreatePullRequest")
}

func TestNotifyAction_PostsWebhook(t *testing.T) {
	var received map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	r := operations.NewActionRegistry()
	operations.RegisterBuiltins(r, nil, nil, operations.BuiltinConfig{WebhookURL: srv.URL})

	out, err := builtinRequest(t, r, db.ActionNotify, &db.Worktree{ID: "w1", BranchName: "feature/x"}, map[string]string{"message": "tests passed"})
	require.NoError(t, err)
	assert.Equal(t, "tests passed", out)
	assert.Equal(t, "tests passed", received["message"])
	assert.Equal(t, "w1", received["worktree_id"])
	assert.Equal(t, "zone-1", received["zone_id"])
}

func TestNotifyAction_WebhookFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	r := operations.NewActionRegistry()
	operations.RegisterBuiltins(r, nil, nil, operations.BuiltinConfig{})

	_, err := builtinRequest(t, r, db.ActionNotify, &db.Worktree{ID: "w1", BranchName: "feature/x"}, map[string]string{"webhook": srv.URL})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestNotifyAction_LogOnly(t *testing.T) {
	r := operations.NewActionRegistry()
	operations.RegisterBuiltins(r, nil, nil, operations.BuiltinConfig{})

	out, err := builtinRequest(t, r, db.ActionNotify, &db.Worktree{ID: "w1", BranchName: "feature/x"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "worktree:created on feature/x", out)
}
