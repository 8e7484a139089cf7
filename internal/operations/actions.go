package operations

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"orchestra/internal/constants"
	"orchestra/internal/db"
	"orchestra/internal/errors"
	"orchestra/internal/github"
	"orchestra/internal/logger"
)

// ActionRequest is what an action handler receives. Parameters are already resolved.
type ActionRequest struct {
	ZoneID     string
	TriggerID  string
	Event      string
	Index      int
	Type       string
	Worktree   *db.Worktree
	Parameters map[string]string
	Variables  map[string]string
}

// Param returns a resolved parameter or def when it is missing or blank
func (r ActionRequest) Param(name, def string) string {
	if v := strings.TrimSpace(r.Parameters[name]); v != "" {
		return v
	}
	return def
}

// ActionHandler executes one action type. The returned string is kept as the action's output.
type ActionHandler interface {
	Execute(ctx context.Context, req ActionRequest) (string, error)
}

// ActionFunc adapts a function to ActionHandler
type ActionFunc func(ctx context.Context, req ActionRequest) (string, error)

func (f ActionFunc) Execute(ctx context.Context, req ActionRequest) (string, error) {
	return f(ctx, req)
}

// ActionRegistry maps action types to handlers
type ActionRegistry struct {
	mu       sync.RWMutex
	handlers map[string]ActionHandler
}

func NewActionRegistry() *ActionRegistry {
	return &ActionRegistry{handlers: make(map[string]ActionHandler)}
}

// Register adds or replaces the handler for actionType
func (r *ActionRegistry) Register(actionType string, h ActionHandler) error {
	actionType = strings.TrimSpace(actionType)
	if actionType == "" {
		return errors.InvalidInput("type", "action type cannot be empty")
	}
	if h == nil {
		return errors.InvalidInput("handler", "cannot be nil")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[actionType] = h
	return nil
}

func (r *ActionRegistry) Get(actionType string) (ActionHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[actionType]
	return h, ok
}

func (r *ActionRegistry) Has(actionType string) bool {
	_, ok := r.Get(actionType)
	return ok
}

// Types lists registered action types in sorted order
func (r *ActionRegistry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// BuiltinConfig configures the built-in actions
type BuiltinConfig struct {
	TestCommand string
	WebhookURL  string
	BaseBranch  string
	HTTPClient  *http.Client
}

// RegisterBuiltins registers run-tests, create-pull-request and notify.
// A nil runner or pull requester leaves that action unregistered.
func RegisterBuiltins(r *ActionRegistry, runner CommandRunner, prs PullRequester, cfg BuiltinConfig) {
	if cfg.BaseBranch == "" {
		cfg.BaseBranch = "main"
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: constants.DefaultHTTPClientTimeout}
	}

	if runner != nil {
		_ = r.Register(db.ActionRunTests, runTestsAction(runner, cfg.TestCommand))
	}
	if prs != nil {
		_ = r.Register(db.ActionCreatePullRequest, createPullRequestAction(prs, cfg.BaseBranch))
	}
	_ = r.Register(db.ActionNotify, notifyAction(cfg.HTTPClient, cfg.WebhookURL))
}

// runTestsAction runs the "command" parameter, or the configured test command
func runTestsAction(runner CommandRunner, defaultCommand string) ActionHandler {
	return ActionFunc(func(ctx context.Context, req ActionRequest) (string, error) {
		command := req.Param("command", defaultCommand)
		if command == "" {
			return "", errors.ActionFailed(req.Type, fmt.Errorf("no test command configured"))
		}

		result, err := runner.RunCommand(ctx, req.Worktree.ID, command)
		if result == nil {
			return "", err
		}
		return result.Output, err
	})
}

// createPullRequestAction opens a pull request for the worktree's branch.
// The repository defaults to the one named by the worktree's issue URL.
func createPullRequestAction(prs PullRequester, defaultBase string) ActionHandler {
	return ActionFunc(func(ctx context.Context, req ActionRequest) (string, error) {
		repository := req.Param("repository", "")
		if repository == "" && req.Worktree.IssueURL != "" {
			if ref, err := github.ParseURL(req.Worktree.IssueURL); err == nil {
				repository = ref.Repository()
			}
		}
		if repository == "" {
			return "", errors.ActionFailed(req.Type, fmt.Errorf("no repository parameter and no issue URL to derive it from"))
		}

		head := req.Param("head", req.Worktree.BranchName)
		title := req.Param("title", head)
		pr, err := prs.CreatePullRequest(ctx, repository, head, req.Param("base", defaultBase), title, req.Parameters["body"])
		if err != nil {
			return "", err
		}

		logger.WithFields(logger.Fields{
			"worktree_id": req.Worktree.ID,
			"repository":  repository,
			"number":      pr.Number,
		}).Info("Opened pull request")
		return pr.URL, nil
	})
}

type webhookPayload struct {
	ZoneID     string    `json:"zone_id"`
	TriggerID  string    `json:"trigger_id"`
	Event      string    `json:"event"`
	WorktreeID string    `json:"worktree_id"`
	Branch     string    `json:"branch"`
	Message    string    `json:"message"`
	SentAt     time.Time `json:"sent_at"`
}

// notifyAction logs "message" and posts it to the "webhook" parameter or the configured URL
func notifyAction(client *http.Client, defaultURL string) ActionHandler {
	return ActionFunc(func(ctx context.Context, req ActionRequest) (string, error) {
		message := req.Param("message", fmt.Sprintf("%s on %s", req.Event, req.Worktree.BranchName))

		entry := logger.WithFields(logger.Fields{
			"zone_id":     req.ZoneID,
			"trigger_id":  req.TriggerID,
			"worktree_id": req.Worktree.ID,
		})
		if req.Param("level", "info") == "warn" {
			entry.Warn(message)
		} else {
			entry.Info(message)
		}

		url := req.Param("webhook", defaultURL)
		if url == "" {
			return message, nil
		}

		body, err := json.Marshal(webhookPayload{
			ZoneID:     req.ZoneID,
			TriggerID:  req.TriggerID,
			Event:      req.Event,
			WorktreeID: req.Worktree.ID,
			Branch:     req.Worktree.BranchName,
			Message:    message,
			SentAt:     time.Now().UTC(),
		})
		if err != nil {
			return "", err
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return "", err
		}
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := client.Do(httpReq)
		if err != nil {
			return "", err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 300 {
			return "", fmt.Errorf("webhook returned %s", resp.Status)
		}
		return message, nil
	})
}
