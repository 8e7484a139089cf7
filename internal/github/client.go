// Package github fetches issue and pull request metadata and opens pull requests
// through the GitHub REST API.
package github

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Rican7/retry"
	"github.com/Rican7/retry/backoff"
	"github.com/Rican7/retry/strategy"

	"orchestra/internal/constants"
	"orchestra/internal/errors"
	"orchestra/internal/logger"
)

// Issue is the subset of issue / pull request metadata the orchestrator uses
type Issue struct {
	Number        int      `json:"number"`
	Title         string   `json:"title"`
	Body          string   `json:"body"`
	Author        string   `json:"author"`
	Labels        []string `json:"labels"`
	Branch        string   `json:"branch,omitempty"`
	URL           string   `json:"url"`
	IsPullRequest bool     `json:"is_pull_request"`
}

// PullRequest is the result of opening a pull request
type PullRequest struct {
	Number int    `json:"number"`
	URL    string `json:"html_url"`
}

// Ref identifies an issue or pull request on GitHub
type Ref struct {
	Owner       string
	Repo        string
	Number      int
	PullRequest bool
}

// Repository returns "owner/repo"
func (r Ref) Repository() string {
	return r.Owner + "/" + r.Repo
}

// ParseURL parses https://github.com/{owner}/{repo}/(issues|pull)/{n}
func ParseURL(raw string) (Ref, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return Ref{}, errors.InvalidInput("url", "not an absolute URL")
	}
	if host := strings.TrimPrefix(u.Host, "www."); host != "github.com" {
		return Ref{}, errors.InvalidInput("url", fmt.Sprintf("unsupported host %q", u.Host))
	}

	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 4 {
		return Ref{}, errors.InvalidInput("url", "expected /{owner}/{repo}/issues/{number} or /pull/{number}")
	}

	ref := Ref{Owner: parts[0], Repo: parts[1]}
	switch parts[2] {
	case "issues":
	case "pull", "pulls":
		ref.PullRequest = true
	default:
		return Ref{}, errors.InvalidInput("url", fmt.Sprintf("unsupported path segment %q", parts[2]))
	}

	n, err := strconv.Atoi(parts[3])
	if err != nil || n <= 0 {
		return Ref{}, errors.InvalidInput("url", "issue number must be a positive integer")
	}
	ref.Number = n
	return ref, nil
}

// Config configures a Client
type Config struct {
	APIURL     string
	Token      string
	Retries    uint
	RetryDelay time.Duration
	HTTPClient *http.Client
}

// Client talks to the GitHub REST API
type Client struct {
	baseURL    string
	token      string
	retries    uint
	retryDelay time.Duration
	httpClient *http.Client
}

// NewClient creates a new GitHub client
func NewClient(cfg Config) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(cfg.APIURL, "/"),
		token:      cfg.Token,
		retries:    cfg.Retries,
		retryDelay: cfg.RetryDelay,
		httpClient: cfg.HTTPClient,
	}
	if c.baseURL == "" {
		c.baseURL = "https://api.github.com"
	}
	if c.retries == 0 {
		c.retries = constants.DefaultFetchRetries
	}
	if c.retryDelay <= 0 {
		c.retryDelay = constants.DefaultRetryDelay
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: constants.DefaultHTTPClientTimeout}
	}
	return c
}

// apiIssue mirrors the fields we read from /issues/{n} and /pulls/{n}
type apiIssue struct {
	Number  int    `json:"number"`
	Title   string `json:"title"`
	Body    string `json:"body"`
	HTMLURL string `json:"html_url"`
	User    struct {
		Login string `json:"login"`
	} `json:"user"`
	Labels []struct {
		Name string `json:"name"`
	} `json:"labels"`
	Head *struct {
		Ref string `json:"ref"`
	} `json:"head,omitempty"`
	PullRequest *json.RawMessage `json:"pull_request,omitempty"`
}

// FetchIssueOrPR fetches the issue or pull request behind rawURL
func (c *Client) FetchIssueOrPR(ctx context.Context, rawURL string) (*Issue, error) {
	ref, err := ParseURL(rawURL)
	if err != nil {
		return nil, err
	}

	kind := "issues"
	if ref.PullRequest {
		kind = "pulls"
	}
	path := fmt.Sprintf("/repos/%s/%s/%s/%d", url.PathEscape(ref.Owner), url.PathEscape(ref.Repo), kind, ref.Number)

	var raw apiIssue
	if err := c.do(ctx, http.MethodGet, path, nil, &raw); err != nil {
		return nil, err
	}
	if raw.Number == 0 {
		return nil, errors.ContextUnavailable(rawURL, fmt.Errorf("response carried no issue number"))
	}

	issue := &Issue{
		Number:        raw.Number,
		Title:         raw.Title,
		Body:          raw.Body,
		Author:        raw.User.Login,
		URL:           raw.HTMLURL,
		IsPullRequest: ref.PullRequest || raw.PullRequest != nil,
	}
	if issue.URL == "" {
		issue.URL = rawURL
	}
	for _, l := range raw.Labels {
		issue.Labels = append(issue.Labels, l.Name)
	}
	if raw.Head != nil {
		issue.Branch = raw.Head.Ref
	}
	return issue, nil
}

// CreatePullRequest opens a pull request from head into base on owner/repo
func (c *Client) CreatePullRequest(ctx context.Context, repository, head, base, title, body string) (*PullRequest, error) {
	owner, repo, ok := strings.Cut(repository, "/")
	if !ok || owner == "" || repo == "" {
		return nil, errors.InvalidInput("repository", "expected owner/repo")
	}

	payload := map[string]string{"head": head, "base": base, "title": title, "body": body}
	var pr PullRequest
	path := fmt.Sprintf("/repos/%s/%s/pulls", url.PathEscape(owner), url.PathEscape(repo))
	if err := c.do(ctx, http.MethodPost, path, payload, &pr); err != nil {
		return nil, err
	}
	return &pr, nil
}

// statusError is a non-retryable API response
type statusError struct {
	status int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("github API returned %d: %s", e.status, e.body)
}

// do sends a request, retrying transport errors and 5xx responses
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var payload []byte
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return errors.Internal("failed to marshal request body", err)
		}
		payload = data
	}

	var permanent error
	action := func(attempt uint) error {
		if ctx.Err() != nil {
			permanent = ctx.Err()
			return nil
		}

		err := c.attempt(ctx, method, path, payload, out)
		var se *statusError
		if stderrors.As(err, &se) && se.status < 500 {
			permanent = err
			return nil
		}
		if err != nil {
			logger.WithFields(logger.Fields{
				"method":  method,
				"path":    path,
				"attempt": attempt,
			}).WithError(err).Debug("GitHub request failed")
		}
		return err
	}

	err := retry.Retry(action,
		strategy.Limit(c.retries),
		strategy.Backoff(backoff.Linear(c.retryDelay)),
	)
	if err == nil {
		err = permanent
	}
	if err != nil {
		return errors.ContextUnavailable(c.baseURL+path, err)
	}
	return nil
}

func (c *Client) attempt(ctx context.Context, method, path string, payload []byte, out interface{}) error {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, constants.MaxOutputLength))
		return &statusError{status: resp.StatusCode, body: strings.TrimSpace(string(data))}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &statusError{status: http.StatusUnprocessableEntity, body: "malformed response: " + err.Error()}
	}
	return nil
}
