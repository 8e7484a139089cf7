package github

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orchestra/internal/errors"
)

func TestParseURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		want    Ref
		wantErr bool
	}{
		{"issue", "https://github.com/acme/api/issues/12", Ref{Owner: "acme", Repo: "api", Number: 12}, false},
		{"pull", "https://github.com/acme/api/pull/7/files", Ref{Owner: "acme", Repo: "api", Number: 7, PullRequest: true}, false},
		{"www", "https://www.github.com/acme/api/issues/1", Ref{Owner: "acme", Repo: "api", Number: 1}, false},
		{"other host", "https://gitlab.com/acme/api/issues/1", Ref{}, true},
		{"short path", "https://github.com/acme/api", Ref{}, true},
		{"bad number", "https://github.com/acme/api/issues/abc", Ref{}, true},
		{"relative", "acme/api/issues/1", Ref{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseURL(tt.url)
			if tt.wantErr {
				assert.True(t, errors.HasCode(err, errors.ErrInvalidInput))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func newTestClient(srv *httptest.Server) *Client {
	return NewClient(Config{APIURL: srv.URL, Token: "secret", Retries: 3, RetryDelay: time.Millisecond})
}

func TestFetchIssueOrPR(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		switch r.URL.Path {
		case "/repos/acme/api/pulls/7":
			w.Write([]byte(`{"number":7,"title":"Add login","body":"desc","html_url":"https://github.com/acme/api/pull/7",
				"user":{"login":"ana"},"labels":[{"name":"feature"},{"name":"ui"}],"head":{"ref":"feature/login"}}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	issue, err := newTestClient(srv).FetchIssueOrPR(context.Background(), "https://github.com/acme/api/pull/7")
	require.NoError(t, err)
	assert.Equal(t, &Issue{
		Number:        7,
		Title:         "Add login",
		Body:          "desc",
		Author:        "ana",
		Labels:        []string{"feature", "ui"},
		Branch:        "feature/login",
		URL:           "https://github.com/acme/api/pull/7",
		IsPullRequest: true,
	}, issue)
}

func TestFetchRetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"number":3,"title":"Flaky","user":{"login":"bo"}}`))
	}))
	defer srv.Close()

	issue, err := newTestClient(srv).FetchIssueOrPR(context.Background(), "https://github.com/acme/api/issues/3")
	require.NoError(t, err)
	assert.Equal(t, "Flaky", issue.Title)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestFetchDoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	_, err := newTestClient(srv).FetchIssueOrPR(context.Background(), "https://github.com/acme/api/issues/404")
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrContextUnavailable))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestFetchMalformedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"title": 12`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv).FetchIssueOrPR(context.Background(), "https://github.com/acme/api/issues/1")
	assert.True(t, errors.HasCode(err, errors.ErrContextUnavailable))
}

func TestCreatePullRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/repos/acme/api/pulls", r.URL.Path)

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "feature/x", body["head"])
		assert.Equal(t, "main", body["base"])

		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"number":9,"html_url":"https://github.com/acme/api/pull/9"}`))
	}))
	defer srv.Close()

	pr, err := newTestClient(srv).CreatePullRequest(context.Background(), "acme/api", "feature/x", "main", "title", "body")
	require.NoError(t, err)
	assert.Equal(t, 9, pr.Number)

	_, err = newTestClient(srv).CreatePullRequest(context.Background(), "acme", "a", "b", "t", "")
	assert.True(t, errors.HasCode(err, errors.ErrInvalidInput))
}
