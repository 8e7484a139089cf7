package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orchestra/internal/db"
	"orchestra/internal/errors"
	"orchestra/internal/operations"
)

func TestNewAPIClientAddsScheme(t *testing.T) {
	assert.Equal(t, "http://localhost:8080", NewAPIClient("localhost:8080/").BaseURL())
	assert.Equal(t, "https://orchestra.internal", NewAPIClient("https://orchestra.internal").BaseURL())
}

func TestCreateWorktreeSendsJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/worktrees", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req operations.CreateWorktreeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "feature/x", req.BranchName)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(db.Worktree{ID: "w1", BranchName: req.BranchName, Port: 3001, Status: db.WorktreeStatusActive})
	}))
	defer srv.Close()

	w, err := NewAPIClient(srv.URL).CreateWorktree(context.Background(), operations.CreateWorktreeRequest{BranchName: "feature/x"})
	require.NoError(t, err)
	assert.Equal(t, "w1", w.ID)
	assert.Equal(t, 3001, w.Port)
}

func TestListWorktreesEncodesFilters(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "active", r.URL.Query().Get("status"))
		assert.False(t, r.URL.Query().Has("task_id"))
		json.NewEncoder(w).Encode(map[string]interface{}{
			"worktrees": []db.Worktree{{ID: "w1"}, {ID: "w2"}},
			"total":     2,
		})
	}))
	defer srv.Close()

	list, err := NewAPIClient(srv.URL).ListWorktrees(context.Background(), map[string]string{"status": "active", "task_id": ""})
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestErrorEnvelopeBecomesCodedError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(errors.HTTPErrorResponse{
			Error:   errors.ErrorInfo{Code: errors.ErrInvalidTransition, Message: "Invalid status transition"},
			Context: map[string]interface{}{"from": "deleted"},
		})
	}))
	defer srv.Close()

	_, err := NewAPIClient(srv.URL).GetWorktree(context.Background(), "w1")
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrInvalidTransition))

	oe, ok := errors.As(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusConflict, oe.GetHTTPStatus())
	assert.Equal(t, "deleted", oe.Context["from"])
}

func TestPlainErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewAPIClient(srv.URL).DeleteZone(context.Background(), "z1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
	assert.Contains(t, err.Error(), "upstream down")
}

func TestResolveZoneFallsBackToName(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/zones/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(errors.HTTPErrorResponse{Error: errors.ErrorInfo{Code: errors.ErrNotFound, Message: "zone not found"}})
	})
	mux.HandleFunc("/api/zones", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"zones": []db.Zone{{ID: "z1", Name: "frontend"}, {ID: "z2", Name: "backend"}},
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewAPIClient(srv.URL)
	z, err := c.ResolveZone(context.Background(), "backend")
	require.NoError(t, err)
	assert.Equal(t, "z2", z.ID)

	_, err = c.ResolveZone(context.Background(), "missing")
	assert.True(t, errors.HasCode(err, errors.ErrNotFound))
}

func TestSendEvent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var ev operations.ExternalEvent
		require.NoError(t, json.NewDecoder(r.Body).Decode(&ev))
		assert.Equal(t, "ci:passed", ev.Name)
		assert.Equal(t, "unit", ev.Payload["suite"])
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]bool{"queued": true})
	}))
	defer srv.Close()

	queued, err := NewAPIClient(srv.URL).SendEvent(context.Background(), operations.ExternalEvent{
		Name:       "ci:passed",
		WorktreeID: "w1",
		Payload:    map[string]interface{}{"suite": "unit"},
	})
	require.NoError(t, err)
	assert.True(t, queued)
}
