package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orchestra/internal/cache"
	"orchestra/internal/db"
	"orchestra/internal/errors"
	"orchestra/internal/events"
	"orchestra/internal/operations"
	"orchestra/internal/port"
	"orchestra/internal/testutil"
)

type fakeContextCache struct {
	mu      sync.Mutex
	cleared []string
}

func (f *fakeContextCache) ClearCache(url string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleared = append(f.cleared, url)
}

func (f *fakeContextCache) GetCacheStats() cache.Stats {
	return cache.Stats{Hits: 3, Misses: 1, Size: 2}
}

type testServer struct {
	server  *Server
	handler http.Handler
	zones   *operations.ZoneOperations
	bus     *events.Bus
	cache   *fakeContextCache
	labels  chan string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	database := testutil.SetupTestDB(t)
	alloc, err := port.NewAllocator(3001, 3020, port.ProberFunc(func(int) bool { return true }))
	require.NoError(t, err)

	bus := events.NewBus(256)
	t.Cleanup(bus.Close)

	worktrees := operations.NewWorktreeOperations(
		db.NewWorktreeRepository(database),
		testutil.NewMockVCS("main"),
		alloc,
		bus,
		operations.WorktreeConfig{
			Directory:       t.TempDir(),
			CreatingGrace:   time.Minute,
			AllowedCommands: []string{"echo", "false"},
			CommandTimeout:  5 * time.Second,
		},
	)

	labels := make(chan string, 16)
	actions := operations.NewActionRegistry()
	require.NoError(t, actions.Register("record", operations.ActionFunc(func(ctx context.Context, req operations.ActionRequest) (string, error) {
		label := req.Param("label", req.Event)
		labels <- label
		return label, nil
	})))

	zones := operations.NewZoneOperations(
		db.NewZoneRepository(database),
		db.NewExecutionRepository(database),
		worktrees,
		actions,
		nil,
		bus,
		operations.ZoneConfig{},
	)
	worktrees.AddListener(zones)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = zones.Close(ctx)
	})

	fc := &fakeContextCache{}
	srv := New(nil, Dependencies{
		Worktrees: worktrees,
		Zones:     zones,
		Actions:   actions,
		Bus:       bus,
		Context:   fc,
		Database:  database,
	})
	return &testServer{server: srv, handler: srv.Handler(), zones: zones, bus: bus, cache: fc, labels: labels}
}

func (ts *testServer) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	req, err := testutil.NewJSONRequest(method, path, body)
	require.NoError(t, err)
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, testutil.DecodeJSON(rec.Body, &v), rec.Body.String())
	return v
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) errors.ErrorCode {
	t.Helper()
	resp, err := testutil.ParseErrorResponse(rec.Body)
	require.NoError(t, err)
	return resp.Error.Code
}

func (ts *testServer) createWorktree(t *testing.T, branch string) *db.Worktree {
	t.Helper()
	rec := ts.do(t, http.MethodPost, "/api/worktrees", operations.CreateWorktreeRequest{BranchName: branch})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[*db.Worktree](t, rec)
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[HealthResponse](t, rec)
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, "healthy", resp.Database)
	assert.NotEmpty(t, resp.Version)
}

func TestWorktreeEndpoints(t *testing.T) {
	ts := newTestServer(t)

	w := ts.createWorktree(t, "feature/api")
	assert.Equal(t, db.WorktreeStatusActive, w.Status)
	assert.Equal(t, 3001, w.Port)

	rec := ts.do(t, http.MethodGet, "/api/worktrees/"+w.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "feature/api", decode[*db.Worktree](t, rec).BranchName)

	rec = ts.do(t, http.MethodGet, "/api/worktrees?status=active", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[WorktreesResponse](t, rec)
	assert.Equal(t, 1, list.Total)

	rec = ts.do(t, http.MethodPatch, "/api/worktrees/"+w.ID, map[string]string{"status": "stopped"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, db.WorktreeStatusStopped, decode[*db.Worktree](t, rec).Status)

	rec = ts.do(t, http.MethodGet, "/api/worktrees/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode[operations.WorktreeStats](t, rec)
	assert.Equal(t, 1, stats.Total)
	assert.Equal(t, 1, stats.ByStatus[db.WorktreeStatusStopped])

	rec = ts.do(t, http.MethodDelete, "/api/worktrees/"+w.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	deleted := decode[*db.Worktree](t, rec)
	assert.Equal(t, db.WorktreeStatusDeleted, deleted.Status)
	assert.Zero(t, deleted.Port)
}

func TestWorktreeErrors(t *testing.T) {
	ts := newTestServer(t)
	w := ts.createWorktree(t, "feature/errors")

	tests := []struct {
		name       string
		method     string
		path       string
		body       interface{}
		wantStatus int
		wantCode   errors.ErrorCode
	}{
		{"unknown worktree", http.MethodGet, "/api/worktrees/missing", nil, http.StatusNotFound, errors.ErrNotFound},
		{"invalid branch", http.MethodPost, "/api/worktrees", map[string]string{"branch_name": "bad..name"}, http.StatusBadRequest, errors.ErrBranchInvalid},
		{"port is immutable", http.MethodPatch, "/api/worktrees/" + w.ID, map[string]int{"port": 4000}, http.StatusBadRequest, errors.ErrImmutableField},
		{"creating is not reachable", http.MethodPatch, "/api/worktrees/" + w.ID, map[string]string{"status": "creating"}, http.StatusConflict, errors.ErrInvalidTransition},
		{"unknown status filter", http.MethodGet, "/api/worktrees?status=sleeping", nil, http.StatusBadRequest, errors.ErrInvalidInput},
		{"unknown route", http.MethodGet, "/api/nothing", nil, http.StatusNotFound, errors.ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, tt.method, tt.path, tt.body)
			require.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			assert.Equal(t, tt.wantCode, errorCode(t, rec))
		})
	}
}

func TestRequireJSON(t *testing.T) {
	ts := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/worktrees", strings.NewReader("branch_name=x"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
	assert.Equal(t, errors.ErrInvalidInput, errorCode(t, rec))
}

func TestRunCommandEndpoint(t *testing.T) {
	ts := newTestServer(t)
	w := ts.createWorktree(t, "feature/cmd")

	rec := ts.do(t, http.MethodPost, "/api/worktrees/"+w.ID+"/commands", CommandRequest{Command: "echo hello"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[CommandResponse](t, rec)
	assert.Equal(t, 0, resp.ExitCode)
	assert.Equal(t, "hello\n", resp.Output)

	rec = ts.do(t, http.MethodPost, "/api/worktrees/"+w.ID+"/commands", CommandRequest{Command: "false"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 1, decode[CommandResponse](t, rec).ExitCode)

	rec = ts.do(t, http.MethodPost, "/api/worktrees/"+w.ID+"/commands", CommandRequest{Command: "rm -rf /"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestZoneEndpoints(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/zones", operations.ZoneInput{
		Name: "backend",
		Triggers: []db.Trigger{{
			Event:   "ci:passed",
			Actions: []db.Action{{Type: "record", Parameters: map[string]string{"label": "{{suite}} on {{worktree.branch}}"}}},
		}},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	zone := decode[*db.Zone](t, rec)

	rec = ts.do(t, http.MethodPost, "/api/zones", operations.ZoneInput{Name: " "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	w := ts.createWorktree(t, "feature/zone")
	rec = ts.do(t, http.MethodPost, "/api/zones/"+zone.ID+"/worktrees", AssignRequest{WorktreeID: w.ID})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, db.StringList{w.ID}, decode[*db.Zone](t, rec).WorktreeIDs)

	rec = ts.do(t, http.MethodPost, "/api/events", operations.ExternalEvent{
		Name:       "ci:passed",
		WorktreeID: w.ID,
		Payload:    map[string]interface{}{"suite": "unit"},
	})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	assert.True(t, decode[EventAccepted](t, rec).Queued)

	select {
	case label := <-ts.labels:
		assert.Equal(t, "unit on feature/zone", label)
	case <-time.After(5 * time.Second):
		t.Fatal("trigger did not run")
	}
	ts.zones.Wait()

	rec = ts.do(t, http.MethodGet, "/api/zones/"+zone.ID+"/executions?status=succeeded", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	execs := decode[ExecutionsResponse](t, rec)
	require.Equal(t, 1, execs.Total)
	assert.Equal(t, "ci:passed", execs.Executions[0].Event)

	rec = ts.do(t, http.MethodGet, "/api/zones/"+zone.ID+"/executions?limit=-1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	other := ts.do(t, http.MethodPost, "/api/zones", operations.ZoneInput{Name: "frontend"})
	require.Equal(t, http.StatusCreated, other.Code)
	otherZone := decode[*db.Zone](t, other)

	rec = ts.do(t, http.MethodDelete, "/api/zones/"+otherZone.ID+"/worktrees/"+w.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code, "worktree is not a member of frontend")

	rec = ts.do(t, http.MethodDelete, "/api/zones/"+zone.ID+"/worktrees/"+w.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = ts.do(t, http.MethodPost, "/api/events", operations.ExternalEvent{Name: "ci:passed", WorktreeID: w.ID})
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.False(t, decode[EventAccepted](t, rec).Queued)

	rec = ts.do(t, http.MethodDelete, "/api/zones/"+zone.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = ts.do(t, http.MethodGet, "/api/zones/"+zone.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPostEvent_ReservedName(t *testing.T) {
	ts := newTestServer(t)
	w := ts.createWorktree(t, "feature/reserved")

	rec := ts.do(t, http.MethodPost, "/api/events", operations.ExternalEvent{Name: "worktree:created", WorktreeID: w.ID})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, errors.ErrInvalidInput, errorCode(t, rec))
}

func TestApplyZonesEndpoint(t *testing.T) {
	ts := newTestServer(t)

	body := map[string]interface{}{
		"zones": []map[string]interface{}{
			{"name": "qa", "triggers": []map[string]interface{}{
				{"event": "worktree:created", "actions": []map[string]interface{}{{"type": "record"}}},
			}},
		},
	}
	rec := ts.do(t, http.MethodPost, "/api/zones/apply", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, []string{"qa"}, decode[operations.ApplyReport](t, rec).Created)

	rec = ts.do(t, http.MethodGet, "/api/zones", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	zones := decode[ZonesResponse](t, rec)
	require.Equal(t, 1, zones.Total)
	require.Len(t, zones.Zones[0].Triggers, 1)
	assert.NotEmpty(t, zones.Zones[0].Triggers[0].ID)
}

func TestContextAndActionEndpoints(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/context/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode[ContextStatsResponse](t, rec)
	assert.Equal(t, uint64(3), stats.Hits)
	assert.Equal(t, 2, stats.Size)

	rec = ts.do(t, http.MethodDelete, "/api/context/cache?url=https://github.com/acme/app/issues/1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"https://github.com/acme/app/issues/1"}, ts.cache.cleared)

	rec = ts.do(t, http.MethodGet, "/api/actions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"record"}, decode[ActionTypesResponse](t, rec).Actions)
}
