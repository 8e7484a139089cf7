package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orchestra/internal/events"
)

func dialEvents(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/events/ws" + query
	ws, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)
	t.Cleanup(func() { ws.Close() })
	return ws
}

func readEvent(t *testing.T, ws *websocket.Conn) events.Event {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))
	var ev events.Event
	require.NoError(t, ws.ReadJSON(&ev))
	return ev
}

func waitForSubscribers(t *testing.T, bus *events.Bus) {
	t.Helper()
	// the handler subscribes after the upgrade completes
	require.Eventually(t, func() bool { return bus.Subscribers() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestEventStream_FiltersByName(t *testing.T) {
	ts := newTestServer(t)
	srv := httptest.NewServer(ts.handler)
	defer srv.Close()

	ws := dialEvents(t, srv, "?names=worktree:created")
	waitForSubscribers(t, ts.bus)

	ts.bus.Publish(events.ZoneCreated, "z1", "z1", nil)
	w := ts.createWorktree(t, "feature/stream")

	ev := readEvent(t, ws)
	assert.Equal(t, events.WorktreeCreated, ev.Name)
	assert.Equal(t, w.ID, ev.EntityID)
	assert.NotZero(t, ev.Sequence)
}

func TestEventStream_FiltersByZone(t *testing.T) {
	ts := newTestServer(t)
	srv := httptest.NewServer(ts.handler)
	defer srv.Close()

	ws := dialEvents(t, srv, "?zone_id=z2")
	waitForSubscribers(t, ts.bus)

	ts.bus.Publish(events.ZoneUpdated, "z1", "z1", nil)
	ts.bus.Publish(events.ZoneUpdated, "z2", "z2", map[string]interface{}{"name": "second"})

	ev := readEvent(t, ws)
	assert.Equal(t, "z2", ev.ZoneID)
	assert.Equal(t, "second", ev.Payload["name"])
}

func TestEventStream_ClosesWithBus(t *testing.T) {
	ts := newTestServer(t)
	srv := httptest.NewServer(ts.handler)
	defer srv.Close()

	ws := dialEvents(t, srv, "")
	waitForSubscribers(t, ts.bus)
	ts.bus.Close()

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "unexpected error: %v", err)
			return
		}
	}
}

func TestEventStream_RejectsForeignOrigin(t *testing.T) {
	ts := newTestServer(t)
	srv := httptest.NewServer(ts.handler)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/events/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": []string{"https://evil.example.com"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}
