package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"orchestra/internal/constants"
	"orchestra/internal/events"
	"orchestra/internal/logger"
	"orchestra/internal/metrics"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
)

// WebSocket upgrader configuration
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")

		// CLI tools send no origin
		if origin == "" {
			return true
		}

		allowedOrigins := []string{
			"http://localhost",
			"https://localhost",
			"http://127.0.0.1",
			"https://127.0.0.1",
			"http://[::1]",
			"https://[::1]",
		}
		for _, allowed := range allowedOrigins {
			if strings.HasPrefix(origin, allowed) {
				return true
			}
		}

		logger.WithFields(logger.Fields{
			"origin": origin,
			"remote": r.RemoteAddr,
		}).Warn("WebSocket connection rejected - invalid origin")
		return false
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

// eventStream forwards bus events to one websocket client
type eventStream struct {
	ws     *websocket.Conn
	events <-chan events.Event
	zoneID string
	log    *logrus.Entry
}

// handleEventStream godoc
// @Summary Stream events
// @Description Upgrade to a websocket that receives published events as JSON messages
// @Tags events
// @Param names query string false "Comma separated event names"
// @Param zone_id query string false "Only events of this zone"
// @Success 101 {string} string "Switching Protocols"
// @Router /api/events/ws [get]
func (s *Server) handleEventStream(c echo.Context) error {
	if s.deps.Bus == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "event stream unavailable")
	}

	var names []string
	for _, n := range strings.Split(c.QueryParam("names"), ",") {
		if n = strings.TrimSpace(n); n != "" {
			names = append(names, n)
		}
	}

	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// the upgrader has already written the response
		logger.GetLogger(c).WithError(err).Debug("WebSocket upgrade failed")
		return nil
	}

	ch, unsubscribe := s.deps.Bus.Subscribe(names...)
	defer unsubscribe()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metrics.StreamOpened(ctx)
	defer metrics.StreamClosed(ctx)

	stream := &eventStream{
		ws:     ws,
		events: ch,
		zoneID: c.QueryParam("zone_id"),
		log:    logger.GetLogger(c).WithField("stream", "events"),
	}
	stream.log.Debug("Event stream opened")

	go stream.readLoop(cancel)
	stream.writeLoop(ctx)

	stream.log.Debug("Event stream closed")
	return nil
}

// readLoop discards client messages and cancels the stream when the client goes away
func (es *eventStream) readLoop(cancel context.CancelFunc) {
	defer cancel()
	es.ws.SetReadDeadline(time.Now().Add(2 * constants.EventStreamPingInterval))
	es.ws.SetPongHandler(func(string) error {
		return es.ws.SetReadDeadline(time.Now().Add(2 * constants.EventStreamPingInterval))
	})
	for {
		if _, _, err := es.ws.ReadMessage(); err != nil {
			return
		}
	}
}

func (es *eventStream) writeLoop(ctx context.Context) {
	defer es.ws.Close()

	ping := time.NewTicker(constants.EventStreamPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ping.C:
			deadline := time.Now().Add(constants.EventStreamWriteTimeout)
			if err := es.ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		case ev, ok := <-es.events:
			if !ok {
				es.ws.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
					time.Now().Add(constants.EventStreamWriteTimeout))
				return
			}
			if es.zoneID != "" && ev.ZoneID != es.zoneID {
				continue
			}
			es.ws.SetWriteDeadline(time.Now().Add(constants.EventStreamWriteTimeout))
			if err := es.ws.WriteJSON(ev); err != nil {
				es.log.WithError(err).Warn("Failed to write event")
				return
			}
		}
	}
}
