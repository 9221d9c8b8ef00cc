package handlers

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wonny/cyclebot/internal/events"
	"github.com/wonny/cyclebot/pkg/logger"
)

const (
	eventsWriteWait  = 10 * time.Second
	eventsPongWait   = 60 * time.Second
	eventsPingPeriod = (eventsPongWait * 9) / 10
)

// EventSource hands out bus subscriptions
type EventSource interface {
	Subscribe(buffer int) *events.Subscription
}

// EventsHandler streams cycle-complete events over websocket
type EventsHandler struct {
	source   EventSource
	upgrader websocket.Upgrader
	logger   *logger.Logger
}

// NewEventsHandler creates an events handler
func NewEventsHandler(source EventSource, log *logger.Logger) *EventsHandler {
	return &EventsHandler{
		source: source,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// 로컬 운영 대시보드용
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: log.WithField("component", "events_ws"),
	}
}

// Stream upgrades the connection and forwards every event as JSON
// GET /api/events
func (h *EventsHandler) Stream(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Warn("Websocket upgrade failed")
		return
	}
	defer conn.Close()

	sub := h.source.Subscribe(0)
	defer sub.Close()

	h.logger.WithField("remote", r.RemoteAddr).Debug("Event subscriber connected")

	// 클라이언트 종료 감지용 read 루프
	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadDeadline(time.Now().Add(eventsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(eventsPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(eventsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case ev, ok := <-sub.C:
			if !ok {
				conn.SetWriteDeadline(time.Now().Add(eventsWriteWait))
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
				return
			}
			conn.SetWriteDeadline(time.Now().Add(eventsWriteWait))
			if err := conn.WriteJSON(ev); err != nil {
				h.logger.WithError(err).Debug("Event write failed, dropping subscriber")
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(eventsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
