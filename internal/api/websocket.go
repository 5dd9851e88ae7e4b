package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/yegors/co-scribe/internal/session"
	"github.com/yegors/co-scribe/pkg/logger"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// the API listens on loopback and serves local clients only
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleWebSocket streams session notifications to the client. The current
// state is sent first.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", logger.Error(err))
		return
	}
	defer conn.Close()

	notifications, unsubscribe := h.recorder.Subscribe()
	defer unsubscribe()

	log := h.logger.With(logger.String("remote_addr", r.RemoteAddr))
	log.Debug("WebSocket client connected")

	// the read side only handles control frames and notices the client leaving
	gone := make(chan struct{})
	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	initial := session.Notification{
		Kind:       session.NotifyState,
		SessionID:  h.recorder.SessionID(),
		DocumentID: h.recorder.DocumentID(),
		State:      h.recorder.State(),
		Segments:   h.recorder.Transcript(),
		Error:      h.recorder.LastError(),
		At:         time.Now(),
	}
	if err := writeNotification(conn, initial); err != nil {
		return
	}

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	for {
		select {
		case n, ok := <-notifications:
			if !ok {
				return
			}
			if err := writeNotification(conn, n); err != nil {
				log.Debug("WebSocket write failed", logger.Error(err))
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		case <-gone:
			log.Debug("WebSocket client disconnected")
			return
		case <-r.Context().Done():
			return
		}
	}
}

func writeNotification(conn *websocket.Conn, n session.Notification) error {
	conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return conn.WriteJSON(n)
}
