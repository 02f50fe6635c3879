package progress

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The UI is served from the same origin; notebook proxies rewrite the
	// host, so the origin check is relaxed.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handler streams hub events to websocket clients. The optional
// request_id query parameter filters to one request.
type Handler struct {
	hub    *Hub
	logger *zap.Logger
}

// NewHandler creates a websocket handler for hub.
func NewHandler(hub *Hub, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{hub: hub, logger: logger.With(zap.String("component", "progress"))}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	requestID := r.URL.Query().Get("request_id")
	l := h.hub.Subscribe(requestID)
	h.logger.Debug("progress listener connected", zap.String("request_id", requestID))

	done := make(chan struct{})
	go h.readPump(conn, done)
	h.writePump(conn, l, done)

	h.hub.Unsubscribe(l)
	conn.Close()
}

// readPump discards client messages and notices disconnects.
func (h *Handler) readPump(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Handler) writePump(conn *websocket.Conn, l *Listener, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	if err := h.send(conn, Event{RequestID: l.RequestID, Stage: StageWaiting, Time: time.Now()}); err != nil {
		return
	}
	for {
		select {
		case <-done:
			return
		case e := <-l.C:
			if err := h.send(conn, e); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Handler) send(conn *websocket.Conn, e Event) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(e)
}
