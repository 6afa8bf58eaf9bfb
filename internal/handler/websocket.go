package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"social_client/internal/service"
	"social_client/pkg/logger"
)

const (
	viewWriteWait  = 10 * time.Second
	viewPongWait   = 60 * time.Second
	viewPingPeriod = viewPongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true // API слушает только loopback
	},
}

// WebSocketHandler отдает UI снимки состояния по мере изменений
type WebSocketHandler struct {
	inbox service.InboxService
	log   logger.Logger
}

func NewWebSocketHandler(inbox service.InboxService, log logger.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		inbox: inbox,
		log:   log,
	}
}

func (h *WebSocketHandler) HandleView(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error("Failed to upgrade connection", "error", err)
		return
	}
	defer conn.Close()

	snapshots, unsubscribe := h.inbox.Subscribe()
	defer unsubscribe()

	done := make(chan struct{})
	go h.readPump(conn, done)

	ticker := time.NewTicker(viewPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case snap, ok := <-snapshots:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(viewWriteWait))
			if err := conn.WriteJSON(snap); err != nil {
				h.log.Debug("View client write failed", "error", err)
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(viewWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump только следит за живостью клиента: команды UI идут через REST
func (h *WebSocketHandler) readPump(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)

	_ = conn.SetReadDeadline(time.Now().Add(viewPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(viewPongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Debug("View client disconnected", "error", err)
			}
			return
		}
	}
}
