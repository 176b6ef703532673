package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"pdu-bridge/internal/logging"
	"pdu-bridge/internal/manager"
	"pdu-bridge/internal/poller"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// WebSocketHandler streams one device's poll-cycle events (snapshot +
// health) to a connected client, using the standard device_id
// resolution convention.
type WebSocketHandler struct {
	mgr *manager.BridgeManager
	log logging.Logger
}

func NewWebSocketHandler(mgr *manager.BridgeManager, log logging.Logger) *WebSocketHandler {
	return &WebSocketHandler{mgr: mgr, log: log.With("component", "websocket")}
}

// HandleWebSocket upgrades the connection and forwards one device's
// events until the client disconnects or the poller is removed.
func (h *WebSocketHandler) HandleWebSocket(c *gin.Context) {
	p, _, ok := resolvePoller(c, h.mgr)
	if !ok {
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	sub := p.Subscribe()
	defer p.Unsubscribe(sub)
	done := make(chan struct{})
	go h.readLoop(conn, done)

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case ev := <-sub:
			if err := h.writeEvent(conn, ev); err != nil {
				return
			}
		case <-ticker.C:
			if conn.WriteMessage(websocket.PingMessage, nil) != nil {
				return
			}
		}
	}
}

// readLoop drains client frames (pings/close) so the connection stays
// responsive; the facade does not accept client-originated commands
// over this channel.
func (h *WebSocketHandler) readLoop(conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *WebSocketHandler) writeEvent(conn *websocket.Conn, ev poller.StateEvent) error {
	data, err := json.Marshal(gin.H{
		"type":      "state_update",
		"device_id": ev.DeviceID,
		"snapshot":  ev.Snapshot,
		"health":    ev.Health,
	})
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}
