package events

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const writeWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Hub streams bus events to websocket clients. Each connection gets its own
// subscription; the optional "pattern" query parameter narrows it.
type Hub struct {
	bus    *Bus
	logger *zap.Logger
}

// NewHub creates a websocket hub over bus.
func NewHub(bus *Bus, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{bus: bus, logger: logger}
}

// RegisterRoutes mounts the event stream endpoint.
func (h *Hub) RegisterRoutes(r chi.Router) {
	r.Get("/ws/events", h.handleWebSocket)
}

func (h *Hub) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	pattern := r.URL.Query().Get("pattern")
	if pattern != "" && !Valid(pattern) {
		http.Error(w, "invalid pattern", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade", zap.Error(err))
		return
	}
	defer conn.Close()

	sub, err := h.bus.Subscribe(pattern, 0)
	if err != nil {
		return
	}
	defer sub.Close()

	// The reader only notices the client going away.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					h.logger.Debug("websocket read", zap.Error(err))
				}
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case e, ok := <-sub.C:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(e); err != nil {
				h.logger.Debug("websocket write", zap.Error(err))
				return
			}
		}
	}
}
