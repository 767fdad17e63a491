package api

import (
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bbernstein/hyperion-link-go/internal/services/pubsub"
)

const (
	frameBuffer  = 16
	writeTimeout = 2 * time.Second
	pingInterval = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for WebSocket
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// streamFrames pushes every dispatched frame as a JSON pubsub.FrameEvent.
// ?entry=<id> limits the feed to one entry. Frames are dropped for clients
// that cannot keep up.
func (h *Handler) streamFrames(w http.ResponseWriter, r *http.Request) {
	if h.deps.PubSub == nil {
		writeError(w, http.StatusServiceUnavailable, codeInternal, "frame feed disabled")
		return
	}

	// Subscribe before upgrading so no frame is missed after the handshake.
	sub := h.deps.PubSub.Subscribe(pubsub.TopicColorFrame, r.URL.Query().Get("entry"), frameBuffer)
	defer h.deps.PubSub.Unsubscribe(sub)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[api] Frame feed upgrade failed: %v", err)
		return
	}
	defer func() { _ = conn.Close() }()

	// The client never sends data; reading only detects the close.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		select {
		case <-gone:
			return
		case msg, ok := <-sub.Channel:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}
		}
	}
}
