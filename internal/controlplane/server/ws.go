package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/futarchybot/gomarket/internal/events"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// eventEnvelope is the wire form of one streamed event.
type eventEnvelope struct {
	Kind    string `json:"kind"`
	Payload any    `json:"payload"`
}

// handleEventStream upgrades to a websocket and forwards every bus event
// until the client disconnects. Slow clients drop events rather than
// backpressure the engine.
func (s *Server) handleEventStream(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.WithError(err).Debug("websocket upgrade failed")
		return
	}
	defer conn.Close()

	ch := s.bus.Subscribe(256)
	defer s.bus.Unsubscribe(ch)

	// Reader goroutine: only there to notice the peer going away.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			env := eventEnvelope{Kind: events.Kind(event), Payload: event}
			if err := conn.WriteJSON(env); err != nil {
				return
			}
		}
	}
}
