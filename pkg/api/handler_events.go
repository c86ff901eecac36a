package api

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
)

// handleEventStream upgrades the request to an SSE connection and relays
// every broadcaster message until the client disconnects, interleaving a
// heartbeat comment so intermediate proxies don't time the connection out.
func (s *Server) handleEventStream(c *gin.Context) {
	msgs, unsubscribe := s.deps.Broadcaster.Subscribe()
	defer unsubscribe()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	heartbeat := time.NewTicker(s.deps.Broadcaster.HeartbeatInterval())
	defer heartbeat.Stop()

	ctx := c.Request.Context()
	c.Stream(func(w gin.ResponseWriter) bool {
		select {
		case <-ctx.Done():
			return false
		case m, ok := <-msgs:
			if !ok {
				return false
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", m.Type, m.Payload)
			return true
		case <-heartbeat.C:
			fmt.Fprint(w, ": heartbeat\n\n")
			return true
		}
	})
}
