package server

import (
	"io"
	"log"
	"time"

	"meeting-live/internal/broadcast"

	"github.com/gin-gonic/gin"
)

const streamKeepAlive = 25 * time.Second

// handleStream serves session events as server-sent events for screens that
// cannot hold a websocket.
func (s *Server) handleStream(c *gin.Context) {
	var uri sessionURI
	if !bindURI(c, &uri) {
		return
	}
	var query subscribeQuery
	if !bindQuery(c, &query) {
		return
	}
	if !s.requireSession(c, uri.SessionID) {
		return
	}

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	client := broadcast.NewStreamClient()
	s.hub.Join(uri.SessionID, client)
	defer s.hub.Leave(uri.SessionID, client)
	log.Printf("sse connected session_id=%d subscriber=%s remote=%s", uri.SessionID, client.ID(), c.ClientIP())

	s.sendSnapshot(c.Request.Context(), client, uri.SessionID, query.ParticipantID)

	keepAlive := time.NewTicker(streamKeepAlive)
	defer keepAlive.Stop()
	c.Stream(func(w io.Writer) bool {
		select {
		case msg := <-client.Messages():
			c.SSEvent("message", string(msg))
			return true
		case <-keepAlive.C:
			c.SSEvent("ping", "{}")
			return true
		case <-client.Done():
			return false
		case <-c.Request.Context().Done():
			return false
		}
	})
	log.Printf("sse disconnected session_id=%d subscriber=%s", uri.SessionID, client.ID())
}
