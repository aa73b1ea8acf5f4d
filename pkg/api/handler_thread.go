package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// getThread handles GET /api/v1/threads/:id.
func (s *Server) getThread(c *gin.Context) {
	thread, err := s.engine.Threads().GetThread(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, thread)
}

// getThreadMessages handles GET /api/v1/threads/:id/messages. An
// optional limit query returns only the newest N, oldest first.
func (s *Server) getThreadMessages(c *gin.Context) {
	threadID := c.Param("id")
	if _, err := s.engine.Threads().GetThread(c.Request.Context(), threadID); err != nil {
		writeError(c, err)
		return
	}

	limit := parseLimit(c.Query("limit"))
	messages, err := s.engine.Messages().GetRecentMessages(c.Request.Context(), threadID, limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"threadId": threadID, "messages": messages})
}

// getThreadEvents handles GET /api/v1/threads/:id/events, newest first.
func (s *Server) getThreadEvents(c *gin.Context) {
	threadID := c.Param("id")
	if _, err := s.engine.Threads().GetThread(c.Request.Context(), threadID); err != nil {
		writeError(c, err)
		return
	}

	limit := parseLimit(c.Query("limit"))
	events, err := s.engine.Ops().ListThreadEvents(c.Request.Context(), threadID, limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"threadId": threadID, "events": events})
}

func parseLimit(raw string) int {
	if raw == "" {
		return 0
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		return 0
	}
	return limit
}
