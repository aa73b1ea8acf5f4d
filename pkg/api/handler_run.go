package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/copilotz/copilotz/pkg/engine"
	"github.com/copilotz/copilotz/pkg/models"
)

// createRun handles POST /api/v1/runs. With options.stream the
// response is an SSE stream mirroring the run handle; otherwise the
// handle summary is returned as JSON once the run is accepted.
func (s *Server) createRun(c *gin.Context) {
	var req engine.RunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, models.WrapRunError(models.KindInvalidInput, err, "malformed run request"))
		return
	}

	if req.Options.Stream {
		s.streamRun(c, req)
		return
	}

	handle, err := s.engine.Run(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"queueId":  handle.QueueID,
		"threadId": handle.ThreadID,
		"status":   handle.Status,
	})
}

// sseFrame is one server-sent event on the run stream.
type sseFrame struct {
	name string
	data any
}

// streamRun executes the run and relays its event feed as SSE. The
// stream ends with a "done" frame carrying the final error, if any.
func (s *Server) streamRun(c *gin.Context, req engine.RunRequest) {
	// The handle feed is consumed here; the client only sees SSE.
	req.Options.AckMode = engine.AckImmediate

	handle, err := s.engine.Run(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()

	writeFrame(c.Writer, sseFrame{name: "handle", data: gin.H{
		"queueId":  handle.QueueID,
		"threadId": handle.ThreadID,
		"status":   handle.Status,
	}})
	c.Writer.Flush()

	clientGone := c.Request.Context().Done()
	for {
		select {
		case <-clientGone:
			handle.Cancel()
			// Drain so the worker never blocks on a dead client.
			for range handle.Events() {
			}
			return
		case event, ok := <-handle.Events():
			if !ok {
				frame := sseFrame{name: "done", data: gin.H{"status": "completed"}}
				if err := handle.Err(); err != nil {
					frame.data = gin.H{"status": "failed", "error": runErrorBody(err)}
				}
				writeFrame(c.Writer, frame)
				c.Writer.Flush()
				return
			}
			writeFrame(c.Writer, sseFrame{name: "event", data: event})
			c.Writer.Flush()
		}
	}
}

func writeFrame(w io.Writer, frame sseFrame) {
	data, err := json.Marshal(frame.data)
	if err != nil {
		return
	}
	io.WriteString(w, "event: "+frame.name+"\ndata: "+string(data)+"\n\n")
}

func runErrorBody(err error) errorBody {
	var runErr *models.RunError
	if errors.As(err, &runErr) {
		return errorBody{Kind: string(runErr.Kind), Message: runErr.Message, Metadata: runErr.Metadata}
	}
	return errorBody{Kind: string(models.KindStorageError), Message: err.Error()}
}
