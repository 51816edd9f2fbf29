package http

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Events implements GET /api/events (spec.md §4.7), grounded on handler.go's
// SummarizeStream: set the SSE headers, grab the ResponseWriter as an
// http.Flusher, then loop writing frames until the subscriber channel closes
// or the client disconnects.
func (h *IngestHandler) Events(c *gin.Context) {
	id, ch, unsubscribe := h.bus.Subscribe()
	defer unsubscribe()

	// spec.md §5: SSE connections have no server-side write timeout. The
	// server's configured WriteTimeout would otherwise sever this stream
	// mid-flight once it elapses, same as any other response.
	rc := http.NewResponseController(c.Writer)
	_ = rc.SetWriteDeadline(time.Time{})

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		abortWithError(c, NewHTTPError(http.StatusInternalServerError, "STREAM_UNSUPPORTED", "streaming not supported", nil))
		return
	}

	c.Writer.Write([]byte("event: ready\ndata: {}\n\n"))
	flusher.Flush()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, open := <-ch:
			if !open {
				return
			}
			payload, err := json.Marshal(evt)
			if err != nil {
				h.logger.Error("marshal event failed", "subscriberId", id, "error", err)
				continue
			}
			if _, err := c.Writer.Write([]byte("event: " + string(evt.Type) + "\ndata: ")); err != nil {
				return
			}
			if _, err := c.Writer.Write(payload); err != nil {
				return
			}
			if _, err := c.Writer.Write([]byte("\n\n")); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
