package dashboard

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/gin-gonic/gin"
)

// alertEvent is the payload of an "alert" SSE event.
type alertEvent struct {
	ID        uint   `json:"id"`
	Kind      string `json:"kind"`
	Severity  string `json:"severity"`
	Subject   string `json:"subject"`
	RequestID string `json:"requestId,omitempty"`
	SampleID  string `json:"sampleId,omitempty"`
	Test      string `json:"test,omitempty"`
}

// handleSSE streams alerts raised after the client connected, polling the
// alert log.
func (a *api) handleSSE(c *gin.Context) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	ctx := c.Request.Context()
	var lastSeenID uint
	if a.alerts != nil {
		lastSeenID = a.alerts.LatestID(ctx)
	}

	writeSSE(c.Writer, "connected", map[string]string{"type": "connected"})
	c.Writer.Flush()

	if a.alerts == nil {
		return
	}

	ticker := time.NewTicker(a.poll)
	heartbeat := time.NewTicker(a.heartbeat)
	defer ticker.Stop()
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			writeSSE(c.Writer, "heartbeat", map[string]string{
				"timestamp": time.Now().UTC().Format(time.RFC3339),
			})
			c.Writer.Flush()
		case <-ticker.C:
			fresh, err := a.alerts.Since(ctx, lastSeenID)
			if err != nil {
				a.log.Warn("sse poll failed", "error", err)
				continue
			}
			for _, al := range fresh {
				writeSSE(c.Writer, "alert", alertEvent{
					ID:        al.ID,
					Kind:      al.Kind,
					Severity:  al.Severity,
					Subject:   al.Subject,
					RequestID: al.RequestID,
					SampleID:  al.SampleID,
					Test:      al.Test,
				})
				lastSeenID = al.ID
			}
			if len(fresh) > 0 {
				c.Writer.Flush()
			}
		}
	}
}

// writeSSE writes a single SSE event to the writer.
func writeSSE(w io.Writer, event string, data any) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, string(jsonData))
}
