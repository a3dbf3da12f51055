package http

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/GriffinCanCode/AgentBridge/internal/shared/id"
	"github.com/GriffinCanCode/AgentBridge/internal/text/chunk"
	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/klauspost/compress/gzip"
)

// gzipMinSize skips compression for bodies that fit one packet anyway.
const gzipMinSize = 1 << 10

// transcriptResponse is the full-session export document.
type transcriptResponse struct {
	SessionID   id.SessionID `json:"session_id"`
	GeneratedAt time.Time    `json:"generated_at"`
	ChunkCount  int          `json:"chunk_count"`
	Truncated   bool         `json:"truncated"`
	Transcript  string       `json:"transcript"`
}

// GetTranscript returns every retained output chunk joined into one
// document. max_chars trims the middle of an oversized transcript while
// keeping its head and tail.
func (h *Handlers) GetTranscript(c *gin.Context) {
	s, ok := h.lookup(c)
	if !ok {
		return
	}

	chunks := s.Output(0)
	var b strings.Builder
	for i := range chunks {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(chunks[i].Content)
	}
	text := b.String()

	truncated := false
	if raw := c.Query("max_chars"); raw != "" {
		maxChars, err := strconv.Atoi(raw)
		if err != nil || maxChars <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "max_chars must be a positive integer"})
			return
		}
		if len(text) > maxChars {
			text = chunk.TruncateSmart(text, maxChars)
			truncated = true
		}
	}

	body, err := sonic.Marshal(transcriptResponse{
		SessionID:   s.ID,
		GeneratedAt: time.Now().UTC(),
		ChunkCount:  len(chunks),
		Truncated:   truncated,
		Transcript:  text,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	writeJSON(c, body)
}

// writeJSON sends body as JSON, gzip-compressed when the client accepts
// it and the payload is large enough to benefit.
func writeJSON(c *gin.Context, body []byte) {
	if len(body) < gzipMinSize || !strings.Contains(c.GetHeader("Accept-Encoding"), "gzip") {
		c.Data(http.StatusOK, "application/json; charset=utf-8", body)
		return
	}

	c.Header("Content-Type", "application/json; charset=utf-8")
	c.Header("Content-Encoding", "gzip")
	c.Header("Vary", "Accept-Encoding")
	c.Status(http.StatusOK)

	gz := gzip.NewWriter(c.Writer)
	defer gz.Close()
	if _, err := gz.Write(body); err != nil {
		return
	}
}
