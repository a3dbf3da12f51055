package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// track times one registry operation for the service-call metrics. The
// returned func resolves the outcome from the response code, so callers
// defer it and let the handler write its status first.
func (h *Handlers) track(c *gin.Context, operation string) func() {
	if h.metrics == nil {
		return func() {}
	}
	start := time.Now()
	return func() {
		status := "success"
		if c.Writer.Status() >= http.StatusBadRequest {
			status = "error"
		}
		h.metrics.RecordServiceCall("registry", operation, status, time.Since(start))
	}
}
