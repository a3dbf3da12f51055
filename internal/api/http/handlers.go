package http

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/GriffinCanCode/AgentBridge/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentBridge/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentBridge/internal/session"
	"github.com/GriffinCanCode/AgentBridge/internal/shared/id"
	"github.com/GriffinCanCode/AgentBridge/internal/workspace"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	serviceVersion = "0.1.0"

	// defaultTailCount bounds output and history responses when the
	// caller passes no count.
	defaultTailCount = 10

	// inspectTimeout caps workspace listing walks so a huge directory
	// tree cannot pin a request handler.
	inspectTimeout = 5 * time.Second
)

// Handlers contains all HTTP handlers
type Handlers struct {
	registry *session.Registry
	metrics  *monitoring.Metrics
	logger   *logging.Logger
	started  time.Time
}

// NewHandlers creates a new handler set
func NewHandlers(registry *session.Registry, metrics *monitoring.Metrics, logger *logging.Logger) *Handlers {
	return &Handlers{
		registry: registry,
		metrics:  metrics,
		logger:   logger.Named("api"),
		started:  time.Now(),
	}
}

// Root handles health check
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "online",
		"service": "AgentBridge",
		"version": serviceVersion,
	})
}

// Health handles detailed health check
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":         "healthy",
		"sessions":       h.registry.Stats(),
		"uptime_seconds": time.Since(h.started).Seconds(),
	})
}

// CreateSession starts a child process and registers a session for it.
// An empty or absent body uses the configured default working directory.
func (h *Handlers) CreateSession(c *gin.Context) {
	defer h.track(c, "create")()

	var req struct {
		WorkingDirectory string `json:"working_directory"`
	}
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s, err := h.registry.Create(req.WorkingDirectory)
	if err != nil {
		switch {
		case errors.Is(err, workspace.ErrDenied):
			c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
		case errors.Is(err, session.ErrClosed):
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}

	h.logger.Info("Session created via API",
		zap.String("session_id", s.ID.String()),
		zap.String("working_dir", s.WorkingDir))

	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"session": s.Snapshot(),
	})
}

// ListSessions lists all sessions
func (h *Handlers) ListSessions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"sessions": h.registry.Sessions(),
		"stats":    h.registry.Stats(),
	})
}

// GetSession gets details of a specific session
func (h *Handlers) GetSession(c *gin.Context) {
	s, ok := h.lookup(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, s.Snapshot())
}

// SendCommand forwards one line of input to the session's child process.
func (h *Handlers) SendCommand(c *gin.Context) {
	defer h.track(c, "command")()

	s, ok := h.lookup(c)
	if !ok {
		return
	}

	var req struct {
		Text string `json:"text" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "command text required"})
		return
	}

	accepted := s.SendCommand(req.Text)
	if h.metrics != nil {
		h.metrics.RecordCommand(accepted)
	}
	if !accepted {
		c.JSON(http.StatusConflict, gin.H{
			"accepted":   false,
			"session_id": s.ID,
			"error":      "session is not active",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"accepted":   true,
		"session_id": s.ID,
	})
}

// RestartSession replaces the session's child with a fresh process.
func (h *Handlers) RestartSession(c *gin.Context) {
	defer h.track(c, "restart")()

	s, ok := h.lookup(c)
	if !ok {
		return
	}

	if !s.Restart() {
		c.JSON(http.StatusConflict, gin.H{
			"success": false,
			"error":   "session is terminated",
		})
		return
	}
	if h.metrics != nil {
		h.metrics.IncProcessRestarts()
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"session": s.Snapshot(),
	})
}

// TerminateSession stops the child and removes the session.
func (h *Handlers) TerminateSession(c *gin.Context) {
	defer h.track(c, "terminate")()

	sid := c.Param("id")
	if !id.IsValidSessionID(sid) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
		return
	}

	if !h.registry.Terminate(id.SessionID(sid)) {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"session_id": sid,
	})
}

// GetOutput returns the most recent output chunks for a session.
// count=0 returns everything retained.
func (h *Handlers) GetOutput(c *gin.Context) {
	s, ok := h.lookup(c)
	if !ok {
		return
	}
	n, ok := queryCount(c, defaultTailCount)
	if !ok {
		return
	}

	chunks := s.Output(n)
	c.JSON(http.StatusOK, gin.H{
		"session_id": s.ID,
		"chunks":     chunks,
		"count":      len(chunks),
	})
}

// GetHistory returns the most recent commands sent to a session.
// count=0 returns everything retained.
func (h *Handlers) GetHistory(c *gin.Context) {
	s, ok := h.lookup(c)
	if !ok {
		return
	}
	n, ok := queryCount(c, defaultTailCount)
	if !ok {
		return
	}

	commands := s.Commands(n)
	c.JSON(http.StatusOK, gin.H{
		"session_id": s.ID,
		"commands":   commands,
		"count":      len(commands),
	})
}

// GetWorkspace lists files under the session's working directory.
func (h *Handlers) GetWorkspace(c *gin.Context) {
	s, ok := h.lookup(c)
	if !ok {
		return
	}

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be an integer"})
			return
		}
		limit = n
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), inspectTimeout)
	defer cancel()

	timer := monitoring.NewTimer(h.metrics, "workspace", "inspect")
	listing, err := workspace.Inspect(ctx, s.WorkingDir, limit)
	if err != nil {
		timer.Stop("error")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	timer.Stop("success")

	c.JSON(http.StatusOK, listing)
}

// GetStats reports registry totals, request counters, and the rolling
// latency window.
func (h *Handlers) GetStats(c *gin.Context) {
	stats := gin.H{
		"sessions": h.registry.Stats(),
	}
	if h.metrics != nil {
		stats["requests"] = h.metrics.Snapshot()
		stats["latency"] = h.metrics.Latency()
	}
	c.JSON(http.StatusOK, stats)
}

// lookup resolves the :id path parameter to a live session, writing the
// error response itself when it cannot.
func (h *Handlers) lookup(c *gin.Context) (*session.Session, bool) {
	sid := c.Param("id")
	if !id.IsValidSessionID(sid) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
		return nil, false
	}
	s, ok := h.registry.Get(id.SessionID(sid))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return nil, false
	}
	return s, true
}

// queryCount parses the count query parameter. Absent means def; zero or
// negative means no limit.
func queryCount(c *gin.Context, def int) (int, bool) {
	raw := c.Query("count")
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "count must be an integer"})
		return 0, false
	}
	return n, true
}
