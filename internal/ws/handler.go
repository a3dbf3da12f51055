package ws

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentBridge/internal/events"
	"github.com/GriffinCanCode/AgentBridge/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentBridge/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentBridge/internal/session"
	"github.com/GriffinCanCode/AgentBridge/internal/shared/id"
	"github.com/GriffinCanCode/AgentBridge/internal/text/chunk"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendQueueSize  = 64
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Front-ends connect from arbitrary origins
	},
}

// outputFrame carries one chunk batch to the observer.
type outputFrame struct {
	Type      string        `json:"type"`
	SessionID string        `json:"session_id"`
	BatchID   string        `json:"batch_id"`
	Chunks    []chunk.Chunk `json:"chunks"`
	Timestamp int64         `json:"timestamp"`
}

// ackFrame answers an inbound command with the registry's verdict.
type ackFrame struct {
	Type      string `json:"type"`
	Accepted  bool   `json:"accepted"`
	Timestamp int64  `json:"timestamp"`
}

// systemFrame covers connection lifecycle and error notices.
type systemFrame struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
	Message   string `json:"message,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// inbound is the envelope observers send to the gateway.
type inbound struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Gateway manages WebSocket observers. Each connection attaches to one
// session, receives its chunk batches as they flush, and may push
// commands back through the registry.
type Gateway struct {
	registry *session.Registry
	bus      *events.Bus
	metrics  *monitoring.Metrics
	logger   *logging.Logger
}

// NewGateway creates a WebSocket gateway. The metrics handle may be nil.
func NewGateway(registry *session.Registry, bus *events.Bus, metrics *monitoring.Metrics, logger *logging.Logger) *Gateway {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Gateway{
		registry: registry,
		bus:      bus,
		metrics:  metrics,
		logger:   logger.Named("ws"),
	}
}

// HandleStream upgrades GET /stream?session_id=X and serves the
// connection until either side closes. A newer observer for the same
// session supersedes the current one.
func (g *Gateway) HandleStream(c *gin.Context) {
	raw := c.Query("session_id")
	if !id.IsValidSessionID(raw) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "valid session_id required"})
		return
	}
	sid := id.SessionID(raw)

	s, ok := g.registry.Get(sid)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		g.logger.Warn("Upgrade failed", zap.Error(err))
		return
	}

	if g.metrics != nil {
		g.metrics.IncWSConnections()
		defer g.metrics.DecWSConnections()
	}

	cl := newClient(conn, sid, g.registry, g.metrics, g.logger.WithSession(raw))

	batches, unsub := g.bus.SubscribeSession(sid)
	defer unsub()

	if prev := s.Attach(cl); prev != nil {
		g.logger.Info("Superseding attached observer", zap.String("session_id", raw))
		prev.Close()
	}
	defer s.Detach(cl)
	defer cl.Close()

	go cl.writePump()
	go cl.relay(batches)

	cl.sendFrame("connected", systemFrame{
		Type:      "connected",
		SessionID: raw,
		Message:   "observing session",
		Timestamp: time.Now().Unix(),
	})

	cl.readPump()
}

// client is one observer connection. The send queue serializes all
// writes; gorilla connections allow a single writer.
type client struct {
	conn     *websocket.Conn
	sid      id.SessionID
	registry *session.Registry
	metrics  *monitoring.Metrics
	logger   *logging.Logger

	send chan []byte
	done chan struct{}
	once sync.Once
}

func newClient(conn *websocket.Conn, sid id.SessionID, registry *session.Registry, metrics *monitoring.Metrics, logger *logging.Logger) *client {
	return &client{
		conn:     conn,
		sid:      sid,
		registry: registry,
		metrics:  metrics,
		logger:   logger,
		send:     make(chan []byte, sendQueueSize),
		done:     make(chan struct{}),
	}
}

// Close tears the connection down. Safe to call from any goroutine and
// more than once; the session holds it as the attached transport.
func (cl *client) Close() error {
	cl.once.Do(func() {
		close(cl.done)
		cl.conn.Close()
	})
	return nil
}

// relay forwards bus events for the observed session until the
// subscription is cancelled.
func (cl *client) relay(ch <-chan events.Event) {
	for ev := range ch {
		switch ev.Kind {
		case events.OutputChunks:
			if ev.Batch == nil {
				continue
			}
			cl.sendFrame("output", outputFrame{
				Type:      "output",
				SessionID: ev.SessionID.String(),
				BatchID:   string(ev.Batch.ID),
				Chunks:    ev.Batch.Chunks,
				Timestamp: ev.Timestamp.Unix(),
			})
		case events.ProcessExited:
			cl.sendFrame("exited", systemFrame{
				Type:      "exited",
				SessionID: ev.SessionID.String(),
				Reason:    ev.Reason,
				Timestamp: ev.Timestamp.Unix(),
			})
		case events.SessionTerminated:
			cl.sendFrame("terminated", systemFrame{
				Type:      "terminated",
				SessionID: ev.SessionID.String(),
				Reason:    ev.Reason,
				Timestamp: ev.Timestamp.Unix(),
			})
		}
	}
}

// readPump consumes inbound frames until the connection drops.
func (cl *client) readPump() {
	cl.conn.SetReadLimit(maxMessageSize)
	cl.conn.SetReadDeadline(time.Now().Add(pongWait))
	cl.conn.SetPongHandler(func(string) error {
		return cl.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := cl.conn.ReadMessage()
		if err != nil {
			return
		}
		cl.handle(data)
	}
}

// writePump owns the connection's write side: queued frames plus
// keepalive pings.
func (cl *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case frame := <-cl.send:
			cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := cl.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				cl.Close()
				return
			}
		case <-ticker.C:
			cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := cl.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				cl.Close()
				return
			}
		case <-cl.done:
			return
		}
	}
}

func (cl *client) handle(data []byte) {
	var msg inbound
	if err := sonic.Unmarshal(data, &msg); err != nil {
		cl.sendFrame("error", systemFrame{Type: "error", Message: "malformed frame", Timestamp: time.Now().Unix()})
		return
	}

	if cl.metrics != nil {
		cl.metrics.RecordWSMessage("in", msg.Type)
	}

	switch msg.Type {
	case "command":
		if strings.TrimSpace(msg.Text) == "" {
			cl.sendFrame("error", systemFrame{Type: "error", Message: "command text required", Timestamp: time.Now().Unix()})
			return
		}
		accepted := cl.registry.SendCommand(cl.sid, msg.Text)
		if cl.metrics != nil {
			cl.metrics.RecordCommand(accepted)
		}
		cl.sendFrame("ack", ackFrame{Type: "ack", Accepted: accepted, Timestamp: time.Now().Unix()})
	case "ping":
		cl.sendFrame("pong", systemFrame{Type: "pong", Timestamp: time.Now().Unix()})
	default:
		cl.sendFrame("error", systemFrame{Type: "error", Message: "unknown message type", Timestamp: time.Now().Unix()})
	}
}

// sendFrame encodes and enqueues one frame. A full queue marks the
// observer as too slow and drops the connection rather than stalling
// the relay.
func (cl *client) sendFrame(typ string, frame interface{}) {
	data, err := sonic.Marshal(frame)
	if err != nil {
		cl.logger.Error("Frame encode failed", zap.String("type", typ), zap.Error(err))
		return
	}

	if cl.metrics != nil {
		cl.metrics.RecordWSMessage("out", typ)
	}

	select {
	case cl.send <- data:
	case <-cl.done:
	default:
		cl.logger.Warn("Observer too slow, dropping connection")
		cl.Close()
	}
}
