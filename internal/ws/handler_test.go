package ws

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/AgentBridge/internal/events"
	"github.com/GriffinCanCode/AgentBridge/internal/infrastructure/config"
	"github.com/GriffinCanCode/AgentBridge/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentBridge/internal/session"
	"github.com/GriffinCanCode/AgentBridge/internal/shared/id"
	"github.com/GriffinCanCode/AgentBridge/internal/text/chunk"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Process.Command = "cat"
	cfg.Process.WorkingDir = t.TempDir()
	cfg.Buffer.Strategy = "immediate"
	cfg.Session.CleanupInterval = time.Hour
	return cfg
}

type fixture struct {
	registry *session.Registry
	bus      *events.Bus
	server   *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	bus := events.New(nil)
	registry, err := session.NewRegistry(testConfig(t), bus, nil, logging.NewNop())
	require.NoError(t, err)
	t.Cleanup(registry.Close)

	gateway := NewGateway(registry, bus, nil, logging.NewNop())
	router := gin.New()
	router.GET("/stream", gateway.HandleStream)

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return &fixture{registry: registry, bus: bus, server: server}
}

func (f *fixture) dial(t *testing.T, sid id.SessionID) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/stream?session_id=" + sid.String()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// frame is a superset decode target for every gateway frame shape.
type frame struct {
	Type      string        `json:"type"`
	SessionID string        `json:"session_id"`
	Message   string        `json:"message"`
	Reason    string        `json:"reason"`
	BatchID   string        `json:"batch_id"`
	Accepted  bool          `json:"accepted"`
	Chunks    []chunk.Chunk `json:"chunks"`
}

func readFrame(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var f frame
	require.NoError(t, sonic.Unmarshal(data, &f))
	return f
}

func awaitFrame(t *testing.T, conn *websocket.Conn, typ string) frame {
	t.Helper()
	for i := 0; i < 20; i++ {
		f := readFrame(t, conn)
		if f.Type == typ {
			return f
		}
	}
	t.Fatalf("no %q frame arrived", typ)
	return frame{}
}

func sendJSON(t *testing.T, conn *websocket.Conn, v interface{}) {
	t.Helper()
	data, err := sonic.Marshal(v)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))
}

func TestStreamRejectsBadSessionID(t *testing.T) {
	f := newFixture(t)

	resp, err := http.Get(f.server.URL + "/stream?session_id=nope")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Get(f.server.URL + "/stream?session_id=ZZZZZ9")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStreamCommandRoundTrip(t *testing.T) {
	f := newFixture(t)
	s, err := f.registry.Create("")
	require.NoError(t, err)

	conn := f.dial(t, s.ID)

	hello := readFrame(t, conn)
	assert.Equal(t, "connected", hello.Type)
	assert.Equal(t, s.ID.String(), hello.SessionID)

	sendJSON(t, conn, map[string]string{"type": "command", "text": "hello pipeline"})

	var gotAck, gotOutput bool
	for !(gotAck && gotOutput) {
		fr := readFrame(t, conn)
		switch fr.Type {
		case "ack":
			assert.True(t, fr.Accepted)
			gotAck = true
		case "output":
			require.NotEmpty(t, fr.Chunks)
			assert.NotEmpty(t, fr.BatchID)
			var joined strings.Builder
			for _, ch := range fr.Chunks {
				joined.WriteString(ch.Content)
			}
			assert.Contains(t, joined.String(), "hello pipeline")
			gotOutput = true
		}
	}
}

func TestStreamPingAndErrors(t *testing.T) {
	f := newFixture(t)
	s, err := f.registry.Create("")
	require.NoError(t, err)

	conn := f.dial(t, s.ID)
	readFrame(t, conn) // connected

	sendJSON(t, conn, map[string]string{"type": "ping"})
	awaitFrame(t, conn, "pong")

	sendJSON(t, conn, map[string]string{"type": "bogus"})
	fr := awaitFrame(t, conn, "error")
	assert.Equal(t, "unknown message type", fr.Message)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{broken")))
	fr = awaitFrame(t, conn, "error")
	assert.Equal(t, "malformed frame", fr.Message)
}

func TestStreamRejectsEmptyCommand(t *testing.T) {
	f := newFixture(t)
	s, err := f.registry.Create("")
	require.NoError(t, err)

	conn := f.dial(t, s.ID)
	readFrame(t, conn) // connected

	sendJSON(t, conn, map[string]string{"type": "command", "text": "   "})
	fr := awaitFrame(t, conn, "error")
	assert.Equal(t, "command text required", fr.Message)
	assert.Empty(t, s.Commands(0))
}

func TestNewObserverSupersedesCurrent(t *testing.T) {
	f := newFixture(t)
	s, err := f.registry.Create("")
	require.NoError(t, err)

	first := f.dial(t, s.ID)
	readFrame(t, first) // connected

	second := f.dial(t, s.ID)
	readFrame(t, second) // connected

	// The first observer is closed by the gateway.
	first.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		if _, _, err := first.ReadMessage(); err != nil {
			break
		}
	}

	sendJSON(t, second, map[string]string{"type": "ping"})
	awaitFrame(t, second, "pong")
}

func TestTerminateDropsObserver(t *testing.T) {
	f := newFixture(t)
	s, err := f.registry.Create("")
	require.NoError(t, err)

	conn := f.dial(t, s.ID)
	readFrame(t, conn) // connected

	require.True(t, f.registry.Terminate(s.ID))

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	_, ok := f.registry.Get(s.ID)
	assert.False(t, ok)
}
