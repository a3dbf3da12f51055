package webhook

import (
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/AgentBridge/internal/events"
	"github.com/GriffinCanCode/AgentBridge/internal/infrastructure/config"
	"github.com/GriffinCanCode/AgentBridge/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentBridge/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentBridge/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/AgentBridge/internal/text/chunk"
	"github.com/GriffinCanCode/AgentBridge/internal/text/normalize"
)

func testWebhookConfig(url string) config.WebhookConfig {
	return config.WebhookConfig{
		Enabled: true,
		URL:     url,
		Timeout: 2 * time.Second,
	}
}

// capture collects webhook request bodies behind a handler.
type capture struct {
	mu     sync.Mutex
	bodies [][]byte
	status int
}

func (c *capture) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		c.mu.Lock()
		c.bodies = append(c.bodies, body)
		status := c.status
		c.mu.Unlock()
		if status != 0 {
			w.WriteHeader(status)
		}
	}
}

func (c *capture) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.bodies)
}

func (c *capture) body(i int) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bodies[i]
}

func TestNewRejectsBadURL(t *testing.T) {
	bus := events.New(nil)
	defer bus.Close()

	_, err := New(testWebhookConfig(""), bus, nil, logging.NewNop())
	assert.Error(t, err)

	_, err = New(testWebhookConfig("ftp://example.com/hook"), bus, nil, logging.NewNop())
	assert.Error(t, err)
}

func TestDispatcherDeliversBatch(t *testing.T) {
	srv := &capture{}
	server := httptest.NewServer(srv.handler())
	defer server.Close()

	bus := events.New(nil)
	defer bus.Close()

	d, err := New(testWebhookConfig(server.URL), bus, nil, logging.NewNop())
	require.NoError(t, err)
	d.Start()
	defer d.Stop()

	chunks := []chunk.Chunk{{Content: "first memo", Type: normalize.TypeNormal}}
	bus.Publish(events.NewOutputEvent("ABC123", chunks))

	require.Eventually(t, func() bool { return srv.count() == 1 }, 3*time.Second, 10*time.Millisecond)

	var payload Payload
	require.NoError(t, sonic.Unmarshal(srv.body(0), &payload))
	assert.Equal(t, "ABC123", payload.SessionID)
	assert.NotEmpty(t, payload.BatchID)
	require.Len(t, payload.Chunks, 1)
	assert.Equal(t, "first memo", payload.Chunks[0].Content)
}

func TestDispatcherIgnoresOtherEventKinds(t *testing.T) {
	srv := &capture{}
	server := httptest.NewServer(srv.handler())
	defer server.Close()

	bus := events.New(nil)
	defer bus.Close()

	d, err := New(testWebhookConfig(server.URL), bus, nil, logging.NewNop())
	require.NoError(t, err)
	d.Start()
	defer d.Stop()

	bus.Publish(events.Event{Kind: events.SessionCreated, SessionID: "ABC123"})
	bus.Publish(events.NewOutputEvent("ABC123", []chunk.Chunk{{Content: "second memo"}}))

	require.Eventually(t, func() bool { return srv.count() == 1 }, 3*time.Second, 10*time.Millisecond)

	var payload Payload
	require.NoError(t, sonic.Unmarshal(srv.body(0), &payload))
	assert.Equal(t, "second memo", payload.Chunks[0].Content)
}

func TestDispatcherPacesDeliveries(t *testing.T) {
	srv := &capture{}
	server := httptest.NewServer(srv.handler())
	defer server.Close()

	bus := events.New(nil)
	defer bus.Close()

	cfg := testWebhookConfig(server.URL)
	cfg.MinInterval = 80 * time.Millisecond

	d, err := New(cfg, bus, nil, logging.NewNop())
	require.NoError(t, err)
	d.Start()
	defer d.Stop()

	start := time.Now()
	for i := 0; i < 3; i++ {
		bus.Publish(events.NewOutputEvent("ABC123", []chunk.Chunk{{Content: "tail"}}))
	}

	require.Eventually(t, func() bool { return srv.count() == 3 }, 3*time.Second, 10*time.Millisecond)
	assert.GreaterOrEqual(t, time.Since(start), 160*time.Millisecond)
}

func TestFailuresOpenBreakerAndSkipDeliveries(t *testing.T) {
	srv := &capture{status: http.StatusInternalServerError}
	server := httptest.NewServer(srv.handler())
	defer server.Close()

	bus := events.New(nil)
	defer bus.Close()

	metrics := monitoring.NewMetricsWith(prometheus.NewRegistry())
	d, err := New(testWebhookConfig(server.URL), bus, metrics, logging.NewNop())
	require.NoError(t, err)
	d.Start()
	defer d.Stop()

	for i := 0; i < 3; i++ {
		bus.Publish(events.NewOutputEvent("ABC123", []chunk.Chunk{{Content: "tail"}}))
	}

	require.Eventually(t, func() bool {
		return d.BreakerState() == resilience.StateOpen
	}, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, 3, srv.count())

	// While open the batch is skipped without touching the endpoint.
	bus.Publish(events.NewOutputEvent("ABC123", []chunk.Chunk{{Content: "tail"}}))
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(metrics.WebhookDeliveries.WithLabelValues("skipped")) == 1
	}, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, 3, srv.count())
	assert.Equal(t, float64(3), testutil.ToFloat64(metrics.WebhookDeliveries.WithLabelValues("error")))
}

func TestSanitizeStripsMarkup(t *testing.T) {
	srv := &capture{}
	server := httptest.NewServer(srv.handler())
	defer server.Close()

	bus := events.New(nil)
	defer bus.Close()

	cfg := testWebhookConfig(server.URL)
	cfg.SanitizeHTML = true

	d, err := New(cfg, bus, nil, logging.NewNop())
	require.NoError(t, err)
	d.Start()
	defer d.Stop()

	original := []chunk.Chunk{{Content: `<script>alert(1)</script>ready steady`}}
	bus.Publish(events.NewOutputEvent("ABC123", original))

	require.Eventually(t, func() bool { return srv.count() == 1 }, 3*time.Second, 10*time.Millisecond)

	var payload Payload
	require.NoError(t, sonic.Unmarshal(srv.body(0), &payload))
	assert.NotContains(t, payload.Chunks[0].Content, "<script>")
	assert.Contains(t, payload.Chunks[0].Content, "ready steady")

	// The shared batch itself is left untouched.
	assert.Contains(t, original[0].Content, "<script>")
}

func TestStopHaltsRelay(t *testing.T) {
	var requests atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
	}))
	defer server.Close()

	bus := events.New(nil)
	defer bus.Close()

	d, err := New(testWebhookConfig(server.URL), bus, nil, logging.NewNop())
	require.NoError(t, err)
	d.Start()

	bus.Publish(events.NewOutputEvent("ABC123", []chunk.Chunk{{Content: "tail"}}))
	require.Eventually(t, func() bool { return requests.Load() == 1 }, 3*time.Second, 10*time.Millisecond)

	d.Stop()
	d.Stop()

	bus.Publish(events.NewOutputEvent("ABC123", []chunk.Chunk{{Content: "tail"}}))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int64(1), requests.Load())
}
