package webhook

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/GriffinCanCode/AgentBridge/internal/events"
	"github.com/GriffinCanCode/AgentBridge/internal/infrastructure/config"
	"github.com/GriffinCanCode/AgentBridge/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentBridge/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentBridge/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/AgentBridge/internal/text/chunk"
)

// Payload is the JSON body POSTed to the webhook endpoint, one per
// delivered batch.
type Payload struct {
	SessionID string        `json:"session_id"`
	BatchID   string        `json:"batch_id"`
	Timestamp time.Time     `json:"timestamp"`
	Chunks    []chunk.Chunk `json:"chunks"`
}

// Dispatcher consumes output events from the bus and relays each batch
// to a configured HTTP endpoint. Deliveries are paced, retried, and
// breaker-guarded; failures are logged and never propagate to the
// producing session.
type Dispatcher struct {
	url       string
	timeout   time.Duration
	client    *resty.Client
	limiter   *rate.Limiter
	breaker   *resilience.Breaker
	sanitizer *bluemonday.Policy
	bus       *events.Bus
	metrics   *monitoring.Metrics
	logger    *logging.Logger

	mu      sync.Mutex
	started bool
	stopped bool
	ctx     context.Context
	cancel  context.CancelFunc
	unsub   func()
	done    chan struct{}
}

// New builds a dispatcher for the given endpoint. The metrics handle
// may be nil.
func New(cfg config.WebhookConfig, bus *events.Bus, metrics *monitoring.Metrics, logger *logging.Logger) (*Dispatcher, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logger.Named("webhook")

	target, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("webhook: parse url: %w", err)
	}
	if target.Scheme != "http" && target.Scheme != "https" {
		return nil, fmt.Errorf("webhook: unsupported url %q", cfg.URL)
	}

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = cfg.MaxRetries
	retryClient.RetryWaitMin = 500 * time.Millisecond
	retryClient.RetryWaitMax = 5 * time.Second
	retryClient.Logger = nil

	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.MaxRetries).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		SetHeader("User-Agent", "AgentBridge-Webhook/1.0").
		SetHeader("Content-Type", "application/json")
	client.SetTransport(retryClient.HTTPClient.Transport)

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.MinInterval > 0 {
		limiter = rate.NewLimiter(rate.Every(cfg.MinInterval), 1)
	}

	breaker := resilience.New("webhook", resilience.Settings{
		OnStateChange: func(name string, from, to resilience.State) {
			logger.Warn("Breaker state change",
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	var sanitizer *bluemonday.Policy
	if cfg.SanitizeHTML {
		sanitizer = bluemonday.UGCPolicy()
	}

	return &Dispatcher{
		url:       cfg.URL,
		timeout:   cfg.Timeout,
		client:    client,
		limiter:   limiter,
		breaker:   breaker,
		sanitizer: sanitizer,
		bus:       bus,
		metrics:   metrics,
		logger:    logger,
	}, nil
}

// Start subscribes to the bus and begins relaying output batches.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return
	}
	d.started = true

	d.ctx, d.cancel = context.WithCancel(context.Background())
	ch, unsub := d.bus.Subscribe()
	d.unsub = unsub
	d.done = make(chan struct{})

	go d.run(ch)

	d.logger.Info("Webhook dispatcher started", zap.String("url", d.url))
}

// Stop unsubscribes, aborts any in-flight delivery, and waits for the
// relay goroutine to finish. Safe to call more than once.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.started || d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	unsub, cancel, done := d.unsub, d.cancel, d.done
	d.mu.Unlock()

	unsub()
	cancel()
	<-done

	d.logger.Info("Webhook dispatcher stopped")
}

// BreakerState reports the delivery breaker state.
func (d *Dispatcher) BreakerState() resilience.State {
	return d.breaker.State()
}

func (d *Dispatcher) run(ch <-chan events.Event) {
	defer close(d.done)
	for ev := range ch {
		if ev.Kind != events.OutputChunks || ev.Batch == nil {
			continue
		}
		if err := d.limiter.Wait(d.ctx); err != nil {
			continue
		}
		d.send(ev)
	}
}

func (d *Dispatcher) send(ev events.Event) {
	payload := Payload{
		SessionID: ev.SessionID.String(),
		BatchID:   string(ev.Batch.ID),
		Timestamp: ev.Timestamp,
		Chunks:    ev.Batch.Chunks,
	}

	if d.sanitizer != nil {
		// The batch is shared with other subscribers; rewrite a copy.
		chunks := make([]chunk.Chunk, len(ev.Batch.Chunks))
		copy(chunks, ev.Batch.Chunks)
		for i := range chunks {
			chunks[i].Content = d.sanitizer.Sanitize(chunks[i].Content)
		}
		payload.Chunks = chunks
	}

	body, err := sonic.Marshal(payload)
	if err != nil {
		d.logger.Error("Payload encode failed", zap.Error(err))
		return
	}

	start := time.Now()
	err = d.breaker.Do(func() error {
		ctx, cancel := context.WithTimeout(d.ctx, d.timeout)
		defer cancel()

		resp, err := d.client.R().SetContext(ctx).SetBody(body).Post(d.url)
		if err != nil {
			return err
		}
		if resp.StatusCode() >= 400 {
			return fmt.Errorf("webhook: endpoint returned %s", resp.Status())
		}
		return nil
	})

	if d.metrics != nil {
		d.metrics.RecordWebhookDelivery(deliveryStatus(err), time.Since(start))
	}

	switch {
	case err == nil:
		d.logger.Debug("Batch delivered",
			zap.String("session_id", payload.SessionID),
			zap.String("batch_id", payload.BatchID),
			zap.Int("chunks", len(payload.Chunks)),
		)
	case errors.Is(err, resilience.ErrCircuitOpen):
		d.logger.Debug("Batch skipped, breaker open",
			zap.String("batch_id", payload.BatchID),
		)
	default:
		d.logger.Warn("Delivery failed",
			zap.String("session_id", payload.SessionID),
			zap.String("batch_id", payload.BatchID),
			zap.Error(err),
		)
	}
}

func deliveryStatus(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, resilience.ErrCircuitOpen):
		return "skipped"
	default:
		return "error"
	}
}
