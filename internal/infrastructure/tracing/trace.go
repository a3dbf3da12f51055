package tracing

import (
	"context"
	"sync"
	"time"

	"github.com/GriffinCanCode/AgentBridge/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentBridge/internal/shared/id"
	"go.uber.org/zap"
)

// TraceID identifies one request flow end to end.
type TraceID string

// SpanID identifies a single operation inside a trace.
type SpanID string

type ctxKey int

const (
	traceKey ctxKey = iota
	spanKey
)

// GetTraceID retrieves the trace ID from context.
func GetTraceID(ctx context.Context) TraceID {
	v, _ := ctx.Value(traceKey).(TraceID)
	return v
}

// GetSpanID retrieves the span ID from context.
func GetSpanID(ctx context.Context) SpanID {
	v, _ := ctx.Value(spanKey).(SpanID)
	return v
}

// ExtractTraceContext reads trace identity from propagation headers.
func ExtractTraceContext(headers map[string]string) (TraceID, SpanID) {
	return TraceID(headers["X-Trace-ID"]), SpanID(headers["X-Span-ID"])
}

// InjectTraceContext writes trace identity into propagation headers.
func InjectTraceContext(ctx context.Context, headers map[string]string) {
	if trace := GetTraceID(ctx); trace != "" {
		headers["X-Trace-ID"] = string(trace)
	}
	if span := GetSpanID(ctx); span != "" {
		headers["X-Span-ID"] = string(span)
	}
}

// Span records one operation in a trace.
type Span struct {
	TraceID    TraceID
	SpanID     SpanID
	ParentID   SpanID
	Name       string
	Service    string
	StartTime  time.Time
	Duration   time.Duration
	Tags       map[string]string
	Error      error
	StatusCode int
}

// Finish stamps the span duration.
func (s *Span) Finish() {
	s.Duration = time.Since(s.StartTime)
}

// SetTag adds a tag to the span.
func (s *Span) SetTag(key, value string) {
	s.Tags[key] = value
}

// SetError records an error in the span.
func (s *Span) SetError(err error) {
	s.Error = err
	s.StatusCode = 500
}

// SetStatus sets the HTTP status code.
func (s *Span) SetStatus(code int) {
	s.StatusCode = code
}

// bind stores the span's identity in ctx so children stay in the trace.
func (s *Span) bind(ctx context.Context) context.Context {
	ctx = context.WithValue(ctx, traceKey, s.TraceID)
	return context.WithValue(ctx, spanKey, s.SpanID)
}

// Tracer collects spans and emits them through the structured logger.
type Tracer struct {
	service string
	logger  *logging.Logger
	spans   chan *Span
	quit    chan struct{}
	done    chan struct{}
	once    sync.Once
}

// New creates a tracer and starts its span collector.
func New(service string, logger *logging.Logger) *Tracer {
	if logger == nil {
		logger = logging.NewNop()
	}
	t := &Tracer{
		service: service,
		logger:  logger.Named("tracing"),
		spans:   make(chan *Span, 1000),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}

	go t.collect()

	return t
}

// StartSpan opens a span under the trace carried by ctx, starting a
// fresh trace when ctx carries none.
func (t *Tracer) StartSpan(ctx context.Context, name string) (*Span, context.Context) {
	trace := GetTraceID(ctx)
	if trace == "" {
		trace = TraceID(id.NewRequestID())
	}

	span := &Span{
		TraceID:   trace,
		SpanID:    SpanID(id.NewRequestID()),
		ParentID:  GetSpanID(ctx),
		Name:      name,
		Service:   t.service,
		StartTime: time.Now(),
		Tags:      map[string]string{},
	}

	return span, span.bind(ctx)
}

// Submit hands a finished span to the collector. Spans are dropped
// rather than blocking the request path when the buffer is full.
func (t *Tracer) Submit(span *Span) {
	select {
	case t.spans <- span:
	default:
		t.logger.Warn("Span buffer full, dropping span",
			zap.String("trace_id", string(span.TraceID)),
			zap.String("span_id", string(span.SpanID)),
		)
	}
}

// Close stops the collector after draining already-buffered spans.
func (t *Tracer) Close() {
	t.once.Do(func() {
		close(t.quit)
		<-t.done
	})
}

func (t *Tracer) collect() {
	defer close(t.done)
	for {
		select {
		case span := <-t.spans:
			t.emit(span)
		case <-t.quit:
			for {
				select {
				case span := <-t.spans:
					t.emit(span)
				default:
					return
				}
			}
		}
	}
}

// emit writes the span through the structured logger. Clean spans log at
// debug so health polling does not flood production output.
func (t *Tracer) emit(span *Span) {
	fields := []zap.Field{
		zap.String("trace_id", string(span.TraceID)),
		zap.String("span_id", string(span.SpanID)),
		zap.String("operation", span.Name),
		zap.Duration("duration", span.Duration),
		zap.String("service", span.Service),
	}

	if span.ParentID != "" {
		fields = append(fields, zap.String("parent_id", string(span.ParentID)))
	}

	if span.Error != nil {
		fields = append(fields, zap.Error(span.Error))
		t.logger.Error("Span completed with error", fields...)
	} else {
		t.logger.Debug("Span completed", fields...)
	}
}
