package grpc

import (
	"context"
	"net"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"

	"github.com/GriffinCanCode/AgentBridge/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentBridge/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentBridge/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/AgentBridge/internal/session"
	"github.com/GriffinCanCode/AgentBridge/internal/shared/id"
)

// ServicePrefix scopes per-session health probes: "session/<id>".
const ServicePrefix = "session/"

const (
	// defaultWatchInterval is how often Watch re-evaluates its service.
	defaultWatchInterval = time.Second

	// stopGrace bounds GracefulStop, which would otherwise wait forever
	// for open Watch streams.
	stopGrace = 5 * time.Second
)

// HealthServer answers grpc.health.v1 probes from live registry state.
// The empty service name reports the bridge itself. "session/<id>" reports
// one session: SERVING while its child accepts input, NOT_SERVING once the
// child is gone, SERVICE_UNKNOWN when no such session exists.
type HealthServer struct {
	healthpb.UnimplementedHealthServer

	registry *session.Registry
	metrics  *monitoring.Metrics
	logger   *logging.Logger
	interval time.Duration
}

// NewHealth creates the health service.
func NewHealth(registry *session.Registry, metrics *monitoring.Metrics, logger *logging.Logger) *HealthServer {
	return &HealthServer{
		registry: registry,
		metrics:  metrics,
		logger:   logger.Named("grpc.health"),
		interval: defaultWatchInterval,
	}
}

// Check reports the current status once. Unknown services are a NotFound
// error, matching the reference health implementation.
func (h *HealthServer) Check(ctx context.Context, req *healthpb.HealthCheckRequest) (*healthpb.HealthCheckResponse, error) {
	start := time.Now()

	st := h.status(req.GetService())
	if st == healthpb.HealthCheckResponse_SERVICE_UNKNOWN {
		err := status.Errorf(codes.NotFound, "unknown service %q", req.GetService())
		h.record("check", err, start)
		return nil, err
	}

	h.record("check", nil, start)
	return &healthpb.HealthCheckResponse{Status: st}, nil
}

// Watch streams the status once up front and again on every change.
// Unknown services stream SERVICE_UNKNOWN and keep watching, so a probe
// set up before its session exists starts reporting once it does.
func (h *HealthServer) Watch(req *healthpb.HealthCheckRequest, stream healthpb.Health_WatchServer) error {
	start := time.Now()
	service := req.GetService()

	var last healthpb.HealthCheckResponse_ServingStatus = -1
	send := func() error {
		st := h.status(service)
		if st == last {
			return nil
		}
		last = st
		return stream.Send(&healthpb.HealthCheckResponse{Status: st})
	}

	if err := send(); err != nil {
		h.record("watch", err, start)
		return err
	}

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-stream.Context().Done():
			err := status.FromContextError(stream.Context().Err()).Err()
			h.record("watch", err, start)
			return err
		case <-ticker.C:
			if err := send(); err != nil {
				h.record("watch", err, start)
				return err
			}
		}
	}
}

// status maps a service name onto registry state.
func (h *HealthServer) status(service string) healthpb.HealthCheckResponse_ServingStatus {
	if service == "" {
		return healthpb.HealthCheckResponse_SERVING
	}
	raw, ok := strings.CutPrefix(service, ServicePrefix)
	if !ok || !id.IsValidSessionID(raw) {
		return healthpb.HealthCheckResponse_SERVICE_UNKNOWN
	}
	s, found := h.registry.Get(id.SessionID(raw))
	if !found {
		return healthpb.HealthCheckResponse_SERVICE_UNKNOWN
	}
	if s.IsActive() {
		return healthpb.HealthCheckResponse_SERVING
	}
	return healthpb.HealthCheckResponse_NOT_SERVING
}

// record counts one RPC. Client cancellation is a normal watch ending,
// not an error.
func (h *HealthServer) record(method string, err error, start time.Time) {
	if h.metrics == nil {
		return
	}
	outcome := "success"
	if code := status.Code(err); code != codes.OK && code != codes.Canceled {
		outcome = "error"
	}
	h.metrics.RecordGRPCCall("health", method, outcome, time.Since(start))
}

// Server hosts the bridge's gRPC surface.
type Server struct {
	grpc   *grpc.Server
	logger *logging.Logger
}

// NewServer builds a gRPC server with keepalive, tracing interceptors,
// and the health service registered.
func NewServer(registry *session.Registry, metrics *monitoring.Metrics, tracer *tracing.Tracer, logger *logging.Logger) *Server {
	opts := []grpc.ServerOption{
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    60 * time.Second,
			Timeout: 20 * time.Second,
		}),
	}
	if tracer != nil {
		opts = append(opts,
			grpc.ChainUnaryInterceptor(tracing.GRPCUnaryInterceptor(tracer)),
			grpc.ChainStreamInterceptor(tracing.GRPCStreamInterceptor(tracer)),
		)
	}

	srv := grpc.NewServer(opts...)
	healthpb.RegisterHealthServer(srv, NewHealth(registry, metrics, logger))

	return &Server{grpc: srv, logger: logger.Named("grpc")}
}

// Serve blocks serving lis until Stop or a listener error.
func (s *Server) Serve(lis net.Listener) error {
	s.logger.Info("gRPC server listening", zap.String("addr", lis.Addr().String()))
	return s.grpc.Serve(lis)
}

// Stop drains in-flight RPCs, then cuts any still open after the grace
// period. Open Watch streams never drain on their own.
func (s *Server) Stop() {
	done := make(chan struct{})
	go func() {
		s.grpc.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(stopGrace):
		s.grpc.Stop()
	}
}
