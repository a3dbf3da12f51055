package grpc

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/GriffinCanCode/AgentBridge/internal/events"
	"github.com/GriffinCanCode/AgentBridge/internal/infrastructure/config"
	"github.com/GriffinCanCode/AgentBridge/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentBridge/internal/session"
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

// probeFixture serves the health service over an in-memory listener with
// a fast watch interval.
type probeFixture struct {
	registry *session.Registry
	client   healthpb.HealthClient
}

func newProbeFixture(t *testing.T, opts ...func(*config.Config)) *probeFixture {
	t.Helper()

	cfg := testConfig(t)
	for _, opt := range opts {
		opt(cfg)
	}
	registry, err := session.NewRegistry(cfg, events.New(nil), nil, logging.NewNop())
	require.NoError(t, err)
	t.Cleanup(registry.Close)

	health := NewHealth(registry, nil, logging.NewNop())
	health.interval = 10 * time.Millisecond

	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, health)

	lis := bufconn.Listen(1 << 20)
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return &probeFixture{registry: registry, client: healthpb.NewHealthClient(conn)}
}

func (f *probeFixture) check(t *testing.T, service string) (*healthpb.HealthCheckResponse, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	return f.client.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
}

func TestCheckBridgeOverall(t *testing.T) {
	f := newProbeFixture(t)

	resp, err := f.check(t, "")
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.Status)
}

func TestCheckSessionStates(t *testing.T) {
	f := newProbeFixture(t)

	s, err := f.registry.Create("")
	require.NoError(t, err)

	resp, err := f.check(t, ServicePrefix+s.ID.String())
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.Status)

	require.True(t, f.registry.Terminate(s.ID))
	_, err = f.check(t, ServicePrefix+s.ID.String())
	assert.Equal(t, codes.NotFound, status.Code(err))
}

func TestCheckUnknownServices(t *testing.T) {
	f := newProbeFixture(t)

	_, err := f.check(t, ServicePrefix+"ZZZZZ9")
	assert.Equal(t, codes.NotFound, status.Code(err))

	_, err = f.check(t, ServicePrefix+"nope")
	assert.Equal(t, codes.NotFound, status.Code(err))

	_, err = f.check(t, "other/thing")
	assert.Equal(t, codes.NotFound, status.Code(err))
}

func TestCheckDeadChildNotServing(t *testing.T) {
	f := newProbeFixture(t, func(cfg *config.Config) {
		cfg.Process.Command = "true"
	})

	s, err := f.registry.Create("")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		resp, err := f.check(t, ServicePrefix+s.ID.String())
		return err == nil && resp.Status == healthpb.HealthCheckResponse_NOT_SERVING
	}, 5*time.Second, 25*time.Millisecond, "exited child should report NOT_SERVING")
}

func TestWatchStreamsTransitions(t *testing.T) {
	f := newProbeFixture(t)

	s, err := f.registry.Create("")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	stream, err := f.client.Watch(ctx, &healthpb.HealthCheckRequest{
		Service: ServicePrefix + s.ID.String(),
	})
	require.NoError(t, err)

	first, err := stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, first.Status)

	require.True(t, f.registry.Terminate(s.ID))

	next, err := stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVICE_UNKNOWN, next.Status)
}

func TestWatchBeforeSessionExists(t *testing.T) {
	f := newProbeFixture(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	stream, err := f.client.Watch(ctx, &healthpb.HealthCheckRequest{
		Service: ServicePrefix + "ZZZZZ9",
	})
	require.NoError(t, err)

	first, err := stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVICE_UNKNOWN, first.Status)
}
