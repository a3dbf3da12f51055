package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/net/netutil"
	"golang.org/x/sync/errgroup"

	apihttp "github.com/GriffinCanCode/AgentBridge/internal/api/http"
	"github.com/GriffinCanCode/AgentBridge/internal/api/middleware"
	"github.com/GriffinCanCode/AgentBridge/internal/events"
	bridgegrpc "github.com/GriffinCanCode/AgentBridge/internal/grpc"
	"github.com/GriffinCanCode/AgentBridge/internal/infrastructure/config"
	"github.com/GriffinCanCode/AgentBridge/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentBridge/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentBridge/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/AgentBridge/internal/session"
	"github.com/GriffinCanCode/AgentBridge/internal/text/normalize"
	"github.com/GriffinCanCode/AgentBridge/internal/transport/webhook"
	"github.com/GriffinCanCode/AgentBridge/internal/ws"
)

// shutdownGrace bounds the HTTP drain during shutdown.
const shutdownGrace = 10 * time.Second

// Server wires every long-lived component: session registry, event bus,
// HTTP and gRPC listeners, and the optional webhook dispatcher.
type Server struct {
	cfg      *config.Config
	logger   *logging.Logger
	metrics  *monitoring.Metrics
	tracer   *tracing.Tracer
	bus      *events.Bus
	registry *session.Registry
	webhook  *webhook.Dispatcher
	router   *gin.Engine
	http     *http.Server
	grpc     *bridgegrpc.Server

	unwatch   func()
	watchDone chan struct{}
}

// New builds a fully wired server from validated configuration, with
// metrics on the process-wide prometheus registry.
func New(cfg *config.Config, logger *logging.Logger) (*Server, error) {
	return NewWith(cfg, logger, nil)
}

// NewWith accepts a private metrics registry. Tests pass their own so
// repeated construction never re-registers collectors; nil means the
// default registry.
func NewWith(cfg *config.Config, logger *logging.Logger, reg *prometheus.Registry) (*Server, error) {
	logger.Info("Initializing bridge server",
		zap.String("port", cfg.Server.Port),
		zap.String("grpc_port", cfg.Server.GRPCPort),
		zap.String("process", cfg.Process.Command),
	)

	var metrics *monitoring.Metrics
	metricsHandler := promhttp.Handler()
	if reg != nil {
		metrics = monitoring.NewMetricsWith(reg)
		metricsHandler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	} else {
		metrics = monitoring.NewMetrics()
	}

	tracer := tracing.New("bridge", logger)
	bus := events.New(logger)

	var sink *webhook.Dispatcher
	if cfg.Webhook.Enabled {
		var err error
		sink, err = webhook.New(cfg.Webhook, bus, metrics, logger)
		if err != nil {
			return nil, err
		}
		logger.Info("Webhook delivery enabled", zap.String("url", cfg.Webhook.URL))
	}

	classifier, err := buildClassifier(cfg.Classifier, logger)
	if err != nil {
		return nil, err
	}

	registry, err := session.NewRegistry(cfg, bus, classifier, logger)
	if err != nil {
		return nil, err
	}

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(tracing.HTTPMiddleware(tracer))
	router.Use(monitoring.Middleware(metrics))
	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	if cfg.RateLimit.Enabled {
		logger.Info("Rate limiting enabled",
			zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
		router.Use(middleware.RateLimit(cfg.RateLimit))
	}

	handlers := apihttp.NewHandlers(registry, metrics, logger)
	gateway := ws.NewGateway(registry, bus, metrics, logger)

	router.GET("/", handlers.Root)
	router.GET("/health", handlers.Health)

	router.POST("/sessions", handlers.CreateSession)
	router.GET("/sessions", handlers.ListSessions)
	router.GET("/sessions/:id", handlers.GetSession)
	router.POST("/sessions/:id/command", handlers.SendCommand)
	router.POST("/sessions/:id/restart", handlers.RestartSession)
	router.DELETE("/sessions/:id", handlers.TerminateSession)

	router.GET("/sessions/:id/output", handlers.GetOutput)
	router.GET("/sessions/:id/history", handlers.GetHistory)
	router.GET("/sessions/:id/workspace", handlers.GetWorkspace)

	// Transcript export walks the whole retained history; its cost does
	// not scale per client, so it gets a shared budget.
	if cfg.RateLimit.Enabled {
		router.GET("/sessions/:id/transcript",
			middleware.GlobalRateLimit(cfg.RateLimit), handlers.GetTranscript)
	} else {
		router.GET("/sessions/:id/transcript", handlers.GetTranscript)
	}

	router.GET("/stream", gateway.HandleStream)

	router.GET("/stats", handlers.GetStats)
	router.GET("/metrics", gin.WrapH(metricsHandler))

	logger.Info("Server initialized successfully")

	return &Server{
		cfg:      cfg,
		logger:   logger,
		metrics:  metrics,
		tracer:   tracer,
		bus:      bus,
		registry: registry,
		webhook:  sink,
		router:   router,
		http: &http.Server{
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
		grpc: bridgegrpc.NewServer(registry, metrics, tracer, logger),
	}, nil
}

// Run starts every component and both listeners, then blocks until ctx
// is canceled or a listener fails. On return everything is stopped.
func (s *Server) Run(ctx context.Context) error {
	s.registry.Start()
	if s.webhook != nil {
		s.webhook.Start()
	}
	s.startWatcher()

	httpAddr := net.JoinHostPort(s.cfg.Server.Host, s.cfg.Server.Port)
	httpLis, err := net.Listen("tcp", httpAddr)
	if err != nil {
		s.shutdown()
		return fmt.Errorf("server: listen %s: %w", httpAddr, err)
	}
	httpLis = netutil.LimitListener(httpLis, s.cfg.Server.MaxConns)

	grpcAddr := net.JoinHostPort(s.cfg.Server.Host, s.cfg.Server.GRPCPort)
	grpcLis, err := net.Listen("tcp", grpcAddr)
	if err != nil {
		httpLis.Close()
		s.shutdown()
		return fmt.Errorf("server: listen %s: %w", grpcAddr, err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("HTTP server listening", zap.String("addr", httpLis.Addr().String()))
		if err := s.http.Serve(httpLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: http: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return s.grpc.Serve(grpcLis)
	})
	g.Go(func() error {
		<-gctx.Done()
		s.shutdown()
		return nil
	})

	return g.Wait()
}

// shutdown stops components in dependency order: stop intake first, then
// terminate sessions while the webhook and watcher still observe the
// final events, then close the bus and flush telemetry.
func (s *Server) shutdown() {
	s.logger.Info("Shutting down server...")

	drain, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := s.http.Shutdown(drain); err != nil {
		s.logger.Warn("HTTP drain ended early", zap.Error(err))
	}
	s.grpc.Stop()

	s.registry.Close()

	if s.webhook != nil {
		s.webhook.Stop()
	}
	if s.unwatch != nil {
		s.unwatch()
		<-s.watchDone
	}
	s.bus.Close()
	s.tracer.Close()
	s.logger.Sync()
}

// startWatcher keeps session and batch metrics in step with bus traffic.
func (s *Server) startWatcher() {
	ch, unsub := s.bus.Subscribe()
	s.unwatch = unsub
	done := make(chan struct{})
	s.watchDone = done

	go func() {
		defer close(done)
		for ev := range ch {
			s.observe(ev)
		}
	}()
}

func (s *Server) observe(ev events.Event) {
	switch ev.Kind {
	case events.SessionCreated:
		s.metrics.IncSessionsCreated()
		s.metrics.SetSessionsActive(s.registry.Count())
	case events.SessionTerminated:
		s.metrics.IncSessionsTerminated(ev.Reason)
		s.metrics.SetSessionsActive(s.registry.Count())
	case events.ProcessExited:
		s.metrics.IncProcessExits()
	case events.OutputChunks:
		if ev.Batch != nil {
			s.metrics.RecordBatch(len(ev.Batch.Chunks))
		}
	}
}

// buildClassifier assembles the configured line classifier: keyword
// rules from YAML when given, optionally wrapped by a script classifier
// that falls back to them. Nil means the built-in defaults.
func buildClassifier(cfg config.ClassifierConfig, logger *logging.Logger) (normalize.Classifier, error) {
	var classifier normalize.Classifier
	if cfg.RulesFile != "" {
		rules, err := normalize.LoadRules(cfg.RulesFile)
		if err != nil {
			return nil, err
		}
		classifier = rules
	}
	if cfg.ScriptFile != "" {
		script, err := normalize.NewScriptClassifier(cfg.ScriptFile, classifier, logger)
		if err != nil {
			return nil, err
		}
		classifier = script
	}
	return classifier, nil
}
