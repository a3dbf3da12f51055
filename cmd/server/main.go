package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentBridge/internal/infrastructure/config"
	"github.com/GriffinCanCode/AgentBridge/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentBridge/internal/server"
)

func main() {
	port := flag.String("port", "", "HTTP port (overrides PORT)")
	grpcPort := flag.String("grpc-port", "", "gRPC port (overrides GRPC_PORT)")
	command := flag.String("process", "", "child process command (overrides PROCESS_COMMAND)")
	workdir := flag.String("workdir", "", "default working directory (overrides PROCESS_WORKDIR)")
	dev := flag.Bool("dev", false, "development logging")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	if *port != "" {
		cfg.Server.Port = *port
	}
	if *grpcPort != "" {
		cfg.Server.GRPCPort = *grpcPort
	}
	if *command != "" {
		cfg.Process.Command = *command
	}
	if *workdir != "" {
		cfg.Process.WorkingDir = *workdir
	}
	if *dev {
		cfg.Logging.Development = true
	}

	logger, err := logging.New(logging.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
		OutputPaths: []string{"stdout"},
	})
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	srv, err := server.New(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize server", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(ctx); err != nil {
		logger.Fatal("Server error", zap.Error(err))
	}
}
