package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/gsfleet/fleetman/config"
	"github.com/gsfleet/fleetman/internal/dal"
	"github.com/gsfleet/fleetman/internal/messaging"
	"github.com/gsfleet/fleetman/internal/steamcmd"
	"github.com/gsfleet/fleetman/internal/worker"
)

func main() {
	_ = godotenv.Load()

	logConfig := zap.NewProductionConfig()
	logConfig.EncoderConfig.TimeKey = "timestamp"
	logConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := logConfig.Build()
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer logger.Sync()

	logger.Info("worker agent starting")

	cfg, err := config.LoadWorker()
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	logger.Info("configuration loaded",
		zap.String("host_url", cfg.HostURL),
		zap.String("install_dir", cfg.InstallDir),
		zap.Duration("heartbeat_interval", cfg.HeartbeatInterval),
		zap.String("broker_host", cfg.Broker.Host))

	conn, err := messaging.NewRobustConnection(cfg.Broker.ConnectionConfig(), logger)
	if err != nil {
		logger.Fatal("failed to connect to broker", zap.Error(err))
	}
	defer conn.Close()

	dalClient := dal.NewClient(cfg.HostURL, cfg.AuthToken, logger)

	var creds steamcmd.Credentials = steamcmd.Anonymous{}
	if cfg.SteamUsername != "" {
		creds = steamcmd.UserPassword{User: cfg.SteamUsername, Password: cfg.SteamPassword}
	}
	installer := steamcmd.New(cfg.SteamCmdExecutable, creds, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	service, err := worker.NewService(ctx, worker.ServiceDeps{
		DAL:               dalClient,
		Fabric:            &worker.BrokerFabric{Conn: conn, Logger: logger},
		Installer:         installer,
		NewProcess:        worker.DefaultProcessFactory(logger),
		RootInstallDir:    cfg.InstallDir,
		HeartbeatInterval: cfg.HeartbeatInterval,
		Logger:            logger,
	})
	if err != nil {
		logger.Fatal("failed to create worker service", zap.Error(err))
	}

	// SIGTERM/SIGINT trigger the shutdown cascade; the run loop drives it.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		service.TriggerShutdown()
	}()

	if err := service.Run(ctx); err != nil {
		logger.Error("worker service run failed", zap.Error(err))
		os.Exit(1)
	}

	logger.Info("worker agent exiting", zap.Int64("worker_id", service.WorkerID()))
}
