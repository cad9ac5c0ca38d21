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
	"github.com/gsfleet/fleetman/internal/database"
	"github.com/gsfleet/fleetman/internal/host/logsub"
	"github.com/gsfleet/fleetman/internal/messaging"
	"github.com/gsfleet/fleetman/internal/statusproc"
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

	logger.Info("status processor starting")

	cfg, err := config.LoadHost()
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	db, closeDB, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer closeDB()

	conn, err := messaging.NewRobustConnection(cfg.Broker.ConnectionConfig(), logger)
	if err != nil {
		logger.Fatal("failed to connect to broker", zap.Error(err))
	}
	defer conn.Close()

	statusConsumer, err := messaging.NewStatusConsumer(
		conn,
		messaging.AllStatusKey(),
		messaging.QueueConfig{Name: "status-processor-queue", Durable: true},
		logger,
	)
	if err != nil {
		logger.Fatal("failed to create status consumer", zap.Error(err))
	}

	logConsumer, err := messaging.NewLogConsumer(
		conn,
		messaging.QueueConfig{Name: "log-subscriber-queue", Durable: true},
		logger,
	)
	if err != nil {
		logger.Fatal("failed to create log consumer", zap.Error(err))
	}

	newPublisher := func(workerIdentifier string) (statusproc.StatusPublisher, error) {
		return messaging.NewStatusPublisher(conn, messaging.WorkerStatusKey(workerIdentifier), logger)
	}
	processor := statusproc.New(db, statusConsumer, newPublisher, logger)
	logSubscriber := logsub.New(logConsumer, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		cancel()
	}()

	go func() {
		if err := logSubscriber.Run(ctx); err != nil {
			logger.Error("log subscriber failed", zap.Error(err))
		}
	}()

	if err := processor.Run(ctx); err != nil {
		logger.Error("status processor failed", zap.Error(err))
		os.Exit(1)
	}
}
