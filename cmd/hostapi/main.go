package main

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/gsfleet/fleetman/config"
	"github.com/gsfleet/fleetman/internal/catalog"
	"github.com/gsfleet/fleetman/internal/database"
	"github.com/gsfleet/fleetman/internal/host/api"
	"github.com/gsfleet/fleetman/internal/messaging"
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

	logger.Info("host api starting")

	api.RegisterValidators()

	cfg, err := config.LoadHost()
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	db, closeDB, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer closeDB()
	logger.Info("connected to database")

	ctx := context.Background()
	if err := db.Migrate(ctx, cfg.MigrationsDir); err != nil {
		logger.Fatal("failed to run migrations", zap.Error(err))
	}

	if cfg.CatalogPath != "" {
		file, err := catalog.Load(cfg.CatalogPath)
		if err != nil {
			logger.Fatal("failed to load game catalog", zap.Error(err))
		}
		if err := catalog.Sync(ctx, db, file, logger); err != nil {
			logger.Fatal("failed to sync game catalog", zap.Error(err))
		}
	}

	conn, err := messaging.NewRobustConnection(cfg.Broker.ConnectionConfig(), logger)
	if err != nil {
		logger.Fatal("failed to connect to broker", zap.Error(err))
	}
	defer conn.Close()

	handlers := api.NewHandlers(db, &api.BrokerFabric{Conn: conn, Logger: logger}, cfg.AuthSecret, logger)
	r := gin.Default()
	handlers.RegisterRoutes(r)

	logger.Info("starting http server", zap.String("port", cfg.Port))
	if err := r.Run(":" + cfg.Port); err != nil {
		logger.Fatal("http server failed", zap.Error(err))
	}
}
