package logsub

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/gsfleet/fleetman/internal/models"
)

const loopInterval = 500 * time.Millisecond

// LogConsumer drains log messages. Consume never blocks.
type LogConsumer interface {
	Consume() []models.LogMessage
	Shutdown()
}

// Service consumes log messages from the fabric and re-emits them under the
// originating entity's identity, so log collection sees the original service
// rather than the subscriber.
type Service struct {
	consumer LogConsumer
	logger   *zap.Logger
}

// New creates a log subscriber service.
func New(consumer LogConsumer, logger *zap.Logger) *Service {
	return &Service{consumer: consumer, logger: logger}
}

// Run processes log messages until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	s.logger.Info("log subscriber starting")

	ticker := time.NewTicker(loopInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.consumer.Shutdown()
			s.logger.Info("log subscriber stopped")
			return nil
		case <-ticker.C:
		}

		for _, msg := range s.consumer.Consume() {
			s.reEmit(msg)
		}
	}
}

// reEmit logs the message under the original entity's logger name with its
// original timestamp and source preserved in fields.
func (s *Service) reEmit(msg models.LogMessage) {
	named := s.logger.Named(fmt.Sprintf("%s.%s", msg.EntityType, msg.Identifier))

	fields := []zap.Field{
		zap.String("source", msg.Source),
		zap.Time("original_timestamp", msg.Timestamp),
	}
	switch msg.Level {
	case "debug":
		named.Debug(msg.Message, fields...)
	case "warn", "warning":
		named.Warn(msg.Message, fields...)
	case "error":
		named.Error(msg.Message, fields...)
	default:
		named.Info(msg.Message, fields...)
	}
}
