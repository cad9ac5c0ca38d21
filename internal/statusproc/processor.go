package statusproc

import (
	"context"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/gsfleet/fleetman/internal/models"
)

const (
	tickInterval        = 500 * time.Millisecond
	livenessLogInterval = 30 * time.Second

	// defaultHeartbeatThreshold must stay at least twice the tick so
	// detection latency remains bounded.
	defaultHeartbeatThreshold = 5 * time.Second
	defaultHeartbeatLookback  = time.Hour
)

// className stamped onto synthesized status rows.
const className = "StatusEventProcessor"

// Store is the durable side of the processor.
type Store interface {
	InsertStatus(ctx context.Context, status *models.ExternalStatusInfo) (*models.ExternalStatusInfo, error)
	StaleWorkers(ctx context.Context, threshold, lookback time.Time) ([]models.Worker, error)
}

// StatusConsumer drains internal status messages. Consume never blocks.
type StatusConsumer interface {
	Consume() []models.InternalStatusInfo
	Shutdown()
}

// StatusPublisher emits one status message and is closed afterwards.
type StatusPublisher interface {
	Publish(ctx context.Context, status models.InternalStatusInfo) error
	Close()
}

// PublisherFactory builds a publisher onto one worker's status topic. The
// processor opens one per LOST notification and closes it after the publish.
type PublisherFactory func(workerIdentifier string) (StatusPublisher, error)

// Processor is the single consumer of internal status: it persists every
// message, detects workers with stale heartbeats, and synthesizes LOST
// events for them.
type Processor struct {
	store        Store
	consumer     StatusConsumer
	newPublisher PublisherFactory
	logger       *zap.Logger

	heartbeatThreshold time.Duration
	heartbeatLookback  time.Duration
}

// Option customizes a Processor.
type Option func(*Processor)

// WithHeartbeatThreshold overrides how stale a heartbeat must be before a
// worker is declared LOST.
func WithHeartbeatThreshold(d time.Duration) Option {
	return func(p *Processor) { p.heartbeatThreshold = d }
}

// WithHeartbeatLookback overrides how far back the stale check considers
// workers at all.
func WithHeartbeatLookback(d time.Duration) Option {
	return func(p *Processor) { p.heartbeatLookback = d }
}

// New creates a status processor.
func New(store Store, consumer StatusConsumer, newPublisher PublisherFactory, logger *zap.Logger, opts ...Option) *Processor {
	p := &Processor{
		store:              store,
		consumer:           consumer,
		newPublisher:       newPublisher,
		logger:             logger,
		heartbeatThreshold: defaultHeartbeatThreshold,
		heartbeatLookback:  defaultHeartbeatLookback,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run is the processing loop. It returns after ctx is cancelled and the
// consumer is shut down.
func (p *Processor) Run(ctx context.Context) error {
	p.logger.Info("status processor starting")

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	lastLiveness := time.Now()
	for {
		select {
		case <-ctx.Done():
			p.consumer.Shutdown()
			p.logger.Info("status processor stopped")
			return nil
		case <-ticker.C:
		}

		if time.Since(lastLiveness) >= livenessLogInterval {
			p.logger.Info("status processor still running")
			lastLiveness = time.Now()
		}

		p.processStatusMessages(ctx)
		p.checkWorkerHeartbeats(ctx)
	}
}

// processStatusMessages persists every buffered status message. Write
// failures are logged and swallowed; the broker already acked the message.
func (p *Processor) processStatusMessages(ctx context.Context) {
	for _, status := range p.consumer.Consume() {
		p.logger.Info("status update received",
			zap.String("entity_type", string(status.EntityType)),
			zap.String("identifier", status.Identifier),
			zap.String("status", string(status.StatusType)),
			zap.Time("as_of", status.AsOf))

		// Observed statuses originate here: they were written durably
		// before being published, so consuming our own notification must
		// not add a second row.
		if models.ObservedStatusTypes[status.StatusType] {
			continue
		}

		external, err := models.ExternalFromInternal(status)
		if err != nil {
			p.logger.Warn("discarding unconvertible status", zap.Error(err))
			continue
		}
		if _, err := p.store.InsertStatus(ctx, &external); err != nil {
			p.logger.Error("failed to persist status", zap.Error(err))
		}
	}
}

// checkWorkerHeartbeats declares LOST every open worker whose heartbeat went
// stale while its latest status is still active. The latest-status
// precondition keeps the LOST from firing twice: once the synthetic row
// lands, the worker's latest status is no longer active.
func (p *Processor) checkWorkerHeartbeats(ctx context.Context) {
	now := time.Now().UTC()
	threshold := now.Add(-p.heartbeatThreshold)
	lookback := now.Add(-p.heartbeatLookback)

	stale, err := p.store.StaleWorkers(ctx, threshold, lookback)
	if err != nil {
		p.logger.Error("failed to query stale workers", zap.Error(err))
		return
	}

	for _, worker := range stale {
		p.logger.Warn("worker heartbeat is stale, marking LOST",
			zap.Int64("worker_id", worker.WorkerID),
			zap.Timep("last_heartbeat", worker.LastHeartbeat),
			zap.Time("threshold", threshold))

		workerID := worker.WorkerID
		record := models.ExternalStatusInfo{
			ClassName:  className,
			StatusType: models.StatusLost,
			AsOf:       now,
			WorkerID:   &workerID,
		}
		if _, err := p.store.InsertStatus(ctx, &record); err != nil {
			p.logger.Error("failed to persist LOST status",
				zap.Int64("worker_id", workerID), zap.Error(err))
			continue
		}

		p.notifyWorkerLost(ctx, workerID, now)
	}
}

// notifyWorkerLost publishes a LOST status on the worker's status topic so
// active subscribers observe the transition.
func (p *Processor) notifyWorkerLost(ctx context.Context, workerID int64, asOf time.Time) {
	identifier := strconv.FormatInt(workerID, 10)

	pub, err := p.newPublisher(identifier)
	if err != nil {
		p.logger.Error("failed to build lost-notification publisher",
			zap.Int64("worker_id", workerID), zap.Error(err))
		return
	}
	defer pub.Close()

	status := models.InternalStatusInfo{
		EntityType: models.EntityWorker,
		Identifier: identifier,
		AsOf:       asOf,
		StatusType: models.StatusLost,
	}
	if err := pub.Publish(ctx, status); err != nil {
		p.logger.Error("failed to publish LOST notification",
			zap.Int64("worker_id", workerID), zap.Error(err))
		return
	}
	p.logger.Info("worker lost notification sent", zap.Int64("worker_id", workerID))
}
