package worker

import (
	"context"

	"go.uber.org/zap"

	"github.com/gsfleet/fleetman/internal/messaging"
	"github.com/gsfleet/fleetman/internal/models"
	"github.com/gsfleet/fleetman/internal/process"
)

// StatusPublisher emits lifecycle status for one entity.
type StatusPublisher interface {
	Publish(ctx context.Context, status models.InternalStatusInfo) error
	Close()
}

// CommandConsumer drains commands addressed to one entity. Consume never
// blocks.
type CommandConsumer interface {
	Consume() []models.Command
	Shutdown()
}

// Fabric builds the messaging endpoints a service needs for its identity.
type Fabric interface {
	StatusPublisher(entity messaging.Entity, identifier string) (StatusPublisher, error)
	CommandConsumer(entity messaging.Entity, identifier string) (CommandConsumer, error)
}

// DAL is the worker-side view of the host data plane.
type DAL interface {
	WorkerCreate(ctx context.Context) (*models.Worker, error)
	WorkerShutdown(ctx context.Context, workerID int64) (*models.Worker, error)
	CloseOtherWorkers(ctx context.Context, workerID int64) error
	WorkerHeartbeat(ctx context.Context, workerID int64) (*models.Worker, error)
	InstanceCreate(ctx context.Context, gameServerConfigID, workerID int64) (*models.GameServerInstance, error)
	InstanceShutdown(ctx context.Context, instanceID int64) (*models.GameServerInstance, error)
	InstanceHeartbeat(ctx context.Context, instanceID int64) (*models.GameServerInstance, error)
	GameServer(ctx context.Context, gameServerID int64) (*models.GameServer, error)
	GameServerConfig(ctx context.Context, configID int64) (*models.GameServerConfig, error)
}

// Installer prepares game content before a server launches.
type Installer interface {
	Install(appID int64, installDir string) error
}

// ProcessFactory builds the external process a server runs.
type ProcessFactory func(executable string, args, env []string) process.ExternalProcess

// DefaultProcessFactory spawns real OS processes.
func DefaultProcessFactory(logger *zap.Logger) ProcessFactory {
	return func(executable string, args, env []string) process.ExternalProcess {
		pb := process.NewBuilder(executable, logger)
		pb.AddArgument(args...)
		pb.SetEnv(env...)
		return pb
	}
}

// BrokerFabric is the production Fabric over the robust broker connection.
type BrokerFabric struct {
	Conn   *messaging.RobustConnection
	Logger *zap.Logger
}

func (f *BrokerFabric) StatusPublisher(entity messaging.Entity, identifier string) (StatusPublisher, error) {
	return messaging.NewStatusPublisher(f.Conn, messaging.StatusKey(entity, identifier), f.Logger)
}

func (f *BrokerFabric) CommandConsumer(entity messaging.Entity, identifier string) (CommandConsumer, error) {
	return messaging.NewCommandConsumer(
		f.Conn,
		messaging.CommandKey(entity, identifier),
		messaging.CommandQueueConfig(entity, identifier),
		f.Logger,
	)
}
