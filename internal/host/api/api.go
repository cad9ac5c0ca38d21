package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/gsfleet/fleetman/internal/messaging"
	"github.com/gsfleet/fleetman/internal/models"
)

// Store is the persistence surface the host APIs run against.
type Store interface {
	CreateWorker(ctx context.Context) (*models.Worker, error)
	GetCurrentWorker(ctx context.Context) (*models.Worker, error)
	ShutdownWorker(ctx context.Context, workerID int64) (*models.Worker, error)
	CloseOtherWorkers(ctx context.Context, workerID int64) ([]models.Worker, error)
	UpdateWorkerHeartbeat(ctx context.Context, workerID int64) (*models.Worker, error)

	CreateInstance(ctx context.Context, gameServerConfigID, workerID int64) (*models.GameServerInstance, error)
	GetInstanceByID(ctx context.Context, instanceID int64) (*models.GameServerInstance, error)
	ShutdownInstance(ctx context.Context, instanceID int64) (*models.GameServerInstance, error)
	UpdateInstanceHeartbeat(ctx context.Context, instanceID int64) (*models.GameServerInstance, error)
	ActiveInstancesForWorker(ctx context.Context, workerID int64) ([]models.GameServerInstance, error)

	GetGameServerByID(ctx context.Context, gameServerID int64) (*models.GameServer, error)
	GetGameServerConfigByID(ctx context.Context, configID int64) (*models.GameServerConfig, error)
	CreateGameServerConfig(ctx context.Context, config *models.GameServerConfig) (*models.GameServerConfig, error)
	ListVisibleConfigs(ctx context.Context) ([]models.GameServerConfig, error)

	LatestWorkerStatus(ctx context.Context, workerID int64) (*models.ExternalStatusInfo, error)
	LatestInstanceStatus(ctx context.Context, instanceID int64) (*models.ExternalStatusInfo, error)
}

// Fabric is the messaging surface the host APIs publish through. Each call
// opens its channel for the duration of one request.
type Fabric interface {
	PublishWorkerCommand(ctx context.Context, workerID int64, cmd models.Command) error
	PublishWorkerStatus(ctx context.Context, workerID int64, status models.StatusType) error
}

// BrokerFabric publishes over the shared robust connection with a one-off
// channel per call.
type BrokerFabric struct {
	Conn   *messaging.RobustConnection
	Logger *zap.Logger
}

func (f *BrokerFabric) PublishWorkerCommand(ctx context.Context, workerID int64, cmd models.Command) error {
	pub, err := messaging.NewCommandPublisher(f.Conn, messaging.WorkerCommandKey(strconv.FormatInt(workerID, 10)), f.Logger)
	if err != nil {
		return err
	}
	defer pub.Close()
	return pub.Publish(ctx, cmd)
}

func (f *BrokerFabric) PublishWorkerStatus(ctx context.Context, workerID int64, status models.StatusType) error {
	identifier := strconv.FormatInt(workerID, 10)
	pub, err := messaging.NewStatusPublisher(f.Conn, messaging.WorkerStatusKey(identifier), f.Logger)
	if err != nil {
		return err
	}
	defer pub.Close()
	return pub.Publish(ctx, models.NewInternalStatusInfo(models.EntityWorker, identifier, status))
}

// Handlers bundles the host's three HTTP surfaces.
type Handlers struct {
	store      Store
	fabric     Fabric
	authSecret string
	logger     *zap.Logger
}

// NewHandlers creates the host API handlers. An empty authSecret disables
// bearer-token checks on the worker DAL surface.
func NewHandlers(store Store, fabric Fabric, authSecret string, logger *zap.Logger) *Handlers {
	return &Handlers{
		store:      store,
		fabric:     fabric,
		authSecret: authSecret,
		logger:     logger,
	}
}

// RegisterRoutes wires all three API groups plus the health endpoint.
func (h *Handlers) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})

	workerdal := r.Group("/workerdal")
	workerdal.Use(h.authMiddleware())
	h.registerWorkerDALRoutes(workerdal)

	experience := r.Group("/experience")
	h.registerExperienceRoutes(experience)

	status := r.Group("/status")
	h.registerStatusRoutes(status)
}
