package worker

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/gsfleet/fleetman/internal/dal"
	"github.com/gsfleet/fleetman/internal/messaging"
	"github.com/gsfleet/fleetman/internal/metrics"
	"github.com/gsfleet/fleetman/internal/models"
)

const (
	serviceLoopInterval     = 100 * time.Millisecond
	livenessLogInterval     = 30 * time.Second
	defaultHeartbeat        = 2 * time.Second
	serverShutdownWait      = 30 * time.Second
	serverShutdownWaitStep  = 100 * time.Millisecond
	defaultShouldUpdateGame = true
)

// ServiceDeps are the collaborators a worker service is constructed from.
type ServiceDeps struct {
	DAL               DAL
	Fabric            Fabric
	Installer         Installer
	NewProcess        ProcessFactory
	RootInstallDir    string
	HeartbeatInterval time.Duration
	Logger            *zap.Logger
}

// Service is the worker service loop: it owns a dynamic set of server
// supervisors for one host, consumes worker-addressed commands, heartbeats,
// and cascades shutdown.
type Service struct {
	deps   ServiceDeps
	worker models.Worker

	statusPub StatusPublisher
	commands  CommandConsumer
	logger    *zap.Logger

	heartbeatInterval time.Duration

	mu      sync.Mutex
	servers []*Server

	stopped atomic.Bool
	wg      sync.WaitGroup
}

// NewService registers this worker with the host, closes every other open
// worker (single-active-worker invariant), wires its messaging endpoints,
// and publishes CREATED.
func NewService(ctx context.Context, deps ServiceDeps) (*Service, error) {
	worker, err := deps.DAL.WorkerCreate(ctx)
	if err != nil {
		return nil, fmt.Errorf("create worker: %w", err)
	}

	if err := deps.DAL.CloseOtherWorkers(ctx, worker.WorkerID); err != nil {
		return nil, fmt.Errorf("close other workers: %w", err)
	}

	logger := deps.Logger.With(zap.Int64("worker_id", worker.WorkerID))
	identifier := strconv.FormatInt(worker.WorkerID, 10)

	statusPub, err := deps.Fabric.StatusPublisher(messaging.EntityWorker, identifier)
	if err != nil {
		return nil, fmt.Errorf("worker status publisher: %w", err)
	}
	commands, err := deps.Fabric.CommandConsumer(messaging.EntityWorker, identifier)
	if err != nil {
		statusPub.Close()
		return nil, fmt.Errorf("worker command consumer: %w", err)
	}

	heartbeat := deps.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeat
	}

	s := &Service{
		deps:              deps,
		worker:            *worker,
		statusPub:         statusPub,
		commands:          commands,
		logger:            logger,
		heartbeatInterval: heartbeat,
	}

	s.publishStatus(ctx, models.StatusCreated)
	logger.Info("worker service created")
	return s, nil
}

// WorkerID returns the id of the worker row this service owns.
func (s *Service) WorkerID() int64 { return s.worker.WorkerID }

// TriggerShutdown asks the main loop to begin the shutdown cascade.
func (s *Service) TriggerShutdown() {
	s.stopped.Store(true)
}

// Run is the main loop. It publishes RUNNING once, then loops at ~100ms:
// heartbeat, liveness log, prune finished servers, dispatch commands. On
// stop it cascades shutdown through every server before closing itself out.
func (s *Service) Run(ctx context.Context) error {
	s.publishStatus(ctx, models.StatusInitializing)
	s.publishStatus(ctx, models.StatusRunning)
	s.logger.Info("worker service running")

	ticker := time.NewTicker(serviceLoopInterval)
	defer ticker.Stop()

	lastHeartbeat := time.Now()
	lastLiveness := time.Now()
	s.heartbeat(ctx)

	for !s.stopped.Load() {
		select {
		case <-ctx.Done():
			s.stopped.Store(true)
			continue
		case <-ticker.C:
		}

		now := time.Now()
		if now.Sub(lastHeartbeat) >= s.heartbeatInterval {
			s.heartbeat(ctx)
			lastHeartbeat = now
		}
		if now.Sub(lastLiveness) >= livenessLogInterval {
			s.logLiveness()
			lastLiveness = now
		}

		s.pruneServers()

		for _, cmd := range s.commands.Consume() {
			s.handleCommand(ctx, cmd)
		}
	}

	s.shutdown()
	return nil
}

func (s *Service) heartbeat(ctx context.Context) {
	if _, err := s.deps.DAL.WorkerHeartbeat(ctx, s.worker.WorkerID); err != nil {
		if errors.Is(err, dal.ErrGone) {
			s.logger.Warn("worker row was closed elsewhere, shutting down")
			s.stopped.Store(true)
			return
		}
		s.logger.Warn("heartbeat failed", zap.Error(err))
	}
}

func (s *Service) logLiveness() {
	s.mu.Lock()
	servers := make([]*Server, len(s.servers))
	copy(servers, s.servers)
	s.mu.Unlock()

	fields := []zap.Field{zap.Int("server_count", len(servers))}
	for _, server := range servers {
		if pid := server.PID(); pid > 0 {
			fields = append(fields, zap.Int64(
				fmt.Sprintf("instance_%d_memory_mb", server.Instance().GameServerInstanceID),
				metrics.GetMemoryUsageMB(pid),
			))
		}
	}
	s.logger.Info("worker service still running", fields...)
}

// pruneServers drops servers that completed their shutdown.
func (s *Service) pruneServers() {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.servers[:0]
	for _, server := range s.servers {
		if server.IsShutdown() {
			s.logger.Info("pruning finished server",
				zap.Int64("instance_id", server.Instance().GameServerInstanceID))
			continue
		}
		kept = append(kept, server)
	}
	s.servers = kept
}

func (s *Service) handleCommand(ctx context.Context, cmd models.Command) {
	switch cmd.CommandType {
	case models.CommandStart:
		s.handleStart(ctx, cmd)
	case models.CommandStop:
		s.handleStop(cmd)
	case models.CommandStdin:
		s.handleStdin(cmd)
	default:
		s.logger.Warn("unknown command for worker", zap.String("command_type", string(cmd.CommandType)))
	}
}

func (s *Service) handleStart(ctx context.Context, cmd models.Command) {
	if len(cmd.CommandArgs) != 1 {
		s.logger.Warn("start command wants exactly one argument", zap.Strings("args", cmd.CommandArgs))
		return
	}
	configID, err := strconv.ParseInt(cmd.CommandArgs[0], 10, 64)
	if err != nil {
		s.logger.Warn("start command has a non-numeric config id", zap.String("arg", cmd.CommandArgs[0]))
		return
	}

	config, err := s.deps.DAL.GameServerConfig(ctx, configID)
	if err != nil {
		s.logger.Error("failed to fetch config", zap.Int64("config_id", configID), zap.Error(err))
		return
	}

	// one server per game, not per config: two configs of the same game
	// must not run side by side
	s.mu.Lock()
	for _, server := range s.servers {
		if !server.IsShutdown() && server.Config().GameServerID == config.GameServerID {
			s.mu.Unlock()
			s.logger.Warn("server for game already running, ignoring start",
				zap.Int64("game_server_id", config.GameServerID),
				zap.Int64("config_id", configID))
			return
		}
	}
	s.mu.Unlock()

	server, err := NewServer(ctx, ServerDeps{
		DAL:            s.deps.DAL,
		Fabric:         s.deps.Fabric,
		Installer:      s.deps.Installer,
		NewProcess:     s.deps.NewProcess,
		RootInstallDir: s.deps.RootInstallDir,
		Logger:         s.logger,
	}, *config, s.worker.WorkerID)
	if err != nil {
		s.logger.Error("failed to create server", zap.Int64("config_id", configID), zap.Error(err))
		return
	}

	s.mu.Lock()
	s.servers = append(s.servers, server)
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := server.Run(ctx, defaultShouldUpdateGame); err != nil {
			s.logger.Error("server run failed",
				zap.Int64("instance_id", server.Instance().GameServerInstanceID),
				zap.Error(err))
		}
	}()
}

func (s *Service) handleStop(cmd models.Command) {
	switch len(cmd.CommandArgs) {
	case 0:
		s.logger.Info("stop command with no args, triggering worker shutdown")
		s.stopped.Store(true)
	case 1:
		configID, err := strconv.ParseInt(cmd.CommandArgs[0], 10, 64)
		if err != nil {
			s.logger.Warn("stop command has a non-numeric config id", zap.String("arg", cmd.CommandArgs[0]))
			return
		}
		if server := s.findServerByConfig(configID); server != nil {
			s.logger.Info("forwarding stop to server",
				zap.Int64("instance_id", server.Instance().GameServerInstanceID))
			server.Deliver(cmd)
		}
	default:
		s.logger.Warn("stop command wants 0 args (worker) or 1 arg (server)", zap.Strings("args", cmd.CommandArgs))
	}
}

func (s *Service) handleStdin(cmd models.Command) {
	if len(cmd.CommandArgs) < 1 {
		s.logger.Warn("stdin command wants at least a config id", zap.Strings("args", cmd.CommandArgs))
		return
	}
	configID, err := strconv.ParseInt(cmd.CommandArgs[0], 10, 64)
	if err != nil {
		s.logger.Warn("stdin command has a non-numeric config id", zap.String("arg", cmd.CommandArgs[0]))
		return
	}
	if server := s.findServerByConfig(configID); server != nil {
		s.logger.Info("forwarding stdin to server",
			zap.Int64("instance_id", server.Instance().GameServerInstanceID))
		server.Deliver(cmd)
	}
}

func (s *Service) findServerByConfig(configID int64) *Server {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, server := range s.servers {
		if !server.IsShutdown() && server.Config().GameServerConfigID == configID {
			return server
		}
	}
	return nil
}

// shutdown cascades through every server, waits for each with a bounded
// timeout, then closes the worker itself out.
func (s *Service) shutdown() {
	s.mu.Lock()
	servers := make([]*Server, len(s.servers))
	copy(servers, s.servers)
	s.mu.Unlock()

	s.logger.Info("initiating shutdown cascade", zap.Int("server_count", len(servers)))

	for _, server := range servers {
		if !server.IsShutdown() {
			server.TriggerShutdown()
		}
	}

	for _, server := range servers {
		deadline := time.Now().Add(serverShutdownWait)
		for !server.IsShutdown() && time.Now().Before(deadline) {
			time.Sleep(serverShutdownWaitStep)
		}
		if server.IsShutdown() {
			s.logger.Info("server shutdown completed",
				zap.Int64("instance_id", server.Instance().GameServerInstanceID))
		} else {
			s.logger.Warn("server shutdown timed out",
				zap.Int64("instance_id", server.Instance().GameServerInstanceID),
				zap.Duration("timeout", serverShutdownWait))
		}
	}

	// Ensure the publish/DAL calls below run even when the parent context is
	// already cancelled.
	finalCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if _, err := s.deps.DAL.WorkerShutdown(finalCtx, s.worker.WorkerID); err != nil {
		if errors.Is(err, dal.ErrConflict) {
			s.logger.Warn("worker was already closed")
		} else {
			s.logger.Error("worker shutdown call failed", zap.Error(err))
		}
	}

	s.publishStatus(finalCtx, models.StatusComplete)
	s.commands.Shutdown()
	s.statusPub.Close()

	s.logger.Info("worker service shutdown complete")
}

func (s *Service) publishStatus(ctx context.Context, status models.StatusType) {
	identifier := strconv.FormatInt(s.worker.WorkerID, 10)
	info := models.NewInternalStatusInfo(models.EntityWorker, identifier, status)
	if err := s.statusPub.Publish(ctx, info); err != nil {
		s.logger.Warn("failed to publish status",
			zap.String("status", string(status)),
			zap.Error(err))
	}
}
