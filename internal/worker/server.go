package worker

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/gsfleet/fleetman/internal/messaging"
	"github.com/gsfleet/fleetman/internal/models"
	"github.com/gsfleet/fleetman/internal/process"
)

const (
	serverLoopInterval      = 100 * time.Millisecond
	serverHeartbeatInterval = 2 * time.Second
)

// Server supervises one external game server process: it owns the process
// lifecycle, its stdin pipe, routed command intake, and status emission.
type Server struct {
	config     models.GameServerConfig
	gameServer models.GameServer
	instance   models.GameServerInstance
	installDir string

	dal       DAL
	installer Installer
	proc      process.ExternalProcess
	statusPub StatusPublisher
	commands  CommandConsumer
	logger    *zap.Logger

	shouldBeRunning atomic.Bool
	shutdownDone    atomic.Bool

	localMu   sync.Mutex
	localCmds []models.Command
}

// ServerDeps are the collaborators a server is constructed from.
type ServerDeps struct {
	DAL            DAL
	Fabric         Fabric
	Installer      Installer
	NewProcess     ProcessFactory
	RootInstallDir string
	Logger         *zap.Logger
}

// NewServer registers a new instance with the host, wires its messaging
// endpoints, and publishes CREATED. The process is not launched until Run.
func NewServer(ctx context.Context, deps ServerDeps, config models.GameServerConfig, workerID int64) (*Server, error) {
	instance, err := deps.DAL.InstanceCreate(ctx, config.GameServerConfigID, workerID)
	if err != nil {
		return nil, fmt.Errorf("create instance for config %d: %w", config.GameServerConfigID, err)
	}

	gameServer, err := deps.DAL.GameServer(ctx, config.GameServerID)
	if err != nil {
		return nil, fmt.Errorf("fetch game server %d: %w", config.GameServerID, err)
	}

	// game servers are unique per (server_type, app_id), configs per name
	installDir := filepath.Join(
		deps.RootInstallDir,
		strings.ToLower(string(gameServer.ServerType)),
		strconv.FormatInt(gameServer.AppID, 10),
		config.Name,
	)

	logger := deps.Logger.With(zap.Int64("instance_id", instance.GameServerInstanceID))

	proc := deps.NewProcess(filepath.Join(installDir, config.Executable), config.Args, config.EnvVar)

	identifier := strconv.FormatInt(instance.GameServerInstanceID, 10)
	statusPub, err := deps.Fabric.StatusPublisher(messaging.EntityGameServerInstance, identifier)
	if err != nil {
		return nil, fmt.Errorf("instance status publisher: %w", err)
	}
	commands, err := deps.Fabric.CommandConsumer(messaging.EntityGameServerInstance, identifier)
	if err != nil {
		statusPub.Close()
		return nil, fmt.Errorf("instance command consumer: %w", err)
	}

	s := &Server{
		config:     config,
		gameServer: *gameServer,
		instance:   *instance,
		installDir: installDir,
		dal:        deps.DAL,
		installer:  deps.Installer,
		proc:       proc,
		statusPub:  statusPub,
		commands:   commands,
		logger:     logger,
	}

	s.publishStatus(ctx, models.StatusCreated)
	logger.Info("server created",
		zap.Int64("config_id", config.GameServerConfigID),
		zap.String("install_dir", installDir))
	return s, nil
}

// Instance returns the persisted instance record this server supervises.
func (s *Server) Instance() models.GameServerInstance { return s.instance }

// Config returns the launch configuration.
func (s *Server) Config() models.GameServerConfig { return s.config }

// IsShutdown reports whether the server completed its shutdown. It
// transitions false to true exactly once.
func (s *Server) IsShutdown() bool { return s.shutdownDone.Load() }

// TriggerShutdown asks the server to stop; the run loop kills the process
// and drives the rest of the shutdown.
func (s *Server) TriggerShutdown() {
	s.shouldBeRunning.Store(false)
}

// Deliver hands the server a command routed through its worker rather than
// its own command topic.
func (s *Server) Deliver(cmd models.Command) {
	s.localMu.Lock()
	s.localCmds = append(s.localCmds, cmd)
	s.localMu.Unlock()
}

// Run installs content when asked, launches the process, and supervises it
// until exit. COMPLETE is always published once Run is entered, even when the
// process exits non-zero or the installer fails; crash classification is left
// to observers.
func (s *Server) Run(ctx context.Context, shouldUpdate bool) error {
	defer s.finalize()

	s.publishStatus(ctx, models.StatusInitializing)

	if shouldUpdate {
		if err := s.installer.Install(s.gameServer.AppID, s.installDir); err != nil {
			s.logger.Error("install failed", zap.Error(err))
			return fmt.Errorf("install app %d: %w", s.gameServer.AppID, err)
		}
	}

	if err := s.proc.Run(false); err != nil {
		s.logger.Error("failed to launch process", zap.Error(err))
		return fmt.Errorf("launch %s: %w", s.config.Executable, err)
	}
	s.shouldBeRunning.Store(true)
	s.publishStatus(ctx, models.StatusRunning)

	ticker := time.NewTicker(serverLoopInterval)
	defer ticker.Stop()

	ctxDone := ctx.Done()
	lastHeartbeat := time.Now()
	for {
		s.proc.ReadOutput()

		if time.Since(lastHeartbeat) >= serverHeartbeatInterval {
			if _, err := s.dal.InstanceHeartbeat(ctx, s.instance.GameServerInstanceID); err != nil {
				s.logger.Warn("instance heartbeat failed", zap.Error(err))
			}
			lastHeartbeat = time.Now()
		}

		status := s.proc.Status()
		if status == process.StatusStopped || status == process.StatusFailed {
			s.logger.Info("process exited", zap.String("status", string(status)), zap.Int("exit_code", s.proc.ExitCode()))
			break
		}

		for _, cmd := range s.drainCommands() {
			s.handleCommand(cmd)
		}

		if !s.shouldBeRunning.Load() {
			s.proc.Kill()
		}

		select {
		case <-ctxDone:
			ctxDone = nil
			s.shouldBeRunning.Store(false)
			s.proc.Kill()
		case <-ticker.C:
		}
	}

	// one more drain for anything the process wrote on the way out
	s.proc.ReadOutput()
	return nil
}

// drainCommands merges worker-forwarded commands with the server's own
// command topic.
func (s *Server) drainCommands() []models.Command {
	s.localMu.Lock()
	cmds := s.localCmds
	s.localCmds = nil
	s.localMu.Unlock()
	return append(cmds, s.commands.Consume()...)
}

func (s *Server) handleCommand(cmd models.Command) {
	switch cmd.CommandType {
	case models.CommandStop:
		s.logger.Info("stop command received")
		s.shouldBeRunning.Store(false)
	case models.CommandStdin:
		if len(cmd.CommandArgs) < 1 {
			s.logger.Warn("stdin command without arguments")
			return
		}
		for _, line := range cmd.CommandArgs[1:] {
			if err := s.proc.WriteStdin(line); err != nil {
				s.logger.Warn("stdin write failed", zap.Error(err))
			}
		}
	case models.CommandStart:
		s.logger.Warn("start command received by running server, ignoring")
	default:
		s.logger.Warn("unknown command type", zap.String("command_type", string(cmd.CommandType)))
	}
}

// finalize publishes COMPLETE, tears down the messaging endpoints, and marks
// the instance ended. Runs exactly once.
func (s *Server) finalize() {
	if s.shutdownDone.Load() {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	s.publishStatus(ctx, models.StatusComplete)
	s.commands.Shutdown()
	s.statusPub.Close()

	if _, err := s.dal.InstanceShutdown(ctx, s.instance.GameServerInstanceID); err != nil {
		s.logger.Warn("instance shutdown call failed", zap.Error(err))
	}

	s.shutdownDone.Store(true)
	s.logger.Info("server shutdown complete")
}

func (s *Server) publishStatus(ctx context.Context, status models.StatusType) {
	identifier := strconv.FormatInt(s.instance.GameServerInstanceID, 10)
	info := models.NewInternalStatusInfo(models.EntityGameServerInstance, identifier, status)
	if err := s.statusPub.Publish(ctx, info); err != nil {
		s.logger.Warn("failed to publish status",
			zap.String("status", string(status)),
			zap.Error(err))
	}
}

// PID exposes the supervised process id for metrics collection.
func (s *Server) PID() int { return s.proc.PID() }
