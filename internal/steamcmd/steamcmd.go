package steamcmd

import (
	"fmt"
	"os"
	"strconv"

	"go.uber.org/zap"

	"github.com/gsfleet/fleetman/internal/process"
)

// DefaultExecutable is used when no steamcmd path is configured.
const DefaultExecutable = "steamcmd"

// Credentials selects the steam login used for installs.
type Credentials interface {
	username() string
	password() string
}

// Anonymous logs in with the anonymous steam account.
type Anonymous struct{}

func (Anonymous) username() string { return "anonymous" }
func (Anonymous) password() string { return "" }

// UserPassword logs in with a real steam account. The password is delivered
// over stdin, never argv.
type UserPassword struct {
	User     string
	Password string
}

func (c UserPassword) username() string { return c.User }
func (c UserPassword) password() string { return c.Password }

// ProcessFactory builds the external process an install runs. The parameter
// stdin lines are written once at start.
type ProcessFactory func(executable string, args, parameterStdin []string) process.ExternalProcess

// Installer fetches game content via steamcmd. Install is synchronous: it
// prepares the directory, runs steamcmd to completion, and fails on a
// non-zero exit.
type Installer struct {
	executable string
	creds      Credentials
	logger     *zap.Logger
	newProcess ProcessFactory
}

// New creates an installer. An empty executable falls back to the default.
func New(executable string, creds Credentials, logger *zap.Logger) *Installer {
	if executable == "" {
		executable = DefaultExecutable
	}
	return &Installer{
		executable: executable,
		creds:      creds,
		logger:     logger,
		newProcess: func(executable string, args, parameterStdin []string) process.ExternalProcess {
			pb := process.NewBuilder(executable, logger)
			pb.AddArgument(args...)
			for _, line := range parameterStdin {
				pb.AddParameterStdin(line)
			}
			return pb
		},
	}
}

// WithProcessFactory overrides process creation. Used by tests.
func (i *Installer) WithProcessFactory(factory ProcessFactory) *Installer {
	i.newProcess = factory
	return i
}

// Install fetches the given app into installDir and waits for completion.
func (i *Installer) Install(appID int64, installDir string) error {
	i.logger.Info("installing app",
		zap.Int64("app_id", appID),
		zap.String("install_dir", installDir),
		zap.String("login", i.creds.username()))

	if err := os.MkdirAll(installDir, 0o755); err != nil {
		return fmt.Errorf("failed to create install directory: %w", err)
	}

	// steamcmd takes its script as +commands
	args := []string{
		"+@sSteamCmdForcePlatformType", "linux",
		"+force_install_dir", installDir,
		"+login", i.creds.username(),
		"+app_update", strconv.FormatInt(appID, 10),
		"+exit",
	}
	var parameterStdin []string
	if password := i.creds.password(); password != "" {
		parameterStdin = append(parameterStdin, password)
	}

	pb := i.newProcess(i.executable, args, parameterStdin)
	if err := pb.Run(true); err != nil {
		return fmt.Errorf("steamcmd failed to start: %w", err)
	}
	pb.ReadOutput()

	if pb.Status() == process.StatusFailed {
		return fmt.Errorf("steamcmd failed for app %d (exit code %d)", appID, pb.ExitCode())
	}

	i.logger.Info("install complete", zap.Int64("app_id", appID))
	return nil
}
