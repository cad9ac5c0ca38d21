package catalog

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/gsfleet/fleetman/internal/models"
)

// File is the YAML game catalog synced into the store at host boot.
type File struct {
	Games []Game `yaml:"games"`
}

// Game describes one game server and its launch configurations.
type Game struct {
	Name       string   `yaml:"name"`
	ServerType string   `yaml:"server_type"`
	AppID      int64    `yaml:"app_id"`
	Configs    []Config `yaml:"configs"`
}

// Config describes one launch configuration.
type Config struct {
	Name       string   `yaml:"name"`
	Executable string   `yaml:"executable"`
	Default    bool     `yaml:"default"`
	Hidden     bool     `yaml:"hidden"`
	Args       []string `yaml:"args"`
	Env        []string `yaml:"env"`
}

// Store is the persistence surface the catalog sync writes through.
type Store interface {
	UpsertGameServer(ctx context.Context, name string, serverType models.ServerType, appID int64) (*models.GameServer, error)
	UpsertGameServerConfig(ctx context.Context, config *models.GameServerConfig) (*models.GameServerConfig, error)
}

// Load reads and validates a catalog file.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}

	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	if err := file.validate(); err != nil {
		return nil, fmt.Errorf("invalid catalog: %w", err)
	}
	return &file, nil
}

func (f *File) validate() error {
	seenGames := make(map[string]bool)
	for _, game := range f.Games {
		if game.Name == "" {
			return fmt.Errorf("game with empty name")
		}
		if game.AppID <= 0 {
			return fmt.Errorf("game %q has no app_id", game.Name)
		}
		if seenGames[game.Name] {
			return fmt.Errorf("duplicate game %q", game.Name)
		}
		seenGames[game.Name] = true

		seenConfigs := make(map[string]bool)
		defaults := 0
		for _, config := range game.Configs {
			if config.Name == "" {
				return fmt.Errorf("game %q has a config with an empty name", game.Name)
			}
			if config.Executable == "" {
				return fmt.Errorf("config %q of game %q has no executable", config.Name, game.Name)
			}
			if seenConfigs[config.Name] {
				return fmt.Errorf("game %q has duplicate config %q", game.Name, config.Name)
			}
			seenConfigs[config.Name] = true
			if config.Default {
				defaults++
			}
		}
		if defaults > 1 {
			return fmt.Errorf("game %q has %d default configs, at most one allowed", game.Name, defaults)
		}
	}
	return nil
}

func (g Game) serverType() models.ServerType {
	if g.ServerType == "" {
		return models.ServerTypeSteam
	}
	return models.ServerType(g.ServerType)
}

// Sync upserts every game and config into the store. Idempotent; safe to run
// on every boot.
func Sync(ctx context.Context, store Store, file *File, logger *zap.Logger) error {
	for _, game := range file.Games {
		server, err := store.UpsertGameServer(ctx, game.Name, game.serverType(), game.AppID)
		if err != nil {
			return fmt.Errorf("sync game %q: %w", game.Name, err)
		}

		for _, config := range game.Configs {
			args := config.Args
			if args == nil {
				args = []string{}
			}
			env := config.Env
			if env == nil {
				env = []string{}
			}
			_, err := store.UpsertGameServerConfig(ctx, &models.GameServerConfig{
				GameServerID: server.GameServerID,
				Name:         config.Name,
				IsDefault:    config.Default,
				IsVisible:    !config.Hidden,
				Executable:   config.Executable,
				Args:         args,
				EnvVar:       env,
			})
			if err != nil {
				return fmt.Errorf("sync config %q of game %q: %w", config.Name, game.Name, err)
			}
		}
		logger.Info("catalog game synced",
			zap.String("game", game.Name),
			zap.Int64("app_id", game.AppID),
			zap.Int("configs", len(game.Configs)))
	}
	return nil
}
