package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/gsfleet/fleetman/internal/models"
)

// CreateGameServer inserts a catalog entry.
func (db *DB) CreateGameServer(ctx context.Context, name string, serverType models.ServerType, appID int64) (*models.GameServer, error) {
	query := `
		INSERT INTO game_servers (name, server_type, app_id)
		VALUES ($1, $2, $3)
		RETURNING game_server_id, name, server_type, app_id
	`

	var server models.GameServer
	err := db.Pool.QueryRow(ctx, query, name, serverType, appID).Scan(
		&server.GameServerID,
		&server.Name,
		&server.ServerType,
		&server.AppID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create game server: %w", err)
	}

	return &server, nil
}

// GetGameServerByID retrieves a catalog entry by id.
func (db *DB) GetGameServerByID(ctx context.Context, gameServerID int64) (*models.GameServer, error) {
	query := `
		SELECT game_server_id, name, server_type, app_id
		FROM game_servers
		WHERE game_server_id = $1
	`

	var server models.GameServer
	err := db.Pool.QueryRow(ctx, query, gameServerID).Scan(
		&server.GameServerID,
		&server.Name,
		&server.ServerType,
		&server.AppID,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get game server: %w", err)
	}

	return &server, nil
}

// GetGameServerByName retrieves a catalog entry by its unique (name, type)
// pair.
func (db *DB) GetGameServerByName(ctx context.Context, name string, serverType models.ServerType) (*models.GameServer, error) {
	query := `
		SELECT game_server_id, name, server_type, app_id
		FROM game_servers
		WHERE name = $1 AND server_type = $2
	`

	var server models.GameServer
	err := db.Pool.QueryRow(ctx, query, name, serverType).Scan(
		&server.GameServerID,
		&server.Name,
		&server.ServerType,
		&server.AppID,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get game server by name: %w", err)
	}

	return &server, nil
}

// CreateGameServerConfig inserts a launch configuration.
func (db *DB) CreateGameServerConfig(ctx context.Context, config *models.GameServerConfig) (*models.GameServerConfig, error) {
	query := `
		INSERT INTO game_server_configs (game_server_id, name, is_default, is_visible, executable, args, env_var)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING game_server_config_id, game_server_id, name, is_default, is_visible, executable, args, env_var
	`

	var created models.GameServerConfig
	err := db.Pool.QueryRow(ctx, query,
		config.GameServerID,
		config.Name,
		config.IsDefault,
		config.IsVisible,
		config.Executable,
		config.Args,
		config.EnvVar,
	).Scan(
		&created.GameServerConfigID,
		&created.GameServerID,
		&created.Name,
		&created.IsDefault,
		&created.IsVisible,
		&created.Executable,
		&created.Args,
		&created.EnvVar,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create game server config: %w", err)
	}

	return &created, nil
}

// GetGameServerConfigByID retrieves a launch configuration by id.
func (db *DB) GetGameServerConfigByID(ctx context.Context, configID int64) (*models.GameServerConfig, error) {
	query := `
		SELECT game_server_config_id, game_server_id, name, is_default, is_visible, executable, args, env_var
		FROM game_server_configs
		WHERE game_server_config_id = $1
	`

	var config models.GameServerConfig
	err := db.Pool.QueryRow(ctx, query, configID).Scan(
		&config.GameServerConfigID,
		&config.GameServerID,
		&config.Name,
		&config.IsDefault,
		&config.IsVisible,
		&config.Executable,
		&config.Args,
		&config.EnvVar,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get game server config: %w", err)
	}

	return &config, nil
}

// ListVisibleConfigs returns all configs exposed to operators.
func (db *DB) ListVisibleConfigs(ctx context.Context) ([]models.GameServerConfig, error) {
	query := `
		SELECT game_server_config_id, game_server_id, name, is_default, is_visible, executable, args, env_var
		FROM game_server_configs
		WHERE is_visible
		ORDER BY game_server_id, name
	`

	rows, err := db.Pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list visible configs: %w", err)
	}
	defer rows.Close()

	var configs []models.GameServerConfig
	for rows.Next() {
		var config models.GameServerConfig
		err := rows.Scan(
			&config.GameServerConfigID,
			&config.GameServerID,
			&config.Name,
			&config.IsDefault,
			&config.IsVisible,
			&config.Executable,
			&config.Args,
			&config.EnvVar,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan game server config: %w", err)
		}
		configs = append(configs, config)
	}

	return configs, nil
}

// UpsertGameServer inserts a catalog entry or updates its app id in place.
// Used by the catalog loader at host boot.
func (db *DB) UpsertGameServer(ctx context.Context, name string, serverType models.ServerType, appID int64) (*models.GameServer, error) {
	query := `
		INSERT INTO game_servers (name, server_type, app_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (name, server_type)
		DO UPDATE SET app_id = EXCLUDED.app_id
		RETURNING game_server_id, name, server_type, app_id
	`

	var server models.GameServer
	err := db.Pool.QueryRow(ctx, query, name, serverType, appID).Scan(
		&server.GameServerID,
		&server.Name,
		&server.ServerType,
		&server.AppID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert game server: %w", err)
	}

	return &server, nil
}

// UpsertGameServerConfig inserts a launch configuration or updates it in
// place, keyed on (game_server_id, name).
func (db *DB) UpsertGameServerConfig(ctx context.Context, config *models.GameServerConfig) (*models.GameServerConfig, error) {
	query := `
		INSERT INTO game_server_configs (game_server_id, name, is_default, is_visible, executable, args, env_var)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (game_server_id, name)
		DO UPDATE SET is_default = EXCLUDED.is_default,
		              is_visible = EXCLUDED.is_visible,
		              executable = EXCLUDED.executable,
		              args = EXCLUDED.args,
		              env_var = EXCLUDED.env_var
		RETURNING game_server_config_id, game_server_id, name, is_default, is_visible, executable, args, env_var
	`

	var upserted models.GameServerConfig
	err := db.Pool.QueryRow(ctx, query,
		config.GameServerID,
		config.Name,
		config.IsDefault,
		config.IsVisible,
		config.Executable,
		config.Args,
		config.EnvVar,
	).Scan(
		&upserted.GameServerConfigID,
		&upserted.GameServerID,
		&upserted.Name,
		&upserted.IsDefault,
		&upserted.IsVisible,
		&upserted.Executable,
		&upserted.Args,
		&upserted.EnvVar,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert game server config: %w", err)
	}

	return &upserted, nil
}
