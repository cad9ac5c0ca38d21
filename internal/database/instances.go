package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/gsfleet/fleetman/internal/models"
)

// CreateInstance inserts a new game server instance row for a worker.
func (db *DB) CreateInstance(ctx context.Context, gameServerConfigID, workerID int64) (*models.GameServerInstance, error) {
	query := `
		INSERT INTO game_server_instances (game_server_config_id, worker_id)
		VALUES ($1, $2)
		RETURNING game_server_instance_id, game_server_config_id, worker_id,
		          created_at, ended_at, last_heartbeat
	`

	var instance models.GameServerInstance
	err := db.Pool.QueryRow(ctx, query, gameServerConfigID, workerID).Scan(
		&instance.GameServerInstanceID,
		&instance.GameServerConfigID,
		&instance.WorkerID,
		&instance.CreatedAt,
		&instance.EndedAt,
		&instance.LastHeartbeat,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create game server instance: %w", err)
	}

	return &instance, nil
}

// GetInstanceByID retrieves a single instance by id.
func (db *DB) GetInstanceByID(ctx context.Context, instanceID int64) (*models.GameServerInstance, error) {
	query := `
		SELECT game_server_instance_id, game_server_config_id, worker_id,
		       created_at, ended_at, last_heartbeat
		FROM game_server_instances
		WHERE game_server_instance_id = $1
	`

	var instance models.GameServerInstance
	err := db.Pool.QueryRow(ctx, query, instanceID).Scan(
		&instance.GameServerInstanceID,
		&instance.GameServerConfigID,
		&instance.WorkerID,
		&instance.CreatedAt,
		&instance.EndedAt,
		&instance.LastHeartbeat,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get game server instance: %w", err)
	}

	return &instance, nil
}

// ShutdownInstance sets ended_at on an open instance. ended_at transitions
// exactly once; a repeat shutdown returns ErrInstanceAlreadyClosed.
func (db *DB) ShutdownInstance(ctx context.Context, instanceID int64) (*models.GameServerInstance, error) {
	query := `
		UPDATE game_server_instances
		SET ended_at = NOW()
		WHERE game_server_instance_id = $1 AND ended_at IS NULL
		RETURNING game_server_instance_id, game_server_config_id, worker_id,
		          created_at, ended_at, last_heartbeat
	`

	var instance models.GameServerInstance
	err := db.Pool.QueryRow(ctx, query, instanceID).Scan(
		&instance.GameServerInstanceID,
		&instance.GameServerConfigID,
		&instance.WorkerID,
		&instance.CreatedAt,
		&instance.EndedAt,
		&instance.LastHeartbeat,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		existing, getErr := db.GetInstanceByID(ctx, instanceID)
		if getErr != nil {
			return nil, getErr
		}
		return existing, ErrInstanceAlreadyClosed
	}
	if err != nil {
		return nil, fmt.Errorf("failed to shut down game server instance: %w", err)
	}

	return &instance, nil
}

// UpdateInstanceHeartbeat stamps last_heartbeat on an open instance.
func (db *DB) UpdateInstanceHeartbeat(ctx context.Context, instanceID int64) (*models.GameServerInstance, error) {
	query := `
		UPDATE game_server_instances
		SET last_heartbeat = NOW()
		WHERE game_server_instance_id = $1 AND ended_at IS NULL
		RETURNING game_server_instance_id, game_server_config_id, worker_id,
		          created_at, ended_at, last_heartbeat
	`

	var instance models.GameServerInstance
	err := db.Pool.QueryRow(ctx, query, instanceID).Scan(
		&instance.GameServerInstanceID,
		&instance.GameServerConfigID,
		&instance.WorkerID,
		&instance.CreatedAt,
		&instance.EndedAt,
		&instance.LastHeartbeat,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		existing, getErr := db.GetInstanceByID(ctx, instanceID)
		if getErr != nil {
			return nil, getErr
		}
		return existing, ErrInstanceAlreadyClosed
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update instance heartbeat: %w", err)
	}

	return &instance, nil
}

// ActiveInstancesForWorker returns all instances of a worker whose ended_at
// is still null.
func (db *DB) ActiveInstancesForWorker(ctx context.Context, workerID int64) ([]models.GameServerInstance, error) {
	query := `
		SELECT game_server_instance_id, game_server_config_id, worker_id,
		       created_at, ended_at, last_heartbeat
		FROM game_server_instances
		WHERE worker_id = $1 AND ended_at IS NULL
		ORDER BY created_at
	`

	rows, err := db.Pool.Query(ctx, query, workerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list active instances: %w", err)
	}
	defer rows.Close()

	var instances []models.GameServerInstance
	for rows.Next() {
		var instance models.GameServerInstance
		err := rows.Scan(
			&instance.GameServerInstanceID,
			&instance.GameServerConfigID,
			&instance.WorkerID,
			&instance.CreatedAt,
			&instance.EndedAt,
			&instance.LastHeartbeat,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan instance: %w", err)
		}
		instances = append(instances, instance)
	}

	return instances, nil
}
