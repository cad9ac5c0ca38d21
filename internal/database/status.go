package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/gsfleet/fleetman/internal/models"
)

// InsertStatus persists one status event. Exactly one of WorkerID or
// GameServerInstanceID must be set; the table's CHECK constraint rejects
// anything else.
func (db *DB) InsertStatus(ctx context.Context, status *models.ExternalStatusInfo) (*models.ExternalStatusInfo, error) {
	query := `
		INSERT INTO status_info (class_name, status_type, as_of, worker_id, game_server_instance_id)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING status_info_id, class_name, status_type, as_of, worker_id, game_server_instance_id
	`

	var inserted models.ExternalStatusInfo
	err := db.Pool.QueryRow(ctx, query,
		status.ClassName,
		status.StatusType,
		status.AsOf,
		status.WorkerID,
		status.GameServerInstanceID,
	).Scan(
		&inserted.StatusInfoID,
		&inserted.ClassName,
		&inserted.StatusType,
		&inserted.AsOf,
		&inserted.WorkerID,
		&inserted.GameServerInstanceID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert status: %w", err)
	}

	return &inserted, nil
}

// LatestWorkerStatus returns the most recent status row for a worker.
func (db *DB) LatestWorkerStatus(ctx context.Context, workerID int64) (*models.ExternalStatusInfo, error) {
	query := `
		SELECT status_info_id, class_name, status_type, as_of, worker_id, game_server_instance_id
		FROM status_info
		WHERE worker_id = $1
		ORDER BY as_of DESC, status_info_id DESC
		LIMIT 1
	`
	return db.latestStatus(ctx, query, workerID)
}

// LatestInstanceStatus returns the most recent status row for a game server
// instance.
func (db *DB) LatestInstanceStatus(ctx context.Context, instanceID int64) (*models.ExternalStatusInfo, error) {
	query := `
		SELECT status_info_id, class_name, status_type, as_of, worker_id, game_server_instance_id
		FROM status_info
		WHERE game_server_instance_id = $1
		ORDER BY as_of DESC, status_info_id DESC
		LIMIT 1
	`
	return db.latestStatus(ctx, query, instanceID)
}

func (db *DB) latestStatus(ctx context.Context, query string, id int64) (*models.ExternalStatusInfo, error) {
	var status models.ExternalStatusInfo
	err := db.Pool.QueryRow(ctx, query, id).Scan(
		&status.StatusInfoID,
		&status.ClassName,
		&status.StatusType,
		&status.AsOf,
		&status.WorkerID,
		&status.GameServerInstanceID,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest status: %w", err)
	}

	return &status, nil
}
