package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/gsfleet/fleetman/internal/models"
)

// CreateWorker inserts a new worker row and returns it.
func (db *DB) CreateWorker(ctx context.Context) (*models.Worker, error) {
	query := `
		INSERT INTO workers DEFAULT VALUES
		RETURNING worker_id, created_at, ended_at, last_heartbeat
	`

	var worker models.Worker
	err := db.Pool.QueryRow(ctx, query).Scan(
		&worker.WorkerID,
		&worker.CreatedAt,
		&worker.EndedAt,
		&worker.LastHeartbeat,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create worker: %w", err)
	}

	return &worker, nil
}

// GetWorkerByID retrieves a single worker by id.
func (db *DB) GetWorkerByID(ctx context.Context, workerID int64) (*models.Worker, error) {
	query := `
		SELECT worker_id, created_at, ended_at, last_heartbeat
		FROM workers
		WHERE worker_id = $1
	`

	var worker models.Worker
	err := db.Pool.QueryRow(ctx, query, workerID).Scan(
		&worker.WorkerID,
		&worker.CreatedAt,
		&worker.EndedAt,
		&worker.LastHeartbeat,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get worker: %w", err)
	}

	return &worker, nil
}

// GetCurrentWorker returns the latest worker whose ended_at is still null.
func (db *DB) GetCurrentWorker(ctx context.Context) (*models.Worker, error) {
	query := `
		SELECT worker_id, created_at, ended_at, last_heartbeat
		FROM workers
		WHERE ended_at IS NULL
		ORDER BY created_at DESC, worker_id DESC
		LIMIT 1
	`

	var worker models.Worker
	err := db.Pool.QueryRow(ctx, query).Scan(
		&worker.WorkerID,
		&worker.CreatedAt,
		&worker.EndedAt,
		&worker.LastHeartbeat,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get current worker: %w", err)
	}

	return &worker, nil
}

// ShutdownWorker sets ended_at on an open worker. Shutting down an already
// closed worker is a caller error and returns ErrWorkerAlreadyClosed.
func (db *DB) ShutdownWorker(ctx context.Context, workerID int64) (*models.Worker, error) {
	query := `
		UPDATE workers
		SET ended_at = NOW()
		WHERE worker_id = $1 AND ended_at IS NULL
		RETURNING worker_id, created_at, ended_at, last_heartbeat
	`

	var worker models.Worker
	err := db.Pool.QueryRow(ctx, query, workerID).Scan(
		&worker.WorkerID,
		&worker.CreatedAt,
		&worker.EndedAt,
		&worker.LastHeartbeat,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		existing, getErr := db.GetWorkerByID(ctx, workerID)
		if getErr != nil {
			return nil, getErr
		}
		return existing, ErrWorkerAlreadyClosed
	}
	if err != nil {
		return nil, fmt.Errorf("failed to shut down worker: %w", err)
	}

	return &worker, nil
}

// CloseOtherWorkers closes every open worker except the given one and returns
// the closed workers. Enforces the single-active-worker invariant.
func (db *DB) CloseOtherWorkers(ctx context.Context, workerID int64) ([]models.Worker, error) {
	query := `
		UPDATE workers
		SET ended_at = NOW()
		WHERE worker_id <> $1 AND ended_at IS NULL
		RETURNING worker_id, created_at, ended_at, last_heartbeat
	`

	rows, err := db.Pool.Query(ctx, query, workerID)
	if err != nil {
		return nil, fmt.Errorf("failed to close other workers: %w", err)
	}
	defer rows.Close()

	var closed []models.Worker
	for rows.Next() {
		var worker models.Worker
		err := rows.Scan(
			&worker.WorkerID,
			&worker.CreatedAt,
			&worker.EndedAt,
			&worker.LastHeartbeat,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan closed worker: %w", err)
		}
		closed = append(closed, worker)
	}

	return closed, nil
}

// UpdateWorkerHeartbeat stamps last_heartbeat on an open worker. Returns
// ErrWorkerAlreadyClosed if the worker has ended.
func (db *DB) UpdateWorkerHeartbeat(ctx context.Context, workerID int64) (*models.Worker, error) {
	query := `
		UPDATE workers
		SET last_heartbeat = NOW()
		WHERE worker_id = $1 AND ended_at IS NULL
		RETURNING worker_id, created_at, ended_at, last_heartbeat
	`

	var worker models.Worker
	err := db.Pool.QueryRow(ctx, query, workerID).Scan(
		&worker.WorkerID,
		&worker.CreatedAt,
		&worker.EndedAt,
		&worker.LastHeartbeat,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		existing, getErr := db.GetWorkerByID(ctx, workerID)
		if getErr != nil {
			return nil, getErr
		}
		return existing, ErrWorkerAlreadyClosed
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update worker heartbeat: %w", err)
	}

	return &worker, nil
}

// StaleWorkers returns open workers whose last heartbeat is between lookback
// and threshold and whose latest status row is still an active one. These are
// the candidates the status processor declares LOST.
func (db *DB) StaleWorkers(ctx context.Context, threshold, lookback time.Time) ([]models.Worker, error) {
	query := `
		SELECT w.worker_id, w.created_at, w.ended_at, w.last_heartbeat
		FROM workers w
		JOIN LATERAL (
			SELECT s.status_type
			FROM status_info s
			WHERE s.worker_id = w.worker_id
			ORDER BY s.as_of DESC, s.status_info_id DESC
			LIMIT 1
		) latest ON TRUE
		WHERE w.ended_at IS NULL
		  AND w.last_heartbeat > $1
		  AND w.last_heartbeat < $2
		  AND latest.status_type = ANY($3)
	`

	active := []string{
		string(models.StatusCreated),
		string(models.StatusInitializing),
		string(models.StatusRunning),
	}

	rows, err := db.Pool.Query(ctx, query, lookback, threshold, active)
	if err != nil {
		return nil, fmt.Errorf("failed to query stale workers: %w", err)
	}
	defer rows.Close()

	var workers []models.Worker
	for rows.Next() {
		var worker models.Worker
		err := rows.Scan(
			&worker.WorkerID,
			&worker.CreatedAt,
			&worker.EndedAt,
			&worker.LastHeartbeat,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan stale worker: %w", err)
		}
		workers = append(workers, worker)
	}

	return workers, nil
}
