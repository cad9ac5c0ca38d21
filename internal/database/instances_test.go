package database

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gsfleet/fleetman/internal/models"
)

// seedConfigTx inserts a game server and one config, returning the config.
func seedConfigTx(t *testing.T, db *DB, ctx context.Context) *models.GameServerConfig {
	t.Helper()

	server, err := db.CreateGameServer(ctx, "cs2", models.ServerTypeSteam, 730)
	require.NoError(t, err)

	config, err := db.CreateGameServerConfig(ctx, &models.GameServerConfig{
		GameServerID: server.GameServerID,
		Name:         "default",
		IsDefault:    true,
		IsVisible:    true,
		Executable:   "game/cs2",
		Args:         []string{"-dedicated"},
		EnvVar:       []string{"LD_LIBRARY_PATH=./linux64"},
	})
	require.NoError(t, err)
	return config
}

func TestInstanceLifecycle(t *testing.T) {
	db, ctx := setupTest(t)

	worker, err := db.CreateWorker(ctx)
	require.NoError(t, err)
	config := seedConfigTx(t, db, ctx)

	instance, err := db.CreateInstance(ctx, config.GameServerConfigID, worker.WorkerID)
	require.NoError(t, err)
	assert.NotZero(t, instance.GameServerInstanceID)
	assert.Nil(t, instance.EndedAt)

	fetched, err := db.GetInstanceByID(ctx, instance.GameServerInstanceID)
	require.NoError(t, err)
	assert.Equal(t, worker.WorkerID, fetched.WorkerID)

	updated, err := db.UpdateInstanceHeartbeat(ctx, instance.GameServerInstanceID)
	require.NoError(t, err)
	assert.NotNil(t, updated.LastHeartbeat)

	closed, err := db.ShutdownInstance(ctx, instance.GameServerInstanceID)
	require.NoError(t, err)
	require.NotNil(t, closed.EndedAt)

	// ended_at transitions exactly once
	_, err = db.ShutdownInstance(ctx, instance.GameServerInstanceID)
	assert.ErrorIs(t, err, ErrInstanceAlreadyClosed)

	_, err = db.ShutdownInstance(ctx, 999999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestActiveInstancesForWorker(t *testing.T) {
	db, ctx := setupTest(t)

	worker, err := db.CreateWorker(ctx)
	require.NoError(t, err)
	config := seedConfigTx(t, db, ctx)

	first, err := db.CreateInstance(ctx, config.GameServerConfigID, worker.WorkerID)
	require.NoError(t, err)
	second, err := db.CreateInstance(ctx, config.GameServerConfigID, worker.WorkerID)
	require.NoError(t, err)

	active, err := db.ActiveInstancesForWorker(ctx, worker.WorkerID)
	require.NoError(t, err)
	assert.Len(t, active, 2)

	_, err = db.ShutdownInstance(ctx, first.GameServerInstanceID)
	require.NoError(t, err)

	active, err = db.ActiveInstancesForWorker(ctx, worker.WorkerID)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, second.GameServerInstanceID, active[0].GameServerInstanceID)
}

func TestGameServerCatalogConstraints(t *testing.T) {
	db, ctx := setupTest(t)

	_, err := db.CreateGameServer(ctx, "cs2", models.ServerTypeSteam, 730)
	require.NoError(t, err)

	// unique on (name, server_type)
	_, err = db.CreateGameServer(ctx, "cs2", models.ServerTypeSteam, 731)
	assert.Error(t, err)
}

func TestGameServerConfigDefaultConstraint(t *testing.T) {
	db, ctx := setupTest(t)

	server, err := db.CreateGameServer(ctx, "cs2", models.ServerTypeSteam, 730)
	require.NoError(t, err)

	_, err = db.CreateGameServerConfig(ctx, &models.GameServerConfig{
		GameServerID: server.GameServerID, Name: "a", IsDefault: true,
		IsVisible: true, Executable: "run", Args: []string{}, EnvVar: []string{},
	})
	require.NoError(t, err)

	// a second default for the same game violates the partial unique index
	_, err = db.CreateGameServerConfig(ctx, &models.GameServerConfig{
		GameServerID: server.GameServerID, Name: "b", IsDefault: true,
		IsVisible: true, Executable: "run", Args: []string{}, EnvVar: []string{},
	})
	assert.Error(t, err)
}

func TestListVisibleConfigs(t *testing.T) {
	db, ctx := setupTest(t)

	server, err := db.CreateGameServer(ctx, "cs2", models.ServerTypeSteam, 730)
	require.NoError(t, err)

	_, err = db.CreateGameServerConfig(ctx, &models.GameServerConfig{
		GameServerID: server.GameServerID, Name: "visible",
		IsVisible: true, Executable: "run", Args: []string{}, EnvVar: []string{},
	})
	require.NoError(t, err)
	_, err = db.CreateGameServerConfig(ctx, &models.GameServerConfig{
		GameServerID: server.GameServerID, Name: "hidden",
		IsVisible: false, Executable: "run", Args: []string{}, EnvVar: []string{},
	})
	require.NoError(t, err)

	configs, err := db.ListVisibleConfigs(ctx)
	require.NoError(t, err)
	require.Len(t, configs, 1)
	assert.Equal(t, "visible", configs[0].Name)
	assert.Equal(t, "run", configs[0].Executable)
}

func TestUpsertCatalog(t *testing.T) {
	db, ctx := setupTest(t)

	server, err := db.UpsertGameServer(ctx, "cs2", models.ServerTypeSteam, 730)
	require.NoError(t, err)

	// same key updates in place
	again, err := db.UpsertGameServer(ctx, "cs2", models.ServerTypeSteam, 731)
	require.NoError(t, err)
	assert.Equal(t, server.GameServerID, again.GameServerID)
	assert.Equal(t, int64(731), again.AppID)

	config, err := db.UpsertGameServerConfig(ctx, &models.GameServerConfig{
		GameServerID: server.GameServerID, Name: "default",
		IsVisible: true, Executable: "run", Args: []string{"-a"}, EnvVar: []string{},
	})
	require.NoError(t, err)

	updated, err := db.UpsertGameServerConfig(ctx, &models.GameServerConfig{
		GameServerID: server.GameServerID, Name: "default",
		IsVisible: false, Executable: "run2", Args: []string{"-b"}, EnvVar: []string{},
	})
	require.NoError(t, err)
	assert.Equal(t, config.GameServerConfigID, updated.GameServerConfigID)
	assert.Equal(t, "run2", updated.Executable)
	assert.Equal(t, []string{"-b"}, updated.Args)
	assert.False(t, updated.IsVisible)
}

func TestInsertStatusCheckConstraint(t *testing.T) {
	db, ctx := setupTest(t)

	worker, err := db.CreateWorker(ctx)
	require.NoError(t, err)

	// worker-targeted status
	inserted, err := db.InsertStatus(ctx, &models.ExternalStatusInfo{
		ClassName: "WORKER", StatusType: models.StatusCreated,
		AsOf: time.Now().UTC(), WorkerID: &worker.WorkerID,
	})
	require.NoError(t, err)
	assert.NotZero(t, inserted.StatusInfoID)

	// neither subject set: the CHECK constraint rejects it
	_, err = db.InsertStatus(ctx, &models.ExternalStatusInfo{
		ClassName: "WORKER", StatusType: models.StatusCreated, AsOf: time.Now().UTC(),
	})
	assert.Error(t, err)
}

func TestLatestStatusOrdering(t *testing.T) {
	db, ctx := setupTest(t)

	worker, err := db.CreateWorker(ctx)
	require.NoError(t, err)

	base := time.Now().UTC()
	for i, statusType := range []models.StatusType{models.StatusCreated, models.StatusRunning, models.StatusComplete} {
		_, err = db.InsertStatus(ctx, &models.ExternalStatusInfo{
			ClassName: "WORKER", StatusType: statusType,
			AsOf: base.Add(time.Duration(i) * time.Second), WorkerID: &worker.WorkerID,
		})
		require.NoError(t, err)
	}

	latest, err := db.LatestWorkerStatus(ctx, worker.WorkerID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusComplete, latest.StatusType)

	_, err = db.LatestWorkerStatus(ctx, 999999)
	assert.ErrorIs(t, err, ErrNotFound)

	// instance statuses are looked up independently
	config := seedConfigTx(t, db, ctx)
	instance, err := db.CreateInstance(ctx, config.GameServerConfigID, worker.WorkerID)
	require.NoError(t, err)

	_, err = db.InsertStatus(ctx, &models.ExternalStatusInfo{
		ClassName: "GAME_SERVER_INSTANCE", StatusType: models.StatusRunning,
		AsOf: base, GameServerInstanceID: &instance.GameServerInstanceID,
	})
	require.NoError(t, err)

	latest, err = db.LatestInstanceStatus(ctx, instance.GameServerInstanceID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRunning, latest.StatusType)
}
