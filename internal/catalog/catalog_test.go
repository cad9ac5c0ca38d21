package catalog

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/gsfleet/fleetman/internal/models"
)

const sampleCatalog = `
games:
  - name: cs2
    server_type: STEAM
    app_id: 730
    configs:
      - name: default
        default: true
        executable: game/bin/cs2
        args: ["-dedicated"]
        env: ["LD_LIBRARY_PATH=./linux64"]
      - name: practice
        executable: game/bin/cs2
        hidden: true
  - name: valheim
    app_id: 896660
    configs:
      - name: default
        executable: valheim_server.x86_64
`

func writeCatalog(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadCatalog(t *testing.T) {
	file, err := Load(writeCatalog(t, sampleCatalog))
	require.NoError(t, err)

	require.Len(t, file.Games, 2)
	assert.Equal(t, "cs2", file.Games[0].Name)
	assert.Equal(t, int64(730), file.Games[0].AppID)
	require.Len(t, file.Games[0].Configs, 2)
	assert.True(t, file.Games[0].Configs[0].Default)
	assert.True(t, file.Games[0].Configs[1].Hidden)

	// server_type defaults to STEAM
	assert.Equal(t, models.ServerTypeSteam, file.Games[1].serverType())
}

func TestLoadCatalogErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"not yaml", ":\n:::"},
		{"missing app id", "games:\n  - name: cs2\n"},
		{"empty game name", "games:\n  - app_id: 1\n"},
		{
			"duplicate game",
			"games:\n  - {name: cs2, app_id: 1}\n  - {name: cs2, app_id: 2}\n",
		},
		{
			"config without executable",
			"games:\n  - name: cs2\n    app_id: 1\n    configs:\n      - name: default\n",
		},
		{
			"two defaults",
			"games:\n  - name: cs2\n    app_id: 1\n    configs:\n      - {name: a, executable: x, default: true}\n      - {name: b, executable: x, default: true}\n",
		},
		{
			"duplicate config",
			"games:\n  - name: cs2\n    app_id: 1\n    configs:\n      - {name: a, executable: x}\n      - {name: a, executable: y}\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeCatalog(t, tt.content))
			assert.Error(t, err)
		})
	}
}

func TestLoadCatalogMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

// fakeCatalogStore records upserts.
type fakeCatalogStore struct {
	mu      sync.Mutex
	nextID  int64
	servers map[string]*models.GameServer
	configs []models.GameServerConfig
}

func newFakeCatalogStore() *fakeCatalogStore {
	return &fakeCatalogStore{servers: make(map[string]*models.GameServer)}
}

func (s *fakeCatalogStore) UpsertGameServer(ctx context.Context, name string, serverType models.ServerType, appID int64) (*models.GameServer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := name + "/" + string(serverType)
	if server, ok := s.servers[key]; ok {
		server.AppID = appID
		return server, nil
	}
	s.nextID++
	server := &models.GameServer{GameServerID: s.nextID, Name: name, ServerType: serverType, AppID: appID}
	s.servers[key] = server
	return server, nil
}

func (s *fakeCatalogStore) UpsertGameServerConfig(ctx context.Context, config *models.GameServerConfig) (*models.GameServerConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configs = append(s.configs, *config)
	return config, nil
}

func TestSyncUpsertsGamesAndConfigs(t *testing.T) {
	file, err := Load(writeCatalog(t, sampleCatalog))
	require.NoError(t, err)

	store := newFakeCatalogStore()
	require.NoError(t, Sync(context.Background(), store, file, zaptest.NewLogger(t)))

	assert.Len(t, store.servers, 2)
	require.Len(t, store.configs, 3)

	first := store.configs[0]
	assert.Equal(t, int64(1), first.GameServerID)
	assert.Equal(t, "default", first.Name)
	assert.True(t, first.IsDefault)
	assert.True(t, first.IsVisible)
	assert.Equal(t, []string{"-dedicated"}, first.Args)

	hidden := store.configs[1]
	assert.False(t, hidden.IsVisible)
	// nil slices normalize to empty so array columns stay non-null
	assert.NotNil(t, hidden.Args)
	assert.NotNil(t, hidden.EnvVar)
}
