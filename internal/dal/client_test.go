package dal

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/gsfleet/fleetman/internal/models"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, "test-token", zaptest.NewLogger(t))
}

func TestWorkerCreate(t *testing.T) {
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/workerdal/worker/create", r.URL.Path)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))

		json.NewEncoder(w).Encode(models.Worker{WorkerID: 12, CreatedAt: time.Now().UTC()})
	})

	worker, err := client.WorkerCreate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(12), worker.WorkerID)
}

func TestWorkerShutdownConflict(t *testing.T) {
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/workerdal/worker/shutdown", r.URL.Path)

		var body map[string]int64
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, int64(12), body["worker_id"])

		w.WriteHeader(http.StatusConflict)
	})

	_, err := client.WorkerShutdown(context.Background(), 12)
	assert.ErrorIs(t, err, ErrConflict)
}

func TestWorkerHeartbeatGone(t *testing.T) {
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusGone)
	})

	_, err := client.WorkerHeartbeat(context.Background(), 12)
	assert.ErrorIs(t, err, ErrGone)
}

func TestCloseOtherWorkers(t *testing.T) {
	var gotPath string
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"closed": 2}`))
	})

	require.NoError(t, client.CloseOtherWorkers(context.Background(), 3))
	assert.Equal(t, "/workerdal/worker/shutdown/other", gotPath)
}

func TestInstanceCreate(t *testing.T) {
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/workerdal/server/instance/create", r.URL.Path)

		var body map[string]int64
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, int64(4), body["game_server_config_id"])
		assert.Equal(t, int64(2), body["worker_id"])

		json.NewEncoder(w).Encode(models.GameServerInstance{
			GameServerInstanceID: 31,
			GameServerConfigID:   4,
			WorkerID:             2,
		})
	})

	instance, err := client.InstanceCreate(context.Background(), 4, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(31), instance.GameServerInstanceID)
}

func TestInstanceShutdownConflict(t *testing.T) {
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	})

	_, err := client.InstanceShutdown(context.Background(), 31)
	assert.ErrorIs(t, err, ErrConflict)
}

func TestInstanceHeartbeatPath(t *testing.T) {
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/workerdal/server/instance/heartbeat/31", r.URL.Path)
		json.NewEncoder(w).Encode(models.GameServerInstance{GameServerInstanceID: 31})
	})

	instance, err := client.InstanceHeartbeat(context.Background(), 31)
	require.NoError(t, err)
	assert.Equal(t, int64(31), instance.GameServerInstanceID)
}

func TestGameServerAndConfigFetch(t *testing.T) {
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/workerdal/server/9":
			json.NewEncoder(w).Encode(models.GameServer{
				GameServerID: 9, Name: "cs2", ServerType: models.ServerTypeSteam, AppID: 730,
			})
		case "/workerdal/server/config/4":
			json.NewEncoder(w).Encode(models.GameServerConfig{
				GameServerConfigID: 4, GameServerID: 9, Name: "default",
				Executable: "game/cs2", Args: []string{"-dedicated"},
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	server, err := client.GameServer(context.Background(), 9)
	require.NoError(t, err)
	assert.Equal(t, models.ServerTypeSteam, server.ServerType)

	config, err := client.GameServerConfig(context.Background(), 4)
	require.NoError(t, err)
	assert.Equal(t, "game/cs2", config.Executable)

	_, err = client.GameServerConfig(context.Background(), 999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUnexpectedStatusIncludesDetail(t *testing.T) {
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"boom"}`))
	})

	_, err := client.WorkerCreate(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
	assert.Contains(t, err.Error(), "boom")
}

func TestNoAuthHeaderWithoutToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(models.Worker{WorkerID: 1})
	}))
	t.Cleanup(srv.Close)

	client := NewClient(srv.URL, "", zaptest.NewLogger(t))
	_, err := client.WorkerCreate(context.Background())
	require.NoError(t, err)
}
