package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setBrokerEnv(t *testing.T) {
	t.Helper()
	t.Setenv("FLEETMAN_RABBITMQ_HOST", "mq.internal")
	t.Setenv("FLEETMAN_RABBITMQ_USER", "fleet")
	t.Setenv("FLEETMAN_RABBITMQ_PASSWORD", "secret")
}

func TestLoadWorker(t *testing.T) {
	setBrokerEnv(t)
	t.Setenv("FLEETMAN_HOST_URL", "http://host:8080")
	t.Setenv("FLEETMAN_INSTALL_DIR", "/srv/games")

	cfg, err := LoadWorker()
	require.NoError(t, err)

	assert.Equal(t, "http://host:8080", cfg.HostURL)
	assert.Equal(t, "/srv/games", cfg.InstallDir)
	assert.Equal(t, 2*time.Second, cfg.HeartbeatInterval)
	assert.Equal(t, "mq.internal", cfg.Broker.Host)
	assert.Equal(t, 5672, cfg.Broker.Port)
	assert.Equal(t, "/", cfg.Broker.VirtualHost)
	assert.Equal(t, 30*time.Second, cfg.Broker.Heartbeat)
}

func TestLoadWorkerRequiredFields(t *testing.T) {
	setBrokerEnv(t)

	_, err := LoadWorker()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "FLEETMAN_HOST_URL")

	t.Setenv("FLEETMAN_HOST_URL", "http://host:8080")
	_, err = LoadWorker()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "FLEETMAN_INSTALL_DIR")
}

func TestLoadWorkerSteamPasswordRequired(t *testing.T) {
	setBrokerEnv(t)
	t.Setenv("FLEETMAN_HOST_URL", "http://host:8080")
	t.Setenv("FLEETMAN_INSTALL_DIR", "/srv/games")
	t.Setenv("FLEETMAN_STEAM_USERNAME", "gabe")

	_, err := LoadWorker()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "FLEETMAN_STEAM_PASSWORD")
}

func TestLoadHost(t *testing.T) {
	setBrokerEnv(t)
	t.Setenv("FLEETMAN_DATABASE_URL", "postgres://fleet@db/fleetman")
	t.Setenv("FLEETMAN_HTTP_PORT", "9090")
	t.Setenv("FLEETMAN_RABBITMQ_PORT", "5671")
	t.Setenv("FLEETMAN_RABBITMQ_ENABLE_TLS", "true")
	t.Setenv("FLEETMAN_RABBITMQ_TLS_HOSTNAME", "mq.internal")
	t.Setenv("FLEETMAN_RABBITMQ_HEARTBEAT", "60")

	cfg, err := LoadHost()
	require.NoError(t, err)

	assert.Equal(t, "postgres://fleet@db/fleetman", cfg.DatabaseURL)
	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "migrations", cfg.MigrationsDir)
	assert.Equal(t, 5671, cfg.Broker.Port)
	assert.True(t, cfg.Broker.TLSEnabled)
	assert.Equal(t, "mq.internal", cfg.Broker.TLSHostname)
	assert.Equal(t, time.Minute, cfg.Broker.Heartbeat)
}

func TestTLSRequiresPinnedHostname(t *testing.T) {
	setBrokerEnv(t)
	t.Setenv("FLEETMAN_DATABASE_URL", "postgres://fleet@db/fleetman")
	t.Setenv("FLEETMAN_RABBITMQ_ENABLE_TLS", "1")

	_, err := LoadHost()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "FLEETMAN_RABBITMQ_TLS_HOSTNAME")
}

func TestBrokerConnectionConfig(t *testing.T) {
	setBrokerEnv(t)
	t.Setenv("FLEETMAN_DATABASE_URL", "postgres://fleet@db/fleetman")

	cfg, err := LoadHost()
	require.NoError(t, err)

	conn := cfg.Broker.ConnectionConfig()
	assert.Equal(t, "mq.internal", conn.Host)
	assert.Equal(t, "fleet", conn.Username)
	assert.Equal(t, "secret", conn.Password)
}
