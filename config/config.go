package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/gsfleet/fleetman/internal/messaging"
)

// BrokerConfig holds the message broker connection settings shared by every
// binary.
type BrokerConfig struct {
	Host        string
	Port        int
	Username    string
	Password    string
	VirtualHost string
	TLSEnabled  bool
	TLSHostname string
	Heartbeat   time.Duration
}

// ConnectionConfig converts to the messaging layer's connection parameters.
func (b BrokerConfig) ConnectionConfig() messaging.ConnectionConfig {
	return messaging.ConnectionConfig{
		Host:        b.Host,
		Port:        b.Port,
		Username:    b.Username,
		Password:    b.Password,
		VirtualHost: b.VirtualHost,
		TLSEnabled:  b.TLSEnabled,
		TLSHostname: b.TLSHostname,
		Heartbeat:   b.Heartbeat,
	}
}

// WorkerConfig holds everything the worker agent needs.
type WorkerConfig struct {
	Broker BrokerConfig

	// HostURL is the base URL of the host APIs.
	HostURL   string
	AuthToken string

	InstallDir        string
	HeartbeatInterval time.Duration

	SteamCmdExecutable string
	SteamUsername      string
	SteamPassword      string
}

// HostConfig holds everything the host binaries need.
type HostConfig struct {
	Broker BrokerConfig

	DatabaseURL   string
	Port          string
	MigrationsDir string
	CatalogPath   string
	AuthSecret    string
}

// LoadWorker reads the worker configuration from environment variables.
func LoadWorker() (*WorkerConfig, error) {
	broker, err := loadBroker()
	if err != nil {
		return nil, err
	}

	cfg := &WorkerConfig{
		Broker:            *broker,
		HeartbeatInterval: 2 * time.Second,
	}

	cfg.HostURL = os.Getenv("FLEETMAN_HOST_URL")
	if cfg.HostURL == "" {
		return nil, fmt.Errorf("FLEETMAN_HOST_URL is required")
	}

	cfg.InstallDir = os.Getenv("FLEETMAN_INSTALL_DIR")
	if cfg.InstallDir == "" {
		return nil, fmt.Errorf("FLEETMAN_INSTALL_DIR is required")
	}

	cfg.AuthToken = os.Getenv("FLEETMAN_AUTH_TOKEN")
	cfg.SteamCmdExecutable = os.Getenv("FLEETMAN_STEAMCMD_EXECUTABLE")
	cfg.SteamUsername = os.Getenv("FLEETMAN_STEAM_USERNAME")
	cfg.SteamPassword = os.Getenv("FLEETMAN_STEAM_PASSWORD")
	if cfg.SteamUsername != "" && cfg.SteamPassword == "" {
		return nil, fmt.Errorf("FLEETMAN_STEAM_USERNAME set without FLEETMAN_STEAM_PASSWORD")
	}

	if raw := os.Getenv("FLEETMAN_HEARTBEAT_INTERVAL"); raw != "" {
		seconds, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid FLEETMAN_HEARTBEAT_INTERVAL: %w", err)
		}
		cfg.HeartbeatInterval = time.Duration(seconds) * time.Second
	}

	return cfg, nil
}

// LoadHost reads the host configuration from environment variables.
func LoadHost() (*HostConfig, error) {
	broker, err := loadBroker()
	if err != nil {
		return nil, err
	}

	cfg := &HostConfig{
		Broker:        *broker,
		Port:          "8080",
		MigrationsDir: "migrations",
	}

	cfg.DatabaseURL = os.Getenv("FLEETMAN_DATABASE_URL")
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("FLEETMAN_DATABASE_URL is required")
	}

	if port := os.Getenv("FLEETMAN_HTTP_PORT"); port != "" {
		cfg.Port = port
	}
	if dir := os.Getenv("FLEETMAN_MIGRATIONS_DIR"); dir != "" {
		cfg.MigrationsDir = dir
	}
	cfg.CatalogPath = os.Getenv("FLEETMAN_CATALOG_PATH")
	cfg.AuthSecret = os.Getenv("FLEETMAN_AUTH_SECRET")

	return cfg, nil
}

func loadBroker() (*BrokerConfig, error) {
	cfg := &BrokerConfig{
		Port:        5672,
		VirtualHost: "/",
		Heartbeat:   30 * time.Second,
	}

	cfg.Host = os.Getenv("FLEETMAN_RABBITMQ_HOST")
	if cfg.Host == "" {
		return nil, fmt.Errorf("FLEETMAN_RABBITMQ_HOST is required")
	}

	cfg.Username = os.Getenv("FLEETMAN_RABBITMQ_USER")
	if cfg.Username == "" {
		return nil, fmt.Errorf("FLEETMAN_RABBITMQ_USER is required")
	}

	cfg.Password = os.Getenv("FLEETMAN_RABBITMQ_PASSWORD")
	if cfg.Password == "" {
		return nil, fmt.Errorf("FLEETMAN_RABBITMQ_PASSWORD is required")
	}

	if raw := os.Getenv("FLEETMAN_RABBITMQ_PORT"); raw != "" {
		port, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid FLEETMAN_RABBITMQ_PORT: %w", err)
		}
		cfg.Port = port
	}

	if vhost := os.Getenv("FLEETMAN_RABBITMQ_VHOST"); vhost != "" {
		cfg.VirtualHost = vhost
	}

	if raw := os.Getenv("FLEETMAN_RABBITMQ_ENABLE_TLS"); raw != "" {
		enabled, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid FLEETMAN_RABBITMQ_ENABLE_TLS: %w", err)
		}
		cfg.TLSEnabled = enabled
	}

	cfg.TLSHostname = os.Getenv("FLEETMAN_RABBITMQ_TLS_HOSTNAME")
	if cfg.TLSEnabled && cfg.TLSHostname == "" {
		return nil, fmt.Errorf("FLEETMAN_RABBITMQ_TLS_HOSTNAME is required when TLS is enabled")
	}

	if raw := os.Getenv("FLEETMAN_RABBITMQ_HEARTBEAT"); raw != "" {
		seconds, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid FLEETMAN_RABBITMQ_HEARTBEAT: %w", err)
		}
		cfg.Heartbeat = time.Duration(seconds) * time.Second
	}

	return cfg, nil
}
