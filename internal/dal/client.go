package dal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/gsfleet/fleetman/internal/models"
)

// Typed errors mapped from worker DAL status codes.
var (
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when shutting down a worker or instance that
	// was already closed.
	ErrConflict = errors.New("state conflict")
	// ErrGone is returned when heartbeating a worker that was already closed.
	ErrGone = errors.New("subject gone")
)

// Client communicates with the worker DAL API on the host.
type Client struct {
	httpClient *http.Client
	baseURL    string
	authToken  string
	logger     *zap.Logger
}

// NewClient creates a worker DAL client. The bearer token may be empty when
// the host runs without auth.
func NewClient(baseURL, authToken string, logger *zap.Logger) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		baseURL:   baseURL + "/workerdal",
		authToken: authToken,
		logger:    logger,
	}
}

// WorkerCreate creates a worker row and returns it.
func (c *Client) WorkerCreate(ctx context.Context) (*models.Worker, error) {
	var worker models.Worker
	if err := c.do(ctx, http.MethodPost, "/worker/create", nil, &worker); err != nil {
		return nil, err
	}
	return &worker, nil
}

// WorkerShutdown marks the worker ended. A repeat shutdown is ErrConflict.
func (c *Client) WorkerShutdown(ctx context.Context, workerID int64) (*models.Worker, error) {
	var worker models.Worker
	body := map[string]int64{"worker_id": workerID}
	if err := c.do(ctx, http.MethodPut, "/worker/shutdown", body, &worker); err != nil {
		return nil, err
	}
	return &worker, nil
}

// CloseOtherWorkers closes every other open worker; the host emits a
// synthetic COMPLETE on each closed worker's status topic.
func (c *Client) CloseOtherWorkers(ctx context.Context, workerID int64) error {
	body := map[string]int64{"worker_id": workerID}
	return c.do(ctx, http.MethodPut, "/worker/shutdown/other", body, nil)
}

// WorkerHeartbeat stamps the worker's last heartbeat. A closed worker is
// ErrGone.
func (c *Client) WorkerHeartbeat(ctx context.Context, workerID int64) (*models.Worker, error) {
	var worker models.Worker
	body := map[string]int64{"worker_id": workerID}
	if err := c.do(ctx, http.MethodPost, "/worker/heartbeat", body, &worker); err != nil {
		return nil, err
	}
	return &worker, nil
}

// InstanceCreate creates a game server instance row for this worker.
func (c *Client) InstanceCreate(ctx context.Context, gameServerConfigID, workerID int64) (*models.GameServerInstance, error) {
	var instance models.GameServerInstance
	body := map[string]int64{
		"game_server_config_id": gameServerConfigID,
		"worker_id":             workerID,
	}
	if err := c.do(ctx, http.MethodPost, "/server/instance/create", body, &instance); err != nil {
		return nil, err
	}
	return &instance, nil
}

// InstanceShutdown marks the instance ended. A repeat shutdown is ErrConflict.
func (c *Client) InstanceShutdown(ctx context.Context, instanceID int64) (*models.GameServerInstance, error) {
	var instance models.GameServerInstance
	body := map[string]int64{"game_server_instance_id": instanceID}
	if err := c.do(ctx, http.MethodPut, "/server/instance/shutdown", body, &instance); err != nil {
		return nil, err
	}
	return &instance, nil
}

// InstanceHeartbeat stamps the instance's last heartbeat.
func (c *Client) InstanceHeartbeat(ctx context.Context, instanceID int64) (*models.GameServerInstance, error) {
	var instance models.GameServerInstance
	path := fmt.Sprintf("/server/instance/heartbeat/%d", instanceID)
	if err := c.do(ctx, http.MethodPost, path, nil, &instance); err != nil {
		return nil, err
	}
	return &instance, nil
}

// GameServer fetches a catalog entry.
func (c *Client) GameServer(ctx context.Context, gameServerID int64) (*models.GameServer, error) {
	var server models.GameServer
	path := fmt.Sprintf("/server/%d", gameServerID)
	if err := c.do(ctx, http.MethodGet, path, nil, &server); err != nil {
		return nil, err
	}
	return &server, nil
}

// GameServerConfig fetches a launch configuration.
func (c *Client) GameServerConfig(ctx context.Context, configID int64) (*models.GameServerConfig, error) {
	var config models.GameServerConfig
	path := fmt.Sprintf("/server/config/%d", configID)
	if err := c.do(ctx, http.MethodGet, path, nil, &config); err != nil {
		return nil, err
	}
	return &config, nil
}

// do sends one request and decodes the JSON response into out when non-nil.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%s %s: %w", method, path, ErrNotFound)
	case resp.StatusCode == http.StatusConflict:
		return fmt.Errorf("%s %s: %w", method, path, ErrConflict)
	case resp.StatusCode == http.StatusGone:
		return fmt.Errorf("%s %s: %w", method, path, ErrGone)
	default:
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s %s: unexpected status code %d: %s", method, path, resp.StatusCode, detail)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}
