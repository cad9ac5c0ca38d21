package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/gsfleet/fleetman/internal/database"
	"github.com/gsfleet/fleetman/internal/models"
)

func (h *Handlers) registerWorkerDALRoutes(g *gin.RouterGroup) {
	g.POST("/worker/create", h.workerCreate)
	g.PUT("/worker/shutdown", h.workerShutdown)
	g.PUT("/worker/shutdown/other", h.workerShutdownOther)
	g.POST("/worker/heartbeat", h.workerHeartbeat)

	g.POST("/server/instance/create", h.instanceCreate)
	g.PUT("/server/instance/shutdown", h.instanceShutdown)
	g.POST("/server/instance/heartbeat/:id", h.instanceHeartbeat)
	g.GET("/server/instance/:id", h.instanceGet)
	g.GET("/server/config/:id", h.configGet)
	g.POST("/server/config/create", h.configCreate)
	g.GET("/server/:id", h.gameServerGet)
}

// WorkerRef addresses one worker row.
type WorkerRef struct {
	WorkerID int64 `json:"worker_id" binding:"required"`
}

// InstanceCreateRequest creates an instance for a worker.
type InstanceCreateRequest struct {
	GameServerConfigID int64 `json:"game_server_config_id" binding:"required"`
	WorkerID           int64 `json:"worker_id" binding:"required"`
}

// InstanceRef addresses one instance row.
type InstanceRef struct {
	GameServerInstanceID int64 `json:"game_server_instance_id" binding:"required"`
}

// ConfigCreateRequest creates a launch configuration. Env var entries must
// be K=V pairs.
type ConfigCreateRequest struct {
	GameServerID int64    `json:"game_server_id" binding:"required"`
	Name         string   `json:"name" binding:"required,min=1,max=64"`
	IsDefault    bool     `json:"is_default"`
	IsVisible    bool     `json:"is_visible"`
	Executable   string   `json:"executable" binding:"required"`
	Args         []string `json:"args"`
	EnvVar       []string `json:"env_var" binding:"omitempty,dive,kvpair"`
}

func (h *Handlers) workerCreate(c *gin.Context) {
	worker, err := h.store.CreateWorker(c.Request.Context())
	if err != nil {
		h.logger.Error("failed to create worker", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create worker"})
		return
	}
	c.JSON(http.StatusOK, worker)
}

func (h *Handlers) workerShutdown(c *gin.Context) {
	var req WorkerRef
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	worker, err := h.store.ShutdownWorker(c.Request.Context(), req.WorkerID)
	switch {
	case errors.Is(err, database.ErrWorkerAlreadyClosed):
		c.JSON(http.StatusConflict, gin.H{
			"error": fmt.Sprintf("worker %d was already closed on %s, shutdown rejected",
				req.WorkerID, worker.EndedAt.Format("2006-01-02T15:04:05Z07:00")),
		})
		return
	case errors.Is(err, database.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "worker not found"})
		return
	case err != nil:
		h.logger.Error("failed to shut down worker", zap.Int64("worker_id", req.WorkerID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to shut down worker"})
		return
	}
	c.JSON(http.StatusOK, worker)
}

// workerShutdownOther closes every other open worker and emits a synthetic
// COMPLETE on each closed worker's status topic so subscribers converge.
func (h *Handlers) workerShutdownOther(c *gin.Context) {
	var req WorkerRef
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	closed, err := h.store.CloseOtherWorkers(c.Request.Context(), req.WorkerID)
	if err != nil {
		h.logger.Error("failed to close other workers", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to close other workers"})
		return
	}

	for _, worker := range closed {
		h.logger.Warn("worker closed by newer worker", zap.Int64("worker_id", worker.WorkerID))
		if err := h.fabric.PublishWorkerStatus(c.Request.Context(), worker.WorkerID, models.StatusComplete); err != nil {
			h.logger.Error("failed to publish synthetic COMPLETE",
				zap.Int64("worker_id", worker.WorkerID), zap.Error(err))
		}
	}

	c.JSON(http.StatusOK, gin.H{"closed": len(closed)})
}

func (h *Handlers) workerHeartbeat(c *gin.Context) {
	var req WorkerRef
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	worker, err := h.store.UpdateWorkerHeartbeat(c.Request.Context(), req.WorkerID)
	switch {
	case errors.Is(err, database.ErrWorkerAlreadyClosed):
		c.JSON(http.StatusGone, gin.H{
			"error": fmt.Sprintf("worker %d was already closed, heartbeat rejected", req.WorkerID),
		})
		return
	case errors.Is(err, database.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "worker not found"})
		return
	case err != nil:
		h.logger.Error("failed to update heartbeat", zap.Int64("worker_id", req.WorkerID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update heartbeat"})
		return
	}
	c.JSON(http.StatusOK, worker)
}

func (h *Handlers) instanceCreate(c *gin.Context) {
	var req InstanceCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	instance, err := h.store.CreateInstance(c.Request.Context(), req.GameServerConfigID, req.WorkerID)
	if err != nil {
		h.logger.Error("failed to create instance", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create instance"})
		return
	}
	c.JSON(http.StatusOK, instance)
}

func (h *Handlers) instanceShutdown(c *gin.Context) {
	var req InstanceRef
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	instance, err := h.store.ShutdownInstance(c.Request.Context(), req.GameServerInstanceID)
	switch {
	case errors.Is(err, database.ErrInstanceAlreadyClosed):
		c.JSON(http.StatusConflict, gin.H{
			"error": fmt.Sprintf("game server instance %d was already closed, shutdown rejected", req.GameServerInstanceID),
		})
		return
	case errors.Is(err, database.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "instance not found"})
		return
	case err != nil:
		h.logger.Error("failed to shut down instance",
			zap.Int64("instance_id", req.GameServerInstanceID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to shut down instance"})
		return
	}
	c.JSON(http.StatusOK, instance)
}

func (h *Handlers) instanceHeartbeat(c *gin.Context) {
	instanceID, ok := pathID(c)
	if !ok {
		return
	}

	instance, err := h.store.UpdateInstanceHeartbeat(c.Request.Context(), instanceID)
	switch {
	case errors.Is(err, database.ErrInstanceAlreadyClosed):
		c.JSON(http.StatusGone, gin.H{"error": "instance already closed"})
		return
	case errors.Is(err, database.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "instance not found"})
		return
	case err != nil:
		h.logger.Error("failed to update instance heartbeat", zap.Int64("instance_id", instanceID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update heartbeat"})
		return
	}
	c.JSON(http.StatusOK, instance)
}

func (h *Handlers) instanceGet(c *gin.Context) {
	instanceID, ok := pathID(c)
	if !ok {
		return
	}

	instance, err := h.store.GetInstanceByID(c.Request.Context(), instanceID)
	if errors.Is(err, database.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "instance not found"})
		return
	}
	if err != nil {
		h.logger.Error("failed to get instance", zap.Int64("instance_id", instanceID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get instance"})
		return
	}
	c.JSON(http.StatusOK, instance)
}

func (h *Handlers) configGet(c *gin.Context) {
	configID, ok := pathID(c)
	if !ok {
		return
	}

	config, err := h.store.GetGameServerConfigByID(c.Request.Context(), configID)
	if errors.Is(err, database.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "config not found"})
		return
	}
	if err != nil {
		h.logger.Error("failed to get config", zap.Int64("config_id", configID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get config"})
		return
	}
	c.JSON(http.StatusOK, config)
}

func (h *Handlers) configCreate(c *gin.Context) {
	var req ConfigCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	config, err := h.store.CreateGameServerConfig(c.Request.Context(), &models.GameServerConfig{
		GameServerID: req.GameServerID,
		Name:         req.Name,
		IsDefault:    req.IsDefault,
		IsVisible:    req.IsVisible,
		Executable:   req.Executable,
		Args:         req.Args,
		EnvVar:       req.EnvVar,
	})
	if err != nil {
		h.logger.Error("failed to create config", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create config"})
		return
	}
	c.JSON(http.StatusOK, config)
}

func (h *Handlers) gameServerGet(c *gin.Context) {
	gameServerID, ok := pathID(c)
	if !ok {
		return
	}

	server, err := h.store.GetGameServerByID(c.Request.Context(), gameServerID)
	if errors.Is(err, database.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "server not found"})
		return
	}
	if err != nil {
		h.logger.Error("failed to get game server", zap.Int64("game_server_id", gameServerID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get game server"})
		return
	}
	c.JSON(http.StatusOK, server)
}

// pathID parses the :id path parameter, answering 400 itself on failure.
func pathID(c *gin.Context) (int64, bool) {
	raw := strings.TrimSpace(c.Param("id"))
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return id, true
}
