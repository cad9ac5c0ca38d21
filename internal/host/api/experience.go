package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/gsfleet/fleetman/internal/database"
	"github.com/gsfleet/fleetman/internal/models"
)

// The experience API presents game servers as the thing operators interact
// with; workers and instances stay behind the curtain. Each action resolves
// the current worker and publishes a command onto its command topic.

func (h *Handlers) registerExperienceRoutes(g *gin.RouterGroup) {
	g.GET("/gameserver", h.listGameServers)
	g.POST("/gameserver/:id/start", h.startGameServer)
	g.POST("/gameserver/:id/stop", h.stopGameServer)
	g.POST("/gameserver/:id/stdin", h.stdinGameServer)
	g.GET("/gameserver/instances/active", h.activeInstances)
	g.GET("/worker/current", h.currentWorker)
	g.POST("/worker/shutdown", h.shutdownCurrentWorker)
}

// StdinCommandRequest carries the lines forwarded to a server's stdin.
type StdinCommandRequest struct {
	Commands []string `json:"commands" binding:"required,min=1"`
}

// ActiveInstancesResponse lists the current worker's live instances.
type ActiveInstancesResponse struct {
	GameServerInstances []models.GameServerInstance `json:"game_server_instances"`
}

func (h *Handlers) listGameServers(c *gin.Context) {
	configs, err := h.store.ListVisibleConfigs(c.Request.Context())
	if err != nil {
		h.logger.Error("failed to list configs", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list game servers"})
		return
	}
	if configs == nil {
		configs = []models.GameServerConfig{}
	}
	c.JSON(http.StatusOK, configs)
}

func (h *Handlers) startGameServer(c *gin.Context) {
	h.publishConfigCommand(c, "start", func(configID int64) models.Command {
		return models.Command{
			CommandType: models.CommandStart,
			CommandArgs: []string{strconv.FormatInt(configID, 10)},
		}
	})
}

func (h *Handlers) stopGameServer(c *gin.Context) {
	h.publishConfigCommand(c, "stop", func(configID int64) models.Command {
		return models.Command{
			CommandType: models.CommandStop,
			CommandArgs: []string{strconv.FormatInt(configID, 10)},
		}
	})
}

func (h *Handlers) stdinGameServer(c *gin.Context) {
	var req StdinCommandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	h.publishConfigCommand(c, "stdin", func(configID int64) models.Command {
		args := append([]string{strconv.FormatInt(configID, 10)}, req.Commands...)
		return models.Command{CommandType: models.CommandStdin, CommandArgs: args}
	})
}

// publishConfigCommand resolves the current worker and publishes the command
// built for the :id config onto the worker's command topic.
func (h *Handlers) publishConfigCommand(c *gin.Context, action string, build func(configID int64) models.Command) {
	configID, ok := pathID(c)
	if !ok {
		return
	}

	worker, ok := h.resolveCurrentWorker(c)
	if !ok {
		return
	}

	if err := h.fabric.PublishWorkerCommand(c.Request.Context(), worker.WorkerID, build(configID)); err != nil {
		h.logger.Error("failed to publish command",
			zap.String("action", action),
			zap.Int64("worker_id", worker.WorkerID),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to publish command"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "success",
		"message": fmt.Sprintf("%s command sent to worker %d", action, worker.WorkerID),
	})
}

func (h *Handlers) currentWorker(c *gin.Context) {
	worker, ok := h.resolveCurrentWorker(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, worker)
}

func (h *Handlers) shutdownCurrentWorker(c *gin.Context) {
	worker, ok := h.resolveCurrentWorker(c)
	if !ok {
		return
	}

	cmd := models.Command{CommandType: models.CommandStop, CommandArgs: []string{}}
	if err := h.fabric.PublishWorkerCommand(c.Request.Context(), worker.WorkerID, cmd); err != nil {
		h.logger.Error("failed to publish worker shutdown",
			zap.Int64("worker_id", worker.WorkerID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to publish command"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "success",
		"message": fmt.Sprintf("shutdown command sent to worker %d", worker.WorkerID),
	})
}

func (h *Handlers) activeInstances(c *gin.Context) {
	worker, ok := h.resolveCurrentWorker(c)
	if !ok {
		return
	}

	instances, err := h.store.ActiveInstancesForWorker(c.Request.Context(), worker.WorkerID)
	if err != nil {
		h.logger.Error("failed to list active instances", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list active instances"})
		return
	}
	if instances == nil {
		instances = []models.GameServerInstance{}
	}
	c.JSON(http.StatusOK, ActiveInstancesResponse{GameServerInstances: instances})
}

// resolveCurrentWorker answers 404 itself when no worker is open.
func (h *Handlers) resolveCurrentWorker(c *gin.Context) (*models.Worker, bool) {
	worker, err := h.store.GetCurrentWorker(c.Request.Context())
	if errors.Is(err, database.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "worker not found"})
		return nil, false
	}
	if err != nil {
		h.logger.Error("failed to resolve current worker", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to resolve current worker"})
		return nil, false
	}
	return worker, true
}
