package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/gsfleet/fleetman/internal/database"
)

func (h *Handlers) registerStatusRoutes(g *gin.RouterGroup) {
	g.GET("/worker/:id", h.workerStatus)
	g.GET("/instance/:id", h.instanceStatus)
}

func (h *Handlers) workerStatus(c *gin.Context) {
	workerID, ok := pathID(c)
	if !ok {
		return
	}

	status, err := h.store.LatestWorkerStatus(c.Request.Context(), workerID)
	if errors.Is(err, database.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "no status for worker"})
		return
	}
	if err != nil {
		h.logger.Error("failed to get worker status", zap.Int64("worker_id", workerID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get worker status"})
		return
	}
	c.JSON(http.StatusOK, status)
}

func (h *Handlers) instanceStatus(c *gin.Context) {
	instanceID, ok := pathID(c)
	if !ok {
		return
	}

	status, err := h.store.LatestInstanceStatus(c.Request.Context(), instanceID)
	if errors.Is(err, database.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "no status for instance"})
		return
	}
	if err != nil {
		h.logger.Error("failed to get instance status", zap.Int64("instance_id", instanceID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get instance status"})
		return
	}
	c.JSON(http.StatusOK, status)
}
