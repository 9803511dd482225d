package handlers

import (
	"errors"
	"net/http"

	"stockcart-backend/jobs"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type JobsHandler struct {
	Scheduler *jobs.Scheduler
	Logger    *zap.Logger
}

func (h *JobsHandler) ListRuns(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"jobs": h.Scheduler.Names(),
		"runs": h.Scheduler.Runs(),
	})
}

// RunJob triggers a job immediately and waits for it to finish.
func (h *JobsHandler) RunJob(c *gin.Context) {
	run, err := h.Scheduler.RunOnce(c.Request.Context(), c.Param("name"))
	switch {
	case errors.Is(err, jobs.ErrUnknownJob):
		c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
	case errors.Is(err, jobs.ErrJobRunning):
		c.JSON(http.StatusConflict, gin.H{"error": "Job is already running"})
	case err != nil:
		h.Logger.Error("Manual job run failed", zap.String("job", c.Param("name")), zap.Error(err))
		c.JSON(http.StatusInternalServerError, run)
	default:
		c.JSON(http.StatusOK, run)
	}
}
