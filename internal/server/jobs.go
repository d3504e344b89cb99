package server

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/docextract/internal/common"
	"github.com/joseph-ayodele/docextract/internal/export"
	"github.com/joseph-ayodele/docextract/internal/repository"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// JobsHandler exposes recorded extract jobs.
type JobsHandler struct {
	jobs   repository.ExtractJobRepository
	export *export.Service
	logger *slog.Logger
}

func NewJobsHandler(jobs repository.ExtractJobRepository, exp *export.Service, logger *slog.Logger) *JobsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &JobsHandler{jobs: jobs, export: exp, logger: logger}
}

func limitParam(c *gin.Context) int {
	n, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || n <= 0 {
		return 50
	}
	return min(n, 1000)
}

func (h *JobsHandler) List(c *gin.Context) {
	jobs, err := h.jobs.List(c.Request.Context(), limitParam(c))
	if err != nil {
		h.logger.Error("jobs.list.failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list jobs"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": jobs})
}

func (h *JobsHandler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid job id"})
		return
	}
	job, err := h.jobs.Get(c.Request.Context(), id)
	if errors.Is(err, common.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	if err != nil {
		h.logger.Error("jobs.get.failed", "job_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load job"})
		return
	}
	c.JSON(http.StatusOK, job)
}

func (h *JobsHandler) ExportXLSX(c *gin.Context) {
	b, err := h.export.ExportJobsXLSX(c.Request.Context(), limitParam(c))
	if err != nil {
		h.logger.Error("jobs.export.failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to export jobs"})
		return
	}
	c.Header("Content-Disposition", `attachment; filename="extractions.xlsx"`)
	c.Data(http.StatusOK, xlsxContentType, b)
}
