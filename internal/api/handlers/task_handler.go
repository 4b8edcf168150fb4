package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/jar-analysis/jar-analysis-go/internal/domain"
	"github.com/jar-analysis/jar-analysis-go/internal/service"
)

type TaskHandler struct {
	taskService *service.TaskService
	logger      *logrus.Logger
}

func NewTaskHandler(taskService *service.TaskService, logger *logrus.Logger) *TaskHandler {
	return &TaskHandler{
		taskService: taskService,
		logger:      logger,
	}
}

// CreateTask submits a previously uploaded archive for analysis.
// POST /api/tasks
func (h *TaskHandler) CreateTask(c *gin.Context) {
	var req struct {
		JARName     string `json:"jar_name" binding:"required"`
		VersionHint string `json:"version_hint"`
		MappingPath string `json:"mapping_path"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "jar_name is required",
		})
		return
	}

	task, err := h.taskService.CreateTask(c.Request.Context(), req.JARName, req.VersionHint, req.MappingPath)
	if err != nil {
		h.logger.WithError(err).WithField("jar_name", req.JARName).Error("Failed to create task")
		c.JSON(http.StatusConflict, gin.H{
			"error": err.Error(),
		})
		return
	}

	c.JSON(http.StatusCreated, h.taskToResponse(task))
}

// ListTasks returns the task list with pagination.
// GET /api/tasks?page=1&page_size=20&status=completed&search=keyword
func (h *TaskHandler) ListTasks(c *gin.Context) {
	page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil || page <= 0 {
		page = 1
	}

	pageSize, err := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	if err != nil || pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}

	statusFilter := c.Query("status")
	search := c.Query("search")

	tasks, total, err := h.taskService.ListTasks(c.Request.Context(), page, pageSize, statusFilter, search)
	if err != nil {
		h.logger.WithError(err).Error("Failed to list tasks")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "failed to list tasks",
		})
		return
	}

	taskList := make([]map[string]interface{}, len(tasks))
	for i, task := range tasks {
		taskList[i] = h.taskToResponse(task)
	}

	totalPages := (total + int64(pageSize) - 1) / int64(pageSize)

	c.JSON(http.StatusOK, gin.H{
		"tasks":       taskList,
		"total":       total,
		"page":        page,
		"page_size":   pageSize,
		"total_pages": totalPages,
	})
}

// GetTask returns one task with its report summary.
// GET /api/tasks/:id
func (h *TaskHandler) GetTask(c *gin.Context) {
	taskID := c.Param("id")

	task, err := h.taskService.GetTask(c.Request.Context(), taskID)
	if err != nil {
		h.logger.WithError(err).WithField("task_id", taskID).Error("Failed to get task")
		c.JSON(http.StatusNotFound, gin.H{
			"error": "task not found",
		})
		return
	}

	c.JSON(http.StatusOK, h.taskToResponse(task))
}

// DeleteTask removes a task and its report.
// DELETE /api/tasks/:id
func (h *TaskHandler) DeleteTask(c *gin.Context) {
	taskID := c.Param("id")

	if err := h.taskService.DeleteTask(c.Request.Context(), taskID); err != nil {
		h.logger.WithError(err).WithField("task_id", taskID).Error("Failed to delete task")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "failed to delete task",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "task deleted",
	})
}

// StopTask requests cancellation of a queued or running task.
// POST /api/tasks/:id/stop
func (h *TaskHandler) StopTask(c *gin.Context) {
	taskID := c.Param("id")

	if err := h.taskService.StopTask(c.Request.Context(), taskID); err != nil {
		h.logger.WithError(err).WithField("task_id", taskID).Error("Failed to stop task")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "failed to stop task",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "task marked for stop",
	})
}

// ReanalyzeTask puts a finished task back on the queue.
// POST /api/tasks/:id/reanalyze
func (h *TaskHandler) ReanalyzeTask(c *gin.Context) {
	taskID := c.Param("id")

	if err := h.taskService.Reanalyze(c.Request.Context(), taskID); err != nil {
		h.logger.WithError(err).WithField("task_id", taskID).Error("Failed to reanalyze task")
		c.JSON(http.StatusBadRequest, gin.H{
			"error": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "task requeued",
	})
}

// GetReport returns the full analysis report document for a task.
// GET /api/tasks/:id/report
func (h *TaskHandler) GetReport(c *gin.Context) {
	taskID := c.Param("id")

	report, err := h.taskService.GetReport(c.Request.Context(), taskID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "report not found",
		})
		return
	}

	// ReportJSON holds the full document; the row columns are just summaries
	var document map[string]interface{}
	if report.ReportJSON != "" {
		if err := json.Unmarshal([]byte(report.ReportJSON), &document); err != nil {
			h.logger.WithError(err).WithField("task_id", taskID).Warn("Failed to parse stored report document")
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"task_id":               report.TaskID,
		"archive_name":          report.ArchiveName,
		"finding_count":         report.FindingCount,
		"high_severity_count":   report.HighSeverityCount,
		"class_count":           report.ClassCount,
		"resource_count":        report.ResourceCount,
		"gui_class_count":       report.GUIClassCount,
		"network_class_count":   report.NetworkClassCount,
		"data_class_count":      report.DataClassCount,
		"backend_used":          report.BackendUsed,
		"version_hint":          report.VersionHint,
		"decompile_duration_ms": report.DecompileDurationMs,
		"analysis_duration_ms":  report.AnalysisDurationMs,
		"document":              document,
		"analyzed_at":           report.AnalyzedAt,
		"created_at":            report.CreatedAt,
	})
}

// GetSystemStats returns the dashboard summary.
// GET /api/stats
func (h *TaskHandler) GetSystemStats(c *gin.Context) {
	stats, err := h.taskService.GetSystemStats(c.Request.Context())
	if err != nil {
		h.logger.WithError(err).Error("Failed to get system stats")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get stats"})
		return
	}

	c.JSON(http.StatusOK, stats)
}

func (h *TaskHandler) taskToResponse(task *domain.Task) map[string]interface{} {
	response := map[string]interface{}{
		"id":               task.ID,
		"jar_name":         task.JARName,
		"mod_name":         task.ModName,
		"version_hint":     task.VersionHint,
		"status":           task.Status,
		"outcome":          task.Outcome,
		"current_step":     task.CurrentStep,
		"progress_percent": task.ProgressPercent,
		"error_message":    task.ErrorMessage,
		"retry_count":      task.RetryCount,
		"should_stop":      task.ShouldStop,
		"failure_type":     task.FailureType,
		"backend_used":     task.BackendUsed,
		"created_at":       task.CreatedAt,
		"started_at":       task.StartedAt,
		"completed_at":     task.CompletedAt,
	}

	if task.FailureType != "" {
		response["failure_type_display"] = task.FailureType.GetDisplayName()
		response["failure_severity"] = task.FailureType.GetSeverity()
	}

	if task.Report != nil {
		response["report"] = map[string]interface{}{
			"finding_count":       task.Report.FindingCount,
			"high_severity_count": task.Report.HighSeverityCount,
			"class_count":         task.Report.ClassCount,
			"backend_used":        task.Report.BackendUsed,
			"version_hint":        task.Report.VersionHint,
		}
	}

	return response
}
