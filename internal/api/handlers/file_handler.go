package handlers

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/jar-analysis/jar-analysis-go/internal/service"
)

// uploads larger than this are rejected outright
const maxUploadSize = int64(200 * 1024 * 1024)

// FileHandler serves uploaded archives and pipeline output files.
type FileHandler struct {
	taskService *service.TaskService
	logger      *logrus.Logger
	resultDir   string // per-task pipeline output
	jarDir      string // inbound archive directory watched for new work
}

func NewFileHandler(taskService *service.TaskService, logger *logrus.Logger, resultDir, jarDir string) *FileHandler {
	return &FileHandler{
		taskService: taskService,
		logger:      logger,
		resultDir:   resultDir,
		jarDir:      jarDir,
	}
}

// UploadJAR uploads a single archive into the inbound directory.
// POST /api/upload
func (h *FileHandler) UploadJAR(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		h.logger.WithError(err).Error("Failed to get uploaded file")
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "missing uploaded file",
		})
		return
	}

	filename := filepath.Base(file.Filename)
	if !strings.HasSuffix(strings.ToLower(filename), ".jar") {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "only .jar files are accepted",
		})
		return
	}

	if file.Size > maxUploadSize {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": fmt.Sprintf("file exceeds size limit (%dMB)", maxUploadSize/(1024*1024)),
		})
		return
	}

	if err := os.MkdirAll(h.jarDir, 0755); err != nil {
		h.logger.WithError(err).Error("Failed to create inbound directory")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "failed to create upload directory",
		})
		return
	}

	destPath := filepath.Join(h.jarDir, filename)
	if _, err := os.Stat(destPath); err == nil {
		c.JSON(http.StatusConflict, gin.H{
			"error":    "file already exists",
			"filename": filename,
		})
		return
	}

	written, err := h.saveUpload(file, destPath)
	if err != nil {
		h.logger.WithError(err).WithField("filename", filename).Error("Failed to save uploaded file")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "failed to save file",
		})
		return
	}

	h.logger.WithFields(logrus.Fields{
		"filename": filename,
		"size":     written,
		"path":     destPath,
	}).Info("JAR file uploaded")

	c.JSON(http.StatusOK, gin.H{
		"message":  "upload complete",
		"filename": filename,
		"size":     written,
	})
}

// UploadJARBatch uploads several archives at once.
// POST /api/upload/batch
func (h *FileHandler) UploadJARBatch(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "failed to parse multipart form",
		})
		return
	}

	files := form.File["files"]
	if len(files) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "no files selected",
		})
		return
	}
	if len(files) > 50 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": fmt.Sprintf("at most 50 files per batch, got %d", len(files)),
		})
		return
	}

	if err := os.MkdirAll(h.jarDir, 0755); err != nil {
		h.logger.WithError(err).Error("Failed to create inbound directory")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "failed to create upload directory",
		})
		return
	}

	type uploadResult struct {
		Filename string `json:"filename"`
		Size     int64  `json:"size"`
		Status   string `json:"status"` // success, error, skipped
		Error    string `json:"error,omitempty"`
	}

	results := make([]uploadResult, 0, len(files))
	successCount, errorCount, skippedCount := 0, 0, 0

	for _, file := range files {
		filename := filepath.Base(file.Filename)
		result := uploadResult{Filename: filename, Size: file.Size}

		if !strings.HasSuffix(strings.ToLower(filename), ".jar") {
			result.Status = "error"
			result.Error = "only .jar files are accepted"
			errorCount++
			results = append(results, result)
			continue
		}

		if file.Size > maxUploadSize {
			result.Status = "error"
			result.Error = "file exceeds size limit"
			errorCount++
			results = append(results, result)
			continue
		}

		destPath := filepath.Join(h.jarDir, filename)
		if _, err := os.Stat(destPath); err == nil {
			result.Status = "skipped"
			result.Error = "file already exists"
			skippedCount++
			results = append(results, result)
			continue
		}

		written, err := h.saveUpload(file, destPath)
		if err != nil {
			h.logger.WithError(err).WithField("filename", filename).Error("Failed to save uploaded file")
			result.Status = "error"
			result.Error = "failed to save file"
			errorCount++
			results = append(results, result)
			continue
		}

		result.Size = written
		result.Status = "success"
		successCount++
		results = append(results, result)
	}

	c.JSON(http.StatusOK, gin.H{
		"message":       fmt.Sprintf("batch upload finished: %d ok, %d failed, %d skipped", successCount, errorCount, skippedCount),
		"total":         len(files),
		"success_count": successCount,
		"error_count":   errorCount,
		"skipped_count": skippedCount,
		"results":       results,
	})
}

func (h *FileHandler) saveUpload(file *multipart.FileHeader, destPath string) (int64, error) {
	src, err := file.Open()
	if err != nil {
		return 0, err
	}
	defer src.Close()

	dst, err := os.Create(destPath)
	if err != nil {
		return 0, err
	}
	defer dst.Close()

	written, err := io.Copy(dst, src)
	if err != nil {
		os.Remove(destPath) // drop the partial file
		return 0, err
	}
	return written, nil
}

// DownloadReport serves the report.json written by the pipeline.
// GET /api/tasks/:id/report/download
func (h *FileHandler) DownloadReport(c *gin.Context) {
	taskID := c.Param("id")

	if _, err := h.taskService.GetTask(c.Request.Context(), taskID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "task not found",
		})
		return
	}

	filePath := filepath.Join(h.resultDir, taskID, "report.json")
	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "report file not found",
		})
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=report_%s.json", shortID(taskID)))
	c.Header("Content-Type", "application/json")
	c.File(filePath)
}

// GetSourceFile serves one decompiled source file.
// GET /api/tasks/:id/sources/*path
func (h *FileHandler) GetSourceFile(c *gin.Context) {
	taskID := c.Param("id")
	relPath := strings.TrimPrefix(c.Param("path"), "/")

	if _, err := h.taskService.GetTask(c.Request.Context(), taskID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "task not found",
		})
		return
	}

	sourcesDir := filepath.Join(h.resultDir, taskID, "sources")

	// keep traversal attempts inside the task's sources directory
	filePath := filepath.Join(sourcesDir, filepath.Clean("/"+relPath))
	if !strings.HasPrefix(filePath, sourcesDir+string(os.PathSeparator)) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "invalid path",
		})
		return
	}

	info, err := os.Stat(filePath)
	if err != nil || info.IsDir() {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "source file not found",
		})
		return
	}

	c.Header("Content-Type", "text/plain; charset=utf-8")
	c.File(filePath)
}

// ListSourceFiles lists the decompiled source tree of a task.
// GET /api/tasks/:id/sources
func (h *FileHandler) ListSourceFiles(c *gin.Context) {
	taskID := c.Param("id")

	if _, err := h.taskService.GetTask(c.Request.Context(), taskID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "task not found",
		})
		return
	}

	sourcesDir := filepath.Join(h.resultDir, taskID, "sources")

	var files []string
	err := filepath.WalkDir(sourcesDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			rel, relErr := filepath.Rel(sourcesDir, path)
			if relErr != nil {
				return relErr
			}
			files = append(files, filepath.ToSlash(rel))
		}
		return nil
	})
	if err != nil {
		if os.IsNotExist(err) {
			c.JSON(http.StatusOK, gin.H{"files": []string{}, "total": 0})
			return
		}
		h.logger.WithError(err).WithField("task_id", taskID).Error("Failed to list source files")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "failed to list source files",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"files": files,
		"total": len(files),
	})
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
