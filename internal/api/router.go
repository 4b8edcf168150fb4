package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/jar-analysis/jar-analysis-go/internal/api/handlers"
	"github.com/jar-analysis/jar-analysis-go/internal/config"
	"github.com/jar-analysis/jar-analysis-go/internal/middleware"
	"github.com/jar-analysis/jar-analysis-go/internal/queue"
	"github.com/jar-analysis/jar-analysis-go/internal/repository"
	"github.com/jar-analysis/jar-analysis-go/internal/service"
)

func SetupRouter(cfg *config.Config, logger *logrus.Logger, db *gorm.DB, producer *queue.Producer, progressHandler *handlers.ProgressHandler) *gin.Engine {
	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(logger))
	r.Use(CORSMiddleware())
	r.Use(middleware.PrometheusMiddleware())

	taskRepo := repository.NewTaskRepository(db, logger)
	reportRepo := repository.NewReportRepository(db, logger)
	taskService := service.NewTaskService(taskRepo, reportRepo, producer, logger)

	taskHandler := handlers.NewTaskHandler(taskService, logger)
	fileHandler := handlers.NewFileHandler(taskService, logger, cfg.ResultDir, cfg.JARDir)

	// live progress stream
	r.GET("/ws/progress", progressHandler.HandleWebSocket)
	r.GET("/ws/progress/:task_id", progressHandler.HandleWebSocket)

	// Prometheus scrape endpoint
	r.GET("/metrics", middleware.MetricsHandler())

	v1 := r.Group("/api")
	{
		v1.GET("/health", func(c *gin.Context) {
			dbOK := false
			if sqlDB, err := db.DB(); err == nil && sqlDB.Ping() == nil {
				dbOK = true
			}
			queueOK := producer.IsConnected()

			status := "ok"
			code := 200
			if !dbOK || !queueOK {
				status = "degraded"
				code = 503
			}
			c.JSON(code, gin.H{
				"status":   status,
				"version":  "1.0.0",
				"database": dbOK,
				"queue":    queueOK,
			})
		})

		v1.GET("/stats", taskHandler.GetSystemStats)

		v1.POST("/tasks", taskHandler.CreateTask)
		v1.GET("/tasks", taskHandler.ListTasks)
		v1.GET("/tasks/:id", taskHandler.GetTask)
		v1.DELETE("/tasks/:id", taskHandler.DeleteTask)
		v1.POST("/tasks/:id/stop", taskHandler.StopTask)
		v1.POST("/tasks/:id/reanalyze", taskHandler.ReanalyzeTask)

		v1.GET("/tasks/:id/report", taskHandler.GetReport)
		v1.GET("/tasks/:id/report/download", fileHandler.DownloadReport)
		v1.GET("/tasks/:id/sources", fileHandler.ListSourceFiles)
		v1.GET("/tasks/:id/sources/*path", fileHandler.GetSourceFile)

		v1.POST("/upload", fileHandler.UploadJAR)
		v1.POST("/upload/batch", fileHandler.UploadJARBatch)
	}

	return r
}

func LoggerMiddleware(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()

		c.Next()

		latency := time.Since(startTime)

		logger.WithFields(logrus.Fields{
			"status":  c.Writer.Status(),
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"latency": latency.Milliseconds(),
		}).Info("HTTP Request")
	}
}

func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
