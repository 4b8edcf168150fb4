package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/jar-analysis/jar-analysis-go/internal/api"
	"github.com/jar-analysis/jar-analysis-go/internal/api/handlers"
	"github.com/jar-analysis/jar-analysis-go/internal/config"
	"github.com/jar-analysis/jar-analysis-go/internal/domain"
	"github.com/jar-analysis/jar-analysis-go/internal/metrics"
	"github.com/jar-analysis/jar-analysis-go/internal/pipeline"
	"github.com/jar-analysis/jar-analysis-go/internal/queue"
	"github.com/jar-analysis/jar-analysis-go/internal/repository"
	"github.com/jar-analysis/jar-analysis-go/internal/service"
	"github.com/jar-analysis/jar-analysis-go/internal/watcher"
	"github.com/jar-analysis/jar-analysis-go/internal/worker"
)

var (
	Version   = "1.0.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	// 1. Print version info
	fmt.Printf("JAR Analysis Platform\n")
	fmt.Printf("Version: %s\n", Version)
	fmt.Printf("Build Time: %s\n", BuildTime)
	fmt.Printf("Git Commit: %s\n\n", GitCommit)

	// 2. Load config
	configPath := "./configs/config.yaml"
	if len(os.Args) > 1 && os.Args[1] == "--config" && len(os.Args) > 2 {
		configPath = os.Args[2]
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 3. Init logging
	logger := config.InitLogger(&cfg.Log)
	logger.Infof("Starting JAR Analysis Platform %s", Version)
	logger.Infof("Config loaded from: %s", configPath)

	// 4. Init database
	db, err := repository.InitDB(&cfg.Database, logger)
	if err != nil {
		logger.Fatalf("Failed to init database: %v", err)
	}
	logger.Info("Database connected")

	taskRepo := repository.NewTaskRepository(db, logger)
	reportRepo := repository.NewReportRepository(db, logger)

	// tasks stranded mid-pipeline by a previous crash are failed up front
	if err := cleanupStuckTasks(taskRepo, logger); err != nil {
		logger.WithError(err).Warn("Failed to cleanup stuck tasks")
	}

	// 5. Init RabbitMQ
	// prefetch count matches worker concurrency for parallel consumption
	mqConfig := &queue.RabbitMQConfig{
		Host:     cfg.RabbitMQ.Host,
		Port:     cfg.RabbitMQ.Port,
		User:     cfg.RabbitMQ.User,
		Password: cfg.RabbitMQ.Password,
		VHost:    cfg.RabbitMQ.VHost,
	}
	workerCount := cfg.Worker.Concurrency
	if workerCount <= 0 {
		workerCount = 1
	}
	mq, err := queue.NewRabbitMQWithPrefetch(mqConfig, cfg.RabbitMQ.Queue, workerCount, logger)
	if err != nil {
		logger.Fatalf("Failed to init RabbitMQ: %v", err)
	}
	defer mq.Close()
	logger.WithField("prefetch_count", workerCount).Info("RabbitMQ connected")

	producer := queue.NewProducer(mq, logger)
	taskService := service.NewTaskService(taskRepo, reportRepo, producer, logger)

	// 6. Init the analysis pipeline
	if err := os.MkdirAll(cfg.ResultDir, 0755); err != nil {
		logger.Fatalf("Failed to create result directory: %v", err)
	}
	pl := pipeline.New(cfg, nil, logger)
	logger.WithFields(logrus.Fields{
		"result_dir": cfg.ResultDir,
		"backends":   cfg.Decompiler.Order,
	}).Info("Pipeline initialized")

	// 7. Start the progress websocket hub
	progressHandler := handlers.NewProgressHandler(logger)
	progressHandler.Start()
	logger.Info("Progress handler started")

	// 8. Init the orchestrator and worker pool
	taskTimeout := time.Duration(cfg.Decompiler.Timeout) * time.Second * time.Duration(len(cfg.Decompiler.Order)+1)
	orchestrator := worker.NewOrchestrator(taskRepo, reportRepo, pl, producer, progressHandler, taskTimeout, logger)

	workerPool := worker.NewPool(workerCount, cfg.Worker.QueueSize, orchestrator, logger)
	workerPool.Start(context.Background())
	defer workerPool.Stop()
	logger.Infof("Worker pool started with %d workers", workerCount)

	statsCtx, stopStats := context.WithCancel(context.Background())
	defer stopStats()
	go updateRuntimeStats(statsCtx, workerPool, db)

	// 9. Rebuild the queue from database state
	if err := republishQueuedTasks(taskRepo, mq, producer, logger); err != nil {
		logger.WithError(err).Warn("Failed to republish queued tasks")
	}

	// 10. Start the task consumer
	consumer := queue.NewConsumer(mq, createTaskHandler(workerPool, logger), workerCount, logger)
	if err := consumer.Start(context.Background()); err != nil {
		logger.Fatalf("Failed to start consumer: %v", err)
	}
	defer consumer.Stop()
	logger.Infof("Task consumer started with %d workers", workerCount)

	// 11. Start the inbound directory watcher
	fileWatcher, err := watcher.NewFileWatcher(cfg.JARDir, "*.jar", createFileHandler(taskService, logger), logger)
	if err != nil {
		logger.Fatalf("Failed to create file watcher: %v", err)
	}
	defer fileWatcher.Stop()

	if err := fileWatcher.Start(context.Background()); err != nil {
		logger.Fatalf("Failed to start file watcher: %v", err)
	}
	logger.Infof("File watcher started for directory: %s", cfg.JARDir)

	// 12. HTTP server
	router := api.SetupRouter(cfg, logger, db, producer, progressHandler)
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  10 * time.Minute, // large archive uploads
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Infof("HTTP server listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("HTTP server error: %v", err)
		}
	}()

	// 13. Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down gracefully...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Errorf("HTTP server shutdown error: %v", err)
	}

	sqlDB, _ := db.DB()
	sqlDB.Close()

	logger.Info("Server stopped")
}

// updateRuntimeStats refreshes the worker pool and DB pool gauges.
func updateRuntimeStats(ctx context.Context, workerPool *worker.Pool, db *gorm.DB) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics.WorkerQueueSize.Set(float64(workerPool.GetQueueSize()))
			if sqlDB, err := db.DB(); err == nil {
				stats := sqlDB.Stats()
				metrics.DBConnectionsOpen.Set(float64(stats.OpenConnections))
				metrics.DBConnectionsIdle.Set(float64(stats.Idle))
				metrics.DBConnectionsInUse.Set(float64(stats.InUse))
			}
		}
	}
}

// createTaskHandler bridges queue deliveries into the worker pool. Retries are
// handled inside the orchestrator (reset + re-publish), so a RetryableError
// here only needs logging.
func createTaskHandler(workerPool *worker.Pool, logger *logrus.Logger) queue.TaskHandler {
	return func(ctx context.Context, msg *queue.TaskMessage) error {
		logger.WithFields(logrus.Fields{
			"task_id":  msg.TaskID,
			"jar_name": msg.JARName,
		}).Info("Received task from queue, submitting to worker pool")

		task := &worker.Task{ID: msg.TaskID}

		if err := workerPool.SubmitAndWait(ctx, task); err != nil {
			if retryErr, ok := worker.IsRetryableError(err); ok {
				logger.WithFields(logrus.Fields{
					"task_id":     retryErr.TaskID,
					"retry_count": retryErr.RetryCount,
					"max_retry":   retryErr.MaxRetry,
				}).Warn("Task failed, retry already re-published")
				return nil
			}

			logger.WithError(err).WithField("task_id", msg.TaskID).Error("Task execution failed")
			return err
		}

		logger.WithField("task_id", msg.TaskID).Info("Task completed")
		return nil
	}
}

// createFileHandler turns a detected archive into a queued task.
func createFileHandler(taskService *service.TaskService, logger *logrus.Logger) watcher.FileHandler {
	return func(ctx context.Context, filePath string) error {
		fileName := filepath.Base(filePath)
		logger.WithFields(logrus.Fields{
			"file_path": filePath,
			"file_name": fileName,
		}).Info("New JAR file detected")

		task, err := taskService.CreateTask(ctx, fileName, "", "")
		if err != nil {
			return fmt.Errorf("failed to create task: %w", err)
		}

		logger.WithFields(logrus.Fields{
			"task_id":  task.ID,
			"jar_name": fileName,
		}).Info("Task created and queued")

		return nil
	}
}

// cleanupStuckTasks fails tasks left in an in-flight state by a previous
// service run. Queued tasks are preserved; republishQueuedTasks re-enqueues
// them.
func cleanupStuckTasks(taskRepo repository.TaskRepository, logger *logrus.Logger) error {
	ctx := context.Background()

	stuck, err := taskRepo.ListStuckTasks(ctx, 0)
	if err != nil {
		return fmt.Errorf("failed to query stuck tasks: %w", err)
	}

	if len(stuck) == 0 {
		logger.Info("No stuck tasks found")
		return nil
	}

	logger.Infof("Found %d stuck tasks, marking as failed...", len(stuck))

	for _, task := range stuck {
		if err := taskRepo.UpdateFailure(ctx, task.ID, domain.FailureTypeUnknown, "service restarted while task was running"); err != nil {
			logger.WithError(err).WithField("task_id", task.ID).Error("Failed to mark stuck task")
		}
	}

	logger.WithField("count", len(stuck)).Warn("Marked stuck tasks as failed (queued tasks preserved)")
	return nil
}

// republishQueuedTasks rebuilds the RabbitMQ queue from the database, which
// is the single source of truth after a restart.
func republishQueuedTasks(taskRepo repository.TaskRepository, mq *queue.RabbitMQ, producer *queue.Producer, logger *logrus.Logger) error {
	ctx := context.Background()

	logger.Info("Rebuilding queue from database...")

	purgedCount, err := mq.PurgeQueue()
	if err != nil {
		logger.WithError(err).Warn("Failed to purge queue, continuing with republish...")
	} else if purgedCount > 0 {
		logger.WithField("purged_count", purgedCount).Info("Cleared stale messages from queue")
	}

	queuedTasks, err := taskRepo.ListQueuedTasks(ctx)
	if err != nil {
		return fmt.Errorf("failed to query queued tasks: %w", err)
	}

	if len(queuedTasks) == 0 {
		logger.Info("No queued tasks found, queue is empty and clean")
		return nil
	}

	successCount := 0
	for _, task := range queuedTasks {
		msg := &queue.TaskMessage{
			TaskID:  task.ID,
			JARName: task.JARName,
		}
		if err := producer.Publish(ctx, msg); err != nil {
			logger.WithError(err).WithField("task_id", task.ID).Error("Failed to republish task")
			continue
		}
		successCount++
	}

	logger.WithFields(logrus.Fields{
		"total":   len(queuedTasks),
		"success": successCount,
		"failed":  len(queuedTasks) - successCount,
	}).Info("Queued tasks republished")

	return nil
}
