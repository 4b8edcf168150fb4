package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/jar-analysis/jar-analysis-go/internal/domain"
	"github.com/jar-analysis/jar-analysis-go/internal/queue"
	"github.com/jar-analysis/jar-analysis-go/internal/repository"
)

// duplicate-suppression window for watcher-triggered submissions
const recentTaskWindowSeconds = 60

// TaskService owns task lifecycle operations shared by the HTTP API and the
// file watcher.
type TaskService struct {
	taskRepo   repository.TaskRepository
	reportRepo repository.ReportRepository
	producer   *queue.Producer
	logger     *logrus.Logger
}

func NewTaskService(taskRepo repository.TaskRepository, reportRepo repository.ReportRepository, producer *queue.Producer, logger *logrus.Logger) *TaskService {
	return &TaskService{
		taskRepo:   taskRepo,
		reportRepo: reportRepo,
		producer:   producer,
		logger:     logger,
	}
}

// CreateTask registers a new archive for analysis and enqueues it.
// versionHint and mappingPath are optional overrides.
func (s *TaskService) CreateTask(ctx context.Context, jarName, versionHint, mappingPath string) (*domain.Task, error) {
	recent, err := s.taskRepo.HasRecentTaskForJAR(ctx, jarName, recentTaskWindowSeconds)
	if err != nil {
		return nil, fmt.Errorf("failed to check recent tasks: %w", err)
	}
	if recent {
		return nil, fmt.Errorf("a task for %s was created within the last minute", jarName)
	}

	task := &domain.Task{
		ID:          uuid.New().String(),
		JARName:     jarName,
		VersionHint: versionHint,
		MappingPath: mappingPath,
		Status:      domain.TaskStatusQueued,
		CurrentStep: "queued",
	}

	if err := s.taskRepo.Create(ctx, task); err != nil {
		return nil, fmt.Errorf("failed to create task: %w", err)
	}

	if err := s.producer.Publish(ctx, &queue.TaskMessage{TaskID: task.ID, JARName: jarName}); err != nil {
		// the startup republish pass will pick the task up later
		s.logger.WithError(err).WithField("task_id", task.ID).Error("Failed to enqueue task, it stays queued in the database")
	}

	s.logger.WithFields(logrus.Fields{
		"task_id":  task.ID,
		"jar_name": jarName,
	}).Info("Task created")

	return task, nil
}

func (s *TaskService) GetTask(ctx context.Context, id string) (*domain.Task, error) {
	return s.taskRepo.FindByID(ctx, id)
}

func (s *TaskService) ListTasks(ctx context.Context, page, pageSize int, status, search string) ([]*domain.Task, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 200 {
		pageSize = 20
	}
	return s.taskRepo.ListWithPagination(ctx, page, pageSize, status, search)
}

// StopTask requests cancellation. A queued task flips to cancelled directly;
// a running one stops at its next progress checkpoint.
func (s *TaskService) StopTask(ctx context.Context, id string) error {
	task, err := s.taskRepo.FindByID(ctx, id)
	if err != nil {
		return err
	}

	if err := s.taskRepo.MarkShouldStop(ctx, id); err != nil {
		return err
	}

	if task.Status == domain.TaskStatusQueued {
		return s.taskRepo.UpdateStatus(ctx, id, domain.TaskStatusCancelled)
	}
	return nil
}

func (s *TaskService) DeleteTask(ctx context.Context, id string) error {
	return s.taskRepo.Delete(ctx, id)
}

// Reanalyze resets a finished task and puts it back on the queue.
func (s *TaskService) Reanalyze(ctx context.Context, id string) error {
	task, err := s.taskRepo.FindByID(ctx, id)
	if err != nil {
		return err
	}

	switch task.Status {
	case domain.TaskStatusCompleted, domain.TaskStatusFailed, domain.TaskStatusCancelled:
	default:
		return fmt.Errorf("task %s is still %s, cannot reanalyze", id, task.Status)
	}

	if err := s.taskRepo.ResetForRetry(ctx, id); err != nil {
		return err
	}
	return s.producer.Publish(ctx, &queue.TaskMessage{TaskID: id, JARName: task.JARName})
}

func (s *TaskService) GetReport(ctx context.Context, taskID string) (*domain.TaskReport, error) {
	return s.reportRepo.FindByTaskID(ctx, taskID)
}

// SystemStats is the dashboard summary payload.
type SystemStats struct {
	StatusCounts map[string]int64 `json:"status_counts"`
	TotalTasks   int64            `json:"total_tasks"`
	QueueDepth   int              `json:"queue_depth"`
	GeneratedAt  time.Time        `json:"generated_at"`
}

func (s *TaskService) GetSystemStats(ctx context.Context) (*SystemStats, error) {
	counts, total, err := s.taskRepo.GetStatusCounts(ctx)
	if err != nil {
		return nil, err
	}

	depth, err := s.producer.GetQueueSize()
	if err != nil {
		s.logger.WithError(err).Warn("Failed to read queue depth")
		depth = -1
	}

	return &SystemStats{
		StatusCounts: counts,
		TotalTasks:   total,
		QueueDepth:   depth,
		GeneratedAt:  time.Now().UTC(),
	}, nil
}
