package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jar-analysis/jar-analysis-go/internal/domain"
	"github.com/jar-analysis/jar-analysis-go/internal/metrics"
	"github.com/jar-analysis/jar-analysis-go/internal/pipeline"
	"github.com/jar-analysis/jar-analysis-go/internal/repository"
)

// RetryableError signals that a task failed, was reset, and should be
// re-published to the queue.
type RetryableError struct {
	TaskID     string
	RetryCount int
	MaxRetry   int
	Cause      error
}

func (e *RetryableError) Error() string {
	return fmt.Sprintf("task %s failed (retry %d/%d): %v", e.TaskID, e.RetryCount, e.MaxRetry, e.Cause)
}

func (e *RetryableError) Unwrap() error { return e.Cause }

func IsRetryableError(err error) (*RetryableError, bool) {
	var retryErr *RetryableError
	if errors.As(err, &retryErr) {
		return retryErr, true
	}
	return nil, false
}

// TaskPublisher re-enqueues tasks for retry. Satisfied by the queue producer.
type TaskPublisher interface {
	PublishTask(ctx context.Context, taskID string) error
}

// ProgressNotifier pushes live task updates to connected clients.
type ProgressNotifier interface {
	NotifyProgress(taskID, step string, percent int)
	NotifyStatus(taskID string, status domain.TaskStatus)
}

// Orchestrator executes one task at a time: load, run the pipeline, persist
// the report and drive status, retry and notification side effects.
type Orchestrator struct {
	taskRepo    repository.TaskRepository
	reportRepo  repository.ReportRepository
	pipeline    *pipeline.Pipeline
	publisher   TaskPublisher
	notifier    ProgressNotifier
	taskTimeout time.Duration
	logger      *logrus.Logger
}

func NewOrchestrator(
	taskRepo repository.TaskRepository,
	reportRepo repository.ReportRepository,
	pl *pipeline.Pipeline,
	publisher TaskPublisher,
	notifier ProgressNotifier,
	taskTimeout time.Duration,
	logger *logrus.Logger,
) *Orchestrator {
	if taskTimeout <= 0 {
		taskTimeout = 30 * time.Minute
	}
	return &Orchestrator{
		taskRepo:    taskRepo,
		reportRepo:  reportRepo,
		pipeline:    pl,
		publisher:   publisher,
		notifier:    notifier,
		taskTimeout: taskTimeout,
		logger:      logger,
	}
}

func (o *Orchestrator) ExecuteTask(ctx context.Context, taskID string) error {
	start := time.Now()

	task, err := o.taskRepo.FindByID(ctx, taskID)
	if err != nil {
		return fmt.Errorf("failed to load task %s: %w", taskID, err)
	}

	if task.ShouldStop {
		o.logger.WithField("task_id", taskID).Info("Task was cancelled before execution")
		o.setStatus(ctx, taskID, domain.TaskStatusCancelled)
		return nil
	}

	if err := o.taskRepo.MarkStarted(ctx, taskID); err != nil {
		return fmt.Errorf("failed to mark task started: %w", err)
	}
	o.notifyStatus(taskID, domain.TaskStatusInspecting)

	metrics.TasksInProgress.Inc()
	defer metrics.TasksInProgress.Dec()

	runCtx, cancel := context.WithTimeout(ctx, o.taskTimeout)
	defer cancel()

	// cancellation is polled between progress updates, not mid-stage
	progress := func(step string, percent int) {
		if stop, err := o.taskRepo.ShouldStop(runCtx, taskID); err == nil && stop {
			cancel()
			return
		}
		if err := o.taskRepo.UpdateProgress(runCtx, taskID, step, percent); err != nil {
			o.logger.WithError(err).WithField("task_id", taskID).Warn("Failed to persist progress")
		}
		o.notifyProgress(taskID, step, percent)
		o.syncStatusForStep(runCtx, taskID, step)
	}

	result, runErr := o.pipeline.Run(runCtx, task, progress)

	if runErr != nil {
		if errors.Is(runCtx.Err(), context.Canceled) && ctx.Err() == nil {
			// cancel() fired from the ShouldStop poll
			o.logger.WithField("task_id", taskID).Info("Task cancelled mid-pipeline")
			o.setStatus(ctx, taskID, domain.TaskStatusCancelled)
			return nil
		}
		return o.failTask(ctx, task, runErr, start)
	}

	if err := o.reportRepo.Save(ctx, result.Report); err != nil {
		return o.failTask(ctx, task, fmt.Errorf("failed to persist report: %w", err), start)
	}

	if err := o.taskRepo.UpdateOutcome(ctx, taskID, result.Outcome, result.BackendUsed); err != nil {
		o.logger.WithError(err).WithField("task_id", taskID).Warn("Failed to persist outcome")
	}
	o.setStatus(ctx, taskID, domain.TaskStatusCompleted)

	metrics.TasksProcessed.WithLabelValues(string(result.Outcome)).Inc()
	metrics.TaskDuration.Observe(time.Since(start).Seconds())
	if result.BackendUsed != "" {
		metrics.DecompilerRuns.WithLabelValues(result.BackendUsed).Inc()
	}
	if result.Document != nil {
		for _, finding := range result.Document.Findings {
			metrics.FindingsDetected.WithLabelValues(string(finding.Category)).Inc()
		}
	}

	o.logger.WithFields(logrus.Fields{
		"task_id":  taskID,
		"outcome":  result.Outcome,
		"backend":  result.BackendUsed,
		"findings": result.Report.FindingCount,
		"duration": time.Since(start),
	}).Info("Task pipeline finished")

	return nil
}

// failTask records the failure and, when the failure type allows, resets the
// task and re-publishes it.
func (o *Orchestrator) failTask(ctx context.Context, task *domain.Task, cause error, start time.Time) error {
	failureType := pipeline.ClassifyFailure(cause)
	metrics.TasksProcessed.WithLabelValues("failure").Inc()
	metrics.TaskFailures.WithLabelValues(string(failureType)).Inc()
	metrics.TaskDuration.Observe(time.Since(start).Seconds())

	maxRetry := failureType.GetMaxRetryCount()
	if failureType.CanRetry() && task.RetryCount < maxRetry && o.publisher != nil {
		newCount, err := o.taskRepo.IncrementRetryCount(ctx, task.ID)
		if err != nil {
			o.logger.WithError(err).WithField("task_id", task.ID).Error("Failed to increment retry count")
			newCount = task.RetryCount + 1
		}
		if err := o.taskRepo.ResetForRetry(ctx, task.ID); err != nil {
			o.logger.WithError(err).WithField("task_id", task.ID).Error("Failed to reset task for retry")
		}
		if err := o.publisher.PublishTask(ctx, task.ID); err != nil {
			o.logger.WithError(err).WithField("task_id", task.ID).Error("Failed to re-publish task for retry")
			// fall through to a hard failure, the task would otherwise hang
		} else {
			return &RetryableError{
				TaskID:     task.ID,
				RetryCount: newCount,
				MaxRetry:   maxRetry,
				Cause:      cause,
			}
		}
	}

	if err := o.taskRepo.UpdateFailure(ctx, task.ID, failureType, cause.Error()); err != nil {
		o.logger.WithError(err).WithField("task_id", task.ID).Error("Failed to persist task failure")
	}
	o.notifyStatus(task.ID, domain.TaskStatusFailed)

	return fmt.Errorf("task %s failed: %w", task.ID, cause)
}

// syncStatusForStep keeps the coarse task status in step with pipeline
// progress so list views show what a task is doing.
func (o *Orchestrator) syncStatusForStep(ctx context.Context, taskID, step string) {
	var status domain.TaskStatus
	switch step {
	case "decompiling":
		status = domain.TaskStatusDecompiling
	case "analyzing":
		status = domain.TaskStatusAnalyzing
	default:
		return
	}
	if err := o.taskRepo.UpdateStatus(ctx, taskID, status); err != nil {
		o.logger.WithError(err).WithField("task_id", taskID).Warn("Failed to sync task status")
	}
	o.notifyStatus(taskID, status)
}

func (o *Orchestrator) setStatus(ctx context.Context, taskID string, status domain.TaskStatus) {
	if err := o.taskRepo.UpdateStatus(ctx, taskID, status); err != nil {
		o.logger.WithError(err).WithField("task_id", taskID).Warn("Failed to update task status")
	}
	o.notifyStatus(taskID, status)
}

func (o *Orchestrator) notifyProgress(taskID, step string, percent int) {
	if o.notifier != nil {
		o.notifier.NotifyProgress(taskID, step, percent)
	}
}

func (o *Orchestrator) notifyStatus(taskID string, status domain.TaskStatus) {
	if o.notifier != nil {
		o.notifier.NotifyStatus(taskID, status)
	}
}
