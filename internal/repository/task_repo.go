package repository

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/jar-analysis/jar-analysis-go/internal/domain"
)

type TaskRepository interface {
	Create(ctx context.Context, task *domain.Task) error
	FindByID(ctx context.Context, id string) (*domain.Task, error)
	ListWithPagination(ctx context.Context, page, pageSize int, statusFilter, search string) ([]*domain.Task, int64, error)
	Delete(ctx context.Context, id string) error
	UpdateStatus(ctx context.Context, id string, status domain.TaskStatus) error
	UpdateProgress(ctx context.Context, id string, step string, percent int) error
	UpdateOutcome(ctx context.Context, id string, outcome domain.PipelineOutcome, backendUsed string) error
	UpdateFailure(ctx context.Context, id string, failureType domain.FailureType, errorMessage string) error
	MarkStarted(ctx context.Context, id string) error
	ShouldStop(ctx context.Context, id string) (bool, error)
	MarkShouldStop(ctx context.Context, id string) error
	IncrementRetryCount(ctx context.Context, id string) (int, error)
	ResetForRetry(ctx context.Context, id string) error
	HasRecentTaskForJAR(ctx context.Context, jarName string, withinSeconds int) (bool, error)
	GetStatusCounts(ctx context.Context) (map[string]int64, int64, error)
	ListQueuedTasks(ctx context.Context) ([]*domain.Task, error)
	ListStuckTasks(ctx context.Context, olderThan time.Duration) ([]*domain.Task, error)
}

type taskRepo struct {
	db     *gorm.DB
	logger *logrus.Logger
}

func NewTaskRepository(db *gorm.DB, logger *logrus.Logger) TaskRepository {
	return &taskRepo{db: db, logger: logger}
}

func (r *taskRepo) Create(ctx context.Context, task *domain.Task) error {
	task.CreatedAt = time.Now().UTC()
	return r.db.WithContext(ctx).Create(task).Error
}

func (r *taskRepo) FindByID(ctx context.Context, id string) (*domain.Task, error) {
	var task domain.Task
	err := r.db.WithContext(ctx).
		Preload("Report").
		First(&task, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &task, nil
}

func (r *taskRepo) ListWithPagination(ctx context.Context, page, pageSize int, statusFilter, search string) ([]*domain.Task, int64, error) {
	var tasks []*domain.Task
	var total int64

	build := func() *gorm.DB {
		q := r.db.WithContext(ctx).Model(&domain.Task{})
		if statusFilter != "" {
			q = q.Where("status = ?", statusFilter)
		}
		if search != "" {
			pattern := "%" + search + "%"
			q = q.Where("jar_name LIKE ? OR mod_name LIKE ?", pattern, pattern)
		}
		return q
	}

	if err := build().Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * pageSize
	err := build().
		Preload("Report", func(db *gorm.DB) *gorm.DB {
			// list view only needs the summary columns, not the report JSON
			return db.Select("id", "task_id", "class_count", "finding_count",
				"high_severity_count", "version_hint", "backend_used")
		}).
		Order("created_at DESC").
		Offset(offset).
		Limit(pageSize).
		Find(&tasks).Error

	return tasks, total, err
}

func (r *taskRepo) Delete(ctx context.Context, id string) error {
	tx := r.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return tx.Error
	}

	if err := tx.Exec("DELETE FROM task_reports WHERE task_id = ?", id).Error; err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Exec("DELETE FROM jar_tasks WHERE id = ?", id).Error; err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit().Error
}

func (r *taskRepo) UpdateStatus(ctx context.Context, id string, status domain.TaskStatus) error {
	updates := map[string]interface{}{
		"status": status,
	}
	if status == domain.TaskStatusCompleted || status == domain.TaskStatusFailed || status == domain.TaskStatusCancelled {
		now := time.Now().UTC()
		updates["completed_at"] = &now
	}

	return r.db.WithContext(ctx).
		Model(&domain.Task{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *taskRepo) UpdateProgress(ctx context.Context, id string, step string, percent int) error {
	return r.db.WithContext(ctx).
		Model(&domain.Task{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"current_step":     step,
			"progress_percent": percent,
		}).Error
}

func (r *taskRepo) UpdateOutcome(ctx context.Context, id string, outcome domain.PipelineOutcome, backendUsed string) error {
	return r.db.WithContext(ctx).
		Model(&domain.Task{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"outcome":      outcome,
			"backend_used": backendUsed,
		}).Error
}

func (r *taskRepo) UpdateFailure(ctx context.Context, id string, failureType domain.FailureType, errorMessage string) error {
	now := time.Now().UTC()
	result := r.db.WithContext(ctx).
		Model(&domain.Task{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":        domain.TaskStatusFailed,
			"outcome":       domain.OutcomeFailure,
			"failure_type":  failureType,
			"error_message": errorMessage,
			"completed_at":  &now,
		})

	if result.Error != nil {
		r.logger.WithError(result.Error).WithFields(logrus.Fields{
			"task_id":      id,
			"failure_type": failureType,
		}).Error("Failed to update task failure")
		return result.Error
	}

	r.logger.WithFields(logrus.Fields{
		"task_id":          id,
		"failure_type":     failureType,
		"failure_severity": failureType.GetSeverity(),
	}).Warn("Task marked as failed")

	return nil
}

func (r *taskRepo) MarkStarted(ctx context.Context, id string) error {
	now := time.Now().UTC()
	return r.db.WithContext(ctx).
		Model(&domain.Task{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     domain.TaskStatusInspecting,
			"started_at": &now,
		}).Error
}

func (r *taskRepo) ShouldStop(ctx context.Context, id string) (bool, error) {
	var task domain.Task
	err := r.db.WithContext(ctx).
		Select("should_stop").
		First(&task, "id = ?", id).Error
	if err != nil {
		return false, err
	}
	return task.ShouldStop, nil
}

func (r *taskRepo) MarkShouldStop(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).
		Model(&domain.Task{}).
		Where("id = ?", id).
		Update("should_stop", true).Error
}

func (r *taskRepo) IncrementRetryCount(ctx context.Context, id string) (int, error) {
	result := r.db.WithContext(ctx).
		Model(&domain.Task{}).
		Where("id = ?", id).
		UpdateColumn("retry_count", gorm.Expr("retry_count + 1"))
	if result.Error != nil {
		return 0, result.Error
	}

	var task domain.Task
	if err := r.db.WithContext(ctx).Select("retry_count").First(&task, "id = ?", id).Error; err != nil {
		return 0, err
	}
	return task.RetryCount, nil
}

// ResetForRetry moves a failed task back to queued, keeping the retry count.
func (r *taskRepo) ResetForRetry(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).
		Model(&domain.Task{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":           domain.TaskStatusQueued,
			"outcome":          "",
			"failure_type":     "",
			"error_message":    "",
			"current_step":     "waiting for retry",
			"progress_percent": 0,
			"started_at":       nil,
			"completed_at":     nil,
		}).Error
}

// HasRecentTaskForJAR guards against duplicate tasks when the file watcher
// fires multiple events for one slow copy.
func (r *taskRepo) HasRecentTaskForJAR(ctx context.Context, jarName string, withinSeconds int) (bool, error) {
	var count int64
	cutoff := time.Now().UTC().Add(-time.Duration(withinSeconds) * time.Second)

	err := r.db.WithContext(ctx).
		Model(&domain.Task{}).
		Where("jar_name = ? AND created_at > ?", jarName, cutoff).
		Count(&count).Error
	if err != nil {
		return false, err
	}

	if count > 0 {
		r.logger.WithFields(logrus.Fields{
			"jar_name":       jarName,
			"recent_count":   count,
			"within_seconds": withinSeconds,
		}).Warn("Found recent task for same jar, skipping duplicate creation")
	}
	return count > 0, nil
}

func (r *taskRepo) GetStatusCounts(ctx context.Context) (map[string]int64, int64, error) {
	type statusCount struct {
		Status string
		Count  int64
	}

	var results []statusCount
	err := r.db.WithContext(ctx).
		Model(&domain.Task{}).
		Select("status, COUNT(*) as count").
		Group("status").
		Scan(&results).Error
	if err != nil {
		return nil, 0, err
	}

	counts := map[string]int64{
		string(domain.TaskStatusQueued):      0,
		string(domain.TaskStatusInspecting):  0,
		string(domain.TaskStatusDecompiling): 0,
		string(domain.TaskStatusAnalyzing):   0,
		string(domain.TaskStatusCompleted):   0,
		string(domain.TaskStatusFailed):      0,
		string(domain.TaskStatusCancelled):   0,
	}

	var total int64
	for _, res := range results {
		counts[res.Status] = res.Count
		total += res.Count
	}
	return counts, total, nil
}

func (r *taskRepo) ListQueuedTasks(ctx context.Context) ([]*domain.Task, error) {
	var tasks []*domain.Task
	err := r.db.WithContext(ctx).
		Where("status = ?", domain.TaskStatusQueued).
		Order("created_at ASC").
		Find(&tasks).Error
	return tasks, err
}

// ListStuckTasks finds tasks stranded mid-pipeline, typically by a crashed
// worker process.
func (r *taskRepo) ListStuckTasks(ctx context.Context, olderThan time.Duration) ([]*domain.Task, error) {
	cutoff := time.Now().UTC().Add(-olderThan)

	var tasks []*domain.Task
	err := r.db.WithContext(ctx).
		Where("status IN ? AND created_at < ?", []domain.TaskStatus{
			domain.TaskStatusInspecting,
			domain.TaskStatusDecompiling,
			domain.TaskStatusAnalyzing,
		}, cutoff).
		Find(&tasks).Error
	return tasks, err
}
