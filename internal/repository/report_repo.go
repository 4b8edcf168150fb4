package repository

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/jar-analysis/jar-analysis-go/internal/domain"
)

type ReportRepository interface {
	Save(ctx context.Context, report *domain.TaskReport) error
	FindByTaskID(ctx context.Context, taskID string) (*domain.TaskReport, error)
	DeleteByTaskID(ctx context.Context, taskID string) error
}

type reportRepo struct {
	db     *gorm.DB
	logger *logrus.Logger
}

func NewReportRepository(db *gorm.DB, logger *logrus.Logger) ReportRepository {
	return &reportRepo{db: db, logger: logger}
}

// Save upserts on task_id so reanalysis overwrites the previous report
// instead of accumulating rows.
func (r *reportRepo) Save(ctx context.Context, report *domain.TaskReport) error {
	var existing domain.TaskReport
	err := r.db.WithContext(ctx).
		Where("task_id = ?", report.TaskID).
		First(&existing).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		if report.CreatedAt.IsZero() {
			report.CreatedAt = time.Now().UTC()
		}
		return r.db.WithContext(ctx).Create(report).Error
	}
	if err != nil {
		return err
	}

	report.ID = existing.ID
	report.CreatedAt = existing.CreatedAt
	return r.db.WithContext(ctx).Save(report).Error
}

func (r *reportRepo) FindByTaskID(ctx context.Context, taskID string) (*domain.TaskReport, error) {
	var report domain.TaskReport
	err := r.db.WithContext(ctx).
		Where("task_id = ?", taskID).
		First(&report).Error
	if err != nil {
		return nil, err
	}
	return &report, nil
}

func (r *reportRepo) DeleteByTaskID(ctx context.Context, taskID string) error {
	return r.db.WithContext(ctx).
		Where("task_id = ?", taskID).
		Delete(&domain.TaskReport{}).Error
}
