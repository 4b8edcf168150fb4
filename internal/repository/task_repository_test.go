package repository

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/jar-analysis/jar-analysis-go/internal/domain"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(&domain.Task{}, &domain.TaskReport{}))
	return db
}

func setupRepos(t *testing.T) (TaskRepository, ReportRepository) {
	t.Helper()
	db := setupTestDB(t)
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return NewTaskRepository(db, log), NewReportRepository(db, log)
}

func newTask(jarName string) *domain.Task {
	return &domain.Task{
		ID:      uuid.New().String(),
		JARName: jarName,
		Status:  domain.TaskStatusQueued,
	}
}

func TestCreateAndFindTask(t *testing.T) {
	repo, _ := setupRepos(t)
	ctx := context.Background()

	task := newTask("mod-1.8.9.jar")
	require.NoError(t, repo.Create(ctx, task))

	found, err := repo.FindByID(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, "mod-1.8.9.jar", found.JARName)
	assert.Equal(t, domain.TaskStatusQueued, found.Status)
}

func TestUpdateStatusSetsCompletedAt(t *testing.T) {
	repo, _ := setupRepos(t)
	ctx := context.Background()

	task := newTask("mod.jar")
	require.NoError(t, repo.Create(ctx, task))

	require.NoError(t, repo.UpdateStatus(ctx, task.ID, domain.TaskStatusCompleted))

	found, err := repo.FindByID(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusCompleted, found.Status)
	assert.NotNil(t, found.CompletedAt)
}

func TestUpdateFailure(t *testing.T) {
	repo, _ := setupRepos(t)
	ctx := context.Background()

	task := newTask("broken.jar")
	require.NoError(t, repo.Create(ctx, task))

	require.NoError(t, repo.UpdateFailure(ctx, task.ID, domain.FailureTypeNotAnArchive, "not a zip"))

	found, err := repo.FindByID(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusFailed, found.Status)
	assert.Equal(t, domain.FailureTypeNotAnArchive, found.FailureType)
	assert.Equal(t, domain.OutcomeFailure, found.Outcome)
	assert.Equal(t, "not a zip", found.ErrorMessage)
}

func TestRetryLifecycle(t *testing.T) {
	repo, _ := setupRepos(t)
	ctx := context.Background()

	task := newTask("flaky.jar")
	require.NoError(t, repo.Create(ctx, task))
	require.NoError(t, repo.UpdateFailure(ctx, task.ID, domain.FailureTypeTimeout, "backend timed out"))

	count, err := repo.IncrementRetryCount(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	require.NoError(t, repo.ResetForRetry(ctx, task.ID))

	found, err := repo.FindByID(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusQueued, found.Status)
	assert.Equal(t, domain.FailureTypeNone, found.FailureType)
	assert.Equal(t, 1, found.RetryCount) // retry count survives the reset
}

func TestShouldStop(t *testing.T) {
	repo, _ := setupRepos(t)
	ctx := context.Background()

	task := newTask("mod.jar")
	require.NoError(t, repo.Create(ctx, task))

	stop, err := repo.ShouldStop(ctx, task.ID)
	require.NoError(t, err)
	assert.False(t, stop)

	require.NoError(t, repo.MarkShouldStop(ctx, task.ID))

	stop, err = repo.ShouldStop(ctx, task.ID)
	require.NoError(t, err)
	assert.True(t, stop)
}

func TestHasRecentTaskForJAR(t *testing.T) {
	repo, _ := setupRepos(t)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, newTask("dup.jar")))

	recent, err := repo.HasRecentTaskForJAR(ctx, "dup.jar", 60)
	require.NoError(t, err)
	assert.True(t, recent)

	recent, err = repo.HasRecentTaskForJAR(ctx, "other.jar", 60)
	require.NoError(t, err)
	assert.False(t, recent)
}

func TestGetStatusCounts(t *testing.T) {
	repo, _ := setupRepos(t)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, newTask("a.jar")))
	require.NoError(t, repo.Create(ctx, newTask("b.jar")))

	task := newTask("c.jar")
	require.NoError(t, repo.Create(ctx, task))
	require.NoError(t, repo.UpdateStatus(ctx, task.ID, domain.TaskStatusCompleted))

	counts, total, err := repo.GetStatusCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	assert.Equal(t, int64(2), counts[string(domain.TaskStatusQueued)])
	assert.Equal(t, int64(1), counts[string(domain.TaskStatusCompleted)])
}

func TestListQueuedTasksFIFO(t *testing.T) {
	repo, _ := setupRepos(t)
	ctx := context.Background()

	first := newTask("first.jar")
	require.NoError(t, repo.Create(ctx, first))
	time.Sleep(10 * time.Millisecond)
	second := newTask("second.jar")
	require.NoError(t, repo.Create(ctx, second))

	tasks, err := repo.ListQueuedTasks(ctx)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, "first.jar", tasks[0].JARName)
}

func TestReportSaveUpsert(t *testing.T) {
	taskRepo, reportRepo := setupRepos(t)
	ctx := context.Background()

	task := newTask("mod.jar")
	require.NoError(t, taskRepo.Create(ctx, task))

	report := &domain.TaskReport{
		TaskID:       task.ID,
		ArchiveName:  "mod.jar",
		ClassCount:   10,
		FindingCount: 2,
	}
	require.NoError(t, reportRepo.Save(ctx, report))

	// second save with new numbers must overwrite, not duplicate
	report2 := &domain.TaskReport{
		TaskID:       task.ID,
		ArchiveName:  "mod.jar",
		ClassCount:   10,
		FindingCount: 5,
	}
	require.NoError(t, reportRepo.Save(ctx, report2))

	found, err := reportRepo.FindByTaskID(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, found.FindingCount)
	assert.Equal(t, report.ID, found.ID)
}

func TestTaskPreloadsReport(t *testing.T) {
	taskRepo, reportRepo := setupRepos(t)
	ctx := context.Background()

	task := newTask("mod.jar")
	require.NoError(t, taskRepo.Create(ctx, task))
	require.NoError(t, reportRepo.Save(ctx, &domain.TaskReport{TaskID: task.ID, ClassCount: 7}))

	found, err := taskRepo.FindByID(ctx, task.ID)
	require.NoError(t, err)
	require.NotNil(t, found.Report)
	assert.Equal(t, 7, found.Report.ClassCount)
}
