package worker

import (
	"archive/zip"
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/jar-analysis/jar-analysis-go/internal/config"
	"github.com/jar-analysis/jar-analysis-go/internal/decompiler"
	"github.com/jar-analysis/jar-analysis-go/internal/domain"
	"github.com/jar-analysis/jar-analysis-go/internal/pipeline"
	"github.com/jar-analysis/jar-analysis-go/internal/repository"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

type recordingPublisher struct {
	published []string
}

func (p *recordingPublisher) PublishTask(ctx context.Context, taskID string) error {
	p.published = append(p.published, taskID)
	return nil
}

// okRunner emulates a backend that writes one source file.
type okRunner struct{}

func (okRunner) Run(ctx context.Context, name string, args ...string) (string, string, error) {
	if err := ctx.Err(); err != nil {
		return "", "", err
	}
	outDir := args[len(args)-1]
	for i, a := range args {
		if a == "--outputdir" && i+1 < len(args) {
			outDir = args[i+1]
		}
	}
	os.WriteFile(filepath.Join(outDir, "Main.java"), []byte("class a {}"), 0644)
	return "", "", nil
}

// slowRunner blocks until the context is done.
type slowRunner struct{}

func (slowRunner) Run(ctx context.Context, name string, args ...string) (string, string, error) {
	<-ctx.Done()
	return "", "", ctx.Err()
}

type testEnv struct {
	orchestrator *Orchestrator
	taskRepo     repository.TaskRepository
	reportRepo   repository.ReportRepository
	publisher    *recordingPublisher
	cfg          *config.Config
}

func setupEnv(t *testing.T, runner decompiler.CommandRunner, taskTimeout time.Duration) *testEnv {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&domain.Task{}, &domain.TaskReport{}))

	base := t.TempDir()
	toolsDir := filepath.Join(base, "tools")
	require.NoError(t, os.MkdirAll(toolsDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(toolsDir, "cfr.jar"), []byte("jar"), 0644))

	cfg := &config.Config{
		JARDir:    filepath.Join(base, "jars"),
		ResultDir: filepath.Join(base, "results"),
		Decompiler: config.DecompilerConfig{
			ToolsDir: toolsDir,
			Order:    []string{"cfr"},
			Timeout:  30,
		},
		Mappings: config.MappingsConfig{Dir: filepath.Join(base, "mappings")},
	}
	require.NoError(t, os.MkdirAll(cfg.JARDir, 0755))

	log := testLogger()
	taskRepo := repository.NewTaskRepository(db, log)
	reportRepo := repository.NewReportRepository(db, log)
	publisher := &recordingPublisher{}

	pl := pipeline.New(cfg, runner, log)
	orch := NewOrchestrator(taskRepo, reportRepo, pl, publisher, nil, taskTimeout, log)

	return &testEnv{
		orchestrator: orch,
		taskRepo:     taskRepo,
		reportRepo:   reportRepo,
		publisher:    publisher,
		cfg:          cfg,
	}
}

func writeJar(t *testing.T, dir, name string, entries map[string]string) {
	t.Helper()
	f, err := os.Create(filepath.Join(dir, name))
	require.NoError(t, err)
	w := zip.NewWriter(f)
	for entryName, content := range entries {
		entry, err := w.Create(entryName)
		require.NoError(t, err)
		_, err = entry.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	require.NoError(t, f.Close())
}

func createTask(t *testing.T, env *testEnv, id, jarName string) *domain.Task {
	t.Helper()
	task := &domain.Task{
		ID:      id,
		JARName: jarName,
		Status:  domain.TaskStatusQueued,
	}
	require.NoError(t, env.taskRepo.Create(context.Background(), task))
	return task
}

func TestExecuteTaskCompletes(t *testing.T) {
	env := setupEnv(t, okRunner{}, time.Minute)
	ctx := context.Background()

	writeJar(t, env.cfg.JARDir, "mod.jar", map[string]string{"a.class": "x"})
	createTask(t, env, "task-1", "mod.jar")

	require.NoError(t, env.orchestrator.ExecuteTask(ctx, "task-1"))

	task, err := env.taskRepo.FindByID(ctx, "task-1")
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusCompleted, task.Status)
	assert.Equal(t, "cfr", task.BackendUsed)
	assert.NotNil(t, task.CompletedAt)

	report, err := env.reportRepo.FindByTaskID(ctx, "task-1")
	require.NoError(t, err)
	assert.Equal(t, 1, report.ClassCount)
	assert.Empty(t, env.publisher.published)
}

func TestExecuteTaskCancelledBeforeStart(t *testing.T) {
	env := setupEnv(t, okRunner{}, time.Minute)
	ctx := context.Background()

	writeJar(t, env.cfg.JARDir, "mod.jar", map[string]string{"a.class": "x"})
	createTask(t, env, "task-2", "mod.jar")
	require.NoError(t, env.taskRepo.MarkShouldStop(ctx, "task-2"))

	require.NoError(t, env.orchestrator.ExecuteTask(ctx, "task-2"))

	task, err := env.taskRepo.FindByID(ctx, "task-2")
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusCancelled, task.Status)

	_, err = env.reportRepo.FindByTaskID(ctx, "task-2")
	assert.Error(t, err)
}

func TestExecuteTaskBadInputFailsWithoutRetry(t *testing.T) {
	env := setupEnv(t, okRunner{}, time.Minute)
	ctx := context.Background()

	require.NoError(t, os.WriteFile(filepath.Join(env.cfg.JARDir, "bad.jar"), []byte("not a zip"), 0644))
	createTask(t, env, "task-3", "bad.jar")

	err := env.orchestrator.ExecuteTask(ctx, "task-3")
	require.Error(t, err)
	_, retryable := IsRetryableError(err)
	assert.False(t, retryable)

	task, findErr := env.taskRepo.FindByID(ctx, "task-3")
	require.NoError(t, findErr)
	assert.Equal(t, domain.TaskStatusFailed, task.Status)
	assert.Equal(t, domain.FailureTypeNotAnArchive, task.FailureType)
	assert.Empty(t, env.publisher.published)
}

// stopOnProgressNotifier flips the task's stop flag on the first progress
// push, emulating a user cancelling while the pipeline runs.
type stopOnProgressNotifier struct {
	repo repository.TaskRepository
	once sync.Once
}

func (n *stopOnProgressNotifier) NotifyProgress(taskID, step string, percent int) {
	n.once.Do(func() {
		n.repo.MarkShouldStop(context.Background(), taskID)
	})
}

func (n *stopOnProgressNotifier) NotifyStatus(string, domain.TaskStatus) {}

func TestExecuteTaskCancelledMidRun(t *testing.T) {
	env := setupEnv(t, okRunner{}, time.Minute)
	ctx := context.Background()

	notifier := &stopOnProgressNotifier{repo: env.taskRepo}
	pl := pipeline.New(env.cfg, okRunner{}, testLogger())
	orch := NewOrchestrator(env.taskRepo, env.reportRepo, pl, env.publisher, notifier, time.Minute, testLogger())

	writeJar(t, env.cfg.JARDir, "mod.jar", map[string]string{"a.class": "x"})
	createTask(t, env, "task-6", "mod.jar")

	require.NoError(t, orch.ExecuteTask(ctx, "task-6"))

	task, err := env.taskRepo.FindByID(ctx, "task-6")
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusCancelled, task.Status)

	// a cancelled run leaves no partially-written sources behind
	assert.NoDirExists(t, filepath.Join(env.cfg.ResultDir, "task-6", "sources"))

	_, err = env.reportRepo.FindByTaskID(ctx, "task-6")
	assert.Error(t, err)
	assert.Empty(t, env.publisher.published)
}

func TestExecuteTaskTimeoutIsRetried(t *testing.T) {
	env := setupEnv(t, slowRunner{}, 100*time.Millisecond)
	ctx := context.Background()

	writeJar(t, env.cfg.JARDir, "mod.jar", map[string]string{"a.class": "x"})
	createTask(t, env, "task-4", "mod.jar")

	err := env.orchestrator.ExecuteTask(ctx, "task-4")
	require.Error(t, err)

	retryErr, ok := IsRetryableError(err)
	require.True(t, ok)
	assert.Equal(t, "task-4", retryErr.TaskID)
	assert.Equal(t, 1, retryErr.RetryCount)

	// reset back to queued and re-published
	task, findErr := env.taskRepo.FindByID(ctx, "task-4")
	require.NoError(t, findErr)
	assert.Equal(t, domain.TaskStatusQueued, task.Status)
	assert.Equal(t, 1, task.RetryCount)
	assert.Equal(t, []string{"task-4"}, env.publisher.published)
}

func TestExecuteTaskExhaustedRetriesFails(t *testing.T) {
	env := setupEnv(t, slowRunner{}, 100*time.Millisecond)
	ctx := context.Background()

	writeJar(t, env.cfg.JARDir, "mod.jar", map[string]string{"a.class": "x"})
	createTask(t, env, "task-5", "mod.jar")

	// simulate a task that already burned its retry budget
	for i := 0; i < domain.FailureTypeTimeout.GetMaxRetryCount(); i++ {
		_, err := env.taskRepo.IncrementRetryCount(ctx, "task-5")
		require.NoError(t, err)
	}

	err := env.orchestrator.ExecuteTask(ctx, "task-5")
	require.Error(t, err)
	_, retryable := IsRetryableError(err)
	assert.False(t, retryable)

	got, findErr := env.taskRepo.FindByID(ctx, "task-5")
	require.NoError(t, findErr)
	assert.Equal(t, domain.TaskStatusFailed, got.Status)
	assert.Equal(t, domain.FailureTypeTimeout, got.FailureType)
	assert.Empty(t, env.publisher.published)
}
