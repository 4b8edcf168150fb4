package decompiler

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jar-analysis/jar-analysis-go/internal/config"
)

// Attempt records one backend invocation, successful or not.
type Attempt struct {
	Backend  string        `json:"backend"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration_ms"`
}

// ClassOutcome records whether one archive class entry yielded a source
// file.
type ClassOutcome struct {
	Class      string `json:"class"`
	Decompiled bool   `json:"decompiled"`
}

// Result is the outcome of a decompilation run.
type Result struct {
	BackendUsed string         `json:"backend_used"`
	OutputDir   string         `json:"output_dir"`
	Remapped    bool           `json:"remapped"`
	Attempts    []Attempt      `json:"attempts"`
	Classes     []ClassOutcome `json:"classes,omitempty"`
	Duration    time.Duration  `json:"duration_ms"`
}

// AllBackendsFailedError means every configured backend was tried once and
// none produced output.
type AllBackendsFailedError struct {
	Attempts []Attempt
}

func (e *AllBackendsFailedError) Error() string {
	return fmt.Sprintf("all %d decompiler backends failed", len(e.Attempts))
}

// Orchestrator runs the decompiler chain: each configured backend gets
// exactly one attempt, in preference order, until one succeeds. Output is
// staged in a temp directory and renamed into place only on success, so a
// failed run never leaves partial output behind.
type Orchestrator struct {
	cfg    *config.DecompilerConfig
	runner CommandRunner
	logger *logrus.Logger
}

func NewOrchestrator(cfg *config.DecompilerConfig, runner CommandRunner, logger *logrus.Logger) *Orchestrator {
	if runner == nil {
		runner = ExecRunner{}
	}
	return &Orchestrator{cfg: cfg, runner: runner, logger: logger}
}

// Decompile turns inputJar into java sources under outputDir. classEntries
// is the archive's class inventory, used to record per-class outcomes in the
// summary file; it may be nil.
func (o *Orchestrator) Decompile(ctx context.Context, inputJar, outputDir string, classEntries []string) (*Result, error) {
	start := time.Now()

	order := o.cfg.Order
	if len(order) == 0 {
		order = BackendNames()
	}

	if err := os.MkdirAll(filepath.Dir(outputDir), 0755); err != nil {
		return nil, fmt.Errorf("failed to create result parent directory: %w", err)
	}

	stageDir, err := os.MkdirTemp(filepath.Dir(outputDir), ".decompile-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create staging directory: %w", err)
	}
	defer os.RemoveAll(stageDir)

	var attempts []Attempt

	for _, name := range order {
		backend, ok := LookupBackend(name)
		if !ok {
			o.logger.WithField("backend", name).Warn("Unknown backend in configured order, skipping")
			continue
		}

		attempt := o.runBackend(ctx, backend, inputJar, stageDir)
		attempts = append(attempts, attempt)

		if attempt.Error == "" {
			if err := os.RemoveAll(outputDir); err != nil {
				return nil, fmt.Errorf("failed to clear previous output: %w", err)
			}
			if err := os.Rename(stageDir, outputDir); err != nil {
				return nil, fmt.Errorf("failed to publish decompiled output: %w", err)
			}

			result := &Result{
				BackendUsed: backend.Name,
				OutputDir:   outputDir,
				Attempts:    attempts,
				Classes:     enumerateClassOutcomes(outputDir, classEntries),
				Duration:    time.Since(start),
			}
			o.writeSummary(outputDir, result)

			o.logger.WithFields(logrus.Fields{
				"backend":  backend.Name,
				"attempts": len(attempts),
				"duration": result.Duration,
			}).Info("Decompilation succeeded")

			return result, nil
		}

		// clear any partial output before the next backend writes
		if err := resetDir(stageDir); err != nil {
			return nil, fmt.Errorf("failed to reset staging directory: %w", err)
		}

		if ctx.Err() != nil {
			return nil, fmt.Errorf("decompilation canceled: %w", ctx.Err())
		}
	}

	return nil, &AllBackendsFailedError{Attempts: attempts}
}

func (o *Orchestrator) runBackend(ctx context.Context, backend Backend, inputJar, stageDir string) Attempt {
	start := time.Now()

	toolPath := filepath.Join(o.cfg.ToolsDir, backend.ToolJar)
	if _, err := os.Stat(toolPath); err != nil {
		return Attempt{
			Backend:  backend.Name,
			Error:    fmt.Sprintf("tool jar not installed: %v", err),
			Duration: time.Since(start),
		}
	}

	timeout := time.Duration(o.cfg.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := append([]string{"-jar", toolPath}, backend.BuildArgs(inputJar, stageDir)...)

	o.logger.WithFields(logrus.Fields{
		"backend": backend.Name,
		"input":   filepath.Base(inputJar),
	}).Info("Running decompiler backend")

	_, stderr, err := o.runner.Run(runCtx, "java", args...)
	duration := time.Since(start)

	if err != nil {
		reason := err.Error()
		if runCtx.Err() == context.DeadlineExceeded {
			reason = fmt.Sprintf("timed out after %s", timeout)
		}
		if stderr != "" {
			reason = fmt.Sprintf("%s: %s", reason, truncate(stderr, 500))
		}
		o.logger.WithFields(logrus.Fields{
			"backend":  backend.Name,
			"duration": duration,
		}).WithError(err).Warn("Decompiler backend failed")
		return Attempt{Backend: backend.Name, Error: reason, Duration: duration}
	}

	if empty, _ := isEmptyDir(stageDir); empty {
		return Attempt{
			Backend:  backend.Name,
			Error:    "backend exited cleanly but produced no files",
			Duration: duration,
		}
	}

	return Attempt{Backend: backend.Name, Duration: duration}
}

// writeSummary drops a machine-readable run record next to the sources.
func (o *Orchestrator) writeSummary(outputDir string, result *Result) {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return
	}
	if err := os.WriteFile(filepath.Join(outputDir, "decompile-summary.json"), data, 0644); err != nil {
		o.logger.WithError(err).Warn("Failed to write decompile summary")
	}
}

// enumerateClassOutcomes checks which class entries produced a source file.
// Nested classes fold into their outer class's file.
func enumerateClassOutcomes(outputDir string, classEntries []string) []ClassOutcome {
	outcomes := make([]ClassOutcome, 0, len(classEntries))
	for _, entry := range classEntries {
		base := strings.TrimSuffix(entry, ".class")
		if i := strings.Index(base, "$"); i >= 0 {
			base = base[:i]
		}
		_, err := os.Stat(filepath.Join(outputDir, filepath.FromSlash(base)+".java"))
		outcomes = append(outcomes, ClassOutcome{Class: entry, Decompiled: err == nil})
	}
	return outcomes
}

func resetDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if err := os.RemoveAll(filepath.Join(dir, entry.Name())); err != nil {
			return err
		}
	}
	return nil
}

func isEmptyDir(dir string) (bool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false, err
	}
	return len(entries) == 0, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
