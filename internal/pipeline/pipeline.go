package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jar-analysis/jar-analysis-go/internal/analyzer"
	"github.com/jar-analysis/jar-analysis-go/internal/config"
	"github.com/jar-analysis/jar-analysis-go/internal/decompiler"
	"github.com/jar-analysis/jar-analysis-go/internal/domain"
	"github.com/jar-analysis/jar-analysis-go/internal/inspector"
	"github.com/jar-analysis/jar-analysis-go/internal/mapping"
	"github.com/jar-analysis/jar-analysis-go/internal/version"
)

// ProgressFunc receives step descriptions as the pipeline advances.
type ProgressFunc func(step string, percent int)

// RunResult is the outcome of one archive's full pipeline run.
type RunResult struct {
	Outcome     domain.PipelineOutcome
	Document    *domain.ReportDocument
	Report      *domain.TaskReport
	BackendUsed string
	VersionHint string
	Warnings    []string
}

// Pipeline runs the inspect, map, decompile, rename and analyze stages for a
// single archive. Stage degradations (missing mapping, remap failure, all
// decompilers down) downgrade the outcome to partial failure; only input and
// system errors abort the run.
type Pipeline struct {
	cfg        *config.Config
	inspector  *inspector.Inspector
	resolver   *version.Resolver
	loader     *mapping.Loader
	downloader *mapping.Downloader
	decompiler *decompiler.Orchestrator
	remapper   *decompiler.Remapper
	analyzer   *analyzer.Analyzer
	logger     *logrus.Logger
}

func New(cfg *config.Config, runner decompiler.CommandRunner, logger *logrus.Logger) *Pipeline {
	insp := inspector.NewInspector(logger)
	return &Pipeline{
		cfg:        cfg,
		inspector:  insp,
		resolver:   version.NewResolver(logger),
		loader:     mapping.NewLoader(logger, cfg.Mappings.Strict),
		downloader: mapping.NewDownloader(&cfg.Mappings, logger),
		decompiler: decompiler.NewOrchestrator(&cfg.Decompiler, runner, logger),
		remapper:   decompiler.NewRemapper(&cfg.Decompiler.Remapper, runner, logger),
		analyzer:   analyzer.NewAnalyzer(&cfg.Analyzer, insp, logger),
	}
}

// Run processes one task end to end. progress may be nil.
func (p *Pipeline) Run(ctx context.Context, task *domain.Task, progress ProgressFunc) (*RunResult, error) {
	if progress == nil {
		progress = func(string, int) {}
	}

	result := &RunResult{Outcome: domain.OutcomeSuccess}
	jarPath := filepath.Join(p.cfg.JARDir, task.JARName)

	// stage 1: inspect
	progress("inspecting archive", 10)
	inv, err := p.inspector.Inspect(jarPath)
	if err != nil {
		return nil, err
	}

	// stage 2: resolve version
	progress("resolving version", 20)
	versionHint := task.VersionHint
	if versionHint == "" {
		versionHint = p.resolver.Resolve(inv).Version
	} else {
		versionHint = version.Normalize(versionHint)
	}
	result.VersionHint = versionHint

	// stage 3: obtain and load mappings
	progress("loading mappings", 30)
	table, warn, err := p.loadMappings(ctx, task, versionHint)
	if err != nil {
		return nil, err
	}
	if warn != "" {
		result.Warnings = append(result.Warnings, warn)
		result.Outcome = domain.OutcomePartialFailure
	}

	// stage 4: optional bytecode remap before decompilation. The remapped
	// jar lives in the task's result directory, never in the watched
	// inbound directory.
	inputJar := jarPath
	if table != nil && task.MappingPath != "" && p.remapper.Enabled() {
		progress("remapping bytecode", 40)
		remapped, err := p.remapper.Remap(ctx, jarPath, task.MappingPath, p.taskDir(task.ID))
		if err != nil {
			p.logger.WithError(err).Warn("Remapping failed, continuing with original jar")
			result.Warnings = append(result.Warnings, fmt.Sprintf("remap failed: %v", err))
			result.Outcome = domain.OutcomePartialFailure
		} else {
			inputJar = remapped
		}
	}

	// stage 5: decompile through the backend chain
	progress("decompiling", 50)
	decompileStart := time.Now()
	sourceDir := ""
	var decompileResult *decompiler.Result

	decompileResult, err = p.decompiler.Decompile(ctx, inputJar, p.sourcesDir(task.ID), inv.ClassEntries)
	switch {
	case err == nil:
		sourceDir = decompileResult.OutputDir
		result.BackendUsed = decompileResult.BackendUsed
	case isAllBackendsFailed(err):
		// analysis still runs over resources, the report just has no sources
		p.logger.WithError(err).Warn("All decompiler backends failed, analyzing resources only")
		result.Warnings = append(result.Warnings, err.Error())
		result.Outcome = domain.OutcomePartialFailure
	default:
		return nil, err
	}
	decompileDuration := time.Since(decompileStart)

	// stage 6: source-level rename, skipped when the bytecode remap already
	// applied the readable names
	if table != nil && sourceDir != "" && inputJar == jarPath {
		progress("renaming symbols", 70)
		renamer := decompiler.NewRenamer(table)
		changed, err := renamer.RenameTree(sourceDir)
		if err != nil {
			return nil, fmt.Errorf("symbol rename failed: %w", err)
		}
		p.logger.WithFields(logrus.Fields{
			"task_id": task.ID,
			"files":   changed,
		}).Info("Symbols renamed")
	}

	// stage 7: analyze
	progress("analyzing", 85)
	analysisStart := time.Now()
	doc, err := p.analyzer.Analyze(inv, sourceDir, versionHint)
	if err != nil {
		return nil, &AnalysisError{Err: err}
	}
	analysisDuration := time.Since(analysisStart)

	result.Document = doc
	result.Report = p.buildReport(task, doc, result, decompileDuration, analysisDuration)

	// stage 8: publish report.json next to the sources
	progress("writing report", 95)
	if err := p.writeReportFile(task.ID, doc); err != nil {
		return nil, fmt.Errorf("failed to write report file: %w", err)
	}

	progress("done", 100)
	return result, nil
}

// loadMappings returns the symbol table for the task, a warning when
// mappings are simply unavailable, or an error when a provided mapping file
// is unusable.
func (p *Pipeline) loadMappings(ctx context.Context, task *domain.Task, versionHint string) (*mapping.SymbolTable, string, error) {
	mappingPath := task.MappingPath

	if mappingPath == "" {
		if versionHint == version.Unknown {
			return nil, "version unknown, no mappings applied", nil
		}
		path, err := p.downloader.Ensure(ctx, versionHint)
		if err != nil {
			p.logger.WithError(err).WithField("version", versionHint).Warn("Mapping unavailable")
			return nil, fmt.Sprintf("mappings unavailable for %s: %v", versionHint, err), nil
		}
		mappingPath = path
	}

	table, diags, err := p.loader.Load(mappingPath)
	if err != nil {
		// an explicitly provided mapping file that fails to load is an input
		// error, auto-downloaded ones degrade to a warning
		if task.MappingPath != "" {
			return nil, "", err
		}
		return nil, fmt.Sprintf("cached mapping for %s is unusable: %v", versionHint, err), nil
	}

	for _, d := range diags {
		p.logger.WithFields(logrus.Fields{
			"line":   d.Line,
			"reason": d.Reason,
		}).Debug("Skipped mapping line")
	}
	if len(diags) > 0 {
		p.logger.WithFields(logrus.Fields{
			"path":    mappingPath,
			"skipped": len(diags),
		}).Warn("Mapping file had malformed lines")
	}

	return table, "", nil
}

func (p *Pipeline) buildReport(task *domain.Task, doc *domain.ReportDocument, result *RunResult, decompileDur, analysisDur time.Duration) *domain.TaskReport {
	reportJSON, err := json.Marshal(doc)
	if err != nil {
		p.logger.WithError(err).Error("Failed to marshal report document")
	}

	now := time.Now().UTC()
	return &domain.TaskReport{
		TaskID:              task.ID,
		ArchiveName:         doc.ArchiveName,
		ClassCount:          doc.ClassCount,
		ResourceCount:       doc.ResourceCount,
		VersionHint:         doc.VersionHint,
		GUIClassCount:       doc.Classification[string(domain.BucketGUI)],
		NetworkClassCount:   doc.Classification[string(domain.BucketNetwork)],
		DataClassCount:      doc.Classification[string(domain.BucketData)],
		FindingCount:        len(doc.Findings),
		HighSeverityCount:   analyzer.HighSeverityCount(doc.Findings),
		BackendUsed:         result.BackendUsed,
		ReportJSON:          string(reportJSON),
		DecompileDurationMs: int(decompileDur.Milliseconds()),
		AnalysisDurationMs:  int(analysisDur.Milliseconds()),
		AnalyzedAt:          &now,
	}
}

// writeReportFile publishes report.json atomically.
func (p *Pipeline) writeReportFile(taskID string, doc *domain.ReportDocument) error {
	dir := p.taskDir(taskID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".report-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), filepath.Join(dir, "report.json"))
}

func (p *Pipeline) taskDir(taskID string) string {
	return filepath.Join(p.cfg.ResultDir, taskID)
}

func (p *Pipeline) sourcesDir(taskID string) string {
	return filepath.Join(p.taskDir(taskID), "sources")
}

func isAllBackendsFailed(err error) bool {
	var e *decompiler.AllBackendsFailedError
	return errors.As(err, &e)
}

// AnalysisError marks failures inside the analyzer stage.
type AnalysisError struct {
	Err error
}

func (e *AnalysisError) Error() string {
	return fmt.Sprintf("analysis failed: %v", e.Err)
}

func (e *AnalysisError) Unwrap() error { return e.Err }
