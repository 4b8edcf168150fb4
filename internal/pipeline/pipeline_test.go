package pipeline

import (
	"archive/zip"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jar-analysis/jar-analysis-go/internal/config"
	"github.com/jar-analysis/jar-analysis-go/internal/decompiler"
	"github.com/jar-analysis/jar-analysis-go/internal/domain"
	"github.com/jar-analysis/jar-analysis-go/internal/inspector"
	"github.com/jar-analysis/jar-analysis-go/internal/mapping"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

// scriptedRunner emulates a decompiler backend: it drops one java file with
// the given content into the requested output directory.
type scriptedRunner struct {
	source string
	fail   bool
}

func (s *scriptedRunner) Run(ctx context.Context, name string, args ...string) (string, string, error) {
	if s.fail {
		return "", "boom", errors.New("exit status 1")
	}

	outDir := args[len(args)-1]
	for i, a := range args {
		if a == "--outputdir" && i+1 < len(args) {
			outDir = args[i+1]
		}
	}
	os.WriteFile(filepath.Join(outDir, "Main.java"), []byte(s.source), 0644)
	return "", "", nil
}

func testEnv(t *testing.T, runner decompiler.CommandRunner) (*Pipeline, *config.Config) {
	t.Helper()

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
		Mappings: config.MappingsConfig{
			Dir: filepath.Join(base, "mappings"),
		},
	}
	require.NoError(t, os.MkdirAll(cfg.JARDir, 0755))

	return New(cfg, runner, testLogger()), cfg
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

func TestRunFullPipeline(t *testing.T) {
	runner := &scriptedRunner{source: `class a { String url = "https://discord.com/api/webhooks/1/x"; }`}
	p, cfg := testEnv(t, runner)

	writeJar(t, cfg.JARDir, "mod-1.8.9.jar", map[string]string{
		"a.class":             "\xca\xfe\xba\xbe",
		"com/gui/Menu.class":  "\xca\xfe\xba\xbe",
		"assets/strings.json": "{}",
	})

	// pre-seeded mapping cache for the resolved version
	require.NoError(t, os.MkdirAll(cfg.Mappings.Dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(cfg.Mappings.Dir, "1.8.9.srg"),
		[]byte("CL: a net/minecraft/client/Minecraft\n"), 0644))

	task := &domain.Task{ID: "task-1", JARName: "mod-1.8.9.jar"}

	var steps []string
	result, err := p.Run(context.Background(), task, func(step string, percent int) {
		steps = append(steps, step)
	})
	require.NoError(t, err)

	assert.Equal(t, domain.OutcomeSuccess, result.Outcome)
	assert.Equal(t, "cfr", result.BackendUsed)
	assert.Equal(t, "1.8.9", result.VersionHint) // from the filename

	require.NotNil(t, result.Document)
	assert.Equal(t, 2, result.Document.ClassCount)
	require.Len(t, result.Document.Findings, 1)
	assert.Equal(t, domain.CategoryWebhook, result.Document.Findings[0].Category)

	require.NotNil(t, result.Report)
	assert.Equal(t, 1, result.Report.FindingCount)
	assert.Equal(t, 1, result.Report.HighSeverityCount)
	assert.Equal(t, 1, result.Report.GUIClassCount)

	assert.FileExists(t, filepath.Join(cfg.ResultDir, "task-1", "report.json"))
	assert.FileExists(t, filepath.Join(cfg.ResultDir, "task-1", "sources", "Main.java"))
	assert.Contains(t, steps, "decompiling")
	assert.Equal(t, "done", steps[len(steps)-1])
}

func TestRunAppliesMappings(t *testing.T) {
	runner := &scriptedRunner{source: "class Foo extends a {}"}
	p, cfg := testEnv(t, runner)

	writeJar(t, cfg.JARDir, "mod.jar", map[string]string{"a.class": "x"})

	mappingPath := filepath.Join(t.TempDir(), "mod.srg")
	require.NoError(t, os.WriteFile(mappingPath,
		[]byte("CL: a net/minecraft/client/Minecraft\n"), 0644))

	task := &domain.Task{ID: "task-2", JARName: "mod.jar", MappingPath: mappingPath}

	result, err := p.Run(context.Background(), task, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeSuccess, result.Outcome)

	data, err := os.ReadFile(filepath.Join(cfg.ResultDir, "task-2", "sources", "Main.java"))
	require.NoError(t, err)
	assert.Equal(t, "class Foo extends net.minecraft.client.Minecraft {}", string(data))
}

// remapAwareRunner answers both the remap tool invocation and a decompiler
// backend. The decompiled source keeps the obfuscated name, emulating a
// backend run over a jar that was remapped at the bytecode level.
type remapAwareRunner struct {
	source string
}

func (r *remapAwareRunner) Run(ctx context.Context, name string, args ...string) (string, string, error) {
	for i, a := range args {
		if a == "--out-jar" && i+1 < len(args) {
			return "", "", os.WriteFile(args[i+1], []byte("remapped"), 0644)
		}
	}

	outDir := args[len(args)-1]
	for i, a := range args {
		if a == "--outputdir" && i+1 < len(args) {
			outDir = args[i+1]
		}
	}
	os.WriteFile(filepath.Join(outDir, "Main.java"), []byte(r.source), 0644)
	return "", "", nil
}

func TestRunRemapKeepsInboundDirClean(t *testing.T) {
	runner := &remapAwareRunner{source: "class Foo extends a {}"}
	p, cfg := testEnv(t, runner)

	remapperJar := filepath.Join(cfg.Decompiler.ToolsDir, "specialsource.jar")
	require.NoError(t, os.WriteFile(remapperJar, []byte("jar"), 0644))
	cfg.Decompiler.Remapper = config.RemapperConfig{
		Enabled: true,
		JarPath: remapperJar,
		Timeout: 30,
	}

	writeJar(t, cfg.JARDir, "mod.jar", map[string]string{"a.class": "x"})

	mappingPath := filepath.Join(t.TempDir(), "mod.srg")
	require.NoError(t, os.WriteFile(mappingPath,
		[]byte("CL: a net/minecraft/client/Minecraft\n"), 0644))

	task := &domain.Task{ID: "task-7", JARName: "mod.jar", MappingPath: mappingPath}

	result, err := p.Run(context.Background(), task, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeSuccess, result.Outcome)

	// the remapped jar goes to the task's result directory, the watched
	// inbound directory still holds only the original upload
	entries, err := os.ReadDir(cfg.JARDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "mod.jar", entries[0].Name())
	assert.FileExists(t, filepath.Join(cfg.ResultDir, "task-7", "mod-remapped.jar"))

	// the bytecode remap already applied the names, so the textual rename
	// pass must leave the sources alone
	data, err := os.ReadFile(filepath.Join(cfg.ResultDir, "task-7", "sources", "Main.java"))
	require.NoError(t, err)
	assert.Equal(t, "class Foo extends a {}", string(data))
}

func TestRunNotAnArchive(t *testing.T) {
	p, cfg := testEnv(t, &scriptedRunner{})
	require.NoError(t, os.WriteFile(filepath.Join(cfg.JARDir, "bad.jar"), []byte("not a zip"), 0644))

	task := &domain.Task{ID: "task-3", JARName: "bad.jar"}

	_, err := p.Run(context.Background(), task, nil)
	require.Error(t, err)
	assert.Equal(t, domain.FailureTypeNotAnArchive, ClassifyFailure(err))
}

func TestRunDecompilerDownIsPartialFailure(t *testing.T) {
	p, cfg := testEnv(t, &scriptedRunner{fail: true})

	writeJar(t, cfg.JARDir, "mod.jar", map[string]string{
		"a.class":              "x",
		"config/endpoint.json": `{"hook":"https://discord.com/api/webhooks/2/y"}`,
	})

	task := &domain.Task{ID: "task-4", JARName: "mod.jar"}

	result, err := p.Run(context.Background(), task, nil)
	require.NoError(t, err)

	assert.Equal(t, domain.OutcomePartialFailure, result.Outcome)
	assert.Empty(t, result.BackendUsed)
	// resource scanning still found the webhook
	require.Len(t, result.Document.Findings, 1)
	assert.Equal(t, "config/endpoint.json", result.Document.Findings[0].Path)
}

func TestRunBadProvidedMappingFails(t *testing.T) {
	p, cfg := testEnv(t, &scriptedRunner{source: "class a {}"})
	writeJar(t, cfg.JARDir, "mod.jar", map[string]string{"a.class": "x"})

	mappingPath := filepath.Join(t.TempDir(), "bad.srg")
	require.NoError(t, os.WriteFile(mappingPath,
		[]byte("CL: a com/example/A\nCL: a com/example/B\n"), 0644))

	task := &domain.Task{ID: "task-5", JARName: "mod.jar", MappingPath: mappingPath}

	_, err := p.Run(context.Background(), task, nil)
	require.Error(t, err)
	assert.Equal(t, domain.FailureTypeMappingEntry, ClassifyFailure(err))
}

func TestRunUnknownVersionContinuesUnmapped(t *testing.T) {
	p, cfg := testEnv(t, &scriptedRunner{source: "class a {}"})
	writeJar(t, cfg.JARDir, "mystery.jar", map[string]string{"a.class": "x"})

	task := &domain.Task{ID: "task-6", JARName: "mystery.jar"}

	result, err := p.Run(context.Background(), task, nil)
	require.NoError(t, err)

	assert.Equal(t, domain.OutcomePartialFailure, result.Outcome)
	assert.NotEmpty(t, result.Warnings)
	assert.Empty(t, result.VersionHint)
}

func TestClassifyFailure(t *testing.T) {
	assert.Equal(t, domain.FailureTypeNone, ClassifyFailure(nil))
	assert.Equal(t, domain.FailureTypeNotAnArchive,
		ClassifyFailure(&inspector.NotAnArchiveError{Path: "x"}))
	assert.Equal(t, domain.FailureTypeArchiveRead,
		ClassifyFailure(&inspector.ArchiveReadError{Path: "x", Err: errors.New("io")}))
	assert.Equal(t, domain.FailureTypeMappingFormat,
		ClassifyFailure(&mapping.FormatError{Path: "x", Reason: "y"}))
	assert.Equal(t, domain.FailureTypeMappingEntry,
		ClassifyFailure(&mapping.CollisionError{Kind: "class"}))
	assert.Equal(t, domain.FailureTypeNoDecompiler,
		ClassifyFailure(&decompiler.AllBackendsFailedError{}))
	assert.Equal(t, domain.FailureTypeTimeout, ClassifyFailure(context.DeadlineExceeded))
	assert.Equal(t, domain.FailureTypeUnknown, ClassifyFailure(errors.New("mystery")))
}
