package decompiler

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jar-analysis/jar-analysis-go/internal/config"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

// fakeRunner scripts per-backend outcomes. On success it writes a marker
// file into the output directory extracted from the argv.
type fakeRunner struct {
	failFor map[string]error // tool jar name -> error to return
	calls   []string
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) (string, string, error) {
	toolJar := filepath.Base(args[1])
	f.calls = append(f.calls, toolJar)

	if err, ok := f.failFor[toolJar]; ok && err != nil {
		return "", "tool error output", err
	}

	outDir := outputDirFromArgs(args)
	if outDir != "" {
		os.WriteFile(filepath.Join(outDir, "Decompiled.java"), []byte("class Decompiled {}"), 0644)
	}
	return "", "", nil
}

func outputDirFromArgs(args []string) string {
	for i, a := range args {
		if (a == "--outputdir" || a == "-od") && i+1 < len(args) {
			return args[i+1]
		}
	}
	// fernflower passes the output dir as the last positional argument
	return args[len(args)-1]
}

func testToolsDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	for _, name := range []string{"cfr.jar", "fernflower.jar", "jd-cli.jar"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("jar"), 0644))
	}
	return dir
}

func testOrchestrator(t *testing.T, runner CommandRunner, order []string) *Orchestrator {
	cfg := &config.DecompilerConfig{
		ToolsDir: testToolsDir(t),
		Order:    order,
		Timeout:  30,
	}
	return NewOrchestrator(cfg, runner, testLogger())
}

func TestDecompileFirstBackendWins(t *testing.T) {
	runner := &fakeRunner{}
	o := testOrchestrator(t, runner, []string{"cfr", "fernflower", "jd-cli"})
	outDir := filepath.Join(t.TempDir(), "out")

	result, err := o.Decompile(context.Background(), "/tmp/input.jar", outDir, nil)
	require.NoError(t, err)

	assert.Equal(t, "cfr", result.BackendUsed)
	assert.Equal(t, []string{"cfr.jar"}, runner.calls)
	assert.FileExists(t, filepath.Join(outDir, "Decompiled.java"))
	assert.FileExists(t, filepath.Join(outDir, "decompile-summary.json"))
}

func TestDecompileFallsBackOnceEach(t *testing.T) {
	runner := &fakeRunner{failFor: map[string]error{
		"cfr.jar": errors.New("exit status 1"),
	}}
	o := testOrchestrator(t, runner, []string{"cfr", "fernflower", "jd-cli"})
	outDir := filepath.Join(t.TempDir(), "out")

	result, err := o.Decompile(context.Background(), "/tmp/input.jar", outDir, nil)
	require.NoError(t, err)

	assert.Equal(t, "fernflower", result.BackendUsed)
	// cfr tried exactly once, jd-cli never reached
	assert.Equal(t, []string{"cfr.jar", "fernflower.jar"}, runner.calls)
	require.Len(t, result.Attempts, 2)
	assert.NotEmpty(t, result.Attempts[0].Error)
	assert.Empty(t, result.Attempts[1].Error)
}

func TestDecompileAllBackendsFail(t *testing.T) {
	runner := &fakeRunner{failFor: map[string]error{
		"cfr.jar":        errors.New("exit status 1"),
		"fernflower.jar": errors.New("exit status 2"),
		"jd-cli.jar":     errors.New("exit status 3"),
	}}
	o := testOrchestrator(t, runner, []string{"cfr", "fernflower", "jd-cli"})
	outDir := filepath.Join(t.TempDir(), "out")

	_, err := o.Decompile(context.Background(), "/tmp/input.jar", outDir, nil)
	require.Error(t, err)

	var allFailed *AllBackendsFailedError
	require.True(t, errors.As(err, &allFailed))
	assert.Len(t, allFailed.Attempts, 3)

	// no partial output may exist after a failed run
	assert.NoDirExists(t, outDir)
}

func TestDecompileMissingToolJarCountsAsFailure(t *testing.T) {
	runner := &fakeRunner{}
	cfg := &config.DecompilerConfig{
		ToolsDir: t.TempDir(), // empty, no tool jars installed
		Order:    []string{"cfr"},
		Timeout:  30,
	}
	o := NewOrchestrator(cfg, runner, testLogger())

	_, err := o.Decompile(context.Background(), "/tmp/input.jar", filepath.Join(t.TempDir(), "out"), nil)
	require.Error(t, err)

	var allFailed *AllBackendsFailedError
	require.True(t, errors.As(err, &allFailed))
	assert.Contains(t, allFailed.Attempts[0].Error, "not installed")
	assert.Empty(t, runner.calls) // the process was never launched
}

func TestDecompileSummaryEnumeratesClasses(t *testing.T) {
	runner := &fakeRunner{}
	o := testOrchestrator(t, runner, []string{"cfr"})
	outDir := filepath.Join(t.TempDir(), "out")

	classEntries := []string{
		"Decompiled.class",
		"Decompiled$Inner.class", // folds into Decompiled.java
		"missing/Gone.class",
	}

	result, err := o.Decompile(context.Background(), "/tmp/input.jar", outDir, classEntries)
	require.NoError(t, err)

	want := []ClassOutcome{
		{Class: "Decompiled.class", Decompiled: true},
		{Class: "Decompiled$Inner.class", Decompiled: true},
		{Class: "missing/Gone.class", Decompiled: false},
	}
	assert.Equal(t, want, result.Classes)

	// the summary file carries the same per-class record
	data, err := os.ReadFile(filepath.Join(outDir, "decompile-summary.json"))
	require.NoError(t, err)

	var summary Result
	require.NoError(t, json.Unmarshal(data, &summary))
	assert.Equal(t, want, summary.Classes)
	assert.Equal(t, "cfr", summary.BackendUsed)
}

func TestDecompileSkipsUnknownBackendName(t *testing.T) {
	runner := &fakeRunner{}
	o := testOrchestrator(t, runner, []string{"no-such-tool", "cfr"})
	outDir := filepath.Join(t.TempDir(), "out")

	result, err := o.Decompile(context.Background(), "/tmp/input.jar", outDir, nil)
	require.NoError(t, err)
	assert.Equal(t, "cfr", result.BackendUsed)
}
