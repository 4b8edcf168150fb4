package decompiler

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jar-analysis/jar-analysis-go/internal/config"
)

// Remapper rewrites bytecode symbols in a jar using a mapping file before
// decompilation, driving a SpecialSource-style tool. Remapping is best
// effort: when it fails the pipeline continues on the original jar and the
// run is marked a partial failure.
type Remapper struct {
	cfg    *config.RemapperConfig
	runner CommandRunner
	logger *logrus.Logger
}

func NewRemapper(cfg *config.RemapperConfig, runner CommandRunner, logger *logrus.Logger) *Remapper {
	if runner == nil {
		runner = ExecRunner{}
	}
	return &Remapper{cfg: cfg, runner: runner, logger: logger}
}

// Enabled reports whether remapping is configured and the tool jar exists.
func (r *Remapper) Enabled() bool {
	if r.cfg == nil || !r.cfg.Enabled || r.cfg.JarPath == "" {
		return false
	}
	_, err := os.Stat(r.cfg.JarPath)
	return err == nil
}

// Remap produces a remapped copy of inputJar under outputDir and returns
// its path. The output file only appears on success. outputDir must not be
// the inbound jar directory, a remapped jar appearing there would be picked
// up as a fresh archive.
func (r *Remapper) Remap(ctx context.Context, inputJar, mappingPath, outputDir string) (string, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create remap output directory: %w", err)
	}
	base := strings.TrimSuffix(filepath.Base(inputJar), filepath.Ext(inputJar))
	outputJar := filepath.Join(outputDir, base+"-remapped.jar")
	tmpJar := outputJar + ".tmp"
	defer os.Remove(tmpJar)

	timeout := time.Duration(r.cfg.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := []string{
		"-jar", r.cfg.JarPath,
		"--in-jar", inputJar,
		"--out-jar", tmpJar,
		"--srg-in", mappingPath,
	}

	r.logger.WithFields(logrus.Fields{
		"input":   filepath.Base(inputJar),
		"mapping": filepath.Base(mappingPath),
	}).Info("Remapping jar")

	_, stderr, err := r.runner.Run(runCtx, "java", args...)
	if err != nil {
		if stderr != "" {
			return "", fmt.Errorf("remapper failed: %w: %s", err, truncate(stderr, 500))
		}
		return "", fmt.Errorf("remapper failed: %w", err)
	}

	if _, err := os.Stat(tmpJar); err != nil {
		return "", fmt.Errorf("remapper exited cleanly but wrote no output")
	}
	if err := os.Rename(tmpJar, outputJar); err != nil {
		return "", fmt.Errorf("failed to publish remapped jar: %w", err)
	}

	return outputJar, nil
}
