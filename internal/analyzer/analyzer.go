package analyzer

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/jar-analysis/jar-analysis-go/internal/config"
	"github.com/jar-analysis/jar-analysis-go/internal/domain"
	"github.com/jar-analysis/jar-analysis-go/internal/inspector"
)

const maxExcerptLen = 200

// textResourceExts are archive resources worth scanning as text.
var textResourceExts = map[string]struct{}{
	".json": {}, ".txt": {}, ".cfg": {}, ".properties": {},
	".toml": {}, ".yml": {}, ".yaml": {}, ".mf": {}, ".info": {},
}

// Analyzer runs pattern rules over decompiled sources and archive resources
// and classifies classes into functional buckets.
type Analyzer struct {
	rules     []rule
	inspector *inspector.Inspector
	logger    *logrus.Logger
}

func NewAnalyzer(cfg *config.AnalyzerConfig, insp *inspector.Inspector, logger *logrus.Logger) *Analyzer {
	var denyList []string
	if cfg != nil {
		denyList = cfg.DenyList
	}
	return &Analyzer{
		rules:     buildRules(denyList),
		inspector: insp,
		logger:    logger,
	}
}

// Analyze produces the report document for one archive. sourceDir may be
// empty when decompilation failed, resource scanning and classification
// still run.
func (a *Analyzer) Analyze(inv *inspector.Inventory, sourceDir, versionHint string) (*domain.ReportDocument, error) {
	var findings []domain.Finding

	if sourceDir != "" {
		srcFindings, err := a.scanSources(sourceDir)
		if err != nil {
			return nil, fmt.Errorf("source scan failed: %w", err)
		}
		findings = append(findings, srcFindings...)
	}

	findings = append(findings, a.scanResources(inv)...)

	findings = dedupeAndSort(findings)

	doc := &domain.ReportDocument{
		ArchiveName:     inv.ArchiveName,
		ClassCount:      len(inv.ClassEntries),
		ResourceCount:   len(inv.ResourceEntries),
		MetadataSummary: inv.Metadata.Summary(),
		VersionHint:     versionHint,
		Classification:  a.classify(inv.ClassEntries, findings),
		Findings:        findings,
	}

	a.logger.WithFields(logrus.Fields{
		"archive":  inv.ArchiveName,
		"findings": len(findings),
	}).Info("Analysis complete")

	return doc, nil
}

func (a *Analyzer) scanSources(sourceDir string) ([]domain.Finding, error) {
	var findings []domain.Finding

	err := filepath.WalkDir(sourceDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".java") {
			return nil
		}

		rel, relErr := filepath.Rel(sourceDir, path)
		if relErr != nil {
			rel = path
		}

		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()

		findings = append(findings, a.scanReader(f, filepath.ToSlash(rel))...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return findings, nil
}

func (a *Analyzer) scanResources(inv *inspector.Inventory) []domain.Finding {
	var findings []domain.Finding

	for _, entry := range inv.ResourceEntries {
		ext := strings.ToLower(filepath.Ext(entry))
		if _, ok := textResourceExts[ext]; !ok {
			continue
		}

		data, err := a.inspector.ReadEntry(inv.ArchivePath, entry)
		if err != nil {
			a.logger.WithFields(logrus.Fields{
				"archive": inv.ArchiveName,
				"entry":   entry,
			}).WithError(err).Warn("Failed to read resource for scanning")
			continue
		}

		findings = append(findings, a.scanReader(strings.NewReader(string(data)), entry)...)
	}
	return findings
}

func (a *Analyzer) scanReader(r io.Reader, path string) []domain.Finding {
	var findings []domain.Finding

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		for _, rl := range a.rules {
			if rl.pattern.MatchString(line) {
				findings = append(findings, domain.Finding{
					Category:   rl.category,
					Path:       path,
					Excerpt:    excerpt(line),
					Confidence: rl.confidence,
				})
			}
		}
	}
	return findings
}

// classify buckets every class entry. A class whose decompiled source
// produced a network-call finding counts as network unless GUI naming
// overrides it.
func (a *Analyzer) classify(classEntries []string, findings []domain.Finding) map[string]int {
	networkPaths := make(map[string]struct{})
	for _, f := range findings {
		if f.Category == domain.CategoryNetworkCall {
			networkPaths[strings.TrimSuffix(f.Path, ".java")] = struct{}{}
		}
	}

	counts := map[string]int{
		string(domain.BucketGUI):     0,
		string(domain.BucketNetwork): 0,
		string(domain.BucketData):    0,
	}
	for _, entry := range classEntries {
		_, netHit := networkPaths[strings.TrimSuffix(entry, ".class")]
		counts[string(classifyClass(entry, netHit))]++
	}
	return counts
}

// dedupeAndSort merges identical (category, path, excerpt) triples and
// orders findings so repeated runs over the same archive emit identical
// reports.
func dedupeAndSort(findings []domain.Finding) []domain.Finding {
	type key struct {
		category domain.FindingCategory
		path     string
		excerpt  string
	}

	seen := make(map[key]domain.Finding)
	for _, f := range findings {
		k := key{f.Category, f.Path, f.Excerpt}
		if _, ok := seen[k]; !ok {
			seen[k] = f
		}
	}

	out := make([]domain.Finding, 0, len(seen))
	for _, f := range seen {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Path != out[j].Path {
			return out[i].Path < out[j].Path
		}
		if out[i].Category != out[j].Category {
			return out[i].Category < out[j].Category
		}
		return out[i].Excerpt < out[j].Excerpt
	})
	return out
}

func excerpt(line string) string {
	if len(line) <= maxExcerptLen {
		return line
	}
	return line[:maxExcerptLen] + "..."
}

// HighSeverityCount counts findings at high confidence.
func HighSeverityCount(findings []domain.Finding) int {
	n := 0
	for _, f := range findings {
		if f.Confidence == domain.ConfidenceHigh {
			n++
		}
	}
	return n
}
