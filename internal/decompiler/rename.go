package decompiler

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/jar-analysis/jar-analysis-go/internal/mapping"
)

// Renamer substitutes obfuscated identifiers in decompiled sources with
// their readable names. Candidates are matched longest-first on identifier
// boundaries, so a short obfuscated name never rewrites part of a longer one.
type Renamer struct {
	classRe   *regexp.Regexp
	classMap  map[string]string
	memberRe  *regexp.Regexp
	memberMap map[string]string
}

func NewRenamer(table *mapping.SymbolTable) *Renamer {
	r := &Renamer{
		classMap:  make(map[string]string),
		memberMap: make(map[string]string),
	}

	// class names appear in source in dotted form
	classPairs := table.ClassPairs()
	classAlts := make([]string, 0, len(classPairs))
	for _, pair := range classPairs {
		obf := strings.ReplaceAll(pair.Obfuscated, "/", ".")
		readable := strings.ReplaceAll(pair.Readable, "/", ".")
		r.classMap[obf] = readable
		classAlts = append(classAlts, regexp.QuoteMeta(obf))
	}
	if len(classAlts) > 0 {
		// alternation order is match preference, pairs are already longest-first
		r.classRe = regexp.MustCompile(`\b(?:` + strings.Join(classAlts, "|") + `)\b`)
	}

	memberPairs := table.MemberPairs()
	memberAlts := make([]string, 0, len(memberPairs))
	for _, pair := range memberPairs {
		r.memberMap[pair.Obfuscated] = pair.Readable
		memberAlts = append(memberAlts, regexp.QuoteMeta(pair.Obfuscated))
	}
	if len(memberAlts) > 0 {
		r.memberRe = regexp.MustCompile(`\b(?:` + strings.Join(memberAlts, "|") + `)\b`)
	}

	return r
}

// RenameSource rewrites one source text. Classes are substituted before
// members so a member name equal to a class segment does not interfere.
func (r *Renamer) RenameSource(src string) string {
	out := src
	if r.classRe != nil {
		out = r.classRe.ReplaceAllStringFunc(out, func(m string) string {
			return r.classMap[m]
		})
	}
	if r.memberRe != nil {
		out = r.memberRe.ReplaceAllStringFunc(out, func(m string) string {
			return r.memberMap[m]
		})
	}
	return out
}

// RenameTree rewrites every .java file under dir in place and returns how
// many files changed.
func (r *Renamer) RenameTree(dir string) (int, error) {
	changed := 0

	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".java") {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}

		renamed := r.RenameSource(string(data))
		if renamed == string(data) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		if err := os.WriteFile(path, []byte(renamed), info.Mode()); err != nil {
			return fmt.Errorf("failed to write %s: %w", path, err)
		}
		changed++
		return nil
	})

	return changed, err
}
