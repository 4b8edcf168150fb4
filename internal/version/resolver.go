package version

import (
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/jar-analysis/jar-analysis-go/internal/inspector"
)

// Unknown is returned when no tier produces a version.
const Unknown = ""

// Source names the detection tier that produced the version.
type Source string

const (
	SourceMetadata Source = "metadata"
	SourceFilename Source = "filename"
	SourceManifest Source = "manifest"
	SourceClasses  Source = "class_markers"
	SourceNone     Source = "none"
)

// Result is the resolved platform version plus where it came from.
type Result struct {
	Version string
	Source  Source
}

// knownVersions maps a major.minor family to its last patch release, the one
// mapping sets are published for.
var knownVersions = map[string]string{
	"1.7":  "1.7.10",
	"1.8":  "1.8.9",
	"1.9":  "1.9.4",
	"1.10": "1.10.2",
	"1.11": "1.11.2",
	"1.12": "1.12.2",
	"1.13": "1.13.2",
	"1.14": "1.14.4",
	"1.15": "1.15.2",
	"1.16": "1.16.5",
	"1.17": "1.17.1",
	"1.18": "1.18.2",
	"1.19": "1.19.4",
	"1.20": "1.20.1",
	"1.21": "1.21.1",
}

var versionPattern = regexp.MustCompile(`\b1\.\d{1,2}(?:\.\d{1,2})?\b`)

// classMarkers are archive entries whose presence pins a version family.
// Obfuscated launchwrapper-era jars still ship these unrenamed paths.
var classMarkers = []struct {
	entry   string
	version string
}{
	{"net/minecraft/launchwrapper/Launch.class", "1.8.9"},
	{"net/minecraftforge/fml/common/Mod.class", "1.12.2"},
	{"net/minecraftforge/fml/common/mod/Mod.class", "1.16.5"},
	{"cpw/mods/fml/common/Mod.class", "1.7.10"},
}

// Resolver determines the target platform version for an archive by walking
// detection tiers from most to least authoritative.
type Resolver struct {
	logger *logrus.Logger
}

func NewResolver(logger *logrus.Logger) *Resolver {
	return &Resolver{logger: logger}
}

// Resolve tries, in order: mod descriptor metadata, the archive filename,
// manifest text, then class marker entries. Unknown is a valid outcome, not
// an error.
func (r *Resolver) Resolve(inv *inspector.Inventory) Result {
	if v := r.fromMetadata(inv.Metadata); v != Unknown {
		return r.done(inv, Result{Version: v, Source: SourceMetadata})
	}
	if v := r.fromFilename(inv.ArchiveName); v != Unknown {
		return r.done(inv, Result{Version: v, Source: SourceFilename})
	}
	if v := r.fromManifest(inv.Metadata); v != Unknown {
		return r.done(inv, Result{Version: v, Source: SourceManifest})
	}
	if v := r.fromClassMarkers(inv.ClassEntries); v != Unknown {
		return r.done(inv, Result{Version: v, Source: SourceClasses})
	}
	return r.done(inv, Result{Version: Unknown, Source: SourceNone})
}

func (r *Resolver) done(inv *inspector.Inventory, res Result) Result {
	r.logger.WithFields(logrus.Fields{
		"archive": inv.ArchiveName,
		"version": res.Version,
		"source":  res.Source,
	}).Debug("Version resolved")
	return res
}

func (r *Resolver) fromMetadata(meta *inspector.Metadata) string {
	if meta == nil || meta.MCVersion == "" {
		return Unknown
	}
	return Normalize(meta.MCVersion)
}

func (r *Resolver) fromFilename(name string) string {
	match := versionPattern.FindString(name)
	if match == "" {
		return Unknown
	}
	return Normalize(match)
}

func (r *Resolver) fromManifest(meta *inspector.Metadata) string {
	if meta == nil || meta.Source != "META-INF/MANIFEST.MF" {
		return Unknown
	}
	// Manifests are full of version-shaped noise (Manifest-Version: 1.0),
	// only accept matches from a known platform family.
	for _, match := range versionPattern.FindAllString(meta.Raw, -1) {
		parts := strings.Split(match, ".")
		if _, ok := knownVersions[parts[0]+"."+parts[1]]; ok {
			return Normalize(match)
		}
	}
	return Unknown
}

func (r *Resolver) fromClassMarkers(classes []string) string {
	set := make(map[string]struct{}, len(classes))
	for _, c := range classes {
		set[c] = struct{}{}
	}
	for _, marker := range classMarkers {
		if _, ok := set[marker.entry]; ok {
			return marker.version
		}
	}
	return Unknown
}

// Normalize strips decorations and widens a family version to the patch
// release mapping sets exist for. Values that extract no version at all
// resolve to Unknown.
func Normalize(raw string) string {
	s := strings.TrimSpace(strings.ToLower(raw))
	s = strings.TrimPrefix(s, "mc")
	s = strings.TrimPrefix(s, "v")
	s = strings.TrimPrefix(s, "forge-")
	s = strings.TrimSpace(s)

	match := versionPattern.FindString(s)
	if match == "" {
		return Unknown
	}

	parts := strings.Split(match, ".")
	family := parts[0] + "." + parts[1]
	if len(parts) == 2 {
		if full, ok := knownVersions[family]; ok {
			return full
		}
		return match
	}
	return match
}
