package inspector

import "fmt"

// Inventory is the immutable per-archive record of what the archive contains.
// It is created once by the Inspector and read-only afterwards.
type Inventory struct {
	ArchivePath     string
	ArchiveName     string
	ClassEntries    []string // ordered as stored in the archive
	ResourceEntries []string // ordered as stored in the archive
	Metadata        *Metadata
}

// Metadata is the best-effort parsed mod descriptor. A nil Metadata means the
// archive carries no recognizable descriptor and the platform version is
// unknown.
type Metadata struct {
	Source    string // mcmod.info, mods.toml, MANIFEST.MF
	ModID     string
	Name      string
	Version   string
	MCVersion string
	Raw       string // original descriptor text, kept for heuristics
}

// Summary renders a one-line description for reports.
func (m *Metadata) Summary() string {
	if m == nil {
		return ""
	}
	s := m.Name
	if s == "" {
		s = m.ModID
	}
	if m.Version != "" {
		s = fmt.Sprintf("%s %s", s, m.Version)
	}
	if m.MCVersion != "" {
		s = fmt.Sprintf("%s (mc %s)", s, m.MCVersion)
	}
	return s
}

// ArchiveReadError reports a corrupt or unreadable archive.
type ArchiveReadError struct {
	Path string
	Err  error
}

func (e *ArchiveReadError) Error() string {
	return fmt.Sprintf("failed to read archive %s: %v", e.Path, e.Err)
}

func (e *ArchiveReadError) Unwrap() error { return e.Err }

// NotAnArchiveError reports a file that is not a zip container at all.
type NotAnArchiveError struct {
	Path string
}

func (e *NotAnArchiveError) Error() string {
	return fmt.Sprintf("%s is not a jar/zip archive", e.Path)
}
