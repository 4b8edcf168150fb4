package inspector

import (
	"archive/zip"
	"errors"
	"io"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
)

// descriptor entries checked in priority order
const (
	mcmodInfoEntry = "mcmod.info"
	modsTomlEntry  = "META-INF/mods.toml"
	manifestEntry  = "META-INF/MANIFEST.MF"
)

const maxDescriptorSize = 1 << 20 // 1MB, descriptors are tiny in practice

// Inspector opens jar archives and produces their entry inventory.
type Inspector struct {
	logger *logrus.Logger
}

func NewInspector(logger *logrus.Logger) *Inspector {
	return &Inspector{logger: logger}
}

// Inspect walks the archive central directory and returns the inventory.
// Entry order follows the archive's stored order so repeated runs over the
// same file produce identical inventories.
func (i *Inspector) Inspect(archivePath string) (*Inventory, error) {
	reader, err := zip.OpenReader(archivePath)
	if err != nil {
		if errors.Is(err, zip.ErrFormat) {
			return nil, &NotAnArchiveError{Path: archivePath}
		}
		return nil, &ArchiveReadError{Path: archivePath, Err: err}
	}
	defer reader.Close()

	inv := &Inventory{
		ArchivePath: archivePath,
		ArchiveName: filepath.Base(archivePath),
	}

	descriptors := map[string]string{}

	for _, f := range reader.File {
		if f.FileInfo().IsDir() {
			continue
		}
		name := f.Name
		if strings.HasSuffix(name, ".class") {
			inv.ClassEntries = append(inv.ClassEntries, name)
		} else {
			inv.ResourceEntries = append(inv.ResourceEntries, name)
		}

		switch name {
		case mcmodInfoEntry, modsTomlEntry, manifestEntry:
			content, err := readEntry(f)
			if err != nil {
				// A broken descriptor does not fail inspection, the rest of
				// the archive is still usable.
				i.logger.WithFields(logrus.Fields{
					"archive": inv.ArchiveName,
					"entry":   name,
				}).WithError(err).Warn("Failed to read descriptor entry")
				continue
			}
			descriptors[name] = content
		}
	}

	inv.Metadata = parseMetadata(descriptors)

	i.logger.WithFields(logrus.Fields{
		"archive":   inv.ArchiveName,
		"classes":   len(inv.ClassEntries),
		"resources": len(inv.ResourceEntries),
		"metadata":  inv.Metadata != nil,
	}).Debug("Archive inspected")

	return inv, nil
}

// ReadEntry returns the raw bytes of one named entry from the archive. Used
// by the analyzer to scan resource contents without extracting the archive.
func (i *Inspector) ReadEntry(archivePath, entryName string) ([]byte, error) {
	reader, err := zip.OpenReader(archivePath)
	if err != nil {
		return nil, &ArchiveReadError{Path: archivePath, Err: err}
	}
	defer reader.Close()

	for _, f := range reader.File {
		if f.Name != entryName {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, &ArchiveReadError{Path: archivePath, Err: err}
		}
		defer rc.Close()
		return io.ReadAll(rc)
	}
	return nil, &ArchiveReadError{Path: archivePath, Err: errors.New("entry not found: " + entryName)}
}

func readEntry(f *zip.File) (string, error) {
	rc, err := f.Open()
	if err != nil {
		return "", err
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, maxDescriptorSize))
	if err != nil {
		return "", err
	}
	return string(data), nil
}
