package inspector

import (
	"bufio"
	"encoding/json"
	"strings"
)

// mcmodInfo is the legacy Forge descriptor. Shipped either as a bare JSON
// array or as an object with a modList key.
type mcmodInfo struct {
	ModID     string `json:"modid"`
	Name      string `json:"name"`
	Version   string `json:"version"`
	MCVersion string `json:"mcversion"`
}

// parseMetadata picks the highest-priority descriptor that parses. Order:
// mcmod.info, then mods.toml, then the jar manifest.
func parseMetadata(descriptors map[string]string) *Metadata {
	if raw, ok := descriptors[mcmodInfoEntry]; ok {
		if meta := parseMcmodInfo(raw); meta != nil {
			return meta
		}
	}
	if raw, ok := descriptors[modsTomlEntry]; ok {
		if meta := parseModsToml(raw); meta != nil {
			return meta
		}
	}
	if raw, ok := descriptors[manifestEntry]; ok {
		if meta := parseManifest(raw); meta != nil {
			return meta
		}
	}
	return nil
}

func parseMcmodInfo(raw string) *Metadata {
	var entries []mcmodInfo

	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		// Newer layout wraps the list in an object.
		var wrapper struct {
			ModList []mcmodInfo `json:"modList"`
		}
		if err := json.Unmarshal([]byte(raw), &wrapper); err != nil {
			return nil
		}
		entries = wrapper.ModList
	}

	if len(entries) == 0 {
		return nil
	}

	first := entries[0]
	if first.ModID == "" && first.Name == "" {
		return nil
	}

	return &Metadata{
		Source:    mcmodInfoEntry,
		ModID:     first.ModID,
		Name:      first.Name,
		Version:   first.Version,
		MCVersion: first.MCVersion,
		Raw:       raw,
	}
}

// parseModsToml extracts the handful of keys we need with line scanning.
// mods.toml is TOML but the fields of interest are all simple key = "value"
// assignments, the first [[mods]] table wins.
func parseModsToml(raw string) *Metadata {
	meta := &Metadata{Source: modsTomlEntry, Raw: raw}

	inModsTable := false
	seenModsTable := false

	scanner := bufio.NewScanner(strings.NewReader(raw))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "[[mods]]") {
			if seenModsTable {
				break // only the first mod entry matters
			}
			inModsTable = true
			seenModsTable = true
			continue
		}
		if strings.HasPrefix(line, "[") {
			inModsTable = false
			continue
		}

		key, value, ok := splitTomlAssignment(line)
		if !ok {
			continue
		}

		switch {
		case inModsTable && key == "modId":
			meta.ModID = value
		case inModsTable && key == "displayName":
			meta.Name = value
		case inModsTable && key == "version":
			meta.Version = value
		case key == "loaderVersion":
			// e.g. "[36,)" - the major loader version maps to a game version
			// family, kept raw for the resolver's heuristics.
			if meta.MCVersion == "" {
				meta.MCVersion = value
			}
		}
	}

	if meta.ModID == "" && meta.Name == "" {
		return nil
	}
	return meta
}

func splitTomlAssignment(line string) (key, value string, ok bool) {
	idx := strings.Index(line, "=")
	if idx < 0 {
		return "", "", false
	}
	key = strings.TrimSpace(line[:idx])
	value = strings.TrimSpace(line[idx+1:])
	value = strings.Trim(value, `"'`)
	if key == "" {
		return "", "", false
	}
	return key, value, true
}

// parseManifest reads MANIFEST.MF key: value pairs. Continuation lines
// (leading space) are folded into the previous value.
func parseManifest(raw string) *Metadata {
	fields := map[string]string{}
	lastKey := ""

	scanner := bufio.NewScanner(strings.NewReader(raw))
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, " ") && lastKey != "" {
			fields[lastKey] += strings.TrimPrefix(line, " ")
			continue
		}
		idx := strings.Index(line, ":")
		if idx < 0 {
			continue
		}
		key := strings.TrimSpace(line[:idx])
		fields[key] = strings.TrimSpace(line[idx+1:])
		lastKey = key
	}

	name := fields["Implementation-Title"]
	if name == "" {
		name = fields["Specification-Title"]
	}
	version := fields["Implementation-Version"]
	if version == "" {
		version = fields["Specification-Version"]
	}
	if name == "" && version == "" {
		return nil
	}

	return &Metadata{
		Source:  manifestEntry,
		Name:    name,
		Version: version,
		Raw:     raw,
	}
}
