package mapping

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Diagnostic records one skipped line from a non-strict load.
type Diagnostic struct {
	Line   int    `json:"line"`
	Text   string `json:"text"`
	Reason string `json:"reason"`
}

// Loader parses mapping files into symbol tables. In strict mode any
// malformed line aborts the load; otherwise malformed lines are skipped and
// reported as diagnostics. Collisions abort the load in both modes.
type Loader struct {
	logger *logrus.Logger
	strict bool
}

func NewLoader(logger *logrus.Logger, strict bool) *Loader {
	return &Loader{logger: logger, strict: strict}
}

// Load reads a mapping file, detects its dialect and returns the table in
// canonical obfuscated-to-readable direction.
func (l *Loader) Load(path string) (*SymbolTable, []Diagnostic, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read mapping file: %w", err)
	}

	content := string(data)
	format := DetectFormat(content)
	if format == FormatUnknown {
		return nil, nil, &FormatError{Path: path, Reason: "no srg/tsrg/proguard structure found"}
	}

	table := NewSymbolTable()
	var diags []Diagnostic

	var parseErr error
	switch format {
	case FormatSRG:
		diags, parseErr = l.parseSRG(content, table)
	case FormatTSRG:
		diags, parseErr = l.parseTSRG(content, table)
	case FormatProGuard:
		diags, parseErr = l.parseProGuard(content, table)
	}
	if parseErr != nil {
		return nil, diags, parseErr
	}

	l.logger.WithFields(logrus.Fields{
		"path":    path,
		"format":  format,
		"classes": table.ClassCount(),
		"fields":  table.FieldCount(),
		"methods": table.MethodCount(),
		"skipped": len(diags),
	}).Info("Mapping file loaded")

	return table, diags, nil
}

// DetectFormat inspects line structure to identify the dialect.
func DetectFormat(content string) Format {
	sawTwoTokenLine := false
	sawIndentedLine := false

	scanner := bufio.NewScanner(strings.NewReader(content))
	checked := 0
	for scanner.Scan() && checked < 200 {
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		checked++

		switch {
		case strings.HasPrefix(trimmed, "CL: "),
			strings.HasPrefix(trimmed, "MD: "),
			strings.HasPrefix(trimmed, "FD: "),
			strings.HasPrefix(trimmed, "PK: "):
			return FormatSRG
		case strings.Contains(trimmed, " -> ") && strings.HasSuffix(trimmed, ":"):
			return FormatProGuard
		case strings.HasPrefix(trimmed, "tsrg2"):
			return FormatTSRG
		}

		if strings.HasPrefix(line, "\t") || strings.HasPrefix(line, " ") {
			sawIndentedLine = true
		} else if len(strings.Fields(trimmed)) == 2 {
			sawTwoTokenLine = true
		}
	}

	// TSRG v1 has no marker: top-level two-token class lines with indented
	// member lines underneath.
	if sawTwoTokenLine && sawIndentedLine {
		return FormatTSRG
	}
	if sawTwoTokenLine {
		return FormatTSRG
	}
	return FormatUnknown
}

// parseSRG handles CL:/FD:/MD: records. The file is already in
// obfuscated-to-readable direction.
func (l *Loader) parseSRG(content string, table *SymbolTable) ([]Diagnostic, error) {
	var diags []Diagnostic

	scanner := bufio.NewScanner(strings.NewReader(content))
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Fields(line)
		var err error

		switch fields[0] {
		case "PK:":
			// package records carry no symbols

		case "CL:":
			if len(fields) != 3 {
				err = fmt.Errorf("CL record needs 2 names, got %d fields", len(fields)-1)
				break
			}
			err = table.AddClass(fields[1], fields[2])

		case "FD:":
			if len(fields) != 3 {
				err = fmt.Errorf("FD record needs 2 paths, got %d fields", len(fields)-1)
				break
			}
			owner, name, splitOK := splitMemberPath(fields[1])
			_, readable, splitOK2 := splitMemberPath(fields[2])
			if !splitOK || !splitOK2 {
				err = fmt.Errorf("FD record paths missing owner segment")
				break
			}
			err = table.AddField(owner, name, readable)

		case "MD:":
			if len(fields) != 5 {
				err = fmt.Errorf("MD record needs 2 paths and 2 descriptors, got %d fields", len(fields)-1)
				break
			}
			owner, name, splitOK := splitMemberPath(fields[1])
			_, readable, splitOK2 := splitMemberPath(fields[3])
			if !splitOK || !splitOK2 {
				err = fmt.Errorf("MD record paths missing owner segment")
				break
			}
			err = table.AddMethod(owner, name, fields[2], readable)

		default:
			err = fmt.Errorf("unknown record type %q", fields[0])
		}

		if err != nil {
			if isCollision(err) {
				return diags, fmt.Errorf("line %d: %w", lineNo, err)
			}
			if l.strict {
				return diags, &EntryError{Line: lineNo, Reason: err.Error()}
			}
			diags = append(diags, Diagnostic{Line: lineNo, Text: line, Reason: err.Error()})
		}
	}

	return diags, nil
}

// parseTSRG handles the indentation-nested dialect: class lines at top level,
// member lines indented beneath their class. Direction is already canonical.
func (l *Loader) parseTSRG(content string, table *SymbolTable) ([]Diagnostic, error) {
	var diags []Diagnostic
	currentClass := ""

	scanner := bufio.NewScanner(strings.NewReader(content))
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") || strings.HasPrefix(trimmed, "tsrg2") {
			continue
		}

		indented := strings.HasPrefix(line, "\t") || strings.HasPrefix(line, " ")
		fields := strings.Fields(trimmed)
		var err error

		if !indented {
			if len(fields) != 2 {
				err = fmt.Errorf("class line needs 2 names, got %d fields", len(fields))
			} else {
				currentClass = fields[0]
				err = table.AddClass(fields[0], fields[1])
			}
		} else {
			switch {
			case currentClass == "":
				err = fmt.Errorf("member line before any class line")
			case len(fields) == 2:
				err = table.AddField(currentClass, fields[0], fields[1])
			case len(fields) == 3:
				err = table.AddMethod(currentClass, fields[0], fields[1], fields[2])
			default:
				err = fmt.Errorf("member line needs 2 or 3 fields, got %d", len(fields))
			}
		}

		if err != nil {
			if isCollision(err) {
				return diags, fmt.Errorf("line %d: %w", lineNo, err)
			}
			if l.strict {
				return diags, &EntryError{Line: lineNo, Reason: err.Error()}
			}
			diags = append(diags, Diagnostic{Line: lineNo, Text: trimmed, Reason: err.Error()})
			if !indented {
				currentClass = "" // members of a bad class line are unanchored
			}
		}
	}

	return diags, nil
}

// parseProGuard handles "readable -> obfuscated:" class headers with indented
// member lines. The file direction is reversed, entries are flipped on insert
// and dotted names converted to internal slash form.
func (l *Loader) parseProGuard(content string, table *SymbolTable) ([]Diagnostic, error) {
	var diags []Diagnostic
	currentObfClass := ""

	scanner := bufio.NewScanner(strings.NewReader(content))
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}

		var err error

		if strings.HasSuffix(trimmed, ":") && !strings.HasPrefix(line, " ") && !strings.HasPrefix(line, "\t") {
			readable, obf, ok := splitArrow(strings.TrimSuffix(trimmed, ":"))
			if !ok {
				err = fmt.Errorf("class header missing arrow")
			} else {
				obfInternal := strings.ReplaceAll(obf, ".", "/")
				currentObfClass = obfInternal
				err = table.AddClass(obfInternal, strings.ReplaceAll(readable, ".", "/"))
			}
		} else {
			if currentObfClass == "" {
				err = fmt.Errorf("member line before any class header")
			} else {
				err = l.parseProGuardMember(trimmed, currentObfClass, table)
			}
		}

		if err != nil {
			if isCollision(err) {
				return diags, fmt.Errorf("line %d: %w", lineNo, err)
			}
			if l.strict {
				return diags, &EntryError{Line: lineNo, Reason: err.Error()}
			}
			diags = append(diags, Diagnostic{Line: lineNo, Text: trimmed, Reason: err.Error()})
		}
	}

	return diags, nil
}

// parseProGuardMember handles one member line, e.g.
//
//	java.lang.String getToken() -> a
//	1:5:void tick(int) -> b
//	int count -> c
func (l *Loader) parseProGuardMember(line, ownerObf string, table *SymbolTable) error {
	left, obfName, ok := splitArrow(line)
	if !ok {
		return fmt.Errorf("member line missing arrow")
	}

	// strip leading "startLine:endLine:" range prefix on method lines
	if idx := strings.LastIndex(left, ":"); idx >= 0 {
		prefix := left[:idx+1]
		if strings.Count(prefix, ":") <= 2 && !strings.Contains(prefix, " ") {
			left = left[idx+1:]
		}
	}

	parts := strings.Fields(left)
	if len(parts) != 2 {
		return fmt.Errorf("member declaration needs a type and a name, got %q", left)
	}
	returnType, decl := parts[0], parts[1]

	if parenIdx := strings.Index(decl, "("); parenIdx >= 0 {
		readableName := decl[:parenIdx]
		signature := decl[parenIdx:] + returnType // args + return type keep overloads apart
		return table.AddMethod(ownerObf, obfName, signature, readableName)
	}
	return table.AddField(ownerObf, obfName, decl)
}

func splitArrow(s string) (left, right string, ok bool) {
	idx := strings.Index(s, " -> ")
	if idx < 0 {
		return "", "", false
	}
	left = strings.TrimSpace(s[:idx])
	right = strings.TrimSpace(s[idx+4:])
	if left == "" || right == "" {
		return "", "", false
	}
	return left, right, true
}

// splitMemberPath splits "com/example/Class/member" into owner and member.
func splitMemberPath(path string) (owner, name string, ok bool) {
	idx := strings.LastIndex(path, "/")
	if idx <= 0 || idx == len(path)-1 {
		return "", "", false
	}
	return path[:idx], path[idx+1:], true
}

func isCollision(err error) bool {
	_, ok := err.(*CollisionError)
	return ok
}
