package mapping

import (
	"fmt"
	"sort"
)

// Format identifies a mapping file dialect.
type Format string

const (
	FormatSRG      Format = "srg"
	FormatTSRG     Format = "tsrg"
	FormatProGuard Format = "proguard"
	FormatUnknown  Format = "unknown"
)

// CollisionError reports two entries that map the same obfuscated symbol to
// different readable names. A colliding table is unusable, loading stops.
type CollisionError struct {
	Kind     string // class, field, method
	Key      string
	Existing string
	New      string
}

func (e *CollisionError) Error() string {
	return fmt.Sprintf("mapping collision: %s %q maps to both %q and %q", e.Kind, e.Key, e.Existing, e.New)
}

// EntryError reports a malformed line rejected in strict mode.
type EntryError struct {
	Line   int
	Text   string
	Reason string
}

func (e *EntryError) Error() string {
	return fmt.Sprintf("malformed mapping entry at line %d: %s", e.Line, e.Reason)
}

// FormatError reports a file whose dialect could not be recognized at all.
type FormatError struct {
	Path   string
	Reason string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("unrecognized mapping format in %s: %s", e.Path, e.Reason)
}

// SymbolTable holds mappings in the canonical direction: obfuscated name to
// readable name, class names in internal (slash-separated) form. Loaders for
// reversed dialects flip their entries before insertion.
type SymbolTable struct {
	classes map[string]string // obf internal name -> readable internal name
	fields  map[string]string // "ownerObf.obfName" -> readable simple name
	methods map[string]string // "ownerObf.obfName desc" -> readable simple name
}

func NewSymbolTable() *SymbolTable {
	return &SymbolTable{
		classes: make(map[string]string),
		fields:  make(map[string]string),
		methods: make(map[string]string),
	}
}

// AddClass records an obfuscated-to-readable class pair. Re-adding an
// identical pair is a no-op; a conflicting pair is a hard error.
func (t *SymbolTable) AddClass(obf, readable string) error {
	if existing, ok := t.classes[obf]; ok {
		if existing == readable {
			return nil
		}
		return &CollisionError{Kind: "class", Key: obf, Existing: existing, New: readable}
	}
	t.classes[obf] = readable
	return nil
}

func (t *SymbolTable) AddField(ownerObf, obf, readable string) error {
	key := ownerObf + "." + obf
	if existing, ok := t.fields[key]; ok {
		if existing == readable {
			return nil
		}
		return &CollisionError{Kind: "field", Key: key, Existing: existing, New: readable}
	}
	t.fields[key] = readable
	return nil
}

// AddMethod keys on owner, name and descriptor so overloads stay distinct.
func (t *SymbolTable) AddMethod(ownerObf, obf, descriptor, readable string) error {
	key := ownerObf + "." + obf + " " + descriptor
	if existing, ok := t.methods[key]; ok {
		if existing == readable {
			return nil
		}
		return &CollisionError{Kind: "method", Key: key, Existing: existing, New: readable}
	}
	t.methods[key] = readable
	return nil
}

func (t *SymbolTable) LookupClass(obf string) (string, bool) {
	readable, ok := t.classes[obf]
	return readable, ok
}

func (t *SymbolTable) LookupField(ownerObf, obf string) (string, bool) {
	readable, ok := t.fields[ownerObf+"."+obf]
	return readable, ok
}

func (t *SymbolTable) LookupMethod(ownerObf, obf, descriptor string) (string, bool) {
	readable, ok := t.methods[ownerObf+"."+obf+" "+descriptor]
	return readable, ok
}

func (t *SymbolTable) ClassCount() int  { return len(t.classes) }
func (t *SymbolTable) FieldCount() int  { return len(t.fields) }
func (t *SymbolTable) MethodCount() int { return len(t.methods) }

// ClassPairs returns all class mappings sorted by obfuscated name length,
// longest first, then lexicographically. Renamers apply substitutions in
// this order so a short name never clobbers part of a longer one.
func (t *SymbolTable) ClassPairs() []ClassPair {
	pairs := make([]ClassPair, 0, len(t.classes))
	for obf, readable := range t.classes {
		pairs = append(pairs, ClassPair{Obfuscated: obf, Readable: readable})
	}
	sort.Slice(pairs, func(i, j int) bool {
		if len(pairs[i].Obfuscated) != len(pairs[j].Obfuscated) {
			return len(pairs[i].Obfuscated) > len(pairs[j].Obfuscated)
		}
		return pairs[i].Obfuscated < pairs[j].Obfuscated
	})
	return pairs
}

type ClassPair struct {
	Obfuscated string
	Readable   string
}

// MemberPairs returns all field and method mappings as simple-name pairs,
// longest obfuscated name first. Owner context is dropped; source-level
// rename works on bare identifiers.
func (t *SymbolTable) MemberPairs() []ClassPair {
	seen := make(map[string]string)
	for key, readable := range t.fields {
		name := simpleNameFromKey(key)
		seen[name] = readable
	}
	for key, readable := range t.methods {
		name := simpleNameFromMethodKey(key)
		if _, ok := seen[name]; !ok {
			seen[name] = readable
		}
	}

	pairs := make([]ClassPair, 0, len(seen))
	for obf, readable := range seen {
		pairs = append(pairs, ClassPair{Obfuscated: obf, Readable: readable})
	}
	sort.Slice(pairs, func(i, j int) bool {
		if len(pairs[i].Obfuscated) != len(pairs[j].Obfuscated) {
			return len(pairs[i].Obfuscated) > len(pairs[j].Obfuscated)
		}
		return pairs[i].Obfuscated < pairs[j].Obfuscated
	})
	return pairs
}

func simpleNameFromKey(key string) string {
	for i := len(key) - 1; i >= 0; i-- {
		if key[i] == '.' {
			return key[i+1:]
		}
	}
	return key
}

func simpleNameFromMethodKey(key string) string {
	name := key
	for i := 0; i < len(name); i++ {
		if name[i] == ' ' {
			name = name[:i]
			break
		}
	}
	return simpleNameFromKey(name)
}
