package decompiler

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jar-analysis/jar-analysis-go/internal/mapping"
)

func buildTable(t *testing.T) *mapping.SymbolTable {
	t.Helper()
	table := mapping.NewSymbolTable()
	require.NoError(t, table.AddClass("a", "net/minecraft/client/Minecraft"))
	require.NoError(t, table.AddClass("ab", "net/minecraft/util/Session"))
	require.NoError(t, table.AddField("ab", "c", "token"))
	require.NoError(t, table.AddMethod("a", "d", "()V", "runTick"))
	return table
}

func TestRenameSourceClasses(t *testing.T) {
	r := NewRenamer(buildTable(t))

	src := "public class Foo extends a {\n  private ab session;\n}\n"
	out := r.RenameSource(src)

	assert.Contains(t, out, "extends net.minecraft.client.Minecraft")
	assert.Contains(t, out, "net.minecraft.util.Session session")
}

// "ab" must be matched before "a": a short mapping never rewrites part of a
// longer obfuscated name.
func TestRenameSourceLongestMatchFirst(t *testing.T) {
	r := NewRenamer(buildTable(t))

	out := r.RenameSource("ab x = new ab();")
	assert.Equal(t, "net.minecraft.util.Session x = new net.minecraft.util.Session();", out)
}

func TestRenameSourceIdentifierBoundaries(t *testing.T) {
	r := NewRenamer(buildTable(t))

	// "a" inside longer identifiers stays untouched
	out := r.RenameSource("int alpha = data;")
	assert.Equal(t, "int alpha = data;", out)
}

func TestRenameSourceMembers(t *testing.T) {
	r := NewRenamer(buildTable(t))

	out := r.RenameSource("this.c = null;\nthis.d();\n")
	assert.Contains(t, out, "this.token = null;")
	assert.Contains(t, out, "this.runTick();")
}

func TestRenameTree(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Foo.java"), []byte("class Foo extends a {}"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "Bar.java"), []byte("class Bar {}"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("a"), 0644))

	r := NewRenamer(buildTable(t))
	changed, err := r.RenameTree(dir)
	require.NoError(t, err)

	assert.Equal(t, 1, changed)

	data, err := os.ReadFile(filepath.Join(dir, "Foo.java"))
	require.NoError(t, err)
	assert.Equal(t, "class Foo extends net.minecraft.client.Minecraft {}", string(data))

	// non-java files are left alone
	data, err = os.ReadFile(filepath.Join(dir, "notes.txt"))
	require.NoError(t, err)
	assert.Equal(t, "a", string(data))
}
