package inspector

import (
	"archive/zip"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func writeTestJar(t *testing.T, entries map[string]string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.jar")
	f, err := os.Create(path)
	require.NoError(t, err)

	w := zip.NewWriter(f)
	for name, content := range entries {
		entry, err := w.Create(name)
		require.NoError(t, err)
		_, err = entry.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	require.NoError(t, f.Close())

	return path
}

func TestInspectClassifiesEntries(t *testing.T) {
	path := writeTestJar(t, map[string]string{
		"com/example/Main.class":   "\xca\xfe\xba\xbe",
		"com/example/a/b.class":    "\xca\xfe\xba\xbe",
		"assets/lang/en_us.json":   "{}",
		"META-INF/MANIFEST.MF":     "Manifest-Version: 1.0\n",
	})

	inv, err := NewInspector(testLogger()).Inspect(path)
	require.NoError(t, err)

	assert.Equal(t, "test.jar", inv.ArchiveName)
	assert.Len(t, inv.ClassEntries, 2)
	assert.Len(t, inv.ResourceEntries, 2)
	assert.Contains(t, inv.ClassEntries, "com/example/Main.class")
	assert.Contains(t, inv.ResourceEntries, "assets/lang/en_us.json")
}

func TestInspectNotAnArchive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notajar.jar")
	require.NoError(t, os.WriteFile(path, []byte("plain text, not a zip"), 0644))

	_, err := NewInspector(testLogger()).Inspect(path)
	require.Error(t, err)

	var notArchive *NotAnArchiveError
	assert.True(t, errors.As(err, &notArchive))
}

func TestInspectMissingFile(t *testing.T) {
	_, err := NewInspector(testLogger()).Inspect(filepath.Join(t.TempDir(), "missing.jar"))
	require.Error(t, err)

	var readErr *ArchiveReadError
	assert.True(t, errors.As(err, &readErr))
}

func TestInspectParsesMcmodInfo(t *testing.T) {
	path := writeTestJar(t, map[string]string{
		"mcmod.info": `[{"modid":"examplemod","name":"Example Mod","version":"1.2.3","mcversion":"1.8.9"}]`,
	})

	inv, err := NewInspector(testLogger()).Inspect(path)
	require.NoError(t, err)
	require.NotNil(t, inv.Metadata)

	assert.Equal(t, "mcmod.info", inv.Metadata.Source)
	assert.Equal(t, "examplemod", inv.Metadata.ModID)
	assert.Equal(t, "1.8.9", inv.Metadata.MCVersion)
	assert.Equal(t, "Example Mod 1.2.3 (mc 1.8.9)", inv.Metadata.Summary())
}

func TestInspectParsesModsToml(t *testing.T) {
	path := writeTestJar(t, map[string]string{
		"META-INF/mods.toml": `
modLoader = "javafml"
loaderVersion = "[36,)"

[[mods]]
modId = "newmod"
displayName = "New Mod"
version = "2.0.0"

[[mods]]
modId = "ignored"
`,
	})

	inv, err := NewInspector(testLogger()).Inspect(path)
	require.NoError(t, err)
	require.NotNil(t, inv.Metadata)

	assert.Equal(t, "META-INF/mods.toml", inv.Metadata.Source)
	assert.Equal(t, "newmod", inv.Metadata.ModID)
	assert.Equal(t, "New Mod", inv.Metadata.Name)
	assert.Equal(t, "[36,)", inv.Metadata.MCVersion)
}

func TestInspectMcmodInfoWinsOverManifest(t *testing.T) {
	path := writeTestJar(t, map[string]string{
		"mcmod.info":           `[{"modid":"primary","mcversion":"1.12.2"}]`,
		"META-INF/MANIFEST.MF": "Implementation-Title: secondary\nImplementation-Version: 9.9\n",
	})

	inv, err := NewInspector(testLogger()).Inspect(path)
	require.NoError(t, err)
	require.NotNil(t, inv.Metadata)
	assert.Equal(t, "primary", inv.Metadata.ModID)
}

func TestInspectManifestFallback(t *testing.T) {
	path := writeTestJar(t, map[string]string{
		"META-INF/MANIFEST.MF": "Manifest-Version: 1.0\nImplementation-Title: SomeLib\nImplementation-Version: 3.1\n",
	})

	inv, err := NewInspector(testLogger()).Inspect(path)
	require.NoError(t, err)
	require.NotNil(t, inv.Metadata)

	assert.Equal(t, "META-INF/MANIFEST.MF", inv.Metadata.Source)
	assert.Equal(t, "SomeLib", inv.Metadata.Name)
	assert.Equal(t, "3.1", inv.Metadata.Version)
}

func TestReadEntry(t *testing.T) {
	path := writeTestJar(t, map[string]string{
		"config/settings.json": `{"key":"value"}`,
	})

	insp := NewInspector(testLogger())

	data, err := insp.ReadEntry(path, "config/settings.json")
	require.NoError(t, err)
	assert.Equal(t, `{"key":"value"}`, string(data))

	_, err = insp.ReadEntry(path, "missing.txt")
	assert.Error(t, err)
}
