package locator

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/northshore/blockindex/pkg/types"
)

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
}

func discoverNames(t *testing.T, files []types.DrawingFile) []string {
	t.Helper()
	names := make([]string, 0, len(files))
	for _, f := range files {
		names = append(names, filepath.Base(f.Path))
	}
	return names
}

func TestDiscoverFiltersByExtension(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "plan.dwg"))
	touch(t, filepath.Join(root, "detail.DXF"))
	touch(t, filepath.Join(root, "notes.txt"))
	touch(t, filepath.Join(root, "sub", "deep", "site.dwg"))

	files, err := New(root, []string{".dwg", ".dxf"}).Discover()
	require.NoError(t, err)

	names := discoverNames(t, files)
	assert.ElementsMatch(t, []string{"plan.dwg", "detail.DXF", "site.dwg"}, names)

	for _, f := range files {
		assert.True(t, filepath.IsAbs(f.Path))
		assert.NotZero(t, f.Size)
		assert.False(t, f.ModTime.IsZero())
	}
}

func TestDiscoverFormatDetection(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "a.dwg"))
	touch(t, filepath.Join(root, "b.dxf"))

	files, err := New(root, []string{".dwg", ".dxf"}).Discover()
	require.NoError(t, err)
	require.Len(t, files, 2)

	formats := map[string]types.DrawingFormat{}
	for _, f := range files {
		formats[filepath.Base(f.Path)] = f.Format
	}
	assert.Equal(t, types.FormatDWG, formats["a.dwg"])
	assert.Equal(t, types.FormatDXF, formats["b.dxf"])
}

func TestDiscoverMissingRoot(t *testing.T) {
	files, err := New(filepath.Join(t.TempDir(), "absent"), []string{".dwg"}).Discover()
	require.NoError(t, err)
	require.NotNil(t, files)
	assert.Empty(t, files)
}

func TestDiscoverRootIsFile(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "plan.dwg")
	touch(t, path)

	_, err := New(path, []string{".dwg"}).Discover()
	assert.Error(t, err)
}

func TestDiscoverSymlinkCycleTerminates(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "a", "plan.dwg"))

	// a/loop points back at the root.
	err := os.Symlink(root, filepath.Join(root, "a", "loop"))
	if err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	files, derr := New(root, []string{".dwg"}).Discover()
	require.NoError(t, derr)
	assert.Len(t, files, 1)
}

func TestDiscoverEmptyRoot(t *testing.T) {
	files, err := New(t.TempDir(), []string{".dwg"}).Discover()
	require.NoError(t, err)
	assert.Empty(t, files)
}
