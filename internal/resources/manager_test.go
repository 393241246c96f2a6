package resources

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_CleanupRemovesEverything(t *testing.T) {
	m, err := NewManagerIn(t.TempDir(), nil)
	require.NoError(t, err)

	src := m.SourcePath(".pdf")
	require.NoError(t, os.WriteFile(src, []byte("%PDF"), 0o600))

	var created []string
	for _, key := range []string{"pages_1-10", "pages_11-20", "pages_21-25"} {
		p, err := m.ChunkPath(key)
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(p, []byte("chunk"), 0o600))
		dir, err := m.ImageDir(key)
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(filepath.Join(dir, "page_001.jpg"), []byte("img"), 0o600))
		created = append(created, p, dir)
	}

	warnings := m.Cleanup()
	assert.Empty(t, warnings)

	for _, p := range append(created, src, m.Dir()) {
		_, err := os.Stat(p)
		assert.True(t, os.IsNotExist(err), "expected %s to be removed", p)
	}
}

func TestManager_CleanupOrder(t *testing.T) {
	m, err := NewManagerIn(t.TempDir(), nil)
	require.NoError(t, err)

	src := m.SourcePath(".pdf")
	chunk, err := m.ChunkPath("pages_1-2")
	require.NoError(t, err)
	imgs, err := m.ImageDir("pages_1-2")
	require.NoError(t, err)

	var removed []string
	m.removeAll = func(p string) error {
		removed = append(removed, p)
		return os.RemoveAll(p)
	}
	m.Cleanup()

	assert.Equal(t, []string{chunk, imgs, src, m.Dir()}, removed)
}

func TestManager_CleanupFailuresAreWarnings(t *testing.T) {
	m, err := NewManagerIn(t.TempDir(), nil)
	require.NoError(t, err)
	_, err = m.ChunkPath("pages_1-2")
	require.NoError(t, err)
	m.SourcePath(".pdf")

	calls := 0
	m.removeAll = func(p string) error {
		calls++
		if calls == 1 {
			return errors.New("permission denied")
		}
		return os.RemoveAll(p)
	}

	warnings := m.Cleanup()
	assert.Len(t, warnings, 1)
	assert.Equal(t, 3, calls, "cleanup must continue past a failed removal")
}

func TestManager_CleanupIsIdempotent(t *testing.T) {
	m, err := NewManagerIn(t.TempDir(), nil)
	require.NoError(t, err)

	assert.Empty(t, m.Cleanup())
	assert.Nil(t, m.Cleanup())

	_, err = m.ChunkPath("pages_1-2")
	assert.Error(t, err)
	_, err = m.ImageDir("pages_1-2")
	assert.Error(t, err)
}
