package workspace

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateAndRemove(t *testing.T) {
	fs := afero.NewMemMapFs()
	m, err := NewManager(fs, "/scratch", nil)
	require.NoError(t, err)

	ws, err := m.Create("clip")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(filepath.Base(ws.Dir()), "clipper-clip-"))

	require.NoError(t, afero.WriteFile(fs, ws.Path("source.mp4"), []byte("data"), 0o644))

	require.NoError(t, ws.Remove())
	exists, err := afero.DirExists(fs, ws.Dir())
	require.NoError(t, err)
	assert.False(t, exists)

	// second call is a no-op
	assert.NoError(t, ws.Remove())
}

func TestWorkspacesAreDistinct(t *testing.T) {
	m, err := NewManager(afero.NewMemMapFs(), "/scratch", nil)
	require.NoError(t, err)

	a, err := m.Create("clip")
	require.NoError(t, err)
	b, err := m.Create("clip")
	require.NoError(t, err)
	assert.NotEqual(t, a.Dir(), b.Dir())
}

func TestDetachSurvivesRemove(t *testing.T) {
	fs := afero.NewMemMapFs()
	m, err := NewManager(fs, "/scratch", nil)
	require.NoError(t, err)

	ws, err := m.Create("preview")
	require.NoError(t, err)
	require.NoError(t, afero.WriteFile(fs, ws.Path("source.mp4"), []byte("video"), 0o644))

	dst := "/cache/abc.mp4"
	require.NoError(t, ws.Detach("source.mp4", dst))
	require.NoError(t, ws.Remove())

	data, err := afero.ReadFile(fs, dst)
	require.NoError(t, err)
	assert.Equal(t, "video", string(data))
}

func TestMoveByCopy(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/a/src", []byte("payload"), 0o644))
	require.NoError(t, fs.MkdirAll("/b", 0o755))

	require.NoError(t, moveByCopy(fs, "/a/src", "/b/dst"))

	data, err := afero.ReadFile(fs, "/b/dst")
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))

	exists, err := afero.Exists(fs, "/a/src")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestOsBackedManager(t *testing.T) {
	m, err := NewManager(nil, t.TempDir(), nil)
	require.NoError(t, err)

	ws, err := m.Create("os")
	require.NoError(t, err)
	defer ws.Remove()

	assert.DirExists(t, ws.Dir())
}
