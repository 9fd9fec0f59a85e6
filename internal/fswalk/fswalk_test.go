package fswalk

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFiles(t *testing.T) {
	fs := afero.NewMemMapFs()
	for _, p := range []string{"/src/b.txt", "/src/a/.hidden", "/src/a/deep/c.conf"} {
		require.NoError(t, afero.WriteFile(fs, p, []byte("x"), 0644))
	}
	require.NoError(t, fs.MkdirAll("/src/empty", 0755))

	files, err := Files(fs, "/src")
	require.NoError(t, err)
	assert.Equal(t, []string{"a/.hidden", "a/deep/c.conf", "b.txt"}, files)
}

func TestFiles_MissingDir(t *testing.T) {
	files, err := Files(afero.NewMemMapFs(), "/nope")
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestFiles_BasePath(t *testing.T) {
	base := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(base, "/archive/user/.bashrc", []byte("x"), 0644))
	fs := afero.NewBasePathFs(base, "/archive")

	files, err := Files(fs, ".")
	require.NoError(t, err)
	assert.Equal(t, []string{"user/.bashrc"}, files)
}

func TestIsDir(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/d/f", []byte("x"), 0644))

	assert.True(t, IsDir(fs, "/d"))
	assert.False(t, IsDir(fs, "/d/f"))
	assert.False(t, IsDir(fs, "/missing"))
}
