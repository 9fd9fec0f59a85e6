package repository

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/schaermu/cup/internal/address"
	"github.com/schaermu/cup/internal/git"
	"github.com/schaermu/cup/internal/manifest"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockGitClient struct {
	initErr    error
	cloneErr   error
	commitErr  error
	commitHash string

	cloneURL  string
	cloneDest string
	commits   []string
	// cloneSetup populates the clone destination
	cloneSetup func(destDir string)
	// initSetup runs on the new repository directory
	initSetup func(dir string)
}

// Init creates dir before failing, like git init does
func (m *mockGitClient) Init(_ context.Context, dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	if m.initSetup != nil {
		m.initSetup(dir)
	}
	return m.initErr
}

func (m *mockGitClient) Clone(_ context.Context, url, destDir string) error {
	m.cloneURL = url
	m.cloneDest = destDir
	if m.cloneErr != nil {
		return m.cloneErr
	}
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return err
	}
	if m.cloneSetup != nil {
		m.cloneSetup(destDir)
	}
	return nil
}

func (m *mockGitClient) CommitAll(_ context.Context, dir, message string) (string, error) {
	if m.commitErr != nil {
		return "", m.commitErr
	}
	m.commits = append(m.commits, message)
	return m.commitHash, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestStore(t *testing.T, client *mockGitClient) *Store {
	t.Helper()
	return NewStore(filepath.Join(t.TempDir(), "data"), client, testLogger(), true)
}

// writeCollection lays out a valid dotfile collection in dir
func writeCollection(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	fs := afero.NewOsFs()
	m, err := manifest.Create(fs, filepath.Join(dir, manifest.FileName), filepath.Base(dir))
	require.NoError(t, err)

	for archivePath, content := range files {
		addr, err := address.FromArchivePath(archivePath)
		require.NoError(t, err)
		m.Append(addr)

		p := filepath.Join(dir, ArchiveDirName, filepath.FromSlash(archivePath))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0644))
	}
	m.Normalize()
	require.NoError(t, m.Write())
}

func TestInit(t *testing.T) {
	client := &mockGitClient{commitHash: "abc123"}
	store := newTestStore(t, client)

	repo, err := store.Init(context.Background(), "laptop")
	require.NoError(t, err)

	assert.Equal(t, "laptop", repo.Name())
	assert.Equal(t, filepath.Join(store.DataDir(), "laptop"), repo.Path())
	assert.DirExists(t, repo.ArchiveDir())
	assert.FileExists(t, repo.ManifestPath())
	assert.Equal(t, []string{"Update laptop"}, client.commits)

	m, err := repo.Manifest()
	require.NoError(t, err)
	assert.Equal(t, "laptop", m.Name)
	assert.Empty(t, m.Files)
	assert.NotEmpty(t, m.ID)
}

func TestInit_AlreadyExists(t *testing.T) {
	store := newTestStore(t, &mockGitClient{})

	_, err := store.Init(context.Background(), "laptop")
	require.NoError(t, err)

	_, err = store.Init(context.Background(), "laptop")
	assert.ErrorIs(t, err, ErrAlreadyExists)
}

func TestInit_GitFailure(t *testing.T) {
	client := &mockGitClient{initErr: errors.New(`exec: "git": executable file not found in $PATH`)}
	store := newTestStore(t, client)

	_, err := store.Init(context.Background(), "laptop")
	assert.ErrorContains(t, err, "failed to initialize repository")
	assert.NoDirExists(t, filepath.Join(store.DataDir(), "laptop"))

	names, err := store.List()
	require.NoError(t, err)
	assert.Empty(t, names)

	// A later attempt is not blocked by the failed one.
	client.initErr = nil
	_, err = store.Init(context.Background(), "laptop")
	require.NoError(t, err)
}

func TestInit_ManifestFailureCleansUp(t *testing.T) {
	client := &mockGitClient{initSetup: func(dir string) {
		// a manifest left behind by someone else
		_ = os.WriteFile(filepath.Join(dir, manifest.FileName), []byte("id: x\n"), 0644)
	}}
	store := newTestStore(t, client)

	_, err := store.Init(context.Background(), "laptop")
	assert.ErrorIs(t, err, manifest.ErrAlreadyExists)
	assert.NoDirExists(t, filepath.Join(store.DataDir(), "laptop"))
	assert.Empty(t, client.commits)
}

func TestInit_InvalidName(t *testing.T) {
	store := newTestStore(t, &mockGitClient{})
	for _, name := range []string{"", ".", "..", "a/b"} {
		_, err := store.Init(context.Background(), name)
		assert.Error(t, err, name)
	}
}

func TestOpen(t *testing.T) {
	store := newTestStore(t, &mockGitClient{})

	_, err := store.Open("missing")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = store.Init(context.Background(), "laptop")
	require.NoError(t, err)

	repo, err := store.Open("laptop")
	require.NoError(t, err)
	assert.Equal(t, "laptop", repo.Name())
}

func TestList(t *testing.T) {
	store := newTestStore(t, &mockGitClient{})

	names, err := store.List()
	require.NoError(t, err)
	assert.Empty(t, names)

	for _, name := range []string{"work", "laptop"} {
		_, err := store.Init(context.Background(), name)
		require.NoError(t, err)
	}
	require.NoError(t, os.WriteFile(filepath.Join(store.DataDir(), "stray.txt"), []byte("x"), 0644))

	names, err = store.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"laptop", "work"}, names)
}

func TestCommitChanges(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		client := &mockGitClient{}
		store := NewStore(t.TempDir(), client, testLogger(), false)
		require.NoError(t, store.repository("laptop").CommitChanges(context.Background()))
		assert.Empty(t, client.commits)
	})

	t.Run("nothing to commit", func(t *testing.T) {
		client := &mockGitClient{}
		store := newTestStore(t, client)
		require.NoError(t, store.repository("laptop").CommitChanges(context.Background()))
		assert.Len(t, client.commits, 1)
	})

	t.Run("failure", func(t *testing.T) {
		store := newTestStore(t, &mockGitClient{commitErr: errors.New("locked")})
		err := store.repository("laptop").CommitChanges(context.Background())
		assert.ErrorContains(t, err, "failed to commit changes")
	})
}

func TestCheck(t *testing.T) {
	store := newTestStore(t, &mockGitClient{})
	repo := store.repository("dots")

	err := repo.Check()
	assert.ErrorIs(t, err, ErrInvalidRepository)
	assert.ErrorIs(t, err, manifest.ErrNotFound)

	writeCollection(t, repo.Path(), map[string]string{"user/.bashrc": "alias ll='ls -l'\n"})
	assert.NoError(t, repo.Check())

	require.NoError(t, os.Remove(filepath.Join(repo.ArchiveDir(), "user", ".bashrc")))
	err = repo.Check()
	assert.ErrorIs(t, err, ErrInvalidRepository)
	assert.ErrorContains(t, err, "user/.bashrc")
}

func TestClone(t *testing.T) {
	client := &mockGitClient{
		cloneSetup: func(destDir string) {
			writeCollection(t, destDir, map[string]string{"root/etc/hosts": "127.0.0.1 localhost\n"})
		},
	}
	store := newTestStore(t, client)

	repo, err := store.Clone(context.Background(), "felpofo/dotfiles")
	require.NoError(t, err)

	assert.Equal(t, "https://github.com/felpofo/dotfiles", client.cloneURL)
	assert.Equal(t, "dotfiles", repo.Name())
	assert.Equal(t, filepath.Join(store.DataDir(), "dotfiles"), client.cloneDest)
	assert.NoError(t, repo.Check())
}

func TestClone_ReplacesExisting(t *testing.T) {
	client := &mockGitClient{
		cloneSetup: func(destDir string) {
			writeCollection(t, destDir, nil)
		},
	}
	store := newTestStore(t, client)

	existing := filepath.Join(store.DataDir(), "dotfiles")
	require.NoError(t, os.MkdirAll(existing, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(existing, "old.txt"), []byte("old"), 0644))

	_, err := store.Clone(context.Background(), "git@github.com:felpofo/dotfiles.git")
	require.NoError(t, err)

	assert.NoFileExists(t, filepath.Join(existing, "old.txt"))
	assert.FileExists(t, filepath.Join(existing, manifest.FileName))
}

func TestClone_InvalidCollectionIsDeleted(t *testing.T) {
	client := &mockGitClient{
		cloneSetup: func(destDir string) {
			require.NoError(t, os.WriteFile(filepath.Join(destDir, "README.md"), []byte("hi"), 0644))
		},
	}
	store := newTestStore(t, client)

	_, err := store.Clone(context.Background(), "felpofo/not-dotfiles")
	assert.ErrorIs(t, err, ErrInvalidRepository)
	assert.NoDirExists(t, filepath.Join(store.DataDir(), "not-dotfiles"))
}

func TestClone_Errors(t *testing.T) {
	store := newTestStore(t, &mockGitClient{})
	_, err := store.Clone(context.Background(), "not a ref")
	assert.ErrorIs(t, err, git.ErrInvalidRemote)

	store = newTestStore(t, &mockGitClient{cloneErr: errors.New("network down")})
	_, err = store.Clone(context.Background(), "felpofo/dotfiles")
	assert.ErrorContains(t, err, "failed to clone repository")
}
