// Package repository manages the git repositories that hold one dotfile
// collection each: a manifest document plus the files archive.
package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"

	"github.com/schaermu/cup/internal/git"
	"github.com/schaermu/cup/internal/manifest"
	"github.com/spf13/afero"
)

// ArchiveDirName is the archive directory inside a repository
const ArchiveDirName = "files"

var (
	// ErrAlreadyExists is returned by Init when the repository directory is taken
	ErrAlreadyExists = errors.New("repository already exists")
	// ErrNotFound is returned by Open for unknown repositories
	ErrNotFound = errors.New("repository not found")
	// ErrInvalidRepository is returned by Check when a repository does not hold
	// a usable dotfile collection
	ErrInvalidRepository = errors.New("repository does not contain a dotfile collection")
)

// Store manages the repositories below a data directory
type Store struct {
	dataDir string
	git     git.Client
	fs      afero.Fs
	logger  *slog.Logger
	commit  bool
}

// NewStore creates a store rooted at dataDir. When commit is false saves are
// written but never committed.
func NewStore(dataDir string, gitClient git.Client, logger *slog.Logger, commit bool) *Store {
	return &Store{
		dataDir: dataDir,
		git:     gitClient,
		fs:      afero.NewOsFs(),
		logger:  logger,
		commit:  commit,
	}
}

// DataDir returns the directory holding every repository
func (s *Store) DataDir() string {
	return s.dataDir
}

// Init creates a new repository with an empty manifest
func (s *Store) Init(ctx context.Context, name string) (*Repository, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}

	repo := s.repository(name)
	if _, err := s.fs.Stat(repo.path); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyExists, name)
	}

	s.logger.Info("initializing repository", "name", name, "path", repo.path)
	if err := s.initialize(ctx, repo); err != nil {
		// a half-created repository would block every later Init
		if rmErr := s.fs.RemoveAll(repo.path); rmErr != nil {
			s.logger.Warn("failed to clean up repository", "path", repo.path, "error", rmErr)
		}
		return nil, err
	}

	if err := repo.CommitChanges(ctx); err != nil {
		s.logger.Warn("failed to commit new repository", "name", name, "error", err)
	}

	return repo, nil
}

func (s *Store) initialize(ctx context.Context, repo *Repository) error {
	if err := s.git.Init(ctx, repo.path); err != nil {
		return fmt.Errorf("failed to initialize repository: %w", err)
	}
	if err := s.fs.MkdirAll(repo.ArchiveDir(), 0755); err != nil {
		return fmt.Errorf("failed to create archive directory: %w", err)
	}

	_, err := manifest.Create(s.fs, repo.ManifestPath(), repo.name)
	return err
}

// Open returns an existing repository
func (s *Store) Open(name string) (*Repository, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}

	repo := s.repository(name)
	info, err := s.fs.Stat(repo.path)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return repo, nil
}

// List returns the names of all repositories, sorted
func (s *Store) List() ([]string, error) {
	entries, err := afero.ReadDir(s.fs, s.dataDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read data directory: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	slices.Sort(names)
	return names, nil
}

// Clone imports a remote repository, replacing any local repository of the
// same name. A clone that fails Check is deleted again.
func (s *Store) Clone(ctx context.Context, ref string) (*Repository, error) {
	remote, err := git.ParseRemote(ref)
	if err != nil {
		return nil, err
	}

	repo := s.repository(remote.Name)
	if _, err := s.fs.Stat(repo.path); err == nil {
		s.logger.Info("replacing existing repository", "name", remote.Name, "path", repo.path)
		if err := repo.Delete(); err != nil {
			return nil, err
		}
	}

	s.logger.Info("cloning repository", "url", remote.URL, "dest", repo.path)
	if err := s.git.Clone(ctx, remote.URL, repo.path); err != nil {
		return nil, fmt.Errorf("failed to clone repository: %w", err)
	}

	if err := repo.Check(); err != nil {
		if delErr := repo.Delete(); delErr != nil {
			return nil, errors.Join(err, delErr)
		}
		return nil, err
	}

	return repo, nil
}

func (s *Store) repository(name string) *Repository {
	return &Repository{
		name:   name,
		path:   filepath.Join(s.dataDir, name),
		git:    s.git,
		fs:     s.fs,
		logger: s.logger,
		commit: s.commit,
	}
}

func validateName(name string) error {
	if name == "" || name == "." || name == ".." || filepath.Base(name) != name {
		return fmt.Errorf("invalid repository name %q", name)
	}
	return nil
}

// Repository is one dotfile collection on disk
type Repository struct {
	name   string
	path   string
	git    git.Client
	fs     afero.Fs
	logger *slog.Logger
	commit bool
}

// Name returns the repository name
func (r *Repository) Name() string {
	return r.name
}

// Path returns the repository directory
func (r *Repository) Path() string {
	return r.path
}

// ManifestPath returns the location of the manifest document
func (r *Repository) ManifestPath() string {
	return filepath.Join(r.path, manifest.FileName)
}

// ArchiveDir returns the directory holding the archived file copies
func (r *Repository) ArchiveDir() string {
	return filepath.Join(r.path, ArchiveDirName)
}

// Manifest loads the repository's manifest
func (r *Repository) Manifest() (*manifest.Manifest, error) {
	return manifest.Load(r.fs, r.ManifestPath())
}

// CommitChanges commits everything in the repository. It is a no-op when
// committing is disabled or nothing changed.
func (r *Repository) CommitChanges(ctx context.Context) error {
	if !r.commit {
		r.logger.Debug("commit disabled, skipping", "name", r.name)
		return nil
	}

	hash, err := r.git.CommitAll(ctx, r.path, "Update "+r.name)
	if err != nil {
		return fmt.Errorf("failed to commit changes: %w", err)
	}
	if hash == "" {
		r.logger.Debug("nothing to commit", "name", r.name)
		return nil
	}

	r.logger.Info("committed changes", "name", r.name, "commit", hash)
	return nil
}

// Check verifies that the manifest loads and that every tracked file has a
// copy in the archive.
func (r *Repository) Check() error {
	m, err := r.Manifest()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRepository, err)
	}

	var errs []error
	for _, addr := range m.Files {
		p := filepath.Join(r.ArchiveDir(), filepath.FromSlash(addr.ArchivePath()))
		if _, err := r.fs.Stat(p); err != nil {
			errs = append(errs, fmt.Errorf("%w: file %s does not exist", ErrInvalidRepository, addr.ArchivePath()))
		}
	}
	return errors.Join(errs...)
}

// Delete removes the repository from disk
func (r *Repository) Delete() error {
	if err := r.fs.RemoveAll(r.path); err != nil {
		return fmt.Errorf("failed to delete repository %s: %w", r.path, err)
	}
	return nil
}
