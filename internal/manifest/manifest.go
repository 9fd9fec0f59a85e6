// Package manifest persists the ordered, de-duplicated set of tracked file
// addresses of one dotfile collection.
package manifest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/google/uuid"
	"github.com/schaermu/cup/internal/address"
	cupsync "github.com/schaermu/cup/internal/sync"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

// FileName is the name of the manifest document inside a repository
const FileName = "cup.yml"

var (
	// ErrAlreadyExists is returned by Create when the document already exists
	ErrAlreadyExists = errors.New("manifest already exists")
	// ErrNotFound is returned by Load when there is no document
	ErrNotFound = errors.New("manifest not found")
	// ErrMalformedManifest is returned by Load when the document does not decode
	ErrMalformedManifest = errors.New("malformed manifest")
	// ErrPersistFailed is returned by Save when the document could not be written
	ErrPersistFailed = errors.New("failed to persist manifest")
)

// Syncer brings an archive in line with a file set. A *sync.PartialError
// result is treated as non-fatal.
type Syncer interface {
	Sync(files []address.Address) error
}

// Committer records the saved state, e.g. as a git commit
type Committer interface {
	CommitChanges(ctx context.Context) error
}

// Manifest is the persisted list of tracked files
type Manifest struct {
	ID    string            `yaml:"id"`
	Name  string            `yaml:"name"`
	Files []address.Address `yaml:"files"`

	fs   afero.Fs
	path string
}

// Create writes a new, empty manifest at path. It fails with
// ErrAlreadyExists instead of overwriting an existing document.
func Create(fs afero.Fs, path, name string) (*Manifest, error) {
	m := &Manifest{
		ID:    uuid.NewString(),
		Name:  name,
		Files: []address.Address{},
		fs:    fs,
		path:  path,
	}

	data, err := m.encode()
	if err != nil {
		return nil, err
	}

	f, err := fs.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if os.IsExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrAlreadyExists, path)
		}
		return nil, fmt.Errorf("failed to create manifest: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to write manifest: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("failed to write manifest: %w", err)
	}

	return m, nil
}

// Load reads the manifest at path
func Load(fs afero.Fs, path string) (*Manifest, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrMalformedManifest, path, err)
	}
	if m.ID == "" {
		return nil, fmt.Errorf("%w: %s: missing id", ErrMalformedManifest, path)
	}
	if m.Files == nil {
		m.Files = []address.Address{}
	}

	m.fs = fs
	m.path = path
	return &m, nil
}

// Path returns the location of the backing document
func (m *Manifest) Path() string {
	return m.path
}

// Contains reports whether addr is tracked
func (m *Manifest) Contains(addr address.Address) bool {
	return slices.Contains(m.Files, addr)
}

// Tracked returns the tracked addresses equal to or nested under addr
func (m *Manifest) Tracked(addr address.Address) []address.Address {
	var found []address.Address
	for _, f := range m.Files {
		if addr.Contains(f) {
			found = append(found, f)
		}
	}
	return found
}

// Append tracks every address that is not tracked yet
func (m *Manifest) Append(addrs ...address.Address) {
	for _, addr := range addrs {
		if m.Contains(addr) {
			continue
		}
		m.Files = append(m.Files, addr)
	}
}

// Remove untracks every given address; unknown addresses are ignored
func (m *Manifest) Remove(addrs ...address.Address) {
	m.Files = slices.DeleteFunc(m.Files, func(f address.Address) bool {
		return slices.Contains(addrs, f)
	})
}

// Normalize sorts the file list and drops duplicates
func (m *Manifest) Normalize() {
	slices.SortStableFunc(m.Files, address.Address.Compare)
	m.Files = slices.Compact(m.Files)
}

// Save normalizes the file list, syncs the archive, writes the document
// and commits. Per-file sync failures still persist and commit, and are
// returned together with any commit error; every other failure stops
// before the commit.
func (m *Manifest) Save(ctx context.Context, syncer Syncer, committer Committer) error {
	m.Normalize()

	syncErr := syncer.Sync(m.Files)
	if syncErr != nil {
		var partial *cupsync.PartialError
		if !errors.As(syncErr, &partial) {
			return fmt.Errorf("failed to sync archive: %w", syncErr)
		}
	}

	if err := m.Write(); err != nil {
		return errors.Join(err, syncErr)
	}

	if err := committer.CommitChanges(ctx); err != nil {
		return errors.Join(syncErr, fmt.Errorf("failed to commit changes: %w", err))
	}

	return syncErr
}

// Write atomically replaces the backing document
func (m *Manifest) Write() error {
	data, err := m.encode()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPersistFailed, err)
	}

	if err := writeAtomic(m.fs, m.path, data); err != nil {
		return fmt.Errorf("%w: %w", ErrPersistFailed, err)
	}
	return nil
}

func (m *Manifest) encode() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(m); err != nil {
		return nil, fmt.Errorf("failed to encode manifest: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("failed to encode manifest: %w", err)
	}
	return buf.Bytes(), nil
}

// writeAtomic writes data to a temp file next to path and renames it into
// place, so readers see either the old or the new document.
func writeAtomic(fs afero.Fs, path string, data []byte) error {
	tmpFile, err := afero.TempFile(fs, filepath.Dir(path), ".cup-manifest-*")
	if err != nil {
		return err
	}
	tmpPath := tmpFile.Name()
	defer func() {
		_ = fs.Remove(tmpPath)
	}() // cleanup on error

	if _, err := tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Close(); err != nil {
		return err
	}
	if err := fs.Chmod(tmpPath, 0644); err != nil {
		return err
	}

	return fs.Rename(tmpPath, path)
}
