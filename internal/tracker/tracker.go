// Package tracker implements the cup commands on top of the repository,
// manifest and archive reconciler packages.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/schaermu/cup/internal/address"
	"github.com/schaermu/cup/internal/fswalk"
	"github.com/schaermu/cup/internal/git"
	"github.com/schaermu/cup/internal/manifest"
	"github.com/schaermu/cup/internal/repository"
	cupsync "github.com/schaermu/cup/internal/sync"
	"github.com/spf13/afero"
	"go.uber.org/multierr"
)

// SelectFunc lets the user pick a subset of candidates. An empty result
// means nothing was selected.
type SelectFunc func(title string, candidates []string) ([]string, error)

// Tracker runs cup commands against the repositories of a Store
type Tracker struct {
	store  *repository.Store
	dirs   address.Dirs
	cwd    string
	fs     afero.Fs
	logger *slog.Logger
	dryRun bool
}

// New creates a tracker. cwd resolves relative paths given by the user.
func New(store *repository.Store, dirs address.Dirs, cwd string, logger *slog.Logger, dryRun bool) *Tracker {
	return &Tracker{
		store:  store,
		dirs:   dirs,
		cwd:    cwd,
		fs:     afero.NewOsFs(),
		logger: logger,
		dryRun: dryRun,
	}
}

// Create initializes a new, empty dotfile collection
func (t *Tracker) Create(ctx context.Context, name string) error {
	if t.dryRun {
		t.logger.Info("dry-run: would create repository", "name", name,
			"path", filepath.Join(t.store.DataDir(), name))
		return nil
	}

	repo, err := t.store.Init(ctx, name)
	if err != nil {
		return err
	}
	t.logger.Info("created repository", "name", repo.Name(), "path", repo.Path())
	return nil
}

// Add tracks the given paths in the named collection. Directories add
// every file below them. Every path must exist; nothing is changed when
// one of them does not.
func (t *Tracker) Add(ctx context.Context, name string, paths []string) error {
	repo, m, err := t.open(name)
	if err != nil {
		return err
	}

	var addrs []address.Address
	var errs error
	for _, p := range paths {
		found, err := t.expand(p)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		addrs = append(addrs, found...)
	}
	if errs != nil {
		return errs
	}

	before := len(m.Files)
	m.Append(addrs...)
	t.logger.Info("tracking files", "name", name, "new", len(m.Files)-before)

	return t.save(ctx, repo, m)
}

// Remove untracks the given paths. A path naming a directory untracks
// every tracked file below it. Paths do not need to exist anymore.
func (t *Tracker) Remove(ctx context.Context, name string, paths []string) error {
	repo, m, err := t.open(name)
	if err != nil {
		return err
	}

	var targets []address.Address
	var errs error
	for _, p := range paths {
		addr, err := address.FromUserString(p, t.cwd, t.dirs)
		if err != nil {
			addr, err = address.Resolve(p, t.cwd, t.dirs)
			if err != nil {
				errs = multierr.Append(errs, err)
				continue
			}
		}

		tracked := m.Tracked(addr)
		if len(tracked) == 0 {
			t.logger.Warn("path is not tracked", "path", p, "file", addr.DisplayString())
		}
		targets = append(targets, tracked...)
	}
	if errs != nil {
		return errs
	}

	return t.untrack(ctx, repo, m, targets)
}

// RemoveInteractive lets the user pick the files to untrack
func (t *Tracker) RemoveInteractive(ctx context.Context, name string, selectFn SelectFunc) error {
	repo, m, err := t.open(name)
	if err != nil {
		return err
	}

	if len(m.Files) == 0 {
		t.logger.Info("no files tracked", "name", name)
		return nil
	}

	candidates := make([]string, 0, len(m.Files))
	for _, addr := range m.Files {
		candidates = append(candidates, addr.DisplayString())
	}

	selected, err := selectFn("Select the files to remove", candidates)
	if err != nil {
		return fmt.Errorf("failed to select files: %w", err)
	}
	if len(selected) == 0 {
		t.logger.Info("nothing selected")
		return nil
	}

	targets := make([]address.Address, 0, len(selected))
	for _, s := range selected {
		addr, err := address.FromDisplayString(s)
		if err != nil {
			return err
		}
		targets = append(targets, addr)
	}

	return t.untrack(ctx, repo, m, targets)
}

// Import clones a remote dotfile collection
func (t *Tracker) Import(ctx context.Context, ref string) error {
	if t.dryRun {
		remote, err := git.ParseRemote(ref)
		if err != nil {
			return err
		}
		t.logger.Info("dry-run: would clone repository", "url", remote.URL,
			"dest", filepath.Join(t.store.DataDir(), remote.Name))
		return nil
	}

	repo, err := t.store.Clone(ctx, ref)
	if err != nil {
		return err
	}
	t.logger.Info("imported repository", "name", repo.Name(), "path", repo.Path())
	return nil
}

func (t *Tracker) untrack(ctx context.Context, repo *repository.Repository, m *manifest.Manifest, targets []address.Address) error {
	before := len(m.Files)
	m.Remove(targets...)
	t.logger.Info("untracking files", "name", repo.Name(), "removed", before-len(m.Files))

	return t.save(ctx, repo, m)
}

// save runs the manifest save cycle, or only reports the plan in dry-run mode
func (t *Tracker) save(ctx context.Context, repo *repository.Repository, m *manifest.Manifest) error {
	reconciler := cupsync.NewReconciler(afero.NewBasePathFs(t.fs, repo.ArchiveDir()), t.fs, t.dirs, t.logger)

	if t.dryRun {
		m.Normalize()
		plan, err := reconciler.BuildPlan(m.Files)
		if err != nil {
			return fmt.Errorf("failed to build sync plan: %w", err)
		}
		t.logPlanDetails(plan)
		t.logger.Info("dry-run complete, no changes applied")
		return nil
	}

	return m.Save(ctx, reconciler, repo)
}

// expand resolves a user supplied path to the addresses of every file it names
func (t *Tracker) expand(p string) ([]address.Address, error) {
	addr, err := address.FromUserString(p, t.cwd, t.dirs)
	if err != nil {
		return nil, err
	}

	dir := addr.RealPath(t.dirs)
	if !fswalk.IsDir(t.fs, dir) {
		return []address.Address{addr}, nil
	}

	addrs, err := t.expandDir(dir, make(map[string]struct{}))
	if err != nil {
		return nil, err
	}
	if len(addrs) == 0 {
		t.logger.Warn("directory contains no files", "path", p)
	}
	return addrs, nil
}

// expandDir returns every file below dir. Symlinks to directories are
// followed; seen holds the resolved directories already walked so a link
// cycle ends the descent.
func (t *Tracker) expandDir(dir string, seen map[string]struct{}) ([]address.Address, error) {
	resolved, err := filepath.EvalSymlinks(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve directory %s: %w", dir, err)
	}
	if _, ok := seen[resolved]; ok {
		t.logger.Warn("skipping directory visited twice", "path", dir, "target", resolved)
		return nil, nil
	}
	seen[resolved] = struct{}{}

	files, err := fswalk.Files(t.fs, resolved)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory %s: %w", dir, err)
	}

	addrs := make([]address.Address, 0, len(files))
	for _, f := range files {
		path := filepath.Join(resolved, f)
		if fswalk.IsDir(t.fs, path) {
			nested, err := t.expandDir(path, seen)
			if err != nil {
				return nil, err
			}
			addrs = append(addrs, nested...)
			continue
		}

		a, err := address.FromRealPath(path, t.dirs)
		if err != nil {
			return nil, err
		}
		addrs = append(addrs, a)
	}
	return addrs, nil
}

func (t *Tracker) open(name string) (*repository.Repository, *manifest.Manifest, error) {
	repo, err := t.store.Open(name)
	if err != nil {
		return nil, nil, err
	}
	m, err := repo.Manifest()
	if err != nil {
		return nil, nil, err
	}
	return repo, m, nil
}

func (t *Tracker) logPlanDetails(plan *cupsync.Plan) {
	for _, op := range plan.Copy {
		t.logger.Info("would copy", "file", op.Address.DisplayString(), "dest", op.Dest)
	}
	for _, op := range plan.Refresh {
		t.logger.Info("would refresh", "file", op.Address.DisplayString(), "dest", op.Dest)
	}
	for _, op := range plan.Delete {
		t.logger.Info("would remove", "file", op.Address.DisplayString(), "dest", op.Dest)
	}
	for _, p := range plan.Malformed {
		t.logger.Warn("would ignore file outside the archive layout", "path", p)
	}
}

// IsPartial reports whether err carries per-file sync failures of a save
// whose manifest was still written.
func IsPartial(err error) bool {
	var partial *cupsync.PartialError
	return errors.As(err, &partial) && !errors.Is(err, manifest.ErrPersistFailed)
}
