// Package sync reconciles an archive directory with the set of tracked
// file addresses: it copies in what is missing or out of date, deletes
// orphans and prunes the directories they leave empty.
package sync

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/schaermu/cup/internal/address"
	"github.com/schaermu/cup/internal/fswalk"
	"github.com/spf13/afero"
	"github.com/zeebo/blake3"
	"go.uber.org/multierr"
)

// tmpPattern names in-flight copies next to their destination
const tmpPattern = ".cup-tmp-*"

// Reconciler keeps an archive equal to the real-filesystem copies of a file set
type Reconciler struct {
	archive afero.Fs // rooted at the archive directory
	source  afero.Fs // the real filesystem
	dirs    address.Dirs
	logger  *slog.Logger
}

// NewReconciler creates a reconciler. archive must be rooted at the archive
// directory; source resolves the absolute paths produced by dirs.
func NewReconciler(archive, source afero.Fs, dirs address.Dirs, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		archive: archive,
		source:  source,
		dirs:    dirs,
		logger:  logger,
	}
}

// ForDirectory creates a reconciler for an archive directory on the OS filesystem
func ForDirectory(archiveDir string, dirs address.Dirs, logger *slog.Logger) *Reconciler {
	osFs := afero.NewOsFs()
	return NewReconciler(afero.NewBasePathFs(osFs, archiveDir), osFs, dirs, logger)
}

// Sync builds and applies the plan for files. A *PartialError means every
// file was attempted and some failed; any other error aborted the sync.
func (r *Reconciler) Sync(files []address.Address) error {
	plan, err := r.BuildPlan(files)
	if err != nil {
		return fmt.Errorf("failed to build sync plan: %w", err)
	}

	r.logger.Info("sync plan",
		"copy", len(plan.Copy),
		"refresh", len(plan.Refresh),
		"delete", len(plan.Delete))

	return r.Apply(plan)
}

// Missing returns every tracked address without a copy in the archive
func (r *Reconciler) Missing(files []address.Address) ([]address.Address, error) {
	var missing []address.Address
	for _, addr := range files {
		exists, err := afero.Exists(r.archive, archivePath(addr))
		if err != nil {
			return nil, fmt.Errorf("failed to stat archive copy of %s: %w", addr, err)
		}
		if !exists {
			missing = append(missing, addr)
		}
	}
	return missing, nil
}

// Orphans returns every archived file whose address is not in files. Archive
// paths that do not parse as addresses are reported in the returned error
// (wrapping address.ErrMalformedArchivePath) alongside the orphans found.
func (r *Reconciler) Orphans(files []address.Address) ([]address.Address, error) {
	orphans, malformed, err := r.scanArchive(files)
	if err != nil {
		return nil, err
	}
	return orphans, malformedErr(malformed)
}

// Stale returns tracked addresses whose archive copy differs from the real
// file. Files whose source is gone keep their last archived copy and are
// not stale. A source that exists but cannot be read is stale so the
// refresh surfaces the error.
func (r *Reconciler) Stale(files []address.Address) ([]address.Address, error) {
	var stale []address.Address
	for _, addr := range files {
		dest := archivePath(addr)
		if exists, err := afero.Exists(r.archive, dest); err != nil || !exists {
			continue
		}

		src := addr.RealPath(r.dirs)
		if exists, err := afero.Exists(r.source, src); err != nil || !exists {
			r.logger.Debug("source missing, keeping archived copy", "file", addr.DisplayString())
			continue
		}

		srcHash, err := fileHash(r.source, src)
		if err != nil {
			// the refresh reports the failure
			r.logger.Warn("failed to hash source file", "file", src, "error", err)
			stale = append(stale, addr)
			continue
		}
		destHash, err := fileHash(r.archive, dest)
		if err != nil {
			return nil, fmt.Errorf("failed to hash archive copy of %s: %w", addr, err)
		}

		if !bytes.Equal(srcHash, destHash) {
			stale = append(stale, addr)
		}
	}
	return stale, nil
}

// BuildPlan computes the diff between files and the archive
func (r *Reconciler) BuildPlan(files []address.Address) (*Plan, error) {
	plan := &Plan{
		Copy:    make([]FileOp, 0),
		Refresh: make([]FileOp, 0),
		Delete:  make([]FileOp, 0),
	}

	missing, err := r.Missing(files)
	if err != nil {
		return nil, err
	}
	for _, addr := range missing {
		plan.Copy = append(plan.Copy, r.copyOp(addr))
	}

	stale, err := r.Stale(files)
	if err != nil {
		return nil, err
	}
	for _, addr := range stale {
		plan.Refresh = append(plan.Refresh, r.copyOp(addr))
	}

	orphans, malformed, err := r.scanArchive(files)
	if err != nil {
		return nil, err
	}
	for _, addr := range orphans {
		plan.Delete = append(plan.Delete, FileOp{
			Address: addr,
			Dest:    archivePath(addr),
		})
	}
	plan.Malformed = malformed

	return plan, nil
}

// Apply executes the plan. Copies strictly precede deletes so a renamed
// file is never absent from the archive; pruning strictly follows deletes.
// Individual failures do not stop the batch and are returned together as a
// *PartialError.
func (r *Reconciler) Apply(plan *Plan) error {
	var errs error

	for _, op := range plan.Copy {
		r.logger.Info("copying file", "file", op.Address.DisplayString(), "dest", op.Dest)
		if err := r.copyFile(op.Source, op.Dest); err != nil {
			r.logger.Warn("failed to copy file", "file", op.Address.DisplayString(), "error", err)
			errs = multierr.Append(errs, &FileError{Op: opCopy, Address: op.Address, Err: err})
			// drop parents created for a copy that never landed
			if err := r.prune(filepath.Dir(op.Dest)); err != nil {
				errs = multierr.Append(errs, &FileError{Op: opPrune, Address: op.Address, Err: err})
			}
		}
	}

	for _, op := range plan.Refresh {
		r.logger.Info("refreshing file", "file", op.Address.DisplayString(), "dest", op.Dest)
		if err := r.copyFile(op.Source, op.Dest); err != nil {
			r.logger.Warn("failed to refresh file", "file", op.Address.DisplayString(), "error", err)
			errs = multierr.Append(errs, &FileError{Op: opRefresh, Address: op.Address, Err: err})
		}
	}

	removed := make([]FileOp, 0, len(plan.Delete))
	for _, op := range plan.Delete {
		r.logger.Info("removing orphan", "file", op.Address.DisplayString(), "dest", op.Dest)
		if err := r.archive.Remove(op.Dest); err != nil && !os.IsNotExist(err) {
			r.logger.Warn("failed to remove orphan", "dest", op.Dest, "error", err)
			errs = multierr.Append(errs, &FileError{Op: opDelete, Address: op.Address, Err: err})
			continue
		}
		removed = append(removed, op)
	}

	for _, op := range removed {
		if err := r.prune(filepath.Dir(op.Dest)); err != nil {
			errs = multierr.Append(errs, &FileError{Op: opPrune, Address: op.Address, Err: err})
		}
	}

	for _, p := range plan.Malformed {
		r.logger.Warn("ignoring file outside the archive layout", "path", p)
	}
	errs = multierr.Append(errs, malformedErr(plan.Malformed))

	if errs != nil {
		return &PartialError{err: errs}
	}
	return nil
}

// prune removes dir and its ancestors while they are empty, stopping at
// the archive root.
func (r *Reconciler) prune(dir string) error {
	for dir != "." && dir != string(filepath.Separator) && dir != "" {
		exists, err := afero.DirExists(r.archive, dir)
		if err != nil {
			return err
		}
		if !exists {
			// already pruned through a sibling
			dir = filepath.Dir(dir)
			continue
		}

		empty, err := afero.IsEmpty(r.archive, dir)
		if err != nil {
			return err
		}
		if !empty {
			return nil
		}

		r.logger.Debug("pruning empty directory", "dir", dir)
		if err := r.archive.Remove(dir); err != nil && !os.IsNotExist(err) {
			return err
		}
		dir = filepath.Dir(dir)
	}
	return nil
}

func (r *Reconciler) scanArchive(files []address.Address) ([]address.Address, []string, error) {
	tracked := make(map[address.Address]struct{}, len(files))
	for _, addr := range files {
		tracked[addr] = struct{}{}
	}

	found, err := fswalk.Files(r.archive, ".")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to walk archive: %w", err)
	}

	var orphans []address.Address
	var malformed []string
	for _, p := range found {
		addr, err := address.FromArchivePath(p)
		if err != nil {
			malformed = append(malformed, p)
			continue
		}
		if _, ok := tracked[addr]; !ok {
			orphans = append(orphans, addr)
		}
	}
	return orphans, malformed, nil
}

func (r *Reconciler) copyOp(addr address.Address) FileOp {
	op := FileOp{
		Address: addr,
		Source:  addr.RealPath(r.dirs),
		Dest:    archivePath(addr),
	}
	if info, err := r.source.Stat(op.Source); err == nil {
		op.Size = info.Size()
	}
	return op
}

// copyFile copies src from the real filesystem to dst in the archive with atomic write
func (r *Reconciler) copyFile(src, dst string) error {
	srcFile, err := r.source.Open(src)
	if err != nil {
		return err
	}
	defer func() {
		_ = srcFile.Close()
	}()

	srcInfo, err := srcFile.Stat()
	if err != nil {
		return err
	}
	if srcInfo.IsDir() {
		return fmt.Errorf("%s is a directory", src)
	}

	// Ensure parent directory exists
	if err := r.archive.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}

	// Create temp file in destination directory
	tmpFile, err := afero.TempFile(r.archive, filepath.Dir(dst), tmpPattern)
	if err != nil {
		return err
	}
	tmpPath := tmpFile.Name()
	defer func() {
		_ = r.archive.Remove(tmpPath)
	}() // cleanup on error

	if _, err := io.Copy(tmpFile, srcFile); err != nil {
		_ = tmpFile.Close()
		return err
	}

	if err := tmpFile.Close(); err != nil {
		return err
	}

	if err := r.archive.Chmod(tmpPath, srcInfo.Mode().Perm()); err != nil {
		return err
	}

	// Atomic rename
	return r.archive.Rename(tmpPath, dst)
}

func archivePath(addr address.Address) string {
	return filepath.FromSlash(addr.ArchivePath())
}

func malformedErr(paths []string) error {
	var errs error
	for _, p := range paths {
		errs = multierr.Append(errs, fmt.Errorf("%w: %s", address.ErrMalformedArchivePath, p))
	}
	return errs
}

// fileHash computes the BLAKE3 hash of a file
func fileHash(fs afero.Fs, path string) ([]byte, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = f.Close()
	}()

	h := blake3.New()
	if _, err := io.Copy(h, f); err != nil {
		return nil, err
	}

	return h.Sum(nil), nil
}
