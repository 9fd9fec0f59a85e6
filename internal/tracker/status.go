package tracker

import (
	"fmt"

	"github.com/schaermu/cup/internal/address"
	cupsync "github.com/schaermu/cup/internal/sync"
	"github.com/spf13/afero"
)

// FileState describes how a tracked file relates to its archive copy
type FileState string

const (
	StateSynced      FileState = "synced"
	StateNotArchived FileState = "not archived"
	StateModified    FileState = "modified"
	StateSourceGone  FileState = "source missing" // archived, but gone from disk
	StateUnavailable FileState = "unavailable"    // neither archived nor on disk
)

// Entry is the status of one tracked file
type Entry struct {
	Address address.Address
	State   FileState
	Size    int64
}

// Report is the status of a dotfile collection
type Report struct {
	Name      string
	ID        string
	Path      string
	Entries   []Entry
	Orphans   []address.Address // archived but no longer tracked
	Malformed []string          // archive paths outside the user/ and root/ layout
	Plan      *cupsync.Plan
}

// InSync reports whether a save would leave the archive untouched
func (r *Report) InSync() bool {
	return r.Plan.Empty()
}

// Summary describes one repository for listings
type Summary struct {
	Name  string
	Path  string
	ID    string
	Files int
	Err   error // set when the manifest could not be loaded
}

// Status compares the named collection's manifest with its archive and the
// real filesystem without changing anything.
func (t *Tracker) Status(name string) (*Report, error) {
	repo, m, err := t.open(name)
	if err != nil {
		return nil, err
	}

	archive := afero.NewBasePathFs(t.fs, repo.ArchiveDir())
	reconciler := cupsync.NewReconciler(archive, t.fs, t.dirs, t.logger)
	plan, err := reconciler.BuildPlan(m.Files)
	if err != nil {
		return nil, fmt.Errorf("failed to build sync plan: %w", err)
	}

	pending := make(map[address.Address]FileState)
	for _, op := range plan.Copy {
		pending[op.Address] = StateNotArchived
	}
	for _, op := range plan.Refresh {
		pending[op.Address] = StateModified
	}

	report := &Report{
		Name:      m.Name,
		ID:        m.ID,
		Path:      repo.Path(),
		Entries:   make([]Entry, 0, len(m.Files)),
		Malformed: plan.Malformed,
		Plan:      plan,
	}

	for _, addr := range m.Files {
		entry := Entry{Address: addr, State: StateSynced}
		info, statErr := t.fs.Stat(addr.RealPath(t.dirs))
		if statErr == nil {
			entry.Size = info.Size()
		}

		if state, ok := pending[addr]; ok {
			entry.State = state
		}
		if statErr != nil {
			if entry.State == StateNotArchived {
				entry.State = StateUnavailable
			} else {
				entry.State = StateSourceGone
				if info, err := archive.Stat(addr.ArchivePath()); err == nil {
					entry.Size = info.Size()
				}
			}
		}

		report.Entries = append(report.Entries, entry)
	}

	for _, op := range plan.Delete {
		report.Orphans = append(report.Orphans, op.Address)
	}

	return report, nil
}

// List summarizes every repository in the data directory
func (t *Tracker) List() ([]Summary, error) {
	names, err := t.store.List()
	if err != nil {
		return nil, err
	}

	summaries := make([]Summary, 0, len(names))
	for _, name := range names {
		summary := Summary{Name: name}

		repo, err := t.store.Open(name)
		if err != nil {
			summary.Err = err
			summaries = append(summaries, summary)
			continue
		}
		summary.Path = repo.Path()

		m, err := repo.Manifest()
		if err != nil {
			summary.Err = err
		} else {
			summary.ID = m.ID
			summary.Files = len(m.Files)
		}
		summaries = append(summaries, summary)
	}
	return summaries, nil
}
