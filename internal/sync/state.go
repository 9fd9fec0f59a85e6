package sync

import (
	"errors"
	"fmt"

	"github.com/schaermu/cup/internal/address"
	"go.uber.org/multierr"
)

var (
	// ErrCopyFailed marks a tracked file that could not be copied into the archive
	ErrCopyFailed = errors.New("copy failed")
	// ErrRemoveFailed marks an archive entry that could not be removed
	ErrRemoveFailed = errors.New("remove failed")
)

// Plan represents the archive operations needed to match a file set
type Plan struct {
	Copy      []FileOp // tracked files missing from the archive
	Refresh   []FileOp // archived files whose content differs from the source
	Delete    []FileOp // orphans: archived files that are no longer tracked
	Malformed []string // archive paths outside the user/ and root/ layout, left untouched
}

// Empty reports whether applying the plan would change nothing
func (p *Plan) Empty() bool {
	return len(p.Copy) == 0 && len(p.Refresh) == 0 && len(p.Delete) == 0
}

// FileOp represents a file operation
type FileOp struct {
	Address address.Address
	Source  string // absolute path on the real filesystem, empty for deletes
	Dest    string // path relative to the archive root
	Size    int64  // source size in bytes, zero for deletes
}

// FileError reports a single failed file operation
type FileError struct {
	Op      string
	Address address.Address
	Err     error
}

func (e *FileError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Address.DisplayString(), e.Err)
}

func (e *FileError) Unwrap() error {
	return e.Err
}

// Is matches ErrCopyFailed for copy and refresh failures and ErrRemoveFailed
// for delete and prune failures.
func (e *FileError) Is(target error) bool {
	switch e.Op {
	case opCopy, opRefresh:
		return target == ErrCopyFailed
	case opDelete, opPrune:
		return target == ErrRemoveFailed
	}
	return false
}

const (
	opCopy    = "copy"
	opRefresh = "refresh"
	opDelete  = "delete"
	opPrune   = "prune"
)

// PartialError aggregates the per-file failures of a sync that otherwise
// ran to completion. Callers treat it as non-fatal: the remaining files
// were processed.
type PartialError struct {
	err error
}

func (e *PartialError) Error() string {
	failures := multierr.Errors(e.err)
	if len(failures) == 1 {
		return "sync incomplete: " + failures[0].Error()
	}
	return fmt.Sprintf("sync incomplete, %d failures: %v", len(failures), e.err)
}

func (e *PartialError) Unwrap() error {
	return e.err
}

// Failures returns every individual failure
func (e *PartialError) Failures() []error {
	return multierr.Errors(e.err)
}
