// Package address identifies tracked files independently of where the
// user's home directory or the filesystem root happen to live.
//
// An Address is either User(rel), relative to the home directory, or
// Root(rel), relative to the filesystem root. The same value names the
// file on the real filesystem (RealPath) and inside the archive
// (ArchivePath), so manifest membership and archive layout share one
// identity.
package address

import (
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	// ErrInvalidAddress is returned for relative paths that are empty,
	// absolute or escape their scope with "..".
	ErrInvalidAddress = errors.New("invalid file address")
	// ErrMalformedArchivePath is returned when an archive path does not
	// start with a known scope directory.
	ErrMalformedArchivePath = errors.New("malformed archive path")
	// ErrPathNotFound is returned when a user supplied path does not exist.
	ErrPathNotFound = errors.New("path not found")
)

// Scope selects the directory an Address is relative to
type Scope int

const (
	User Scope = iota
	Root
)

// String returns the name used in the manifest document
func (s Scope) String() string {
	switch s {
	case User:
		return "User"
	case Root:
		return "Root"
	default:
		return fmt.Sprintf("Scope(%d)", int(s))
	}
}

// ArchiveDir returns the top-level archive directory holding files of this scope
func (s Scope) ArchiveDir() string {
	switch s {
	case User:
		return "user"
	case Root:
		return "root"
	default:
		return ""
	}
}

func parseScope(name string) (Scope, bool) {
	switch name {
	case "User":
		return User, true
	case "Root":
		return Root, true
	}
	return 0, false
}

func scopeFromArchiveDir(dir string) (Scope, bool) {
	switch dir {
	case "user":
		return User, true
	case "root":
		return Root, true
	}
	return 0, false
}

// Dirs holds the directories addresses are resolved against. Tests point
// them at temporary directories instead of the real $HOME and /.
type Dirs struct {
	Home string
	Root string
}

// Address is the scope-qualified identity of a tracked file
type Address struct {
	Scope Scope
	Rel   string // slash separated, relative to the scope directory
}

// New validates rel and returns the address for it
func New(scope Scope, rel string) (Address, error) {
	if scope != User && scope != Root {
		return Address{}, fmt.Errorf("%w: unknown scope %d", ErrInvalidAddress, int(scope))
	}

	rel = filepath.ToSlash(rel)
	if rel == "" || strings.HasPrefix(rel, "/") {
		return Address{}, fmt.Errorf("%w: %q must be a non-empty relative path", ErrInvalidAddress, rel)
	}
	for _, segment := range strings.Split(rel, "/") {
		if segment == ".." {
			return Address{}, fmt.Errorf("%w: %q must not contain '..'", ErrInvalidAddress, rel)
		}
	}

	cleaned := path.Clean(rel)
	if cleaned == "." {
		return Address{}, fmt.Errorf("%w: %q does not name a file", ErrInvalidAddress, rel)
	}

	return Address{Scope: scope, Rel: cleaned}, nil
}

// Compare orders addresses by scope, then by relative path
func (a Address) Compare(b Address) int {
	if a.Scope != b.Scope {
		if a.Scope < b.Scope {
			return -1
		}
		return 1
	}
	return strings.Compare(a.Rel, b.Rel)
}

// Contains reports whether b is a or lives below a
func (a Address) Contains(b Address) bool {
	if a.Scope != b.Scope {
		return false
	}
	return a.Rel == b.Rel || strings.HasPrefix(b.Rel, a.Rel+"/")
}

// ArchivePath returns the slash separated path of the file inside the archive
func (a Address) ArchivePath() string {
	return path.Join(a.Scope.ArchiveDir(), a.Rel)
}

// RealPath returns where the file lives on the real filesystem
func (a Address) RealPath(dirs Dirs) string {
	base := dirs.Root
	if a.Scope == User {
		base = dirs.Home
	}
	return filepath.Join(base, filepath.FromSlash(a.Rel))
}

// DisplayString renders the address as ~/rel or /rel
func (a Address) DisplayString() string {
	if a.Scope == User {
		return "~/" + a.Rel
	}
	return "/" + a.Rel
}

func (a Address) String() string {
	return a.DisplayString()
}

// FromArchivePath parses an archive relative path of the form <user|root>/<rel>
func FromArchivePath(p string) (Address, error) {
	p = filepath.ToSlash(p)
	dir, rel, ok := strings.Cut(p, "/")
	if !ok {
		return Address{}, fmt.Errorf("%w: %q has no scope directory", ErrMalformedArchivePath, p)
	}

	scope, ok := scopeFromArchiveDir(dir)
	if !ok {
		return Address{}, fmt.Errorf("%w: unknown scope directory %q in %q", ErrMalformedArchivePath, dir, p)
	}

	addr, err := New(scope, rel)
	if err != nil {
		return Address{}, fmt.Errorf("%w: %w", ErrMalformedArchivePath, err)
	}
	return addr, nil
}

// FromDisplayString is the inverse of DisplayString
func FromDisplayString(s string) (Address, error) {
	switch {
	case strings.HasPrefix(s, "~/"):
		return New(User, s[2:])
	case strings.HasPrefix(s, "/"):
		return New(Root, s[1:])
	default:
		return Address{}, fmt.Errorf("%w: %q is not a display string", ErrInvalidAddress, s)
	}
}

// FromRealPath canonicalizes p and encodes it relative to the home
// directory when it lives there, relative to the root directory otherwise.
func FromRealPath(p string, dirs Dirs) (Address, error) {
	canonical, err := canonicalize(p)
	if err != nil {
		return Address{}, err
	}

	return classify(canonical, canonicalDir(dirs.Home), canonicalDir(dirs.Root))
}

// FromUserString resolves a path as typed by the user (~/x, ./x, /x or x)
// and requires it to exist.
func FromUserString(s, cwd string, dirs Dirs) (Address, error) {
	if s == "" {
		return Address{}, fmt.Errorf("%w: empty path", ErrPathNotFound)
	}
	return FromRealPath(expand(s, cwd, dirs.Home), dirs)
}

// Resolve is the lexical counterpart of FromUserString. The path does not
// need to exist and symlinks are not followed, which lets callers name
// files that were already deleted from disk.
func Resolve(s, cwd string, dirs Dirs) (Address, error) {
	if s == "" {
		return Address{}, fmt.Errorf("%w: empty path", ErrInvalidAddress)
	}
	return classify(expand(s, cwd, dirs.Home), filepath.Clean(dirs.Home), filepath.Clean(dirs.Root))
}

func expand(s, cwd, home string) string {
	switch {
	case s == "~":
		return filepath.Clean(home)
	case strings.HasPrefix(s, "~/"):
		return filepath.Join(home, s[2:])
	case filepath.IsAbs(s):
		return filepath.Clean(s)
	default:
		return filepath.Join(cwd, s)
	}
}

func classify(p, home, root string) (Address, error) {
	if rel, ok := within(home, p); ok {
		return New(User, rel)
	}
	if rel, ok := within(root, p); ok {
		return New(Root, rel)
	}
	return Address{}, fmt.Errorf("%w: %s is outside %s", ErrInvalidAddress, p, root)
}

// within returns p relative to dir when p is strictly below dir
func within(dir, p string) (string, bool) {
	if dir == "" {
		return "", false
	}
	rel, err := filepath.Rel(dir, p)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return rel, true
}

func canonicalize(p string) (string, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", p, err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrPathNotFound, p)
	}
	return resolved, nil
}

// canonicalDir resolves symlinks in a base directory when possible so that
// canonical file paths compare against the same spelling.
func canonicalDir(dir string) string {
	if dir == "" {
		return ""
	}
	if resolved, err := canonicalize(dir); err == nil {
		return resolved
	}
	return filepath.Clean(dir)
}

// MarshalYAML encodes the address as a single key mapping, e.g. {User: .bashrc}
func (a Address) MarshalYAML() (interface{}, error) {
	if _, err := New(a.Scope, a.Rel); err != nil {
		return nil, err
	}
	return map[string]string{a.Scope.String(): a.Rel}, nil
}

// UnmarshalYAML decodes the single key mapping produced by MarshalYAML
func (a *Address) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.MappingNode || len(value.Content) != 2 {
		return fmt.Errorf("%w: line %d: expected a mapping with exactly one of User or Root", ErrInvalidAddress, value.Line)
	}

	key, val := value.Content[0], value.Content[1]
	scope, ok := parseScope(key.Value)
	if !ok {
		return fmt.Errorf("%w: line %d: unknown scope %q", ErrInvalidAddress, key.Line, key.Value)
	}
	if val.Kind != yaml.ScalarNode {
		return fmt.Errorf("%w: line %d: path must be a string", ErrInvalidAddress, val.Line)
	}

	addr, err := New(scope, val.Value)
	if err != nil {
		return err
	}
	*a = addr
	return nil
}
