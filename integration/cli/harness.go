//go:build integration

package cli

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/schaermu/cup/internal/testutil"
)

const defaultTimeout = 2 * time.Minute

// Harness runs the cup binary against a throwaway home directory
type Harness struct {
	t       *testing.T
	bin     string
	Root    string // stands in for the filesystem root
	Home    string
	DataDir string
	config  string
}

// NewHarness builds cup and prepares a home directory with a config file
// that commits with a fixed identity.
func NewHarness(ctx context.Context, t *testing.T) *Harness {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}

	root := t.TempDir()
	h := &Harness{
		t:       t,
		bin:     testutil.BuildBinary(ctx, t, "./cmd/cup"),
		Root:    root,
		Home:    filepath.Join(root, "home", "tester"),
		DataDir: filepath.Join(root, "data"),
		config:  filepath.Join(root, "config.yaml"),
	}

	if err := os.MkdirAll(h.Home, 0755); err != nil {
		t.Fatalf("create home: %v", err)
	}
	config := fmt.Sprintf(`paths:
  data_dir: %q
  home_dir: %q
  root_dir: %q
git:
  commit: true
  author_name: "Integration Test"
  author_email: "integration@example.com"
`, h.DataDir, h.Home, h.Root)
	if err := os.WriteFile(h.config, []byte(config), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return h
}

// Exec runs cup with args and returns stdout, stderr and the exit code
func (h *Harness) Exec(ctx context.Context, args ...string) (string, string, int) {
	h.t.Helper()

	cmd := exec.CommandContext(ctx, h.bin, append([]string{"--config", h.config}, args...)...)
	cmd.Dir = h.Home
	cmd.Env = append(os.Environ(), "HOME="+h.Home)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	exitCode := 0
	if err != nil {
		exitErr, ok := err.(*exec.ExitError)
		if !ok {
			h.t.Fatalf("exec failed: %v", err)
		}
		exitCode = exitErr.ExitCode()
	}
	return stdout.String(), stderr.String(), exitCode
}

// MustExec runs cup and fails the test on a non-zero exit code
func (h *Harness) MustExec(ctx context.Context, args ...string) string {
	h.t.Helper()
	stdout, stderr, exitCode := h.Exec(ctx, args...)
	if exitCode != 0 {
		h.t.Fatalf("cup %v failed with exit code %d\nstdout: %s\nstderr: %s",
			args, exitCode, stdout, stderr)
	}
	return stdout
}

// WriteHomeFile creates a file below the home directory
func (h *Harness) WriteHomeFile(rel, content string) string {
	h.t.Helper()
	path := filepath.Join(h.Home, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		h.t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		h.t.Fatalf("write %s: %v", path, err)
	}
	return path
}

// ArchivePath returns where a collection archives an archive-relative path
func (h *Harness) ArchivePath(name, archiveRel string) string {
	return filepath.Join(h.DataDir, name, "files", filepath.FromSlash(archiveRel))
}

// GitLog returns the commit subjects of a collection, newest first
func (h *Harness) GitLog(ctx context.Context, name string) []string {
	h.t.Helper()
	out, err := exec.CommandContext(ctx, "git", "-C", filepath.Join(h.DataDir, name),
		"log", "--format=%s|%an").Output()
	if err != nil {
		h.t.Fatalf("git log: %v", err)
	}
	return strings.Split(strings.TrimSpace(string(out)), "\n")
}
