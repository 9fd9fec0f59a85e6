package main

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/schaermu/cup/internal/address"
	cupsync "github.com/schaermu/cup/internal/sync"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// captureOutput redirects command output for the duration of the test
func captureOutput(t *testing.T) (*bytes.Buffer, *bytes.Buffer) {
	t.Helper()
	origOut, origErr := stdout, stderr
	var out, errOut bytes.Buffer
	stdout, stderr = &out, &errOut
	t.Cleanup(func() {
		stdout, stderr = origOut, origErr
	})
	return &out, &errOut
}

func resetFlags(t *testing.T) {
	t.Helper()
	origCfg, origLevel, origFormat := cfgFile, logLevel, logFormat
	t.Cleanup(func() {
		cfgFile, logLevel, logFormat = origCfg, origLevel, origFormat
		dryRun = false
		interactive = false
	})
}

func TestSetupLogger(t *testing.T) {
	resetFlags(t)

	for _, tc := range []struct {
		name      string
		logLevel  string
		logFormat string
	}{
		{name: "debug/text", logLevel: "debug", logFormat: "text"},
		{name: "info/json", logLevel: "info", logFormat: "json"},
		{name: "warn/text", logLevel: "warn", logFormat: "text"},
		{name: "error/text", logLevel: "error", logFormat: "text"},
		{name: "unknown/text", logLevel: "unknown", logFormat: "text"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			logLevel = tc.logLevel
			logFormat = tc.logFormat

			require.NotNil(t, setupLogger())
		})
	}
}

func TestLoadConfig_WithExplicitPath(t *testing.T) {
	resetFlags(t)

	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`paths:
  data_dir: "`+filepath.Join(tmpDir, "data")+`"
  home_dir: "`+tmpDir+`"
git:
  commit: false
`), 0o600))

	cfgFile = cfgPath
	cfg, err := loadConfig(quietLogger())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(tmpDir, "data"), cfg.Paths.DataDir)
	assert.False(t, cfg.CommitEnabled())
}

func TestLoadConfig_MissingExplicitFile(t *testing.T) {
	resetFlags(t)

	cfgFile = filepath.Join(t.TempDir(), "nonexistent.yaml")
	_, err := loadConfig(quietLogger())
	assert.Error(t, err)
}

func TestLoadConfig_DefaultPathIsOptional(t *testing.T) {
	resetFlags(t)
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, "config"))
	t.Setenv("XDG_DATA_HOME", "")

	cfgFile = ""
	cfg, err := loadConfig(quietLogger())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".local", "share", "cup"), cfg.Paths.DataDir)
	assert.Equal(t, home, cfg.Paths.HomeDir)
}

func TestSetupSignalHandler(t *testing.T) {
	ctx, cancel := setupSignalHandler()
	require.NotNil(t, ctx)

	cancel()

	<-ctx.Done()
	assert.Error(t, ctx.Err())
}

func TestVersionCmd(t *testing.T) {
	out, _ := captureOutput(t)
	versionCmd.Run(versionCmd, []string{})
	assert.Contains(t, out.String(), "cup dev")
}

func TestReportSaveError(t *testing.T) {
	assert.NoError(t, reportSaveError(nil))

	plain := errors.New("boom")
	assert.Equal(t, plain, reportSaveError(plain))

	fs := afero.NewMemMapFs()
	reconciler := cupsync.NewReconciler(afero.NewBasePathFs(fs, "/archive"), fs,
		address.Dirs{Home: "/home/user", Root: "/"}, quietLogger())
	partial := reconciler.Apply(&cupsync.Plan{Copy: []cupsync.FileOp{{
		Address: address.Address{Scope: address.User, Rel: ".gone"},
		Source:  "/home/user/.gone",
		Dest:    "user/.gone",
	}}})
	require.Error(t, partial)

	_, errOut := captureOutput(t)
	err := reportSaveError(partial)
	assert.EqualError(t, err, "1 file(s) could not be synced, the manifest was saved")
	assert.Contains(t, errOut.String(), "warning: copy ~/.gone")

	err = reportSaveError(errors.Join(partial, errors.New("failed to commit changes: locked")))
	assert.ErrorContains(t, err, "could not be synced")
	assert.ErrorContains(t, err, "locked")
}

func TestCommands(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	resetFlags(t)

	root := t.TempDir()
	home := filepath.Join(root, "home")
	require.NoError(t, os.MkdirAll(home, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(home, ".bashrc"), []byte("set -o vi\n"), 0644))

	cfgPath := filepath.Join(root, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`paths:
  data_dir: "`+filepath.Join(root, "data")+`"
  home_dir: "`+home+`"
  root_dir: "`+root+`"
git:
  commit: false
`), 0o600))

	run := func(args ...string) (string, error) {
		out, _ := captureOutput(t)
		rootCmd.SetArgs(append([]string{"--config", cfgPath, "--log-level", "error"}, args...))
		err := rootCmd.Execute()
		return out.String(), err
	}

	_, err := run("export", "create", "laptop")
	require.NoError(t, err)

	_, err = run("export", "add", "laptop", "~/.bashrc")
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(root, "data", "laptop", "files", "user", ".bashrc"))

	out, err := run("export", "status", "laptop")
	require.NoError(t, err)
	assert.Contains(t, out, "~/.bashrc")
	assert.Contains(t, out, "synced")
	assert.Contains(t, out, "archive is up to date")

	out, err = run("list")
	require.NoError(t, err)
	assert.Contains(t, out, "laptop")

	_, err = run("export", "remove", "laptop", "~/.bashrc")
	require.NoError(t, err)
	assert.NoDirExists(t, filepath.Join(root, "data", "laptop", "files", "user"))
	assert.FileExists(t, filepath.Join(home, ".bashrc"))

	_, err = run("export", "add", "missing", "~/.bashrc")
	assert.Error(t, err)
}
