package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/schaermu/cup/internal/address"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
paths:
  data_dir: "/srv/cup"
  home_dir: "/home/user"
  root_dir: "/"

git:
  commit: false
  author_name: "Dot Files"
  author_email: "dots@example.com"

auth:
  ssh_key_file: "/home/user/.ssh/id_ed25519"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/srv/cup", cfg.Paths.DataDir)
	assert.Equal(t, address.Dirs{Home: "/home/user", Root: "/"}, cfg.Dirs())
	assert.False(t, cfg.CommitEnabled())
	assert.Equal(t, "Dot Files", cfg.Git.AuthorName)
	assert.Equal(t, "ssh", cfg.AuthMethod())
}

func TestLoad_ExpandsEnv(t *testing.T) {
	t.Setenv("CUP_TEST_HOME", "/home/envuser")
	path := writeConfig(t, `
paths:
  home_dir: "$CUP_TEST_HOME"
  data_dir: "${CUP_TEST_HOME}/dots"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/home/envuser", cfg.Paths.HomeDir)
	assert.Equal(t, "/home/envuser/dots", cfg.Paths.DataDir)
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "")
	path := writeConfig(t, `
paths:
  home_dir: "/home/user"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/", cfg.Paths.RootDir)
	assert.Equal(t, "/home/user/.local/share/cup", cfg.Paths.DataDir)
	assert.True(t, cfg.CommitEnabled())
	assert.Equal(t, "none", cfg.AuthMethod())
}

func TestLoad_XDGDataHome(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "/xdg/data")
	path := writeConfig(t, "paths:\n  home_dir: /home/user\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/xdg/data/cup", cfg.Paths.DataDir)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read config file")

	_, err = Load(writeConfig(t, "paths: [not, a, map]\n"))
	assert.ErrorContains(t, err, "failed to parse config file")

	_, err = Load(writeConfig(t, "paths:\n  data_dir: relative/dir\n"))
	assert.ErrorContains(t, err, "invalid configuration")
}

func TestLoadOrDefault(t *testing.T) {
	t.Setenv("HOME", "/home/fallback")
	t.Setenv("XDG_DATA_HOME", "")

	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "/home/fallback", cfg.Paths.HomeDir)
	assert.Equal(t, "/home/fallback/.local/share/cup", cfg.Paths.DataDir)

	cfg, err = LoadOrDefault(writeConfig(t, "paths:\n  data_dir: /custom\n"))
	require.NoError(t, err)
	assert.Equal(t, "/custom", cfg.Paths.DataDir)
}

func TestDefaultPath(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/xdg/config")
	path, err := DefaultPath()
	require.NoError(t, err)
	assert.Equal(t, "/xdg/config/cup/config.yaml", path)

	t.Setenv("XDG_CONFIG_HOME", "")
	t.Setenv("HOME", "/home/user")
	path, err = DefaultPath()
	require.NoError(t, err)
	assert.Equal(t, "/home/user/.config/cup/config.yaml", path)
}

func TestValidate(t *testing.T) {
	valid := PathsConfig{DataDir: "/data", HomeDir: "/home/user", RootDir: "/"}

	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{
			name:    "valid config",
			cfg:     Config{Paths: valid, Auth: AuthConfig{SSHKeyFile: "/key"}},
			wantErr: false,
		},
		{
			name:    "missing data dir",
			cfg:     Config{Paths: PathsConfig{HomeDir: "/home/user", RootDir: "/"}},
			wantErr: true,
		},
		{
			name:    "relative home",
			cfg:     Config{Paths: PathsConfig{DataDir: "/data", HomeDir: "home", RootDir: "/"}},
			wantErr: true,
		},
		{
			name:    "both ssh key and https token set",
			cfg:     Config{Paths: valid, Auth: AuthConfig{SSHKeyFile: "/key", HTTPSTokenFile: "/token"}},
			wantErr: true,
		},
		{
			name:    "https token only",
			cfg:     Config{Paths: valid, Auth: AuthConfig{HTTPSTokenFile: "/token"}},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
