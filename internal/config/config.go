package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/schaermu/cup/internal/address"
	"gopkg.in/yaml.v3"
)

// AppName names the data and config directories
const AppName = "cup"

// Config represents the complete cup configuration
type Config struct {
	Paths PathsConfig `yaml:"paths"`
	Git   GitConfig   `yaml:"git"`
	Auth  AuthConfig  `yaml:"auth"`
}

// PathsConfig configures local filesystem paths
type PathsConfig struct {
	DataDir string `yaml:"data_dir"` // holds one repository per dotfile collection
	HomeDir string `yaml:"home_dir"`
	RootDir string `yaml:"root_dir"`
}

// GitConfig configures how saves are versioned
type GitConfig struct {
	Commit      *bool  `yaml:"commit"`
	AuthorName  string `yaml:"author_name"`
	AuthorEmail string `yaml:"author_email"`
}

// AuthConfig configures Git authentication for imports
type AuthConfig struct {
	SSHKeyFile     string `yaml:"ssh_key_file"`
	HTTPSTokenFile string `yaml:"https_token_file"`
}

// DefaultPath returns $XDG_CONFIG_HOME/cup/config.yaml, falling back to ~/.config
func DefaultPath() (string, error) {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, AppName, "config.yaml"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(home, ".config", AppName, "config.yaml"), nil
}

// Default returns the configuration used when no config file exists
func Default() (*Config, error) {
	cfg := &Config{}
	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	// Expand environment variables in path
	path = os.ExpandEnv(path)

	// Read file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Parse YAML
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Expand environment variables in string fields
	cfg.expandEnv()

	// Apply defaults
	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}

	// Validate
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// LoadOrDefault loads path, falling back to Default when the file does not exist
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(os.ExpandEnv(path)); errors.Is(err, os.ErrNotExist) {
		return Default()
	}
	return Load(path)
}

// expandEnv expands environment variables in all string fields
func (c *Config) expandEnv() {
	c.Paths.DataDir = os.ExpandEnv(c.Paths.DataDir)
	c.Paths.HomeDir = os.ExpandEnv(c.Paths.HomeDir)
	c.Paths.RootDir = os.ExpandEnv(c.Paths.RootDir)
	c.Git.AuthorName = os.ExpandEnv(c.Git.AuthorName)
	c.Git.AuthorEmail = os.ExpandEnv(c.Git.AuthorEmail)
	c.Auth.SSHKeyFile = os.ExpandEnv(c.Auth.SSHKeyFile)
	c.Auth.HTTPSTokenFile = os.ExpandEnv(c.Auth.HTTPSTokenFile)
}

// applyDefaults fills in zero-value fields with sensible defaults.
func (c *Config) applyDefaults() error {
	if c.Paths.HomeDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get user home directory: %w", err)
		}
		c.Paths.HomeDir = home
	}
	if c.Paths.RootDir == "" {
		c.Paths.RootDir = string(filepath.Separator)
	}
	if c.Paths.DataDir == "" {
		if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
			c.Paths.DataDir = filepath.Join(dir, AppName)
		} else {
			c.Paths.DataDir = filepath.Join(c.Paths.HomeDir, ".local", "share", AppName)
		}
	}
	if c.Git.Commit == nil {
		commit := true
		c.Git.Commit = &commit
	}
	return nil
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	var errs []error

	// Ensure paths are absolute
	for _, field := range []struct{ name, path string }{
		{"paths.data_dir", c.Paths.DataDir},
		{"paths.home_dir", c.Paths.HomeDir},
		{"paths.root_dir", c.Paths.RootDir},
	} {
		if field.path == "" {
			errs = append(errs, fmt.Errorf("%s is required", field.name))
		} else if !filepath.IsAbs(field.path) {
			errs = append(errs, fmt.Errorf("%s must be an absolute path: %s", field.name, field.path))
		}
	}

	// Validate auth: only one auth method may be configured
	if c.Auth.SSHKeyFile != "" && c.Auth.HTTPSTokenFile != "" {
		errs = append(errs, fmt.Errorf("auth: only one of ssh_key_file or https_token_file may be set"))
	}

	return errors.Join(errs...)
}

// Dirs returns the directories file addresses resolve against
func (c *Config) Dirs() address.Dirs {
	return address.Dirs{Home: c.Paths.HomeDir, Root: c.Paths.RootDir}
}

// CommitEnabled reports whether saves are committed to git
func (c *Config) CommitEnabled() bool {
	return c.Git.Commit == nil || *c.Git.Commit
}

// AuthMethod returns a description of the configured auth method
func (c *Config) AuthMethod() string {
	if c.Auth.SSHKeyFile != "" {
		return "ssh"
	}
	if c.Auth.HTTPSTokenFile != "" {
		return "https"
	}
	return "none"
}
