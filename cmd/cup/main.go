package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/schaermu/cup/internal/config"
	"github.com/schaermu/cup/internal/git"
	"github.com/schaermu/cup/internal/repository"
	cupsync "github.com/schaermu/cup/internal/sync"
	"github.com/schaermu/cup/internal/tracker"
	"github.com/spf13/cobra"
)

var (
	// Set by goreleaser
	version = "dev"
	commit  = "none"
	date    = "unknown"

	// Global flags
	cfgFile   string
	logLevel  string
	logFormat string
	dryRun    bool

	// Output streams, replaced in tests
	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "cup",
	Short: "Track dotfiles in versioned repositories",
	Long: `cup keeps a list of tracked configuration files ("dotfiles") in a manifest,
mirrors their contents into an archive inside a git repository and keeps
archive and manifest consistent whenever files are added or removed.

Every collection lives in its own repository below the data directory and can
be imported on another machine with "cup import".`,
	SilenceUsage: true,
}

var importCmd = &cobra.Command{
	Use:   "import REF",
	Short: "Import a dotfile collection from a git remote",
	Long: `Import clones a dotfile collection. REF may be a GitHub shorthand (user/repo),
an SSH remote (git@host:user/repo.git) or a URL (https://host/user/repo).

An existing local collection with the same name is replaced. Repositories that
do not contain a valid collection are removed again.`,
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List local dotfile collections",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(stdout, "cup %s\n", version)
		fmt.Fprintf(stdout, "  commit: %s\n", commit)
		fmt.Fprintf(stdout, "  built:  %s\n", date)
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/cup/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text, json)")

	importCmd.Flags().BoolVar(&dryRun, "dry-run", false, "show what would be done without making changes")

	// Add commands
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(versionCmd)
}

func runImport(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	t, err := newTracker(setupLogger())
	if err != nil {
		return err
	}
	return t.Import(ctx, args[0])
}

func runList(cmd *cobra.Command, args []string) error {
	t, err := newTracker(setupLogger())
	if err != nil {
		return err
	}

	summaries, err := t.List()
	if err != nil {
		return err
	}
	printSummaries(stdout, summaries)
	return nil
}

func setupLogger() *slog.Logger {
	// Parse log level
	var level slog.Level
	switch logLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	// Create handler based on format
	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	// stdout carries command output
	if logFormat == "json" {
		handler = slog.NewJSONHandler(stderr, opts)
	} else {
		handler = slog.NewTextHandler(stderr, opts)
	}

	return slog.New(handler)
}

// loadConfig reads --config when given. Without it the default config file
// is optional.
func loadConfig(logger *slog.Logger) (*config.Config, error) {
	var cfg *config.Config
	var err error

	if cfgFile != "" {
		logger.Info("loading configuration", "path", cfgFile)
		cfg, err = config.Load(cfgFile)
	} else {
		var configPath string
		configPath, err = config.DefaultPath()
		if err != nil {
			return nil, err
		}
		logger.Info("loading configuration", "path", configPath)
		cfg, err = config.LoadOrDefault(configPath)
	}
	if err != nil {
		return nil, err
	}

	logger.Debug("configuration loaded",
		"data_dir", cfg.Paths.DataDir,
		"home_dir", cfg.Paths.HomeDir,
		"root_dir", cfg.Paths.RootDir,
		"commit", cfg.CommitEnabled(),
		"auth", cfg.AuthMethod())

	return cfg, nil
}

func newTracker(logger *slog.Logger) (*tracker.Tracker, error) {
	cfg, err := loadConfig(logger)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get working directory: %w", err)
	}

	// Fall back to the first key in ~/.ssh for ssh remotes
	sshKey := cfg.Auth.SSHKeyFile
	if sshKey == "" && cfg.Auth.HTTPSTokenFile == "" {
		sshKey = git.DefaultSSHKey(cfg.Paths.HomeDir)
	}

	gitClient := git.NewShellClient(sshKey, cfg.Auth.HTTPSTokenFile).
		WithAuthor(cfg.Git.AuthorName, cfg.Git.AuthorEmail)
	store := repository.NewStore(cfg.Paths.DataDir, gitClient, logger, cfg.CommitEnabled())

	return tracker.New(store, cfg.Dirs(), cwd, logger, dryRun), nil
}

// reportSaveError prints per-file sync failures as warnings. The manifest
// was saved in that case, the command still fails.
func reportSaveError(err error) error {
	var partial *cupsync.PartialError
	if !tracker.IsPartial(err) || !errors.As(err, &partial) {
		return err
	}

	warn := color.New(color.FgYellow)
	failures := partial.Failures()
	for _, f := range failures {
		_, _ = warn.Fprintf(stderr, "warning: %v\n", f)
	}

	errs := []error{fmt.Errorf("%d file(s) could not be synced, the manifest was saved", len(failures))}
	// a commit failure is joined next to the sync failures
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		for _, e := range joined.Unwrap() {
			if e != nil && e != error(partial) {
				errs = append(errs, e)
			}
		}
	}
	return errors.Join(errs...)
}

func setupSignalHandler() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigCh
		cancel()
	}()

	return ctx, cancel
}
