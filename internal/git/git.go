package git

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Client provides git operations for repository management
type Client interface {
	// Init creates an empty repository in dir
	Init(ctx context.Context, dir string) error
	// Clone clones url into destDir
	Clone(ctx context.Context, url, destDir string) error
	// CommitAll stages every change in dir and commits it. It returns the new
	// commit hash, or "" when there was nothing to commit.
	CommitAll(ctx context.Context, dir, message string) (string, error)
}

// ShellClient implements Client by shelling out to the git command
type ShellClient struct {
	sshKeyFile     string
	httpsTokenFile string
	authorName     string
	authorEmail    string
}

// NewShellClient creates a new git client that uses the git command
func NewShellClient(sshKeyFile, httpsTokenFile string) *ShellClient {
	return &ShellClient{
		sshKeyFile:     sshKeyFile,
		httpsTokenFile: httpsTokenFile,
	}
}

// WithAuthor sets the identity used for commits. Empty values fall back to
// the user's git configuration.
func (c *ShellClient) WithAuthor(name, email string) *ShellClient {
	c.authorName = name
	c.authorEmail = email
	return c
}

// Init creates an empty repository in dir
func (c *ShellClient) Init(ctx context.Context, dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create repository directory: %w", err)
	}

	cmd := exec.CommandContext(ctx, "git", "init", dir)
	if err := c.runCommand(cmd); err != nil {
		return fmt.Errorf("git init failed: %w", err)
	}
	return nil
}

// Clone clones url into destDir, which must not exist yet
func (c *ShellClient) Clone(ctx context.Context, url, destDir string) error {
	if err := os.MkdirAll(filepath.Dir(destDir), 0755); err != nil {
		return fmt.Errorf("failed to create parent directory: %w", err)
	}

	cmd := exec.CommandContext(ctx, "git", "clone", url, destDir)
	if err := c.configureAuth(cmd, url); err != nil {
		return err
	}

	if err := c.runCommand(cmd); err != nil {
		return fmt.Errorf("git clone failed: %w", err)
	}
	return nil
}

// CommitAll stages and commits every change in dir
func (c *ShellClient) CommitAll(ctx context.Context, dir, message string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", "-C", dir, "add", "-A")
	if err := c.runCommand(cmd); err != nil {
		return "", fmt.Errorf("git add failed: %w", err)
	}

	// diff --cached --quiet exits 1 when something is staged
	cmd = exec.CommandContext(ctx, "git", "-C", dir, "diff", "--cached", "--quiet")
	if err := cmd.Run(); err == nil {
		return "", nil
	} else if exitErr, ok := err.(*exec.ExitError); !ok || exitErr.ExitCode() != 1 {
		return "", fmt.Errorf("git diff failed: %w", err)
	}

	cmd = exec.CommandContext(ctx, "git", "-C", dir, "commit", "--no-verify", "-m", message)
	cmd.Args = insertGitFlags(cmd.Args, c.identityFlags()...)
	if err := c.runCommand(cmd); err != nil {
		return "", fmt.Errorf("git commit failed: %w", err)
	}

	// Get the commit hash
	cmd = exec.CommandContext(ctx, "git", "-C", dir, "rev-parse", "HEAD")
	output, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("git rev-parse failed: %w", err)
	}

	return strings.TrimSpace(string(output)), nil
}

func (c *ShellClient) identityFlags() []string {
	var flags []string
	if c.authorName != "" {
		flags = append(flags, "-c", "user.name="+c.authorName)
	}
	if c.authorEmail != "" {
		flags = append(flags, "-c", "user.email="+c.authorEmail)
	}
	return flags
}

// configureAuth sets up authentication for git operations
func (c *ShellClient) configureAuth(cmd *exec.Cmd, url string) error {
	if cmd.Env == nil {
		cmd.Env = os.Environ()
	}

	// SSH authentication
	if c.sshKeyFile != "" && isSSH(url) {
		// Use GIT_SSH_COMMAND to specify the SSH key.
		// The path is shell-quoted to prevent injection via crafted filenames.
		sshCmd := fmt.Sprintf("ssh -i %s -o StrictHostKeyChecking=accept-new -F /dev/null", shellQuote(c.sshKeyFile))
		cmd.Env = append(cmd.Env, "GIT_SSH_COMMAND="+sshCmd)
		return nil
	}

	// HTTPS authentication with token
	if c.httpsTokenFile != "" && strings.HasPrefix(url, "https://") {
		token, err := os.ReadFile(c.httpsTokenFile)
		if err != nil {
			return fmt.Errorf("failed to read HTTPS token file: %w", err)
		}

		tokenStr := strings.TrimSpace(string(token))

		// Pass the token via environment variable and configure a git
		// credential helper that reads it.
		cmd.Env = append(cmd.Env, "GIT_TERMINAL_PROMPT=0")
		cmd.Env = append(cmd.Env, "CUP_GIT_TOKEN="+tokenStr)
		cmd.Args = insertGitFlags(cmd.Args,
			"-c", `credential.helper=!f() { echo "username=x-access-token"; echo "password=$CUP_GIT_TOKEN"; }; f`,
		)

		return nil
	}

	return nil
}

func isSSH(url string) bool {
	return strings.HasPrefix(url, "git@") || strings.HasPrefix(url, "ssh://")
}

// insertGitFlags inserts flags immediately after the "git" command name,
// before the subcommand (e.g. "clone", "commit").
func insertGitFlags(args []string, flags ...string) []string {
	if len(args) == 0 {
		return flags
	}
	result := make([]string, 0, len(args)+len(flags))
	result = append(result, args[0])
	result = append(result, flags...)
	result = append(result, args[1:]...)
	return result
}

// shellQuote wraps s in single quotes, escaping any embedded single quotes.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// runCommand executes a command and returns an error with stderr on failure
func (c *ShellClient) runCommand(cmd *exec.Cmd) error {
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%w: %s", err, strings.TrimSpace(string(output)))
	}
	return nil
}
