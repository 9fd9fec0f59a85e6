package git

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// ErrInvalidRemote is returned for repository references ParseRemote does not understand
var ErrInvalidRemote = errors.New("invalid repository reference")

// Remote is a parsed repository reference
type Remote struct {
	URL  string // URL handed to git clone
	Name string // repository name, used as the local directory name
	SSH  bool   // whether the URL uses the ssh transport
}

// Accepted forms:
//
//	<username>/<repository>
//	git@<host>:<username>/<repository>
//	<protocol>://<host>/<username>/<repository>
var remotePattern = regexp.MustCompile(`^(?:(?:(?P<protocol>git|ssh|https?)|(?P<ssh>git@[\w.:-]+))(?::(?://(?P<website>[\w.\[\]:@_-]+?)/)?))?(?P<username>[\w-]+)/(?P<repository>[\w._-]+?)(?:\.git)?$`)

// ParseRemote parses a repository reference. The short <username>/<repository>
// form is expanded to a GitHub HTTPS URL.
func ParseRemote(ref string) (Remote, error) {
	match := remotePattern.FindStringSubmatch(strings.TrimSpace(ref))
	if match == nil {
		return Remote{}, fmt.Errorf("%w: %q", ErrInvalidRemote, ref)
	}

	group := func(name string) string {
		return match[remotePattern.SubexpIndex(name)]
	}

	remote := Remote{
		URL:  ref,
		Name: group("repository"),
		SSH:  group("ssh") != "" || group("protocol") == "ssh",
	}

	if group("ssh") == "" && group("website") == "" {
		remote.URL = fmt.Sprintf("https://github.com/%s/%s", group("username"), remote.Name)
	}

	return remote, nil
}

// DefaultSSHKey returns the first private key (id_*) in <home>/.ssh, or ""
// when there is none.
func DefaultSSHKey(home string) string {
	sshDir := filepath.Join(home, ".ssh")
	entries, err := os.ReadDir(sshDir)
	if err != nil {
		return ""
	}

	var keys []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, "id") || strings.HasSuffix(name, ".pub") {
			continue
		}
		keys = append(keys, name)
	}
	if len(keys) == 0 {
		return ""
	}

	sort.Strings(keys)
	return filepath.Join(sshDir, keys[0])
}
