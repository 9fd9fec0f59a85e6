// Package fswalk discovers files below a directory of an afero filesystem.
package fswalk

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/afero"
)

// Files returns every non-directory entry below dir, relative to dir and
// in lexical order. A missing dir yields no files.
func Files(fs afero.Fs, dir string) ([]string, error) {
	if _, err := fs.Stat(dir); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var files []string

	err := afero.Walk(fs, dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		// Skip directories
		if info.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		files = append(files, rel)
		return nil
	})

	if err != nil {
		return nil, err
	}

	sort.Strings(files)
	return files, nil
}

// IsDir reports whether path exists and is a directory
func IsDir(fs afero.Fs, path string) bool {
	info, err := fs.Stat(path)
	return err == nil && info.IsDir()
}
