// Package locator discovers candidate drawing files under a root directory.
package locator

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/northshore/blockindex/pkg/types"
)

// Locator walks a directory tree and yields drawing files whose extension
// is in the recognized set. Traversal follows directory symlinks but tracks
// visited directory identities so a symlink cycle cannot loop forever.
type Locator struct {
	root       string
	extensions map[string]bool
}

// New creates a Locator for the given root and recognized extensions.
// Extensions are matched case-insensitively and should include the dot.
func New(root string, extensions []string) *Locator {
	exts := make(map[string]bool, len(extensions))
	for _, e := range extensions {
		exts[strings.ToLower(e)] = true
	}
	return &Locator{root: root, extensions: exts}
}

// visitedSet tracks directory identities via os.SameFile so two paths to
// the same directory (through a symlink) are recognized as one.
type visitedSet struct {
	infos []os.FileInfo
}

func (v *visitedSet) seen(info os.FileInfo) bool {
	for _, prev := range v.infos {
		if os.SameFile(prev, info) {
			return true
		}
	}
	v.infos = append(v.infos, info)
	return false
}

// Discover walks the tree and returns all candidates. An empty or missing
// root yields an empty slice, not an error. Files that match no recognized
// extension are silently skipped.
func (l *Locator) Discover() ([]types.DrawingFile, error) {
	info, err := os.Stat(l.root)
	if os.IsNotExist(err) {
		return []types.DrawingFile{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("stat root %q: %w", l.root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root %q is not a directory", l.root)
	}

	files := make([]types.DrawingFile, 0)
	visited := &visitedSet{}

	var walk func(dir string) error
	walk = func(dir string) error {
		dirInfo, err := os.Stat(dir)
		if err != nil {
			return nil
		}
		if visited.seen(dirInfo) {
			return nil
		}

		entries, err := os.ReadDir(dir)
		if err != nil {
			// Unreadable directories are skipped, not fatal.
			return nil
		}

		for _, entry := range entries {
			path := filepath.Join(dir, entry.Name())

			if entry.IsDir() {
				if err := walk(path); err != nil {
					return err
				}
				continue
			}

			// Follow symlinks to directories with cycle protection.
			if entry.Type()&fs.ModeSymlink != 0 {
				target, err := os.Stat(path)
				if err != nil {
					continue
				}
				if target.IsDir() {
					if err := walk(path); err != nil {
						return err
					}
					continue
				}
			}

			if df, ok := l.candidate(path); ok {
				files = append(files, df)
			}
		}
		return nil
	}

	if err := walk(l.root); err != nil {
		return nil, err
	}
	return files, nil
}

// candidate checks the extension and stats the file.
func (l *Locator) candidate(path string) (types.DrawingFile, bool) {
	ext := strings.ToLower(filepath.Ext(path))
	if !l.extensions[ext] {
		return types.DrawingFile{}, false
	}

	info, err := os.Stat(path)
	if err != nil {
		return types.DrawingFile{}, false
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}

	return types.DrawingFile{
		Path:    abs,
		Size:    info.Size(),
		ModTime: info.ModTime(),
		Format:  types.DetectFormat(path),
	}, true
}
