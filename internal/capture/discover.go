package capture

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// ErrMissingInput marks a capture directory that cannot be used: too few
// images, an unreadable file or a size mismatch.
var ErrMissingInput = errors.New("missing input")

// Directory is one capture_* folder and its graycode_* files in name order.
type Directory struct {
	Name  string
	Path  string
	Files []string
}

// Discover lists capture directories under root in sorted order. Entries
// that are not directories or hold no pattern files are ignored.
func Discover(root, dirPattern, filePrefix string) ([]Directory, error) {
	matches, err := filepath.Glob(filepath.Join(root, dirPattern))
	if err != nil {
		return nil, fmt.Errorf("bad capture pattern %q: %w", dirPattern, err)
	}
	sort.Strings(matches)

	var dirs []Directory
	for _, path := range matches {
		info, err := os.Stat(path)
		if err != nil || !info.IsDir() {
			continue
		}
		files, err := filepath.Glob(filepath.Join(path, filePrefix+"*"))
		if err != nil {
			return nil, fmt.Errorf("bad file prefix %q: %w", filePrefix, err)
		}
		if len(files) == 0 {
			continue
		}
		sort.Strings(files)
		dirs = append(dirs, Directory{Name: filepath.Base(path), Path: path, Files: files})
	}

	if len(dirs) == 0 {
		return nil, fmt.Errorf("%w: no %s directories with %s* files under %s",
			ErrMissingInput, dirPattern, filePrefix, root)
	}
	return dirs, nil
}
