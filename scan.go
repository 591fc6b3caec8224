package minicdn

import (
	"cmp"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"slices"
)

// Entry is one regular file found by Scan.
type Entry struct {
	AbsPath    string // Canonical filesystem path
	Path       string // Logical, forward-slash path relative to the root
	Descriptor bool   // Whether Path carries DescriptorSuffix
}

// Scan walks root recursively, following symbolic links, and returns every
// regular file it finds. Descriptors come first so that their configuration
// is known before any asset is processed; within each group entries are
// ordered by logical path. The order is the same on every call for an
// unchanged tree.
//
// Entries that cannot be read are skipped. Only a root that cannot be
// resolved is an error.
func Scan(root string) ([]Entry, error) {
	return scan(root, slog.Default())
}

func scan(root string, logger *slog.Logger) ([]Entry, error) {
	canonicalRoot, err := canonicalize(root)
	if err != nil {
		return nil, fmt.Errorf("resolving root %s: %w", root, err)
	}

	info, err := os.Stat(canonicalRoot)
	if err != nil {
		return nil, fmt.Errorf("stat root %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root %s is not a directory", root)
	}

	w := &walker{
		logger: logger,
		active: make(map[string]bool),
	}
	w.walk(canonicalRoot, "")

	slices.SortFunc(w.entries, func(a, b Entry) int {
		if a.Descriptor != b.Descriptor {
			if a.Descriptor {
				return -1
			}
			return 1
		}
		return cmp.Compare(a.Path, b.Path)
	})

	return w.entries, nil
}

// walker carries the state of one recursive walk. active holds the
// canonical directories on the current descent, which is how a symlink
// loop is detected.
type walker struct {
	logger  *slog.Logger
	active  map[string]bool
	entries []Entry
}

func (w *walker) walk(dir, logicalDir string) {
	if w.active[dir] {
		w.logger.Warn("skipping symlink cycle", "dir", dir)
		return
	}
	w.active[dir] = true
	defer delete(w.active, dir)

	dirEntries, err := os.ReadDir(dir)
	if err != nil {
		w.logger.Warn("skipping unreadable directory", "dir", dir, "error", err)
		return
	}

	for _, de := range dirEntries {
		name := de.Name()
		logical := path.Join(logicalDir, name)

		// Follow links: resolve to the target and look at what it is.
		abs, err := filepath.EvalSymlinks(filepath.Join(dir, name))
		if err != nil {
			w.logger.Warn("skipping unresolvable entry", "path", logical, "error", err)
			continue
		}

		info, err := os.Stat(abs)
		if err != nil {
			w.logger.Warn("skipping entry", "path", logical, "error", err)
			continue
		}

		switch {
		case info.IsDir():
			w.walk(abs, logical)
		case info.Mode().IsRegular():
			w.entries = append(w.entries, Entry{
				AbsPath:    abs,
				Path:       logical,
				Descriptor: IsDescriptorPath(name),
			})
		}
	}
}
