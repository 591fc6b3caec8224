package minicdn

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

var ErrInvalidPath = errors.New("invalid logical path")

// validateLogicalPath checks that p is a forward-slash relative path with no
// empty, "." or ".." segments.
func validateLogicalPath(p string) error {
	if p == "" {
		return fmt.Errorf("empty path: %w", ErrInvalidPath)
	}

	if strings.HasPrefix(p, "/") {
		return fmt.Errorf("%q is absolute: %w", p, ErrInvalidPath)
	}

	if strings.ContainsAny(p, "\x00\\") {
		return fmt.Errorf("%q contains a NUL byte or backslash: %w", p, ErrInvalidPath)
	}

	for _, segment := range strings.Split(p, "/") {
		switch segment {
		case "":
			return fmt.Errorf("%q has an empty segment: %w", p, ErrInvalidPath)
		case ".", "..":
			return fmt.Errorf("%q has a %q segment: %w", p, segment, ErrInvalidPath)
		}
	}

	// A volume name like "C:" would make the join below absolute on Windows.
	if filepath.VolumeName(filepath.FromSlash(p)) != "" {
		return fmt.Errorf("%q names a volume: %w", p, ErrInvalidPath)
	}

	return nil
}

// validateAssetPath is validateLogicalPath for paths that name a stored
// asset. Descriptor paths are never assets.
func validateAssetPath(p string) error {
	if err := validateLogicalPath(p); err != nil {
		return err
	}
	if IsDescriptorPath(p) {
		return fmt.Errorf("%q names a descriptor: %w", p, ErrInvalidPath)
	}
	return nil
}

// canonicalize returns the absolute, symlink-free form of p. It fails when p
// does not exist.
func canonicalize(p string) (string, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", err
	}
	return filepath.EvalSymlinks(abs)
}

// within reports whether the canonical path p lies inside the canonical
// directory root.
func within(root, p string) bool {
	if p == root {
		return true
	}
	if !strings.HasSuffix(root, string(filepath.Separator)) {
		root += string(filepath.Separator)
	}
	return strings.HasPrefix(p, root)
}

// resolvePath maps a requested logical path onto root and returns the
// canonical filesystem path. Every failure reports false with no detail:
// a path that escapes root, one naming a descriptor, and one that does not
// exist all look the same to the caller.
//
// Both the request and root are canonicalized, so a symlink inside root
// that points outside of it is rejected as well.
func resolvePath(root, requested string) (string, bool) {
	if IsDescriptorPath(requested) {
		return "", false
	}

	if err := validateLogicalPath(requested); err != nil {
		return "", false
	}

	canonicalRoot, err := canonicalize(root)
	if err != nil {
		return "", false
	}

	resolved, err := canonicalize(filepath.Join(canonicalRoot, filepath.FromSlash(requested)))
	if err != nil {
		return "", false
	}

	if !within(canonicalRoot, resolved) {
		return "", false
	}

	return resolved, true
}
