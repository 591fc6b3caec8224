package minicdn

import (
	"path/filepath"
)

// FilesystemStore serves files from a directory, reading them on every
// lookup. It never carries compressed variants: running the pipeline per
// request would be too slow.
//
// A FilesystemStore holds no mutable state besides its root and is safe for
// concurrent use.
type FilesystemStore struct {
	root string
	opts *Options
}

// NewFilesystemStore references the directory at root. The directory is not
// touched until the first lookup, so a missing root simply yields no files.
func NewFilesystemStore(root string, opts ...OptionFunc) *FilesystemStore {
	return &FilesystemStore{
		root: filepath.Clean(root),
		opts: newOptions(opts...),
	}
}

// Root returns the directory the store reads from.
func (fs *FilesystemStore) Root() string {
	return fs.root
}

// Get reads the file at the logical path p. It returns false when the path
// does not exist, cannot be read, names a descriptor, or escapes the root;
// the caller cannot tell these cases apart.
func (fs *FilesystemStore) Get(p string) (*File, bool) {
	resolved, ok := resolvePath(fs.root, p)
	if !ok {
		fs.opts.Logger.Debug("lookup rejected", "path", p)
		return nil, false
	}

	file, err := readFile(resolved, p)
	if err != nil {
		fs.opts.Logger.Debug("lookup failed", "path", p, "error", err)
		return nil, false
	}

	return file, true
}

// ForEach reads every file under the root in scan order and passes it to
// visit, one file at a time. Descriptors are skipped, as are files that
// vanish or become unreadable during the walk.
func (fs *FilesystemStore) ForEach(visit func(p string, file *File)) error {
	entries, err := scan(fs.root, fs.opts.Logger)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		file, ok := fs.Get(entry.Path)
		if !ok {
			continue
		}
		visit(entry.Path, file)
	}

	return nil
}

// Materialize reads every file once into a new EmbeddedStore without
// compressing anything. The FilesystemStore itself is unchanged.
func (fs *FilesystemStore) Materialize() (*EmbeddedStore, error) {
	embedded := NewEmbeddedStore()
	err := fs.ForEach(func(p string, file *File) {
		embedded.files[p] = file
	})
	if err != nil {
		return nil, err
	}
	return embedded, nil
}
