package minicdn

import (
	"fmt"
	"maps"
	"os"
	"slices"
)

// EmbeddedStore is a closed set of fully materialized files held in memory.
//
// Concurrent Get and ForEach calls are safe as long as nothing calls Insert
// or Remove at the same time. Callers that mutate a shared store must
// provide their own locking.
type EmbeddedStore struct {
	files map[string]*File
}

// NewEmbeddedStore returns an empty store.
func NewEmbeddedStore() *EmbeddedStore {
	return &EmbeddedStore{files: make(map[string]*File)}
}

// NewEmbeddedStoreFromPath reads every file under root into memory without
// compressing. Descriptors are skipped and not validated.
func NewEmbeddedStoreFromPath(root string, opts ...OptionFunc) (*EmbeddedStore, error) {
	return NewFilesystemStore(root, opts...).Materialize()
}

// NewCompressed scans root, reads every file, derives its metadata and runs
// the compression pipeline on it, using the parameters of a matching
// descriptor when there is one. Depending on the tree this can take a long
// time; it is meant for build steps and start-up, never for lookups.
//
// Files reached through links that lead out of root are skipped.
// Construction fails as a whole when the baseline codec config is out of
// range, a file cannot be read, a descriptor is malformed, or a descriptor
// is left without a matching asset.
func NewCompressed(root string, opts ...OptionFunc) (*EmbeddedStore, error) {
	options := newOptions(opts...)

	if err := options.Codec.Validate(); err != nil {
		return nil, fmt.Errorf("codec config: %w", err)
	}

	entries, err := scan(root, options.Logger)
	if err != nil {
		return nil, err
	}

	canonicalRoot, err := canonicalize(root)
	if err != nil {
		return nil, fmt.Errorf("resolving root %s: %w", root, err)
	}

	descriptors := newDescriptorSet(options.Codec)
	embedded := NewEmbeddedStore()
	var variants, total int

	for _, entry := range entries {
		if entry.Descriptor {
			data, err := os.ReadFile(entry.AbsPath)
			if err != nil {
				return nil, fmt.Errorf("reading descriptor %s: %w", entry.Path, err)
			}
			if err := descriptors.add(entry.Path, data); err != nil {
				return nil, err
			}
			continue
		}

		// Links leading out of the root are not served, same as in
		// filesystem mode. A descriptor for such a link is used up.
		if !within(canonicalRoot, entry.AbsPath) {
			descriptors.take(entry.Path)
			options.Logger.Warn("skipping link outside root", "path", entry.Path, "target", entry.AbsPath)
			continue
		}

		file, err := readFile(entry.AbsPath, entry.Path)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", entry.Path, err)
		}

		cfg, matched := descriptors.take(entry.Path)
		if matched {
			options.Logger.Debug("descriptor applied", "path", entry.Path)
		}

		v := options.compress(file.Contents, file.MIME, cfg)
		file.withVariants(v)
		embedded.files[entry.Path] = file

		total += file.Size()
		for _, b := range [][]byte{v.Brotli, v.Gzip, v.Zstd, v.WebP} {
			if b != nil {
				variants++
			}
		}
	}

	if err := descriptors.finish(); err != nil {
		return nil, err
	}

	options.Logger.Info("embedded store built",
		"root", root,
		"files", len(embedded.files),
		"variants", variants,
		"bytes", total,
	)

	return embedded, nil
}

// Get returns the file stored at p. No I/O is involved.
func (e *EmbeddedStore) Get(p string) (*File, bool) {
	file, ok := e.files[p]
	return file, ok
}

// Insert stores file at p, replacing any previous entry.
func (e *EmbeddedStore) Insert(p string, file *File) error {
	if err := validateAssetPath(p); err != nil {
		return err
	}
	if e.files == nil {
		e.files = make(map[string]*File)
	}
	e.files[p] = file
	return nil
}

// Remove deletes the entry at p. Removing a missing entry is a no-op.
func (e *EmbeddedStore) Remove(p string) {
	delete(e.files, p)
}

// Len returns the number of stored files.
func (e *EmbeddedStore) Len() int {
	return len(e.files)
}

// ForEach passes every entry to visit, in no particular order. It never
// fails.
func (e *EmbeddedStore) ForEach(visit func(p string, file *File)) error {
	for p, file := range e.files {
		visit(p, file)
	}
	return nil
}

// Paths returns all logical paths in sorted order.
func (e *EmbeddedStore) Paths() []string {
	return slices.Sorted(maps.Keys(e.files))
}

// Sorted is ForEach in path order, for callers that render the store and
// need the output to be reproducible.
func (e *EmbeddedStore) Sorted(visit func(p string, file *File)) {
	for _, p := range e.Paths() {
		visit(p, e.files[p])
	}
}
