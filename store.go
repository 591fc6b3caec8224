// Package minicdn provides a small static-asset store. Files are either
// held in memory, optionally with precomputed Brotli, Gzip, Zstd and WebP
// variants, or read lazily from a directory on each lookup.
//
// # Design
//
// A Store is one of two representations:
//   - Embedded: a map from logical path to a fully materialized File. No I/O
//     happens after construction.
//   - Filesystem: a root directory. Every lookup resolves the path, reads the
//     file and derives fresh metadata, so edits on disk show up immediately.
//
// Precomputed variants only exist in embedded stores. Each variant is kept
// only when it is meaningfully smaller than the original (10% by default),
// and a kept WebP transcode of an image suppresses the generic compressors.
//
// Sidecar descriptor files named "<stem>.minicdn" tune codec parameters for
// a single asset. They are consumed while building a compressed store, are
// never served, and a descriptor without a matching asset fails the build.
//
// # Usage
//
//	// At build time or start-up: compress everything once.
//	store, err := minicdn.NewCompressedFromPath("web/dist")
//	if err != nil {
//		return err
//	}
//
//	// During development: read from disk on every request.
//	store := minicdn.NewFilesystemFromPath("web/dist")
//
//	if file, ok := store.Get("index.html"); ok {
//		// file.MIME, file.ETag, file.LastModified, file.Contents,
//		// file.ContentsBrotli, ...
//	}
//
// # Concurrency
//
// Stores do no internal locking. Filesystem-mode stores are safe for
// concurrent reads. Embedded-mode stores are safe for concurrent reads as
// long as nobody calls Insert or Remove meanwhile.
//
// # Error Handling
//
// Lookups report absence with a boolean; a path escaping the root, a
// descriptor path and a missing file are indistinguishable. Construction
// errors wrap sentinels such as ErrOrphanedDescriptor and
// ErrInvalidDescriptor and can be tested with errors.Is.
package minicdn

import (
	"errors"
	"fmt"
)

var ErrNotEmbedded = errors.New("store is not in embedded mode")

// Source is what both store representations can do.
type Source interface {
	Get(p string) (*File, bool)
	ForEach(visit func(p string, file *File)) error
}

var (
	_ Source = (*EmbeddedStore)(nil)
	_ Source = (*FilesystemStore)(nil)
	_ Source = (*Store)(nil)
)

// Mode tells which representation backs a Store.
type Mode int

const (
	ModeEmbedded Mode = iota
	ModeFilesystem
)

func (m Mode) String() string {
	switch m {
	case ModeEmbedded:
		return "embedded"
	case ModeFilesystem:
		return "filesystem"
	default:
		return fmt.Sprintf("unknown(%d)", int(m))
	}
}

// Store is either an EmbeddedStore or a FilesystemStore. The zero value is
// an empty embedded store.
type Store struct {
	embedded   *EmbeddedStore
	filesystem *FilesystemStore
}

// NewEmbedded wraps an existing in-memory snapshot.
func NewEmbedded(embedded *EmbeddedStore) *Store {
	return &Store{embedded: embedded}
}

// NewEmbeddedFromPath reads every file under root into memory without
// compressing.
func NewEmbeddedFromPath(root string, opts ...OptionFunc) (*Store, error) {
	embedded, err := NewEmbeddedStoreFromPath(root, opts...)
	if err != nil {
		return nil, err
	}
	return NewEmbedded(embedded), nil
}

// NewCompressedFromPath reads and compresses every file under root. See
// NewCompressed.
func NewCompressedFromPath(root string, opts ...OptionFunc) (*Store, error) {
	embedded, err := NewCompressed(root, opts...)
	if err != nil {
		return nil, err
	}
	return NewEmbedded(embedded), nil
}

// NewFilesystemFromPath serves files lazily from root.
func NewFilesystemFromPath(root string, opts ...OptionFunc) *Store {
	return &Store{filesystem: NewFilesystemStore(root, opts...)}
}

// Mode reports the current representation.
func (s *Store) Mode() Mode {
	if s.filesystem != nil {
		return ModeFilesystem
	}
	return ModeEmbedded
}

// Embedded returns the in-memory representation, if that is the mode.
func (s *Store) Embedded() (*EmbeddedStore, bool) {
	if s.filesystem != nil {
		return nil, false
	}
	if s.embedded == nil {
		s.embedded = NewEmbeddedStore()
	}
	return s.embedded, true
}

// Filesystem returns the directory-backed representation, if that is the
// mode.
func (s *Store) Filesystem() (*FilesystemStore, bool) {
	return s.filesystem, s.filesystem != nil
}

// Get looks up the file at the logical path p.
func (s *Store) Get(p string) (*File, bool) {
	if s.filesystem != nil {
		return s.filesystem.Get(p)
	}
	if s.embedded == nil {
		return nil, false
	}
	return s.embedded.Get(p)
}

// Insert stores file at p. A filesystem-mode store is first materialized by
// reading every file under its root; from then on the store stays in
// embedded mode and no longer sees changes on disk.
func (s *Store) Insert(p string, file *File) error {
	if err := validateAssetPath(p); err != nil {
		return err
	}

	if s.filesystem != nil {
		embedded, err := s.filesystem.Materialize()
		if err != nil {
			return fmt.Errorf("materializing %s: %w", s.filesystem.Root(), err)
		}
		s.filesystem.opts.Logger.Info("store switched to embedded mode",
			"root", s.filesystem.Root(),
			"files", embedded.Len(),
		)
		s.embedded, s.filesystem = embedded, nil
	}

	embedded, _ := s.Embedded()
	return embedded.Insert(p, file)
}

// Remove deletes the entry at p. Only embedded stores support it.
func (s *Store) Remove(p string) error {
	if s.filesystem != nil {
		return fmt.Errorf("remove %q: %w", p, ErrNotEmbedded)
	}
	if s.embedded != nil {
		s.embedded.Remove(p)
	}
	return nil
}

// ForEach passes every file to visit. Embedded stores visit in no
// particular order; filesystem stores visit in scan order and read each
// file as they go.
func (s *Store) ForEach(visit func(p string, file *File)) error {
	if s.filesystem != nil {
		return s.filesystem.ForEach(visit)
	}
	if s.embedded == nil {
		return nil
	}
	return s.embedded.ForEach(visit)
}
