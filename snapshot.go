package minicdn

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fxamacker/cbor/v2"
)

var ErrInvalidSnapshot = errors.New("invalid store snapshot")

// snapshot is the serialized shape of a Store. Exactly one field is set.
type snapshot struct {
	Embedded   map[string]*File    `json:"embedded" cbor:"embedded"`
	Filesystem *filesystemSnapshot `json:"filesystem,omitempty" cbor:"filesystem,omitempty"`
}

type filesystemSnapshot struct {
	Root string `json:"root" cbor:"root"`
}

// cborEnc uses Core Deterministic Encoding (sorted map keys, shortest
// forms), so the same store always serializes to the same bytes.
var (
	cborEnc cbor.EncMode
	cborDec cbor.DecMode
)

func init() {
	var err error
	cborEnc, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("minicdn: CBOR encoder initialization failed: " + err.Error())
	}
	cborDec, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("minicdn: CBOR decoder initialization failed: " + err.Error())
	}
}

func (s *Store) snapshot() snapshot {
	if s.filesystem != nil {
		return snapshot{Filesystem: &filesystemSnapshot{Root: s.filesystem.Root()}}
	}
	files := make(map[string]*File)
	if s.embedded != nil {
		for p, file := range s.embedded.files {
			files[p] = file
		}
	}
	return snapshot{Embedded: files}
}

func (s *Store) restore(snap snapshot) error {
	switch {
	case snap.Filesystem != nil && snap.Embedded != nil:
		return fmt.Errorf("%w: both embedded and filesystem set", ErrInvalidSnapshot)
	case snap.Filesystem != nil:
		if snap.Filesystem.Root == "" {
			return fmt.Errorf("%w: filesystem root is empty", ErrInvalidSnapshot)
		}
		*s = Store{filesystem: NewFilesystemStore(snap.Filesystem.Root)}
	case snap.Embedded != nil:
		embedded := NewEmbeddedStore()
		for p, file := range snap.Embedded {
			if file == nil {
				return fmt.Errorf("%w: %q has no record", ErrInvalidSnapshot, p)
			}
			if err := embedded.Insert(p, file); err != nil {
				return fmt.Errorf("%w: %w", ErrInvalidSnapshot, err)
			}
		}
		*s = Store{embedded: embedded}
	default:
		return fmt.Errorf("%w: neither embedded nor filesystem set", ErrInvalidSnapshot)
	}
	return nil
}

// MarshalJSON encodes the store with every byte payload as a base64 string.
// A filesystem-mode store encodes only its root.
func (s *Store) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.snapshot())
}

// UnmarshalJSON replaces the store with the decoded one.
func (s *Store) UnmarshalJSON(data []byte) error {
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return err
	}
	return s.restore(snap)
}

// MarshalCBOR encodes the store with byte payloads as raw CBOR byte
// strings.
func (s *Store) MarshalCBOR() ([]byte, error) {
	return cborEnc.Marshal(s.snapshot())
}

// UnmarshalCBOR replaces the store with the decoded one. Byte payloads are
// copied out of data.
func (s *Store) UnmarshalCBOR(data []byte) error {
	var snap snapshot
	if err := cborDec.Unmarshal(data, &snap); err != nil {
		return err
	}
	return s.restore(snap)
}

// DecodeSnapshot decodes a CBOR snapshot, such as one written by
// WriteSnapshotFile and compiled in with //go:embed.
func DecodeSnapshot(data []byte) (*Store, error) {
	var s Store
	if err := s.UnmarshalCBOR(data); err != nil {
		return nil, fmt.Errorf("decoding snapshot: %w", err)
	}
	return &s, nil
}

// ReadSnapshotFile loads a CBOR snapshot from disk.
func ReadSnapshotFile(path string) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading snapshot: %w", err)
	}
	return DecodeSnapshot(data)
}

// WriteSnapshotFile writes s as CBOR to path. The data goes to a temporary
// file in the same directory first and is renamed into place, so readers
// never see a partial snapshot.
func WriteSnapshotFile(path string, s *Store) error {
	data, err := s.MarshalCBOR()
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}

	tmpPath := filepath.Join(filepath.Dir(path), "."+filepath.Base(path)+"."+newID()+".tmp")
	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}

	// Clean up on error
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("writing snapshot: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("writing snapshot: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("committing snapshot: %w", err)
	}
	committed = true

	return nil
}
