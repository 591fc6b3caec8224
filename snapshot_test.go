package minicdn

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fxamacker/cbor/v2"
)

func sampleStore(t *testing.T) *Store {
	t.Helper()
	store := &Store{}
	files := map[string]*File{
		"index.html": {
			ETag:           ETag([]byte("<html>")),
			LastModified:   "1700000000",
			MIME:           "text/html; charset=utf-8",
			Contents:       []byte("<html>"),
			ContentsBrotli: []byte{0x0b, 0x02},
			ContentsGzip:   []byte{0x1f, 0x8b},
		},
		"img/logo.png": {
			ETag:         ETag([]byte{0x89, 'P', 'N', 'G'}),
			LastModified: "1600000000",
			MIME:         "image/png",
			Contents:     []byte{0x89, 'P', 'N', 'G'},
			ContentsWebP: []byte("RIFF"),
		},
	}
	for p, f := range files {
		if err := store.Insert(p, f); err != nil {
			t.Fatal(err)
		}
	}
	return store
}

func assertSameFiles(t *testing.T, want, got *Store) {
	t.Helper()
	if got.Mode() != want.Mode() {
		t.Fatalf("mode %s, want %s", got.Mode(), want.Mode())
	}
	count := 0
	err := want.ForEach(func(p string, w *File) {
		count++
		g, ok := got.Get(p)
		if !ok {
			t.Errorf("%s missing after round trip", p)
			return
		}
		if g.ETag != w.ETag || g.LastModified != w.LastModified || g.MIME != w.MIME {
			t.Errorf("%s: metadata %+v, want %+v", p, g, w)
		}
		for _, pair := range [][2][]byte{
			{g.Contents, w.Contents},
			{g.ContentsBrotli, w.ContentsBrotli},
			{g.ContentsGzip, w.ContentsGzip},
			{g.ContentsZstd, w.ContentsZstd},
			{g.ContentsWebP, w.ContentsWebP},
		} {
			if !bytes.Equal(pair[0], pair[1]) || (pair[0] == nil) != (pair[1] == nil) {
				t.Errorf("%s: payload %v, want %v", p, pair[0], pair[1])
			}
		}
	})
	if err != nil {
		t.Fatal(err)
	}
	gotCount := 0
	_ = got.ForEach(func(string, *File) { gotCount++ })
	if gotCount != count {
		t.Errorf("got %d files, want %d", gotCount, count)
	}
}

func TestSnapshot_JSONRoundTrip(t *testing.T) {
	store := sampleStore(t)

	data, err := json.Marshal(store)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"contents":"PGh0bWw+"`) {
		t.Errorf("expected base64 payload in %s", data)
	}
	if strings.Contains(string(data), "contents_zstd") {
		t.Errorf("absent variants should be omitted: %s", data)
	}

	var decoded Store
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}
	assertSameFiles(t, store, &decoded)
}

func TestSnapshot_CBORRoundTrip(t *testing.T) {
	store := sampleStore(t)

	data, err := store.MarshalCBOR()
	if err != nil {
		t.Fatal(err)
	}

	decoded, err := DecodeSnapshot(data)
	if err != nil {
		t.Fatal(err)
	}
	assertSameFiles(t, store, decoded)

	// Payloads are raw byte strings, not base64 text.
	var generic map[string]map[string]map[string]any
	if err := cbor.Unmarshal(data, &generic); err != nil {
		t.Fatal(err)
	}
	if _, ok := generic["embedded"]["index.html"]["contents"].([]byte); !ok {
		t.Errorf("expected contents as a CBOR byte string, got %T", generic["embedded"]["index.html"]["contents"])
	}
}

func TestSnapshot_CBORDeterministic(t *testing.T) {
	first, err := sampleStore(t).MarshalCBOR()
	if err != nil {
		t.Fatal(err)
	}
	for range 5 {
		again, err := sampleStore(t).MarshalCBOR()
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(first, again) {
			t.Fatal("CBOR encoding is not deterministic")
		}
	}
}

func TestSnapshot_EmptyStore(t *testing.T) {
	var store Store

	data, err := json.Marshal(&store)
	if err != nil {
		t.Fatal(err)
	}

	var decoded Store
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("empty store does not round trip: %v (%s)", err, data)
	}
	if decoded.Mode() != ModeEmbedded {
		t.Errorf("expected embedded mode, got %s", decoded.Mode())
	}
}

func TestSnapshot_Filesystem(t *testing.T) {
	root := newSiteTree(t)
	store := NewFilesystemFromPath(root, quiet)

	data, err := json.Marshal(store)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "contents") {
		t.Errorf("filesystem snapshot must not carry payloads: %s", data)
	}

	var decoded Store
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}
	fs, ok := decoded.Filesystem()
	if !ok {
		t.Fatal("expected filesystem mode after decoding")
	}
	if fs.Root() != filepath.Clean(root) {
		t.Errorf("root %q, want %q", fs.Root(), root)
	}
	if _, ok := decoded.Get("index.html"); !ok {
		t.Error("decoded filesystem store cannot read its root")
	}

	cborData, err := store.MarshalCBOR()
	if err != nil {
		t.Fatal(err)
	}
	fromCBOR, err := DecodeSnapshot(cborData)
	if err != nil {
		t.Fatal(err)
	}
	if fromCBOR.Mode() != ModeFilesystem {
		t.Errorf("expected filesystem mode, got %s", fromCBOR.Mode())
	}
}

func TestSnapshot_Invalid(t *testing.T) {
	tests := []struct {
		name string
		json string
	}{
		{"neither", `{}`},
		{"null embedded", `{"embedded":null}`},
		{"both", `{"embedded":{},"filesystem":{"root":"/srv"}}`},
		{"empty root", `{"filesystem":{"root":""}}`},
		{"null record", `{"embedded":{"a.txt":null}}`},
		{"absolute path", `{"embedded":{"/etc/passwd":{"contents":""}}}`},
		{"traversal", `{"embedded":{"../x":{"contents":""}}}`},
		{"descriptor path", `{"embedded":{"logo.minicdn":{"contents":""}}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var s Store
			err := json.Unmarshal([]byte(tt.json), &s)
			if !errors.Is(err, ErrInvalidSnapshot) {
				t.Errorf("expected ErrInvalidSnapshot, got %v", err)
			}
		})
	}
}

func TestDecodeSnapshot_Garbage(t *testing.T) {
	if _, err := DecodeSnapshot([]byte{0xff, 0x00, 0x13}); err == nil {
		t.Error("expected error for garbage input")
	}
}

func TestWriteSnapshotFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "assets.cbor")
	store := sampleStore(t)

	if err := WriteSnapshotFile(path, store); err != nil {
		t.Fatal(err)
	}
	// Overwriting goes through the same rename.
	if err := WriteSnapshotFile(path, store); err != nil {
		t.Fatal(err)
	}

	loaded, err := ReadSnapshotFile(path)
	if err != nil {
		t.Fatal(err)
	}
	assertSameFiles(t, store, loaded)

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		var names []string
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Errorf("expected only the snapshot in %s, found %v", dir, names)
	}
}

func TestWriteSnapshotFile_MissingDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "assets.cbor")
	if err := WriteSnapshotFile(path, sampleStore(t)); err == nil {
		t.Error("expected error when the target directory does not exist")
	}
}

func TestReadSnapshotFile_Missing(t *testing.T) {
	if _, err := ReadSnapshotFile(filepath.Join(t.TempDir(), "missing.cbor")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestNewID(t *testing.T) {
	seen := make(map[string]bool)
	for range 1000 {
		id := newID()
		if len(id) != 20 {
			t.Fatalf("expected 20 hex characters, got %q", id)
		}
		if seen[id] {
			t.Fatalf("duplicate id %s", id)
		}
		seen[id] = true
	}
}
