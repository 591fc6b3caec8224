package minicdn

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"mime"
	"net/http"
	"os"
	"path"
	"strconv"
	"time"
)

// etagLength is the number of hex digits of the SHA-256 digest kept as etag.
const etagLength = 32

// sniffLength is how much of a file http.DetectContentType looks at.
const sniffLength = 512

// ETag derives the cache validator for contents: the first 32 hex digits of
// its SHA-256 digest. Identical bytes always yield the same token.
func ETag(contents []byte) string {
	sum := sha256.Sum256(contents)
	return hex.EncodeToString(sum[:])[:etagLength]
}

// MIMEType derives a content type from the extension of the logical path.
// Unknown extensions fall back to sniffing the leading bytes of the content,
// which ends in application/octet-stream when nothing matches.
func MIMEType(logical string, head []byte) string {
	if ext := path.Ext(logical); ext != "" {
		if t := mime.TypeByExtension(ext); t != "" {
			return t
		}
	}
	if len(head) > sniffLength {
		head = head[:sniffLength]
	}
	return http.DetectContentType(head)
}

// mediaType strips parameters such as charset from a content type.
func mediaType(contentType string) string {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return contentType
	}
	return mt
}

// LastModified renders a modification time as decimal Unix seconds. A zero
// time, which is what a filesystem without mtimes reports, is replaced by
// the current time.
func LastModified(modTime time.Time) string {
	if modTime.IsZero() {
		modTime = time.Now()
	}
	return strconv.FormatInt(modTime.Unix(), 10)
}

// digestWriter collects a file's bytes while hashing them, so reading a file
// and deriving its etag is a single pass.
type digestWriter struct {
	buf    bytes.Buffer
	hasher hash.Hash
}

func newDigestWriter(sizeHint int64) *digestWriter {
	d := &digestWriter{hasher: sha256.New()}
	if sizeHint > 0 {
		d.buf.Grow(int(sizeHint))
	}
	return d
}

func (d *digestWriter) Write(p []byte) (int, error) {
	d.hasher.Write(p)
	return d.buf.Write(p)
}

func (d *digestWriter) etag() string {
	return hex.EncodeToString(d.hasher.Sum(nil))[:etagLength]
}

// readFile reads the regular file at absPath and derives its metadata. The
// logical path decides the MIME type. Variants are left empty.
func readFile(absPath, logical string) (*File, error) {
	f, err := os.Open(absPath)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", logical, err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%s: not a regular file", logical)
	}

	d := newDigestWriter(info.Size())
	if _, err := io.Copy(d, f); err != nil {
		return nil, fmt.Errorf("reading %s: %w", logical, err)
	}

	contents := d.buf.Bytes()
	return &File{
		ETag:         d.etag(),
		LastModified: LastModified(info.ModTime()),
		MIME:         MIMEType(logical, contents),
		Contents:     contents,
	}, nil
}
