package minicdn

import (
	"encoding/base64"
	"fmt"
)

// Bytes is a byte payload. It serializes as a base64 string in JSON and as
// a raw byte string in CBOR.
type Bytes []byte

// String renders the payload the way it is stored in text snapshots.
func (b Bytes) String() string {
	return fmt.Sprintf("b%q", base64.StdEncoding.EncodeToString(b))
}

// File is one stored asset together with the metadata an HTTP layer needs
// for caching and content negotiation.
//
// Contents is always the original, uncompressed payload. Each Contents*
// variant is either nil (not kept) or an alternative encoding of the same
// resource. A File returned by a store must be treated as read-only.
type File struct {
	ETag         string `json:"etag" cbor:"etag"`                   // Content-derived cache validator
	LastModified string `json:"last_modified" cbor:"last_modified"` // Unix seconds, decimal
	MIME         string `json:"mime" cbor:"mime"`                   // Derived from the logical path

	Contents       Bytes `json:"contents" cbor:"contents"`
	ContentsBrotli Bytes `json:"contents_brotli,omitempty" cbor:"contents_brotli,omitempty"`
	ContentsGzip   Bytes `json:"contents_gzip,omitempty" cbor:"contents_gzip,omitempty"`
	ContentsZstd   Bytes `json:"contents_zstd,omitempty" cbor:"contents_zstd,omitempty"`
	ContentsWebP   Bytes `json:"contents_webp,omitempty" cbor:"contents_webp,omitempty"`
}

// Variant returns a kept alternative encoding by its content-coding name
// ("br", "gzip", "zstd") or "webp".
func (f *File) Variant(encoding string) ([]byte, bool) {
	var b Bytes
	switch encoding {
	case "br":
		b = f.ContentsBrotli
	case "gzip":
		b = f.ContentsGzip
	case "zstd":
		b = f.ContentsZstd
	case "webp":
		b = f.ContentsWebP
	}
	return b, b != nil
}

// Size returns the total number of payload bytes held by f, variants
// included.
func (f *File) Size() int {
	return len(f.Contents) + len(f.ContentsBrotli) + len(f.ContentsGzip) +
		len(f.ContentsZstd) + len(f.ContentsWebP)
}

func (f *File) withVariants(v Variants) *File {
	f.ContentsBrotli = v.Brotli
	f.ContentsGzip = v.Gzip
	f.ContentsZstd = v.Zstd
	f.ContentsWebP = v.WebP
	return f
}
