package minicdn

import (
	"bufio"
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"log/slog"
	"sync"

	"github.com/andybalholm/brotli"
	"github.com/chai2010/webp"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// Variants are the alternative encodings kept for one asset. A nil field
// means that encoding was not worth keeping.
type Variants struct {
	Brotli []byte
	Gzip   []byte
	Zstd   []byte
	WebP   []byte
}

// Compress runs the pipeline with the default savings threshold and logs to
// slog.Default().
func Compress(contents []byte, mimeType string, cfg CodecConfig) Variants {
	return newOptions().compress(contents, mimeType, cfg)
}

// compress decides which variants of contents to keep.
//
// PNG and JPEG images are transcoded to WebP first. When the WebP payload is
// kept, generic compression is skipped for the asset. Otherwise Brotli, Gzip
// and Zstd are each tried independently. Every variant has to beat the
// original by the configured margin.
//
// Codec failures never fail the asset; the variant is simply not produced.
func (o *Options) compress(contents []byte, mimeType string, cfg CodecConfig) Variants {
	var v Variants
	if len(contents) == 0 {
		return v
	}

	logger := o.Logger.With("mime", mimeType, "size", len(contents))

	if isTranscodable(mimeType) && !cfg.WebPQuality.Disabled() {
		encoded, err := encodeWebP(contents, mimeType, cfg.WebPQuality)
		if err != nil {
			logger.Debug("webp transcode failed", "error", err)
		} else {
			v.WebP = o.keep(logger, "webp", encoded, len(contents))
		}
	}

	if v.WebP != nil {
		return v
	}

	v.Brotli = o.try(logger, "brotli", len(contents), func() ([]byte, error) {
		return encodeBrotli(contents, cfg.BrotliLevel, cfg.BrotliLargeWindowSize, cfg.BrotliBufferSize)
	})
	v.Gzip = o.try(logger, "gzip", len(contents), func() ([]byte, error) {
		return encodeGzip(contents, cfg.GzipLevel)
	})
	v.Zstd = o.try(logger, "zstd", len(contents), func() ([]byte, error) {
		return encodeZstd(contents, cfg.ZstdLevel)
	})

	return v
}

func (o *Options) try(logger *slog.Logger, codec string, original int, encode func() ([]byte, error)) []byte {
	encoded, err := encode()
	if err != nil {
		logger.Warn("compression failed", "codec", codec, "error", err)
		return nil
	}
	return o.keep(logger, codec, encoded, original)
}

func (o *Options) keep(logger *slog.Logger, codec string, encoded []byte, original int) []byte {
	if !o.worthKeeping(len(encoded), original) {
		logger.Debug("variant discarded", "codec", codec, "encoded", len(encoded))
		return nil
	}
	logger.Debug("variant kept", "codec", codec, "encoded", len(encoded))
	return encoded
}

func isTranscodable(mimeType string) bool {
	switch mediaType(mimeType) {
	case "image/png", "image/jpeg":
		return true
	}
	return false
}

func encodeWebP(contents []byte, mimeType string, quality WebPQuality) ([]byte, error) {
	var (
		img image.Image
		err error
	)
	switch mediaType(mimeType) {
	case "image/png":
		img, err = png.Decode(bytes.NewReader(contents))
	case "image/jpeg":
		img, err = jpeg.Decode(bytes.NewReader(contents))
	default:
		return nil, fmt.Errorf("cannot transcode %s", mimeType)
	}
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", mimeType, err)
	}

	var buf bytes.Buffer
	opts := &webp.Options{
		Lossless: quality.Lossless(),
		Quality:  quality.Quality(),
	}
	if err := webp.Encode(&buf, img, opts); err != nil {
		return nil, fmt.Errorf("encoding webp: %w", err)
	}
	return buf.Bytes(), nil
}

func encodeBrotli(contents []byte, level, lgwin, bufferSize int) ([]byte, error) {
	var buf bytes.Buffer
	bw := brotli.NewWriterOptions(&buf, brotli.WriterOptions{
		Quality: level,
		LGWin:   lgwin,
	})

	w := bufio.NewWriterSize(bw, bufferSize)
	if _, err := w.Write(contents); err != nil {
		return nil, err
	}
	if err := w.Flush(); err != nil {
		return nil, err
	}
	if err := bw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeGzip(contents []byte, level int) ([]byte, error) {
	var buf bytes.Buffer
	gw, err := gzip.NewWriterLevel(&buf, level)
	if err != nil {
		return nil, err
	}
	if _, err := gw.Write(contents); err != nil {
		return nil, err
	}
	if err := gw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// zstdEncoders caches one encoder per level. zstd.Encoder.EncodeAll is safe
// for concurrent use.
var (
	zstdMu       sync.Mutex
	zstdEncoders = make(map[int]*zstd.Encoder)
)

func zstdEncoder(level int) (*zstd.Encoder, error) {
	zstdMu.Lock()
	defer zstdMu.Unlock()

	if enc, ok := zstdEncoders[level]; ok {
		return enc, nil
	}

	enc, err := zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)),
	)
	if err != nil {
		return nil, err
	}
	zstdEncoders[level] = enc
	return enc, nil
}

func encodeZstd(contents []byte, level int) ([]byte, error) {
	enc, err := zstdEncoder(level)
	if err != nil {
		return nil, err
	}
	return enc.EncodeAll(contents, nil), nil
}
