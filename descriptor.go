package minicdn

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"path"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// DescriptorSuffix marks a sidecar descriptor file. Descriptors tune codec
// parameters for one asset and are never served.
const DescriptorSuffix = ".minicdn"

var (
	ErrInvalidDescriptor  = errors.New("invalid descriptor")
	ErrOrphanedDescriptor = errors.New("descriptor matches no asset")
)

// CodecConfig holds the per-asset codec parameters. Every key omitted from a
// descriptor keeps its value from DefaultCodecConfig.
type CodecConfig struct {
	BrotliLevel           int         `yaml:"brotli_level"`
	BrotliBufferSize      int         `yaml:"brotli_buffer_size"`
	BrotliLargeWindowSize int         `yaml:"brotli_large_window_size"`
	GzipLevel             int         `yaml:"gzip_level"`
	ZstdLevel             int         `yaml:"zstd_level"`
	WebPQuality           WebPQuality `yaml:"webp_quality"`
}

// DefaultCodecConfig returns the parameters used when no descriptor applies.
func DefaultCodecConfig() CodecConfig {
	return CodecConfig{
		BrotliLevel:           9,
		BrotliBufferSize:      4096,
		BrotliLargeWindowSize: 20,
		GzipLevel:             8,
		ZstdLevel:             3,
		WebPQuality:           LossyWebP(90),
	}
}

// Validate checks that every parameter is within the range its codec
// accepts.
func (c CodecConfig) Validate() error {
	switch {
	case c.BrotliLevel < 0 || c.BrotliLevel > 11:
		return fmt.Errorf("brotli_level %d out of range 0..11", c.BrotliLevel)
	case c.BrotliBufferSize <= 0:
		return fmt.Errorf("brotli_buffer_size %d must be positive", c.BrotliBufferSize)
	case c.BrotliLargeWindowSize < 10 || c.BrotliLargeWindowSize > 24:
		return fmt.Errorf("brotli_large_window_size %d out of range 10..24", c.BrotliLargeWindowSize)
	case c.GzipLevel < 0 || c.GzipLevel > 9:
		return fmt.Errorf("gzip_level %d out of range 0..9", c.GzipLevel)
	case c.ZstdLevel < 1 || c.ZstdLevel > 22:
		return fmt.Errorf("zstd_level %d out of range 1..22", c.ZstdLevel)
	}
	return nil
}

type webpMode uint8

const (
	webpLossy webpMode = iota
	webpLossless
	webpDisabled
)

// WebPQuality selects how raster images are transcoded: lossy at a quality
// between 0 and 100, lossless, or not at all.
type WebPQuality struct {
	mode    webpMode
	quality float32
}

// LossyWebP transcodes at the given quality.
func LossyWebP(quality float32) WebPQuality {
	return WebPQuality{mode: webpLossy, quality: quality}
}

// LosslessWebP transcodes losslessly.
func LosslessWebP() WebPQuality {
	return WebPQuality{mode: webpLossless}
}

// NoWebP disables transcoding.
func NoWebP() WebPQuality {
	return WebPQuality{mode: webpDisabled}
}

// Lossless reports whether transcoding is lossless.
func (q WebPQuality) Lossless() bool { return q.mode == webpLossless }

// Disabled reports whether transcoding is switched off.
func (q WebPQuality) Disabled() bool { return q.mode == webpDisabled }

// Quality returns the lossy quality. It is meaningless when Lossless or
// Disabled is true.
func (q WebPQuality) Quality() float32 { return q.quality }

func (q WebPQuality) String() string {
	switch q.mode {
	case webpLossless:
		return "lossless"
	case webpDisabled:
		return "off"
	default:
		return fmt.Sprintf("%g", q.quality)
	}
}

// UnmarshalYAML accepts a number between 0 and 100, the string "lossless",
// or "off"/false.
func (q *WebPQuality) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: webp_quality must be a scalar", value.Line)
	}

	switch value.ShortTag() {
	case "!!str":
		switch value.Value {
		case "lossless":
			*q = LosslessWebP()
		case "off":
			*q = NoWebP()
		default:
			return fmt.Errorf("line %d: webp_quality %q: want a quality, \"lossless\" or \"off\"", value.Line, value.Value)
		}
		return nil

	case "!!bool":
		var enabled bool
		if err := value.Decode(&enabled); err != nil {
			return err
		}
		if enabled {
			return fmt.Errorf("line %d: webp_quality true is ambiguous, give a quality or \"lossless\"", value.Line)
		}
		*q = NoWebP()
		return nil

	case "!!int", "!!float":
		var quality float64
		if err := value.Decode(&quality); err != nil {
			return err
		}
		if quality < 0 || quality > 100 {
			return fmt.Errorf("line %d: webp_quality %g out of range 0..100", value.Line, quality)
		}
		*q = LossyWebP(float32(quality))
		return nil
	}

	return fmt.Errorf("line %d: unsupported webp_quality %q", value.Line, value.Value)
}

// ParseDescriptor decodes a descriptor body on top of base. Unknown keys are
// rejected so a misspelled parameter cannot be silently ignored.
func ParseDescriptor(data []byte, base CodecConfig) (CodecConfig, error) {
	cfg := base

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return CodecConfig{}, err
	}

	if err := cfg.Validate(); err != nil {
		return CodecConfig{}, err
	}

	return cfg, nil
}

// IsDescriptorPath reports whether p names a descriptor file.
func IsDescriptorPath(p string) bool {
	return strings.HasSuffix(p, DescriptorSuffix)
}

// assetStem strips the extension from the base name of a logical path,
// starting at the first dot: "img/logo.min.png" becomes "img/logo". Names
// starting with a dot keep their leading dot.
func assetStem(logical string) string {
	dir, base := path.Split(logical)
	if i := strings.IndexByte(base, '.'); i > 0 {
		base = base[:i]
	}
	return dir + base
}

type pendingDescriptor struct {
	path string
	cfg  CodecConfig
}

// descriptorSet accumulates descriptors during one scan. Each descriptor is
// handed out at most once; whatever is left when the scan ends is an error.
type descriptorSet struct {
	base    CodecConfig
	pending map[string]pendingDescriptor
}

func newDescriptorSet(base CodecConfig) *descriptorSet {
	return &descriptorSet{
		base:    base,
		pending: make(map[string]pendingDescriptor),
	}
}

func (d *descriptorSet) add(logical string, data []byte) error {
	cfg, err := ParseDescriptor(data, d.base)
	if err != nil {
		return fmt.Errorf("%w %s: %v", ErrInvalidDescriptor, logical, err)
	}

	d.pending[strings.TrimSuffix(logical, DescriptorSuffix)] = pendingDescriptor{
		path: logical,
		cfg:  cfg,
	}
	return nil
}

// take consumes the descriptor for an asset. A descriptor naming the asset
// in full wins over one naming only its stem.
func (d *descriptorSet) take(logical string) (CodecConfig, bool) {
	for _, key := range []string{logical, assetStem(logical)} {
		if p, ok := d.pending[key]; ok {
			delete(d.pending, key)
			return p.cfg, true
		}
	}
	return d.base, false
}

// finish reports every unconsumed descriptor.
func (d *descriptorSet) finish() error {
	if len(d.pending) == 0 {
		return nil
	}

	orphans := make([]string, 0, len(d.pending))
	for _, p := range d.pending {
		orphans = append(orphans, p.path)
	}
	slices.Sort(orphans)

	return fmt.Errorf("%w: %s", ErrOrphanedDescriptor, strings.Join(orphans, ", "))
}
