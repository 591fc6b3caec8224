package minicdn

import (
	"log/slog"
)

// Options configures how stores read, describe and compress assets.
type Options struct {
	Logger     *slog.Logger // Receives pipeline decisions and skipped entries
	Codec      CodecConfig  // Codec parameters for assets without a descriptor
	MinSavings int          // Percent a variant must undercut the original by
}

// OptionFunc is a functional option for configuring a store.
type OptionFunc func(opts *Options)

// WithLogger sets the logger. Default is slog.Default().
func WithLogger(logger *slog.Logger) OptionFunc {
	return func(opts *Options) {
		opts.Logger = logger
	}
}

// WithCodecConfig sets the baseline codec parameters. A descriptor file
// next to an asset replaces them for that asset only.
func WithCodecConfig(cfg CodecConfig) OptionFunc {
	return func(opts *Options) {
		opts.Codec = cfg
	}
}

// WithMinSavings sets how much smaller, in percent of the original size, an
// encoded variant has to be before it is kept. Default is 10, meaning a
// variant is kept only when encoded*10 < original*9. Values are clamped to
// the range 0..99.
func WithMinSavings(percent int) OptionFunc {
	return func(opts *Options) {
		opts.MinSavings = min(max(percent, 0), 99)
	}
}

const defaultMinSavings = 10

// newOptions copies the defaults and applies opts on top, so the defaults
// themselves are never mutated.
func newOptions(opts ...OptionFunc) *Options {
	options := &Options{
		Codec:      DefaultCodecConfig(),
		MinSavings: defaultMinSavings,
	}

	for _, opt := range opts {
		opt(options)
	}

	if options.Logger == nil {
		options.Logger = slog.Default()
	}

	return options
}

// worthKeeping reports whether an encoded payload of size encoded undercuts
// original by more than the configured margin.
func (o *Options) worthKeeping(encoded, original int) bool {
	return encoded*100 < original*(100-o.MinSavings)
}
