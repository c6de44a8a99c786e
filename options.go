package classfile

import "github.com/rs/zerolog"

// FrameMode controls how the writer handles stack map frames.
type FrameMode int

const (
	// FrameModeNone passes supplied frames through untouched. On the
	// read path the StackMapTable attribute is forwarded verbatim.
	FrameModeNone FrameMode = iota
	// FrameModeExpand expands compressed frames into full frames on
	// read and re-compresses them on write.
	FrameModeExpand
	// FrameModeCompute discards supplied frames and runs the frame
	// computation engine over each method body.
	FrameModeCompute
)

// Config collects the recognized options for a read or write session.
type Config struct {
	// FrameMode selects the stack map frame strategy.
	FrameMode FrameMode

	// StrictTypeResolution makes an undecidable supertype merge an
	// error instead of falling back to the root object type.
	StrictTypeResolution bool

	// MaxPoolSize caps constant pool slots. Zero means the format limit.
	MaxPoolSize int

	// MaxCodeSize caps the code bytes of a single method. Zero means
	// the format limit of 65535.
	MaxCodeSize int

	// Oracle answers hierarchy questions during frame computation.
	// Required when FrameMode is FrameModeCompute.
	Oracle TypeOracle

	// Logger receives debug and trace events. Defaults to a no-op logger.
	Logger zerolog.Logger
}

// Option describes a function used to configure a session.
type Option func(*Config)

// NewConfig returns a Config with defaults applied, then modified by the
// given options.
func NewConfig(opts ...Option) *Config {
	cfg := &Config{
		Logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// WithFrameMode sets the stack map frame strategy.
func WithFrameMode(mode FrameMode) Option {
	return func(cfg *Config) {
		cfg.FrameMode = mode
	}
}

// WithStrictTypeResolution makes oracle failures during frame computation
// an error rather than a fallback to the root object type.
func WithStrictTypeResolution() Option {
	return func(cfg *Config) {
		cfg.StrictTypeResolution = true
	}
}

// WithMaxPoolSize caps the number of constant pool slots in a session.
func WithMaxPoolSize(n int) Option {
	return func(cfg *Config) {
		cfg.MaxPoolSize = n
	}
}

// WithMaxCodeSize caps the code bytes of a single method.
func WithMaxCodeSize(n int) Option {
	return func(cfg *Config) {
		cfg.MaxCodeSize = n
	}
}

// WithOracle supplies the type hierarchy oracle used by frame computation.
func WithOracle(oracle TypeOracle) Option {
	return func(cfg *Config) {
		cfg.Oracle = oracle
	}
}

// WithLogger supplies a logger for debug and trace events.
func WithLogger(logger zerolog.Logger) Option {
	return func(cfg *Config) {
		cfg.Logger = logger
	}
}
