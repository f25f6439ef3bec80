package numindex

import (
	"log/slog"

	"github.com/hupe1980/numindex/internal/tree"
	"github.com/hupe1980/numindex/iolimit"
)

// Compression selects how checkpoints compress index data.
type Compression uint8

const (
	// CompressionLZ4 compresses checkpoint blocks with LZ4 when it saves space.
	CompressionLZ4 Compression = iota
	// CompressionNone stores checkpoint blocks raw.
	CompressionNone
)

func (c Compression) codec() tree.Codec {
	if c == CompressionNone {
		return tree.CodecNone
	}
	return tree.CodecLZ4
}

type options struct {
	create            bool
	compression       Compression
	checkpointLimiter *iolimit.Limiter
	metricsCollector  MetricsCollector
	logger            *Logger
}

// Option configures Open.
type Option func(*options)

// WithCreate controls whether Open creates a missing backing file.
// Enabled by default. With create disabled, opening a missing file fails
// with an error matching os.ErrNotExist.
func WithCreate(create bool) Option {
	return func(o *options) {
		o.create = create
	}
}

// WithCompression configures checkpoint compression.
func WithCompression(c Compression) Option {
	return func(o *options) {
		o.compression = c
	}
}

// WithCheckpointLimiter sets the limiter used by Force(nil).
//
// Example:
//
//	acc, _ := numindex.Open(pc, path, layout.NonUnique(), recovery.Immediate(),
//	    numindex.WithCheckpointLimiter(iolimit.New(iolimit.Config{BytesPerSec: 8 << 20})))
func WithCheckpointLimiter(l *iolimit.Limiter) Option {
	return func(o *options) {
		o.checkpointLimiter = l
	}
}

// WithMetricsCollector configures a metrics collector for monitoring operations.
// Pass nil to disable metrics collection.
//
// Example with BasicMetricsCollector:
//
//	metrics := &numindex.BasicMetricsCollector{}
//	acc, _ := numindex.Open(pc, path, l, collector, numindex.WithMetricsCollector(metrics))
//	// ... use acc ...
//	stats := metrics.GetStats()
//	fmt.Printf("Checkpoints: %d, Avg latency: %dns\n", stats.CheckpointCount, stats.CheckpointAvgNanos)
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		if mc == nil {
			mc = NoopMetricsCollector{}
		}
		o.metricsCollector = mc
	}
}

// WithLogger configures structured logging for operations.
// Pass nil to disable logging.
//
// Example with JSON logging:
//
//	logger := numindex.NewJSONLogger(slog.LevelInfo)
//	acc, _ := numindex.Open(pc, path, l, collector, numindex.WithLogger(logger))
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger == nil {
			logger = NoopLogger()
		}
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		create:           true,
		compression:      CompressionLZ4,
		metricsCollector: NoopMetricsCollector{},
		logger:           NoopLogger(),
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	return o
}
