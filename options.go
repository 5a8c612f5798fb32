package lsmkv

import (
	"io"

	"github.com/lsmkv/lsmkv/logging"
	"github.com/lsmkv/lsmkv/lsm"
	"github.com/lsmkv/lsmkv/wal"
)

// Options aggregates every tunable named in §6: the engine's own
// Options plus the WAL and logging knobs Open needs before any engine
// component exists to own them.
type Options struct {
	Engine lsm.Options

	WALBufferSize  int
	WALSegmentLimit int64

	LogLevel  logging.Level
	LogJSON   bool
	LogOutput io.Writer
}

func DefaultOptions() Options {
	return Options{
		Engine:          lsm.DefaultOptions(),
		WALBufferSize:   wal.DefaultBufferSize,
		WALSegmentLimit: wal.DefaultFileSizeLimit,
		LogLevel:        logging.WarnLevel,
	}
}

type Option func(*Options)

func WithBlockSize(n int) Option {
	return func(o *Options) { o.Engine.BlockCapacity = n }
}
func WithMemtableLimit(n int) Option {
	return func(o *Options) { o.Engine.MemLimit = n }
}
func WithL0Threshold(n int) Option {
	return func(o *Options) { o.Engine.L0Threshold = n }
}
func WithLevelRatio(n int) Option {
	return func(o *Options) { o.Engine.LevelRatio = n }
}
func WithBlockCacheCapacity(n int) Option {
	return func(o *Options) { o.Engine.CacheCapacity = n }
}
func WithLRUK(k int) Option {
	return func(o *Options) { o.Engine.CacheK = k }
}
func WithBloomFPR(r float64) Option {
	return func(o *Options) { o.Engine.BloomFalsePositiveRate = r }
}
func WithBloomExpectedElements(n uint64) Option {
	return func(o *Options) { o.Engine.BloomExpectedElements = n }
}
func WithWALBufferSize(n int) Option {
	return func(o *Options) { o.WALBufferSize = n }
}
func WithWALSegmentLimit(n int64) Option {
	return func(o *Options) { o.WALSegmentLimit = n }
}
func WithLogger(level logging.Level, jsonOutput bool, output io.Writer) Option {
	return func(o *Options) {
		o.LogLevel = level
		o.LogJSON = jsonOutput
		o.LogOutput = output
	}
}

func (o Options) apply(opts ...Option) Options {
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
