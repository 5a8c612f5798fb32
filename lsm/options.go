package lsm

// Options holds the engine's tunables from §6 (the WAL ones live in the
// root package's Options), each also settable via a With... functional
// option.
type Options struct {
	BlockCapacity int

	// MemLimit is the memtable size (bytes) at which a flush triggers.
	MemLimit int

	// L0Threshold is the L0 SST count at which compaction triggers before
	// the next flush installs one more.
	L0Threshold int

	// LevelRatio scales both L0 threshold growth and target SST size per
	// level (target_sst_size(L) = MemLimit * LevelRatio^L).
	LevelRatio int

	CacheCapacity int
	CacheK        int

	BloomEnabled           bool
	BloomFalsePositiveRate float64
	BloomExpectedElements  uint64
}

func DefaultOptions() Options {
	return Options{
		BlockCapacity:          4096,
		MemLimit:               64 << 20,
		L0Threshold:            4,
		LevelRatio:             4,
		CacheCapacity:          1024,
		CacheK:                 2,
		BloomEnabled:           true,
		BloomFalsePositiveRate: 0.01,
		BloomExpectedElements:  4096,
	}
}

type Option func(*Options)

func WithBlockCapacity(n int) Option { return func(o *Options) { o.BlockCapacity = n } }
func WithMemLimit(n int) Option      { return func(o *Options) { o.MemLimit = n } }
func WithL0Threshold(n int) Option   { return func(o *Options) { o.L0Threshold = n } }
func WithLevelRatio(n int) Option    { return func(o *Options) { o.LevelRatio = n } }
func WithCacheCapacity(n int) Option { return func(o *Options) { o.CacheCapacity = n } }
func WithCacheK(k int) Option        { return func(o *Options) { o.CacheK = k } }
func WithBloomEnabled(b bool) Option { return func(o *Options) { o.BloomEnabled = b } }
func WithBloomFalsePositiveRate(r float64) Option {
	return func(o *Options) { o.BloomFalsePositiveRate = r }
}
func WithBloomExpectedElements(n uint64) Option {
	return func(o *Options) { o.BloomExpectedElements = n }
}

func (o Options) apply(opts ...Option) Options {
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func targetSSTSize(memLimit, ratio, level int) int {
	size := memLimit
	for i := 0; i < level; i++ {
		size *= ratio
	}
	return size
}
