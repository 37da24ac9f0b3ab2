// Package keycache implements the Cache Controller: the single public
// façade coordinating reads, writes, inserts, flushes, resizes, and
// shutdown under one cache mutex with condition-variable wait queues.
// Grounded on server/innodb/buffer_pool/buffer_pool.go's
// BufferPool.GetPage/PutPage/FlushDirtyPages, generalized from fixed
// InnoDB pages to arbitrary (file, offset) byte ranges.
package keycache

import (
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/zhukovaskychina/keycache/internal/blockpool"
	"github.com/zhukovaskychina/keycache/internal/hashindex"
	"github.com/zhukovaskychina/keycache/internal/replacement"
	"github.com/zhukovaskychina/keycache/internal/xerrors"
	"github.com/zhukovaskychina/keycache/logger"
)

// FileID re-exports blockpool.FileID for callers that only import
// keycache.
type FileID = blockpool.FileID

// PageStatus is the outcome of lookup-or-assign.
type PageStatus int

const (
	PageRead PageStatus = iota
	PageToBeRead
	PageWaitToBeRead
)

// Config is the input to Init/Resize.
type Config struct {
	BlockSize       int
	MemorySize      int
	DivisionLimit   int // percent
	AgeThresholdPct int // percent
}

// minBlocks is the design minimum: below this the cache disables
// itself rather than run with too few blocks to be useful.
const minBlocks = 8

// Controller is the key cache's public façade.
type Controller struct {
	mu sync.Mutex

	storage Storage

	cfg   Config
	pool  *blockpool.Pool
	index *hashindex.Index
	ring  *replacement.Ring

	files map[blockpool.FileID]*fileChains

	canBeUsed bool
	inResize  bool
	disabled  bool

	// waitingForHashLink/waitingForBlock are broadcast-based condition
	// variables: mf_keycache.c describes FIFO queues, but since every
	// waiter re-checks its predicate on every wake, a single broadcast
	// condvar per queue is an equivalent, simpler implementation for the
	// Go port.
	hashLinkCond *sync.Cond
	blockCond    *sync.Cond
	resizeCond   *sync.Cond

	stats *Stats

	// flushBreaker wraps the flush loop's positioned-write collaborator
	// call: once it trips open, a failing storage backend stops being
	// hammered once per block in the batch, and a subsequent Resize's
	// flush phase inherits the same protection.
	flushBreaker *gobreaker.CircuitBreaker

	// DebugWaitTimeout is stored but not consulted by any wait: internal
	// condition-variable waits block indefinitely whatever its value,
	// and no operation returns ErrTimeout.
	DebugWaitTimeout int64 // nanoseconds
}

// New constructs a Controller; call Init before using it.
func New(storage Storage) *Controller {
	c := &Controller{
		storage: storage,
		files:   make(map[blockpool.FileID]*fileChains),
		stats:   newStats(),
	}
	c.flushBreaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "keycache-flush",
		Timeout: 10 * time.Second,
	})
	c.hashLinkCond = sync.NewCond(&c.mu)
	c.blockCond = sync.NewCond(&c.mu)
	c.resizeCond = sync.NewCond(&c.mu)
	return c
}

// Init allocates the block pool, hash index, and replacement ring.
// Returns the number of blocks allocated.
func (c *Controller) Init(cfg Config) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := cfg.MemorySize / cfg.BlockSize
	if n < minBlocks {
		c.canBeUsed = false
		logger.Warnf("keycache: init requested %d blocks (< minimum %d); cache disabled", n, minBlocks)
		return 0, xerrors.Wrap("Init", xerrors.ErrInvalidConfig)
	}

	c.cfg = cfg
	c.pool = blockpool.New(cfg.BlockSize, n)
	c.index = hashindex.New(nextPow2(n * 2))
	c.ring = replacement.New(n, cfg.DivisionLimit, cfg.AgeThresholdPct)
	c.canBeUsed = true
	c.files = make(map[blockpool.FileID]*fileChains)

	logger.Infof("keycache: initialized with %d blocks of %d bytes", n, cfg.BlockSize)
	return n, nil
}

func nextPow2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	if p < 16 {
		p = 16
	}
	return p
}

// ChangeParam live-reconfigures division_limit/age_threshold without
// touching the pool.
func (c *Controller) ChangeParam(divisionLimit, ageThresholdPct int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg.DivisionLimit = divisionLimit
	c.cfg.AgeThresholdPct = ageThresholdPct
	if c.ring != nil {
		c.ring.ChangeParam(divisionLimit, ageThresholdPct)
	}
}

// ResetCounters zeroes the stats surface.
func (c *Controller) ResetCounters() {
	c.stats.reset()
}

// End frees the pool. If cleanup is requested the caller is also
// expected to stop using the Controller afterward; Go's GC reclaims the
// buffers once dereferenced, so "freed" here means logically torn down
// rather than manually deallocated.
func (c *Controller) End(cleanup bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.canBeUsed = false
	c.pool = nil
	c.index = nil
	c.ring = nil
	c.files = make(map[blockpool.FileID]*fileChains)
	logger.Infof("keycache: end(cleanup=%v)", cleanup)
}

// CanBeUsed reports whether the cache is enabled; false means all
// traffic should bypass to direct I/O.
func (c *Controller) CanBeUsed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.canBeUsed
}

// Stats returns a point-in-time snapshot of the cache's externally
// visible counters (partition id is not meaningful for a single,
// non-partitioned controller and is ignored; internal/partitioned
// aggregates per-partition snapshots itself).
func (c *Controller) Stats() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := Snapshot{
		ReadRequests:  c.stats.ReadRequests,
		ReadMisses:    c.stats.ReadCounts,
		WriteRequests: c.stats.WriteRequests,
		WriteIOs:      c.stats.WriteCounts,
		Flushes:       c.stats.Flushes,
		FlushFailures: c.stats.FlushFailures,
		Evictions:     c.stats.Evictions,
		Errors:        c.stats.Errors,
		HitRatio:      c.stats.hitRatio(),
		ResizeBypass:  c.stats.ResizeBypassOps,
		CanBeUsed:     c.canBeUsed,
		InResize:      c.inResize,
	}
	if c.pool != nil {
		snap.BlockSize = c.pool.BlockSize
		snap.BlocksTotal = c.pool.Len()
		snap.BlocksUnused = c.pool.FreeCount()
		snap.BlocksUsed = snap.BlocksTotal - snap.BlocksUnused
	}
	if c.ring != nil {
		snap.BlocksWarm = c.ring.WarmLen()
		snap.BlocksHot = c.ring.HotLen()
	}
	for _, fc := range c.files {
		snap.BlocksChanged += fc.changedLen
	}
	return snap
}
