package keycache

import (
	"github.com/zhukovaskychina/keycache/internal/blockpool"
	"github.com/zhukovaskychina/keycache/internal/hashindex"
	"github.com/zhukovaskychina/keycache/internal/replacement"
	"github.com/zhukovaskychina/keycache/logger"
)

// Resize implements the two-phase resize: flush everything under the
// old layout, then reallocate the pool/index/ring at the new size.
// Only one resize may run at a time; the caller is responsible for
// serializing calls to Resize. Returns the new block count, or 0 if the
// new parameters leave the cache disabled.
func (c *Controller) Resize(cfg Config) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.inResize = true
	defer func() {
		c.inResize = false
		c.resizeCond.Broadcast()
	}()

	// Phase 1: flush phase. Flush every file's dirty blocks while
	// in-flight bypass I/O (Read/Write calls that saw ErrResizeInFlush)
	// is allowed to proceed directly against storage.
	files := make([]blockpool.FileID, 0, len(c.files))
	for f := range c.files {
		files = append(files, f)
	}
	for _, f := range files {
		if err := c.flushDirty(f, true); err != nil {
			logger.Warnf("keycache: resize flush phase failed for file %v: %v", f, err)
		}
	}
	for c.stats.ResizeBypassOps > 0 {
		c.resizeCond.Wait()
	}

	// Phase 2: re-init phase.
	n := cfg.MemorySize / cfg.BlockSize
	if n < minBlocks {
		c.canBeUsed = false
		c.pool = nil
		c.index = nil
		c.ring = nil
		c.files = make(map[blockpool.FileID]*fileChains)
		logger.Warnf("keycache: resize to %d blocks (< minimum %d); cache disabled", n, minBlocks)
		return 0, nil
	}

	c.cfg = cfg
	c.pool = blockpool.New(cfg.BlockSize, n)
	c.index = hashindex.New(nextPow2(n * 2))
	c.ring = replacement.New(n, cfg.DivisionLimit, cfg.AgeThresholdPct)
	c.files = make(map[blockpool.FileID]*fileChains)
	c.canBeUsed = true

	logger.Infof("keycache: resized to %d blocks of %d bytes", n, cfg.BlockSize)
	return n, nil
}
