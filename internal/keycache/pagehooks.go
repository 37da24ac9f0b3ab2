package keycache

import (
	"sync"

	"github.com/zhukovaskychina/keycache/internal/blockpool"
	"github.com/zhukovaskychina/keycache/internal/xerrors"
)

// Acquire resolves a single block-aligned position to a ready (READ)
// block with one registered request, performing I/O to fill it if
// needed. It is the primitive internal/pagecache builds pin/lock/delete
// on top of, since those extensions need a handle on the exact block
// rather than a copied byte range.
func (c *Controller) Acquire(file blockpool.FileID, offset int64, wrmode bool) (*blockpool.Block, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.acquireLocked(file, offset, wrmode)
}

func (c *Controller) acquireLocked(file blockpool.FileID, offset int64, wrmode bool) (*blockpool.Block, error) {
	for {
		b, status, err := c.lookupOrAssign(file, offset, wrmode)
		if err != nil {
			return nil, err
		}
		switch status {
		case PageWaitToBeRead:
			c.blockCond.Wait()
			continue
		case PageToBeRead:
			if err := c.fillBlock(b, file, offset); err != nil {
				c.stats.recordError()
				return nil, xerrors.Wrap("Acquire", err)
			}
		}
		c.stats.recordRead(status == PageRead)
		return b, nil
	}
}

// Release unreserves a block acquired via Acquire, returning it to the
// replacement ring once its request count drains to zero.
func (c *Controller) Release(b *blockpool.Block, endOfRing bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.release(b, endOfRing)
}

// Lock/Unlock expose the controller's mutex to internal/pagecache so it
// can manipulate Block.Pins and its own lock-mode bookkeeping atomically
// alongside cache-controller state, keeping a single cache mutex model
// (the page-cache lattice is layered state, not a second lock).
func (c *Controller) Lock()   { c.mu.Lock() }
func (c *Controller) Unlock() { c.mu.Unlock() }

// BlockCond exposes the controller's block-availability condition
// variable so internal/pagecache can wait/broadcast on lock-mode
// transitions without introducing a second mutex.
func (c *Controller) BlockCond() *sync.Cond { return c.blockCond }

// MarkDirty marks an already-acquired block CHANGED and moves it onto
// its file's changed chain, used by pagecache's write modes "delay" and
// "now" after the WAL hook has stamped the page.
func (c *Controller) MarkDirty(file blockpool.FileID, b *blockpool.Block) {
	b.Status.Set(blockpool.StatusChanged)
	c.chainsFor(file).moveToChanged(b)
}

// WriteThrough issues a synchronous write of b's full buffer and clears
// CHANGED, used by pagecache's "now" write mode.
func (c *Controller) WriteThrough(file blockpool.FileID, offset int64, b *blockpool.Block) error {
	buf := append([]byte(nil), b.Buffer...)
	c.mu.Unlock()
	_, err := c.storage.PWrite(file, buf, offset, true)
	c.mu.Lock()
	if err != nil {
		return xerrors.Wrap("WriteThrough", err)
	}
	b.Status.Clear(blockpool.StatusChanged)
	c.chainsFor(file).moveToClean(b)
	return nil
}

// DeletePage removes the (file, offset) mapping entirely, optionally
// flushing it first. It refuses removal while the block holds any pin
// (Pins > 0 at call time), so a caller must release its own pin first.
func (c *Controller) DeletePage(file blockpool.FileID, offset int64, flushFirst bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	link := c.index.Find(file, offset)
	if link == nil || link.Block == nil {
		return nil
	}
	b := link.Block
	if b.Pins > 0 {
		return xerrors.Wrap("DeletePage", xerrors.ErrBlockPinned)
	}

	if flushFirst && b.Status.Has(blockpool.StatusChanged) {
		if err := c.writeBack(b, file); err != nil {
			return xerrors.Wrap("DeletePage", err)
		}
	}

	fc := c.chainsFor(file)
	fc.unlink(b)
	link.Block = nil
	if link.Requests == 0 {
		c.index.Release(link)
	}
	if b.InRing() {
		c.ring.Reserve(b)
	}
	c.pool.ReturnFree(b)
	return nil
}
