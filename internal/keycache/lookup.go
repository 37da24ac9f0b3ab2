package keycache

import (
	"github.com/zhukovaskychina/keycache/internal/blockpool"
	"github.com/zhukovaskychina/keycache/internal/xerrors"
)

// lookupOrAssign is the algorithmic core of cache lookup and block
// assignment. Caller must hold c.mu. On success it returns a block
// with one registered request (Requests incremented, removed from the
// replacement ring) and the status telling the caller what to do next.
//
// The Go port holds the single cache mutex for the whole call except
// while flushing a dirty victim to make room (step 5.b), issuing that
// file I/O with the mutex dropped, and while waiting on a condition
// variable (each Wait releases the mutex until woken) — a fixed-size hash-link arena's "waiting_for_hash_link" queue
// has no Go analogue since hashindex.Index grows without bound, so
// that sub-case never triggers here (see DESIGN.md).
func (c *Controller) lookupOrAssign(file blockpool.FileID, offset int64, wrmode bool) (*blockpool.Block, PageStatus, error) {
	for {
		if !c.canBeUsed {
			return nil, 0, xerrors.Wrap("lookupOrAssign", xerrors.ErrCacheFull)
		}

		link := c.index.GetOrCreate(file, offset)
		link.Requests++

		if c.inResize {
			link.Requests--
			if link.Requests == 0 && link.Block == nil {
				c.index.Release(link)
			}
			return nil, 0, xerrors.ErrResizeInFlush
		}

		if link.Block != nil {
			b := link.Block

			if b.Status.Has(blockpool.StatusReassigned) ||
				b.Status.Has(blockpool.StatusInSwitch) ||
				b.Status.Has(blockpool.StatusInEviction) {
				if !wrmode && !b.Status.Has(blockpool.StatusReassigned) {
					// Readers may proceed past an in-switch (not yet
					// reassigned) block.
				} else {
					link.Requests--
					c.blockCond.Wait()
					continue
				}
			}

			if b.Status.Has(blockpool.StatusRead) {
				if b.Requests == 0 {
					c.ring.Reserve(b)
				}
				b.Requests++

				for wrmode && b.Status.Has(blockpool.StatusInFlush) {
					c.blockCond.Wait()
				}
				return b, PageRead, nil
			}

			// Block bound but not yet READ: another caller is doing the
			// I/O.
			link.Requests--
			return nil, PageWaitToBeRead, nil
		}

		// Case D: no block bound yet.
		if free := c.pool.TakeFree(); free != nil {
			c.bindBlock(free, link, file)
			return free, PageToBeRead, nil
		}

		victim := c.ring.Victim()
		if victim == nil {
			c.blockCond.Wait()
			link.Requests--
			continue
		}

		c.ring.Reserve(victim)
		victim.Status.Set(blockpool.StatusInSwitch)

		if victim.Status.Has(blockpool.StatusChanged) {
			oldFile := victim.HashLink.File
			if err := c.writeBack(victim, oldFile); err != nil {
				victim.Status.Set(blockpool.StatusError)
				c.evictOnError(victim)
				link.Requests--
				c.stats.recordError()
				return nil, 0, xerrors.Wrap("lookupOrAssign", err)
			}
		}
		victim.Status.Set(blockpool.StatusReassigned)

		oldLink := victim.HashLink
		oldFC := c.chainsFor(oldLink.File)
		oldFC.unlink(victim)
		oldLink.Block = nil
		if oldLink.Requests == 0 {
			c.index.Release(oldLink)
		}

		victim.Status = blockpool.StatusInUse
		victim.Offset = 0
		victim.Length = 0
		c.bindBlock(victim, link, file)

		c.stats.recordEviction()
		c.blockCond.Broadcast()
		return victim, PageToBeRead, nil
	}
}

func (c *Controller) bindBlock(b *blockpool.Block, link *blockpool.HashLink, file blockpool.FileID) {
	b.HashLink = link
	link.Block = b
	b.Status.Set(blockpool.StatusInUse)
	b.Requests = 1
	c.ring.Prime(b)
	c.chainsFor(file).linkClean(b)
}

// writeBack flushes a single dirty victim block with the mutex dropped.
func (c *Controller) writeBack(b *blockpool.Block, file blockpool.FileID) error {
	b.Status.Set(blockpool.StatusInFlush)
	buf := append([]byte(nil), b.Buffer[b.Offset:b.Length]...)
	off := b.HashLink.Offset + int64(b.Offset)
	c.mu.Unlock()
	_, err := c.storage.PWrite(file, buf, off, true)
	c.mu.Lock()
	b.Status.Clear(blockpool.StatusInFlush)
	if err == nil {
		b.Status.Clear(blockpool.StatusChanged)
		c.chainsFor(file).moveToClean(b)
	}
	c.blockCond.Broadcast()
	return err
}

// evictOnError frees a block outside the LRU ring after an I/O error
// ("set block ERROR; free block; surface to caller"), bypassing the
// normal release path entirely.
func (c *Controller) evictOnError(b *blockpool.Block) {
	if b.HashLink != nil {
		link := b.HashLink
		fc := c.chainsFor(link.File)
		fc.unlink(b)
		link.Block = nil
		if link.Requests == 0 {
			c.index.Release(link)
		}
	}
	c.pool.ReturnFree(b)
}

// release unreserves a block: decrements Requests, and once it drains to
// zero, returns the block to the replacement ring.
func (c *Controller) release(b *blockpool.Block, endOfRing bool) {
	b.Requests--
	if b.Requests < 0 {
		b.Requests = 0
	}
	if b.Requests == 0 {
		c.ring.Unreserve(b, endOfRing)
	}
	c.blockCond.Broadcast()
}
