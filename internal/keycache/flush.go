package keycache

import (
	"sort"

	"github.com/zhukovaskychina/keycache/internal/blockpool"
	"github.com/zhukovaskychina/keycache/internal/xerrors"
)

// FlushType enumerates Flush's modes.
type FlushType int

const (
	FlushKeep FlushType = iota
	FlushRelease
	FlushIgnoreChanged
	FlushForceWrite
)

// flushBatchSize bounds how many blocks are snapshotted per pass, per
// flushDirty: "snapshot ... into a local array (up to a batch bound)".
const flushBatchSize = 64

// maxConsecutiveIdenticalErrors is the design value: 5.
const maxConsecutiveIdenticalErrors = 5

// Flush drains a file's dirty blocks to storage, per typ.
func (c *Controller) Flush(file blockpool.FileID, typ FlushType) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if typ == FlushIgnoreChanged {
		fc := c.chainsFor(file)
		for b := fc.changedHead; b != nil; {
			next := b.ChainNext()
			b.Status.Clear(blockpool.StatusChanged)
			fc.moveToClean(b)
			b = next
		}
		return nil
	}

	if err := c.flushDirty(file, typ == FlushForceWrite); err != nil {
		return err
	}

	if typ == FlushRelease {
		c.evictClean(file)
	}
	return nil
}

func (c *Controller) flushDirty(file blockpool.FileID, waitOthers bool) error {
	var lastErr error
	consecutiveIdentical := 0

	for {
		fc := c.chainsFor(file)
		batch := fc.snapshotChanged(flushBatchSize)
		if len(batch) == 0 {
			break
		}

		sort.Slice(batch, func(i, j int) bool {
			return batch[i].HashLink.Offset < batch[j].HashLink.Offset
		})

		for _, b := range batch {
			if waitOthers {
				for b.Status.Has(blockpool.StatusInFlush) || b.Status.Has(blockpool.StatusForUpdate) {
					c.blockCond.Wait()
				}
				if !b.Status.Has(blockpool.StatusChanged) {
					continue
				}
			}

			b.Status.Set(blockpool.StatusInFlush)
			b.Status.Set(blockpool.StatusInFlushwrite)
			buf := append([]byte(nil), b.Buffer[b.Offset:b.Length]...)
			off := b.HashLink.Offset + int64(b.Offset)

			c.mu.Unlock()
			_, err := c.flushBreaker.Execute(func() (interface{}, error) {
				return c.storage.PWrite(file, buf, off, true)
			})
			c.mu.Lock()

			b.Status.Clear(blockpool.StatusInFlushwrite)
			b.Status.Clear(blockpool.StatusInFlush)

			if err != nil {
				c.stats.recordFlush(false)
				if errorsEqual(lastErr, err) {
					consecutiveIdentical++
				} else {
					consecutiveIdentical = 1
				}
				lastErr = err
				c.blockCond.Broadcast()
				if consecutiveIdentical >= maxConsecutiveIdenticalErrors {
					return xerrors.Wrap("Flush", lastErr)
				}
				continue
			}

			consecutiveIdentical = 0
			c.stats.recordFlush(true)
			b.Status.Clear(blockpool.StatusChanged)
			b.Offset = 0
			b.Length = 0
			c.chainsFor(file).moveToClean(b)
			c.blockCond.Broadcast()
		}
	}

	if lastErr != nil {
		return xerrors.Wrap("Flush", lastErr)
	}
	return nil
}

func (c *Controller) evictClean(file blockpool.FileID) {
	fc := c.chainsFor(file)
	for b := fc.cleanHead; b != nil; {
		next := b.ChainNext()
		if b.Requests == 0 && b.Pins == 0 {
			fc.unlink(b)
			link := b.HashLink
			link.Block = nil
			if link.Requests == 0 {
				c.index.Release(link)
			}
			if b.InRing() {
				c.ring.Reserve(b)
			}
			c.pool.ReturnFree(b)
		}
		b = next
	}
}

// FlushAll iterates phase 1 (flush all dirty blocks in the pool) then
// phase 2 (free all clean blocks), restarting phase 2 whenever it
// observes a block newly dirtied by a pending FOR_UPDATE writer.
func (c *Controller) FlushAll() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	files := make([]blockpool.FileID, 0, len(c.files))
	for f := range c.files {
		files = append(files, f)
	}

	for _, f := range files {
		if err := c.flushDirty(f, false); err != nil {
			return err
		}
	}

	for {
		dirtyObserved := false
		for _, f := range files {
			fc := c.chainsFor(f)
			if fc.changedLen > 0 {
				dirtyObserved = true
				continue
			}
			c.evictClean(f)
		}
		if !dirtyObserved {
			break
		}
		for _, f := range files {
			if err := c.flushDirty(f, false); err != nil {
				return err
			}
		}
	}
	return nil
}

func errorsEqual(a, b error) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Error() == b.Error()
}
