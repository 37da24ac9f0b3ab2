package keycache

import (
	"github.com/zhukovaskychina/keycache/internal/blockpool"
	"github.com/zhukovaskychina/keycache/internal/xerrors"
)

// Write implements the write path. If dontWrite is false the source is
// first written straight to the file (the admin-path use case); then
// each aligned piece is bound for writing, read-filled if it's a
// partial update of an unread block, updated in place, and marked
// dirty.
func (c *Controller) Write(file blockpool.FileID, offset int64, length int, src []byte, dontWrite bool) error {
	if len(src) < length {
		return xerrors.Wrap("Write", xerrors.ErrInvalidLength)
	}

	if !dontWrite {
		if _, err := c.storage.PWrite(file, src[:length], offset, true); err != nil {
			return xerrors.Wrap("Write", err)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	written := 0
	for written < length {
		blockOff, inBlock, n := c.splitPiece(offset+int64(written), length-written)
		full := inBlock == 0 && n == c.cfg.BlockSize

		b, status, err := c.lookupOrAssign(file, blockOff, true)
		if err != nil {
			if xerrors.IsResizeInFlush(err) {
				c.stats.ResizeBypassOps++
				c.mu.Unlock()
				_, ioErr := c.storage.PWrite(file, src[written:written+n], offset+int64(written), true)
				c.mu.Lock()
				c.stats.ResizeBypassOps--
				c.resizeCond.Broadcast()
				if ioErr != nil {
					return xerrors.Wrap("Write", ioErr)
				}
				written += n
				continue
			}
			return err
		}

		switch status {
		case PageWaitToBeRead:
			c.blockCond.Wait()
			continue
		case PageToBeRead:
			if !full {
				if err := c.fillBlock(b, file, blockOff); err != nil {
					c.stats.recordError()
					return xerrors.Wrap("Write", err)
				}
			} else {
				b.Status.Set(blockpool.StatusRead)
			}
		}

		b.Status.Set(blockpool.StatusForUpdate)
		copy(b.Buffer[inBlock:inBlock+n], src[written:written+n])
		if inBlock < b.Offset || b.Length == 0 {
			b.Offset = inBlock
		}
		if inBlock+n > b.Length {
			b.Length = inBlock + n
		}
		b.Status.Set(blockpool.StatusChanged)
		c.chainsFor(file).moveToChanged(b)
		b.Status.Clear(blockpool.StatusForUpdate)

		c.stats.recordWrite(!dontWrite)
		c.release(b, false)
		c.blockCond.Broadcast()
		written += n
	}
	return nil
}

// Insert implements the bulk-load variant: no file write. A
// whole-block source fills the buffer directly and marks it READ; a
// partial insert degrades to the ordinary write path's read-before-modify
// behavior so concurrent readers always see a consistent block. Insert
// must not populate the cache during a resize.
func (c *Controller) Insert(file blockpool.FileID, offset int64, length int, src []byte) error {
	if len(src) < length {
		return xerrors.Wrap("Insert", xerrors.ErrInvalidLength)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.inResize {
		return xerrors.ErrResizeInFlush
	}

	written := 0
	for written < length {
		blockOff, inBlock, n := c.splitPiece(offset+int64(written), length-written)
		full := inBlock == 0 && n == c.cfg.BlockSize

		b, status, err := c.lookupOrAssign(file, blockOff, true)
		if err != nil {
			return err
		}

		switch status {
		case PageWaitToBeRead:
			c.blockCond.Wait()
			continue
		case PageToBeRead:
			if full {
				copy(b.Buffer, src[written:written+n])
				b.Status.Set(blockpool.StatusRead)
				b.Offset = 0
				b.Length = len(b.Buffer)
				c.release(b, true)
				c.blockCond.Broadcast()
				written += n
				continue
			}
			if err := c.fillBlock(b, file, blockOff); err != nil {
				c.stats.recordError()
				return xerrors.Wrap("Insert", err)
			}
		}

		copy(b.Buffer[inBlock:inBlock+n], src[written:written+n])
		if inBlock+n > b.Length {
			b.Length = inBlock + n
		}
		b.Status.Set(blockpool.StatusChanged)
		c.chainsFor(file).moveToChanged(b)
		c.release(b, false)
		c.blockCond.Broadcast()
		written += n
	}
	return nil
}
