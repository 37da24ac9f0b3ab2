package keycache

import (
	"github.com/zhukovaskychina/keycache/internal/blockpool"
	"github.com/zhukovaskychina/keycache/internal/xerrors"
)

// Read splits [offset, offset+length) into block_size-aligned pieces,
// resolves each via lookup-or-assign, issues I/O for pieces this caller
// must read, and copies each piece into dest.
func (c *Controller) Read(file blockpool.FileID, offset int64, length int, dest []byte) error {
	if len(dest) < length {
		return xerrors.Wrap("Read", xerrors.ErrInvalidLength)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	read := 0
	for read < length {
		blockOff, inBlock, n := c.splitPiece(offset+int64(read), length-read)

		b, status, err := c.lookupOrAssign(file, blockOff, false)
		if err != nil {
			if xerrors.IsResizeInFlush(err) {
				if ioErr := c.bypassRead(file, offset+int64(read), dest[read:read+n]); ioErr != nil {
					return xerrors.Wrap("Read", ioErr)
				}
				read += n
				continue
			}
			return err
		}

		switch status {
		case PageWaitToBeRead:
			c.blockCond.Wait()
			continue
		case PageToBeRead:
			if err := c.fillBlock(b, file, blockOff); err != nil {
				c.stats.recordError()
				return xerrors.Wrap("Read", err)
			}
		}

		c.stats.recordRead(status == PageRead)
		copy(dest[read:read+n], b.Buffer[inBlock:inBlock+n])
		c.release(b, true)
		c.blockCond.Broadcast()
		read += n
	}
	return nil
}

// splitPiece returns the block-aligned offset a byte at absolute offset
// falls in, its offset within that block, and how many bytes of the
// requested range fall within this block.
func (c *Controller) splitPiece(absOffset int64, remaining int) (blockOff int64, inBlock int, n int) {
	bs := int64(c.cfg.BlockSize)
	blockOff = (absOffset / bs) * bs
	inBlock = int(absOffset - blockOff)
	n = c.cfg.BlockSize - inBlock
	if n > remaining {
		n = remaining
	}
	return blockOff, inBlock, n
}

func (c *Controller) fillBlock(b *blockpool.Block, file blockpool.FileID, blockOff int64) error {
	c.mu.Unlock()
	n, err := c.storage.PRead(file, b.Buffer, blockOff)
	c.mu.Lock()
	if err == nil && n < len(b.Buffer) {
		err = xerrors.ErrIOError
	}
	if err != nil {
		b.Status.Set(blockpool.StatusError)
		c.evictOnError(b)
		c.blockCond.Broadcast()
		return err
	}
	b.Status.Set(blockpool.StatusRead)
	b.Offset = 0
	b.Length = len(b.Buffer)
	c.blockCond.Broadcast()
	return nil
}

// bypassRead performs a direct positioned read outside the cache, used
// during a resize's flush phase so callers bypass the cache instead of
// blocking on it, tracked by Stats.ResizeBypassOps.
func (c *Controller) bypassRead(file blockpool.FileID, offset int64, dest []byte) error {
	c.stats.ResizeBypassOps++
	c.mu.Unlock()
	_, err := c.storage.PRead(file, dest, offset)
	c.mu.Lock()
	c.stats.ResizeBypassOps--
	c.resizeCond.Broadcast()
	return err
}
