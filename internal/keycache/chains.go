package keycache

import "github.com/zhukovaskychina/keycache/internal/blockpool"

// fileChains holds the per-file changed/clean chain heads: a block sits
// on exactly one of the two while IN_USE, so a single pair of
// chainNext/chainPrev pointers (blockpool.Block) threaded per-chain
// suffices; onChangedChain records which chain currently owns the
// links.
type fileChains struct {
	changedHead, changedTail *blockpool.Block
	changedLen               int

	cleanHead, cleanTail *blockpool.Block
	cleanLen             int
}

func (c *Controller) chainsFor(file blockpool.FileID) *fileChains {
	fc, ok := c.files[file]
	if !ok {
		fc = &fileChains{}
		c.files[file] = fc
	}
	return fc
}

func (fc *fileChains) linkChanged(b *blockpool.Block) {
	b.SetChainPrev(fc.changedTail)
	b.SetChainNext(nil)
	if fc.changedTail != nil {
		fc.changedTail.SetChainNext(b)
	} else {
		fc.changedHead = b
	}
	fc.changedTail = b
	b.SetOnChangedChain(true)
	fc.changedLen++
}

func (fc *fileChains) linkClean(b *blockpool.Block) {
	b.SetChainPrev(fc.cleanTail)
	b.SetChainNext(nil)
	if fc.cleanTail != nil {
		fc.cleanTail.SetChainNext(b)
	} else {
		fc.cleanHead = b
	}
	fc.cleanTail = b
	b.SetOnChangedChain(false)
	fc.cleanLen++
}

func (fc *fileChains) unlink(b *blockpool.Block) {
	onChanged := b.OnChangedChain()
	prev, next := b.ChainPrev(), b.ChainNext()
	if prev != nil {
		prev.SetChainNext(next)
	}
	if next != nil {
		next.SetChainPrev(prev)
	}
	if onChanged {
		if fc.changedHead == b {
			fc.changedHead = next
		}
		if fc.changedTail == b {
			fc.changedTail = prev
		}
		fc.changedLen--
	} else {
		if fc.cleanHead == b {
			fc.cleanHead = next
		}
		if fc.cleanTail == b {
			fc.cleanTail = prev
		}
		fc.cleanLen--
	}
	b.SetChainNext(nil)
	b.SetChainPrev(nil)
}

// moveToChanged moves b from the clean chain (or nowhere) to the changed
// chain of the same file, e.g. on first write to a READ block.
func (fc *fileChains) moveToChanged(b *blockpool.Block) {
	if b.ChainNext() != nil || b.ChainPrev() != nil || fc.changedHead == b || fc.cleanHead == b {
		fc.unlink(b)
	}
	fc.linkChanged(b)
}

func (fc *fileChains) moveToClean(b *blockpool.Block) {
	if b.ChainNext() != nil || b.ChainPrev() != nil || fc.changedHead == b || fc.cleanHead == b {
		fc.unlink(b)
	}
	fc.linkClean(b)
}

// snapshotChanged copies up to max blocks off the changed chain for a
// flush batch, without removing them — the caller marks them IN_FLUSH
// and removes them once written.
func (fc *fileChains) snapshotChanged(max int) []*blockpool.Block {
	out := make([]*blockpool.Block, 0, max)
	for b := fc.changedHead; b != nil && len(out) < max; b = b.ChainNext() {
		out = append(out, b)
	}
	return out
}
