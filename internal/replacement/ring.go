// Package replacement implements the hot/warm LRU ring with midpoint
// insertion, generalized from the buffer pool's young/old LRU split and
// grounded on mf_keycache.c's hot/warm chain (division_limit /
// age_threshold policy).
package replacement

import "github.com/zhukovaskychina/keycache/internal/blockpool"

// initialHitsLeft is the promotions-remaining counter a block is given
// when it enters the warm chain; mirrors mf_keycache.c's default of 3 for
// the "hot_link" reuse distance used in the absence of a measured
// workload-specific value.
const initialHitsLeft = 3

// Ring is the replacement engine for a single cache (or cache partition).
// It is not itself safe for concurrent use: the cache controller that
// embeds it serializes all access under its single cache mutex.
type Ring struct {
	warmHead *Block // oldest warm block (next victim)
	warmTail *Block
	warmLen  int

	hotHead *Block // newest hot block
	hotTail *Block // oldest hot block (next demotion candidate)
	hotLen  int

	totalBlocks     int
	divisionLimit   int // percent of blocks reserved for the warm sublist
	ageThresholdPct int // percent of totalBlocks, in clock ticks, a hot block may go unused before demotion to warm

	clock uint64
}

// Block is a local alias so call sites read naturally; it is exactly
// blockpool.Block.
type Block = blockpool.Block

// New creates a Ring sized for totalBlocks blocks with the given initial
// division_limit/age_threshold percentages.
func New(totalBlocks, divisionLimit, ageThresholdPct int) *Ring {
	return &Ring{
		totalBlocks:     totalBlocks,
		divisionLimit:   divisionLimit,
		ageThresholdPct: ageThresholdPct,
	}
}

// ChangeParam live-reconfigures division_limit/age_threshold without
// disturbing the existing warm/hot split.
func (r *Ring) ChangeParam(divisionLimit, ageThresholdPct int) {
	r.divisionLimit = divisionLimit
	r.ageThresholdPct = ageThresholdPct
}

// Resize updates the block-count basis used to compute minWarmBlocks and
// ageThreshold. internal/keycache.Resize does not call it: it builds a
// new Ring for the reallocated pool instead.
func (r *Ring) Resize(totalBlocks int) {
	r.totalBlocks = totalBlocks
}

func (r *Ring) minWarmBlocks() int {
	return r.totalBlocks*r.divisionLimit/100 + 1
}

func (r *Ring) ageThreshold() uint64 {
	return uint64(r.totalBlocks * r.ageThresholdPct / 100)
}

// Len returns the total number of blocks currently in the ring (warm +
// hot), i.e. the blocks with Requests == 0 that are eviction candidates.
func (r *Ring) Len() int { return r.warmLen + r.hotLen }

func (r *Ring) linkWarmTail(b *Block) {
	b.SetLRUNext(nil)
	b.SetLRUPrev(r.warmTail)
	if r.warmTail != nil {
		r.warmTail.SetLRUNext(b)
	} else {
		r.warmHead = b
	}
	r.warmTail = b
	b.SetInRing(true)
	r.warmLen++
}

func (r *Ring) linkWarmHead(b *Block) {
	b.SetLRUPrev(nil)
	b.SetLRUNext(r.warmHead)
	if r.warmHead != nil {
		r.warmHead.SetLRUPrev(b)
	} else {
		r.warmTail = b
	}
	r.warmHead = b
	b.SetInRing(true)
	r.warmLen++
}

func (r *Ring) unlinkWarm(b *Block) {
	if prev := b.LRUPrev(); prev != nil {
		prev.SetLRUNext(b.LRUNext())
	} else {
		r.warmHead = b.LRUNext()
	}
	if next := b.LRUNext(); next != nil {
		next.SetLRUPrev(b.LRUPrev())
	} else {
		r.warmTail = b.LRUPrev()
	}
	b.SetLRUNext(nil)
	b.SetLRUPrev(nil)
	r.warmLen--
}

func (r *Ring) linkHotHead(b *Block) {
	b.SetLRUPrev(nil)
	b.SetLRUNext(r.hotHead)
	if r.hotHead != nil {
		r.hotHead.SetLRUPrev(b)
	} else {
		r.hotTail = b
	}
	r.hotHead = b
	b.SetInRing(true)
	r.hotLen++
}

func (r *Ring) unlinkHot(b *Block) {
	if prev := b.LRUPrev(); prev != nil {
		prev.SetLRUNext(b.LRUNext())
	} else {
		r.hotHead = b.LRUNext()
	}
	if next := b.LRUNext(); next != nil {
		next.SetLRUPrev(b.LRUPrev())
	} else {
		r.hotTail = b.LRUPrev()
	}
	b.SetLRUNext(nil)
	b.SetLRUPrev(nil)
	r.hotLen--
}

// Reserve removes b from whichever sub-chain holds it, if any. A block
// with Requests > 0 is never in the ring.
func (r *Ring) Reserve(b *Block) {
	if !b.InRing() {
		return
	}
	if b.Temp == blockpool.Hot {
		r.unlinkHot(b)
	} else {
		r.unlinkWarm(b)
	}
	b.SetInRing(false)
}

// InsertNew inserts a freshly-bound block into the warm chain at the
// midpoint-insertion entry point, i.e. the tail, where it ages into
// promotion eligibility.
func (r *Ring) InsertNew(b *Block) {
	r.Prime(b)
	r.linkWarmTail(b)
}

// Prime initializes a freshly-bound block's replacement-policy fields
// (warm generation, a full hits_left budget) without linking it into
// the ring, since a freshly bound block is held (Requests > 0) and a
// held block is never in the ring (see Reserve). Without this, a block
// bound for the first time carries a zero hits_left into its first
// Unreserve, which can promote it straight to hot before it has earned
// a single hit. The block links into warm normally at that first
// Unreserve.
func (r *Ring) Prime(b *Block) {
	b.Temp = blockpool.Warm
	b.HitsLeft = initialHitsLeft
}

// Unreserve is the single release point for a held block: it
// decrements hits_left, promotes warm->hot when the block has exhausted
// its hits while sitting at the ring's "end" position and there are
// enough warm blocks to spare one, otherwise (re)inserts into warm.
// It also demotes the oldest hot block if it has aged past the
// threshold. endOfRing indicates the block was released after reaching
// the position mf_keycache.c calls "hot_link" (promotion-eligible).
func (r *Ring) Unreserve(b *Block, endOfRing bool) {
	r.clock++
	b.LastHit = r.clock

	if b.HitsLeft > 0 {
		b.HitsLeft--
	}

	if b.HitsLeft == 0 && endOfRing && r.warmLen > r.minWarmBlocks() {
		b.Temp = blockpool.Hot
		b.HitsLeft = 0
		r.linkHotHead(b)
	} else {
		if b.Temp != blockpool.Hot {
			b.Temp = blockpool.Warm
		}
		if b.HitsLeft == 0 {
			b.HitsLeft = initialHitsLeft
		}
		r.linkWarmTail(b)
	}

	r.demoteAgedHot()
}

// demoteAgedHot demotes at most one hot block per call: only the
// block at the hot-tail pointer at the moment of inspection is
// considered.
func (r *Ring) demoteAgedHot() {
	tail := r.hotTail
	if tail == nil {
		return
	}
	if r.clock-tail.LastHit > r.ageThreshold() {
		r.unlinkHot(tail)
		tail.Temp = blockpool.Warm
		tail.HitsLeft = initialHitsLeft
		r.linkWarmHead(tail)
	}
}

// Victim returns the oldest warm block (the ring's head), or the oldest
// hot block when the warm chain is empty, as the candidate for
// reassignment without removing it — the
// caller (internal/keycache) removes it via Reserve once it has decided
// to take it, after possibly dropping the mutex to flush it first.
func (r *Ring) Victim() *Block {
	if r.warmHead != nil {
		return r.warmHead
	}
	return r.hotTail
}

// Clock returns the current cache-clock value.
func (r *Ring) Clock() uint64 { return r.clock }

// WarmLen and HotLen expose sub-chain lengths for stats.
func (r *Ring) WarmLen() int { return r.warmLen }
func (r *Ring) HotLen() int  { return r.hotLen }
