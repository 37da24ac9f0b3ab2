package replacement_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhukovaskychina/keycache/internal/blockpool"
	"github.com/zhukovaskychina/keycache/internal/replacement"
)

func newBlock() *blockpool.Block {
	return &blockpool.Block{Buffer: make([]byte, 64)}
}

func TestInsertNewPlacesBlockInWarmChain(t *testing.T) {
	r := replacement.New(100, 100, 50)
	b := newBlock()

	r.InsertNew(b)

	assert.Equal(t, blockpool.Warm, b.Temp)
	assert.Equal(t, 1, r.Len())
	assert.Same(t, b, r.Victim())
}

func TestReserveRemovesBlockFromRing(t *testing.T) {
	r := replacement.New(100, 100, 50)
	b := newBlock()
	r.InsertNew(b)

	r.Reserve(b)

	assert.Equal(t, 0, r.Len())
	assert.False(t, b.InRing())
}

func TestUnreserveExhaustingHitsPromotesToHotWhenEnoughWarmBlocks(t *testing.T) {
	// division_limit=0 => minWarmBlocks = 0*limit/100+1 = 1, so any warm
	// count > 1 satisfies the "enough warm blocks to spare one" rule.
	r := replacement.New(10, 0, 50)

	other := newBlock()
	r.InsertNew(other) // with spare, keeps warmLen (2) above minWarmBlocks (1) for the block under test
	spare := newBlock()
	r.InsertNew(spare)

	b := newBlock()
	r.InsertNew(b)
	r.Reserve(b)
	b.HitsLeft = 1

	r.Unreserve(b, true)

	require.Equal(t, 0, b.HitsLeft) // sanity: hits_left decremented to 0
	assert.Equal(t, blockpool.Hot, b.Temp)
	assert.Equal(t, 1, r.HotLen())
}

func TestUnreserveWithoutEndOfRingStaysWarm(t *testing.T) {
	r := replacement.New(10, 100, 50)
	b := newBlock()
	r.InsertNew(b)
	r.Reserve(b)

	r.Unreserve(b, false)

	assert.Equal(t, blockpool.Warm, b.Temp)
	assert.Equal(t, 0, r.HotLen())
	assert.Equal(t, 1, r.WarmLen())
}

func TestAgedHotBlockIsDemotedOnNextUnreserve(t *testing.T) {
	r := replacement.New(10, 0, 1) // age_threshold = 10*1/100 = 0 -> any positive gap demotes

	// Two spare warm blocks keep warmLen (2) above minWarmBlocks (1)
	// so that the block below can be promoted.
	r.InsertNew(newBlock())
	r.InsertNew(newBlock())

	hot := newBlock()
	r.InsertNew(hot)
	r.Reserve(hot)
	hot.HitsLeft = 1
	r.Unreserve(hot, true) // promotes to hot, clock=1, LastHit=1
	require.Equal(t, blockpool.Hot, hot.Temp)

	other := newBlock()
	r.InsertNew(other)
	r.Reserve(other)
	r.Unreserve(other, false) // clock=2; clock - hot.LastHit = 1 > ageThreshold(0)

	assert.Equal(t, blockpool.Warm, hot.Temp)
}
