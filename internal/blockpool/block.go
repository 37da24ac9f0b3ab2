// Package blockpool owns the raw, fixed-size buffers backing the key
// cache and the block headers describing them, along with the hash-link
// nodes used to bind a header to a (file, offset) position. It has no
// notion of replacement policy or cache-wide coordination; those live in
// internal/replacement and internal/keycache respectively.
package blockpool

import "sync"

// FileID is an opaque, comparable, hashable file identifier; the
// storage collaborator needs nothing more from a file handle.
type FileID string

// HashLink binds a (file, offset) position to a Block. It is the unit of
// "request registration": while Requests > 0 it cannot be recycled to a
// different file position even if its Block is mid-eviction.
type HashLink struct {
	File     FileID
	Offset   int64
	Block    *Block // nil until a block is actually bound
	Requests int    // active logical users of this position

	next, prev *HashLink // bucket chain, owned by internal/hashindex
}

// Next and Prev expose the bucket-chain links to internal/hashindex
// without that package reaching into unexported fields across packages
// via reflection; hashindex is the only intended caller.
func (h *HashLink) Next() *HashLink     { return h.next }
func (h *HashLink) Prev() *HashLink     { return h.prev }
func (h *HashLink) SetNext(n *HashLink) { h.next = n }
func (h *HashLink) SetPrev(p *HashLink) { h.prev = p }

// Block is a fixed-size buffer plus the header describing its current
// binding, state, and replacement-policy bookkeeping. Fields map 1:1 onto
// mf_keycache.c's BLOCK_LINK header.
type Block struct {
	Buffer []byte

	HashLink *HashLink
	Status   Status

	Requests int
	Temp     Temperature
	HitsLeft int
	LastHit  uint64 // cache-clock value at last use

	// Offset/Length bound the modified sub-range of Buffer for partial
	// dirty writes: 0 <= Offset <= Length <= len(Buffer).
	Offset int
	Length int

	Pins int // page-cache only; 0 means flushable

	// changed/clean per-file chain links, threaded through the header so
	// flush can enumerate one file's dirty blocks without scanning the
	// whole pool.
	chainNext, chainPrev *Block
	onChangedChain       bool

	// lruNext/lruPrev thread the block into the replacement engine's
	// hot or warm ring; owned by internal/replacement.
	lruNext, lruPrev *Block
	inRing           bool

	Queues WaitQueues
}

// LRU ring accessors, for internal/replacement's exclusive use.
func (b *Block) LRUNext() *Block     { return b.lruNext }
func (b *Block) LRUPrev() *Block     { return b.lruPrev }
func (b *Block) SetLRUNext(n *Block) { b.lruNext = n }
func (b *Block) SetLRUPrev(p *Block) { b.lruPrev = p }
func (b *Block) InRing() bool        { return b.inRing }
func (b *Block) SetInRing(v bool)    { b.inRing = v }

// ChainNext/ChainPrev/SetChainNext/SetChainPrev expose the changed/clean
// chain links to internal/keycache, which owns chain membership.
func (b *Block) ChainNext() *Block      { return b.chainNext }
func (b *Block) ChainPrev() *Block      { return b.chainPrev }
func (b *Block) SetChainNext(n *Block)  { b.chainNext = n }
func (b *Block) SetChainPrev(p *Block)  { b.chainPrev = p }
func (b *Block) OnChangedChain() bool   { return b.onChangedChain }
func (b *Block) SetOnChangedChain(v bool) { b.onChangedChain = v }

// WaitQueues groups the condition variables a block's waiters sleep on.
// All of them share the cache controller's single mutex.
type WaitQueues struct {
	Requested *sync.Cond // woken when READ is set or an error occurs
	Saved     *sync.Cond // woken when a flush/reassignment completes
	Readers   *sync.Cond // woken when the reader count drains to zero
	WRLock    *sync.Cond // page-cache only: woken on lock-mode release
	Copy      *sync.Cond // page-cache only: woken when a copy-on-write settles
}

// NewWaitQueues allocates the five condition variables against the
// caller's cache mutex.
func NewWaitQueues(mu sync.Locker) WaitQueues {
	return WaitQueues{
		Requested: sync.NewCond(mu),
		Saved:     sync.NewCond(mu),
		Readers:   sync.NewCond(mu),
		WRLock:    sync.NewCond(mu),
		Copy:      sync.NewCond(mu),
	}
}

// Pool is the fixed-size array of buffers and headers the key cache
// allocates up front. It has no locking of its own: the cache
// controller that owns a Pool serializes all access via its own mutex.
type Pool struct {
	BlockSize int
	blocks    []*Block
	free      []*Block // free list; LIFO is fine, order is not meaningful
}

// New allocates n blocks of blockSize bytes each. Returns an error-free
// Pool; allocation failure in Go is a fatal out-of-memory runtime error,
// which neither New nor its callers (internal/keycache.Init/Resize)
// handle — Go has no separate allocation-failure return the way a C
// allocator does.
func New(blockSize, n int) *Pool {
	p := &Pool{BlockSize: blockSize}
	p.blocks = make([]*Block, 0, n)
	p.free = make([]*Block, 0, n)
	for i := 0; i < n; i++ {
		b := &Block{Buffer: make([]byte, blockSize)}
		p.blocks = append(p.blocks, b)
		p.free = append(p.free, b)
	}
	return p
}

// Len returns the total number of blocks owned by the pool.
func (p *Pool) Len() int { return len(p.blocks) }

// FreeCount returns the number of blocks currently on the free list
// (never bound to a hash-link).
func (p *Pool) FreeCount() int { return len(p.free) }

// TakeFree removes and returns a block from the free list, or nil if
// none remain.
func (p *Pool) TakeFree() *Block {
	n := len(p.free)
	if n == 0 {
		return nil
	}
	b := p.free[n-1]
	p.free = p.free[:n-1]
	return b
}

// ReturnFree puts a block back on the free list. Callers must ensure the
// block has been fully unbound (HashLink nil, Status cleared) first.
func (p *Pool) ReturnFree(b *Block) {
	b.HashLink = nil
	b.Status = 0
	b.Requests = 0
	b.Offset = 0
	b.Length = 0
	p.free = append(p.free, b)
}

// All returns every block the pool owns, free or not — used by flush_all
// and stats to scan the full array.
func (p *Pool) All() []*Block { return p.blocks }
