// Package hashindex maps (file, offset) positions to blockpool.HashLink
// nodes via bucket chaining, grounded on the buffer pool's xxhash-based
// hashing (github.com/OneOfOne/xxhash) and mf_keycache.c's hash_link
// table.
package hashindex

import (
	"github.com/OneOfOne/xxhash"

	"github.com/zhukovaskychina/keycache/internal/blockpool"
)

// Index is a fixed-bucket-count hash table of (file, offset) -> hash-link
// chains. It owns hash-link allocation; the cache controller is
// responsible for binding/unbinding a hash-link's Block field and for
// all Requests-counter bookkeeping under the cache mutex.
type Index struct {
	buckets []*blockpool.HashLink
	count   int
	free    []*blockpool.HashLink // recycled hash-links with Requests == 0
}

// New creates an Index with nBuckets buckets, sized for the expected
// block count the way mf_keycache.c sizes its hash table relative to
// block count.
func New(nBuckets int) *Index {
	if nBuckets < 1 {
		nBuckets = 1
	}
	return &Index{buckets: make([]*blockpool.HashLink, nBuckets)}
}

func (idx *Index) bucketFor(file blockpool.FileID, offset int64) int {
	h := xxhash.New64()
	_, _ = h.Write([]byte(file))
	var off [8]byte
	for i := 0; i < 8; i++ {
		off[i] = byte(offset >> (8 * i))
	}
	_, _ = h.Write(off[:])
	return int(h.Sum64() % uint64(len(idx.buckets)))
}

// Find returns the hash-link for (file, offset) if one already exists,
// without creating one.
func (idx *Index) Find(file blockpool.FileID, offset int64) *blockpool.HashLink {
	b := idx.bucketFor(file, offset)
	for link := idx.buckets[b]; link != nil; link = link.Next() {
		if link.File == file && link.Offset == offset {
			return link
		}
	}
	return nil
}

// GetOrCreate returns the existing hash-link for (file, offset), or
// allocates (recycling from the free list when possible) and links a
// new one. The first step of lookup-or-assign.
func (idx *Index) GetOrCreate(file blockpool.FileID, offset int64) *blockpool.HashLink {
	if link := idx.Find(file, offset); link != nil {
		return link
	}

	var link *blockpool.HashLink
	if n := len(idx.free); n > 0 {
		link = idx.free[n-1]
		idx.free = idx.free[:n-1]
		link.SetNext(nil)
		link.SetPrev(nil)
		link.Block = nil
		link.Requests = 0
	} else {
		link = &blockpool.HashLink{}
	}
	link.File = file
	link.Offset = offset

	b := idx.bucketFor(file, offset)
	link.SetNext(idx.buckets[b])
	if idx.buckets[b] != nil {
		idx.buckets[b].SetPrev(link)
	}
	idx.buckets[b] = link
	idx.count++
	return link
}

// Release unlinks a hash-link with Requests == 0 and Block == nil from
// its bucket and recycles it. Callers (internal/keycache) must verify
// both preconditions before calling — Index does not re-check them so
// that the single cache mutex remains the only synchronization point.
func (idx *Index) Release(link *blockpool.HashLink) {
	idx.unlink(link)
	idx.free = append(idx.free, link)
}

func (idx *Index) unlink(link *blockpool.HashLink) {
	b := idx.bucketFor(link.File, link.Offset)
	if prev := link.Prev(); prev != nil {
		prev.SetNext(link.Next())
	} else {
		idx.buckets[b] = link.Next()
	}
	if next := link.Next(); next != nil {
		next.SetPrev(link.Prev())
	}
	link.SetNext(nil)
	link.SetPrev(nil)
	idx.count--
}

// Rebind moves an already-existing hash-link to a new (file, offset)
// in place rather than allocating a fresh one. internal/keycache does
// not call it: a reassigned block is bound to the requesting position's
// own hash-link.
func (idx *Index) Rebind(link *blockpool.HashLink, file blockpool.FileID, offset int64) {
	idx.unlink(link)
	link.File = file
	link.Offset = offset
	b := idx.bucketFor(file, offset)
	link.SetNext(idx.buckets[b])
	if idx.buckets[b] != nil {
		idx.buckets[b].SetPrev(link)
	}
	idx.buckets[b] = link
	idx.count++
}

// Count returns the number of live (non-free) hash-links.
func (idx *Index) Count() int { return idx.count }
