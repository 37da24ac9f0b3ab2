// Package partitioned implements the Partitioned Cache shim: N
// independent key caches behind one façade, selecting a partition by a
// siphash fingerprint of (file, offset). Grounded on the sharded-manager
// pattern used elsewhere in the buffer pool (multiple independent
// sub-managers behind one facade, per-space rather than per-partition)
// generalized to N key caches.
package partitioned

import (
	"crypto/rand"
	"encoding/binary"
	"sync"

	"github.com/dchest/siphash"

	"github.com/zhukovaskychina/keycache/internal/blockpool"
	"github.com/zhukovaskychina/keycache/internal/keycache"
	"github.com/zhukovaskychina/keycache/internal/xerrors"
	"github.com/zhukovaskychina/keycache/logger"
)

// maxInitRetries bounds the bounded-retry shrink loop in New.
const maxInitRetries = 5

// minPartitions is the floor New will not shrink below; if even one
// partition cannot be allocated at the requested block size the shim
// reports failure rather than silently running with zero capacity.
const minPartitions = 1

// shard is one independent key cache; its per-file dirty bits live in
// Cache.dirty.
type shard struct {
	cache *keycache.Controller
}

// Cache fans requests out across N independent keycache.Controllers.
type Cache struct {
	shards []*shard
	k0, k1 uint64

	// dirty is a per-file N-bit dirty bitmap: dirty[file] has bit i set
	// if partition i may hold changed blocks for that file, letting
	// Flush skip partitions known clean for a file. Guarded separately
	// from each partition's own mutex since Write/Insert on different
	// partitions can mark it concurrently.
	dirtyMu sync.Mutex
	dirty   map[blockpool.FileID]uint64
}

// New partitions memSize evenly across n caches of the given block
// size. If a partition's share is too small to meet keycache's minimum
// block count, the shim halves the partition count (never below
// minPartitions) and tries again, making at most maxInitRetries attempts
// in all.
func New(storage keycache.Storage, n int, blockSize, memSize, divisionLimit, ageThresholdPct int) (*Cache, error) {
	var k [16]byte
	if _, err := rand.Read(k[:]); err != nil {
		return nil, xerrors.Wrap("partitioned.New", err)
	}

	c := &Cache{
		k0:    binary.LittleEndian.Uint64(k[0:8]),
		k1:    binary.LittleEndian.Uint64(k[8:16]),
		dirty: make(map[blockpool.FileID]uint64),
	}

	attempt := 0
	for {
		shards, err := buildShards(storage, n, blockSize, memSize/n, divisionLimit, ageThresholdPct)
		if err == nil {
			c.shards = shards
			logger.Infof("partitioned: initialized %d partitions of %d blocks each", n, memSize/n/blockSize)
			return c, nil
		}

		attempt++
		if attempt >= maxInitRetries || n <= minPartitions {
			return nil, xerrors.Wrap("partitioned.New", err)
		}
		logger.Warnf("partitioned: init failed with %d partitions (%v); retrying with fewer", n, err)
		n = (n + 1) / 2
		if n < minPartitions {
			n = minPartitions
		}
	}
}

func buildShards(storage keycache.Storage, n, blockSize, perPartitionMem, divisionLimit, ageThresholdPct int) ([]*shard, error) {
	shards := make([]*shard, 0, n)
	for i := 0; i < n; i++ {
		ctrl := keycache.New(storage)
		if _, err := ctrl.Init(keycache.Config{
			BlockSize:       blockSize,
			MemorySize:      perPartitionMem,
			DivisionLimit:   divisionLimit,
			AgeThresholdPct: ageThresholdPct,
		}); err != nil {
			return nil, err
		}
		shards = append(shards, &shard{cache: ctrl})
	}
	return shards, nil
}

// partitionFor computes fingerprint(file, offset) mod len(shards).
func (c *Cache) partitionFor(file blockpool.FileID, offset int64) int {
	buf := make([]byte, len(file)+8)
	n := copy(buf, file)
	binary.LittleEndian.PutUint64(buf[n:], uint64(offset))
	h := siphash.Hash(c.k0, c.k1, buf)
	return int(h % uint64(len(c.shards)))
}

func (c *Cache) markDirty(file blockpool.FileID, partition int) {
	c.dirtyMu.Lock()
	c.dirty[file] |= 1 << uint(partition)
	c.dirtyMu.Unlock()
}

// Read fans out to the chosen partition's Read.
func (c *Cache) Read(file blockpool.FileID, offset int64, length int, out []byte) error {
	p := c.partitionFor(file, offset)
	return c.shards[p].cache.Read(file, offset, length, out)
}

// Write fans out to the chosen partition's Write, marking that
// partition dirty for this file.
func (c *Cache) Write(file blockpool.FileID, offset int64, length int, data []byte, dontWrite bool) error {
	p := c.partitionFor(file, offset)
	if err := c.shards[p].cache.Write(file, offset, length, data, dontWrite); err != nil {
		return err
	}
	c.markDirty(file, p)
	return nil
}

// Insert fans out to the chosen partition's Insert, marking it dirty.
func (c *Cache) Insert(file blockpool.FileID, offset int64, length int, data []byte) error {
	p := c.partitionFor(file, offset)
	if err := c.shards[p].cache.Insert(file, offset, length, data); err != nil {
		return err
	}
	c.markDirty(file, p)
	return nil
}

// Flush flushes file across partitions. For FlushKeep and
// FlushForceWrite it visits only the partitions known to hold dirty
// blocks for it, skipping those whose dirty bit is clear; every other
// flush type visits every partition, since those also drop clean blocks.
func (c *Cache) Flush(file blockpool.FileID, typ keycache.FlushType) error {
	c.dirtyMu.Lock()
	bits := c.dirty[file]
	c.dirtyMu.Unlock()

	skipClean := typ == keycache.FlushKeep || typ == keycache.FlushForceWrite
	if bits == 0 && skipClean {
		return nil
	}
	var firstErr error
	for i, s := range c.shards {
		if skipClean && bits&(1<<uint(i)) == 0 {
			continue
		}
		if err := s.cache.Flush(file, typ); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	c.dirtyMu.Lock()
	delete(c.dirty, file)
	c.dirtyMu.Unlock()
	return firstErr
}

// FlushAll flushes every partition unconditionally.
func (c *Cache) FlushAll() error {
	var firstErr error
	for _, s := range c.shards {
		if err := s.cache.FlushAll(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	c.dirtyMu.Lock()
	c.dirty = make(map[blockpool.FileID]uint64)
	c.dirtyMu.Unlock()
	return firstErr
}

// Stats aggregates a Snapshot per partition; the shim does not merge
// them into one, since each partition's hit ratio and block counts are
// independently meaningful.
func (c *Cache) Stats() []keycache.Snapshot {
	out := make([]keycache.Snapshot, len(c.shards))
	for i, s := range c.shards {
		out[i] = s.cache.Stats()
	}
	return out
}

// Partitions returns the partition count currently in effect.
func (c *Cache) Partitions() int { return len(c.shards) }
