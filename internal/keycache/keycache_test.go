package keycache_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhukovaskychina/keycache/internal/blockpool"
	"github.com/zhukovaskychina/keycache/internal/keycache"
)

// memStorage is an in-memory Storage fake, in the same spirit as the
// in-memory test doubles used elsewhere in the buffer pool's storage
// manager tests.
type memStorage struct {
	mu    sync.Mutex
	files map[blockpool.FileID][]byte
}

func newMemStorage() *memStorage {
	return &memStorage{files: make(map[blockpool.FileID][]byte)}
}

func (m *memStorage) ensure(file blockpool.FileID, size int64) []byte {
	data := m.files[file]
	if int64(len(data)) < size {
		grown := make([]byte, size)
		copy(grown, data)
		data = grown
		m.files[file] = data
	}
	return data
}

func (m *memStorage) PRead(file blockpool.FileID, buf []byte, off int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data := m.ensure(file, off+int64(len(buf)))
	n := copy(buf, data[off:off+int64(len(buf))])
	return n, nil
}

func (m *memStorage) PWrite(file blockpool.FileID, buf []byte, off int64, waitIfFull bool) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data := m.ensure(file, off+int64(len(buf)))
	n := copy(data[off:], buf)
	return n, nil
}

func newController(t *testing.T, blockSize, memSize int) (*keycache.Controller, *memStorage) {
	t.Helper()
	storage := newMemStorage()
	c := keycache.New(storage)
	_, err := c.Init(keycache.Config{
		BlockSize:       blockSize,
		MemorySize:      memSize,
		DivisionLimit:   100,
		AgeThresholdPct: 50,
	})
	require.NoError(t, err)
	return c, storage
}

func TestWriteThenReadRoundTrips(t *testing.T) {
	c, _ := newController(t, 64, 64*16)

	payload := []byte("the quick brown fox jumps over the lazy dog!!!")
	require.NoError(t, c.Write("file-a", 0, len(payload), payload, true))

	out := make([]byte, len(payload))
	require.NoError(t, c.Read("file-a", 0, len(payload), out))
	assert.Equal(t, payload, out)
}

func TestReadMissPullsFromStorage(t *testing.T) {
	c, storage := newController(t, 64, 64*16)
	storage.files["file-a"] = append(make([]byte, 0), []byte("preexisting-data-in-the-backing-store!!")...)

	out := make([]byte, 20)
	require.NoError(t, c.Read("file-a", 0, 20, out))
	assert.Equal(t, "preexisting-data-in-", string(out))
}

func TestInsertWholeBlockAvoidsReadBeforeWrite(t *testing.T) {
	c, storage := newController(t, 16, 16*8)

	block := make([]byte, 16)
	copy(block, []byte("0123456789abcdef"))
	require.NoError(t, c.Insert("file-a", 0, 16, block))

	// The backing store was never touched by Insert.
	assert.Empty(t, storage.files["file-a"])

	out := make([]byte, 16)
	require.NoError(t, c.Read("file-a", 0, 16, out))
	assert.Equal(t, block, out)
}

func TestFlushKeepWritesDirtyBlocksAndKeepsThemCached(t *testing.T) {
	c, storage := newController(t, 16, 16*8)

	data := []byte("hello-world-123!")
	require.NoError(t, c.Write("file-a", 0, len(data), data, true))
	require.NoError(t, c.Flush("file-a", keycache.FlushKeep))

	assert.Equal(t, data, storage.files["file-a"][:len(data)])

	snap := c.Stats()
	assert.GreaterOrEqual(t, snap.BlocksUsed, 1)
}

// failingStorage always fails PWrite with the same error, to exercise
// flush.go's consecutive-identical-error abort and its circuit breaker.
type failingStorage struct {
	*memStorage
	writeErr error
}

func (f *failingStorage) PWrite(file blockpool.FileID, buf []byte, off int64, waitIfFull bool) (int, error) {
	return 0, f.writeErr
}

func TestFlushAbortsAfterConsecutiveIdenticalErrors(t *testing.T) {
	storage := &failingStorage{memStorage: newMemStorage(), writeErr: assert.AnError}
	c := keycache.New(storage)
	_, err := c.Init(keycache.Config{BlockSize: 16, MemorySize: 16 * 8, DivisionLimit: 100, AgeThresholdPct: 50})
	require.NoError(t, err)

	require.NoError(t, c.Write("file-a", 0, 16, make([]byte, 16), true))

	err = c.Flush("file-a", keycache.FlushKeep)
	assert.Error(t, err)
}

func TestEvictionFlushesDirtyVictimBeforeReassigning(t *testing.T) {
	// Only 8 blocks (the design minimum), each 16 bytes, forces eviction
	// once a 9th distinct block position is touched.
	c, storage := newController(t, 16, 16*8)

	// Each position's data is written with dontWrite=true, so the only
	// way its bytes can reach storage is via the eviction write-back.
	// Bytes are i+1 so no block's data equals unwritten (zero) storage.
	firstBlockData := make([]byte, 16)
	for i := 0; i < 8; i++ {
		data := make([]byte, 16)
		for j := range data {
			data[j] = byte(i + 1)
		}
		if i == 0 {
			copy(firstBlockData, data)
		}
		require.NoError(t, c.Write("file-a", int64(i*16), 16, data, true))
	}

	// Writing a 9th position forces the replacement engine to evict the
	// oldest warm block (position 0, written first above).
	data := make([]byte, 16)
	for j := range data {
		data[j] = 0xEE
	}
	require.NoError(t, c.Write("file-a", int64(8*16), 16, data, true))

	require.NoError(t, c.FlushAll())

	// The evicted block's pre-eviction bytes must land at its own file
	// offset (0), not get smeared over offset 0 with the wrong block's
	// bytes or written to the wrong position entirely.
	require.GreaterOrEqual(t, len(storage.files["file-a"]), 16)
	assert.Equal(t, firstBlockData, storage.files["file-a"][0:16])
}

func TestStatsReflectUsage(t *testing.T) {
	c, _ := newController(t, 16, 16*8)

	data := make([]byte, 16)
	require.NoError(t, c.Write("file-a", 0, 16, data, true))

	out := make([]byte, 16)
	require.NoError(t, c.Read("file-a", 0, 16, out))

	snap := c.Stats()
	assert.Equal(t, int64(1), snap.ReadRequests)
	assert.Equal(t, int64(1), snap.WriteRequests)
	assert.True(t, snap.CanBeUsed)
}

func TestInitBelowMinimumBlocksDisablesCache(t *testing.T) {
	storage := newMemStorage()
	c := keycache.New(storage)
	_, err := c.Init(keycache.Config{
		BlockSize:       4096,
		MemorySize:      4096 * 2, // far fewer than the 8-block minimum
		DivisionLimit:   100,
		AgeThresholdPct: 50,
	})
	require.Error(t, err)
	assert.False(t, c.CanBeUsed())
}

func TestResetCountersZeroesStats(t *testing.T) {
	c, _ := newController(t, 16, 16*8)
	data := make([]byte, 16)
	require.NoError(t, c.Write("file-a", 0, 16, data, true))

	c.ResetCounters()

	snap := c.Stats()
	assert.Equal(t, int64(0), snap.WriteRequests)
}
