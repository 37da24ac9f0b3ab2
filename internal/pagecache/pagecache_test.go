package pagecache_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhukovaskychina/keycache/internal/blockpool"
	"github.com/zhukovaskychina/keycache/internal/keycache"
	"github.com/zhukovaskychina/keycache/internal/pagecache"
)

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
	return copy(buf, data[off:off+int64(len(buf))]), nil
}

func (m *memStorage) PWrite(file blockpool.FileID, buf []byte, off int64, waitIfFull bool) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data := m.ensure(file, off+int64(len(buf)))
	return copy(data[off:], buf), nil
}

func newPageCache(t *testing.T) (*pagecache.PageCache, *keycache.Controller, *memStorage) {
	t.Helper()
	storage := newMemStorage()
	c := keycache.New(storage)
	_, err := c.Init(keycache.Config{BlockSize: 16, MemorySize: 16 * 8, DivisionLimit: 100, AgeThresholdPct: 50})
	require.NoError(t, err)
	return pagecache.New(c, false), c, storage
}

func TestPinUnpinRoundTrip(t *testing.T) {
	pc, _, _ := newPageCache(t)

	h, err := pc.Pin("file-a", 0)
	require.NoError(t, err)
	copy(h.Buffer(), []byte("0123456789abcdef"))
	pc.Unpin(h)
}

func TestLockAndPinWriteThenReadBack(t *testing.T) {
	pc, _, storage := newPageCache(t)

	h, err := pc.LockAndPin("file-a", 0, pagecache.LockWrite, "writer-1")
	require.NoError(t, err)
	copy(h.Buffer(), []byte("hello-world-12345"[:16]))
	require.NoError(t, pc.Unlock(h, pagecache.LockWrite, pagecache.WriteNow, nil, nil, 0))

	assert.Equal(t, []byte("hello-world-12345"[:16]), storage.files["file-a"][:16])
}

func TestConcurrentReadersAllowed(t *testing.T) {
	pc, _, _ := newPageCache(t)

	h1, err := pc.LockAndPin("file-a", 0, pagecache.LockRead, "reader-1")
	require.NoError(t, err)
	h2, err := pc.LockAndPin("file-a", 0, pagecache.LockRead, "reader-2")
	require.NoError(t, err)

	require.NoError(t, pc.Unlock(h1, pagecache.LockRead, pagecache.WriteDone, nil, nil, 0))
	require.NoError(t, pc.Unlock(h2, pagecache.LockRead, pagecache.WriteDone, nil, nil, 0))
}

func TestWriterExcludesReaders(t *testing.T) {
	pc, _, _ := newPageCache(t)

	h, err := pc.LockAndPin("file-a", 0, pagecache.LockWrite, "writer-1")
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		h2, err := pc.LockAndPin("file-a", 0, pagecache.LockRead, "reader-1")
		if err == nil {
			pc.Unlock(h2, pagecache.LockRead, pagecache.WriteDone, nil, nil, 0)
		}
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("reader acquired lock while writer held it")
	default:
	}

	require.NoError(t, pc.Unlock(h, pagecache.LockWrite, pagecache.WriteDelay, nil, nil, 0))
	<-done
}

func TestDeleteRefusesWhilePinned(t *testing.T) {
	pc, _, _ := newPageCache(t)

	h, err := pc.Pin("file-a", 0)
	require.NoError(t, err)

	err = pc.Delete("file-a", 0, false)
	assert.Error(t, err)

	pc.Unpin(h)
	assert.NoError(t, pc.Delete("file-a", 0, false))
}

type recordingWAL struct {
	mu    sync.Mutex
	calls int
}

func (w *recordingWAL) OnPageWritten(file blockpool.FileID, offset int64, stamp []byte, lsn uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls++
}

func TestWALHookInvokedOnWriteUnlock(t *testing.T) {
	pc, _, _ := newPageCache(t)
	wal := &recordingWAL{}

	h, err := pc.LockAndPin("file-a", 0, pagecache.LockWrite, "writer-1")
	require.NoError(t, err)
	require.NoError(t, pc.Unlock(h, pagecache.LockWrite, pagecache.WriteDelay, wal, []byte("lsn-stamp"), 42))

	assert.Equal(t, 1, wal.calls)
}
