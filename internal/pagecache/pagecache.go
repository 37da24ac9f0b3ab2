// Package pagecache layers pin counts and a shared/exclusive lock
// lattice on top of internal/keycache. Grounded on the buffer pool's
// page-state-tagging idiom (a BufferPageState/buffer_io_fix style enum)
// and a wait-queue/lock-request mechanic generalized from per-row S/X
// locks to per-block free/read/write.
package pagecache

import (
	"github.com/zhukovaskychina/keycache/internal/blockpool"
	"github.com/zhukovaskychina/keycache/internal/keycache"
	"github.com/zhukovaskychina/keycache/internal/xerrors"
	"github.com/zhukovaskychina/keycache/logger"
)

// LockMode is the page-cache lock lattice: {free, read, write}.
type LockMode int

const (
	LockFree LockMode = iota
	LockRead
	LockWrite
)

// WriteMode controls how Unlock treats a modified page.
type WriteMode int

const (
	WriteDelay WriteMode = iota // populate cache, mark dirty
	WriteNow                    // write through immediately
	WriteDone                   // already written by the caller
)

// provenanceEvent is per-block lock/pin provenance instrumentation,
// mirroring mf_pagecache.c's PAGECACHE_DEBUG builds.
type provenanceEvent struct {
	Holder string
	Mode   LockMode
	Pinned bool
}

const provenanceRingSize = 16

type lockState struct {
	mode       LockMode
	readers    int
	writer     string
	waitingW   int
	provenance []provenanceEvent
}

// PageCache wraps a keycache.Controller, adding pin/lock semantics.
type PageCache struct {
	cache *keycache.Controller
	debug bool

	locks map[*blockpool.Block]*lockState
}

// New wraps an already-initialized keycache.Controller. debug enables
// the per-block provenance ring buffer (off by default, matching
// production builds of mf_pagecache.c).
func New(cache *keycache.Controller, debug bool) *PageCache {
	return &PageCache{
		cache: cache,
		debug: debug,
		locks: make(map[*blockpool.Block]*lockState),
	}
}

func (pc *PageCache) stateFor(b *blockpool.Block) *lockState {
	st, ok := pc.locks[b]
	if !ok {
		st = &lockState{}
		pc.locks[b] = st
	}
	return st
}

func (pc *PageCache) record(st *lockState, holder string, mode LockMode, pinned bool) {
	if !pc.debug {
		return
	}
	st.provenance = append(st.provenance, provenanceEvent{Holder: holder, Mode: mode, Pinned: pinned})
	if len(st.provenance) > provenanceRingSize {
		st.provenance = st.provenance[len(st.provenance)-provenanceRingSize:]
	}
}

// Handle is an opaque reference to a pinned/locked block returned to
// callers; they never touch *blockpool.Block directly.
type Handle struct {
	block *blockpool.Block
	file  blockpool.FileID
	off   int64
}

// Buffer exposes the block's data for in-place reads/writes while held.
func (h *Handle) Buffer() []byte { return h.block.Buffer }

// Pin acquires the block without taking a read/write lock on it; a
// plain pin/unpin pair.
func (pc *PageCache) Pin(file blockpool.FileID, offset int64) (*Handle, error) {
	b, err := pc.cache.Acquire(file, offset, false)
	if err != nil {
		return nil, xerrors.Wrap("Pin", err)
	}
	pc.cache.Lock()
	b.Pins++
	pc.cache.Unlock()
	return &Handle{block: b, file: file, off: offset}, nil
}

// Unpin releases a plain pin without affecting lock mode.
func (pc *PageCache) Unpin(h *Handle) {
	pc.cache.Lock()
	if h.block.Pins > 0 {
		h.block.Pins--
	}
	pc.cache.Unlock()
	pc.cache.Release(h.block, true)
}

// LockAndPin is the "make_lock_and_pin" primitive: it refuses a write
// lock if any other holder has a lock, enqueuing the caller and
// waiting; otherwise it transitions the lock lattice and pin count
// together.
func (pc *PageCache) LockAndPin(file blockpool.FileID, offset int64, mode LockMode, holder string) (*Handle, error) {
	b, err := pc.cache.Acquire(file, offset, mode == LockWrite)
	if err != nil {
		return nil, xerrors.Wrap("LockAndPin", err)
	}

	pc.cache.Lock()
	st := pc.stateFor(b)

	if mode == LockWrite {
		st.waitingW++
		for st.mode == LockWrite || (st.mode == LockRead && st.readers > 0) {
			pc.cache.BlockCond().Wait()
		}
		st.waitingW--
		st.mode = LockWrite
		st.writer = holder
	} else if mode == LockRead {
		for st.mode == LockWrite {
			pc.cache.BlockCond().Wait()
		}
		st.mode = LockRead
		st.readers++
	}

	b.Pins++
	pc.record(st, holder, mode, true)
	pc.cache.Unlock()

	return &Handle{block: b, file: file, off: offset}, nil
}

// Unlock releases a lock taken by LockAndPin, applying the write mode
// to a modified page and invoking the WAL hook if one is configured.
// stamp/lsn are opaque hand-off values the core does not interpret.
func (pc *PageCache) Unlock(h *Handle, mode LockMode, wm WriteMode, wal WALHook, stamp []byte, lsn uint64) error {
	pc.cache.Lock()
	st := pc.stateFor(h.block)

	if mode == LockWrite {
		st.mode = LockFree
		st.writer = ""
	} else if mode == LockRead {
		st.readers--
		if st.readers == 0 {
			st.mode = LockFree
		}
	}
	if h.block.Pins > 0 {
		h.block.Pins--
	}
	pc.record(st, "", LockFree, false)
	pc.cache.BlockCond().Broadcast()
	pc.cache.Unlock()

	if mode == LockWrite {
		switch wm {
		case WriteDelay:
			pc.cache.Lock()
			pc.cache.MarkDirty(h.file, h.block)
			pc.cache.Unlock()
		case WriteNow:
			pc.cache.Lock()
			pc.cache.MarkDirty(h.file, h.block)
			err := pc.cache.WriteThrough(h.file, h.off, h.block)
			pc.cache.Unlock()
			if err != nil {
				return err
			}
		case WriteDone:
			// already written by the caller; nothing to do.
		}
		if wal != nil {
			wal.OnPageWritten(h.file, h.off, stamp, lsn)
		}
	}

	pc.cache.Release(h.block, mode != LockWrite)
	return nil
}

// Delete removes a specific (file, offset) mapping, optionally flushing
// it first, forbidding removal while the block holds any pin.
func (pc *PageCache) Delete(file blockpool.FileID, offset int64, flushFirst bool) error {
	if err := pc.cache.DeletePage(file, offset, flushFirst); err != nil {
		logger.Warnf("pagecache: delete(%v,%d) failed: %v", file, offset, err)
		return err
	}
	return nil
}

// WALHook is the write-ahead-log hand-off contract: the core does not
// interpret stamp/lsn, only forwards them.
type WALHook interface {
	OnPageWritten(file blockpool.FileID, offset int64, stamp []byte, lsn uint64)
}
