// Package diskstorage implements keycache.Storage against plain files on
// disk, one *os.File per blockpool.FileID, opened lazily and kept in a
// map under a RWMutex. Grounded on
// server/innodb/storage/store/blocks/block_file.go's BlockFile (lazy
// os.OpenFile, mutex-guarded handle, ReadAt/WriteAt), generalized from
// fixed-size InnoDB pages to the arbitrary (offset, length) ranges the
// key cache passes through.
package diskstorage

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/zhukovaskychina/keycache/internal/blockpool"
	"github.com/zhukovaskychina/keycache/logger"
)

// Storage is a directory of backing files, one per blockpool.FileID,
// opened O_RDWR|O_CREATE on first use.
type Storage struct {
	dir string

	mu    sync.RWMutex
	files map[blockpool.FileID]*os.File
}

// New returns a Storage rooted at dir. The directory must already exist.
func New(dir string) *Storage {
	return &Storage{
		dir:   dir,
		files: make(map[blockpool.FileID]*os.File),
	}
}

func (s *Storage) handle(file blockpool.FileID) (*os.File, error) {
	s.mu.RLock()
	f, ok := s.files[file]
	s.mu.RUnlock()
	if ok {
		return f, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if f, ok := s.files[file]; ok {
		return f, nil
	}

	path := filepath.Join(s.dir, filepath.Base(string(file)))
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, err
	}
	s.files[file] = f
	logger.Infof("diskstorage: opened backing file %s", path)
	return f, nil
}

// PRead implements keycache.Storage.
func (s *Storage) PRead(file blockpool.FileID, buf []byte, off int64) (int, error) {
	f, err := s.handle(file)
	if err != nil {
		return 0, err
	}
	n, err := f.ReadAt(buf, off)
	if err != nil && n == len(buf) {
		// A full read that also returns io.EOF (reading exactly up to
		// the current end of file) is not an error for the cache.
		err = nil
	}
	return n, err
}

// PWrite implements keycache.Storage. waitIfFull is accepted for
// interface conformance; plain files never report "full" the way a
// fixed-capacity device might, so it is a no-op here.
func (s *Storage) PWrite(file blockpool.FileID, buf []byte, off int64, waitIfFull bool) (int, error) {
	f, err := s.handle(file)
	if err != nil {
		return 0, err
	}
	return f.WriteAt(buf, off)
}

// Close closes every backing file handle opened so far.
func (s *Storage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var first error
	for name, f := range s.files {
		if err := f.Close(); err != nil && first == nil {
			first = err
		}
		delete(s.files, name)
	}
	return first
}
