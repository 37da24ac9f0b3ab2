package keycache

import "github.com/zhukovaskychina/keycache/internal/blockpool"

// Storage is the positioned-I/O collaborator contract: pread/pwrite
// against an opaque file identifier. A short read is treated as an I/O
// error by the controller; for PWrite only the returned error is
// checked, not the byte count. Failed I/O is never retried locally
// except by the flush-batch logic.
type Storage interface {
	PRead(file blockpool.FileID, buf []byte, off int64) (int, error)
	PWrite(file blockpool.FileID, buf []byte, off int64, waitIfFull bool) (int, error)
}
