package diskstorage_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhukovaskychina/keycache/internal/blockpool"
	"github.com/zhukovaskychina/keycache/internal/diskstorage"
)

func TestWriteThenReadRoundTrips(t *testing.T) {
	s := diskstorage.New(t.TempDir())
	defer s.Close()

	file := blockpool.FileID("data.ibd")
	want := []byte("0123456789abcdef")

	n, err := s.PWrite(file, want, 128, false)
	require.NoError(t, err)
	assert.Equal(t, len(want), n)

	got := make([]byte, len(want))
	n, err = s.PRead(file, got, 128)
	require.NoError(t, err)
	assert.Equal(t, len(want), n)
	assert.Equal(t, want, got)
}

func TestSeparateFileIDsDoNotShareBytes(t *testing.T) {
	s := diskstorage.New(t.TempDir())
	defer s.Close()

	_, err := s.PWrite(blockpool.FileID("a.ibd"), []byte("aaaa"), 0, false)
	require.NoError(t, err)
	_, err = s.PWrite(blockpool.FileID("b.ibd"), []byte("bbbb"), 0, false)
	require.NoError(t, err)

	buf := make([]byte, 4)
	_, err = s.PRead(blockpool.FileID("a.ibd"), buf, 0)
	require.NoError(t, err)
	assert.Equal(t, "aaaa", string(buf))
}

func TestHandleIsReusedAcrossCalls(t *testing.T) {
	s := diskstorage.New(t.TempDir())
	defer s.Close()

	file := blockpool.FileID("reuse.ibd")
	_, err := s.PWrite(file, []byte("first"), 0, false)
	require.NoError(t, err)
	_, err = s.PWrite(file, []byte("second"), 10, false)
	require.NoError(t, err)

	buf := make([]byte, 5)
	_, err = s.PRead(file, buf, 0)
	require.NoError(t, err)
	assert.Equal(t, "first", string(buf))
}
