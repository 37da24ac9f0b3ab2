package hashindex_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhukovaskychina/keycache/internal/blockpool"
	"github.com/zhukovaskychina/keycache/internal/hashindex"
)

func TestGetOrCreateReturnsSameLinkForSamePosition(t *testing.T) {
	idx := hashindex.New(4)

	a := idx.GetOrCreate("file-a", 16)
	b := idx.GetOrCreate("file-a", 16)

	assert.Same(t, a, b)
	assert.Equal(t, 1, idx.Count())
}

func TestDistinctPositionsGetDistinctLinks(t *testing.T) {
	idx := hashindex.New(4)

	a := idx.GetOrCreate("file-a", 0)
	b := idx.GetOrCreate("file-a", 4096)
	c := idx.GetOrCreate("file-b", 0)

	assert.NotSame(t, a, b)
	assert.NotSame(t, a, c)
	assert.Equal(t, 3, idx.Count())
}

func TestReleaseRecyclesLink(t *testing.T) {
	idx := hashindex.New(4)

	link := idx.GetOrCreate("file-a", 0)
	require.Equal(t, 0, link.Requests)

	idx.Release(link)
	assert.Equal(t, 0, idx.Count())
	assert.Nil(t, idx.Find("file-a", 0))

	recreated := idx.GetOrCreate("file-a", 4096)
	require.NotNil(t, recreated)
	assert.Equal(t, blockpool.FileID("file-a"), recreated.File)
	assert.EqualValues(t, 4096, recreated.Offset)
}

func TestRebindMovesLinkWithoutLeakingIntoFreeList(t *testing.T) {
	idx := hashindex.New(4)

	link := idx.GetOrCreate("file-a", 0)
	idx.Rebind(link, "file-b", 4096)

	assert.Nil(t, idx.Find("file-a", 0))
	assert.Same(t, link, idx.Find("file-b", 4096))
	assert.Equal(t, 1, idx.Count())

	// The link must not also be sitting on the free list: a subsequent
	// GetOrCreate for a third position must allocate fresh rather than
	// handing back the link that is still bound to file-b.
	other := idx.GetOrCreate("file-c", 0)
	assert.NotSame(t, link, other)
}
