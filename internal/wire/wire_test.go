package wire_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhukovaskychina/keycache/internal/gtid"
	"github.com/zhukovaskychina/keycache/internal/wire"
)

func TestGTIDSetRoundTrips(t *testing.T) {
	set := gtid.New()
	set.AddInterval("11111111-1111-1111-1111-111111111111", gtid.Interval{Start: 1, End: 5})
	set.Add("22222222-2222-2222-2222-222222222222", 42)

	encoded := wire.EncodeGTIDSet(set)
	decoded, err := wire.DecodeGTIDSet(encoded)
	require.NoError(t, err)

	assert.ElementsMatch(t, set.SIDs(), decoded.SIDs())
	for _, sid := range set.SIDs() {
		assert.Equal(t, set.Intervals(sid), decoded.Intervals(sid))
	}
}

func TestExecutedSetMessageRoundTrips(t *testing.T) {
	set := gtid.New()
	set.AddInterval("sid-a", gtid.Interval{Start: 1, End: 100})

	msg := wire.EncodeExecutedSetMessage(set, 1234567890)
	decoded, ts, err := wire.DecodeExecutedSetMessage(msg)
	require.NoError(t, err)

	assert.Equal(t, uint64(1234567890), ts)
	assert.Equal(t, set.String(), decoded.String())
}

func TestCompressDecompressCertificationInfoRoundTrips(t *testing.T) {
	raw := bytes.Repeat([]byte("certification-info-payload-"), 1000)

	chunks, err := wire.CompressCertificationInfo(raw)
	require.NoError(t, err)
	require.NotEmpty(t, chunks)

	out, err := wire.DecompressCertificationInfo(chunks, len(raw))
	require.NoError(t, err)
	assert.Equal(t, raw, out)
}

func TestCompressSmallPayloadYieldsSingleChunk(t *testing.T) {
	// Not large enough to actually split in this test (that would
	// allocate 10MiB+ per run); just verify the chunk boundary logic
	// holds for a payload smaller than the cap.
	raw := []byte("small-payload")
	chunks, err := wire.CompressCertificationInfo(raw)
	require.NoError(t, err)
	assert.Len(t, chunks, 1)
}
