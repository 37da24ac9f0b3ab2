package wire

import (
	"github.com/pierrec/lz4/v4"

	"github.com/zhukovaskychina/keycache/internal/xerrors"
)

// MaxCompressedPacketSize is certifier.h's MAX_COMPRESSED_PACKET_SIZE:
// recovery metadata is split into packets no larger than this once
// compressed, so multiple members can serialize/compress or
// deserialize/decompress concurrently without holding too much memory
// at once.
const MaxCompressedPacketSize = 10 * 1024 * 1024

// CompressCertificationInfo lz4-compresses raw and splits the result
// into chunks no larger than MaxCompressedPacketSize, mirroring
// recovery_metadata_message_compressed_parts.cc's packet splitting.
func CompressCertificationInfo(raw []byte) ([][]byte, error) {
	bound := lz4.CompressBlockBound(len(raw))
	compressed := make([]byte, bound)

	var c lz4.Compressor
	n, err := c.CompressBlock(raw, compressed)
	if err != nil {
		return nil, xerrors.Wrap("CompressCertificationInfo", err)
	}
	compressed = compressed[:n]

	var chunks [][]byte
	for len(compressed) > 0 {
		size := MaxCompressedPacketSize
		if size > len(compressed) {
			size = len(compressed)
		}
		chunks = append(chunks, compressed[:size])
		compressed = compressed[size:]
	}
	return chunks, nil
}

// DecompressCertificationInfo reassembles chunks produced by
// CompressCertificationInfo and decompresses them back to the original
// serialized certification info. uncompressedSize must be the original
// raw length (transmitted alongside the chunks, as the original does
// via uncompressed_buffer_length).
func DecompressCertificationInfo(chunks [][]byte, uncompressedSize int) ([]byte, error) {
	var compressed []byte
	for _, c := range chunks {
		compressed = append(compressed, c...)
	}

	raw := make([]byte, uncompressedSize)
	n, err := lz4.UncompressBlock(compressed, raw)
	if err != nil {
		return nil, xerrors.Wrap("DecompressCertificationInfo", err)
	}
	return raw[:n], nil
}
