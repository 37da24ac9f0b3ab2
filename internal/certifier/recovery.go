package certifier

import (
	"github.com/zhukovaskychina/keycache/internal/gtid"
	"github.com/zhukovaskychina/keycache/internal/wire"
	"github.com/zhukovaskychina/keycache/internal/xerrors"
	"github.com/zhukovaskychina/keycache/logger"
)

// GetCertificationInfo returns, for each write-set fingerprint, its
// certification record's snapshot, wire-encoded, for transmission to a
// recovering member.
func (c *Certifier) GetCertificationInfo() map[string][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string][]byte, len(c.certInfo))
	for fp, rec := range c.certInfo {
		out[fp] = wire.EncodeGTIDSet(rec.snapshot)
	}
	return out
}

// SetCertificationInfo is the recovery-time load counterpart to
// GetCertificationInfo. Sequence numbers are not carried across
// recovery — they are a purely local parallel-apply optimisation — so
// restored records get sequence number 0, below every sequence number
// this certifier assigns: they add no parallel-apply dependency to
// later transactions until superseded by a newly certified record.
func (c *Certifier) SetCertificationInfo(info map[string][]byte) error {
	decoded := make(map[string]*gtid.Set, len(info))
	for fp, raw := range info {
		set, err := wire.DecodeGTIDSet(raw)
		if err != nil {
			return xerrors.Wrap("SetCertificationInfo", err)
		}
		decoded[fp] = set
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for fp, set := range decoded {
		c.certInfo[fp] = &record{snapshot: set, sequenceNumber: 0}
	}
	logger.Infof("certifier: loaded %d certification records from recovery metadata", len(decoded))
	return nil
}

// GetCertificationInfoRecoveryPackets serializes the full certification
// table as a single TLV-ish blob (fingerprint count, then per-entry
// length-prefixed fingerprint + encoded snapshot) and lz4-compresses it
// into chunks bounded by wire.MaxCompressedPacketSize, mirroring
// recovery_metadata_message_compressed_parts.cc.
func (c *Certifier) GetCertificationInfoRecoveryPackets() (chunks [][]byte, uncompressedSize int, err error) {
	info := c.GetCertificationInfo()

	w := wire.NewWriter()
	w.WriteUint32(uint32(len(info)))
	for fp, encoded := range info {
		w.WriteBytes([]byte(fp))
		w.WriteBytes(encoded)
	}
	raw := w.Bytes()

	chunks, err = wire.CompressCertificationInfo(raw)
	if err != nil {
		return nil, 0, xerrors.Wrap("GetCertificationInfoRecoveryPackets", err)
	}
	return chunks, len(raw), nil
}

// SetCertificationInfoRecoveryPackets reverses
// GetCertificationInfoRecoveryPackets.
func (c *Certifier) SetCertificationInfoRecoveryPackets(chunks [][]byte, uncompressedSize int) error {
	raw, err := wire.DecompressCertificationInfo(chunks, uncompressedSize)
	if err != nil {
		return xerrors.Wrap("SetCertificationInfoRecoveryPackets", err)
	}

	r := wire.NewReader(raw)
	n, err := r.ReadUint32()
	if err != nil {
		return xerrors.Wrap("SetCertificationInfoRecoveryPackets", err)
	}

	info := make(map[string][]byte, n)
	for i := uint32(0); i < n; i++ {
		fp, err := r.ReadBytes()
		if err != nil {
			return xerrors.Wrap("SetCertificationInfoRecoveryPackets", err)
		}
		encoded, err := r.ReadBytes()
		if err != nil {
			return xerrors.Wrap("SetCertificationInfoRecoveryPackets", err)
		}
		info[string(fp)] = encoded
	}
	return c.SetCertificationInfo(info)
}
