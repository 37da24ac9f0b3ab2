// Package wire implements the certifier's on-wire framing: the
// executed-set broadcast TLV envelope and the little-endian
// length-prefixed GTID-set encoding. Grounded on the byte-at-a-time
// little-endian encoding idiom used throughout the buffer pool's
// binary readers and writers.
package wire

import (
	"encoding/binary"

	"github.com/zhukovaskychina/keycache/internal/gtid"
	"github.com/zhukovaskychina/keycache/internal/xerrors"
)

// Payload item types for the executed-set broadcast message, mirroring
// Gtid_Executed_Message::enum_payload_item_type in certifier.h.
const (
	PITUnknown       uint16 = 0
	PITGTIDExecuted  uint16 = 1
	PITSentTimestamp uint16 = 2
)

// Writer accumulates little-endian fields, in the same byte-at-a-time
// idiom as the buffer pool's binary writers.
type Writer struct {
	buf []byte
}

func NewWriter() *Writer { return &Writer{} }

func (w *Writer) Bytes() []byte { return w.buf }

func (w *Writer) WriteUint16(v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *Writer) WriteUint32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *Writer) WriteUint64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *Writer) WriteInt64(v int64) { w.WriteUint64(uint64(v)) }

func (w *Writer) WriteBytes(p []byte) {
	w.WriteUint32(uint32(len(p)))
	w.buf = append(w.buf, p...)
}

// Reader consumes little-endian fields, in the same byte-at-a-time
// idiom as the buffer pool's binary readers.
type Reader struct {
	buf []byte
	pos int
}

func NewReader(buf []byte) *Reader { return &Reader{buf: buf} }

func (r *Reader) remaining() int { return len(r.buf) - r.pos }

func (r *Reader) ReadUint16() (uint16, error) {
	if r.remaining() < 2 {
		return 0, xerrors.Wrap("wire.ReadUint16", xerrors.ErrPacketTooLarge)
	}
	v := binary.LittleEndian.Uint16(r.buf[r.pos:])
	r.pos += 2
	return v, nil
}

func (r *Reader) ReadUint32() (uint32, error) {
	if r.remaining() < 4 {
		return 0, xerrors.Wrap("wire.ReadUint32", xerrors.ErrPacketTooLarge)
	}
	v := binary.LittleEndian.Uint32(r.buf[r.pos:])
	r.pos += 4
	return v, nil
}

func (r *Reader) ReadUint64() (uint64, error) {
	if r.remaining() < 8 {
		return 0, xerrors.Wrap("wire.ReadUint64", xerrors.ErrPacketTooLarge)
	}
	v := binary.LittleEndian.Uint64(r.buf[r.pos:])
	r.pos += 8
	return v, nil
}

func (r *Reader) ReadInt64() (int64, error) {
	v, err := r.ReadUint64()
	return int64(v), err
}

func (r *Reader) ReadBytes() ([]byte, error) {
	n, err := r.ReadUint32()
	if err != nil {
		return nil, err
	}
	if r.remaining() < int(n) {
		return nil, xerrors.Wrap("wire.ReadBytes", xerrors.ErrPacketTooLarge)
	}
	out := r.buf[r.pos : r.pos+int(n)]
	r.pos += int(n)
	return out, nil
}

func (r *Reader) Done() bool { return r.remaining() == 0 }

// EncodeGTIDSet writes a little-endian length-prefixed encoding of
// blocks of (identifier-map-index, gno-interval-count, intervals[]):
// a sid map (index -> uuid string) followed by one block per sid.
func EncodeGTIDSet(set *gtid.Set) []byte {
	w := NewWriter()
	sids := set.SIDs()

	w.WriteUint32(uint32(len(sids)))
	for _, sid := range sids {
		w.WriteBytes([]byte(sid))
	}

	w.WriteUint32(uint32(len(sids)))
	for idx, sid := range sids {
		ivs := set.Intervals(sid)
		w.WriteUint32(uint32(idx))
		w.WriteUint32(uint32(len(ivs)))
		for _, iv := range ivs {
			w.WriteInt64(iv.Start)
			w.WriteInt64(iv.End)
		}
	}
	return w.Bytes()
}

// DecodeGTIDSet reverses EncodeGTIDSet.
func DecodeGTIDSet(data []byte) (*gtid.Set, error) {
	r := NewReader(data)

	nSids, err := r.ReadUint32()
	if err != nil {
		return nil, xerrors.Wrap("DecodeGTIDSet", err)
	}
	sidMap := make([]string, nSids)
	for i := range sidMap {
		b, err := r.ReadBytes()
		if err != nil {
			return nil, xerrors.Wrap("DecodeGTIDSet", err)
		}
		sidMap[i] = string(b)
	}

	nGroups, err := r.ReadUint32()
	if err != nil {
		return nil, xerrors.Wrap("DecodeGTIDSet", err)
	}

	set := gtid.New()
	for i := uint32(0); i < nGroups; i++ {
		idx, err := r.ReadUint32()
		if err != nil {
			return nil, xerrors.Wrap("DecodeGTIDSet", err)
		}
		if int(idx) >= len(sidMap) {
			return nil, xerrors.Wrap("DecodeGTIDSet", xerrors.ErrUnknownView)
		}
		sid := sidMap[idx]

		nIntervals, err := r.ReadUint32()
		if err != nil {
			return nil, xerrors.Wrap("DecodeGTIDSet", err)
		}
		for j := uint32(0); j < nIntervals; j++ {
			start, err := r.ReadInt64()
			if err != nil {
				return nil, xerrors.Wrap("DecodeGTIDSet", err)
			}
			end, err := r.ReadInt64()
			if err != nil {
				return nil, xerrors.Wrap("DecodeGTIDSet", err)
			}
			set.AddInterval(sid, gtid.Interval{Start: start, End: end})
		}
	}
	return set, nil
}

// EncodeExecutedSetMessage builds the {PIT_GTID_EXECUTED, length,
// bytes, PIT_SENT_TIMESTAMP, 8 bytes} envelope used for the broadcast
// thread's periodic executed-set announcement.
func EncodeExecutedSetMessage(set *gtid.Set, sentTimestamp uint64) []byte {
	payload := EncodeGTIDSet(set)

	w := NewWriter()
	w.WriteUint16(PITGTIDExecuted)
	w.WriteBytes(payload)
	w.WriteUint16(PITSentTimestamp)
	w.WriteUint64(sentTimestamp)
	return w.Bytes()
}

// DecodeExecutedSetMessage reverses EncodeExecutedSetMessage.
func DecodeExecutedSetMessage(data []byte) (*gtid.Set, uint64, error) {
	r := NewReader(data)

	typ, err := r.ReadUint16()
	if err != nil || typ != PITGTIDExecuted {
		return nil, 0, xerrors.Wrap("DecodeExecutedSetMessage", xerrors.ErrUnknownView)
	}
	payload, err := r.ReadBytes()
	if err != nil {
		return nil, 0, xerrors.Wrap("DecodeExecutedSetMessage", err)
	}
	set, err := DecodeGTIDSet(payload)
	if err != nil {
		return nil, 0, xerrors.Wrap("DecodeExecutedSetMessage", err)
	}

	typ2, err := r.ReadUint16()
	if err != nil || typ2 != PITSentTimestamp {
		return nil, 0, xerrors.Wrap("DecodeExecutedSetMessage", xerrors.ErrUnknownView)
	}
	ts, err := r.ReadUint64()
	if err != nil {
		return nil, 0, xerrors.Wrap("DecodeExecutedSetMessage", err)
	}
	return set, ts, nil
}
