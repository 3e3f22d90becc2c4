package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"time"
)

const version byte = 2

// Kind tags what a cached frame carries.
type Kind byte

const (
	KindValue   Kind = 1 // payload; expireAt is a hard deadline
	KindNull    Kind = 2 // negative-cache marker, never has a payload
	KindLogical Kind = 3 // payload; expireAt is soft, stale copies are served
)

var (
	ErrCorrupt = errors.New("stampede: corrupt entry")
	magic4     = [...]byte{'S', 'T', 'M', 'P'}
)

// Entry is a decoded frame. Payload aliases the input buffer.
//
// Every kind carries its expiry so providers without per-entry TTLs
// (bigcache) still age out null markers and values on time. Value and null
// frames are dead once expired; logical frames stay readable.
type Entry struct {
	Kind     Kind
	ExpireAt time.Time // zero => no expiry in the frame
	Payload  []byte
}

func (e Entry) Expired(now time.Time) bool {
	return !e.ExpireAt.IsZero() && !now.Before(e.ExpireAt)
}

// Frame layout:
//
//	magic(4) | ver(1) | kind(1) | expireAt(unix-nanos u64 be, 0 = none) | vlen(u32 be) | payload(vlen)
func encode(kind Kind, expireAt time.Time, payload []byte) []byte {
	n := 4 + 1 + 1 + 8 + 4 + len(payload)
	var buf bytes.Buffer
	buf.Grow(n)

	buf.Write(magic4[:])
	buf.WriteByte(version)
	buf.WriteByte(byte(kind))

	var u8 [8]byte
	var u4 [4]byte
	if !expireAt.IsZero() {
		binary.BigEndian.PutUint64(u8[:], uint64(expireAt.UnixNano()))
	}
	buf.Write(u8[:])
	binary.BigEndian.PutUint32(u4[:], uint32(len(payload)))
	buf.Write(u4[:])
	buf.Write(payload)
	return buf.Bytes()
}

// EncodeValue frames payload dead after expireAt (zero: store TTL only).
func EncodeValue(expireAt time.Time, payload []byte) []byte {
	return encode(KindValue, expireAt, payload)
}

func EncodeNull(expireAt time.Time) []byte { return encode(KindNull, expireAt, nil) }

func EncodeLogical(expireAt time.Time, payload []byte) []byte {
	return encode(KindLogical, expireAt, payload)
}

// Decode parses a frame. Anything that is not exactly one well formed frame,
// including trailing bytes, is ErrCorrupt.
func Decode(b []byte) (Entry, error) {
	const hdr = 4 + 1 + 1
	if len(b) < hdr || !bytes.Equal(b[:4], magic4[:]) || b[4] != version {
		return Entry{}, ErrCorrupt
	}
	e := Entry{Kind: Kind(b[5])}
	off := hdr

	switch e.Kind {
	case KindValue, KindNull, KindLogical:
	default:
		return Entry{}, ErrCorrupt
	}

	if off+8 > len(b) {
		return Entry{}, ErrCorrupt
	}
	if ns := binary.BigEndian.Uint64(b[off : off+8]); ns != 0 {
		e.ExpireAt = time.Unix(0, int64(ns))
	}
	off += 8

	if off+4 > len(b) {
		return Entry{}, ErrCorrupt
	}
	vlen := int(binary.BigEndian.Uint32(b[off : off+4]))
	off += 4
	if vlen < 0 || vlen != len(b)-off {
		return Entry{}, ErrCorrupt
	}
	if e.Kind == KindNull && vlen != 0 {
		return Entry{}, ErrCorrupt
	}
	e.Payload = b[off : off+vlen]
	return e, nil
}
