package wire

import (
	"bytes"
	"encoding/binary"
	"testing"
	"time"
)

func mustDecode(t *testing.T, b []byte) Entry {
	t.Helper()
	e, err := Decode(b)
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	return e
}

func TestValueRoundTrip(t *testing.T) {
	for _, p := range [][]byte{nil, []byte("hello"), {0, 1, 2, 3, 4}} {
		e := mustDecode(t, EncodeValue(time.Time{}, p))
		if e.Kind != KindValue {
			t.Fatalf("kind = %d", e.Kind)
		}
		if !bytes.Equal(e.Payload, p) {
			t.Fatalf("payload mismatch: got %x want %x", e.Payload, p)
		}
		if !e.ExpireAt.IsZero() || e.Expired(time.Now()) {
			t.Fatalf("value frame without deadline must not expire")
		}
	}
}

func TestDeadlineOnValueAndNull(t *testing.T) {
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	for _, enc := range [][]byte{EncodeValue(at, []byte("x")), EncodeNull(at)} {
		e := mustDecode(t, enc)
		if !e.ExpireAt.Equal(at) {
			t.Fatalf("expireAt = %v, want %v", e.ExpireAt, at)
		}
		if e.Expired(at.Add(-time.Nanosecond)) || !e.Expired(at) {
			t.Fatalf("kind %d: deadline not honoured", e.Kind)
		}
	}
}

func TestNullMarker(t *testing.T) {
	e := mustDecode(t, EncodeNull(time.Time{}))
	if e.Kind != KindNull || len(e.Payload) != 0 {
		t.Fatalf("unexpected null frame: %+v", e)
	}

	// a null frame that claims a payload is not a null marker
	bad := append(EncodeNull(time.Time{})[:14], 0, 0, 0, 1, 'x')
	if _, err := Decode(bad); err != ErrCorrupt {
		t.Fatalf("expected ErrCorrupt, got %v", err)
	}
}

func TestLogicalRoundTripAndExpiry(t *testing.T) {
	at := time.Date(2024, 5, 1, 10, 0, 0, 123, time.UTC)
	e := mustDecode(t, EncodeLogical(at, []byte(`{"id":1}`)))
	if e.Kind != KindLogical {
		t.Fatalf("kind = %d", e.Kind)
	}
	if !e.ExpireAt.Equal(at) {
		t.Fatalf("expireAt = %v, want %v", e.ExpireAt, at)
	}
	if e.Expired(at.Add(-time.Nanosecond)) {
		t.Fatalf("should not be expired before expireAt")
	}
	if !e.Expired(at) {
		t.Fatalf("should be expired at expireAt")
	}
}

func TestRejectsTrailingBytes(t *testing.T) {
	for _, enc := range [][]byte{
		EncodeValue(time.Time{}, []byte("x")),
		EncodeNull(time.Unix(10, 0)),
		EncodeLogical(time.Unix(10, 0), []byte("x")),
	} {
		enc = append(enc, 0xDE, 0xAD)
		if _, err := Decode(enc); err == nil {
			t.Fatalf("expected error on trailing bytes")
		}
	}
}

func TestCorruptHeadersAndLengths(t *testing.T) {
	enc := EncodeValue(time.Time{}, []byte("abc"))

	badMagic := append([]byte(nil), enc...)
	badMagic[0] = 'X'
	if _, err := Decode(badMagic); err == nil {
		t.Fatalf("expected error on bad magic")
	}

	badVer := append([]byte(nil), enc...)
	badVer[4] = version + 1
	if _, err := Decode(badVer); err == nil {
		t.Fatalf("expected error on bad version")
	}

	badKind := append([]byte(nil), enc...)
	badKind[5] = 9
	if _, err := Decode(badKind); err == nil {
		t.Fatalf("expected error on unknown kind")
	}

	// vlen sits at 14..17
	tooLong := append([]byte(nil), enc...)
	binary.BigEndian.PutUint32(tooLong[14:18], uint32(len("abc")+1))
	if _, err := Decode(tooLong); err == nil {
		t.Fatalf("expected error on vlen beyond buffer")
	}

	if _, err := Decode(enc[:len(enc)-1]); err == nil {
		t.Fatalf("expected error on truncated buffer")
	}

	// frame cut inside expireAt
	lg := EncodeLogical(time.Unix(1, 0), nil)
	if _, err := Decode(lg[:9]); err == nil {
		t.Fatalf("expected error on truncated expireAt")
	}

	if _, err := Decode(nil); err == nil {
		t.Fatalf("expected error on empty input")
	}
	// legacy/plain JSON written by something else
	if _, err := Decode([]byte(`{"id":1}`)); err == nil {
		t.Fatalf("expected error on foreign bytes")
	}
}

func TestZeroCopyPayload(t *testing.T) {
	enc := EncodeValue(time.Time{}, []byte("Z"))
	e := mustDecode(t, enc)
	e.Payload[0] = 'Q'
	if mustDecode(t, enc).Payload[0] != 'Q' {
		t.Fatalf("expected payload to alias the input buffer")
	}
}
