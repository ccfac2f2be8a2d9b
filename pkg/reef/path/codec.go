package path

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/newbpydev/reef/pkg/reef/fingerprint"
)

// Binary key codec.
//
// Every StableKey encoding begins with its KeyKind discriminant byte, and
// every variant encoding preserves order: for any two keys a and b,
// bytes.Compare(encode(a), encode(b)) equals a.Compare(b). Variable-length
// payloads (strings, bytes) use an escape scheme so that concatenated
// encodings stay order-preserving and self-delimiting:
//
//	0x00 in the payload  ->  0x00 0xFF
//	end of payload       ->  0x00 0x01
//
// The terminator (0x00 0x01) compares below any escaped payload byte
// (0x00 0xFF) and any literal byte > 0x00, so "a" < "ab" holds on the
// encoded form. Arrays encode their elements back to back and close with a
// single 0x00, which cannot collide with an element start (discriminants
// are >= 0x01). Integers are 8-byte big-endian with the sign bit flipped.

// Codec errors.
var (
	// ErrUnsupportedKeyType is returned by KeyOf for values that have no
	// StableKey representation.
	ErrUnsupportedKeyType = errors.New("unsupported stable key type")

	// ErrInvalidEncoding is returned when decoding malformed key bytes.
	ErrInvalidEncoding = errors.New("invalid key encoding")
)

const (
	escByte        = 0x00
	escLiteralZero = 0xFF
	escTerminator  = 0x01
	arrayEnd       = 0x00
)

// AppendEncode appends the binary encoding of k to dst and returns the
// extended slice.
func (k StableKey) AppendEncode(dst []byte) []byte {
	dst = append(dst, byte(k.kind))
	switch k.kind {
	case KindNull:
	case KindBool:
		if k.b {
			dst = append(dst, 1)
		} else {
			dst = append(dst, 0)
		}
	case KindInt:
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], uint64(k.i)^(1<<63))
		dst = append(dst, buf[:]...)
	case KindString:
		dst = appendEscaped(dst, []byte(k.s))
	case KindBytes:
		dst = appendEscaped(dst, k.bs)
	case KindUUID:
		dst = append(dst, k.u[:]...)
	case KindFingerprint:
		dst = append(dst, k.fp[:]...)
	case KindArray:
		for _, e := range k.arr {
			dst = e.AppendEncode(dst)
		}
		dst = append(dst, arrayEnd)
	}
	return dst
}

// Encode returns the binary encoding of k.
func (k StableKey) Encode() []byte {
	return k.AppendEncode(nil)
}

func appendEscaped(dst, payload []byte) []byte {
	for _, b := range payload {
		if b == escByte {
			dst = append(dst, escByte, escLiteralZero)
		} else {
			dst = append(dst, b)
		}
	}
	return append(dst, escByte, escTerminator)
}

// decodeEscaped consumes an escaped payload plus terminator from data and
// returns the payload and the remaining bytes.
func decodeEscaped(data []byte) ([]byte, []byte, error) {
	var out []byte
	for i := 0; i < len(data); {
		b := data[i]
		if b != escByte {
			out = append(out, b)
			i++
			continue
		}
		if i+1 >= len(data) {
			return nil, nil, fmt.Errorf("%w: truncated escape", ErrInvalidEncoding)
		}
		switch data[i+1] {
		case escLiteralZero:
			out = append(out, escByte)
			i += 2
		case escTerminator:
			return out, data[i+2:], nil
		default:
			return nil, nil, fmt.Errorf("%w: bad escape byte 0x%02x", ErrInvalidEncoding, data[i+1])
		}
	}
	return nil, nil, fmt.Errorf("%w: missing terminator", ErrInvalidEncoding)
}

// DecodeKey decodes one StableKey from the front of data, returning the key
// and the remaining bytes.
func DecodeKey(data []byte) (StableKey, []byte, error) {
	if len(data) == 0 {
		return StableKey{}, nil, fmt.Errorf("%w: empty input", ErrInvalidEncoding)
	}
	kind := KeyKind(data[0])
	rest := data[1:]
	switch kind {
	case KindNull:
		return Null(), rest, nil
	case KindBool:
		if len(rest) < 1 {
			return StableKey{}, nil, fmt.Errorf("%w: truncated bool", ErrInvalidEncoding)
		}
		return Bool(rest[0] != 0), rest[1:], nil
	case KindInt:
		if len(rest) < 8 {
			return StableKey{}, nil, fmt.Errorf("%w: truncated int", ErrInvalidEncoding)
		}
		raw := binary.BigEndian.Uint64(rest[:8])
		return Int(int64(raw ^ (1 << 63))), rest[8:], nil
	case KindString:
		payload, tail, err := decodeEscaped(rest)
		if err != nil {
			return StableKey{}, nil, err
		}
		return String(string(payload)), tail, nil
	case KindBytes:
		payload, tail, err := decodeEscaped(rest)
		if err != nil {
			return StableKey{}, nil, err
		}
		return Bytes(payload), tail, nil
	case KindUUID:
		if len(rest) < 16 {
			return StableKey{}, nil, fmt.Errorf("%w: truncated uuid", ErrInvalidEncoding)
		}
		var u uuid.UUID
		copy(u[:], rest[:16])
		return UUIDKey(u), rest[16:], nil
	case KindFingerprint:
		if len(rest) < fingerprint.Size {
			return StableKey{}, nil, fmt.Errorf("%w: truncated fingerprint", ErrInvalidEncoding)
		}
		fp, err := fingerprint.FromBytes(rest[:fingerprint.Size])
		if err != nil {
			return StableKey{}, nil, err
		}
		return FingerprintKey(fp), rest[fingerprint.Size:], nil
	case KindArray:
		var elems []StableKey
		for {
			if len(rest) == 0 {
				return StableKey{}, nil, fmt.Errorf("%w: unterminated array", ErrInvalidEncoding)
			}
			if rest[0] == arrayEnd {
				return StableKey{kind: KindArray, arr: elems}, rest[1:], nil
			}
			var (
				elem StableKey
				err  error
			)
			elem, rest, err = DecodeKey(rest)
			if err != nil {
				return StableKey{}, nil, err
			}
			elems = append(elems, elem)
		}
	default:
		return StableKey{}, nil, fmt.Errorf("%w: unknown discriminant 0x%02x", ErrInvalidEncoding, data[0])
	}
}
