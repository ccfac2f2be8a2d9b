package path

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/newbpydev/reef/pkg/reef/fingerprint"
)

// KeyKind identifies the variant held by a StableKey.
//
// The numeric values double as the leading discriminant byte in the binary
// encoding, so the declaration order here is load-bearing: it defines the
// total order Null < Bool < Int < String < Bytes < UUID < Fingerprint < Array.
type KeyKind uint8

const (
	KindNull        KeyKind = 1
	KindBool        KeyKind = 2
	KindInt         KeyKind = 3
	KindString      KeyKind = 4
	KindBytes       KeyKind = 5
	KindUUID        KeyKind = 6
	KindFingerprint KeyKind = 7
	KindArray       KeyKind = 8
)

// String returns a human-readable kind name.
func (k KeyKind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindString:
		return "string"
	case KindBytes:
		return "bytes"
	case KindUUID:
		return "uuid"
	case KindFingerprint:
		return "fingerprint"
	case KindArray:
		return "array"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// StableKey is one element of a StablePath: a small sum type whose total
// order is stable across process runs and matches the byte order of its
// binary encoding. That property is what makes prefix scans over encoded
// paths meaningful.
//
// The zero value is not a valid key; construct one with Null, Bool, Int,
// String, Bytes, UUIDKey, FingerprintKey, Array, or KeyOf.
//
// Example:
//
//	k := path.String("files")
//	sub := path.Array(path.String("chunk"), path.Int(3))
type StableKey struct {
	kind KeyKind
	b    bool
	i    int64
	s    string
	bs   []byte
	u    uuid.UUID
	fp   fingerprint.Fingerprint
	arr  []StableKey
}

// Null returns the null key, which sorts before every other key.
func Null() StableKey { return StableKey{kind: KindNull} }

// Bool returns a boolean key. false sorts before true.
func Bool(v bool) StableKey { return StableKey{kind: KindBool, b: v} }

// Int returns a signed integer key.
func Int(v int64) StableKey { return StableKey{kind: KindInt, i: v} }

// String returns a string key.
func String(v string) StableKey { return StableKey{kind: KindString, s: v} }

// Bytes returns a byte-string key. The slice is copied.
func Bytes(v []byte) StableKey {
	return StableKey{kind: KindBytes, bs: append([]byte(nil), v...)}
}

// UUIDKey returns a UUID key.
func UUIDKey(v uuid.UUID) StableKey { return StableKey{kind: KindUUID, u: v} }

// FingerprintKey returns a fingerprint key.
func FingerprintKey(v fingerprint.Fingerprint) StableKey {
	return StableKey{kind: KindFingerprint, fp: v}
}

// Array returns a composite key made of the given elements, compared
// lexicographically.
func Array(elems ...StableKey) StableKey {
	return StableKey{kind: KindArray, arr: append([]StableKey(nil), elems...)}
}

// KeyOf converts a plain Go value into a StableKey. Supported inputs:
// nil, bool, the signed and unsigned integer types, string, []byte,
// uuid.UUID, fingerprint.Fingerprint, StableKey itself, and []any slices
// whose elements are any of these. Typed slices such as []string are not
// accepted.
//
// This is the convenience entry point used when spawning child components:
//
//	ctx.Component("chunks", buildChunks)
//	ctx.Component([]any{"file", 7}, buildFile)
func KeyOf(v any) (StableKey, error) {
	switch x := v.(type) {
	case nil:
		return Null(), nil
	case StableKey:
		return x, nil
	case bool:
		return Bool(x), nil
	case int:
		return Int(int64(x)), nil
	case int8:
		return Int(int64(x)), nil
	case int16:
		return Int(int64(x)), nil
	case int32:
		return Int(int64(x)), nil
	case int64:
		return Int(x), nil
	case uint:
		return uintKey(uint64(x))
	case uint8:
		return Int(int64(x)), nil
	case uint16:
		return Int(int64(x)), nil
	case uint32:
		return Int(int64(x)), nil
	case uint64:
		return uintKey(x)
	case string:
		return String(x), nil
	case []byte:
		return Bytes(x), nil
	case uuid.UUID:
		return UUIDKey(x), nil
	case fingerprint.Fingerprint:
		return FingerprintKey(x), nil
	case []any:
		elems := make([]StableKey, 0, len(x))
		for _, item := range x {
			k, err := KeyOf(item)
			if err != nil {
				return StableKey{}, err
			}
			elems = append(elems, k)
		}
		return StableKey{kind: KindArray, arr: elems}, nil
	default:
		return StableKey{}, fmt.Errorf("%w: %T", ErrUnsupportedKeyType, v)
	}
}

func uintKey(v uint64) (StableKey, error) {
	if v > 1<<63-1 {
		return StableKey{}, fmt.Errorf("%w: %d overflows int64", ErrUnsupportedKeyType, v)
	}
	return Int(int64(v)), nil
}

// Kind returns the variant tag.
func (k StableKey) Kind() KeyKind { return k.kind }

// IsValid reports whether the key was produced by a constructor.
func (k StableKey) IsValid() bool { return k.kind >= KindNull && k.kind <= KindArray }

// BoolValue returns the boolean payload; valid only for KindBool.
func (k StableKey) BoolValue() bool { return k.b }

// IntValue returns the integer payload; valid only for KindInt.
func (k StableKey) IntValue() int64 { return k.i }

// StringValue returns the string payload; valid only for KindString.
func (k StableKey) StringValue() string { return k.s }

// BytesValue returns the byte payload; valid only for KindBytes.
func (k StableKey) BytesValue() []byte { return k.bs }

// UUIDValue returns the UUID payload; valid only for KindUUID.
func (k StableKey) UUIDValue() uuid.UUID { return k.u }

// FingerprintValue returns the fingerprint payload; valid only for
// KindFingerprint.
func (k StableKey) FingerprintValue() fingerprint.Fingerprint { return k.fp }

// ArrayValue returns the element slice; valid only for KindArray.
// The returned slice must not be mutated.
func (k StableKey) ArrayValue() []StableKey { return k.arr }

// Equal reports whether two keys are identical.
func (k StableKey) Equal(other StableKey) bool { return k.Compare(other) == 0 }

// Compare totally orders keys. The result matches bytes.Compare over the
// keys' binary encodings.
func (k StableKey) Compare(other StableKey) int {
	if k.kind != other.kind {
		if k.kind < other.kind {
			return -1
		}
		return 1
	}
	switch k.kind {
	case KindNull:
		return 0
	case KindBool:
		switch {
		case k.b == other.b:
			return 0
		case !k.b:
			return -1
		default:
			return 1
		}
	case KindInt:
		switch {
		case k.i == other.i:
			return 0
		case k.i < other.i:
			return -1
		default:
			return 1
		}
	case KindString:
		return strings.Compare(k.s, other.s)
	case KindBytes:
		return bytes.Compare(k.bs, other.bs)
	case KindUUID:
		return bytes.Compare(k.u[:], other.u[:])
	case KindFingerprint:
		return k.fp.Compare(other.fp)
	case KindArray:
		for i := 0; i < len(k.arr) && i < len(other.arr); i++ {
			if c := k.arr[i].Compare(other.arr[i]); c != 0 {
				return c
			}
		}
		switch {
		case len(k.arr) == len(other.arr):
			return 0
		case len(k.arr) < len(other.arr):
			return -1
		default:
			return 1
		}
	default:
		return 0
	}
}

// Less reports whether k sorts before other.
func (k StableKey) Less(other StableKey) bool { return k.Compare(other) < 0 }

// String renders the key for logs and path display.
func (k StableKey) String() string {
	switch k.kind {
	case KindNull:
		return "null"
	case KindBool:
		return strconv.FormatBool(k.b)
	case KindInt:
		return strconv.FormatInt(k.i, 10)
	case KindString:
		return k.s
	case KindBytes:
		return "0x" + hex.EncodeToString(k.bs)
	case KindUUID:
		return k.u.String()
	case KindFingerprint:
		return "#" + k.fp.String()
	case KindArray:
		parts := make([]string, len(k.arr))
		for i, e := range k.arr {
			parts[i] = e.String()
		}
		return "[" + strings.Join(parts, ",") + "]"
	default:
		return "<invalid>"
	}
}
