// Package fingerprint provides 128-bit content addresses for arbitrary
// serializable values.
//
// A Fingerprint is a Blake2b digest over the canonical MessagePack encoding
// of a value. Two values that serialize equally fingerprint equally, across
// runs and platforms. Fingerprints compare byte-wise, so they can be embedded
// directly in ordered binary keys.
package fingerprint

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
	"golang.org/x/crypto/blake2b"
)

// Size is the digest length in bytes.
const Size = 16

// Fingerprint is a 16-byte Blake2b digest used as a content address.
//
// The zero value is a valid (if unlikely) fingerprint; use IsZero to detect
// an unset one where that distinction matters.
type Fingerprint [Size]byte

// Of fingerprints any value with a canonical MessagePack encoding.
//
// Map keys are sorted before encoding, so two maps with equal contents
// produce the same fingerprint regardless of insertion order.
//
// Example:
//
//	fp, err := fingerprint.Of(struct{ A, B int }{1, 2})
func Of(v any) (Fingerprint, error) {
	data, err := Canonical(v)
	if err != nil {
		return Fingerprint{}, err
	}
	return OfBytes(data), nil
}

// OfBytes fingerprints a byte slice directly, without re-serialization.
func OfBytes(data []byte) Fingerprint {
	h, err := blake2b.New(Size, nil)
	if err != nil {
		// blake2b.New only fails for invalid sizes or oversized keys;
		// neither can happen here.
		panic(fmt.Sprintf("blake2b init: %v", err))
	}
	h.Write(data)
	var fp Fingerprint
	h.Sum(fp[:0])
	return fp
}

// Canonical returns the canonical MessagePack encoding of v, suitable for
// fingerprinting and for durable storage of memoized results.
func Canonical(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetSortMapKeys(true)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("canonical encode: %w", err)
	}
	return buf.Bytes(), nil
}

// FromBytes reconstructs a fingerprint from its raw 16-byte form.
func FromBytes(b []byte) (Fingerprint, error) {
	if len(b) != Size {
		return Fingerprint{}, fmt.Errorf("fingerprint: want %d bytes, got %d", Size, len(b))
	}
	var fp Fingerprint
	copy(fp[:], b)
	return fp, nil
}

// Bytes returns the raw digest.
func (fp Fingerprint) Bytes() []byte {
	return fp[:]
}

// IsZero reports whether fp is the all-zero fingerprint.
func (fp Fingerprint) IsZero() bool {
	return fp == Fingerprint{}
}

// Compare orders fingerprints byte-wise. It returns -1, 0, or 1.
func (fp Fingerprint) Compare(other Fingerprint) int {
	return bytes.Compare(fp[:], other[:])
}

// Less reports whether fp sorts before other.
func (fp Fingerprint) Less(other Fingerprint) bool {
	return fp.Compare(other) < 0
}

// String renders the digest as lowercase hex.
func (fp Fingerprint) String() string {
	return hex.EncodeToString(fp[:])
}
