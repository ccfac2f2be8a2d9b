package path

import (
	"bytes"
	"fmt"
	"strings"
)

// StablePath identifies a component or directory in the pipeline tree as an
// ordered sequence of StableKeys. The root path is empty.
//
// Paths are immutable: Concat returns a new path and never aliases the
// receiver's backing storage in a way that later Concat calls could corrupt.
//
// Two paths are equal iff their binary encodings are equal, and the
// lexicographic order over key sequences matches byte order over encodings.
type StablePath struct {
	keys []StableKey
}

// Root returns the empty path.
func Root() StablePath { return StablePath{} }

// PathOf builds a path from the given keys.
func PathOf(keys ...StableKey) StablePath {
	return StablePath{keys: append([]StableKey(nil), keys...)}
}

// Concat returns a new path with key appended.
func (p StablePath) Concat(key StableKey) StablePath {
	keys := make([]StableKey, 0, len(p.keys)+1)
	keys = append(keys, p.keys...)
	keys = append(keys, key)
	return StablePath{keys: keys}
}

// Len returns the number of keys in the path.
func (p StablePath) Len() int { return len(p.keys) }

// IsRoot reports whether the path is empty.
func (p StablePath) IsRoot() bool { return len(p.keys) == 0 }

// Keys returns the path's keys. The returned slice must not be mutated.
func (p StablePath) Keys() []StableKey { return p.keys }

// SplitParent returns the parent path and the final key. ok is false for
// the root path.
func (p StablePath) SplitParent() (parent StablePath, last StableKey, ok bool) {
	if len(p.keys) == 0 {
		return StablePath{}, StableKey{}, false
	}
	return StablePath{keys: p.keys[:len(p.keys)-1]}, p.keys[len(p.keys)-1], true
}

// Equal reports whether two paths hold the same key sequence.
func (p StablePath) Equal(other StablePath) bool { return p.Compare(other) == 0 }

// Compare orders paths lexicographically over their keys; the result matches
// bytes.Compare over AppendEncode output.
func (p StablePath) Compare(other StablePath) int {
	for i := 0; i < len(p.keys) && i < len(other.keys); i++ {
		if c := p.keys[i].Compare(other.keys[i]); c != 0 {
			return c
		}
	}
	switch {
	case len(p.keys) == len(other.keys):
		return 0
	case len(p.keys) < len(other.keys):
		return -1
	default:
		return 1
	}
}

// AppendEncode appends the terminated binary encoding of p to dst. The
// terminator makes concatenated encodings (path followed by a sub-key)
// unambiguous while preserving order.
func (p StablePath) AppendEncode(dst []byte) []byte {
	dst = p.AppendEncodePrefix(dst)
	return append(dst, arrayEnd)
}

// AppendEncodePrefix appends the un-terminated encoding, used as a scan
// prefix that matches the path itself and all of its descendants.
func (p StablePath) AppendEncodePrefix(dst []byte) []byte {
	for _, k := range p.keys {
		dst = k.AppendEncode(dst)
	}
	return dst
}

// Encode returns the terminated binary encoding.
func (p StablePath) Encode() []byte { return p.AppendEncode(nil) }

// DecodePath decodes a terminated path from the front of data, returning
// the path and the remaining bytes.
func DecodePath(data []byte) (StablePath, []byte, error) {
	var keys []StableKey
	rest := data
	for {
		if len(rest) == 0 {
			return StablePath{}, nil, fmt.Errorf("%w: unterminated path", ErrInvalidEncoding)
		}
		if rest[0] == arrayEnd {
			return StablePath{keys: keys}, rest[1:], nil
		}
		var (
			k   StableKey
			err error
		)
		k, rest, err = DecodeKey(rest)
		if err != nil {
			return StablePath{}, nil, err
		}
		keys = append(keys, k)
	}
}

// HasPrefix reports whether other is a (non-strict) prefix of p.
func (p StablePath) HasPrefix(other StablePath) bool {
	if len(other.keys) > len(p.keys) {
		return false
	}
	for i, k := range other.keys {
		if !p.keys[i].Equal(k) {
			return false
		}
	}
	return true
}

// String renders the path as "/key/key/...". The root renders as "/".
func (p StablePath) String() string {
	if len(p.keys) == 0 {
		return "/"
	}
	var sb strings.Builder
	for _, k := range p.keys {
		sb.WriteByte('/')
		sb.WriteString(k.String())
	}
	return sb.String()
}

// EncodedEqual reports whether two encoded paths are byte-identical.
// Provided for callers that hold encodings rather than paths.
func EncodedEqual(a, b []byte) bool { return bytes.Equal(a, b) }
