package path

import (
	"fmt"
	"strings"

	"github.com/newbpydev/reef/pkg/reef/fingerprint"
)

// EffectPath identifies an effect declaration as an ordered sequence of
// fingerprints. Each element corresponds to an effect provider in ascending
// depth; the final fingerprint derives from the effect's logical key.
//
// Declaration identity is content-addressed, which is why this is a distinct
// type from StablePath: renaming a component does not move its effects, but
// changing an effect key does.
//
// Elements are fixed-width, so the raw concatenation of digests is already
// order-preserving and self-delimiting.
type EffectPath struct {
	fps []fingerprint.Fingerprint
}

// EffectRoot returns the empty effect path, the implicit parent of every
// root provider.
func EffectRoot() EffectPath { return EffectPath{} }

// NewEffectPath builds a single-element path, or extends parent when it is
// non-nil.
func NewEffectPath(fp fingerprint.Fingerprint, parent *EffectPath) EffectPath {
	if parent == nil {
		return EffectPath{fps: []fingerprint.Fingerprint{fp}}
	}
	return parent.Concat(fp)
}

// Concat returns a new path with fp appended.
func (p EffectPath) Concat(fp fingerprint.Fingerprint) EffectPath {
	fps := make([]fingerprint.Fingerprint, 0, len(p.fps)+1)
	fps = append(fps, p.fps...)
	fps = append(fps, fp)
	return EffectPath{fps: fps}
}

// Len returns the number of elements.
func (p EffectPath) Len() int { return len(p.fps) }

// IsEmpty reports whether the path has no elements.
func (p EffectPath) IsEmpty() bool { return len(p.fps) == 0 }

// Elements returns the fingerprints. The returned slice must not be mutated.
func (p EffectPath) Elements() []fingerprint.Fingerprint { return p.fps }

// Provider returns the path with the final element removed: the path of the
// provider this effect was declared through. Calling Provider on an empty
// path returns an empty path.
func (p EffectPath) Provider() EffectPath {
	if len(p.fps) == 0 {
		return EffectPath{}
	}
	return EffectPath{fps: p.fps[:len(p.fps)-1]}
}

// Last returns the final element; ok is false for the empty path.
func (p EffectPath) Last() (fp fingerprint.Fingerprint, ok bool) {
	if len(p.fps) == 0 {
		return fingerprint.Fingerprint{}, false
	}
	return p.fps[len(p.fps)-1], true
}

// Equal reports element-wise equality.
func (p EffectPath) Equal(other EffectPath) bool { return p.Compare(other) == 0 }

// Compare orders paths lexicographically; the result matches byte order
// over encodings.
func (p EffectPath) Compare(other EffectPath) int {
	for i := 0; i < len(p.fps) && i < len(other.fps); i++ {
		if c := p.fps[i].Compare(other.fps[i]); c != 0 {
			return c
		}
	}
	switch {
	case len(p.fps) == len(other.fps):
		return 0
	case len(p.fps) < len(other.fps):
		return -1
	default:
		return 1
	}
}

// AppendEncode appends the raw digest concatenation to dst.
func (p EffectPath) AppendEncode(dst []byte) []byte {
	for _, fp := range p.fps {
		dst = append(dst, fp[:]...)
	}
	return dst
}

// Encode returns the binary encoding.
func (p EffectPath) Encode() []byte { return p.AppendEncode(nil) }

// DecodeEffectPath decodes an encoded effect path. The input length must be
// a multiple of the fingerprint size.
func DecodeEffectPath(data []byte) (EffectPath, error) {
	if len(data)%fingerprint.Size != 0 {
		return EffectPath{}, fmt.Errorf("%w: effect path length %d not a multiple of %d",
			ErrInvalidEncoding, len(data), fingerprint.Size)
	}
	fps := make([]fingerprint.Fingerprint, 0, len(data)/fingerprint.Size)
	for off := 0; off < len(data); off += fingerprint.Size {
		fp, err := fingerprint.FromBytes(data[off : off+fingerprint.Size])
		if err != nil {
			return EffectPath{}, err
		}
		fps = append(fps, fp)
	}
	return EffectPath{fps: fps}, nil
}

// String renders the path as "/#hex/#hex/...".
func (p EffectPath) String() string {
	var sb strings.Builder
	for _, fp := range p.fps {
		sb.WriteString("/#")
		sb.WriteString(fp.String())
	}
	if sb.Len() == 0 {
		return "/"
	}
	return sb.String()
}
