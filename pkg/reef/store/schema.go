package store

import (
	"errors"
	"fmt"

	"github.com/newbpydev/reef/pkg/reef/path"
)

// Typed key schema.
//
// Every key in an app's namespace starts with a one-byte tag, so a scan can
// be confined to a single kind of entry. Within a tag, the order-preserving
// path codec keeps byte order aligned with logical order:
//
//	tag=2  state entry   [2][StablePath][StateEntryKind[child key]]
//	tag=3  effect entry  [3][EffectPath]
//	tag=4  memo entry    [4][Fingerprint]
//
// State entries carry per-component records: metadata, the component's
// effect-info summary, and one child-existence record per built child (the
// record inspection uses to tell components from directories).

// EntryTag is the leading byte of every encoded key.
type EntryTag byte

const (
	// TagState marks per-component state entries.
	TagState EntryTag = 2
	// TagEffect marks reconciled effect entries.
	TagEffect EntryTag = 3
	// TagMemo marks durable memoization entries, keyed by the fingerprint
	// of the memoized call.
	TagMemo EntryTag = 4
)

// StateEntryKind selects the record stored under a component's StablePath.
type StateEntryKind byte

const (
	// StateMetadata holds the component's build metadata.
	StateMetadata StateEntryKind = 2
	// StateEffectInfo holds the component's declared-effect summary.
	StateEffectInfo StateEntryKind = 3
	// StateChildExistence holds one record per child key, carrying the
	// child's node type.
	StateChildExistence StateEntryKind = 4
)

// ErrBadKeyShape is returned when a decoded key does not match the schema.
var ErrBadKeyShape = errors.New("store: decoded key has wrong shape")

// EntryKey is a decoded store key.
type EntryKey struct {
	Tag EntryTag

	// TagState fields.
	Path  path.StablePath
	Kind  StateEntryKind
	Child path.StableKey // set when Kind == StateChildExistence

	// TagEffect field.
	Effect path.EffectPath

	// TagMemo field: the raw 16-byte fingerprint.
	Memo []byte
}

// MetadataKey addresses a component's metadata record.
func MetadataKey(p path.StablePath) EntryKey {
	return EntryKey{Tag: TagState, Path: p, Kind: StateMetadata}
}

// EffectInfoKey addresses a component's effect-info record.
func EffectInfoKey(p path.StablePath) EntryKey {
	return EntryKey{Tag: TagState, Path: p, Kind: StateEffectInfo}
}

// ChildExistenceKey addresses the existence record of one child of parent.
func ChildExistenceKey(parent path.StablePath, child path.StableKey) EntryKey {
	return EntryKey{Tag: TagState, Path: parent, Kind: StateChildExistence, Child: child}
}

// EffectKey addresses a reconciled effect entry.
func EffectKey(p path.EffectPath) EntryKey {
	return EntryKey{Tag: TagEffect, Effect: p}
}

// MemoKey addresses a memoization entry by its 16-byte fingerprint.
func MemoKey(fp []byte) EntryKey {
	return EntryKey{Tag: TagMemo, Memo: fp}
}

// Encode renders the key to its binary form.
func (k EntryKey) Encode() []byte {
	switch k.Tag {
	case TagState:
		buf := []byte{byte(TagState)}
		buf = k.Path.AppendEncode(buf)
		buf = append(buf, byte(k.Kind))
		if k.Kind == StateChildExistence {
			buf = k.Child.AppendEncode(buf)
		}
		return buf
	case TagEffect:
		buf := []byte{byte(TagEffect)}
		return k.Effect.AppendEncode(buf)
	case TagMemo:
		buf := make([]byte, 0, 1+len(k.Memo))
		buf = append(buf, byte(TagMemo))
		return append(buf, k.Memo...)
	default:
		// Unreachable for keys built through the constructors.
		panic(fmt.Sprintf("store: encode of unknown tag %d", k.Tag))
	}
}

// DecodeEntryKey parses an encoded key back into its typed form.
func DecodeEntryKey(data []byte) (EntryKey, error) {
	if len(data) == 0 {
		return EntryKey{}, fmt.Errorf("%w: empty key", ErrBadKeyShape)
	}
	switch EntryTag(data[0]) {
	case TagState:
		p, rest, err := path.DecodePath(data[1:])
		if err != nil {
			return EntryKey{}, fmt.Errorf("%w: %v", ErrBadKeyShape, err)
		}
		if len(rest) == 0 {
			return EntryKey{}, fmt.Errorf("%w: state key missing entry kind", ErrBadKeyShape)
		}
		kind := StateEntryKind(rest[0])
		rest = rest[1:]
		key := EntryKey{Tag: TagState, Path: p, Kind: kind}
		switch kind {
		case StateMetadata, StateEffectInfo:
			if len(rest) != 0 {
				return EntryKey{}, fmt.Errorf("%w: trailing bytes after state key", ErrBadKeyShape)
			}
		case StateChildExistence:
			child, tail, err := path.DecodeKey(rest)
			if err != nil {
				return EntryKey{}, fmt.Errorf("%w: %v", ErrBadKeyShape, err)
			}
			if len(tail) != 0 {
				return EntryKey{}, fmt.Errorf("%w: trailing bytes after child key", ErrBadKeyShape)
			}
			key.Child = child
		default:
			return EntryKey{}, fmt.Errorf("%w: unknown state entry kind %d", ErrBadKeyShape, kind)
		}
		return key, nil
	case TagEffect:
		ep, err := path.DecodeEffectPath(data[1:])
		if err != nil {
			return EntryKey{}, fmt.Errorf("%w: %v", ErrBadKeyShape, err)
		}
		return EntryKey{Tag: TagEffect, Effect: ep}, nil
	case TagMemo:
		return EntryKey{Tag: TagMemo, Memo: append([]byte(nil), data[1:]...)}, nil
	default:
		return EntryKey{}, fmt.Errorf("%w: unknown tag %d", ErrBadKeyShape, data[0])
	}
}

// PrefixState returns the scan prefix covering every state entry.
func PrefixState() []byte { return []byte{byte(TagState)} }

// PrefixStateSubtree returns the scan prefix covering the state entries of
// p and all of its descendants.
func PrefixStateSubtree(p path.StablePath) []byte {
	return p.AppendEncodePrefix([]byte{byte(TagState)})
}

// PrefixEffect returns the scan prefix covering every effect entry.
func PrefixEffect() []byte { return []byte{byte(TagEffect)} }

// PrefixEffectUnder returns the scan prefix covering effects at or below
// the given effect path.
func PrefixEffectUnder(p path.EffectPath) []byte {
	return p.AppendEncode([]byte{byte(TagEffect)})
}
