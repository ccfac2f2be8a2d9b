package store

// Value records stored under the key schema. All values are MessagePack;
// the single-letter field tags keep rows compact, since effect entries are
// written once per declared effect per changed pass.

// NodeType distinguishes stored tree nodes for inspection.
type NodeType byte

const (
	// NodeDirectory is an intermediate path with no component of its own.
	NodeDirectory NodeType = 1
	// NodeComponent is a path a builder ran at.
	NodeComponent NodeType = 2
)

// String returns the node type name.
func (n NodeType) String() string {
	switch n {
	case NodeDirectory:
		return "directory"
	case NodeComponent:
		return "component"
	default:
		return "unknown"
	}
}

// EffectEntryValue is the durable record of one reconciled effect.
//
// Key is the canonical MessagePack encoding of the effect's logical key,
// kept so that an orphaned effect can be reconciled (desired = absent)
// without the declaring code present. States lists the possible previous
// states; a clean commit always leaves exactly one, but the reconciler
// contract accepts several in case older data carries ambiguity.
type EffectEntryValue struct {
	Key    []byte   `msgpack:"k"`
	States [][]byte `msgpack:"s"`
}

// ChildExistenceValue records one built child and its node type.
type ChildExistenceValue struct {
	NodeType NodeType `msgpack:"n"`
}

// EffectInfoValue summarizes the effects a component declared in its most
// recent pass, as encoded effect paths (without the key tag byte).
type EffectInfoValue struct {
	Version uint64   `msgpack:"v"`
	Paths   [][]byte `msgpack:"i"`
}

// MetadataValue records per-component build metadata.
type MetadataValue struct {
	Pass    uint64 `msgpack:"p"`
	BuiltAt int64  `msgpack:"t"`
}

// MemoEntryValue is a durable memoization row: the MessagePack-encoded
// result, the logic fingerprints the result transitively depended on, and
// whether the row may be reused at all.
type MemoEntryValue struct {
	Ret      []byte   `msgpack:"r"`
	LogicFps [][]byte `msgpack:"l"`
	Reusable bool     `msgpack:"u"`
}
