package path

import "strings"

// ComponentPath is the human-facing, slash-separated address of a component,
// used by tooling and example code where a display string is more convenient
// than a StablePath.
//
// Example:
//
//	p := path.ComponentPath("setup/table")
//	p = p.Join("embedder") // "setup/table/embedder"
type ComponentPath string

// Join appends one segment.
func (p ComponentPath) Join(segment string) ComponentPath {
	if p == "" {
		return ComponentPath(segment)
	}
	return p + "/" + ComponentPath(segment)
}

// Segments splits the path on "/". The empty path yields nil.
func (p ComponentPath) Segments() []string {
	if p == "" {
		return nil
	}
	return strings.Split(string(p), "/")
}

// String returns the raw path.
func (p ComponentPath) String() string { return string(p) }
