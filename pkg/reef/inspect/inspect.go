// Package inspect provides read-only enumeration of an app's stored state,
// used by tooling to render the pipeline tree without running a build.
package inspect

import (
	"iter"
	"sort"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/newbpydev/reef/pkg/reef"
	"github.com/newbpydev/reef/pkg/reef/path"
	"github.com/newbpydev/reef/pkg/reef/store"
)

// PathInfo is one enumerated tree node.
type PathInfo struct {
	Path     path.StablePath
	NodeType store.NodeType
}

// ListStablePaths returns every stored stable path of the app, in
// ascending path order. The root is included whenever the app has any
// state at all.
func ListStablePaths(app *reef.App) ([]path.StablePath, error) {
	var paths []path.StablePath
	seen := make(map[string]struct{})
	add := func(p path.StablePath) {
		enc := string(p.Encode())
		if _, ok := seen[enc]; ok {
			return
		}
		seen[enc] = struct{}{}
		paths = append(paths, p)
	}

	err := app.Env().Store().View(app.Name(), func(r store.Reader) error {
		return r.Scan(store.PrefixState(), func(k, _ []byte) error {
			ek, err := store.DecodeEntryKey(k)
			if err != nil {
				return err
			}
			switch ek.Kind {
			case store.StateMetadata, store.StateEffectInfo:
				add(ek.Path)
			case store.StateChildExistence:
				add(ek.Path)
				add(ek.Path.Concat(ek.Child))
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(paths, func(i, j int) bool { return paths[i].Compare(paths[j]) < 0 })
	return paths, nil
}

// ListStablePathsWithTypes streams every stored stable path together with
// its node type. The type comes from the parent's child-existence record;
// paths without one are directories, and the root is always a component.
//
// The sequence yields (info, nil) per node, or (zero, err) once and stops
// on failure. Large trees are not materialized beyond the path list
// itself.
//
// Example:
//
//	for info, err := range inspect.ListStablePathsWithTypes(app) {
//	    if err != nil {
//	        return err
//	    }
//	    fmt.Println(info.Path, info.NodeType)
//	}
func ListStablePathsWithTypes(app *reef.App) iter.Seq2[PathInfo, error] {
	return func(yield func(PathInfo, error) bool) {
		paths, err := ListStablePaths(app)
		if err != nil {
			yield(PathInfo{}, err)
			return
		}
		err = app.Env().Store().View(app.Name(), func(r store.Reader) error {
			for _, p := range paths {
				nodeType := store.NodeComponent
				if parent, last, ok := p.SplitParent(); ok {
					found, err := childNodeType(r, parent, last)
					if err != nil {
						return err
					}
					nodeType = found
				}
				if !yield(PathInfo{Path: p, NodeType: nodeType}, nil) {
					return nil
				}
			}
			return nil
		})
		if err != nil {
			yield(PathInfo{}, err)
		}
	}
}

func childNodeType(r store.Reader, parent path.StablePath, child path.StableKey) (store.NodeType, error) {
	raw, found, err := r.Get(store.ChildExistenceKey(parent, child).Encode())
	if err != nil {
		return 0, err
	}
	if !found {
		return store.NodeDirectory, nil
	}
	var val store.ChildExistenceValue
	if err := msgpack.Unmarshal(raw, &val); err != nil {
		return 0, err
	}
	return val.NodeType, nil
}

// ListAppNames returns the apps visible in the environment: the non-empty
// store buckets. A cleared app does not appear.
func ListAppNames(env *reef.Environment) ([]string, error) {
	return env.Store().ListApps()
}
