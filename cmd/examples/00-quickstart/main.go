// Quickstart: index the files of a directory into a print-only target.
//
// Run it twice to see incrementality: the first pass declares one effect
// per file and "applies" them all; the second pass applies nothing, because
// every declaration matches the recorded state. Delete or edit a file and
// the next pass emits exactly the changed actions, plus deletions for
// orphaned files.
//
// Usage:
//
//	go run ./cmd/examples/00-quickstart [dir]
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/newbpydev/reef/pkg/reef"
)

// fileKey identifies one indexed file.
type fileKey struct {
	Path string `msgpack:"p"`
}

// fileDecl is the desired state: the file's size and modification time.
type fileDecl struct {
	Size    int64 `msgpack:"s"`
	ModTime int64 `msgpack:"m"`
}

// fileState is what gets recorded durably; identical to the declaration
// for this toy target.
type fileState struct {
	Size    int64 `msgpack:"s"`
	ModTime int64 `msgpack:"m"`
}

// fileAction is what the sink receives.
type fileAction struct {
	Kind string // "upsert" or "delete"
	Path string
	Size int64
}

// printSink prints batched actions. Comparable by value, so every file
// action of a pass lands in one batch.
type printSink struct {
	name string
}

func (s printSink) Apply(_ context.Context, actions []fileAction) error {
	fmt.Printf("[%s] applying %d actions\n", s.name, len(actions))
	for _, a := range actions {
		fmt.Printf("  %-6s %s (%d bytes)\n", a.Kind, a.Path, a.Size)
	}
	return nil
}

// fileReconciler converges the print target toward the declared files.
type fileReconciler struct{}

func (fileReconciler) Reconcile(
	key fileKey, desired *fileDecl, prevStates []fileState, prevMayBeMissing bool,
) (*reef.ReconcileOutput[fileState, fileAction, printSink], error) {
	sink := printSink{name: "files"}
	if desired == nil {
		// No longer declared: converge to absent.
		return &reef.ReconcileOutput[fileState, fileAction, printSink]{
			Action: fileAction{Kind: "delete", Path: key.Path},
			Sink:   sink,
		}, nil
	}
	for _, prev := range prevStates {
		if prev.Size == desired.Size && prev.ModTime == desired.ModTime {
			return nil, nil // already converged
		}
	}
	return &reef.ReconcileOutput[fileState, fileAction, printSink]{
		State:  fileState{Size: desired.Size, ModTime: desired.ModTime},
		Action: fileAction{Kind: "upsert", Path: key.Path, Size: desired.Size},
		Sink:   sink,
	}, nil
}

func run() error {
	dir := "."
	if len(os.Args) > 1 {
		dir = os.Args[1]
	}

	logger, err := zap.NewDevelopment()
	if err != nil {
		return err
	}
	defer logger.Sync()

	env, err := reef.NewEnvironment(reef.Settings{
		Dir: filepath.Join(os.TempDir(), "reef-quickstart"),
	}, reef.WithLogger(logger))
	if err != nil {
		return err
	}
	defer env.Close()

	provider, err := reef.NewProvider[fileKey, fileDecl, fileState, fileAction, printSink](
		env, "files", fileReconciler{})
	if err != nil {
		return err
	}

	app, err := reef.NewApp("quickstart", env, func(c *reef.Ctx) error {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return err
		}
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			info, err := entry.Info()
			if err != nil {
				return err
			}
			_, err = reef.Declare(c, provider,
				fileKey{Path: entry.Name()},
				fileDecl{Size: info.Size(), ModTime: info.ModTime().Unix()})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	defer app.Close()

	return app.Update(context.Background())
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
