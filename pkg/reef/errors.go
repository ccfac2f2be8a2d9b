package reef

import (
	"errors"
	"fmt"

	"github.com/newbpydev/reef/pkg/reef/path"
)

// Engine error kinds. The client, invariant and storage errors the engine
// raises wrap one of these sentinels, so callers can classify them with
// errors.Is:
//
//   - ErrClient: the caller misused the API; fatal to the current operation.
//   - ErrInvariant: an engine bug surfaced; logged at error level by
//     App.Update and bubbled untouched.
//   - ErrStorage: the underlying store failed; the pass aborts before any
//     sink receives actions.
//
// Errors from user code and context cancellation are returned untouched,
// as are key-conversion and encoding errors from the path and fingerprint
// packages; ErrGuardResolved and ErrAborted are returned on their own.
var (
	ErrClient    = errors.New("client error")
	ErrInvariant = errors.New("engine invariant violated")
	ErrStorage   = errors.New("storage error")

	// ErrAppNameTaken is returned when registering an app name that is
	// already live in the environment.
	ErrAppNameTaken = errors.New("app name already registered")

	// ErrDuplicateChild is returned when two siblings are spawned with the
	// same stable key.
	ErrDuplicateChild = errors.New("duplicate child key")

	// ErrDuplicateEffect is returned when the same EffectPath is declared
	// twice within one build pass.
	ErrDuplicateEffect = errors.New("duplicate effect path")

	// ErrGuardResolved is returned when a memo guard is resolved more than
	// once.
	ErrGuardResolved = errors.New("memo guard already resolved")
)

// AppNameError reports an app-name collision.
type AppNameError struct {
	Name string
}

func (e *AppNameError) Error() string {
	return fmt.Sprintf("app name %q already registered in this environment", e.Name)
}

func (e *AppNameError) Unwrap() []error { return []error{ErrClient, ErrAppNameTaken} }

// DuplicateChildError reports a stable-key collision among siblings.
type DuplicateChildError struct {
	Parent path.StablePath
	Key    path.StableKey
}

func (e *DuplicateChildError) Error() string {
	return fmt.Sprintf("component %s already has a child with key %s", e.Parent, e.Key)
}

func (e *DuplicateChildError) Unwrap() []error { return []error{ErrClient, ErrDuplicateChild} }

// DuplicateEffectError reports two declarations landing on one EffectPath.
type DuplicateEffectError struct {
	Path path.EffectPath
}

func (e *DuplicateEffectError) Error() string {
	return fmt.Sprintf("effect already declared at %s", e.Path)
}

func (e *DuplicateEffectError) Unwrap() []error { return []error{ErrClient, ErrDuplicateEffect} }

// InvariantError carries the message of a violated engine invariant.
type InvariantError struct {
	Msg string
}

func (e *InvariantError) Error() string { return e.Msg }

func (e *InvariantError) Unwrap() error { return ErrInvariant }

func invariantf(format string, args ...any) error {
	return &InvariantError{Msg: fmt.Sprintf(format, args...)}
}

func storageErr(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrStorage, err)
}
