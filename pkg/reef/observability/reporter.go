// Package observability provides pluggable error reporting for the reef
// engine.
//
// The engine reports sink delivery failures, and orphaned effects whose
// provider is not registered, through a process-wide ErrorReporter. If no
// reporter is configured, reporting is a nil check and nothing else.
package observability

import (
	"sync"
	"time"

	"github.com/newbpydev/reef/pkg/reef/path"
)

// ErrorContext carries structured context about where an engine error
// occurred. All fields are optional.
type ErrorContext struct {
	// App is the app whose build pass observed the error.
	App string
	// StatePath is the component the error is attributed to.
	StatePath path.StablePath
	// EffectPath is the effect the error is attributed to, if any.
	EffectPath path.EffectPath
	// Operation names the engine operation ("reconcile", "sink.apply",
	// "memo.resolve", ...).
	Operation string
	// Timestamp is when the error was observed.
	Timestamp time.Time
	// Extra holds free-form diagnostic values.
	Extra map[string]any
}

// ErrorReporter is a pluggable interface for error tracking backends.
// Implementations can send errors to services like Sentry or simply log
// them.
//
// Thread-safe: all methods must be safe for concurrent use.
//
// Example usage:
//
//	// Development: console reporter
//	observability.SetErrorReporter(observability.NewConsoleReporter(logger))
//
//	// Production: Sentry reporter
//	reporter, err := observability.NewSentryReporter(os.Getenv("SENTRY_DSN"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	observability.SetErrorReporter(reporter)
//	defer reporter.Flush(5 * time.Second)
type ErrorReporter interface {
	// ReportError reports an error with its context.
	ReportError(err error, ctx *ErrorContext)
}

var (
	reporterMu    sync.RWMutex
	errorReporter ErrorReporter
)

// SetErrorReporter installs the process-wide reporter. Passing nil
// disables reporting.
func SetErrorReporter(r ErrorReporter) {
	reporterMu.Lock()
	defer reporterMu.Unlock()
	errorReporter = r
}

// GetErrorReporter returns the current reporter, or nil when reporting is
// disabled.
func GetErrorReporter() ErrorReporter {
	reporterMu.RLock()
	defer reporterMu.RUnlock()
	return errorReporter
}

// Report is the engine-side convenience entry point: it forwards to the
// configured reporter if there is one.
func Report(err error, ctx *ErrorContext) {
	if r := GetErrorReporter(); r != nil {
		if ctx != nil && ctx.Timestamp.IsZero() {
			ctx.Timestamp = time.Now()
		}
		r.ReportError(err, ctx)
	}
}
