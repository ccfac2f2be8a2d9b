package observability

import (
	"time"

	"github.com/getsentry/sentry-go"
)

// SentryReporter sends reported errors to Sentry. It's designed for
// production use, providing centralized error tracking with tags derived
// from the engine's error context.
//
// Thread-safe: the reporter clones a Sentry hub per report.
//
// Example usage:
//
//	reporter, err := observability.NewSentryReporter(os.Getenv("SENTRY_DSN"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	observability.SetErrorReporter(reporter)
//	defer reporter.Flush(5 * time.Second)
type SentryReporter struct {
	hub *sentry.Hub
}

// SentryOption customizes the Sentry client options during initialization.
type SentryOption func(*sentry.ClientOptions)

// WithDebug enables Sentry SDK debug output.
func WithDebug(debug bool) SentryOption {
	return func(o *sentry.ClientOptions) { o.Debug = debug }
}

// WithEnvironment sets the Sentry environment tag (e.g. "staging").
func WithEnvironment(env string) SentryOption {
	return func(o *sentry.ClientOptions) { o.Environment = env }
}

// NewSentryReporter creates a Sentry-backed reporter for the given DSN.
func NewSentryReporter(dsn string, opts ...SentryOption) (*SentryReporter, error) {
	clientOpts := sentry.ClientOptions{Dsn: dsn}
	for _, opt := range opts {
		opt(&clientOpts)
	}
	client, err := sentry.NewClient(clientOpts)
	if err != nil {
		return nil, err
	}
	hub := sentry.NewHub(client, sentry.NewScope())
	return &SentryReporter{hub: hub}, nil
}

// ReportError captures the error with tags from the context and the
// recorded breadcrumb trail attached.
func (r *SentryReporter) ReportError(err error, ctx *ErrorContext) {
	hub := r.hub.Clone()
	hub.WithScope(func(scope *sentry.Scope) {
		for _, bc := range GetBreadcrumbs() {
			scope.AddBreadcrumb(&sentry.Breadcrumb{
				Type:      bc.Type,
				Category:  bc.Category,
				Message:   bc.Message,
				Level:     sentry.LevelInfo,
				Timestamp: bc.Timestamp,
				Data:      bc.Data,
			}, MaxBreadcrumbs)
		}
		if ctx != nil {
			if ctx.App != "" {
				scope.SetTag("app", ctx.App)
			}
			if ctx.Operation != "" {
				scope.SetTag("operation", ctx.Operation)
			}
			if !ctx.StatePath.IsRoot() {
				scope.SetTag("state_path", ctx.StatePath.String())
			}
			if !ctx.EffectPath.IsEmpty() {
				scope.SetTag("effect_path", ctx.EffectPath.String())
			}
			if len(ctx.Extra) > 0 {
				scope.SetContext("engine", ctx.Extra)
			}
		}
		hub.CaptureException(err)
	})
}

// Flush waits for buffered events to be delivered, up to the timeout.
// Call before process exit.
func (r *SentryReporter) Flush(timeout time.Duration) bool {
	return r.hub.Flush(timeout)
}
