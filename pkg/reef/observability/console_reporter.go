package observability

import (
	"fmt"

	"go.uber.org/zap"
)

// consoleTrailLen bounds how many recent breadcrumbs a console report
// includes; the full buffer is for backends like Sentry, a log line only
// needs the tail.
const consoleTrailLen = 5

// ConsoleReporter logs reported errors through a zap logger. It's designed
// for development and for deployments that already aggregate structured
// logs, providing immediate feedback without an external service.
//
// Thread-safe: zap loggers are safe for concurrent use.
type ConsoleReporter struct {
	logger *zap.Logger
}

// NewConsoleReporter creates a console reporter writing to the given
// logger. A nil logger falls back to zap.NewNop().
//
// Example:
//
//	logger, _ := zap.NewDevelopment()
//	observability.SetErrorReporter(observability.NewConsoleReporter(logger))
func NewConsoleReporter(logger *zap.Logger) *ConsoleReporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConsoleReporter{logger: logger}
}

// ReportError logs the error at error level with its structured context
// and the tail of the recorded breadcrumb trail.
func (r *ConsoleReporter) ReportError(err error, ctx *ErrorContext) {
	fields := []zap.Field{zap.Error(err)}
	if trail := GetBreadcrumbs(); len(trail) > 0 {
		if len(trail) > consoleTrailLen {
			trail = trail[len(trail)-consoleTrailLen:]
		}
		rendered := make([]string, len(trail))
		for i, bc := range trail {
			rendered[i] = fmt.Sprintf("[%s] %s", bc.Category, bc.Message)
		}
		fields = append(fields, zap.Strings("breadcrumbs", rendered))
	}
	if ctx != nil {
		if ctx.App != "" {
			fields = append(fields, zap.String("app", ctx.App))
		}
		if ctx.Operation != "" {
			fields = append(fields, zap.String("operation", ctx.Operation))
		}
		if !ctx.StatePath.IsRoot() {
			fields = append(fields, zap.Stringer("state_path", ctx.StatePath))
		}
		if !ctx.EffectPath.IsEmpty() {
			fields = append(fields, zap.Stringer("effect_path", ctx.EffectPath))
		}
		for k, v := range ctx.Extra {
			fields = append(fields, zap.Any(k, v))
		}
	}
	r.logger.Error("engine error", fields...)
}
