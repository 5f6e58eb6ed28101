package telemetry

import (
	"context"
	"os"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// OTELHook adds trace and span IDs to every log entry
type OTELHook struct{}

func (h OTELHook) Run(e *zerolog.Event, level zerolog.Level, msg string) {
	ctx := e.GetCtx()
	if ctx == nil {
		return
	}

	span := trace.SpanFromContext(ctx)
	if !span.SpanContext().IsValid() {
		return
	}

	e.Str("trace_id", span.SpanContext().TraceID().String())
	e.Str("span_id", span.SpanContext().SpanID().String())

	if level == zerolog.ErrorLevel {
		span.SetStatus(codes.Error, msg)
	}
}

// Logger wraps zerolog with OTEL integration
type Logger struct {
	zerolog.Logger
}

// NewLogger creates a new logger with OTEL hooks
func NewLogger(component string) *Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs

	logger := zerolog.New(os.Stdout).
		With().
		Timestamp().
		Str("component", component).
		Logger().
		Hook(OTELHook{})

	return &Logger{Logger: logger}
}

// WithContext returns a logger with context (for trace propagation)
func (l *Logger) WithContext(ctx context.Context) *zerolog.Logger {
	logger := l.Logger.With().Ctx(ctx).Logger()
	return &logger
}

// Convenience methods for pipeline events

// LogCheckFailure records a single check's failure. Check failures are
// contained and never abort sibling checks.
func (l *Logger) LogCheckFailure(ctx context.Context, checkName, resourceID string, err error) {
	l.WithContext(ctx).Error().
		Err(err).
		Str("check", checkName).
		Str("resource_id", resourceID).
		Msg("check execution failed")
}

// LogPublishFailure records a finding publication failure. Publication
// failures are logged, not retried.
func (l *Logger) LogPublishFailure(ctx context.Context, checkName, resourceID string, status int) {
	l.WithContext(ctx).Error().
		Str("check", checkName).
		Str("resource_id", resourceID).
		Int("http_status", status).
		Msg("finding publication failed")
}

// LogScopeFailure records a scope resolution failure for one
// environment; sibling environments proceed.
func (l *Logger) LogScopeFailure(ctx context.Context, environmentID, region string, err error) {
	l.WithContext(ctx).Error().
		Err(err).
		Str("environment_id", environmentID).
		Str("region", region).
		Msg("scope resolution failed, skipping environment")
}

// LogDispatch records one (environment, resource) dispatch.
func (l *Logger) LogDispatch(ctx context.Context, environmentID, resourceType, resourceID string, inScope bool) {
	l.WithContext(ctx).Debug().
		Str("environment_id", environmentID).
		Str("resource_type", resourceType).
		Str("resource_id", resourceID).
		Bool("in_scope", inScope).
		Msg("dispatching resource event")
}
