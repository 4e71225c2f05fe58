package telemetry

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const maxErrorMessageBytes = 512

var (
	sensitiveInlinePattern = regexp.MustCompile(`(?i)(pat|token|password|secret|authorization)\s*[:=]\s*([^\s,;]+)`)
	authHeaderPattern      = regexp.MustCompile(`(?i)\b(basic|bearer)\s+[a-z0-9._\-+/=]+`)
)

// RunRequest describes one export run.
type RunRequest struct {
	Source       string
	Organization string
	Project      string
	Query        string
	RunID        string
}

// Run tracks one export.run span lifecycle.
type Run struct {
	span      trace.Span
	startedAt time.Time

	mu       sync.Mutex
	warnings int
	ended    bool
}

type runContextKey struct{}

// StartRun starts an export.run span and returns a context carrying the tracker.
func StartRun(ctx context.Context, req RunRequest) (context.Context, *Run) {
	if ctx == nil {
		ctx = context.Background()
	}

	attrs := []attribute.KeyValue{
		attribute.String("source", normalizeOrUnknown(req.Source)),
		attribute.String("organization", normalizeOrUnknown(req.Organization)),
		attribute.String("project", normalizeOrUnknown(req.Project)),
	}
	if query := strings.TrimSpace(req.Query); query != "" {
		attrs = append(attrs, attribute.String("query_hash", hashQuery(query)))
	}
	if runID := strings.TrimSpace(req.RunID); runID != "" {
		attrs = append(attrs, attribute.String("run_id", runID))
	}

	spanCtx, span := otel.Tracer("adompp/telemetry/run").Start(
		ctx,
		"export.run",
		trace.WithAttributes(attrs...),
	)

	run := &Run{
		span:      span,
		startedAt: time.Now(),
	}
	return context.WithValue(spanCtx, runContextKey{}, run), run
}

// RunFromContext returns the run tracker if one exists on the context.
func RunFromContext(ctx context.Context) *Run {
	if ctx == nil {
		return nil
	}
	run, ok := ctx.Value(runContextKey{}).(*Run)
	if !ok {
		return nil
	}
	return run
}

// RecordFetch adds a fetch event to the run span.
func (r *Run) RecordFetch(stage string, requested, received int, duration time.Duration) {
	if r == nil || r.span == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ended {
		return
	}

	durationMS := duration.Milliseconds()
	if durationMS < 0 {
		durationMS = 0
	}
	r.span.AddEvent(
		"export.fetch",
		trace.WithAttributes(
			attribute.String("stage", normalizeOrUnknown(stage)),
			attribute.Int("requested", requested),
			attribute.Int("received", received),
			attribute.Int64("duration_ms", durationMS),
		),
	)
}

// RecordWarning adds a redacted warning event to the run span.
func (r *Run) RecordWarning(message string) {
	if r == nil || r.span == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ended {
		return
	}
	r.warnings++
	r.span.AddEvent(
		"export.warning",
		trace.WithAttributes(attribute.String("message", redactSecrets(message))),
	)
}

// End finalizes the export.run span with latency, item and warning counts.
func (r *Run) End(items int, err error) {
	if r == nil || r.span == nil {
		return
	}

	r.mu.Lock()
	if r.ended {
		r.mu.Unlock()
		return
	}
	r.ended = true
	warnings := r.warnings
	r.mu.Unlock()

	durationMS := time.Since(r.startedAt).Milliseconds()
	if durationMS < 0 {
		durationMS = 0
	}
	r.span.SetAttributes(
		attribute.Int64("latency_ms", durationMS),
		attribute.Int("items", items),
		attribute.Int("warnings", warnings),
	)

	if err != nil {
		message := redactSecrets(err.Error())
		r.span.AddEvent("exception", trace.WithAttributes(attribute.String("exception.message", message)))
		r.span.SetStatus(codes.Error, message)
	} else {
		r.span.SetStatus(codes.Ok, "export completed")
	}
	r.span.End()
}

func hashQuery(query string) string {
	sum := sha256.Sum256([]byte(redactSecrets(query)))
	return hex.EncodeToString(sum[:])
}

func redactSecrets(input string) string {
	redacted := strings.TrimSpace(input)
	if redacted == "" {
		return ""
	}
	redacted = sensitiveInlinePattern.ReplaceAllString(redacted, "$1=<redacted>")
	redacted = authHeaderPattern.ReplaceAllString(redacted, "$1 <redacted>")
	if len(redacted) > maxErrorMessageBytes {
		return redacted[:maxErrorMessageBytes-len("...[truncated]")] + "...[truncated]"
	}
	return redacted
}

func normalizeOrUnknown(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}
