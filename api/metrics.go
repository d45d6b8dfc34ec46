package api

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	moveRoute       = "/api/tasks/:taskId/status"
	moveSpanName    = "flowboard.move_task"
	moveEventName   = "move_task.request"
	moveEventDomain = "flowboard"
)

// moveRequestMetrics captures timing and outcome of a single move request and
// emits one span plus one structured log event when the request finishes. The
// move path is the hot one: it is where AI runs get armed, so it carries the
// richest telemetry.
type moveRequestMetrics struct {
	logger         *log.Logger
	span           trace.Span
	start          time.Time
	authDuration   time.Duration
	moveDuration   time.Duration
	encodeDuration time.Duration
	armed          bool
	duplicate      bool
	errorStage     string
}

// newMoveRequestMetrics starts the request span. The returned context carries
// it and must replace the request context for downstream propagation.
func newMoveRequestMetrics(ctx context.Context, logger *log.Logger) (*moveRequestMetrics, context.Context) {
	tracer := otel.Tracer("flowboard-api/api")
	spanCtx, span := tracer.Start(ctx, moveSpanName, trace.WithSpanKind(trace.SpanKindServer))
	return &moveRequestMetrics{
		logger: logger,
		span:   span,
		start:  time.Now(),
	}, spanCtx
}

func (m *moveRequestMetrics) ObserveAuth(d time.Duration) {
	if d > 0 {
		m.authDuration = d
	}
}

func (m *moveRequestMetrics) ObserveMove(d time.Duration) {
	if d > 0 {
		m.moveDuration = d
	}
}

func (m *moveRequestMetrics) ObserveEncode(d time.Duration) {
	if d > 0 {
		m.encodeDuration = d
	}
}

func (m *moveRequestMetrics) SetArmed(armed bool) {
	m.armed = armed
}

func (m *moveRequestMetrics) SetDuplicate(dup bool) {
	m.duplicate = dup
}

func (m *moveRequestMetrics) SetErrorStage(stage string) {
	if stage != "" {
		m.errorStage = stage
	}
}

// Log ends the span and writes the observability event.
func (m *moveRequestMetrics) Log(status int, err error) {
	if m == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("http.route", moveRoute),
		attribute.Int("http.status_code", status),
		attribute.Float64("flowboard.move.total_ms", durationToMillis(time.Since(m.start))),
		attribute.Bool("flowboard.move.armed", m.armed),
		attribute.Bool("flowboard.move.duplicate", m.duplicate),
	}
	if m.authDuration > 0 {
		attrs = append(attrs, attribute.Float64("flowboard.move.auth_ms", durationToMillis(m.authDuration)))
	}
	if m.moveDuration > 0 {
		attrs = append(attrs, attribute.Float64("flowboard.move.move_ms", durationToMillis(m.moveDuration)))
	}
	if m.encodeDuration > 0 {
		attrs = append(attrs, attribute.Float64("flowboard.move.encode_ms", durationToMillis(m.encodeDuration)))
	}
	if m.errorStage != "" {
		attrs = append(attrs, attribute.String("flowboard.move.error_stage", m.errorStage))
	}

	severityText, severityNumber := severityForStatus(status, err)
	eventAttrs := append([]attribute.KeyValue{
		attribute.String("event.name", moveEventName),
		attribute.String("event.domain", moveEventDomain),
		attribute.String("severity_text", severityText),
	}, attrs...)
	if err != nil {
		eventAttrs = append(eventAttrs, attribute.String("error.message", err.Error()))
	}

	if m.span != nil {
		m.span.SetAttributes(attrs...)
		m.span.AddEvent("observability.event", trace.WithAttributes(eventAttrs...))
		if err != nil || status >= 500 {
			desc := "request failed"
			if err != nil {
				desc = err.Error()
			}
			m.span.SetStatus(codes.Error, desc)
		} else {
			m.span.SetStatus(codes.Ok, "")
		}
		m.span.End()
	}

	if m.logger == nil {
		return
	}
	fields := log.Fields{
		"event.name":      moveEventName,
		"event.domain":    moveEventDomain,
		"severity_text":   severityText,
		"severity_number": severityNumber,
		"attributes":      attributesAsMap(attrs),
	}
	if m.span != nil {
		if sc := m.span.SpanContext(); sc.HasTraceID() {
			fields["trace_id"] = sc.TraceID().String()
		}
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	m.logger.WithFields(fields).Info("observability.event")
}

func severityForStatus(status int, err error) (string, int) {
	switch {
	case err != nil || status >= 500:
		return "ERROR", 17
	case status >= 400:
		return "WARN", 13
	default:
		return "INFO", 9
	}
}

func attributesAsMap(attrs []attribute.KeyValue) map[string]any {
	out := make(map[string]any, len(attrs))
	for _, kv := range attrs {
		out[string(kv.Key)] = kv.Value.AsInterface()
	}
	return out
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}
