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

const tracerName = "tasklist-api"

// listRequestMetrics collects stage timings for the task-list endpoint and
// emits them both as a trace span and as a structured log line.
type listRequestMetrics struct {
	logger         *log.Logger
	span           trace.Span
	start          time.Time
	authDuration   time.Duration
	fetchDuration  time.Duration
	encodeDuration time.Duration
	sortField      string
	sortDir        string
	tasksReturned  int
	errorStage     string
}

func newListRequestMetrics(ctx context.Context, logger *log.Logger) (*listRequestMetrics, context.Context) {
	spanCtx, span := otel.Tracer(tracerName).Start(ctx, "tasks.list")
	m := &listRequestMetrics{
		logger: logger,
		span:   span,
		start:  time.Now(),
	}
	return m, spanCtx
}

func (m *listRequestMetrics) ObserveAuth(duration time.Duration) {
	if duration <= 0 {
		return
	}
	m.authDuration = duration
}

func (m *listRequestMetrics) ObserveFetch(duration time.Duration) {
	if duration <= 0 {
		return
	}
	m.fetchDuration = duration
}

func (m *listRequestMetrics) ObserveEncode(duration time.Duration) {
	if duration <= 0 {
		return
	}
	m.encodeDuration = duration
}

func (m *listRequestMetrics) SetSort(field, dir string) {
	m.sortField = field
	m.sortDir = dir
}

func (m *listRequestMetrics) SetTasksReturned(count int) {
	if count < 0 {
		count = 0
	}
	m.tasksReturned = count
}

func (m *listRequestMetrics) SetErrorStage(stage string) {
	if stage == "" {
		return
	}
	m.errorStage = stage
}

func (m *listRequestMetrics) Log(status int, err error) {
	if m == nil {
		return
	}

	if m.span != nil {
		m.span.SetAttributes(
			attribute.Int("http.status_code", status),
			attribute.Int("tasks.returned", m.tasksReturned),
			attribute.String("tasks.sort_field", m.sortField),
			attribute.String("tasks.sort_dir", m.sortDir),
		)
		if err != nil {
			m.span.RecordError(err)
			m.span.SetStatus(codes.Error, err.Error())
		}
		m.span.End()
	}

	if m.logger == nil {
		return
	}

	fields := log.Fields{
		"route":          "/api/tasks",
		"status":         status,
		"total_ms":       durationToMillis(time.Since(m.start)),
		"sort_field":     m.sortField,
		"sort_dir":       m.sortDir,
		"tasks_returned": m.tasksReturned,
	}

	if m.authDuration > 0 {
		fields["auth_ms"] = durationToMillis(m.authDuration)
	}
	if m.fetchDuration > 0 {
		fields["fetch_ms"] = durationToMillis(m.fetchDuration)
	}
	if m.encodeDuration > 0 {
		fields["encode_ms"] = durationToMillis(m.encodeDuration)
	}
	if m.errorStage != "" {
		fields["error_stage"] = m.errorStage
	}
	if err != nil {
		fields["error"] = err.Error()
	}

	m.logger.WithFields(fields).Info("tasks.request.metrics")
}
