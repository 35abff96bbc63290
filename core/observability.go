package core

import (
	"context"
	"sort"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

// observeOperation logs and meters one service operation. Fields are redacted
// before they reach the logger; only low-cardinality keys become metric tags.
func (s *Service) observeOperation(
	ctx context.Context,
	startedAt time.Time,
	operation string,
	err error,
	fields map[string]any,
) {
	if s == nil {
		return
	}
	operation = normalizeOperation(operation)
	if operation == "" {
		operation = "unknown"
	}
	status := "success"
	if err != nil {
		status = "failure"
	}
	elapsed := s.now().Sub(startedAt)

	contextFields := cloneFields(fields)
	contextFields["event_type"] = operation
	contextFields["status"] = status
	contextFields["duration_ms"] = elapsed.Milliseconds()
	if err != nil {
		contextFields["error"] = err.Error()
		enrichErrorFields(contextFields, err)
	}

	tags := map[string]string{
		"operation": operation,
		"status":    status,
	}
	if kind, ok := contextFields["service_kind"].(string); ok && strings.TrimSpace(kind) != "" {
		tags["service_kind"] = strings.TrimSpace(kind)
	}
	if code, ok := contextFields["error_text_code"].(string); ok && code != "" {
		tags["error_text_code"] = code
	}

	s.recordCounter(ctx, "credentials."+operation+".total", 1, tags)
	s.recordHistogram(ctx, "credentials."+operation+".duration_ms", float64(elapsed.Milliseconds()), tags)

	if err != nil {
		s.logError(ctx, operation+" failed", contextFields)
		return
	}
	s.logInfo(ctx, operation+" succeeded", contextFields)
}

// observeRefresh reports a single provider refresh attempt made by the guard.
func (s *Service) observeRefresh(ctx context.Context, workspaceID string, kind ServiceKind, startedAt time.Time, err error) {
	if s == nil {
		return
	}
	outcome := "refreshed"
	switch {
	case err == nil:
	case isRevokedGrantError(err):
		outcome = "revoked"
	default:
		outcome = "transient"
	}
	tags := map[string]string{"service_kind": kind.String(), "outcome": outcome}
	s.recordCounter(ctx, MetricRefreshTotal, 1, tags)
	s.recordHistogram(ctx, MetricRefreshDurationMS, float64(s.now().Sub(startedAt).Milliseconds()), tags)

	fields := map[string]any{
		"workspace_id": workspaceID,
		"service_kind": kind.String(),
		"outcome":      outcome,
	}
	switch outcome {
	case "refreshed":
		s.logInfo(ctx, "credential refreshed", fields)
	case "revoked":
		s.logWarn(ctx, "credential revoked by provider, link removed", fields)
	default:
		fields["error"] = err.Error()
		enrichErrorFields(fields, err)
		s.logWarn(ctx, "credential refresh failed", fields)
	}
}

func enrichErrorFields(fields map[string]any, err error) {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		return
	}
	fields["error_category"] = richErr.Category.String()
	if richErr.TextCode != "" {
		fields["error_text_code"] = richErr.TextCode
	}
	if richErr.Code != 0 {
		fields["error_code"] = richErr.Code
	}
	fields["error_severity"] = richErr.Severity.String()
	if len(richErr.Metadata) == 0 {
		return
	}
	for _, key := range []string{"request_id", "trace_id"} {
		if value, ok := richErr.Metadata[key]; ok {
			fields[key] = value
		}
	}
	fields["error_metadata"] = RedactSensitiveMap(richErr.Metadata)
}

func (s *Service) logInfo(ctx context.Context, message string, fields map[string]any) {
	s.logWithLevel(ctx, "info", message, fields)
}

func (s *Service) logWarn(ctx context.Context, message string, fields map[string]any) {
	s.logWithLevel(ctx, "warn", message, fields)
}

func (s *Service) logError(ctx context.Context, message string, fields map[string]any) {
	s.logWithLevel(ctx, "error", message, fields)
}

func (s *Service) logWithLevel(ctx context.Context, level string, message string, fields map[string]any) {
	if s == nil || s.logger == nil {
		return
	}
	fields = RedactSensitiveMap(fields)
	logger := s.logger
	if ctx != nil {
		logger = logger.WithContext(ctx)
	}
	if fieldsLogger, ok := logger.(FieldsLogger); ok {
		logger = fieldsLogger.WithFields(cloneFields(fields))
	}
	args := flattenFields(fields)
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "error":
		logger.Error(message, args...)
	case "warn":
		logger.Warn(message, args...)
	default:
		logger.Info(message, args...)
	}
}

func (s *Service) recordCounter(ctx context.Context, name string, value int64, tags map[string]string) {
	if s == nil || s.metricsRecorder == nil {
		return
	}
	s.metricsRecorder.IncCounter(ctx, strings.TrimSpace(name), value, cloneTags(tags))
}

func (s *Service) recordHistogram(ctx context.Context, name string, value float64, tags map[string]string) {
	if s == nil || s.metricsRecorder == nil {
		return
	}
	s.metricsRecorder.ObserveHistogram(ctx, strings.TrimSpace(name), value, cloneTags(tags))
}

func cloneFields(fields map[string]any) map[string]any {
	if len(fields) == 0 {
		return map[string]any{}
	}
	copied := make(map[string]any, len(fields))
	for key, value := range fields {
		copied[key] = value
	}
	return copied
}

func flattenFields(fields map[string]any) []any {
	if len(fields) == 0 {
		return nil
	}
	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	args := make([]any, 0, len(keys)*2)
	for _, key := range keys {
		args = append(args, key, fields[key])
	}
	return args
}

func normalizeOperation(operation string) string {
	operation = strings.TrimSpace(strings.ToLower(operation))
	operation = strings.ReplaceAll(operation, " ", "_")
	operation = strings.ReplaceAll(operation, "-", "_")
	return operation
}
