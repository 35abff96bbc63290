package core

import "strings"

const RedactedValue = "[REDACTED]"

// sensitiveFieldExact covers keys that are only secret as a whole word.
var sensitiveFieldExact = map[string]struct{}{
	"code":  {},
	"state": {},
}

var sensitiveFieldTokens = []string{
	"password",
	"secret",
	"token",
	"authorization",
	"api_key",
	"apikey",
	"private_key",
	"signing_key",
	"payload",
}

// RedactSensitiveMap replaces token material, authorization codes and state
// values with RedactedValue, recursing into nested maps and slices.
func RedactSensitiveMap(metadata map[string]any) map[string]any {
	if len(metadata) == 0 {
		return map[string]any{}
	}
	return redactSensitiveMap(metadata)
}

func redactSensitiveMap(source map[string]any) map[string]any {
	target := make(map[string]any, len(source))
	for key, value := range source {
		if shouldRedactKey(key) {
			target[key] = RedactedValue
			continue
		}
		target[key] = redactSensitiveValue(value)
	}
	return target
}

func redactSensitiveValue(value any) any {
	switch typed := value.(type) {
	case map[string]any:
		return redactSensitiveMap(typed)
	case []any:
		out := make([]any, len(typed))
		for i := range typed {
			out[i] = redactSensitiveValue(typed[i])
		}
		return out
	default:
		return value
	}
}

func shouldRedactKey(key string) bool {
	key = strings.ToLower(strings.TrimSpace(key))
	if key == "" || isTraceabilityKey(key) {
		return false
	}
	if _, ok := sensitiveFieldExact[key]; ok {
		return true
	}
	for _, token := range sensitiveFieldTokens {
		if strings.Contains(key, token) {
			return true
		}
	}
	return false
}

func isTraceabilityKey(key string) bool {
	switch key {
	case "workspace_id",
		"workspace",
		"display_name",
		"service_kind",
		"token_endpoint",
		"token_type",
		"client_id",
		"idempotency_key",
		"job_id",
		"trace_id",
		"request_id":
		return true
	default:
		return false
	}
}
