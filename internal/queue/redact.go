package queue

import (
	"fmt"
	"log/slog"
	"strings"
)

// Redacted replaces secret argument values once a job is final.
const Redacted = "[REDACTED]"

var secretMarkers = []string{"api_key", "apikey", "token", "password", "secret"}

// IsSecretKey reports whether an argument name looks like a credential.
func IsSecretKey(key string) bool {
	k := strings.ToLower(key)
	if strings.HasSuffix(k, "_key") {
		return true
	}
	for _, marker := range secretMarkers {
		if strings.Contains(k, marker) {
			return true
		}
	}
	return false
}

// RedactArguments returns a deep copy of args with secret values replaced.
func RedactArguments(args map[string]any) map[string]any {
	if args == nil {
		return nil
	}
	out := make(map[string]any, len(args))
	for k, v := range args {
		if IsSecretKey(k) {
			out[k] = Redacted
			continue
		}
		out[k] = redactValue(v)
	}
	return out
}

func redactValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return RedactArguments(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = redactValue(item)
		}
		return out
	default:
		return v
	}
}

// redact never fails the job: on error the stored arguments are cleared.
func (b *Bridge) redact(log *slog.Logger, args map[string]any) (out map[string]any) {
	defer func() {
		if r := recover(); r != nil {
			log.Warn("argument redaction failed, clearing stored arguments", "error", fmt.Sprint(r))
			out = map[string]any{}
		}
	}()
	return RedactArguments(args)
}
