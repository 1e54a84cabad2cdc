package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/aryan0dhankhar/storelink/internal/infrastructure/logger"
)

const redacted = "[REDACTED]"

// sensitiveKeys are substrings of map keys whose values never reach a log line
var sensitiveKeys = []string{"token", "secret", "code", "credential", "signed_payload", "password", "store_hash", "context"}

type Logger struct {
	logger *slog.Logger
}

func NewLogger(logger *slog.Logger) *Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Logger{logger: logger}
}

// LogEvent records one lifecycle transition. storeID and userID are internal
// identifiers; callers must never pass a store hash or access token.
func (al *Logger) LogEvent(ctx context.Context, event, storeID, userID, status, details string) {
	al.logger.Info("audit",
		slog.String("event", event),
		slog.String("store_id", storeID),
		slog.String("user_id", userID),
		slog.String("status", status),
		slog.String("details", details),
		slog.String("request_id", logger.RequestID(ctx)),
		slog.Time("timestamp", time.Now()),
	)
}

func (al *Logger) LogDenied(ctx context.Context, event, storeID, userID, reason string) {
	al.LogEvent(ctx, event, storeID, userID, "denied", reason)
}

func (al *Logger) LogFailure(ctx context.Context, event, reason string) {
	al.LogEvent(ctx, event, "", "", "failed", reason)
}

// Redact returns a deep copy of v with every value under a sensitive key
// replaced. Maps, slices and JSON-marshalable structs are walked.
func Redact(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			if isSensitive(k) {
				out[k] = redacted
				continue
			}
			out[k] = Redact(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = Redact(val)
		}
		return out
	case string, bool, float64, int, int64, nil, json.Number:
		return t
	default:
		raw, err := json.Marshal(t)
		if err != nil {
			return redacted
		}
		var generic any
		if err := json.Unmarshal(raw, &generic); err != nil {
			return redacted
		}
		return Redact(generic)
	}
}

// RedactJSON renders v as indented JSON after redaction
func RedactJSON(v any) string {
	out, err := json.MarshalIndent(Redact(v), "", "  ")
	if err != nil {
		return redacted
	}
	return string(out)
}

func isSensitive(key string) bool {
	k := strings.ToLower(key)
	for _, s := range sensitiveKeys {
		if strings.Contains(k, s) {
			return true
		}
	}
	return false
}
