package logging

import (
	"log/slog"
	"strings"
)

// RedactedValue replaces sensitive values in log lines.
const RedactedValue = "[REDACTED]"

var sensitiveKeys = map[string]struct{}{
	"token":         {},
	"authorization": {},
	"secret":        {},
	"hmac_secret":   {},
	"password":      {},
}

// IsSensitive reports whether values logged under key must be masked. Keys
// ending in _token or _secret count as sensitive too.
func IsSensitive(key string) bool {
	normalized := strings.ToLower(strings.TrimSpace(key))
	if _, ok := sensitiveKeys[normalized]; ok {
		return true
	}
	return strings.HasSuffix(normalized, "_token") || strings.HasSuffix(normalized, "_secret")
}

// MaskValue returns the placeholder for non-empty values.
func MaskValue(value string) string {
	if strings.TrimSpace(value) == "" {
		return value
	}
	return RedactedValue
}

// MaskField builds an attribute that is always masked regardless of key.
func MaskField(key, value string) slog.Attr {
	return slog.String(key, MaskValue(value))
}

func redactAttr(attr slog.Attr) slog.Attr {
	if !IsSensitive(attr.Key) || attr.Value.Kind() == slog.KindGroup {
		return attr
	}
	return slog.String(attr.Key, MaskValue(attr.Value.String()))
}
