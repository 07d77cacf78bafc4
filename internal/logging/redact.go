package logging

import (
	"log/slog"
	"net/url"
	"strings"
)

const redactedValue = "[REDACTED]"

var sensitiveKeys = map[string]struct{}{
	"authorization": {},
	"card_number":   {},
	"email":         {},
	"phone":         {},
	"payment_token": {},
}

var sensitiveFragments = []string{
	"secret",
	"token",
	"password",
}

// dsnKeys hold connection strings; only their password is masked.
var dsnKeys = map[string]struct{}{
	"dsn":          {},
	"database_url": {},
}

// redact is a slog ReplaceAttr hook. slog calls it for every non-group
// attribute, including those nested in groups and added through With.
func redact(_ []string, attr slog.Attr) slog.Attr {
	if attr.Value.Kind() == slog.KindGroup {
		return attr
	}
	key := strings.ToLower(attr.Key)
	if shouldRedactKey(key) {
		return slog.String(attr.Key, redactedValue)
	}
	if _, ok := dsnKeys[key]; ok && attr.Value.Kind() == slog.KindString {
		return slog.String(attr.Key, maskDSN(attr.Value.String()))
	}
	return attr
}

func shouldRedactKey(key string) bool {
	if key == "" {
		return false
	}
	lower := strings.ToLower(key)
	if _, ok := sensitiveKeys[lower]; ok {
		return true
	}
	for _, fragment := range sensitiveFragments {
		if strings.Contains(lower, fragment) {
			return true
		}
	}
	return false
}

func maskDSN(dsn string) string {
	if !strings.Contains(dsn, "://") {
		fields := strings.Fields(dsn)
		for i, field := range fields {
			if strings.HasPrefix(strings.ToLower(field), "password=") {
				fields[i] = "password=xxxxx"
			}
		}
		return strings.Join(fields, " ")
	}
	u, err := url.Parse(dsn)
	if err != nil || u.User == nil {
		return dsn
	}
	if _, ok := u.User.Password(); !ok {
		return dsn
	}
	u.User = url.UserPassword(u.User.Username(), "xxxxx")
	return u.String()
}
