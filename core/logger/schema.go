package logger

import "strings"

var levelNames = map[string]string{
	"debug":   "DEBUG",
	"info":    "INFO",
	"warn":    "WARN",
	"warning": "WARN",
	"error":   "ERROR",
}

// knownStatus lists the status values dashboards filter on.
var knownStatus = map[string]bool{
	"ok":           true,
	"fail":         true,
	"skip":         true,
	"retry":        true,
	"rate_limited": true,
	"cancelled":    true,
	"expired":      true,
	"pending":      true,
	"mismatch":     true,
}

// sensitiveKeys hold user-supplied answers and are masked before output.
var sensitiveKeys = map[string]bool{
	"answer": true,
	"phone":  true,
	"email":  true,
}

func levelName(level string) string {
	if name, ok := levelNames[strings.ToLower(level)]; ok {
		return name
	}
	return strings.ToUpper(level)
}

func statusName(status string) string {
	status = strings.ToLower(strings.TrimSpace(status))
	if knownStatus[status] {
		return status
	}
	if status == "error" || status == "failed" {
		return "fail"
	}
	return status
}

var defaultKeyOrder = []string{
	"ts", "level", "component", "event", "status",
	"rid", "rid_full", "ts_unix_nano",
	"update_id", "user_id", "chat_id", "handler",
	"step", "field", "answer", "record_id", "sink",
	"duration_ms", "count", "payload", "username",
	"mode", "listen", "public_url", "spreadsheet_id", "db", "host", "port",
	"err", "err_kind", "cause", "attempt", "attempts", "backoff_ms",
}
