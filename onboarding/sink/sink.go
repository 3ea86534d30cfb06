// Package sink persists completed onboarding records.
package sink

import (
	"context"
	"time"
)

// TimestampLayout formats SubmittedAt for tabular sinks.
const TimestampLayout = "2006-01-02T15:04:05Z07:00"

// Value is one collected answer with its display column.
type Value struct {
	Key    string
	Column string
	Value  string
}

// Record is the payload handed to a Sink once a conversation completes.
// ID is stable across retries of the same completion.
type Record struct {
	ID           string
	UserID       int64
	EmployeeCode string
	Fields       []Value
	SubmittedAt  time.Time
}

// Map returns the answers keyed by field key.
func (r Record) Map() map[string]string {
	out := make(map[string]string, len(r.Fields))
	for _, v := range r.Fields {
		out[v.Key] = v.Value
	}
	return out
}

// Sink appends completed records to durable storage.
type Sink interface {
	Append(ctx context.Context, rec Record) error
	Name() string
}
