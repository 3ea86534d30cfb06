package state

import (
	"context"
	"errors"
	"maps"
	"time"
)

// ErrSessionNotFound is returned by Update when no session exists for the user.
var ErrSessionNotFound = errors.New("state: session not found")

// Session stores the progress of one user through a questionnaire.
// Step indexes the next unanswered question; Step == script length means the
// answers are complete and waiting for the sink.
type Session struct {
	UserID int64             `json:"user_id"`
	ChatID int64             `json:"chat_id"`
	Step   int               `json:"step"`
	Fields map[string]string `json:"fields"`

	// RecordID is the idempotency key assigned when the session completes.
	RecordID      string    `json:"record_id,omitempty"`
	CompletedAt   time.Time `json:"completed_at,omitempty"`
	FlushAttempts int       `json:"flush_attempts,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// New returns an empty session at step 0.
func New(userID int64, now time.Time) *Session {
	return &Session{
		UserID:    userID,
		ChatID:    userID,
		Fields:    make(map[string]string),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Clone returns a deep copy so callers never share the stored field map.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.Fields = maps.Clone(s.Fields)
	if c.Fields == nil {
		c.Fields = make(map[string]string)
	}
	return &c
}

// Fresh reports whether nothing has been answered yet.
func (s *Session) Fresh() bool {
	return s.Step == 0 && len(s.Fields) == 0
}

// Store persists sessions keyed by Telegram user ID.
// Implementations return copies; changes are saved through Update.
type Store interface {
	// GetOrCreate returns the user's session, creating one at step 0 if absent.
	GetOrCreate(ctx context.Context, userID int64) (*Session, bool, error)
	// Get returns the user's session if present.
	Get(ctx context.Context, userID int64) (*Session, bool, error)
	// Update replaces an existing session.
	Update(ctx context.Context, s *Session) error
	// Remove deletes the session; unknown users are ignored.
	Remove(ctx context.Context, userID int64) error
	// List returns a snapshot of all sessions.
	List(ctx context.Context) ([]*Session, error)
}
