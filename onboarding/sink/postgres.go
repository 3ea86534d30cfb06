package sink

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/m3rciful/onboardbot/core/logger"
)

const insertRecordSQL = `
INSERT INTO onboarding_records (record_id, user_id, employee_code, fields, submitted_at)
VALUES (:record_id, :user_id, :employee_code, :fields, :submitted_at)
ON CONFLICT (record_id) DO NOTHING`

// namedExecer is the subset of *sqlx.DB used by Postgres.
type namedExecer interface {
	NamedExecContext(ctx context.Context, query string, arg interface{}) (sql.Result, error)
}

type recordRow struct {
	RecordID     string    `db:"record_id"`
	UserID       int64     `db:"user_id"`
	EmployeeCode string    `db:"employee_code"`
	Fields       []byte    `db:"fields"`
	SubmittedAt  time.Time `db:"submitted_at"`
}

// Postgres stores records in onboarding_records. Retried appends of the same
// record ID are absorbed by the primary key.
type Postgres struct {
	db namedExecer
}

// NewPostgres wraps an open database handle, normally a *sqlx.DB.
func NewPostgres(db namedExecer) *Postgres {
	return &Postgres{db: db}
}

func (p *Postgres) Name() string { return "postgres" }

func (p *Postgres) Append(ctx context.Context, rec Record) error {
	row, err := toRow(rec)
	if err != nil {
		return err
	}
	res, err := p.db.NamedExecContext(ctx, insertRecordSQL, row)
	if err != nil {
		return fmt.Errorf("postgres: insert record: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		logger.Sink.Info("record already stored",
			slog.String("event", "sink.postgres.append"),
			slog.String("status", "skip"),
			slog.String("record_id", rec.ID),
		)
	}
	return nil
}

func toRow(rec Record) (recordRow, error) {
	if rec.ID == "" {
		return recordRow{}, fmt.Errorf("postgres: record id is required")
	}
	fields, err := json.Marshal(rec.Map())
	if err != nil {
		return recordRow{}, fmt.Errorf("postgres: encode fields: %w", err)
	}
	return recordRow{
		RecordID:     rec.ID,
		UserID:       rec.UserID,
		EmployeeCode: rec.EmployeeCode,
		Fields:       fields,
		SubmittedAt:  rec.SubmittedAt.UTC(),
	}, nil
}
