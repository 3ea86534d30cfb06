package sink

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"github.com/m3rciful/onboardbot/core/logger"
)

const (
	employeeCodeColumn = "Employee Code"
	timestampColumn    = "Timestamp"
)

// SheetsConfig selects the target spreadsheet.
type SheetsConfig struct {
	SpreadsheetID   string
	SheetName       string
	CredentialsJSON string
}

// Sheets appends one row per record to a Google spreadsheet.
type Sheets struct {
	svc           *sheets.Service
	spreadsheetID string
	sheet         string

	headerMu    sync.Mutex
	headerReady bool
}

// NewSheets authenticates with service account credentials. Extra options
// are appended last so tests can point the client at a fake endpoint.
func NewSheets(ctx context.Context, cfg SheetsConfig, opts ...option.ClientOption) (*Sheets, error) {
	base := []option.ClientOption{option.WithScopes(sheets.SpreadsheetsScope)}
	if cfg.CredentialsJSON != "" {
		base = append(base, option.WithCredentialsJSON([]byte(cfg.CredentialsJSON)))
	}
	svc, err := sheets.NewService(ctx, append(base, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("sheets: new service: %w", err)
	}
	name := cfg.SheetName
	if name == "" {
		name = "Sheet1"
	}
	return &Sheets{svc: svc, spreadsheetID: cfg.SpreadsheetID, sheet: name}, nil
}

func (s *Sheets) Name() string { return "sheets" }

// Append writes [Employee Code, answers..., Timestamp] with USER_ENTERED
// semantics so the sheet parses the timestamp. Answers are forced to text
// by Row.
func (s *Sheets) Append(ctx context.Context, rec Record) error {
	if err := s.ensureHeader(ctx, Header(rec)); err != nil {
		return err
	}

	start := time.Now()
	vr := &sheets.ValueRange{Values: [][]interface{}{Row(rec)}}
	_, err := s.svc.Spreadsheets.Values.
		Append(s.spreadsheetID, a1Range(s.sheet, ""), vr).
		ValueInputOption("USER_ENTERED").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("sheets: append row: %w", err)
	}
	logger.Sink.Debug("row appended",
		slog.String("event", "sink.sheets.append"),
		slog.String("record_id", rec.ID),
		slog.String("spreadsheet_id", s.spreadsheetID),
		slog.Duration("duration", logger.RoundMS(time.Since(start))),
	)
	return nil
}

// ensureHeader writes the header into row 1 when the sheet is empty. An
// existing, different header is left in place and reported once.
func (s *Sheets) ensureHeader(ctx context.Context, header []interface{}) error {
	s.headerMu.Lock()
	defer s.headerMu.Unlock()
	if s.headerReady {
		return nil
	}

	resp, err := s.svc.Spreadsheets.Values.Get(s.spreadsheetID, a1Range(s.sheet, "1:1")).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("sheets: read header: %w", err)
	}

	var existing []interface{}
	if len(resp.Values) > 0 {
		existing = resp.Values[0]
	}
	switch {
	case len(existing) == 0:
		vr := &sheets.ValueRange{Values: [][]interface{}{header}}
		_, err := s.svc.Spreadsheets.Values.
			Update(s.spreadsheetID, a1Range(s.sheet, "A1"), vr).
			ValueInputOption("RAW").
			Context(ctx).
			Do()
		if err != nil {
			return fmt.Errorf("sheets: write header: %w", err)
		}
		logger.Sink.Info("header written",
			slog.String("event", "sink.sheets.header"),
			slog.String("status", "ok"),
			slog.String("spreadsheet_id", s.spreadsheetID),
		)
	case !sameRow(existing, header):
		logger.Sink.Warn("header differs from questionnaire",
			slog.String("event", "sink.sheets.header"),
			slog.String("status", "mismatch"),
			slog.String("spreadsheet_id", s.spreadsheetID),
			slog.Int("count", len(existing)),
		)
	}
	s.headerReady = true
	return nil
}

// Header returns the column labels for rec.
func Header(rec Record) []interface{} {
	out := make([]interface{}, 0, len(rec.Fields)+2)
	out = append(out, employeeCodeColumn)
	for _, v := range rec.Fields {
		out = append(out, v.Column)
	}
	return append(out, timestampColumn)
}

// Row returns the cell values for rec in Header order.
func Row(rec Record) []interface{} {
	out := make([]interface{}, 0, len(rec.Fields)+2)
	out = append(out, rec.EmployeeCode)
	for _, v := range rec.Fields {
		out = append(out, textCell(v.Value))
	}
	return append(out, rec.SubmittedAt.UTC().Format(TimestampLayout))
}

// textCell keeps a typed answer literal under USER_ENTERED. A leading
// apostrophe stops Sheets from evaluating formulas and from dropping
// leading zeros; it is not shown in the cell.
func textCell(v string) string {
	if v == "" {
		return v
	}
	switch v[0] {
	case '=', '+', '-', '@', '\'':
		return "'" + v
	}
	if len(v) > 1 && v[0] == '0' && isDigits(v) {
		return "'" + v
	}
	return v
}

func isDigits(v string) bool {
	for _, r := range v {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// a1Range quotes sheet for A1 notation. An empty cells selects the whole
// sheet.
func a1Range(sheet, cells string) string {
	quoted := "'" + strings.ReplaceAll(sheet, "'", "''") + "'"
	if cells == "" {
		return quoted
	}
	return quoted + "!" + cells
}

func sameRow(a, b []interface{}) bool {
	return slices.EqualFunc(a, b, func(x, y interface{}) bool {
		return fmt.Sprint(x) == fmt.Sprint(y)
	})
}
