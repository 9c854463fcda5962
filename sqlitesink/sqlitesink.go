// Package sqlitesink is a table sink backed by a local SQLite database. Each
// sheet name maps to its own set of numbered rows; row 1 holds the header.
package sqlitesink

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/dhcgn/inbox-to-sheets/model"
)

const headerRowNo = 1

type Sink struct {
	db     *sqlx.DB
	logger *slog.Logger
}

type sheetRow struct {
	Sender  string `db:"sender"`
	Subject string `db:"subject"`
	Date    string `db:"date"`
	Content string `db:"content"`
}

func (r sheetRow) row() model.Row {
	return model.Row{r.Sender, r.Subject, r.Date, r.Content}
}

// Open opens (or creates) the database at path and applies migrations. Use
// ":memory:" for a throwaway database.
func Open(path string, logger *slog.Logger) (*Sink, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("%w: sqlite path is empty", model.ErrConfiguration)
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%w: opening sqlite db: %w", model.ErrSinkUnavailable, err)
	}
	// A single connection keeps ":memory:" databases alive across calls.
	db.SetMaxOpenConns(1)

	if path != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("%w: enabling WAL mode: %w", model.ErrSinkUnavailable, err)
		}
	}

	s := &Sink{db: db, logger: logger}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: running migrations: %w", model.ErrSinkUnavailable, err)
	}
	return s, nil
}

func (s *Sink) Close() error {
	return s.db.Close()
}

func (s *Sink) runMigrations() error {
	currentVersion := 0

	var tableCount int
	err := s.db.Get(&tableCount, "SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'")
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}
	if tableCount > 0 {
		if err := s.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version"); err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
		s.logger.Debug("applied sqlite migration", "version", m.version)
	}
	return nil
}

// EnsureHeader inserts the header as row 1 when that row does not exist.
func (s *Sink) EnsureHeader(ctx context.Context, sheet string) error {
	h := model.HeaderRow
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO sheet_rows (sheet, row_no, sender, subject, date, content)
		VALUES (?, ?, ?, ?, ?, ?)`,
		sheet, headerRowNo, h[0], h[1], h[2], h[3],
	)
	if err != nil {
		return fmt.Errorf("%w: ensure header for %s: %w", model.ErrSinkUnavailable, sheet, err)
	}
	return nil
}

// ReadRows returns up to maxRows data rows in row order.
func (s *Sink) ReadRows(ctx context.Context, sheet string, maxRows int) ([]model.Row, error) {
	var records []sheetRow
	err := s.db.SelectContext(ctx, &records, `
		SELECT sender, subject, date, content FROM (
			SELECT row_no, sender, subject, date, content
			FROM sheet_rows
			WHERE sheet = ? AND row_no > ?
			ORDER BY row_no DESC
			LIMIT ?
		)
		ORDER BY row_no`,
		sheet, headerRowNo, maxRows,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: reading rows of %s: %w", model.ErrSinkUnavailable, sheet, err)
	}

	rows := make([]model.Row, 0, len(records))
	for _, r := range records {
		rows = append(rows, r.row())
	}
	return rows, nil
}

// AppendRows numbers rows after the current last row, in one transaction.
func (s *Sink) AppendRows(ctx context.Context, sheet string, rows []model.Row) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: beginning transaction: %w", model.ErrSinkUnavailable, err)
	}
	defer tx.Rollback()

	var last int
	if err := tx.GetContext(ctx, &last, "SELECT COALESCE(MAX(row_no), ?) FROM sheet_rows WHERE sheet = ?", headerRowNo, sheet); err != nil {
		return 0, fmt.Errorf("%w: reading last row of %s: %w", model.ErrSinkUnavailable, sheet, err)
	}

	stmt, err := tx.PreparexContext(ctx, `
		INSERT INTO sheet_rows (sheet, row_no, sender, subject, date, content)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("%w: preparing insert: %w", model.ErrSinkUnavailable, err)
	}
	defer stmt.Close()

	for i, row := range rows {
		p := row.Padded()
		if _, err := stmt.ExecContext(ctx, sheet, last+1+i, p[0], p[1], p[2], p[3]); err != nil {
			return 0, fmt.Errorf("%w: inserting row %d of %s: %w", model.ErrSinkUnavailable, last+1+i, sheet, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("%w: committing rows: %w", model.ErrSinkUnavailable, err)
	}
	return len(rows), nil
}
