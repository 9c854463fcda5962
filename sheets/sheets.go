// Package sheets is a table sink over the Google Sheets values API.
package sheets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"google.golang.org/api/option"
	sheetsapi "google.golang.org/api/sheets/v4"

	"github.com/dhcgn/inbox-to-sheets/model"
)

const (
	valueInputRaw  = "RAW"
	insertRows     = "INSERT_ROWS"
	firstColumn    = "A"
	lastColumn     = "D"
	firstDataRowNo = 2
	// dateColumn is never empty in a row this sink wrote, so its length is
	// the table height.
	dateColumn = "C"
)

// ClientFunc returns an authorized HTTP client for the Sheets API.
type ClientFunc func(ctx context.Context) (*http.Client, error)

type Options struct {
	SpreadsheetID string
	ClientOptions []option.ClientOption
}

type Sink struct {
	opts    Options
	connect ClientFunc
	logger  *slog.Logger
	svc     *sheetsapi.Service
}

func NewSink(opts Options, connect ClientFunc, logger *slog.Logger) (*Sink, error) {
	if strings.TrimSpace(opts.SpreadsheetID) == "" {
		return nil, fmt.Errorf("%w: spreadsheet id is empty", model.ErrConfiguration)
	}
	if connect == nil {
		return nil, fmt.Errorf("%w: sheets client func must not be nil", model.ErrConfiguration)
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Sink{opts: opts, connect: connect, logger: logger}, nil
}

func (s *Sink) Authenticate(ctx context.Context) error {
	if s.svc != nil {
		return nil
	}
	hc, err := s.connect(ctx)
	if errors.Is(err, model.ErrConfiguration) {
		return fmt.Errorf("sheets auth: %w", err)
	}
	if err != nil {
		return fmt.Errorf("%w: sheets auth: %w", model.ErrSinkUnavailable, err)
	}
	opts := append([]option.ClientOption{option.WithHTTPClient(hc)}, s.opts.ClientOptions...)
	svc, err := sheetsapi.NewService(ctx, opts...)
	if err != nil {
		return fmt.Errorf("%w: create sheets service: %w", model.ErrSinkUnavailable, err)
	}
	s.svc = svc
	return nil
}

// EnsureHeader writes the header labels into row 1 when it is empty. Existing
// content in row 1 is left alone.
func (s *Sink) EnsureHeader(ctx context.Context, sheet string) error {
	if err := s.Authenticate(ctx); err != nil {
		return err
	}

	rng := A1Range(sheet, "1", "1")
	resp, err := s.svc.Spreadsheets.Values.Get(s.opts.SpreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("%w: read header %s: %w", model.ErrSinkUnavailable, rng, err)
	}
	if len(resp.Values) > 0 && len(resp.Values[0]) > 0 {
		return nil
	}

	vr := &sheetsapi.ValueRange{Values: [][]any{toCells(model.HeaderRow)}}
	if _, err := s.svc.Spreadsheets.Values.Update(s.opts.SpreadsheetID, rng, vr).ValueInputOption(valueInputRaw).Context(ctx).Do(); err != nil {
		return fmt.Errorf("%w: write header %s: %w", model.ErrSinkUnavailable, rng, err)
	}
	s.logger.Info("wrote header row", "sheet", sheet)
	return nil
}

// ReadRows returns the last maxRows data rows below the header, padded to the
// full column count. Appends land at the bottom, so the newest rows are the
// ones a retried pass must compare against.
func (s *Sink) ReadRows(ctx context.Context, sheet string, maxRows int) ([]model.Row, error) {
	if err := s.Authenticate(ctx); err != nil {
		return nil, err
	}

	lastRowNo, err := s.lastRowNo(ctx, sheet)
	if err != nil {
		return nil, err
	}
	from := max(firstDataRowNo, lastRowNo-maxRows+1)
	if from > firstDataRowNo {
		s.logger.Debug("table exceeds max rows, reading the tail", "sheet", sheet, "lastRow", lastRowNo, "from", from)
	}

	rng := A1Range(sheet, strconv.Itoa(from), strconv.Itoa(from+maxRows-1))
	resp, err := s.svc.Spreadsheets.Values.Get(s.opts.SpreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("%w: read rows %s: %w", model.ErrSinkUnavailable, rng, err)
	}

	rows := make([]model.Row, 0, len(resp.Values))
	for _, values := range resp.Values {
		row := make(model.Row, 0, len(values))
		for _, v := range values {
			row = append(row, fmt.Sprint(v))
		}
		rows = append(rows, row.Padded())
	}
	return rows, nil
}

// lastRowNo returns the number of the last populated row, counting the
// header.
func (s *Sink) lastRowNo(ctx context.Context, sheet string) (int, error) {
	rng := QuoteSheet(sheet) + "!" + dateColumn + ":" + dateColumn
	resp, err := s.svc.Spreadsheets.Values.Get(s.opts.SpreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return 0, fmt.Errorf("%w: measure %s: %w", model.ErrSinkUnavailable, rng, err)
	}
	return len(resp.Values), nil
}

// AppendRows appends rows after the last populated row and returns the
// provider's updated row count.
func (s *Sink) AppendRows(ctx context.Context, sheet string, rows []model.Row) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if err := s.Authenticate(ctx); err != nil {
		return 0, err
	}

	values := make([][]any, 0, len(rows))
	for _, row := range rows {
		values = append(values, toCells(row.Padded()))
	}

	rng := columnsRange(sheet)
	resp, err := s.svc.Spreadsheets.Values.Append(s.opts.SpreadsheetID, rng, &sheetsapi.ValueRange{Values: values}).
		ValueInputOption(valueInputRaw).
		InsertDataOption(insertRows).
		Context(ctx).
		Do()
	if err != nil {
		return 0, fmt.Errorf("%w: append %d rows to %s: %w", model.ErrSinkUnavailable, len(rows), rng, err)
	}
	if resp.Updates == nil {
		return 0, nil
	}
	return int(resp.Updates.UpdatedRows), nil
}

func toCells(row model.Row) []any {
	cells := make([]any, len(row))
	for i, c := range row {
		cells[i] = c
	}
	return cells
}

// QuoteSheet renders a sheet name for A1 notation.
func QuoteSheet(name string) string {
	return "'" + strings.ReplaceAll(name, "'", "''") + "'"
}

// A1Range returns sheet!A<from>:D<to>.
func A1Range(sheet, from, to string) string {
	return QuoteSheet(sheet) + "!" + firstColumn + from + ":" + lastColumn + to
}

func columnsRange(sheet string) string {
	return QuoteSheet(sheet) + "!" + firstColumn + ":" + lastColumn
}
