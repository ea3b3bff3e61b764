// Package sheets stores binding records in a Google Sheets spreadsheet.
//
// The sheet holds one key per row:
//
//	A               | B         | C
//	activation_key  | device_id | activation_date
//
// An empty column B means the key is unbound. Both binding cells are written
// with a single values.update call on B{row}:C{row}, so a failed write never
// leaves a device without a date.
package sheets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/api/option"
	gsheets "google.golang.org/api/sheets/v4"

	"keybind/internal/infrastructure"
	"keybind/internal/license"
)

// legacyDateLayout is accepted on read for rows written by hand.
const legacyDateLayout = "2006-01-02 15:04:05"

// Config locates the binding sheet.
type Config struct {
	SpreadsheetID string
	SheetName     string
	// HeaderRow skips the first row of the sheet.
	HeaderRow bool
}

// Store reads and writes binding rows through the Sheets API.
//
// Set checks the row before updating it, but the Sheets API offers no
// conditional write, so cross-process exclusion is not guaranteed.
type Store struct {
	svc    *gsheets.Service
	cfg    Config
	logger *slog.Logger
}

// New returns a Store using an existing Sheets service.
func New(svc *gsheets.Service, cfg Config, logger *slog.Logger) (*Store, error) {
	if cfg.SpreadsheetID == "" {
		return nil, errors.New("sheets: spreadsheet id is required")
	}
	if cfg.SheetName == "" {
		return nil, errors.New("sheets: sheet name is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		svc:    svc,
		cfg:    cfg,
		logger: infrastructure.WithComponent(logger, "sheets_store"),
	}, nil
}

// NewFromCredentials builds the Sheets service from service-account JSON.
// Extra client options are appended after the credentials.
func NewFromCredentials(ctx context.Context, cfg Config, credentialsJSON []byte, logger *slog.Logger, opts ...option.ClientOption) (*Store, error) {
	if len(credentialsJSON) == 0 {
		return nil, errors.New("sheets: service account credentials are empty")
	}

	clientOpts := append([]option.ClientOption{
		option.WithCredentialsJSON(credentialsJSON),
		option.WithScopes(gsheets.SpreadsheetsScope),
	}, opts...)

	svc, err := gsheets.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheets service: %w", err)
	}
	return New(svc, cfg, logger)
}

// Get returns the record for key.
func (s *Store) Get(ctx context.Context, key string) (license.Record, bool, error) {
	rows, err := s.readRows(ctx)
	if err != nil {
		return license.Record{}, false, err
	}

	idx := s.findRow(rows, key)
	if idx < 0 {
		return license.Record{}, false, nil
	}

	rec, err := parseRow(rows[idx])
	if err != nil {
		return license.Record{}, false, fmt.Errorf("row %d: %w", idx+1, err)
	}
	return rec, true, nil
}

// Set writes device and date into the key's row if the row is unbound.
func (s *Store) Set(ctx context.Context, key, boundDevice string, boundAt time.Time) error {
	rows, err := s.readRows(ctx)
	if err != nil {
		return err
	}

	idx := s.findRow(rows, key)
	if idx < 0 {
		return license.ErrNotFound
	}
	if cell(rows[idx], 1) != "" {
		return license.ErrAlreadyBound
	}

	row := idx + 1
	rng := fmt.Sprintf("%s!B%d:C%d", s.cfg.SheetName, row, row)
	vr := &gsheets.ValueRange{
		Range:  rng,
		Values: [][]interface{}{{boundDevice, boundAt.UTC().Format(time.RFC3339Nano)}},
	}

	if _, err := s.svc.Spreadsheets.Values.Update(s.cfg.SpreadsheetID, rng, vr).
		ValueInputOption("RAW").
		Context(ctx).
		Do(); err != nil {
		return fmt.Errorf("failed to update sheet range %s: %w", rng, err)
	}

	s.logger.DebugContext(ctx, "Binding row updated", slog.Int("row", row))
	return nil
}

// Provision appends an unbound row for key.
func (s *Store) Provision(ctx context.Context, key string) error {
	rows, err := s.readRows(ctx)
	if err != nil {
		return err
	}
	if s.findRow(rows, key) >= 0 {
		return license.ErrKeyExists
	}

	rng := fmt.Sprintf("%s!A:C", s.cfg.SheetName)
	vr := &gsheets.ValueRange{Values: [][]interface{}{{key, "", ""}}}

	if _, err := s.svc.Spreadsheets.Values.Append(s.cfg.SpreadsheetID, rng, vr).
		ValueInputOption("RAW").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do(); err != nil {
		return fmt.Errorf("failed to append sheet row: %w", err)
	}
	return nil
}

// Ping reads the spreadsheet metadata.
func (s *Store) Ping(ctx context.Context) error {
	if _, err := s.svc.Spreadsheets.Get(s.cfg.SpreadsheetID).
		Fields("spreadsheetId").
		Context(ctx).
		Do(); err != nil {
		return fmt.Errorf("failed to reach spreadsheet: %w", err)
	}
	return nil
}

func (s *Store) readRows(ctx context.Context) ([][]interface{}, error) {
	rng := fmt.Sprintf("%s!A:C", s.cfg.SheetName)
	resp, err := s.svc.Spreadsheets.Values.Get(s.cfg.SpreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet range %s: %w", rng, err)
	}
	return resp.Values, nil
}

// findRow returns the zero-based index of the row holding key, or -1.
func (s *Store) findRow(rows [][]interface{}, key string) int {
	for i, row := range rows {
		if i == 0 && s.cfg.HeaderRow {
			continue
		}
		if cell(row, 0) == key {
			return i
		}
	}
	return -1
}

func parseRow(row []interface{}) (license.Record, error) {
	rec := license.Record{
		Key:         cell(row, 0),
		BoundDevice: cell(row, 1),
	}

	if raw := cell(row, 2); raw != "" {
		at, err := parseDate(raw)
		if err != nil {
			return license.Record{}, fmt.Errorf("%w: activation date %q", license.ErrMalformedRecord, raw)
		}
		rec.BoundAt = at
	}
	return rec, nil
}

func parseDate(raw string) (time.Time, error) {
	if at, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return at.UTC(), nil
	}
	return time.ParseInLocation(legacyDateLayout, raw, time.UTC)
}

// cell returns column i of row as trimmed text. Missing trailing cells are
// omitted by the API and read as empty.
func cell(row []interface{}, i int) string {
	if i >= len(row) || row[i] == nil {
		return ""
	}
	if s, ok := row[i].(string); ok {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(fmt.Sprint(row[i]))
}
