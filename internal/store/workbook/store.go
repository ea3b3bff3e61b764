// Package workbook stores binding records in a local .xlsx workbook using
// the same three-column layout as the Google Sheets store.
package workbook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/xuri/excelize/v2"

	"keybind/internal/infrastructure"
	"keybind/internal/license"
)

var header = []interface{}{"activation_key", "device_id", "activation_date"}

// Store keeps bindings in one sheet of a workbook file. Each write replaces
// the file with a renamed temporary copy, so readers never see a partly
// written workbook.
type Store struct {
	mu     sync.Mutex
	path   string
	sheet  string
	logger *slog.Logger
}

// Open returns a Store for the workbook at path, creating it with a header
// row if it does not exist.
func Open(path, sheet string, logger *slog.Logger) (*Store, error) {
	if path == "" {
		return nil, errors.New("workbook: path is required")
	}
	if sheet == "" {
		sheet = "Sheet1"
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Store{
		path:   path,
		sheet:  sheet,
		logger: infrastructure.WithComponent(logger, "workbook_store"),
	}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := s.create(); err != nil {
			return nil, err
		}
		s.logger.Info("Created binding workbook", slog.String("path", path))
	} else if err != nil {
		return nil, fmt.Errorf("failed to stat workbook: %w", err)
	}

	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()
	if idx, err := f.GetSheetIndex(sheet); err != nil || idx < 0 {
		return nil, fmt.Errorf("workbook %s has no sheet %q", path, sheet)
	}
	return s, nil
}

func (s *Store) create() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("failed to create workbook directory: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	if s.sheet != "Sheet1" {
		if err := f.SetSheetName("Sheet1", s.sheet); err != nil {
			return fmt.Errorf("failed to name sheet: %w", err)
		}
	}
	if err := f.SetSheetRow(s.sheet, "A1", &header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	return s.save(f)
}

// Get returns the record for key.
func (s *Store) Get(ctx context.Context, key string) (license.Record, bool, error) {
	if err := ctx.Err(); err != nil {
		return license.Record{}, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, rows, err := s.load()
	if err != nil {
		return license.Record{}, false, err
	}
	defer f.Close()

	idx := findRow(rows, key)
	if idx < 0 {
		return license.Record{}, false, nil
	}
	rec, err := parseRow(rows[idx])
	if err != nil {
		return license.Record{}, false, fmt.Errorf("row %d: %w", idx+1, err)
	}
	return rec, true, nil
}

// Set binds an unbound key.
func (s *Store) Set(ctx context.Context, key, boundDevice string, boundAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, rows, err := s.load()
	if err != nil {
		return err
	}
	defer f.Close()

	idx := findRow(rows, key)
	if idx < 0 {
		return license.ErrNotFound
	}
	if cell(rows[idx], 1) != "" {
		return license.ErrAlreadyBound
	}

	values := []interface{}{boundDevice, boundAt.UTC().Format(time.RFC3339Nano)}
	if err := f.SetSheetRow(s.sheet, fmt.Sprintf("B%d", idx+1), &values); err != nil {
		return fmt.Errorf("failed to write binding cells: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	return s.save(f)
}

// Provision appends an unbound row for key.
func (s *Store) Provision(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, rows, err := s.load()
	if err != nil {
		return err
	}
	defer f.Close()

	if findRow(rows, key) >= 0 {
		return license.ErrKeyExists
	}
	if err := f.SetCellStr(s.sheet, fmt.Sprintf("A%d", len(rows)+1), key); err != nil {
		return fmt.Errorf("failed to append key: %w", err)
	}
	return s.save(f)
}

// Ping checks that the workbook can be opened.
func (s *Store) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, _, err := s.load()
	if err != nil {
		return err
	}
	return f.Close()
}

func (s *Store) load() (*excelize.File, [][]string, error) {
	f, err := excelize.OpenFile(s.path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	rows, err := f.GetRows(s.sheet)
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("failed to read sheet %s: %w", s.sheet, err)
	}
	return f, rows, nil
}

// save writes f next to the target and renames it into place.
func (s *Store) save(f *excelize.File) error {
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".keybind-*.xlsx")
	if err != nil {
		return fmt.Errorf("failed to create temp workbook: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := f.Write(tmp); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync workbook: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp workbook: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("failed to replace workbook: %w", err)
	}
	return nil
}

// findRow returns the zero-based index of the row holding key, or -1. The
// first row is the header.
func findRow(rows [][]string, key string) int {
	for i := 1; i < len(rows); i++ {
		if cell(rows[i], 0) == key {
			return i
		}
	}
	return -1
}

func parseRow(row []string) (license.Record, error) {
	rec := license.Record{
		Key:         cell(row, 0),
		BoundDevice: cell(row, 1),
	}
	if raw := cell(row, 2); raw != "" {
		at, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return license.Record{}, fmt.Errorf("%w: activation date %q", license.ErrMalformedRecord, raw)
		}
		rec.BoundAt = at.UTC()
	}
	return rec, nil
}

func cell(row []string, i int) string {
	if i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}
