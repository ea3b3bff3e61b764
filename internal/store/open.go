// Package store opens the binding store selected by configuration.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/redis/go-redis/v9"

	"keybind/internal/config"
	"keybind/internal/license"
	"keybind/internal/store/memory"
	"keybind/internal/store/redisstore"
	"keybind/internal/store/sheets"
	"keybind/internal/store/sqlstore"
	"keybind/internal/store/workbook"
)

// Handle is an open store and the function that releases it.
type Handle struct {
	Store   license.Store
	Backend string
	close   func() error
}

// Close releases the store's resources.
func (h *Handle) Close() error {
	if h.close == nil {
		return nil
	}
	return h.close()
}

// Open builds the store for cfg.Store.Backend.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Handle, error) {
	logger = logger.With(slog.String("backend", cfg.Store.Backend))

	switch cfg.Store.Backend {
	case config.BackendMemory:
		s := memory.New()
		for _, key := range cfg.Store.SeedKeys {
			if err := s.Provision(ctx, key); err != nil && !errors.Is(err, license.ErrKeyExists) {
				return nil, fmt.Errorf("failed to seed key: %w", err)
			}
		}
		logger.InfoContext(ctx, "memory store ready", slog.Int("keys", s.Len()))
		return &Handle{Store: s, Backend: cfg.Store.Backend}, nil

	case config.BackendSheets:
		creds, err := cfg.Sheets.Credentials()
		if err != nil {
			return nil, err
		}
		s, err := sheets.NewFromCredentials(ctx, sheets.Config{
			SpreadsheetID: cfg.Sheets.SpreadsheetID,
			SheetName:     cfg.Sheets.SheetName,
			HeaderRow:     cfg.Sheets.HeaderRow,
		}, creds, logger)
		if err != nil {
			return nil, err
		}
		logger.InfoContext(ctx, "sheets store ready",
			slog.String("spreadsheet_id", cfg.Sheets.SpreadsheetID),
			slog.String("sheet", cfg.Sheets.SheetName))
		return &Handle{Store: s, Backend: cfg.Store.Backend}, nil

	case config.BackendWorkbook:
		if err := ensureDir(cfg.Workbook.Path); err != nil {
			return nil, err
		}
		s, err := workbook.Open(cfg.Workbook.Path, cfg.Workbook.Sheet, logger)
		if err != nil {
			return nil, err
		}
		logger.InfoContext(ctx, "workbook store ready", slog.String("path", cfg.Workbook.Path))
		return &Handle{Store: s, Backend: cfg.Store.Backend}, nil

	case config.BackendSQL:
		if cfg.SQL.Driver == "sqlite" {
			if err := ensureDir(cfg.SQL.DSN); err != nil {
				return nil, err
			}
		}
		s, err := sqlstore.Open(sqlstore.Config{
			Driver:      cfg.SQL.Driver,
			DSN:         cfg.SQL.DSN,
			LogSQL:      cfg.SQL.LogSQL,
			AutoMigrate: cfg.SQL.AutoMigrate,
		}, logger)
		if err != nil {
			return nil, err
		}
		logger.InfoContext(ctx, "sql store ready", slog.String("driver", cfg.SQL.Driver))
		return &Handle{Store: s, Backend: cfg.Store.Backend, close: s.Close}, nil

	case config.BackendRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		var opts []redisstore.Option
		if cfg.Redis.Prefix != "" {
			opts = append(opts, redisstore.WithPrefix(cfg.Redis.Prefix))
		}
		s := redisstore.New(rdb, opts...)
		logger.InfoContext(ctx, "redis store ready", slog.String("addr", cfg.Redis.Addr))
		return &Handle{Store: s, Backend: cfg.Store.Backend, close: s.Close}, nil

	default:
		return nil, fmt.Errorf("unknown store backend: %q", cfg.Store.Backend)
	}
}

// ensureDir creates the parent directory of a file path.
func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	return nil
}
