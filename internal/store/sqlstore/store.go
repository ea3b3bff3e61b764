// Package sqlstore stores binding records in a SQL table through gorm.
// PostgreSQL and SQLite are supported.
package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
	"gorm.io/gorm/schema"

	"keybind/internal/infrastructure"
	"keybind/internal/license"
)

// Config selects the database.
type Config struct {
	Driver string // "postgres" or "sqlite"
	DSN    string
	LogSQL bool
	// AutoMigrate creates the binding table if it is missing.
	AutoMigrate bool
}

// binding is one row of the activation_keys table.
type binding struct {
	ActivationKey  string     `gorm:"column:activation_key;primaryKey;size:255"`
	DeviceID       string     `gorm:"column:device_id;size:255;not null;default:''"`
	ActivationDate *time.Time `gorm:"column:activation_date"`
}

func (binding) TableName() string { return "activation_keys" }

func (b binding) record() license.Record {
	rec := license.Record{Key: b.ActivationKey, BoundDevice: b.DeviceID}
	if b.ActivationDate != nil {
		rec.BoundAt = b.ActivationDate.UTC()
	}
	return rec
}

// Store binds keys with a conditional UPDATE, so concurrent writers in
// different processes cannot both bind the same key.
type Store struct {
	db     *gorm.DB
	logger *slog.Logger
}

// Open connects to the database described by cfg.
func Open(cfg Config, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = infrastructure.WithComponent(logger, "sql_store")

	var dialector gorm.Dialector
	switch cfg.Driver {
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported sql driver: %q", cfg.Driver)
	}

	lvl := gormlogger.Silent
	if cfg.LogSQL {
		lvl = gormlogger.Info
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.New(slog.NewLogLogger(logger.Handler(), slog.LevelDebug), gormlogger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  lvl,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		}),
		NamingStrategy: schema.NamingStrategy{
			SingularTable: true,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", cfg.Driver, err)
	}

	if cfg.Driver == "sqlite" {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to get sql handle: %w", err)
		}
		// SQLite allows one writer; a single connection avoids SQLITE_BUSY.
		sqlDB.SetMaxOpenConns(1)
	}

	if cfg.AutoMigrate {
		if err := db.AutoMigrate(&binding{}); err != nil {
			return nil, fmt.Errorf("failed to migrate binding table: %w", err)
		}
	}

	return &Store{db: db, logger: logger}, nil
}

// Get returns the record for key.
func (s *Store) Get(ctx context.Context, key string) (license.Record, bool, error) {
	var row binding
	if err := s.db.WithContext(ctx).First(&row, "activation_key = ?", key).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return license.Record{}, false, nil
		}
		return license.Record{}, false, fmt.Errorf("failed to read binding: %w", err)
	}
	return row.record(), true, nil
}

// Set binds key if its device is still empty.
func (s *Store) Set(ctx context.Context, key, boundDevice string, boundAt time.Time) error {
	at := boundAt.UTC()
	res := s.db.WithContext(ctx).
		Model(&binding{}).
		Where("activation_key = ? AND device_id = ?", key, "").
		Updates(map[string]any{
			"device_id":       boundDevice,
			"activation_date": at,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to write binding: %w", res.Error)
	}
	if res.RowsAffected == 1 {
		return nil
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&binding{}).Where("activation_key = ?", key).Count(&count).Error; err != nil {
		return fmt.Errorf("failed to check binding: %w", err)
	}
	if count == 0 {
		return license.ErrNotFound
	}
	return license.ErrAlreadyBound
}

// Provision inserts an unbound row for key.
func (s *Store) Provision(ctx context.Context, key string) error {
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&binding{ActivationKey: key})
	if res.Error != nil {
		return fmt.Errorf("failed to provision key: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return license.ErrKeyExists
	}
	return nil
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
