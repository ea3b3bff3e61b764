// Package redisstore stores binding records as Redis hashes.
//
// Each key lives at {prefix}:{activation key} with the fields device_id and
// activation_date. An unbound key has an empty device_id and no date.
package redisstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"keybind/internal/license"
)

const (
	fieldDevice = "device_id"
	fieldDate   = "activation_date"
)

// bindScript writes both fields only when the hash exists and is unbound.
// A hash without a device_id field counts as unbound.
// Returns 1 on success, 0 when the key is missing and -1 when bound.
var bindScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return 0
end
local cur = redis.call('HGET', KEYS[1], ARGV[1])
if cur and cur ~= '' then
	return -1
end
redis.call('HSET', KEYS[1], ARGV[1], ARGV[3], ARGV[2], ARGV[4])
return 1
`)

// Store keeps bindings in Redis.
type Store struct {
	rdb    *redis.Client
	prefix string
}

// Option configures a Store.
type Option func(*Store)

// WithPrefix sets the key namespace.
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = strings.Trim(prefix, ":")
	}
}

// New returns a Store on rdb.
func New(rdb *redis.Client, opts ...Option) *Store {
	s := &Store{
		rdb:    rdb,
		prefix: "keybind:key",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) hashKey(key string) string {
	return s.prefix + ":" + key
}

// Get returns the record for key.
func (s *Store) Get(ctx context.Context, key string) (license.Record, bool, error) {
	fields, err := s.rdb.HGetAll(ctx, s.hashKey(key)).Result()
	if err != nil {
		return license.Record{}, false, fmt.Errorf("failed to read binding: %w", err)
	}
	if len(fields) == 0 {
		return license.Record{}, false, nil
	}

	rec := license.Record{Key: key, BoundDevice: fields[fieldDevice]}
	if raw := fields[fieldDate]; raw != "" {
		at, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return license.Record{}, false, fmt.Errorf("%w: activation date %q", license.ErrMalformedRecord, raw)
		}
		rec.BoundAt = at.UTC()
	}
	return rec, true, nil
}

// Set binds key atomically on the server.
func (s *Store) Set(ctx context.Context, key, boundDevice string, boundAt time.Time) error {
	res, err := bindScript.Run(ctx, s.rdb,
		[]string{s.hashKey(key)},
		fieldDevice, fieldDate, boundDevice, boundAt.UTC().Format(time.RFC3339Nano),
	).Int()
	if err != nil {
		return fmt.Errorf("failed to write binding: %w", err)
	}

	switch res {
	case 1:
		return nil
	case 0:
		return license.ErrNotFound
	default:
		return license.ErrAlreadyBound
	}
}

// Provision creates an unbound hash for key.
func (s *Store) Provision(ctx context.Context, key string) error {
	created, err := s.rdb.HSetNX(ctx, s.hashKey(key), fieldDevice, "").Result()
	if err != nil {
		return fmt.Errorf("failed to provision key: %w", err)
	}
	if !created {
		return license.ErrKeyExists
	}
	return nil
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// Close closes the client.
func (s *Store) Close() error {
	return s.rdb.Close()
}
