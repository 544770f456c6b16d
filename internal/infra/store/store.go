// Package store provides the durable store for rooms, memberships, users and
// queue entries. Every mutation runs inside a transaction committed with
// bounded retry.
package store

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/osa030/roomsync/internal/domain/room"
	"github.com/osa030/roomsync/internal/infra/logger"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrContention marks a transaction that could not commit within the retry budget.
	ErrContention = errors.New("store contention")
)

// Config represents durable store configuration.
type Config struct {
	Driver       string // sqlite or postgres
	DSN          string
	MaxOpenConns int
	LogLevel     string // silent, error, warn, info
	MaxAttempts  int
	BaseDelay    time.Duration
}

// Store is the durable store.
type Store struct {
	db          *gorm.DB
	maxAttempts int
	baseDelay   time.Duration
}

// Open connects to the configured database.
func Open(cfg Config) (*Store, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	default:
		return nil, errors.Newf("unsupported store driver: %s", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.New(log.New(logger.Writer("warn"), "", 0), gormlogger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  logLevel(cfg.LogLevel),
			IgnoreRecordNotFoundError: true,
		}),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s store", cfg.Driver)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.Wrap(err, "failed to get sql handle")
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	sqlDB.SetConnMaxLifetime(time.Hour)

	s := &Store{
		db:          db,
		maxAttempts: cfg.MaxAttempts,
		baseDelay:   cfg.BaseDelay,
	}
	if s.maxAttempts <= 0 {
		s.maxAttempts = 5
	}
	if s.baseDelay <= 0 {
		s.baseDelay = 20 * time.Millisecond
	}

	zlog.Info().Msgf("store connected: driver=%s", cfg.Driver)
	return s, nil
}

func logLevel(level string) gormlogger.LogLevel {
	switch strings.ToLower(level) {
	case "info":
		return gormlogger.Info
	case "warn":
		return gormlogger.Warn
	case "error":
		return gormlogger.Error
	default:
		return gormlogger.Silent
	}
}

// Migrate creates or updates the tables.
func (s *Store) Migrate() error {
	if err := s.db.AutoMigrate(
		&room.Room{},
		&room.Membership{},
		&room.User{},
		&room.QueueEntry{},
	); err != nil {
		return errors.Wrap(err, "migration failed")
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return errors.Wrap(err, "failed to get sql handle")
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// InTx runs fn in a transaction. A transaction that fails on contention is
// rolled back and retried with exponential backoff. Any other error aborts
// immediately. fn must not have side effects outside the transaction, since
// it may run more than once.
func (s *Store) InTx(ctx context.Context, fn func(tx *Tx) error) error {
	var lastErr error
	for i := 0; i < s.maxAttempts; i++ {
		err := s.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
			return fn(&Tx{db: db})
		})
		if err == nil {
			return nil
		}
		lastErr = err

		if !isRetryable(err) {
			return err
		}

		if i < s.maxAttempts-1 {
			delay := s.baseDelay * time.Duration(1<<i)
			zlog.Debug().Msgf("transaction contention, retrying: attempt=%d delay=%s error=%v", i+1, delay, err)
			select {
			case <-ctx.Done():
				return errors.Wrap(ctx.Err(), "transaction retry aborted")
			case <-time.After(delay):
			}
		}
	}
	return errors.Mark(errors.Wrap(lastErr, "max transaction attempts exceeded"), ErrContention)
}

// isRetryable reports whether err is a lock or serialization conflict.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrContention) {
		return true
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "database is locked") ||
		strings.Contains(errStr, "database table is locked") ||
		strings.Contains(errStr, "sqlite_busy") ||
		strings.Contains(errStr, "40001") ||
		strings.Contains(errStr, "40p01") ||
		strings.Contains(errStr, "could not serialize") ||
		strings.Contains(errStr, "deadlock")
}
