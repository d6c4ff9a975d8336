package storage

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
)

var (
	ErrUnknownDriver = errors.New("unknown storage driver")
	ErrClosed        = errors.New("storage closed")
	// ErrNoMessageID rejects records without the deduplication key.
	ErrNoMessageID = errors.New("execution record has no message id")
)

// Record is one accepted execution.
type Record struct {
	ID             int64 // synthetic row id; 0 until stored
	MessageID      string
	UserID         string
	Username       string
	TS             int64  // origin time, epoch seconds UTC
	ExecutionCount *int64 // nil when the notification carried none
}

// Time returns TS as a UTC time.
func (r Record) Time() time.Time { return time.Unix(r.TS, 0).UTC() }

// Store is the execution log.
//
// Implementations must be safe for concurrent use. Insert decides
// "new vs duplicate" atomically; callers never check-then-insert.
type Store interface {
	// Init creates the schema if needed. Safe to call on every start.
	Init(ctx context.Context) error

	// Insert stores r and reports true, or reports false without error when a
	// record with the same MessageID already exists.
	Insert(ctx context.Context, r Record) (bool, error)

	// CountSince counts records with ts >= now - window.
	CountSince(ctx context.Context, window time.Duration) (int64, error)

	// UniqueUsersSince counts distinct user ids with ts >= now - window.
	UniqueUsersSince(ctx context.Context, window time.Duration) (int64, error)

	LifetimeCountForUser(ctx context.Context, userID string) (int64, error)

	// Recent returns at most limit records, newest first.
	Recent(ctx context.Context, limit int) ([]Record, error)

	Ping(ctx context.Context) error
	Close() error
}

// Config selects and configures a Store.
type Config struct {
	Driver      string // sqlite | postgres | file
	Path        string // sqlite database file / file-store prefix
	DSN         string // postgres
	BusyTimeout time.Duration

	// Clock is the "now" used by window queries. Defaults to time.Now.
	Clock func() time.Time
}

func (c Config) clock() func() time.Time {
	if c.Clock != nil {
		return c.Clock
	}
	return time.Now
}

// cutoff is the first epoch second inside a window ending at now.
func cutoff(now time.Time, window time.Duration) int64 {
	return now.UTC().Unix() - int64(window/time.Second)
}
