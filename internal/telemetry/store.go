package telemetry

import (
	"context"
	"time"

	"exectracker/internal/storage"
)

type instrumentedStore struct {
	next storage.Store
}

// InstrumentStore wraps st so every call is timed and failures are counted.
func InstrumentStore(st storage.Store) storage.Store {
	if st == nil {
		return nil
	}
	return instrumentedStore{next: st}
}

func (s instrumentedStore) Init(ctx context.Context) error {
	start := time.Now()
	err := s.next.Init(ctx)
	observeStore("init", start, err)
	return err
}

func (s instrumentedStore) Insert(ctx context.Context, r storage.Record) (bool, error) {
	start := time.Now()
	ok, err := s.next.Insert(ctx, r)
	observeStore("insert", start, err)
	return ok, err
}

func (s instrumentedStore) CountSince(ctx context.Context, window time.Duration) (int64, error) {
	start := time.Now()
	n, err := s.next.CountSince(ctx, window)
	observeStore("count_since", start, err)
	return n, err
}

func (s instrumentedStore) UniqueUsersSince(ctx context.Context, window time.Duration) (int64, error) {
	start := time.Now()
	n, err := s.next.UniqueUsersSince(ctx, window)
	observeStore("unique_users_since", start, err)
	return n, err
}

func (s instrumentedStore) LifetimeCountForUser(ctx context.Context, userID string) (int64, error) {
	start := time.Now()
	n, err := s.next.LifetimeCountForUser(ctx, userID)
	observeStore("lifetime", start, err)
	return n, err
}

func (s instrumentedStore) Recent(ctx context.Context, limit int) ([]storage.Record, error) {
	start := time.Now()
	out, err := s.next.Recent(ctx, limit)
	observeStore("recent", start, err)
	return out, err
}

func (s instrumentedStore) Ping(ctx context.Context) error { return s.next.Ping(ctx) }

func (s instrumentedStore) Close() error { return s.next.Close() }
