package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
)

var testNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return testNow }

func i64(v int64) *int64 { return &v }

type opener func(t *testing.T) Store

func openTestStore(t *testing.T, driver string) Store {
	t.Helper()
	dir := t.TempDir()
	cfg := Config{Driver: driver, Clock: fixedClock}
	switch driver {
	case "sqlite":
		cfg.Path = filepath.Join(dir, "executions.db")
		cfg.BusyTimeout = 2 * time.Second
	case "file":
		cfg.Path = filepath.Join(dir, "executions")
	}
	st, err := Open(context.Background(), cfg, newTestLogger())
	if err != nil {
		t.Fatalf("Open(%s): %v", driver, err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestStores(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"sqlite", "file"} {
		driver := driver
		open := func(t *testing.T) Store { return openTestStore(t, driver) }
		t.Run(driver+"/insert duplicate", func(t *testing.T) { t.Parallel(); testInsertDuplicate(t, open) })
		t.Run(driver+"/window edges", func(t *testing.T) { t.Parallel(); testWindowEdges(t, open) })
		t.Run(driver+"/windows monotone", func(t *testing.T) { t.Parallel(); testWindowsMonotone(t, open) })
		t.Run(driver+"/lifetime", func(t *testing.T) { t.Parallel(); testLifetime(t, open) })
		t.Run(driver+"/recent", func(t *testing.T) { t.Parallel(); testRecent(t, open) })
		t.Run(driver+"/concurrent duplicates", func(t *testing.T) { t.Parallel(); testConcurrentDuplicates(t, open) })
		t.Run(driver+"/init twice", func(t *testing.T) { t.Parallel(); testInitTwice(t, open) })
		t.Run(driver+"/empty message id", func(t *testing.T) { t.Parallel(); testEmptyMessageID(t, open) })
	}
}

func testInsertDuplicate(t *testing.T, open opener) {
	ctx := context.Background()
	st := open(t)
	r := Record{MessageID: "m1", UserID: "12345", Username: "alice", TS: testNow.Unix(), ExecutionCount: i64(7)}

	ok, err := st.Insert(ctx, r)
	if err != nil || !ok {
		t.Fatalf("first Insert = %v, %v; want true, nil", ok, err)
	}
	r.Username = "someone-else"
	ok, err = st.Insert(ctx, r)
	if err != nil || ok {
		t.Fatalf("second Insert = %v, %v; want false, nil", ok, err)
	}
	if n, _ := st.CountSince(ctx, time.Hour); n != 1 {
		t.Fatalf("CountSince = %d, want 1", n)
	}
	recent, err := st.Recent(ctx, 5)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recent) != 1 || recent[0].Username != "alice" {
		t.Fatalf("first write must win, got %+v", recent)
	}
	if recent[0].ExecutionCount == nil || *recent[0].ExecutionCount != 7 {
		t.Fatalf("execution count not stored: %+v", recent[0])
	}
}

func testWindowEdges(t *testing.T, open opener) {
	ctx := context.Background()
	st := open(t)
	insert(t, st, "old", "u1", testNow.Unix()-61)
	if n, _ := st.CountSince(ctx, time.Minute); n != 0 {
		t.Fatalf("61s old record counted in last minute: %d", n)
	}
	if n, _ := st.CountSince(ctx, time.Hour); n != 1 {
		t.Fatalf("61s old record missing from last hour: %d", n)
	}
	insert(t, st, "edge", "u2", testNow.Unix()-60)
	if n, _ := st.CountSince(ctx, time.Minute); n != 1 {
		t.Fatalf("record exactly 60s old should be inside the window: %d", n)
	}
}

func testWindowsMonotone(t *testing.T, open opener) {
	ctx := context.Background()
	st := open(t)
	ages := []int64{0, 5, 59, 120, 1800, 3599, 3601, 40000, 86399, 90000, 200000}
	for i, age := range ages {
		insert(t, st, fmt.Sprintf("m%d", i), fmt.Sprintf("u%d", i%4), testNow.Unix()-age)
	}
	windows := []time.Duration{time.Minute, time.Hour, 24 * time.Hour}
	var prevCount, prevUsers int64
	for _, w := range windows {
		c, err := st.CountSince(ctx, w)
		if err != nil {
			t.Fatalf("CountSince(%v): %v", w, err)
		}
		u, err := st.UniqueUsersSince(ctx, w)
		if err != nil {
			t.Fatalf("UniqueUsersSince(%v): %v", w, err)
		}
		if u > c {
			t.Fatalf("unique users %d > executions %d for %v", u, c, w)
		}
		if c < prevCount || u < prevUsers {
			t.Fatalf("window %v not monotone: count %d (prev %d) users %d (prev %d)", w, c, prevCount, u, prevUsers)
		}
		prevCount, prevUsers = c, u
	}
	if prevCount != 9 {
		t.Fatalf("last day count = %d, want 9", prevCount)
	}
	if u, _ := st.UniqueUsersSince(ctx, time.Minute); u != 3 {
		t.Fatalf("last minute unique users = %d, want 3", u)
	}
}

func testLifetime(t *testing.T, open opener) {
	ctx := context.Background()
	st := open(t)
	insert(t, st, "a", "42", testNow.Unix()-500000)
	insert(t, st, "b", "42", testNow.Unix())
	insert(t, st, "c", "7", testNow.Unix())
	if n, err := st.LifetimeCountForUser(ctx, "42"); err != nil || n != 2 {
		t.Fatalf("LifetimeCountForUser(42) = %d, %v; want 2", n, err)
	}
	if n, _ := st.LifetimeCountForUser(ctx, "nobody"); n != 0 {
		t.Fatalf("LifetimeCountForUser(nobody) = %d, want 0", n)
	}
}

func testRecent(t *testing.T, open opener) {
	ctx := context.Background()
	st := open(t)
	insert(t, st, "m1", "u", testNow.Unix()-30)
	insert(t, st, "m2", "u", testNow.Unix()-10)
	insert(t, st, "m3", "u", testNow.Unix()-20)
	got, err := st.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 2 || got[0].MessageID != "m2" || got[1].MessageID != "m3" {
		t.Fatalf("Recent order wrong: %+v", got)
	}
	if got, _ := st.Recent(ctx, 0); len(got) != 0 {
		t.Fatalf("Recent(0) = %+v, want empty", got)
	}
}

func testConcurrentDuplicates(t *testing.T, open opener) {
	ctx := context.Background()
	st := open(t)
	var (
		wg   sync.WaitGroup
		wins atomic.Int32
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := st.Insert(ctx, Record{MessageID: "same", UserID: "u", TS: testNow.Unix()})
			if err != nil {
				t.Errorf("Insert: %v", err)
				return
			}
			if ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	if wins.Load() != 1 {
		t.Fatalf("%d inserts reported new, want exactly 1", wins.Load())
	}
}

func testEmptyMessageID(t *testing.T, open opener) {
	ctx := context.Background()
	st := open(t)
	for _, id := range []string{"", "  "} {
		ok, err := st.Insert(ctx, Record{MessageID: id, UserID: "u", TS: testNow.Unix()})
		if !errors.Is(err, ErrNoMessageID) || ok {
			t.Fatalf("Insert(%q) = %v, %v; want false, ErrNoMessageID", id, ok, err)
		}
	}
	if n, _ := st.CountSince(ctx, time.Hour); n != 0 {
		t.Fatalf("count = %d, want 0", n)
	}
}

func testInitTwice(t *testing.T, open opener) {
	st := open(t)
	if err := st.Init(context.Background()); err != nil {
		t.Fatalf("second Init: %v", err)
	}
	if err := st.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}

func insert(t *testing.T, st Store, msgID, userID string, ts int64) {
	t.Helper()
	ok, err := st.Insert(context.Background(), Record{MessageID: msgID, UserID: userID, TS: ts})
	if err != nil || !ok {
		t.Fatalf("Insert(%s) = %v, %v", msgID, ok, err)
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()
	_, err := Open(context.Background(), Config{Driver: "mongo"}, newTestLogger())
	if err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestFileStoreReplay(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "executions")
	cfg := Config{Driver: "file", Path: path, Clock: fixedClock}

	st, err := Open(ctx, cfg, newTestLogger())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	insert(t, st, "m1", "u1", testNow.Unix())
	insert(t, st, "m2", "u2", testNow.Unix()-7200)
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	st, err = Open(ctx, cfg, newTestLogger())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st.Close()
	if ok, _ := st.Insert(ctx, Record{MessageID: "m1", UserID: "u1", TS: testNow.Unix()}); ok {
		t.Fatal("replayed message id accepted again")
	}
	if n, _ := st.CountSince(ctx, 24*time.Hour); n != 2 {
		t.Fatalf("CountSince after replay = %d, want 2", n)
	}
	insert(t, st, "m3", "u3", testNow.Unix())
	recent, _ := st.Recent(ctx, 1)
	if len(recent) != 1 || recent[0].ID != 3 {
		t.Fatalf("ids should continue after replay, got %+v", recent)
	}
}

func TestFileStoreClosed(t *testing.T) {
	t.Parallel()
	st := openTestStore(t, "file")
	_ = st.Close()
	if _, err := st.Insert(context.Background(), Record{MessageID: "x", UserID: "u"}); err == nil {
		t.Fatal("expected error inserting into closed store")
	}
}
