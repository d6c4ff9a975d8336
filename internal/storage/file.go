package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	logx "exectracker/pkg/logx"
)

// fileStore is a dependency-free backend: an append-only JSON Lines log
// (<prefix>.executions.jsonl) replayed into memory on open. Queries scan the
// in-memory copy, which is fine for the volumes one channel produces.
type fileStore struct {
	log logx.Logger
	now func() time.Time

	mu      sync.Mutex
	path    string
	f       *os.File
	records []Record
	seen    map[string]struct{} // message ids
	nextID  int64
}

type fileRecord struct {
	ID             int64  `json:"id"`
	MessageID      string `json:"message_id"`
	UserID         string `json:"user_id"`
	Username       string `json:"username,omitempty"`
	TS             int64  `json:"ts"`
	ExecutionCount *int64 `json:"execution_count,omitempty"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	dir := filepath.Dir(path)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create storage directory")
	}
	return &fileStore{
		log:  log,
		now:  cfg.clock(),
		path: filepath.Join(dir, base) + ".executions.jsonl",
		seen: map[string]struct{}{},
	}, nil
}

// Init replays the log and opens it for appending. Calling it again is a no-op.
func (s *fileStore) Init(ctx context.Context) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f != nil {
		return nil
	}
	if err := s.replayLocked(); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "replay %s", s.path)
	}
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return errors.Wrapf(err, "open %s", s.path)
	}
	s.f = f
	return nil
}

func (s *fileStore) replayLocked() error {
	f, err := os.Open(s.path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	skipped := 0
	for sc.Scan() {
		var fr fileRecord
		if err := json.Unmarshal(sc.Bytes(), &fr); err != nil || fr.UserID == "" {
			// torn write at the tail after a crash
			skipped++
			continue
		}
		if fr.MessageID != "" {
			if _, dup := s.seen[fr.MessageID]; dup {
				continue
			}
			s.seen[fr.MessageID] = struct{}{}
		}
		s.records = append(s.records, Record(fr))
		if fr.ID > s.nextID {
			s.nextID = fr.ID
		}
	}
	if skipped > 0 {
		s.log.Warn("skipped unreadable execution log lines", logx.Int("count", skipped), logx.String("path", s.path))
	}
	return sc.Err()
}

func (s *fileStore) Insert(ctx context.Context, r Record) (bool, error) {
	_ = ctx
	if strings.TrimSpace(r.MessageID) == "" {
		return false, ErrNoMessageID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return false, ErrClosed
	}
	if _, dup := s.seen[r.MessageID]; dup {
		return false, nil
	}
	r.ID = s.nextID + 1
	b, err := json.Marshal(fileRecord(r))
	if err != nil {
		return false, errors.Wrap(err, "encode execution")
	}
	if _, err := s.f.Write(append(b, '\n')); err != nil {
		return false, errors.Wrapf(err, "append %s", s.path)
	}
	s.nextID = r.ID
	s.seen[r.MessageID] = struct{}{}
	s.records = append(s.records, r)
	return true, nil
}

func (s *fileStore) CountSince(ctx context.Context, window time.Duration) (int64, error) {
	_ = ctx
	from := cutoff(s.now(), window)
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, r := range s.records {
		if r.TS >= from {
			n++
		}
	}
	return n, nil
}

func (s *fileStore) UniqueUsersSince(ctx context.Context, window time.Duration) (int64, error) {
	_ = ctx
	from := cutoff(s.now(), window)
	s.mu.Lock()
	defer s.mu.Unlock()
	users := map[string]struct{}{}
	for _, r := range s.records {
		if r.TS >= from {
			users[r.UserID] = struct{}{}
		}
	}
	return int64(len(users)), nil
}

func (s *fileStore) LifetimeCountForUser(ctx context.Context, userID string) (int64, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, r := range s.records {
		if r.UserID == userID {
			n++
		}
	}
	return n, nil
}

func (s *fileStore) Recent(ctx context.Context, limit int) ([]Record, error) {
	_ = ctx
	if limit <= 0 {
		return nil, nil
	}
	s.mu.Lock()
	out := append([]Record(nil), s.records...)
	s.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].TS != out[j].TS {
			return out[i].TS > out[j].TS
		}
		return out[i].ID > out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *fileStore) Ping(ctx context.Context) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return ErrClosed
	}
	return nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}
