package storage

import (
	"context"
	"database/sql"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	logx "exectracker/pkg/logx"
)

type dialect int

const (
	dialectSQLite dialect = iota
	dialectPostgres
)

// sqlStore implements Store on database/sql. The queries are written with
// "?" placeholders and rebound for Postgres.
type sqlStore struct {
	db      *sql.DB
	log     logx.Logger
	now     func() time.Time
	schema  string
	dialect dialect
}

func newSQLStore(db *sql.DB, d dialect, schema string, now func() time.Time, log logx.Logger) *sqlStore {
	if now == nil {
		now = time.Now
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &sqlStore{db: db, log: log, now: now, schema: schema, dialect: d}
}

func (s *sqlStore) q(query string) string {
	if s.dialect != dialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func (s *sqlStore) Init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, s.schema); err != nil {
		return errors.Wrap(err, "create executions schema")
	}
	return nil
}

func (s *sqlStore) Insert(ctx context.Context, r Record) (bool, error) {
	if strings.TrimSpace(r.MessageID) == "" {
		return false, ErrNoMessageID
	}
	res, err := s.db.ExecContext(ctx, s.q(
		`INSERT INTO executions(message_id, user_id, username, ts, execution_count)
		 VALUES(?,?,?,?,?)
		 ON CONFLICT(message_id) DO NOTHING`),
		r.MessageID, r.UserID, nullStr(r.Username), r.TS, nullInt(r.ExecutionCount),
	)
	if err != nil {
		return false, errors.Wrapf(err, "insert execution %s", r.MessageID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "insert execution: rows affected")
	}
	return n == 1, nil
}

func (s *sqlStore) CountSince(ctx context.Context, window time.Duration) (int64, error) {
	return s.count(ctx, `SELECT COUNT(*) FROM executions WHERE ts >= ?`, cutoff(s.now(), window))
}

func (s *sqlStore) UniqueUsersSince(ctx context.Context, window time.Duration) (int64, error) {
	return s.count(ctx, `SELECT COUNT(DISTINCT user_id) FROM executions WHERE ts >= ?`, cutoff(s.now(), window))
}

func (s *sqlStore) LifetimeCountForUser(ctx context.Context, userID string) (int64, error) {
	return s.count(ctx, `SELECT COUNT(*) FROM executions WHERE user_id = ?`, userID)
}

func (s *sqlStore) count(ctx context.Context, query string, arg any) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, s.q(query), arg).Scan(&n); err != nil {
		return 0, errors.Wrap(err, "count executions")
	}
	return n, nil
}

func (s *sqlStore) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, s.q(
		`SELECT id, message_id, user_id, username, ts, execution_count
		 FROM executions
		 ORDER BY ts DESC, id DESC
		 LIMIT ?`), limit)
	if err != nil {
		return nil, errors.Wrap(err, "recent executions")
	}
	defer rows.Close()

	out := make([]Record, 0, limit)
	for rows.Next() {
		var (
			r        Record
			msgID    sql.NullString
			username sql.NullString
			count    sql.NullInt64
		)
		if err := rows.Scan(&r.ID, &msgID, &r.UserID, &username, &r.TS, &count); err != nil {
			return nil, errors.Wrap(err, "scan execution")
		}
		r.MessageID = msgID.String
		r.Username = username.String
		if count.Valid {
			v := count.Int64
			r.ExecutionCount = &v
		}
		out = append(out, r)
	}
	return out, errors.Wrap(rows.Err(), "recent executions")
}

func (s *sqlStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *sqlStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func nullInt(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}
