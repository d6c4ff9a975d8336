package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	_ "github.com/jackc/pgx/v5/stdlib"

	logx "exectracker/pkg/logx"
)

//go:embed schema_postgres.sql
var postgresSchema string

// openPostgres connects through pgx's database/sql driver and fails fast if
// the database is unreachable.
func openPostgres(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("postgres dsn is required")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open postgres")
	}
	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(4)
	db.SetConnMaxIdleTime(5 * time.Minute)

	pctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pctx); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "ping postgres")
	}
	log.Debug("postgres connected")
	return newSQLStore(db, dialectPostgres, postgresSchema, cfg.clock(), log), nil
}
