// Package store persists taxonomy events and document results in SQL,
// using ent's dialect-aware builders over SQLite or Postgres.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/joseph-ayodele/statement-extractor/internal/common"
)

const (
	tableEvents    = "soa_events"
	tableResults   = "soa_results"
	tableDocuments = "soa_documents"
)

// Store owns the SQL driver. All methods are safe for concurrent use.
type Store struct {
	drv     *entsql.Driver
	dialect string
	pool    *pgxpool.Pool
	logger  *slog.Logger
	seq     atomic.Int64
	now     func() time.Time
}

// Open connects to the configured backend and creates missing tables.
func Open(ctx context.Context, cfg common.StoreConfig, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var (
		s   *Store
		err error
	)
	switch cfg.Driver {
	case common.StoreSQLite:
		s, err = OpenSQLite(cfg.DSN, logger)
	case common.StorePostgres:
		s, err = openPostgres(ctx, cfg, logger)
	default:
		return nil, common.ConfigError("unsupported store driver " + cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// OpenSQLite opens an embedded database. SQLite has a single writer, so
// the pool is capped at one connection.
func OpenSQLite(dsn string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("store.connect", "driver", common.StoreSQLite, "dsn", dsn)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, common.DBError("open sqlite", err)
	}
	db.SetMaxOpenConns(1)
	return newStore(entsql.OpenDB(dialect.SQLite, db), dialect.SQLite, nil, logger), nil
}

func openPostgres(ctx context.Context, cfg common.StoreConfig, logger *slog.Logger) (*Store, error) {
	logger.Info("store.connect", "driver", common.StorePostgres)
	pc, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		logger.Error("store.connect.failed", "error", err)
		return nil, common.DBError("parse dsn", err)
	}

	pc.MaxConns = cfg.MaxConns
	pc.MinConns = cfg.MinConns
	pc.MaxConnLifetime = cfg.MaxConnLifetime
	pc.MaxConnIdleTime = cfg.MaxConnIdleTime
	pc.ConnConfig.RuntimeParams["application_name"] = "statement-extractor"
	if cfg.StatementTimeout > 0 {
		pc.ConnConfig.RuntimeParams["statement_timeout"] = fmt.Sprint(cfg.StatementTimeout.Milliseconds())
	}

	dialCtx := ctx
	if cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, cfg.DialTimeout)
		defer cancel()
	}
	pool, err := pgxpool.NewWithConfig(dialCtx, pc)
	if err != nil {
		logger.Error("store.connect.failed", "error", err)
		return nil, common.DBError("connect postgres", err)
	}

	// Wrap pool as *sql.DB for ent's driver
	db := stdlib.OpenDBFromPool(pool)
	logger.Info("store.connect.ok", "driver", common.StorePostgres)
	return newStore(entsql.OpenDB(dialect.Postgres, db), dialect.Postgres, pool, logger), nil
}

func newStore(drv *entsql.Driver, d string, pool *pgxpool.Pool, logger *slog.Logger) *Store {
	s := &Store{drv: drv, dialect: d, pool: pool, logger: logger, now: time.Now}
	s.seq.Store(time.Now().UnixNano())
	return s
}

func (s *Store) builder() *entsql.DialectBuilder { return entsql.Dialect(s.dialect) }

// Migrate creates the tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	b := s.builder()
	stmts := []entsql.Querier{
		b.CreateTable(tableEvents).IfNotExists().
			Columns(
				entsql.Column("id").Type("text").Attr("NOT NULL"),
				entsql.Column("seq").Type("bigint").Attr("NOT NULL"),
				entsql.Column("ts").Type("text").Attr("NOT NULL"),
				entsql.Column("level").Type("text").Attr("NOT NULL"),
				entsql.Column("code").Type("text").Attr("NOT NULL"),
				entsql.Column("stage").Type("text").Attr("NOT NULL"),
				entsql.Column("doc_id").Type("text").Attr("NOT NULL"),
				entsql.Column("file").Type("text").Attr("NOT NULL"),
				entsql.Column("page").Type("integer"),
				entsql.Column("record_id").Type("text"),
				entsql.Column("grp").Type("text"),
				entsql.Column("txn_type").Type("text"),
				entsql.Column("message").Type("text").Attr("NOT NULL"),
				entsql.Column("meta").Type("text"),
			).
			PrimaryKey("id"),
		b.CreateTable(tableDocuments).IfNotExists().
			Columns(
				entsql.Column("doc_id").Type("text").Attr("NOT NULL"),
				entsql.Column("source_document").Type("text").Attr("NOT NULL"),
				entsql.Column("pages").Type("integer").Attr("NOT NULL"),
				entsql.Column("ignored_pages").Type("integer").Attr("NOT NULL"),
				entsql.Column("failed").Type("integer").Attr("NOT NULL"),
				entsql.Column("records").Type("integer").Attr("NOT NULL"),
				entsql.Column("created_at").Type("text").Attr("NOT NULL"),
			).
			PrimaryKey("doc_id"),
		b.CreateTable(tableResults).IfNotExists().
			Columns(
				entsql.Column("doc_id").Type("text").Attr("NOT NULL"),
				entsql.Column("idx").Type("integer").Attr("NOT NULL"),
				entsql.Column("status").Type("text").Attr("NOT NULL"),
				entsql.Column("page").Type("integer"),
				entsql.Column("grp").Type("text"),
				entsql.Column("txn_type").Type("text"),
				entsql.Column("data").Type("text"),
			).
			PrimaryKey("doc_id", "idx"),
	}
	for _, st := range stmts {
		q, args := st.Query()
		if err := s.drv.Exec(ctx, q, args, nil); err != nil {
			return common.DBError("migrate", err)
		}
	}
	if err := s.drv.Exec(ctx, "CREATE INDEX IF NOT EXISTS soa_events_doc_id ON "+tableEvents+" (doc_id)", []any{}, nil); err != nil {
		return common.DBError("migrate index", err)
	}
	s.logger.Debug("store.migrate.ok", "dialect", s.dialect)
	return nil
}

// Close closes the database connections gracefully
func (s *Store) Close() error {
	s.logger.Info("store.close")
	err := s.drv.Close()
	if s.pool != nil {
		s.pool.Close()
	}
	return err
}

// HealthCheck pings the database.
func (s *Store) HealthCheck(ctx context.Context, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return s.drv.DB().PingContext(ctx)
}

func nullString(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return &ns.String
}

func intPtr(ni sql.NullInt64) *int {
	if !ni.Valid {
		return nil
	}
	v := int(ni.Int64)
	return &v
}
