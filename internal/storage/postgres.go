package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"

	"github.com/lib/pq"

	"github.com/example/wash-hup/internal/apperr"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

type PostgresStore struct {
	pgRepo
	db *sql.DB
}

func NewPostgresStore(ctx context.Context, dsn string, logger *slog.Logger) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	return &PostgresStore{pgRepo: pgRepo{q: db, logger: logger}, db: db}, nil
}

func (p *PostgresStore) WithTx(ctx context.Context, fn func(Repo) error) error {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return apperr.Unavailable("begin transaction", err)
	}
	defer func() {
		if rec := recover(); rec != nil {
			_ = tx.Rollback()
			panic(rec)
		}
	}()
	if err := fn(pgRepo{q: tx, logger: p.logger}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return apperr.Internal("commit transaction", err)
	}
	return nil
}

func (p *PostgresStore) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

func (p *PostgresStore) Close() error { return p.db.Close() }

// Migrate applies the embedded migrations in file name order. All statements
// are idempotent so running it on every start is safe.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	names, err := fs.Glob(migrationsFS, "migrations/*.sql")
	if err != nil {
		return err
	}
	sort.Strings(names)
	for _, name := range names {
		b, err := migrationsFS.ReadFile(name)
		if err != nil {
			return err
		}
		if _, err := p.db.ExecContext(ctx, string(b)); err != nil {
			return fmt.Errorf("apply %s: %w", name, err)
		}
		p.logger.Info("migration applied", "file", name)
	}
	return nil
}

type pgRepo struct {
	q      querier
	logger *slog.Logger
}

// mapErr turns driver errors into apperr values for entity.
func (r pgRepo) mapErr(err error, entity string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.NotFound(entity)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23505":
			return apperr.Conflict(entity + " already exists")
		case "23503":
			return apperr.NotFound(entity + " reference")
		case "23514":
			return apperr.InvalidState(entity + " violates state constraint")
		}
	}
	r.logger.Error("postgres query failed", "entity", entity, "error", err)
	return apperr.Internal(entity+" query failed", err)
}

func (r pgRepo) exec(ctx context.Context, entity, query string, args ...any) (int64, error) {
	res, err := r.q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, r.mapErr(err, entity)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, r.mapErr(err, entity)
	}
	return n, nil
}

// execOne fails with NotFound when no row was touched.
func (r pgRepo) execOne(ctx context.Context, entity, query string, args ...any) error {
	n, err := r.exec(ctx, entity, query, args...)
	if err != nil {
		return err
	}
	if n == 0 {
		return apperr.NotFound(entity)
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
