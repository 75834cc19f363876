package storage

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"docflow/internal/util"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

type DB struct {
	Pool *pgxpool.Pool
}

func NewDB(ctx context.Context, dsn string) (*DB, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &DB{Pool: pool}, nil
}

func (d *DB) Close() {
	if d != nil && d.Pool != nil {
		d.Pool.Close()
	}
}

// EnsureSchema applies the embedded schema. Every statement is idempotent.
func (d *DB) EnsureSchema(ctx context.Context) error {
	if _, err := d.Pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// inTx runs fn in a transaction, committing when it returns nil.
func (d *DB) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := d.Pool.Begin(ctx)
	if err != nil {
		return wrapErr("begin tx", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return wrapErr("commit tx", err)
	}
	return nil
}

// wrapErr maps driver errors onto the util sentinels.
func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, util.ErrNotFound)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "23505":
			return fmt.Errorf("%s: %w: %s", op, util.ErrConflict, pgErr.ConstraintName)
		case pgErr.Code == "23503":
			return fmt.Errorf("%s: %w: %s", op, util.ErrNotFound, pgErr.ConstraintName)
		case pgErr.Code == "40001", pgErr.Code == "40P01", strings.HasPrefix(pgErr.Code, "08"), pgErr.Code == "57P01":
			return fmt.Errorf("%s: %w", op, util.Transient(err))
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	if pgconn.SafeToRetry(err) || pgconn.Timeout(err) {
		return fmt.Errorf("%s: %w", op, util.Transient(err))
	}
	return fmt.Errorf("%s: %w", op, err)
}

// Postgres is the storage.Store backed by the repos in this package.
type Postgres struct {
	*TypeRepo
	*MetadataRepo
	*DocumentRepo
	*VersionRepo
	*IndexRepo
	*LockRepo
	db *DB
}

var _ Store = (*Postgres)(nil)

func NewPostgres(db *DB) *Postgres {
	return &Postgres{
		TypeRepo:     NewTypeRepo(db),
		MetadataRepo: NewMetadataRepo(db),
		DocumentRepo: NewDocumentRepo(db),
		VersionRepo:  NewVersionRepo(db),
		IndexRepo:    NewIndexRepo(db),
		LockRepo:     NewLockRepo(db),
		db:           db,
	}
}

// DB exposes the pool for components that query Postgres directly.
func (p *Postgres) DB() *DB { return p.db }

func (p *Postgres) Close() error {
	p.db.Close()
	return nil
}
