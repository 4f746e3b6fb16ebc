// Package store implements core.Store on PostgreSQL with pgx.
//
// Ids are uuid columns read back as text. Absent rows surface as
// core.ErrNotFound and unique violations as core.ErrConflict, so callers
// never see driver errors for those cases.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/JonMunkholm/formexport/internal/core"
)

// Postgres error codes handled explicitly.
const (
	pgUniqueViolation     = "23505"
	pgInvalidTextValue    = "22P02" // e.g. a malformed uuid
	pgForeignKeyViolation = "23503"
)

// DBTX is satisfied by *pgxpool.Pool, pgx.Tx and pgxmock pools.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Postgres is the relational store behind the export service.
type Postgres struct {
	db   DBTX
	inTx bool
}

var _ core.Store = (*Postgres)(nil)

// New returns a store using db, typically a *pgxpool.Pool.
func New(db DBTX) *Postgres {
	return &Postgres{db: db}
}

// InTx runs fn in a transaction. Nested calls reuse the outer transaction.
func (p *Postgres) InTx(ctx context.Context, fn func(tx core.Store) error) error {
	if p.inTx {
		return fn(p)
	}

	tx, err := p.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(&Postgres{db: tx, inTx: true}); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			return fmt.Errorf("%w (rollback error: %v)", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", mapErr(err))
	}
	return nil
}

// mapErr translates driver errors into core sentinels.
func mapErr(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return core.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return fmt.Errorf("%w: %s", core.ErrConflict, pgErr.ConstraintName)
		case pgInvalidTextValue, pgForeignKeyViolation:
			return fmt.Errorf("%w: %s", core.ErrNotFound, pgErr.Message)
		}
	}
	return err
}

func wrap(what string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", what, mapErr(err))
}

// expectOne reports ErrNotFound when a write touched no rows.
func expectOne(what string, tag pgconn.CommandTag, err error) error {
	if err != nil {
		return wrap(what, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", what, core.ErrNotFound)
	}
	return nil
}
