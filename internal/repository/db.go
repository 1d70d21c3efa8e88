// Package repository persists audit chains and licenses through database/sql.
//
// Queries follow the sqlc layout: a Queries value bound to a DBTX (either
// *sql.DB or *sql.Tx) and one method per statement. Two dialects share the
// same statements with $n placeholders: PostgreSQL through pgx's stdlib
// adapter and SQLite through modernc.org/sqlite.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// Dialect selects dialect-specific SQL fragments.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// DBTX is satisfied by *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Queries runs statements against a DBTX.
type Queries struct {
	db      DBTX
	dialect Dialect
}

// New creates Queries for db.
func New(db DBTX, dialect Dialect) *Queries {
	return &Queries{db: db, dialect: dialect}
}

// WithTx returns Queries bound to tx.
func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx, dialect: q.dialect}
}

// Dialect returns the SQL dialect.
func (q *Queries) Dialect() Dialect { return q.dialect }

// forUpdate is the row lock suffix; SQLite serializes writers instead.
func (q *Queries) forUpdate() string {
	if q.dialect == DialectPostgres {
		return " FOR UPDATE"
	}
	return ""
}

// LockChain serializes appends to one audit chain for the rest of the
// transaction. On SQLite the single writer connection already does.
func (q *Queries) LockChain(ctx context.Context, chain string) error {
	if q.dialect != DialectPostgres {
		return nil
	}
	if _, err := q.db.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, chain); err != nil {
		return fmt.Errorf("lock chain %s: %w", chain, err)
	}
	return nil
}

// Store owns the connection and runs transactions.
type Store struct {
	*Queries
	db *sql.DB
}

// NewStore wraps db.
func NewStore(db *sql.DB, dialect Dialect) *Store {
	return &Store{Queries: New(db, dialect), db: db}
}

// DB returns the underlying handle.
func (s *Store) DB() *sql.DB { return s.db }

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// InTx runs fn inside a transaction, committing when fn returns nil.
func (s *Store) InTx(ctx context.Context, fn func(q *Queries) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				err = errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
			}
		}
	}()

	if err = fn(s.WithTx(tx)); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// where accumulates AND-ed predicates with numbered placeholders. Clauses
// are written with "?" which is rewritten to the next $n.
type where struct {
	clauses []string
	args    []any
}

func (w *where) add(clause string, arg any) {
	w.args = append(w.args, arg)
	w.clauses = append(w.clauses, strings.Replace(clause, "?", fmt.Sprintf("$%d", len(w.args)), 1))
}

func (w *where) raw(clause string) {
	w.clauses = append(w.clauses, clause)
}

func (w *where) sql() string {
	if len(w.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.clauses, " AND ")
}

// page appends LIMIT/OFFSET placeholders and returns the clause with args.
func (w *where) page(limit, offset int) (string, []any) {
	args := append(append([]any{}, w.args...), limit, offset)
	n := len(w.args)
	return fmt.Sprintf(" LIMIT $%d OFFSET $%d", n+1, n+2), args
}

func collect[T any](rows *sql.Rows, scan func(scanner) (T, error)) ([]T, error) {
	var out []T
	for rows.Next() {
		item, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// WalkChain feeds every link of a chain to fn in ascending sequence order,
// reading in batches. It stops when fn returns false.
func WalkChain[T interface{ ChainSequence() int64 }](
	ctx context.Context,
	page func(ctx context.Context, after int64, limit int) ([]T, error),
	fn func(T) (bool, error),
) error {
	var after int64
	for {
		batch, err := page(ctx, after, chainBatch)
		if err != nil {
			return err
		}
		for _, item := range batch {
			cont, err := fn(item)
			if err != nil {
				return err
			}
			if !cont {
				return nil
			}
			after = item.ChainSequence()
		}
		if len(batch) < chainBatch {
			return nil
		}
	}
}

// prefixed qualifies a comma separated column list with alias.
func prefixed(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}
