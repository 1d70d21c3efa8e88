package repository

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"datahub.migas.id/clearinghouse/internal/domain"
)

// ErrNotFound is domain.ErrNotFound; repository callers check either.
var ErrNotFound = domain.ErrNotFound

func notFound(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, domain.ErrNotFound)
	}
	return fmt.Errorf("%s: %w", what, err)
}

func encodeMetadata(md map[string]any) (string, error) {
	if len(md) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(md)
	if err != nil {
		return "", fmt.Errorf("encode metadata: %w", err)
	}
	return string(b), nil
}

// decodeMetadata keeps numbers as json.Number so that hashing a record read
// back from storage matches the hash computed at insert time.
func decodeMetadata(s string) (map[string]any, error) {
	if s == "" || s == "{}" {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(s)))
	dec.UseNumber()
	var md map[string]any
	if err := dec.Decode(&md); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	if len(md) == 0 {
		return nil, nil
	}
	return md, nil
}

func encodeLimits(l map[string]int64) (string, error) {
	if len(l) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(l)
	if err != nil {
		return "", fmt.Errorf("encode limits: %w", err)
	}
	return string(b), nil
}

func decodeLimits(s string) (map[string]int64, error) {
	l := map[string]int64{}
	if s == "" {
		return l, nil
	}
	if err := json.Unmarshal([]byte(s), &l); err != nil {
		return nil, fmt.Errorf("decode limits: %w", err)
	}
	return l, nil
}

// utc normalizes times before they reach the driver; stored values are
// compared as UTC in both dialects.
func utc(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: utc(*t), Valid: true}
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}

// chainHead returns the last sequence and hash of table, zero for an empty chain.
func (q *Queries) chainHead(ctx context.Context, table string) (int64, string, error) {
	var (
		seq  int64
		hash string
	)
	err := q.db.QueryRowContext(ctx,
		`SELECT sequence, integrity_hash FROM `+table+` ORDER BY sequence DESC LIMIT 1`,
	).Scan(&seq, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, "", nil
	}
	if err != nil {
		return 0, "", fmt.Errorf("read %s head: %w", table, err)
	}
	return seq, hash, nil
}

type sealer interface {
	Seal(seq int64, prevHash string) error
}

// seal locks the chain, reads its head and stamps rec as the next link.
func (q *Queries) seal(ctx context.Context, chain string, rec sealer) error {
	if err := q.LockChain(ctx, chain); err != nil {
		return err
	}
	seq, prev, err := q.chainHead(ctx, chain)
	if err != nil {
		return err
	}
	if err := rec.Seal(seq+1, prev); err != nil {
		return fmt.Errorf("seal %s record: %w", chain, err)
	}
	return nil
}

// scanner matches *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// chainBatch is the page size used when walking a chain.
const chainBatch = 500

// canonicalMetadata round-trips md through its stored encoding so the hash
// is computed over exactly what a later read returns.
func canonicalMetadata(md map[string]any) (map[string]any, error) {
	s, err := encodeMetadata(md)
	if err != nil {
		return nil, err
	}
	return decodeMetadata(s)
}
