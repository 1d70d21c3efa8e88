package repository

import (
	"context"
	"fmt"

	"datahub.migas.id/clearinghouse/internal/domain"
)

const requestColumns = `id, sequence, request_id, request_type, dataset_id, action, status,
	actor_id, requester_id, reason, metadata, logged_at, previous_hash, integrity_hash`

func scanRequestLog(s scanner) (*domain.RequestActionAuditLog, error) {
	var (
		r  domain.RequestActionAuditLog
		md string
	)
	if err := s.Scan(
		&r.ID, &r.Sequence, &r.RequestID, &r.RequestType, &r.DatasetID, &r.Action, &r.Status,
		&r.ActorID, &r.RequesterID, &r.Reason, &md, &r.Timestamp, &r.PreviousHash, &r.IntegrityHash,
	); err != nil {
		return nil, err
	}
	var err error
	if r.Metadata, err = decodeMetadata(md); err != nil {
		return nil, err
	}
	r.Timestamp = r.Timestamp.UTC()
	return &r, nil
}

// AppendRequestLog seals rec onto the request chain and inserts it.
// Must run inside a transaction.
func (q *Queries) AppendRequestLog(ctx context.Context, rec *domain.RequestActionAuditLog) error {
	var err error
	if rec.Metadata, err = canonicalMetadata(rec.Metadata); err != nil {
		return err
	}
	rec.Timestamp = utc(rec.Timestamp)
	if err := q.seal(ctx, domain.ChainRequest, rec); err != nil {
		return err
	}
	md, err := encodeMetadata(rec.Metadata)
	if err != nil {
		return err
	}
	_, err = q.db.ExecContext(ctx, `INSERT INTO request_action_audit_logs (`+requestColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		rec.ID, rec.Sequence, rec.RequestID, rec.RequestType, rec.DatasetID, rec.Action, rec.Status,
		rec.ActorID, rec.RequesterID, rec.Reason, md, rec.Timestamp, rec.PreviousHash, rec.IntegrityHash,
	)
	if err != nil {
		return fmt.Errorf("insert request log: %w", err)
	}
	return nil
}

// LatestRequestLog returns the current state of a request.
func (q *Queries) LatestRequestLog(ctx context.Context, requestID string) (*domain.RequestActionAuditLog, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM request_action_audit_logs
		WHERE request_id = $1 ORDER BY sequence DESC LIMIT 1`, requestID)
	r, err := scanRequestLog(row)
	if err != nil {
		return nil, notFound(err, "get request")
	}
	return r, nil
}

// RequestHistory returns every action on a request, oldest first.
func (q *Queries) RequestHistory(ctx context.Context, requestID string) ([]*domain.RequestActionAuditLog, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT `+requestColumns+` FROM request_action_audit_logs
		WHERE request_id = $1 ORDER BY sequence ASC`, requestID)
	if err != nil {
		return nil, fmt.Errorf("request history: %w", err)
	}
	defer rows.Close()
	return collect(rows, scanRequestLog)
}

const latestRequestRow = `r.sequence = (SELECT MAX(l.sequence) FROM request_action_audit_logs l WHERE l.request_id = r.request_id)`

// ListRequests returns the latest row of each request, newest activity first.
// UserID matches the requester; EntityID matches the dataset.
func (q *Queries) ListRequests(ctx context.Context, f domain.ListFilter) ([]*domain.RequestActionAuditLog, int64, error) {
	w := &where{}
	w.raw(latestRequestRow)
	if !f.From.IsZero() {
		w.add("r.logged_at >= ?", utc(f.From))
	}
	if !f.To.IsZero() {
		w.add("r.logged_at < ?", utc(f.To))
	}
	if f.Status != "" {
		w.add("r.status = ?", f.Status)
	}
	if f.UserID != "" {
		w.add("r.requester_id = ?", f.UserID)
	}
	if f.EntityType != "" {
		w.add("r.request_type = ?", f.EntityType)
	}
	if f.EntityID != "" {
		w.add("r.dataset_id = ?", f.EntityID)
	}

	var total int64
	if err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM request_action_audit_logs r`+w.sql(), w.args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count requests: %w", err)
	}

	limit, args := w.page(f.PerPage, f.Offset())
	rows, err := q.db.QueryContext(ctx, `SELECT `+prefixed("r", requestColumns)+` FROM request_action_audit_logs r`+
		w.sql()+` ORDER BY r.sequence DESC`+limit, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list requests: %w", err)
	}
	defer rows.Close()

	items, err := collect(rows, scanRequestLog)
	if err != nil {
		return nil, 0, fmt.Errorf("list requests: %w", err)
	}
	return items, total, nil
}

// PendingRequests returns requests whose latest row is PENDING, oldest first.
func (q *Queries) PendingRequests(ctx context.Context, limit int) ([]*domain.RequestActionAuditLog, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT `+prefixed("r", requestColumns)+` FROM request_action_audit_logs r
		WHERE `+latestRequestRow+` AND r.status = 'PENDING'
		ORDER BY r.sequence ASC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("pending requests: %w", err)
	}
	defer rows.Close()
	return collect(rows, scanRequestLog)
}

// RequestChainAfter returns up to limit records with sequence > after, ascending.
func (q *Queries) RequestChainAfter(ctx context.Context, after int64, limit int) ([]*domain.RequestActionAuditLog, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT `+requestColumns+` FROM request_action_audit_logs
		WHERE sequence > $1 ORDER BY sequence ASC LIMIT $2`, after, limit)
	if err != nil {
		return nil, fmt.Errorf("scan request chain: %w", err)
	}
	defer rows.Close()
	return collect(rows, scanRequestLog)
}
