package repository

import (
	"context"
	"fmt"
	"time"

	"datahub.migas.id/clearinghouse/internal/domain"
)

const complianceColumns = `id, sequence, event_type, action, severity, outcome, entity_type, entity_id,
	user_id, user_role, ip_address, user_agent, description, metadata, logged_at,
	previous_hash, integrity_hash`

func scanComplianceLog(s scanner) (*domain.ComplianceAuditLog, error) {
	var (
		r  domain.ComplianceAuditLog
		md string
	)
	if err := s.Scan(
		&r.ID, &r.Sequence, &r.EventType, &r.Action, &r.Severity, &r.Outcome, &r.EntityType, &r.EntityID,
		&r.UserID, &r.UserRole, &r.IPAddress, &r.UserAgent, &r.Description, &md, &r.Timestamp,
		&r.PreviousHash, &r.IntegrityHash,
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

// AppendComplianceLog seals rec onto the compliance chain and inserts it.
// Must run inside a transaction.
func (q *Queries) AppendComplianceLog(ctx context.Context, rec *domain.ComplianceAuditLog) error {
	var err error
	if rec.Metadata, err = canonicalMetadata(rec.Metadata); err != nil {
		return err
	}
	rec.Timestamp = utc(rec.Timestamp)
	if err := q.seal(ctx, domain.ChainCompliance, rec); err != nil {
		return err
	}
	md, err := encodeMetadata(rec.Metadata)
	if err != nil {
		return err
	}
	_, err = q.db.ExecContext(ctx, `INSERT INTO compliance_audit_logs (`+complianceColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		rec.ID, rec.Sequence, rec.EventType, rec.Action, rec.Severity, rec.Outcome, rec.EntityType, rec.EntityID,
		rec.UserID, rec.UserRole, rec.IPAddress, rec.UserAgent, rec.Description, md, rec.Timestamp,
		rec.PreviousHash, rec.IntegrityHash,
	)
	if err != nil {
		return fmt.Errorf("insert compliance log: %w", err)
	}
	return nil
}

// GetComplianceLog returns one record by id.
func (q *Queries) GetComplianceLog(ctx context.Context, id string) (*domain.ComplianceAuditLog, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+complianceColumns+` FROM compliance_audit_logs WHERE id = $1`, id)
	r, err := scanComplianceLog(row)
	if err != nil {
		return nil, notFound(err, "get compliance log")
	}
	return r, nil
}

func complianceWhere(f domain.ListFilter) *where {
	w := &where{}
	if !f.From.IsZero() {
		w.add("logged_at >= ?", utc(f.From))
	}
	if !f.To.IsZero() {
		w.add("logged_at < ?", utc(f.To))
	}
	if f.UserID != "" {
		w.add("user_id = ?", f.UserID)
	}
	if f.EventType != "" {
		w.add("event_type = ?", f.EventType)
	}
	if f.Severity != "" {
		w.add("severity = ?", f.Severity)
	}
	if f.Status != "" {
		w.add("outcome = ?", f.Status)
	}
	if f.EntityType != "" {
		w.add("entity_type = ?", f.EntityType)
	}
	if f.EntityID != "" {
		w.add("entity_id = ?", f.EntityID)
	}
	return w
}

// ListComplianceLogs returns one page, newest first, and the total match count.
// Status filters on outcome.
func (q *Queries) ListComplianceLogs(ctx context.Context, f domain.ListFilter) ([]*domain.ComplianceAuditLog, int64, error) {
	w := complianceWhere(f)

	var total int64
	if err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM compliance_audit_logs`+w.sql(), w.args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count compliance logs: %w", err)
	}

	limit, args := w.page(f.PerPage, f.Offset())
	rows, err := q.db.QueryContext(ctx,
		`SELECT `+complianceColumns+` FROM compliance_audit_logs`+w.sql()+` ORDER BY sequence DESC`+limit, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list compliance logs: %w", err)
	}
	defer rows.Close()

	items, err := collect(rows, scanComplianceLog)
	if err != nil {
		return nil, 0, fmt.Errorf("list compliance logs: %w", err)
	}
	return items, total, nil
}

// ListComplianceLogsByEntity returns every record about one entity, oldest first.
func (q *Queries) ListComplianceLogsByEntity(ctx context.Context, entityType, entityID string) ([]*domain.ComplianceAuditLog, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT `+complianceColumns+` FROM compliance_audit_logs
		WHERE entity_type = $1 AND entity_id = $2 ORDER BY sequence ASC`, entityType, entityID)
	if err != nil {
		return nil, fmt.Errorf("list compliance logs by entity: %w", err)
	}
	defer rows.Close()
	return collect(rows, scanComplianceLog)
}

// ListComplianceLogsByUser returns a user's records in [from, to), oldest first.
// Zero bounds are open.
func (q *Queries) ListComplianceLogsByUser(ctx context.Context, userID string, from, to time.Time) ([]*domain.ComplianceAuditLog, error) {
	w := complianceWhere(domain.ListFilter{UserID: userID, From: from, To: to})
	rows, err := q.db.QueryContext(ctx,
		`SELECT `+complianceColumns+` FROM compliance_audit_logs`+w.sql()+` ORDER BY sequence ASC`, w.args...)
	if err != nil {
		return nil, fmt.Errorf("list compliance logs by user: %w", err)
	}
	defer rows.Close()
	return collect(rows, scanComplianceLog)
}

// ComplianceChainAfter returns up to limit records with sequence > after, ascending.
func (q *Queries) ComplianceChainAfter(ctx context.Context, after int64, limit int) ([]*domain.ComplianceAuditLog, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT `+complianceColumns+` FROM compliance_audit_logs
		WHERE sequence > $1 ORDER BY sequence ASC LIMIT $2`, after, limit)
	if err != nil {
		return nil, fmt.Errorf("scan compliance chain: %w", err)
	}
	defer rows.Close()
	return collect(rows, scanComplianceLog)
}
