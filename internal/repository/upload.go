package repository

import (
	"context"
	"fmt"
	"time"

	"datahub.migas.id/clearinghouse/internal/domain"
)

const uploadColumns = `id, sequence, upload_id, resource_type, resource_id, file_name, file_size,
	content_type, checksum, status, reason, user_id, ip_address, metadata, logged_at,
	previous_hash, integrity_hash`

func scanUploadLog(s scanner) (*domain.ResourceUploadAuditLog, error) {
	var (
		r  domain.ResourceUploadAuditLog
		md string
	)
	if err := s.Scan(
		&r.ID, &r.Sequence, &r.UploadID, &r.ResourceType, &r.ResourceID, &r.FileName, &r.FileSize,
		&r.ContentType, &r.Checksum, &r.Status, &r.Reason, &r.UserID, &r.IPAddress, &md, &r.Timestamp,
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

// AppendUploadLog seals rec onto the upload chain and inserts it.
// Must run inside a transaction.
func (q *Queries) AppendUploadLog(ctx context.Context, rec *domain.ResourceUploadAuditLog) error {
	var err error
	if rec.Metadata, err = canonicalMetadata(rec.Metadata); err != nil {
		return err
	}
	rec.Timestamp = utc(rec.Timestamp)
	if err := q.seal(ctx, domain.ChainUpload, rec); err != nil {
		return err
	}
	md, err := encodeMetadata(rec.Metadata)
	if err != nil {
		return err
	}
	_, err = q.db.ExecContext(ctx, `INSERT INTO resource_upload_audit_logs (`+uploadColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		rec.ID, rec.Sequence, rec.UploadID, rec.ResourceType, rec.ResourceID, rec.FileName, rec.FileSize,
		rec.ContentType, rec.Checksum, rec.Status, rec.Reason, rec.UserID, rec.IPAddress, md, rec.Timestamp,
		rec.PreviousHash, rec.IntegrityHash,
	)
	if err != nil {
		return fmt.Errorf("insert upload log: %w", err)
	}
	return nil
}

// LatestUploadLog returns the current state of an upload.
func (q *Queries) LatestUploadLog(ctx context.Context, uploadID string) (*domain.ResourceUploadAuditLog, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+uploadColumns+` FROM resource_upload_audit_logs
		WHERE upload_id = $1 ORDER BY sequence DESC LIMIT 1`, uploadID)
	r, err := scanUploadLog(row)
	if err != nil {
		return nil, notFound(err, "get upload")
	}
	return r, nil
}

// UploadHistory returns every transition of an upload, oldest first.
func (q *Queries) UploadHistory(ctx context.Context, uploadID string) ([]*domain.ResourceUploadAuditLog, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT `+uploadColumns+` FROM resource_upload_audit_logs
		WHERE upload_id = $1 ORDER BY sequence ASC`, uploadID)
	if err != nil {
		return nil, fmt.Errorf("upload history: %w", err)
	}
	defer rows.Close()
	return collect(rows, scanUploadLog)
}

const latestUploadRow = `u.sequence = (SELECT MAX(l.sequence) FROM resource_upload_audit_logs l WHERE l.upload_id = u.upload_id)`

// ListUploads returns the latest row of each upload, newest activity first.
// UserID matches the user who initiated the upload; the date range applies
// to the latest transition.
func (q *Queries) ListUploads(ctx context.Context, f domain.ListFilter) ([]*domain.ResourceUploadAuditLog, int64, error) {
	w := &where{}
	w.raw(latestUploadRow)
	if !f.From.IsZero() {
		w.add("u.logged_at >= ?", utc(f.From))
	}
	if !f.To.IsZero() {
		w.add("u.logged_at < ?", utc(f.To))
	}
	if f.Status != "" {
		w.add("u.status = ?", f.Status)
	}
	if f.UserID != "" {
		w.add(`EXISTS (SELECT 1 FROM resource_upload_audit_logs i
			WHERE i.upload_id = u.upload_id AND i.status = 'INITIATED' AND i.user_id = ?)`, f.UserID)
	}
	if f.EntityType != "" {
		w.add("u.resource_type = ?", f.EntityType)
	}
	if f.EntityID != "" {
		w.add("u.resource_id = ?", f.EntityID)
	}

	var total int64
	if err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM resource_upload_audit_logs u`+w.sql(), w.args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count uploads: %w", err)
	}

	limit, args := w.page(f.PerPage, f.Offset())
	rows, err := q.db.QueryContext(ctx, `SELECT `+prefixed("u", uploadColumns)+` FROM resource_upload_audit_logs u`+
		w.sql()+` ORDER BY u.sequence DESC`+limit, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list uploads: %w", err)
	}
	defer rows.Close()

	items, err := collect(rows, scanUploadLog)
	if err != nil {
		return nil, 0, fmt.Errorf("list uploads: %w", err)
	}
	return items, total, nil
}

// StaleUploadIDs returns uploads still INITIATED whose initiation is older than before.
func (q *Queries) StaleUploadIDs(ctx context.Context, before time.Time, limit int) ([]string, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT u.upload_id FROM resource_upload_audit_logs u
		WHERE `+latestUploadRow+` AND u.status = 'INITIATED' AND u.logged_at < $1
		ORDER BY u.sequence ASC LIMIT $2`, utc(before), limit)
	if err != nil {
		return nil, fmt.Errorf("stale uploads: %w", err)
	}
	defer rows.Close()
	return collect(rows, func(s scanner) (string, error) {
		var id string
		err := s.Scan(&id)
		return id, err
	})
}

// UploadChainAfter returns up to limit records with sequence > after, ascending.
func (q *Queries) UploadChainAfter(ctx context.Context, after int64, limit int) ([]*domain.ResourceUploadAuditLog, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT `+uploadColumns+` FROM resource_upload_audit_logs
		WHERE sequence > $1 ORDER BY sequence ASC LIMIT $2`, after, limit)
	if err != nil {
		return nil, fmt.Errorf("scan upload chain: %w", err)
	}
	defer rows.Close()
	return collect(rows, scanUploadLog)
}
