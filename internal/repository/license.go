package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"datahub.migas.id/clearinghouse/internal/domain"
)

const licenseColumns = `id, key_lookup, key_hash, organization, product, plan, status, max_activations,
	limits, valid_from, expires_at, issued_by, created_at, updated_at, expired_from`

func scanLicense(s scanner) (*domain.License, error) {
	var (
		l      domain.License
		limits string
	)
	if err := s.Scan(
		&l.ID, &l.KeyLookup, &l.KeyHash, &l.Organization, &l.Product, &l.Plan, &l.Status, &l.MaxActivations,
		&limits, &l.ValidFrom, &l.ExpiresAt, &l.IssuedBy, &l.CreatedAt, &l.UpdatedAt, &l.ExpiredFrom,
	); err != nil {
		return nil, err
	}
	var err error
	if l.Limits, err = decodeLimits(limits); err != nil {
		return nil, err
	}
	l.ValidFrom = l.ValidFrom.UTC()
	l.ExpiresAt = l.ExpiresAt.UTC()
	l.CreatedAt = l.CreatedAt.UTC()
	l.UpdatedAt = l.UpdatedAt.UTC()
	return &l, nil
}

// InsertLicense stores a new license.
func (q *Queries) InsertLicense(ctx context.Context, l *domain.License) error {
	limits, err := encodeLimits(l.Limits)
	if err != nil {
		return err
	}
	_, err = q.db.ExecContext(ctx, `INSERT INTO licenses (`+licenseColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		l.ID, l.KeyLookup, l.KeyHash, l.Organization, l.Product, l.Plan, l.Status, l.MaxActivations,
		limits, utc(l.ValidFrom), utc(l.ExpiresAt), l.IssuedBy, utc(l.CreatedAt), utc(l.UpdatedAt), l.ExpiredFrom,
	)
	if err != nil {
		return fmt.Errorf("insert license: %w", err)
	}
	return nil
}

// GetLicense returns a license by id.
func (q *Queries) GetLicense(ctx context.Context, id string) (*domain.License, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+licenseColumns+` FROM licenses WHERE id = $1`, id)
	l, err := scanLicense(row)
	if err != nil {
		return nil, notFound(err, "get license")
	}
	return l, nil
}

// GetLicenseForUpdate returns a license and locks its row for the transaction.
func (q *Queries) GetLicenseForUpdate(ctx context.Context, id string) (*domain.License, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+licenseColumns+` FROM licenses WHERE id = $1`+q.forUpdate(), id)
	l, err := scanLicense(row)
	if err != nil {
		return nil, notFound(err, "get license")
	}
	return l, nil
}

// LicensesByKeyLookup returns candidate licenses for a presented key.
func (q *Queries) LicensesByKeyLookup(ctx context.Context, lookup string) ([]*domain.License, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT `+licenseColumns+` FROM licenses WHERE key_lookup = $1`, lookup)
	if err != nil {
		return nil, fmt.Errorf("licenses by key prefix: %w", err)
	}
	defer rows.Close()
	return collect(rows, scanLicense)
}

// ListLicenses returns one page of licenses, newest first. Status and
// EntityID (organization) narrow the result.
func (q *Queries) ListLicenses(ctx context.Context, f domain.ListFilter) ([]*domain.License, int64, error) {
	w := &where{}
	if f.Status != "" {
		w.add("status = ?", f.Status)
	}
	if f.EntityID != "" {
		w.add("organization = ?", f.EntityID)
	}

	var total int64
	if err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM licenses`+w.sql(), w.args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count licenses: %w", err)
	}
	limit, args := w.page(f.PerPage, f.Offset())
	rows, err := q.db.QueryContext(ctx, `SELECT `+licenseColumns+` FROM licenses`+w.sql()+` ORDER BY created_at DESC, id DESC`+limit, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list licenses: %w", err)
	}
	defer rows.Close()
	items, err := collect(rows, scanLicense)
	if err != nil {
		return nil, 0, fmt.Errorf("list licenses: %w", err)
	}
	return items, total, nil
}

// UpdateLicenseStatus moves a license from one status to another.
// Returns the number of rows changed (0 when the license was not in from).
// Expiry remembers from in expired_from; any other move clears it.
func (q *Queries) UpdateLicenseStatus(ctx context.Context, id string, from, to domain.LicenseStatus, now time.Time) (int64, error) {
	var expiredFrom domain.LicenseStatus
	if to == domain.LicenseExpired {
		expiredFrom = from
	}
	res, err := q.db.ExecContext(ctx,
		`UPDATE licenses SET status = $1, expired_from = $2, updated_at = $3 WHERE id = $4 AND status = $5`,
		to, expiredFrom, utc(now), id, from)
	if err != nil {
		return 0, fmt.Errorf("update license status: %w", err)
	}
	return res.RowsAffected()
}

// UpdateLicenseExpiry sets a new expiry and status.
func (q *Queries) UpdateLicenseExpiry(ctx context.Context, id string, expiresAt time.Time, status domain.LicenseStatus, now time.Time) (int64, error) {
	res, err := q.db.ExecContext(ctx,
		`UPDATE licenses SET expires_at = $1, status = $2, expired_from = '', updated_at = $3 WHERE id = $4`,
		utc(expiresAt), status, utc(now), id)
	if err != nil {
		return 0, fmt.Errorf("update license expiry: %w", err)
	}
	return res.RowsAffected()
}

// LicensesDueForExpiry returns non-terminal licenses whose expiry has passed.
func (q *Queries) LicensesDueForExpiry(ctx context.Context, now time.Time, limit int) ([]*domain.License, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT `+licenseColumns+` FROM licenses
		WHERE expires_at <= $1 AND status IN ('ISSUED', 'ACTIVE', 'SUSPENDED')
		ORDER BY expires_at ASC LIMIT $2`, utc(now), limit)
	if err != nil {
		return nil, fmt.Errorf("licenses due for expiry: %w", err)
	}
	defer rows.Close()
	return collect(rows, scanLicense)
}

const activationColumns = `id, license_id, installation_id, activated_by, activated_at, deactivated_at`

func scanActivation(s scanner) (*domain.LicenseActivation, error) {
	var (
		a           domain.LicenseActivation
		deactivated sql.NullTime
	)
	if err := s.Scan(&a.ID, &a.LicenseID, &a.InstallationID, &a.ActivatedBy, &a.ActivatedAt, &deactivated); err != nil {
		return nil, err
	}
	a.ActivatedAt = a.ActivatedAt.UTC()
	a.DeactivatedAt = timePtr(deactivated)
	return &a, nil
}

// InsertActivation stores a new activation.
func (q *Queries) InsertActivation(ctx context.Context, a *domain.LicenseActivation) error {
	_, err := q.db.ExecContext(ctx, `INSERT INTO license_activations (`+activationColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		a.ID, a.LicenseID, a.InstallationID, a.ActivatedBy, utc(a.ActivatedAt), nullTime(a.DeactivatedAt))
	if err != nil {
		return fmt.Errorf("insert activation: %w", err)
	}
	return nil
}

// ActiveActivation returns the live activation of an installation.
func (q *Queries) ActiveActivation(ctx context.Context, licenseID, installationID string) (*domain.LicenseActivation, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+activationColumns+` FROM license_activations
		WHERE license_id = $1 AND installation_id = $2 AND deactivated_at IS NULL`, licenseID, installationID)
	a, err := scanActivation(row)
	if err != nil {
		return nil, notFound(err, "get activation")
	}
	return a, nil
}

// CountActiveActivations counts seats in use.
func (q *Queries) CountActiveActivations(ctx context.Context, licenseID string) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM license_activations
		WHERE license_id = $1 AND deactivated_at IS NULL`, licenseID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count activations: %w", err)
	}
	return n, nil
}

// ListActivations returns every activation of a license, oldest first.
func (q *Queries) ListActivations(ctx context.Context, licenseID string) ([]*domain.LicenseActivation, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT `+activationColumns+` FROM license_activations
		WHERE license_id = $1 ORDER BY activated_at ASC, id ASC`, licenseID)
	if err != nil {
		return nil, fmt.Errorf("list activations: %w", err)
	}
	defer rows.Close()
	return collect(rows, scanActivation)
}

// DeactivateActivation releases a seat. Returns rows changed.
func (q *Queries) DeactivateActivation(ctx context.Context, licenseID, installationID string, now time.Time) (int64, error) {
	res, err := q.db.ExecContext(ctx, `UPDATE license_activations SET deactivated_at = $1
		WHERE license_id = $2 AND installation_id = $3 AND deactivated_at IS NULL`,
		utc(now), licenseID, installationID)
	if err != nil {
		return 0, fmt.Errorf("deactivate: %w", err)
	}
	return res.RowsAffected()
}

// InsertUsage appends a metered usage record.
func (q *Queries) InsertUsage(ctx context.Context, u *domain.LicenseUsage) error {
	_, err := q.db.ExecContext(ctx, `INSERT INTO license_usage
		(id, license_id, metric, quantity, user_id, period_start, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		u.ID, u.LicenseID, u.Metric, u.Quantity, u.UserID, utc(u.PeriodStart), utc(u.RecordedAt))
	if err != nil {
		return fmt.Errorf("insert usage: %w", err)
	}
	return nil
}

// SumUsage totals one metric of a license within a period.
func (q *Queries) SumUsage(ctx context.Context, licenseID, metric string, periodStart time.Time) (int64, error) {
	var total int64
	err := q.db.QueryRowContext(ctx, `SELECT CAST(COALESCE(SUM(quantity), 0) AS BIGINT) FROM license_usage
		WHERE license_id = $1 AND metric = $2 AND period_start = $3`,
		licenseID, metric, utc(periodStart)).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum usage: %w", err)
	}
	return total, nil
}

// SumUsageByMetric totals every metric of a license within a period.
func (q *Queries) SumUsageByMetric(ctx context.Context, licenseID string, periodStart time.Time) (map[string]int64, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT metric, CAST(COALESCE(SUM(quantity), 0) AS BIGINT) FROM license_usage
		WHERE license_id = $1 AND period_start = $2 GROUP BY metric`, licenseID, utc(periodStart))
	if err != nil {
		return nil, fmt.Errorf("sum usage by metric: %w", err)
	}
	defer rows.Close()

	out := map[string]int64{}
	for rows.Next() {
		var (
			metric string
			total  int64
		)
		if err := rows.Scan(&metric, &total); err != nil {
			return nil, fmt.Errorf("sum usage by metric: %w", err)
		}
		out[metric] = total
	}
	return out, rows.Err()
}
