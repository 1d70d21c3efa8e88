// Package license issues licenses and enforces their activation and usage limits.
//
// Keys are shown once at issue time; only a bcrypt hash and a truncated
// SHA-256 lookup digest are stored. Every state change writes a LICENSE compliance event.
package license

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"datahub.migas.id/clearinghouse/internal/domain"
	"datahub.migas.id/clearinghouse/internal/governance/audit"
	"datahub.migas.id/clearinghouse/internal/notification"
	"datahub.migas.id/clearinghouse/internal/pkg/logger"
	"datahub.migas.id/clearinghouse/internal/pkg/metrics"
	"datahub.migas.id/clearinghouse/internal/repository"
)

const expiryBatch = 200

// IssueInput describes a license to issue. Zero values fall back to the plan.
type IssueInput struct {
	Organization   string           `json:"organization"`
	Plan           string           `json:"plan"`
	Product        string           `json:"product"`
	MaxActivations int              `json:"max_activations"`
	Limits         map[string]int64 `json:"limits"`
	ValidFrom      time.Time        `json:"valid_from"`
	ExpiresAt      time.Time        `json:"expires_at"`
}

// Issued is the result of Issue. Key is never retrievable again.
type Issued struct {
	License *domain.License `json:"license"`
	Key     string          `json:"license_key"`
}

// Service manages licenses.
type Service struct {
	store       *repository.Store
	auditLogger *audit.Logger
	notifier    *notification.Triggers // nil-safe
	catalog     *Catalog
	bcryptCost  int
	now         func() time.Time
}

// NewService creates a new license Service.
func NewService(store *repository.Store, auditLogger *audit.Logger, notifier *notification.Triggers, catalog *Catalog, bcryptCost int) *Service {
	return &Service{
		store:       store,
		auditLogger: auditLogger,
		notifier:    notifier,
		catalog:     catalog,
		bcryptCost:  bcryptCost,
		now:         domain.Now,
	}
}

// Catalog returns the plan catalog.
func (s *Service) Catalog() *Catalog { return s.catalog }

// Issue creates a license in ISSUED and returns its plaintext key.
func (s *Service) Issue(ctx context.Context, in IssueInput, actor domain.Actor) (*Issued, error) {
	in.Organization = strings.TrimSpace(in.Organization)
	if in.Organization == "" {
		return nil, fmt.Errorf("%w: organization is required", domain.ErrInvalidInput)
	}
	if actor.UserID == "" {
		return nil, fmt.Errorf("%w: issuer is required", domain.ErrInvalidInput)
	}
	plan, err := s.catalog.Plan(in.Plan)
	if err != nil {
		return nil, err
	}
	if in.MaxActivations < 0 {
		return nil, fmt.Errorf("%w: max_activations must not be negative", domain.ErrInvalidInput)
	}
	for metric, limit := range in.Limits {
		if limit < 0 {
			return nil, fmt.Errorf("%w: limit %s must not be negative", domain.ErrInvalidInput, metric)
		}
	}

	now := s.now()
	lic := &domain.License{
		ID:             domain.NewID(),
		Organization:   in.Organization,
		Product:        firstNonEmpty(in.Product, plan.Product),
		Plan:           plan.Name,
		Status:         domain.LicenseIssued,
		MaxActivations: plan.MaxActivations,
		Limits:         mergeLimits(plan.Limits, in.Limits),
		ValidFrom:      in.ValidFrom.UTC().Truncate(time.Microsecond),
		ExpiresAt:      in.ExpiresAt.UTC().Truncate(time.Microsecond),
		IssuedBy:       actor.UserID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if in.MaxActivations > 0 {
		lic.MaxActivations = in.MaxActivations
	}
	if in.ValidFrom.IsZero() {
		lic.ValidFrom = now
	}
	if in.ExpiresAt.IsZero() {
		lic.ExpiresAt = lic.ValidFrom.AddDate(0, 0, plan.ValidityDays)
	}
	if !lic.ExpiresAt.After(lic.ValidFrom) {
		return nil, fmt.Errorf("%w: expires_at must be after valid_from", domain.ErrInvalidInput)
	}

	key, err := GenerateKey()
	if err != nil {
		return nil, err
	}
	lic.KeyLookup = LookupDigest(key)
	if lic.KeyHash, err = HashKey(key, s.bcryptCost); err != nil {
		return nil, err
	}

	if err := s.store.InsertLicense(ctx, lic); err != nil {
		return nil, err
	}

	s.changed(ctx, domain.EventLicenseIssued, lic, actor, map[string]any{
		"plan":            lic.Plan,
		"organization":    lic.Organization,
		"max_activations": lic.MaxActivations,
		"expires_at":      lic.ExpiresAt,
	})
	return &Issued{License: lic, Key: key}, nil
}

// Activate binds an installation to the license identified by key.
// Activating an installation that already holds a seat returns that seat.
func (s *Service) Activate(ctx context.Context, key, installationID string, actor domain.Actor) (*domain.LicenseActivation, error) {
	installationID = strings.TrimSpace(installationID)
	if installationID == "" {
		return nil, fmt.Errorf("%w: installation_id is required", domain.ErrInvalidInput)
	}
	if actor.UserID == "" {
		return nil, fmt.Errorf("%w: actor is required", domain.ErrInvalidInput)
	}

	lic, err := s.resolveKey(ctx, key)
	if err != nil {
		metrics.LicenseActivations.WithLabelValues("invalid_key").Inc()
		return nil, err
	}

	var (
		activation *domain.LicenseActivation
		reused     bool
		firstUse   bool
	)
	now := s.now()
	err = s.store.InTx(ctx, func(q *repository.Queries) error {
		cur, err := q.GetLicenseForUpdate(ctx, lic.ID)
		if err != nil {
			return err
		}
		if err := cur.CheckUsable(now, true); err != nil {
			return err
		}
		lic = cur

		existing, err := q.ActiveActivation(ctx, lic.ID, installationID)
		switch {
		case err == nil:
			activation, reused = existing, true
			return nil
		case !errors.Is(err, domain.ErrNotFound):
			return err
		}

		n, err := q.CountActiveActivations(ctx, lic.ID)
		if err != nil {
			return err
		}
		if n >= lic.MaxActivations {
			return fmt.Errorf("%w: %d of %d seats in use", domain.ErrActivationLimit, n, lic.MaxActivations)
		}

		activation = &domain.LicenseActivation{
			ID:             domain.NewID(),
			LicenseID:      lic.ID,
			InstallationID: installationID,
			ActivatedBy:    actor.UserID,
			ActivatedAt:    now,
		}
		if err := q.InsertActivation(ctx, activation); err != nil {
			return err
		}

		if lic.Status == domain.LicenseIssued {
			if _, err := q.UpdateLicenseStatus(ctx, lic.ID, domain.LicenseIssued, domain.LicenseActive, now); err != nil {
				return err
			}
			lic.Status = domain.LicenseActive
			firstUse = true
		}
		return nil
	})
	if err != nil {
		metrics.LicenseActivations.WithLabelValues(activationResult(err)).Inc()
		if errors.Is(err, domain.ErrActivationLimit) {
			s.auditLogger.LogLicense(ctx, "LICENSE_ACTIVATION_REJECTED", lic.ID, actor, domain.SeverityWarning, domain.OutcomeFailure,
				map[string]any{"installation_id": installationID, "max_activations": lic.MaxActivations})
		}
		return nil, err
	}

	if reused {
		metrics.LicenseActivations.WithLabelValues("reused").Inc()
		return activation, nil
	}
	metrics.LicenseActivations.WithLabelValues("ok").Inc()
	s.changed(ctx, domain.EventLicenseActivated, lic, actor, map[string]any{
		"installation_id": installationID,
		"first_use":       firstUse,
	})
	return activation, nil
}

func activationResult(err error) string {
	switch {
	case errors.Is(err, domain.ErrActivationLimit):
		return "limit"
	case errors.Is(err, domain.ErrLicenseExpired):
		return "expired"
	case errors.Is(err, domain.ErrLicenseInactive):
		return "inactive"
	default:
		return "error"
	}
}

// resolveKey finds the license whose stored hash matches key.
func (s *Service) resolveKey(ctx context.Context, key string) (*domain.License, error) {
	key, err := NormalizeKey(key)
	if err != nil {
		return nil, err
	}
	candidates, err := s.store.LicensesByKeyLookup(ctx, LookupDigest(key))
	if err != nil {
		return nil, err
	}
	for _, c := range candidates {
		if VerifyKey(c.KeyHash, key) {
			return c, nil
		}
	}
	return nil, domain.ErrLicenseKeyInvalid
}

// Deactivate releases the seat held by an installation.
func (s *Service) Deactivate(ctx context.Context, licenseID, installationID string, actor domain.Actor) error {
	lic, err := s.store.GetLicense(ctx, licenseID)
	if err != nil {
		return err
	}
	n, err := s.store.DeactivateActivation(ctx, licenseID, strings.TrimSpace(installationID), s.now())
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("installation %q: %w", installationID, domain.ErrActivationNotFound)
	}

	s.changed(ctx, domain.EventLicenseDeactivated, lic, actor, map[string]any{"installation_id": installationID})
	return nil
}

// Suspend pauses a license. Activation and usage are refused until Resume.
func (s *Service) Suspend(ctx context.Context, licenseID string, actor domain.Actor, reason string) (*domain.License, error) {
	return s.setStatus(ctx, licenseID, domain.LicenseSuspended, domain.EventLicenseSuspended, actor, reason, nil)
}

// Resume reactivates a suspended license.
func (s *Service) Resume(ctx context.Context, licenseID string, actor domain.Actor) (*domain.License, error) {
	now := s.now()
	return s.setStatus(ctx, licenseID, domain.LicenseActive, domain.EventLicenseResumed, actor, "", func(cur *domain.License) error {
		if cur.Status != domain.LicenseSuspended {
			return fmt.Errorf("%w: license %s is %s, not suspended", domain.ErrInvalidTransition, licenseID, cur.Status)
		}
		if !cur.InWindow(now) {
			return domain.ErrLicenseExpired
		}
		return nil
	})
}

// Revoke permanently withdraws a license.
func (s *Service) Revoke(ctx context.Context, licenseID string, actor domain.Actor, reason string) (*domain.License, error) {
	return s.setStatus(ctx, licenseID, domain.LicenseRevoked, domain.EventLicenseRevoked, actor, reason, nil)
}

func (s *Service) setStatus(
	ctx context.Context,
	licenseID string,
	to domain.LicenseStatus,
	event domain.LifecycleEventType,
	actor domain.Actor,
	reason string,
	check func(cur *domain.License) error,
) (*domain.License, error) {
	var (
		lic  *domain.License
		from domain.LicenseStatus
	)
	now := s.now()
	err := s.store.InTx(ctx, func(q *repository.Queries) error {
		cur, err := q.GetLicenseForUpdate(ctx, licenseID)
		if err != nil {
			return err
		}
		from = cur.Status
		if check != nil {
			if err := check(cur); err != nil {
				return err
			}
		}
		if !cur.Status.CanTransition(to) {
			return fmt.Errorf("%w: license %s is %s, cannot move to %s", domain.ErrInvalidTransition, licenseID, cur.Status, to)
		}
		if _, err := q.UpdateLicenseStatus(ctx, licenseID, cur.Status, to, now); err != nil {
			return err
		}
		cur.Status = to
		cur.UpdatedAt = now
		lic = cur
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			metrics.TransitionRejections.WithLabelValues("licenses").Inc()
		}
		return nil, err
	}

	metrics.StatusTransitions.WithLabelValues("licenses", string(from), string(to)).Inc()
	md := map[string]any{"from": string(from), "to": string(to)}
	if reason = strings.TrimSpace(reason); reason != "" {
		md["reason"] = reason
	}
	s.changed(ctx, event, lic, actor, md)
	return lic, nil
}

// Renew moves a license's expiry. An EXPIRED license becomes ACTIVE again.
func (s *Service) Renew(ctx context.Context, licenseID string, newExpiry time.Time, actor domain.Actor) (*domain.License, error) {
	newExpiry = newExpiry.UTC().Truncate(time.Microsecond)
	now := s.now()
	if !newExpiry.After(now) {
		return nil, fmt.Errorf("%w: expires_at must be in the future", domain.ErrInvalidInput)
	}

	var (
		lic       *domain.License
		oldExpiry time.Time
	)
	err := s.store.InTx(ctx, func(q *repository.Queries) error {
		cur, err := q.GetLicenseForUpdate(ctx, licenseID)
		if err != nil {
			return err
		}
		if cur.Status == domain.LicenseRevoked {
			return fmt.Errorf("%w: license %s is revoked", domain.ErrInvalidTransition, licenseID)
		}
		if !newExpiry.After(cur.ValidFrom) {
			return fmt.Errorf("%w: expires_at must be after valid_from", domain.ErrInvalidInput)
		}

		// Renewal lifts expiry only; a suspension in force at expiry stays.
		status := cur.Status
		if status == domain.LicenseExpired {
			status = domain.LicenseActive
			if cur.ExpiredFrom == domain.LicenseSuspended {
				status = domain.LicenseSuspended
			}
		}
		if _, err := q.UpdateLicenseExpiry(ctx, licenseID, newExpiry, status, now); err != nil {
			return err
		}
		oldExpiry = cur.ExpiresAt
		cur.ExpiresAt, cur.Status, cur.UpdatedAt, cur.ExpiredFrom = newExpiry, status, now, ""
		lic = cur
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.changed(ctx, domain.EventLicenseRenewed, lic, actor, map[string]any{
		"previous_expires_at": oldExpiry,
		"expires_at":          newExpiry,
	})
	return lic, nil
}

// RecordUsage meters quantity of metric against the license's monthly limit.
// Exceeding the limit records nothing, returns ErrUsageLimitExceeded and
// writes a WARNING compliance event.
func (s *Service) RecordUsage(ctx context.Context, licenseID, metric string, quantity int64, actor domain.Actor) (*domain.LicenseUsage, error) {
	metric = strings.TrimSpace(metric)
	switch {
	case metric == "":
		return nil, fmt.Errorf("%w: metric is required", domain.ErrInvalidInput)
	case quantity <= 0:
		return nil, fmt.Errorf("%w: quantity must be positive", domain.ErrInvalidInput)
	case actor.UserID == "":
		return nil, fmt.Errorf("%w: user is required", domain.ErrInvalidInput)
	}

	now := s.now()
	periodStart, _ := domain.UsagePeriod(now)

	var (
		usage       *domain.LicenseUsage
		lic         *domain.License
		used, limit int64
	)
	err := s.store.InTx(ctx, func(q *repository.Queries) error {
		cur, err := q.GetLicenseForUpdate(ctx, licenseID)
		if err != nil {
			return err
		}
		lic = cur
		if err := cur.CheckUsable(now, false); err != nil {
			return err
		}

		var ok bool
		if limit, ok = cur.Limits[metric]; !ok {
			return fmt.Errorf("%w: %q", domain.ErrUnknownMetric, metric)
		}
		if used, err = q.SumUsage(ctx, licenseID, metric, periodStart); err != nil {
			return err
		}
		if used > limit || quantity > limit-used {
			return fmt.Errorf("%w: %s %d + %d > %d", domain.ErrUsageLimitExceeded, metric, used, quantity, limit)
		}

		usage = &domain.LicenseUsage{
			ID:          domain.NewID(),
			LicenseID:   licenseID,
			Metric:      metric,
			Quantity:    quantity,
			UserID:      actor.UserID,
			PeriodStart: periodStart,
			RecordedAt:  now,
		}
		return q.InsertUsage(ctx, usage)
	})
	if err != nil {
		if errors.Is(err, domain.ErrUsageLimitExceeded) {
			s.limitExceeded(ctx, lic, metric, quantity, used, limit, actor)
		}
		return nil, err
	}

	metrics.LicenseUsageRecorded.WithLabelValues(metric).Add(float64(quantity))
	return usage, nil
}

func (s *Service) limitExceeded(ctx context.Context, lic *domain.License, metric string, quantity, used, limit int64, actor domain.Actor) {
	metrics.LicenseUsageRejected.WithLabelValues(metric).Inc()
	s.auditLogger.LogLicense(ctx, string(domain.EventLicenseLimitExceeded), lic.ID, actor, domain.SeverityWarning, domain.OutcomeFailure,
		map[string]any{"metric": metric, "quantity": quantity, "used": used, "limit": limit})
	s.notifier.OnLicense(ctx, domain.EventLicenseLimitExceeded, actor.UserID, domain.LicenseEventPayload{
		LicenseID:    lic.ID,
		Organization: lic.Organization,
		Status:       lic.Status,
		Metric:       metric,
		Quantity:     quantity,
	})
	logger.Warn("License usage limit exceeded",
		zap.String("license_id", lic.ID),
		zap.String("metric", metric),
		zap.Int64("used", used),
		zap.Int64("quantity", quantity),
		zap.Int64("limit", limit),
	)
}

// Usage summarizes every metered metric for the month containing at.
func (s *Service) Usage(ctx context.Context, licenseID string, at time.Time) (*domain.UsageSummary, error) {
	if at.IsZero() {
		at = s.now()
	}
	lic, err := s.store.GetLicense(ctx, licenseID)
	if err != nil {
		return nil, err
	}
	start, _ := domain.UsagePeriod(at)
	used, err := s.store.SumUsageByMetric(ctx, licenseID, start)
	if err != nil {
		return nil, err
	}
	return domain.NewUsageSummary(licenseID, at, lic.Limits, used), nil
}

// ExpireDue marks licenses past their expiry EXPIRED and returns how many changed.
func (s *Service) ExpireDue(ctx context.Context, now time.Time) (int, error) {
	now = now.UTC()
	expired := 0
	for {
		due, err := s.store.LicensesDueForExpiry(ctx, now, expiryBatch)
		if err != nil {
			return expired, err
		}

		progressed := 0
		for _, lic := range due {
			n, err := s.store.UpdateLicenseStatus(ctx, lic.ID, lic.Status, domain.LicenseExpired, now)
			if err != nil {
				return expired, fmt.Errorf("expire license %s: %w", lic.ID, err)
			}
			if n == 0 {
				continue // changed concurrently
			}
			progressed++
			from := lic.Status
			lic.Status = domain.LicenseExpired
			metrics.StatusTransitions.WithLabelValues("licenses", string(from), string(domain.LicenseExpired)).Inc()
			s.changed(ctx, domain.EventLicenseExpired, lic, domain.SystemActor, map[string]any{"expires_at": lic.ExpiresAt})
		}
		expired += progressed
		metrics.SweptRecords.WithLabelValues("license_expiry").Add(float64(progressed))

		if len(due) < expiryBatch || progressed == 0 {
			return expired, nil
		}
	}
}

// Get returns a license.
func (s *Service) Get(ctx context.Context, licenseID string) (*domain.License, error) {
	return s.store.GetLicense(ctx, licenseID)
}

// Activations returns every activation of a license.
func (s *Service) Activations(ctx context.Context, licenseID string) ([]*domain.LicenseActivation, error) {
	if _, err := s.store.GetLicense(ctx, licenseID); err != nil {
		return nil, err
	}
	return s.store.ListActivations(ctx, licenseID)
}

// List returns one page of licenses. EntityID filters by organization.
func (s *Service) List(ctx context.Context, f domain.ListFilter) (*domain.Page[*domain.License], error) {
	if f.Status != "" && !domain.LicenseStatus(f.Status).Valid() {
		return nil, fmt.Errorf("%w: unknown license status %q", domain.ErrInvalidInput, f.Status)
	}
	f.Normalize()
	items, total, err := s.store.ListLicenses(ctx, f)
	if err != nil {
		return nil, err
	}
	return &domain.Page[*domain.License]{Items: items, Total: total, Page: f.Page, PerPage: f.PerPage}, nil
}

// changed writes the compliance event and publishes the lifecycle event.
func (s *Service) changed(ctx context.Context, event domain.LifecycleEventType, lic *domain.License, actor domain.Actor, md map[string]any) {
	s.auditLogger.LogLicense(ctx, string(event), lic.ID, actor, domain.SeverityInfo, domain.OutcomeSuccess, md)

	payload := domain.LicenseEventPayload{
		LicenseID:    lic.ID,
		Organization: lic.Organization,
		Status:       lic.Status,
	}
	if id, ok := md["installation_id"].(string); ok {
		payload.InstallationID = id
	}
	s.notifier.OnLicense(ctx, event, actor.UserID, payload)

	logger.Info("License changed",
		zap.String("license_id", lic.ID),
		zap.String("event", string(event)),
		zap.String("status", string(lic.Status)),
		zap.String("actor", actor.UserID),
	)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
