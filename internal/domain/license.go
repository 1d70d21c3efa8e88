package domain

import (
	"sort"
	"time"
)

// LicenseStatus is the lifecycle state of a license.
type LicenseStatus string

const (
	LicenseIssued    LicenseStatus = "ISSUED"
	LicenseActive    LicenseStatus = "ACTIVE"
	LicenseSuspended LicenseStatus = "SUSPENDED"
	LicenseRevoked   LicenseStatus = "REVOKED"
	LicenseExpired   LicenseStatus = "EXPIRED"
)

var licenseTransitions = map[LicenseStatus][]LicenseStatus{
	LicenseIssued:    {LicenseActive, LicenseRevoked, LicenseExpired},
	LicenseActive:    {LicenseSuspended, LicenseRevoked, LicenseExpired},
	LicenseSuspended: {LicenseActive, LicenseRevoked, LicenseExpired},
	LicenseExpired:   {LicenseActive, LicenseRevoked},
}

// Valid reports whether s is a known license status.
func (s LicenseStatus) Valid() bool {
	switch s {
	case LicenseIssued, LicenseActive, LicenseSuspended, LicenseRevoked, LicenseExpired:
		return true
	}
	return false
}

// CanTransition reports whether a license may move from s to to.
func (s LicenseStatus) CanTransition(to LicenseStatus) bool {
	for _, allowed := range licenseTransitions[s] {
		if allowed == to {
			return true
		}
	}
	return false
}

// License grants an organization use of a product under a plan.
// Only a bcrypt hash of the key is kept; KeyLookup, a truncated SHA-256
// of the key, locates the row.
type License struct {
	ID             string           `json:"id"`
	KeyLookup      string           `json:"-"`
	KeyHash        string           `json:"-"`
	Organization   string           `json:"organization"`
	Product        string           `json:"product"`
	Plan           string           `json:"plan"`
	Status         LicenseStatus    `json:"status"`
	MaxActivations int              `json:"max_activations"`
	Limits         map[string]int64 `json:"limits"`
	ValidFrom      time.Time        `json:"valid_from"`
	ExpiresAt      time.Time        `json:"expires_at"`
	IssuedBy       string           `json:"issued_by"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
	// ExpiredFrom is the status an EXPIRED license held before the sweep.
	ExpiredFrom    LicenseStatus    `json:"expired_from,omitempty"`
}

// InWindow reports whether now falls inside [ValidFrom, ExpiresAt).
func (l *License) InWindow(now time.Time) bool {
	return !now.Before(l.ValidFrom) && now.Before(l.ExpiresAt)
}

// CheckUsable returns nil when the license can be activated or metered at now.
// ISSUED licenses are usable for activation only.
func (l *License) CheckUsable(now time.Time, allowIssued bool) error {
	switch l.Status {
	case LicenseActive:
	case LicenseIssued:
		if !allowIssued {
			return ErrLicenseInactive
		}
	case LicenseExpired:
		return ErrLicenseExpired
	default:
		return ErrLicenseInactive
	}
	if !l.InWindow(now) {
		return ErrLicenseExpired
	}
	return nil
}

// LicenseActivation binds a license to one installation.
type LicenseActivation struct {
	ID             string     `json:"id"`
	LicenseID      string     `json:"license_id"`
	InstallationID string     `json:"installation_id"`
	ActivatedBy    string     `json:"activated_by"`
	ActivatedAt    time.Time  `json:"activated_at"`
	DeactivatedAt  *time.Time `json:"deactivated_at,omitempty"`
}

// Active reports whether the activation still holds a seat.
func (a *LicenseActivation) Active() bool { return a.DeactivatedAt == nil }

// LicenseUsage is one append-only metered usage record.
type LicenseUsage struct {
	ID          string    `json:"id"`
	LicenseID   string    `json:"license_id"`
	Metric      string    `json:"metric"`
	Quantity    int64     `json:"quantity"`
	UserID      string    `json:"user_id"`
	PeriodStart time.Time `json:"period_start"`
	RecordedAt  time.Time `json:"recorded_at"`
}

// UsagePeriod returns the UTC calendar month containing t.
func UsagePeriod(t time.Time) (start, end time.Time) {
	t = t.UTC()
	start = time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 1, 0)
}

// MetricUsage is the consumption of one metric within a period.
type MetricUsage struct {
	Metric    string `json:"metric"`
	Used      int64  `json:"used"`
	Limit     int64  `json:"limit"`
	Remaining int64  `json:"remaining"`
}

// UsageSummary reports every metered metric of a license for one period.
type UsageSummary struct {
	LicenseID   string        `json:"license_id"`
	PeriodStart time.Time     `json:"period_start"`
	PeriodEnd   time.Time     `json:"period_end"`
	Metrics     []MetricUsage `json:"metrics"`
}

// NewUsageSummary combines limits with the used totals, sorted by metric.
func NewUsageSummary(licenseID string, at time.Time, limits, used map[string]int64) *UsageSummary {
	start, end := UsagePeriod(at)
	s := &UsageSummary{LicenseID: licenseID, PeriodStart: start, PeriodEnd: end}
	for metric, limit := range limits {
		u := used[metric]
		remaining := limit - u
		if remaining < 0 {
			remaining = 0
		}
		s.Metrics = append(s.Metrics, MetricUsage{Metric: metric, Used: u, Limit: limit, Remaining: remaining})
	}
	sort.Slice(s.Metrics, func(i, j int) bool { return s.Metrics[i].Metric < s.Metrics[j].Metric })
	return s
}
