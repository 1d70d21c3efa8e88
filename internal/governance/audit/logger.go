// Package audit implements the compliance audit log.
//
// Compliance records are append-only links of a hash chain. There is no
// update or delete path.
package audit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"datahub.migas.id/clearinghouse/internal/domain"
	"datahub.migas.id/clearinghouse/internal/integrity"
	"datahub.migas.id/clearinghouse/internal/pkg/logger"
	"datahub.migas.id/clearinghouse/internal/pkg/metrics"
	"datahub.migas.id/clearinghouse/internal/repository"
)

// Logger writes and reads compliance audit records.
type Logger struct {
	store *repository.Store
}

// NewLogger creates a new audit Logger.
func NewLogger(store *repository.Store) *Logger {
	return &Logger{store: store}
}

// Record validates entry, fills defaults and appends it to the chain.
// The stored record, with sequence and hashes, is returned.
func (l *Logger) Record(ctx context.Context, entry *domain.ComplianceAuditLog) (*domain.ComplianceAuditLog, error) {
	rec := *entry
	if err := prepare(&rec); err != nil {
		return nil, err
	}

	err := l.store.InTx(ctx, func(q *repository.Queries) error {
		return q.AppendComplianceLog(ctx, &rec)
	})
	if err != nil {
		logger.Error("Failed to write compliance audit log",
			zap.String("event_type", string(rec.EventType)),
			zap.String("action", rec.Action),
			zap.String("entity_id", rec.EntityID),
			zap.Error(err),
		)
		return nil, fmt.Errorf("record compliance log: %w", err)
	}

	metrics.AuditRecordsAppended.WithLabelValues(domain.ChainCompliance).Inc()
	return &rec, nil
}

func prepare(rec *domain.ComplianceAuditLog) error {
	rec.Action = strings.TrimSpace(rec.Action)
	rec.UserID = strings.TrimSpace(rec.UserID)

	if !rec.EventType.Valid() {
		return fmt.Errorf("%w: unknown event_type %q", domain.ErrInvalidInput, rec.EventType)
	}
	if rec.Action == "" {
		return fmt.Errorf("%w: action is required", domain.ErrInvalidInput)
	}
	if rec.UserID == "" {
		return fmt.Errorf("%w: user_id is required", domain.ErrInvalidInput)
	}
	if rec.Severity == "" {
		rec.Severity = domain.SeverityInfo
	}
	if !rec.Severity.Valid() {
		return fmt.Errorf("%w: unknown severity %q", domain.ErrInvalidInput, rec.Severity)
	}
	if rec.Outcome == "" {
		rec.Outcome = domain.OutcomeSuccess
	}
	if !rec.Outcome.Valid() {
		return fmt.Errorf("%w: unknown outcome %q", domain.ErrInvalidInput, rec.Outcome)
	}

	rec.ID = domain.NewID()
	rec.Timestamp = domain.Now()
	return nil
}

// Get returns one record.
func (l *Logger) Get(ctx context.Context, id string) (*domain.ComplianceAuditLog, error) {
	return l.store.GetComplianceLog(ctx, id)
}

// List returns one page of records, newest first.
func (l *Logger) List(ctx context.Context, f domain.ListFilter) (*domain.Page[*domain.ComplianceAuditLog], error) {
	f.Normalize()
	items, total, err := l.store.ListComplianceLogs(ctx, f)
	if err != nil {
		return nil, err
	}
	return &domain.Page[*domain.ComplianceAuditLog]{Items: items, Total: total, Page: f.Page, PerPage: f.PerPage}, nil
}

// ListByEntity returns every record about one entity, oldest first.
func (l *Logger) ListByEntity(ctx context.Context, entityType, entityID string) ([]*domain.ComplianceAuditLog, error) {
	if entityType == "" || entityID == "" {
		return nil, fmt.Errorf("%w: entity_type and entity_id are required", domain.ErrInvalidInput)
	}
	return l.store.ListComplianceLogsByEntity(ctx, entityType, entityID)
}

// ListByUser returns a user's records within [from, to).
func (l *Logger) ListByUser(ctx context.Context, userID string, from, to time.Time) ([]*domain.ComplianceAuditLog, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user_id is required", domain.ErrInvalidInput)
	}
	if !from.IsZero() && !to.IsZero() && !from.Before(to) {
		return nil, fmt.Errorf("%w: from must be before to", domain.ErrInvalidInput)
	}
	return l.store.ListComplianceLogsByUser(ctx, userID, from, to)
}

// VerifyChain walks the compliance chain.
func (l *Logger) VerifyChain(ctx context.Context) (integrity.Report, error) {
	report, err := l.store.VerifyChain(ctx, domain.ChainCompliance)
	metrics.ObserveVerification(domain.ChainCompliance, report, err)
	return report, err
}

// LogAction records an event on behalf of another module. It is best-effort:
// failures are logged and never returned, so audit outages do not fail the
// business operation that already committed.
func (l *Logger) LogAction(ctx context.Context, entry *domain.ComplianceAuditLog) {
	if l == nil {
		return
	}
	if _, err := l.Record(ctx, entry); err != nil {
		logger.Warn("Best-effort compliance event dropped",
			zap.String("event_type", string(entry.EventType)),
			zap.String("action", entry.Action),
			zap.Error(err),
		)
	}
}

// LogLicense records a license lifecycle event.
func (l *Logger) LogLicense(ctx context.Context, action, licenseID string, actor domain.Actor, severity domain.Severity, outcome domain.Outcome, metadata map[string]any) {
	l.LogAction(ctx, &domain.ComplianceAuditLog{
		EventType:  domain.EventLicense,
		Action:     action,
		Severity:   severity,
		Outcome:    outcome,
		EntityType: "license",
		EntityID:   licenseID,
		UserID:     actor.UserID,
		UserRole:   actor.Role,
		IPAddress:  actor.IPAddress,
		UserAgent:  actor.UserAgent,
		Metadata:   metadata,
	})
}

// LogUpload records an upload lifecycle event.
func (l *Logger) LogUpload(ctx context.Context, rec *domain.ResourceUploadAuditLog, actor domain.Actor) {
	severity := domain.SeverityInfo
	outcome := domain.OutcomeSuccess
	switch rec.Status {
	case domain.UploadFailed:
		outcome = domain.OutcomeFailure
	case domain.UploadQuarantined:
		severity = domain.SeverityWarning
		outcome = domain.OutcomeFailure
	}
	l.LogAction(ctx, &domain.ComplianceAuditLog{
		EventType:   domain.EventUpload,
		Action:      "UPLOAD_" + string(rec.Status),
		Severity:    severity,
		Outcome:     outcome,
		EntityType:  "upload",
		EntityID:    rec.UploadID,
		UserID:      actor.UserID,
		UserRole:    actor.Role,
		IPAddress:   actor.IPAddress,
		UserAgent:   actor.UserAgent,
		Description: rec.Reason,
		Metadata:    map[string]any{"sequence": rec.Sequence, "resource_type": rec.ResourceType},
	})
}

// LogRequest records a request action event.
func (l *Logger) LogRequest(ctx context.Context, rec *domain.RequestActionAuditLog, actor domain.Actor) {
	l.LogAction(ctx, &domain.ComplianceAuditLog{
		EventType:   domain.EventRequest,
		Action:      "REQUEST_" + string(rec.Action),
		Severity:    domain.SeverityInfo,
		Outcome:     domain.OutcomeSuccess,
		EntityType:  "request",
		EntityID:    rec.RequestID,
		UserID:      actor.UserID,
		UserRole:    actor.Role,
		IPAddress:   actor.IPAddress,
		UserAgent:   actor.UserAgent,
		Description: rec.Reason,
		Metadata:    map[string]any{"sequence": rec.Sequence, "status": string(rec.Status), "dataset_id": rec.DatasetID},
	})
}

// LogChainBroken records a failed integrity verification.
func (l *Logger) LogChainBroken(ctx context.Context, report integrity.Report) {
	l.LogAction(ctx, &domain.ComplianceAuditLog{
		EventType:   domain.EventSystem,
		Action:      "AUDIT_CHAIN_BROKEN",
		Severity:    domain.SeverityCritical,
		Outcome:     domain.OutcomeFailure,
		EntityType:  "audit_chain",
		EntityID:    report.Chain,
		UserID:      domain.SystemActor.UserID,
		UserRole:    domain.SystemActor.Role,
		Description: report.Detail,
		Metadata:    map[string]any{"broken_at": report.BrokenAt, "reason": string(report.Reason)},
	})
}
