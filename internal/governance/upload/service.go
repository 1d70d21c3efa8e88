// Package upload tracks the lifecycle of resource uploads.
//
// Every transition appends a row to the upload hash chain. The latest row
// for an upload is its current state: INITIATED moves once to COMPLETED,
// FAILED or QUARANTINED, and terminal states are final.
package upload

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"datahub.migas.id/clearinghouse/internal/domain"
	"datahub.migas.id/clearinghouse/internal/governance/audit"
	"datahub.migas.id/clearinghouse/internal/integrity"
	"datahub.migas.id/clearinghouse/internal/notification"
	"datahub.migas.id/clearinghouse/internal/pkg/logger"
	"datahub.migas.id/clearinghouse/internal/pkg/metrics"
	"datahub.migas.id/clearinghouse/internal/repository"
)

const sweepBatch = 500

// Input describes a new upload.
type Input struct {
	ResourceType string         `json:"resource_type"`
	ResourceID   string         `json:"resource_id"`
	FileName     string         `json:"file_name"`
	FileSize     int64          `json:"file_size"`
	ContentType  string         `json:"content_type"`
	Checksum     string         `json:"checksum"`
	Metadata     map[string]any `json:"metadata"`
}

// Service records upload transitions.
type Service struct {
	store       *repository.Store
	auditLogger *audit.Logger
	notifier    *notification.Triggers // nil-safe
}

// NewService creates a new upload Service.
func NewService(store *repository.Store, auditLogger *audit.Logger, notifier *notification.Triggers) *Service {
	return &Service{store: store, auditLogger: auditLogger, notifier: notifier}
}

// Initiate opens a new upload in INITIATED.
func (s *Service) Initiate(ctx context.Context, in Input, actor domain.Actor) (*domain.ResourceUploadAuditLog, error) {
	in.ResourceType = strings.TrimSpace(in.ResourceType)
	in.FileName = strings.TrimSpace(in.FileName)
	switch {
	case in.ResourceType == "":
		return nil, fmt.Errorf("%w: resource_type is required", domain.ErrInvalidInput)
	case in.FileName == "":
		return nil, fmt.Errorf("%w: file_name is required", domain.ErrInvalidInput)
	case in.FileSize < 0:
		return nil, fmt.Errorf("%w: file_size must not be negative", domain.ErrInvalidInput)
	case actor.UserID == "":
		return nil, fmt.Errorf("%w: user is required", domain.ErrInvalidInput)
	}

	rec := &domain.ResourceUploadAuditLog{
		ID:           domain.NewID(),
		UploadID:     domain.NewID(),
		ResourceType: in.ResourceType,
		ResourceID:   in.ResourceID,
		FileName:     in.FileName,
		FileSize:     in.FileSize,
		ContentType:  in.ContentType,
		Checksum:     normalizeChecksum(in.Checksum),
		Status:       domain.UploadInitiated,
		UserID:       actor.UserID,
		IPAddress:    actor.IPAddress,
		Metadata:     in.Metadata,
		Timestamp:    domain.Now(),
	}
	err := s.store.InTx(ctx, func(q *repository.Queries) error {
		return q.AppendUploadLog(ctx, rec)
	})
	if err != nil {
		return nil, fmt.Errorf("initiate upload: %w", err)
	}

	s.afterCommit(ctx, rec, "", actor)
	return rec, nil
}

// Complete finishes an upload. A checksum that differs from the one declared
// at initiation quarantines the upload instead.
func (s *Service) Complete(ctx context.Context, uploadID string, actor domain.Actor, checksum string) (*domain.ResourceUploadAuditLog, error) {
	checksum = normalizeChecksum(checksum)
	return s.transition(ctx, uploadID, actor, func(cur *domain.ResourceUploadAuditLog) (domain.UploadStatus, string, string) {
		switch {
		case checksum == "":
			return domain.UploadCompleted, "", cur.Checksum
		case cur.Checksum == "":
			return domain.UploadCompleted, "", checksum
		case !integrity.Equal(cur.Checksum, checksum):
			return domain.UploadQuarantined, domain.ReasonChecksumMismatch, cur.Checksum
		default:
			return domain.UploadCompleted, "", cur.Checksum
		}
	})
}

// Fail marks an upload FAILED.
func (s *Service) Fail(ctx context.Context, uploadID string, actor domain.Actor, reason string) (*domain.ResourceUploadAuditLog, error) {
	return s.fixed(ctx, uploadID, actor, domain.UploadFailed, reason)
}

// Quarantine isolates a suspicious upload.
func (s *Service) Quarantine(ctx context.Context, uploadID string, actor domain.Actor, reason string) (*domain.ResourceUploadAuditLog, error) {
	return s.fixed(ctx, uploadID, actor, domain.UploadQuarantined, reason)
}

func (s *Service) fixed(ctx context.Context, uploadID string, actor domain.Actor, to domain.UploadStatus, reason string) (*domain.ResourceUploadAuditLog, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, fmt.Errorf("%w: reason is required", domain.ErrInvalidInput)
	}
	return s.transition(ctx, uploadID, actor, func(cur *domain.ResourceUploadAuditLog) (domain.UploadStatus, string, string) {
		return to, reason, cur.Checksum
	})
}

// decideFunc picks the target status, reason and checksum from the current row.
type decideFunc func(cur *domain.ResourceUploadAuditLog) (domain.UploadStatus, string, string)

func (s *Service) transition(ctx context.Context, uploadID string, actor domain.Actor, decide decideFunc) (*domain.ResourceUploadAuditLog, error) {
	if actor.UserID == "" {
		return nil, fmt.Errorf("%w: user is required", domain.ErrInvalidInput)
	}

	var (
		next *domain.ResourceUploadAuditLog
		from domain.UploadStatus
	)
	err := s.store.InTx(ctx, func(q *repository.Queries) error {
		if err := q.LockChain(ctx, domain.ChainUpload); err != nil {
			return err
		}
		cur, err := q.LatestUploadLog(ctx, uploadID)
		if err != nil {
			return err
		}
		from = cur.Status

		to, reason, checksum := decide(cur)
		if !cur.Status.CanTransition(to) {
			return fmt.Errorf("%w: upload %s is %s, cannot move to %s", domain.ErrInvalidTransition, uploadID, cur.Status, to)
		}

		next = cur.Next(to, actor.UserID, reason)
		next.Checksum = checksum
		next.IPAddress = actor.IPAddress
		return q.AppendUploadLog(ctx, next)
	})
	if err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			metrics.TransitionRejections.WithLabelValues(domain.ChainUpload).Inc()
		}
		return nil, err
	}

	s.afterCommit(ctx, next, from, actor)
	return next, nil
}

func (s *Service) afterCommit(ctx context.Context, rec *domain.ResourceUploadAuditLog, from domain.UploadStatus, actor domain.Actor) {
	metrics.AuditRecordsAppended.WithLabelValues(domain.ChainUpload).Inc()
	if from != "" {
		metrics.StatusTransitions.WithLabelValues(domain.ChainUpload, string(from), string(rec.Status)).Inc()
	}

	s.auditLogger.LogUpload(ctx, rec, actor)
	s.notifier.OnUploadTransition(ctx, rec)

	logger.Info("Upload transition recorded",
		zap.String("upload_id", rec.UploadID),
		zap.String("status", string(rec.Status)),
		zap.String("reason", rec.Reason),
		zap.Int64("sequence", rec.Sequence),
		zap.String("user_id", rec.UserID),
	)
}

// Current returns the latest row of an upload.
func (s *Service) Current(ctx context.Context, uploadID string) (*domain.ResourceUploadAuditLog, error) {
	return s.store.LatestUploadLog(ctx, uploadID)
}

// History returns every row of an upload, oldest first.
func (s *Service) History(ctx context.Context, uploadID string) ([]*domain.ResourceUploadAuditLog, error) {
	items, err := s.store.UploadHistory(ctx, uploadID)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("upload %s: %w", uploadID, domain.ErrNotFound)
	}
	return items, nil
}

// List returns one page of uploads in their current state.
func (s *Service) List(ctx context.Context, f domain.ListFilter) (*domain.Page[*domain.ResourceUploadAuditLog], error) {
	if f.Status != "" && !domain.UploadStatus(f.Status).Valid() {
		return nil, fmt.Errorf("%w: unknown upload status %q", domain.ErrInvalidInput, f.Status)
	}
	f.Normalize()
	items, total, err := s.store.ListUploads(ctx, f)
	if err != nil {
		return nil, err
	}
	return &domain.Page[*domain.ResourceUploadAuditLog]{Items: items, Total: total, Page: f.Page, PerPage: f.PerPage}, nil
}

// VerifyChain walks the upload chain.
func (s *Service) VerifyChain(ctx context.Context) (integrity.Report, error) {
	report, err := s.store.VerifyChain(ctx, domain.ChainUpload)
	metrics.ObserveVerification(domain.ChainUpload, report, err)
	return report, err
}

// SweepStale fails uploads left INITIATED for longer than staleAfter.
// It returns the number of uploads failed.
func (s *Service) SweepStale(ctx context.Context, now time.Time, staleAfter time.Duration) (int, error) {
	before := now.Add(-staleAfter)
	swept := 0
	for {
		ids, err := s.store.StaleUploadIDs(ctx, before, sweepBatch)
		if err != nil {
			return swept, err
		}

		progressed := 0
		for _, id := range ids {
			_, err := s.Fail(ctx, id, domain.SystemActor, domain.ReasonStaleUpload)
			switch {
			case err == nil:
				progressed++
			case errors.Is(err, domain.ErrInvalidTransition):
				// Completed concurrently.
			default:
				return swept, fmt.Errorf("fail stale upload %s: %w", id, err)
			}
		}
		swept += progressed
		metrics.SweptRecords.WithLabelValues("upload_stale").Add(float64(progressed))

		if len(ids) < sweepBatch || progressed == 0 {
			return swept, nil
		}
	}
}

func normalizeChecksum(c string) string {
	return strings.ToLower(strings.TrimSpace(c))
}
