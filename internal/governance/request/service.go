// Package request implements the data request review workflow.
//
// PENDING -> APPROVED -> DELIVERED, or PENDING -> REJECTED / CANCELLED.
// Each action is a row of the request hash chain.
package request

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

const maxPending = 500

// Input describes a new data request.
type Input struct {
	RequestType   string         `json:"request_type"`
	DatasetID     string         `json:"dataset_id"`
	Justification string         `json:"justification"`
	Metadata      map[string]any `json:"metadata"`
}

// Service records request actions.
type Service struct {
	store       *repository.Store
	auditLogger *audit.Logger
	notifier    *notification.Triggers // nil-safe
	now         func() time.Time
}

// NewService creates a new request Service.
func NewService(store *repository.Store, auditLogger *audit.Logger, notifier *notification.Triggers) *Service {
	return &Service{store: store, auditLogger: auditLogger, notifier: notifier, now: domain.Now}
}

// Submit opens a request in PENDING.
func (s *Service) Submit(ctx context.Context, in Input, requester domain.Actor) (*domain.RequestActionAuditLog, error) {
	in.RequestType = strings.TrimSpace(in.RequestType)
	in.DatasetID = strings.TrimSpace(in.DatasetID)
	switch {
	case in.RequestType == "":
		return nil, fmt.Errorf("%w: request_type is required", domain.ErrInvalidInput)
	case in.DatasetID == "":
		return nil, fmt.Errorf("%w: dataset_id is required", domain.ErrInvalidInput)
	case requester.UserID == "":
		return nil, fmt.Errorf("%w: requester is required", domain.ErrInvalidInput)
	}

	rec := &domain.RequestActionAuditLog{
		ID:          domain.NewID(),
		RequestID:   domain.NewID(),
		RequestType: in.RequestType,
		DatasetID:   in.DatasetID,
		Action:      domain.ActionSubmit,
		Status:      domain.RequestPending,
		ActorID:     requester.UserID,
		RequesterID: requester.UserID,
		Reason:      strings.TrimSpace(in.Justification),
		Metadata:    in.Metadata,
		Timestamp:   domain.Now(),
	}
	err := s.store.InTx(ctx, func(q *repository.Queries) error {
		return q.AppendRequestLog(ctx, rec)
	})
	if err != nil {
		return nil, fmt.Errorf("submit request: %w", err)
	}

	s.afterCommit(ctx, rec, "", requester)
	return rec, nil
}

// Approve approves a pending request. Requesters cannot approve their own.
func (s *Service) Approve(ctx context.Context, requestID string, approver domain.Actor, note string) (*domain.RequestActionAuditLog, error) {
	return s.act(ctx, requestID, domain.ActionApprove, approver, note, notRequester)
}

// Reject rejects a pending request. A reason is required.
func (s *Service) Reject(ctx context.Context, requestID string, approver domain.Actor, reason string) (*domain.RequestActionAuditLog, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, fmt.Errorf("%w: rejection reason is required", domain.ErrInvalidInput)
	}
	return s.act(ctx, requestID, domain.ActionReject, approver, reason, notRequester)
}

// Cancel withdraws a pending request. Only the requester may cancel.
func (s *Service) Cancel(ctx context.Context, requestID string, requester domain.Actor) (*domain.RequestActionAuditLog, error) {
	return s.act(ctx, requestID, domain.ActionCancel, requester, "", onlyRequester)
}

// Deliver records that an approved request's data was handed over. The
// requester may not deliver to themselves.
func (s *Service) Deliver(ctx context.Context, requestID string, actor domain.Actor, note string) (*domain.RequestActionAuditLog, error) {
	return s.act(ctx, requestID, domain.ActionDeliver, actor, note, notRequester)
}

// guard checks actor against the current row before an action.
type guard func(cur *domain.RequestActionAuditLog, actor domain.Actor) error

func notRequester(cur *domain.RequestActionAuditLog, actor domain.Actor) error {
	if cur.RequesterID == actor.UserID {
		return domain.ErrSelfApproval
	}
	return nil
}

func onlyRequester(cur *domain.RequestActionAuditLog, actor domain.Actor) error {
	if cur.RequesterID != actor.UserID {
		return domain.ErrNotRequester
	}
	return nil
}

func (s *Service) act(ctx context.Context, requestID string, action domain.RequestAction, actor domain.Actor, note string, check guard) (*domain.RequestActionAuditLog, error) {
	if actor.UserID == "" {
		return nil, fmt.Errorf("%w: actor is required", domain.ErrInvalidInput)
	}

	var (
		next *domain.RequestActionAuditLog
		from domain.RequestStatus
	)
	err := s.store.InTx(ctx, func(q *repository.Queries) error {
		if err := q.LockChain(ctx, domain.ChainRequest); err != nil {
			return err
		}
		cur, err := q.LatestRequestLog(ctx, requestID)
		if err != nil {
			return err
		}
		from = cur.Status

		if check != nil {
			if err := check(cur, actor); err != nil {
				return fmt.Errorf("request %s: %w", requestID, err)
			}
		}

		next, err = cur.Next(action, actor.UserID, strings.TrimSpace(note))
		if err != nil {
			return fmt.Errorf("%w: request %s is %s, cannot %s", err, requestID, cur.Status, strings.ToLower(string(action)))
		}
		return q.AppendRequestLog(ctx, next)
	})
	if err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			metrics.TransitionRejections.WithLabelValues(domain.ChainRequest).Inc()
		}
		return nil, err
	}

	s.afterCommit(ctx, next, from, actor)
	return next, nil
}

func (s *Service) afterCommit(ctx context.Context, rec *domain.RequestActionAuditLog, from domain.RequestStatus, actor domain.Actor) {
	metrics.AuditRecordsAppended.WithLabelValues(domain.ChainRequest).Inc()
	if from != "" {
		metrics.StatusTransitions.WithLabelValues(domain.ChainRequest, string(from), string(rec.Status)).Inc()
	}

	s.auditLogger.LogRequest(ctx, rec, actor)
	s.notifier.OnRequestAction(ctx, rec)

	logger.Info("Request action recorded",
		zap.String("request_id", rec.RequestID),
		zap.String("action", string(rec.Action)),
		zap.String("status", string(rec.Status)),
		zap.String("actor_id", rec.ActorID),
		zap.Int64("sequence", rec.Sequence),
	)
}

// Current returns the latest row of a request.
func (s *Service) Current(ctx context.Context, requestID string) (*domain.RequestActionAuditLog, error) {
	return s.store.LatestRequestLog(ctx, requestID)
}

// History returns every action on a request, oldest first.
func (s *Service) History(ctx context.Context, requestID string) ([]*domain.RequestActionAuditLog, error) {
	items, err := s.store.RequestHistory(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("request %s: %w", requestID, domain.ErrNotFound)
	}
	return items, nil
}

// List returns one page of requests in their current state.
func (s *Service) List(ctx context.Context, f domain.ListFilter) (*domain.Page[*domain.RequestActionAuditLog], error) {
	if f.Status != "" && !domain.RequestStatus(f.Status).Valid() {
		return nil, fmt.Errorf("%w: unknown request status %q", domain.ErrInvalidInput, f.Status)
	}
	f.Normalize()
	items, total, err := s.store.ListRequests(ctx, f)
	if err != nil {
		return nil, err
	}
	return &domain.Page[*domain.RequestActionAuditLog]{Items: items, Total: total, Page: f.Page, PerPage: f.PerPage}, nil
}

// ListPending returns requests awaiting review, oldest first, tiered by age.
func (s *Service) ListPending(ctx context.Context) ([]domain.PendingRequest, error) {
	rows, err := s.store.PendingRequests(ctx, maxPending)
	if err != nil {
		return nil, err
	}

	now := s.now()
	out := make([]domain.PendingRequest, 0, len(rows))
	for _, r := range rows {
		out = append(out, domain.PendingRequest{
			Request:     r,
			SubmittedAt: r.Timestamp,
			PendingDays: int(now.Sub(r.Timestamp) / (24 * time.Hour)),
			Priority:    domain.PendingPriority(r.Timestamp, now),
		})
	}
	return out, nil
}

// VerifyChain walks the request chain.
func (s *Service) VerifyChain(ctx context.Context) (integrity.Report, error) {
	report, err := s.store.VerifyChain(ctx, domain.ChainRequest)
	metrics.ObserveVerification(domain.ChainRequest, report, err)
	return report, err
}
