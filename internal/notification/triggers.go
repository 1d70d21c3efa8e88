package notification

import (
	"context"

	"go.uber.org/zap"

	"datahub.migas.id/clearinghouse/internal/domain"
	"datahub.migas.id/clearinghouse/internal/integrity"
	"datahub.migas.id/clearinghouse/internal/pkg/logger"
	"datahub.migas.id/clearinghouse/internal/pkg/worker"
)

// Triggers turns committed audit rows into lifecycle events.
//
// Dispatch runs on the general worker pool, detached from the request
// context, so a slow stream never delays an API response. With no pools
// (CLI, tests) events are dispatched inline. A nil *Triggers is valid and
// drops everything.
type Triggers struct {
	dispatcher *domain.EventDispatcher
	pools      *worker.Pools
}

// NewTriggers creates a new trigger service.
func NewTriggers(dispatcher *domain.EventDispatcher, pools *worker.Pools) *Triggers {
	return &Triggers{dispatcher: dispatcher, pools: pools}
}

// OnUploadTransition fires after an upload row is appended.
func (t *Triggers) OnUploadTransition(ctx context.Context, rec *domain.ResourceUploadAuditLog) {
	t.emit(ctx, domain.UploadEventFor(rec.Status), "upload", rec.UploadID, rec.UserID, domain.UploadEventPayload{
		UploadID:     rec.UploadID,
		ResourceType: rec.ResourceType,
		ResourceID:   rec.ResourceID,
		Status:       rec.Status,
		Reason:       rec.Reason,
		Sequence:     rec.Sequence,
	})
}

// OnRequestAction fires after a request row is appended.
func (t *Triggers) OnRequestAction(ctx context.Context, rec *domain.RequestActionAuditLog) {
	t.emit(ctx, domain.RequestEventFor(rec.Status), "request", rec.RequestID, rec.ActorID, domain.RequestEventPayload{
		RequestID:   rec.RequestID,
		DatasetID:   rec.DatasetID,
		RequesterID: rec.RequesterID,
		Status:      rec.Status,
		Reason:      rec.Reason,
		Sequence:    rec.Sequence,
	})
}

// OnLicense fires after a license changed or refused usage.
func (t *Triggers) OnLicense(ctx context.Context, eventType domain.LifecycleEventType, actor string, payload domain.LicenseEventPayload) {
	t.emit(ctx, eventType, "license", payload.LicenseID, actor, payload)
}

// OnChainBroken fires when verification finds a tampered chain.
func (t *Triggers) OnChainBroken(ctx context.Context, report integrity.Report) {
	t.emit(ctx, domain.EventAuditChainBroken, "audit_chain", report.Chain, domain.SystemActor.UserID, domain.ChainBrokenPayload{
		Chain:    report.Chain,
		BrokenAt: report.BrokenAt,
		Reason:   string(report.Reason),
	})
}

func (t *Triggers) emit(ctx context.Context, eventType domain.LifecycleEventType, aggregateType, aggregateID, actor string, payload any) {
	if t == nil || t.dispatcher == nil {
		return
	}

	event, err := domain.NewDomainEvent(eventType, aggregateType, aggregateID, actor, payload)
	if err != nil {
		logger.Error("Failed to build lifecycle event",
			zap.String("event_type", string(eventType)),
			zap.String("aggregate_id", aggregateID),
			zap.Error(err),
		)
		return
	}

	if t.pools == nil {
		_ = t.dispatcher.Dispatch(ctx, event)
		return
	}

	err = t.pools.SubmitDetached(worker.PoolGeneral, func(ctx context.Context) {
		_ = t.dispatcher.Dispatch(ctx, event)
	})
	if err != nil {
		logger.Error("Failed to schedule lifecycle event",
			zap.String("event_type", string(eventType)),
			zap.String("event_id", event.EventID),
			zap.Error(err),
		)
	}
}
