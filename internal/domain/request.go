package domain

import (
	"time"

	"datahub.migas.id/clearinghouse/internal/integrity"
)

// RequestStatus is the lifecycle state of a data request.
type RequestStatus string

const (
	RequestPending   RequestStatus = "PENDING"
	RequestApproved  RequestStatus = "APPROVED"
	RequestRejected  RequestStatus = "REJECTED"
	RequestCancelled RequestStatus = "CANCELLED"
	RequestDelivered RequestStatus = "DELIVERED"
)

var requestTransitions = map[RequestStatus][]RequestStatus{
	RequestPending:  {RequestApproved, RequestRejected, RequestCancelled},
	RequestApproved: {RequestDelivered},
}

// Valid reports whether s is a known request status.
func (s RequestStatus) Valid() bool {
	switch s {
	case RequestPending, RequestApproved, RequestRejected, RequestCancelled, RequestDelivered:
		return true
	}
	return false
}

// Terminal reports whether no further transition is possible.
func (s RequestStatus) Terminal() bool {
	return s.Valid() && len(requestTransitions[s]) == 0
}

// CanTransition reports whether a request may move from s to to.
func (s RequestStatus) CanTransition(to RequestStatus) bool {
	for _, allowed := range requestTransitions[s] {
		if allowed == to {
			return true
		}
	}
	return false
}

// RequestAction is the actor's verb recorded on each row.
type RequestAction string

const (
	ActionSubmit  RequestAction = "SUBMIT"
	ActionApprove RequestAction = "APPROVE"
	ActionReject  RequestAction = "REJECT"
	ActionCancel  RequestAction = "CANCEL"
	ActionDeliver RequestAction = "DELIVER"
)

// ResultingStatus is the status a request holds after the action.
func (a RequestAction) ResultingStatus() (RequestStatus, bool) {
	switch a {
	case ActionSubmit:
		return RequestPending, true
	case ActionApprove:
		return RequestApproved, true
	case ActionReject:
		return RequestRejected, true
	case ActionCancel:
		return RequestCancelled, true
	case ActionDeliver:
		return RequestDelivered, true
	}
	return "", false
}

// RequestActionAuditLog is one action on a data request. The latest row for
// a RequestID is the request's current state.
type RequestActionAuditLog struct {
	ID            string         `json:"id"`
	Sequence      int64          `json:"sequence"`
	RequestID     string         `json:"request_id"`
	RequestType   string         `json:"request_type"`
	DatasetID     string         `json:"dataset_id"`
	Action        RequestAction  `json:"action"`
	Status        RequestStatus  `json:"status"`
	ActorID       string         `json:"actor_id"`
	RequesterID   string         `json:"requester_id"`
	Reason        string         `json:"reason,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	Timestamp     time.Time      `json:"timestamp"`
	PreviousHash  string         `json:"previous_hash"`
	IntegrityHash string         `json:"integrity_hash"`
}

// Fields returns the hashed content of the record.
func (r *RequestActionAuditLog) Fields() map[string]any {
	f := map[string]any{
		"id":           r.ID,
		"timestamp":    r.Timestamp,
		"sequence":     r.Sequence,
		"request_id":   r.RequestID,
		"request_type": r.RequestType,
		"dataset_id":   r.DatasetID,
		"action":       string(r.Action),
		"status":       string(r.Status),
		"actor_id":     r.ActorID,
		"requester_id": r.RequesterID,
		"reason":       r.Reason,
	}
	putMetadata(f, r.Metadata)
	return f
}

// ComputeHash recomputes the integrity hash from the record content.
func (r *RequestActionAuditLog) ComputeHash() (string, error) {
	return integrity.Hash(r.Fields(), r.PreviousHash)
}

// Seal places the record after prev in the chain and stamps its hash.
func (r *RequestActionAuditLog) Seal(seq int64, prevHash string) error {
	r.Sequence = seq
	r.PreviousHash = prevHash
	h, err := r.ComputeHash()
	if err != nil {
		return err
	}
	r.IntegrityHash = h
	return nil
}

func (r *RequestActionAuditLog) ChainSequence() int64  { return r.Sequence }
func (r *RequestActionAuditLog) ChainPrevious() string { return r.PreviousHash }
func (r *RequestActionAuditLog) ChainHash() string     { return r.IntegrityHash }

// Next returns the row recording action on this request by actor.
func (r *RequestActionAuditLog) Next(action RequestAction, actor, reason string) (*RequestActionAuditLog, error) {
	to, ok := action.ResultingStatus()
	if !ok || !r.Status.CanTransition(to) {
		return nil, ErrInvalidTransition
	}
	return &RequestActionAuditLog{
		ID:          NewID(),
		RequestID:   r.RequestID,
		RequestType: r.RequestType,
		DatasetID:   r.DatasetID,
		Action:      action,
		Status:      to,
		ActorID:     actor,
		RequesterID: r.RequesterID,
		Reason:      reason,
		Timestamp:   Now(),
	}, nil
}

// Priority tiers for requests awaiting review.
type Priority string

const (
	PriorityNormal  Priority = "normal"
	PriorityWarning Priority = "warning"
	PriorityUrgent  Priority = "urgent"
)

const (
	pendingWarningAge = 4 * 24 * time.Hour
	pendingUrgentAge  = 7 * 24 * time.Hour
)

// PendingPriority tiers a request by how long it has been waiting.
func PendingPriority(submittedAt, now time.Time) Priority {
	age := now.Sub(submittedAt)
	switch {
	case age >= pendingUrgentAge:
		return PriorityUrgent
	case age >= pendingWarningAge:
		return PriorityWarning
	default:
		return PriorityNormal
	}
}

// PendingRequest is a request awaiting review with its waiting time.
type PendingRequest struct {
	Request     *RequestActionAuditLog `json:"request"`
	SubmittedAt time.Time              `json:"submitted_at"`
	PendingDays int                    `json:"pending_days"`
	Priority    Priority               `json:"priority"`
}
