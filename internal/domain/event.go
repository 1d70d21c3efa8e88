package domain

import (
	"encoding/json"
	"time"
)

// LifecycleEventType names a state change published to downstream systems.
type LifecycleEventType string

const (
	// Upload lifecycle
	EventUploadInitiated   LifecycleEventType = "UPLOAD_INITIATED"
	EventUploadCompleted   LifecycleEventType = "UPLOAD_COMPLETED"
	EventUploadFailed      LifecycleEventType = "UPLOAD_FAILED"
	EventUploadQuarantined LifecycleEventType = "UPLOAD_QUARANTINED"

	// Request lifecycle
	EventRequestSubmitted LifecycleEventType = "REQUEST_SUBMITTED"
	EventRequestApproved  LifecycleEventType = "REQUEST_APPROVED"
	EventRequestRejected  LifecycleEventType = "REQUEST_REJECTED"
	EventRequestCancelled LifecycleEventType = "REQUEST_CANCELLED"
	EventRequestDelivered LifecycleEventType = "REQUEST_DELIVERED"

	// License lifecycle
	EventLicenseIssued        LifecycleEventType = "LICENSE_ISSUED"
	EventLicenseActivated     LifecycleEventType = "LICENSE_ACTIVATED"
	EventLicenseDeactivated   LifecycleEventType = "LICENSE_DEACTIVATED"
	EventLicenseSuspended     LifecycleEventType = "LICENSE_SUSPENDED"
	EventLicenseResumed       LifecycleEventType = "LICENSE_RESUMED"
	EventLicenseRevoked       LifecycleEventType = "LICENSE_REVOKED"
	EventLicenseRenewed       LifecycleEventType = "LICENSE_RENEWED"
	EventLicenseExpired       LifecycleEventType = "LICENSE_EXPIRED"
	EventLicenseLimitExceeded LifecycleEventType = "LICENSE_LIMIT_EXCEEDED"

	// Integrity
	EventAuditChainBroken LifecycleEventType = "AUDIT_CHAIN_BROKEN"
)

// UploadEventFor maps an upload status to its lifecycle event.
func UploadEventFor(s UploadStatus) LifecycleEventType {
	switch s {
	case UploadCompleted:
		return EventUploadCompleted
	case UploadFailed:
		return EventUploadFailed
	case UploadQuarantined:
		return EventUploadQuarantined
	default:
		return EventUploadInitiated
	}
}

// RequestEventFor maps a request status to its lifecycle event.
func RequestEventFor(s RequestStatus) LifecycleEventType {
	switch s {
	case RequestApproved:
		return EventRequestApproved
	case RequestRejected:
		return EventRequestRejected
	case RequestCancelled:
		return EventRequestCancelled
	case RequestDelivered:
		return EventRequestDelivered
	default:
		return EventRequestSubmitted
	}
}

// DomainEvent is an immutable notification that an aggregate changed.
// It carries a claim-check payload, never the full audit record.
type DomainEvent struct {
	EventID       string             `json:"event_id"`
	EventType     LifecycleEventType `json:"event_type"`
	AggregateType string             `json:"aggregate_type"`
	AggregateID   string             `json:"aggregate_id"`
	Payload       json.RawMessage    `json:"payload,omitempty"`
	Actor         string             `json:"actor"`
	OccurredAt    time.Time          `json:"occurred_at"`
}

// NewDomainEvent builds an event with a fresh id, marshaling payload.
func NewDomainEvent(eventType LifecycleEventType, aggregateType, aggregateID, actor string, payload any) (*DomainEvent, error) {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		raw = b
	}
	return &DomainEvent{
		EventID:       NewID(),
		EventType:     eventType,
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		Payload:       raw,
		Actor:         actor,
		OccurredAt:    Now(),
	}, nil
}

// UploadEventPayload is the payload of upload lifecycle events.
type UploadEventPayload struct {
	UploadID     string       `json:"upload_id"`
	ResourceType string       `json:"resource_type"`
	ResourceID   string       `json:"resource_id,omitempty"`
	Status       UploadStatus `json:"status"`
	Reason       string       `json:"reason,omitempty"`
	Sequence     int64        `json:"sequence"`
}

// RequestEventPayload is the payload of request lifecycle events.
type RequestEventPayload struct {
	RequestID   string        `json:"request_id"`
	DatasetID   string        `json:"dataset_id"`
	RequesterID string        `json:"requester_id"`
	Status      RequestStatus `json:"status"`
	Reason      string        `json:"reason,omitempty"`
	Sequence    int64         `json:"sequence"`
}

// LicenseEventPayload is the payload of license lifecycle events.
type LicenseEventPayload struct {
	LicenseID      string        `json:"license_id"`
	Organization   string        `json:"organization"`
	Status         LicenseStatus `json:"status"`
	InstallationID string        `json:"installation_id,omitempty"`
	Metric         string        `json:"metric,omitempty"`
	Quantity       int64         `json:"quantity,omitempty"`
}

// ChainBrokenPayload reports a failed chain verification.
type ChainBrokenPayload struct {
	Chain    string `json:"chain"`
	BrokenAt int64  `json:"broken_at"`
	Reason   string `json:"reason"`
}
