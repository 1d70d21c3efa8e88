package domain

import (
	"time"

	"datahub.migas.id/clearinghouse/internal/integrity"
)

// EventType classifies a compliance audit event.
type EventType string

const (
	EventDataAccess       EventType = "DATA_ACCESS"
	EventDataModification EventType = "DATA_MODIFICATION"
	EventDataExport       EventType = "DATA_EXPORT"
	EventDataDeletion     EventType = "DATA_DELETION"
	EventAuthentication   EventType = "AUTHENTICATION"
	EventAuthorization    EventType = "AUTHORIZATION"
	EventLicense          EventType = "LICENSE"
	EventUpload           EventType = "UPLOAD"
	EventRequest          EventType = "REQUEST"
	EventConfiguration    EventType = "CONFIGURATION"
	EventSystem           EventType = "SYSTEM"
)

// Valid reports whether t is a known event type.
func (t EventType) Valid() bool {
	switch t {
	case EventDataAccess, EventDataModification, EventDataExport, EventDataDeletion,
		EventAuthentication, EventAuthorization, EventLicense, EventUpload,
		EventRequest, EventConfiguration, EventSystem:
		return true
	}
	return false
}

// Severity of a compliance event.
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityCritical Severity = "CRITICAL"
)

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	return s == SeverityInfo || s == SeverityWarning || s == SeverityCritical
}

// Outcome of the audited action.
type Outcome string

const (
	OutcomeSuccess Outcome = "SUCCESS"
	OutcomeFailure Outcome = "FAILURE"
)

// Valid reports whether o is a known outcome.
func (o Outcome) Valid() bool {
	return o == OutcomeSuccess || o == OutcomeFailure
}

// ComplianceAuditLog is one immutable entry of the compliance chain.
type ComplianceAuditLog struct {
	ID            string         `json:"id"`
	Sequence      int64          `json:"sequence"`
	EventType     EventType      `json:"event_type"`
	Action        string         `json:"action"`
	Severity      Severity       `json:"severity"`
	Outcome       Outcome        `json:"outcome"`
	EntityType    string         `json:"entity_type,omitempty"`
	EntityID      string         `json:"entity_id,omitempty"`
	UserID        string         `json:"user_id"`
	UserRole      string         `json:"user_role,omitempty"`
	IPAddress     string         `json:"ip_address,omitempty"`
	UserAgent     string         `json:"user_agent,omitempty"`
	Description   string         `json:"description,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	Timestamp     time.Time      `json:"timestamp"`
	PreviousHash  string         `json:"previous_hash"`
	IntegrityHash string         `json:"integrity_hash"`
}

// Fields returns the hashed content of the record.
func (r *ComplianceAuditLog) Fields() map[string]any {
	f := map[string]any{
		"id":          r.ID,
		"timestamp":   r.Timestamp,
		"sequence":    r.Sequence,
		"event_type":  string(r.EventType),
		"action":      r.Action,
		"severity":    string(r.Severity),
		"outcome":     string(r.Outcome),
		"entity_type": r.EntityType,
		"entity_id":   r.EntityID,
		"user_id":     r.UserID,
		"user_role":   r.UserRole,
		"ip_address":  r.IPAddress,
		"user_agent":  r.UserAgent,
		"description": r.Description,
	}
	putMetadata(f, r.Metadata)
	return f
}

// ComputeHash recomputes the integrity hash from the record content.
func (r *ComplianceAuditLog) ComputeHash() (string, error) {
	return integrity.Hash(r.Fields(), r.PreviousHash)
}

// Seal places the record after prev in the chain and stamps its hash.
func (r *ComplianceAuditLog) Seal(seq int64, prevHash string) error {
	r.Sequence = seq
	r.PreviousHash = prevHash
	h, err := r.ComputeHash()
	if err != nil {
		return err
	}
	r.IntegrityHash = h
	return nil
}

func (r *ComplianceAuditLog) ChainSequence() int64  { return r.Sequence }
func (r *ComplianceAuditLog) ChainPrevious() string { return r.PreviousHash }
func (r *ComplianceAuditLog) ChainHash() string     { return r.IntegrityHash }
