package domain

import (
	"time"

	"datahub.migas.id/clearinghouse/internal/integrity"
)

// UploadStatus is the lifecycle state of a resource upload.
type UploadStatus string

const (
	UploadInitiated   UploadStatus = "INITIATED"
	UploadCompleted   UploadStatus = "COMPLETED"
	UploadFailed      UploadStatus = "FAILED"
	UploadQuarantined UploadStatus = "QUARANTINED"
)

var uploadTransitions = map[UploadStatus][]UploadStatus{
	UploadInitiated: {UploadCompleted, UploadFailed, UploadQuarantined},
}

// Valid reports whether s is a known upload status.
func (s UploadStatus) Valid() bool {
	switch s {
	case UploadInitiated, UploadCompleted, UploadFailed, UploadQuarantined:
		return true
	}
	return false
}

// Terminal reports whether no further transition is possible.
func (s UploadStatus) Terminal() bool {
	return s.Valid() && len(uploadTransitions[s]) == 0
}

// CanTransition reports whether an upload may move from -> to.
func (s UploadStatus) CanTransition(to UploadStatus) bool {
	for _, allowed := range uploadTransitions[s] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Upload failure reasons set by the service itself.
const (
	ReasonChecksumMismatch = "checksum_mismatch"
	ReasonStaleUpload      = "stale_upload"
)

// ResourceUploadAuditLog is one transition of a resource upload. The latest
// row for an UploadID is the upload's current state.
type ResourceUploadAuditLog struct {
	ID            string         `json:"id"`
	Sequence      int64          `json:"sequence"`
	UploadID      string         `json:"upload_id"`
	ResourceType  string         `json:"resource_type"`
	ResourceID    string         `json:"resource_id,omitempty"`
	FileName      string         `json:"file_name"`
	FileSize      int64          `json:"file_size"`
	ContentType   string         `json:"content_type,omitempty"`
	Checksum      string         `json:"checksum,omitempty"`
	Status        UploadStatus   `json:"status"`
	Reason        string         `json:"reason,omitempty"`
	UserID        string         `json:"user_id"`
	IPAddress     string         `json:"ip_address,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	Timestamp     time.Time      `json:"timestamp"`
	PreviousHash  string         `json:"previous_hash"`
	IntegrityHash string         `json:"integrity_hash"`
}

// Fields returns the hashed content of the record.
func (r *ResourceUploadAuditLog) Fields() map[string]any {
	f := map[string]any{
		"id":            r.ID,
		"timestamp":     r.Timestamp,
		"sequence":      r.Sequence,
		"upload_id":     r.UploadID,
		"resource_type": r.ResourceType,
		"resource_id":   r.ResourceID,
		"file_name":     r.FileName,
		"file_size":     r.FileSize,
		"content_type":  r.ContentType,
		"checksum":      r.Checksum,
		"status":        string(r.Status),
		"reason":        r.Reason,
		"user_id":       r.UserID,
		"ip_address":    r.IPAddress,
	}
	putMetadata(f, r.Metadata)
	return f
}

// ComputeHash recomputes the integrity hash from the record content.
func (r *ResourceUploadAuditLog) ComputeHash() (string, error) {
	return integrity.Hash(r.Fields(), r.PreviousHash)
}

// Seal places the record after prev in the chain and stamps its hash.
func (r *ResourceUploadAuditLog) Seal(seq int64, prevHash string) error {
	r.Sequence = seq
	r.PreviousHash = prevHash
	h, err := r.ComputeHash()
	if err != nil {
		return err
	}
	r.IntegrityHash = h
	return nil
}

func (r *ResourceUploadAuditLog) ChainSequence() int64  { return r.Sequence }
func (r *ResourceUploadAuditLog) ChainPrevious() string { return r.PreviousHash }
func (r *ResourceUploadAuditLog) ChainHash() string     { return r.IntegrityHash }

// Next returns a copy of r carrying the immutable upload attributes, ready to
// record a transition to status.
func (r *ResourceUploadAuditLog) Next(status UploadStatus, actor, reason string) *ResourceUploadAuditLog {
	return &ResourceUploadAuditLog{
		ID:           NewID(),
		UploadID:     r.UploadID,
		ResourceType: r.ResourceType,
		ResourceID:   r.ResourceID,
		FileName:     r.FileName,
		FileSize:     r.FileSize,
		ContentType:  r.ContentType,
		Checksum:     r.Checksum,
		Status:       status,
		Reason:       reason,
		UserID:       actor,
		Timestamp:    Now(),
	}
}
