package domain

import (
	"time"

	"github.com/google/uuid"
)

// Audit chain names, one per audit table.
const (
	ChainCompliance = "compliance_audit_logs"
	ChainUpload     = "resource_upload_audit_logs"
	ChainRequest    = "request_action_audit_logs"
)

// Chains lists every audit chain in verification order.
var Chains = []string{ChainCompliance, ChainUpload, ChainRequest}

// Now returns the current time in UTC at the precision the store keeps.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

// NewID returns a time-ordered UUIDv7 string.
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}

func putMetadata(fields map[string]any, md map[string]any) {
	// An empty map and a missing map must hash the same.
	if len(md) > 0 {
		fields["metadata"] = md
	}
}

// Actor identifies who performed an action and from where.
type Actor struct {
	UserID    string `json:"user_id"`
	Role      string `json:"role,omitempty"`
	IPAddress string `json:"ip_address,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
}

// SystemActor is used for transitions made by background jobs.
var SystemActor = Actor{UserID: "system", Role: "system"}
