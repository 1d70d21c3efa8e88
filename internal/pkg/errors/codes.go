package errors

// Error codes returned to portal clients. Backend logs are always English;
// the frontend translates codes.

// Generic codes.
const (
	CodeInvalidRequest = "INVALID_REQUEST"
	CodeInternal       = "INTERNAL_ERROR"
	CodeUnauthorized   = "UNAUTHORIZED"
	CodeForbidden      = "FORBIDDEN"
)

// Audit log codes.
const (
	CodeAuditLogNotFound   = "AUDIT_LOG_NOT_FOUND"
	CodeInvalidTransition  = "INVALID_TRANSITION"
	CodeIntegrityViolation = "INTEGRITY_VIOLATION"
)

// Upload codes.
const (
	CodeUploadNotFound = "UPLOAD_NOT_FOUND"
)

// Data request codes.
const (
	CodeRequestNotFound = "REQUEST_NOT_FOUND"
	CodeSelfApproval    = "SELF_APPROVAL_FORBIDDEN"
	CodeNotRequester    = "NOT_REQUESTER"
)

// License codes.
const (
	CodeLicenseNotFound     = "LICENSE_NOT_FOUND"
	CodeLicenseKeyInvalid   = "LICENSE_KEY_INVALID"
	CodeLicenseInactive     = "LICENSE_INACTIVE"
	CodeLicenseExpired      = "LICENSE_EXPIRED"
	CodeActivationLimit     = "LICENSE_ACTIVATION_LIMIT"
	CodeUsageLimitExceeded  = "LICENSE_LIMIT_EXCEEDED"
	CodeUnknownMetric       = "LICENSE_UNKNOWN_METRIC"
	CodeActivationNotFound  = "LICENSE_ACTIVATION_NOT_FOUND"
	CodeLicensePlanNotFound = "LICENSE_PLAN_NOT_FOUND"
)
