package domain

import "errors"

// Domain sentinel errors. The HTTP layer maps them to AppErrors.
var (
	ErrNotFound           = errors.New("not found")
	ErrInvalidInput       = errors.New("invalid input")
	ErrInvalidTransition  = errors.New("invalid status transition")
	ErrSelfApproval       = errors.New("requester cannot approve or reject their own request")
	ErrNotRequester       = errors.New("only the requester can cancel a request")
	ErrLicenseKeyInvalid  = errors.New("license key is invalid")
	ErrLicenseInactive    = errors.New("license is not active")
	ErrLicenseExpired     = errors.New("license is expired or not yet valid")
	ErrActivationLimit    = errors.New("license activation limit reached")
	ErrActivationNotFound = errors.New("activation not found")
	ErrUsageLimitExceeded = errors.New("license usage limit exceeded")
	ErrUnknownMetric      = errors.New("metric is not metered by this license")
	ErrPlanNotFound       = errors.New("license plan not found")
)
