package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"datahub.migas.id/clearinghouse/internal/domain"
	apperrors "datahub.migas.id/clearinghouse/internal/pkg/errors"
)

// domainRules maps domain sentinels to API errors. ErrNotFound carries no
// code of its own: the handler names the missing entity.
var domainRules = apperrors.Rules{
	{Target: domain.ErrNotFound, Status: http.StatusNotFound},
	{Target: domain.ErrInvalidInput, Code: apperrors.CodeInvalidRequest, Status: http.StatusBadRequest},
	{Target: domain.ErrInvalidTransition, Code: apperrors.CodeInvalidTransition, Status: http.StatusConflict},
	{Target: domain.ErrSelfApproval, Code: apperrors.CodeSelfApproval, Status: http.StatusForbidden},
	{Target: domain.ErrNotRequester, Code: apperrors.CodeNotRequester, Status: http.StatusForbidden},
	{Target: domain.ErrLicenseKeyInvalid, Code: apperrors.CodeLicenseKeyInvalid, Status: http.StatusForbidden},
	{Target: domain.ErrLicenseInactive, Code: apperrors.CodeLicenseInactive, Status: http.StatusForbidden},
	{Target: domain.ErrLicenseExpired, Code: apperrors.CodeLicenseExpired, Status: http.StatusForbidden},
	{Target: domain.ErrActivationLimit, Code: apperrors.CodeActivationLimit, Status: http.StatusConflict},
	{Target: domain.ErrActivationNotFound, Code: apperrors.CodeActivationNotFound, Status: http.StatusNotFound},
	{Target: domain.ErrUsageLimitExceeded, Code: apperrors.CodeUsageLimitExceeded, Status: http.StatusTooManyRequests},
	{Target: domain.ErrUnknownMetric, Code: apperrors.CodeUnknownMetric, Status: http.StatusBadRequest},
	{Target: domain.ErrPlanNotFound, Code: apperrors.CodeLicensePlanNotFound, Status: http.StatusBadRequest},
}

func toAppError(err error, notFoundCode string) *apperrors.AppError {
	return domainRules.Map(err, notFoundCode)
}

// fail reports err to the error middleware and stops the chain.
func fail(c *gin.Context, err error, notFoundCode string) {
	_ = c.Error(toAppError(err, notFoundCode))
	c.Abort()
}

func badRequest(c *gin.Context, format string, args ...any) {
	_ = c.Error(apperrors.BadRequest(apperrors.CodeInvalidRequest, fmt.Sprintf(format, args...)))
	c.Abort()
}

// bindJSON decodes the body into dst. An empty body is accepted when
// optional is set, for actions whose note or reason may be omitted.
func bindJSON(c *gin.Context, dst any, optional bool) bool {
	if optional && c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(dst); err != nil {
		badRequest(c, "invalid request body: %v", err)
		return false
	}
	return true
}

// parseTime accepts RFC 3339 timestamps and plain dates (YYYY-MM-DD, UTC).
func parseTime(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%q is not an RFC 3339 timestamp or date", raw)
	}
	return t.UTC(), nil
}

func queryInt(c *gin.Context, name string) (int, error) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", name)
	}
	return n, nil
}

// listFilter reads the shared list query parameters:
// from, to, user_id, status, event_type, severity, entity_type, entity_id,
// page and per_page.
func listFilter(c *gin.Context) (domain.ListFilter, bool) {
	var f domain.ListFilter
	var err error

	if f.From, err = parseTime(c.Query("from")); err != nil {
		badRequest(c, "from: %v", err)
		return f, false
	}
	if f.To, err = parseTime(c.Query("to")); err != nil {
		badRequest(c, "to: %v", err)
		return f, false
	}
	if !f.From.IsZero() && !f.To.IsZero() && !f.From.Before(f.To) {
		badRequest(c, "from must be before to")
		return f, false
	}
	if f.Page, err = queryInt(c, "page"); err != nil {
		badRequest(c, "%v", err)
		return f, false
	}
	if f.PerPage, err = queryInt(c, "per_page"); err != nil {
		badRequest(c, "%v", err)
		return f, false
	}

	f.UserID = strings.TrimSpace(c.Query("user_id"))
	f.Status = strings.ToUpper(strings.TrimSpace(c.Query("status")))
	f.EventType = strings.ToUpper(strings.TrimSpace(c.Query("event_type")))
	f.Severity = strings.ToUpper(strings.TrimSpace(c.Query("severity")))
	f.EntityType = strings.TrimSpace(c.Query("entity_type"))
	f.EntityID = strings.TrimSpace(c.Query("entity_id"))
	f.Normalize()
	return f, true
}
