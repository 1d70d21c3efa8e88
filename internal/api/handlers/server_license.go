package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"datahub.migas.id/clearinghouse/internal/governance/license"
	apperrors "datahub.migas.id/clearinghouse/internal/pkg/errors"
)

type activateLicenseRequest struct {
	LicenseKey     string `json:"license_key" binding:"required"`
	InstallationID string `json:"installation_id" binding:"required"`
}

type deactivateLicenseRequest struct {
	InstallationID string `json:"installation_id" binding:"required"`
}

type renewLicenseRequest struct {
	ExpiresAt time.Time `json:"expires_at" binding:"required"`
}

type recordUsageRequest struct {
	Metric   string `json:"metric" binding:"required"`
	Quantity int64  `json:"quantity" binding:"required"`
}

// IssueLicense handles POST /licenses. The plaintext key is only ever
// returned by this call.
func (s *Server) IssueLicense(c *gin.Context) {
	var in license.IssueInput
	if !bindJSON(c, &in, false) {
		return
	}
	issued, err := s.licenses.Issue(c.Request.Context(), in, actorFromCtx(c))
	if err != nil {
		fail(c, err, apperrors.CodeLicenseNotFound)
		return
	}
	c.Header("Cache-Control", "no-store")
	c.JSON(http.StatusCreated, issued)
}

// ListLicenses handles GET /licenses.
func (s *Server) ListLicenses(c *gin.Context) {
	f, ok := listFilter(c)
	if !ok {
		return
	}
	page, err := s.licenses.List(c.Request.Context(), f)
	if err != nil {
		fail(c, err, apperrors.CodeLicenseNotFound)
		return
	}
	c.JSON(http.StatusOK, page)
}

// ListLicensePlans handles GET /licenses/plans.
func (s *Server) ListLicensePlans(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"items": s.licenses.Catalog().Plans()})
}

// GetLicense handles GET /licenses/:license_id.
func (s *Server) GetLicense(c *gin.Context) {
	lic, err := s.licenses.Get(c.Request.Context(), c.Param("license_id"))
	if err != nil {
		fail(c, err, apperrors.CodeLicenseNotFound)
		return
	}
	c.JSON(http.StatusOK, lic)
}

// ListLicenseActivations handles GET /licenses/:license_id/activations.
func (s *Server) ListLicenseActivations(c *gin.Context) {
	items, err := s.licenses.Activations(c.Request.Context(), c.Param("license_id"))
	if err != nil {
		fail(c, err, apperrors.CodeLicenseNotFound)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": nonNil(items)})
}

// ActivateLicense handles POST /licenses/activate.
func (s *Server) ActivateLicense(c *gin.Context) {
	var req activateLicenseRequest
	if !bindJSON(c, &req, false) {
		return
	}
	act, err := s.licenses.Activate(c.Request.Context(), req.LicenseKey, req.InstallationID, actorFromCtx(c))
	if err != nil {
		fail(c, err, apperrors.CodeLicenseNotFound)
		return
	}
	c.JSON(http.StatusOK, act)
}

// DeactivateLicense handles POST /licenses/:license_id/deactivate.
func (s *Server) DeactivateLicense(c *gin.Context) {
	var req deactivateLicenseRequest
	if !bindJSON(c, &req, false) {
		return
	}
	if err := s.licenses.Deactivate(c.Request.Context(), c.Param("license_id"), req.InstallationID, actorFromCtx(c)); err != nil {
		fail(c, err, apperrors.CodeLicenseNotFound)
		return
	}
	c.Status(http.StatusNoContent)
}

// SuspendLicense handles POST /licenses/:license_id/suspend.
func (s *Server) SuspendLicense(c *gin.Context) {
	var req reasonRequest
	if !bindJSON(c, &req, true) {
		return
	}
	lic, err := s.licenses.Suspend(c.Request.Context(), c.Param("license_id"), actorFromCtx(c), req.Reason)
	if err != nil {
		fail(c, err, apperrors.CodeLicenseNotFound)
		return
	}
	c.JSON(http.StatusOK, lic)
}

// ResumeLicense handles POST /licenses/:license_id/resume.
func (s *Server) ResumeLicense(c *gin.Context) {
	lic, err := s.licenses.Resume(c.Request.Context(), c.Param("license_id"), actorFromCtx(c))
	if err != nil {
		fail(c, err, apperrors.CodeLicenseNotFound)
		return
	}
	c.JSON(http.StatusOK, lic)
}

// RevokeLicense handles POST /licenses/:license_id/revoke.
func (s *Server) RevokeLicense(c *gin.Context) {
	var req reasonRequest
	if !bindJSON(c, &req, true) {
		return
	}
	lic, err := s.licenses.Revoke(c.Request.Context(), c.Param("license_id"), actorFromCtx(c), req.Reason)
	if err != nil {
		fail(c, err, apperrors.CodeLicenseNotFound)
		return
	}
	c.JSON(http.StatusOK, lic)
}

// RenewLicense handles POST /licenses/:license_id/renew.
func (s *Server) RenewLicense(c *gin.Context) {
	var req renewLicenseRequest
	if !bindJSON(c, &req, false) {
		return
	}
	lic, err := s.licenses.Renew(c.Request.Context(), c.Param("license_id"), req.ExpiresAt, actorFromCtx(c))
	if err != nil {
		fail(c, err, apperrors.CodeLicenseNotFound)
		return
	}
	c.JSON(http.StatusOK, lic)
}

// RecordLicenseUsage handles POST /licenses/:license_id/usage.
func (s *Server) RecordLicenseUsage(c *gin.Context) {
	var req recordUsageRequest
	if !bindJSON(c, &req, false) {
		return
	}
	usage, err := s.licenses.RecordUsage(c.Request.Context(), c.Param("license_id"), req.Metric, req.Quantity, actorFromCtx(c))
	if err != nil {
		fail(c, err, apperrors.CodeLicenseNotFound)
		return
	}
	c.JSON(http.StatusCreated, usage)
}

// GetLicenseUsage handles GET /licenses/:license_id/usage?at=. The period is
// the UTC month containing at, or the current month when at is omitted.
func (s *Server) GetLicenseUsage(c *gin.Context) {
	at, err := parseTime(c.Query("at"))
	if err != nil {
		badRequest(c, "at: %v", err)
		return
	}
	summary, err := s.licenses.Usage(c.Request.Context(), c.Param("license_id"), at)
	if err != nil {
		fail(c, err, apperrors.CodeLicenseNotFound)
		return
	}
	c.JSON(http.StatusOK, summary)
}
