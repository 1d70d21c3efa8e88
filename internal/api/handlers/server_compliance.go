package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"datahub.migas.id/clearinghouse/internal/domain"
	apperrors "datahub.migas.id/clearinghouse/internal/pkg/errors"
)

// complianceLogRequest is the body of POST /compliance-logs. The user,
// role, IP and user agent always come from the caller, never the body.
type complianceLogRequest struct {
	EventType   domain.EventType `json:"event_type" binding:"required"`
	Action      string           `json:"action" binding:"required"`
	Severity    domain.Severity  `json:"severity"`
	Outcome     domain.Outcome   `json:"outcome"`
	EntityType  string           `json:"entity_type"`
	EntityID    string           `json:"entity_id"`
	Description string           `json:"description"`
	Metadata    map[string]any   `json:"metadata"`
}

// RecordComplianceLog handles POST /compliance-logs.
func (s *Server) RecordComplianceLog(c *gin.Context) {
	var req complianceLogRequest
	if !bindJSON(c, &req, false) {
		return
	}
	actor := actorFromCtx(c)

	rec, err := s.audit.Record(c.Request.Context(), &domain.ComplianceAuditLog{
		EventType:   domain.EventType(strings.ToUpper(string(req.EventType))),
		Action:      req.Action,
		Severity:    domain.Severity(strings.ToUpper(string(req.Severity))),
		Outcome:     domain.Outcome(strings.ToUpper(string(req.Outcome))),
		EntityType:  req.EntityType,
		EntityID:    req.EntityID,
		UserID:      actor.UserID,
		UserRole:    actor.Role,
		IPAddress:   actor.IPAddress,
		UserAgent:   actor.UserAgent,
		Description: req.Description,
		Metadata:    req.Metadata,
	})
	if err != nil {
		fail(c, err, apperrors.CodeAuditLogNotFound)
		return
	}
	c.JSON(http.StatusCreated, rec)
}

// GetComplianceLog handles GET /compliance-logs/:id.
func (s *Server) GetComplianceLog(c *gin.Context) {
	rec, err := s.audit.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err, apperrors.CodeAuditLogNotFound)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// ListComplianceLogs handles GET /compliance-logs.
func (s *Server) ListComplianceLogs(c *gin.Context) {
	f, ok := listFilter(c)
	if !ok {
		return
	}
	page, err := s.audit.List(c.Request.Context(), f)
	if err != nil {
		fail(c, err, apperrors.CodeAuditLogNotFound)
		return
	}
	c.JSON(http.StatusOK, page)
}

// ListComplianceLogsByEntity handles GET /compliance-logs/entities/:entity_type/:entity_id.
func (s *Server) ListComplianceLogsByEntity(c *gin.Context) {
	items, err := s.audit.ListByEntity(c.Request.Context(), c.Param("entity_type"), c.Param("entity_id"))
	if err != nil {
		fail(c, err, apperrors.CodeAuditLogNotFound)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": nonNil(items)})
}

// ListComplianceLogsByUser handles GET /compliance-logs/users/:user_id?from=&to=.
func (s *Server) ListComplianceLogsByUser(c *gin.Context) {
	from, err := parseTime(c.Query("from"))
	if err != nil {
		badRequest(c, "from: %v", err)
		return
	}
	to, err := parseTime(c.Query("to"))
	if err != nil {
		badRequest(c, "to: %v", err)
		return
	}
	items, err := s.audit.ListByUser(c.Request.Context(), c.Param("user_id"), from, to)
	if err != nil {
		fail(c, err, apperrors.CodeAuditLogNotFound)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": nonNil(items)})
}

// VerifyComplianceChain handles GET /compliance-logs/verify.
func (s *Server) VerifyComplianceChain(c *gin.Context) {
	report, err := s.audit.VerifyChain(c.Request.Context())
	if err != nil {
		fail(c, err, apperrors.CodeAuditLogNotFound)
		return
	}
	c.JSON(http.StatusOK, report)
}

// VerifyAllChains handles GET /audit/verify. A broken chain is reported in
// the body with 200; the request itself succeeded.
func (s *Server) VerifyAllChains(c *gin.Context) {
	results, err := s.verifier.VerifyAll(c.Request.Context())
	if err != nil {
		fail(c, err, apperrors.CodeAuditLogNotFound)
		return
	}

	valid := true
	for _, r := range results {
		if r.Error != "" || !r.Report.Valid {
			valid = false
		}
	}
	c.JSON(http.StatusOK, gin.H{"valid": valid, "chains": results})
}

// nonNil keeps empty lists encoded as [] instead of null.
func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
