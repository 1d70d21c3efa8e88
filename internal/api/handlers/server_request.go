package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"datahub.migas.id/clearinghouse/internal/domain"
	"datahub.migas.id/clearinghouse/internal/governance/request"
	apperrors "datahub.migas.id/clearinghouse/internal/pkg/errors"
)

type noteRequest struct {
	Note   string `json:"note"`
	Reason string `json:"reason"`
}

// text returns the reason when set, otherwise the note.
func (r noteRequest) text() string {
	if r.Reason != "" {
		return r.Reason
	}
	return r.Note
}

// SubmitRequest handles POST /requests.
func (s *Server) SubmitRequest(c *gin.Context) {
	var in request.Input
	if !bindJSON(c, &in, false) {
		return
	}
	rec, err := s.requests.Submit(c.Request.Context(), in, actorFromCtx(c))
	if err != nil {
		fail(c, err, apperrors.CodeRequestNotFound)
		return
	}
	c.JSON(http.StatusCreated, rec)
}

// ListRequests handles GET /requests.
func (s *Server) ListRequests(c *gin.Context) {
	f, ok := listFilter(c)
	if !ok {
		return
	}
	page, err := s.requests.List(c.Request.Context(), f)
	if err != nil {
		fail(c, err, apperrors.CodeRequestNotFound)
		return
	}
	c.JSON(http.StatusOK, page)
}

// ListPendingRequests handles GET /requests/pending.
func (s *Server) ListPendingRequests(c *gin.Context) {
	items, err := s.requests.ListPending(c.Request.Context())
	if err != nil {
		fail(c, err, apperrors.CodeRequestNotFound)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

// GetRequest handles GET /requests/:request_id.
func (s *Server) GetRequest(c *gin.Context) {
	rec, err := s.requests.Current(c.Request.Context(), c.Param("request_id"))
	if err != nil {
		fail(c, err, apperrors.CodeRequestNotFound)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// GetRequestHistory handles GET /requests/:request_id/history.
func (s *Server) GetRequestHistory(c *gin.Context) {
	items, err := s.requests.History(c.Request.Context(), c.Param("request_id"))
	if err != nil {
		fail(c, err, apperrors.CodeRequestNotFound)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

// ApproveRequest handles POST /requests/:request_id/approve.
func (s *Server) ApproveRequest(c *gin.Context) {
	s.requestAction(c, s.requests.Approve)
}

// RejectRequest handles POST /requests/:request_id/reject.
func (s *Server) RejectRequest(c *gin.Context) {
	s.requestAction(c, s.requests.Reject)
}

// DeliverRequest handles POST /requests/:request_id/deliver.
func (s *Server) DeliverRequest(c *gin.Context) {
	s.requestAction(c, s.requests.Deliver)
}

// CancelRequest handles POST /requests/:request_id/cancel.
func (s *Server) CancelRequest(c *gin.Context) {
	rec, err := s.requests.Cancel(c.Request.Context(), c.Param("request_id"), actorFromCtx(c))
	if err != nil {
		fail(c, err, apperrors.CodeRequestNotFound)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (s *Server) requestAction(c *gin.Context, do func(ctx context.Context, id string, actor domain.Actor, note string) (*domain.RequestActionAuditLog, error)) {
	var req noteRequest
	if !bindJSON(c, &req, true) {
		return
	}
	rec, err := do(c.Request.Context(), c.Param("request_id"), actorFromCtx(c), req.text())
	if err != nil {
		fail(c, err, apperrors.CodeRequestNotFound)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// VerifyRequestChain handles GET /requests/verify.
func (s *Server) VerifyRequestChain(c *gin.Context) {
	report, err := s.requests.VerifyChain(c.Request.Context())
	if err != nil {
		fail(c, err, apperrors.CodeRequestNotFound)
		return
	}
	c.JSON(http.StatusOK, report)
}
