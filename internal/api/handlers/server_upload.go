package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"datahub.migas.id/clearinghouse/internal/domain"
	"datahub.migas.id/clearinghouse/internal/governance/upload"
	apperrors "datahub.migas.id/clearinghouse/internal/pkg/errors"
)

type completeUploadRequest struct {
	Checksum string `json:"checksum"`
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

// InitiateUpload handles POST /uploads.
func (s *Server) InitiateUpload(c *gin.Context) {
	var in upload.Input
	if !bindJSON(c, &in, false) {
		return
	}
	rec, err := s.uploads.Initiate(c.Request.Context(), in, actorFromCtx(c))
	if err != nil {
		fail(c, err, apperrors.CodeUploadNotFound)
		return
	}
	c.JSON(http.StatusCreated, rec)
}

// ListUploads handles GET /uploads.
func (s *Server) ListUploads(c *gin.Context) {
	f, ok := listFilter(c)
	if !ok {
		return
	}
	page, err := s.uploads.List(c.Request.Context(), f)
	if err != nil {
		fail(c, err, apperrors.CodeUploadNotFound)
		return
	}
	c.JSON(http.StatusOK, page)
}

// GetUpload handles GET /uploads/:upload_id.
func (s *Server) GetUpload(c *gin.Context) {
	rec, err := s.uploads.Current(c.Request.Context(), c.Param("upload_id"))
	if err != nil {
		fail(c, err, apperrors.CodeUploadNotFound)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// GetUploadHistory handles GET /uploads/:upload_id/history.
func (s *Server) GetUploadHistory(c *gin.Context) {
	items, err := s.uploads.History(c.Request.Context(), c.Param("upload_id"))
	if err != nil {
		fail(c, err, apperrors.CodeUploadNotFound)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

// CompleteUpload handles POST /uploads/:upload_id/complete. A checksum that
// differs from the declared one quarantines the upload; the response is
// still 200 and carries the QUARANTINED row.
func (s *Server) CompleteUpload(c *gin.Context) {
	var req completeUploadRequest
	if !bindJSON(c, &req, true) {
		return
	}
	rec, err := s.uploads.Complete(c.Request.Context(), c.Param("upload_id"), actorFromCtx(c), req.Checksum)
	if err != nil {
		fail(c, err, apperrors.CodeUploadNotFound)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// FailUpload handles POST /uploads/:upload_id/fail.
func (s *Server) FailUpload(c *gin.Context) {
	s.uploadWithReason(c, s.uploads.Fail)
}

// QuarantineUpload handles POST /uploads/:upload_id/quarantine.
func (s *Server) QuarantineUpload(c *gin.Context) {
	s.uploadWithReason(c, s.uploads.Quarantine)
}

func (s *Server) uploadWithReason(c *gin.Context, do func(ctx context.Context, id string, actor domain.Actor, reason string) (*domain.ResourceUploadAuditLog, error)) {
	var req reasonRequest
	if !bindJSON(c, &req, false) {
		return
	}
	rec, err := do(c.Request.Context(), c.Param("upload_id"), actorFromCtx(c), req.Reason)
	if err != nil {
		fail(c, err, apperrors.CodeUploadNotFound)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// VerifyUploadChain handles GET /uploads/verify.
func (s *Server) VerifyUploadChain(c *gin.Context) {
	report, err := s.uploads.VerifyChain(c.Request.Context())
	if err != nil {
		fail(c, err, apperrors.CodeUploadNotFound)
		return
	}
	c.JSON(http.StatusOK, report)
}
