// Package handlers implements the clearing house HTTP API.
//
// Handlers translate HTTP to governance service calls and report failures
// through c.Error so that middleware.ErrorHandler renders a single error shape.
package handlers

import (
	"context"

	"github.com/gin-gonic/gin"

	"datahub.migas.id/clearinghouse/internal/api/middleware"
	"datahub.migas.id/clearinghouse/internal/domain"
	"datahub.migas.id/clearinghouse/internal/governance/audit"
	"datahub.migas.id/clearinghouse/internal/governance/license"
	"datahub.migas.id/clearinghouse/internal/governance/request"
	"datahub.migas.id/clearinghouse/internal/governance/upload"
	"datahub.migas.id/clearinghouse/internal/governance/verification"
)

// Pinger reports database reachability for the readiness probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server holds the API handlers.
type Server struct {
	db       Pinger
	audit    *audit.Logger
	uploads  *upload.Service
	requests *request.Service
	licenses *license.Service
	verifier *verification.Runner
}

// ServerDeps holds all dependencies for creating a Server. Wiring is manual.
type ServerDeps struct {
	DB       Pinger
	Audit    *audit.Logger
	Uploads  *upload.Service
	Requests *request.Service
	Licenses *license.Service
	Verifier *verification.Runner
	JWTCfg   middleware.JWTConfig
}

// NewServer creates a new Server with all dependencies.
func NewServer(deps ServerDeps) *Server {
	return &Server{
		db:       deps.DB,
		audit:    deps.Audit,
		uploads:  deps.Uploads,
		requests: deps.Requests,
		licenses: deps.Licenses,
		verifier: deps.Verifier,
	}
}

// RegisterRoutes mounts the API under api. Authentication is applied by the
// caller; admin is applied here to administrative routes only.
func RegisterRoutes(api gin.IRouter, s *Server, admin gin.HandlerFunc) {
	api.GET("/health/live", s.GetLiveness)
	api.GET("/health/ready", s.GetReadiness)

	api.POST("/compliance-logs", s.RecordComplianceLog)
	api.GET("/compliance-logs", s.ListComplianceLogs)
	api.GET("/compliance-logs/verify", admin, s.VerifyComplianceChain)
	api.GET("/compliance-logs/entities/:entity_type/:entity_id", s.ListComplianceLogsByEntity)
	api.GET("/compliance-logs/users/:user_id", s.ListComplianceLogsByUser)
	api.GET("/compliance-logs/:id", s.GetComplianceLog)

	api.POST("/uploads", s.InitiateUpload)
	api.GET("/uploads", s.ListUploads)
	api.GET("/uploads/verify", admin, s.VerifyUploadChain)
	api.GET("/uploads/:upload_id", s.GetUpload)
	api.GET("/uploads/:upload_id/history", s.GetUploadHistory)
	api.POST("/uploads/:upload_id/complete", s.CompleteUpload)
	api.POST("/uploads/:upload_id/fail", s.FailUpload)
	api.POST("/uploads/:upload_id/quarantine", s.QuarantineUpload)

	api.POST("/requests", s.SubmitRequest)
	api.GET("/requests", s.ListRequests)
	api.GET("/requests/pending", s.ListPendingRequests)
	api.GET("/requests/verify", admin, s.VerifyRequestChain)
	api.GET("/requests/:request_id", s.GetRequest)
	api.GET("/requests/:request_id/history", s.GetRequestHistory)
	api.POST("/requests/:request_id/approve", s.ApproveRequest)
	api.POST("/requests/:request_id/reject", s.RejectRequest)
	api.POST("/requests/:request_id/cancel", s.CancelRequest)
	api.POST("/requests/:request_id/deliver", s.DeliverRequest)

	api.POST("/licenses", admin, s.IssueLicense)
	api.GET("/licenses", admin, s.ListLicenses)
	api.GET("/licenses/plans", s.ListLicensePlans)
	api.POST("/licenses/activate", s.ActivateLicense)
	api.GET("/licenses/:license_id", s.GetLicense)
	api.GET("/licenses/:license_id/activations", s.ListLicenseActivations)
	api.GET("/licenses/:license_id/usage", s.GetLicenseUsage)
	api.POST("/licenses/:license_id/usage", s.RecordLicenseUsage)
	api.POST("/licenses/:license_id/deactivate", s.DeactivateLicense)
	api.POST("/licenses/:license_id/suspend", admin, s.SuspendLicense)
	api.POST("/licenses/:license_id/resume", admin, s.ResumeLicense)
	api.POST("/licenses/:license_id/revoke", admin, s.RevokeLicense)
	api.POST("/licenses/:license_id/renew", admin, s.RenewLicense)

	api.GET("/audit/verify", admin, s.VerifyAllChains)
}

// actorFromCtx builds the audit actor from the authenticated claims and the
// connection. The first role, if any, is recorded as the actor role.
func actorFromCtx(c *gin.Context) domain.Actor {
	actor := domain.Actor{
		UserID:    c.GetString("user_id"),
		IPAddress: c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	}
	if roles := c.GetStringSlice("roles"); len(roles) > 0 {
		actor.Role = roles[0]
	}
	if actor.UserID == "" {
		actor.UserID = "anonymous"
	}
	return actor
}
