package modules

import (
	"context"
	"fmt"

	"github.com/riverqueue/river"

	"datahub.migas.id/clearinghouse/internal/api/handlers"
	"datahub.migas.id/clearinghouse/internal/governance/license"
	"datahub.migas.id/clearinghouse/internal/governance/request"
	"datahub.migas.id/clearinghouse/internal/governance/upload"
	"datahub.migas.id/clearinghouse/internal/governance/verification"
	"datahub.migas.id/clearinghouse/internal/jobs"
)

// GovernanceModule owns the audit chain services: uploads, data requests,
// licenses and chain verification.
type GovernanceModule struct {
	infra    *Infrastructure
	Uploads  *upload.Service
	Requests *request.Service
	Licenses *license.Service
	Verifier *verification.Runner
}

// NewGovernanceModule builds the services. The plan catalog is loaded here so
// a bad plans file fails startup.
func NewGovernanceModule(infra *Infrastructure) (*GovernanceModule, error) {
	if infra == nil || infra.Store == nil || infra.AuditLogger == nil || infra.Config == nil {
		return nil, fmt.Errorf("governance module requires store, audit logger and config")
	}

	catalog, err := license.LoadCatalog(infra.Config.License.PlansFile)
	if err != nil {
		return nil, fmt.Errorf("load license plans: %w", err)
	}

	return &GovernanceModule{
		infra:    infra,
		Uploads:  upload.NewService(infra.Store, infra.AuditLogger, infra.Notifier),
		Requests: request.NewService(infra.Store, infra.AuditLogger, infra.Notifier),
		Licenses: license.NewService(infra.Store, infra.AuditLogger, infra.Notifier, catalog, infra.Config.License.BcryptCost),
		Verifier: verification.NewRunner(infra.Store, infra.Pools, infra.AuditLogger, infra.Notifier),
	}, nil
}

func (m *GovernanceModule) Name() string { return "governance" }

func (m *GovernanceModule) ContributeServerDeps(deps *handlers.ServerDeps) {
	if deps == nil {
		return
	}
	deps.Uploads = m.Uploads
	deps.Requests = m.Requests
	deps.Licenses = m.Licenses
	deps.Verifier = m.Verifier
}

func (m *GovernanceModule) RegisterWorkers(workers *river.Workers) {
	river.AddWorker(workers, jobs.NewUploadStaleSweepWorker(m.Uploads, m.infra.Config.Upload.StaleAfter))
	river.AddWorker(workers, jobs.NewLicenseExpirySweepWorker(m.Licenses))
	river.AddWorker(workers, jobs.NewAuditChainVerifyWorker(m.Verifier))
}

func (m *GovernanceModule) Shutdown(context.Context) error { return nil }
