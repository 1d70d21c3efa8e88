package modules

import (
	"datahub.migas.id/clearinghouse/internal/api/handlers"
	"datahub.migas.id/clearinghouse/internal/api/middleware"
	"datahub.migas.id/clearinghouse/internal/config"
)

// NewServerDeps builds base server deps then lets each module contribute explicit wiring.
func NewServerDeps(cfg *config.Config, infra *Infrastructure, mods []Module) handlers.ServerDeps {
	deps := handlers.ServerDeps{
		DB:    infra.Store,
		Audit: infra.AuditLogger,
		JWTCfg: middleware.JWTConfig{
			SigningKey:       []byte(cfg.Security.JWTSigningKey),
			VerificationKeys: cfg.Security.VerificationKeys(),
			Issuer:           cfg.Security.JWTIssuer,
			ExpiresIn:        cfg.Security.TokenLifetime,
		},
	}
	for _, mod := range mods {
		if mod == nil {
			continue
		}
		contributor, ok := mod.(ServerDepsContributor)
		if !ok {
			continue
		}
		contributor.ContributeServerDeps(&deps)
	}
	return deps
}
