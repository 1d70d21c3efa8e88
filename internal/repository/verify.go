package repository

import (
	"context"
	"fmt"

	"datahub.migas.id/clearinghouse/internal/domain"
	"datahub.migas.id/clearinghouse/internal/integrity"
)

// VerifyChain walks a whole audit chain and reports the first broken link.
func (q *Queries) VerifyChain(ctx context.Context, chain string) (integrity.Report, error) {
	v := integrity.NewChainVerifier(chain)
	var err error
	switch chain {
	case domain.ChainCompliance:
		err = WalkChain(ctx, q.ComplianceChainAfter, func(r *domain.ComplianceAuditLog) (bool, error) {
			return v.Check(r)
		})
	case domain.ChainUpload:
		err = WalkChain(ctx, q.UploadChainAfter, func(r *domain.ResourceUploadAuditLog) (bool, error) {
			return v.Check(r)
		})
	case domain.ChainRequest:
		err = WalkChain(ctx, q.RequestChainAfter, func(r *domain.RequestActionAuditLog) (bool, error) {
			return v.Check(r)
		})
	default:
		return integrity.Report{}, fmt.Errorf("unknown chain %q: %w", chain, domain.ErrInvalidInput)
	}
	if err != nil {
		return integrity.Report{}, fmt.Errorf("verify %s: %w", chain, err)
	}
	return v.Report(), nil
}
