package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"datahub.migas.id/clearinghouse/internal/api/middleware"
	"datahub.migas.id/clearinghouse/internal/app/modules"
	"datahub.migas.id/clearinghouse/internal/domain"
	"datahub.migas.id/clearinghouse/internal/governance/license"
	"datahub.migas.id/clearinghouse/internal/governance/verification"
	"datahub.migas.id/clearinghouse/internal/infrastructure"
	"datahub.migas.id/clearinghouse/internal/jobs"
	"datahub.migas.id/clearinghouse/internal/pkg/logger"
)

// errChainBroken makes verify exit non-zero so cron can alert on it.
var errChainBroken = errors.New("audit chain verification failed")

// cliActor attributes CLI writes in the audit chains.
var cliActor = domain.Actor{UserID: "chctl", Role: "operator", UserAgent: "chctl"}

func (c *cli) migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the schema (and River tables on PostgreSQL)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			db, err := infrastructure.NewDatabaseClients(ctx, c.cfg.Database)
			if err != nil {
				return fmt.Errorf("init database: %w", err)
			}
			defer db.Close()

			if err := db.AutoMigrate(ctx); err != nil {
				return err
			}
			logger.Info("Migrations applied", zap.String("driver", db.Driver()))
			fmt.Fprintf(cmd.OutOrStdout(), "migrated (%s)\n", db.Driver())
			return nil
		},
	}
}

func (c *cli) verifyCmd() *cobra.Command {
	var chain string
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify the audit hash chains",
		Long: `Recompute every record hash and check the links of each audit chain.
Exits non-zero when any chain is broken or could not be scanned.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withGovernance(cmd.Context(), func(ctx context.Context, gov *modules.GovernanceModule) error {
				var results []verification.Result
				if chain == "" {
					all, err := gov.Verifier.VerifyAll(ctx)
					if err != nil {
						return err
					}
					results = all
				} else {
					res, err := gov.Verifier.Verify(ctx, chain)
					if err != nil {
						return err
					}
					results = []verification.Result{res}
				}

				if err := writeJSON(cmd.OutOrStdout(), results); err != nil {
					return err
				}
				if verification.Broken(results) {
					return errChainBroken
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&chain, "chain", "", "verify a single chain (table name)")
	return cmd
}

func (c *cli) sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Fail stale uploads and expire due licenses",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withGovernance(cmd.Context(), func(ctx context.Context, gov *modules.GovernanceModule) error {
				now := time.Now().UTC()
				staleAfter := c.cfg.Upload.StaleAfter
				if staleAfter <= 0 {
					staleAfter = jobs.DefaultUploadStaleAfter
				}
				uploads, err := gov.Uploads.SweepStale(ctx, now, staleAfter)
				if err != nil {
					return fmt.Errorf("sweep stale uploads: %w", err)
				}
				licenses, err := gov.Licenses.ExpireDue(ctx, now)
				if err != nil {
					return fmt.Errorf("expire licenses: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "stale uploads failed: %d\nlicenses expired: %d\n", uploads, licenses)
				return nil
			})
		},
	}
}

func (c *cli) issueLicenseCmd() *cobra.Command {
	var (
		in        license.IssueInput
		validFor  time.Duration
		expiresAt string
		limits    map[string]int64
	)
	cmd := &cobra.Command{
		Use:   "issue-license",
		Short: "Issue a license and print its key once",
		RunE: func(cmd *cobra.Command, args []string) error {
			if expiresAt != "" {
				t, err := parseDate(expiresAt)
				if err != nil {
					return err
				}
				in.ExpiresAt = t
			} else if validFor > 0 {
				in.ExpiresAt = time.Now().UTC().Add(validFor)
			}
			in.Limits = limits

			return c.withGovernance(cmd.Context(), func(ctx context.Context, gov *modules.GovernanceModule) error {
				issued, err := gov.Licenses.Issue(ctx, in, cliActor)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), issued)
			})
		},
	}
	cmd.Flags().StringVar(&in.Organization, "org", "", "licensee organization (required)")
	cmd.Flags().StringVar(&in.Plan, "plan", "standard", "plan from the catalog")
	cmd.Flags().StringVar(&in.Product, "product", "", "override the plan product")
	cmd.Flags().IntVar(&in.MaxActivations, "max-activations", 0, "override the plan seat count")
	cmd.Flags().StringToInt64Var(&limits, "limit", nil, "override a monthly limit, e.g. api_calls=5000")
	cmd.Flags().DurationVar(&validFor, "valid-for", 0, "validity from now; defaults to the plan validity")
	cmd.Flags().StringVar(&expiresAt, "expires-at", "", "expiry as RFC3339 or YYYY-MM-DD")
	_ = cmd.MarkFlagRequired("org")
	cmd.MarkFlagsMutuallyExclusive("valid-for", "expires-at")
	return cmd
}

func (c *cli) tokenCmd() *cobra.Command {
	var (
		userID   string
		username string
		roles    []string
		perms    []string
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token signed with the configured key",
		Long: `Mint a bearer token for smoke tests and operator scripts.
Portal users get their tokens from the identity service, not from here.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			jwtCfg := middleware.JWTConfig{
				SigningKey: []byte(c.cfg.Security.JWTSigningKey),
				Issuer:     c.cfg.Security.JWTIssuer,
				ExpiresIn:  c.cfg.Security.TokenLifetime,
			}
			token, expires, err := middleware.GenerateToken(jwtCfg, userID, firstNonEmpty(username, userID), roles, perms)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), map[string]any{
				"token":      token,
				"expires_at": expires,
			})
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "subject user id (required)")
	cmd.Flags().StringVar(&username, "username", "", "display name, defaults to the user id")
	cmd.Flags().StringSliceVar(&roles, "role", nil, "role claim, repeatable")
	cmd.Flags().StringSliceVar(&perms, "perm", nil, "permission claim, repeatable (e.g. platform:admin)")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

// withGovernance opens the store and services for one command. River and
// event publishing are not started.
func (c *cli) withGovernance(ctx context.Context, fn func(context.Context, *modules.GovernanceModule) error) error {
	cfg := *c.cfg
	cfg.Events.Enabled = false

	infra, err := modules.NewInfrastructure(ctx, &cfg)
	if err != nil {
		return err
	}
	defer infra.Close()

	gov, err := modules.NewGovernanceModule(infra)
	if err != nil {
		return err
	}
	return fn(ctx, gov)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: want RFC3339 or YYYY-MM-DD", s)
	}
	return t.UTC(), nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
