package app

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"datahub.migas.id/clearinghouse/internal/api/handlers"
	"datahub.migas.id/clearinghouse/internal/api/middleware"
	"datahub.migas.id/clearinghouse/internal/config"
	"datahub.migas.id/clearinghouse/internal/governance/audit"
	"datahub.migas.id/clearinghouse/internal/governance/license"
	"datahub.migas.id/clearinghouse/internal/governance/request"
	"datahub.migas.id/clearinghouse/internal/governance/upload"
	"datahub.migas.id/clearinghouse/internal/governance/verification"
	"datahub.migas.id/clearinghouse/internal/testutil"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestBuildCORSConfig_DefaultsToAllowlistWhenOriginsEmpty(t *testing.T) {
	cfg := &config.Config{
		Server: config.ServerConfig{
			AllowedOrigins:        nil,
			AllowCredentials:      true,
			UnsafeAllowAllOrigins: false,
		},
	}

	got := buildCORSConfig(cfg)
	if got.AllowAllOrigins {
		t.Fatalf("AllowAllOrigins = %v, want false", got.AllowAllOrigins)
	}
	if !got.AllowCredentials {
		t.Fatalf("AllowCredentials = %v, want true", got.AllowCredentials)
	}
	if len(got.AllowOrigins) != 2 {
		t.Fatalf("len(AllowOrigins) = %d, want 2", len(got.AllowOrigins))
	}
}

func TestBuildCORSConfig_StripsWildcardUnlessUnsafeFlagEnabled(t *testing.T) {
	cfg := &config.Config{
		Server: config.ServerConfig{
			AllowedOrigins:        []string{"*", "https://portal.datahub.migas.id"},
			AllowCredentials:      true,
			UnsafeAllowAllOrigins: false,
		},
	}

	got := buildCORSConfig(cfg)
	if got.AllowAllOrigins {
		t.Fatalf("AllowAllOrigins = %v, want false", got.AllowAllOrigins)
	}
	if len(got.AllowOrigins) != 1 || got.AllowOrigins[0] != "https://portal.datahub.migas.id" {
		t.Fatalf("AllowOrigins = %#v, want the portal origin only", got.AllowOrigins)
	}
}

func TestBuildCORSConfig_UnsafeAllowAllDisablesCredentials(t *testing.T) {
	cfg := &config.Config{
		Server: config.ServerConfig{
			AllowedOrigins:        []string{"*"},
			AllowCredentials:      true,
			UnsafeAllowAllOrigins: true,
		},
	}

	got := buildCORSConfig(cfg)
	if !got.AllowAllOrigins {
		t.Fatalf("AllowAllOrigins = %v, want true", got.AllowAllOrigins)
	}
	if got.AllowCredentials {
		t.Fatalf("AllowCredentials = %v, want false", got.AllowCredentials)
	}
	if len(got.AllowOrigins) != 0 {
		t.Fatalf("AllowOrigins = %#v, want empty", got.AllowOrigins)
	}
}

func TestNewRouter_AuthAndPublicRoutes(t *testing.T) {
	store := testutil.OpenSQLite(t)
	auditLogger := audit.NewLogger(store)
	catalog, err := license.LoadCatalog("")
	require.NoError(t, err)

	server := handlers.NewServer(handlers.ServerDeps{
		DB:       store,
		Audit:    auditLogger,
		Uploads:  upload.NewService(store, auditLogger, nil),
		Requests: request.NewService(store, auditLogger, nil),
		Licenses: license.NewService(store, auditLogger, nil, catalog, bcrypt.MinCost),
		Verifier: verification.NewRunner(store, nil, auditLogger, nil),
	})
	jwtCfg := middleware.JWTConfig{
		SigningKey: []byte("router-test-signing-key-0123456789abcdef"),
		Issuer:     "migas-datahub",
		ExpiresIn:  time.Hour,
	}
	router := newRouter(&config.Config{}, server, jwtCfg)

	userToken, _, err := middleware.GenerateToken(jwtCfg, "u-1", "alice", nil, nil)
	require.NoError(t, err)
	adminToken, _, err := middleware.GenerateToken(jwtCfg, "u-2", "root", nil, []string{middleware.PermPlatformAdmin})
	require.NoError(t, err)

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		want   int
	}{
		{"liveness is public", http.MethodGet, "/api/v1/health/live", "", http.StatusOK},
		{"metrics is public", http.MethodGet, "/metrics", "", http.StatusOK},
		{"api requires token", http.MethodGet, "/api/v1/uploads", "", http.StatusUnauthorized},
		{"api with token", http.MethodGet, "/api/v1/uploads", userToken, http.StatusOK},
		{"verify needs admin", http.MethodGet, "/api/v1/requests/verify", userToken, http.StatusForbidden},
		{"verify as admin", http.MethodGet, "/api/v1/requests/verify", adminToken, http.StatusOK},
		{"log level needs admin", http.MethodGet, "/log/level", userToken, http.StatusForbidden},
		{"log level as admin", http.MethodGet, "/log/level", adminToken, http.StatusOK},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(tc.method, tc.path, nil)
			if tc.token != "" {
				req.Header.Set("Authorization", "Bearer "+tc.token)
			}
			router.ServeHTTP(w, req)
			assert.Equal(t, tc.want, w.Code, w.Body.String())
			assert.NotEmpty(t, w.Header().Get(middleware.RequestIDHeader))
		})
	}
}
