package middleware

import (
	"slices"

	"github.com/gin-gonic/gin"

	apperrors "datahub.migas.id/clearinghouse/internal/pkg/errors"
)

// HasPermission reports whether the authenticated caller holds any of the
// given permissions. platform:admin holds them all.
func HasPermission(c *gin.Context, permissions ...string) bool {
	perms, exists := c.Get("permissions")
	if !exists {
		return false
	}
	permList, ok := perms.([]string)
	if !ok {
		return false
	}
	if slices.Contains(permList, PermPlatformAdmin) {
		return true
	}
	for _, p := range permissions {
		if slices.Contains(permList, p) {
			return true
		}
	}
	return false
}

// RequirePermission returns middleware that lets the request through when
// the caller holds at least one of permissions. Refusals are rendered by
// ErrorHandler.
func RequirePermission(permissions ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, exists := c.Get("permissions"); !exists {
			abortForbidden(c, "no permissions in context")
			return
		}
		if HasPermission(c, permissions...) {
			c.Next()
			return
		}
		abortForbidden(c, "insufficient permissions")
	}
}

func abortForbidden(c *gin.Context, msg string) {
	_ = c.Error(apperrors.Forbidden(apperrors.CodeForbidden, msg))
	c.Abort()
}
