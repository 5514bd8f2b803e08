package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/studyhub-api/internal/models"
	appErrors "github.com/noah-isme/studyhub-api/pkg/errors"
	"github.com/noah-isme/studyhub-api/pkg/response"
)

// Rule grants access to the current route for the authenticated caller.
type Rule func(c *gin.Context, claims *models.JWTClaims) bool

// AllowRoles grants access to callers holding one of roles.
func AllowRoles(roles ...models.UserRole) Rule {
	set := make(map[models.UserRole]struct{}, len(roles))
	for _, r := range roles {
		set[r] = struct{}{}
	}
	return func(_ *gin.Context, claims *models.JWTClaims) bool {
		_, ok := set[claims.Role]
		return ok
	}
}

// AllowSelf grants access when the named path parameter is the caller's id.
func AllowSelf(param string) Rule {
	return func(c *gin.Context, claims *models.JWTClaims) bool {
		target := c.Param(param)
		return target != "" && target == claims.UserID
	}
}

// Authorize admits the request when any rule grants access. Platform roles
// only; conversation roles are checked by the services.
func Authorize(rules ...Rule) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := claimsFrom(c)
		if !ok {
			response.Abort(c, appErrors.ErrUnauthorized)
			return
		}
		for _, rule := range rules {
			if rule(c, claims) {
				c.Next()
				return
			}
		}
		response.Abort(c, appErrors.Clone(appErrors.ErrForbidden, "insufficient permissions"))
	}
}

// RequireRoles admits callers holding one of roles.
func RequireRoles(roles ...models.UserRole) gin.HandlerFunc {
	return Authorize(AllowRoles(roles...))
}

func claimsFrom(c *gin.Context) (*models.JWTClaims, bool) {
	v, exists := c.Get(ContextUserKey)
	if !exists {
		return nil, false
	}
	claims, ok := v.(*models.JWTClaims)
	return claims, ok && claims != nil
}
