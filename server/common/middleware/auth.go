package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"desk_server/server/common/auth"
	"desk_server/server/common/transport/httpresp"
)

const identityKey = "auth_identity"

type identityParser interface {
	ParseIdentity(token string) (auth.Identity, error)
}

func AuthRequired(parser identityParser) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, httpresp.NewErrorResponse(httpresp.ErrMissingBearerToken))
			return
		}
		token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
		identity, err := parser.ParseIdentity(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, httpresp.NewErrorResponse(httpresp.ErrInvalidToken))
			return
		}
		c.Set(identityKey, identity)
		c.Set("auth_user_id", identity.UserID)
		c.Set("auth_tenant_id", identity.CompanyID)
		c.Next()
	}
}

// RequireCompany rejects tokens that carry no active company claim.
func RequireCompany() gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, ok := IdentityFrom(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, httpresp.NewErrorResponse(httpresp.ErrUnauthorized))
			return
		}
		if !identity.HasTenant {
			c.AbortWithStatusJSON(http.StatusForbidden, httpresp.NewErrorResponse(httpresp.ErrCompanyRequired))
			return
		}
		c.Next()
	}
}

func IdentityFrom(c *gin.Context) (auth.Identity, bool) {
	raw, ok := c.Get(identityKey)
	if !ok {
		return auth.Identity{}, false
	}
	identity, ok := raw.(auth.Identity)
	return identity, ok
}
