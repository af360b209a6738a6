package identity

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const ctxOperatorClaims = "parcel_operator_claims"

// RequireOperator returns a Gin middleware that enforces a valid operator
// Bearer token. A nil issuer disables the check (open development mode).
//
// On success it injects the *OperatorClaims into the context.
func RequireOperator(tokens *TokenIssuer) gin.HandlerFunc {
	if tokens == nil {
		return func(c *gin.Context) { c.Next() }
	}
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "operator Bearer token required",
			})
			return
		}

		claims, err := tokens.Verify(strings.TrimPrefix(authHeader, "Bearer "))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "invalid token: " + err.Error(),
			})
			return
		}

		c.Set(ctxOperatorClaims, claims)
		c.Next()
	}
}

// OperatorFromCtx returns the subject of the operator token injected by
// RequireOperator, or "" when the route is open.
func OperatorFromCtx(c *gin.Context) string {
	v, ok := c.Get(ctxOperatorClaims)
	if !ok {
		return ""
	}
	claims, ok := v.(*OperatorClaims)
	if !ok {
		return ""
	}
	return claims.Subject
}
