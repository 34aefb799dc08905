package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/hostel-outpass-api/internal/middleware"
	"github.com/noah-isme/hostel-outpass-api/internal/models"
)

// claimsFromContext returns the claims stored by the JWT middleware, or nil
// when the route ran without it. Services treat nil claims as unauthorized.
func claimsFromContext(c *gin.Context) *models.JWTClaims {
	value, exists := c.Get(middleware.ContextUserKey)
	if !exists {
		return nil
	}
	claims, _ := value.(*models.JWTClaims)
	return claims
}
