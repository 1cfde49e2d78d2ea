package mw

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"truckcheck-backend/internal/tenant"
)

const stationKey = "stationID"

// Tenant resolves the station for every request. An unresolvable kiosk token
// ends the request with 401.
func Tenant(resolver *tenant.Resolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		res, err := resolver.FromRequest(c.Request)
		if err != nil {
			if errors.Is(err, tenant.ErrInvalidToken) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid kiosk token"})
				return
			}
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.Set(stationKey, res.StationID)
		c.Next()
	}
}

// StationID returns the station Tenant resolved for c.
func StationID(c *gin.Context) string {
	return c.GetString(stationKey)
}
