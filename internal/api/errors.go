package api

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"truckcheck-backend/internal/checkrun"
)

// abortWithError maps coordinator errors onto status codes.
func abortWithError(c *gin.Context, err error) {
	var verr *checkrun.ValidationError
	switch {
	case errors.As(err, &verr):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": verr.Error()})
	case errors.Is(err, checkrun.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, checkrun.ErrInvalidState):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		log.Printf("%s %s: %v", c.Request.Method, c.FullPath(), err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
