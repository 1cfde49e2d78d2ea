package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"truckcheck-backend/internal/mw"
	"truckcheck-backend/internal/photo"
)

// UploadPhoto handles POST /api/photos with a multipart "photo" field.
func (h *Handler) UploadPhoto(c *gin.Context) {
	if h.photos == nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "photo uploads are not configured"})
		return
	}
	if h.photoMax > 0 {
		// room for the multipart envelope
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.photoMax+64<<10)
	}

	fh, err := c.FormFile("photo")
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "photo is required"})
		return
	}
	f, err := fh.Open()
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unreadable photo"})
		return
	}
	defer f.Close()

	url, err := photo.UploadWithTimeout(c.Request.Context(), h.photos, h.photoTimeout, mw.StationID(c), f)
	switch {
	case errors.Is(err, photo.ErrUnsupportedType):
		c.AbortWithStatusJSON(http.StatusUnsupportedMediaType, gin.H{"error": err.Error()})
		return
	case errors.Is(err, photo.ErrTooLarge):
		c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{"error": err.Error()})
		return
	case err != nil:
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "failed to store photo"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"url": url})
}
