package api

import (
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/patrickmn/go-cache"

	"truckcheck-backend/internal/checkrun"
	"truckcheck-backend/internal/photo"
	"truckcheck-backend/internal/store"
)

// Handler holds shared dependencies for API handlers.
type Handler struct {
	coord        *checkrun.Coordinator
	store        store.Store
	webpush      *webpush.Options
	photos       photo.Uploader
	photoTimeout time.Duration
	photoMax     int64
	cache        *cache.Cache
}

// NewHandler creates a new API handler. photos may be nil when uploads are disabled.
func NewHandler(coord *checkrun.Coordinator, s store.Store, webpushOptions *webpush.Options, photos photo.Uploader, photoTimeout time.Duration, photoMax int64, responseCache *cache.Cache) *Handler {
	return &Handler{
		coord:        coord,
		store:        s,
		webpush:      webpushOptions,
		photos:       photos,
		photoTimeout: photoTimeout,
		photoMax:     photoMax,
		cache:        responseCache,
	}
}
