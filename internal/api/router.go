package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"truckcheck-backend/internal/mw"
	"truckcheck-backend/internal/tenant"
)

// RouterConfig carries what NewRouter wires together.
type RouterConfig struct {
	Handler  *Handler
	Resolver *tenant.Resolver
	// Socket serves GET /api/ws. It resolves its own tenant.
	Socket         http.Handler
	RateLimit      rate.Limit
	RateBurst      int
	Cache          *cache.Cache
	CacheTTL       time.Duration
	PhotoDir       string
	PhotoURLPrefix string
}

// NewRouter creates and configures a new Gin router.
func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.Default()
	handler := cfg.Handler

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	if cfg.PhotoDir != "" && cfg.PhotoURLPrefix != "" {
		r.Static(cfg.PhotoURLPrefix, cfg.PhotoDir)
	}

	// the socket is long lived and stays out of the rate limiter
	if cfg.Socket != nil {
		r.GET("/api/ws", gin.WrapH(cfg.Socket))
	}

	caching := func(c *gin.Context) { c.Next() }
	if cfg.Cache != nil {
		caching = mw.Cache(cfg.Cache, cfg.CacheTTL)
	}

	// API group
	api := r.Group("/api")
	api.Use(mw.Tenant(cfg.Resolver))
	api.Use(mw.RateLimiter(cfg.RateLimit, cfg.RateBurst))
	{
		api.POST("/runs", handler.StartRun)
		api.GET("/runs", handler.ListRuns)
		api.GET("/runs/:id", handler.GetRun)
		api.PUT("/runs/:id/complete", handler.CompleteRun)

		api.POST("/results", handler.CreateResult)
		api.PUT("/results/:id", handler.UpdateResult)
		api.DELETE("/results/:id", handler.DeleteResult)

		api.GET("/appliances", caching, handler.ListAppliances)
		api.POST("/appliances", handler.PutAppliance)
		api.GET("/appliances/:id/checklist", caching, handler.GetChecklist)
		api.PUT("/appliances/:id/checklist", handler.PutChecklist)

		api.POST("/photos", handler.UploadPhoto)

		api.GET("/subscriptions", handler.GetSubscription)
		api.PUT("/subscriptions", handler.PutSubscription)
		api.DELETE("/subscriptions", handler.DeleteSubscription)
		api.GET("/vapid_public_key", handler.GetVAPIDPublicKey)
	}

	return r
}
