package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/nats-io/nats.go"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"truckcheck-backend/config"
	"truckcheck-backend/internal/api"
	"truckcheck-backend/internal/catalog"
	"truckcheck-backend/internal/checkrun"
	"truckcheck-backend/internal/db"
	"truckcheck-backend/internal/metrics"
	"truckcheck-backend/internal/model"
	"truckcheck-backend/internal/mw"
	"truckcheck-backend/internal/notification"
	"truckcheck-backend/internal/photo"
	"truckcheck-backend/internal/realtime"
	"truckcheck-backend/internal/store"
	"truckcheck-backend/internal/tenant"
)

func main() {
	// Setup logger
	logger := log.New(os.Stdout, "truckcheck-backend ", log.LstdFlags)

	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config/config.yaml" // Default path for local development
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Fatalf("failed to load configuration from %s: %v", configPath, err)
	}
	logger.Printf("configuration loaded successfully from %s", configPath)

	metrics.Init(logger)

	// Create a context that can be cancelled
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	appStore, err := openStore(ctx, cfg)
	if err != nil {
		logger.Fatalf("failed to initialize store: %v", err)
	}
	logger.Printf("data store initialized (%s)", cfg.Database.Driver)

	bus := realtime.NewBus(cfg.Realtime.ClientBuffer, logger)
	if cfg.Realtime.NATSURL != "" {
		nc, err := nats.Connect(cfg.Realtime.NATSURL, nats.Name("truckcheckd"), nats.MaxReconnects(-1))
		if err != nil {
			logger.Fatalf("failed to connect to NATS at %s: %v", cfg.Realtime.NATSURL, err)
		}
		defer nc.Close()
		relay, err := realtime.NewNATSRelay(nc, bus, cfg.Realtime.NATSSubjectPrefix, logger)
		if err != nil {
			logger.Fatalf("failed to start NATS relay: %v", err)
		}
		defer relay.Close()
		logger.Printf("realtime relay on %s.*", cfg.Realtime.NATSSubjectPrefix)
	}

	var tokens tenant.TokenResolver
	if cfg.Kiosk.Secret != "" {
		tokens = tenant.NewJWTTokens([]byte(cfg.Kiosk.Secret), cfg.Kiosk.CacheTTL)
	} else {
		logger.Println("kiosk secret not set; kiosk tokens will be rejected")
	}
	resolver := tenant.NewResolver(tokens, cfg.Server.DefaultStationID)

	var webpushOptions *webpush.Options
	opts := []checkrun.Option{}
	if cfg.Push.Enabled() {
		webpushOptions = &webpush.Options{
			VAPIDPublicKey:  cfg.Push.PublicKey,
			VAPIDPrivateKey: cfg.Push.PrivateKey,
			Subscriber:      cfg.Push.Subject,
			TTL:             cfg.Push.TTL,
		}
		workerPool := notification.NewWorkerPool(cfg.WorkerPool.Size, appStore, webpushOptions)
		workerPool.Start(ctx)
		opts = append(opts, checkrun.WithIssueNotifier(workerPool))
	} else {
		logger.Println("VAPID keys not configured; issue notifications are disabled")
	}

	coord := checkrun.New(appStore, bus, opts...)

	cacheTTL := time.Duration(cfg.Server.CacheTTLSeconds) * time.Second
	responseCache := cache.New(cacheTTL, 2*cacheTTL)

	catalogSvc := catalog.NewService(cfg.Catalog, appStore)
	catalogSvc.OnStationChanged(func(stationID string) { mw.FlushStation(responseCache, stationID) })
	go catalogSvc.Run(ctx)

	var uploader photo.Uploader
	if cfg.Photo.Dir != "" {
		storage, err := photo.NewLocalStorage(cfg.Photo.Dir, cfg.Photo.BaseURL, cfg.Photo.MaxBytes)
		if err != nil {
			logger.Fatalf("failed to prepare photo storage: %v", err)
		}
		uploader = storage
	}

	handler := api.NewHandler(coord, appStore, webpushOptions, uploader, cfg.Photo.UploadTimeout, cfg.Photo.MaxBytes, responseCache)

	// Initialize router
	router := api.NewRouter(api.RouterConfig{
		Handler:        handler,
		Resolver:       resolver,
		Socket:         realtime.NewSocketHandler(bus, resolver, appStore, cfg.Realtime.WriteTimeout, logger),
		RateLimit:      rate.Limit(cfg.Server.RateLimitPerSec),
		RateBurst:      cfg.Server.RateLimitBurst,
		Cache:          responseCache,
		CacheTTL:       cacheTTL,
		PhotoDir:       cfg.Photo.Dir,
		PhotoURLPrefix: cfg.Photo.BaseURL,
	})
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	// Start the server in a goroutine
	go func() {
		logger.Printf("HTTP server starting on port %d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("HTTP server ListenAndServe: %v", err)
		}
	}()

	// Setup signal handling for graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	// Block until a signal is received.
	<-stop
	logger.Println("Shutdown signal received, stopping services...")
	cancel()

	// Create a deadline to wait for.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Printf("HTTP server Shutdown: %v", err)
	}

	logger.Println("Server gracefully stopped")
}

// openStore picks the store for the configured driver. The memory store
// keeps nothing across restarts and suits demos and kiosks without a database.
func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	if cfg.Database.Driver == "memory" {
		s := store.NewMemoryStore()
		err := s.UpsertStation(ctx, &model.Station{ID: cfg.Server.DefaultStationID, Name: cfg.Server.DefaultStationID})
		return s, err
	}
	gormDB, err := db.Init(&cfg.Database, cfg.Server.DefaultStationID)
	if err != nil {
		return nil, err
	}
	return store.NewGormStore(gormDB), nil
}
