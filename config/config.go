package config

import (
	"errors"
	"io/fs"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultStationID is used when neither a kiosk token nor the caller names a station.
const DefaultStationID = "default"

// Config represents the overall application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Kiosk      KioskConfig      `yaml:"kiosk"`
	Realtime   RealtimeConfig   `yaml:"realtime"`
	Photo      PhotoConfig      `yaml:"photo"`
	Push       PushConfig       `yaml:"push"`
	WorkerPool WorkerPoolConfig `yaml:"worker_pool"`
	Catalog    CatalogConfig    `yaml:"catalog"`
}

// ServerConfig holds the server-related configuration.
type ServerConfig struct {
	Port             int     `yaml:"port"`
	DefaultStationID string  `yaml:"default_station_id"`
	RateLimitPerSec  float64 `yaml:"rate_limit_per_sec"`
	RateLimitBurst   int     `yaml:"rate_limit_burst"`
	CacheTTLSeconds  int     `yaml:"cache_ttl_seconds"`
}

// DatabaseConfig holds the database connection configuration.
type DatabaseConfig struct {
	Driver                 string `yaml:"driver"` // postgres, sqlite or memory
	DSN                    string `yaml:"dsn"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
}

// KioskConfig configures station-locked kiosk tokens.
type KioskConfig struct {
	Secret          string        `yaml:"secret"`
	CacheTTLSeconds int           `yaml:"cache_ttl_seconds"`
	CacheTTL        time.Duration `yaml:"-"`
}

// RealtimeConfig configures the websocket bus and the optional NATS relay.
type RealtimeConfig struct {
	ClientBuffer        int           `yaml:"client_buffer"`
	WriteTimeoutSeconds int           `yaml:"write_timeout_seconds"`
	WriteTimeout        time.Duration `yaml:"-"`
	NATSURL             string        `yaml:"nats_url"`
	NATSSubjectPrefix   string        `yaml:"nats_subject_prefix"`
}

// PhotoConfig configures the local photo store.
type PhotoConfig struct {
	Dir                  string        `yaml:"dir"`
	BaseURL              string        `yaml:"base_url"`
	MaxBytes             int64         `yaml:"max_bytes"`
	UploadTimeoutSeconds int           `yaml:"upload_timeout_seconds"`
	UploadTimeout        time.Duration `yaml:"-"`
}

// PushConfig holds the VAPID keys for web push notifications.
type PushConfig struct {
	PublicKey  string `yaml:"vapid_public_key"`
	PrivateKey string `yaml:"vapid_private_key"`
	Subject    string `yaml:"subject"`
	TTL        int    `yaml:"ttl"`
}

// Enabled reports whether both VAPID keys are present.
func (p PushConfig) Enabled() bool {
	return p.PublicKey != "" && p.PrivateKey != ""
}

// WorkerPoolConfig holds the configuration for the notification worker pool.
type WorkerPoolConfig struct {
	Size int `yaml:"size"`
}

// CatalogConfig configures the appliance registry sync.
type CatalogConfig struct {
	Enabled         bool              `yaml:"enabled"`
	URL             string            `yaml:"url"`
	Headers         map[string]string `yaml:"headers"`
	PageSize        int               `yaml:"page_size"`
	IntervalSeconds int               `yaml:"interval_seconds"`
	Interval        time.Duration     `yaml:"-"`
}

// Load reads the configuration from the given path. A .env file in the
// working directory, when present, is loaded first so its variables can
// override secrets from the YAML file.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}

	applyEnv(&cfg)
	applyDefaults(&cfg)
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("TRUCKCHECK_DATABASE_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("TRUCKCHECK_KIOSK_SECRET"); v != "" {
		cfg.Kiosk.Secret = v
	}
	if v := os.Getenv("TRUCKCHECK_NATS_URL"); v != "" {
		cfg.Realtime.NATSURL = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port <= 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.DefaultStationID == "" {
		cfg.Server.DefaultStationID = DefaultStationID
	}
	if cfg.Server.RateLimitPerSec <= 0 {
		cfg.Server.RateLimitPerSec = 10
	}
	if cfg.Server.RateLimitBurst <= 0 {
		cfg.Server.RateLimitBurst = 20
	}
	if cfg.Server.CacheTTLSeconds <= 0 {
		cfg.Server.CacheTTLSeconds = 60
	}

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "postgres"
	}

	if cfg.Kiosk.CacheTTLSeconds <= 0 {
		cfg.Kiosk.CacheTTLSeconds = 300
	}
	cfg.Kiosk.CacheTTL = time.Duration(cfg.Kiosk.CacheTTLSeconds) * time.Second

	if cfg.Realtime.ClientBuffer <= 0 {
		cfg.Realtime.ClientBuffer = 32
	}
	if cfg.Realtime.WriteTimeoutSeconds <= 0 {
		cfg.Realtime.WriteTimeoutSeconds = 10
	}
	cfg.Realtime.WriteTimeout = time.Duration(cfg.Realtime.WriteTimeoutSeconds) * time.Second
	if cfg.Realtime.NATSSubjectPrefix == "" {
		cfg.Realtime.NATSSubjectPrefix = "truckcheck.station"
	}

	if cfg.Photo.Dir == "" {
		cfg.Photo.Dir = "./data/photos"
	}
	if cfg.Photo.BaseURL == "" {
		cfg.Photo.BaseURL = "/photos"
	}
	if cfg.Photo.MaxBytes <= 0 {
		cfg.Photo.MaxBytes = 10 << 20
	}
	if cfg.Photo.UploadTimeoutSeconds <= 0 {
		cfg.Photo.UploadTimeoutSeconds = 15
	}
	cfg.Photo.UploadTimeout = time.Duration(cfg.Photo.UploadTimeoutSeconds) * time.Second

	if cfg.Push.TTL <= 0 {
		cfg.Push.TTL = 3600
	}

	if cfg.WorkerPool.Size <= 0 {
		log.Printf("worker_pool.size is not set or invalid; defaulting to 1")
		cfg.WorkerPool.Size = 1
	}

	if cfg.Catalog.PageSize <= 0 {
		cfg.Catalog.PageSize = 100
	}
	if cfg.Catalog.IntervalSeconds <= 0 {
		cfg.Catalog.IntervalSeconds = 900
	}
	cfg.Catalog.Interval = time.Duration(cfg.Catalog.IntervalSeconds) * time.Second
}
