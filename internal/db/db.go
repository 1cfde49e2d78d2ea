package db

import (
	"fmt"
	"log"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"truckcheck-backend/config"
	"truckcheck-backend/internal/model"
)

// activeRunIndexDDL backs the one-active-run-per-appliance rule at the
// database level. Both Postgres and SQLite accept partial indexes.
const activeRunIndexDDL = "CREATE UNIQUE INDEX IF NOT EXISTS uniq_check_runs_active " +
	"ON check_runs (station_id, appliance_id) WHERE status = 'in-progress'"

// Init initializes the database connection and runs migrations.
func Init(cfg *config.DatabaseConfig, defaultStationID string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetimeMinutes > 0 {
		sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetimeMinutes) * time.Minute)
	}

	log.Println("Running database migrations...")
	if err := Migrate(db); err != nil {
		return nil, err
	}

	if err := SeedStation(db, defaultStationID); err != nil {
		return nil, err
	}

	log.Println("Database initialization complete.")
	return db, nil
}

// Migrate creates or updates the schema, including the partial unique index
// on active check runs.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&model.Station{},
		&model.Appliance{},
		&model.ChecklistTemplate{},
		&model.CheckRun{},
		&model.CheckResult{},
		&model.PushSubscription{},
	); err != nil {
		return fmt.Errorf("automigrate failed: %w", err)
	}
	if err := db.Exec(activeRunIndexDDL).Error; err != nil {
		return fmt.Errorf("DDL failed on %q: %w", activeRunIndexDDL, err)
	}
	return nil
}

// SeedStation makes sure the given station row exists.
func SeedStation(db *gorm.DB, stationID string) error {
	if stationID == "" {
		return nil
	}
	station := model.Station{ID: stationID, Name: stationID}
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&station).Error; err != nil {
		return fmt.Errorf("failed to seed station %q: %w", stationID, err)
	}
	return nil
}
