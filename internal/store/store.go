package store

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"truckcheck-backend/internal/model"
)

// Store defines the persistence operations the check-run engine relies on.
// Every read and write is scoped by station.
type Store interface {
	GetStation(ctx context.Context, stationID string) (*model.Station, error)
	UpsertStation(ctx context.Context, station *model.Station) error

	GetAppliance(ctx context.Context, stationID, applianceID string) (*model.Appliance, error)
	ListAppliances(ctx context.Context, stationID string) ([]model.Appliance, error)
	UpsertAppliances(ctx context.Context, appliances []model.Appliance) error
	GetTemplate(ctx context.Context, stationID, applianceID string) (*model.ChecklistTemplate, error)
	UpsertTemplate(ctx context.Context, tpl *model.ChecklistTemplate) error

	// FindActiveRun returns the in-progress run for the appliance, or nil.
	FindActiveRun(ctx context.Context, stationID, applianceID string) (*model.CheckRun, error)
	CreateRun(ctx context.Context, run *model.CheckRun) error
	// UpdateRun writes run if the stored row still has run.Version, then
	// bumps the version. A concurrent change surfaces as ErrStaleRun.
	UpdateRun(ctx context.Context, run *model.CheckRun) error
	GetRun(ctx context.Context, stationID, runID string) (*model.CheckRun, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.CheckRun, error)

	// UpsertResult inserts or replaces the result for (RunID, ItemID). On
	// replace the stored ID and CreatedAt are kept and copied back into result.
	UpsertResult(ctx context.Context, result *model.CheckResult) (created bool, err error)
	GetResult(ctx context.Context, stationID, resultID string) (*model.CheckResult, error)
	UpdateResult(ctx context.Context, result *model.CheckResult) error
	DeleteResult(ctx context.Context, stationID, resultID string) error
	GetResultsByRun(ctx context.Context, runID string) ([]model.CheckResult, error)

	PutSubscription(ctx context.Context, sub *model.PushSubscription) error
	GetSubscription(ctx context.Context, stationID, endpoint string) (*model.PushSubscription, error)
	DeleteSubscription(ctx context.Context, stationID, endpoint string) error
	SubscriptionsForStation(ctx context.Context, stationID string) ([]model.PushSubscription, error)
}

// gormStore implements the Store interface using GORM.
type gormStore struct {
	db *gorm.DB
}

// NewGormStore creates a new GORM-backed store.
func NewGormStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

// isUniqueViolation recognises duplicate-key errors from both drivers.
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func (s *gormStore) GetStation(ctx context.Context, stationID string) (*model.Station, error) {
	var station model.Station
	if err := s.db.WithContext(ctx).First(&station, "id = ?", stationID).Error; err != nil {
		return nil, notFound(err)
	}
	return &station, nil
}

func (s *gormStore) UpsertStation(ctx context.Context, station *model.Station) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "brigade_id", "updated_at"}),
	}).Create(station).Error
}

func (s *gormStore) GetAppliance(ctx context.Context, stationID, applianceID string) (*model.Appliance, error) {
	var appliance model.Appliance
	err := s.db.WithContext(ctx).
		Where("station_id = ? AND id = ?", stationID, applianceID).
		First(&appliance).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &appliance, nil
}

func (s *gormStore) ListAppliances(ctx context.Context, stationID string) ([]model.Appliance, error) {
	var appliances []model.Appliance
	err := s.db.WithContext(ctx).
		Where("station_id = ?", stationID).
		Order("name").
		Find(&appliances).Error
	return appliances, err
}

func (s *gormStore) UpsertAppliances(ctx context.Context, appliances []model.Appliance) error {
	if len(appliances) == 0 {
		return nil
	}
	log.Printf("Batch upserting %d appliances...", len(appliances))
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "station_id"}, {Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "description", "updated_at"}),
		}).Create(&appliances).Error
	})
}

func (s *gormStore) GetTemplate(ctx context.Context, stationID, applianceID string) (*model.ChecklistTemplate, error) {
	var tpl model.ChecklistTemplate
	err := s.db.WithContext(ctx).
		Where("station_id = ? AND appliance_id = ?", stationID, applianceID).
		First(&tpl).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &tpl, nil
}

func (s *gormStore) UpsertTemplate(ctx context.Context, tpl *model.ChecklistTemplate) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "station_id"}, {Name: "appliance_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"items", "updated_at"}),
	}).Create(tpl).Error
}

func (s *gormStore) FindActiveRun(ctx context.Context, stationID, applianceID string) (*model.CheckRun, error) {
	var run model.CheckRun
	err := s.db.WithContext(ctx).
		Where("station_id = ? AND appliance_id = ? AND status = ?", stationID, applianceID, model.RunStatusInProgress).
		Order("start_time DESC").
		First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// CreateRun inserts a new run. A concurrent writer that already holds the
// active slot for the appliance surfaces as ErrActiveRunExists.
func (s *gormStore) CreateRun(ctx context.Context, run *model.CheckRun) error {
	if run.Version == 0 {
		run.Version = 1
	}
	if err := s.db.WithContext(ctx).Omit(clause.Associations).Create(run).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrActiveRunExists
		}
		return fmt.Errorf("failed to create check run: %w", err)
	}
	return nil
}

func (s *gormStore) UpdateRun(ctx context.Context, run *model.CheckRun) error {
	read := run.Version
	run.Version = read + 1
	res := s.db.WithContext(ctx).Model(run).
		Select("end_time", "completed_by", "contributors", "status", "has_issues", "additional_comments", "version", "updated_at").
		Where("station_id = ? AND version = ?", run.StationID, read).
		Updates(run)
	if res.Error != nil {
		run.Version = read
		return fmt.Errorf("failed to update check run %s: %w", run.ID, res.Error)
	}
	if res.RowsAffected == 1 {
		return nil
	}

	run.Version = read
	var count int64
	err := s.db.WithContext(ctx).Model(&model.CheckRun{}).
		Where("station_id = ? AND id = ?", run.StationID, run.ID).
		Count(&count).Error
	if err != nil {
		return fmt.Errorf("failed to check run %s: %w", run.ID, err)
	}
	if count == 0 {
		return ErrNotFound
	}
	return ErrStaleRun
}

func (s *gormStore) GetRun(ctx context.Context, stationID, runID string) (*model.CheckRun, error) {
	var run model.CheckRun
	err := s.db.WithContext(ctx).
		Preload("Results", func(db *gorm.DB) *gorm.DB { return db.Order("created_at") }).
		Where("station_id = ? AND id = ?", stationID, runID).
		First(&run).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &run, nil
}

func (s *gormStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.CheckRun, error) {
	q := s.db.WithContext(ctx).
		Preload("Results", func(db *gorm.DB) *gorm.DB { return db.Order("created_at") }).
		Where("station_id = ?", filter.StationID)
	if filter.ApplianceID != "" {
		q = q.Where("appliance_id = ?", filter.ApplianceID)
	}
	if filter.Start != nil {
		q = q.Where("start_time >= ?", *filter.Start)
	}
	if filter.End != nil {
		q = q.Where("start_time <= ?", *filter.End)
	}
	if filter.WithIssues {
		q = q.Where("has_issues = ?", true)
	}

	var runs []model.CheckRun
	if err := q.Order("start_time DESC").Find(&runs).Error; err != nil {
		return nil, err
	}
	return runs, nil
}

func (s *gormStore) UpsertResult(ctx context.Context, result *model.CheckResult) (bool, error) {
	created, err := s.upsertResult(ctx, result)
	if err != nil && isUniqueViolation(err) {
		// Another process inserted the same item first; replace its row.
		created, err = s.upsertResult(ctx, result)
	}
	if err != nil {
		return false, fmt.Errorf("failed to upsert result for run %s item %s: %w", result.RunID, result.ItemID, err)
	}
	return created, nil
}

func (s *gormStore) upsertResult(ctx context.Context, result *model.CheckResult) (bool, error) {
	created := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing model.CheckResult
		err := tx.Where("run_id = ? AND item_id = ?", result.RunID, result.ItemID).First(&existing).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			created = true
			return tx.Create(result).Error
		case err != nil:
			return err
		}
		result.ID = existing.ID
		result.CreatedAt = existing.CreatedAt
		return tx.Save(result).Error
	})
	return created, err
}

func (s *gormStore) GetResult(ctx context.Context, stationID, resultID string) (*model.CheckResult, error) {
	var result model.CheckResult
	err := s.db.WithContext(ctx).
		Where("station_id = ? AND id = ?", stationID, resultID).
		First(&result).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &result, nil
}

func (s *gormStore) UpdateResult(ctx context.Context, result *model.CheckResult) error {
	return s.db.WithContext(ctx).Save(result).Error
}

func (s *gormStore) DeleteResult(ctx context.Context, stationID, resultID string) error {
	res := s.db.WithContext(ctx).
		Where("station_id = ? AND id = ?", stationID, resultID).
		Delete(&model.CheckResult{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *gormStore) GetResultsByRun(ctx context.Context, runID string) ([]model.CheckResult, error) {
	var results []model.CheckResult
	err := s.db.WithContext(ctx).Where("run_id = ?", runID).Order("created_at").Find(&results).Error
	return results, err
}

func (s *gormStore) PutSubscription(ctx context.Context, sub *model.PushSubscription) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "endpoint"}},
		DoUpdates: clause.AssignmentColumns([]string{"station_id", "p256dh", "auth"}),
	}).Create(sub).Error
}

func (s *gormStore) GetSubscription(ctx context.Context, stationID, endpoint string) (*model.PushSubscription, error) {
	var sub model.PushSubscription
	err := s.db.WithContext(ctx).
		Where("station_id = ? AND endpoint = ?", stationID, endpoint).
		First(&sub).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &sub, nil
}

func (s *gormStore) DeleteSubscription(ctx context.Context, stationID, endpoint string) error {
	return s.db.WithContext(ctx).
		Where("station_id = ? AND endpoint = ?", stationID, endpoint).
		Delete(&model.PushSubscription{}).Error
}

func (s *gormStore) SubscriptionsForStation(ctx context.Context, stationID string) ([]model.PushSubscription, error) {
	var subs []model.PushSubscription
	err := s.db.WithContext(ctx).Where("station_id = ?", stationID).Find(&subs).Error
	return subs, err
}
