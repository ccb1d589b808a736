package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"leadforge/pkg/models"
	"leadforge/pkg/storage"
)

type PostgresStore struct {
	db *gorm.DB
}

// NewPostgresStore initializes GORM connection and AutoMigrates schemas.
func NewPostgresStore(connString string) (*PostgresStore, error) {
	config := &gorm.Config{
		Logger:      logger.Default.LogMode(logger.Info),
		PrepareStmt: true,
	}

	db, err := gorm.Open(postgres.Open(connString), config)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(50)
	sqlDB.SetConnMaxLifetime(time.Hour)

	err = db.AutoMigrate(&models.Campaign{}, &models.CampaignRun{})
	if err != nil {
		return nil, fmt.Errorf("schema migration failed: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// --- CampaignStore implementation ---

func (s *PostgresStore) CreateCampaign(ctx context.Context, campaign *models.Campaign) error {
	result := s.db.WithContext(ctx).Create(campaign)
	if result.Error != nil {
		return fmt.Errorf("failed to create campaign: %w", result.Error)
	}
	return nil
}

func (s *PostgresStore) GetCampaign(ctx context.Context, id uuid.UUID) (*models.Campaign, error) {
	var campaign models.Campaign
	result := s.db.WithContext(ctx).First(&campaign, "id = ?", id)
	if result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			return nil, storage.ErrNotFound
		}
		return nil, result.Error
	}
	return &campaign, nil
}

func (s *PostgresStore) ListCampaigns(ctx context.Context, filters storage.CampaignFilters) ([]models.Campaign, error) {
	var campaigns []models.Campaign
	query := s.db.WithContext(ctx).Order("created_at desc")

	if filters.Status != "" {
		query = query.Where("status = ?", filters.Status)
	}
	if filters.ProjectID != "" {
		query = query.Where("project_id = ?", filters.ProjectID)
	}

	result := query.Find(&campaigns)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list campaigns: %w", result.Error)
	}
	return campaigns, nil
}

// ListActiveCampaigns returns every campaign eligible for scheduling,
// regardless of next_run_at — the Cron Scheduler computes its own
// firing entries from each campaign's schedule.cron at load time.
func (s *PostgresStore) ListActiveCampaigns(ctx context.Context) ([]models.Campaign, error) {
	var campaigns []models.Campaign
	result := s.db.WithContext(ctx).
		Where("status = ?", models.CampaignActive).
		Order("created_at asc").
		Find(&campaigns)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list active campaigns: %w", result.Error)
	}
	return campaigns, nil
}

func (s *PostgresStore) UpdateCampaign(ctx context.Context, id uuid.UUID, patch map[string]interface{}) (*models.Campaign, error) {
	result := s.db.WithContext(ctx).
		Model(&models.Campaign{}).
		Where("id = ?", id).
		Updates(patch)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to update campaign: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, storage.ErrNotFound
	}
	return s.GetCampaign(ctx, id)
}

// DeleteCampaign hard-deletes the campaign; ON DELETE CASCADE on
// campaign_runs.campaign_id removes its run history in the same
// transaction, so no run can outlive the campaign it points at.
func (s *PostgresStore) DeleteCampaign(ctx context.Context, id uuid.UUID) error {
	result := s.db.WithContext(ctx).Delete(&models.Campaign{}, "id = ?", id)
	if result.Error != nil {
		return fmt.Errorf("failed to delete campaign: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// IncrementAggregates records last_run_at as the run's start time, not
// its completion time, so the value lines up with the spending window
// queries keyed on started_at.
func (s *PostgresStore) IncrementAggregates(ctx context.Context, id uuid.UUID, runCost float64, runAt time.Time) error {
	result := s.db.WithContext(ctx).
		Model(&models.Campaign{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"last_run_at": runAt,
			"total_runs":  gorm.Expr("total_runs + 1"),
			"total_cost":  gorm.Expr("total_cost + ?", runCost),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to increment campaign aggregates: %w", result.Error)
	}
	return nil
}

func (s *PostgresStore) GetSpending(ctx context.Context, campaignID uuid.UUID, start, end time.Time) (float64, error) {
	var total float64
	result := s.db.WithContext(ctx).
		Model(&models.CampaignRun{}).
		Select("COALESCE(SUM(total_cost), 0)").
		Where("campaign_id = ?", campaignID).
		Where("started_at >= ? AND started_at < ?", start, end).
		Scan(&total)
	if result.Error != nil {
		return 0, fmt.Errorf("failed to compute spending: %w", result.Error)
	}
	return total, nil
}

// --- RunStore implementation ---

func (s *PostgresStore) CreateRun(ctx context.Context, run *models.CampaignRun) error {
	result := s.db.WithContext(ctx).Create(run)
	if result.Error != nil {
		return fmt.Errorf("failed to create run: %w", result.Error)
	}
	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, id uuid.UUID) (*models.CampaignRun, error) {
	var run models.CampaignRun
	result := s.db.WithContext(ctx).First(&run, "id = ?", id)
	if result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			return nil, storage.ErrNotFound
		}
		return nil, result.Error
	}
	return &run, nil
}

func (s *PostgresStore) UpdateRun(ctx context.Context, id uuid.UUID, patch map[string]interface{}) error {
	result := s.db.WithContext(ctx).
		Model(&models.CampaignRun{}).
		Where("id = ?", id).
		Updates(patch)
	if result.Error != nil {
		return fmt.Errorf("failed to update run: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, campaignID uuid.UUID, limit int) ([]models.CampaignRun, error) {
	var runs []models.CampaignRun
	result := s.db.WithContext(ctx).
		Where("campaign_id = ?", campaignID).
		Order("started_at desc").
		Limit(limit).
		Find(&runs)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list runs: %w", result.Error)
	}
	return runs, nil
}

// ListStaleRunning feeds the startup recovery sweep: runs still
// `running` past the configured staleness cutoff are orphans from a
// process that died mid-run.
func (s *PostgresStore) ListStaleRunning(ctx context.Context, cutoff time.Time) ([]models.CampaignRun, error) {
	var runs []models.CampaignRun
	result := s.db.WithContext(ctx).
		Where("status = ?", models.RunRunning).
		Where("started_at < ?", cutoff).
		Find(&runs)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list stale running runs: %w", result.Error)
	}
	return runs, nil
}
