package storage

import (
	"context"
	"errors"
	"time"

	"leadforge/pkg/models"

	"github.com/google/uuid"
)

var (
	ErrNotFound = errors.New("record not found")
	ErrConflict = errors.New("record already exists")
)

// CampaignFilters narrows a campaign listing.
type CampaignFilters struct {
	Status    models.CampaignStatus
	ProjectID string
}

// CampaignStore is the Persistence Gateway's campaign-facing half (C1).
type CampaignStore interface {
	CreateCampaign(ctx context.Context, campaign *models.Campaign) error
	GetCampaign(ctx context.Context, id uuid.UUID) (*models.Campaign, error)
	ListCampaigns(ctx context.Context, filters CampaignFilters) ([]models.Campaign, error)
	ListActiveCampaigns(ctx context.Context) ([]models.Campaign, error)
	UpdateCampaign(ctx context.Context, id uuid.UUID, patch map[string]interface{}) (*models.Campaign, error)
	DeleteCampaign(ctx context.Context, id uuid.UUID) error

	// IncrementAggregates applies the eventually-consistent per-run
	// rollup onto a campaign: last_run_at, total_runs += 1, total_cost += cost.
	IncrementAggregates(ctx context.Context, id uuid.UUID, runCost float64, runAt time.Time) error

	// GetSpending sums total_cost over runs started within [start, end).
	GetSpending(ctx context.Context, campaignID uuid.UUID, start, end time.Time) (float64, error)
}

// RunStore is the Persistence Gateway's campaign-run-facing half (C1).
type RunStore interface {
	CreateRun(ctx context.Context, run *models.CampaignRun) error
	GetRun(ctx context.Context, id uuid.UUID) (*models.CampaignRun, error)
	UpdateRun(ctx context.Context, id uuid.UUID, patch map[string]interface{}) error
	ListRuns(ctx context.Context, campaignID uuid.UUID, limit int) ([]models.CampaignRun, error)

	// ListStaleRunning returns runs stuck in `running` with started_at
	// older than the cutoff, for the startup recovery sweep.
	ListStaleRunning(ctx context.Context, cutoff time.Time) ([]models.CampaignRun, error)
}

// ArchiveStore offloads oversized raw_result payloads to blob storage,
// returning a reference URI in their place.
type ArchiveStore interface {
	Store(ctx context.Context, key string, payload []byte) (string, error)
}
