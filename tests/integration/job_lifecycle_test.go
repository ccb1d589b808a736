package integration

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"leadforge/pkg/models"
	"leadforge/pkg/storage/postgres"
	"leadforge/pkg/storage/redis"
)

// IntegrationTestSuite is the main test suite for integration tests
// against a real Postgres/Redis instance.
type IntegrationTestSuite struct {
	suite.Suite
	store       *postgres.PostgresStore
	budgetCache *redis.BudgetCache
}

// SetupSuite runs once before all tests
func (s *IntegrationTestSuite) SetupSuite() {
	if os.Getenv("SKIP_INTEGRATION_TESTS") == "true" {
		s.T().Skip("Skipping integration tests (SKIP_INTEGRATION_TESTS=true)")
	}

	dbHost := getEnv("TEST_DB_HOST", "localhost")
	dbPort := getEnv("TEST_DB_PORT", "5432")
	dbUser := getEnv("TEST_DB_USER", "leadforge")
	dbPass := getEnv("TEST_DB_PASS", "password")
	dbName := getEnv("TEST_DB_NAME", "leadforge_test")

	connStr := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		dbHost, dbPort, dbUser, dbPass, dbName,
	)

	store, err := postgres.NewPostgresStore(connStr)
	if err != nil {
		s.T().Skipf("Skipping integration tests: %v", err)
	}
	s.store = store

	redisAddr := fmt.Sprintf("%s:%s",
		getEnv("TEST_REDIS_HOST", "localhost"),
		getEnv("TEST_REDIS_PORT", "6379"),
	)
	cache, err := redis.NewBudgetCache(redisAddr, 30*time.Second)
	if err != nil {
		s.T().Skipf("Skipping integration tests: %v", err)
	}
	s.budgetCache = cache
}

// TearDownSuite runs once after all tests
func (s *IntegrationTestSuite) TearDownSuite() {
	if s.store != nil {
		s.store.Close()
	}
	if s.budgetCache != nil {
		s.budgetCache.Close()
	}
}

// TestCampaignLifecycle covers create -> run record -> completion ->
// aggregate rollup against real Postgres.
func (s *IntegrationTestSuite) TestCampaignLifecycle() {
	ctx := context.Background()

	campaign := &models.Campaign{
		ID:     uuid.New(),
		Name:   "integration-test-campaign",
		Status: models.CampaignActive,
		Config: models.CampaignConfig{
			Steps: []models.Step{
				{
					Name:     "prospect",
					Engine:   models.EngineProspecting,
					Endpoint: "http://localhost:9000/prospect",
					Retry:    models.RetryConfig{Attempts: 1, Backoff: models.BackoffConstant},
				},
			},
		},
	}

	err := s.store.CreateCampaign(ctx, campaign)
	require.NoError(s.T(), err, "failed to create campaign")

	retrieved, err := s.store.GetCampaign(ctx, campaign.ID)
	require.NoError(s.T(), err, "failed to retrieve campaign")
	assert.Equal(s.T(), campaign.Name, retrieved.Name)
	assert.Equal(s.T(), models.CampaignActive, retrieved.Status)

	run := &models.CampaignRun{
		ID:         uuid.New(),
		CampaignID: campaign.ID,
		Status:     models.RunRunning,
		Trigger:    models.TriggerManual,
		StartedAt:  time.Now(),
	}
	err = s.store.CreateRun(ctx, run)
	require.NoError(s.T(), err, "failed to create run")

	now := time.Now()
	err = s.store.UpdateRun(ctx, run.ID, map[string]interface{}{
		"status":          models.RunCompleted,
		"steps_completed": 1,
		"total_cost":      0.42,
		"completed_at":    now,
	})
	require.NoError(s.T(), err, "failed to patch run")

	err = s.store.IncrementAggregates(ctx, campaign.ID, 0.42, run.StartedAt)
	require.NoError(s.T(), err, "failed to roll up aggregates")

	final, err := s.store.GetCampaign(ctx, campaign.ID)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), int64(1), final.TotalRuns)
	assert.InDelta(s.T(), 0.42, final.TotalCost, 0.0001)
}

// TestBudgetSpendCache exercises the Redis-backed spend cache.
func (s *IntegrationTestSuite) TestBudgetSpendCache() {
	ctx := context.Background()
	campaignID := uuid.New()

	err := s.budgetCache.Set(ctx, campaignID, "daily", 12.5)
	require.NoError(s.T(), err)

	spend, ok, err := s.budgetCache.Get(ctx, campaignID, "daily")
	require.NoError(s.T(), err)
	assert.True(s.T(), ok)
	assert.InDelta(s.T(), 12.5, spend, 0.0001)

	err = s.budgetCache.Invalidate(ctx, campaignID, "daily")
	require.NoError(s.T(), err)

	_, ok, err = s.budgetCache.Get(ctx, campaignID, "daily")
	require.NoError(s.T(), err)
	assert.False(s.T(), ok)
}

// TestSingleFlightLock exercises the distributed per-campaign lock the
// Cron Scheduler relies on.
func (s *IntegrationTestSuite) TestSingleFlightLock() {
	ctx := context.Background()
	campaignID := uuid.New()

	ok, err := s.budgetCache.TryLock(ctx, campaignID, "owner-a", time.Minute)
	require.NoError(s.T(), err)
	assert.True(s.T(), ok, "first lock attempt should succeed")

	ok, err = s.budgetCache.TryLock(ctx, campaignID, "owner-b", time.Minute)
	require.NoError(s.T(), err)
	assert.False(s.T(), ok, "second lock attempt should be rejected while held")

	err = s.budgetCache.Unlock(ctx, campaignID)
	require.NoError(s.T(), err)

	ok, err = s.budgetCache.TryLock(ctx, campaignID, "owner-b", time.Minute)
	require.NoError(s.T(), err)
	assert.True(s.T(), ok, "lock should be acquirable again after unlock")
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// TestIntegration runs the integration test suite
func TestIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration tests in short mode")
	}
	suite.Run(t, new(IntegrationTestSuite))
}
