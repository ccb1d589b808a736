// Package budget implements the rolling-spend gate that guards
// campaign runs against exceeding their daily/weekly/monthly/per-lead
// ceilings.
package budget

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"leadforge/pkg/logger"
	"leadforge/pkg/models"
	"leadforge/pkg/storage"
)

// Period names used in Check results, in evaluation order.
const (
	PeriodDaily   = "daily"
	PeriodWeekly  = "weekly"
	PeriodMonthly = "monthly"
)

// Spending holds the campaign's rolling spend per period.
type Spending struct {
	Daily   float64
	Weekly  float64
	Monthly float64
}

// Result is the outcome of a budget check.
type Result struct {
	Exceeded bool
	Reason   string
	Period   string
}

// Cache is the optional fast-path spend cache; satisfied by
// pkg/storage/redis.BudgetCache. Nil disables caching.
type Cache interface {
	Get(ctx context.Context, campaignID uuid.UUID, period string) (float64, bool, error)
	Set(ctx context.Context, campaignID uuid.UUID, period string, spend float64) error
}

// Gate is the Budget Gate (C4).
type Gate struct {
	store    storage.CampaignStore
	cache    Cache
	location *time.Location
}

// New constructs a Gate. loc is the configured timezone period
// boundaries are evaluated in; defaults to UTC if nil.
func New(store storage.CampaignStore, cache Cache, loc *time.Location) *Gate {
	if loc == nil {
		loc = time.UTC
	}
	return &Gate{store: store, cache: cache, location: loc}
}

// CurrentSpending computes the campaign's rolling spend for each
// period, evaluated at period boundaries in the gate's timezone.
func (g *Gate) CurrentSpending(ctx context.Context, campaignID uuid.UUID) (Spending, error) {
	now := time.Now().In(g.location)

	daily, err := g.periodSpend(ctx, campaignID, PeriodDaily, dayStart(now), now)
	if err != nil {
		return Spending{}, err
	}
	weekly, err := g.periodSpend(ctx, campaignID, PeriodWeekly, weekStart(now), now)
	if err != nil {
		return Spending{}, err
	}
	monthly, err := g.periodSpend(ctx, campaignID, PeriodMonthly, monthStart(now), now)
	if err != nil {
		return Spending{}, err
	}

	return Spending{Daily: daily, Weekly: weekly, Monthly: monthly}, nil
}

func (g *Gate) periodSpend(ctx context.Context, campaignID uuid.UUID, period string, start, end time.Time) (float64, error) {
	if g.cache != nil {
		if cached, ok, err := g.cache.Get(ctx, campaignID, period); err == nil && ok {
			return cached, nil
		}
	}

	spend, err := g.store.GetSpending(ctx, campaignID, start, end)
	if err != nil {
		return 0, fmt.Errorf("budget: failed to query %s spending: %w", period, err)
	}

	if g.cache != nil {
		_ = g.cache.Set(ctx, campaignID, period, spend)
	}
	return spend, nil
}

// Check evaluates the campaign's rolling spend against budget, in
// daily/weekly/monthly precedence. A missing budget never exceeds.
// Store errors fail open (proceed, logged) so a transiently
// unavailable store never pauses campaigns.
func (g *Gate) Check(ctx context.Context, campaignID uuid.UUID, b *models.Budget) Result {
	if b == nil {
		return Result{Exceeded: false}
	}

	spending, err := g.CurrentSpending(ctx, campaignID)
	if err != nil {
		logger.Get().Warn("budget check failed open", zap.String("campaign_id", campaignID.String()), zap.Error(err))
		return Result{Exceeded: false}
	}

	type limitCheck struct {
		period string
		limit  *float64
		spend  float64
	}
	for _, c := range []limitCheck{
		{PeriodDaily, b.Daily, spending.Daily},
		{PeriodWeekly, b.Weekly, spending.Weekly},
		{PeriodMonthly, b.Monthly, spending.Monthly},
	} {
		if c.limit == nil {
			continue
		}
		if c.spend >= *c.limit {
			return Result{
				Exceeded: true,
				Period:   c.period,
				Reason:   fmt.Sprintf("%s spend %.4f has reached the %.4f limit", c.period, c.spend, *c.limit),
			}
		}
	}

	return Result{Exceeded: false}
}

// WouldExceed reports whether spending[p] + estimatedCost would cross
// limit[p] for any configured period.
func (g *Gate) WouldExceed(ctx context.Context, campaignID uuid.UUID, b *models.Budget, estimatedCost float64) (bool, error) {
	if b == nil {
		return false, nil
	}

	spending, err := g.CurrentSpending(ctx, campaignID)
	if err != nil {
		return false, err
	}

	if b.Daily != nil && spending.Daily+estimatedCost > *b.Daily {
		return true, nil
	}
	if b.Weekly != nil && spending.Weekly+estimatedCost > *b.Weekly {
		return true, nil
	}
	if b.Monthly != nil && spending.Monthly+estimatedCost > *b.Monthly {
		return true, nil
	}
	return false, nil
}

// PerLeadExceeded reports whether a step's cost-per-lead crossed the
// ceiling. Non-blocking: callers record a metric on a true result but
// never abort.
func PerLeadExceeded(b *models.Budget, stepCost float64, leadCount int) bool {
	if b == nil || b.PerLead == nil || leadCount <= 0 {
		return false
	}
	return stepCost/float64(leadCount) > *b.PerLead
}

func dayStart(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func weekStart(t time.Time) time.Time {
	d := dayStart(t)
	offset := int(d.Weekday())
	return d.AddDate(0, 0, -offset)
}

func monthStart(t time.Time) time.Time {
	y, m, _ := t.Date()
	return time.Date(y, m, 1, 0, 0, 0, 0, t.Location())
}
