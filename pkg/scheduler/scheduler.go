// Package scheduler owns the set of active cron schedules and fires
// the Campaign Runner with single-flight discipline per campaign.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"leadforge/pkg/logger"
	"leadforge/pkg/metrics"
	"leadforge/pkg/models"
	"leadforge/pkg/runner"
	"leadforge/pkg/storage"
)

// cronParser accepts the standard 5-field grammar, shared by the
// embedded cron.Cron and the next-firing computation in Schedule.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Lock is the optional distributed single-flight lock; satisfied by
// pkg/storage/redis.BudgetCache. Nil disables the distributed half
// and single-flight is enforced only within this process.
type Lock interface {
	TryLock(ctx context.Context, campaignID uuid.UUID, owner string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, campaignID uuid.UUID) error
}

// task is one campaign's registration with the underlying cron.Cron.
type task struct {
	entryID  cron.EntryID
	campaign models.Campaign
}

// Scheduler is the Cron Scheduler (C7).
type Scheduler struct {
	cron       *cron.Cron
	runner     *runner.Runner
	campaigns  storage.CampaignStore
	lock       Lock
	ownerID    string
	defaultTZ  *time.Location

	mu      sync.Mutex
	tasks   map[uuid.UUID]*task
	running map[uuid.UUID]bool
}

// New constructs a Scheduler. ownerID identifies this orchestrator
// process in the distributed lock (it is stored as the lock's value;
// lock ownership isn't checked on unlock).
func New(r *runner.Runner, campaigns storage.CampaignStore, lock Lock, ownerID string, defaultTZ *time.Location) *Scheduler {
	if defaultTZ == nil {
		defaultTZ = time.UTC
	}
	return &Scheduler{
		cron:      cron.New(cron.WithParser(cronParser)),
		runner:    r,
		campaigns: campaigns,
		lock:      lock,
		ownerID:   ownerID,
		defaultTZ: defaultTZ,
		tasks:     make(map[uuid.UUID]*task),
		running:   make(map[uuid.UUID]bool),
	}
}

// Start begins firing scheduled entries.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Schedule validates schedule.cron and registers a recurring trigger
// for campaign. If a task already exists for this campaign, it's
// stopped first.
func (s *Scheduler) Schedule(campaign models.Campaign) error {
	sched := campaign.Config.Schedule
	if sched == nil || !sched.Enabled || sched.Cron == "" {
		return fmt.Errorf("campaign %s has no enabled schedule", campaign.ID)
	}

	tz := sched.Timezone
	if tz == "" {
		tz = s.defaultTZ.String()
	}
	spec := fmt.Sprintf("CRON_TZ=%s %s", tz, sched.Cron)

	s.mu.Lock()
	if existing, ok := s.tasks[campaign.ID]; ok {
		s.cron.Remove(existing.entryID)
		delete(s.tasks, campaign.ID)
	}
	s.mu.Unlock()

	parsed, err := cronParser.Parse(spec)
	if err != nil {
		return fmt.Errorf("invalid cron expression for campaign %s: %w", campaign.ID, err)
	}

	entryID, err := s.cron.AddFunc(spec, func() {
		s.fire(campaign)
	})
	if err != nil {
		return fmt.Errorf("invalid cron expression for campaign %s: %w", campaign.ID, err)
	}

	s.mu.Lock()
	s.tasks[campaign.ID] = &task{entryID: entryID, campaign: campaign}
	s.mu.Unlock()

	metrics.ActiveSchedules.Set(float64(len(s.ActiveTasks())))

	// Computed from the parsed schedule directly: the cron entry's
	// Next field is only populated once the cron loop is running.
	next := parsed.Next(time.Now())
	_, _ = s.campaigns.UpdateCampaign(context.Background(), campaign.ID, map[string]interface{}{"next_run_at": next})

	return nil
}

// Unschedule stops and removes the task for campaignID, if present.
func (s *Scheduler) Unschedule(campaignID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.tasks[campaignID]; ok {
		s.cron.Remove(existing.entryID)
		delete(s.tasks, campaignID)
	}
	metrics.ActiveSchedules.Set(float64(len(s.tasks)))
}

// Reschedule unschedules then schedules campaign.
func (s *Scheduler) Reschedule(campaign models.Campaign) error {
	s.Unschedule(campaign.ID)
	return s.Schedule(campaign)
}

// ScheduleAll attempts to schedule every active, schedule-eligible
// campaign; individual failures are logged and do not prevent others.
func (s *Scheduler) ScheduleAll(campaigns []models.Campaign) {
	for _, c := range campaigns {
		if c.Status != models.CampaignActive || c.Config.Schedule == nil {
			continue
		}
		if err := s.Schedule(c); err != nil {
			logger.Get().Warn("failed to schedule campaign", zap.String("campaign_id", c.ID.String()), zap.Error(err))
		}
	}
}

// StopAll stops every active task and clears the map.
func (s *Scheduler) StopAll() {
	ctx := s.cron.Stop()
	<-ctx.Done()

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tasks {
		s.cron.Remove(t.entryID)
	}
	s.tasks = make(map[uuid.UUID]*task)
	metrics.ActiveSchedules.Set(0)
}

// ActiveTasks returns a snapshot of currently scheduled campaign ids.
func (s *Scheduler) ActiveTasks() []uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]uuid.UUID, 0, len(s.tasks))
	for id := range s.tasks {
		ids = append(ids, id)
	}
	return ids
}

// fire is invoked by the underlying cron.Cron at each scheduled tick.
// It enforces per-campaign single-flight: if a previous firing is
// still running (locally, and via the distributed lock when
// configured), this firing is dropped, not queued.
func (s *Scheduler) fire(campaign models.Campaign) {
	if !s.tryStart(campaign.ID) {
		metrics.ScheduledFirings.WithLabelValues("skipped_single_flight").Inc()
		logger.Get().Info("dropped scheduled firing: previous run still in flight", zap.String("campaign_id", campaign.ID.String()))
		return
	}
	defer s.finishRun(campaign.ID)

	metrics.ScheduledFirings.WithLabelValues("started").Inc()
	if entry, ok := s.entryFor(campaign.ID); ok && !entry.Prev.IsZero() {
		metrics.SchedulerLag.Observe(time.Since(entry.Prev).Seconds())
	}

	ctx := context.Background()
	if fresh, err := s.campaigns.GetCampaign(ctx, campaign.ID); err == nil {
		campaign = *fresh
	}

	if _, err := s.runner.Run(ctx, campaign, models.TriggerScheduled); err != nil {
		logger.Get().Warn("scheduled run ended with error", zap.String("campaign_id", campaign.ID.String()), zap.Error(err))
	}

	if entry, ok := s.entryFor(campaign.ID); ok {
		_, _ = s.campaigns.UpdateCampaign(ctx, campaign.ID, map[string]interface{}{"next_run_at": entry.Next})
	}
}

func (s *Scheduler) entryFor(campaignID uuid.UUID) (cron.Entry, bool) {
	s.mu.Lock()
	t, ok := s.tasks[campaignID]
	s.mu.Unlock()
	if !ok {
		return cron.Entry{}, false
	}
	return s.cron.Entry(t.entryID), true
}

func (s *Scheduler) tryStart(campaignID uuid.UUID) bool {
	s.mu.Lock()
	if s.running[campaignID] {
		s.mu.Unlock()
		return false
	}
	s.running[campaignID] = true
	s.mu.Unlock()

	if s.lock != nil {
		ok, err := s.lock.TryLock(context.Background(), campaignID, s.ownerID, 30*time.Minute)
		if err != nil {
			logger.Get().Warn("distributed lock check failed, proceeding local-only", zap.Error(err))
		} else if !ok {
			s.mu.Lock()
			delete(s.running, campaignID)
			s.mu.Unlock()
			return false
		}
	}

	return true
}

func (s *Scheduler) finishRun(campaignID uuid.UUID) {
	s.mu.Lock()
	delete(s.running, campaignID)
	s.mu.Unlock()

	if s.lock != nil {
		_ = s.lock.Unlock(context.Background(), campaignID)
	}
}
