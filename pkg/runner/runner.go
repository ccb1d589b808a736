// Package runner drives one campaign end-to-end: budget preflight,
// the per-step loop with failure-action policy, and finalization.
package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"leadforge/pkg/budget"
	"leadforge/pkg/dispatcher"
	"leadforge/pkg/logger"
	"leadforge/pkg/metrics"
	"leadforge/pkg/models"
	"leadforge/pkg/notifier"
	"leadforge/pkg/storage"
)

// RunError is returned by Run when a budget limit blocks the run
// (BudgetExceeded is then true), so callers (the API, the Scheduler)
// can tell a budget block from other failures, which Run reports as
// ordinary errors.
type RunError struct {
	Message        string
	BudgetExceeded bool
}

func (e *RunError) Error() string { return e.Message }

// Runner is the Campaign Runner (C6).
type Runner struct {
	campaigns  storage.CampaignStore
	runs       storage.RunStore
	archive    storage.ArchiveStore
	budgetGate *budget.Gate
	dispatcher *dispatcher.Dispatcher
	notifier   *notifier.Notifier

	archiveThresholdBytes int
}

// New constructs a Runner.
func New(campaigns storage.CampaignStore, runs storage.RunStore, archive storage.ArchiveStore, budgetGate *budget.Gate, dispatch *dispatcher.Dispatcher, notify *notifier.Notifier, archiveThresholdBytes int) *Runner {
	if archiveThresholdBytes <= 0 {
		archiveThresholdBytes = 16384
	}
	return &Runner{
		campaigns:             campaigns,
		runs:                  runs,
		archive:               archive,
		budgetGate:            budgetGate,
		dispatcher:            dispatch,
		notifier:              notify,
		archiveThresholdBytes: archiveThresholdBytes,
	}
}

// Run executes campaign end-to-end — budget preflight, step loop,
// finalization. It returns a *RunError when a budget limit blocks the
// run, a wrapped error when a step failure aborts it, and nil for a
// completed or partial run.
func (r *Runner) Run(ctx context.Context, campaign models.Campaign, trigger models.TriggerType) (finished *models.CampaignRun, runErr error) {
	log := logger.Get().With(zap.String("campaign_id", campaign.ID.String()), zap.String("campaign_name", campaign.Name))

	run := &models.CampaignRun{
		ID:         uuid.New(),
		CampaignID: campaign.ID,
		Status:     models.RunRunning,
		Trigger:    trigger,
		StartedAt:  time.Now(),
		Results:    models.StepResults{},
		Errors:     models.RunErrors{},
	}

	if err := r.runs.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to persist run start: %w", err)
	}

	defer func() {
		if rec := recover(); rec != nil {
			log.Error("panic during campaign run", zap.Any("panic", rec))
			run.Errors = append(run.Errors, models.RunError{
				Step:      "internal",
				Error:     fmt.Sprintf("internal error: %v", rec),
				Timestamp: time.Now(),
			})
			finished, runErr = r.finalize(ctx, campaign, run, fmt.Errorf("internal error: %v", rec))
		}
	}()

	if campaign.Config.Budget != nil {
		check := r.budgetGate.Check(ctx, campaign.ID, campaign.Config.Budget)
		if check.Exceeded {
			return r.abortForBudget(ctx, campaign, run, check)
		}
	}

	var terminalErr error
	var prevResult *models.StepResult
	for _, step := range campaign.Config.Steps {
		if step.Params == nil && campaign.ProjectID != "" {
			step.Params = map[string]interface{}{}
		}
		mergeProjectID(step.Params, campaign.ProjectID)

		if prevResult != nil && campaign.Config.Budget != nil {
			if budget.PerLeadExceeded(campaign.Config.Budget, prevResult.Cost, leadCount(*prevResult)) {
				metrics.PerLeadExceeded.Inc()
				log.Warn("per-lead budget exceeded ahead of step", zap.String("step", step.Name))
			}
		}

		result, err := r.dispatcher.Dispatch(ctx, step)
		if err != nil {
			run.StepsFailed++
			run.Errors = append(run.Errors, models.RunError{
				Step:      step.Name,
				Error:     err.Error(),
				Timestamp: time.Now(),
			})
			metrics.StepsFailed.WithLabelValues(string(step.Engine)).Inc()
			r.patchRun(ctx, run)

			log.Warn("step failed", zap.String("step", step.Name), zap.Error(err))

			if step.FailurePolicy() == models.FailureAbort {
				terminalErr = fmt.Errorf("step %s failed: %w", step.Name, err)
				break
			}
			continue
		}

		r.maybeArchive(ctx, run.ID, step.Name, &result)

		run.TotalCost += result.Cost
		run.Results[step.Name] = result
		run.StepsCompleted++
		metrics.StepsCompleted.WithLabelValues(string(step.Engine)).Inc()
		metrics.RunCost.Add(result.Cost)
		r.patchRun(ctx, run)

		prevResult = &result

		if step.OnSuccess == models.SuccessAbort {
			break
		}
	}

	return r.finalize(ctx, campaign, run, terminalErr)
}

// mergeProjectID injects the campaign's project id into
// params.options.projectId without overriding a value the step
// already supplied.
func mergeProjectID(params map[string]interface{}, projectID string) {
	if params == nil || projectID == "" {
		return
	}
	options, ok := params["options"].(map[string]interface{})
	if !ok {
		options = map[string]interface{}{}
		params["options"] = options
	}
	if _, exists := options["projectId"]; !exists {
		options["projectId"] = projectID
	}
}

// leadCount picks the metric best representing "leads produced" for a
// step result, trying each engine's primary counter in turn. Used only
// by the non-blocking per-step budget.PerLeadExceeded check.
func leadCount(result models.StepResult) int {
	for _, key := range []string{"prospects_generated", "leads_analyzed", "emails_composed", "emails_sent"} {
		if v, ok := result.Metrics[key]; ok {
			switch n := v.(type) {
			case int:
				return n
			case float64:
				return int(n)
			}
		}
	}
	return 0
}

func (r *Runner) maybeArchive(ctx context.Context, runID uuid.UUID, stepName string, result *models.StepResult) {
	if r.archive == nil || len(result.Raw) <= r.archiveThresholdBytes {
		return
	}
	key := fmt.Sprintf("%s-%s", runID, stepName)
	uri, err := r.archive.Store(ctx, key, result.Raw)
	if err != nil {
		logger.Get().Warn("failed to archive raw_result", zap.String("step", stepName), zap.Error(err))
		return
	}
	result.ArchiveURI = uri
	result.Raw = nil
}

func (r *Runner) abortForBudget(ctx context.Context, campaign models.Campaign, run *models.CampaignRun, check budget.Result) (*models.CampaignRun, error) {
	now := time.Now()
	run.Status = models.RunAborted
	run.CompletedAt = &now
	run.Errors = append(run.Errors, models.RunError{
		Step:      "budget-check",
		Error:     check.Reason,
		Timestamp: now,
	})
	r.patchRun(ctx, run)

	if _, err := r.campaigns.UpdateCampaign(ctx, campaign.ID, map[string]interface{}{"status": models.CampaignPaused}); err != nil {
		logger.Get().Error("failed to pause campaign after budget block", zap.Error(err))
	}

	if campaign.Config.Notifications != nil {
		r.notifier.NotifyFailure(campaign.Config.Notifications.OnFailure, campaign.Name, run, check.Reason, true)
	}

	metrics.BudgetBlocks.Inc()

	return run, &RunError{Message: check.Reason, BudgetExceeded: true}
}

func (r *Runner) finalize(ctx context.Context, campaign models.Campaign, run *models.CampaignRun, terminalErr error) (*models.CampaignRun, error) {
	now := time.Now()
	run.CompletedAt = &now

	switch {
	case terminalErr != nil:
		run.Status = models.RunFailed
	case run.StepsFailed == 0:
		run.Status = models.RunCompleted
	default:
		run.Status = models.RunPartial
	}

	r.patchRun(ctx, run)
	metrics.RecordRun(campaign.Name, string(run.Status), now.Sub(run.StartedAt).Seconds())

	if err := r.campaigns.IncrementAggregates(ctx, campaign.ID, run.TotalCost, run.StartedAt); err != nil {
		logger.Get().Error("failed to increment campaign aggregates", zap.Error(err))
	}

	if campaign.Config.Notifications != nil {
		if run.Status == models.RunCompleted || run.Status == models.RunPartial {
			r.notifier.NotifyComplete(campaign.Config.Notifications.OnComplete, campaign.Name, run)
		} else {
			msg := ""
			if terminalErr != nil {
				msg = terminalErr.Error()
			}
			r.notifier.NotifyFailure(campaign.Config.Notifications.OnFailure, campaign.Name, run, msg, false)
		}
	}

	if terminalErr != nil {
		return run, terminalErr
	}
	return run, nil
}

func (r *Runner) patchRun(ctx context.Context, run *models.CampaignRun) {
	patch := map[string]interface{}{
		"status":          run.Status,
		"steps_completed": run.StepsCompleted,
		"steps_failed":    run.StepsFailed,
		"total_cost":      run.TotalCost,
		"results":         run.Results,
		"errors":          run.Errors,
	}
	if run.CompletedAt != nil {
		patch["completed_at"] = run.CompletedAt
	}
	if err := r.runs.UpdateRun(ctx, run.ID, patch); err != nil {
		logger.Get().Error("failed to patch run", zap.String("run_id", run.ID.String()), zap.Error(err))
	}
}
