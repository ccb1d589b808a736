package validation

import (
	"math"
	"testing"

	"leadforge/pkg/models"
)

func validStep(name string) models.Step {
	return models.Step{
		Name:     name,
		Engine:   models.EngineProspecting,
		Endpoint: "https://engine.example.com/prospect",
		Retry:    models.RetryConfig{Attempts: 3, Backoff: models.BackoffExponential},
	}
}

func TestValidateCampaignConfig_RequiresName(t *testing.T) {
	cfg := models.CampaignConfig{Steps: []models.Step{validStep("a")}}
	if err := ValidateCampaignConfig("", cfg); err == nil {
		t.Error("expected error for empty name")
	}
}

func TestValidateCampaignConfig_RequiresNonEmptySteps(t *testing.T) {
	if err := ValidateCampaignConfig("campaign", models.CampaignConfig{}); err == nil {
		t.Error("expected error for empty steps")
	}
}

func TestValidateCampaignConfig_RejectsDuplicateStepNames(t *testing.T) {
	cfg := models.CampaignConfig{Steps: []models.Step{validStep("a"), validStep("a")}}
	if err := ValidateCampaignConfig("campaign", cfg); err == nil {
		t.Error("expected error for duplicate step names")
	}
}

func TestValidateCampaignConfig_AcceptsValidConfig(t *testing.T) {
	cfg := models.CampaignConfig{Steps: []models.Step{validStep("a"), validStep("b")}}
	if err := ValidateCampaignConfig("campaign", cfg); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestValidateCampaignConfig_ValidatesNestedSchedule(t *testing.T) {
	cfg := models.CampaignConfig{
		Steps:    []models.Step{validStep("a")},
		Schedule: &models.Schedule{Cron: "not a cron"},
	}
	if err := ValidateCampaignConfig("campaign", cfg); err == nil {
		t.Error("expected error for invalid nested schedule")
	}
}

func TestValidateCampaignConfig_ValidatesNestedBudget(t *testing.T) {
	negative := -5.0
	cfg := models.CampaignConfig{
		Steps:  []models.Step{validStep("a")},
		Budget: &models.Budget{Daily: &negative},
	}
	if err := ValidateCampaignConfig("campaign", cfg); err == nil {
		t.Error("expected error for negative nested budget")
	}
}

func TestValidateStepConfig_RejectsUnknownEngine(t *testing.T) {
	step := validStep("a")
	step.Engine = "not-a-real-engine"
	if err := ValidateStepConfig(step); err == nil {
		t.Error("expected error for unknown engine")
	}
}

func TestValidateStepConfig_RejectsMalformedEndpoint(t *testing.T) {
	step := validStep("a")
	step.Endpoint = "not a url"
	if err := ValidateStepConfig(step); err == nil {
		t.Error("expected error for malformed endpoint")
	}
}

func TestValidateStepConfig_RejectsNonHTTPScheme(t *testing.T) {
	step := validStep("a")
	step.Endpoint = "ftp://engine.example.com/prospect"
	if err := ValidateStepConfig(step); err == nil {
		t.Error("expected error for non-http(s) scheme")
	}
}

func TestValidateStepConfig_RejectsUnsupportedMethod(t *testing.T) {
	step := validStep("a")
	step.Method = "TRACE"
	if err := ValidateStepConfig(step); err == nil {
		t.Error("expected error for unsupported HTTP method")
	}
}

func TestValidateStepConfig_RejectsInvalidOnSuccess(t *testing.T) {
	step := validStep("a")
	step.OnSuccess = "explode"
	if err := ValidateStepConfig(step); err == nil {
		t.Error("expected error for invalid onSuccess")
	}
}

func TestValidateStepConfig_RejectsInvalidOnFailure(t *testing.T) {
	step := validStep("a")
	step.OnFailure = "explode"
	if err := ValidateStepConfig(step); err == nil {
		t.Error("expected error for invalid onFailure")
	}
}

func TestValidateScheduleConfig_RejectsInvalidCron(t *testing.T) {
	if err := ValidateScheduleConfig(models.Schedule{Cron: "* * * *"}); err == nil {
		t.Error("expected error for a 4-field cron expression")
	}
}

func TestValidateScheduleConfig_AcceptsValidCron(t *testing.T) {
	if err := ValidateScheduleConfig(models.Schedule{Cron: "*/5 * * * *"}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestValidateScheduleConfig_RejectsInvalidTimezone(t *testing.T) {
	sched := models.Schedule{Cron: "*/5 * * * *", Timezone: "Not/A_Zone"}
	if err := ValidateScheduleConfig(sched); err == nil {
		t.Error("expected error for invalid timezone")
	}
}

func TestValidateScheduleConfig_AcceptsValidTimezone(t *testing.T) {
	sched := models.Schedule{Cron: "*/5 * * * *", Timezone: "America/New_York"}
	if err := ValidateScheduleConfig(sched); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestValidateBudgetConfig_RejectsNegativeCeilings(t *testing.T) {
	negative := -1.0
	if err := ValidateBudgetConfig(models.Budget{Daily: &negative}); err == nil {
		t.Error("expected error for negative daily budget")
	}
}

func TestValidateBudgetConfig_AcceptsNilFields(t *testing.T) {
	if err := ValidateBudgetConfig(models.Budget{}); err != nil {
		t.Errorf("unexpected error for all-nil budget: %v", err)
	}
}

func TestValidateBudgetConfig_RejectsNonFiniteCeilings(t *testing.T) {
	inf := math.Inf(1)
	if err := ValidateBudgetConfig(models.Budget{Monthly: &inf}); err == nil {
		t.Error("expected error for +Inf monthly budget")
	}
	nan := math.NaN()
	if err := ValidateBudgetConfig(models.Budget{PerLead: &nan}); err == nil {
		t.Error("expected error for NaN per-lead budget")
	}
}

func TestValidateRetryConfig_RejectsNegativeAttempts(t *testing.T) {
	if err := ValidateRetryConfig(models.RetryConfig{Attempts: -1}); err == nil {
		t.Error("expected error for negative attempts")
	}
}

func TestValidateRetryConfig_RejectsUnknownBackoff(t *testing.T) {
	if err := ValidateRetryConfig(models.RetryConfig{Backoff: "quadratic"}); err == nil {
		t.Error("expected error for unknown backoff strategy")
	}
}

func TestValidateRetryConfig_AcceptsZeroValue(t *testing.T) {
	if err := ValidateRetryConfig(models.RetryConfig{}); err != nil {
		t.Errorf("unexpected error for zero-value retry config: %v", err)
	}
}

func TestValidateCampaignConfig_IsPure(t *testing.T) {
	cfg := models.CampaignConfig{Steps: []models.Step{validStep("a")}}
	err1 := ValidateCampaignConfig("campaign", cfg)
	err2 := ValidateCampaignConfig("campaign", cfg)
	if (err1 == nil) != (err2 == nil) {
		t.Error("expected ValidateCampaignConfig to be deterministic across repeated calls")
	}
}
