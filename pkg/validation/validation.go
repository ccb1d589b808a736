// Package validation enforces the input rules for campaign
// configuration at the API boundary and before scheduling.
package validation

import (
	"fmt"
	"math"
	"net/url"

	"github.com/robfig/cron/v3"

	"leadforge/pkg/models"
)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// FieldError carries the offending field name and a human-readable
// message; the API maps it to a 400 response.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

var validEngines = map[models.Engine]bool{
	models.EngineProspecting: true,
	models.EngineAnalysis:    true,
	models.EngineOutreach:    true,
	models.EngineSender:      true,
}

var validMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "PATCH": true, "DELETE": true,
}

var validBackoff = map[models.BackoffStrategy]bool{
	models.BackoffExponential: true,
	models.BackoffLinear:      true,
	models.BackoffConstant:    true,
}

// ValidateCampaignConfig checks name, steps, and the nested schedule
// and budget sections.
func ValidateCampaignConfig(name string, cfg models.CampaignConfig) error {
	if name == "" {
		return &FieldError{Field: "name", Message: "name is required"}
	}
	if len(cfg.Steps) == 0 {
		return &FieldError{Field: "steps", Message: "steps must be a non-empty ordered list"}
	}

	seen := map[string]bool{}
	for i, step := range cfg.Steps {
		if seen[step.Name] {
			return &FieldError{Field: fmt.Sprintf("steps[%d].name", i), Message: "step names must be unique within a campaign"}
		}
		seen[step.Name] = true
		if err := ValidateStepConfig(step); err != nil {
			return err
		}
	}

	if cfg.Schedule != nil {
		if err := ValidateScheduleConfig(*cfg.Schedule); err != nil {
			return err
		}
	}
	if cfg.Budget != nil {
		if err := ValidateBudgetConfig(*cfg.Budget); err != nil {
			return err
		}
	}

	return nil
}

// ValidateStepConfig checks one step's shape.
func ValidateStepConfig(step models.Step) error {
	if step.Name == "" {
		return &FieldError{Field: "step.name", Message: "step name is required"}
	}
	if !validEngines[step.Engine] {
		return &FieldError{Field: "step.engine", Message: fmt.Sprintf("unknown engine %q", step.Engine)}
	}

	parsed, err := url.ParseRequestURI(step.Endpoint)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return &FieldError{Field: "step.endpoint", Message: "endpoint must be a well-formed http(s) URL"}
	}

	if step.Method != "" && !validMethods[step.Method] {
		return &FieldError{Field: "step.method", Message: fmt.Sprintf("unsupported HTTP method %q", step.Method)}
	}

	if step.OnSuccess != "" && step.OnSuccess != models.SuccessContinue && step.OnSuccess != models.SuccessAbort {
		return &FieldError{Field: "step.onSuccess", Message: "must be continue or abort"}
	}
	if step.OnFailure != "" && step.OnFailure != models.FailureAbort && step.OnFailure != models.FailureContinue && step.OnFailure != models.FailureLog {
		return &FieldError{Field: "step.onFailure", Message: "must be abort, continue, or log"}
	}

	return ValidateRetryConfig(step.Retry)
}

// ValidateScheduleConfig checks the cron grammar is valid.
func ValidateScheduleConfig(sched models.Schedule) error {
	if _, err := cronParser.Parse(sched.Cron); err != nil {
		return &FieldError{Field: "schedule.cron", Message: fmt.Sprintf("invalid cron expression: %v", err)}
	}
	if sched.Timezone != "" {
		if _, err := loadLocation(sched.Timezone); err != nil {
			return &FieldError{Field: "schedule.timezone", Message: fmt.Sprintf("invalid timezone: %v", err)}
		}
	}
	return nil
}

// ValidateBudgetConfig checks each present ceiling is finite and
// non-negative.
func ValidateBudgetConfig(b models.Budget) error {
	for field, v := range map[string]*float64{
		"budget.daily":   b.Daily,
		"budget.weekly":  b.Weekly,
		"budget.monthly": b.Monthly,
		"budget.perLead": b.PerLead,
	} {
		if v == nil {
			continue
		}
		if math.IsNaN(*v) || math.IsInf(*v, 0) {
			return &FieldError{Field: field, Message: "must be a finite number"}
		}
		if *v < 0 {
			return &FieldError{Field: field, Message: "must be a non-negative number"}
		}
	}
	return nil
}

// ValidateRetryConfig checks attempts, delay, and backoff strategy.
func ValidateRetryConfig(r models.RetryConfig) error {
	if r.Attempts < 0 {
		return &FieldError{Field: "retry.attempts", Message: "must be a non-negative integer"}
	}
	if r.InitialDelayMs < 0 {
		return &FieldError{Field: "retry.initial_delay_ms", Message: "must be non-negative"}
	}
	if r.Backoff != "" && !validBackoff[r.Backoff] {
		return &FieldError{Field: "retry.backoff", Message: "must be exponential, linear, or constant"}
	}
	return nil
}
