package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// CampaignStatus represents the lifecycle state of a campaign.
type CampaignStatus string

const (
	CampaignActive   CampaignStatus = "active"
	CampaignPaused   CampaignStatus = "paused"
	CampaignArchived CampaignStatus = "archived"
)

// Engine identifies which remote worker service a step talks to.
type Engine string

const (
	EngineProspecting Engine = "prospecting"
	EngineAnalysis    Engine = "analysis"
	EngineOutreach    Engine = "outreach"
	EngineSender      Engine = "sender"
)

// FailureAction is the step-level policy applied when a step fails.
type FailureAction string

const (
	FailureAbort    FailureAction = "abort"
	FailureContinue FailureAction = "continue"
	FailureLog      FailureAction = "log"
)

// SuccessAction is the step-level policy applied when a step succeeds.
type SuccessAction string

const (
	SuccessContinue SuccessAction = "continue"
	SuccessAbort    SuccessAction = "abort"
)

// BackoffStrategy is the shape of the wait schedule between retry attempts.
type BackoffStrategy string

const (
	BackoffExponential BackoffStrategy = "exponential"
	BackoffLinear      BackoffStrategy = "linear"
	BackoffConstant    BackoffStrategy = "constant"
)

// RetryConfig controls how the Retry Executor wraps a step's dispatch.
type RetryConfig struct {
	Attempts        int             `json:"attempts"`
	InitialDelayMs  int             `json:"initial_delay_ms"`
	Backoff         BackoffStrategy `json:"backoff"`
}

// Step is one ordered unit of work within a campaign's pipeline.
type Step struct {
	Name       string                 `json:"name"`
	Engine     Engine                 `json:"engine"`
	Endpoint   string                 `json:"endpoint"`
	Method     string                 `json:"method,omitempty"`
	Params     map[string]interface{} `json:"params,omitempty"`
	TimeoutMs  int                    `json:"timeout_ms,omitempty"`
	Retry      RetryConfig            `json:"retry"`
	OnSuccess  SuccessAction          `json:"onSuccess,omitempty"`
	OnFailure  FailureAction          `json:"onFailure,omitempty"`
}

// FailurePolicy returns the step's failure action, defaulting an
// unspecified onFailure to abort.
func (s Step) FailurePolicy() FailureAction {
	if s.OnFailure == "" {
		return FailureAbort
	}
	return s.OnFailure
}

// Schedule is the cron trigger attached to a campaign.
type Schedule struct {
	Cron     string `json:"cron"`
	Timezone string `json:"timezone,omitempty"`
	Enabled  bool   `json:"enabled"`
}

// Budget holds optional spend ceilings, all in a single currency.
type Budget struct {
	Daily   *float64 `json:"daily,omitempty"`
	Weekly  *float64 `json:"weekly,omitempty"`
	Monthly *float64 `json:"monthly,omitempty"`
	PerLead *float64 `json:"perLead,omitempty"`
}

// NotificationTarget names an email recipient for a terminal-state hook.
type NotificationTarget struct {
	Email string `json:"email,omitempty"`
}

// Notifications configures who hears about a campaign run's outcome.
type Notifications struct {
	OnComplete NotificationTarget `json:"onComplete,omitempty"`
	OnFailure  NotificationTarget `json:"onFailure,omitempty"`
}

// CampaignConfig is the structured definition a campaign is built from.
type CampaignConfig struct {
	Steps         []Step         `json:"steps"`
	Schedule      *Schedule      `json:"schedule,omitempty"`
	Budget        *Budget        `json:"budget,omitempty"`
	Notifications *Notifications `json:"notifications,omitempty"`
}

// Scan implements sql.Scanner so CampaignConfig can live in a jsonb column.
func (c *CampaignConfig) Scan(value interface{}) error {
	bytes, ok := value.([]byte)
	if !ok {
		if value == nil {
			return nil
		}
		return errors.New("type assertion to []byte failed for campaign config")
	}
	return json.Unmarshal(bytes, c)
}

// Value implements driver.Valuer so CampaignConfig can live in a jsonb column.
func (c CampaignConfig) Value() (driver.Value, error) {
	return json.Marshal(c)
}

// Campaign is the persisted pipeline definition the orchestrator drives.
type Campaign struct {
	ID          uuid.UUID      `json:"id" gorm:"type:uuid;primaryKey"`
	Name        string         `json:"name" gorm:"not null"`
	Description string         `json:"description"`
	ProjectID   string         `json:"project_id" gorm:"index"`
	Status      CampaignStatus `json:"status" gorm:"type:varchar(20);default:'active'"`
	Config      CampaignConfig `json:"config" gorm:"type:jsonb;not null"`

	LastRunAt  *time.Time `json:"last_run_at"`
	NextRunAt  *time.Time `json:"next_run_at" gorm:"index"`
	TotalRuns  int64      `json:"total_runs" gorm:"default:0"`
	TotalCost  float64    `json:"total_cost" gorm:"default:0"`

	// Runs declares the association so AutoMigrate emits the cascading
	// foreign key; run history is only ever read through RunStore.
	Runs []CampaignRun `json:"-" gorm:"foreignKey:CampaignID;constraint:OnDelete:CASCADE"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (c *Campaign) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.Status == "" {
		c.Status = CampaignActive
	}
	return nil
}

// RunStatus is the state machine position of a CampaignRun.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunPartial   RunStatus = "partial"
	RunFailed    RunStatus = "failed"
	RunAborted   RunStatus = "aborted"
)

// TriggerType records whether a run was fired by the scheduler or an operator.
type TriggerType string

const (
	TriggerScheduled TriggerType = "scheduled"
	TriggerManual    TriggerType = "manual"
)

// StepResult is the normalized outcome of dispatching a single step.
type StepResult struct {
	Success bool                   `json:"success"`
	Metrics map[string]interface{} `json:"metrics,omitempty"`
	Cost    float64                `json:"cost"`
	TimeMs  int64                  `json:"time_ms"`
	Raw     json.RawMessage        `json:"raw_result,omitempty"`
	// ArchiveURI is set instead of Raw when the payload was offloaded
	// to blob storage for being over the archival size threshold.
	ArchiveURI string `json:"archive_uri,omitempty"`
}

// StepResults maps step name to its normalized outcome; it's the
// run's "results" jsonb column.
type StepResults map[string]StepResult

func (r *StepResults) Scan(value interface{}) error {
	bytes, ok := value.([]byte)
	if !ok {
		if value == nil {
			*r = StepResults{}
			return nil
		}
		return errors.New("type assertion to []byte failed for step results")
	}
	if len(bytes) == 0 {
		*r = StepResults{}
		return nil
	}
	return json.Unmarshal(bytes, r)
}

func (r StepResults) Value() (driver.Value, error) {
	if r == nil {
		return json.Marshal(StepResults{})
	}
	return json.Marshal(r)
}

// RunError records one step-level failure for a run's error log.
type RunError struct {
	Step      string    `json:"step"`
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

// RunErrors is the run's "errors" jsonb column.
type RunErrors []RunError

func (e *RunErrors) Scan(value interface{}) error {
	bytes, ok := value.([]byte)
	if !ok {
		if value == nil {
			*e = RunErrors{}
			return nil
		}
		return errors.New("type assertion to []byte failed for run errors")
	}
	if len(bytes) == 0 {
		*e = RunErrors{}
		return nil
	}
	return json.Unmarshal(bytes, e)
}

func (e RunErrors) Value() (driver.Value, error) {
	if e == nil {
		return json.Marshal(RunErrors{})
	}
	return json.Marshal(e)
}

// CampaignRun is one persisted execution of a campaign.
type CampaignRun struct {
	ID         uuid.UUID   `json:"id" gorm:"type:uuid;primaryKey"`
	CampaignID uuid.UUID   `json:"campaign_id" gorm:"type:uuid;not null;index"`
	Status     RunStatus   `json:"status" gorm:"type:varchar(20);default:'running'"`
	Trigger    TriggerType `json:"trigger_type" gorm:"type:varchar(20);not null"`

	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at"`

	StepsCompleted int         `json:"steps_completed"`
	StepsFailed    int         `json:"steps_failed"`
	TotalCost      float64     `json:"total_cost"`
	Results        StepResults `json:"results" gorm:"type:jsonb"`
	Errors         RunErrors   `json:"errors" gorm:"type:jsonb"`

	CreatedAt time.Time `json:"created_at"`
}

func (r *CampaignRun) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.Results == nil {
		r.Results = StepResults{}
	}
	if r.Errors == nil {
		r.Errors = RunErrors{}
	}
	return nil
}

// IsTerminal reports whether status is a terminal run state.
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunCompleted, RunPartial, RunFailed, RunAborted:
		return true
	default:
		return false
	}
}
