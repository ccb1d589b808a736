package runner

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"leadforge/pkg/budget"
	"leadforge/pkg/dispatcher"
	"leadforge/pkg/models"
	"leadforge/pkg/notifier"
	"leadforge/pkg/storage"
)

type fakeCampaignStore struct {
	storage.CampaignStore
	mu        sync.Mutex
	patches   []map[string]interface{}
	aggCost   float64
	aggCalled bool
}

func (f *fakeCampaignStore) UpdateCampaign(ctx context.Context, id uuid.UUID, patch map[string]interface{}) (*models.Campaign, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.patches = append(f.patches, patch)
	return &models.Campaign{ID: id}, nil
}

func (f *fakeCampaignStore) IncrementAggregates(ctx context.Context, id uuid.UUID, runCost float64, runAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.aggCalled = true
	f.aggCost = runCost
	return nil
}

func (f *fakeCampaignStore) GetSpending(ctx context.Context, campaignID uuid.UUID, start, end time.Time) (float64, error) {
	return 0, nil
}

type fakeRunStore struct {
	storage.RunStore
	mu      sync.Mutex
	created *models.CampaignRun
	patches []map[string]interface{}
}

func (f *fakeRunStore) CreateRun(ctx context.Context, run *models.CampaignRun) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = run
	return nil
}

func (f *fakeRunStore) UpdateRun(ctx context.Context, id uuid.UUID, patch map[string]interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.patches = append(f.patches, patch)
	return nil
}

func newRunner(campaigns *fakeCampaignStore, runs *fakeRunStore) *Runner {
	gate := budget.New(campaigns, nil, nil)
	return New(campaigns, runs, nil, gate, dispatcher.New(), notifier.New(notifier.Config{}), 0)
}

func engineServer(t *testing.T, body map[string]interface{}, status int) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if status != http.StatusOK {
			w.WriteHeader(status)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(body)
	}))
}

func TestRun_AllStepsSucceed(t *testing.T) {
	server := engineServer(t, map[string]interface{}{"cost": 1.5, "found": float64(3)}, http.StatusOK)
	defer server.Close()

	campaigns := &fakeCampaignStore{}
	runs := &fakeRunStore{}
	r := newRunner(campaigns, runs)

	campaign := models.Campaign{
		ID:   uuid.New(),
		Name: "test-campaign",
		Config: models.CampaignConfig{
			Steps: []models.Step{
				{Name: "prospect", Engine: models.EngineProspecting, Endpoint: server.URL, Retry: models.RetryConfig{Attempts: 1, Backoff: models.BackoffConstant}},
			},
		},
	}

	run, err := r.Run(context.Background(), campaign, models.TriggerManual)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if run.Status != models.RunCompleted {
		t.Errorf("expected RunCompleted, got %s", run.Status)
	}
	if run.StepsCompleted != 1 {
		t.Errorf("expected 1 completed step, got %d", run.StepsCompleted)
	}
	if run.TotalCost != 1.5 {
		t.Errorf("expected total cost 1.5, got %v", run.TotalCost)
	}
	if !campaigns.aggCalled {
		t.Error("expected IncrementAggregates to be called on a completed run")
	}
}

func TestRun_StepFailureWithContinuePolicy(t *testing.T) {
	failing := engineServer(t, nil, http.StatusInternalServerError)
	defer failing.Close()
	ok := engineServer(t, map[string]interface{}{"cost": 2.0}, http.StatusOK)
	defer ok.Close()

	campaigns := &fakeCampaignStore{}
	runs := &fakeRunStore{}
	r := newRunner(campaigns, runs)

	campaign := models.Campaign{
		ID:   uuid.New(),
		Name: "continue-on-failure",
		Config: models.CampaignConfig{
			Steps: []models.Step{
				{Name: "prospect", Engine: models.EngineProspecting, Endpoint: failing.URL, OnFailure: models.FailureContinue, Retry: models.RetryConfig{Attempts: 1, Backoff: models.BackoffConstant}},
				{Name: "analyze", Engine: models.EngineAnalysis, Endpoint: ok.URL, Retry: models.RetryConfig{Attempts: 1, Backoff: models.BackoffConstant}},
			},
		},
	}

	run, err := r.Run(context.Background(), campaign, models.TriggerManual)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if run.Status != models.RunPartial {
		t.Errorf("expected RunPartial, got %s", run.Status)
	}
	if run.StepsFailed != 1 || run.StepsCompleted != 1 {
		t.Errorf("expected 1 failed + 1 completed, got failed=%d completed=%d", run.StepsFailed, run.StepsCompleted)
	}
}

func TestRun_StepFailureWithAbortPolicy(t *testing.T) {
	failing := engineServer(t, nil, http.StatusInternalServerError)
	defer failing.Close()

	callsToSecond := 0
	second := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		callsToSecond++
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"cost": 1.0})
	}))
	defer second.Close()

	campaigns := &fakeCampaignStore{}
	runs := &fakeRunStore{}
	r := newRunner(campaigns, runs)

	campaign := models.Campaign{
		ID:   uuid.New(),
		Name: "abort-on-failure",
		Config: models.CampaignConfig{
			Steps: []models.Step{
				{Name: "prospect", Engine: models.EngineProspecting, Endpoint: failing.URL, OnFailure: models.FailureAbort, Retry: models.RetryConfig{Attempts: 1, Backoff: models.BackoffConstant}},
				{Name: "analyze", Engine: models.EngineAnalysis, Endpoint: second.URL, Retry: models.RetryConfig{Attempts: 1, Backoff: models.BackoffConstant}},
			},
		},
	}

	run, err := r.Run(context.Background(), campaign, models.TriggerManual)
	if err == nil {
		t.Fatal("expected a terminal error from the aborted run")
	}
	if run.Status != models.RunFailed {
		t.Errorf("expected RunFailed, got %s", run.Status)
	}
	if callsToSecond != 0 {
		t.Error("expected the second step to never run after an abort")
	}
}

func TestRun_StepFailureWithoutPolicyDefaultsToAbort(t *testing.T) {
	failing := engineServer(t, nil, http.StatusInternalServerError)
	defer failing.Close()

	callsToSecond := 0
	second := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		callsToSecond++
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"cost": 1.0})
	}))
	defer second.Close()

	campaigns := &fakeCampaignStore{}
	runs := &fakeRunStore{}
	r := newRunner(campaigns, runs)

	campaign := models.Campaign{
		ID:   uuid.New(),
		Name: "default-abort",
		Config: models.CampaignConfig{
			Steps: []models.Step{
				{Name: "prospect", Engine: models.EngineProspecting, Endpoint: failing.URL, Retry: models.RetryConfig{Attempts: 1, Backoff: models.BackoffConstant}},
				{Name: "analyze", Engine: models.EngineAnalysis, Endpoint: second.URL, Retry: models.RetryConfig{Attempts: 1, Backoff: models.BackoffConstant}},
			},
		},
	}

	run, err := r.Run(context.Background(), campaign, models.TriggerManual)
	if err == nil {
		t.Fatal("expected a terminal error when onFailure is unspecified")
	}
	if run.Status != models.RunFailed {
		t.Errorf("expected RunFailed, got %s", run.Status)
	}
	if callsToSecond != 0 {
		t.Error("expected the second step to never run after the default abort")
	}
}

func TestRun_BudgetExceededAbortsBeforeAnySteps(t *testing.T) {
	called := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"cost": 1.0})
	}))
	defer server.Close()

	campaigns := &fakeCampaignStore{}
	runs := &fakeRunStore{}
	gate := budget.New(spendingStore{spend: 100}, nil, nil)
	r := New(campaigns, runs, nil, gate, dispatcher.New(), notifier.New(notifier.Config{}), 0)

	limit := 50.0
	campaign := models.Campaign{
		ID:   uuid.New(),
		Name: "over-budget",
		Config: models.CampaignConfig{
			Budget: &models.Budget{Daily: &limit},
			Steps: []models.Step{
				{Name: "prospect", Engine: models.EngineProspecting, Endpoint: server.URL, Retry: models.RetryConfig{Attempts: 1, Backoff: models.BackoffConstant}},
			},
		},
	}

	run, err := r.Run(context.Background(), campaign, models.TriggerManual)
	if err == nil {
		t.Fatal("expected budget-exceeded error")
	}
	runErr, ok := err.(*RunError)
	if !ok || !runErr.BudgetExceeded {
		t.Errorf("expected a BudgetExceeded RunError, got %v", err)
	}
	if run.Status != models.RunAborted {
		t.Errorf("expected RunAborted, got %s", run.Status)
	}
	if called {
		t.Error("expected no steps to dispatch when budget is already exceeded")
	}
}

type spendingStore struct {
	storage.CampaignStore
	spend float64
}

func (s spendingStore) GetSpending(ctx context.Context, campaignID uuid.UUID, start, end time.Time) (float64, error) {
	return s.spend, nil
}

func (s spendingStore) UpdateCampaign(ctx context.Context, id uuid.UUID, patch map[string]interface{}) (*models.Campaign, error) {
	return &models.Campaign{ID: id}, nil
}

func TestMergeProjectID_SetsWhenAbsent(t *testing.T) {
	params := map[string]interface{}{}
	mergeProjectID(params, "proj-123")
	options, ok := params["options"].(map[string]interface{})
	if !ok {
		t.Fatal("expected options map to be created")
	}
	if options["projectId"] != "proj-123" {
		t.Errorf("expected projectId to be set, got %v", options["projectId"])
	}
}

func TestMergeProjectID_DoesNotOverrideExisting(t *testing.T) {
	params := map[string]interface{}{
		"options": map[string]interface{}{"projectId": "explicit"},
	}
	mergeProjectID(params, "proj-123")
	options := params["options"].(map[string]interface{})
	if options["projectId"] != "explicit" {
		t.Errorf("expected explicit projectId to be preserved, got %v", options["projectId"])
	}
}

func TestMergeProjectID_NoOpWithoutProjectID(t *testing.T) {
	params := map[string]interface{}{}
	mergeProjectID(params, "")
	if _, ok := params["options"]; ok {
		t.Error("expected no options key when projectID is empty")
	}
}
