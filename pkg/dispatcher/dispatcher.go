// Package dispatcher issues the HTTP call for a single campaign step
// against its engine endpoint and normalizes the heterogeneous
// response into a StepResult.
package dispatcher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"leadforge/pkg/metrics"
	"leadforge/pkg/models"
	"leadforge/pkg/resilience"
	"leadforge/pkg/retry"
)

var tracer = otel.Tracer("leadforge/dispatcher")

// defaultTimeout returns the per-engine default step timeout when a
// step omits timeout_ms.
func defaultTimeout(engine models.Engine) time.Duration {
	switch engine {
	case models.EngineAnalysis, models.EngineSender:
		return 10 * time.Minute
	default:
		return 5 * time.Minute
	}
}

func pollInterval(engine models.Engine) time.Duration {
	if engine == models.EngineProspecting {
		return 5 * time.Second
	}
	return 10 * time.Second
}

func pollBound(engine models.Engine) time.Duration {
	switch engine {
	case models.EngineProspecting:
		return 10 * time.Minute
	case models.EngineAnalysis, models.EngineOutreach:
		return 15 * time.Minute
	default:
		return 20 * time.Minute
	}
}

// EngineError wraps a non-2xx engine response; it implements
// retry.ClassifiedError so the Retry Executor can classify it.
type EngineError struct {
	Status int
	Body   string
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("engine returned status %d: %s", e.Status, e.Body)
}

func (e *EngineError) StatusCode() int { return e.Status }

// TimeoutError marks an async poll that hit its wall-time bound,
// distinct from an engine-reported failure.
type TimeoutError struct {
	JobID string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("engine job %s did not complete within the poll wall-time bound", e.JobID)
}

// Dispatcher is the Step Dispatcher (C5). It holds one circuit
// breaker per distinct engine endpoint.
type Dispatcher struct {
	client   *http.Client
	breakers *resilience.BreakerRegistry
}

// New constructs a Dispatcher.
func New() *Dispatcher {
	return &Dispatcher{
		client:   &http.Client{},
		breakers: resilience.NewBreakerRegistry(resilience.DefaultCircuitBreakerConfig()),
	}
}

// asyncEnvelope is the recognized async-mode shape.
type asyncEnvelope struct {
	Status   string `json:"status"`
	JobID    string `json:"jobId"`
	Progress float64 `json:"progress"`
	Error    string `json:"error"`
}

// Dispatch calls the step's engine, wrapped in the step's retry
// policy and a per-endpoint circuit breaker, and returns a normalized
// StepResult.
func (d *Dispatcher) Dispatch(ctx context.Context, step models.Step) (models.StepResult, error) {
	ctx, span := tracer.Start(ctx, "dispatcher.dispatch", trace.WithAttributes(
		attribute.String("step.name", step.Name),
		attribute.String("step.engine", string(step.Engine)),
	))
	defer span.End()

	timeout := time.Duration(step.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = defaultTimeout(step.Engine)
	}

	breaker := d.breakers.For(step.Endpoint)

	var result models.StepResult
	attempt := 0
	err := retry.Do(ctx, step.Name, step.Retry, func(ctx context.Context) error {
		attempt++
		if attempt > 1 {
			metrics.RetriesTotal.WithLabelValues(string(step.Engine)).Inc()
		}

		callCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		return breaker.Execute(callCtx, func() error {
			envelope, err := d.call(callCtx, step)
			if err != nil {
				return err
			}

			if raw, ok := envelope["status"]; ok {
				if status, ok := raw.(string); ok && (status == "running" || status == "completed" || status == "failed") {
					envelope, err = d.poll(ctx, step, envelope)
					if err != nil {
						return err
					}
				}
			}

			result = normalize(step.Engine, envelope)
			return nil
		})
	})
	if err != nil {
		span.RecordError(err)
		return models.StepResult{}, err
	}

	return result, nil
}

// call issues the single HTTP request and decodes the JSON envelope.
func (d *Dispatcher) call(ctx context.Context, step models.Step) (map[string]interface{}, error) {
	method := step.Method
	if method == "" {
		method = http.MethodPost
	}

	body, err := json.Marshal(step.Params)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal step params: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, step.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		truncated := respBody
		if len(truncated) > 512 {
			truncated = truncated[:512]
		}
		return nil, &EngineError{Status: resp.StatusCode, Body: string(truncated)}
	}

	var envelope map[string]interface{}
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return nil, fmt.Errorf("failed to decode engine response: %w", err)
	}
	return envelope, nil
}

// poll handles the async `{status:'running', jobId}` shape by polling
// endpoint/{jobId} until a terminal status or the wall-time bound.
func (d *Dispatcher) poll(ctx context.Context, step models.Step, initial map[string]interface{}) (map[string]interface{}, error) {
	var env asyncEnvelope
	raw, _ := json.Marshal(initial)
	_ = json.Unmarshal(raw, &env)

	if env.Status == "completed" {
		return initial, nil
	}
	if env.Status == "failed" {
		return nil, fmt.Errorf("engine job %s failed: %s", env.JobID, env.Error)
	}

	deadline := time.Now().Add(pollBound(step.Engine))
	interval := pollInterval(step.Engine)
	url := fmt.Sprintf("%s/%s", step.Endpoint, env.JobID)

	for {
		if time.Now().After(deadline) {
			return nil, &TimeoutError{JobID: env.JobID}
		}

		select {
		case <-time.After(interval):
		case <-ctx.Done():
			return nil, ctx.Err()
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}

		resp, err := d.client.Do(req)
		if err != nil {
			return nil, err
		}
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, &EngineError{Status: resp.StatusCode, Body: string(body)}
		}

		var envelope map[string]interface{}
		if err := json.Unmarshal(body, &envelope); err != nil {
			return nil, fmt.Errorf("failed to decode poll response: %w", err)
		}

		var polled asyncEnvelope
		_ = json.Unmarshal(body, &polled)

		switch polled.Status {
		case "completed":
			return envelope, nil
		case "failed":
			return nil, fmt.Errorf("engine job %s failed: %s", polled.JobID, polled.Error)
		}
	}
}
