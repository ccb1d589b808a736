package dispatcher

import (
	"encoding/json"

	"leadforge/pkg/cost"
	"leadforge/pkg/models"
)

// normalize maps a raw engine envelope to the per-engine-kind
// normalized StepResult. Engines emit several key variants for the
// same counter (found/count, sent/count); missing counters default
// to 0.
func normalize(engine models.Engine, envelope map[string]interface{}) models.StepResult {
	raw, _ := json.Marshal(envelope)

	metrics := map[string]interface{}{}
	switch engine {
	case models.EngineProspecting:
		metrics["prospects_generated"] = firstInt(envelope, "prospects_generated", "found", "count")
		metrics["prospects_verified"] = firstInt(envelope, "prospects_verified", "verified")
	case models.EngineAnalysis:
		metrics["leads_analyzed"] = firstInt(envelope, "leads_analyzed", "analyzed", "count")
		metrics["leads_updated"] = firstInt(envelope, "leads_updated", "updated")
		metrics["grade_a"] = firstInt(envelope, "grade_a", "gradeA")
		metrics["grade_b"] = firstInt(envelope, "grade_b", "gradeB")
		metrics["grade_c"] = firstInt(envelope, "grade_c", "gradeC")
	case models.EngineOutreach:
		metrics["emails_composed"] = firstInt(envelope, "emails_composed", "composed", "count")
		metrics["emails_ready"] = firstInt(envelope, "emails_ready", "ready")
		metrics["avg_quality_score"] = firstFloat(envelope, "avg_quality_score", "avgQualityScore")
	case models.EngineSender:
		metrics["emails_sent"] = firstInt(envelope, "emails_sent", "sent", "count")
		metrics["emails_failed"] = firstInt(envelope, "emails_failed", "failed")
		metrics["emails_queued"] = firstInt(envelope, "emails_queued", "queued")
	}

	timeMs := firstInt(envelope, "time_ms", "timeMs", "duration_ms")

	return models.StepResult{
		Success: true,
		Metrics: metrics,
		Cost:    cost.Extract(envelope),
		TimeMs:  int64(timeMs),
		Raw:     json.RawMessage(raw),
	}
}

func firstInt(envelope map[string]interface{}, keys ...string) int {
	for _, k := range keys {
		if v, ok := envelope[k]; ok {
			switch n := v.(type) {
			case float64:
				return int(n)
			case int:
				return n
			}
		}
	}
	return 0
}

func firstFloat(envelope map[string]interface{}, keys ...string) float64 {
	for _, k := range keys {
		if v, ok := envelope[k]; ok {
			if f, ok := v.(float64); ok {
				return f
			}
		}
	}
	return 0
}
