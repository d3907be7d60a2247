package engine

import (
	"sync/atomic"

	"officer-vitals/internal/alerting"
	"officer-vitals/internal/models"
)

type counters struct {
	assessments      atomic.Int64
	relevant         atomic.Int64
	rejected         atomic.Int64
	degraded         atomic.Int64
	anomalies        atomic.Int64
	alertsCreated    atomic.Int64
	alertsMerged     atomic.Int64
	patternsEnded    atomic.Int64
	recsCreated      atomic.Int64
	recsSuppressed   atomic.Int64
	alertsBySeverity [models.SeverityCritical + 1]atomic.Int64
}

func (c *counters) record(res Result) {
	c.assessments.Add(1)
	if res.Relevant {
		c.relevant.Add(1)
	}
	if res.Assessment.Degraded {
		c.degraded.Add(1)
	}
	if res.Assessment.IsAnomaly {
		c.anomalies.Add(1)
	}
	switch res.Alert.Action {
	case alerting.AlertCreated:
		c.alertsCreated.Add(1)
		if s := res.Alert.Alert.Severity; s >= models.SeverityLow && s <= models.SeverityCritical {
			c.alertsBySeverity[s].Add(1)
		}
	case alerting.AlertMerged:
		c.alertsMerged.Add(1)
	}
	c.patternsEnded.Add(int64(len(res.EndedAlerts)))
	if res.Recommendation.Action == alerting.RecommendationCreated {
		c.recsCreated.Add(1)
	}
	if res.Recommendation.Suppressed {
		c.recsSuppressed.Add(1)
	}
}

// Stats is a point-in-time view of the engine counters.
type Stats struct {
	Scorer                    string           `json:"scorer"`
	ActiveSubjects            int              `json:"active_subjects"`
	AlertsInMemory            int              `json:"alerts_in_memory"`
	TotalAssessments          int64            `json:"total_assessments"`
	RelevantAssessments       int64            `json:"relevant_assessments"`
	RejectedReadings          int64            `json:"rejected_readings"`
	DegradedAssessments       int64            `json:"degraded_assessments"`
	AnomaliesDetected         int64            `json:"anomalies_detected"`
	AlertsCreated             int64            `json:"alerts_created"`
	AlertsBySeverity          map[string]int64 `json:"alerts_by_severity"`
	AlertsMerged              int64            `json:"alerts_merged"`
	PatternsEnded             int64            `json:"patterns_ended"`
	RecommendationsCreated    int64            `json:"recommendations_created"`
	RecommendationsSuppressed int64            `json:"recommendations_suppressed"`
	AlertRate                 float64          `json:"alert_rate"`
	CriticalRate              float64          `json:"critical_rate"`
}

func (e *Engine) Stats() Stats {
	c := &e.stats
	s := Stats{
		Scorer:                    e.scorer.Name(),
		ActiveSubjects:            e.windows.Len(),
		AlertsInMemory:            e.alertStore.Len(),
		TotalAssessments:          c.assessments.Load(),
		RelevantAssessments:       c.relevant.Load(),
		RejectedReadings:          c.rejected.Load(),
		DegradedAssessments:       c.degraded.Load(),
		AnomaliesDetected:         c.anomalies.Load(),
		AlertsCreated:             c.alertsCreated.Load(),
		AlertsBySeverity:          make(map[string]int64, len(c.alertsBySeverity)),
		AlertsMerged:              c.alertsMerged.Load(),
		PatternsEnded:             c.patternsEnded.Load(),
		RecommendationsCreated:    c.recsCreated.Load(),
		RecommendationsSuppressed: c.recsSuppressed.Load(),
	}
	for sev := models.SeverityLow; sev <= models.SeverityCritical; sev++ {
		s.AlertsBySeverity[sev.String()] = c.alertsBySeverity[sev].Load()
	}
	if s.TotalAssessments > 0 {
		total := float64(s.TotalAssessments)
		s.AlertRate = float64(s.AlertsCreated) / total
		s.CriticalRate = float64(s.AlertsBySeverity[models.SeverityCritical.String()]) / total
	}
	return s
}
