// Package risk scores a heart-rate window into a RiskAssessment.
//
// Two strategies implement Scorer: Heuristic, the hand-built sustained-pattern
// classifier, and Model, which feeds a fixed feature vector to externally trained
// classifiers. Failover wraps a primary strategy and falls back to another when
// the primary is unavailable.
package risk

import (
	"errors"

	"officer-vitals/internal/models"
	"officer-vitals/internal/window"
)

// ErrScorerUnavailable is returned when a strategy cannot load or execute.
var ErrScorerUnavailable = errors.New("risk scorer unavailable")

type Scorer interface {
	Name() string
	// Score assesses current against w; w must already contain current as its newest reading.
	Score(current models.Reading, w window.Window) (models.RiskAssessment, error)
}

// IsRelevant reports whether an assessment is worth persisting.
func IsRelevant(a models.RiskAssessment) bool {
	return a.RequiresPrediction || a.RequiresAlert || a.IsAnomaly
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func baseAssessment(current models.Reading, st window.Stats, scorer string) models.RiskAssessment {
	return models.RiskAssessment{
		SubjectID:   current.SubjectID,
		HeartRate:   current.Value,
		Timestamp:   current.Timestamp,
		Severity:    models.SeverityLow,
		PatternType: models.PatternNormal,
		Trend:       st.Trend,
		HRZone:      models.HRZoneFor(current.Value),
		Window:      st.Summary(),
		Scorer:      scorer,
	}
}
