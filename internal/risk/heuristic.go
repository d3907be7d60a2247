package risk

import (
	"fmt"
	"math"

	"officer-vitals/internal/config"
	"officer-vitals/internal/models"
	"officer-vitals/internal/window"
)

const HeuristicName = "heuristic"

// Confidence reported as alert_probability for each pattern tier.
const (
	confidenceCritical  = 0.95
	confidenceSustained = 0.85
	confidenceMedium    = 0.75
	confidenceEmerging  = 0.6
	confidenceTrend     = 0.4
	confidenceNormal    = 0.1
)

// Heuristic classifies sustained, emerging and trend patterns from run lengths.
type Heuristic struct {
	p config.Engine
}

func NewHeuristic(p config.Engine) *Heuristic {
	return &Heuristic{p: p}
}

func (h *Heuristic) Name() string {
	return HeuristicName
}

// Runs are the unbroken run lengths counted from the newest reading.
type Runs struct {
	CriticalHigh int
	CriticalLow  int
	High         int
	Low          int
	Elevated     int
	Reduced      int
}

// CountRuns scans newest-first values, stopping each count at its first break.
func CountRuns(values []float64, p config.RunParams) Runs {
	return Runs{
		CriticalHigh: runLength(values, func(v float64) bool { return v > p.CriticalHigh }),
		CriticalLow:  runLength(values, func(v float64) bool { return v < p.CriticalLow }),
		High:         runLength(values, func(v float64) bool { return v > p.High }),
		Low:          runLength(values, func(v float64) bool { return v < p.Low }),
		Elevated:     runLength(values, func(v float64) bool { return v > p.Elevated }),
		Reduced:      runLength(values, func(v float64) bool { return v < p.Reduced }),
	}
}

func runLength(values []float64, cond func(float64) bool) int {
	n := 0
	for _, v := range values {
		if !cond(v) {
			break
		}
		n++
	}
	return n
}

// StressScore maps window statistics onto [0, 100].
func StressScore(st window.Stats, p config.StressParams) float64 {
	score := clamp((st.Avg-p.BaselineHR)*p.Multiplier, 0, 100)
	if st.Variability > p.VariabilityAbove {
		score = math.Min(100, score+p.VariabilityBoost)
	}
	return score
}

type patternResult struct {
	pattern            models.PatternType
	severity           models.Severity
	confidence         float64
	requiresAlert      bool
	requiresPrediction bool
	message            string
}

func (h *Heuristic) Score(current models.Reading, w window.Window) (models.RiskAssessment, error) {
	values := w.Values()
	st := window.Compute(values, h.p.Trend)

	a := baseAssessment(current, st, HeuristicName)
	a.StressScore = StressScore(st, h.p.Stress)
	a.StressLevel = models.StressLevelFor(a.StressScore)

	if len(values) < h.p.Window.MinReadings {
		a.PatternType = models.PatternInsufficientData
		a.AlertProbability = confidenceNormal
		a.AnomalyScore = 0.1
		return a, nil
	}

	runs := CountRuns(values, h.p.Runs)
	res := h.classify(runs, values)

	a.PatternType = res.pattern
	a.Severity = res.severity
	a.AlertProbability = res.confidence
	a.RequiresAlert = res.requiresAlert
	a.RequiresPrediction = res.requiresPrediction
	a.RiskMessage = res.message
	a.ConsecutiveHigh = maxInt(runs.High, runs.CriticalHigh, runs.Elevated)
	a.ConsecutiveLow = maxInt(runs.Low, runs.CriticalLow, runs.Reduced)

	if a.StressScore >= h.p.Stress.AlertScore && !a.RequiresAlert {
		a.RequiresAlert = true
		a.RequiresPrediction = true
		if a.StressScore >= h.p.Stress.HighScore {
			a.Severity = models.SeverityHigh
		} else if a.Severity == models.SeverityLow {
			a.Severity = models.SeverityMedium
		}
	}

	a.IsAnomaly = h.isAnomaly(values, st)
	a.AnomalyScore = 0.1
	if a.IsAnomaly {
		a.AnomalyScore = 0.8
		a.RequiresPrediction = true
	}
	return a, nil
}

// classify resolves the first matching pattern in priority order.
func (h *Heuristic) classify(runs Runs, values []float64) patternResult {
	rp := h.p.Runs
	switch {
	case runs.CriticalHigh >= rp.CriticalRun:
		return patternResult{models.PatternSustainedCriticalHigh, models.SeverityCritical, confidenceCritical, true, true,
			fmt.Sprintf("CRITICAL: %d consecutive readings above %.0f bpm. Severe cardiac risk.", runs.CriticalHigh, rp.CriticalHigh)}
	case runs.CriticalLow >= rp.CriticalRun:
		return patternResult{models.PatternSustainedCriticalLow, models.SeverityCritical, confidenceCritical, true, true,
			fmt.Sprintf("CRITICAL: %d consecutive readings below %.0f bpm. Severe bradycardia risk.", runs.CriticalLow, rp.CriticalLow)}
	case runs.High >= rp.SustainedRun:
		return patternResult{models.PatternSustainedHigh, models.SeverityHigh, confidenceSustained, true, true,
			fmt.Sprintf("Sustained pattern: %d readings above %.0f bpm. Stress confirmed.", runs.High, rp.High)}
	case runs.Low >= rp.SustainedRun:
		return patternResult{models.PatternSustainedLow, models.SeverityHigh, confidenceSustained, true, true,
			fmt.Sprintf("Sustained pattern: %d readings below %.0f bpm. Bradycardia confirmed.", runs.Low, rp.Low)}
	case runs.Elevated >= rp.SustainedRun:
		return patternResult{models.PatternSustainedElevated, models.SeverityMedium, confidenceMedium, true, true,
			fmt.Sprintf("Sustained elevated pattern: %d readings above %.0f bpm. Stress risk.", runs.Elevated, rp.Elevated)}
	case runs.Reduced >= rp.SustainedRun:
		return patternResult{models.PatternSustainedReduced, models.SeverityMedium, confidenceMedium, true, true,
			fmt.Sprintf("Sustained reduced pattern: %d readings below %.0f bpm. Bradycardia risk.", runs.Reduced, rp.Reduced)}
	case runs.Elevated >= rp.EmergingRun && runs.Elevated < rp.SustainedRun:
		return patternResult{models.PatternEmergingHigh, models.SeverityMedium, confidenceEmerging, false, true,
			fmt.Sprintf("Emerging risk: %d readings above %.0f bpm. May develop into stress if it continues.", runs.Elevated, rp.Elevated)}
	case runs.Reduced >= rp.EmergingRun && runs.Reduced < rp.SustainedRun:
		return patternResult{models.PatternEmergingLow, models.SeverityMedium, confidenceEmerging, false, true,
			fmt.Sprintf("Emerging risk: %d readings below %.0f bpm. Monitor for bradycardia.", runs.Reduced, rp.Reduced)}
	}

	if res, ok := h.concerningTrend(values); ok {
		return res
	}
	return patternResult{models.PatternNormal, models.SeverityLow, confidenceNormal, false, false, ""}
}

// concerningTrend is stricter than Stats.Trend so trend-only predictions stay rarer
// than sustained-run alerts.
func (h *Heuristic) concerningTrend(values []float64) (patternResult, bool) {
	tp := h.p.Trend
	recent, older, ok := window.Halves(values, tp.MinReadings)
	if !ok {
		return patternResult{}, false
	}
	diff := recent - older
	switch {
	case diff > tp.ConcernDelta && recent > tp.ConcernHighAvg:
		return patternResult{models.PatternRisingTrend, models.SeverityLow, confidenceTrend, false, true,
			fmt.Sprintf("Rising trend: average heart rate up from %.0f to %.0f bpm.", older, recent)}, true
	case diff < -tp.ConcernDelta && recent < tp.ConcernLowAvg:
		return patternResult{models.PatternFallingTrend, models.SeverityLow, confidenceTrend, false, true,
			fmt.Sprintf("Falling trend: average heart rate down from %.0f to %.0f bpm.", older, recent)}, true
	}
	return patternResult{}, false
}

func (h *Heuristic) isAnomaly(values []float64, st window.Stats) bool {
	if st.Variability > h.p.Anomaly.Variability {
		return true
	}
	for i := 0; i+1 < len(values); i++ {
		if math.Abs(values[i]-values[i+1]) > h.p.Anomaly.Jump {
			return true
		}
	}
	return false
}

func maxInt(first int, rest ...int) int {
	m := first
	for _, v := range rest {
		if v > m {
			m = v
		}
	}
	return m
}
