package risk

import (
	"testing"
	"time"

	"officer-vitals/internal/config"
	"officer-vitals/internal/models"
	"officer-vitals/internal/window"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// windowOf builds a window from newest-first values.
func windowOf(values ...float64) window.Window {
	now := time.Now()
	readings := make([]models.Reading, len(values))
	for i, v := range values {
		readings[i] = models.Reading{SubjectID: "officer-1", Value: v, Timestamp: now.Add(-time.Duration(i) * time.Minute)}
	}
	return window.Window{SubjectID: "officer-1", Readings: readings}
}

func score(t *testing.T, s Scorer, w window.Window) models.RiskAssessment {
	t.Helper()
	current, ok := w.Newest()
	require.True(t, ok)
	a, err := s.Score(current, w)
	require.NoError(t, err)
	return a
}

func TestHeuristic_Scenarios(t *testing.T) {
	h := NewHeuristic(config.DefaultEngine())

	t.Run("steady resting window", func(t *testing.T) {
		a := score(t, h, windowOf(75, 76, 74, 73, 75))
		assert.False(t, a.RequiresAlert)
		assert.False(t, a.RequiresPrediction)
		assert.Equal(t, models.SeverityLow, a.Severity)
		assert.Equal(t, models.PatternNormal, a.PatternType)
		assert.InDelta(t, 74.6, a.Window.Avg, 0.01)
		assert.InDelta(t, 29.2, a.StressScore, 0.01)
		assert.Equal(t, models.StressVeryLow, a.StressLevel)
	})

	t.Run("critical high run", func(t *testing.T) {
		a := score(t, h, windowOf(185, 184, 183, 182, 180))
		assert.Equal(t, models.PatternSustainedCriticalHigh, a.PatternType)
		assert.Equal(t, models.SeverityCritical, a.Severity)
		assert.True(t, a.RequiresAlert)
		assert.Equal(t, 0.95, a.AlertProbability)
		assert.Equal(t, 5, a.ConsecutiveHigh)
	})

	t.Run("three readings above 140", func(t *testing.T) {
		a := score(t, h, windowOf(145, 145, 145, 75, 75, 75, 75))
		assert.Equal(t, models.PatternSustainedHigh, a.PatternType)
		assert.Equal(t, models.SeverityHigh, a.Severity)
		assert.True(t, a.RequiresAlert)
		assert.Equal(t, 3, a.ConsecutiveHigh)
	})

	t.Run("single reading padded cold start", func(t *testing.T) {
		store := window.NewStore(10, true)
		w := store.Append(models.Reading{SubjectID: "officer-1", Value: 130, Timestamp: time.Now()})
		require.Equal(t, 10, w.Len())

		a := score(t, h, w)
		assert.Equal(t, models.PatternSustainedElevated, a.PatternType)
		assert.Equal(t, models.SeverityMedium, a.Severity)
		assert.True(t, a.RequiresAlert)
		assert.Equal(t, 10, a.ConsecutiveHigh)
		assert.Equal(t, 100.0, a.StressScore)
	})
}

func TestHeuristic_CriticalOutranksSustained(t *testing.T) {
	h := NewHeuristic(config.DefaultEngine())

	a := score(t, h, windowOf(190, 185, 150, 150, 150))
	assert.Equal(t, models.PatternSustainedCriticalHigh, a.PatternType)
	assert.Equal(t, models.SeverityCritical, a.Severity)

	a = score(t, h, windowOf(35, 38, 45, 45, 45))
	assert.Equal(t, models.PatternSustainedCriticalLow, a.PatternType)
	assert.Equal(t, models.SeverityCritical, a.Severity)
}

func TestHeuristic_PatternTiers(t *testing.T) {
	h := NewHeuristic(config.DefaultEngine())

	tests := []struct {
		name       string
		values     []float64
		pattern    models.PatternType
		severity   models.Severity
		alert      bool
		prediction bool
	}{
		{"sustained low", []float64{45, 45, 45, 70, 70}, models.PatternSustainedLow, models.SeverityHigh, true, true},
		{"sustained reduced", []float64{52, 52, 52, 65, 65}, models.PatternSustainedReduced, models.SeverityMedium, true, true},
		{"emerging high", []float64{125, 125, 75, 75, 75, 75, 75, 75, 75, 75}, models.PatternEmergingHigh, models.SeverityMedium, false, true},
		{"emerging low", []float64{53, 53, 70, 70, 70, 70}, models.PatternEmergingLow, models.SeverityMedium, false, true},
		{"falling trend", []float64{58, 58, 58, 58, 76, 76, 76, 76}, models.PatternFallingTrend, models.SeverityLow, false, true},
		{"normal", []float64{72, 70, 71, 73, 72}, models.PatternNormal, models.SeverityLow, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := score(t, h, windowOf(tt.values...))
			assert.Equal(t, tt.pattern, a.PatternType)
			assert.Equal(t, tt.severity, a.Severity)
			assert.Equal(t, tt.alert, a.RequiresAlert)
			assert.Equal(t, tt.prediction, a.RequiresPrediction)
		})
	}
}

func TestHeuristic_ConfigurableRunLengths(t *testing.T) {
	p := config.DefaultEngine()
	p.Runs.SustainedRun = 4
	p.Runs.EmergingRun = 3
	h := NewHeuristic(p)

	a := score(t, h, windowOf(125, 125, 125, 70, 70, 70, 70, 70, 70, 70))
	assert.Equal(t, models.PatternEmergingHigh, a.PatternType)
	assert.False(t, a.RequiresAlert)
}

func TestHeuristic_InsufficientData(t *testing.T) {
	h := NewHeuristic(config.DefaultEngine())

	a := score(t, h, windowOf(190, 190))
	assert.Equal(t, models.PatternInsufficientData, a.PatternType)
	assert.Equal(t, models.SeverityLow, a.Severity)
	assert.False(t, a.RequiresAlert)
	assert.False(t, a.IsAnomaly)
}

func TestHeuristic_StressOverride(t *testing.T) {
	h := NewHeuristic(config.DefaultEngine())

	a := score(t, h, windowOf(115, 115, 115, 115, 115))
	assert.Equal(t, models.PatternNormal, a.PatternType)
	assert.True(t, a.RequiresAlert)
	assert.True(t, a.RequiresPrediction)
	assert.Equal(t, models.SeverityHigh, a.Severity)

	a = score(t, h, windowOf(97, 97, 97, 97, 97))
	assert.InDelta(t, 74, a.StressScore, 0.01)
	assert.True(t, a.RequiresAlert)
	assert.Equal(t, models.SeverityMedium, a.Severity)
}

func TestHeuristic_AnomalyForcesPrediction(t *testing.T) {
	h := NewHeuristic(config.DefaultEngine())

	a := score(t, h, windowOf(80, 140, 80, 80, 80))
	assert.True(t, a.IsAnomaly)
	assert.Equal(t, 0.8, a.AnomalyScore)
	assert.True(t, a.RequiresPrediction)

	a = score(t, h, windowOf(72, 70, 71, 73, 72))
	assert.False(t, a.IsAnomaly)
	assert.Equal(t, 0.1, a.AnomalyScore)
}

func TestStressScore_BoundedAndIdempotent(t *testing.T) {
	h := NewHeuristic(config.DefaultEngine())
	windows := [][]float64{
		{20, 20, 20},
		{300, 300, 300, 300},
		{40, 290, 35, 280, 60},
		{60, 60, 60},
	}
	for _, values := range windows {
		w := windowOf(values...)
		first := score(t, h, w)
		second := score(t, h, w)
		assert.GreaterOrEqual(t, first.StressScore, 0.0)
		assert.LessOrEqual(t, first.StressScore, 100.0)
		assert.Equal(t, first, second)
	}
}

func TestStressScore_MonotonicInAverage(t *testing.T) {
	p := config.DefaultEngine().Stress
	for _, variability := range []float64{0, 15, 25} {
		prev := -1.0
		for avg := 20.0; avg <= 300; avg += 2.5 {
			s := StressScore(window.Stats{Avg: avg, Variability: variability, Trend: models.TrendStable}, p)
			assert.GreaterOrEqual(t, s, prev, "avg=%v variability=%v", avg, variability)
			prev = s
		}
	}
}

func TestIsRelevant(t *testing.T) {
	assert.False(t, IsRelevant(models.RiskAssessment{}))
	assert.True(t, IsRelevant(models.RiskAssessment{RequiresPrediction: true}))
	assert.True(t, IsRelevant(models.RiskAssessment{RequiresAlert: true}))
	assert.True(t, IsRelevant(models.RiskAssessment{IsAnomaly: true}))
}
