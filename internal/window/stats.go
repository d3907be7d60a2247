package window

import (
	"math"

	"officer-vitals/internal/config"
	"officer-vitals/internal/models"
)

// Stats are the derived features of a window.
type Stats struct {
	Count       int
	Avg         float64
	Max         float64
	Min         float64
	Variability float64 // sample standard deviation
	Trend       models.Trend
}

// Summary converts stats into the rounded snapshot carried on an assessment.
func (s Stats) Summary() models.WindowSummary {
	return models.WindowSummary{
		Size:        s.Count,
		Avg:         round1(s.Avg),
		Max:         s.Max,
		Min:         s.Min,
		Variability: math.Round(s.Variability*100) / 100,
	}
}

// Compute derives avg/max/min/variability/trend from newest-first values.
func Compute(values []float64, p config.TrendParams) Stats {
	if len(values) == 0 {
		return Stats{Trend: models.TrendStable}
	}

	st := Stats{
		Count: len(values),
		Avg:   Mean(values),
		Max:   values[0],
		Min:   values[0],
		Trend: models.TrendStable,
	}
	for _, v := range values[1:] {
		st.Max = math.Max(st.Max, v)
		st.Min = math.Min(st.Min, v)
	}
	st.Variability = StdDev(values)

	if recent, older, ok := Halves(values, p.MinReadings); ok {
		diff := recent - older
		switch {
		case diff > p.Delta:
			st.Trend = models.TrendRising
		case diff < -p.Delta:
			st.Trend = models.TrendFalling
		}
	}
	return st
}

// Halves splits newest-first values by count and returns the average of the
// most recent half and of the older half. ok is false below minReadings.
func Halves(values []float64, minReadings int) (recent, older float64, ok bool) {
	if len(values) < minReadings || len(values) < 2 {
		return 0, 0, false
	}
	mid := len(values) / 2
	return Mean(values[:mid]), Mean(values[mid:]), true
}

func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// StdDev is the sample standard deviation; zero below two values.
func StdDev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	mean := Mean(values)
	var variance float64
	for _, v := range values {
		diff := v - mean
		variance += diff * diff
	}
	return math.Sqrt(variance / float64(len(values)-1))
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
