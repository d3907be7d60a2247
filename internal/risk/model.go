package risk

import (
	"fmt"
	"math"
	"sort"

	"officer-vitals/internal/config"
	"officer-vitals/internal/models"
	"officer-vitals/internal/window"
)

const ModelName = "model"

// rapidChangeDelta is the adjacent delta counted as a rapid change.
const (
	rapidChangeDelta = 20
	rapidChangeCap   = 5
)

// Features is the fixed input contract of the trained classifiers.
type Features struct {
	HeartRate        float64
	RollingMean5     float64
	RollingStd5      float64
	RollingMean10    float64
	DiffAbs          float64
	RatioToMedian    float64
	VariabilityRatio float64
	RapidChanges     int
}

// Feature names as they appear in model artifacts.
const (
	FeatureHeartRate        = "heart_rate"
	FeatureRollingMean5     = "hr_rolling_mean_5"
	FeatureRollingStd5      = "hr_rolling_std_5"
	FeatureRollingMean10    = "hr_rolling_mean_10"
	FeatureDiffAbs          = "hr_diff_abs"
	FeatureRatioToMedian    = "hr_ratio_to_median"
	FeatureVariabilityRatio = "hr_variability"
	FeatureRapidChanges     = "hr_rapid_changes"
)

func (f Features) Map() map[string]float64 {
	return map[string]float64{
		FeatureHeartRate:        f.HeartRate,
		FeatureRollingMean5:     f.RollingMean5,
		FeatureRollingStd5:      f.RollingStd5,
		FeatureRollingMean10:    f.RollingMean10,
		FeatureDiffAbs:          f.DiffAbs,
		FeatureRatioToMedian:    f.RatioToMedian,
		FeatureVariabilityRatio: f.VariabilityRatio,
		FeatureRapidChanges:     float64(f.RapidChanges),
	}
}

// ExtractFeatures computes the feature vector from newest-first values. Windows
// shorter than size are padded on the older end with the current heart rate.
func ExtractFeatures(current float64, values []float64, size int) Features {
	padded := make([]float64, 0, size)
	padded = append(padded, values...)
	for len(padded) < size {
		padded = append(padded, current)
	}
	padded = padded[:size]

	last5 := padded[:min(5, len(padded))]
	f := Features{
		HeartRate:     current,
		RollingMean5:  window.Mean(last5),
		RollingStd5:   populationStd(last5),
		RollingMean10: window.Mean(padded[:min(10, len(padded))]),
	}
	if len(padded) > 1 {
		f.DiffAbs = math.Abs(padded[0] - padded[1])
	}
	if median := median(padded); median > 0 {
		f.RatioToMedian = current / median
	} else {
		f.RatioToMedian = 1
	}
	if f.RollingMean5 > 0 {
		f.VariabilityRatio = f.RollingStd5 / f.RollingMean5
	}
	for i := 0; i+1 < len(padded); i++ {
		if math.Abs(padded[i]-padded[i+1]) > rapidChangeDelta {
			f.RapidChanges++
		}
	}
	if f.RapidChanges > rapidChangeCap {
		f.RapidChanges = rapidChangeCap
	}
	return f
}

// ModelStress weighs absolute heart rate, inverted variability and rapid changes.
func ModelStress(f Features) float64 {
	hrNorm := clamp((f.HeartRate-60)/40, 0, 2.5)
	hrvNorm := 1 - clamp(f.VariabilityRatio*10, 0, 1)
	changesNorm := float64(f.RapidChanges) / rapidChangeCap
	return clamp((hrNorm*0.40+hrvNorm*0.35+changesNorm*0.25)*100, 0, 100)
}

// AnomalyDetector scores how unusual a feature vector is. Negative scores are
// more anomalous.
type AnomalyDetector interface {
	Detect(f Features) (score float64, anomalous bool, err error)
}

// AlertClassifier returns the probability that a feature vector warrants an alert.
type AlertClassifier interface {
	Probability(f Features) (float64, error)
}

// SeverityTable maps classifier outputs onto a severity.
type SeverityTable struct {
	CriticalLow       float64
	CriticalHigh      float64
	WarningLow        float64
	WarningHigh       float64
	HighProbability   float64
	MediumProbability float64
	HighStress        float64
	MediumStress      float64
	HighAnomalyScore  float64
	AlertProbability  float64
}

func DefaultSeverityTable() SeverityTable {
	return SeverityTable{
		CriticalLow:       40,
		CriticalHigh:      180,
		WarningLow:        50,
		WarningHigh:       150,
		HighProbability:   0.8,
		MediumProbability: 0.5,
		HighStress:        85,
		MediumStress:      50,
		HighAnomalyScore:  -0.5,
		AlertProbability:  0.5,
	}
}

func (t SeverityTable) Classify(hr, probability, anomalyScore, stress float64) models.Severity {
	switch {
	case hr < t.CriticalLow || hr > t.CriticalHigh:
		return models.SeverityCritical
	case probability > t.HighProbability || stress > t.HighStress ||
		hr < t.WarningLow || hr > t.WarningHigh || anomalyScore <= t.HighAnomalyScore:
		return models.SeverityHigh
	case probability > t.MediumProbability || stress > t.MediumStress:
		return models.SeverityMedium
	}
	return models.SeverityLow
}

// Model is the classifier-backed strategy. Either collaborator may be nil, in
// which case every Score call reports ErrScorerUnavailable.
type Model struct {
	detector   AnomalyDetector
	classifier AlertClassifier
	table      SeverityTable
	p          config.Engine
}

func NewModel(detector AnomalyDetector, classifier AlertClassifier, table SeverityTable, p config.Engine) *Model {
	return &Model{detector: detector, classifier: classifier, table: table, p: p}
}

func (m *Model) Name() string {
	return ModelName
}

func (m *Model) Score(current models.Reading, w window.Window) (models.RiskAssessment, error) {
	if m.detector == nil || m.classifier == nil {
		return models.RiskAssessment{}, fmt.Errorf("%w: model not loaded", ErrScorerUnavailable)
	}

	values := w.Values()
	st := window.Compute(values, m.p.Trend)
	f := ExtractFeatures(current.Value, values, m.p.Window.Capacity)

	probability, err := m.classifier.Probability(f)
	if err != nil {
		return models.RiskAssessment{}, fmt.Errorf("%w: alert classifier: %v", ErrScorerUnavailable, err)
	}
	anomalyScore, anomalous, err := m.detector.Detect(f)
	if err != nil {
		return models.RiskAssessment{}, fmt.Errorf("%w: anomaly detector: %v", ErrScorerUnavailable, err)
	}

	a := baseAssessment(current, st, ModelName)
	a.PatternType = models.PatternModelPrediction
	a.StressScore = ModelStress(f)
	a.StressLevel = models.StressLevelFor(a.StressScore)
	a.AlertProbability = probability
	a.AnomalyScore = anomalyScore
	a.IsAnomaly = anomalous
	a.Severity = m.table.Classify(current.Value, probability, anomalyScore, a.StressScore)
	a.RequiresAlert = probability >= m.table.AlertProbability
	a.RequiresPrediction = a.RequiresAlert || anomalous || a.Severity >= models.SeverityMedium
	a.Features = f.Map()

	runs := CountRuns(values, m.p.Runs)
	a.ConsecutiveHigh = maxInt(runs.High, runs.CriticalHigh, runs.Elevated)
	a.ConsecutiveLow = maxInt(runs.Low, runs.CriticalLow, runs.Reduced)
	if a.RequiresAlert {
		a.RiskMessage = fmt.Sprintf("Model alert probability %.0f%% at %.0f bpm.", probability*100, current.Value)
	}
	return a, nil
}

func populationStd(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	mean := window.Mean(values)
	var variance float64
	for _, v := range values {
		variance += (v - mean) * (v - mean)
	}
	return math.Sqrt(variance / float64(len(values)))
}

func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}
