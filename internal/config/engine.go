package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

var ErrInvalidConfig = errors.New("invalid engine configuration")

// Engine holds every tunable of the windowing and alert-lifecycle engine.
// Keys absent from the YAML file keep their defaults.
type Engine struct {
	Window    WindowParams    `yaml:"window"`
	Runs      RunParams       `yaml:"runs"`
	Trend     TrendParams     `yaml:"trend"`
	Stress    StressParams    `yaml:"stress"`
	Anomaly   AnomalyParams   `yaml:"anomaly"`
	Lifecycle LifecycleParams `yaml:"lifecycle"`
}

type WindowParams struct {
	Capacity     int     `yaml:"capacity"`
	MinReadings  int     `yaml:"min_readings"`
	PadColdStart bool    `yaml:"pad_cold_start"`
	MinValue     float64 `yaml:"min_value"`
	MaxValue     float64 `yaml:"max_value"`
}

// RunParams are the consecutive-run thresholds, scanned from the newest reading.
type RunParams struct {
	CriticalHigh float64 `yaml:"critical_high"`
	CriticalLow  float64 `yaml:"critical_low"`
	High         float64 `yaml:"high"`
	Low          float64 `yaml:"low"`
	Elevated     float64 `yaml:"elevated"`
	Reduced      float64 `yaml:"reduced"`
	CriticalRun  int     `yaml:"critical_run"`
	SustainedRun int     `yaml:"sustained_run"`
	EmergingRun  int     `yaml:"emerging_run"`
}

type TrendParams struct {
	Delta          float64 `yaml:"delta"`
	ConcernDelta   float64 `yaml:"concern_delta"`
	ConcernHighAvg float64 `yaml:"concern_high_avg"`
	ConcernLowAvg  float64 `yaml:"concern_low_avg"`
	MinReadings    int     `yaml:"min_readings"`
}

type StressParams struct {
	BaselineHR       float64 `yaml:"baseline_hr"`
	Multiplier       float64 `yaml:"multiplier"`
	VariabilityAbove float64 `yaml:"variability_above"`
	VariabilityBoost float64 `yaml:"variability_boost"`
	AlertScore       float64 `yaml:"alert_score"`
	HighScore        float64 `yaml:"high_score"`
}

type AnomalyParams struct {
	Variability float64 `yaml:"variability"`
	Jump        float64 `yaml:"jump"`
}

type LifecycleParams struct {
	Cooldown             time.Duration `yaml:"cooldown"`
	RecommendationFactor int           `yaml:"recommendation_factor"`
	StabilizeHR          float64       `yaml:"stabilize_hr"`
	StabilizeStress      float64       `yaml:"stabilize_stress"`
}

// RecommendationWindow is the span during which a pending recommendation suppresses new ones.
func (l LifecycleParams) RecommendationWindow() time.Duration {
	return time.Duration(l.RecommendationFactor) * l.Cooldown
}

func DefaultEngine() Engine {
	return Engine{
		Window: WindowParams{
			Capacity:     10,
			MinReadings:  3,
			PadColdStart: true,
			MinValue:     20,
			MaxValue:     300,
		},
		Runs: RunParams{
			CriticalHigh: 180,
			CriticalLow:  40,
			High:         140,
			Low:          50,
			Elevated:     120,
			Reduced:      55,
			CriticalRun:  2,
			SustainedRun: 3,
			EmergingRun:  2,
		},
		Trend: TrendParams{
			Delta:          10,
			ConcernDelta:   15,
			ConcernHighAvg: 100,
			ConcernLowAvg:  60,
			MinReadings:    4,
		},
		Stress: StressParams{
			BaselineHR:       60,
			Multiplier:       2,
			VariabilityAbove: 20,
			VariabilityBoost: 10,
			AlertScore:       70,
			HighScore:        85,
		},
		Anomaly: AnomalyParams{
			Variability: 30,
			Jump:        50,
		},
		Lifecycle: LifecycleParams{
			Cooldown:             10 * time.Minute,
			RecommendationFactor: 2,
			StabilizeHR:          100,
			StabilizeStress:      50,
		},
	}
}

// LoadEngine returns the defaults overridden by the YAML file at path, if any.
func LoadEngine(path string) (Engine, error) {
	cfg := DefaultEngine()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read risk config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse risk config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (e Engine) Validate() error {
	switch {
	case e.Window.Capacity < 1:
		return fmt.Errorf("%w: window capacity must be positive", ErrInvalidConfig)
	case e.Window.MinReadings < 1 || e.Window.MinReadings > e.Window.Capacity:
		return fmt.Errorf("%w: min_readings must be within [1, capacity]", ErrInvalidConfig)
	case e.Window.MinValue >= e.Window.MaxValue:
		return fmt.Errorf("%w: min_value must be below max_value", ErrInvalidConfig)
	case e.Runs.EmergingRun < 1 || e.Runs.EmergingRun >= e.Runs.SustainedRun:
		return fmt.Errorf("%w: emerging_run must be positive and below sustained_run", ErrInvalidConfig)
	case e.Runs.CriticalRun < 1:
		return fmt.Errorf("%w: critical_run must be positive", ErrInvalidConfig)
	case e.Runs.CriticalHigh <= e.Runs.High || e.Runs.High <= e.Runs.Elevated:
		return fmt.Errorf("%w: high thresholds must satisfy critical_high > high > elevated", ErrInvalidConfig)
	case e.Runs.CriticalLow >= e.Runs.Low || e.Runs.Low >= e.Runs.Reduced:
		return fmt.Errorf("%w: low thresholds must satisfy critical_low < low < reduced", ErrInvalidConfig)
	case e.Trend.MinReadings < 2:
		return fmt.Errorf("%w: trend min_readings must be at least 2", ErrInvalidConfig)
	case e.Stress.AlertScore > e.Stress.HighScore:
		return fmt.Errorf("%w: stress alert_score must not exceed high_score", ErrInvalidConfig)
	case e.Lifecycle.Cooldown <= 0:
		return fmt.Errorf("%w: cooldown must be positive", ErrInvalidConfig)
	case e.Lifecycle.RecommendationFactor < 1:
		return fmt.Errorf("%w: recommendation_factor must be positive", ErrInvalidConfig)
	}
	return nil
}
