package risk

import (
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"
)

// LinearArtifact is the YAML export of an offline-trained logistic alert
// classifier and a z-distance anomaly detector.
type LinearArtifact struct {
	AlertClassifier struct {
		Intercept float64            `yaml:"intercept"`
		Weights   map[string]float64 `yaml:"weights"`
	} `yaml:"alert_classifier"`
	AnomalyDetector struct {
		Mean      map[string]float64 `yaml:"mean"`
		Std       map[string]float64 `yaml:"std"`
		Threshold float64            `yaml:"threshold"`
	} `yaml:"anomaly_detector"`
}

// LoadLinearModel reads an artifact from path. Any failure wraps ErrScorerUnavailable.
func LoadLinearModel(path string) (*LogisticClassifier, *ZScoreDetector, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: read model %s: %v", ErrScorerUnavailable, path, err)
	}
	var art LinearArtifact
	if err := yaml.Unmarshal(data, &art); err != nil {
		return nil, nil, fmt.Errorf("%w: parse model %s: %v", ErrScorerUnavailable, path, err)
	}
	if len(art.AlertClassifier.Weights) == 0 {
		return nil, nil, fmt.Errorf("%w: model %s has no classifier weights", ErrScorerUnavailable, path)
	}
	if art.AnomalyDetector.Threshold <= 0 {
		return nil, nil, fmt.Errorf("%w: model %s has no anomaly threshold", ErrScorerUnavailable, path)
	}

	classifier := &LogisticClassifier{
		Intercept: art.AlertClassifier.Intercept,
		Weights:   art.AlertClassifier.Weights,
	}
	detector := &ZScoreDetector{
		Mean:      art.AnomalyDetector.Mean,
		Std:       art.AnomalyDetector.Std,
		Threshold: art.AnomalyDetector.Threshold,
	}
	return classifier, detector, nil
}

type LogisticClassifier struct {
	Intercept float64
	Weights   map[string]float64
}

func (c *LogisticClassifier) Probability(f Features) (float64, error) {
	values := f.Map()
	z := c.Intercept
	for name, w := range c.Weights {
		v, ok := values[name]
		if !ok {
			return 0, fmt.Errorf("unknown feature %q", name)
		}
		z += w * v
	}
	return 1 / (1 + math.Exp(-z)), nil
}

// ZScoreDetector flags vectors whose largest per-feature z-distance exceeds
// Threshold. The score is positive for normal vectors and negative for anomalies.
type ZScoreDetector struct {
	Mean      map[string]float64
	Std       map[string]float64
	Threshold float64
}

func (d *ZScoreDetector) Detect(f Features) (float64, bool, error) {
	if d.Threshold <= 0 {
		return 0, false, fmt.Errorf("anomaly threshold must be positive")
	}
	values := f.Map()
	var distance float64
	for name, mean := range d.Mean {
		v, ok := values[name]
		if !ok {
			return 0, false, fmt.Errorf("unknown feature %q", name)
		}
		std := d.Std[name]
		if std <= 0 {
			continue
		}
		distance = math.Max(distance, math.Abs(v-mean)/std)
	}
	score := (d.Threshold - distance) / d.Threshold
	return score, distance > d.Threshold, nil
}
