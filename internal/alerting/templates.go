package alerting

import (
	"fmt"
	"strconv"
	"strings"

	"officer-vitals/internal/models"
)

type alertTemplate struct {
	alertType models.AlertType
	message   func(a models.RiskAssessment) string
	action    string
}

const (
	actionImmediate = "IMMEDIATE ACTION: check on the officer and contact emergency services if needed."
	actionMonitor   = "Monitor the officer. Consider a rest period if the situation allows."
)

var alertTemplates = map[models.PatternType]alertTemplate{
	models.PatternSustainedCriticalHigh: {
		alertType: models.AlertHRCriticalHigh,
		message: func(a models.RiskAssessment) string {
			return fmt.Sprintf("Sustained critically high heart rate: %d consecutive readings above 180 bpm. Average: %.0f bpm.",
				a.ConsecutiveHigh, a.Window.Avg)
		},
		action: actionImmediate,
	},
	models.PatternSustainedCriticalLow: {
		alertType: models.AlertHRCriticalLow,
		message: func(a models.RiskAssessment) string {
			return fmt.Sprintf("Sustained critically low heart rate: %d consecutive readings below 40 bpm. Average: %.0f bpm.",
				a.ConsecutiveLow, a.Window.Avg)
		},
		action: actionImmediate,
	},
	models.PatternSustainedHigh: {
		alertType: models.AlertHRSustainedElevated,
		message: func(a models.RiskAssessment) string {
			return fmt.Sprintf("Sustained elevated heart rate: %d consecutive readings above 140 bpm. Window average: %.0f bpm. Trend: %s.",
				a.ConsecutiveHigh, a.Window.Avg, a.Trend)
		},
		action: actionMonitor,
	},
	models.PatternSustainedLow: {
		alertType: models.AlertHRAbnormallyLow,
		message: func(a models.RiskAssessment) string {
			return fmt.Sprintf("Sustained low heart rate: %d consecutive readings below 50 bpm. Window average: %.0f bpm.",
				a.ConsecutiveLow, a.Window.Avg)
		},
		action: "Verify the sensor is working. Act if the officer reports discomfort.",
	},
	models.PatternSustainedElevated: {
		alertType: models.AlertStressElevated,
		message: func(a models.RiskAssessment) string {
			return fmt.Sprintf("Sustained moderate stress: %d consecutive readings above 120 bpm. Stress %.1f/100.",
				a.ConsecutiveHigh, a.StressScore)
		},
		action: "Schedule short breaks and breathing exercises during the shift.",
	},
	models.PatternSustainedReduced: {
		alertType: models.AlertHRAbnormallyLow,
		message: func(a models.RiskAssessment) string {
			return fmt.Sprintf("Sustained reduced heart rate: %d consecutive readings below 55 bpm. Window average: %.0f bpm.",
				a.ConsecutiveLow, a.Window.Avg)
		},
		action: "Check the officer's general wellbeing and signs of fatigue.",
	},
}

var (
	stressCriticalTemplate = alertTemplate{
		alertType: models.AlertStressCritical,
		message: func(a models.RiskAssessment) string {
			return fmt.Sprintf("Critical stress level detected: %.1f/100 over %d readings. Variability: %.1f.",
				a.StressScore, a.Window.Size, a.Window.Variability)
		},
		action: "The officer shows sustained high stress. Evaluate the current workload.",
	}
	predictionTemplate = alertTemplate{
		alertType: models.AlertMLPrediction,
		message: func(a models.RiskAssessment) string {
			return fmt.Sprintf("Risk pattern detected: average %.0f bpm, stress %.1f/100. Trend: %s.",
				a.Window.Avg, a.StressScore, a.Trend)
		},
		action: "Keep monitoring the officer.",
	}
)

// templateFor picks the pattern template, then the stress fallback, then the generic one.
func templateFor(a models.RiskAssessment, stressAlert float64) alertTemplate {
	if t, ok := alertTemplates[a.PatternType]; ok {
		return t
	}
	if a.StressScore >= stressAlert {
		return stressCriticalTemplate
	}
	return predictionTemplate
}

type recommendationTemplate struct {
	category string
	priority string
	message  string
}

const (
	CategoryHealth = "Health"
	CategoryMental = "Mental"
	CategoryOther  = "Other"

	PriorityCritical = "Critical"
	PriorityHigh     = "High"
	PriorityMedium   = "Medium"
	PriorityLow      = "Low"
)

const (
	templateHighStress = "high_stress"
	templateAnomaly    = "anomaly_detected"
)

// Messages may reference {consecutive}, {avg} and {stress}.
var recommendationTemplates = map[string]recommendationTemplate{
	string(models.PatternSustainedCriticalHigh): {CategoryHealth, PriorityCritical,
		"URGENT: sustained critically high heart rate ({consecutive} readings >180 bpm). " +
			"Check the officer's physical state immediately, consider temporary removal from active duty " +
			"and consult medical staff if it persists."},
	string(models.PatternSustainedCriticalLow): {CategoryHealth, PriorityCritical,
		"URGENT: sustained critically low heart rate ({consecutive} readings <40 bpm). " +
			"Verify the sensor, assess the officer's consciousness and contact medical services if bradycardia is confirmed."},
	string(models.PatternSustainedHigh): {CategoryHealth, PriorityHigh,
		"Elevated heart rate pattern ({consecutive} readings >140 bpm, average {avg} bpm). " +
			"Schedule rest when possible, review the current workload and rotate high-intensity tasks."},
	string(models.PatternSustainedLow): {CategoryHealth, PriorityHigh,
		"Low heart rate pattern ({consecutive} readings <50 bpm). " +
			"Check sensor placement, assess fatigue and avoid assignments that need a fast response."},
	string(models.PatternSustainedElevated): {CategoryMental, PriorityMedium,
		"Sustained moderate-high stress ({consecutive} readings >120 bpm). " +
			"Plan short breaks, apply breathing techniques and review environmental stressors."},
	string(models.PatternSustainedReduced): {CategoryHealth, PriorityMedium,
		"Sustained reduced heart rate ({consecutive} readings <55 bpm). " +
			"Check general wellbeing, review overnight rest and watch for extreme fatigue."},
	string(models.PatternEmergingHigh): {CategoryMental, PriorityLow,
		"Emerging stress tendency ({consecutive} readings >120 bpm). " +
			"Keep close monitoring and suggest stress management techniques."},
	string(models.PatternEmergingLow): {CategoryHealth, PriorityLow,
		"Emerging low heart rate tendency ({consecutive} readings <55 bpm). " +
			"Check sensor placement and ask the officer about their wellbeing."},
	string(models.PatternRisingTrend): {CategoryMental, PriorityLow,
		"Rising heart rate trend. Watch the next readings and prepare rest options."},
	string(models.PatternFallingTrend): {CategoryHealth, PriorityLow,
		"Falling heart rate trend. Check the officer's alertness and signs of fatigue."},
	templateHighStress: {CategoryMental, PriorityHigh,
		"Critical stress level (score {stress}/100). " +
			"Assess the officer's situation now, consider temporary relief and offer psychological support."},
	templateAnomaly: {CategoryOther, PriorityMedium,
		"Unusual heart rate variability detected. " +
			"Verify the monitoring equipment and document the incident for later review."},
}

func formatRecommendation(t recommendationTemplate, a models.RiskAssessment) string {
	consecutive := a.ConsecutiveHigh
	if a.ConsecutiveLow > consecutive {
		consecutive = a.ConsecutiveLow
	}
	return strings.NewReplacer(
		"{consecutive}", strconv.Itoa(consecutive),
		"{avg}", fmt.Sprintf("%.0f", a.Window.Avg),
		"{stress}", fmt.Sprintf("%.1f", a.StressScore),
	).Replace(t.message)
}
