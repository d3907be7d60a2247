package models

import (
	"fmt"
	"strings"
	"time"
)

// Reading is a single heart-rate sample for one monitored officer.
type Reading struct {
	SubjectID string    `json:"subject_id"`
	Value     float64   `json:"heart_rate"`
	Timestamp time.Time `json:"timestamp"`
}

// Severity is ordered: SeverityCritical > SeverityHigh > SeverityMedium > SeverityLow.
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

var severityNames = [...]string{"LOW", "MEDIUM", "HIGH", "CRITICAL"}

func (s Severity) String() string {
	if s < SeverityLow || s > SeverityCritical {
		return fmt.Sprintf("Severity(%d)", int(s))
	}
	return severityNames[s]
}

func ParseSeverity(v string) (Severity, error) {
	for i, name := range severityNames {
		if strings.EqualFold(v, name) {
			return Severity(i), nil
		}
	}
	return SeverityLow, fmt.Errorf("unknown severity %q", v)
}

func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Severity) UnmarshalText(b []byte) error {
	parsed, err := ParseSeverity(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// MaxSeverity returns the more severe of a and b.
func MaxSeverity(a, b Severity) Severity {
	if a > b {
		return a
	}
	return b
}

type StressLevel string

const (
	StressVeryLow  StressLevel = "Very-Low"
	StressLow      StressLevel = "Low"
	StressModerate StressLevel = "Moderate"
	StressHigh     StressLevel = "High"
	StressVeryHigh StressLevel = "Very-High"
)

type Trend string

const (
	TrendStable  Trend = "stable"
	TrendRising  Trend = "rising"
	TrendFalling Trend = "falling"
)

// PatternType is the closed set of window classifications.
type PatternType string

const (
	PatternInsufficientData      PatternType = "insufficient_data"
	PatternNormal                PatternType = "normal"
	PatternSustainedCriticalHigh PatternType = "sustained_critical_high"
	PatternSustainedCriticalLow  PatternType = "sustained_critical_low"
	PatternSustainedHigh         PatternType = "sustained_high"
	PatternSustainedLow          PatternType = "sustained_low"
	PatternSustainedElevated     PatternType = "sustained_elevated"
	PatternSustainedReduced      PatternType = "sustained_reduced"
	PatternEmergingHigh          PatternType = "emerging_high"
	PatternEmergingLow           PatternType = "emerging_low"
	PatternRisingTrend           PatternType = "rising_trend"
	PatternFallingTrend          PatternType = "falling_trend"
	PatternModelPrediction       PatternType = "model_prediction"
)

func (p PatternType) Valid() bool {
	switch p {
	case PatternInsufficientData, PatternNormal,
		PatternSustainedCriticalHigh, PatternSustainedCriticalLow,
		PatternSustainedHigh, PatternSustainedLow,
		PatternSustainedElevated, PatternSustainedReduced,
		PatternEmergingHigh, PatternEmergingLow,
		PatternRisingTrend, PatternFallingTrend,
		PatternModelPrediction:
		return true
	}
	return false
}

// WindowSummary is the statistics snapshot an assessment was computed from.
type WindowSummary struct {
	Size        int     `json:"size"`
	Avg         float64 `json:"avg"`
	Max         float64 `json:"max"`
	Min         float64 `json:"min"`
	Variability float64 `json:"variability"`
}

// RiskAssessment is the scorer output for one reading.
type RiskAssessment struct {
	SubjectID          string             `json:"subject_id"`
	HeartRate          float64            `json:"heart_rate"`
	Timestamp          time.Time          `json:"timestamp"`
	StressScore        float64            `json:"stress_score"`
	StressLevel        StressLevel        `json:"stress_level"`
	Severity           Severity           `json:"severity"`
	AlertProbability   float64            `json:"alert_probability"`
	IsAnomaly          bool               `json:"is_anomaly"`
	AnomalyScore       float64            `json:"anomaly_score"`
	RequiresAlert      bool               `json:"requires_alert"`
	RequiresPrediction bool               `json:"requires_prediction"`
	PatternType        PatternType        `json:"pattern_type"`
	ConsecutiveHigh    int                `json:"consecutive_high"`
	ConsecutiveLow     int                `json:"consecutive_low"`
	Trend              Trend              `json:"trend"`
	RiskMessage        string             `json:"risk_message,omitempty"`
	HRZone             string             `json:"hr_zone"`
	Window             WindowSummary      `json:"window"`
	Scorer             string             `json:"scorer"`
	Degraded           bool               `json:"degraded,omitempty"`
	DegradedReason     string             `json:"degraded_reason,omitempty"`
	Features           map[string]float64 `json:"features,omitempty"`
}

// StressLevelFor maps a stress score onto its five-band level.
func StressLevelFor(score float64) StressLevel {
	switch {
	case score < 30:
		return StressVeryLow
	case score < 50:
		return StressLow
	case score < 70:
		return StressModerate
	case score < 85:
		return StressHigh
	default:
		return StressVeryHigh
	}
}

func HRZoneFor(hr float64) string {
	switch {
	case hr < 60:
		return "Zone 1 - Recovery"
	case hr < 100:
		return "Zone 2 - Fat Burn"
	case hr < 120:
		return "Zone 3 - Aerobic"
	case hr < 150:
		return "Zone 4 - Anaerobic Threshold"
	default:
		return "Zone 5 - Maximum Effort"
	}
}

type AlertStatus string

const (
	AlertPending      AlertStatus = "Pending"
	AlertAcknowledged AlertStatus = "Acknowledged"
	AlertResolved     AlertStatus = "Resolved"
	AlertDismissed    AlertStatus = "Dismissed"
)

// IsTerminal reports whether no further transition is allowed.
func (s AlertStatus) IsTerminal() bool {
	return s == AlertResolved || s == AlertDismissed
}

type AlertType string

const (
	AlertHRCriticalHigh      AlertType = "HR_CRITICAL_HIGH"
	AlertHRCriticalLow       AlertType = "HR_CRITICAL_LOW"
	AlertHRSustainedElevated AlertType = "HR_SUSTAINED_ELEVATED"
	AlertHRAbnormallyLow     AlertType = "HR_ABNORMALLY_LOW"
	AlertStressElevated      AlertType = "STRESS_ELEVATED"
	AlertStressCritical      AlertType = "STRESS_CRITICAL"
	AlertMLPrediction        AlertType = "ML_PREDICTION_ALERT"
)

// AlertMetadata carries episode bookkeeping; PatternEnded re-arms alert creation.
type AlertMetadata struct {
	PatternType         PatternType `json:"pattern_type"`
	WindowAvg           float64     `json:"window_avg"`
	ConsecutiveReadings int         `json:"consecutive_readings"`
	Trend               Trend       `json:"trend"`
	WindowSize          int         `json:"window_size"`
	SampleCount         int         `json:"sample_count"`
	LastValue           float64     `json:"last_value"`
	LastUpdate          time.Time   `json:"last_update"`
	PatternEnded        bool        `json:"pattern_ended"`
	StabilizedAt        *time.Time  `json:"stabilized_at,omitempty"`
	StabilizedHR        float64     `json:"stabilized_hr,omitempty"`
	StabilizedStress    float64     `json:"stabilized_stress,omitempty"`
	Degraded            bool        `json:"degraded,omitempty"`
}

type Alert struct {
	ID                      string        `json:"id"`
	SubjectID               string        `json:"subject_id"`
	AlertType               AlertType     `json:"alert_type"`
	Severity                Severity      `json:"severity"`
	Message                 string        `json:"message"`
	ActionRequired          string        `json:"action_required"`
	HeartRate               float64       `json:"heart_rate"`
	StressScore             float64       `json:"stress_score"`
	StressLevel             StressLevel   `json:"stress_level"`
	IsAnomaly               bool          `json:"is_anomaly"`
	Status                  AlertStatus   `json:"status"`
	RequiresImmediateAction bool          `json:"requires_immediate_action"`
	Metadata                AlertMetadata `json:"metadata"`
	CreatedAt               time.Time     `json:"created_at"`
	UpdatedAt               time.Time     `json:"updated_at"`
	AcknowledgedAt          *time.Time    `json:"acknowledged_at,omitempty"`
	ResolvedAt              *time.Time    `json:"resolved_at,omitempty"`
	ResolutionNotes         string        `json:"resolution_notes,omitempty"`
}

// Clone returns a deep copy safe to hand across goroutines.
func (a *Alert) Clone() *Alert {
	if a == nil {
		return nil
	}
	c := *a
	c.AcknowledgedAt = copyTime(a.AcknowledgedAt)
	c.ResolvedAt = copyTime(a.ResolvedAt)
	c.Metadata.StabilizedAt = copyTime(a.Metadata.StabilizedAt)
	return &c
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

type RecommendationStatus string

const (
	RecommendationPending      RecommendationStatus = "Pending"
	RecommendationAcknowledged RecommendationStatus = "Acknowledged"
	RecommendationResolved     RecommendationStatus = "Resolved"
)

type Recommendation struct {
	ID          string               `json:"id"`
	SubjectID   string               `json:"subject_id"`
	AlertID     string               `json:"alert_id,omitempty"`
	PatternType PatternType          `json:"pattern_type"`
	Category    string               `json:"category"`
	Priority    string               `json:"priority"`
	Message     string               `json:"message"`
	Status      RecommendationStatus `json:"status"`
	StressScore float64              `json:"stress_score"`
	CreatedAt   time.Time            `json:"created_at"`
	UpdatedAt   time.Time            `json:"updated_at"`
}

// RiskSummary aggregates persisted assessments and pending alerts for one officer.
type RiskSummary struct {
	SubjectID         string   `json:"subject_id"`
	PeriodHours       int      `json:"period_hours"`
	NoData            bool     `json:"no_data,omitempty"`
	TotalReadings     int      `json:"total_readings"`
	AvgStressScore    float64  `json:"avg_stress_score"`
	HighStressPeriods int      `json:"high_stress_periods"`
	AnomaliesDetected int      `json:"anomalies_detected"`
	PendingAlerts     int      `json:"pending_alerts"`
	CriticalAlerts    int      `json:"critical_alerts"`
	HighAlerts        int      `json:"high_alerts"`
	RiskLevel         Severity `json:"risk_level"`
}

// --- Wire payloads ---

// ReadingMessage is the wearable sample published on the readings topic.
type ReadingMessage struct {
	OfficerID string  `json:"officerId"`
	DeviceID  string  `json:"deviceId,omitempty"`
	HeartRate float64 `json:"heartRate"`
	Timestamp int64   `json:"timestamp"` // epoch milliseconds
}

// AlertActionPayload is a supervisor decision on an alert.
type AlertActionPayload struct {
	AlertID string `json:"alertId"`
	Action  string `json:"action"` // acknowledge, resolve, dismiss
	Notes   string `json:"notes,omitempty"`
}

// AlertNotification is published for alerts requiring immediate action.
type AlertNotification struct {
	AlertID   string    `json:"alertId"`
	OfficerID string    `json:"officerId"`
	AlertType AlertType `json:"alertType"`
	Severity  Severity  `json:"severity"`
	Message   string    `json:"message"`
	Action    string    `json:"actionRequired"`
	HeartRate float64   `json:"heartRate"`
	CreatedAt time.Time `json:"createdAt"`
}
