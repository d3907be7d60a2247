// Package alerting turns risk assessments into at most one alert per episode and
// at most one pending recommendation per officer.
package alerting

import (
	"fmt"
	"time"

	"officer-vitals/internal/config"
	"officer-vitals/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type AlertAction int

const (
	AlertNone AlertAction = iota
	AlertCreated
	AlertMerged
)

func (a AlertAction) String() string {
	switch a {
	case AlertCreated:
		return "created"
	case AlertMerged:
		return "merged"
	}
	return "none"
}

func (a AlertAction) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// AlertOutcome is the lifecycle decision for one assessment. Alert is a copy of
// the created or merged alert and is nil for AlertNone.
type AlertOutcome struct {
	Action AlertAction   `json:"action"`
	Alert  *models.Alert `json:"alert,omitempty"`
}

// Manager owns the per-officer alert state machine. Calls for one officer must be
// serialized by the caller; calls for different officers may run concurrently.
type Manager struct {
	store           AlertStore
	cooldown        time.Duration
	stabilizeHR     float64
	stabilizeStress float64
	stressAlert     float64
	logger          *zap.Logger
}

func NewManager(store AlertStore, p config.Engine, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		store:           store,
		cooldown:        p.Lifecycle.Cooldown,
		stabilizeHR:     p.Lifecycle.StabilizeHR,
		stabilizeStress: p.Lifecycle.StabilizeStress,
		stressAlert:     p.Stress.AlertScore,
		logger:          logger,
	}
}

// Decide creates a new alert, merges into the active one, or does nothing.
func (m *Manager) Decide(a models.RiskAssessment, now time.Time) (AlertOutcome, error) {
	if !a.RequiresAlert {
		return AlertOutcome{Action: AlertNone}, nil
	}

	active, err := m.store.FindActive(a.SubjectID, m.cooldown, now)
	if err != nil {
		return AlertOutcome{}, fmt.Errorf("find active alert: %w", err)
	}

	if active != nil && !active.Metadata.PatternEnded {
		active.HeartRate = a.HeartRate
		active.StressScore = a.StressScore
		active.StressLevel = a.StressLevel
		active.Metadata.LastValue = a.HeartRate
		active.Metadata.LastUpdate = now
		active.Metadata.SampleCount++
		active.UpdatedAt = now
		if err := m.store.Update(active); err != nil {
			return AlertOutcome{}, fmt.Errorf("merge alert %s: %w", active.ID, err)
		}
		m.logger.Debug("Merged reading into active alert",
			zap.String("alert_id", active.ID),
			zap.String("subject_id", a.SubjectID),
			zap.Int("sample_count", active.Metadata.SampleCount),
		)
		return AlertOutcome{Action: AlertMerged, Alert: active}, nil
	}

	alert := m.build(a, now)
	if err := m.store.Create(alert); err != nil {
		return AlertOutcome{}, fmt.Errorf("create alert: %w", err)
	}

	fields := []zap.Field{
		zap.String("alert_id", alert.ID),
		zap.String("subject_id", alert.SubjectID),
		zap.String("alert_type", string(alert.AlertType)),
		zap.Stringer("severity", alert.Severity),
		zap.String("pattern", string(a.PatternType)),
	}
	if alert.RequiresImmediateAction {
		m.logger.Error("Alert requires immediate action", fields...)
	} else {
		m.logger.Warn("Alert created", fields...)
	}
	return AlertOutcome{Action: AlertCreated, Alert: alert.Clone()}, nil
}

func (m *Manager) build(a models.RiskAssessment, now time.Time) *models.Alert {
	t := templateFor(a, m.stressAlert)
	consecutive := a.ConsecutiveHigh
	if a.ConsecutiveLow > consecutive {
		consecutive = a.ConsecutiveLow
	}
	return &models.Alert{
		ID:                      uuid.New().String(),
		SubjectID:               a.SubjectID,
		AlertType:               t.alertType,
		Severity:                a.Severity,
		Message:                 t.message(a),
		ActionRequired:          t.action,
		HeartRate:               a.HeartRate,
		StressScore:             a.StressScore,
		StressLevel:             a.StressLevel,
		IsAnomaly:               a.IsAnomaly,
		Status:                  models.AlertPending,
		RequiresImmediateAction: a.Severity >= models.SeverityHigh,
		Metadata: models.AlertMetadata{
			PatternType:         a.PatternType,
			WindowAvg:           a.Window.Avg,
			ConsecutiveReadings: consecutive,
			Trend:               a.Trend,
			WindowSize:          a.Window.Size,
			SampleCount:         1,
			LastValue:           a.HeartRate,
			LastUpdate:          now,
			Degraded:            a.Degraded,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Stabilized reports whether hr and stress are back in the normal range.
func (m *Manager) Stabilized(hr, stress float64) bool {
	return hr < m.stabilizeHR && stress < m.stabilizeStress
}

// Stabilize marks every active alert of the officer as pattern-ended when the
// reading is back in range. Status is left alone. It returns the alerts it changed.
func (m *Manager) Stabilize(subjectID string, hr, stress float64, now time.Time) ([]*models.Alert, error) {
	if !m.Stabilized(hr, stress) {
		return nil, nil
	}
	active, err := m.store.ListActive(subjectID, m.cooldown, now)
	if err != nil {
		return nil, fmt.Errorf("list active alerts: %w", err)
	}

	var ended []*models.Alert
	for _, alert := range active {
		if alert.Metadata.PatternEnded {
			continue
		}
		at := now
		alert.Metadata.PatternEnded = true
		alert.Metadata.StabilizedAt = &at
		alert.Metadata.StabilizedHR = hr
		alert.Metadata.StabilizedStress = stress
		alert.UpdatedAt = now
		if err := m.store.Update(alert); err != nil {
			return ended, fmt.Errorf("end pattern of alert %s: %w", alert.ID, err)
		}
		m.logger.Info("Alert pattern ended, officer stabilized",
			zap.String("alert_id", alert.ID),
			zap.String("subject_id", subjectID),
			zap.Float64("heart_rate", hr),
			zap.Float64("stress", stress),
		)
		ended = append(ended, alert)
	}
	return ended, nil
}

// Get returns a copy of the alert.
func (m *Manager) Get(id string) (*models.Alert, error) {
	return m.store.Get(id)
}

// Restore loads an alert from durable storage unless it is already known.
func (m *Manager) Restore(alert *models.Alert) error {
	if _, err := m.store.Get(alert.ID); err == nil {
		return nil
	}
	return m.store.Create(alert)
}

func (m *Manager) Acknowledge(id string, now time.Time) (*models.Alert, error) {
	return m.transition(id, now, func(a *models.Alert) {
		if a.Status == models.AlertAcknowledged {
			return
		}
		at := now
		a.Status = models.AlertAcknowledged
		a.AcknowledgedAt = &at
	})
}

func (m *Manager) Resolve(id, notes string, now time.Time) (*models.Alert, error) {
	return m.transition(id, now, func(a *models.Alert) {
		at := now
		a.Status = models.AlertResolved
		a.ResolvedAt = &at
		a.ResolutionNotes = notes
	})
}

func (m *Manager) Dismiss(id, notes string, now time.Time) (*models.Alert, error) {
	return m.transition(id, now, func(a *models.Alert) {
		at := now
		a.Status = models.AlertDismissed
		a.ResolvedAt = &at
		a.ResolutionNotes = notes
	})
}

func (m *Manager) transition(id string, now time.Time, apply func(*models.Alert)) (*models.Alert, error) {
	alert, err := m.store.Get(id)
	if err != nil {
		return nil, err
	}
	if alert.Status.IsTerminal() {
		return nil, fmt.Errorf("alert %s is %s: %w", id, alert.Status, ErrTerminalAlert)
	}
	from := alert.Status
	apply(alert)
	alert.UpdatedAt = now
	if err := m.store.Update(alert); err != nil {
		return nil, fmt.Errorf("update alert %s: %w", id, err)
	}
	m.logger.Info("Alert status changed",
		zap.String("alert_id", id),
		zap.String("subject_id", alert.SubjectID),
		zap.String("from", string(from)),
		zap.String("to", string(alert.Status)),
	)
	return alert, nil
}
