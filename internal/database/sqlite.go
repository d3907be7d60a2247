package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"officer-vitals/internal/alerting"
	"officer-vitals/internal/models"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// Fixed width so stored timestamps sort lexically.
const timeFormat = "2006-01-02T15:04:05.000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeFormat, s)
}

type Repository struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewRepository(dbPath string, logger *zap.Logger) (*Repository, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	repo := &Repository{db: db, logger: logger}
	if err := repo.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return repo, nil
}

func (r *Repository) initSchema() error {
	schema := `
    CREATE TABLE IF NOT EXISTS readings (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        subject_id TEXT NOT NULL,
        heart_rate REAL NOT NULL,
        recorded_at TEXT NOT NULL
    );
    CREATE INDEX IF NOT EXISTS idx_readings_subject ON readings (subject_id, recorded_at);

    CREATE TABLE IF NOT EXISTS assessments (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        subject_id TEXT NOT NULL,
        heart_rate REAL NOT NULL,
        recorded_at TEXT NOT NULL,
        stress_score REAL NOT NULL,
        stress_level TEXT NOT NULL,
        severity TEXT NOT NULL,
        alert_probability REAL NOT NULL,
        is_anomaly INTEGER NOT NULL,
        anomaly_score REAL NOT NULL,
        pattern_type TEXT NOT NULL,
        trend TEXT NOT NULL,
        scorer TEXT NOT NULL,
        degraded INTEGER NOT NULL,
        payload TEXT NOT NULL
    );
    CREATE INDEX IF NOT EXISTS idx_assessments_subject ON assessments (subject_id, recorded_at);

    CREATE TABLE IF NOT EXISTS alerts (
        id TEXT PRIMARY KEY,
        subject_id TEXT NOT NULL,
        alert_type TEXT NOT NULL,
        severity TEXT NOT NULL,
        status TEXT NOT NULL,
        message TEXT NOT NULL,
        action_required TEXT NOT NULL,
        heart_rate REAL NOT NULL,
        stress_score REAL NOT NULL,
        stress_level TEXT NOT NULL,
        is_anomaly INTEGER NOT NULL,
        requires_immediate_action INTEGER NOT NULL,
        metadata TEXT NOT NULL,
        created_at TEXT NOT NULL,
        updated_at TEXT NOT NULL,
        acknowledged_at TEXT,
        resolved_at TEXT,
        resolution_notes TEXT
    );
    CREATE INDEX IF NOT EXISTS idx_alerts_subject ON alerts (subject_id, created_at);

    CREATE TABLE IF NOT EXISTS recommendations (
        id TEXT PRIMARY KEY,
        subject_id TEXT NOT NULL,
        alert_id TEXT,
        pattern_type TEXT NOT NULL,
        category TEXT NOT NULL,
        priority TEXT NOT NULL,
        message TEXT NOT NULL,
        status TEXT NOT NULL,
        stress_score REAL NOT NULL,
        created_at TEXT NOT NULL,
        updated_at TEXT NOT NULL
    );
    CREATE INDEX IF NOT EXISTS idx_recommendations_subject ON recommendations (subject_id, created_at);`
	_, err := r.db.Exec(schema)
	return err
}

// --- Readings ---

func (r *Repository) SaveReading(ctx context.Context, reading models.Reading) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO readings (subject_id, heart_rate, recorded_at) VALUES (?, ?, ?)`,
		reading.SubjectID, reading.Value, formatTime(reading.Timestamp))
	return err
}

// RecentReadings returns up to limit readings for the officer, newest first.
func (r *Repository) RecentReadings(ctx context.Context, subjectID string, limit int) ([]models.Reading, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT heart_rate, recorded_at FROM readings WHERE subject_id = ? ORDER BY recorded_at DESC, id DESC LIMIT ?`,
		subjectID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var readings []models.Reading
	for rows.Next() {
		var (
			value      float64
			recordedAt string
		)
		if err := rows.Scan(&value, &recordedAt); err != nil {
			return nil, err
		}
		ts, err := parseTime(recordedAt)
		if err != nil {
			r.logger.Warn("Skipping reading with unparseable timestamp",
				zap.String("subject_id", subjectID), zap.String("recorded_at", recordedAt))
			continue
		}
		readings = append(readings, models.Reading{SubjectID: subjectID, Value: value, Timestamp: ts})
	}
	return readings, rows.Err()
}

// --- Assessments ---

func (r *Repository) SaveAssessment(ctx context.Context, a models.RiskAssessment) error {
	payload, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal assessment: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `INSERT INTO assessments (
        subject_id, heart_rate, recorded_at, stress_score, stress_level, severity, alert_probability,
        is_anomaly, anomaly_score, pattern_type, trend, scorer, degraded, payload
    ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.SubjectID, a.HeartRate, formatTime(a.Timestamp), a.StressScore, string(a.StressLevel), a.Severity.String(),
		a.AlertProbability, a.IsAnomaly, a.AnomalyScore, string(a.PatternType), string(a.Trend), a.Scorer,
		a.Degraded, string(payload))
	return err
}

// --- Alerts ---

const alertColumns = `id, subject_id, alert_type, severity, status, message, action_required, heart_rate,
        stress_score, stress_level, is_anomaly, requires_immediate_action, metadata, created_at, updated_at,
        acknowledged_at, resolved_at, resolution_notes`

type scanner interface {
	Scan(dest ...any) error
}

func scanAlert(s scanner) (*models.Alert, error) {
	var (
		a                                 models.Alert
		alertType, status, stressLevel    string
		severity, metadata                string
		createdAt, updatedAt              string
		acknowledgedAt, resolvedAt, notes sql.NullString
	)
	if err := s.Scan(&a.ID, &a.SubjectID, &alertType, &severity, &status, &a.Message, &a.ActionRequired,
		&a.HeartRate, &a.StressScore, &stressLevel, &a.IsAnomaly, &a.RequiresImmediateAction, &metadata,
		&createdAt, &updatedAt, &acknowledgedAt, &resolvedAt, &notes); err != nil {
		return nil, err
	}
	a.AlertType = models.AlertType(alertType)
	a.Status = models.AlertStatus(status)
	a.StressLevel = models.StressLevel(stressLevel)
	a.ResolutionNotes = notes.String

	var err error
	if a.Severity, err = models.ParseSeverity(severity); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(metadata), &a.Metadata); err != nil {
		return nil, fmt.Errorf("alert %s metadata: %w", a.ID, err)
	}
	if a.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if a.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	if acknowledgedAt.Valid {
		if t, err := parseTime(acknowledgedAt.String); err == nil {
			a.AcknowledgedAt = &t
		}
	}
	if resolvedAt.Valid {
		if t, err := parseTime(resolvedAt.String); err == nil {
			a.ResolvedAt = &t
		}
	}
	return &a, nil
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func alertArgs(a *models.Alert) ([]any, error) {
	metadata, err := json.Marshal(a.Metadata)
	if err != nil {
		return nil, fmt.Errorf("marshal alert metadata: %w", err)
	}
	return []any{
		a.ID, a.SubjectID, string(a.AlertType), a.Severity.String(), string(a.Status), a.Message, a.ActionRequired,
		a.HeartRate, a.StressScore, string(a.StressLevel), a.IsAnomaly, a.RequiresImmediateAction, string(metadata),
		formatTime(a.CreatedAt), formatTime(a.UpdatedAt), nullTime(a.AcknowledgedAt), nullTime(a.ResolvedAt),
		sql.NullString{String: a.ResolutionNotes, Valid: a.ResolutionNotes != ""},
	}, nil
}

// SaveAlerts upserts the alerts in one transaction; any failure rolls back the whole batch.
func (r *Repository) SaveAlerts(ctx context.Context, alerts ...*models.Alert) error {
	if len(alerts) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO alerts (`+alertColumns+`)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, a := range alerts {
		args, err := alertArgs(a)
		if err == nil {
			_, err = stmt.ExecContext(ctx, args...)
		}
		if err != nil {
			r.logger.Error("Failed to save alert, rolling back batch",
				zap.String("alert_id", a.ID), zap.String("subject_id", a.SubjectID), zap.Error(err))
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// Alert returns one alert by id.
func (r *Repository) Alert(ctx context.Context, id string) (*models.Alert, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+alertColumns+` FROM alerts WHERE id = ?`, id)
	a, err := scanAlert(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, alerting.ErrAlertNotFound
	}
	return a, err
}

// LoadActiveAlerts returns every unresolved alert created since the given time.
func (r *Repository) LoadActiveAlerts(ctx context.Context, since time.Time) ([]*models.Alert, error) {
	return r.queryAlerts(ctx, `SELECT `+alertColumns+` FROM alerts
        WHERE status IN ('Pending', 'Acknowledged') AND created_at >= ?
        ORDER BY created_at DESC`, formatTime(since))
}

func (r *Repository) queryAlerts(ctx context.Context, query string, args ...any) ([]*models.Alert, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var alerts []*models.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			r.logger.Warn("Skipping unreadable alert row", zap.Error(err))
			continue
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

// --- Recommendations ---

func (r *Repository) SaveRecommendation(ctx context.Context, rec *models.Recommendation) error {
	_, err := r.db.ExecContext(ctx, `INSERT OR REPLACE INTO recommendations (
        id, subject_id, alert_id, pattern_type, category, priority, message, status, stress_score, created_at, updated_at
    ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.SubjectID, sql.NullString{String: rec.AlertID, Valid: rec.AlertID != ""}, string(rec.PatternType),
		rec.Category, rec.Priority, rec.Message, string(rec.Status), rec.StressScore,
		formatTime(rec.CreatedAt), formatTime(rec.UpdatedAt))
	return err
}

const recommendationColumns = `id, subject_id, alert_id, pattern_type, category, priority, message, status,
        stress_score, created_at, updated_at`

func scanRecommendation(s scanner) (*models.Recommendation, error) {
	var (
		rec                  models.Recommendation
		alertID              sql.NullString
		pattern, status      string
		createdAt, updatedAt string
	)
	if err := s.Scan(&rec.ID, &rec.SubjectID, &alertID, &pattern, &rec.Category, &rec.Priority, &rec.Message,
		&status, &rec.StressScore, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	rec.AlertID = alertID.String
	rec.PatternType = models.PatternType(pattern)
	rec.Status = models.RecommendationStatus(status)

	var err error
	if rec.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if rec.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Recommendation returns one recommendation by id.
func (r *Repository) Recommendation(ctx context.Context, id string) (*models.Recommendation, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+recommendationColumns+` FROM recommendations WHERE id = ?`, id)
	rec, err := scanRecommendation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, alerting.ErrRecommendationNotFound
	}
	return rec, err
}

// LoadPendingRecommendations returns Pending recommendations created since the given time, newest first.
func (r *Repository) LoadPendingRecommendations(ctx context.Context, since time.Time) ([]*models.Recommendation, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+recommendationColumns+` FROM recommendations
        WHERE status = 'Pending' AND created_at >= ?
        ORDER BY created_at DESC`, formatTime(since))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []*models.Recommendation
	for rows.Next() {
		rec, err := scanRecommendation(rows)
		if err != nil {
			r.logger.Warn("Skipping unreadable recommendation row", zap.Error(err))
			continue
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// --- Summary ---

// RiskSummary aggregates the officer's persisted assessments and pending alerts over the last hours.
func (r *Repository) RiskSummary(ctx context.Context, subjectID string, hours int, now time.Time) (models.RiskSummary, error) {
	summary := models.RiskSummary{SubjectID: subjectID, PeriodHours: hours}
	cutoff := formatTime(now.Add(-time.Duration(hours) * time.Hour))

	var avgStress sql.NullFloat64
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*), AVG(stress_score),
        COALESCE(SUM(CASE WHEN stress_level IN ('High', 'Very-High') THEN 1 ELSE 0 END), 0),
        COALESCE(SUM(is_anomaly), 0)
        FROM assessments WHERE subject_id = ? AND recorded_at >= ?`, subjectID, cutoff).
		Scan(&summary.TotalReadings, &avgStress, &summary.HighStressPeriods, &summary.AnomaliesDetected)
	if err != nil {
		return summary, fmt.Errorf("summarize assessments: %w", err)
	}
	if summary.TotalReadings == 0 {
		summary.NoData = true
		return summary, nil
	}
	summary.AvgStressScore = math.Round(avgStress.Float64*10) / 10

	err = r.db.QueryRowContext(ctx, `SELECT COUNT(*),
        COALESCE(SUM(CASE WHEN severity = 'CRITICAL' THEN 1 ELSE 0 END), 0),
        COALESCE(SUM(CASE WHEN severity = 'HIGH' THEN 1 ELSE 0 END), 0)
        FROM alerts WHERE subject_id = ? AND status = 'Pending' AND created_at >= ?`, subjectID, cutoff).
		Scan(&summary.PendingAlerts, &summary.CriticalAlerts, &summary.HighAlerts)
	if err != nil {
		return summary, fmt.Errorf("summarize alerts: %w", err)
	}

	summary.RiskLevel = RiskLevel(avgStress.Float64, summary.CriticalAlerts, summary.HighAlerts)
	return summary, nil
}

// RiskLevel grades an officer from average stress and pending alert counts.
func RiskLevel(avgStress float64, critical, high int) models.Severity {
	switch {
	case critical > 0 || avgStress > 85:
		return models.SeverityCritical
	case high > 0 || avgStress > 70:
		return models.SeverityHigh
	case avgStress > 50:
		return models.SeverityMedium
	}
	return models.SeverityLow
}

func (r *Repository) Close() {
	r.db.Close()
}
