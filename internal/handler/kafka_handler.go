package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"officer-vitals/internal/alerting"
	"officer-vitals/internal/engine"
	"officer-vitals/internal/metrics"
	"officer-vitals/internal/models"

	"go.uber.org/zap"
)

const (
	SourceKafka = "kafka"
	SourceHTTP  = "http"
)

// Store is the durable side of the pipeline. Writes happen after the engine
// has released the officer's lock.
type Store interface {
	SaveReading(ctx context.Context, r models.Reading) error
	SaveAssessment(ctx context.Context, a models.RiskAssessment) error
	SaveAlerts(ctx context.Context, alerts ...*models.Alert) error
	SaveRecommendation(ctx context.Context, rec *models.Recommendation) error
}

// ReadingCache receives every accepted reading, e.g. the Redis history list.
type ReadingCache interface {
	Push(ctx context.Context, r models.Reading) error
}

type Notifier interface {
	NotifyAlert(ctx context.Context, a *models.Alert) error
}

type Option func(*ReadingProcessor)

func WithStore(s Store) Option {
	return func(p *ReadingProcessor) { p.store = s }
}

func WithHistory(h engine.HistoryProvider) Option {
	return func(p *ReadingProcessor) { p.history = h }
}

func WithCache(c ReadingCache) Option {
	return func(p *ReadingProcessor) { p.cache = c }
}

func WithNotifier(n Notifier) Option {
	return func(p *ReadingProcessor) { p.notifier = n }
}

func WithLogger(l *zap.Logger) Option {
	return func(p *ReadingProcessor) { p.logger = l }
}

// StreamStats counts an officer's readings since the last housekeeping cycle.
type StreamStats struct {
	Readings  int
	LastValue float64
	LastSeen  time.Time
}

type ReadingProcessor struct {
	engine   *engine.Engine
	store    Store
	history  engine.HistoryProvider
	cache    ReadingCache
	notifier Notifier
	logger   *zap.Logger

	streams   map[string]*StreamStats
	streamsMu sync.Mutex
}

func NewReadingProcessor(e *engine.Engine, opts ...Option) *ReadingProcessor {
	p := &ReadingProcessor{
		engine:  e,
		logger:  zap.NewNop(),
		streams: make(map[string]*StreamStats),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// SetNotifier installs the notifier once its transport is connected. Call it
// before readings start flowing.
func (p *ReadingProcessor) SetNotifier(n Notifier) {
	p.notifier = n
}

// RouteReadingMessage handles one message from the readings topic.
func (p *ReadingProcessor) RouteReadingMessage(msgValue []byte) {
	var msg models.ReadingMessage
	if err := json.Unmarshal(msgValue, &msg); err != nil {
		p.logger.Warn("Error unmarshalling reading message",
			zap.Error(err), zap.ByteString("raw", msgValue))
		metrics.ReadingRejected(SourceKafka)
		return
	}
	if _, err := p.HandleReading(context.Background(), msg, SourceKafka); err != nil && !errors.Is(err, engine.ErrInvalidReading) {
		p.logger.Error("Failed to process reading", zap.String("subject_id", msg.OfficerID), zap.Error(err))
	}
}

// HandleReading runs a wearable sample through the engine, then persists, caches
// and notifies from the result. Storage failures are logged and never undo the decision.
func (p *ReadingProcessor) HandleReading(ctx context.Context, msg models.ReadingMessage, source string) (engine.Result, error) {
	var ts time.Time
	if msg.Timestamp > 0 {
		ts = time.UnixMilli(msg.Timestamp).UTC()
	}

	if p.history != nil && p.engine.Validate(msg.OfficerID, msg.HeartRate) == nil {
		if err := p.engine.Warm(ctx, p.history, msg.OfficerID); err != nil {
			p.logger.Warn("History unavailable, starting with a padded window",
				zap.String("subject_id", msg.OfficerID), zap.Error(err))
		}
	}

	res, err := p.engine.Process(msg.OfficerID, msg.HeartRate, ts)
	if err != nil {
		metrics.ReadingRejected(source)
		if errors.Is(err, engine.ErrInvalidReading) {
			p.logger.Debug("Rejected reading",
				zap.String("subject_id", msg.OfficerID),
				zap.String("device_id", msg.DeviceID),
				zap.Float64("heart_rate", msg.HeartRate),
				zap.Error(err))
		}
		return res, err
	}

	p.persist(ctx, res)
	p.notify(ctx, res)
	p.track(res.Reading)
	metrics.ObserveResult(source, res)
	return res, nil
}

func (p *ReadingProcessor) persist(ctx context.Context, res engine.Result) {
	subject := zap.String("subject_id", res.Reading.SubjectID)

	if p.cache != nil {
		if err := p.cache.Push(ctx, res.Reading); err != nil {
			p.logger.Warn("Failed to cache reading", subject, zap.Error(err))
			metrics.PersistFailed("cache")
		}
	}
	if p.store == nil {
		return
	}

	if err := p.store.SaveReading(ctx, res.Reading); err != nil {
		p.logger.Error("Failed to save reading", subject, zap.Error(err))
		metrics.PersistFailed("reading")
	}
	if res.Relevant {
		if err := p.store.SaveAssessment(ctx, res.Assessment); err != nil {
			p.logger.Error("Failed to save assessment", subject, zap.Error(err))
			metrics.PersistFailed("assessment")
		}
	}

	alerts := append([]*models.Alert(nil), res.EndedAlerts...)
	if res.Alert.Alert != nil {
		alerts = append(alerts, res.Alert.Alert)
	}
	if len(alerts) > 0 {
		if err := p.store.SaveAlerts(ctx, alerts...); err != nil {
			p.logger.Error("Failed to save alerts", subject, zap.Int("alerts", len(alerts)), zap.Error(err))
			metrics.PersistFailed("alert")
		}
	}

	if rec := res.Recommendation.Recommendation; rec != nil {
		if err := p.store.SaveRecommendation(ctx, rec); err != nil {
			p.logger.Error("Failed to save recommendation", subject, zap.String("recommendation_id", rec.ID), zap.Error(err))
			metrics.PersistFailed("recommendation")
		}
	}
}

func (p *ReadingProcessor) notify(ctx context.Context, res engine.Result) {
	if p.notifier == nil || res.Alert.Action != alerting.AlertCreated || !res.Alert.Alert.RequiresImmediateAction {
		return
	}
	if err := p.notifier.NotifyAlert(ctx, res.Alert.Alert); err != nil {
		p.logger.Error("Failed to publish immediate-action alert",
			zap.String("alert_id", res.Alert.Alert.ID), zap.Error(err))
		metrics.NotifyFailed()
	}
}

func (p *ReadingProcessor) track(r models.Reading) {
	p.streamsMu.Lock()
	defer p.streamsMu.Unlock()
	s, ok := p.streams[r.SubjectID]
	if !ok {
		s = &StreamStats{}
		p.streams[r.SubjectID] = s
	}
	s.Readings++
	s.LastValue = r.Value
	s.LastSeen = r.Timestamp
}

// ApplyAlertAction applies a supervisor decision and persists the updated alert.
func (p *ReadingProcessor) ApplyAlertAction(ctx context.Context, payload models.AlertActionPayload) (*models.Alert, error) {
	action := strings.ToLower(payload.Action)
	alert, err := p.engine.ApplyAlertAction(ctx, payload.AlertID, action, payload.Notes)
	metrics.AlertAction(action, err)
	if err != nil {
		return nil, err
	}
	p.logger.Info("Alert action applied",
		zap.String("alert_id", alert.ID),
		zap.String("subject_id", alert.SubjectID),
		zap.String("status", string(alert.Status)))

	if p.store != nil {
		if err := p.store.SaveAlerts(ctx, alert); err != nil {
			p.logger.Error("Failed to save alert action", zap.String("alert_id", alert.ID), zap.Error(err))
			metrics.PersistFailed("alert")
		}
	}
	return alert, nil
}

// ApplyRecommendationAction acknowledges or resolves a recommendation and persists it.
func (p *ReadingProcessor) ApplyRecommendationAction(ctx context.Context, id, action string) (*models.Recommendation, error) {
	action = strings.ToLower(action)
	rec, err := p.engine.ApplyRecommendationAction(ctx, id, action)
	metrics.RecommendationAction(action, err)
	if err != nil {
		return nil, err
	}
	p.logger.Info("Recommendation action applied",
		zap.String("recommendation_id", rec.ID),
		zap.String("subject_id", rec.SubjectID),
		zap.String("status", string(rec.Status)))

	if p.store != nil {
		if err := p.store.SaveRecommendation(ctx, rec); err != nil {
			p.logger.Error("Failed to save recommendation action", zap.String("recommendation_id", rec.ID), zap.Error(err))
			metrics.PersistFailed("recommendation")
		}
	}
	return rec, nil
}

// HousekeepingReport summarizes one housekeeping cycle.
type HousekeepingReport struct {
	PrunedWindows         int
	PrunedAlerts          int
	PrunedRecommendations int
	ActiveSubjects        int
	Streams               map[string]StreamStats
}

func (r HousekeepingReport) String() string {
	var report strings.Builder
	report.WriteString("\n--- Housekeeping Report ---\n")
	report.WriteString(fmt.Sprintf("%-20s | %-8s | %-8s | %-25s\n", "Officer", "Readings", "Last HR", "Last Seen"))
	report.WriteString(strings.Repeat("-", 70) + "\n")

	if len(r.Streams) == 0 {
		report.WriteString("No readings received since the last cycle.\n")
	} else {
		ids := make([]string, 0, len(r.Streams))
		for id := range r.Streams {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			s := r.Streams[id]
			report.WriteString(fmt.Sprintf("%-20s | %-8d | %-8.0f | %-25s\n",
				id, s.Readings, s.LastValue, s.LastSeen.Format(time.RFC3339)))
		}
	}
	report.WriteString(fmt.Sprintf("Active windows: %d, pruned idle windows: %d\n", r.ActiveSubjects, r.PrunedWindows))
	report.WriteString(fmt.Sprintf("Forgotten alerts: %d, forgotten recommendations: %d\n", r.PrunedAlerts, r.PrunedRecommendations))
	report.WriteString(strings.Repeat("-", 70))
	return report.String()
}

// Housekeep drops idle windows and expired in-memory history, and returns what
// it did together with the per-officer stream counters since the last call.
func (p *ReadingProcessor) Housekeep(idle, retention time.Duration) HousekeepingReport {
	var r HousekeepingReport
	r.PrunedWindows = p.engine.PruneIdle(idle)
	r.PrunedAlerts, r.PrunedRecommendations = p.engine.PruneHistory(retention)
	r.ActiveSubjects = p.engine.ActiveSubjects()

	p.streamsMu.Lock()
	r.Streams = make(map[string]StreamStats, len(p.streams))
	for id, s := range p.streams {
		r.Streams[id] = *s
	}
	p.streams = make(map[string]*StreamStats)
	p.streamsMu.Unlock()

	metrics.ActiveSubjects.Set(float64(r.ActiveSubjects))
	return r
}

func (p *ReadingProcessor) RunHousekeepingCycle(ctx context.Context, interval, idle, retention time.Duration) {
	p.logger.Info("Housekeeping cycle started", zap.Duration("interval", interval))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Housekeeping cycle stopping")
			return
		case <-ticker.C:
			report := p.Housekeep(idle, retention)
			p.logger.Info("Housekeeping complete",
				zap.Int("active_subjects", report.ActiveSubjects),
				zap.Int("pruned_windows", report.PrunedWindows),
				zap.Int("pruned_alerts", report.PrunedAlerts),
				zap.Int("pruned_recommendations", report.PrunedRecommendations),
				zap.Int("streaming_subjects", len(report.Streams)))
			p.logger.Debug(report.String())
		}
	}
}
