// Package engine linearizes the per-officer pipeline: window append, scoring,
// severity resolution, alert lifecycle and recommendation. It performs no I/O;
// callers persist and notify from the returned Result after Process returns.
package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"officer-vitals/internal/alerting"
	"officer-vitals/internal/config"
	"officer-vitals/internal/models"
	"officer-vitals/internal/risk"
	"officer-vitals/internal/window"

	"go.uber.org/zap"
)

// ErrInvalidReading is returned for empty officer ids and non-finite or
// out-of-range heart rates. Rejected readings never reach the window.
var ErrInvalidReading = errors.New("invalid reading")

// ErrUnknownAction is returned for action names the alert or recommendation lifecycle does not know.
var ErrUnknownAction = errors.New("unknown action")

// HistoryProvider returns up to limit recent readings, newest first.
type HistoryProvider interface {
	RecentReadings(ctx context.Context, subjectID string, limit int) ([]models.Reading, error)
}

// Archive is the durable record of alerts and recommendations. It is consulted
// for ids the engine no longer holds in memory.
type Archive interface {
	Alert(ctx context.Context, id string) (*models.Alert, error)
	Recommendation(ctx context.Context, id string) (*models.Recommendation, error)
}

// Result is everything decided for one reading.
type Result struct {
	Reading        models.Reading                 `json:"reading"`
	Assessment     models.RiskAssessment          `json:"assessment"`
	Relevant       bool                           `json:"relevant"`
	Alert          alerting.AlertOutcome          `json:"alert"`
	Recommendation alerting.RecommendationOutcome `json:"recommendation"`
	EndedAlerts    []*models.Alert                `json:"ended_alerts,omitempty"`
}

type Engine struct {
	params    config.Engine
	windows   *window.Store
	scorer    risk.Scorer
	heuristic *risk.Heuristic
	resolver  risk.Resolver
	alerts    *alerting.Manager
	recs      *alerting.Generator
	archive   Archive
	logger    *zap.Logger
	now       func() time.Time

	alertStore *alerting.MemoryAlertStore
	recStore   *alerting.MemoryRecommendationStore

	locks lockMap
	stats counters
}

type Option func(*Engine)

// WithScorer sets the primary scorer. Anything other than the heuristic fails over to it.
func WithScorer(s risk.Scorer) Option {
	return func(e *Engine) { e.scorer = s }
}

// WithResolver replaces the pass-through resolver. Any resolver other than
// PassThrough also receives the heuristic assessment when another scorer ran.
func WithResolver(r risk.Resolver) Option {
	return func(e *Engine) { e.resolver = r }
}

// WithArchive lets alert and recommendation actions reach records that were
// pruned from memory or predate a restart.
func WithArchive(a Archive) Option {
	return func(e *Engine) { e.archive = a }
}

func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithClock replaces time.Now for readings without a timestamp and for alert actions.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func New(p config.Engine, opts ...Option) *Engine {
	e := &Engine{
		params:   p,
		resolver: risk.PassThrough{},
		logger:   zap.NewNop(),
		now:      time.Now,
		locks:    lockMap{locks: make(map[string]*subjectLock)},
	}
	for _, opt := range opts {
		opt(e)
	}

	e.heuristic = risk.NewHeuristic(p)
	switch s := e.scorer.(type) {
	case nil:
		e.scorer = e.heuristic
	case *risk.Heuristic, *risk.Failover:
	default:
		e.scorer = risk.NewFailover(s, e.heuristic, e.logger)
	}
	e.alertStore = alerting.NewMemoryAlertStore()
	e.recStore = alerting.NewMemoryRecommendationStore()

	e.windows = window.NewStore(p.Window.Capacity, p.Window.PadColdStart)
	e.alerts = alerting.NewManager(e.alertStore, p, e.logger)
	e.recs = alerting.NewGenerator(e.recStore, p, e.logger)
	return e
}

func (e *Engine) ScorerName() string {
	return e.scorer.Name()
}

// Validate checks a reading against the configured physiological range.
func (e *Engine) Validate(subjectID string, hr float64) error {
	if subjectID == "" {
		return fmt.Errorf("%w: empty officer id", ErrInvalidReading)
	}
	if math.IsNaN(hr) || math.IsInf(hr, 0) {
		return fmt.Errorf("%w: heart rate is not a number", ErrInvalidReading)
	}
	if hr < e.params.Window.MinValue || hr > e.params.Window.MaxValue {
		return fmt.Errorf("%w: heart rate %.1f outside [%.0f, %.0f]",
			ErrInvalidReading, hr, e.params.Window.MinValue, e.params.Window.MaxValue)
	}
	return nil
}

// Process runs one reading through the pipeline under the officer's lock. A zero
// ts is replaced with the engine clock. The reading's timestamp drives cooldowns.
func (e *Engine) Process(subjectID string, hr float64, ts time.Time) (Result, error) {
	if err := e.Validate(subjectID, hr); err != nil {
		e.stats.rejected.Add(1)
		return Result{}, err
	}
	if ts.IsZero() {
		ts = e.now()
	}
	reading := models.Reading{SubjectID: subjectID, Value: hr, Timestamp: ts}

	unlock := e.locks.lock(subjectID)
	res, err := e.process(reading)
	unlock()
	if err != nil {
		return Result{}, err
	}

	e.stats.record(res)
	return res, nil
}

func (e *Engine) process(reading models.Reading) (Result, error) {
	w := e.windows.Append(reading)

	a, err := e.scorer.Score(reading, w)
	if err != nil {
		return Result{}, fmt.Errorf("score reading: %w", err)
	}
	e.resolver.Resolve(a, e.secondOpinion(reading, w, a)...).Apply(&a)

	res := Result{Reading: reading, Assessment: a, Relevant: risk.IsRelevant(a)}
	now := reading.Timestamp

	// An alert-worthy reading cannot end its own episode.
	if !a.RequiresAlert {
		ended, err := e.alerts.Stabilize(reading.SubjectID, reading.Value, e.heuristicStress(a, w), now)
		if err != nil {
			return Result{}, err
		}
		res.EndedAlerts = ended
	}

	res.Alert, err = e.alerts.Decide(a, now)
	if err != nil {
		return Result{}, err
	}

	if res.Relevant {
		var created *models.Alert
		if res.Alert.Action == alerting.AlertCreated {
			created = res.Alert.Alert
		}
		res.Recommendation, err = e.recs.Generate(a, created, now)
		if err != nil {
			return Result{}, err
		}
	}
	return res, nil
}

// secondOpinion scores the reading heuristically for blending resolvers when
// another scorer produced a.
func (e *Engine) secondOpinion(reading models.Reading, w window.Window, a models.RiskAssessment) []models.RiskAssessment {
	if _, ok := e.resolver.(risk.PassThrough); ok || a.Scorer == risk.HeuristicName {
		return nil
	}
	h, err := e.heuristic.Score(reading, w)
	if err != nil {
		return nil
	}
	return []models.RiskAssessment{h}
}

// heuristicStress is the stress score stabilization is judged on, whichever scorer ran.
func (e *Engine) heuristicStress(a models.RiskAssessment, w window.Window) float64 {
	if a.Scorer == risk.HeuristicName {
		return a.StressScore
	}
	return risk.StressScore(window.Compute(w.Values(), e.params.Trend), e.params.Stress)
}

// Warm seeds an unseen officer's window from history. It is a no-op for officers
// the engine already tracks. Invalid history entries are skipped.
func (e *Engine) Warm(ctx context.Context, hp HistoryProvider, subjectID string) error {
	if hp == nil || e.windows.Has(subjectID) {
		return nil
	}
	history, err := hp.RecentReadings(ctx, subjectID, e.windows.Capacity())
	if err != nil {
		return fmt.Errorf("load history for %s: %w", subjectID, err)
	}
	e.Seed(subjectID, history)
	return nil
}

// Seed loads newest-first history for an unseen officer and reports whether it was applied.
func (e *Engine) Seed(subjectID string, history []models.Reading) bool {
	valid := make([]models.Reading, 0, len(history))
	for _, r := range history {
		if e.Validate(subjectID, r.Value) == nil {
			r.SubjectID = subjectID
			valid = append(valid, r)
		}
	}
	if len(valid) == 0 {
		return false
	}
	seeded := e.windows.Seed(subjectID, valid)
	if seeded {
		e.logger.Debug("Seeded window from history",
			zap.String("subject_id", subjectID),
			zap.Int("readings", len(valid)),
		)
	}
	return seeded
}

// Window returns a snapshot of the officer's current window.
func (e *Engine) Window(subjectID string) (window.Window, bool) {
	return e.windows.Get(subjectID)
}

// RestoreAlerts loads alerts from durable storage, typically at startup.
func (e *Engine) RestoreAlerts(alerts []*models.Alert) error {
	for _, a := range alerts {
		if err := e.alerts.Restore(a); err != nil {
			return fmt.Errorf("restore alert %s: %w", a.ID, err)
		}
	}
	return nil
}

// RestoreRecommendations loads pending recommendations from durable storage so
// deduplication survives a restart.
func (e *Engine) RestoreRecommendations(recs []*models.Recommendation) error {
	for _, rec := range recs {
		if _, err := e.recStore.Get(rec.ID); err == nil {
			continue
		}
		if err := e.recStore.Create(rec); err != nil {
			return fmt.Errorf("restore recommendation %s: %w", rec.ID, err)
		}
	}
	return nil
}

// Alert returns the alert from memory, or from the archive when memory no longer holds it.
func (e *Engine) Alert(ctx context.Context, id string) (*models.Alert, error) {
	alert, err := e.alerts.Get(id)
	if errors.Is(err, alerting.ErrAlertNotFound) && e.archive != nil {
		return e.archive.Alert(ctx, id)
	}
	return alert, err
}

func (e *Engine) AcknowledgeAlert(ctx context.Context, id string) (*models.Alert, error) {
	return e.alertAction(ctx, id, func(now time.Time) (*models.Alert, error) {
		return e.alerts.Acknowledge(id, now)
	})
}

func (e *Engine) ResolveAlert(ctx context.Context, id, notes string) (*models.Alert, error) {
	return e.alertAction(ctx, id, func(now time.Time) (*models.Alert, error) {
		return e.alerts.Resolve(id, notes, now)
	})
}

func (e *Engine) DismissAlert(ctx context.Context, id, notes string) (*models.Alert, error) {
	return e.alertAction(ctx, id, func(now time.Time) (*models.Alert, error) {
		return e.alerts.Dismiss(id, notes, now)
	})
}

// ApplyAlertAction dispatches acknowledge, resolve or dismiss by name.
func (e *Engine) ApplyAlertAction(ctx context.Context, id, action, notes string) (*models.Alert, error) {
	switch action {
	case "acknowledge", "ack":
		return e.AcknowledgeAlert(ctx, id)
	case "resolve":
		return e.ResolveAlert(ctx, id, notes)
	case "dismiss":
		return e.DismissAlert(ctx, id, notes)
	}
	return nil, fmt.Errorf("%w %q", ErrUnknownAction, action)
}

// alertAction applies a transition under the officer's lock. An archived alert is
// loaded back into memory first; its age keeps it out of deduplication.
func (e *Engine) alertAction(ctx context.Context, id string, apply func(now time.Time) (*models.Alert, error)) (*models.Alert, error) {
	alert, err := e.Alert(ctx, id)
	if err != nil {
		return nil, err
	}
	unlock := e.locks.lock(alert.SubjectID)
	defer unlock()
	if err := e.alerts.Restore(alert); err != nil {
		return nil, fmt.Errorf("restore alert %s: %w", id, err)
	}
	return apply(e.now())
}

// Recommendation returns the recommendation from memory, or from the archive.
func (e *Engine) Recommendation(ctx context.Context, id string) (*models.Recommendation, error) {
	rec, err := e.recStore.Get(id)
	if errors.Is(err, alerting.ErrRecommendationNotFound) && e.archive != nil {
		return e.archive.Recommendation(ctx, id)
	}
	return rec, err
}

// ApplyRecommendationAction acknowledges or resolves a recommendation by name.
func (e *Engine) ApplyRecommendationAction(ctx context.Context, id, action string) (*models.Recommendation, error) {
	var status models.RecommendationStatus
	switch action {
	case "acknowledge", "ack":
		status = models.RecommendationAcknowledged
	case "resolve":
		status = models.RecommendationResolved
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownAction, action)
	}

	rec, err := e.Recommendation(ctx, id)
	if err != nil {
		return nil, err
	}
	unlock := e.locks.lock(rec.SubjectID)
	defer unlock()
	if _, err := e.recStore.Get(id); err != nil {
		if err := e.recStore.Create(rec); err != nil {
			return nil, fmt.Errorf("restore recommendation %s: %w", id, err)
		}
	}
	return e.recStore.SetStatus(id, status, e.now())
}

// PruneIdle drops windows of officers with no reading for idle and returns how many were dropped.
func (e *Engine) PruneIdle(idle time.Duration) int {
	cutoff := e.now().Add(-idle)
	removed := 0
	for _, id := range e.windows.IdleSubjects(cutoff) {
		unlock := e.locks.lock(id)
		if e.windows.Remove(id, cutoff) {
			removed++
		}
		unlock()
	}
	return removed
}

// PruneHistory forgets in-memory alerts and recommendations older than retention.
// With an archive configured they stay reachable for human actions.
func (e *Engine) PruneHistory(retention time.Duration) (alerts, recommendations int) {
	cutoff := e.now().Add(-retention)
	return e.alertStore.Prune(cutoff), e.recStore.Prune(cutoff)
}

func (e *Engine) ActiveSubjects() int {
	return e.windows.Len()
}

type subjectLock struct {
	mu   sync.Mutex
	refs int
}

// lockMap hands out one mutex per officer and forgets it once nobody holds or waits on it.
type lockMap struct {
	mu    sync.Mutex
	locks map[string]*subjectLock
}

func (m *lockMap) lock(subjectID string) func() {
	m.mu.Lock()
	l, ok := m.locks[subjectID]
	if !ok {
		l = &subjectLock{}
		m.locks[subjectID] = l
	}
	l.refs++
	m.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		m.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(m.locks, subjectID)
		}
		m.mu.Unlock()
	}
}

func (m *lockMap) size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.locks)
}
