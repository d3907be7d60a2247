package alerting

import (
	"fmt"
	"time"

	"officer-vitals/internal/config"
	"officer-vitals/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type RecommendationAction int

const (
	RecommendationNone RecommendationAction = iota
	RecommendationCreated
)

func (a RecommendationAction) String() string {
	if a == RecommendationCreated {
		return "created"
	}
	return "none"
}

func (a RecommendationAction) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// RecommendationOutcome reports a created recommendation, or why none was made.
// Suppressed is set when a template matched but a pending one already exists.
type RecommendationOutcome struct {
	Action         RecommendationAction   `json:"action"`
	Recommendation *models.Recommendation `json:"recommendation,omitempty"`
	Suppressed     bool                   `json:"suppressed,omitempty"`
}

type Generator struct {
	store       RecommendationStore
	window      time.Duration
	stressAlert float64
	logger      *zap.Logger
}

// NewGenerator suppresses new recommendations while a pending one younger than
// the recommendation window exists.
func NewGenerator(store RecommendationStore, p config.Engine, logger *zap.Logger) *Generator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Generator{
		store:       store,
		window:      p.Lifecycle.RecommendationWindow(),
		stressAlert: p.Stress.AlertScore,
		logger:      logger,
	}
}

// templateKey selects by pattern, then high stress, then anomaly.
func (g *Generator) templateKey(a models.RiskAssessment) (string, bool) {
	if _, ok := recommendationTemplates[string(a.PatternType)]; ok {
		return string(a.PatternType), true
	}
	if a.StressScore >= g.stressAlert {
		return templateHighStress, true
	}
	if a.IsAnomaly {
		return templateAnomaly, true
	}
	return "", false
}

// Generate creates a recommendation for a, linked to alert when one was just created.
func (g *Generator) Generate(a models.RiskAssessment, alert *models.Alert, now time.Time) (RecommendationOutcome, error) {
	key, ok := g.templateKey(a)
	if !ok {
		return RecommendationOutcome{Action: RecommendationNone}, nil
	}

	pending, err := g.store.FindActivePending(a.SubjectID, g.window, now)
	if err != nil {
		return RecommendationOutcome{}, fmt.Errorf("find pending recommendation: %w", err)
	}
	if pending != nil {
		g.logger.Debug("Recommendation suppressed, pending one exists",
			zap.String("subject_id", a.SubjectID),
			zap.String("pending_id", pending.ID),
			zap.String("template", key),
		)
		return RecommendationOutcome{Action: RecommendationNone, Suppressed: true}, nil
	}

	t := recommendationTemplates[key]
	rec := &models.Recommendation{
		ID:          uuid.New().String(),
		SubjectID:   a.SubjectID,
		PatternType: a.PatternType,
		Category:    t.category,
		Priority:    t.priority,
		Message:     formatRecommendation(t, a),
		Status:      models.RecommendationPending,
		StressScore: a.StressScore,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if alert != nil {
		rec.AlertID = alert.ID
	}
	if err := g.store.Create(rec); err != nil {
		return RecommendationOutcome{}, fmt.Errorf("create recommendation: %w", err)
	}

	g.logger.Info("Recommendation created",
		zap.String("recommendation_id", rec.ID),
		zap.String("subject_id", rec.SubjectID),
		zap.String("category", rec.Category),
		zap.String("priority", rec.Priority),
		zap.String("template", key),
	)
	return RecommendationOutcome{Action: RecommendationCreated, Recommendation: rec}, nil
}
