package risk

import (
	"officer-vitals/internal/models"
	"officer-vitals/internal/window"

	"go.uber.org/zap"
)

// Failover scores with primary and, when it fails, with fallback. Fallback
// assessments are tagged Degraded with the primary's error as the reason.
type Failover struct {
	primary  Scorer
	fallback Scorer
	logger   *zap.Logger
}

func NewFailover(primary, fallback Scorer, logger *zap.Logger) *Failover {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Failover{primary: primary, fallback: fallback, logger: logger}
}

func (f *Failover) Name() string {
	return f.primary.Name()
}

func (f *Failover) Score(current models.Reading, w window.Window) (models.RiskAssessment, error) {
	a, err := f.primary.Score(current, w)
	if err == nil {
		return a, nil
	}

	f.logger.Warn("Primary scorer failed, using fallback",
		zap.String("primary", f.primary.Name()),
		zap.String("fallback", f.fallback.Name()),
		zap.String("subject_id", current.SubjectID),
		zap.Error(err),
	)
	a, ferr := f.fallback.Score(current, w)
	if ferr != nil {
		return a, ferr
	}
	a.Degraded = true
	a.DegradedReason = err.Error()
	return a, nil
}
