package risk

import "officer-vitals/internal/models"

// Decision is the canonical severity/anomaly pair consumed downstream.
type Decision struct {
	Severity  models.Severity
	IsAnomaly bool
}

type Resolver interface {
	Resolve(primary models.RiskAssessment, others ...models.RiskAssessment) Decision
}

// PassThrough takes the primary assessment as is.
type PassThrough struct{}

func (PassThrough) Resolve(primary models.RiskAssessment, _ ...models.RiskAssessment) Decision {
	return Decision{Severity: primary.Severity, IsAnomaly: primary.IsAnomaly}
}

// MaxBlend takes the highest severity and flags an anomaly if any assessment does.
type MaxBlend struct{}

func (MaxBlend) Resolve(primary models.RiskAssessment, others ...models.RiskAssessment) Decision {
	d := Decision{Severity: primary.Severity, IsAnomaly: primary.IsAnomaly}
	for _, o := range others {
		d.Severity = models.MaxSeverity(d.Severity, o.Severity)
		d.IsAnomaly = d.IsAnomaly || o.IsAnomaly
	}
	return d
}

// Apply writes the decision back onto the assessment.
func (d Decision) Apply(a *models.RiskAssessment) {
	a.Severity = d.Severity
	a.IsAnomaly = d.IsAnomaly
}
