// Package metrics holds the Prometheus collectors shared by the ingestion and HTTP paths.
package metrics

import (
	"officer-vitals/internal/alerting"
	"officer-vitals/internal/engine"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "endpoint", "status"})

	RequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "endpoint"})

	readingsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vitals_readings_processed_total",
		Help: "Readings processed by the engine, by source",
	}, []string{"source"})

	readingsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vitals_readings_rejected_total",
		Help: "Readings rejected before reaching the window, by source",
	}, []string{"source"})

	relevantAssessments = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vitals_relevant_assessments_total",
		Help: "Assessments that passed the relevance filter",
	})

	degradedAssessments = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vitals_degraded_assessments_total",
		Help: "Assessments produced by the fallback scorer",
	})

	anomaliesDetected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vitals_anomalies_detected_total",
		Help: "Total number of anomalies detected",
	})

	alertsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vitals_alerts_created_total",
		Help: "Alerts created, by severity",
	}, []string{"severity"})

	alertsMerged = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vitals_alerts_merged_total",
		Help: "Readings merged into an active alert",
	})

	patternsEnded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vitals_patterns_ended_total",
		Help: "Alerts whose episode ended after stabilization",
	})

	recommendations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vitals_recommendations_total",
		Help: "Recommendation decisions, by outcome",
	}, []string{"outcome"})

	alertActions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vitals_alert_actions_total",
		Help: "Human alert actions, by action and result",
	}, []string{"action", "result"})

	recommendationActions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vitals_recommendation_actions_total",
		Help: "Human recommendation actions, by action and result",
	}, []string{"action", "result"})

	persistFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vitals_persist_failures_total",
		Help: "Failed writes to durable storage, by record kind",
	}, []string{"kind"})

	notifyFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vitals_notify_failures_total",
		Help: "Failed immediate-action notifications",
	})

	ActiveSubjects = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vitals_active_subjects",
		Help: "Officers with a live window",
	})
)

// ObserveResult mirrors one engine decision into the collectors.
func ObserveResult(source string, res engine.Result) {
	readingsProcessed.WithLabelValues(source).Inc()
	if res.Relevant {
		relevantAssessments.Inc()
	}
	if res.Assessment.Degraded {
		degradedAssessments.Inc()
	}
	if res.Assessment.IsAnomaly {
		anomaliesDetected.Inc()
	}
	switch res.Alert.Action {
	case alerting.AlertCreated:
		alertsCreated.WithLabelValues(res.Alert.Alert.Severity.String()).Inc()
	case alerting.AlertMerged:
		alertsMerged.Inc()
	}
	patternsEnded.Add(float64(len(res.EndedAlerts)))
	switch {
	case res.Recommendation.Action == alerting.RecommendationCreated:
		recommendations.WithLabelValues("created").Inc()
	case res.Recommendation.Suppressed:
		recommendations.WithLabelValues("suppressed").Inc()
	}
}

func ReadingRejected(source string) {
	readingsRejected.WithLabelValues(source).Inc()
}

func AlertAction(action string, err error) {
	switch action {
	case "acknowledge", "ack", "resolve", "dismiss":
	default:
		action = "unknown"
	}
	alertActions.WithLabelValues(action, result(err)).Inc()
}

func RecommendationAction(action string, err error) {
	switch action {
	case "acknowledge", "ack", "resolve":
	default:
		action = "unknown"
	}
	recommendationActions.WithLabelValues(action, result(err)).Inc()
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func PersistFailed(kind string) {
	persistFailures.WithLabelValues(kind).Inc()
}

func NotifyFailed() {
	notifyFailures.Inc()
}
