package cli

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"officer-vitals/internal/alerting"
	"officer-vitals/internal/config"
	"officer-vitals/internal/database"
	"officer-vitals/internal/engine"
	"officer-vitals/internal/handler"
	"officer-vitals/internal/models"
	"officer-vitals/internal/risk"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var t0 = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

func decodeLines(t *testing.T, out *bytes.Buffer) []Decision {
	t.Helper()
	var decisions []Decision
	sc := bufio.NewScanner(out)
	for sc.Scan() {
		var d Decision
		require.NoError(t, json.Unmarshal(sc.Bytes(), &d))
		decisions = append(decisions, d)
	}
	require.NoError(t, sc.Err())
	return decisions
}

func TestReplay_DecisionPerLine(t *testing.T) {
	e, err := buildEngine(&config.Config{Scorer: risk.HeuristicName, Engine: config.DefaultEngine()}, zap.NewNop())
	require.NoError(t, err)

	csv := strings.Join([]string{
		"subject_id,heart_rate,timestamp",
		"officer-1,185,2026-03-01T08:00:00Z",
		"officer-1,186,2026-03-01T08:01:00Z",
		"officer-2,72,2026-03-01T08:01:00Z",
		"officer-2,abc,2026-03-01T08:02:00Z",
		"officer-2,500,2026-03-01T08:02:00Z",
		"officer-2,80,yesterday",
	}, "\n")

	var out bytes.Buffer
	stats, err := Replay(e, strings.NewReader(csv), &out)
	require.NoError(t, err)

	decisions := decodeLines(t, &out)
	require.Len(t, decisions, 6)

	assert.Equal(t, 2, decisions[0].Line)
	assert.Equal(t, "created", decisions[0].Alert)
	assert.Equal(t, "CRITICAL", decisions[0].Severity)
	assert.Equal(t, "sustained_critical_high", decisions[0].Pattern)
	assert.Equal(t, "HR_CRITICAL_HIGH", decisions[0].AlertType)
	assert.Equal(t, "created", decisions[0].Recommendation)

	assert.Equal(t, "merged", decisions[1].Alert)
	assert.Equal(t, decisions[0].AlertID, decisions[1].AlertID)
	assert.True(t, decisions[1].Suppressed)

	assert.Equal(t, "none", decisions[2].Alert)
	assert.False(t, decisions[2].Relevant)

	assert.Contains(t, decisions[3].Error, "heart_rate")
	assert.Contains(t, decisions[4].Error, "invalid reading")
	assert.Contains(t, decisions[5].Error, "timestamp")

	assert.Equal(t, int64(3), stats.TotalAssessments)
	assert.Equal(t, int64(1), stats.AlertsCreated)
	assert.Equal(t, int64(1), stats.RejectedReadings)
}

func TestReplay_WithoutHeader(t *testing.T) {
	e, err := buildEngine(&config.Config{Engine: config.DefaultEngine()}, zap.NewNop())
	require.NoError(t, err)

	var out bytes.Buffer
	_, err = Replay(e, strings.NewReader("officer-1,130\n"), &out)
	require.NoError(t, err)

	decisions := decodeLines(t, &out)
	require.Len(t, decisions, 1)
	assert.Equal(t, 1, decisions[0].Line)
	assert.Equal(t, "sustained_elevated", decisions[0].Pattern)
	assert.False(t, decisions[0].Timestamp.IsZero(), "missing timestamps fall back to the clock")
}

func TestBuildEngine_Scorers(t *testing.T) {
	_, err := buildEngine(&config.Config{Scorer: "oracle", Engine: config.DefaultEngine()}, zap.NewNop())
	assert.ErrorContains(t, err, "unknown scorer")
	_, err = buildEngine(&config.Config{Resolver: "average", Engine: config.DefaultEngine()}, zap.NewNop())
	assert.ErrorContains(t, err, "unknown resolver")
	_, err = buildEngine(&config.Config{Resolver: "max", Engine: config.DefaultEngine()}, zap.NewNop())
	assert.NoError(t, err)

	e, err := buildEngine(&config.Config{Scorer: risk.ModelName, ModelPath: filepath.Join(t.TempDir(), "missing.yaml"), Engine: config.DefaultEngine()}, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, risk.ModelName, e.ScorerName())

	res, err := e.Process("officer-1", 185, t0)
	require.NoError(t, err)
	assert.True(t, res.Assessment.Degraded, "a missing artifact degrades to the heuristic")
}

func TestBuildEngine_LoadsModelArtifact(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.yaml")
	artifact := `
alert_classifier:
  intercept: -4
  weights:
    heart_rate: 0.03
anomaly_detector:
  mean:
    heart_rate: 75
  std:
    heart_rate: 10
  threshold: 3
`
	require.NoError(t, os.WriteFile(path, []byte(artifact), 0o644))

	e, err := buildEngine(&config.Config{Scorer: risk.ModelName, ModelPath: path, Engine: config.DefaultEngine()}, zap.NewNop())
	require.NoError(t, err)

	res, err := e.Process("officer-1", 72, t0)
	require.NoError(t, err)
	assert.False(t, res.Assessment.Degraded)
	assert.Equal(t, risk.ModelName, res.Assessment.Scorer)
}

func startService(t *testing.T, dbFile string, now time.Time) (*handler.ReadingProcessor, *database.Repository) {
	t.Helper()
	repo, err := database.NewRepository(dbFile, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(repo.Close)

	cfg := &config.Config{Engine: config.DefaultEngine()}
	e, err := buildEngine(cfg, zap.NewNop(), engine.WithArchive(repo))
	require.NoError(t, err)
	require.NoError(t, restoreState(context.Background(), e, repo, cfg.Engine.Lifecycle, now, zap.NewNop()))
	return handler.NewReadingProcessor(e, handler.WithStore(repo)), repo
}

func TestRestart_KeepsDedupAndReachesOlderAlerts(t *testing.T) {
	ctx := context.Background()
	dbFile := filepath.Join(t.TempDir(), "vitals.db")
	now := time.Now().UTC().Truncate(time.Millisecond)

	before, _ := startService(t, dbFile, now.Add(-15*time.Minute))
	first, err := before.HandleReading(ctx, models.ReadingMessage{
		OfficerID: "officer-1", HeartRate: 190, Timestamp: now.Add(-15 * time.Minute).UnixMilli(),
	}, handler.SourceKafka)
	require.NoError(t, err)
	require.Equal(t, alerting.AlertCreated, first.Alert.Action)
	require.Equal(t, alerting.RecommendationCreated, first.Recommendation.Action)
	alertID := first.Alert.Alert.ID

	after, repo := startService(t, dbFile, now)
	second, err := after.HandleReading(ctx, models.ReadingMessage{
		OfficerID: "officer-1", HeartRate: 190, Timestamp: now.UnixMilli(),
	}, handler.SourceKafka)
	require.NoError(t, err)
	assert.Equal(t, alerting.RecommendationNone, second.Recommendation.Action)
	assert.True(t, second.Recommendation.Suppressed, "pending recommendation from before the restart still counts")
	assert.Equal(t, alerting.AlertCreated, second.Alert.Action, "the old alert is past its cooldown")

	resolved, err := after.ApplyAlertAction(ctx, models.AlertActionPayload{AlertID: alertID, Action: "resolve", Notes: "checked in"})
	require.NoError(t, err)
	assert.Equal(t, models.AlertResolved, resolved.Status)

	stored, err := repo.Alert(ctx, alertID)
	require.NoError(t, err)
	assert.Equal(t, models.AlertResolved, stored.Status)
	assert.Equal(t, "checked in", stored.ResolutionNotes)

	rec, err := after.ApplyRecommendationAction(ctx, first.Recommendation.Recommendation.ID, "acknowledge")
	require.NoError(t, err)
	assert.Equal(t, models.RecommendationAcknowledged, rec.Status)
	storedRec, err := repo.Recommendation(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RecommendationAcknowledged, storedRec.Status)
}
