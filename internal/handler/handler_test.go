package handler

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"officer-vitals/internal/alerting"
	"officer-vitals/internal/config"
	"officer-vitals/internal/engine"
	"officer-vitals/internal/models"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var t0 = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

type fakeStore struct {
	mu              sync.Mutex
	readings        []models.Reading
	assessments     []models.RiskAssessment
	alerts          map[string]*models.Alert
	recommendations []*models.Recommendation
	err             error
}

func newFakeStore() *fakeStore {
	return &fakeStore{alerts: map[string]*models.Alert{}}
}

func (f *fakeStore) SaveReading(_ context.Context, r models.Reading) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.readings = append(f.readings, r)
	return nil
}

func (f *fakeStore) SaveAssessment(_ context.Context, a models.RiskAssessment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.assessments = append(f.assessments, a)
	return nil
}

func (f *fakeStore) SaveAlerts(_ context.Context, alerts ...*models.Alert) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	for _, a := range alerts {
		f.alerts[a.ID] = a.Clone()
	}
	return nil
}

func (f *fakeStore) SaveRecommendation(_ context.Context, rec *models.Recommendation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.recommendations = append(f.recommendations, rec)
	return nil
}

type fakeNotifier struct {
	mu     sync.Mutex
	alerts []*models.Alert
	err    error
}

func (f *fakeNotifier) NotifyAlert(_ context.Context, a *models.Alert) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alerts = append(f.alerts, a)
	return f.err
}

type fakeCache struct {
	pushed []models.Reading
}

func (f *fakeCache) Push(_ context.Context, r models.Reading) error {
	f.pushed = append(f.pushed, r)
	return nil
}

type fakeHistory struct {
	readings []models.Reading
}

func (f *fakeHistory) RecentReadings(_ context.Context, _ string, limit int) ([]models.Reading, error) {
	if len(f.readings) > limit {
		return f.readings[:limit], nil
	}
	return f.readings, nil
}

func newProcessor(opts ...Option) (*ReadingProcessor, *engine.Engine) {
	e := engine.New(config.DefaultEngine(), engine.WithClock(func() time.Time { return t0.Add(time.Hour) }))
	return NewReadingProcessor(e, opts...), e
}

func readingMsg(t *testing.T, officer string, hr float64, ts time.Time) []byte {
	t.Helper()
	b, err := json.Marshal(models.ReadingMessage{OfficerID: officer, DeviceID: "band-7", HeartRate: hr, Timestamp: ts.UnixMilli()})
	require.NoError(t, err)
	return b
}

func TestRouteReadingMessage_PersistsAndNotifies(t *testing.T) {
	store := newFakeStore()
	notifier := &fakeNotifier{}
	cache := &fakeCache{}
	p, _ := newProcessor(WithStore(store), WithNotifier(notifier), WithCache(cache))

	p.RouteReadingMessage(readingMsg(t, "officer-1", 185, t0))
	p.RouteReadingMessage(readingMsg(t, "officer-1", 186, t0.Add(time.Minute)))

	assert.Len(t, store.readings, 2)
	assert.Len(t, cache.pushed, 2)
	assert.True(t, store.readings[0].Timestamp.Equal(t0))
	assert.Len(t, store.assessments, 2, "critical readings are relevant")
	require.Len(t, store.alerts, 1, "the second reading merges into the first alert")
	for _, a := range store.alerts {
		assert.Equal(t, 2, a.Metadata.SampleCount)
		assert.Equal(t, 186.0, a.HeartRate)
	}
	assert.Len(t, store.recommendations, 1, "the second recommendation is suppressed")

	require.Len(t, notifier.alerts, 1, "merges are not re-notified")
	assert.True(t, notifier.alerts[0].RequiresImmediateAction)
}

func TestRouteReadingMessage_NormalReadingSkipsAssessment(t *testing.T) {
	store := newFakeStore()
	p, _ := newProcessor(WithStore(store))

	p.RouteReadingMessage(readingMsg(t, "officer-1", 72, t0))

	assert.Len(t, store.readings, 1)
	assert.Empty(t, store.assessments)
	assert.Empty(t, store.alerts)
}

func TestRouteReadingMessage_RejectsBadInput(t *testing.T) {
	store := newFakeStore()
	p, e := newProcessor(WithStore(store))

	p.RouteReadingMessage([]byte("{not json"))
	p.RouteReadingMessage(readingMsg(t, "", 80, t0))
	p.RouteReadingMessage(readingMsg(t, "officer-1", 900, t0))

	assert.Empty(t, store.readings)
	assert.Zero(t, e.ActiveSubjects())
	assert.Equal(t, int64(2), e.Stats().RejectedReadings)
}

func TestHandleReading_StoreFailureKeepsDecision(t *testing.T) {
	store := newFakeStore()
	store.err = errors.New("database is locked")
	notifier := &fakeNotifier{err: errors.New("broker down")}
	p, e := newProcessor(WithStore(store), WithNotifier(notifier), WithLogger(zap.NewNop()))

	res, err := p.HandleReading(context.Background(), models.ReadingMessage{OfficerID: "officer-1", HeartRate: 185, Timestamp: t0.UnixMilli()}, SourceHTTP)
	require.NoError(t, err)
	assert.Equal(t, alerting.AlertCreated, res.Alert.Action)

	got, err := e.Alert(context.Background(), res.Alert.Alert.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AlertPending, got.Status)
}

func TestHandleReading_MissingTimestampUsesEngineClock(t *testing.T) {
	p, _ := newProcessor()

	res, err := p.HandleReading(context.Background(), models.ReadingMessage{OfficerID: "officer-1", HeartRate: 80}, SourceHTTP)
	require.NoError(t, err)
	assert.True(t, res.Reading.Timestamp.Equal(t0.Add(time.Hour)))
}

func TestHandleReading_WarmsFromHistory(t *testing.T) {
	history := &fakeHistory{readings: []models.Reading{
		{Value: 150, Timestamp: t0.Add(-2 * time.Second)},
		{Value: 150, Timestamp: t0.Add(-time.Second)},
	}}
	p, e := newProcessor(WithHistory(history))

	res, err := p.HandleReading(context.Background(), models.ReadingMessage{OfficerID: "officer-1", HeartRate: 150, Timestamp: t0.UnixMilli()}, SourceKafka)
	require.NoError(t, err)

	w, ok := e.Window("officer-1")
	require.True(t, ok)
	assert.Equal(t, 3, w.Len())
	assert.Equal(t, models.PatternSustainedHigh, res.Assessment.PatternType)
}

func TestApplyAlertAction_PersistsTransition(t *testing.T) {
	store := newFakeStore()
	p, _ := newProcessor(WithStore(store))

	res, err := p.HandleReading(context.Background(), models.ReadingMessage{OfficerID: "officer-1", HeartRate: 185, Timestamp: t0.UnixMilli()}, SourceKafka)
	require.NoError(t, err)
	id := res.Alert.Alert.ID

	alert, err := p.ApplyAlertAction(context.Background(), models.AlertActionPayload{AlertID: id, Action: "Acknowledge"})
	require.NoError(t, err)
	assert.Equal(t, models.AlertAcknowledged, alert.Status)
	assert.Equal(t, models.AlertAcknowledged, store.alerts[id].Status)

	_, err = p.ApplyAlertAction(context.Background(), models.AlertActionPayload{AlertID: id, Action: "escalate"})
	assert.ErrorIs(t, err, engine.ErrUnknownAction)
}

func TestApplyRecommendationAction_PersistsStatus(t *testing.T) {
	store := newFakeStore()
	p, _ := newProcessor(WithStore(store))

	res, err := p.HandleReading(context.Background(), models.ReadingMessage{OfficerID: "officer-1", HeartRate: 185, Timestamp: t0.UnixMilli()}, SourceKafka)
	require.NoError(t, err)
	id := res.Recommendation.Recommendation.ID

	rec, err := p.ApplyRecommendationAction(context.Background(), id, "Resolve")
	require.NoError(t, err)
	assert.Equal(t, models.RecommendationResolved, rec.Status)
	require.Len(t, store.recommendations, 2)
	assert.Equal(t, id, store.recommendations[1].ID)
	assert.Equal(t, models.RecommendationResolved, store.recommendations[1].Status)

	_, err = p.ApplyRecommendationAction(context.Background(), id, "acknowledge")
	assert.ErrorIs(t, err, alerting.ErrTerminalRecommendation)
	_, err = p.ApplyRecommendationAction(context.Background(), "missing", "resolve")
	assert.ErrorIs(t, err, alerting.ErrRecommendationNotFound)
	assert.Len(t, store.recommendations, 2)
}

func TestHousekeep_ReportsAndPrunes(t *testing.T) {
	later := time.Now().Add(time.Hour)
	e := engine.New(config.DefaultEngine(), engine.WithClock(func() time.Time { return later }))
	p := NewReadingProcessor(e)

	p.RouteReadingMessage(readingMsg(t, "officer-1", 80, t0))
	p.RouteReadingMessage(readingMsg(t, "officer-1", 82, t0.Add(time.Second)))
	p.RouteReadingMessage(readingMsg(t, "officer-2", 75, t0))

	report := p.Housekeep(30*time.Minute, 24*time.Hour)
	assert.Equal(t, 2, report.PrunedWindows, "engine clock is an hour past the last append")
	assert.Zero(t, e.ActiveSubjects())
	require.Len(t, report.Streams, 2)
	assert.Equal(t, 2, report.Streams["officer-1"].Readings)
	assert.Equal(t, 82.0, report.Streams["officer-1"].LastValue)
	assert.Contains(t, report.String(), "officer-2")

	again := p.Housekeep(30*time.Minute, 24*time.Hour)
	assert.Empty(t, again.Streams)
	assert.Contains(t, again.String(), "No readings received")
}

func TestRunHousekeepingCycle_StopsOnCancel(t *testing.T) {
	p, _ := newProcessor()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		p.RunHousekeepingCycle(ctx, 10*time.Millisecond, time.Hour, time.Hour)
		close(done)
	}()
	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("housekeeping did not stop")
	}
}

// --- MQTT ---

type fakeToken struct {
	err     error
	timeout bool
}

func (t *fakeToken) Wait() bool                       { return !t.timeout }
func (t *fakeToken) WaitTimeout(_ time.Duration) bool { return !t.timeout }
func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t *fakeToken) Error() error { return t.err }

type fakePublisher struct {
	topic   string
	qos     byte
	payload []byte
	token   *fakeToken
}

func (f *fakePublisher) Publish(topic string, qos byte, _ bool, payload interface{}) mqtt.Token {
	f.topic = topic
	f.qos = qos
	f.payload = payload.([]byte)
	return f.token
}

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 1 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 1 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

func TestMQTTNotifier_PublishesNotification(t *testing.T) {
	pub := &fakePublisher{token: &fakeToken{}}
	n := NewMQTTNotifier(pub, "officers/alerts/immediate")

	alert := &models.Alert{
		ID: "a-1", SubjectID: "officer-1", AlertType: models.AlertHRCriticalHigh,
		Severity: models.SeverityCritical, Message: "critical", ActionRequired: "check", HeartRate: 185, CreatedAt: t0,
	}
	require.NoError(t, n.NotifyAlert(context.Background(), alert))

	assert.Equal(t, "officers/alerts/immediate", pub.topic)
	assert.Equal(t, byte(1), pub.qos)
	var got map[string]any
	require.NoError(t, json.Unmarshal(pub.payload, &got))
	assert.Equal(t, "a-1", got["alertId"])
	assert.Equal(t, "officer-1", got["officerId"])
	assert.Equal(t, "CRITICAL", got["severity"])
	assert.Equal(t, "HR_CRITICAL_HIGH", got["alertType"])
}

func TestMQTTNotifier_Errors(t *testing.T) {
	alert := &models.Alert{ID: "a-1"}

	n := NewMQTTNotifier(&fakePublisher{token: &fakeToken{timeout: true}}, "t")
	assert.ErrorContains(t, n.NotifyAlert(context.Background(), alert), "timed out")

	brokerErr := errors.New("not connected")
	n = NewMQTTNotifier(&fakePublisher{token: &fakeToken{err: brokerErr}}, "t")
	assert.ErrorIs(t, n.NotifyAlert(context.Background(), alert), brokerErr)
}

func TestMessageHandler_RoutesAlertActions(t *testing.T) {
	store := newFakeStore()
	p, e := newProcessor(WithStore(store))
	cfg := &config.Config{MQTTActionTopic: "officers/alerts/action"}
	handle := NewMessageHandler(cfg, p, zap.NewNop())

	res, err := p.HandleReading(context.Background(), models.ReadingMessage{OfficerID: "officer-1", HeartRate: 185, Timestamp: t0.UnixMilli()}, SourceKafka)
	require.NoError(t, err)
	id := res.Alert.Alert.ID

	payload, _ := json.Marshal(models.AlertActionPayload{AlertID: id, Action: "resolve", Notes: "officer fine"})
	handle(nil, fakeMessage{topic: "officers/alerts/other", payload: payload})
	got, err := e.Alert(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.AlertPending, got.Status, "unknown topics are ignored")

	handle(nil, fakeMessage{topic: cfg.MQTTActionTopic, payload: payload})
	got, err = e.Alert(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.AlertResolved, got.Status)
	assert.Equal(t, "officer fine", got.ResolutionNotes)
	assert.Equal(t, models.AlertResolved, store.alerts[id].Status)

	handle(nil, fakeMessage{topic: cfg.MQTTActionTopic, payload: []byte("garbage")})
	handle(nil, fakeMessage{topic: cfg.MQTTActionTopic, payload: payload})
	got, _ = e.Alert(context.Background(), id)
	assert.Equal(t, models.AlertResolved, got.Status, "terminal alerts stay put")
}
