package search

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"search-authorizer/internal/audit"
	"search-authorizer/internal/features"
	"search-authorizer/internal/metrics"
	"search-authorizer/internal/ml"
	"search-authorizer/internal/storage"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	kentLat  = 51.374468082246494
	kentLong = 0.5604151309456336
)

type event struct {
	kind string
	data any
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []event
}

func (p *recordingPublisher) Publish(kind string, data any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event{kind, data})
}

func (p *recordingPublisher) kinds() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.kind
	}
	return out
}

type fixture struct {
	svc     *Service
	store   *storage.Store
	metrics *metrics.Metrics
	pub     *recordingPublisher
}

func newFixture(t *testing.T, scorer ml.Scorer) fixture {
	t.Helper()

	store, err := storage.New(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	auth, err := ml.NewAuthorizer(0.1)
	require.NoError(t, err)
	auditor, err := audit.NewAuditor(audit.DefaultPolicy())
	require.NoError(t, err)

	m := metrics.NewWithRegistry(prometheus.NewRegistry())
	pub := &recordingPublisher{}

	svc, err := New(Config{
		Reconstructor: features.NewReconstructor(features.DefaultSchema(), features.NewImputer(features.DefaultStationTable())),
		Scorer:        scorer,
		Authorizer:    auth,
		Auditor:       auditor,
		Store:         store,
		Metrics:       m,
		Publisher:     pub,
	})
	require.NoError(t, err)
	return fixture{svc: svc, store: store, metrics: m, pub: pub}
}

func constScorer(p float64) ml.Scorer {
	return ml.ScorerFunc(func(context.Context, features.Row) (float64, error) { return p, nil })
}

func kentObservation(id string) features.Observation {
	op := false
	return features.Observation{
		ID:             id,
		Type:           "Vehicle search",
		Date:           "2020-07-01T21:00:00+00:00",
		Operation:      &op,
		Gender:         "Male",
		AgeRange:       "18-24",
		Ethnicity:      "White",
		Legislation:    "Misuse of Drugs Act 1971 (section 23)",
		ObjectOfSearch: "Controlled drugs",
		Station:        "kent",
	}
}

func TestNew_RequiresDependencies(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestScore_KentEndToEnd(t *testing.T) {
	var seen features.Row
	scorer := ml.ScorerFunc(func(_ context.Context, row features.Row) (float64, error) {
		seen = row
		return 0.15, nil
	})
	f := newFixture(t, scorer)

	d, err := f.svc.Score(context.Background(), kentObservation("kent-1"))
	require.NoError(t, err)

	assert.True(t, d.Outcome, "0.15 > 0.1 authorizes")
	assert.Equal(t, 0.15, d.Probability)
	assert.True(t, d.Imputed)
	assert.False(t, d.Unresolved)

	lat, ok := seen.Get(features.ColLat)
	require.True(t, ok)
	assert.Equal(t, kentLat, lat.Float)
	long, ok := seen.Get(features.ColLong)
	require.True(t, ok)
	assert.Equal(t, kentLong, long.Float)

	stored, err := f.store.GetPrediction("kent-1")
	require.NoError(t, err)
	assert.True(t, stored.Predicted)
	assert.Nil(t, stored.Observation.Latitude, "the stored request is the original one")

	rec, err := f.store.GetFeatures("kent-1")
	require.NoError(t, err)
	assert.True(t, rec.Imputed)

	assert.Equal(t, []string{EventDecision}, f.pub.kinds())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.SearchesScored.WithLabelValues("authorize")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.ImputedCoordinates))
}

func TestScore_ThresholdIsStrict(t *testing.T) {
	f := newFixture(t, constScorer(0.1))

	d, err := f.svc.Score(context.Background(), kentObservation("a"))
	require.NoError(t, err)
	assert.False(t, d.Outcome)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.SearchesScored.WithLabelValues("deny")))
}

func TestScore_Duplicate(t *testing.T) {
	f := newFixture(t, constScorer(0.5))

	_, err := f.svc.Score(context.Background(), kentObservation("dup"))
	require.NoError(t, err)

	d, err := f.svc.Score(context.Background(), kentObservation("dup"))
	assert.ErrorIs(t, err, storage.ErrDuplicateObservation)
	assert.True(t, d.Outcome, "a duplicate still gets a decision")
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.DuplicateObservations))
	assert.Equal(t, []string{EventDecision}, f.pub.kinds())

	n, err := f.svc.Stored()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestScore_ScorerFailure(t *testing.T) {
	boom := errors.New("model crashed")
	f := newFixture(t, ml.ScorerFunc(func(context.Context, features.Row) (float64, error) { return 0, boom }))

	_, err := f.svc.Score(context.Background(), kentObservation("a"))
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.ScoringFailures))

	_, err = f.store.GetPrediction("a")
	assert.ErrorIs(t, err, storage.ErrNotFound, "failed scoring stores nothing")
}

func TestScore_InvalidProbability(t *testing.T) {
	f := newFixture(t, constScorer(1.5))

	_, err := f.svc.Score(context.Background(), kentObservation("a"))
	assert.ErrorIs(t, err, ml.ErrInvalidProbability)
}

func TestScore_InvalidDate(t *testing.T) {
	f := newFixture(t, constScorer(0.5))

	obs := kentObservation("a")
	obs.Date = "yesterday"
	_, err := f.svc.Score(context.Background(), obs)
	assert.ErrorIs(t, err, features.ErrInvalidTimestamp)
}

func TestPredict_DoesNotStore(t *testing.T) {
	f := newFixture(t, constScorer(0.5))

	d, err := f.svc.Predict(context.Background(), kentObservation("a"))
	require.NoError(t, err)
	assert.True(t, d.Outcome)
	assert.Equal(t, 0.1, d.Threshold)

	n, err := f.svc.Stored()
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, f.pub.kinds())
}

func TestReportOutcome(t *testing.T) {
	f := newFixture(t, constScorer(0.5))
	ctx := context.Background()

	_, err := f.svc.Score(ctx, kentObservation("a"))
	require.NoError(t, err)

	p, err := f.svc.ReportOutcome(ctx, "a", false)
	require.NoError(t, err)
	assert.True(t, p.Predicted)
	require.NotNil(t, p.Actual)
	assert.False(t, *p.Actual)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.OutcomesReported.WithLabelValues("fp")))

	_, err = f.svc.ReportOutcome(ctx, "a", true)
	assert.ErrorIs(t, err, storage.ErrOutcomeAlreadySet)

	_, err = f.svc.ReportOutcome(ctx, "missing", true)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	assert.Equal(t, []string{EventDecision, EventOutcome}, f.pub.kinds())
}

func TestAudit_OverStoredOutcomes(t *testing.T) {
	f := newFixture(t, constScorer(0.5))
	ctx := context.Background()

	// Two stations with 30 resolved searches each; precision 0.5 in kent and
	// 0.8 in surrey.
	for i := 0; i < 30; i++ {
		kent := kentObservation("kent-" + strconv.Itoa(i))
		surrey := kentObservation("surrey-" + strconv.Itoa(i))
		surrey.Station = "surrey"

		_, err := f.svc.Score(ctx, kent)
		require.NoError(t, err)
		_, err = f.svc.Score(ctx, surrey)
		require.NoError(t, err)

		_, err = f.svc.ReportOutcome(ctx, kent.ID, i < 15)
		require.NoError(t, err)
		_, err = f.svc.ReportOutcome(ctx, surrey.ID, i < 24)
		require.NoError(t, err)
	}
	// Unresolved predictions are not audited.
	_, err := f.svc.Score(ctx, kentObservation("pending"))
	require.NoError(t, err)

	rep, err := f.svc.Audit(ctx, storage.Window{})
	require.NoError(t, err)
	assert.Equal(t, 60, rep.Samples)
	require.True(t, rep.AcrossStation.Defined)
	assert.InDelta(t, 0.3, rep.AcrossStation.Value, 1e-9)
	assert.Equal(t, 60.0, testutil.ToFloat64(f.metrics.AuditedSamples))

	kinds := f.pub.kinds()
	assert.Equal(t, EventAudit, kinds[len(kinds)-1])
}

func TestAudit_Window(t *testing.T) {
	f := newFixture(t, constScorer(0.5))
	ctx := context.Background()

	for i := 0; i < 30; i++ {
		obs := kentObservation("old-" + strconv.Itoa(i))
		_, err := f.svc.Score(ctx, obs)
		require.NoError(t, err)
		_, err = f.svc.ReportOutcome(ctx, obs.ID, true)
		require.NoError(t, err)
	}
	time.Sleep(2 * time.Millisecond)
	cutoff := time.Now().UTC()
	time.Sleep(2 * time.Millisecond)
	for i := 0; i < 30; i++ {
		obs := kentObservation("new-" + strconv.Itoa(i))
		_, err := f.svc.Score(ctx, obs)
		require.NoError(t, err)
		_, err = f.svc.ReportOutcome(ctx, obs.ID, i < 6)
		require.NoError(t, err)
	}

	recent, err := f.svc.Audit(ctx, storage.Window{From: cutoff})
	require.NoError(t, err)
	assert.Equal(t, 30, recent.Samples)
	require.Len(t, recent.Stations, 1)
	assert.InDelta(t, 0.2, recent.Stations[0].Precision.Value, 1e-12)

	earlier, err := f.svc.Audit(ctx, storage.Window{To: cutoff})
	require.NoError(t, err)
	assert.Equal(t, 30, earlier.Samples)
	assert.InDelta(t, 1.0, earlier.Stations[0].Precision.Value, 1e-12)

	all, err := f.svc.Audit(ctx, storage.Window{})
	require.NoError(t, err)
	assert.Equal(t, 60, all.Samples)
}

func TestSamplesFromPredictions(t *testing.T) {
	yes := true
	preds := []storage.Prediction{
		{ObservationID: "a", Observation: kentObservation("a"), Predicted: true, Actual: &yes},
		{ObservationID: "b", Observation: kentObservation("b"), Predicted: true},
	}

	samples := SamplesFromPredictions(preds)
	require.Len(t, samples, 1)
	assert.Equal(t, audit.GroupKeys{Station: "kent", Ethnicity: "White", Gender: "Male"}, samples[0].GroupKeys)
	assert.True(t, samples[0].Predicted)
	assert.True(t, samples[0].Actual)
}
