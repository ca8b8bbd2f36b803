package enrich

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/taxa-enrich/internal/audit"
	"github.com/sells-group/taxa-enrich/internal/classify"
	"github.com/sells-group/taxa-enrich/internal/model"
	"github.com/sells-group/taxa-enrich/internal/source"
	"github.com/sells-group/taxa-enrich/internal/store"
)

type mockSource struct {
	mock.Mock
	name model.Source
}

func (m *mockSource) Name() model.Source { return m.name }

func (m *mockSource) Search(ctx context.Context, q source.Query) source.Result {
	args := m.Called(ctx, q)
	return args.Get(0).(source.Result)
}

func newMockSource(name model.Source) *mockSource {
	return &mockSource{name: name}
}

func query(name string) any {
	return mock.MatchedBy(func(q source.Query) bool { return q.Name == name })
}

func found(src model.Source, id, name string) source.Result {
	return source.Result{
		Status:  200,
		Calls:   1,
		Latency: 40 * time.Millisecond,
		Mode:    model.MatchModeExact,
		Candidates: []model.Candidate{{
			Source:     src,
			ExternalID: id,
			Name:       name,
			Rank:       "species",
			Status:     "accepted",
			Hierarchy:  model.Hierarchy{Kingdom: "Chromista", Genus: "Ecklonia"},
			MatchMode:  model.MatchModeExact,
		}},
	}
}

var (
	alwaysMarine = classify.Func(func(model.Entity) bool { return true })
	neverMarine  = classify.Func(func(model.Entity) bool { return false })
	fixedNow     = func() time.Time { return time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC) }
)

func seed(t *testing.T, st store.Store, entities ...model.Entity) {
	t.Helper()
	_, err := st.SeedTaxa(context.Background(), entities)
	require.NoError(t, err)
}

func allAudit(t *testing.T, st store.Store) []model.AuditRecord {
	t.Helper()
	recs, err := st.ListAudit(context.Background(), audit.Filter{Limit: 1000})
	require.NoError(t, err)
	return recs
}

func TestRun_TerminalFailureFallsBackToGBIF(t *testing.T) {
	st := store.NewMemory()
	seed(t, st, model.Entity{ID: "e1", Name: "Ecklonia radiata", Priority: 3})

	worms := newMockSource(model.SourceWoRMS)
	worms.On("Search", mock.Anything, query("Ecklonia radiata")).Return(source.Result{
		Status: 400, Calls: 1, Kind: source.KindTerminal, Err: errors.New("worms: status 400"),
	})
	gbif := newMockSource(model.SourceGBIF)
	gbif.On("Search", mock.Anything, query("Ecklonia radiata")).Return(found(model.SourceGBIF, "3196215", "Ecklonia radiata"))

	o := New(st, source.NewRegistry(worms, gbif), WithClassifier(alwaysMarine), WithClock(fixedNow))
	stats, err := o.Run(context.Background(), Options{})
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Processed)
	assert.Equal(t, 1, stats.Failures)
	assert.Equal(t, 1, stats.Successes[model.SourceGBIF])
	assert.Equal(t, 2, stats.TotalAPICalls())
	assert.Equal(t, 1, stats.CacheWrites)

	recs := allAudit(t, st)
	require.Len(t, recs, 2)
	bySource := map[model.Source]model.AuditRecord{}
	for _, r := range recs {
		bySource[r.Source] = r
		assert.Equal(t, stats.RunID, r.RunID)
	}
	assert.Equal(t, model.MethodAPIError, bySource[model.SourceWoRMS].Method)
	assert.Equal(t, 400, bySource[model.SourceWoRMS].Status)
	require.NotNil(t, bySource[model.SourceWoRMS].Error)
	assert.Equal(t, model.MethodExact, bySource[model.SourceGBIF].Method)
	require.NotNil(t, bySource[model.SourceGBIF].SelectedID)
	assert.Equal(t, "3196215", *bySource[model.SourceGBIF].SelectedID)

	rec, err := st.GetCache(context.Background(), "e1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "3196215", *rec.GBIFTaxonKey)
	assert.Nil(t, rec.WoRMSAphiaID)
	assert.False(t, rec.NeedsReview)
	assert.Equal(t, "Ecklonia", *rec.Genus)
}

func TestRun_AcceptedWoRMSSkipsGBIF(t *testing.T) {
	st := store.NewMemory()
	seed(t, st, model.Entity{ID: "e1", Name: "Ecklonia radiata"})

	worms := newMockSource(model.SourceWoRMS)
	worms.On("Search", mock.Anything, mock.Anything).Return(found(model.SourceWoRMS, "145728", "Ecklonia radiata"))
	gbif := newMockSource(model.SourceGBIF)

	o := New(st, source.NewRegistry(worms, gbif), WithClassifier(alwaysMarine))
	stats, err := o.Run(context.Background(), Options{})
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Successes[model.SourceWoRMS])
	gbif.AssertNotCalled(t, "Search", mock.Anything, mock.Anything)
	assert.Len(t, allAudit(t, st), 1)
}

func TestRun_ExactSynonymStillFallsBack(t *testing.T) {
	st := store.NewMemory()
	seed(t, st, model.Entity{ID: "e1", Name: "Ecklonia radiata"})

	synonym := found(model.SourceWoRMS, "145728", "Ecklonia radiata")
	synonym.Candidates[0].Status = "unaccepted"
	synonym.Candidates[0].AcceptedID = "1658236"
	worms := newMockSource(model.SourceWoRMS)
	worms.On("Search", mock.Anything, mock.Anything).Return(synonym)
	gbif := newMockSource(model.SourceGBIF)
	gbif.On("Search", mock.Anything, mock.Anything).Return(found(model.SourceGBIF, "3196215", "Ecklonia radiata"))

	o := New(st, source.NewRegistry(worms, gbif), WithClassifier(alwaysMarine))
	stats, err := o.Run(context.Background(), Options{})
	require.NoError(t, err)

	gbif.AssertNumberOfCalls(t, "Search", 1)
	assert.Equal(t, 1, stats.Successes[model.SourceWoRMS])
	assert.Equal(t, 1, stats.Successes[model.SourceGBIF])
	assert.Len(t, allAudit(t, st), 2)

	rec, err := st.GetCache(context.Background(), "e1")
	require.NoError(t, err)
	assert.Equal(t, "145728", *rec.WoRMSAphiaID)
	assert.Equal(t, "unaccepted", *rec.WoRMSStatus)
	assert.Equal(t, "3196215", *rec.GBIFTaxonKey)
}

func TestRun_ReviewMatchStillFallsBack(t *testing.T) {
	st := store.NewMemory()
	seed(t, st, model.Entity{ID: "e1", Name: "Ecklonia radiata"})

	worms := newMockSource(model.SourceWoRMS)
	worms.On("Search", mock.Anything, mock.Anything).Return(found(model.SourceWoRMS, "1", "Ecklonia biruncinata"))
	gbif := newMockSource(model.SourceGBIF)
	gbif.On("Search", mock.Anything, mock.Anything).Return(found(model.SourceGBIF, "2", "Ecklonia radiata"))

	o := New(st, source.NewRegistry(worms, gbif), WithClassifier(alwaysMarine))
	stats, err := o.Run(context.Background(), Options{})
	require.NoError(t, err)

	assert.Equal(t, 1, stats.NeedsReview)
	assert.Equal(t, 1, stats.Successes[model.SourceWoRMS])
	assert.Equal(t, 1, stats.Successes[model.SourceGBIF])

	rec, err := st.GetCache(context.Background(), "e1")
	require.NoError(t, err)
	assert.Equal(t, "1", *rec.WoRMSAphiaID)
	assert.Equal(t, "2", *rec.GBIFTaxonKey)
	assert.True(t, *rec.WoRMSNeedsReview)
	assert.False(t, rec.NeedsReview)
	// Shared fields come from the accepted GBIF match only.
	assert.Equal(t, "Ecklonia radiata", *rec.ScientificName)
}

func TestRun_NoMatch(t *testing.T) {
	st := store.NewMemory()
	seed(t, st, model.Entity{ID: "e1", Name: "Notarealus speciesus"})

	gbif := newMockSource(model.SourceGBIF)
	gbif.On("Search", mock.Anything, mock.Anything).Return(source.Result{Status: 200, Calls: 2, Mode: model.MatchModeFuzzy})

	o := New(st, source.NewRegistry(gbif), WithClassifier(neverMarine))
	stats, err := o.Run(context.Background(), Options{})
	require.NoError(t, err)

	assert.Equal(t, 1, stats.NoMatch)
	assert.Equal(t, 2, stats.APICalls[model.SourceGBIF])
	assert.Equal(t, 0, stats.CacheWrites)

	recs := allAudit(t, st)
	require.Len(t, recs, 1)
	assert.Equal(t, model.MethodNoMatch, recs[0].Method)
	assert.Equal(t, model.ReasonNoMatch, recs[0].ReviewReason)
	assert.True(t, recs[0].NeedsReview)
	assert.Nil(t, recs[0].SelectedID)
	assert.Equal(t, 200, recs[0].Status)

	rec, err := st.GetCache(context.Background(), "e1")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestRun_DryRunParity(t *testing.T) {
	entities := []model.Entity{
		{ID: "e1", Name: "Ecklonia radiata", Priority: 2},
		{ID: "e2", Name: "Thunnus maccoyii", Priority: 1},
	}
	newSources := func() *source.Registry {
		worms := newMockSource(model.SourceWoRMS)
		worms.On("Search", mock.Anything, query("Ecklonia radiata")).Return(source.Result{
			Status: 503, Calls: 3, Kind: source.KindTransient, Err: errors.New("worms: status 503"),
		})
		worms.On("Search", mock.Anything, query("Thunnus maccoyii")).Return(found(model.SourceWoRMS, "127029", "Thunnus maccoyii"))
		gbif := newMockSource(model.SourceGBIF)
		gbif.On("Search", mock.Anything, query("Ecklonia radiata")).Return(found(model.SourceGBIF, "3196215", "Ecklonia radiata"))
		return source.NewRegistry(worms, gbif)
	}

	collect := func(dry bool) ([]model.AuditRecord, store.Store) {
		st := store.NewMemory()
		seed(t, st, entities...)
		var got []model.AuditRecord
		obs := ObserverFunc(func(rec *model.AuditRecord) { got = append(got, *rec) })
		o := New(st, newSources(), WithClassifier(alwaysMarine), WithObserver(obs), WithClock(fixedNow))
		_, err := o.Run(context.Background(), Options{DryRun: dry})
		require.NoError(t, err)
		return got, st
	}

	live, _ := collect(false)
	dry, dryStore := collect(true)
	require.Len(t, live, 3)
	require.Len(t, dry, 3)

	for i := range live {
		l, d := live[i], dry[i]
		l.ID, d.ID = "", ""
		l.RunID, d.RunID = "", ""
		assert.Equal(t, l, d, "record %d", i)
	}

	assert.Empty(t, allAudit(t, dryStore))
	for _, e := range entities {
		rec, err := dryStore.GetCache(context.Background(), e.ID)
		require.NoError(t, err)
		assert.Nil(t, rec)
	}
}

func TestRun_SkipsResolvedUnlessForced(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	seed(t, st, model.Entity{ID: "e1", Name: "Ecklonia radiata"})
	key := "3196215"
	require.NoError(t, st.UpsertCache(ctx, &model.CacheRecord{
		EntityID: "e1", GBIFTaxonKey: &key, NeedsReview: true, LastSource: model.SourceGBIF,
	}))

	gbif := newMockSource(model.SourceGBIF)
	gbif.On("Search", mock.Anything, mock.Anything).Return(found(model.SourceGBIF, key, "Ecklonia radiata"))
	o := New(st, source.NewRegistry(gbif), WithClassifier(neverMarine))

	stats, err := o.Run(ctx, Options{Preference: model.PreferenceGBIF})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Skipped)
	assert.Equal(t, 0, stats.Processed)
	gbif.AssertNotCalled(t, "Search", mock.Anything, mock.Anything)

	stats, err = o.Run(ctx, Options{Preference: model.PreferenceGBIF, Force: true})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Processed)
	gbif.AssertNumberOfCalls(t, "Search", 1)

	rec, err := st.GetCache(ctx, "e1")
	require.NoError(t, err)
	assert.False(t, rec.NeedsReview)
}

func TestRun_LimitAndPriorityOrder(t *testing.T) {
	st := store.NewMemory()
	seed(t, st,
		model.Entity{ID: "low", Name: "Quercus robur", Priority: 1},
		model.Entity{ID: "high", Name: "Ecklonia radiata", Priority: 9},
	)
	gbif := newMockSource(model.SourceGBIF)
	gbif.On("Search", mock.Anything, query("Ecklonia radiata")).Return(found(model.SourceGBIF, "1", "Ecklonia radiata"))

	o := New(st, source.NewRegistry(gbif), WithClassifier(neverMarine))
	stats, err := o.Run(context.Background(), Options{Limit: 1, BatchSize: 1})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Pending)
	gbif.AssertExpectations(t)
}

type failingStore struct {
	*store.MemoryStore
}

func (failingStore) UpsertCache(context.Context, *model.CacheRecord) error {
	return errors.New("connection refused")
}

func (failingStore) AppendAudit(context.Context, *model.AuditRecord) error {
	return errors.New("connection refused")
}

func TestRun_StorageUnavailable(t *testing.T) {
	mem := store.NewMemory()
	seed(t, mem,
		model.Entity{ID: "a", Name: "Ecklonia radiata", Priority: 3},
		model.Entity{ID: "b", Name: "Ecklonia radiata", Priority: 2},
		model.Entity{ID: "c", Name: "Ecklonia radiata", Priority: 1},
	)
	gbif := newMockSource(model.SourceGBIF)
	gbif.On("Search", mock.Anything, mock.Anything).Return(found(model.SourceGBIF, "1", "Ecklonia radiata"))

	o := New(failingStore{mem}, source.NewRegistry(gbif), WithClassifier(neverMarine), WithMaxConsecutiveWriteFailures(3))
	stats, err := o.Run(context.Background(), Options{})
	require.ErrorIs(t, err, ErrStorageUnavailable)
	require.NotNil(t, stats)
	assert.Equal(t, 2, stats.Processed)
	assert.Equal(t, 2, stats.AuditFailures)
	assert.Equal(t, 1, stats.CacheWriteFailures)
}

func TestRun_FeedFailure(t *testing.T) {
	o := New(feedErrStore{store.NewMemory()}, source.NewRegistry(newMockSource(model.SourceGBIF)))
	stats, err := o.Run(context.Background(), Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load pending entities")
	require.NotNil(t, stats)
	assert.Equal(t, 0, stats.Processed)
}

func TestRun_NoSourcesConfigured(t *testing.T) {
	st := store.NewMemory()
	seed(t, st, model.Entity{ID: "e1", Name: "Ecklonia radiata"})

	stats, err := New(st, source.NewRegistry()).Run(context.Background(), Options{})
	require.ErrorIs(t, err, ErrNoSources)
	require.NotNil(t, stats)
	assert.Equal(t, 0, stats.Processed)

	gbif := newMockSource(model.SourceGBIF)
	_, err = New(st, source.NewRegistry(gbif)).Run(context.Background(), Options{Preference: model.PreferenceWoRMS})
	require.ErrorIs(t, err, ErrNoSources)
	assert.Contains(t, err.Error(), "worms")
	gbif.AssertNotCalled(t, "Search", mock.Anything, mock.Anything)
}

func TestRun_PlanSkipsUnconfiguredSource(t *testing.T) {
	st := store.NewMemory()
	seed(t, st, model.Entity{ID: "e1", Name: "Ecklonia radiata"})

	gbif := newMockSource(model.SourceGBIF)
	gbif.On("Search", mock.Anything, mock.Anything).Return(found(model.SourceGBIF, "3196215", "Ecklonia radiata"))

	// Marine entities plan WoRMS first; with only GBIF configured the run
	// goes straight to GBIF.
	stats, err := New(st, source.NewRegistry(gbif), WithClassifier(alwaysMarine)).Run(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Processed)
	assert.Equal(t, 1, stats.Successes[model.SourceGBIF])
	assert.Zero(t, stats.APICalls[model.SourceWoRMS])
	recs := allAudit(t, st)
	require.Len(t, recs, 1)
	assert.Equal(t, model.SourceGBIF, recs[0].Source)
}

type feedErrStore struct {
	*store.MemoryStore
}

func (feedErrStore) PendingEntities(context.Context, store.PendingFilter) ([]model.Entity, error) {
	return nil, errors.New("relation \"taxa\" does not exist")
}

func TestRun_CancelledBeforeStart(t *testing.T) {
	st := store.NewMemory()
	seed(t, st, model.Entity{ID: "e1", Name: "Ecklonia radiata"})
	gbif := newMockSource(model.SourceGBIF)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	o := New(st, source.NewRegistry(gbif), WithClassifier(neverMarine))
	stats, err := o.Run(ctx, Options{})
	require.NoError(t, err)
	assert.True(t, stats.Interrupted)
	assert.Equal(t, 0, stats.Processed)
	gbif.AssertNotCalled(t, "Search", mock.Anything, mock.Anything)
}

func TestRun_CancelledMidRunFinishesInFlightEntity(t *testing.T) {
	st := store.NewMemory()
	seed(t, st,
		model.Entity{ID: "a", Name: "Ecklonia radiata", Priority: 2},
		model.Entity{ID: "b", Name: "Quercus robur", Priority: 1},
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gbif := newMockSource(model.SourceGBIF)
	gbif.On("Search", mock.Anything, query("Ecklonia radiata")).
		Run(func(args mock.Arguments) {
			cancel()
			// The in-flight search must not see the cancellation.
			assert.NoError(t, args.Get(0).(context.Context).Err())
		}).
		Return(found(model.SourceGBIF, "3196215", "Ecklonia radiata"))

	o := New(st, source.NewRegistry(gbif), WithClassifier(neverMarine), WithClock(fixedNow))
	stats, err := o.Run(ctx, Options{})
	require.NoError(t, err)
	assert.True(t, stats.Interrupted)
	assert.Equal(t, 1, stats.Processed)
	assert.Equal(t, 1, stats.CacheWrites)
	gbif.AssertNumberOfCalls(t, "Search", 1)
	gbif.AssertNotCalled(t, "Search", mock.Anything, query("Quercus robur"))

	recs := allAudit(t, st)
	require.Len(t, recs, 1)
	assert.Equal(t, "a", recs[0].EntityID)

	done, err := st.GetCache(context.Background(), "a")
	require.NoError(t, err)
	require.NotNil(t, done)
	assert.Equal(t, "3196215", *done.GBIFTaxonKey)

	untouched, err := st.GetCache(context.Background(), "b")
	require.NoError(t, err)
	assert.Nil(t, untouched)
}

func TestRun_Metrics(t *testing.T) {
	st := store.NewMemory()
	seed(t, st, model.Entity{ID: "e1", Name: "Ecklonia radiata"})
	gbif := newMockSource(model.SourceGBIF)
	gbif.On("Search", mock.Anything, mock.Anything).Return(found(model.SourceGBIF, "1", "Ecklonia radiata"))

	m := NewMetrics(prometheus.NewRegistry())
	o := New(st, source.NewRegistry(gbif), WithClassifier(neverMarine), WithMetrics(m))
	_, err := o.Run(context.Background(), Options{})
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.AttemptsTotal.WithLabelValues("gbif", OutcomeAccepted)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.APICallsTotal.WithLabelValues("gbif")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EntitiesTotal.WithLabelValues("processed")))
}

func TestSummary(t *testing.T) {
	s := model.NewRunStats("run-1", false)
	s.Processed = 4
	s.Successes[model.SourceGBIF] = 3
	s.Elapsed = 1500 * time.Millisecond

	rows := Summary(s)
	values := map[string]string{}
	for _, r := range rows {
		values[r.Label] = r.Value
	}
	assert.Equal(t, "4", values["Processed"])
	assert.Equal(t, "3", values["Successes (gbif)"])
	assert.Equal(t, "0", values["Successes (worms)"])
	assert.Equal(t, "1.5s", values["Elapsed"])
	assert.Contains(t, values, "Cache writes")

	dry := model.NewRunStats("run-2", true)
	for _, r := range Summary(dry) {
		assert.NotEqual(t, "Cache writes", r.Label)
	}
}
