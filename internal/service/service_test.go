package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"mortgage-rate-alerts/internal/config"
	"mortgage-rate-alerts/internal/dispatch"
	"mortgage-rate-alerts/internal/fetcher"
	"mortgage-rate-alerts/internal/matcher"
	"mortgage-rate-alerts/internal/series"
	"mortgage-rate-alerts/internal/storage"
)

type stubFetcher struct {
	failures int
	calls    int
	result   fetcher.FetchResult
}

func (f *stubFetcher) FetchCurrent(ctx context.Context) (fetcher.FetchResult, error) {
	f.calls++
	if f.calls <= f.failures {
		return fetcher.FetchResult{}, errors.New("publisher unreachable")
	}
	return f.result, nil
}

type stubStore struct {
	upserted [][]storage.RateObservation
	current  map[series.Key]storage.RateObservation
	failUp   bool
}

func (s *stubStore) UpsertObservations(_ context.Context, observations []storage.RateObservation) error {
	if s.failUp {
		return errors.New("write failed")
	}
	s.upserted = append(s.upserted, observations)
	return nil
}

func (s *stubStore) CurrentByKey(_ context.Context) (map[series.Key]storage.RateObservation, error) {
	return s.current, nil
}

func (s *stubStore) History(_ context.Context, _ series.Key, _ time.Time) ([]storage.RateObservation, error) {
	return nil, nil
}

func (s *stubStore) DeleteObservationsBefore(_ context.Context, _ time.Time) (int64, error) {
	return 0, nil
}

func (s *stubStore) CountObservations(_ context.Context) (int64, error) {
	return 0, nil
}

type stubClients struct {
	clients []storage.ClientTarget
}

func (s *stubClients) ListClientsWithTargetRate(_ context.Context, _ *int64) ([]storage.ClientTarget, error) {
	return s.clients, nil
}

type stubDispatcher struct {
	batches [][]matcher.Candidate
}

func (s *stubDispatcher) Dispatch(_ context.Context, candidates []matcher.Candidate) []dispatch.Result {
	s.batches = append(s.batches, candidates)
	results := make([]dispatch.Result, len(candidates))
	for i, c := range candidates {
		results[i] = dispatch.Result{ClientID: c.ClientID, SentToOwner: true}
	}
	return results
}

func testConfig() *config.Config {
	return &config.Config{
		Scheduler: config.SchedulerConfig{Interval: time.Hour},
		Publisher: config.PublisherConfig{MaxRetries: 2},
		Alerting:  config.AlertingConfig{Enabled: true},
	}
}

func sampleObservation(rate string) storage.RateObservation {
	return storage.RateObservation{
		ObservationDate: time.Date(2026, 8, 29, 0, 0, 0, 0, time.UTC),
		TermYears:       30,
		LoanType:        series.LoanConventional,
		RateValue:       decimal.RequireFromString(rate),
		RecordedAt:      time.Now().UTC(),
		Source:          "test",
	}
}

func TestProcessBucketFullPass(t *testing.T) {
	obs := sampleObservation("6.80")
	store := &stubStore{current: map[series.Key]storage.RateObservation{series.Conv30: obs}}
	clients := &stubClients{clients: []storage.ClientTarget{{
		ClientID:      1,
		OwnerUserID:   10,
		LoanTypeLabel: "30yr",
		TargetRate:    decimal.RequireFromString("6.95"),
	}}}
	dispatched := &stubDispatcher{}
	fetch := &stubFetcher{result: fetcher.FetchResult{
		PublishedOn:  obs.ObservationDate,
		Observations: []storage.RateObservation{obs},
	}}

	svc := New(testConfig(), nil, fetch, store, clients, dispatched, zerolog.Nop())
	if err := svc.ProcessBucket(context.Background(), time.Now()); err != nil {
		t.Fatalf("pass should succeed: %v", err)
	}

	if len(store.upserted) != 1 {
		t.Fatalf("expected one upsert batch, got %d", len(store.upserted))
	}
	if len(dispatched.batches) != 1 || len(dispatched.batches[0]) != 1 {
		t.Fatalf("expected one dispatched candidate, got %+v", dispatched.batches)
	}
	hit := dispatched.batches[0][0]
	if hit.ObservedRate.String() != "6.8" || hit.TargetRate.String() != "6.95" {
		t.Fatalf("unexpected candidate %+v", hit)
	}
}

func TestProcessBucketFetchRetries(t *testing.T) {
	obs := sampleObservation("6.80")
	store := &stubStore{current: map[series.Key]storage.RateObservation{}}
	fetch := &stubFetcher{
		failures: 2,
		result:   fetcher.FetchResult{Observations: []storage.RateObservation{obs}},
	}

	svc := New(testConfig(), nil, fetch, store, &stubClients{}, &stubDispatcher{}, zerolog.Nop())
	if err := svc.ProcessBucket(context.Background(), time.Now()); err != nil {
		t.Fatalf("third attempt should succeed: %v", err)
	}
	if fetch.calls != 3 {
		t.Fatalf("expected 3 fetch attempts, got %d", fetch.calls)
	}
}

func TestProcessBucketFetchFailureLeavesStoreUntouched(t *testing.T) {
	store := &stubStore{}
	fetch := &stubFetcher{failures: 10}

	svc := New(testConfig(), nil, fetch, store, &stubClients{}, &stubDispatcher{}, zerolog.Nop())
	if err := svc.ProcessBucket(context.Background(), time.Now()); err == nil {
		t.Fatal("exhausted retries should surface an error")
	}
	if len(store.upserted) != 0 {
		t.Fatal("failed fetch must not write to the store")
	}
	// MaxRetries=2 means exactly 3 attempts.
	if fetch.calls != 3 {
		t.Fatalf("expected bounded retries, got %d attempts", fetch.calls)
	}
}

func TestProcessBucketUpsertFailureAborts(t *testing.T) {
	obs := sampleObservation("6.80")
	store := &stubStore{failUp: true}
	dispatched := &stubDispatcher{}
	fetch := &stubFetcher{result: fetcher.FetchResult{Observations: []storage.RateObservation{obs}}}

	svc := New(testConfig(), nil, fetch, store, &stubClients{}, dispatched, zerolog.Nop())
	if err := svc.ProcessBucket(context.Background(), time.Now()); err == nil {
		t.Fatal("upsert failure should abort the pass")
	}
	if len(dispatched.batches) != 0 {
		t.Fatal("no dispatch after a failed ingestion")
	}
}

func TestProcessBucketAlertsDisabled(t *testing.T) {
	obs := sampleObservation("6.80")
	store := &stubStore{current: map[series.Key]storage.RateObservation{series.Conv30: obs}}
	dispatched := &stubDispatcher{}
	fetch := &stubFetcher{result: fetcher.FetchResult{Observations: []storage.RateObservation{obs}}}

	cfg := testConfig()
	cfg.Alerting.Enabled = false

	svc := New(cfg, nil, fetch, store, &stubClients{}, dispatched, zerolog.Nop())
	if err := svc.ProcessBucket(context.Background(), time.Now()); err != nil {
		t.Fatalf("pass should succeed: %v", err)
	}
	if len(dispatched.batches) != 0 {
		t.Fatal("alerting disabled must not dispatch")
	}
}
