package service

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"mortgage-rate-alerts/internal/config"
	"mortgage-rate-alerts/internal/dispatch"
	"mortgage-rate-alerts/internal/fetcher"
	"mortgage-rate-alerts/internal/matcher"
	"mortgage-rate-alerts/internal/scheduler"
	"mortgage-rate-alerts/internal/storage"
)

// AlertDispatcher delivers matched candidates.
type AlertDispatcher interface {
	Dispatch(ctx context.Context, candidates []matcher.Candidate) []dispatch.Result
}

// Service orchestrates one pipeline pass: fetch, persist, match, dispatch.
type Service struct {
	scheduler  *scheduler.Scheduler
	fetcher    fetcher.RateFetcher
	store      storage.ObservationStore
	clients    storage.ClientRepository
	dispatcher AlertDispatcher
	logger     zerolog.Logger

	alertsOn   bool
	maxRetries uint64
	locker     storage.AdvisoryLocker
	lockKey    int64
}

// New constructs the monitoring service.
func New(cfg *config.Config, sched *scheduler.Scheduler, rateFetcher fetcher.RateFetcher, store storage.ObservationStore, clients storage.ClientRepository, dispatcher AlertDispatcher, logger zerolog.Logger) *Service {
	var locker storage.AdvisoryLocker
	if l, ok := store.(storage.AdvisoryLocker); ok {
		locker = l
	}

	return &Service{
		scheduler:  sched,
		fetcher:    rateFetcher,
		store:      store,
		clients:    clients,
		dispatcher: dispatcher,
		logger:     logger.With().Str("component", "service").Logger(),
		alertsOn:   cfg.Alerting.Enabled,
		maxRetries: cfg.Publisher.MaxRetries,
		locker:     locker,
		lockKey:    cfg.Scheduler.AdvisoryLockKey,
	}
}

// Run begins the aligned scraping loop.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.scheduler.Run(ctx, s.ProcessBucket)
}

// ProcessBucket 执行单次抓取与告警流程。
func (s *Service) ProcessBucket(ctx context.Context, bucket time.Time) error {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		s.logger.Debug().Time("bucket", bucket).Msg("skip bucket because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	return s.executeBucket(ctx, bucket)
}

func (s *Service) executeBucket(ctx context.Context, bucket time.Time) error {
	result, err := s.fetchWithRetry(ctx)
	if err != nil {
		// The store keeps its last-known values; an empty result is a
		// failed scrape, never "rates are zero".
		s.logger.Error().Err(err).Time("bucket", bucket).Msg("rate fetch failed; store left untouched")
		return fmt.Errorf("fetch current rates: %w", err)
	}

	if s.store != nil {
		if err := s.store.UpsertObservations(ctx, result.Observations); err != nil {
			return fmt.Errorf("ingest observations: %w", err)
		}
	}

	s.logger.Info().
		Time("bucket", bucket).
		Time("published_on", result.PublishedOn).
		Int("observations", len(result.Observations)).
		Msg("observations recorded")

	if !s.alertsOn || s.dispatcher == nil || s.clients == nil || s.store == nil {
		return nil
	}

	current, err := s.store.CurrentByKey(ctx)
	if err != nil {
		return fmt.Errorf("resolve current rates: %w", err)
	}

	clients, err := s.clients.ListClientsWithTargetRate(ctx, nil)
	if err != nil {
		return fmt.Errorf("list client targets: %w", err)
	}

	hits := matcher.FindHits(clients, current)
	if len(hits) == 0 {
		s.logger.Debug().Time("bucket", bucket).Msg("no target-rate hits")
		return nil
	}

	results := s.dispatcher.Dispatch(ctx, hits)
	s.logDispatch(bucket, results)
	return nil
}

func (s *Service) fetchWithRetry(ctx context.Context) (fetcher.FetchResult, error) {
	var result fetcher.FetchResult
	operation := func() error {
		var err error
		result, err = s.fetcher.FetchCurrent(ctx)
		return err
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), s.maxRetries), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return fetcher.FetchResult{}, err
	}
	return result, nil
}

func (s *Service) logDispatch(bucket time.Time, results []dispatch.Result) {
	var sent, suppressed, skipped, failed int
	for _, r := range results {
		switch {
		case r.Suppressed:
			suppressed++
		case r.SkippedPrefs:
			skipped++
		case r.Err != nil && !r.SentToOwner && !r.SentToClient:
			failed++
		default:
			sent++
		}
	}

	s.logger.Info().
		Time("bucket", bucket).
		Int("sent", sent).
		Int("suppressed", suppressed).
		Int("skipped_prefs", skipped).
		Int("failed", failed).
		Msg("alert dispatch complete")
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.lockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
