package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"mortgage-rate-alerts/internal/alerting"
	"mortgage-rate-alerts/internal/config"
	"mortgage-rate-alerts/internal/dispatch"
	"mortgage-rate-alerts/internal/fetcher"
	"mortgage-rate-alerts/internal/scheduler"
	"mortgage-rate-alerts/internal/service"
	"mortgage-rate-alerts/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) newFetcher() fetcher.RateFetcher {
	return fetcher.NewPublisher(fetcher.PublisherOptions{
		URL:        a.Config.Publisher.URL,
		Timeout:    a.Config.Publisher.RequestTimeout,
		UserAgent:  a.Config.Publisher.UserAgent,
		SourceName: a.Config.Publisher.SourceName,
	}, a.Logger)
}

func (a *App) newSink() alerting.Sink {
	if a.Config.Alerting.Sink.Enabled {
		cfg := a.Config.Alerting.Sink
		return alerting.NewHTTPSink(cfg.BaseURL, cfg.APIKey, cfg.Timeout, a.Logger)
	}
	return nil
}

func (a *App) dispatchOptions() dispatch.Options {
	return dispatch.Options{
		Cooldown:           a.Config.Alerting.Cooldown,
		SendDelay:          a.Config.Alerting.SendDelay,
		ActionURL:          a.Config.Alerting.ActionURL,
		ReferencePrincipal: decimal.NewFromFloat(a.Config.Alerting.ReferencePrincipal),
	}
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

func (a *App) newService(store *storage.Store, sched *scheduler.Scheduler) *service.Service {
	var observations storage.ObservationStore
	var clients storage.ClientRepository
	var dispatcher service.AlertDispatcher

	if store != nil {
		observations = store
		clients = store
		if sink := a.newSink(); sink != nil {
			dispatcher = dispatch.New(store, store, sink, a.dispatchOptions(), a.Logger)
		}
	}

	return service.New(a.Config, sched, a.newFetcher(), observations, clients, dispatcher, a.Logger)
}

// Run executes the long-running monitoring service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; persistence and alerting disabled")
	}
	if closeStore != nil {
		defer closeStore()
	}

	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		AlignToStart: a.Config.Scheduler.AlignToBucket,
		StartupDelay: a.Config.Scheduler.StartupDelay,
		RunOnStart:   a.Config.Scheduler.RunOnStart,
	}, a.Logger)

	svc := a.newService(store, sched)

	a.Logger.Info().Msg("starting monitoring service")
	err = svc.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("monitoring service stopped")
	return nil
}

// Once executes a single on-demand pipeline pass. Every write it makes
// is idempotent or cooldown-gated, so re-triggering is safe.
func (a *App) Once(ctx context.Context) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot run pipeline")
	}
	if closeStore != nil {
		defer closeStore()
	}

	svc := a.newService(store, nil)

	bucket := time.Now().UTC().Truncate(a.Config.Scheduler.Interval)
	return svc.ProcessBucket(ctx, bucket)
}

// ExportOptions hold parameters for exporting a stored series.
type ExportOptions struct {
	From        *time.Time
	To          *time.Time
	SeriesLabel string
	PNGPath     string
	CSVPath     string
	MaxPoints   int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	HistoryDays int
}

// PurgeOptions configure the administrative reset.
type PurgeOptions struct {
	Before time.Time
	DryRun bool
}
