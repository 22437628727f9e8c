package app

import (
	"context"
	"errors"
)

// Purge deletes observations older than a cutoff. This is the only path
// that removes rate history; the pipeline itself never deletes.
func (a *App) Purge(ctx context.Context, opts PurgeOptions) error {
	if opts.Before.IsZero() {
		return errors.New("--before 必须提供")
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot purge")
	}
	if closeStore != nil {
		defer closeStore()
	}

	if opts.DryRun {
		count, err := store.CountObservations(ctx)
		if err != nil {
			return err
		}
		a.Logger.Warn().
			Time("before", opts.Before).
			Int64("total_observations", count).
			Msg("purge dry-run：不会删除数据")
		return nil
	}

	deleted, err := store.DeleteObservationsBefore(ctx, opts.Before)
	if err != nil {
		return err
	}

	a.Logger.Info().Time("before", opts.Before).Int64("deleted", deleted).Msg("purge complete")
	return nil
}
