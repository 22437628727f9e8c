package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"mortgage-rate-alerts/internal/analytics"
	"mortgage-rate-alerts/internal/series"
)

// Show prints the current rate and summary statistics per tracked series.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show rates")
	}
	if closeStore != nil {
		defer closeStore()
	}

	current, err := store.CurrentByKey(ctx)
	if err != nil {
		return err
	}
	if len(current) == 0 {
		fmt.Fprintln(os.Stdout, "no observations found")
		return nil
	}

	historyDays := opts.HistoryDays
	if historyDays <= 0 {
		historyDays = 364
	}
	since := time.Now().UTC().AddDate(0, 0, -historyDays)

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Series\tCurrent\tAs Of\tDay\tWeek\tMonth\t52w Low\t52w High\tTrend")

	for _, tracked := range series.TrackedSeries {
		observation, ok := current[tracked.Key]
		if !ok {
			continue
		}

		history, err := store.History(ctx, tracked.Key, since)
		if err != nil {
			return err
		}
		summary := analytics.Summarize(history)

		fmt.Fprintf(
			writer,
			"%s\t%s%%\t%s\t%s\t%s\t%s\t%s%%\t%s%%\t%s\n",
			tracked.Label,
			observation.RateValue.StringFixed(2),
			observation.ObservationDate.Format("2006-01-02"),
			formatChange(summary.ChangeDay),
			formatChange(summary.ChangeWeek),
			formatChange(summary.ChangeMonth),
			summary.Low52W.StringFixed(2),
			summary.High52W.StringFixed(2),
			summary.Trend,
		)
	}

	writer.Flush()
	return nil
}

// formatChange renders a change delta, or n/a when no observation
// existed near the historical point.
func formatChange(change *decimal.Decimal) string {
	if change == nil {
		return "n/a"
	}
	if change.IsPositive() {
		return "+" + change.StringFixed(2)
	}
	return change.StringFixed(2)
}
