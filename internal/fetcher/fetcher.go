package fetcher

import (
	"context"
	"time"

	"mortgage-rate-alerts/internal/storage"
)

// FetchResult carries one scrape pass: the date the publisher reported
// the table for, plus the observations matched from it.
type FetchResult struct {
	PublishedOn  time.Time
	Observations []storage.RateObservation
}

// RateFetcher retrieves the current readings for all tracked series.
type RateFetcher interface {
	FetchCurrent(ctx context.Context) (FetchResult, error)
}
