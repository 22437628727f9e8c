package storage

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"mortgage-rate-alerts/internal/series"
)

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func obs(date string, key series.Key, rate string, recordedAt time.Time) RateObservation {
	return RateObservation{
		ObservationDate: day(date),
		TermYears:       key.TermYears,
		LoanType:        key.LoanType,
		RateValue:       decimal.RequireFromString(rate),
		RateKind:        "fixed",
		RecordedAt:      recordedAt,
		Source:          "test",
	}
}

func TestLatestByKeyPicksGreatestDate(t *testing.T) {
	now := time.Now().UTC()
	current := latestByKey([]RateObservation{
		obs("2026-08-28", series.Conv30, "6.90", now),
		obs("2026-08-29", series.Conv30, "6.80", now),
		obs("2026-08-29", series.Conv15, "6.10", now),
	})

	if len(current) != 2 {
		t.Fatalf("expected 2 series, got %d", len(current))
	}
	if got := current[series.Conv30].RateValue; !got.Equal(decimal.RequireFromString("6.80")) {
		t.Fatalf("expected 6.80 for 30yr conventional, got %s", got)
	}
}

func TestLatestByKeyIntradayCorrectionWins(t *testing.T) {
	morning := time.Date(2026, 8, 29, 9, 0, 0, 0, time.UTC)
	afternoon := time.Date(2026, 8, 29, 15, 30, 0, 0, time.UTC)

	// Insertion order must not matter; the recorded-at comparison decides.
	current := latestByKey([]RateObservation{
		obs("2026-08-29", series.Conv30, "6.85", afternoon),
		obs("2026-08-29", series.Conv30, "6.95", morning),
	})

	if got := current[series.Conv30].RateValue; !got.Equal(decimal.RequireFromString("6.85")) {
		t.Fatalf("later recorded_at should win, got %s", got)
	}
}

func TestObservationAfter(t *testing.T) {
	now := time.Now().UTC()
	older := obs("2026-08-28", series.Conv30, "6.90", now)
	newer := obs("2026-08-29", series.Conv30, "6.80", now.Add(-time.Hour))

	if !newer.After(older) {
		t.Fatal("greater observation date should order after")
	}
	if older.After(newer) {
		t.Fatal("ordering should be asymmetric")
	}
}

func TestStoreNotConfigured(t *testing.T) {
	var s *Store
	if _, err := s.CurrentByKey(nil); err == nil {
		t.Fatal("nil store 应返回 ErrNotConfigured")
	}
}
