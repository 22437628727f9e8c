package storage

import (
	"time"

	"github.com/shopspring/decimal"

	"mortgage-rate-alerts/internal/series"
)

// RateObservation is one scraped reading for a tracked series.
// The natural key is (ObservationDate, TermYears, LoanType); re-scrapes
// upsert on that key and never destroy history.
type RateObservation struct {
	ObservationDate time.Time
	TermYears       int
	LoanType        series.LoanType
	RateValue       decimal.Decimal
	RateKind        string
	RecordedAt      time.Time
	Source          string
}

// Key returns the series identity of the observation.
func (o RateObservation) Key() series.Key {
	return series.Key{TermYears: o.TermYears, LoanType: o.LoanType}
}

// After reports whether o is more recent than other under the
// (observation date, recorded at) ordering. The recorded-at tie break is
// what lets an intraday correction supersede the morning reading.
func (o RateObservation) After(other RateObservation) bool {
	if !o.ObservationDate.Equal(other.ObservationDate) {
		return o.ObservationDate.After(other.ObservationDate)
	}
	return o.RecordedAt.After(other.RecordedAt)
}

// ClientTarget is the read-only projection of a CRM client record that
// the alert pipeline consumes.
type ClientTarget struct {
	ClientID       int64
	OwnerUserID    int64
	Name           string
	ContactAddress string
	LoanTypeLabel  string
	TargetRate     decimal.Decimal
}

// NotificationPreference is the read-only projection of a user's alert
// settings, joined with the contact details quoted in client-facing copy.
type NotificationPreference struct {
	UserID              int64
	RateAlertsEnabled   bool
	SendToClientEnabled bool
	OwnerName           string
	OwnerEmail          string
	OwnerPhone          string
}

// AlertCooldownRecord captures one dispatched alert for de-duplication.
type AlertCooldownRecord struct {
	ClientID  int64
	AlertKind string
	SentAt    time.Time
}

// AlertKindRate is the only alert kind the dispatcher currently emits.
const AlertKindRate = "rate_alert"
