// Package matcher detects clients whose target rate has been reached.
// Matching is pure and stateless: suppression and preference checks are
// the dispatcher's job.
package matcher

import (
	"github.com/shopspring/decimal"

	"mortgage-rate-alerts/internal/series"
	"mortgage-rate-alerts/internal/storage"
)

// Candidate is a target-rate hit awaiting dispatch.
type Candidate struct {
	ClientID     int64
	OwnerUserID  int64
	ClientName   string
	Contact      string
	SeriesKey    series.Key
	ObservedRate decimal.Decimal
	TargetRate   decimal.Decimal
}

// FindHits maps each client's loan-type label to a tracked series and
// reports a candidate when the current rate is at or below the client's
// target. Lower is favorable, so equality counts as a hit. Clients whose
// mapped series has no current observation produce no candidate.
func FindHits(clients []storage.ClientTarget, current map[series.Key]storage.RateObservation) []Candidate {
	hits := make([]Candidate, 0)
	for _, client := range clients {
		key := series.KeyForLabel(client.LoanTypeLabel)
		observation, ok := current[key]
		if !ok {
			continue
		}
		if observation.RateValue.GreaterThan(client.TargetRate) {
			continue
		}
		hits = append(hits, Candidate{
			ClientID:     client.ClientID,
			OwnerUserID:  client.OwnerUserID,
			ClientName:   client.Name,
			Contact:      client.ContactAddress,
			SeriesKey:    key,
			ObservedRate: observation.RateValue,
			TargetRate:   client.TargetRate,
		})
	}
	return hits
}
