package app

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"mortgage-rate-alerts/internal/dispatch"
	"mortgage-rate-alerts/internal/matcher"
	"mortgage-rate-alerts/internal/series"
	"mortgage-rate-alerts/internal/storage"
)

// SimulateOptions describe the synthetic alert scenario.
type SimulateOptions struct {
	ObservedRate decimal.Decimal
	TargetRate   decimal.Decimal
	ClientName   string
	ClientEmail  string
	OwnerName    string
	OwnerEmail   string
	SendToClient bool
}

// SimulateAlert 通过给定的观测值与目标值模拟一次完整的匹配与派发流程。
// It never touches the database: cooldown state lives in memory for the
// duration of the call.
func (a *App) SimulateAlert(ctx context.Context, opts SimulateOptions) error {
	if !a.Config.Alerting.Enabled {
		return errors.New("alerting 未启用")
	}

	sink := a.newSink()
	if sink == nil {
		return errors.New("未配置消息网关")
	}

	observation := storage.RateObservation{
		ObservationDate: time.Now().UTC().Truncate(24 * time.Hour),
		TermYears:       series.Conv30.TermYears,
		LoanType:        series.Conv30.LoanType,
		RateValue:       opts.ObservedRate,
		RateKind:        "fixed",
		RecordedAt:      time.Now().UTC(),
		Source:          "simulated",
	}

	clients := []storage.ClientTarget{{
		ClientID:       1,
		OwnerUserID:    1,
		Name:           opts.ClientName,
		ContactAddress: opts.ClientEmail,
		LoanTypeLabel:  "30yr",
		TargetRate:     opts.TargetRate,
	}}

	current := map[series.Key]storage.RateObservation{series.Conv30: observation}
	hits := matcher.FindHits(clients, current)
	if len(hits) == 0 {
		a.Logger.Info().
			Str("observed", opts.ObservedRate.String()).
			Str("target", opts.TargetRate.String()).
			Msg("no hit: observed rate is above the target")
		return nil
	}

	prefs := staticPreferences{pref: storage.NotificationPreference{
		UserID:              1,
		RateAlertsEnabled:   true,
		SendToClientEnabled: opts.SendToClient,
		OwnerName:           opts.OwnerName,
		OwnerEmail:          opts.OwnerEmail,
	}}

	dispatcher := dispatch.New(dispatch.NewMemoryCooldownLog(), prefs, sink, a.dispatchOptions(), a.Logger)

	for _, result := range dispatcher.Dispatch(ctx, hits) {
		if result.Err != nil {
			return result.Err
		}
		a.Logger.Info().
			Int64("client_id", result.ClientID).
			Bool("sent_to_owner", result.SentToOwner).
			Bool("sent_to_client", result.SentToClient).
			Msg("simulated alert dispatched")
	}
	return nil
}

type staticPreferences struct {
	pref storage.NotificationPreference
}

func (s staticPreferences) GetNotificationPreference(context.Context, int64) (storage.NotificationPreference, error) {
	return s.pref, nil
}

var _ storage.PreferenceRepository = staticPreferences{}
