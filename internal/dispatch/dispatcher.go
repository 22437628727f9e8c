// Package dispatch turns matcher candidates into delivered notifications,
// enforcing the cooldown window, per-user preferences, and the sink's
// throughput ceiling.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"mortgage-rate-alerts/internal/alerting"
	"mortgage-rate-alerts/internal/analytics"
	"mortgage-rate-alerts/internal/matcher"
	"mortgage-rate-alerts/internal/storage"
)

// Result reports the outcome for one candidate. Owner and client sends
// are reported independently; a failure on one never blocks the other.
type Result struct {
	ClientID     int64
	Suppressed   bool
	SkippedPrefs bool
	SentToOwner  bool
	SentToClient bool
	Err          error
}

// Options tune dispatcher behaviour.
type Options struct {
	Cooldown           time.Duration
	SendDelay          time.Duration
	ActionURL          string
	ReferencePrincipal decimal.Decimal
}

// Dispatcher delivers rate alerts through the notification sink.
type Dispatcher struct {
	cooldowns storage.CooldownLog
	prefs     storage.PreferenceRepository
	sink      alerting.Sink
	opts      Options
	logger    zerolog.Logger

	now   func() time.Time
	sleep func(time.Duration)
}

// New constructs a Dispatcher.
func New(cooldowns storage.CooldownLog, prefs storage.PreferenceRepository, sink alerting.Sink, opts Options, logger zerolog.Logger) *Dispatcher {
	if opts.Cooldown <= 0 {
		opts.Cooldown = 24 * time.Hour
	}

	return &Dispatcher{
		cooldowns: cooldowns,
		prefs:     prefs,
		sink:      sink,
		opts:      opts,
		logger:    logger.With().Str("component", "dispatcher").Logger(),
		now:       time.Now,
		sleep:     time.Sleep,
	}
}

// Dispatch processes candidates sequentially. Sends are deliberately
// serial with a fixed delay between them: the sink has a per-second
// request ceiling, so do not parallelise this loop without putting a
// real rate limiter in front of the sink.
func (d *Dispatcher) Dispatch(ctx context.Context, candidates []matcher.Candidate) []Result {
	results := make([]Result, 0, len(candidates))
	for _, candidate := range candidates {
		select {
		case <-ctx.Done():
			results = append(results, Result{ClientID: candidate.ClientID, Err: ctx.Err()})
			return results
		default:
		}
		results = append(results, d.dispatchOne(ctx, candidate))
	}
	return results
}

func (d *Dispatcher) dispatchOne(ctx context.Context, candidate matcher.Candidate) Result {
	result := Result{ClientID: candidate.ClientID}

	lastSent, err := d.cooldowns.LastAlertAt(ctx, candidate.ClientID, storage.AlertKindRate)
	if err != nil {
		result.Err = fmt.Errorf("check cooldown: %w", err)
		return result
	}
	if lastSent != nil && d.now().Sub(*lastSent) < d.opts.Cooldown {
		d.logger.Debug().
			Int64("client_id", candidate.ClientID).
			Time("last_sent", *lastSent).
			Msg("alert suppressed by cooldown")
		result.Suppressed = true
		return result
	}

	pref, err := d.prefs.GetNotificationPreference(ctx, candidate.OwnerUserID)
	if err != nil {
		result.Err = fmt.Errorf("load preferences: %w", err)
		return result
	}
	if !pref.RateAlertsEnabled {
		d.logger.Debug().
			Int64("client_id", candidate.ClientID).
			Int64("owner_user_id", candidate.OwnerUserID).
			Msg("alert skipped: rate alerts disabled")
		result.SkippedPrefs = true
		return result
	}

	data := d.templateData(candidate, pref)
	var sendErrs []error

	if err := d.sink.Send(ctx, alerting.Message{
		Role:      alerting.RoleOwner,
		Recipient: pref.OwnerEmail,
		Data:      data,
	}); err != nil {
		d.logger.Error().Err(err).
			Int64("client_id", candidate.ClientID).
			Msg("owner notification failed")
		sendErrs = append(sendErrs, fmt.Errorf("owner send: %w", err))
	} else {
		result.SentToOwner = true
	}

	if pref.SendToClientEnabled && candidate.Contact != "" {
		d.sleep(d.opts.SendDelay)
		if err := d.sink.Send(ctx, alerting.Message{
			Role:      alerting.RoleClient,
			Recipient: candidate.Contact,
			Data:      data,
		}); err != nil {
			d.logger.Error().Err(err).
				Int64("client_id", candidate.ClientID).
				Msg("client notification failed")
			sendErrs = append(sendErrs, fmt.Errorf("client send: %w", err))
		} else {
			result.SentToClient = true
		}
	}

	// One cooldown row covers the whole alert: even a partial delivery
	// suppresses the next pass, so a client is never double-notified
	// because only the owner message got through.
	if result.SentToOwner || result.SentToClient {
		record := storage.AlertCooldownRecord{
			ClientID:  candidate.ClientID,
			AlertKind: storage.AlertKindRate,
			SentAt:    d.now().UTC(),
		}
		if err := d.cooldowns.RecordAlert(ctx, record); err != nil {
			// At-least-once: the send already happened, so the write
			// failure is surfaced but not rolled back.
			d.logger.Error().Err(err).
				Int64("client_id", candidate.ClientID).
				Msg("cooldown write failed after successful send")
			sendErrs = append(sendErrs, fmt.Errorf("record cooldown: %w", err))
		}
	}

	result.Err = errors.Join(sendErrs...)
	return result
}

func (d *Dispatcher) templateData(candidate matcher.Candidate, pref storage.NotificationPreference) alerting.TemplateData {
	savings := decimal.Zero
	if d.opts.ReferencePrincipal.IsPositive() {
		savings = analytics.MonthlySavings(
			d.opts.ReferencePrincipal,
			candidate.TargetRate,
			candidate.ObservedRate,
			candidate.SeriesKey.TermYears,
		)
	}

	return alerting.TemplateData{
		ClientName:     candidate.ClientName,
		SeriesLabel:    candidate.SeriesKey.Label(),
		ObservedRate:   candidate.ObservedRate,
		TargetRate:     candidate.TargetRate,
		MonthlySavings: savings,
		OwnerName:      pref.OwnerName,
		OwnerEmail:     pref.OwnerEmail,
		OwnerPhone:     pref.OwnerPhone,
		ActionURL:      d.opts.ActionURL,
	}
}
