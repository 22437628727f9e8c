package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"mortgage-rate-alerts/internal/alerting"
	"mortgage-rate-alerts/internal/matcher"
	"mortgage-rate-alerts/internal/series"
	"mortgage-rate-alerts/internal/storage"
)

type stubPrefs struct {
	prefs map[int64]storage.NotificationPreference
	err   error
}

func (s *stubPrefs) GetNotificationPreference(_ context.Context, userID int64) (storage.NotificationPreference, error) {
	if s.err != nil {
		return storage.NotificationPreference{}, s.err
	}
	pref, ok := s.prefs[userID]
	if !ok {
		return storage.NotificationPreference{UserID: userID}, nil
	}
	return pref, nil
}

type recordingSink struct {
	messages []alerting.Message
	failRole alerting.Role
}

func (s *recordingSink) Send(_ context.Context, msg alerting.Message) error {
	if s.failRole != "" && msg.Role == s.failRole {
		return errors.New("sink unavailable")
	}
	s.messages = append(s.messages, msg)
	return nil
}

func candidate(clientID, ownerID int64, contact string) matcher.Candidate {
	return matcher.Candidate{
		ClientID:     clientID,
		OwnerUserID:  ownerID,
		ClientName:   "Dana",
		Contact:      contact,
		SeriesKey:    series.Conv30,
		ObservedRate: decimal.RequireFromString("6.80"),
		TargetRate:   decimal.RequireFromString("6.95"),
	}
}

func enabledPrefs(ownerID int64, sendToClient bool) *stubPrefs {
	return &stubPrefs{prefs: map[int64]storage.NotificationPreference{
		ownerID: {
			UserID:              ownerID,
			RateAlertsEnabled:   true,
			SendToClientEnabled: sendToClient,
			OwnerName:           "Sam",
			OwnerEmail:          "sam@example.com",
		},
	}}
}

func newTestDispatcher(log storage.CooldownLog, prefs storage.PreferenceRepository, sink alerting.Sink) (*Dispatcher, *[]time.Duration) {
	d := New(log, prefs, sink, Options{
		Cooldown:           24 * time.Hour,
		SendDelay:          1100 * time.Millisecond,
		ReferencePrincipal: decimal.NewFromInt(350000),
	}, zerolog.Nop())

	slept := &[]time.Duration{}
	d.sleep = func(dur time.Duration) { *slept = append(*slept, dur) }
	return d, slept
}

func TestDispatchSendsOwnerAndWritesCooldown(t *testing.T) {
	log := NewMemoryCooldownLog()
	sink := &recordingSink{}
	d, _ := newTestDispatcher(log, enabledPrefs(10, false), sink)

	results := d.Dispatch(context.Background(), []matcher.Candidate{candidate(1, 10, "")})

	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if !results[0].SentToOwner || results[0].SentToClient || results[0].Err != nil {
		t.Fatalf("unexpected result %+v", results[0])
	}
	if len(sink.messages) != 1 || sink.messages[0].Role != alerting.RoleOwner {
		t.Fatalf("expected one owner message, got %+v", sink.messages)
	}

	sentAt, err := log.LastAlertAt(context.Background(), 1, storage.AlertKindRate)
	if err != nil || sentAt == nil {
		t.Fatalf("cooldown row should exist, got %v %v", sentAt, err)
	}
}

func TestDispatchCooldownSuppression(t *testing.T) {
	log := NewMemoryCooldownLog()
	sink := &recordingSink{}
	d, _ := newTestDispatcher(log, enabledPrefs(10, false), sink)

	base := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	_ = log.RecordAlert(context.Background(), storage.AlertCooldownRecord{
		ClientID: 1, AlertKind: storage.AlertKindRate, SentAt: base,
	})

	// One hour later: suppressed, no send, no extra log row.
	d.now = func() time.Time { return base.Add(time.Hour) }
	results := d.Dispatch(context.Background(), []matcher.Candidate{candidate(1, 10, "")})
	if !results[0].Suppressed || len(sink.messages) != 0 {
		t.Fatalf("expected suppression, got %+v with %d sends", results[0], len(sink.messages))
	}

	// Twenty-five hours later: window elapsed, alert goes out.
	d.now = func() time.Time { return base.Add(25 * time.Hour) }
	results = d.Dispatch(context.Background(), []matcher.Candidate{candidate(1, 10, "")})
	if results[0].Suppressed || !results[0].SentToOwner {
		t.Fatalf("expected send after cooldown, got %+v", results[0])
	}
}

func TestDispatchRerunProducesNoNewSends(t *testing.T) {
	log := NewMemoryCooldownLog()
	sink := &recordingSink{}
	d, _ := newTestDispatcher(log, enabledPrefs(10, false), sink)

	base := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return base }
	d.Dispatch(context.Background(), []matcher.Candidate{candidate(1, 10, "")})

	d.now = func() time.Time { return base.Add(10 * time.Minute) }
	results := d.Dispatch(context.Background(), []matcher.Candidate{candidate(1, 10, "")})

	if !results[0].Suppressed {
		t.Fatalf("re-run within the window must be suppressed, got %+v", results[0])
	}
	if len(sink.messages) != 1 {
		t.Fatalf("expected exactly one send across both runs, got %d", len(sink.messages))
	}
}

func TestDispatchDisabledPreferences(t *testing.T) {
	log := NewMemoryCooldownLog()
	sink := &recordingSink{}
	prefs := &stubPrefs{prefs: map[int64]storage.NotificationPreference{}}
	d, _ := newTestDispatcher(log, prefs, sink)

	results := d.Dispatch(context.Background(), []matcher.Candidate{candidate(1, 10, "")})

	if !results[0].SkippedPrefs || len(sink.messages) != 0 {
		t.Fatalf("disabled prefs should skip silently, got %+v", results[0])
	}
	sentAt, _ := log.LastAlertAt(context.Background(), 1, storage.AlertKindRate)
	if sentAt != nil {
		t.Fatal("skip must not write a cooldown row")
	}
}

func TestDispatchClientSendWithDelay(t *testing.T) {
	log := NewMemoryCooldownLog()
	sink := &recordingSink{}
	d, slept := newTestDispatcher(log, enabledPrefs(10, true), sink)

	results := d.Dispatch(context.Background(), []matcher.Candidate{candidate(1, 10, "dana@example.com")})

	if !results[0].SentToOwner || !results[0].SentToClient {
		t.Fatalf("both recipients should be reached, got %+v", results[0])
	}
	if len(sink.messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(sink.messages))
	}
	if sink.messages[0].Role != alerting.RoleOwner || sink.messages[1].Role != alerting.RoleClient {
		t.Fatal("owner message must precede the client message")
	}
	if len(*slept) != 1 || (*slept)[0] != 1100*time.Millisecond {
		t.Fatalf("inter-send delay not honoured: %v", *slept)
	}
}

func TestDispatchNoClientSendWithoutContact(t *testing.T) {
	log := NewMemoryCooldownLog()
	sink := &recordingSink{}
	d, slept := newTestDispatcher(log, enabledPrefs(10, true), sink)

	results := d.Dispatch(context.Background(), []matcher.Candidate{candidate(1, 10, "")})

	if results[0].SentToClient {
		t.Fatal("no contact address means no client send")
	}
	if len(*slept) != 0 {
		t.Fatal("no delay should be paid when the client send is skipped")
	}
}

func TestDispatchOwnerFailureDoesNotBlockClient(t *testing.T) {
	log := NewMemoryCooldownLog()
	sink := &recordingSink{failRole: alerting.RoleOwner}
	d, _ := newTestDispatcher(log, enabledPrefs(10, true), sink)

	results := d.Dispatch(context.Background(), []matcher.Candidate{candidate(1, 10, "dana@example.com")})

	if results[0].SentToOwner {
		t.Fatal("owner send should have failed")
	}
	if !results[0].SentToClient {
		t.Fatal("client send must proceed despite the owner failure")
	}
	if results[0].Err == nil {
		t.Fatal("the owner failure must be reported")
	}

	// Partial delivery still writes exactly one cooldown row.
	sentAt, _ := log.LastAlertAt(context.Background(), 1, storage.AlertKindRate)
	if sentAt == nil {
		t.Fatal("cooldown row should cover the partial delivery")
	}
}

func TestDispatchOneFailureDoesNotAbortTheBatch(t *testing.T) {
	log := NewMemoryCooldownLog()
	prefs := &stubPrefs{prefs: map[int64]storage.NotificationPreference{
		10: {UserID: 10, RateAlertsEnabled: true, OwnerEmail: "sam@example.com"},
	}}
	sink := &recordingSink{failRole: alerting.RoleOwner}
	d, _ := newTestDispatcher(log, prefs, sink)

	results := d.Dispatch(context.Background(), []matcher.Candidate{
		candidate(1, 10, ""),
		candidate(2, 10, ""),
	})

	if len(results) != 2 {
		t.Fatalf("both candidates must be processed, got %d results", len(results))
	}
	for _, r := range results {
		if r.Err == nil {
			t.Fatalf("expected per-candidate error, got %+v", r)
		}
	}
}
