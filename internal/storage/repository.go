package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"mortgage-rate-alerts/internal/series"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

// currentScanWindow bounds the CurrentByKey scan. The table is
// append-mostly, so the newest rows always contain the latest reading
// for every tracked series; a full-table aggregate is unnecessary.
const currentScanWindow = 50

const (
	upsertObservationSQL = `INSERT INTO rate_observations (
        observation_date,
        term_years,
        loan_type,
        rate_value,
        rate_kind,
        recorded_at,
        source
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7
    )
    ON CONFLICT (observation_date, term_years, loan_type) DO UPDATE
    SET
        rate_value  = EXCLUDED.rate_value,
        rate_kind   = EXCLUDED.rate_kind,
        recorded_at = EXCLUDED.recorded_at,
        source      = EXCLUDED.source;`

	listRecentObservationsSQL = `SELECT
        observation_date,
        term_years,
        loan_type,
        rate_value,
        rate_kind,
        recorded_at,
        source
    FROM rate_observations
    ORDER BY observation_date DESC, recorded_at DESC
    LIMIT $1;`

	listHistorySQL = `SELECT
        observation_date,
        term_years,
        loan_type,
        rate_value,
        rate_kind,
        recorded_at,
        source
    FROM rate_observations
    WHERE term_years = $1
      AND loan_type = $2
      AND observation_date >= $3
    ORDER BY observation_date, recorded_at;`

	deleteObservationsBeforeSQL = `DELETE FROM rate_observations WHERE observation_date < $1;`

	countObservationsSQL = `SELECT COUNT(*) FROM rate_observations;`

	lastAlertAtSQL = `SELECT sent_at
    FROM alert_cooldowns
    WHERE client_id = $1
      AND alert_kind = $2
    ORDER BY sent_at DESC
    LIMIT 1;`

	insertCooldownSQL = `INSERT INTO alert_cooldowns (
        client_id,
        alert_kind,
        sent_at
    ) VALUES (
        $1,$2,$3
    );`

	listClientTargetsSQL = `SELECT
        id,
        owner_user_id,
        name,
        COALESCE(contact_address, ''),
        COALESCE(loan_type_label, ''),
        target_rate
    FROM clients
    WHERE target_rate IS NOT NULL;`

	listClientTargetsByOwnerSQL = `SELECT
        id,
        owner_user_id,
        name,
        COALESCE(contact_address, ''),
        COALESCE(loan_type_label, ''),
        target_rate
    FROM clients
    WHERE target_rate IS NOT NULL
      AND owner_user_id = $1;`

	getPreferenceSQL = `SELECT
        u.id,
        COALESCE(p.rate_alerts_enabled, FALSE),
        COALESCE(p.send_to_client_enabled, FALSE),
        COALESCE(u.display_name, ''),
        COALESCE(u.email, ''),
        COALESCE(u.phone, '')
    FROM users u
    LEFT JOIN notification_preferences p ON p.user_id = u.id
    WHERE u.id = $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// ObservationStore defines operations for rate observation persistence.
type ObservationStore interface {
	UpsertObservations(ctx context.Context, observations []RateObservation) error
	CurrentByKey(ctx context.Context) (map[series.Key]RateObservation, error)
	History(ctx context.Context, key series.Key, since time.Time) ([]RateObservation, error)
	DeleteObservationsBefore(ctx context.Context, cutoff time.Time) (int64, error)
	CountObservations(ctx context.Context) (int64, error)
}

// CooldownLog defines the alert de-duplication log.
type CooldownLog interface {
	LastAlertAt(ctx context.Context, clientID int64, alertKind string) (*time.Time, error)
	RecordAlert(ctx context.Context, record AlertCooldownRecord) error
}

// ClientRepository reads client target-rate records owned by the CRM.
type ClientRepository interface {
	ListClientsWithTargetRate(ctx context.Context, ownerUserID *int64) ([]ClientTarget, error)
}

// PreferenceRepository reads notification settings owned by account settings.
type PreferenceRepository interface {
	GetNotificationPreference(ctx context.Context, userID int64) (NotificationPreference, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to observations, the cooldown log, and the
// read-only collaborator tables.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// Best effort; the lock is released anyway when the session ends.
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// UpsertObservations persists a batch of observations, keyed by
// (observation_date, term_years, loan_type). Re-writing a key with the
// same value is a no-op in effect; a different value becomes the new
// authoritative row for that key.
func (s *Store) UpsertObservations(ctx context.Context, observations []RateObservation) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	for _, obs := range observations {
		if _, execErr := pool.Exec(ctx, upsertObservationSQL,
			obs.ObservationDate,
			obs.TermYears,
			string(obs.LoanType),
			obs.RateValue.String(),
			obs.RateKind,
			obs.RecordedAt,
			obs.Source,
		); execErr != nil {
			return fmt.Errorf("upsert observation %s: %w", obs.Key(), execErr)
		}
	}
	return nil
}

// CurrentByKey resolves the latest observation per tracked series from a
// bounded scan of the most recent rows.
func (s *Store) CurrentByKey(ctx context.Context) (map[series.Key]RateObservation, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentObservationsSQL, currentScanWindow)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent observations: %w", queryErr)
	}
	defer rows.Close()

	observations := make([]RateObservation, 0, currentScanWindow)
	for rows.Next() {
		obs, scanErr := scanObservation(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		observations = append(observations, obs)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return latestByKey(observations), nil
}

// latestByKey keeps, per series, the observation with the greatest
// (observation date, recorded at) pair.
func latestByKey(observations []RateObservation) map[series.Key]RateObservation {
	current := make(map[series.Key]RateObservation, len(observations))
	for _, obs := range observations {
		existing, ok := current[obs.Key()]
		if !ok || obs.After(existing) {
			current[obs.Key()] = obs
		}
	}
	return current
}

// History returns observations for one series since a date, ascending.
func (s *Store) History(ctx context.Context, key series.Key, since time.Time) ([]RateObservation, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listHistorySQL, key.TermYears, string(key.LoanType), since)
	if queryErr != nil {
		return nil, fmt.Errorf("list history: %w", queryErr)
	}
	defer rows.Close()

	observations := make([]RateObservation, 0)
	for rows.Next() {
		obs, scanErr := scanObservation(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		observations = append(observations, obs)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return observations, nil
}

// DeleteObservationsBefore removes observations older than the cutoff.
// Administrative reset only; normal operation never deletes.
func (s *Store) DeleteObservationsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	tag, execErr := pool.Exec(ctx, deleteObservationsBeforeSQL, cutoff)
	if execErr != nil {
		return 0, fmt.Errorf("delete observations before: %w", execErr)
	}
	return tag.RowsAffected(), nil
}

// CountObservations counts stored observations.
func (s *Store) CountObservations(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countObservationsSQL).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count observations: %w", scanErr)
	}
	return count, nil
}

// LastAlertAt returns the most recent cooldown entry for a client, or nil.
func (s *Store) LastAlertAt(ctx context.Context, clientID int64, alertKind string) (*time.Time, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	var sentAt time.Time
	scanErr := pool.QueryRow(ctx, lastAlertAtSQL, clientID, alertKind).Scan(&sentAt)
	if scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("last alert at: %w", scanErr)
	}
	return &sentAt, nil
}

// RecordAlert appends one cooldown-log row.
func (s *Store) RecordAlert(ctx context.Context, record AlertCooldownRecord) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, insertCooldownSQL, record.ClientID, record.AlertKind, record.SentAt); execErr != nil {
		return fmt.Errorf("record alert: %w", execErr)
	}
	return nil
}

// ListClientsWithTargetRate reads client target records, optionally
// filtered by owning user.
func (s *Store) ListClientsWithTargetRate(ctx context.Context, ownerUserID *int64) ([]ClientTarget, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	var (
		rows     pgx.Rows
		queryErr error
	)
	if ownerUserID != nil {
		rows, queryErr = pool.Query(ctx, listClientTargetsByOwnerSQL, *ownerUserID)
	} else {
		rows, queryErr = pool.Query(ctx, listClientTargetsSQL)
	}
	if queryErr != nil {
		return nil, fmt.Errorf("list client targets: %w", queryErr)
	}
	defer rows.Close()

	clients := make([]ClientTarget, 0)
	for rows.Next() {
		var client ClientTarget
		var targetStr string
		if err := rows.Scan(
			&client.ClientID,
			&client.OwnerUserID,
			&client.Name,
			&client.ContactAddress,
			&client.LoanTypeLabel,
			&targetStr,
		); err != nil {
			return nil, err
		}

		target, convErr := decimal.NewFromString(targetStr)
		if convErr != nil {
			return nil, fmt.Errorf("parse target rate: %w", convErr)
		}
		client.TargetRate = target

		clients = append(clients, client)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return clients, nil
}

// GetNotificationPreference reads a user's alert settings plus the
// contact details quoted in client-facing messages. A user without a
// preferences row has alerts disabled.
func (s *Store) GetNotificationPreference(ctx context.Context, userID int64) (NotificationPreference, error) {
	pool, err := s.getPool()
	if err != nil {
		return NotificationPreference{}, err
	}

	var pref NotificationPreference
	scanErr := pool.QueryRow(ctx, getPreferenceSQL, userID).Scan(
		&pref.UserID,
		&pref.RateAlertsEnabled,
		&pref.SendToClientEnabled,
		&pref.OwnerName,
		&pref.OwnerEmail,
		&pref.OwnerPhone,
	)
	if scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return NotificationPreference{UserID: userID}, nil
		}
		return NotificationPreference{}, fmt.Errorf("get notification preference: %w", scanErr)
	}
	return pref, nil
}

func scanObservation(rows pgx.Rows) (RateObservation, error) {
	var (
		obs      RateObservation
		loanType string
		rateStr  string
	)

	if err := rows.Scan(
		&obs.ObservationDate,
		&obs.TermYears,
		&loanType,
		&rateStr,
		&obs.RateKind,
		&obs.RecordedAt,
		&obs.Source,
	); err != nil {
		return RateObservation{}, err
	}

	rate, err := decimal.NewFromString(rateStr)
	if err != nil {
		return RateObservation{}, fmt.Errorf("parse rate value: %w", err)
	}

	obs.LoanType = series.LoanType(loanType)
	obs.RateValue = rate
	return obs, nil
}

var (
	_ ObservationStore     = (*Store)(nil)
	_ CooldownLog          = (*Store)(nil)
	_ ClientRepository     = (*Store)(nil)
	_ PreferenceRepository = (*Store)(nil)
	_ AdvisoryLocker       = (*Store)(nil)
)
