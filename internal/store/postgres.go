package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"halocore/internal/license"
)

// uniqueViolation is the Postgres error code for unique constraint failures.
const uniqueViolation = "23505"

// PGStore persists licenses in PostgreSQL using a pgx connection pool.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore opens a connection pool, verifies connectivity, and applies
// the schema migration.
func NewPGStore(ctx context.Context, databaseURL string) (*PGStore, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	config.MaxConns = 25
	config.MinConns = 5
	config.MaxConnLifetime = 5 * time.Minute
	config.MaxConnIdleTime = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("database unreachable: %w", err)
	}

	s := &PGStore{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	return s, nil
}

// migrate creates the tables and indexes if they do not exist.
func (s *PGStore) migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS licenses (
		id TEXT PRIMARY KEY,
		license_key TEXT UNIQUE NOT NULL,
		email TEXT NOT NULL,
		status TEXT NOT NULL,
		personality TEXT NOT NULL,
		device_fingerprint TEXT NOT NULL DEFAULT '',
		device_name TEXT NOT NULL DEFAULT '',
		app_version TEXT NOT NULL DEFAULT '',
		subscription_id TEXT NOT NULL DEFAULT '',
		activated_at TIMESTAMPTZ,
		last_heartbeat TIMESTAMPTZ,
		suspended_at TIMESTAMPTZ,
		revoked_at TIMESTAMPTZ,
		cancellation_scheduled BOOLEAN NOT NULL DEFAULT FALSE,
		cancellation_date TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_licenses_email ON licenses(email);
	CREATE INDEX IF NOT EXISTS idx_licenses_status ON licenses(status);

	-- One license per billing subscription, enforced at the storage layer so
	-- concurrent webhook replays cannot both pass the read-side guard.
	-- Manually created licenses have no subscription and are exempt.
	DROP INDEX IF EXISTS idx_licenses_subscription;
	CREATE UNIQUE INDEX IF NOT EXISTS idx_licenses_subscription_unique
		ON licenses(subscription_id) WHERE subscription_id <> '';

	CREATE TABLE IF NOT EXISTS heartbeats (
		id TEXT PRIMARY KEY,
		license_id TEXT NOT NULL,
		device_fingerprint TEXT NOT NULL,
		app_version TEXT NOT NULL DEFAULT '',
		os_info TEXT NOT NULL DEFAULT '',
		capabilities JSONB,
		llm_provider TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_heartbeats_license ON heartbeats(license_id);
	CREATE INDEX IF NOT EXISTS idx_heartbeats_created ON heartbeats(created_at);

	CREATE TABLE IF NOT EXISTS webhook_logs (
		id BIGSERIAL PRIMARY KEY,
		provider TEXT NOT NULL,
		event_name TEXT NOT NULL,
		payload JSONB,
		created_at TIMESTAMPTZ NOT NULL
	);
	`

	_, err := s.pool.Exec(ctx, schema)
	return err
}

const licenseColumns = `id, license_key, email, status, personality,
	device_fingerprint, device_name, app_version, subscription_id,
	activated_at, last_heartbeat, suspended_at, revoked_at,
	cancellation_scheduled, cancellation_date, created_at, updated_at`

// subscriptionIndexName identifies the partial unique index on
// subscription_id so Create can tell the two unique violations apart.
const subscriptionIndexName = "idx_licenses_subscription_unique"

// Create inserts a new license. A duplicate key is reported as
// license.ErrDuplicateKey so the caller can regenerate and retry; a
// duplicate subscription id is reported as license.ErrDuplicateSubscription
// so webhook replays can treat the insert as already done.
func (s *PGStore) Create(ctx context.Context, l *license.License) error {
	query := `
		INSERT INTO licenses (` + licenseColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`

	_, err := s.pool.Exec(ctx, query,
		l.ID, l.Key, l.Email, l.Status, l.Personality,
		l.DeviceFingerprint, l.DeviceName, l.AppVersion, l.SubscriptionID,
		l.ActivatedAt, l.LastHeartbeat, l.SuspendedAt, l.RevokedAt,
		l.CancellationScheduled, l.CancellationDate, l.CreatedAt, l.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			if pgErr.ConstraintName == subscriptionIndexName {
				return license.ErrDuplicateSubscription
			}
			return license.ErrDuplicateKey
		}
		return fmt.Errorf("failed to create license: %w", err)
	}

	return nil
}

func (s *PGStore) scanLicense(row pgx.Row) (*license.License, error) {
	l := &license.License{}
	err := row.Scan(
		&l.ID, &l.Key, &l.Email, &l.Status, &l.Personality,
		&l.DeviceFingerprint, &l.DeviceName, &l.AppVersion, &l.SubscriptionID,
		&l.ActivatedAt, &l.LastHeartbeat, &l.SuspendedAt, &l.RevokedAt,
		&l.CancellationScheduled, &l.CancellationDate, &l.CreatedAt, &l.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, license.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan license: %w", err)
	}
	return l, nil
}

// GetByKey retrieves a license by its key.
func (s *PGStore) GetByKey(ctx context.Context, key string) (*license.License, error) {
	query := `SELECT ` + licenseColumns + ` FROM licenses WHERE license_key = $1`
	return s.scanLicense(s.pool.QueryRow(ctx, query, key))
}

// GetByID retrieves a license by id.
func (s *PGStore) GetByID(ctx context.Context, id string) (*license.License, error) {
	query := `SELECT ` + licenseColumns + ` FROM licenses WHERE id = $1`
	return s.scanLicense(s.pool.QueryRow(ctx, query, id))
}

// GetBySubscription retrieves a license by billing subscription id.
func (s *PGStore) GetBySubscription(ctx context.Context, subscriptionID string) (*license.License, error) {
	query := `SELECT ` + licenseColumns + ` FROM licenses WHERE subscription_id = $1 AND subscription_id <> ''`
	return s.scanLicense(s.pool.QueryRow(ctx, query, subscriptionID))
}

// Update persists the full license record.
func (s *PGStore) Update(ctx context.Context, l *license.License) error {
	query := `
		UPDATE licenses
		SET email = $2, status = $3, personality = $4,
		    device_fingerprint = $5, device_name = $6, app_version = $7,
		    subscription_id = $8, activated_at = $9, last_heartbeat = $10,
		    suspended_at = $11, revoked_at = $12,
		    cancellation_scheduled = $13, cancellation_date = $14,
		    updated_at = $15
		WHERE id = $1
	`

	result, err := s.pool.Exec(ctx, query,
		l.ID, l.Email, l.Status, l.Personality,
		l.DeviceFingerprint, l.DeviceName, l.AppVersion,
		l.SubscriptionID, l.ActivatedAt, l.LastHeartbeat,
		l.SuspendedAt, l.RevokedAt,
		l.CancellationScheduled, l.CancellationDate,
		l.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update license: %w", err)
	}
	if result.RowsAffected() == 0 {
		return license.ErrNotFound
	}

	return nil
}

// UpdatePersonality sets the personality for all of an owner's licenses.
func (s *PGStore) UpdatePersonality(ctx context.Context, email string, p license.Personality, now time.Time) (int64, error) {
	result, err := s.pool.Exec(ctx,
		`UPDATE licenses SET personality = $2, updated_at = $3 WHERE email = $1`,
		email, p, now,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to update personality: %w", err)
	}
	return result.RowsAffected(), nil
}

// BindDevice performs the conditional binding write. The WHERE clause keys
// on the fingerprint value the caller read, so two concurrent activations
// cannot both succeed: the loser matches zero rows and gets a conflict.
func (s *PGStore) BindDevice(ctx context.Context, id, prev, fingerprint, deviceName, appVersion string, now time.Time) error {
	query := `
		UPDATE licenses
		SET device_fingerprint = $3, device_name = $4, app_version = $5,
		    activated_at = COALESCE(activated_at, $6),
		    last_heartbeat = $6, updated_at = $6
		WHERE id = $1 AND device_fingerprint = $2
	`

	result, err := s.pool.Exec(ctx, query, id, prev, fingerprint, deviceName, appVersion, now)
	if err != nil {
		return fmt.Errorf("failed to bind device: %w", err)
	}
	if result.RowsAffected() == 0 {
		return license.ErrDeviceConflict
	}

	return nil
}

// List returns all licenses, newest first.
func (s *PGStore) List(ctx context.Context) ([]*license.License, error) {
	query := `SELECT ` + licenseColumns + ` FROM licenses ORDER BY created_at DESC`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list licenses: %w", err)
	}
	defer rows.Close()

	var licenses []*license.License
	for rows.Next() {
		l := &license.License{}
		err := rows.Scan(
			&l.ID, &l.Key, &l.Email, &l.Status, &l.Personality,
			&l.DeviceFingerprint, &l.DeviceName, &l.AppVersion, &l.SubscriptionID,
			&l.ActivatedAt, &l.LastHeartbeat, &l.SuspendedAt, &l.RevokedAt,
			&l.CancellationScheduled, &l.CancellationDate, &l.CreatedAt, &l.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan license: %w", err)
		}
		licenses = append(licenses, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating licenses: %w", err)
	}

	return licenses, nil
}

// CountByStatus returns license counts per lifecycle status.
func (s *PGStore) CountByStatus(ctx context.Context) (map[license.Status]int64, error) {
	rows, err := s.pool.Query(ctx, `SELECT status, COUNT(*) FROM licenses GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count licenses: %w", err)
	}
	defer rows.Close()

	counts := make(map[license.Status]int64)
	for rows.Next() {
		var status license.Status
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan status count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// InsertHeartbeat appends one heartbeat record.
func (s *PGStore) InsertHeartbeat(ctx context.Context, hb *license.Heartbeat) error {
	capsJSON, err := json.Marshal(hb.Capabilities)
	if err != nil {
		return fmt.Errorf("failed to marshal capabilities: %w", err)
	}

	query := `
		INSERT INTO heartbeats (id, license_id, device_fingerprint, app_version, os_info, capabilities, llm_provider, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err = s.pool.Exec(ctx, query,
		hb.ID, hb.LicenseID, hb.DeviceFingerprint, hb.AppVersion,
		hb.OSInfo, capsJSON, hb.LLMProvider, hb.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert heartbeat: %w", err)
	}

	return nil
}

// TouchHeartbeat updates the license's last-heartbeat mark. The reported
// app version is kept only when the client sent one.
func (s *PGStore) TouchHeartbeat(ctx context.Context, licenseID, appVersion string, at time.Time) error {
	query := `
		UPDATE licenses
		SET last_heartbeat = $2,
		    app_version = CASE WHEN $3 <> '' THEN $3 ELSE app_version END,
		    updated_at = $2
		WHERE id = $1
	`

	result, err := s.pool.Exec(ctx, query, licenseID, at, appVersion)
	if err != nil {
		return fmt.Errorf("failed to update heartbeat: %w", err)
	}
	if result.RowsAffected() == 0 {
		return license.ErrNotFound
	}

	return nil
}

// HeartbeatTotals returns the all-time heartbeat count per license.
func (s *PGStore) HeartbeatTotals(ctx context.Context) (map[string]int64, error) {
	rows, err := s.pool.Query(ctx, `SELECT license_id, COUNT(*) FROM heartbeats GROUP BY license_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to count heartbeats: %w", err)
	}
	defer rows.Close()

	totals := make(map[string]int64)
	for rows.Next() {
		var id string
		var n int64
		if err := rows.Scan(&id, &n); err != nil {
			return nil, fmt.Errorf("failed to scan heartbeat count: %w", err)
		}
		totals[id] = n
	}
	return totals, rows.Err()
}

// CountActiveSince counts distinct licenses with a heartbeat in the window.
func (s *PGStore) CountActiveSince(ctx context.Context, since time.Time) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(DISTINCT license_id) FROM heartbeats WHERE created_at >= $1`, since,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count active licenses: %w", err)
	}
	return n, nil
}

// LogWebhook records an inbound billing notification.
func (s *PGStore) LogWebhook(ctx context.Context, provider, eventName string, payload []byte, at time.Time) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO webhook_logs (provider, event_name, payload, created_at) VALUES ($1, $2, $3, $4)`,
		provider, eventName, payload, at,
	)
	if err != nil {
		return fmt.Errorf("failed to log webhook: %w", err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *PGStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the connection pool.
func (s *PGStore) Close() error {
	s.pool.Close()
	return nil
}
