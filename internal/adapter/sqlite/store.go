// Package sqlite persists subscriptions, the sent-alert log, and the raw
// report archive in a single SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	_ "modernc.org/sqlite"

	"github.com/couchcryptid/disaster-alert-service/internal/domain"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// ErrAlreadySubscribed signals a duplicate (location, email) registration.
// Callers treat it as a benign rejection, not a failure.
var ErrAlreadySubscribed = errors.New("subscription already exists")

// Subscription is one (location, email) registration.
type Subscription struct {
	Location string
	Email    string
}

// Store wraps the SQLite handle. It implements dispatch.AlertLog and
// dispatch.SubscriberDirectory.
type Store struct {
	db     *sql.DB
	clock  clockwork.Clock
	logger *slog.Logger
}

// Open opens (creating if needed) the database at path and applies migrations.
func Open(path string, clock clockwork.Clock, logger *slog.Logger) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite prefers a single writer connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	_, _ = db.Exec("PRAGMA busy_timeout = 5000")
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	s := &Store{db: db, clock: clock, logger: logger}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *Store) Close() error {
	return s.db.Close()
}

// AddSubscription registers an email for a location. The location is stored
// in canonical form so lookups by event key match regardless of the spelling
// used at registration time.
func (s *Store) AddSubscription(ctx context.Context, location, email string) error {
	canonical := domain.NormalizeLocation(location)
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO subscriptions(location, email) VALUES(?, ?)`,
		canonical, email,
	)
	if err != nil {
		return fmt.Errorf("add subscription: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("add subscription: %w", err)
	}
	if n == 0 {
		return ErrAlreadySubscribed
	}
	return nil
}

// RemoveSubscription deletes a registration, reporting whether a row existed.
func (s *Store) RemoveSubscription(ctx context.Context, location, email string) (bool, error) {
	canonical := domain.NormalizeLocation(location)
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM subscriptions WHERE location = ? AND email = ?`,
		canonical, email,
	)
	if err != nil {
		return false, fmt.Errorf("remove subscription: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("remove subscription: %w", err)
	}
	return n > 0, nil
}

// ListSubscriptions returns all registrations ordered by location, then email.
func (s *Store) ListSubscriptions(ctx context.Context) ([]Subscription, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT location, email FROM subscriptions ORDER BY location, email`)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []Subscription
	for rows.Next() {
		var sub Subscription
		if err := rows.Scan(&sub.Location, &sub.Email); err != nil {
			return nil, fmt.Errorf("list subscriptions: %w", err)
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// SubscribersByLocation fetches recipients for all given locations in one
// query. Every requested location is present in the result, with an empty
// slice when it has no subscribers, so callers never need a presence check.
func (s *Store) SubscribersByLocation(ctx context.Context, locations []string) (map[string][]string, error) {
	recipients := make(map[string][]string, len(locations))
	for _, loc := range locations {
		recipients[loc] = []string{}
	}
	if len(locations) == 0 {
		return recipients, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(locations)), ",")
	args := make([]any, len(locations))
	for i, loc := range locations {
		args[i] = loc
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT location, email FROM subscriptions
		 WHERE location IN (`+placeholders+`)
		 ORDER BY location, email`, args...)
	if err != nil {
		return nil, fmt.Errorf("subscribers by location: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var location, email string
		if err := rows.Scan(&location, &email); err != nil {
			return nil, fmt.Errorf("subscribers by location: %w", err)
		}
		recipients[location] = append(recipients[location], email)
	}
	return recipients, rows.Err()
}

// WasRecentlySent reports whether a sent-alert record for the pair is
// strictly more recent than now minus window. A record exactly at the
// boundary is expired.
func (s *Store) WasRecentlySent(ctx context.Context, location, disasterType string, window time.Duration) (bool, error) {
	cutoff := s.clock.Now().Add(-window).UnixMilli()

	var id int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM sent_alerts
		 WHERE location = ? AND disaster_type = ? AND sent_at > ?
		 LIMIT 1`,
		location, disasterType, cutoff,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("recency check: %w", err)
	}
	return true, nil
}

// RecordSent appends a sent-alert record stamped with the current time.
// Append-only: rows are never updated or deleted.
func (s *Store) RecordSent(ctx context.Context, location, disasterType string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sent_alerts(location, disaster_type, sent_at) VALUES(?, ?, ?)`,
		location, disasterType, s.clock.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("record sent alert: %w", err)
	}
	return nil
}

// ArchiveReports appends raw reports to the archival table. The archive is
// never consulted by the dispatch path.
func (s *Store) ArchiveReports(ctx context.Context, reports []domain.Report) error {
	if len(reports) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("archive reports: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	savedAt := s.clock.Now().UnixMilli()
	for _, r := range reports {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO raw_reports(author_id, timestamp, text, image_url, extracted_location, disaster_type, detected_landmark, saved_at)
			 VALUES(?, ?, ?, ?, ?, ?, ?, ?)`,
			r.AuthorID, r.Timestamp, r.Text, r.ImageURL,
			r.ExtractedLocation, r.DisasterType, r.DetectedLandmark, savedAt,
		)
		if err != nil {
			return fmt.Errorf("archive reports: %w", err)
		}
	}
	return tx.Commit()
}
