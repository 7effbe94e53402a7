package schedule

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meetscribe/meetscribe/pkg/errors"
)

// PostgresStore implements Store using PostgreSQL. The claim is one
// conditional UPDATE gated on the row still being scheduled; overlapping
// executor runs serialize on the row lock and only one sees RowsAffected 1.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore creates a PostgreSQL-backed schedule store.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

const scheduleColumns = `
	id, owner_id, source_url, display_name, scheduled_time, plugin,
	plugin_settings, metadata, status, actual_meeting_id, error,
	created_at, updated_at
`

func (s *PostgresStore) Create(ctx context.Context, rec *Record) error {
	query := `
		INSERT INTO scheduled_meetings (
			id, owner_id, source_url, display_name, scheduled_time,
			plugin, plugin_settings, metadata, status
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 'scheduled')
		ON CONFLICT (id) DO NOTHING
		RETURNING created_at, updated_at
	`

	settings, err := json.Marshal(orEmpty(rec.PluginSettings))
	if err != nil {
		return fmt.Errorf("encoding plugin settings: %w", err)
	}
	metadata, err := json.Marshal(orEmpty(rec.Metadata))
	if err != nil {
		return fmt.Errorf("encoding metadata: %w", err)
	}

	err = s.db.QueryRow(ctx, query,
		rec.ID, rec.Owner, rec.SourceURL, rec.DisplayName,
		rec.ScheduledTime.UTC(), rec.Plugin, settings, metadata,
	).Scan(&rec.CreatedAt, &rec.UpdatedAt)
	if err == pgx.ErrNoRows {
		return errors.ErrConflict
	}
	if err != nil {
		return fmt.Errorf("creating scheduled meeting: %w", err)
	}
	rec.Status = StatusScheduled
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Record, error) {
	query := `SELECT ` + scheduleColumns + ` FROM scheduled_meetings WHERE id = $1`
	rec, err := scanSchedule(s.db.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, errors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting scheduled meeting: %w", err)
	}
	return rec, nil
}

func (s *PostgresStore) List(ctx context.Context, owner string) ([]*Record, error) {
	query := `SELECT ` + scheduleColumns + ` FROM scheduled_meetings`
	args := []interface{}{}
	if owner != "" {
		query += ` WHERE owner_id = $1`
		args = append(args, owner)
	}
	query += ` ORDER BY scheduled_time ASC`

	return s.queryRecords(ctx, query, args...)
}

func (s *PostgresStore) Due(ctx context.Context, now time.Time) ([]*Record, error) {
	query := `
		SELECT ` + scheduleColumns + `
		FROM scheduled_meetings
		WHERE status = 'scheduled' AND scheduled_time <= $1
		ORDER BY scheduled_time ASC
	`
	return s.queryRecords(ctx, query, now.UTC())
}

func (s *PostgresStore) queryRecords(ctx context.Context, query string, args ...interface{}) ([]*Record, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying scheduled meetings: %w", err)
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		rec, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning scheduled meeting: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Claim(ctx context.Context, id string) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE scheduled_meetings
		SET status = 'executing', updated_at = NOW()
		WHERE id = $1 AND status = 'scheduled'
	`, id)
	if err != nil {
		return false, fmt.Errorf("claiming scheduled meeting: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) MarkCompleted(ctx context.Context, id, meetingID string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE scheduled_meetings
		SET status = 'completed', actual_meeting_id = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'executing'
	`, id, meetingID)
	if err != nil {
		return fmt.Errorf("completing scheduled meeting: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return errors.ErrInvalidState
	}
	return nil
}

func (s *PostgresStore) MarkFailed(ctx context.Context, id, cause string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE scheduled_meetings
		SET status = 'failed', error = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'executing'
	`, id, cause)
	if err != nil {
		return fmt.Errorf("failing scheduled meeting: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return errors.ErrInvalidState
	}
	return nil
}

func (s *PostgresStore) Cancel(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE scheduled_meetings
		SET status = 'cancelled', updated_at = NOW()
		WHERE id = $1 AND status = 'scheduled'
	`, id)
	if err != nil {
		return fmt.Errorf("cancelling scheduled meeting: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := s.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM scheduled_meetings WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("checking scheduled meeting: %w", err)
	}
	if !exists {
		return errors.ErrNotFound
	}
	return errors.ErrConflict
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSchedule(row rowScanner) (*Record, error) {
	var rec Record
	var status string
	var actualMeetingID, errText *string
	var settings, metadata []byte

	err := row.Scan(
		&rec.ID, &rec.Owner, &rec.SourceURL, &rec.DisplayName, &rec.ScheduledTime,
		&rec.Plugin, &settings, &metadata, &status, &actualMeetingID, &errText,
		&rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.Status = Status(status)
	rec.ScheduledTime = rec.ScheduledTime.UTC()
	if actualMeetingID != nil {
		rec.ActualMeetingID = *actualMeetingID
	}
	if errText != nil {
		rec.Error = *errText
	}
	if len(settings) > 0 {
		if err := json.Unmarshal(settings, &rec.PluginSettings); err != nil {
			return nil, fmt.Errorf("decoding plugin settings: %w", err)
		}
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &rec.Metadata); err != nil {
			return nil, fmt.Errorf("decoding metadata: %w", err)
		}
	}
	return &rec, nil
}

func orEmpty(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return map[string]interface{}{}
	}
	return m
}
