package meeting

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meetscribe/meetscribe/pkg/errors"
)

// PostgresStore implements Store using PostgreSQL. Transitions are a single
// conditional UPDATE whose WHERE clause carries the expected-status guard, so
// two concurrent deliveries of the same event race on the row and exactly one
// wins.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore creates a PostgreSQL-backed meeting store.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

const meetingColumns = `
	id, owner_id, source_url, display_name, status, error,
	recording_ref, transcript_ref, plugin, plugin_settings, metadata,
	outputs, created_at, updated_at, completed_at, expires_at
`

func (s *PostgresStore) Create(ctx context.Context, rec *Record) error {
	query := `
		INSERT INTO meetings (
			id, owner_id, source_url, display_name, status, plugin,
			plugin_settings, metadata
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING
		RETURNING created_at, updated_at
	`

	settings, err := jsonOrEmpty(rec.PluginSettings)
	if err != nil {
		return fmt.Errorf("encoding plugin settings: %w", err)
	}
	metadata, err := jsonOrEmpty(rec.Metadata)
	if err != nil {
		return fmt.Errorf("encoding metadata: %w", err)
	}

	err = s.db.QueryRow(ctx, query,
		rec.ID, rec.Owner, rec.SourceURL, rec.DisplayName,
		string(rec.Status), rec.Plugin, settings, metadata,
	).Scan(&rec.CreatedAt, &rec.UpdatedAt)
	if err == pgx.ErrNoRows {
		return errors.ErrConflict
	}
	if err != nil {
		return fmt.Errorf("creating meeting: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Record, error) {
	query := `SELECT ` + meetingColumns + ` FROM meetings WHERE id = $1`
	rec, err := scanMeeting(s.db.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, errors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting meeting: %w", err)
	}
	return rec, nil
}

func (s *PostgresStore) FindByArtifact(ctx context.Context, transcriptRef, recordingRef string) (*Record, error) {
	query := `
		SELECT ` + meetingColumns + `
		FROM meetings
		WHERE ($1 != '' AND transcript_ref = $1)
		   OR ($2 != '' AND recording_ref = $2)
		LIMIT 1
	`
	rec, err := scanMeeting(s.db.QueryRow(ctx, query, transcriptRef, recordingRef))
	if err == pgx.ErrNoRows {
		return nil, errors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("finding meeting by artifact: %w", err)
	}
	return rec, nil
}

func (s *PostgresStore) List(ctx context.Context, f ListFilter) ([]*Record, error) {
	query := `SELECT ` + meetingColumns + ` FROM meetings WHERE 1=1`
	args := []interface{}{}
	argNum := 1

	if f.Owner != "" {
		query += fmt.Sprintf(" AND owner_id = $%d", argNum)
		args = append(args, f.Owner)
		argNum++
	}
	if f.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argNum)
		args = append(args, string(f.Status))
		argNum++
	}
	if !f.Since.IsZero() {
		query += fmt.Sprintf(" AND created_at >= $%d", argNum)
		args = append(args, f.Since)
		argNum++
	}
	if !f.Until.IsZero() {
		query += fmt.Sprintf(" AND created_at <= $%d", argNum)
		args = append(args, f.Until)
		argNum++
	}
	query += " ORDER BY created_at DESC"
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argNum)
		args = append(args, f.Limit)
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing meetings: %w", err)
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		rec, err := scanMeeting(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning meeting: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Apply(ctx context.Context, id string, t Transition) (Outcome, error) {
	query := `
		UPDATE meetings SET
			status = $2,
			recording_ref = COALESCE(NULLIF($3, ''), recording_ref),
			transcript_ref = COALESCE(NULLIF($4, ''), transcript_ref),
			error = COALESCE(NULLIF($5, ''), error),
			outputs = COALESCE($6, outputs),
			completed_at = COALESCE($7, completed_at),
			expires_at = COALESCE($8, expires_at),
			updated_at = NOW()
		WHERE id = $1 AND status = ANY($9)
	`

	var outputs []byte
	if t.Outputs != nil {
		var err error
		outputs, err = json.Marshal(t.Outputs)
		if err != nil {
			return OutcomeConflict, fmt.Errorf("encoding outputs: %w", err)
		}
	}

	from := make([]string, len(t.From))
	for i, st := range t.From {
		from[i] = string(st)
	}

	tag, err := s.db.Exec(ctx, query,
		id, string(t.To), t.RecordingRef, t.TranscriptRef, t.Error,
		outputs, t.CompletedAt, t.ExpiresAt, from,
	)
	if err != nil {
		return OutcomeConflict, fmt.Errorf("applying transition: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return OutcomeApplied, nil
	}

	// Guard rejected the write. Classify by re-reading the current status.
	var current string
	err = s.db.QueryRow(ctx, `SELECT status FROM meetings WHERE id = $1`, id).Scan(&current)
	if err == pgx.ErrNoRows {
		return OutcomeConflict, errors.ErrNotFound
	}
	if err != nil {
		return OutcomeConflict, fmt.Errorf("reading status after rejected transition: %w", err)
	}
	if Status(current) == t.To {
		return OutcomeNoOp, nil
	}
	return OutcomeConflict, nil
}

func (s *PostgresStore) UpdateMetadata(ctx context.Context, id string, settings, metadata map[string]interface{}) error {
	query := `
		UPDATE meetings SET
			plugin_settings = COALESCE($2, plugin_settings),
			metadata = COALESCE($3, metadata),
			updated_at = NOW()
		WHERE id = $1
	`

	var settingsJSON, metadataJSON []byte
	var err error
	if settings != nil {
		if settingsJSON, err = json.Marshal(settings); err != nil {
			return fmt.Errorf("encoding plugin settings: %w", err)
		}
	}
	if metadata != nil {
		if metadataJSON, err = json.Marshal(metadata); err != nil {
			return fmt.Errorf("encoding metadata: %w", err)
		}
	}

	tag, err := s.db.Exec(ctx, query, id, settingsJSON, metadataJSON)
	if err != nil {
		return fmt.Errorf("updating meeting metadata: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return errors.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) DeleteExpired(ctx context.Context) (int, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM meetings WHERE expires_at IS NOT NULL AND expires_at < NOW()`)
	if err != nil {
		return 0, fmt.Errorf("deleting expired meetings: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// rowScanner covers pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMeeting(row rowScanner) (*Record, error) {
	var rec Record
	var status string
	var errText, recordingRef, transcriptRef *string
	var settings, metadata, outputs []byte
	var completedAt, expiresAt *time.Time

	err := row.Scan(
		&rec.ID, &rec.Owner, &rec.SourceURL, &rec.DisplayName, &status, &errText,
		&recordingRef, &transcriptRef, &rec.Plugin, &settings, &metadata,
		&outputs, &rec.CreatedAt, &rec.UpdatedAt, &completedAt, &expiresAt,
	)
	if err != nil {
		return nil, err
	}

	rec.Status = Status(status)
	if errText != nil {
		rec.Error = *errText
	}
	if recordingRef != nil {
		rec.RecordingRef = *recordingRef
	}
	if transcriptRef != nil {
		rec.TranscriptRef = *transcriptRef
	}
	rec.CompletedAt = completedAt
	rec.ExpiresAt = expiresAt

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
	if len(outputs) > 0 {
		if err := json.Unmarshal(outputs, &rec.Outputs); err != nil {
			return nil, fmt.Errorf("decoding outputs: %w", err)
		}
	}
	return &rec, nil
}

func jsonOrEmpty(m map[string]interface{}) ([]byte, error) {
	if m == nil {
		return []byte(`{}`), nil
	}
	return json.Marshal(m)
}
