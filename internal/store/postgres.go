package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"visualizer-backend/internal/models"

	"github.com/google/uuid"
)

const selectColumns = `
	id, user_id, conversation_id, message_id, prompt, voice, status,
	script, audio_url, audio_duration_seconds, code, video_url, combined_video_url,
	error_message, claimed_at, version, created_at, updated_at`

// PostgresStore keeps records in the visualizations table (see migrations/).
type PostgresStore struct {
	DB *sql.DB

	// Timeout bounds every statement.
	Timeout time.Duration
	now     func() time.Time
}

func NewPostgresStore(db *sql.DB, timeout time.Duration) *PostgresStore {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &PostgresStore{DB: db, Timeout: timeout, now: time.Now}
}

func (s *PostgresStore) Create(ctx context.Context, v *models.Visualization) error {
	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	prepareNew(v, s.now().UTC())

	query := `
		INSERT INTO visualizations
			(id, user_id, conversation_id, message_id, prompt, voice, status, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := s.DB.ExecContext(ctx, query,
		v.ID, v.UserID, v.ConversationID, v.MessageID, v.Prompt, v.Voice,
		string(v.Status), v.Version, v.CreatedAt, v.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert visualization: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id uuid.UUID) (*models.Visualization, error) {
	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	query := `SELECT` + selectColumns + ` FROM visualizations WHERE id = $1`

	v, err := scanVisualization(s.DB.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}

func (s *PostgresStore) List(ctx context.Context, q ListQuery) ([]*models.Visualization, error) {
	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	query := `SELECT` + selectColumns + `
		FROM visualizations
		WHERE user_id = $1 AND ($2 = '' OR conversation_id = $2)
		ORDER BY created_at DESC
		LIMIT $3
	`
	rows, err := s.DB.QueryContext(ctx, query, q.UserID, q.ConversationID, q.limit())
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

func (s *PostgresStore) Claim(ctx context.Context, id uuid.UUID, status models.Status, expiredBefore time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	query := `
		UPDATE visualizations
		SET claimed_at = $3,
		    version    = version + 1,
		    updated_at = $3
		WHERE id = $1
		  AND status = $2
		  AND (claimed_at IS NULL OR claimed_at < $4)
	`
	result, err := s.DB.ExecContext(ctx, query, id, string(status), s.now().UTC(), expiredBefore)
	if err != nil {
		return err
	}
	return s.affected(ctx, result, id)
}

func (s *PostgresStore) Transition(ctx context.Context, id uuid.UUID, from, to models.Status, a models.Artifacts) error {
	if err := checkTransition(from, to); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	// COALESCE keeps artifacts write-once even if a stage runs twice.
	query := `
		UPDATE visualizations
		SET status                 = $3,
		    script                 = COALESCE(script, NULLIF($4::text, '')),
		    audio_url              = COALESCE(audio_url, NULLIF($5::text, '')),
		    audio_duration_seconds = COALESCE(audio_duration_seconds, NULLIF($6::double precision, 0)),
		    code                   = COALESCE(code, NULLIF($7::text, '')),
		    video_url              = COALESCE(video_url, NULLIF($8::text, '')),
		    combined_video_url     = COALESCE(combined_video_url, NULLIF($9::text, '')),
		    claimed_at             = NULL,
		    version                = version + 1,
		    updated_at             = $10
		WHERE id = $1 AND status = $2
	`
	result, err := s.DB.ExecContext(ctx, query,
		id, string(from), string(to),
		a.Script, a.AudioURL, a.AudioDurationSeconds, a.Code, a.VideoURL, a.CombinedVideoURL,
		s.now().UTC(),
	)
	if err != nil {
		return err
	}
	return s.affected(ctx, result, id)
}

func (s *PostgresStore) Fail(ctx context.Context, id uuid.UUID, from models.Status, message string) error {
	if err := checkTransition(from, models.StatusFailed); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	query := `
		UPDATE visualizations
		SET status        = $3,
		    error_message = $4,
		    claimed_at    = NULL,
		    version       = version + 1,
		    updated_at    = $5
		WHERE id = $1 AND status = $2
	`
	result, err := s.DB.ExecContext(ctx, query, id, string(from), string(models.StatusFailed), message, s.now().UTC())
	if err != nil {
		return err
	}
	return s.affected(ctx, result, id)
}

func (s *PostgresStore) Stalled(ctx context.Context, updatedBefore time.Time, expired LeaseCutoffs, limit int) ([]*models.Visualization, error) {
	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	// One lease clause per in-progress status, each against its own cutoff.
	args := []interface{}{updatedBefore}
	leases := "claimed_at IS NULL"
	for _, status := range expired.statuses() {
		args = append(args, string(status), expired[status])
		leases += fmt.Sprintf(" OR (status = $%d AND claimed_at < $%d)", len(args)-1, len(args))
	}
	args = append(args, limit)

	query := `SELECT` + selectColumns + `
		FROM visualizations
		WHERE status NOT IN ('completed', 'failed')
		  AND updated_at < $1
		  AND (` + leases + `)
		ORDER BY updated_at ASC
		LIMIT NULLIF($` + fmt.Sprint(len(args)) + `::int, 0)
	`
	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.DB.PingContext(ctx)
}

// affected turns a zero-row conditional update into ErrNotFound or ErrConflict.
func (s *PostgresStore) affected(ctx context.Context, result sql.Result, id uuid.UUID) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows > 0 {
		return nil
	}

	var exists bool
	err = s.DB.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM visualizations WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}
	return ErrConflict
}

type scanner interface {
	Scan(dest ...any) error
}

func scanVisualization(row scanner) (*models.Visualization, error) {
	v := &models.Visualization{}
	var (
		status                                                   string
		voice, script, audioURL, code, videoURL, combined, errMsg sql.NullString
		duration                                                 sql.NullFloat64
		claimedAt                                                sql.NullTime
	)

	err := row.Scan(
		&v.ID,
		&v.UserID,
		&v.ConversationID,
		&v.MessageID,
		&v.Prompt,
		&voice,
		&status,
		&script,
		&audioURL,
		&duration,
		&code,
		&videoURL,
		&combined,
		&errMsg,
		&claimedAt,
		&v.Version,
		&v.CreatedAt,
		&v.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	v.Status, err = models.ParseStatus(status)
	if err != nil {
		return nil, fmt.Errorf("visualization %s: %w", v.ID, err)
	}
	v.Voice = voice.String
	v.Script = script.String
	v.AudioURL = audioURL.String
	v.AudioDurationSeconds = duration.Float64
	v.Code = code.String
	v.VideoURL = videoURL.String
	v.CombinedVideoURL = combined.String
	v.ErrorMessage = errMsg.String
	if claimedAt.Valid {
		t := claimedAt.Time
		v.ClaimedAt = &t
	}
	return v, nil
}

func collect(rows *sql.Rows) ([]*models.Visualization, error) {
	defer rows.Close()

	var out []*models.Visualization
	for rows.Next() {
		v, err := scanVisualization(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
