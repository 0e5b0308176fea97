package consent

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Store interface {
	Get(ctx context.Context, email string) (Record, error)
	Upsert(ctx context.Context, record Record) error
	IsSuppressed(ctx context.Context, email string) (bool, error)
	Suppress(ctx context.Context, email, reason string) error
}

type PGStore struct {
	pool *pgxpool.Pool
}

func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

func (s *PGStore) Get(ctx context.Context, email string) (Record, error) {
	var record Record
	var categories []byte
	err := s.pool.QueryRow(ctx, `
		SELECT email, COALESCE(user_id, ''), status, method, categories, COALESCE(source, ''),
			recorded_at, updated_at, unsubscribed_at, COALESCE(unsubscribe_reason, '')
		FROM consent_records
		WHERE email = $1`,
		normalize(email),
	).Scan(&record.Email, &record.UserID, &record.Status, &record.Method,
		&categories, &record.Source, &record.RecordedAt, &record.UpdatedAt,
		&record.UnsubscribedAt, &record.UnsubscribeReason)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrRecordNotFound
	}
	if err != nil {
		return Record{}, err
	}
	if err := json.Unmarshal(categories, &record.Categories); err != nil {
		return Record{}, err
	}
	return record, nil
}

func (s *PGStore) Upsert(ctx context.Context, record Record) error {
	categories, err := json.Marshal(record.Categories)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO consent_records (email, user_id, status, method, categories, source,
			recorded_at, updated_at, unsubscribed_at, unsubscribe_reason)
		VALUES ($1, NULLIF($2, ''), $3, $4, $5, NULLIF($6, ''), $7, $8, $9, NULLIF($10, ''))
		ON CONFLICT (email) DO UPDATE SET
			user_id = EXCLUDED.user_id,
			status = EXCLUDED.status,
			method = EXCLUDED.method,
			categories = EXCLUDED.categories,
			source = EXCLUDED.source,
			updated_at = EXCLUDED.updated_at,
			unsubscribed_at = EXCLUDED.unsubscribed_at,
			unsubscribe_reason = EXCLUDED.unsubscribe_reason`,
		normalize(record.Email), record.UserID, record.Status, record.Method,
		categories, record.Source, record.RecordedAt, record.UpdatedAt,
		record.UnsubscribedAt, record.UnsubscribeReason,
	)
	return err
}

func (s *PGStore) IsSuppressed(ctx context.Context, email string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM email_suppressions WHERE email = $1)`,
		normalize(email),
	).Scan(&exists)
	return exists, err
}

func (s *PGStore) Suppress(ctx context.Context, email, reason string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO email_suppressions (email, reason, suppressed_at)
		VALUES ($1, $2, now())
		ON CONFLICT (email) DO NOTHING`,
		normalize(email), reason,
	)
	return err
}

func normalize(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
