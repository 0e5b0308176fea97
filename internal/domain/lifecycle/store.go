package lifecycle

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Store interface {
	CollectDomain(ctx context.Context, userID, domain string) ([]map[string]any, error)
	DeleteDomain(ctx context.Context, userID, domain string) (int64, error)
	DeleteUserProfile(ctx context.Context, userID string) error
	DeleteCachedPartnerData(ctx context.Context, userID string) (int64, error)
	DeleteCachedPartnerDataOlderThan(ctx context.Context, userID string, days int) (int64, error)

	CreateDeletion(ctx context.Context, request DeletionRequest) error
	UpdateDeletion(ctx context.Context, request DeletionRequest) error
	GetDeletion(ctx context.Context, id string) (DeletionRequest, error)

	CreateExport(ctx context.Context, request ExportRequest) error
	UpdateExport(ctx context.Context, request ExportRequest) error
	GetExport(ctx context.Context, id string) (ExportRequest, error)
}

// domainQueries maps each export domain to the query producing its rows.
// row_to_json keeps the bundle shape stable when columns are added.
var domainQueries = map[string]string{
	"profile":     `SELECT row_to_json(t) FROM (SELECT id, email, display_name, created_at FROM users WHERE id = $1) t`,
	"preferences": `SELECT row_to_json(t) FROM (SELECT * FROM user_preferences WHERE user_id = $1) t`,
	"activity":    `SELECT row_to_json(t) FROM (SELECT * FROM user_activity WHERE user_id = $1 ORDER BY occurred_at) t`,
	"recipes":     `SELECT row_to_json(t) FROM (SELECT * FROM saved_recipes WHERE user_id = $1 ORDER BY created_at) t`,
	"consents":    `SELECT row_to_json(t) FROM (SELECT * FROM consent_records WHERE user_id = $1) t`,
}

var domainDeletes = map[string]string{
	"preferences": `DELETE FROM user_preferences WHERE user_id = $1`,
	"activity":    `DELETE FROM user_activity WHERE user_id = $1`,
	"recipes":     `DELETE FROM saved_recipes WHERE user_id = $1`,
	"consents":    `DELETE FROM consent_records WHERE user_id = $1`,
}

type PGStore struct {
	pool *pgxpool.Pool
}

func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

func (s *PGStore) CollectDomain(ctx context.Context, userID, domain string) ([]map[string]any, error) {
	query, ok := domainQueries[domain]
	if !ok {
		return nil, fmt.Errorf("unknown export domain %q", domain)
	}

	rows, err := s.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []map[string]any
	for rows.Next() {
		var record map[string]any
		if err := rows.Scan(&record); err != nil {
			return nil, err
		}
		out = append(out, record)
	}
	return out, rows.Err()
}

func (s *PGStore) DeleteDomain(ctx context.Context, userID, domain string) (int64, error) {
	query, ok := domainDeletes[domain]
	if !ok {
		return 0, fmt.Errorf("unknown deletion domain %q", domain)
	}
	tag, err := s.pool.Exec(ctx, query, userID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *PGStore) DeleteUserProfile(ctx context.Context, userID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM users WHERE id = $1`, userID)
	return err
}

func (s *PGStore) DeleteCachedPartnerData(ctx context.Context, userID string) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM partner_cache WHERE user_id = $1`, userID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *PGStore) DeleteCachedPartnerDataOlderThan(ctx context.Context, userID string, days int) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM partner_cache WHERE user_id = $1 AND cached_at < now() - make_interval(days => $2)`,
		userID, days,
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *PGStore) CreateDeletion(ctx context.Context, request DeletionRequest) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO deletion_requests (id, user_id, email, reason, status, requested_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6)`,
		request.ID, request.UserID, request.Email, request.Reason, request.Status, request.RequestedAt,
	)
	return err
}

func (s *PGStore) UpdateDeletion(ctx context.Context, request DeletionRequest) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE deletion_requests
		SET status = $2, confirmed_at = $3, completed_at = $4, export_id = NULLIF($5, '')
		WHERE id = $1`,
		request.ID, request.Status, request.ConfirmedAt, request.CompletedAt, request.ExportID,
	)
	return err
}

func (s *PGStore) GetDeletion(ctx context.Context, id string) (DeletionRequest, error) {
	var request DeletionRequest
	err := s.pool.QueryRow(ctx, `
		SELECT id, user_id, email, COALESCE(reason, ''), status, requested_at, confirmed_at, completed_at, COALESCE(export_id, '')
		FROM deletion_requests WHERE id = $1`, id,
	).Scan(&request.ID, &request.UserID, &request.Email, &request.Reason, &request.Status,
		&request.RequestedAt, &request.ConfirmedAt, &request.CompletedAt, &request.ExportID)
	if errors.Is(err, pgx.ErrNoRows) {
		return DeletionRequest{}, ErrDeletionNotFound
	}
	return request, err
}

func (s *PGStore) CreateExport(ctx context.Context, request ExportRequest) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO export_requests (id, user_id, status, requested_at)
		VALUES ($1, $2, $3, $4)`,
		request.ID, request.UserID, request.Status, request.RequestedAt,
	)
	return err
}

func (s *PGStore) UpdateExport(ctx context.Context, request ExportRequest) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE export_requests
		SET status = $2, completed_at = $3, download_url = NULLIF($4, ''), expires_at = $5, domains = $6, encrypted = $7
		WHERE id = $1`,
		request.ID, request.Status, request.CompletedAt, request.DownloadURL,
		request.ExpiresAt, request.Domains, request.Encrypted,
	)
	return err
}

func (s *PGStore) GetExport(ctx context.Context, id string) (ExportRequest, error) {
	var request ExportRequest
	err := s.pool.QueryRow(ctx, `
		SELECT id, user_id, status, requested_at, completed_at, COALESCE(download_url, ''), expires_at, COALESCE(domains, '{}'), encrypted
		FROM export_requests WHERE id = $1`, id,
	).Scan(&request.ID, &request.UserID, &request.Status, &request.RequestedAt,
		&request.CompletedAt, &request.DownloadURL, &request.ExpiresAt, &request.Domains, &request.Encrypted)
	if errors.Is(err, pgx.ErrNoRows) {
		return ExportRequest{}, ErrExportNotFound
	}
	return request, err
}
