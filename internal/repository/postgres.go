package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/thromel/URLShortener-sub000/internal/database"
	"github.com/thromel/URLShortener-sub000/internal/domain"
)

// PostgreSQL error code 23505 = unique_violation
const uniqueViolation = "23505"

const selectColumns = `
	aggregate_id, short_code, original_url, user_id, is_custom_alias,
	status, access_count, last_accessed_at, created_at, expires_at, version`

// PostgresURLRepository stores the projection in short_urls.
type PostgresURLRepository struct {
	db *database.PostgresDB
}

// NewPostgresURLRepository creates a repository on db.
func NewPostgresURLRepository(db *database.PostgresDB) *PostgresURLRepository {
	return &PostgresURLRepository{db: db}
}

// Save implements URLRepository.
//
// SECURITY NOTE - SQL Injection Prevention:
// Parameterized queries only. Never build SQL with fmt.Sprintf.
func (r *PostgresURLRepository) Save(ctx context.Context, u *domain.ShortURL) error {
	query := `
		INSERT INTO short_urls (
			aggregate_id, short_code, original_url, user_id, is_custom_alias,
			status, access_count, last_accessed_at, created_at, expires_at, version, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW())
		ON CONFLICT (aggregate_id) DO UPDATE SET
			status           = EXCLUDED.status,
			access_count     = EXCLUDED.access_count,
			last_accessed_at = EXCLUDED.last_accessed_at,
			expires_at       = EXCLUDED.expires_at,
			version          = EXCLUDED.version,
			updated_at       = NOW()
		WHERE short_urls.version < EXCLUDED.version
	`

	_, err := r.db.Pool.Exec(ctx, query,
		u.ID,
		u.ShortCode,
		u.OriginalURL,
		u.UserID,
		u.IsCustomAlias,
		string(u.Status),
		u.AccessCount,
		u.LastAccessedAt,
		u.CreatedAt,
		u.ExpiresAt,
		u.Version,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("failed to save short URL: %w", err)
	}
	return nil
}

// GetByCode implements URLRepository.
func (r *PostgresURLRepository) GetByCode(ctx context.Context, code string) (*domain.ShortURL, error) {
	query := `SELECT ` + selectColumns + ` FROM short_urls WHERE short_code = $1`

	u, err := scanShortURL(r.db.Pool.QueryRow(ctx, query, code))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get short URL: %w", err)
	}
	return u, nil
}

// GetOriginalURL implements URLRepository.
func (r *PostgresURLRepository) GetOriginalURL(ctx context.Context, code string) (string, error) {
	query := `
		SELECT original_url
		FROM short_urls
		WHERE short_code = $1
		  AND status = 'active'
		  AND (expires_at IS NULL OR expires_at > NOW())
	`

	var original string
	err := r.db.Pool.QueryRow(ctx, query, code).Scan(&original)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get original URL: %w", err)
	}
	return original, nil
}

// ExistsByCode implements URLRepository.
//
// PERFORMANCE NOTE:
// SELECT 1 lets Postgres answer from the unique index alone.
func (r *PostgresURLRepository) ExistsByCode(ctx context.Context, code string) (bool, error) {
	query := `SELECT 1 FROM short_urls WHERE short_code = $1 LIMIT 1`

	var exists int
	err := r.db.Pool.QueryRow(ctx, query, code).Scan(&exists)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check existence: %w", err)
	}
	return true, nil
}

// GetByUser implements URLRepository. Newest first.
func (r *PostgresURLRepository) GetByUser(ctx context.Context, userID string, page Page) ([]*domain.ShortURL, int64, error) {
	page = page.Normalize()

	var total int64
	if err := r.db.Pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM short_urls WHERE user_id = $1`, userID,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count user URLs: %w", err)
	}

	query := `SELECT ` + selectColumns + `
		FROM short_urls
		WHERE user_id = $1
		ORDER BY created_at DESC, short_code
		LIMIT $2 OFFSET $3`

	urls, err := r.list(ctx, query, userID, page.Limit, page.Offset)
	if err != nil {
		return nil, 0, err
	}
	return urls, total, nil
}

// Search implements URLRepository. Matches code or target URL,
// case-insensitively.
func (r *PostgresURLRepository) Search(ctx context.Context, q string, page Page) ([]*domain.ShortURL, int64, error) {
	page = page.Normalize()
	pattern := likePattern(q)

	var total int64
	if err := r.db.Pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM short_urls WHERE short_code ILIKE $1 OR original_url ILIKE $1`, pattern,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count search results: %w", err)
	}

	query := `SELECT ` + selectColumns + `
		FROM short_urls
		WHERE short_code ILIKE $1 OR original_url ILIKE $1
		ORDER BY created_at DESC, short_code
		LIMIT $2 OFFSET $3`

	urls, err := r.list(ctx, query, pattern, page.Limit, page.Offset)
	if err != nil {
		return nil, 0, err
	}
	return urls, total, nil
}

// ForEachCode implements URLRepository.
func (r *PostgresURLRepository) ForEachCode(ctx context.Context, fn func(code string) error) error {
	rows, err := r.db.Pool.Query(ctx, `SELECT short_code FROM short_urls`)
	if err != nil {
		return fmt.Errorf("failed to list codes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return fmt.Errorf("failed to scan code: %w", err)
		}
		if err := fn(code); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (r *PostgresURLRepository) list(ctx context.Context, query string, args ...any) ([]*domain.ShortURL, error) {
	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list short URLs: %w", err)
	}
	defer rows.Close()

	urls := []*domain.ShortURL{}
	for rows.Next() {
		u, err := scanShortURL(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan short URL: %w", err)
		}
		urls = append(urls, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate short URLs: %w", err)
	}
	return urls, nil
}

func scanShortURL(row pgx.Row) (*domain.ShortURL, error) {
	u := &domain.ShortURL{}
	var status string
	err := row.Scan(
		&u.ID,
		&u.ShortCode,
		&u.OriginalURL,
		&u.UserID,
		&u.IsCustomAlias,
		&status,
		&u.AccessCount,
		&u.LastAccessedAt,
		&u.CreatedAt,
		&u.ExpiresAt,
		&u.Version,
	)
	if err != nil {
		return nil, err
	}
	u.Status = domain.Status(status)
	return u, nil
}

// isDuplicateKeyError checks if the error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
