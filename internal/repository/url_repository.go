// ===========================================
// Package repository - Read Model Access
// ===========================================
// The event store is the source of truth. This package keeps a
// queryable projection of every aggregate in short_urls so that
// lookups by code, by user, and by text don't need a replay.
//
// PROJECTION RULE:
// Save is an upsert guarded by version. A slower writer holding an
// older aggregate can never overwrite a newer row.
// ===========================================

package repository

import (
	"context"
	"errors"
	"strings"

	"github.com/thromel/URLShortener-sub000/internal/domain"
)

// Common errors returned by repository methods.
var (
	ErrNotFound      = errors.New("resource not found")
	ErrAlreadyExists = errors.New("resource already exists")
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// Page selects a slice of a listing.
type Page struct {
	Limit  int
	Offset int
}

// Normalize clamps the page to sane bounds.
func (p Page) Normalize() Page {
	if p.Limit <= 0 {
		p.Limit = defaultPageSize
	}
	if p.Limit > maxPageSize {
		p.Limit = maxPageSize
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

// URLRepository is the read model of short URLs.
type URLRepository interface {
	// Save upserts the projection of u. Returns ErrAlreadyExists when
	// another aggregate already owns u.ShortCode.
	Save(ctx context.Context, u *domain.ShortURL) error

	GetByCode(ctx context.Context, code string) (*domain.ShortURL, error)

	// GetOriginalURL returns the target of an active, unexpired code.
	GetOriginalURL(ctx context.Context, code string) (string, error)

	ExistsByCode(ctx context.Context, code string) (bool, error)
	GetByUser(ctx context.Context, userID string, page Page) ([]*domain.ShortURL, int64, error)
	Search(ctx context.Context, query string, page Page) ([]*domain.ShortURL, int64, error)

	// ForEachCode calls fn for every known short code.
	ForEachCode(ctx context.Context, fn func(code string) error) error
}

// snapshot copies the persisted fields of u.
func snapshot(u *domain.ShortURL) *domain.ShortURL {
	return &domain.ShortURL{
		ID:             u.ID,
		ShortCode:      u.ShortCode,
		OriginalURL:    u.OriginalURL,
		UserID:         u.UserID,
		IsCustomAlias:  u.IsCustomAlias,
		CreatedAt:      u.CreatedAt,
		ExpiresAt:      u.ExpiresAt,
		Status:         u.Status,
		AccessCount:    u.AccessCount,
		LastAccessedAt: u.LastAccessedAt,
		Version:        u.Version,
	}
}

// likePattern escapes LIKE wildcards in q and wraps it for a
// substring match.
func likePattern(q string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(q) + "%"
}
