package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/thromel/URLShortener-sub000/internal/domain"
)

// MemoryURLRepository is an in-process URLRepository. Each instance
// owns its data; there is no shared global state.
type MemoryURLRepository struct {
	mu     sync.RWMutex
	byID   map[uuid.UUID]*domain.ShortURL
	byCode map[string]uuid.UUID
	now    func() time.Time
}

// NewMemoryURLRepository creates an empty repository.
func NewMemoryURLRepository() *MemoryURLRepository {
	return &MemoryURLRepository{
		byID:   make(map[uuid.UUID]*domain.ShortURL),
		byCode: make(map[string]uuid.UUID),
		now:    time.Now,
	}
}

// Save implements URLRepository.
func (r *MemoryURLRepository) Save(ctx context.Context, u *domain.ShortURL) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if owner, ok := r.byCode[u.ShortCode]; ok && owner != u.ID {
		return ErrAlreadyExists
	}
	if existing, ok := r.byID[u.ID]; ok && existing.Version >= u.Version {
		return nil
	}
	r.byID[u.ID] = snapshot(u)
	r.byCode[u.ShortCode] = u.ID
	return nil
}

// GetByCode implements URLRepository.
func (r *MemoryURLRepository) GetByCode(ctx context.Context, code string) (*domain.ShortURL, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byCode[code]
	if !ok {
		return nil, ErrNotFound
	}
	return snapshot(r.byID[id]), nil
}

// GetOriginalURL implements URLRepository.
func (r *MemoryURLRepository) GetOriginalURL(ctx context.Context, code string) (string, error) {
	u, err := r.GetByCode(ctx, code)
	if err != nil {
		return "", err
	}
	if !u.IsActive(r.now()) {
		return "", ErrNotFound
	}
	return u.OriginalURL, nil
}

// ExistsByCode implements URLRepository.
func (r *MemoryURLRepository) ExistsByCode(ctx context.Context, code string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byCode[code]
	return ok, nil
}

// GetByUser implements URLRepository.
func (r *MemoryURLRepository) GetByUser(ctx context.Context, userID string, page Page) ([]*domain.ShortURL, int64, error) {
	return r.filter(ctx, page, func(u *domain.ShortURL) bool { return u.UserID == userID })
}

// Search implements URLRepository.
func (r *MemoryURLRepository) Search(ctx context.Context, q string, page Page) ([]*domain.ShortURL, int64, error) {
	needle := strings.ToLower(q)
	return r.filter(ctx, page, func(u *domain.ShortURL) bool {
		return strings.Contains(strings.ToLower(u.ShortCode), needle) ||
			strings.Contains(strings.ToLower(u.OriginalURL), needle)
	})
}

// ForEachCode implements URLRepository. fn runs outside the lock.
func (r *MemoryURLRepository) ForEachCode(ctx context.Context, fn func(code string) error) error {
	r.mu.RLock()
	codes := make([]string, 0, len(r.byCode))
	for code := range r.byCode {
		codes = append(codes, code)
	}
	r.mu.RUnlock()

	for _, code := range codes {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(code); err != nil {
			return err
		}
	}
	return nil
}

func (r *MemoryURLRepository) filter(ctx context.Context, page Page, keep func(*domain.ShortURL) bool) ([]*domain.ShortURL, int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	page = page.Normalize()

	r.mu.RLock()
	matched := make([]*domain.ShortURL, 0)
	for _, u := range r.byID {
		if keep(u) {
			matched = append(matched, snapshot(u))
		}
	}
	r.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ShortCode < matched[j].ShortCode
	})

	total := int64(len(matched))
	if page.Offset >= len(matched) {
		return []*domain.ShortURL{}, total, nil
	}
	end := min(page.Offset+page.Limit, len(matched))
	return matched[page.Offset:end], total, nil
}
