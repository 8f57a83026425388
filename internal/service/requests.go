package service

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/thromel/URLShortener-sub000/internal/analytics"
	"github.com/thromel/URLShortener-sub000/internal/domain"
)

// CreateRequest is the input to CreateShortURL.
type CreateRequest struct {
	URL         string `validate:"required,url,max=2083"`
	CustomAlias string
	UserID      string `validate:"max=128"`
	ExpiresAt   *time.Time
	IPAddress   string
	UserAgent   string
	Metadata    map[string]string `validate:"max=20"`
}

// AccessRequest describes one redirect.
type AccessRequest struct {
	ShortCode string
	IPAddress string
	UserAgent string
	Referrer  string
}

// Statistics is the replayed state of a short URL.
type Statistics struct {
	ShortCode      string
	OriginalURL    string
	Status         domain.Status
	IsCustomAlias  bool
	AccessCount    int64
	CreatedAt      time.Time
	ExpiresAt      *time.Time
	LastAccessedAt *time.Time
	Version        int
	Pattern        *analytics.Pattern
}

// ===========================================
// Validation
// ===========================================

// validateCreate runs struct tags first, then the rules tags cannot
// express.
//
// SECURITY NOTE: only http and https targets are accepted. Anything
// else (javascript:, data:, file:) would turn a redirect into an
// injection vector.
func (s *URLService) validateCreate(req CreateRequest) error {
	if err := s.validate.Struct(req); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			for _, fe := range fieldErrs {
				if fe.Field() == "URL" {
					return ErrInvalidURL
				}
			}
		}
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}

	if !isValidURL(req.URL) {
		return ErrInvalidURL
	}
	if s.isBlockedDomain(req.URL) {
		return fmt.Errorf("%w: domain is not allowed", ErrInvalidURL)
	}

	if req.ExpiresAt != nil && !req.ExpiresAt.After(s.now()) {
		return fmt.Errorf("%w: expiry must be in the future", ErrValidation)
	}

	if req.CustomAlias != "" && !isValidShortCode(req.CustomAlias, s.config.MinCustomLength, s.config.MaxCustomLength) {
		return ErrInvalidCode
	}
	return nil
}

func (s *URLService) isBlockedDomain(rawURL string) bool {
	if len(s.config.BlockedDomains) == 0 {
		return false
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return true
	}
	host := strings.ToLower(parsed.Hostname())
	for _, blocked := range s.config.BlockedDomains {
		blocked = strings.ToLower(blocked)
		if host == blocked || strings.HasSuffix(host, "."+blocked) {
			return true
		}
	}
	return false
}

// isValidURL performs basic URL validation.
func isValidURL(rawURL string) bool {
	// Must start with http:// or https://
	if !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://") {
		return false
	}

	// Basic length check
	if len(rawURL) < 10 || len(rawURL) > 2083 {
		return false
	}

	parsed, err := url.Parse(rawURL)
	return err == nil && parsed.Host != ""
}

// isValidShortCode checks if a custom alias meets requirements.
func isValidShortCode(code string, minLength, maxLength int) bool {
	if len(code) < minLength || len(code) > maxLength {
		return false
	}

	// Letters, digits, hyphen and underscore. No leading separator.
	for i, c := range code {
		isLetter := (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
		isNumber := c >= '0' && c <= '9'
		isSep := c == '-' || c == '_'
		if !isLetter && !isNumber && !isSep {
			return false
		}
		if isSep && i == 0 {
			return false
		}
	}

	return !reservedCodes[strings.ToLower(code)]
}

// reservedCodes collide with routes.
var reservedCodes = map[string]bool{
	"api":     true,
	"health":  true,
	"ready":   true,
	"live":    true,
	"static":  true,
	"metrics": true,
}
