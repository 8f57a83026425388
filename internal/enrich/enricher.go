package enrich

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/thromel/URLShortener-sub000/internal/domain"
)

// Enricher combines device parsing and IP resolution. Failures are
// logged and leave the field empty.
type Enricher struct {
	devices *DeviceParser
	geo     GeoResolver
	log     zerolog.Logger
}

// NewEnricher creates an enricher. A nil geo uses NetworkResolver.
func NewEnricher(geo GeoResolver, log zerolog.Logger) *Enricher {
	if geo == nil {
		geo = NetworkResolver{}
	}
	return &Enricher{
		devices: NewDeviceParser(),
		geo:     geo,
		log:     log.With().Str("component", "enrich").Logger(),
	}
}

// Enrich resolves ip and parses userAgent.
func (e *Enricher) Enrich(ctx context.Context, ip, userAgent string) (domain.Location, domain.DeviceInfo) {
	device := e.devices.Parse(userAgent)
	if ip == "" {
		return domain.Location{}, device
	}

	loc, err := e.geo.Resolve(ctx, ip)
	if err != nil {
		e.log.Debug().Err(err).Msg("location lookup failed")
		return domain.Location{}, device
	}
	return loc, device
}
