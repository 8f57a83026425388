package enrich

import (
	"context"
	"fmt"
	"net/netip"

	"github.com/thromel/URLShortener-sub000/internal/domain"
)

// Network classes reported in Location.Network.
const (
	NetworkPublic    = "public"
	NetworkPrivate   = "private"
	NetworkLoopback  = "loopback"
	NetworkLinkLocal = "link_local"
)

// GeoResolver maps a client IP to a location.
type GeoResolver interface {
	Resolve(ctx context.Context, ip string) (domain.Location, error)
}

// NetworkResolver classifies the address range of an IP. It does not
// know countries; a GeoIP-backed resolver can replace it behind the
// same interface.
type NetworkResolver struct{}

// Resolve implements GeoResolver.
func (NetworkResolver) Resolve(_ context.Context, ip string) (domain.Location, error) {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return domain.Location{}, fmt.Errorf("parse client ip %q: %w", ip, err)
	}
	addr = addr.Unmap()

	var network string
	switch {
	case addr.IsLoopback():
		network = NetworkLoopback
	case addr.IsPrivate():
		network = NetworkPrivate
	case addr.IsLinkLocalUnicast():
		network = NetworkLinkLocal
	default:
		network = NetworkPublic
	}
	return domain.Location{Network: network}, nil
}
