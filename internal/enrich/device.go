// Package enrich turns raw request data (user agent, client IP) into
// the device and location details recorded with each access.
package enrich

import (
	"github.com/mssola/useragent"

	"github.com/thromel/URLShortener-sub000/internal/domain"
)

// Device types recorded on access events.
const (
	DeviceDesktop = "desktop"
	DeviceMobile  = "mobile"
	DeviceBot     = "bot"
	DeviceUnknown = "unknown"
)

// DeviceParser classifies user agent strings.
type DeviceParser struct{}

// NewDeviceParser creates a parser.
func NewDeviceParser() *DeviceParser {
	return &DeviceParser{}
}

// Parse extracts browser, OS and device class from ua. An empty ua
// yields an unknown device.
func (p *DeviceParser) Parse(ua string) domain.DeviceInfo {
	if ua == "" {
		return domain.DeviceInfo{Browser: "Unknown", OS: "Unknown", DeviceType: DeviceUnknown}
	}

	parsed := useragent.New(ua)
	name, version := parsed.Browser()
	info := domain.DeviceInfo{
		Browser:        name,
		BrowserVersion: version,
		OS:             parsed.OS(),
		DeviceType:     DeviceDesktop,
		IsBot:          parsed.Bot(),
	}

	switch {
	case info.IsBot:
		info.DeviceType = DeviceBot
	case parsed.Mobile():
		info.DeviceType = DeviceMobile
	}
	return info
}
