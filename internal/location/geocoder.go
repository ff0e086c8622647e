package location

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	geo "github.com/kellydunn/golang-geo"
)

// Geocoder providers
const (
	ProviderNone   = "none"
	ProviderGoogle = "google"
)

// Geocoder resolves a point to a human-readable address
type Geocoder interface {
	ReverseGeocode(ctx context.Context, p *geo.Point) (string, error)
}

// ErrNoAddress is returned when the provider knows no address for a point
var ErrNoAddress = errors.New("no address for point")

// GoogleGeocoder reverse-geocodes through the Google Maps API
type GoogleGeocoder struct {
	backend *geo.GoogleGeocoder
}

// NewGoogleGeocoder creates a Google geocoder. The API key is process-wide.
// Requests are abandoned after timeout.
func NewGoogleGeocoder(apiKey string, timeout time.Duration) *GoogleGeocoder {
	if apiKey != "" {
		geo.SetGoogleAPIKey(apiKey)
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return newGoogleGeocoder(&http.Client{Timeout: timeout})
}

func newGoogleGeocoder(client *http.Client) *GoogleGeocoder {
	return &GoogleGeocoder{
		backend: &geo.GoogleGeocoder{HttpClient: client},
	}
}

// ReverseGeocode looks up the address of p. The backend takes no context,
// so cancellation is only checked before the request.
func (g *GoogleGeocoder) ReverseGeocode(ctx context.Context, p *geo.Point) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("reverse geocode: %w", err)
	}

	addr, err := g.backend.ReverseGeocode(p)
	if err != nil {
		return "", fmt.Errorf("reverse geocode: %w", err)
	}
	if strings.TrimSpace(addr) == "" {
		return "", ErrNoAddress
	}
	return addr, nil
}

// NewGeocoder creates the configured geocoder; provider "none" returns nil
func NewGeocoder(provider, apiKey string, timeout time.Duration) (Geocoder, error) {
	switch provider {
	case ProviderNone, "":
		return nil, nil
	case ProviderGoogle:
		return NewGoogleGeocoder(apiKey, timeout), nil
	}
	return nil, fmt.Errorf("unknown geocoder provider %q", provider)
}
