package location

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	geo "github.com/kellydunn/golang-geo"
)

// roundTripFunc answers geocoding requests without a network
type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func jsonResponse(body string) roundTripFunc {
	return func(req *http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: http.StatusOK,
			Header:     http.Header{"Content-Type": []string{"application/json"}},
			Body:       io.NopCloser(strings.NewReader(body)),
			Request:    req,
		}, nil
	}
}

func testGeocoder(rt http.RoundTripper, timeout time.Duration) *GoogleGeocoder {
	return newGoogleGeocoder(&http.Client{Transport: rt, Timeout: timeout})
}

func TestNewGeocoder(t *testing.T) {
	g, err := NewGeocoder(ProviderNone, "", 0)
	if err != nil || g != nil {
		t.Errorf("expected no geocoder for 'none', got %v, %v", g, err)
	}

	g, err = NewGeocoder(ProviderGoogle, "", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	google, ok := g.(*GoogleGeocoder)
	if !ok {
		t.Fatalf("expected *GoogleGeocoder, got %T", g)
	}
	if google.backend.HttpClient == nil || google.backend.HttpClient.Timeout <= 0 {
		t.Error("expected an HTTP client with a default timeout")
	}

	g, _ = NewGeocoder(ProviderGoogle, "", 3*time.Second)
	if got := g.(*GoogleGeocoder).backend.HttpClient.Timeout; got != 3*time.Second {
		t.Errorf("expected 3s timeout, got %v", got)
	}

	if _, err := NewGeocoder("osm", "", 0); err == nil {
		t.Error("expected error for unknown provider")
	}
}

func TestGoogleGeocoder_ReverseGeocode(t *testing.T) {
	g := testGeocoder(jsonResponse(`{"results":[{"formatted_address":"1 Market St, San Francisco"}]}`), time.Second)

	addr, err := g.ReverseGeocode(context.Background(), DemoFix.Point())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if addr != "1 Market St, San Francisco" {
		t.Errorf("unexpected address %q", addr)
	}
}

func TestGoogleGeocoder_Errors(t *testing.T) {
	tests := []struct {
		name string
		rt   roundTripFunc
		want error
	}{
		{"zero results", jsonResponse(`{"results":[]}`), nil},
		{"blank address", jsonResponse(`{"results":[{"formatted_address":"  "}]}`), ErrNoAddress},
		{"transport error", func(*http.Request) (*http.Response, error) {
			return nil, errors.New("connection refused")
		}, nil},
		{"malformed body", jsonResponse(`<html>quota exceeded</html>`), nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := testGeocoder(tt.rt, time.Second)

			addr, err := g.ReverseGeocode(context.Background(), DemoFix.Point())
			if err == nil {
				t.Fatalf("expected error, got address %q", addr)
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestGoogleGeocoder_StalledServerTimesOut(t *testing.T) {
	stalled := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		<-req.Context().Done()
		return nil, req.Context().Err()
	})
	g := testGeocoder(stalled, 50*time.Millisecond)

	start := time.Now()
	_, err := g.ReverseGeocode(context.Background(), DemoFix.Point())
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("expected the request to be abandoned promptly, took %v", elapsed)
	}
}

func TestGoogleGeocoder_CancelledContext(t *testing.T) {
	called := false
	g := testGeocoder(func(req *http.Request) (*http.Response, error) {
		called = true
		return jsonResponse(`{"results":[]}`)(req)
	}, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := g.ReverseGeocode(ctx, geo.NewPoint(0, 0)); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if called {
		t.Error("expected no request after cancellation")
	}
}

func TestService_StalledGeocoderFallsBack(t *testing.T) {
	stalled := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		<-req.Context().Done()
		return nil, req.Context().Err()
	})

	svc := NewService(NewMockFixSource(time.Millisecond), testGeocoder(stalled, 20*time.Millisecond), DefaultServiceConfig(), nil)
	runFixes(t, svc, DemoFix)

	if got := svc.Latest().Address; got != AddressUnavailable {
		t.Errorf("expected %q, got %q", AddressUnavailable, got)
	}
	if svc.Stats().GeocodeFailures != 1 {
		t.Errorf("expected 1 geocode failure, got %d", svc.Stats().GeocodeFailures)
	}
}
