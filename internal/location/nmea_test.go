package location

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
	"testing"
)

// sentence wraps an NMEA body with its checksum
func sentence(body string) string {
	var sum byte
	for i := 0; i < len(body); i++ {
		sum ^= body[i]
	}
	return fmt.Sprintf("$%s*%02X", body, sum)
}

var (
	validGGA   = sentence("GPGGA,172814.0,3723.46587704,N,12202.26957864,W,2,6,1.2,18.893,M,-25.669,M,2.0,0031")
	noFixGGA   = sentence("GPGGA,172815.0,3723.46587704,N,12202.26957864,W,0,0,,,M,,M,,")
	secondGGA  = sentence("GPGGA,172816.0,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,")
	rmcOnly    = sentence("GPRMC,220516,A,5133.82,N,00042.24,W,173.8,231.8,130694,004.2,W")
	badSumLine = "$GPGGA,172814.0,3723.46587704,N,12202.26957864,W,2,6,1.2,18.893,M,-25.669,M,2.0,0031*00"
)

func TestParseFix(t *testing.T) {
	fix, ok, err := ParseFix(validGGA)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatal("expected a fix")
	}

	if math.Abs(fix.Latitude-(37+23.46587704/60)) > 1e-6 {
		t.Errorf("unexpected latitude %f", fix.Latitude)
	}
	if math.Abs(fix.Longitude+(122+2.26957864/60)) > 1e-6 {
		t.Errorf("unexpected longitude %f", fix.Longitude)
	}
	if math.Abs(fix.AltitudeM-18.893) > 1e-9 {
		t.Errorf("unexpected altitude %f", fix.AltitudeM)
	}
}

func TestParseFix_Skips(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		wantErr bool
	}{
		{"no fix", noFixGGA, false},
		{"other sentence", rmcOnly, false},
		{"not nmea", "hello", false},
		{"empty", "", false},
		{"bad checksum", badSumLine, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok, err := ParseFix(tt.line)
			if ok {
				t.Error("expected no fix")
			}
			if (err != nil) != tt.wantErr {
				t.Errorf("expected error %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestNMEASource_Fixes(t *testing.T) {
	stream := strings.Join([]string{validGGA, rmcOnly, badSumLine, noFixGGA, secondGGA}, "\r\n") + "\r\n"

	source := NewNMEASource("test", func() (io.ReadCloser, error) {
		return io.NopCloser(strings.NewReader(stream)), nil
	}, nil)

	fixes, err := source.Fixes(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var got []Fix
	for fix := range fixes {
		got = append(got, fix)
	}

	if len(got) != 2 {
		t.Fatalf("expected 2 fixes, got %d", len(got))
	}
	if math.Abs(got[1].AltitudeM-545.4) > 1e-9 {
		t.Errorf("expected second altitude 545.4, got %f", got[1].AltitudeM)
	}

	stats := source.Stats()
	if stats.Sentences != 5 {
		t.Errorf("expected 5 sentences, got %d", stats.Sentences)
	}
	if stats.ParseErrors != 1 {
		t.Errorf("expected 1 parse error, got %d", stats.ParseErrors)
	}
	if stats.Fixes != 2 {
		t.Errorf("expected 2 fixes, got %d", stats.Fixes)
	}
}

func TestNMEASource_OpenError(t *testing.T) {
	openErr := errors.New("permission denied")
	source := NewNMEASource("test", func() (io.ReadCloser, error) {
		return nil, openErr
	}, nil)

	if _, err := source.Fixes(context.Background()); !errors.Is(err, openErr) {
		t.Errorf("expected open error, got %v", err)
	}
}

func TestNMEASource_CancelUnblocksRead(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()

	source := NewNMEASource("pipe", func() (io.ReadCloser, error) {
		return pr, nil
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	fixes, err := source.Fixes(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	go func() {
		io.WriteString(pw, validGGA+"\r\n")
	}()

	for range fixes {
		cancel()
	}
	// Reaching here means the blocked read was released
}

func openString(s string) func() (io.ReadCloser, error) {
	return func() (io.ReadCloser, error) {
		return io.NopCloser(strings.NewReader(s)), nil
	}
}
