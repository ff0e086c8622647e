package location

import (
	"bufio"
	"context"
	"io"
	"iter"
	"log/slog"
	"strings"
	"sync"
	"time"

	nmea "github.com/adrianmo/go-nmea"
	serial "github.com/jacobsa/go-serial/serial"
)

// OpenSerial opens a GPS receiver's serial port (8N1)
func OpenSerial(port string, baud uint) (io.ReadWriteCloser, error) {
	return serial.Open(serial.OpenOptions{
		PortName:        port,
		BaudRate:        baud,
		DataBits:        8,
		StopBits:        1,
		MinimumReadSize: 1,
		ParityMode:      serial.PARITY_NONE,
	})
}

// ParseFix extracts a position from one NMEA line. Only GGA sentences with a
// valid fix qualify since they carry altitude.
func ParseFix(line string) (Fix, bool, error) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "$") {
		return Fix{}, false, nil
	}

	sentence, err := nmea.Parse(line)
	if err != nil {
		return Fix{}, false, err
	}

	if sentence.DataType() != nmea.TypeGGA {
		return Fix{}, false, nil
	}

	gga := sentence.(nmea.GGA)
	if gga.FixQuality == nmea.Invalid {
		return Fix{}, false, nil
	}

	return Fix{
		Latitude:  gga.Latitude,
		Longitude: gga.Longitude,
		AltitudeM: gga.Altitude,
		Timestamp: time.Now(),
	}, true, nil
}

// NMEASource reads fixes from an NMEA 0183 stream
type NMEASource struct {
	open   func() (io.ReadCloser, error)
	name   string
	logger *slog.Logger

	mu          sync.Mutex
	closer      io.Closer
	sentences   int64
	parseErrors int64
	fixes       int64
}

// NewNMEASource reads NMEA from whatever open returns
func NewNMEASource(name string, open func() (io.ReadCloser, error), logger *slog.Logger) *NMEASource {
	if logger == nil {
		logger = slog.Default()
	}
	return &NMEASource{
		open:   open,
		name:   name,
		logger: logger,
	}
}

// NewSerialNMEASource reads NMEA from a serial GPS receiver
func NewSerialNMEASource(port string, baud uint, logger *slog.Logger) *NMEASource {
	return NewNMEASource("serial", func() (io.ReadCloser, error) {
		return OpenSerial(port, baud)
	}, logger)
}

// Fixes opens the stream and yields valid fixes until ctx is cancelled or
// the stream ends
func (n *NMEASource) Fixes(ctx context.Context) (iter.Seq[Fix], error) {
	rc, err := n.open()
	if err != nil {
		return nil, err
	}

	n.mu.Lock()
	n.closer = rc
	n.mu.Unlock()

	return func(yield func(Fix) bool) {
		var once sync.Once
		closeStream := func() { once.Do(func() { rc.Close() }) }
		defer closeStream()

		// Unblock the scanner on cancel
		stop := context.AfterFunc(ctx, closeStream)
		defer stop()

		scanner := bufio.NewScanner(rc)
		for scanner.Scan() {
			fix, ok, err := ParseFix(scanner.Text())

			n.mu.Lock()
			n.sentences++
			if err != nil {
				n.parseErrors++
			}
			if ok {
				n.fixes++
			}
			n.mu.Unlock()

			if err != nil {
				// Noisy receivers emit partial sentences
				continue
			}
			if ok && !yield(fix) {
				return
			}
		}

		if err := scanner.Err(); err != nil && ctx.Err() == nil {
			n.logger.Warn("NMEA read error", "source", n.name, "error", err)
		}
	}, nil
}

// Close closes the underlying stream
func (n *NMEASource) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closer == nil {
		return nil
	}
	err := n.closer.Close()
	n.closer = nil
	return err
}

// Name returns the source type name
func (n *NMEASource) Name() string {
	return n.name
}

// Stats returns NMEA parsing statistics
func (n *NMEASource) Stats() NMEAStats {
	n.mu.Lock()
	defer n.mu.Unlock()

	return NMEAStats{
		Sentences:   n.sentences,
		ParseErrors: n.parseErrors,
		Fixes:       n.fixes,
	}
}

// NMEAStats contains NMEA parsing statistics
type NMEAStats struct {
	Sentences   int64 `json:"sentences"`
	ParseErrors int64 `json:"parse_errors"`
	Fixes       int64 `json:"fixes"`
}
