package location

import (
	"context"
	"iter"
	"sync"
	"time"
)

// MockFixSource replays fixes for testing and development
type MockFixSource struct {
	mu       sync.Mutex
	fixes    []Fix
	interval time.Duration
	openErr  error
	repeat   bool
}

// NewMockFixSource emits each fix once, interval apart, then waits for cancel
func NewMockFixSource(interval time.Duration, fixes ...Fix) *MockFixSource {
	return &MockFixSource{
		fixes:    fixes,
		interval: interval,
	}
}

// NewRepeatingMockFixSource cycles through the fixes until cancelled
func NewRepeatingMockFixSource(interval time.Duration, fixes ...Fix) *MockFixSource {
	m := NewMockFixSource(interval, fixes...)
	m.repeat = true
	return m
}

// Fixes yields the configured fixes
func (m *MockFixSource) Fixes(ctx context.Context) (iter.Seq[Fix], error) {
	m.mu.Lock()
	fixes := append([]Fix(nil), m.fixes...)
	interval, openErr, repeat := m.interval, m.openErr, m.repeat
	m.mu.Unlock()

	if openErr != nil {
		return nil, openErr
	}

	return func(yield func(Fix) bool) {
		for {
			for _, fix := range fixes {
				select {
				case <-ctx.Done():
					return
				case <-time.After(interval):
				}

				fix.Timestamp = time.Now()
				if !yield(fix) {
					return
				}
			}

			if !repeat || len(fixes) == 0 {
				break
			}
		}

		<-ctx.Done()
	}, nil
}

// SetOpenError makes subsequent Fixes calls fail, as a denied permission would
func (m *MockFixSource) SetOpenError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.openErr = err
}

// Close releases resources
func (m *MockFixSource) Close() error {
	return nil
}

// Name returns the source type name
func (m *MockFixSource) Name() string {
	return "mock"
}
