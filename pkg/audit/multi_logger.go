package audit

import (
	"context"
	"errors"
	"fmt"
)

// MultiLogger fans an event out to several sinks. Every sink is attempted
// even when an earlier one fails.
type MultiLogger struct {
	sinks []Sink
}

// NewMultiLogger creates a new multi-logger that writes to multiple destinations
func NewMultiLogger(sinks ...Sink) *MultiLogger {
	return &MultiLogger{sinks: sinks}
}

// Log writes event to all sinks and joins their errors
func (m *MultiLogger) Log(ctx context.Context, event *AuditEvent) error {
	var errs []error
	for i, sink := range m.sinks {
		if err := sink.Log(ctx, event); err != nil {
			errs = append(errs, fmt.Errorf("sink %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

// Close closes all sinks
func (m *MultiLogger) Close() error {
	var errs []error
	for _, sink := range m.sinks {
		if err := sink.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close sink: %w", err))
		}
	}
	return errors.Join(errs...)
}
