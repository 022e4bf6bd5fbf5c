package corr

import (
	"fmt"
	"strings"
	"time"
)

// InvalidFrameError is returned for a coordinate frame tag other than "ga" or "eq".
type InvalidFrameError struct {
	Frame string
}

func (e *InvalidFrameError) Error() string {
	return fmt.Sprintf("invalid coordinate system supplied: %q (want ga or eq)", e.Frame)
}

// HardwareInitError is returned when the ADCs could not be initialized and aligned.
type HardwareInitError struct {
	Attempts int
	Err      error
}

func (e *HardwareInitError) Error() string {
	return fmt.Sprintf("could not align and initialize ADCs after %d attempts: %s", e.Attempts, e.Err)
}

func (e *HardwareInitError) Unwrap() error { return e.Err }

// HardwareTimeoutError is returned when an accumulator does not complete an
// integration within the per-record timeout.
type HardwareTimeoutError struct {
	Stalled []Channel
	Waited  time.Duration
}

func (e *HardwareTimeoutError) Error() string {
	names := make([]string, 0, len(e.Stalled))
	for _, ch := range e.Stalled {
		names = append(names, ch.String())
	}
	return fmt.Sprintf("accumulator(s) %s did not advance within %s", strings.Join(names, ","), e.Waited)
}

// HardwareDesyncError is returned when the two accumulators keep reporting
// different integrations.
type HardwareDesyncError struct {
	CountA, CountB Count
	Polls          int
}

func (e *HardwareDesyncError) Error() string {
	return fmt.Sprintf("accumulators out of step after %d polls: A=%d B=%d", e.Polls, e.CountA, e.CountB)
}

// SinkWriteError is returned when the output medium fails.
type SinkWriteError struct {
	Sink string
	Op   string
	Err  error
}

func (e *SinkWriteError) Error() string {
	return fmt.Sprintf("%s sink: unable to %s: %s", e.Sink, e.Op, e.Err)
}

func (e *SinkWriteError) Unwrap() error { return e.Err }

// RecordCheckError is returned when a freshly read record violates a record
// invariant, e.g. a short vector.
type RecordCheckError struct {
	Seq    int
	Reason string
}

func (e *RecordCheckError) Error() string {
	return fmt.Sprintf("record %d rejected: %s", e.Seq, e.Reason)
}
