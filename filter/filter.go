package filter

import (
	"fmt"
	"math"

	"github.com/hb9tf/corrspec/corr"
)

// Checker inspects a record before it is handed to a sink. Records are never
// skipped: a record that fails a check ends the run.
type Checker interface {
	Check(*corr.Record) error
}

func Check(r *corr.Record, checks []Checker) error {
	for _, c := range checks {
		if err := c.Check(r); err != nil {
			return &corr.RecordCheckError{Seq: r.Seq, Reason: err.Error()}
		}
	}
	return nil
}

// Length requires every column of the mode to hold exactly NChan values.
type Length struct {
	Mode  corr.Mode
	NChan int
}

func (l *Length) Check(r *corr.Record) error {
	for _, name := range l.Mode.Columns() {
		col := r.Column(name)
		if col == nil {
			return fmt.Errorf("column %s missing", name)
		}
		if len(col) != l.NChan {
			return fmt.Errorf("column %s has %d channels, want %d", name, len(col), l.NChan)
		}
	}
	return nil
}

// Finite rejects NaN and infinite values.
type Finite struct{}

func (f *Finite) Check(r *corr.Record) error {
	for _, name := range []string{corr.ColAuto0Real, corr.ColAuto1Real, corr.ColCrossReal, corr.ColCrossImag} {
		for i, v := range r.Column(name) {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("column %s channel %d is %v", name, i, v)
			}
		}
	}
	return nil
}
