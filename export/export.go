package export

import (
	"errors"

	"github.com/hb9tf/corrspec/corr"
	"github.com/hb9tf/corrspec/header"
)

// Sink persists one run. WriteHeader is called once before any record. Close
// is always called, also after a failed run, and must leave the output
// readable with the records written so far.
type Sink interface {
	Name() string
	WriteHeader(md *header.Metadata) error
	WriteRecord(r *corr.Record) error
	Close() error
}

// Multi fans every call out to all sinks.
type Multi []Sink

func (m Multi) Name() string { return "multi" }

func (m Multi) WriteHeader(md *header.Metadata) error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.WriteHeader(md))
	}
	return errors.Join(errs...)
}

func (m Multi) WriteRecord(r *corr.Record) error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.WriteRecord(r))
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.Close())
	}
	return errors.Join(errs...)
}

func sinkErr(sink, op string, err error) error {
	if err == nil {
		return nil
	}
	return &corr.SinkWriteError{Sink: sink, Op: op, Err: err}
}
