// Package run drives one observation: it builds the run header, pulls the
// requested number of records from the correlator and hands them to a sink.
package run

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hb9tf/corrspec/corr"
	"github.com/hb9tf/corrspec/export"
	"github.com/hb9tf/corrspec/header"
	"github.com/hb9tf/corrspec/logsink"
	"github.com/hb9tf/corrspec/metrics"
)

// Source yields integration records, e.g. an *acquire.Synchronizer.
type Source interface {
	Next(ctx context.Context) (*corr.Record, error)
}

type Driver struct {
	Builder *header.Builder
	Source  Source
	Sink    export.Sink
	// Batch holds all records back and writes them once the run has ended.
	Batch bool

	Log     logsink.Logger
	Metrics *metrics.Collector
}

// Summary describes a finished, possibly failed, run.
type Summary struct {
	RunID     string
	Requested int
	Records   int
	Elapsed   time.Duration
}

// Run acquires obs.NSpec records. The sink is only opened once the header has
// been built; from then on it is always closed, also when acquisition fails or
// ctx is cancelled, and keeps every record read before the failure.
func (d *Driver) Run(ctx context.Context, obs *corr.Run) (Summary, error) {
	log := d.Log
	if log == nil {
		log = logsink.Discard{}
	}
	defer log.Flush()

	start := time.Now()
	sum := Summary{Requested: obs.NSpec}
	builder := d.Builder
	if builder == nil {
		builder = &header.Builder{}
	}
	md, err := builder.Build(obs)
	if err != nil {
		log.Errorf("unable to prepare run: %s", err)
		return sum, err
	}
	sum.RunID = md.RunID
	log = logsink.WithPrefix(log, fmt.Sprintf("[%s] ", md.RunID))
	log.Infof("starting run: %d spectra in %s mode, l=%.4f b=%.4f (ra=%.4f dec=%.4f), sink %s",
		md.NSpec, md.Mode, md.Galactic.L, md.Galactic.B, md.Equatorial.RA, md.Equatorial.Dec, d.Sink.Name())

	if err := d.Sink.WriteHeader(md); err != nil {
		d.Metrics.SinkWrite(err)
		return sum, errors.Join(err, d.Sink.Close())
	}

	var (
		runErr  error
		pending []*corr.Record
	)
	for i := 1; i <= obs.NSpec; i++ {
		rec, err := d.Source.Next(ctx)
		if err != nil {
			runErr = fmt.Errorf("unable to read record %d of %d: %w", i, obs.NSpec, err)
			break
		}
		if d.Batch {
			pending = append(pending, rec)
			continue
		}
		if err := d.write(rec); err != nil {
			runErr = err
			break
		}
		sum.Records++
		log.Debugf(1, "wrote record %d/%d (integration %d)", rec.Seq, obs.NSpec, rec.Count)
	}

	for _, rec := range pending {
		if err := d.write(rec); err != nil {
			runErr = errors.Join(runErr, err)
			break
		}
		sum.Records++
	}

	closeErr := d.Sink.Close()
	if closeErr != nil {
		d.Metrics.SinkWrite(closeErr)
	}
	sum.Elapsed = time.Since(start)
	if err := errors.Join(runErr, closeErr); err != nil {
		log.Errorf("run failed after %d of %d records: %s", sum.Records, obs.NSpec, err)
		return sum, err
	}
	log.Infof("run complete: %d records in %s", sum.Records, sum.Elapsed)
	return sum, nil
}

func (d *Driver) write(rec *corr.Record) error {
	err := d.Sink.WriteRecord(rec)
	d.Metrics.SinkWrite(err)
	return err
}
