// Package acquire reads integration records from the two correlator
// accumulators.
//
// The hardware offers no interrupt and no sequence tag, only a free-running
// count per accumulator. A record is read when both counts have moved away from
// the counts of the previous record and agree with each other. Counts are only
// ever compared for equality.
package acquire

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hb9tf/corrspec/corr"
	"github.com/hb9tf/corrspec/filter"
	"github.com/hb9tf/corrspec/logsink"
	"github.com/hb9tf/corrspec/metrics"
)

const (
	DefaultPollInterval   = 100 * time.Millisecond
	DefaultTimeout        = 30 * time.Second
	DefaultMaxDesyncPolls = 20
)

type Options struct {
	Mode corr.Mode

	// PollInterval is the pause between two polls of the accumulator counts.
	PollInterval time.Duration
	// Timeout bounds the wait for a single record.
	Timeout time.Duration
	// MaxDesyncPolls is the number of consecutive polls during which the two
	// accumulators may disagree before giving up.
	MaxDesyncPolls int

	// Checks are run on every record before it is returned.
	Checks []filter.Checker
}

func (o *Options) applyDefaults() {
	if o.Mode == "" {
		o.Mode = corr.ModeCorr
	}
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.MaxDesyncPolls <= 0 {
		o.MaxDesyncPolls = DefaultMaxDesyncPolls
	}
}

// Synchronizer is the only reader of an Accumulator during a run.
type Synchronizer struct {
	acc     corr.Accumulator
	opts    Options
	log     logsink.Logger
	metrics *metrics.Collector

	mu sync.Mutex
	// primed is false until the first poll has set the baseline counts.
	primed       bool
	baseA, baseB corr.Count
	seq          int
}

func New(acc corr.Accumulator, opts Options, log logsink.Logger, m *metrics.Collector) *Synchronizer {
	opts.applyDefaults()
	if log == nil {
		log = logsink.Discard{}
	}
	return &Synchronizer{
		acc:     acc,
		opts:    opts,
		log:     log,
		metrics: m,
	}
}

// Next blocks until the accumulators have produced a new integration, reads
// it and returns it. The caller owns the returned record.
//
// Cancelling ctx stops the wait between polls; a read that has started is
// always completed.
func (s *Synchronizer) Next(ctx context.Context) (*corr.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	misaligned := 0
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		a, b, err := s.readCounts()
		if err != nil {
			s.metrics.Failure("hardware")
			return nil, err
		}

		if !s.primed {
			// Whatever the accumulators hold right now may predate the run.
			s.baseA, s.baseB = a, b
			s.primed = true
			s.log.Debugf(2, "accumulator baseline A=%d B=%d", a, b)
		} else {
			readyA, readyB := a != s.baseA, b != s.baseB
			switch {
			case readyA && readyB && a == b:
				prev := s.baseA
				rec, torn, err := s.read(a, b)
				if err != nil {
					return nil, err
				}
				if rec != nil {
					if a != prev+1 {
						s.metrics.Poll(metrics.PollGap)
						s.log.Warningf("missed %d integration(s) between %d and %d", a-prev-1, prev, a)
					}
					s.metrics.Poll(metrics.PollReady)
					s.metrics.Record(time.Since(start))
					return rec, nil
				}
				s.metrics.Poll(metrics.PollTorn)
				s.log.Warningf("accumulators advanced while reading integration %d, re-reading", a)
				misaligned++
				if misaligned > s.opts.MaxDesyncPolls {
					s.metrics.Failure("desync")
					return nil, &corr.HardwareDesyncError{CountA: torn[0], CountB: torn[1], Polls: misaligned}
				}
				// The next integration may already be complete.
				continue
			case !readyA && !readyB:
				s.metrics.Poll(metrics.PollIdle)
				s.log.Debugf(3, "no new integration (A=%d B=%d)", a, b)
			default:
				misaligned++
				s.metrics.Poll(metrics.PollMisaligned)
				s.log.Debugf(2, "accumulators disagree A=%d (new=%t) B=%d (new=%t), poll %d", a, readyA, b, readyB, misaligned)
				if misaligned > s.opts.MaxDesyncPolls {
					s.metrics.Failure("desync")
					return nil, &corr.HardwareDesyncError{CountA: a, CountB: b, Polls: misaligned}
				}
			}

			if waited := time.Since(start); waited >= s.opts.Timeout {
				var stalled []corr.Channel
				if !readyA {
					stalled = append(stalled, corr.ChannelA)
				}
				if !readyB {
					stalled = append(stalled, corr.ChannelB)
				}
				if len(stalled) == 0 {
					s.metrics.Failure("desync")
					return nil, &corr.HardwareDesyncError{CountA: a, CountB: b, Polls: misaligned}
				}
				s.metrics.Failure("timeout")
				return nil, &corr.HardwareTimeoutError{Stalled: stalled, Waited: waited}
			}
		}

		if err := sleep(ctx, s.opts.PollInterval); err != nil {
			return nil, err
		}
	}
}

// Baseline returns the counts of the last record read (or the primed counts).
func (s *Synchronizer) Baseline() (a, b corr.Count, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.baseA, s.baseB, s.primed
}

func (s *Synchronizer) readCounts() (corr.Count, corr.Count, error) {
	a, err := s.acc.ReadCount(corr.ChannelA)
	if err != nil {
		return 0, 0, fmt.Errorf("unable to read accumulator count of channel A: %w", err)
	}
	b, err := s.acc.ReadCount(corr.ChannelB)
	if err != nil {
		return 0, 0, fmt.Errorf("unable to read accumulator count of channel B: %w", err)
	}
	return a, b, nil
}

// read fetches the integration both accumulators agree on. If either count
// moved during the fetch, the data may mix two integrations: it is dropped and
// a nil record is returned together with the counts seen afterwards.
func (s *Synchronizer) read(a, b corr.Count) (*corr.Record, [2]corr.Count, error) {
	rec := &corr.Record{
		Seq:   s.seq + 1,
		Count: a,
		Read:  time.Now(),
	}
	for _, p := range s.opts.Mode.Pairs() {
		data, err := s.acc.Fetch(p)
		if err != nil {
			s.metrics.Failure("hardware")
			return nil, [2]corr.Count{}, fmt.Errorf("unable to fetch correlation %s of integration %d: %w", p, a, err)
		}
		switch p {
		case corr.PairAuto0:
			rec.Auto0 = realPart(data)
		case corr.PairAuto1:
			rec.Auto1 = realPart(data)
		case corr.PairCross:
			rec.CrossReal, rec.CrossImag = realPart(data), imagPart(data)
		}
	}

	a2, b2, err := s.readCounts()
	if err != nil {
		s.metrics.Failure("hardware")
		return nil, [2]corr.Count{}, err
	}
	if a2 != a || b2 != b {
		return nil, [2]corr.Count{a2, b2}, nil
	}

	if err := filter.Check(rec, s.opts.Checks); err != nil {
		s.metrics.Failure("check")
		return nil, [2]corr.Count{}, err
	}

	s.baseA, s.baseB = a, b
	s.seq = rec.Seq
	s.log.Debugf(1, "read integration %d as record %d", a, rec.Seq)
	return rec, [2]corr.Count{}, nil
}

func realPart(data []complex128) []float64 {
	out := make([]float64, len(data))
	for i, v := range data {
		out[i] = real(v)
	}
	return out
}

func imagPart(data []complex128) []float64 {
	out := make([]float64, len(data))
	for i, v := range data {
		out[i] = imag(v)
	}
	return out
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
