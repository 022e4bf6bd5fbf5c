package run

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hb9tf/corrspec/acquire"
	"github.com/hb9tf/corrspec/corr"
	"github.com/hb9tf/corrspec/export"
	"github.com/hb9tf/corrspec/geometry"
	"github.com/hb9tf/corrspec/hardware"
	"github.com/hb9tf/corrspec/header"
	"github.com/hb9tf/corrspec/logsink"
	"github.com/hb9tf/corrspec/metrics"
)

func testBuilder() *header.Builder {
	return &header.Builder{
		Location: geometry.Leuschner,
		Now:      func() time.Time { return time.Date(2021, 3, 14, 6, 30, 0, 0, time.UTC) },
		NewID:    func() string { return "run-1" },
	}
}

// steadyCounts lets both accumulators complete n integrations in lockstep.
func steadyCounts(n int) []corr.Count {
	counts := []corr.Count{0}
	for i := 1; i <= n; i++ {
		counts = append(counts, corr.Count(i), corr.Count(i))
	}
	return counts
}

func testSync(acc corr.Accumulator, maxDesync int) *acquire.Synchronizer {
	return acquire.New(acc, acquire.Options{
		PollInterval:   time.Millisecond,
		Timeout:        time.Second,
		MaxDesyncPolls: maxDesync,
	}, nil, nil)
}

func galacticRun(nspec int) *corr.Run {
	return &corr.Run{Coords: [2]float64{120, 45}, Frame: "ga", NSpec: nspec, NChan: 4}
}

// eventSink records the calls it receives.
type eventSink struct {
	events    *[]string
	failAfter int
	written   int
}

func (s *eventSink) Name() string { return "events" }

func (s *eventSink) WriteHeader(*header.Metadata) error {
	*s.events = append(*s.events, "header")
	return nil
}

func (s *eventSink) WriteRecord(*corr.Record) error {
	if s.failAfter > 0 && s.written == s.failAfter {
		return &corr.SinkWriteError{Sink: s.Name(), Op: "write record", Err: errors.New("medium gone")}
	}
	s.written++
	*s.events = append(*s.events, "write")
	return nil
}

func (s *eventSink) Close() error {
	*s.events = append(*s.events, "close")
	return nil
}

type sourceFunc func(ctx context.Context) (*corr.Record, error)

func (f sourceFunc) Next(ctx context.Context) (*corr.Record, error) { return f(ctx) }

func countingSource(events *[]string) sourceFunc {
	seq := 0
	return func(context.Context) (*corr.Record, error) {
		seq++
		*events = append(*events, "next")
		return &corr.Record{Seq: seq, Count: corr.Count(seq), Auto0: []float64{1}}, nil
	}
}

func TestRunWritesOneTablePerRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "obs.fits")
	acc := &hardware.Scripted{
		Counts: map[corr.Channel][]corr.Count{corr.ChannelA: steadyCounts(3), corr.ChannelB: steadyCounts(3)},
		NChan:  4,
	}
	log := &logsink.Recorder{}
	reg := prometheus.NewRegistry()
	d := &Driver{
		Builder: testBuilder(),
		Source:  testSync(acc, 5),
		Sink:    &export.FITS{Path: path},
		Log:     log,
		Metrics: metrics.NewCollector(reg),
	}

	sum, err := d.Run(context.Background(), galacticRun(3))
	require.NoError(t, err)
	assert.Equal(t, "run-1", sum.RunID)
	assert.Equal(t, 3, sum.Records)
	assert.Equal(t, 1, log.Flushes)

	md, records, err := export.ReadFITS(path)
	require.NoError(t, err)
	assert.InDelta(t, 120.0, md.Galactic.L, 1e-9)
	assert.InDelta(t, 45.0, md.Galactic.B, 1e-9)
	_, ok := md.Get("RA")
	assert.True(t, ok)
	_, ok = md.Get("DEC")
	assert.True(t, ok)
	require.Len(t, records, 3)
	for i, r := range records {
		assert.Equal(t, i+1, r.Seq)
		assert.Equal(t, corr.Count(i+1), r.Count)
		assert.Equal(t, 4, r.Len())
	}
	expected := `
# HELP corrspec_sink_writes_total Records handed to the output sink by result.
# TYPE corrspec_sink_writes_total counter
corrspec_sink_writes_total{result="success"} 3
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "corrspec_sink_writes_total"))
}

func TestRunZeroRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.fits")
	acc := &hardware.Scripted{NChan: 4}
	d := &Driver{Builder: testBuilder(), Source: testSync(acc, 5), Sink: &export.FITS{Path: path}}

	sum, err := d.Run(context.Background(), galacticRun(0))
	require.NoError(t, err)
	assert.Equal(t, 0, sum.Records)
	assert.Equal(t, 0, acc.Reads(corr.ChannelA))

	_, records, err := export.ReadFITS(path)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestRunInvalidFrameTouchesNothing(t *testing.T) {
	dir := t.TempDir()
	acc := &hardware.Scripted{NChan: 4}
	d := &Driver{Builder: testBuilder(), Source: testSync(acc, 5), Sink: &export.FITS{Path: filepath.Join(dir, "bad.fits")}}

	obs := galacticRun(3)
	obs.Frame = "xx"
	_, err := d.Run(context.Background(), obs)
	var frameErr *corr.InvalidFrameError
	require.ErrorAs(t, err, &frameErr)
	assert.Equal(t, "xx", frameErr.Frame)

	assert.Equal(t, 0, acc.Reads(corr.ChannelA))
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRunDesyncKeepsEarlierRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "desync.fits")
	acc := &hardware.Scripted{
		Counts: map[corr.Channel][]corr.Count{
			corr.ChannelA: {0, 1, 1, 2, 3, 4, 5},
			corr.ChannelB: {0, 1, 1},
		},
		NChan: 4,
	}
	d := &Driver{Builder: testBuilder(), Source: testSync(acc, 2), Sink: &export.FITS{Path: path}}

	sum, err := d.Run(context.Background(), galacticRun(3))
	var desync *corr.HardwareDesyncError
	require.ErrorAs(t, err, &desync)
	assert.Equal(t, 1, sum.Records)

	_, records, err := export.ReadFITS(path)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, corr.Count(1), records[0].Count)
}

func TestRunCancelledBetweenRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cancel.fits")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	seq := 0
	src := sourceFunc(func(ctx context.Context) (*corr.Record, error) {
		if seq == 2 {
			cancel()
			return nil, ctx.Err()
		}
		seq++
		return &corr.Record{Seq: seq, Count: corr.Count(seq), Auto0: []float64{1, 2}, Auto1: []float64{3, 4}, CrossReal: []float64{5, 6}, CrossImag: []float64{7, 8}}, nil
	})
	d := &Driver{Builder: testBuilder(), Source: src, Sink: &export.FITS{Path: path}}

	sum, err := d.Run(ctx, galacticRun(5))
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 2, sum.Records)

	_, records, err := export.ReadFITS(path)
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestRunStreamsRecords(t *testing.T) {
	var events []string
	d := &Driver{Builder: testBuilder(), Source: countingSource(&events), Sink: &eventSink{events: &events}}

	_, err := d.Run(context.Background(), galacticRun(2))
	require.NoError(t, err)
	assert.Equal(t, []string{"header", "next", "write", "next", "write", "close"}, events)
}

func TestRunBatchWritesAtEnd(t *testing.T) {
	var events []string
	d := &Driver{Builder: testBuilder(), Source: countingSource(&events), Sink: &eventSink{events: &events}, Batch: true}

	sum, err := d.Run(context.Background(), galacticRun(2))
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Records)
	assert.Equal(t, []string{"header", "next", "next", "write", "write", "close"}, events)
}

func TestRunBatchFlushesOnFailure(t *testing.T) {
	var events []string
	calls := 0
	src := sourceFunc(func(context.Context) (*corr.Record, error) {
		calls++
		if calls == 3 {
			return nil, &corr.HardwareTimeoutError{Stalled: []corr.Channel{corr.ChannelB}, Waited: time.Second}
		}
		return &corr.Record{Seq: calls, Auto0: []float64{1}}, nil
	})
	d := &Driver{Builder: testBuilder(), Source: src, Sink: &eventSink{events: &events}, Batch: true}

	sum, err := d.Run(context.Background(), galacticRun(5))
	var timeout *corr.HardwareTimeoutError
	require.ErrorAs(t, err, &timeout)
	assert.Equal(t, 2, sum.Records)
	assert.Equal(t, []string{"header", "write", "write", "close"}, events)
}

func TestRunSinkFailureStopsAcquisition(t *testing.T) {
	var events []string
	log := &logsink.Recorder{}
	d := &Driver{
		Builder: testBuilder(),
		Source:  countingSource(&events),
		Sink:    &eventSink{events: &events, failAfter: 1},
		Log:     log,
	}

	sum, err := d.Run(context.Background(), galacticRun(4))
	var swErr *corr.SinkWriteError
	require.ErrorAs(t, err, &swErr)
	assert.Equal(t, 1, sum.Records)
	assert.Equal(t, []string{"header", "next", "write", "next", "close"}, events)
	assert.Equal(t, 1, log.Count("E"))
	assert.Equal(t, 1, log.Flushes)
}
