package export

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hb9tf/corrspec/corr"
	"github.com/hb9tf/corrspec/geometry"
	"github.com/hb9tf/corrspec/header"
)

var testStart = time.Date(2021, 3, 14, 6, 30, 0, 0, time.UTC)

func testMetadata(t *testing.T, mode corr.Mode, nspec, nchan int) *header.Metadata {
	t.Helper()
	b := &header.Builder{
		Location: geometry.Leuschner,
		Now:      func() time.Time { return testStart },
		NewID:    func() string { return "run-1" },
	}
	md, err := b.Build(&corr.Run{
		Coords:  [2]float64{120, 45},
		Frame:   "ga",
		NSpec:   nspec,
		Mode:    mode,
		NChan:   nchan,
		FPGFile: "corrspec.fpg",
		Host:    "snap01",
	})
	require.NoError(t, err)
	return md
}

func testRecord(mode corr.Mode, seq, nchan int) *corr.Record {
	r := &corr.Record{
		Seq:   seq,
		Count: corr.Count(100 + seq),
		Read:  testStart.Add(time.Duration(seq) * time.Second),
	}
	fill := func(offset float64) []float64 {
		v := make([]float64, nchan)
		for i := range v {
			v[i] = float64(seq)*1000 + offset + float64(i)
		}
		return v
	}
	for _, p := range mode.Pairs() {
		switch p {
		case corr.PairAuto0:
			r.Auto0 = fill(0.25)
		case corr.PairAuto1:
			r.Auto1 = fill(0.5)
		case corr.PairCross:
			r.CrossReal = fill(0.75)
			r.CrossImag = fill(-0.125)
		}
	}
	return r
}

type failingSink struct {
	name  string
	calls []string
}

func (f *failingSink) Name() string { return f.name }

func (f *failingSink) WriteHeader(*header.Metadata) error {
	f.calls = append(f.calls, "header")
	return nil
}

func (f *failingSink) WriteRecord(r *corr.Record) error {
	f.calls = append(f.calls, "record")
	return sinkErr(f.name, "write record", errors.New("disk full"))
}

func (f *failingSink) Close() error {
	f.calls = append(f.calls, "close")
	return nil
}

func TestMultiReachesEverySink(t *testing.T) {
	var buf bytes.Buffer
	bad := &failingSink{name: "bad"}
	m := Multi{bad, &CSV{W: &buf}}

	require.NoError(t, m.WriteHeader(testMetadata(t, corr.ModeSpec, 1, 2)))
	err := m.WriteRecord(testRecord(corr.ModeSpec, 1, 2))
	var swErr *corr.SinkWriteError
	require.ErrorAs(t, err, &swErr)
	assert.Equal(t, "bad", swErr.Sink)
	require.NoError(t, m.Close())

	assert.Equal(t, []string{"header", "record", "close"}, bad.calls)
	// The CSV sink still got its record.
	assert.Len(t, strings.Split(strings.TrimSpace(buf.String()), "\n"), 3)
}

func TestCSV(t *testing.T) {
	var buf bytes.Buffer
	c := &CSV{W: &buf}
	require.NoError(t, c.WriteHeader(testMetadata(t, corr.ModeSpec, 1, 2)))
	require.NoError(t, c.WriteRecord(testRecord(corr.ModeSpec, 1, 2)))
	require.NoError(t, c.Close())

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "RunID,Seq,AccCount,ReadUnixMilli,Channel,auto0_real,auto1_real", lines[0])
	assert.Equal(t, "run-1,1,101,1615703401000,1,1001.25,1001.5", lines[2])
}

func TestCSVWithoutHeader(t *testing.T) {
	c := &CSV{W: &bytes.Buffer{}}
	err := c.WriteRecord(testRecord(corr.ModeCorr, 1, 2))
	var swErr *corr.SinkWriteError
	require.ErrorAs(t, err, &swErr)
	assert.NoError(t, c.Close())
}
