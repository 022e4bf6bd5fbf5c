package corr

import (
	"fmt"
	"strings"
	"time"
)

// Channel identifies one of the two ADC inputs (and its accumulator).
type Channel int

const (
	ChannelA Channel = 0
	ChannelB Channel = 1
)

func (c Channel) String() string {
	switch c {
	case ChannelA:
		return "A"
	case ChannelB:
		return "B"
	}
	return fmt.Sprintf("Channel(%d)", int(c))
}

// Pair selects which two inputs a correlation is computed over. (0,0) and (1,1)
// are the autocorrelations, (0,1) the cross-correlation.
type Pair struct {
	X, Y Channel
}

var (
	PairAuto0 = Pair{ChannelA, ChannelA}
	PairAuto1 = Pair{ChannelB, ChannelB}
	PairCross = Pair{ChannelA, ChannelB}
)

func (p Pair) String() string {
	return fmt.Sprintf("(%d,%d)", int(p.X), int(p.Y))
}

// Count is an accumulator count. Two counts of the same channel may only be
// compared for equality; the hardware does not define wraparound.
type Count uint64

// Accumulator is the hardware side of the correlator: two free-running
// accumulators and the correlation results they latch.
type Accumulator interface {
	// ReadCount returns the number of completed integrations of the channel.
	ReadCount(ch Channel) (Count, error)
	// Fetch returns the most recently completed integration of the pair. The
	// result is only meaningful while the counts have not moved since they were
	// last observed.
	Fetch(p Pair) ([]complex128, error)
}

// Mode selects which quantities are acquired.
type Mode string

const (
	// ModeCorr acquires both autocorrelations and the cross-correlation.
	ModeCorr Mode = "corr"
	// ModeSpec acquires the two autocorrelations only.
	ModeSpec Mode = "spec"
	// ModeCross acquires the cross-correlation only.
	ModeCross Mode = "cross"
)

const (
	ColAuto0Real = "auto0_real"
	ColAuto1Real = "auto1_real"
	ColCrossReal = "cross_real"
	ColCrossImag = "cross_imag"
)

func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(s)); m {
	case ModeCorr, ModeSpec, ModeCross:
		return m, nil
	}
	return "", fmt.Errorf("%q is not a supported mode, pick one of: corr, spec, cross", s)
}

// Pairs lists the correlations read for one record, in fetch order.
func (m Mode) Pairs() []Pair {
	switch m {
	case ModeSpec:
		return []Pair{PairAuto0, PairAuto1}
	case ModeCross:
		return []Pair{PairCross}
	}
	return []Pair{PairAuto0, PairAuto1, PairCross}
}

// Columns lists the table columns written for one record.
func (m Mode) Columns() []string {
	switch m {
	case ModeSpec:
		return []string{ColAuto0Real, ColAuto1Real}
	case ModeCross:
		return []string{ColCrossReal, ColCrossImag}
	}
	return []string{ColAuto0Real, ColAuto1Real, ColCrossReal, ColCrossImag}
}

// Record is one integration: the correlator output of a single accumulator
// window. Vectors not acquired in the run's mode are nil; the others all have
// one entry per frequency channel.
type Record struct {
	// Metadata
	Seq   int
	Count Count
	Read  time.Time

	// Correlator Data
	Auto0     []float64
	Auto1     []float64
	CrossReal []float64
	CrossImag []float64
}

// Column returns the named column, or nil if the record does not carry it.
func (r *Record) Column(name string) []float64 {
	switch name {
	case ColAuto0Real:
		return r.Auto0
	case ColAuto1Real:
		return r.Auto1
	case ColCrossReal:
		return r.CrossReal
	case ColCrossImag:
		return r.CrossImag
	}
	return nil
}

// Len is the number of frequency channels in the record.
func (r *Record) Len() int {
	for _, col := range [][]float64{r.Auto0, r.Auto1, r.CrossReal, r.CrossImag} {
		if col != nil {
			return len(col)
		}
	}
	return 0
}

// Run describes one observation. It is filled in once when the run starts and
// not modified afterwards.
type Run struct {
	// Target
	Coords [2]float64
	Frame  string

	// NSpec is the number of records requested.
	NSpec int
	Mode  Mode
	NChan int

	// Instrument
	FPGFile string
	Host    string
}
