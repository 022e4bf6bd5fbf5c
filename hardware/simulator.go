package hardware

import (
	"errors"
	"fmt"
	"math"
	"math/cmplx"
	"math/rand"
	"sync"
	"time"

	"gonum.org/v1/gonum/dsp/fourier"

	"github.com/hb9tf/corrspec/corr"
)

const (
	SourceName = "sim"

	DefaultIntegrationTime = 500 * time.Millisecond

	// hiLine is the fraction of the band the simulated 21cm line sits at.
	hiLine        = 0.4
	lineAmp       = 0.2
	receiverNoise = 2.0

	// simFrames is the number of FFT frames accumulated per integration.
	simFrames = 8
)

// Simulator behaves like a programmed SNAP running the correlator firmware:
// both accumulators complete one integration every IntegrationTime, channel
// B lagging channel A by Skew.
type Simulator struct {
	NChan           int
	IntegrationTime time.Duration
	Skew            time.Duration

	// ADCFailures makes the first n calls to InitADC fail.
	ADCFailures int
	// BlockFailure makes InitBlocks fail.
	BlockFailure bool

	// Now defaults to time.Now.
	Now func() time.Time

	mu         sync.Mutex
	started    time.Time
	programmed bool
	adcReady   bool
	adcCalls   int
}

func (s *Simulator) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Simulator) IsConnected() bool { return true }

func (s *Simulator) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.programmed
}

func (s *Simulator) Program() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.programmed = true
	s.started = s.now()
	return nil
}

func (s *Simulator) InitADC() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.adcCalls++
	if s.adcCalls <= s.ADCFailures {
		return fmt.Errorf("adc alignment failed (attempt %d)", s.adcCalls)
	}
	s.adcReady = true
	return nil
}

func (s *Simulator) InitBlocks() error {
	if s.BlockFailure {
		return errors.New("block initialization timed out")
	}
	return nil
}

func (s *Simulator) InitBlock(string) error { return nil }

func (s *Simulator) integrationTime() time.Duration {
	if s.IntegrationTime <= 0 {
		return DefaultIntegrationTime
	}
	return s.IntegrationTime
}

func (s *Simulator) count(ch corr.Channel) corr.Count {
	elapsed := s.now().Sub(s.started)
	if ch == corr.ChannelB {
		elapsed -= s.Skew
	}
	if elapsed < 0 {
		return 0
	}
	return corr.Count(elapsed / s.integrationTime())
}

func (s *Simulator) ReadCount(ch corr.Channel) (corr.Count, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.programmed {
		return 0, errors.New("fpga not programmed")
	}
	return s.count(ch), nil
}

// Fetch returns the accumulated spectra of the integration the pair's first
// channel is in. Both inputs see a common sky signal (noise plus a spectral
// line), input B one sample later, each with its own receiver noise. The
// voltages are seeded by the count, so repeated reads of one integration agree.
func (s *Simulator) Fetch(p corr.Pair) ([]complex128, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.programmed || !s.adcReady {
		return nil, errors.New("correlator not initialized")
	}
	n := s.NChan
	if n <= 0 {
		return nil, fmt.Errorf("invalid channel count %d", n)
	}
	count := s.count(p.X)
	rng := rand.New(rand.NewSource(int64(count) + 1))

	fft := fourier.NewFFT(2 * n)
	sky := make([]float64, 2*n+1)
	va, vb := make([]float64, 2*n), make([]float64, 2*n)
	out := make([]complex128, n)
	for frame := 0; frame < simFrames; frame++ {
		for i := range sky {
			t := float64(frame*2*n + i)
			sky[i] = rng.NormFloat64() + lineAmp*math.Cos(math.Pi*hiLine*t)
		}
		for i := range va {
			va[i] = sky[i+1] + receiverNoise*rng.NormFloat64()
			vb[i] = sky[i] + receiverNoise*rng.NormFloat64()
		}
		xa := fft.Coefficients(nil, va)
		xb := fft.Coefficients(nil, vb)
		for k := range out {
			// Bandpass of the analog chain.
			g := math.Sin(math.Pi * (float64(k) + 0.5) / float64(n))
			a, b := xa[k]*complex(g, 0), xb[k]*complex(g, 0)
			switch {
			case p.X == 0 && p.Y == 0:
				out[k] += complex(real(a)*real(a)+imag(a)*imag(a), 0)
			case p.X == 1 && p.Y == 1:
				out[k] += complex(real(b)*real(b)+imag(b)*imag(b), 0)
			default:
				out[k] += a * cmplx.Conj(b)
			}
		}
	}
	return out, nil
}
