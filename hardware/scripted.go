package hardware

import (
	"sync"

	"github.com/hb9tf/corrspec/corr"
)

// Scripted replays fixed count sequences, one value per ReadCount call. The
// last value of a sequence repeats once the sequence is exhausted. Fetched
// data encodes the count of the pair's first channel at the time of the fetch:
// every autocorrelation value equals the count, the cross-correlation is
// count - i·count.
type Scripted struct {
	Counts map[corr.Channel][]corr.Count
	NChan  int

	// FetchHook, if set, runs before every Fetch; it may return an error to
	// simulate a bus failure.
	FetchHook func(p corr.Pair) error

	mu      sync.Mutex
	reads   map[corr.Channel]int
	last    map[corr.Channel]corr.Count
	fetches []corr.Count
}

func (s *Scripted) ReadCount(ch corr.Channel) (corr.Count, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reads == nil {
		s.reads = map[corr.Channel]int{}
		s.last = map[corr.Channel]corr.Count{}
	}
	seq := s.Counts[ch]
	i := s.reads[ch]
	s.reads[ch]++
	var c corr.Count
	switch {
	case len(seq) == 0:
	case i < len(seq):
		c = seq[i]
	default:
		c = seq[len(seq)-1]
	}
	s.last[ch] = c
	return c, nil
}

func (s *Scripted) Fetch(p corr.Pair) ([]complex128, error) {
	if s.FetchHook != nil {
		if err := s.FetchHook(p); err != nil {
			return nil, err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.last[p.X]
	s.fetches = append(s.fetches, c)
	out := make([]complex128, s.NChan)
	for i := range out {
		if p.X == p.Y {
			out[i] = complex(float64(c), 0)
		} else {
			out[i] = complex(float64(c), -float64(c))
		}
	}
	return out, nil
}

// Reads returns how often ReadCount was called for ch.
func (s *Scripted) Reads(ch corr.Channel) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads[ch]
}

// Fetches returns the counts at which Fetch was called.
func (s *Scripted) Fetches() []corr.Count {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]corr.Count(nil), s.fetches...)
}
