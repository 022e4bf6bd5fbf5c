package header

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/hb9tf/corrspec/corr"
	"github.com/hb9tf/corrspec/geometry"
)

// Card is one header entry: a keyword of at most 8 characters, its value and
// a human readable description.
type Card struct {
	Name    string
	Value   any
	Comment string
}

// Metadata is the run header. It is built once per run and not modified.
type Metadata struct {
	RunID      string
	Start      time.Time
	NSpec      int
	Mode       corr.Mode
	NChan      int
	Galactic   geometry.GalacticCoord
	Equatorial geometry.EquatorialCoord

	Cards []Card
}

// Get returns the card with the given keyword.
func (m *Metadata) Get(name string) (Card, bool) {
	for _, c := range m.Cards {
		if c.Name == name {
			return c, true
		}
	}
	return Card{}, false
}

type Builder struct {
	Geometry geometry.Service
	Location geometry.Location

	// Now and NewID default to time.Now and uuid.NewString.
	Now   func() time.Time
	NewID func() string
}

// Build validates the run and assembles its header. It fails with a
// *corr.InvalidFrameError for an unknown frame tag.
func (b *Builder) Build(run *corr.Run) (*Metadata, error) {
	frame, err := geometry.ParseFrame(run.Frame)
	if err != nil {
		return nil, err
	}
	if run.NSpec < 0 {
		return nil, fmt.Errorf("number of spectra must not be negative, got %d", run.NSpec)
	}
	mode := run.Mode
	if mode == "" {
		mode = corr.ModeCorr
	}
	if _, err := corr.ParseMode(string(mode)); err != nil {
		return nil, err
	}

	svc := b.Geometry
	if svc == nil {
		svc = geometry.J2000{}
	}
	gal, eq, err := svc.Convert(geometry.Coord(run.Coords), frame)
	if err != nil {
		return nil, fmt.Errorf("unable to convert target coordinates: %w", err)
	}

	now := time.Now
	if b.Now != nil {
		now = b.Now
	}
	newID := uuid.NewString
	if b.NewID != nil {
		newID = b.NewID
	}
	start := now().UTC()

	md := &Metadata{
		RunID:      newID(),
		Start:      start,
		NSpec:      run.NSpec,
		Mode:       mode,
		NChan:      run.NChan,
		Galactic:   gal,
		Equatorial: eq,
	}
	md.Cards = []Card{
		{"NSPEC", run.NSpec, "Number of spectra collected"},
		{"MODE", string(mode), "Spectrometer mode"},
		{"NCHAN", run.NChan, "Number of frequency channels"},
		{"FPGFILE", run.FPGFile, "FPGA FPG file"},
		{"HOST", run.Host, "Host of the FPGA"},
		{"RUNID", md.RunID, "Unique identifier of the run"},
		{"COORDSYS", string(frame), "Coordinate system of the input coordinates"},
		{"L", gal.L, "Galactic longitude [deg]"},
		{"B", gal.B, "Galactic latitude [deg]"},
		{"RA", eq.RA, "Right Ascension [deg]"},
		{"DEC", eq.Dec, "Declination [deg]"},
		{"JD", geometry.JulianDate(start), "Julian date of start time"},
		{"UNIX", geometry.UnixSeconds(start), "Seconds since epoch"},
		{"OBSLAT", b.Location.Lat, "Observatory latitude [deg]"},
		{"OBSLON", b.Location.Lon, "Observatory longitude [deg]"},
		{"OBSALT", b.Location.Alt, "Observatory altitude [m]"},
	}
	return md, nil
}

// intCards are the keywords Build fills with integers.
var intCards = map[string]bool{"NSPEC": true, "NCHAN": true}

// RestoreIntCards turns integral float values of integer cards back into
// ints. Decoding a header from JSON yields float64 for every number.
func (m *Metadata) RestoreIntCards() {
	for i, c := range m.Cards {
		if !intCards[c.Name] {
			continue
		}
		if v, ok := c.Value.(float64); ok && v == math.Trunc(v) {
			m.Cards[i].Value = int(v)
		}
	}
}

// Unpack recovers the observation request from header cards: the number of
// spectra, the coordinates in the frame they were given in, and that frame.
func Unpack(cards []Card) (*corr.Run, error) {
	md := &Metadata{Cards: cards}
	run := &corr.Run{}

	nspec, err := intCard(md, "NSPEC")
	if err != nil {
		return nil, err
	}
	run.NSpec = nspec
	if nchan, err := intCard(md, "NCHAN"); err == nil {
		run.NChan = nchan
	}
	if c, ok := md.Get("MODE"); ok {
		if s, ok := c.Value.(string); ok {
			run.Mode = corr.Mode(s)
		}
	}
	for name, dst := range map[string]*string{"FPGFILE": &run.FPGFile, "HOST": &run.Host} {
		if c, ok := md.Get(name); ok {
			if s, ok := c.Value.(string); ok {
				*dst = s
			}
		}
	}

	c, ok := md.Get("COORDSYS")
	if !ok {
		return nil, fmt.Errorf("header has no COORDSYS card")
	}
	tag, _ := c.Value.(string)
	frame, err := geometry.ParseFrame(tag)
	if err != nil {
		return nil, err
	}
	run.Frame = string(frame)

	keys := [2]string{"L", "B"}
	if frame == geometry.Equatorial {
		keys = [2]string{"RA", "DEC"}
	}
	for i, k := range keys {
		v, err := floatCard(md, k)
		if err != nil {
			return nil, err
		}
		run.Coords[i] = v
	}
	return run, nil
}

func intCard(md *Metadata, name string) (int, error) {
	c, ok := md.Get(name)
	if !ok {
		return 0, fmt.Errorf("header has no %s card", name)
	}
	switch v := c.Value.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case int32:
		return int(v), nil
	case float64:
		return int(v), nil
	}
	return 0, fmt.Errorf("card %s: unexpected value %v (%T)", name, c.Value, c.Value)
}

func floatCard(md *Metadata, name string) (float64, error) {
	c, ok := md.Get(name)
	if !ok {
		return 0, fmt.Errorf("header has no %s card", name)
	}
	switch v := c.Value.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	}
	return 0, fmt.Errorf("card %s: unexpected value %v (%T)", name, c.Value, c.Value)
}
