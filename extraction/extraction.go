// Package extraction renders waterfall quicklooks of captured runs: one row
// per record, one column per frequency channel.
package extraction

import (
	"database/sql"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"
	"time"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/hb9tf/corrspec/corr"
	"github.com/hb9tf/corrspec/logsink"
)

var (
	// Colors defining the gradient in the heatmap. The higher the index, the warmer.
	colors = []color.RGBA{
		{0, 0, 0, 255},       // black
		{0, 0, 255, 255},     // blue
		{0, 255, 255, 255},   // cyan
		{0, 255, 0, 255},     // green
		{255, 255, 0, 255},   // yellow
		{255, 0, 0, 255},     // red
		{255, 255, 255, 255}, // white
	}

	gridColor           = color.RGBA{0, 0, 0, 255}       // black
	gridBackgroundColor = color.RGBA{255, 255, 255, 255} // white

	expSuffixLookup = map[int]string{
		0: "Hz",  // 10^0
		1: "kHz", // 10^3
		2: "MHz", // 10^6
		3: "GHz", // 10^9
		4: "THz", // 10^12
	}

	// sqlColumns maps record columns to the columns of the spectra table.
	sqlColumns = map[string]string{
		corr.ColAuto0Real: "Auto0",
		corr.ColAuto1Real: "Auto1",
		corr.ColCrossReal: "CrossReal",
		corr.ColCrossImag: "CrossImag",
	}
)

const (
	timeFmt        = "2006-01-02T15:04:05"
	gridMarginTop  = 20  // pixels
	gridMarginLeft = 150 // pixels
	gridTickLen    = 10  // pixel
	gridMinStepX   = 100 // pixels
	gridMinStepY   = 20  // pixels

	getSpectraTmpl = `SELECT
			Seq,
			ReadTime,
			Channel,
			%s
		FROM
			spectra
		WHERE
			RunID = ?
			AND ReadTime >= ?
			AND ReadTime <= ?
		ORDER BY
			Seq ASC,
			Channel ASC;`
)

// Waterfall holds one column of a run, one row per record.
type Waterfall struct {
	Column string
	Rows   [][]float64
	Times  []time.Time
}

// FromRecords extracts column from records.
func FromRecords(records []*corr.Record, column string) (*Waterfall, error) {
	w := &Waterfall{Column: column}
	for _, r := range records {
		data := r.Column(column)
		if data == nil {
			return nil, fmt.Errorf("record %d has no column %q", r.Seq, column)
		}
		w.Rows = append(w.Rows, data)
		w.Times = append(w.Times, r.Read)
	}
	return w, nil
}

// LoadSQL reads column of a run stored by export.SQL, limited to records
// read between start and end.
func LoadSQL(db *sql.DB, runID, column string, start, end time.Time) (*Waterfall, error) {
	sqlCol, ok := sqlColumns[column]
	if !ok {
		return nil, fmt.Errorf("%q is not a known column", column)
	}
	statement, err := db.Prepare(fmt.Sprintf(getSpectraTmpl, sqlCol))
	if err != nil {
		return nil, err
	}
	defer statement.Close()
	rows, err := statement.Query(runID, start.UnixMilli(), end.UnixMilli())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	w := &Waterfall{Column: column}
	lastSeq := -1
	for rows.Next() {
		var seq, channel int
		var readTime int64
		var value sql.NullFloat64
		if err := rows.Scan(&seq, &readTime, &channel, &value); err != nil {
			return nil, fmt.Errorf("unable to get spectrum from DB: %w", err)
		}
		if !value.Valid {
			return nil, fmt.Errorf("run %s did not record column %q", runID, column)
		}
		if seq != lastSeq {
			w.Rows = append(w.Rows, nil)
			w.Times = append(w.Times, time.UnixMilli(readTime).UTC())
			lastSeq = seq
		}
		row := &w.Rows[len(w.Rows)-1]
		if channel != len(*row) {
			return nil, fmt.Errorf("record %d: got channel %d, want %d", seq, channel, len(*row))
		}
		*row = append(*row, value.Float64)
	}
	return w, rows.Err()
}

// GetColor determines the color of a pixel based on a color gradient and a pixel "level".
// http://www.andrewnoske.com/wiki/Code_-_heatmaps_and_color_gradients
func GetColor(lvl uint16) color.RGBA {
	pos := float64(lvl) / math.MaxUint16 * float64(len(colors)-1)
	i := int(pos)
	if i >= len(colors)-1 {
		return colors[len(colors)-1]
	}
	fract := pos - float64(i)
	lo, hi := colors[i], colors[i+1]
	mix := func(a, b uint8) uint8 {
		return uint8(math.Round(float64(a) + (float64(b)-float64(a))*fract))
	}
	return color.RGBA{mix(lo.R, hi.R), mix(lo.G, hi.G), mix(lo.B, hi.B), mix(lo.A, hi.A)}
}

func GetReadableFreq(freq int64) string {
	exp := 0
	for f := float64(freq); f >= 1000; f = f / 1000.0 {
		exp += 1
	}
	suffix, ok := expSuffixLookup[exp]
	if !ok {
		return fmt.Sprintf("%d Hz", freq)
	}
	return fmt.Sprintf("%.2f %s", float64(freq)/math.Pow(1000, float64(exp)), suffix)
}

func drawTick(canvas *image.RGBA, start image.Point, length int, horizontal bool) {
	for i := 0; i <= length; i++ {
		if horizontal {
			canvas.SetRGBA(start.X+i, start.Y, gridColor)
		} else {
			canvas.SetRGBA(start.X, start.Y+i, gridColor)
		}
	}
}

func findGridStepSize(step int, horizontal bool) int {
	gridMinStep := gridMinStepY
	if horizontal {
		gridMinStep = gridMinStepX
	}
	for step > gridMinStep {
		n := step / 2
		if n < gridMinStep {
			return step
		}
		step = n
	}
	return step
}

func drawLabel(canvas *image.RGBA, x, y int, label string) {
	d := &font.Drawer{
		Dst:  canvas,
		Src:  image.NewUniform(gridColor),
		Face: basicfont.Face7x13,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y)},
	}
	d.DrawString(label)
}

// DrawGrid adds axes around source. xLabel names the position of a column
// given as fraction of the image width.
func DrawGrid(source *image.RGBA, xLabel func(frac float64) string, startTime, endTime time.Time) *image.RGBA {
	// Enlarge existing image.
	canvas := image.NewRGBA(image.Rectangle{
		Min: source.Bounds().Min,
		Max: image.Point{source.Bounds().Max.X + gridMarginLeft, source.Bounds().Max.Y + gridMarginTop},
	})
	draw.Draw(canvas, canvas.Bounds(), &image.Uniform{gridBackgroundColor}, canvas.Bounds().Min, draw.Src)
	r := canvas.Bounds()
	r.Min.X += gridMarginLeft
	r.Min.Y += gridMarginTop
	draw.Draw(canvas, r, source, source.Bounds().Min, draw.Src)

	width, height := source.Bounds().Dx(), source.Bounds().Dy()
	origin := canvas.Bounds().Min

	xStep := findGridStepSize(width, true)
	for i := 0; i < width; i += xStep {
		drawTick(canvas, image.Point{origin.X + gridMarginLeft + i, origin.Y + gridMarginTop - gridTickLen}, gridTickLen, false)
		drawLabel(canvas, origin.X+gridMarginLeft+i+5, origin.Y+gridMarginTop-2, xLabel(float64(i)/float64(width)))
	}

	yStep := findGridStepSize(height, false)
	span := endTime.Sub(startTime)
	for i := 0; i < height; i += yStep {
		drawTick(canvas, image.Point{origin.X + gridMarginLeft - gridTickLen, origin.Y + gridMarginTop + i}, gridTickLen, true)
		dur := time.Duration(int64(i) * int64(span) / int64(height)).Truncate(time.Millisecond)
		drawLabel(canvas, origin.X+5, origin.Y+gridMarginTop+i+5, dur.String())
		drawLabel(canvas, origin.X+5, origin.Y+gridMarginTop+i+17, startTime.Add(dur).Format(timeFmt))
	}

	return canvas
}

type ImageOptions struct {
	// Height and Width default to one pixel per record and channel. They are
	// capped at what the data provides.
	Height int
	Width  int

	// DB renders 10*log10 of the values. Non-positive values map to the
	// coldest color.
	DB bool

	// LowFreq and HighFreq label the channel axis if set, channel numbers are
	// used otherwise.
	LowFreq  int64
	HighFreq int64

	AddGrid bool
}

type RenderMetadata struct {
	ImageHeight     int
	ImageWidth      int
	ChanPerPixel    float64
	RecordsPerPixel float64
	Min, Max        float64
	StartTime       time.Time
	EndTime         time.Time
}

type RenderResult struct {
	Image image.Image
	Meta  *RenderMetadata
}

// Render draws the waterfall. Every pixel shows the highest value of the
// records and channels it covers.
func Render(w *Waterfall, opts *ImageOptions, log logsink.Logger) (*RenderResult, error) {
	if log == nil {
		log = logsink.Discard{}
	}
	if len(w.Rows) == 0 {
		return nil, fmt.Errorf("no records to render")
	}
	nchan := len(w.Rows[0])
	for i, row := range w.Rows {
		if len(row) != nchan {
			return nil, fmt.Errorf("record %d has %d channels, want %d", i+1, len(row), nchan)
		}
	}
	if nchan == 0 {
		return nil, fmt.Errorf("records have no channels")
	}

	height, width := opts.Height, opts.Width
	switch {
	case height <= 0:
		height = len(w.Rows)
	case height > len(w.Rows):
		log.Warningf("image height %d is more than the %d records can provide, reducing to %d pixels", height, len(w.Rows), len(w.Rows))
		height = len(w.Rows)
	}
	switch {
	case width <= 0:
		width = nchan
	case width > nchan:
		log.Warningf("image width %d is more than the %d channels can provide, reducing to %d pixels", width, nchan, nchan)
		width = nchan
	}

	level := func(v float64) float64 { return v }
	if opts.DB {
		level = func(v float64) float64 {
			if v <= 0 {
				return math.Inf(-1)
			}
			return 10 * math.Log10(v)
		}
	}

	img := make([][]float64, height)
	globalMin, globalMax := math.Inf(1), math.Inf(-1)
	for y := range img {
		img[y] = make([]float64, width)
		for x := range img[y] {
			img[y][x] = math.Inf(-1)
		}
	}
	for r, row := range w.Rows {
		y := r * height / len(w.Rows)
		for ch, v := range row {
			x := ch * width / nchan
			lvl := level(v)
			if math.IsNaN(lvl) {
				continue
			}
			if lvl > img[y][x] {
				img[y][x] = lvl
			}
		}
	}
	for _, row := range img {
		for _, v := range row {
			if math.IsInf(v, 0) {
				continue
			}
			globalMin = math.Min(globalMin, v)
			globalMax = math.Max(globalMax, v)
		}
	}

	canvas := image.NewRGBA(image.Rect(0, 0, width, height))
	valueRange := globalMax - globalMin
	for y, row := range img {
		for x, v := range row {
			var lvl uint16
			switch {
			case math.IsInf(v, -1):
				lvl = 0
			case valueRange <= 0:
				lvl = math.MaxUint16 / 2
			default:
				lvl = uint16((v - globalMin) / valueRange * math.MaxUint16)
			}
			canvas.SetRGBA(x, y, GetColor(lvl))
		}
	}

	meta := &RenderMetadata{
		ImageHeight:     height,
		ImageWidth:      width,
		ChanPerPixel:    float64(nchan) / float64(width),
		RecordsPerPixel: float64(len(w.Rows)) / float64(height),
		Min:             globalMin,
		Max:             globalMax,
	}
	if len(w.Times) > 0 {
		meta.StartTime = w.Times[0]
		meta.EndTime = w.Times[len(w.Times)-1]
	}

	if opts.AddGrid {
		xLabel := func(frac float64) string { return fmt.Sprintf("ch %d", int(frac*float64(nchan))) }
		if opts.HighFreq > opts.LowFreq {
			xLabel = func(frac float64) string {
				return GetReadableFreq(opts.LowFreq + int64(frac*float64(opts.HighFreq-opts.LowFreq)))
			}
		}
		canvas = DrawGrid(canvas, xLabel, meta.StartTime, meta.EndTime)
	}

	return &RenderResult{Image: canvas, Meta: meta}, nil
}
