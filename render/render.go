package main

/*
This application renders waterfalls of runs collected with corrspec,
either from a FITS file or from the sqlite/MySQL run catalog.
*/

import (
	"database/sql"
	"flag"
	"fmt"
	"image/jpeg"
	"image/png"
	"os"
	"strings"
	"time"

	"github.com/golang/glog"

	"github.com/hb9tf/corrspec/corr"
	"github.com/hb9tf/corrspec/export"
	"github.com/hb9tf/corrspec/extraction"
	"github.com/hb9tf/corrspec/logsink"
)

// Flags
var (
	fitsFile     = flag.String("fitsFile", "", "FITS file to render. Takes precedence over the DB flags.")
	sqliteFile   = flag.String("sqliteFile", "", "File path of the sqlite DB file to use.")
	runID        = flag.String("runID", "", "Run to render from the DB.")
	column       = flag.String("column", corr.ColAuto0Real, "Column to render (one of: auto0_real, auto1_real, cross_real, cross_imag)")
	startTimeRaw = flag.String("startTime", "2000-01-02T15:04:05", "Select spectra collected after this time. Format: 2006-01-02T15:04:05")
	endTimeRaw   = flag.String("endTime", "2100-01-02T15:04:05", "Select spectra collected before this time. Format: 2006-01-02T15:04:05")
	lowFreq      = flag.Int64("lowFreq", 0, "Frequency of the first channel in Hz, used for axis labels.")
	highFreq     = flag.Int64("highFreq", 0, "Frequency past the last channel in Hz, used for axis labels.")
	decibel      = flag.Bool("db", true, "Render values in dB.")
	imgPath      = flag.String("imgPath", "/tmp/out.png", "Path where the rendered image should be written to.")
	imgWidth     = flag.Int("imgWidth", 0, "Width of output image in pixels (defaults to one pixel per channel).")
	imgHeight    = flag.Int("imgHeight", 0, "Height of output image in pixels (defaults to one pixel per spectrum).")
	addGrid      = flag.Bool("addGrid", true, "Draw axes around the waterfall.")
)

const timeFmt = "2006-01-02T15:04:05"

func load() (*extraction.Waterfall, error) {
	if *fitsFile != "" {
		md, records, err := export.ReadFITS(*fitsFile)
		if err != nil {
			return nil, err
		}
		fmt.Printf("Run %s: %d of %d spectra, %s mode, l=%.3f b=%.3f\n", md.RunID, len(records), md.NSpec, md.Mode, md.Galactic.L, md.Galactic.B)
		return extraction.FromRecords(records, *column)
	}

	startTime, err := time.Parse(timeFmt, *startTimeRaw)
	if err != nil {
		return nil, fmt.Errorf("unable to parse startTime (value: %q, format: %q): %w", *startTimeRaw, timeFmt, err)
	}
	endTime, err := time.Parse(timeFmt, *endTimeRaw)
	if err != nil {
		return nil, fmt.Errorf("unable to parse endTime (value: %q, format: %q): %w", *endTimeRaw, timeFmt, err)
	}
	if *sqliteFile == "" || *runID == "" {
		return nil, fmt.Errorf("either -fitsFile or -sqliteFile and -runID are required")
	}
	var db *sql.DB
	if db, err = export.OpenSQLite(*sqliteFile); err != nil {
		return nil, err
	}
	defer db.Close()
	return extraction.LoadSQL(db, *runID, *column, startTime, endTime)
}

func main() {
	// Set defaults for glog flags. Can be overridden via cmdline.
	flag.Set("logtostderr", "false")
	flag.Set("stderrthreshold", "WARNING")
	flag.Set("v", "1")
	// Parse flags globally.
	flag.Parse()
	defer glog.Flush()

	w, err := load()
	if err != nil {
		glog.Exitf("unable to load spectra: %s", err)
	}

	res, err := extraction.Render(w, &extraction.ImageOptions{
		Height:   *imgHeight,
		Width:    *imgWidth,
		DB:       *decibel,
		LowFreq:  *lowFreq,
		HighFreq: *highFreq,
		AddGrid:  *addGrid,
	}, logsink.Glog{})
	if err != nil {
		glog.Exitf("unable to render waterfall: %s", err)
	}

	fmt.Println("Selected data:")
	fmt.Printf("  - Column: %s\n", w.Column)
	fmt.Printf("  - Start time: %s\n", res.Meta.StartTime.Format(timeFmt))
	fmt.Printf("  - End time: %s\n", res.Meta.EndTime.Format(timeFmt))
	fmt.Printf("  - Duration: %s\n", res.Meta.EndTime.Sub(res.Meta.StartTime))
	fmt.Printf("  - Value range: %g to %g\n", res.Meta.Min, res.Meta.Max)
	fmt.Printf("Rendered image (%d x %d, %.1f channels and %.1f spectra per pixel)\n",
		res.Meta.ImageWidth, res.Meta.ImageHeight, res.Meta.ChanPerPixel, res.Meta.RecordsPerPixel)

	fmt.Printf("Writing image to %q\n", *imgPath)
	f, err := os.Create(*imgPath)
	if err != nil {
		glog.Exitf("unable to create image file: %s", err)
	}
	defer f.Close()
	switch {
	case strings.HasSuffix(*imgPath, ".png"):
		err = png.Encode(f, res.Image)
	case strings.HasSuffix(*imgPath, ".jpg"):
		err = jpeg.Encode(f, res.Image, &jpeg.Options{Quality: jpeg.DefaultQuality})
	default:
		err = fmt.Errorf("unsupported image format, use .png or .jpg")
	}
	if err != nil {
		glog.Exitf("unable to write image: %s", err)
	}
}
