package export

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/hb9tf/corrspec/corr"
	"github.com/hb9tf/corrspec/header"
)

// CSV writes one line per record and frequency channel, defaulting to stdout.
type CSV struct {
	W io.Writer

	w     *csv.Writer
	runID string
	cols  []string
}

func (c *CSV) Name() string { return "csv" }

func (c *CSV) WriteHeader(md *header.Metadata) error {
	out := c.W
	if out == nil {
		out = os.Stdout
	}
	c.w = csv.NewWriter(out)
	c.runID = md.RunID
	mode := md.Mode
	if mode == "" {
		mode = corr.ModeCorr
	}
	c.cols = mode.Columns()

	row := append([]string{"RunID", "Seq", "AccCount", "ReadUnixMilli", "Channel"}, c.cols...)
	if err := c.w.Write(row); err != nil {
		return sinkErr(c.Name(), "write header", err)
	}
	c.w.Flush()
	return sinkErr(c.Name(), "write header", c.w.Error())
}

func (c *CSV) WriteRecord(r *corr.Record) error {
	if c.w == nil {
		return sinkErr(c.Name(), "write record", errors.New("no header written"))
	}
	for ch := 0; ch < r.Len(); ch++ {
		row := []string{
			c.runID,
			fmt.Sprintf("%d", r.Seq),
			fmt.Sprintf("%d", r.Count),
			fmt.Sprintf("%d", r.Read.UnixMilli()),
			fmt.Sprintf("%d", ch),
		}
		for _, name := range c.cols {
			col := r.Column(name)
			if ch >= len(col) {
				return sinkErr(c.Name(), "write record", fmt.Errorf("record %d: column %s too short", r.Seq, name))
			}
			row = append(row, fmt.Sprintf("%g", col[ch]))
		}
		if err := c.w.Write(row); err != nil {
			return sinkErr(c.Name(), "write record", err)
		}
	}
	c.w.Flush()
	return sinkErr(c.Name(), "write record", c.w.Error())
}

func (c *CSV) Close() error {
	if c.w == nil {
		return nil
	}
	c.w.Flush()
	return sinkErr(c.Name(), "close", c.w.Error())
}
