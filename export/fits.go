package export

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/astrogo/fitsio"

	"github.com/hb9tf/corrspec/corr"
	"github.com/hb9tf/corrspec/geometry"
	"github.com/hb9tf/corrspec/header"
)

const (
	fitsSinkName = "fits"
	// TableName is the EXTNAME of every record table.
	TableName = "CORR_DATA"
)

// FITS streams a run into a FITS file: the run header as primary HDU and one
// binary table per record, appended as soon as the record arrives.
//
// The file is written under a temporary name next to Path and renamed on
// Close. A table that fails half way is cut off again, so the file always ends
// on a complete HDU.
type FITS struct {
	Path string

	mode    corr.Mode
	file    *os.File
	cw      *countingWriter
	enc     *fitsio.File
	good    int64
	records int
	broken  error
}

func (f *FITS) Name() string { return fitsSinkName }

// Records returns the number of tables written.
func (f *FITS) Records() int { return f.records }

func (f *FITS) WriteHeader(md *header.Metadata) error {
	if f.file != nil {
		return sinkErr(fitsSinkName, "write header", errors.New("header already written"))
	}
	f.mode = md.Mode
	if f.mode == "" {
		f.mode = corr.ModeCorr
	}

	dir, base := filepath.Split(f.Path)
	if dir == "" {
		dir = "."
	}
	file, err := os.CreateTemp(dir, base+".*.partial")
	if err != nil {
		return sinkErr(fitsSinkName, "create file", err)
	}
	f.file = file
	f.cw = &countingWriter{w: file}

	enc, err := fitsio.Create(f.cw)
	if err != nil {
		return f.fail("create FITS encoder", err)
	}
	f.enc = enc

	cards := make([]fitsio.Card, 0, len(md.Cards))
	for _, c := range md.Cards {
		cards = append(cards, fitsio.Card{Name: c.Name, Value: c.Value, Comment: c.Comment})
	}
	phdu, err := fitsio.NewPrimaryHDU(fitsio.NewHeader(cards, fitsio.IMAGE_HDU, 8, []int{}))
	if err != nil {
		return f.fail("build primary HDU", err)
	}
	if err := f.enc.Write(phdu); err != nil {
		return f.fail("write primary HDU", err)
	}
	f.good = f.cw.n
	return nil
}

func (f *FITS) WriteRecord(r *corr.Record) error {
	if f.enc == nil {
		return sinkErr(fitsSinkName, "write record", errors.New("no header written"))
	}
	if f.broken != nil {
		return sinkErr(fitsSinkName, "write record", f.broken)
	}

	names := f.mode.Columns()
	cols := make([]fitsio.Column, len(names))
	data := make([][]float64, len(names))
	for i, name := range names {
		cols[i] = fitsio.Column{Name: name, Format: "D", Bscale: 1, Bzero: 0}
		data[i] = r.Column(name)
		if len(data[i]) != r.Len() {
			return sinkErr(fitsSinkName, "write record", fmt.Errorf("record %d: column %s has %d values, want %d", r.Seq, name, len(data[i]), r.Len()))
		}
	}

	tbl, err := fitsio.NewTable(TableName, cols, fitsio.BINARY_TBL)
	if err != nil {
		return sinkErr(fitsSinkName, "create table", err)
	}
	if err := tbl.Header().Append(
		fitsio.Card{Name: "RECSEQ", Value: r.Seq, Comment: "Record number within the run"},
		fitsio.Card{Name: "ACCCNT", Value: int64(r.Count), Comment: "Accumulator count of the integration"},
		fitsio.Card{Name: "UNIX", Value: geometry.UnixSeconds(r.Read), Comment: "Read time, seconds since epoch"},
	); err != nil {
		return sinkErr(fitsSinkName, "write table header", err)
	}

	row := make([]float64, len(names))
	ptrs := make([]any, len(names))
	for i := range row {
		ptrs[i] = &row[i]
	}
	for ch := 0; ch < r.Len(); ch++ {
		for i := range names {
			row[i] = data[i][ch]
		}
		if err := tbl.Write(ptrs...); err != nil {
			return sinkErr(fitsSinkName, "fill table", err)
		}
	}

	// TODO: fitsio keeps every written HDU until the file is closed; very long
	// runs should rotate files instead of growing one encoder.
	if err := f.enc.Write(tbl); err != nil {
		return f.fail(fmt.Sprintf("write record %d", r.Seq), err)
	}
	f.good = f.cw.n
	f.records++
	return nil
}

// Close finalizes the file under its final name. Without a header nothing was
// created and Close is a no-op.
func (f *FITS) Close() error {
	if f.file == nil {
		return nil
	}
	var errs []error
	if f.enc != nil {
		if err := f.enc.Close(); err != nil && f.broken == nil {
			errs = append(errs, err)
		}
	}
	if err := f.truncate(); err != nil {
		errs = append(errs, err)
	}
	if err := f.file.Sync(); err != nil {
		errs = append(errs, err)
	}
	if err := f.file.Close(); err != nil {
		errs = append(errs, err)
	}
	tmp := f.file.Name()
	f.file = nil
	if err := errors.Join(errs...); err != nil {
		return sinkErr(fitsSinkName, "finalize", err)
	}
	if f.good == 0 {
		// Not even the primary header made it.
		os.Remove(tmp)
		return sinkErr(fitsSinkName, "finalize", f.broken)
	}
	// CreateTemp leaves the file private.
	if err := os.Chmod(tmp, 0o644); err != nil {
		return sinkErr(fitsSinkName, "chmod", err)
	}
	if err := os.Rename(tmp, f.Path); err != nil {
		return sinkErr(fitsSinkName, "rename", err)
	}
	return nil
}

// fail cuts the file back to the last complete HDU and refuses further writes.
func (f *FITS) fail(op string, err error) error {
	f.broken = err
	if terr := f.truncate(); terr != nil {
		err = errors.Join(err, terr)
	}
	return sinkErr(fitsSinkName, op, err)
}

func (f *FITS) truncate() error {
	if f.cw == nil || f.cw.n == f.good {
		return nil
	}
	if err := f.file.Truncate(f.good); err != nil {
		return err
	}
	if _, err := f.file.Seek(f.good, io.SeekStart); err != nil {
		return err
	}
	f.cw.n = f.good
	return nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// FITSBatch collects all records in memory and writes the whole file on
// Close.
type FITSBatch struct {
	Path string

	md      *header.Metadata
	records []*corr.Record
}

func (b *FITSBatch) Name() string { return "fits-batch" }

func (b *FITSBatch) WriteHeader(md *header.Metadata) error {
	b.md = md
	return nil
}

func (b *FITSBatch) WriteRecord(r *corr.Record) error {
	if b.md == nil {
		return sinkErr(b.Name(), "write record", errors.New("no header written"))
	}
	b.records = append(b.records, r)
	return nil
}

func (b *FITSBatch) Close() error {
	if b.md == nil {
		return nil
	}
	out := &FITS{Path: b.Path}
	var errs []error
	if err := out.WriteHeader(b.md); err == nil {
		for _, r := range b.records {
			if err := out.WriteRecord(r); err != nil {
				errs = append(errs, err)
				break
			}
		}
	} else {
		errs = append(errs, err)
	}
	errs = append(errs, out.Close())
	b.records = nil
	return errors.Join(errs...)
}

// ReadFITS loads a run written by FITS or FITSBatch.
func ReadFITS(path string) (*header.Metadata, []*corr.Record, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer file.Close()

	f, err := fitsio.Open(file)
	if err != nil {
		return nil, nil, fmt.Errorf("unable to decode FITS file %q: %w", path, err)
	}
	defer f.Close()

	hdus := f.HDUs()
	if len(hdus) == 0 {
		return nil, nil, fmt.Errorf("FITS file %q has no HDU", path)
	}

	md := &header.Metadata{}
	phdr := hdus[0].Header()
	for _, k := range phdr.Keys() {
		c := phdr.Get(k)
		md.Cards = append(md.Cards, header.Card{Name: c.Name, Value: c.Value, Comment: c.Comment})
	}
	if c, ok := md.Get("RUNID"); ok {
		md.RunID, _ = c.Value.(string)
	}
	if c, ok := md.Get("MODE"); ok {
		s, _ := c.Value.(string)
		md.Mode = corr.Mode(s)
	}
	if run, err := header.Unpack(md.Cards); err == nil {
		md.NSpec = run.NSpec
		md.NChan = run.NChan
	}
	for name, dst := range map[string]*float64{
		"L": &md.Galactic.L, "B": &md.Galactic.B,
		"RA": &md.Equatorial.RA, "DEC": &md.Equatorial.Dec,
	} {
		if c, ok := md.Get(name); ok {
			*dst, _ = c.Value.(float64)
		}
	}
	if c, ok := md.Get("UNIX"); ok {
		if sec, ok := c.Value.(float64); ok {
			md.Start = time.UnixMilli(int64(sec * 1000)).UTC()
		}
	}

	var records []*corr.Record
	for i, hdu := range hdus[1:] {
		tbl, ok := hdu.(*fitsio.Table)
		if !ok {
			return nil, nil, fmt.Errorf("HDU %d is a %v, not a table", i+1, hdu.Type())
		}
		r, err := readTable(tbl)
		if err != nil {
			return nil, nil, fmt.Errorf("HDU %d: %w", i+1, err)
		}
		records = append(records, r)
	}
	return md, records, nil
}

func readTable(tbl *fitsio.Table) (*corr.Record, error) {
	r := &corr.Record{}
	if c := tbl.Header().Get("RECSEQ"); c != nil {
		r.Seq = toInt(c.Value)
	}
	if c := tbl.Header().Get("ACCCNT"); c != nil {
		r.Count = corr.Count(toInt(c.Value))
	}
	if c := tbl.Header().Get("UNIX"); c != nil {
		if sec, ok := c.Value.(float64); ok {
			r.Read = time.UnixMilli(int64(sec * 1000)).UTC()
		}
	}

	nrows := tbl.NumRows()
	cols := tbl.Cols()
	data := make([][]float64, len(cols))
	row := make([]float64, len(cols))
	ptrs := make([]any, len(cols))
	for i := range cols {
		data[i] = make([]float64, 0, nrows)
		ptrs[i] = &row[i]
	}

	rows, err := tbl.Read(0, nrows)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		for i := range cols {
			data[i] = append(data[i], row[i])
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, c := range cols {
		switch c.Name {
		case corr.ColAuto0Real:
			r.Auto0 = data[i]
		case corr.ColAuto1Real:
			r.Auto1 = data[i]
		case corr.ColCrossReal:
			r.CrossReal = data[i]
		case corr.ColCrossImag:
			r.CrossImag = data[i]
		default:
			return nil, fmt.Errorf("unexpected column %q", c.Name)
		}
	}
	return r, nil
}

func toInt(v any) int {
	switch v := v.(type) {
	case int:
		return v
	case int64:
		return int(v)
	case int32:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}
