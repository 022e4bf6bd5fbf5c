package export

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hb9tf/corrspec/corr"
	"github.com/hb9tf/corrspec/header"
	"github.com/hb9tf/corrspec/logsink"
)

const (
	sqlSinkName = "sql"

	// Plain column types understood by both sqlite and MySQL.
	sqlCreateRunsTmpl = `CREATE TABLE IF NOT EXISTS runs (
		RunID    VARCHAR(64) NOT NULL PRIMARY KEY,
		Start    BIGINT,
		NSpec    INTEGER,
		NRec     INTEGER,
		Mode     VARCHAR(8),
		NChan    INTEGER,
		FPGFile  TEXT,
		Host     TEXT,
		L        DOUBLE,
		B        DOUBLE,
		RA       DOUBLE,
		DecDeg   DOUBLE
	);`
	sqlCreateSpectraTmpl = `CREATE TABLE IF NOT EXISTS spectra (
		RunID     VARCHAR(64) NOT NULL,
		Seq       INTEGER NOT NULL,
		AccCount  BIGINT,
		ReadTime  BIGINT,
		Channel   INTEGER NOT NULL,
		Auto0     DOUBLE,
		Auto1     DOUBLE,
		CrossReal DOUBLE,
		CrossImag DOUBLE,
		PRIMARY KEY (RunID, Seq, Channel)
	);`
	sqlInsertRunTmpl = `INSERT INTO runs (
		RunID,
		Start,
		NSpec,
		NRec,
		Mode,
		NChan,
		FPGFile,
		Host,
		L,
		B,
		RA,
		DecDeg
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`
	sqlInsertSpectrumTmpl = `INSERT INTO spectra (
		RunID,
		Seq,
		AccCount,
		ReadTime,
		Channel,
		Auto0,
		Auto1,
		CrossReal,
		CrossImag
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?);`
	sqlUpdateRunTmpl = `UPDATE runs SET NRec = ? WHERE RunID = ?;`
)

// SQL stores runs in a database: one row per run in "runs" and one row per
// frequency channel and record in "spectra". Each record is inserted in a
// single transaction. The caller owns DB.
type SQL struct {
	DB  *sql.DB
	Log logsink.Logger

	md      *header.Metadata
	records int
}

func (s *SQL) Name() string { return sqlSinkName }

func (s *SQL) log() logsink.Logger {
	if s.Log == nil {
		return logsink.Discard{}
	}
	return s.Log
}

func (s *SQL) WriteHeader(md *header.Metadata) error {
	ctx := context.Background()
	if err := sqlCreateTablesIfNotExist(ctx, s.DB); err != nil {
		return sinkErr(sqlSinkName, "create tables", err)
	}

	var fpgFile, host string
	if c, ok := md.Get("FPGFILE"); ok {
		fpgFile, _ = c.Value.(string)
	}
	if c, ok := md.Get("HOST"); ok {
		host, _ = c.Value.(string)
	}
	if _, err := s.DB.ExecContext(ctx, sqlInsertRunTmpl,
		md.RunID, md.Start.UnixMilli(), md.NSpec, 0, string(md.Mode), md.NChan, fpgFile, host,
		md.Galactic.L, md.Galactic.B, md.Equatorial.RA, md.Equatorial.Dec,
	); err != nil {
		return sinkErr(sqlSinkName, "insert run", err)
	}
	s.md = md
	return nil
}

func (s *SQL) WriteRecord(r *corr.Record) error {
	if s.md == nil {
		return sinkErr(sqlSinkName, "write record", errors.New("no header written"))
	}
	if err := sqlInsertRecord(context.Background(), s.DB, s.md.RunID, r); err != nil {
		return sinkErr(sqlSinkName, fmt.Sprintf("insert record %d", r.Seq), err)
	}
	s.records++
	s.log().Debugf(2, "stored record %d (%d channels) of run %s", r.Seq, r.Len(), s.md.RunID)
	return nil
}

// Close stores the number of records actually written with the run.
func (s *SQL) Close() error {
	if s.md == nil {
		return nil
	}
	if _, err := s.DB.ExecContext(context.Background(), sqlUpdateRunTmpl, s.records, s.md.RunID); err != nil {
		return sinkErr(sqlSinkName, "update run", err)
	}
	s.log().Infof("stored %d of %d records of run %s", s.records, s.md.NSpec, s.md.RunID)
	return nil
}

func sqlCreateTablesIfNotExist(ctx context.Context, db *sql.DB) error {
	for _, tmpl := range []string{sqlCreateRunsTmpl, sqlCreateSpectraTmpl} {
		if _, err := db.ExecContext(ctx, tmpl); err != nil {
			return err
		}
	}
	return nil
}

func sqlInsertRecord(ctx context.Context, db *sql.DB, runID string, r *corr.Record) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	statement, err := tx.PrepareContext(ctx, sqlInsertSpectrumTmpl)
	if err != nil {
		return err
	}
	defer statement.Close()

	for ch := 0; ch < r.Len(); ch++ {
		if _, err := statement.ExecContext(ctx,
			runID, r.Seq, int64(r.Count), r.Read.UnixMilli(), ch,
			nullable(r.Auto0, ch), nullable(r.Auto1, ch), nullable(r.CrossReal, ch), nullable(r.CrossImag, ch),
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func nullable(col []float64, i int) sql.NullFloat64 {
	if col == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: col[i], Valid: true}
}
