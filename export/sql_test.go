package export

import (
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hb9tf/corrspec/corr"
	"github.com/hb9tf/corrspec/logsink"
)

func expectHeader(mock sqlmock.Sqlmock) {
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS runs")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS spectra")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO runs")).
		WithArgs("run-1", testStart.UnixMilli(), 2, 0, "spec", 2, "corrspec.fpg", "snap01",
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
}

func TestSQLSink(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	log := &logsink.Recorder{}
	s := &SQL{DB: db, Log: log}

	expectHeader(mock)
	r := testRecord(corr.ModeSpec, 1, 2)
	mock.ExpectBegin()
	prep := mock.ExpectPrepare(regexp.QuoteMeta("INSERT INTO spectra"))
	for ch := 0; ch < 2; ch++ {
		prep.ExpectExec().
			WithArgs("run-1", 1, int64(101), r.Read.UnixMilli(), ch, r.Auto0[ch], r.Auto1[ch], nil, nil).
			WillReturnResult(sqlmock.NewResult(0, 1))
	}
	mock.ExpectCommit()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE runs SET NRec = ? WHERE RunID = ?")).
		WithArgs(1, "run-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.WriteHeader(testMetadata(t, corr.ModeSpec, 2, 2)))
	require.NoError(t, s.WriteRecord(r))
	require.NoError(t, s.Close())

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
	assert.Equal(t, 1, log.Count("I"))
}

func TestSQLSinkRollsBackFailedRecord(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	s := &SQL{DB: db}
	expectHeader(mock)
	mock.ExpectBegin()
	prep := mock.ExpectPrepare(regexp.QuoteMeta("INSERT INTO spectra"))
	prep.ExpectExec().WillReturnResult(sqlmock.NewResult(0, 1))
	prep.ExpectExec().WillReturnError(errors.New("disk I/O error"))
	mock.ExpectRollback()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE runs SET NRec")).
		WithArgs(0, "run-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.WriteHeader(testMetadata(t, corr.ModeSpec, 2, 2)))
	err = s.WriteRecord(testRecord(corr.ModeSpec, 1, 2))
	var swErr *corr.SinkWriteError
	require.ErrorAs(t, err, &swErr)
	assert.Equal(t, "sql", swErr.Sink)
	assert.Equal(t, "insert record 1", swErr.Op)
	require.NoError(t, s.Close())

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSQLSinkName(t *testing.T) {
	db, _, _ := sqlmock.New()
	defer db.Close()

	s := &SQL{DB: db}
	if s.Name() != "sql" {
		t.Fatalf("expected sink name sql, got %s", s.Name())
	}
}
