package ledger

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/litoral-labs/micdta/pkg/contracts"
)

func TestSQLAppendChainsOnHead(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	l := NewSQLLedger(db).WithClock(testClock())
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT COALESCE").
		WithArgs("v1").
		WillReturnRows(sqlmock.NewRows([]string{"max", "head"}).AddRow(4, "sha256:abc"))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO submission_records")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	rec, err := l.Append(ctx, &contracts.SubmissionRecord{VoyageID: "v1", Operation: contracts.OpRegistrarEnvios, ShipmentID: "s1"})
	require.NoError(t, err)
	assert.Equal(t, uint64(5), rec.Sequence)
	assert.Equal(t, "sha256:abc", rec.PrevHash)
	assert.NotEmpty(t, rec.EntryHash)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLSealSecondTimeFails(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	l := NewSQLLedger(db).WithClock(testClock())
	ctx := context.Background()

	mock.ExpectExec(regexp.QuoteMeta("UPDATE submission_records")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	// Record exists but is already terminal.
	cols := []string{"id", "voyage_id", "sequence", "operation", "shipment_id", "status", "external_ref", "request", "result", "error_json", "linked_titles", "watermark", "justification", "force_send", "notes", "prev_hash", "entry_hash", "created_at", "sealed_at"}
	mock.ExpectQuery(regexp.QuoteMeta("SELECT")).
		WithArgs("r1").
		WillReturnRows(sqlmock.NewRows(cols).AddRow(
			"r1", "v1", 1, "RegistrarMicDta", nil, "SUCCESS", "MIC-1", nil, nil, nil, nil, false, nil, false, nil,
			"genesis", "sha256:x", time.Now(), time.Now()))

	_, err = l.SealRecord(ctx, "v1", "r1", Seal{Status: contracts.RecordError})
	assert.ErrorIs(t, err, ErrAlreadySealed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLWatermarkScopesView(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	l := NewSQLLedger(db)
	ctx := context.Background()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COALESCE(MAX(sequence), 0) FROM submission_records")).
		WithArgs("v1").
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(7))

	cols := []string{"id", "voyage_id", "sequence", "operation", "shipment_id", "status", "external_ref", "request", "result", "error_json", "linked_titles", "watermark", "justification", "force_send", "notes", "prev_hash", "entry_hash", "created_at", "sealed_at"}
	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY sequence ASC")).
		WithArgs("v1", uint64(7)).
		WillReturnRows(sqlmock.NewRows(cols).AddRow(
			"r7", "v1", 7, "AnularEnvios", nil, "SUCCESS", nil, nil, nil, nil, nil, true, "operator requested full restart", false, nil,
			"sha256:p", "sha256:h", time.Now(), time.Now()))

	view, err := l.View(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, uint64(7), view.WatermarkSeq)
	require.Len(t, view.Records, 1)
	assert.True(t, view.Records[0].Watermark)
	assert.True(t, view.Empty())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLQueryBuildsFilters(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	l := NewSQLLedger(db)
	ctx := context.Background()

	cols := []string{"id", "voyage_id", "sequence", "operation", "shipment_id", "status", "external_ref", "request", "result", "error_json", "linked_titles", "watermark", "justification", "force_send", "notes", "prev_hash", "entry_hash", "created_at", "sealed_at"}
	mock.ExpectQuery(regexp.QuoteMeta("AND operation = $3")).
		WithArgs("v1", uint64(0), "RegistrarEnvios", "SUCCESS", 5).
		WillReturnRows(sqlmock.NewRows(cols).AddRow(
			"r1", "v1", 3, "RegistrarEnvios", "s1", "SUCCESS", "ENV-1", nil, `{"tracks":[]}`, nil, nil, false, nil, false, nil,
			"sha256:p", "sha256:h", time.Now(), time.Now()))

	got, err := l.Query(ctx, "v1", Filter{Operation: contracts.OpRegistrarEnvios, Status: contracts.RecordSuccess, Limit: 5})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "ENV-1", got[0].ExternalRef)
	assert.Equal(t, "s1", got[0].ShipmentID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
