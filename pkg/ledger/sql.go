package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/litoral-labs/micdta/pkg/contracts"
)

// SQLLedger implements Ledger over database/sql. It supports both
// Postgres (lib/pq) and SQLite (modernc.org/sqlite) via standard
// drivers.
type SQLLedger struct {
	db    *sql.DB
	clock Clock
}

// NewSQLLedger wraps an open database handle. The caller owns the
// handle's lifecycle.
func NewSQLLedger(db *sql.DB) *SQLLedger {
	return &SQLLedger{db: db, clock: time.Now}
}

// WithClock overrides the time source for testing.
func (s *SQLLedger) WithClock(clock Clock) *SQLLedger {
	s.clock = clock
	return s
}

const schema = `
CREATE TABLE IF NOT EXISTS submission_records (
	id TEXT PRIMARY KEY,
	voyage_id TEXT NOT NULL,
	sequence BIGINT NOT NULL,
	operation TEXT NOT NULL,
	shipment_id TEXT,
	status TEXT NOT NULL,
	external_ref TEXT,
	request TEXT,
	result TEXT,
	error_json TEXT,
	linked_titles TEXT,
	watermark BOOLEAN NOT NULL DEFAULT FALSE,
	justification TEXT,
	force_send BOOLEAN NOT NULL DEFAULT FALSE,
	notes TEXT,
	prev_hash TEXT NOT NULL,
	entry_hash TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL,
	sealed_at TIMESTAMP,
	UNIQUE (voyage_id, sequence)
);
CREATE TABLE IF NOT EXISTS position_samples (
	id TEXT PRIMARY KEY,
	voyage_id TEXT NOT NULL,
	latitude DOUBLE PRECISION NOT NULL,
	longitude DOUBLE PRECISION NOT NULL,
	source TEXT,
	captured_at TIMESTAMP NOT NULL
);
`

// Init creates the ledger tables if they do not exist.
func (s *SQLLedger) Init(ctx context.Context) error {
	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ledger: init schema: %w", err)
		}
	}
	return nil
}

const recordColumns = `id, voyage_id, sequence, operation, shipment_id, status, external_ref, request, result, error_json, linked_titles, watermark, justification, force_send, notes, prev_hash, entry_hash, created_at, sealed_at`

func (s *SQLLedger) Append(ctx context.Context, rec *contracts.SubmissionRecord) (*contracts.SubmissionRecord, error) {
	stored := *rec
	if stored.ID == "" {
		stored.ID = uuid.New().String()
	}
	if stored.Status == "" {
		stored.Status = contracts.RecordPending
	}
	stored.CreatedAt = s.clock().UTC().Truncate(time.Microsecond)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("ledger: begin append: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// Per-voyage sequence and chain head under the same transaction;
	// the UNIQUE (voyage_id, sequence) constraint catches races.
	row := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0), COALESCE(MAX(CASE WHEN sequence = (SELECT MAX(sequence) FROM submission_records WHERE voyage_id = $1) THEN entry_hash END), 'genesis')
		 FROM submission_records WHERE voyage_id = $1`, stored.VoyageID)
	var maxSeq uint64
	var head string
	if err := row.Scan(&maxSeq, &head); err != nil {
		return nil, fmt.Errorf("ledger: read chain head: %w", err)
	}
	stored.Sequence = maxSeq + 1
	stored.PrevHash = head

	hash, err := entryHash(&stored)
	if err != nil {
		return nil, fmt.Errorf("ledger: hash entry: %w", err)
	}
	stored.EntryHash = hash

	var errJSON, titlesJSON []byte
	if stored.Error != nil {
		errJSON, _ = json.Marshal(stored.Error)
	}
	if len(stored.LinkedTitles) > 0 {
		titlesJSON, _ = json.Marshal(stored.LinkedTitles)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO submission_records (`+recordColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`,
		stored.ID, stored.VoyageID, stored.Sequence, string(stored.Operation), nullable(stored.ShipmentID),
		string(stored.Status), nullable(stored.ExternalRef), nullableBytes(stored.Request), nullableBytes(stored.Result),
		nullableBytes(errJSON), nullableBytes(titlesJSON), stored.Watermark, nullable(stored.Justification),
		stored.ForceSend, nullable(stored.Notes), stored.PrevHash, stored.EntryHash, stored.CreatedAt, nil,
	)
	if err != nil {
		return nil, fmt.Errorf("ledger: insert record: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("ledger: commit append: %w", err)
	}
	return &stored, nil
}

func (s *SQLLedger) SealRecord(ctx context.Context, voyageID, recordID string, seal Seal) (*contracts.SubmissionRecord, error) {
	var errJSON []byte
	if seal.Error != nil {
		errJSON, _ = json.Marshal(seal.Error)
	}
	now := s.clock().UTC()

	// Sealing is permitted only while the record is still PENDING or
	// SENT; a second seal affects zero rows.
	res, err := s.db.ExecContext(ctx, `
		UPDATE submission_records
		SET status = $1, external_ref = $2, result = $3, error_json = $4, sealed_at = $5
		WHERE id = $6 AND voyage_id = $7 AND status IN ('PENDING', 'SENT')`,
		string(seal.Status), nullable(seal.ExternalRef), nullableBytes(seal.Result), nullableBytes(errJSON), now,
		recordID, voyageID,
	)
	if err != nil {
		return nil, fmt.Errorf("ledger: seal record: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("ledger: seal rows affected: %w", err)
	}
	if affected == 0 {
		if _, getErr := s.get(ctx, recordID); errors.Is(getErr, ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, ErrAlreadySealed
	}
	return s.get(ctx, recordID)
}

func (s *SQLLedger) get(ctx context.Context, recordID string) (*contracts.SubmissionRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM submission_records WHERE id = $1`, recordID)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return rec, nil
}

func (s *SQLLedger) Query(ctx context.Context, voyageID string, f Filter) ([]contracts.SubmissionRecord, error) {
	var watermark uint64
	if f.AfterWatermark {
		var err error
		watermark, err = s.watermarkSeq(ctx, voyageID)
		if err != nil {
			return nil, err
		}
	}

	query := `SELECT ` + recordColumns + ` FROM submission_records WHERE voyage_id = $1 AND sequence >= $2`
	args := []interface{}{voyageID, watermark}
	if f.Operation != "" {
		query += fmt.Sprintf(" AND operation = $%d", len(args)+1)
		args = append(args, string(f.Operation))
	}
	if f.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", len(args)+1)
		args = append(args, string(f.Status))
	}
	query += " ORDER BY sequence DESC"
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", len(args)+1)
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ledger: query records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]contracts.SubmissionRecord, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *SQLLedger) View(ctx context.Context, voyageID string) (*View, error) {
	watermark, err := s.watermarkSeq(ctx, voyageID)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM submission_records WHERE voyage_id = $1 AND sequence >= $2 ORDER BY sequence ASC`,
		voyageID, watermark)
	if err != nil {
		return nil, fmt.Errorf("ledger: query view: %w", err)
	}
	defer func() { _ = rows.Close() }()

	view := &View{VoyageID: voyageID, WatermarkSeq: watermark}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		view.Records = append(view.Records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return view, nil
}

func (s *SQLLedger) watermarkSeq(ctx context.Context, voyageID string) (uint64, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) FROM submission_records WHERE voyage_id = $1 AND watermark AND status = 'SUCCESS'`,
		voyageID)
	var seq uint64
	if err := row.Scan(&seq); err != nil {
		return 0, fmt.Errorf("ledger: read watermark: %w", err)
	}
	return seq, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row scanner) (*contracts.SubmissionRecord, error) {
	var rec contracts.SubmissionRecord
	var op, status string
	var shipmentID, externalRef, request, result, errJSON, titlesJSON, justification, notes sql.NullString
	var sealedAt sql.NullTime

	err := row.Scan(&rec.ID, &rec.VoyageID, &rec.Sequence, &op, &shipmentID, &status, &externalRef,
		&request, &result, &errJSON, &titlesJSON, &rec.Watermark, &justification, &rec.ForceSend,
		&notes, &rec.PrevHash, &rec.EntryHash, &rec.CreatedAt, &sealedAt)
	if err != nil {
		return nil, err
	}

	rec.Operation = contracts.Operation(op)
	rec.Status = contracts.RecordStatus(status)
	rec.ShipmentID = shipmentID.String
	rec.ExternalRef = externalRef.String
	rec.Justification = justification.String
	rec.Notes = notes.String
	if request.Valid {
		rec.Request = []byte(request.String)
	}
	if result.Valid {
		rec.Result = []byte(result.String)
	}
	if errJSON.Valid {
		var remoteErr contracts.RemoteError
		if err := json.Unmarshal([]byte(errJSON.String), &remoteErr); err == nil {
			rec.Error = &remoteErr
		}
	}
	if titlesJSON.Valid {
		_ = json.Unmarshal([]byte(titlesJSON.String), &rec.LinkedTitles)
	}
	if sealedAt.Valid {
		t := sealedAt.Time
		rec.SealedAt = &t
	}
	return &rec, nil
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullableBytes(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
