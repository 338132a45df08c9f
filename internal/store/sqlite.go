package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"typeproof/internal/classifier"
	"typeproof/internal/commitment"
	"typeproof/internal/verify"
)

// Store represents the SQLite commitment store.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens or creates the SQLite database at the given path and runs migrations.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if path == ":memory:" {
		// Each connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	if err := MigrateDB(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db, now: time.Now}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// DB exposes the underlying handle for migrations tooling.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Save stores c and returns its record id. Saving a commitment whose
// reference id is already stored returns the existing id.
func (s *Store) Save(ctx context.Context, c *commitment.Commitment, verdict *classifier.Verdict) (string, error) {
	data, err := commitment.Marshal(c)
	if err != nil {
		return "", err
	}

	var verdictJSON sql.NullString
	if verdict != nil {
		vb, err := json.Marshal(verdict)
		if err != nil {
			return "", fmt.Errorf("encode verdict: %w", err)
		}
		verdictJSON = sql.NullString{String: string(vb), Valid: true}
	}

	var publicKey sql.NullString
	if c.PublicKey != "" {
		publicKey = sql.NullString{String: c.PublicKey, Valid: true}
	}

	refID := verify.ReferenceID(c)
	id := uuid.NewString()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO commitments (id, reference_id, content_hash, human_verified, timestamp_ms, created_at, commitment_json, verdict_json, public_key)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(reference_id) DO NOTHING`,
		id, refID, c.PublicValues.ContentHash, c.PublicValues.HumanVerified,
		int64(c.PublicValues.Timestamp), s.now().UnixNano(), string(data), verdictJSON, publicKey,
	)
	if err != nil {
		return "", fmt.Errorf("insert commitment: %w", err)
	}

	var stored string
	err = s.db.QueryRowContext(ctx, "SELECT id FROM commitments WHERE reference_id = ?", refID).Scan(&stored)
	if err != nil {
		return "", fmt.Errorf("lookup commitment id: %w", err)
	}
	return stored, nil
}

const recordColumns = `id, reference_id, content_hash, human_verified, timestamp_ms, created_at, commitment_json, verdict_json`

// Get retrieves a record by id. Returns nil, nil when not found.
func (s *Store) Get(ctx context.Context, id string) (*Record, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+recordColumns+" FROM commitments WHERE id = ?", id)
	return scanRecord(row)
}

// GetByReference retrieves a record by its reference id.
func (s *Store) GetByReference(ctx context.Context, refID string) (*Record, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+recordColumns+" FROM commitments WHERE reference_id = ?", refID)
	return scanRecord(row)
}

// List returns the most recent records, newest first. limit <= 0 means 50.
func (s *Store) List(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+recordColumns+" FROM commitments ORDER BY created_at DESC, rowid DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("query commitments: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *r)
	}
	return records, rows.Err()
}

// ListByContent returns every record committing to the given content hash.
func (s *Store) ListByContent(ctx context.Context, contentHash string) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+recordColumns+" FROM commitments WHERE content_hash = ? ORDER BY timestamp_ms", contentHash)
	if err != nil {
		return nil, fmt.Errorf("query commitments: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *r)
	}
	return records, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*Record, error) {
	var (
		r           Record
		ts          int64
		createdAt   int64
		data        string
		verdictJSON sql.NullString
	)
	err := row.Scan(&r.ID, &r.ReferenceID, &r.ContentHash, &r.HumanVerified, &ts, &createdAt, &data, &verdictJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan commitment: %w", err)
	}

	c, err := commitment.Unmarshal([]byte(data))
	if err != nil {
		return nil, fmt.Errorf("decode stored commitment %s: %w", r.ID, err)
	}
	r.Commitment = c
	r.Timestamp = uint64(ts)
	r.CreatedAt = time.Unix(0, createdAt)

	if verdictJSON.Valid {
		var v classifier.Verdict
		if err := json.Unmarshal([]byte(verdictJSON.String), &v); err != nil {
			return nil, fmt.Errorf("decode stored verdict %s: %w", r.ID, err)
		}
		r.Verdict = &v
	}
	return &r, nil
}

// RecordVerification logs a verification run.
func (s *Store) RecordVerification(ctx context.Context, commitmentID string, kind VerificationKind, ok bool, detail string) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO verifications (commitment_id, kind, ok, detail, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		commitmentID, string(kind), ok, detail, s.now().UnixNano(),
	)
	if err != nil {
		return 0, fmt.Errorf("insert verification: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("get last insert id: %w", err)
	}
	return id, nil
}

// Verifications lists the runs recorded for a commitment, oldest first.
func (s *Store) Verifications(ctx context.Context, commitmentID string) ([]VerificationRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, commitment_id, kind, ok, COALESCE(detail, ''), created_at
		FROM verifications WHERE commitment_id = ? ORDER BY created_at, id`, commitmentID)
	if err != nil {
		return nil, fmt.Errorf("query verifications: %w", err)
	}
	defer rows.Close()

	var out []VerificationRecord
	for rows.Next() {
		var (
			v         VerificationRecord
			kind      string
			createdAt int64
		)
		if err := rows.Scan(&v.ID, &v.CommitmentID, &kind, &v.OK, &v.Detail, &createdAt); err != nil {
			return nil, fmt.Errorf("scan verification: %w", err)
		}
		v.Kind = VerificationKind(kind)
		v.CreatedAt = time.Unix(0, createdAt)
		out = append(out, v)
	}
	return out, rows.Err()
}

// GetStats returns row counts.
func (s *Store) GetStats(ctx context.Context) (*Stats, error) {
	var st Stats
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM commitments),
			(SELECT COUNT(*) FROM commitments WHERE human_verified = 1),
			(SELECT COUNT(*) FROM verifications)`).Scan(&st.Commitments, &st.HumanVerified, &st.Verifications)
	if err != nil {
		return nil, fmt.Errorf("query stats: %w", err)
	}
	return &st, nil
}
