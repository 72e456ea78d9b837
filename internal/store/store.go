package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/elonfeng/newsgauge/pkg/authority"
	"github.com/elonfeng/newsgauge/pkg/extract"
	"github.com/elonfeng/newsgauge/pkg/saturation"
)

// lockTimeLayout is the fixed expiry format the provider client writes,
// always in UTC.
const lockTimeLayout = "2006-01-02 15:04:05"

// Evaluation is one upstream content-evaluation record: a news-like post
// plus the qualitative saturation level an LLM assigned to it.
type Evaluation struct {
	ID          string           `db:"id" json:"id"`
	Text        string           `db:"text" json:"text"`
	ContentType string           `db:"content_type" json:"content_type"`
	PriorLevel  saturation.Level `db:"prior_level" json:"prior_level"`
	EvaluatedAt time.Time        `db:"evaluated_at" json:"evaluated_at"`
}

// MeasurementRecord is one persisted batch result row for later audit.
type MeasurementRecord struct {
	RunID       string                  `db:"run_id" json:"run_id"`
	ItemID      string                  `db:"item_id" json:"item_id"`
	PriorLevel  saturation.Level        `db:"prior_level" json:"prior_level"`
	MatchStatus string                  `db:"match_status" json:"match_status"`
	Error       string                  `db:"error" json:"error,omitempty"`
	Signature   *extract.Signature      `db:"-" json:"signature,omitempty"`
	Measurement *saturation.Measurement `db:"-" json:"measurement,omitempty"`
	MeasuredAt  time.Time               `db:"measured_at" json:"measured_at"`

	SignatureJSON   string `db:"signature" json:"-"`
	MeasurementJSON string `db:"measurement" json:"-"`
}

// EvaluationListOpts controls evaluation listing.
type EvaluationListOpts struct {
	ContentType string
	Limit       int
}

// MeasurementListOpts controls measurement listing.
type MeasurementListOpts struct {
	RunID    string
	DiffOnly bool
	Limit    int
}

// Store is the persistence interface.
type Store interface {
	GetEvaluation(ctx context.Context, id string) (*Evaluation, error)
	ListEvaluations(ctx context.Context, opts EvaluationListOpts) ([]Evaluation, error)
	UpsertEvaluation(ctx context.Context, ev *Evaluation) error

	// LoadRegistry satisfies saturation.RegistryLoader.
	LoadRegistry(ctx context.Context) (*authority.Registry, error)
	UpsertKeyPerson(ctx context.Context, p authority.Person) error

	// OperationLock satisfies search.LockStore.
	OperationLock(ctx context.Context, op string) (time.Time, error)

	SaveReport(ctx context.Context, report *saturation.Report) error
	ListMeasurements(ctx context.Context, opts MeasurementListOpts) ([]MeasurementRecord, error)

	Close() error
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sqlx.DB
}

// New opens a SQLite database and runs migrations.
func New(path string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) GetEvaluation(ctx context.Context, id string) (*Evaluation, error) {
	var ev Evaluation
	if err := s.db.GetContext(ctx, &ev, "SELECT * FROM evaluations WHERE id = ?", id); err != nil {
		return nil, fmt.Errorf("get evaluation %s: %w", id, err)
	}
	return &ev, nil
}

func (s *SQLiteStore) ListEvaluations(ctx context.Context, opts EvaluationListOpts) ([]Evaluation, error) {
	query := "SELECT * FROM evaluations WHERE 1=1"
	var args []any

	if opts.ContentType != "" {
		query += " AND content_type = ?"
		args = append(args, opts.ContentType)
	}

	query += " ORDER BY evaluated_at DESC"

	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	query += " LIMIT ?"
	args = append(args, limit)

	var evs []Evaluation
	if err := s.db.SelectContext(ctx, &evs, query, args...); err != nil {
		return nil, fmt.Errorf("list evaluations: %w", err)
	}
	return evs, nil
}

func (s *SQLiteStore) UpsertEvaluation(ctx context.Context, ev *Evaluation) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO evaluations (id, text, content_type, prior_level, evaluated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			text = excluded.text,
			content_type = excluded.content_type,
			prior_level = excluded.prior_level,
			evaluated_at = excluded.evaluated_at
	`, ev.ID, ev.Text, ev.ContentType, ev.PriorLevel, ev.EvaluatedAt)
	if err != nil {
		return fmt.Errorf("upsert evaluation %s: %w", ev.ID, err)
	}
	return nil
}

type keyPersonRow struct {
	Handle      string `db:"handle"`
	Appearances int    `db:"appearances"`
	TopicsJSON  string `db:"topics"`
}

// LoadRegistry builds the authority registry from the key_persons table.
// The registry is read-only here; the key-person tracker owns writes.
func (s *SQLiteStore) LoadRegistry(ctx context.Context) (*authority.Registry, error) {
	var rows []keyPersonRow
	if err := s.db.SelectContext(ctx, &rows, "SELECT * FROM key_persons"); err != nil {
		return nil, fmt.Errorf("load key persons: %w", err)
	}

	persons := make([]authority.Person, 0, len(rows))
	for _, row := range rows {
		p := authority.Person{Handle: row.Handle, Appearances: row.Appearances}
		json.Unmarshal([]byte(row.TopicsJSON), &p.Topics)
		persons = append(persons, p)
	}
	return authority.NewRegistry(persons), nil
}

func (s *SQLiteStore) UpsertKeyPerson(ctx context.Context, p authority.Person) error {
	topicsJSON, _ := json.Marshal(p.Topics)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO key_persons (handle, appearances, topics)
		VALUES (?, ?, ?)
		ON CONFLICT(handle) DO UPDATE SET
			appearances = excluded.appearances,
			topics = excluded.topics
	`, authority.Normalize(p.Handle), p.Appearances, string(topicsJSON))
	if err != nil {
		return fmt.Errorf("upsert key person %s: %w", p.Handle, err)
	}
	return nil
}

// OperationLock returns the lock expiry the provider client recorded for
// op, or the zero time when no lock exists.
func (s *SQLiteStore) OperationLock(ctx context.Context, op string) (time.Time, error) {
	var raw string
	err := s.db.GetContext(ctx, &raw,
		"SELECT locked_until FROM provider_locks WHERE op = ?", op)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("read provider lock %s: %w", op, err)
	}

	expiry, err := time.ParseInLocation(lockTimeLayout, raw, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse provider lock %s: %w", op, err)
	}
	return expiry, nil
}

// SetOperationLock records a lock expiry. The measurement core never
// calls this; it exists for the provider client's bookkeeping and tests.
func (s *SQLiteStore) SetOperationLock(ctx context.Context, op string, until time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO provider_locks (op, locked_until) VALUES (?, ?)
		ON CONFLICT(op) DO UPDATE SET locked_until = excluded.locked_until
	`, op, until.UTC().Format(lockTimeLayout))
	if err != nil {
		return fmt.Errorf("set provider lock %s: %w", op, err)
	}
	return nil
}

// SaveReport persists one row per batch item for later audit.
func (s *SQLiteStore) SaveReport(ctx context.Context, report *saturation.Report) error {
	for _, res := range report.Results {
		sigJSON, _ := json.Marshal(res.Signature)
		mJSON, _ := json.Marshal(res.Measurement)
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO measurements (run_id, item_id, prior_level, match_status, error, signature, measurement, measured_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(run_id, item_id) DO UPDATE SET
				match_status = excluded.match_status,
				error = excluded.error,
				signature = excluded.signature,
				measurement = excluded.measurement
		`, report.RunID, res.ID, res.PriorLevel, res.MatchStatus, res.Err,
			string(sigJSON), string(mJSON), report.MeasuredAt)
		if err != nil {
			return fmt.Errorf("save measurement %s/%s: %w", report.RunID, res.ID, err)
		}
	}
	return nil
}

func (s *SQLiteStore) ListMeasurements(ctx context.Context, opts MeasurementListOpts) ([]MeasurementRecord, error) {
	query := "SELECT * FROM measurements WHERE 1=1"
	var args []any

	if opts.RunID != "" {
		query += " AND run_id = ?"
		args = append(args, opts.RunID)
	}
	if opts.DiffOnly {
		query += " AND match_status = 'DIFF'"
	}

	query += " ORDER BY measured_at DESC"

	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	query += " LIMIT ?"
	args = append(args, limit)

	var recs []MeasurementRecord
	if err := s.db.SelectContext(ctx, &recs, query, args...); err != nil {
		return nil, fmt.Errorf("list measurements: %w", err)
	}

	for i := range recs {
		if recs[i].SignatureJSON != "" && recs[i].SignatureJSON != "null" {
			json.Unmarshal([]byte(recs[i].SignatureJSON), &recs[i].Signature)
		}
		if recs[i].MeasurementJSON != "" && recs[i].MeasurementJSON != "null" {
			json.Unmarshal([]byte(recs[i].MeasurementJSON), &recs[i].Measurement)
		}
	}
	return recs, nil
}
