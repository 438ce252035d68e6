package callstore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	"phonescreen-console/internal/calls"
	"phonescreen-console/pkg/utils"

	"github.com/jmoiron/sqlx"
)

//go:embed migrations
var migrationsFS embed.FS

// Dialect selects the schema and locking flavour of SQLStore.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

const callColumns = `id, vapi_call_id, phone_number, recipient_name, status, started_at,
	ended_at, duration, duration_source, transcript, summary, cost, updated_at`

// SQLStore persists calls in a single table. The db handle must be opened
// with the driver matching dialect ("pgx" for postgres, "sqlite" for sqlite).
type SQLStore struct {
	db      *sqlx.DB
	dialect Dialect
	clock   func() time.Time
}

func NewSQLStore(db *sqlx.DB, dialect Dialect) *SQLStore {
	return &SQLStore{db: db, dialect: dialect, clock: time.Now}
}

// Migrate applies the embedded schema for the store's dialect. Every
// statement is idempotent so it is safe to run on each boot.
func (s *SQLStore) Migrate(ctx context.Context) error {
	dir := "migrations/" + string(s.dialect)
	entries, err := fs.ReadDir(migrationsFS, dir)
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		content, err := fs.ReadFile(migrationsFS, dir+"/"+name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		// One statement per Exec; not every driver accepts batches.
		for _, stmt := range strings.Split(string(content), ";") {
			if strings.TrimSpace(stmt) == "" {
				continue
			}
			if _, err := s.db.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("apply migration %s: %w", name, err)
			}
		}
	}
	return nil
}

func (s *SQLStore) GetAll(ctx context.Context) ([]calls.Call, error) {
	var rows []callRow
	q := `SELECT ` + callColumns + ` FROM calls ORDER BY seq`
	if err := s.db.SelectContext(ctx, &rows, q); err != nil {
		return nil, fmt.Errorf("select calls: %w", err)
	}
	out := make([]calls.Call, 0, len(rows))
	for _, r := range rows {
		c, err := r.toCall()
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func (s *SQLStore) FindByID(ctx context.Context, id string) (calls.Call, error) {
	r, err := s.selectOne(ctx, s.db, id, false)
	if err != nil {
		return calls.Call{}, err
	}
	return r.toCall()
}

func (s *SQLStore) UpsertMerge(ctx context.Context, id string, p calls.Patch) (calls.Call, error) {
	var merged calls.Call
	err := utils.WithTx(ctx, s.db, func(ctx context.Context, tx *sqlx.Tx) error {
		r, err := s.selectOne(ctx, tx, id, true)
		if err != nil {
			return err
		}
		current, err := r.toCall()
		if err != nil {
			return err
		}
		merged = current.Apply(p)
		merged.UpdatedAt = s.clock().UTC()

		nr := rowFromCall(merged)
		q := tx.Rebind(`UPDATE calls SET vapi_call_id = ?, status = ?, ended_at = ?, duration = ?,
			duration_source = ?, transcript = ?, summary = ?, cost = ?, updated_at = ? WHERE id = ?`)
		_, err = tx.ExecContext(ctx, q, nr.VapiCallID, nr.Status, nr.EndedAt, nr.Duration,
			nr.DurationSource, nr.Transcript, nr.Summary, nr.Cost, nr.UpdatedAt, nr.ID)
		if err != nil {
			return fmt.Errorf("update call: %w", err)
		}
		return nil
	})
	if err != nil {
		return calls.Call{}, err
	}
	return merged, nil
}

func (s *SQLStore) Replace(ctx context.Context, c calls.Call) error {
	if c.ID == "" {
		return fmt.Errorf("%w: call id required", calls.ErrValidation)
	}
	c.UpdatedAt = s.clock().UTC()
	r := rowFromCall(c)

	q := s.db.Rebind(`INSERT INTO calls (` + callColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			vapi_call_id = excluded.vapi_call_id,
			phone_number = excluded.phone_number,
			recipient_name = excluded.recipient_name,
			status = excluded.status,
			started_at = excluded.started_at,
			ended_at = excluded.ended_at,
			duration = excluded.duration,
			duration_source = excluded.duration_source,
			transcript = excluded.transcript,
			summary = excluded.summary,
			cost = excluded.cost,
			updated_at = excluded.updated_at`)
	_, err := s.db.ExecContext(ctx, q, r.ID, r.VapiCallID, r.PhoneNumber, r.RecipientName, r.Status,
		r.StartedAt, r.EndedAt, r.Duration, r.DurationSource, r.Transcript, r.Summary, r.Cost, r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert call: %w", err)
	}
	return nil
}

func (s *SQLStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM calls`); err != nil {
		return fmt.Errorf("clear calls: %w", err)
	}
	return nil
}

// selectOne resolves id against the local id first, then the provider id.
func (s *SQLStore) selectOne(ctx context.Context, q sqlx.QueryerContext, id string, forUpdate bool) (callRow, error) {
	if id == "" {
		return callRow{}, fmt.Errorf("%w: empty id", calls.ErrNotFound)
	}
	query := `SELECT ` + callColumns + ` FROM calls
		WHERE id = ? OR (vapi_call_id <> '' AND vapi_call_id = ?)
		ORDER BY CASE WHEN id = ? THEN 0 ELSE 1 END, seq
		LIMIT 1`
	if forUpdate && s.dialect == DialectPostgres {
		query += ` FOR UPDATE`
	}

	var r callRow
	err := sqlx.GetContext(ctx, q, &r, sqlx.Rebind(bindType(s.dialect), query), id, id, id)
	if errors.Is(err, sql.ErrNoRows) {
		return callRow{}, fmt.Errorf("%w: %s", calls.ErrNotFound, id)
	}
	if err != nil {
		return callRow{}, fmt.Errorf("select call: %w", err)
	}
	return r, nil
}

func bindType(d Dialect) int {
	if d == DialectPostgres {
		return sqlx.DOLLAR
	}
	return sqlx.QUESTION
}

// callRow is the table shape. Timestamps are stored as RFC3339 text so both
// dialects share one encoding.
type callRow struct {
	ID             string          `db:"id"`
	VapiCallID     string          `db:"vapi_call_id"`
	PhoneNumber    string          `db:"phone_number"`
	RecipientName  string          `db:"recipient_name"`
	Status         string          `db:"status"`
	StartedAt      string          `db:"started_at"`
	EndedAt        sql.NullString  `db:"ended_at"`
	Duration       int             `db:"duration"`
	DurationSource string          `db:"duration_source"`
	Transcript     sql.NullString  `db:"transcript"`
	Summary        sql.NullString  `db:"summary"`
	Cost           sql.NullFloat64 `db:"cost"`
	UpdatedAt      string          `db:"updated_at"`
}

func rowFromCall(c calls.Call) callRow {
	r := callRow{
		ID:             c.ID,
		VapiCallID:     c.VapiCallID,
		PhoneNumber:    c.PhoneNumber,
		RecipientName:  c.RecipientName,
		Status:         string(c.Status),
		StartedAt:      formatTime(c.StartedAt),
		Duration:       c.Duration,
		DurationSource: string(c.DurationSource),
		UpdatedAt:      formatTime(c.UpdatedAt),
	}
	if c.EndedAt != nil {
		r.EndedAt = sql.NullString{String: formatTime(*c.EndedAt), Valid: true}
	}
	if c.Transcript != nil {
		r.Transcript = sql.NullString{String: *c.Transcript, Valid: true}
	}
	if c.Summary != nil {
		r.Summary = sql.NullString{String: *c.Summary, Valid: true}
	}
	if c.Cost != nil {
		r.Cost = sql.NullFloat64{Float64: *c.Cost, Valid: true}
	}
	return r
}

func (r callRow) toCall() (calls.Call, error) {
	c := calls.Call{
		ID:             r.ID,
		VapiCallID:     r.VapiCallID,
		PhoneNumber:    r.PhoneNumber,
		RecipientName:  r.RecipientName,
		Status:         calls.CallStatus(r.Status),
		Duration:       r.Duration,
		DurationSource: calls.DurationSource(r.DurationSource),
	}
	var err error
	if c.StartedAt, err = parseTime(r.StartedAt); err != nil {
		return calls.Call{}, fmt.Errorf("call %s started_at: %w", r.ID, err)
	}
	if c.UpdatedAt, err = parseTime(r.UpdatedAt); err != nil {
		return calls.Call{}, fmt.Errorf("call %s updated_at: %w", r.ID, err)
	}
	if r.EndedAt.Valid {
		t, err := parseTime(r.EndedAt.String)
		if err != nil {
			return calls.Call{}, fmt.Errorf("call %s ended_at: %w", r.ID, err)
		}
		c.EndedAt = &t
	}
	if r.Transcript.Valid {
		c.Transcript = calls.Ptr(r.Transcript.String)
	}
	if r.Summary.Valid {
		c.Summary = calls.Ptr(r.Summary.String)
	}
	if r.Cost.Valid {
		c.Cost = calls.Ptr(r.Cost.Float64)
	}
	return c, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}
