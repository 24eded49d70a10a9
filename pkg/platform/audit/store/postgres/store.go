package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	audit "medgate/pkg/platform/audit"
	"medgate/pkg/platform/sentinel"
)

//go:embed schema.sql
var schema string

const columns = `id, user_id, action, resource, resource_id, description, method, endpoint,
	response_status, duration_ms, risk_level, flagged, review_required, reviewed_by, reviewed_at,
	request_id, ip_address, user_agent, client, prev_hash, hash, created_at`

// Store implements audit.Store on PostgreSQL.
type Store struct {
	db *sql.DB
}

// New creates a PostgreSQL audit store.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// EnsureSchema creates the audit table and indexes if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create audit schema: %w", err)
	}
	return nil
}

// Append inserts an entry. Re-inserting an existing ID is a no-op.
func (s *Store) Append(ctx context.Context, e audit.Entry) error {
	query := `INSERT INTO audit_entries (` + columns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)
		ON CONFLICT (id) DO NOTHING`
	_, err := s.db.ExecContext(ctx, query,
		e.ID,
		nullString(e.UserID),
		e.Action,
		e.Resource,
		nullString(e.ResourceID),
		e.Description,
		e.Method,
		e.Endpoint,
		nullInt(int64(e.ResponseStatus)),
		nullInt(e.DurationMS),
		string(e.RiskLevel),
		e.Flagged,
		e.ReviewRequired,
		nullString(e.ReviewedBy),
		nullTime(e.ReviewedAt),
		e.RequestID,
		e.IPAddress,
		e.UserAgent,
		e.Client,
		e.PrevHash,
		e.Hash,
		e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

func (s *Store) Query(ctx context.Context, filter audit.Filter, page audit.Page) (audit.Result, error) {
	page = page.Normalize()
	where, args := buildWhere(filter)

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_entries`+where, args...).Scan(&total); err != nil {
		return audit.Result{}, fmt.Errorf("count audit entries: %w", err)
	}

	query := fmt.Sprintf(`SELECT %s FROM audit_entries%s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`,
		columns, where, len(args)+1, len(args)+2)
	rows, err := s.db.QueryContext(ctx, query, append(args, page.Size, page.Offset())...)
	if err != nil {
		return audit.Result{}, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()

	entries := []audit.Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return audit.Result{}, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return audit.Result{}, fmt.Errorf("iterate audit entries: %w", err)
	}
	return audit.Result{Entries: entries, Total: total, Page: page.Number, PageSize: page.Size}, nil
}

func (s *Store) Summarize(ctx context.Context, filter audit.Filter) (audit.Summary, error) {
	where, args := buildWhere(filter)
	query := `SELECT risk_level, action, flagged, review_required, COUNT(*) FROM audit_entries` + where +
		` GROUP BY risk_level, action, flagged, review_required`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return audit.Summary{}, fmt.Errorf("summarize audit entries: %w", err)
	}
	defer rows.Close()

	summary := audit.NewSummary()
	for rows.Next() {
		var (
			risk, action            string
			flagged, reviewRequired bool
			count                   int
		)
		if err := rows.Scan(&risk, &action, &flagged, &reviewRequired, &count); err != nil {
			return audit.Summary{}, fmt.Errorf("scan audit summary: %w", err)
		}
		summary.Add(audit.RiskLevel(risk), action, flagged, reviewRequired, count)
	}
	if err := rows.Err(); err != nil {
		return audit.Summary{}, fmt.Errorf("iterate audit summary: %w", err)
	}
	return summary, nil
}

func (s *Store) Get(ctx context.Context, id string) (audit.Entry, error) {
	if _, err := uuid.Parse(id); err != nil {
		return audit.Entry{}, fmt.Errorf("audit entry %s: %w", id, sentinel.ErrNotFound)
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+columns+` FROM audit_entries WHERE id = $1`, id)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return audit.Entry{}, fmt.Errorf("audit entry %s: %w", id, sentinel.ErrNotFound)
	}
	return e, err
}

// MarkReviewed records the reviewer once. A second review returns
// sentinel.ErrConflict.
func (s *Store) MarkReviewed(ctx context.Context, id, reviewer string, at time.Time) (audit.Entry, error) {
	if _, err := uuid.Parse(id); err != nil {
		return audit.Entry{}, fmt.Errorf("audit entry %s: %w", id, sentinel.ErrNotFound)
	}
	row := s.db.QueryRowContext(ctx, `UPDATE audit_entries
		SET reviewed_by = $2, reviewed_at = $3, review_required = FALSE
		WHERE id = $1 AND reviewed_at IS NULL
		RETURNING `+columns, id, reviewer, at.UTC())
	e, err := scanEntry(row)
	if err == nil {
		return e, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return audit.Entry{}, err
	}
	if _, getErr := s.Get(ctx, id); getErr != nil {
		return audit.Entry{}, getErr
	}
	return audit.Entry{}, fmt.Errorf("audit entry %s already reviewed: %w", id, sentinel.ErrConflict)
}

func (s *Store) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM audit_entries WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge audit entries: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge audit entries: %w", err)
	}
	return n, nil
}

// Scan streams matching entries oldest first.
func (s *Store) Scan(ctx context.Context, filter audit.Filter, fn func(audit.Entry) error) error {
	where, args := buildWhere(filter)
	rows, err := s.db.QueryContext(ctx, `SELECT `+columns+` FROM audit_entries`+where+` ORDER BY created_at ASC, id ASC`, args...)
	if err != nil {
		return fmt.Errorf("scan audit entries: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return err
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate audit entries: %w", err)
	}
	return nil
}

func buildWhere(f audit.Filter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.UserID != "" {
		add("user_id = $%d", f.UserID)
	}
	if f.Action != "" {
		add("action = $%d", f.Action)
	}
	if f.Resource != "" {
		add("resource = $%d", f.Resource)
	}
	if len(f.RiskLevels) > 0 {
		levels := make([]string, len(f.RiskLevels))
		for i, l := range f.RiskLevels {
			levels[i] = string(l)
		}
		add("risk_level = ANY($%d)", pq.Array(levels))
	}
	if f.Flagged != nil {
		add("flagged = $%d", *f.Flagged)
	}
	if !f.From.IsZero() {
		add("created_at >= $%d", f.From)
	}
	if !f.To.IsZero() {
		add("created_at < $%d", f.To)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (audit.Entry, error) {
	var (
		e                            audit.Entry
		userID, resourceID, reviewer sql.NullString
		status, duration             sql.NullInt64
		reviewedAt                   sql.NullTime
		risk                         string
	)
	err := row.Scan(
		&e.ID, &userID, &e.Action, &e.Resource, &resourceID, &e.Description, &e.Method, &e.Endpoint,
		&status, &duration, &risk, &e.Flagged, &e.ReviewRequired, &reviewer, &reviewedAt,
		&e.RequestID, &e.IPAddress, &e.UserAgent, &e.Client, &e.PrevHash, &e.Hash, &e.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return audit.Entry{}, err
	}
	if err != nil {
		return audit.Entry{}, fmt.Errorf("scan audit entry: %w", err)
	}
	e.UserID = userID.String
	e.ResourceID = resourceID.String
	e.ReviewedBy = reviewer.String
	e.ResponseStatus = int(status.Int64)
	e.DurationMS = duration.Int64
	e.RiskLevel = audit.RiskLevel(risk)
	e.CreatedAt = e.CreatedAt.UTC()
	if reviewedAt.Valid {
		t := reviewedAt.Time.UTC()
		e.ReviewedAt = &t
	}
	return e, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(n int64) sql.NullInt64 {
	return sql.NullInt64{Int64: n, Valid: n != 0}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
