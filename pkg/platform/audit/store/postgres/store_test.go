package postgres

import (
	"context"
	"database/sql/driver"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	audit "medgate/pkg/platform/audit"
	"medgate/pkg/platform/sentinel"
)

const entryID = "0b7c3a5e-9a43-4d39-8f55-2d9b0c8f4f11"

var (
	created    = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	columnList = []string{
		"id", "user_id", "action", "resource", "resource_id", "description", "method", "endpoint",
		"response_status", "duration_ms", "risk_level", "flagged", "review_required", "reviewed_by", "reviewed_at",
		"request_id", "ip_address", "user_agent", "client", "prev_hash", "hash", "created_at",
	}
)

func entryRow(id string) []driver.Value {
	return []driver.Value{
		id, "doc-1", "REPORTS_ACCESSED", "reports", nil, "GET /reports/1", "GET", "/reports/1",
		int64(200), int64(42), "HIGH", true, true, nil, nil,
		"req-1", "10.0.0.1", "curl/8.0", "curl/8.0", "", "abc", created,
	}
}

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return New(db), mock
}

func TestAppend(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO audit_entries")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.Append(context.Background(), audit.Entry{
		ID: entryID, Action: "REPORTS_ACCESSED", Resource: "reports", RiskLevel: audit.RiskLow, CreatedAt: created,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAppend_WrapsDriverError(t *testing.T) {
	store, mock := newMock(t)
	boom := errors.New("connection reset")
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO audit_entries")).WillReturnError(boom)

	err := store.Append(context.Background(), audit.Entry{ID: entryID})
	assert.ErrorIs(t, err, boom)
}

func TestQuery_BuildsFilterAndPaginates(t *testing.T) {
	store, mock := newMock(t)
	from := created.Add(-time.Hour)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM audit_entries WHERE user_id = $1 AND risk_level = ANY($2) AND created_at >= $3")).
		WithArgs("doc-1", sqlmock.AnyArg(), from).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))
	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY created_at DESC, id DESC LIMIT $4 OFFSET $5")).
		WithArgs("doc-1", sqlmock.AnyArg(), from, 5, 5).
		WillReturnRows(sqlmock.NewRows(columnList).AddRow(entryRow(entryID)...))

	res, err := store.Query(context.Background(), audit.Filter{
		UserID:     "doc-1",
		RiskLevels: []audit.RiskLevel{audit.RiskHigh, audit.RiskCritical},
		From:       from,
	}, audit.Page{Number: 2, Size: 5})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	assert.Equal(t, 7, res.Total)
	assert.Equal(t, 2, res.Page)
	require.Len(t, res.Entries, 1)
	e := res.Entries[0]
	assert.Equal(t, entryID, e.ID)
	assert.Equal(t, audit.RiskHigh, e.RiskLevel)
	assert.Equal(t, 200, e.ResponseStatus)
	assert.Equal(t, int64(42), e.DurationMS)
	assert.Empty(t, e.ResourceID)
	assert.Nil(t, e.ReviewedAt)
	assert.Equal(t, created, e.CreatedAt)
}

func TestSummarize(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectQuery(regexp.QuoteMeta("GROUP BY risk_level, action, flagged, review_required")).
		WillReturnRows(sqlmock.NewRows([]string{"risk_level", "action", "flagged", "review_required", "count"}).
			AddRow("LOW", "REPORTS_ACCESSED", false, false, 10).
			AddRow("HIGH", "REPORTS_ACCESSED", true, true, 3).
			AddRow("CRITICAL", "UNAUTHORIZED_ACCESS", true, false, 2))

	sum, err := store.Summarize(context.Background(), audit.Filter{})
	require.NoError(t, err)
	assert.Equal(t, 15, sum.Total)
	assert.Equal(t, 13, sum.ByAction["REPORTS_ACCESSED"])
	assert.Equal(t, 5, sum.Flagged)
	assert.Equal(t, 3, sum.PendingReview)
}

func TestGet_InvalidIDIsNotFound(t *testing.T) {
	store, mock := newMock(t)

	_, err := store.Get(context.Background(), "not-a-uuid")
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkReviewed_AlreadyReviewedIsConflict(t *testing.T) {
	store, mock := newMock(t)
	at := created.Add(time.Hour)

	mock.ExpectQuery(regexp.QuoteMeta("UPDATE audit_entries")).
		WithArgs(entryID, "officer-1", at).
		WillReturnRows(sqlmock.NewRows(columnList))
	mock.ExpectQuery(regexp.QuoteMeta("WHERE id = $1")).
		WithArgs(entryID).
		WillReturnRows(sqlmock.NewRows(columnList).AddRow(entryRow(entryID)...))

	_, err := store.MarkReviewed(context.Background(), entryID, "officer-1", at)
	assert.ErrorIs(t, err, sentinel.ErrConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkReviewed_MissingIsNotFound(t *testing.T) {
	store, mock := newMock(t)
	at := created.Add(time.Hour)

	mock.ExpectQuery(regexp.QuoteMeta("UPDATE audit_entries")).
		WillReturnRows(sqlmock.NewRows(columnList))
	mock.ExpectQuery(regexp.QuoteMeta("WHERE id = $1")).
		WillReturnRows(sqlmock.NewRows(columnList))

	_, err := store.MarkReviewed(context.Background(), entryID, "officer-1", at)
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}

func TestPurgeOlderThan(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM audit_entries WHERE created_at < $1")).
		WithArgs(created).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := store.PurgeOlderThan(context.Background(), created)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}
