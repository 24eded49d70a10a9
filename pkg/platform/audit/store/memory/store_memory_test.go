package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	audit "medgate/pkg/platform/audit"
	"medgate/pkg/platform/sentinel"
)

var base = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

func seed(t *testing.T, s *InMemoryStore) {
	t.Helper()
	entries := []audit.Entry{
		{ID: "a", UserID: "doc-1", Action: "REPORTS_ACCESSED", Resource: "reports", RiskLevel: audit.RiskHigh, Flagged: true, ReviewRequired: true, CreatedAt: base},
		{ID: "b", UserID: "doc-2", Action: "REPORTS_ACCESSED", Resource: "reports", RiskLevel: audit.RiskLow, CreatedAt: base.Add(time.Minute)},
		{ID: "c", UserID: "doc-1", Action: audit.ActionUnauthorizedAccess, Resource: "audit", RiskLevel: audit.RiskCritical, Flagged: true, ReviewRequired: true, CreatedAt: base.Add(2 * time.Minute)},
		{ID: "d", UserID: "doc-1", Action: "SUMMARIES_ACCESSED", Resource: "summaries", RiskLevel: audit.RiskMedium, CreatedAt: base.Add(3 * time.Minute)},
	}
	for _, e := range entries {
		require.NoError(t, s.Append(context.Background(), e))
	}
}

func ids(entries []audit.Entry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.ID)
	}
	return out
}

func TestQuery_NewestFirstWithPagination(t *testing.T) {
	s := NewInMemoryStore()
	seed(t, s)

	first, err := s.Query(context.Background(), audit.Filter{}, audit.Page{Number: 1, Size: 3})
	require.NoError(t, err)
	assert.Equal(t, []string{"d", "c", "b"}, ids(first.Entries))
	assert.Equal(t, 4, first.Total)

	second, err := s.Query(context.Background(), audit.Filter{}, audit.Page{Number: 2, Size: 3})
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, ids(second.Entries))

	beyond, err := s.Query(context.Background(), audit.Filter{}, audit.Page{Number: 5, Size: 3})
	require.NoError(t, err)
	assert.Empty(t, beyond.Entries)
	assert.NotNil(t, beyond.Entries)
}

func TestQuery_Filters(t *testing.T) {
	s := NewInMemoryStore()
	seed(t, s)
	flagged := true

	tests := []struct {
		name   string
		filter audit.Filter
		want   []string
	}{
		{"by user", audit.Filter{UserID: "doc-1"}, []string{"d", "c", "a"}},
		{"by action", audit.Filter{Action: "REPORTS_ACCESSED"}, []string{"b", "a"}},
		{"by risk levels", audit.Filter{RiskLevels: []audit.RiskLevel{audit.RiskHigh, audit.RiskCritical}}, []string{"c", "a"}},
		{"flagged", audit.Filter{Flagged: &flagged}, []string{"c", "a"}},
		{"half-open range", audit.Filter{From: base.Add(time.Minute), To: base.Add(3 * time.Minute)}, []string{"c", "b"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := s.Query(context.Background(), tt.filter, audit.Page{})
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids(res.Entries))
		})
	}
}

func TestAppend_DuplicateIDIsIgnored(t *testing.T) {
	s := NewInMemoryStore()
	e := audit.Entry{ID: "dup", Action: "X", CreatedAt: base}
	require.NoError(t, s.Append(context.Background(), e))
	e.Action = "Y"
	require.NoError(t, s.Append(context.Background(), e))

	got, err := s.Get(context.Background(), "dup")
	require.NoError(t, err)
	assert.Equal(t, "X", got.Action)
}

func TestSummarize(t *testing.T) {
	s := NewInMemoryStore()
	seed(t, s)

	sum, err := s.Summarize(context.Background(), audit.Filter{UserID: "doc-1"})
	require.NoError(t, err)
	assert.Equal(t, 3, sum.Total)
	assert.Equal(t, 2, sum.Flagged)
	assert.Equal(t, 2, sum.PendingReview)
	assert.Equal(t, 1, sum.ByRiskLevel[audit.RiskCritical])
	assert.Equal(t, 1, sum.ByAction["SUMMARIES_ACCESSED"])
}

func TestMarkReviewed(t *testing.T) {
	s := NewInMemoryStore()
	seed(t, s)
	at := base.Add(time.Hour)

	got, err := s.MarkReviewed(context.Background(), "a", "officer-1", at)
	require.NoError(t, err)
	assert.False(t, got.ReviewRequired)
	assert.True(t, got.Flagged, "review does not clear the flag")
	assert.Equal(t, "officer-1", got.ReviewedBy)
	require.NotNil(t, got.ReviewedAt)
	assert.Equal(t, at, *got.ReviewedAt)

	_, err = s.MarkReviewed(context.Background(), "a", "officer-2", at)
	assert.True(t, errors.Is(err, sentinel.ErrConflict))

	_, err = s.MarkReviewed(context.Background(), "missing", "officer-1", at)
	assert.True(t, errors.Is(err, sentinel.ErrNotFound))
}

func TestPurgeOlderThan(t *testing.T) {
	s := NewInMemoryStore()
	seed(t, s)

	n, err := s.PurgeOlderThan(context.Background(), base.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	_, err = s.Get(context.Background(), "a")
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
	got, err := s.Get(context.Background(), "d")
	require.NoError(t, err)
	assert.Equal(t, "d", got.ID)
}

func TestScan_OldestFirstAndStopsOnError(t *testing.T) {
	s := NewInMemoryStore()
	seed(t, s)

	var seen []string
	require.NoError(t, s.Scan(context.Background(), audit.Filter{}, func(e audit.Entry) error {
		seen = append(seen, e.ID)
		return nil
	}))
	assert.Equal(t, []string{"a", "b", "c", "d"}, seen)

	stop := errors.New("stop")
	calls := 0
	err := s.Scan(context.Background(), audit.Filter{}, func(audit.Entry) error {
		calls++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)
}
