package memory

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	audit "medgate/pkg/platform/audit"
	"medgate/pkg/platform/sentinel"
)

// InMemoryStore keeps entries in insertion order. Appending an existing ID is a
// no-op.
type InMemoryStore struct {
	mu      sync.RWMutex
	entries []audit.Entry
	byID    map[string]int
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{byID: make(map[string]int)}
}

func (s *InMemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = nil
	s.byID = make(map[string]int)
}

func (s *InMemoryStore) Append(_ context.Context, entry audit.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byID[entry.ID]; exists {
		return nil
	}
	s.byID[entry.ID] = len(s.entries)
	s.entries = append(s.entries, entry)
	return nil
}

func (s *InMemoryStore) Query(_ context.Context, filter audit.Filter, page audit.Page) (audit.Result, error) {
	page = page.Normalize()
	matched := s.matching(filter)
	slices.SortFunc(matched, newestFirst)

	result := audit.Result{
		Entries:  []audit.Entry{},
		Total:    len(matched),
		Page:     page.Number,
		PageSize: page.Size,
	}
	start := page.Offset()
	if start >= len(matched) {
		return result, nil
	}
	end := min(start+page.Size, len(matched))
	result.Entries = matched[start:end]
	return result, nil
}

func (s *InMemoryStore) Summarize(_ context.Context, filter audit.Filter) (audit.Summary, error) {
	summary := audit.NewSummary()
	for _, e := range s.matching(filter) {
		summary.Add(e.RiskLevel, e.Action, e.Flagged, e.ReviewRequired, 1)
	}
	return summary, nil
}

func (s *InMemoryStore) Get(_ context.Context, id string) (audit.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx, ok := s.byID[id]
	if !ok {
		return audit.Entry{}, fmt.Errorf("audit entry %s: %w", id, sentinel.ErrNotFound)
	}
	return s.entries[idx], nil
}

// MarkReviewed clears reviewRequired and records the reviewer. Entries that
// were already reviewed return sentinel.ErrConflict.
func (s *InMemoryStore) MarkReviewed(_ context.Context, id, reviewer string, at time.Time) (audit.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.byID[id]
	if !ok {
		return audit.Entry{}, fmt.Errorf("audit entry %s: %w", id, sentinel.ErrNotFound)
	}
	e := &s.entries[idx]
	if e.ReviewedAt != nil {
		return audit.Entry{}, fmt.Errorf("audit entry %s already reviewed: %w", id, sentinel.ErrConflict)
	}
	reviewedAt := at.UTC()
	e.ReviewedBy = reviewer
	e.ReviewedAt = &reviewedAt
	e.ReviewRequired = false
	return *e, nil
}

func (s *InMemoryStore) PurgeOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.entries[:0]
	var removed int64
	for _, e := range s.entries {
		if e.CreatedAt.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	s.entries = kept
	s.byID = make(map[string]int, len(kept))
	for i, e := range kept {
		s.byID[e.ID] = i
	}
	return removed, nil
}

// Scan calls fn for each matching entry, oldest first, stopping at the first
// error.
func (s *InMemoryStore) Scan(ctx context.Context, filter audit.Filter, fn func(audit.Entry) error) error {
	matched := s.matching(filter)
	slices.SortFunc(matched, func(a, b audit.Entry) int { return newestFirst(b, a) })
	for _, e := range matched {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	return nil
}

// matching returns copies of the entries accepted by filter.
func (s *InMemoryStore) matching(filter audit.Filter) []audit.Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]audit.Entry, 0, len(s.entries))
	for _, e := range s.entries {
		if filter.Matches(e) {
			out = append(out, e)
		}
	}
	return out
}

func newestFirst(a, b audit.Entry) int {
	if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
		return c
	}
	return strings.Compare(b.ID, a.ID)
}
