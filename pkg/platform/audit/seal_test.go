package audit

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sealedChain(s *Sealer, n int) []Entry {
	base := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	out := make([]Entry, n)
	for i := range out {
		out[i] = Entry{
			ID:        string(rune('a' + i)),
			UserID:    "doc-1",
			Action:    "REPORTS_ACCESSED",
			Resource:  "reports",
			RiskLevel: RiskLow,
			CreatedAt: base.Add(time.Duration(i) * time.Microsecond),
		}
		s.Seal(&out[i])
	}
	return out
}

func verify(s *Sealer, entries []Entry) Verification {
	v := s.NewVerifier()
	for _, e := range entries {
		v.Check(e)
	}
	return v.Result()
}

func TestSealer_ChainLinksEntries(t *testing.T) {
	s := NewSealer([]byte("k"))
	chain := sealedChain(s, 3)

	assert.Empty(t, chain[0].PrevHash)
	assert.Equal(t, chain[0].Hash, chain[1].PrevHash)
	assert.Equal(t, chain[1].Hash, chain[2].PrevHash)
	assert.Len(t, chain[2].Hash, 64)

	res := verify(s, chain)
	assert.True(t, res.Valid)
	assert.Equal(t, 3, res.Checked)
}

func TestSealer_DetectsTampering(t *testing.T) {
	tests := []struct {
		name   string
		mutate func([]Entry) []Entry
		broken string
	}{
		{"edited field", func(c []Entry) []Entry { c[1].Description = "changed"; return c }, "b"},
		{"deleted entry", func(c []Entry) []Entry { return append(c[:1], c[2:]...) }, "c"},
		{"reordered", func(c []Entry) []Entry { c[1], c[2] = c[2], c[1]; return c }, "c"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSealer([]byte("k"))
			res := verify(s, tt.mutate(sealedChain(s, 4)))
			assert.False(t, res.Valid)
			assert.Equal(t, tt.broken, res.BrokenAt)
		})
	}
}

func TestSealer_ReviewFieldsAreOutsideTheSeal(t *testing.T) {
	s := NewSealer(nil)
	chain := sealedChain(s, 2)
	now := time.Now()
	chain[0].ReviewedBy = "officer-1"
	chain[0].ReviewedAt = &now
	chain[0].ReviewRequired = false

	assert.True(t, verify(s, chain).Valid)
}

func TestSealer_KeyMatters(t *testing.T) {
	chain := sealedChain(NewSealer([]byte("k1")), 2)
	assert.False(t, verify(NewSealer([]byte("k2")), chain).Valid)
}

func TestSealer_LongKeyIsReduced(t *testing.T) {
	s := NewSealer([]byte(strings.Repeat("x", 100)))
	require.NotPanics(t, func() { sealedChain(s, 1) })
}

func TestSealer_ResumeContinuesChain(t *testing.T) {
	s := NewSealer([]byte("k"))
	first := sealedChain(s, 1)

	restarted := NewSealer([]byte("k"))
	restarted.Resume(first[0].Hash)
	next := Entry{ID: "z", Action: "X", CreatedAt: first[0].CreatedAt.Add(time.Second)}
	restarted.Seal(&next)

	assert.True(t, verify(restarted, []Entry{first[0], next}).Valid)
}

func TestDescribeClient(t *testing.T) {
	assert.Empty(t, DescribeClient(""))
	assert.NotEmpty(t, DescribeClient("internal-probe"))

	desc := DescribeClient("Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1")
	assert.Contains(t, desc, "Safari")
	assert.Contains(t, desc, "(mobile)")
}

func TestAccessedAction(t *testing.T) {
	assert.Equal(t, "REPORTS_ACCESSED", AccessedAction("reports"))
	assert.Equal(t, "LOCAL_AI_ACCESSED", AccessedAction("local-ai"))
}

func TestFilter_HalfOpenRange(t *testing.T) {
	at := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	e := Entry{CreatedAt: at}
	assert.True(t, Filter{From: at}.Matches(e))
	assert.False(t, Filter{To: at}.Matches(e))
}

func TestSealer_LinkWithoutCommitLeavesHead(t *testing.T) {
	s := NewSealer([]byte("k"))
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	first := Entry{ID: "a", Action: "X", CreatedAt: base}
	s.Seal(&first)

	lost := Entry{ID: "b", Action: "X", CreatedAt: base.Add(time.Second)}
	s.Link(&lost)
	assert.Equal(t, first.Hash, lost.PrevHash)

	next := Entry{ID: "c", Action: "X", CreatedAt: base.Add(2 * time.Second)}
	s.Link(&next)
	assert.True(t, s.Commit(next))
	assert.False(t, s.Commit(lost), "a stale link cannot move the head")

	assert.True(t, verify(s, []Entry{first, next}).Valid)
}
