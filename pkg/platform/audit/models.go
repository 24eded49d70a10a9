// Package audit defines the access-trail record and the contracts its stores,
// sinks and recorders implement.
package audit

import (
	"context"
	"slices"
	"strings"
	"time"
)

// RiskLevel grades how sensitive an access was.
type RiskLevel string

const (
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

// ParseRiskLevel accepts any casing of a known level.
func ParseRiskLevel(s string) (RiskLevel, bool) {
	lvl := RiskLevel(strings.ToUpper(strings.TrimSpace(s)))
	switch lvl {
	case RiskLow, RiskMedium, RiskHigh, RiskCritical:
		return lvl, true
	}
	return "", false
}

// RequiresReview reports whether entries at this level are flagged for review.
func (r RiskLevel) RequiresReview() bool {
	return r == RiskHigh || r == RiskCritical
}

// Actions recorded by the gateway itself. Proxied targets use AccessedAction.
const (
	ActionUnauthorizedAccess   = "UNAUTHORIZED_ACCESS"
	ActionAuthenticationFailed = "AUTHENTICATION_FAILED"
	ActionServiceError         = "SERVICE_ERROR"
	ActionReportGenerated      = "AI_REPORT_GENERATED"
	ActionAuditExported        = "AUDIT_LOG_EXPORTED"
	ActionAuditReviewed        = "AUDIT_ENTRY_REVIEWED"
	ActionAuditPurged          = "AUDIT_LOGS_PURGED"
	ActionBreakerReset         = "CIRCUIT_BREAKER_RESET"
)

// AccessedAction names the success action for a target, e.g. "reports" ->
// "REPORTS_ACCESSED".
func AccessedAction(target string) string {
	name := strings.ToUpper(strings.NewReplacer("-", "_", " ", "_", ".", "_").Replace(target))
	return name + "_ACCESSED"
}

// Entry is one immutable access fact. Only the review fields change after
// creation.
type Entry struct {
	ID             string     `json:"id"`
	UserID         string     `json:"userId,omitempty"`
	Action         string     `json:"action"`
	Resource       string     `json:"resource"`
	ResourceID     string     `json:"resourceId,omitempty"`
	Description    string     `json:"description"`
	Method         string     `json:"method,omitempty"`
	Endpoint       string     `json:"endpoint,omitempty"`
	ResponseStatus int        `json:"responseStatus,omitempty"`
	DurationMS     int64      `json:"durationMs,omitempty"`
	RiskLevel      RiskLevel  `json:"riskLevel"`
	Flagged        bool       `json:"flagged"`
	ReviewRequired bool       `json:"reviewRequired"`
	ReviewedBy     string     `json:"reviewedBy,omitempty"`
	ReviewedAt     *time.Time `json:"reviewedAt,omitempty"`
	RequestID      string     `json:"requestId,omitempty"`
	IPAddress      string     `json:"ipAddress,omitempty"`
	UserAgent      string     `json:"userAgent,omitempty"`
	Client         string     `json:"client,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	PrevHash       string     `json:"prevHash,omitempty"`
	Hash           string     `json:"hash,omitempty"`
}

// ApplyRiskPolicy flags HIGH and CRITICAL entries for review.
func ApplyRiskPolicy(e *Entry) {
	if e.RiskLevel == "" {
		e.RiskLevel = RiskLow
	}
	if e.RiskLevel.RequiresReview() {
		e.Flagged = true
		e.ReviewRequired = true
	}
}

// Filter narrows a query. Zero fields match everything; the time range is
// [From, To).
type Filter struct {
	UserID     string
	Action     string
	Resource   string
	RiskLevels []RiskLevel
	Flagged    *bool
	From       time.Time
	To         time.Time
}

// Matches reports whether e satisfies the filter.
func (f Filter) Matches(e Entry) bool {
	if f.UserID != "" && e.UserID != f.UserID {
		return false
	}
	if f.Action != "" && e.Action != f.Action {
		return false
	}
	if f.Resource != "" && e.Resource != f.Resource {
		return false
	}
	if len(f.RiskLevels) > 0 && !slices.Contains(f.RiskLevels, e.RiskLevel) {
		return false
	}
	if f.Flagged != nil && e.Flagged != *f.Flagged {
		return false
	}
	if !f.From.IsZero() && e.CreatedAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !e.CreatedAt.Before(f.To) {
		return false
	}
	return true
}

const (
	DefaultPageSize = 50
	MaxPageSize     = 500
)

// Page is 1-based pagination.
type Page struct {
	Number int
	Size   int
}

// Normalize applies defaults and caps.
func (p Page) Normalize() Page {
	if p.Number < 1 {
		p.Number = 1
	}
	if p.Size < 1 {
		p.Size = DefaultPageSize
	}
	if p.Size > MaxPageSize {
		p.Size = MaxPageSize
	}
	return p
}

// Offset is the number of rows skipped before this page.
func (p Page) Offset() int {
	return (p.Number - 1) * p.Size
}

// Result is one page of entries, newest first.
type Result struct {
	Entries  []Entry `json:"entries"`
	Total    int     `json:"total"`
	Page     int     `json:"page"`
	PageSize int     `json:"pageSize"`
}

// Summary aggregates entries matching a filter.
type Summary struct {
	Total         int               `json:"total"`
	ByRiskLevel   map[RiskLevel]int `json:"byRiskLevel"`
	ByAction      map[string]int    `json:"byAction"`
	Flagged       int               `json:"flagged"`
	PendingReview int               `json:"pendingReview"`
}

// NewSummary returns a Summary with initialized maps.
func NewSummary() Summary {
	return Summary{ByRiskLevel: map[RiskLevel]int{}, ByAction: map[string]int{}}
}

// Add folds count entries with the given attributes into the summary.
func (s *Summary) Add(risk RiskLevel, action string, flagged, pendingReview bool, count int) {
	s.Total += count
	s.ByRiskLevel[risk] += count
	s.ByAction[action] += count
	if flagged {
		s.Flagged += count
	}
	if pendingReview {
		s.PendingReview += count
	}
}

// Store persists entries. Query returns newest first (createdAt desc, id
// desc); Scan iterates oldest first.
type Store interface {
	Append(ctx context.Context, entry Entry) error
	Query(ctx context.Context, filter Filter, page Page) (Result, error)
	Summarize(ctx context.Context, filter Filter) (Summary, error)
	Get(ctx context.Context, id string) (Entry, error)
	MarkReviewed(ctx context.Context, id, reviewer string, at time.Time) (Entry, error)
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
	Scan(ctx context.Context, filter Filter, fn func(Entry) error) error
}

// Sink receives sealed entries after they are stored.
type Sink interface {
	Name() string
	Write(ctx context.Context, entry Entry) error
}

// Recorder accepts entries without blocking the caller on persistence.
type Recorder interface {
	Record(ctx context.Context, entry Entry)
}
