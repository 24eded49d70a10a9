// Package audit is the read side of the access trail: role-scoped queries,
// export, review, chain verification and retention.
package audit

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strconv"
	"time"

	dErrors "medgate/pkg/domain-errors"
	audit "medgate/pkg/platform/audit"
	auditmetrics "medgate/pkg/platform/audit/metrics"
	"medgate/pkg/platform/sentinel"
	"medgate/pkg/requestcontext"
)

// DefaultPrivilegedRoles may read every user's entries.
var DefaultPrivilegedRoles = []string{"admin", "compliance_officer"}

const defaultExportLimit = 10000

// Format is an export encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
)

// ParseFormat accepts json, csv or empty (json).
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case "", FormatJSON:
		return FormatJSON, nil
	case FormatCSV:
		return FormatCSV, nil
	}
	return "", dErrors.New(dErrors.CodeValidation, "format must be csv or json")
}

var errStop = errors.New("stop scan")

// Service answers audit reads on behalf of a caller.
type Service struct {
	store       audit.Store
	sealer      *audit.Sealer
	recorder    audit.Recorder
	privileged  []string
	exportLimit int
	logger      *slog.Logger
	metrics     *auditmetrics.Metrics
	clock       func() time.Time
}

// Option configures the Service.
type Option func(*Service)

func WithPrivilegedRoles(roles []string) Option {
	return func(s *Service) {
		if len(roles) > 0 {
			s.privileged = roles
		}
	}
}

func WithExportLimit(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.exportLimit = n
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithMetrics(m *auditmetrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithClock(clock func() time.Time) Option {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// NewService creates the service. sealer must use the key the publisher seals
// with, or Verify reports every entry as tampered.
func NewService(store audit.Store, sealer *audit.Sealer, recorder audit.Recorder, opts ...Option) *Service {
	s := &Service{
		store:       store,
		sealer:      sealer,
		recorder:    recorder,
		privileged:  DefaultPrivilegedRoles,
		exportLimit: defaultExportLimit,
		logger:      slog.Default(),
		clock:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Privileged reports whether caller may read every user's entries.
func (s *Service) Privileged(caller requestcontext.Identity) bool {
	return caller.HasRole(s.privileged...)
}

// PrivilegedRoles returns the configured privileged roles.
func (s *Service) PrivilegedRoles() []string {
	return slices.Clone(s.privileged)
}

// scope pins non-privileged callers to their own entries.
func (s *Service) scope(caller requestcontext.Identity, f audit.Filter) (audit.Filter, error) {
	if caller.IsZero() {
		return f, dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}
	if !s.Privileged(caller) {
		f.UserID = caller.UserID
	}
	return f, nil
}

func (s *Service) requirePrivileged(caller requestcontext.Identity) error {
	if caller.IsZero() {
		return dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}
	if !s.Privileged(caller) {
		return dErrors.New(dErrors.CodeForbidden, "Insufficient permissions")
	}
	return nil
}

// Query returns one page of entries visible to caller, newest first.
func (s *Service) Query(ctx context.Context, caller requestcontext.Identity, filter audit.Filter, page audit.Page) (audit.Result, error) {
	filter, err := s.scope(caller, filter)
	if err != nil {
		return audit.Result{}, err
	}
	res, err := s.store.Query(ctx, filter, page.Normalize())
	if err != nil {
		return audit.Result{}, storeError(err, "failed to query audit log")
	}
	return res, nil
}

// Summary aggregates the entries visible to caller.
func (s *Service) Summary(ctx context.Context, caller requestcontext.Identity, filter audit.Filter) (audit.Summary, error) {
	filter, err := s.scope(caller, filter)
	if err != nil {
		return audit.Summary{}, err
	}
	sum, err := s.store.Summarize(ctx, filter)
	if err != nil {
		return audit.Summary{}, storeError(err, "failed to summarize audit log")
	}
	return sum, nil
}

// Export writes up to the export limit of caller-visible entries to w, oldest
// first, and returns how many were written.
func (s *Service) Export(ctx context.Context, caller requestcontext.Identity, filter audit.Filter, format Format, w io.Writer) (int, error) {
	filter, err := s.scope(caller, filter)
	if err != nil {
		return 0, err
	}

	var enc entryEncoder
	switch format {
	case FormatCSV:
		enc = newCSVEncoder(w)
	default:
		enc = newJSONEncoder(w)
	}

	count := 0
	err = s.store.Scan(ctx, filter, func(e audit.Entry) error {
		if count >= s.exportLimit {
			return errStop
		}
		if err := enc.Encode(e); err != nil {
			return err
		}
		count++
		return nil
	})
	if err != nil && !errors.Is(err, errStop) {
		return count, storeError(err, "failed to export audit log")
	}
	if err := enc.Close(); err != nil {
		return count, fmt.Errorf("finish export: %w", err)
	}

	s.record(ctx, audit.Entry{
		Action:      audit.ActionAuditExported,
		Resource:    "audit",
		Description: fmt.Sprintf("Exported %d audit entries as %s", count, format),
		RiskLevel:   audit.RiskMedium,
	})
	return count, nil
}

// Review marks a flagged entry as reviewed by caller.
func (s *Service) Review(ctx context.Context, caller requestcontext.Identity, id string) (audit.Entry, error) {
	if err := s.requirePrivileged(caller); err != nil {
		return audit.Entry{}, err
	}
	entry, err := s.store.MarkReviewed(ctx, id, caller.UserID, s.clock().UTC())
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return audit.Entry{}, dErrors.Wrap(err, dErrors.CodeNotFound, "audit entry not found")
	case errors.Is(err, sentinel.ErrConflict):
		return audit.Entry{}, dErrors.Wrap(err, dErrors.CodeConflict, "audit entry already reviewed")
	case err != nil:
		return audit.Entry{}, storeError(err, "failed to review audit entry")
	}

	s.record(ctx, audit.Entry{
		Action:      audit.ActionAuditReviewed,
		Resource:    "audit",
		ResourceID:  id,
		Description: fmt.Sprintf("Reviewed %s entry %s", entry.Action, id),
		RiskLevel:   audit.RiskLow,
	})
	return entry, nil
}

// Verify recomputes the hash chain over [from, to) and reports the first
// broken link. Zero times leave that end open.
func (s *Service) Verify(ctx context.Context, caller requestcontext.Identity, from, to time.Time) (audit.Verification, error) {
	if err := s.requirePrivileged(caller); err != nil {
		return audit.Verification{}, err
	}
	v := s.sealer.NewVerifier()
	err := s.store.Scan(ctx, audit.Filter{From: from, To: to}, func(e audit.Entry) error {
		if !v.Check(e) {
			return errStop
		}
		return nil
	})
	if err != nil && !errors.Is(err, errStop) {
		return audit.Verification{}, storeError(err, "failed to verify audit log")
	}

	res := v.Result()
	if !res.Valid {
		s.logger.ErrorContext(ctx, "audit hash chain broken",
			"entry_id", res.BrokenAt,
			"reason", res.Reason,
			"checked", res.Checked,
		)
	}
	return res, nil
}

// PurgeOlderThan deletes entries older than age and returns how many went.
func (s *Service) PurgeOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	cutoff := s.clock().UTC().Add(-age)
	n, err := s.store.PurgeOlderThan(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge audit entries before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	s.metrics.AddPurged(n)
	if n > 0 {
		s.record(ctx, audit.Entry{
			Action:      audit.ActionAuditPurged,
			Resource:    "audit",
			Description: fmt.Sprintf("Purged %d audit entries created before %s", n, cutoff.Format(time.RFC3339)),
			RiskLevel:   audit.RiskMedium,
		})
	}
	return n, nil
}

func (s *Service) record(ctx context.Context, e audit.Entry) {
	if s.recorder != nil {
		s.recorder.Record(context.WithoutCancel(ctx), e)
	}
}

func storeError(err error, msg string) error {
	if errors.Is(err, sentinel.ErrUnavailable) {
		return dErrors.Wrap(err, dErrors.CodeServiceUnavailable, "audit store unavailable")
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, msg)
}

type entryEncoder interface {
	Encode(audit.Entry) error
	Close() error
}

// jsonEncoder streams entries as a single JSON array.
type jsonEncoder struct {
	w     io.Writer
	enc   *json.Encoder
	count int
}

func newJSONEncoder(w io.Writer) *jsonEncoder {
	return &jsonEncoder{w: w, enc: json.NewEncoder(w)}
}

func (j *jsonEncoder) Encode(e audit.Entry) error {
	sep := ","
	if j.count == 0 {
		sep = "["
	}
	if _, err := io.WriteString(j.w, sep); err != nil {
		return err
	}
	j.count++
	return j.enc.Encode(e)
}

func (j *jsonEncoder) Close() error {
	if j.count == 0 {
		_, err := io.WriteString(j.w, "[]\n")
		return err
	}
	_, err := io.WriteString(j.w, "]\n")
	return err
}

var csvHeader = []string{
	"id", "createdAt", "userId", "action", "resource", "resourceId", "description",
	"method", "endpoint", "responseStatus", "durationMs", "riskLevel", "flagged",
	"reviewRequired", "reviewedBy", "reviewedAt", "requestId", "ipAddress", "client", "hash",
}

type csvEncoder struct {
	w      *csv.Writer
	header bool
}

func newCSVEncoder(w io.Writer) *csvEncoder {
	return &csvEncoder{w: csv.NewWriter(w)}
}

func (c *csvEncoder) Encode(e audit.Entry) error {
	if !c.header {
		if err := c.w.Write(csvHeader); err != nil {
			return err
		}
		c.header = true
	}
	reviewedAt := ""
	if e.ReviewedAt != nil {
		reviewedAt = e.ReviewedAt.UTC().Format(time.RFC3339Nano)
	}
	status := ""
	if e.ResponseStatus != 0 {
		status = strconv.Itoa(e.ResponseStatus)
	}
	return c.w.Write([]string{
		e.ID,
		e.CreatedAt.UTC().Format(time.RFC3339Nano),
		e.UserID,
		e.Action,
		e.Resource,
		e.ResourceID,
		e.Description,
		e.Method,
		e.Endpoint,
		status,
		strconv.FormatInt(e.DurationMS, 10),
		string(e.RiskLevel),
		strconv.FormatBool(e.Flagged),
		strconv.FormatBool(e.ReviewRequired),
		e.ReviewedBy,
		reviewedAt,
		e.RequestID,
		e.IPAddress,
		e.Client,
		e.Hash,
	})
}

func (c *csvEncoder) Close() error {
	if !c.header {
		if err := c.w.Write(csvHeader); err != nil {
			return err
		}
	}
	c.w.Flush()
	return c.w.Error()
}
