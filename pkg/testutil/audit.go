package testutil

import (
	"context"
	"sync"

	audit "medgate/pkg/platform/audit"
	"medgate/pkg/requestcontext"
)

// AuditRecorder captures recorded entries in memory. It fills the user and
// request ID from the context the way the real publisher does.
type AuditRecorder struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (r *AuditRecorder) Record(ctx context.Context, e audit.Entry) {
	if e.UserID == "" {
		e.UserID = requestcontext.UserID(ctx)
	}
	if e.RequestID == "" {
		e.RequestID = requestcontext.RequestID(ctx)
	}
	audit.ApplyRiskPolicy(&e)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
}

// Entries returns a copy of everything recorded so far.
func (r *AuditRecorder) Entries() []audit.Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]audit.Entry(nil), r.entries...)
}

// Actions lists the recorded actions in order.
func (r *AuditRecorder) Actions() []string {
	entries := r.Entries()
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Action
	}
	return out
}
