package audit

import (
	"encoding/hex"
	"fmt"
	"hash"
	"strconv"
	"sync"
	"time"

	"golang.org/x/crypto/blake2b"
)

// Sealer links entries into a keyed BLAKE2b-256 hash chain. Each entry's Hash
// covers its immutable fields and the previous entry's Hash, so an edited or
// deleted row breaks verification.
type Sealer struct {
	key []byte

	mu   sync.Mutex
	prev string
}

// NewSealer creates a sealer. Keys longer than 64 bytes are reduced with an
// unkeyed BLAKE2b-512 digest first.
func NewSealer(key []byte) *Sealer {
	if len(key) > blake2b.Size {
		sum := blake2b.Sum512(key)
		key = sum[:]
	}
	return &Sealer{key: key}
}

// Resume continues the chain after lastHash, typically the newest stored entry.
func (s *Sealer) Resume(lastHash string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prev = lastHash
}

// Seal links e and advances the chain. Callers must seal entries in createdAt
// order.
func (s *Sealer) Seal(e *Entry) {
	s.Link(e)
	s.Commit(*e)
}

// Link sets e.PrevHash and e.Hash against the current head without advancing
// it. Pair it with Commit once e is durably stored.
func (s *Sealer) Link(e *Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e.PrevHash = s.prev
	e.Hash = s.Digest(*e)
}

// Commit makes e the chain head. It is a no-op unless e was linked to the
// current head, so a stale or unstored entry cannot fork the chain.
func (s *Sealer) Commit(e Entry) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.PrevHash != s.prev {
		return false
	}
	s.prev = e.Hash
	return true
}

// Digest computes the hash of e's immutable fields and PrevHash.
func (s *Sealer) Digest(e Entry) string {
	h, err := blake2b.New256(s.key)
	if err != nil {
		// Only reachable with a key over 64 bytes, which NewSealer prevents.
		panic(fmt.Sprintf("audit: blake2b key: %v", err))
	}
	for _, field := range []string{
		e.ID,
		e.UserID,
		e.Action,
		e.Resource,
		e.ResourceID,
		e.Description,
		e.Method,
		e.Endpoint,
		strconv.Itoa(e.ResponseStatus),
		strconv.FormatInt(e.DurationMS, 10),
		string(e.RiskLevel),
		strconv.FormatBool(e.Flagged),
		e.RequestID,
		e.IPAddress,
		e.UserAgent,
		e.CreatedAt.UTC().Format(time.RFC3339Nano),
		e.PrevHash,
	} {
		writeField(h, field)
	}
	return hex.EncodeToString(h.Sum(nil))
}

func writeField(h hash.Hash, v string) {
	_, _ = h.Write([]byte(strconv.Itoa(len(v))))
	_, _ = h.Write([]byte{':'})
	_, _ = h.Write([]byte(v))
}

// Verification is the outcome of checking a run of entries.
type Verification struct {
	Checked  int    `json:"checked"`
	Valid    bool   `json:"valid"`
	BrokenAt string `json:"brokenAt,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// Verifier checks entries streamed oldest first. The first entry's PrevHash is
// trusted, since earlier entries may have been purged.
type Verifier struct {
	sealer *Sealer
	prev   string
	result Verification
}

// NewVerifier starts a verification run.
func (s *Sealer) NewVerifier() *Verifier {
	return &Verifier{sealer: s, result: Verification{Valid: true}}
}

// Check folds the next entry into the run. It returns false once the chain is
// broken; later entries are ignored.
func (v *Verifier) Check(e Entry) bool {
	if !v.result.Valid {
		return false
	}
	v.result.Checked++
	switch {
	case v.result.Checked > 1 && e.PrevHash != v.prev:
		v.fail(e.ID, "previous hash does not match the preceding entry")
	case v.sealer.Digest(e) != e.Hash:
		v.fail(e.ID, "entry content does not match its hash")
	default:
		v.prev = e.Hash
	}
	return v.result.Valid
}

func (v *Verifier) fail(id, reason string) {
	v.result.Valid = false
	v.result.BrokenAt = id
	v.result.Reason = reason
}

// Result returns the verification outcome so far.
func (v *Verifier) Result() Verification {
	return v.result
}
