package memory

import (
	"time"

	"github.com/faredeal/accessctl/internal/accessctl/types"
)

// auditRing is a fixed-capacity circular buffer. Pushing onto a full ring
// overwrites the oldest entry.
type auditRing struct {
	buf  []types.AuditEntry
	head int // next write position
	n    int
}

func newAuditRing(capacity int) *auditRing {
	return &auditRing{buf: make([]types.AuditEntry, capacity)}
}

func (r *auditRing) push(e types.AuditEntry) {
	r.buf[r.head] = e
	r.head = (r.head + 1) % len(r.buf)
	if r.n < len(r.buf) {
		r.n++
	}
}

func (r *auditRing) len() int { return r.n }

// newest returns up to limit entries, newest first. limit <= 0 means all.
func (r *auditRing) newest(limit int) []types.AuditEntry {
	if limit <= 0 || limit > r.n {
		limit = r.n
	}
	out := make([]types.AuditEntry, 0, limit)
	for i := 1; i <= limit; i++ {
		idx := (r.head - i + len(r.buf)) % len(r.buf)
		out = append(out, r.buf[idx])
	}
	return out
}

// reset replaces the contents with entries given newest first, keeping the
// newest len(buf) of them.
func (r *auditRing) reset(entries []types.AuditEntry) {
	for i := range r.buf {
		r.buf[i] = types.AuditEntry{}
	}
	r.head, r.n = 0, 0
	if len(entries) > len(r.buf) {
		entries = entries[:len(r.buf)]
	}
	for i := len(entries) - 1; i >= 0; i-- {
		r.push(entries[i])
	}
}

func (r *auditRing) pruneBefore(cutoff time.Time) int64 {
	all := r.newest(0)
	kept := all[:0:0]
	for _, e := range all {
		if !e.Timestamp.Before(cutoff) {
			kept = append(kept, e)
		}
	}
	removed := int64(len(all) - len(kept))
	if removed > 0 {
		r.reset(kept)
	}
	return removed
}
