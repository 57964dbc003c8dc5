package progress

import "github.com/caseworks/leximport/internal/domain"

// DiagnosticRing retains the most recent N diagnostics with an explicit
// overflow flag, replacing ad hoc "last 100" slicing.
type DiagnosticRing struct {
	items   []domain.RowDiagnostic
	head    int
	size    int
	dropped int
}

// NewDiagnosticRing allocates a ring with the given capacity.
func NewDiagnosticRing(capacity int) *DiagnosticRing {
	if capacity <= 0 {
		capacity = 1
	}
	return &DiagnosticRing{items: make([]domain.RowDiagnostic, capacity)}
}

// Append adds a diagnostic, evicting the oldest entry once full.
func (r *DiagnosticRing) Append(diag domain.RowDiagnostic) {
	if r.size < len(r.items) {
		r.items[(r.head+r.size)%len(r.items)] = diag
		r.size++
		return
	}
	r.items[r.head] = diag
	r.head = (r.head + 1) % len(r.items)
	r.dropped++
}

// Items returns the retained diagnostics, oldest first.
func (r *DiagnosticRing) Items() []domain.RowDiagnostic {
	out := make([]domain.RowDiagnostic, r.size)
	for i := 0; i < r.size; i++ {
		out[i] = r.items[(r.head+i)%len(r.items)]
	}
	return out
}

// Len returns the number of retained diagnostics.
func (r *DiagnosticRing) Len() int { return r.size }

// Total returns the number of diagnostics ever appended.
func (r *DiagnosticRing) Total() int { return r.size + r.dropped }

// HasMore reports whether any diagnostics were evicted.
func (r *DiagnosticRing) HasMore() bool { return r.dropped > 0 }
