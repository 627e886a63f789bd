package warp

import (
	"sort"
	"sync"

	"github.com/orneryd/warpcore/pkg/ident"
)

// History is the append-only, single-writer commit log: a bounded ring of
// Snapshots ordered by sequence number, with lookup by commit hash.
// Appending past capacity drops the oldest entry — history is a bounded
// operational log, not an archival store (that is an external
// collaborator's concern).
type History struct {
	mu       sync.RWMutex
	entries  []Snapshot
	capacity int
	seq      uint64
}

// NewHistory returns an empty history bounded to capacity entries.
func NewHistory(capacity int) *History {
	if capacity < 1 {
		capacity = 1
	}
	return &History{capacity: capacity}
}

func (h *History) nextSeq() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.seq++
	return h.seq
}

func (h *History) append(s Snapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append(h.entries, s)
	if len(h.entries) > h.capacity {
		h.entries = h.entries[len(h.entries)-h.capacity:]
	}
}

// Range returns every retained snapshot with sequence number in [from, to],
// inclusive, ascending. Entries older than the retained window are simply
// absent — callers must not assume every sequence number since genesis is
// still available.
func (h *History) Range(from, to uint64) []Snapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()
	lo := sort.Search(len(h.entries), func(i int) bool { return h.entries[i].Seq >= from })
	out := make([]Snapshot, 0)
	for i := lo; i < len(h.entries) && h.entries[i].Seq <= to; i++ {
		out = append(out, h.entries[i])
	}
	return out
}

// ByCommitHash finds a retained snapshot by its commit hash.
func (h *History) ByCommitHash(hash ident.Hash) (Snapshot, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, s := range h.entries {
		if s.CommitHash == hash {
			return s, true
		}
	}
	return Snapshot{}, false
}

// Len reports how many snapshots are currently retained.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.entries)
}
