// Package scheduler implements the per-transaction queue and deterministic
// scheduler: last-wins enqueue, a total and stable canonical drain order,
// and a two-phase independence reservation gate.
package scheduler

import (
	"sort"

	"github.com/orneryd/warpcore/pkg/footprint"
	"github.com/orneryd/warpcore/pkg/ident"
	"github.com/orneryd/warpcore/pkg/rule"
)

// PendingRewrite is a candidate rewrite sitting in a transaction's queue,
// awaiting drain and reservation.
type PendingRewrite struct {
	RuleID    ident.Hash
	Compact   rule.CompactID
	ScopeKey  ident.NodeKey
	ScopeHash ident.Hash
	Footprint footprint.Footprint
	// Phase is the generation index this candidate was enqueued under —
	// callers bump it between apply() batches within one tick if they want
	// to separate reservation generations; Queue itself does not interpret
	// it beyond carrying it through to the drained record.
	Phase uint32
}

type queueKey struct {
	scopeHash ident.Hash
	compact   rule.CompactID
}

type entry struct {
	payload PendingRewrite
	nonce   uint64
}

// Queue is a single transaction's pending-rewrite queue. It is not
// thread-safe by itself — bookkeeping (ingest, enqueue, drain, reserve) is
// expected to run single-threaded per transaction.
type Queue struct {
	entries map[queueKey]entry
	nonce   uint64
}

// NewQueue returns an empty transaction queue.
func NewQueue() *Queue {
	return &Queue{entries: make(map[queueKey]entry)}
}

// Enqueue inserts or overwrites the pending rewrite for (scope_hash,
// compact_rule). Last-wins: calling Enqueue twice for the same key
// overwrites the payload and refreshes (strictly increases) the
// tie-breaking nonce.
func (q *Queue) Enqueue(pr PendingRewrite) {
	key := queueKey{scopeHash: pr.ScopeHash, compact: pr.Compact}
	q.nonce++
	q.entries[key] = entry{payload: pr, nonce: q.nonce}
}

// Len reports how many distinct (scope_hash, compact_rule) entries are queued.
func (q *Queue) Len() int { return len(q.entries) }

// Drain returns every queued rewrite in ascending lexicographic order of
// (scope_hash, compact_rule, nonce) — total, stable, and independent of Go's
// randomized map iteration order.
func (q *Queue) Drain() []PendingRewrite {
	entries := make([]entry, 0, len(q.entries))
	for _, e := range q.entries {
		entries = append(entries, e)
	}

	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.payload.ScopeHash != b.payload.ScopeHash {
			return a.payload.ScopeHash.Less(b.payload.ScopeHash)
		}
		if a.payload.Compact != b.payload.Compact {
			return a.payload.Compact < b.payload.Compact
		}
		return a.nonce < b.nonce
	})

	out := make([]PendingRewrite, len(entries))
	for i, e := range entries {
		out[i] = e.payload
	}
	return out
}
