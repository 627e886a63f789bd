package scheduler

import (
	"testing"

	"github.com/orneryd/warpcore/pkg/footprint"
	"github.com/orneryd/warpcore/pkg/ident"
	"github.com/orneryd/warpcore/pkg/rule"
)

func scope(s string) ident.NodeKey {
	return ident.NodeKey{
		Instance: ident.InstanceID(ident.Sum(ident.TagInstance, []byte("inst"))),
		Local:    ident.NodeID(ident.Sum(ident.TagNode, []byte(s))),
	}
}

func TestEnqueueLastWins(t *testing.T) {
	q := NewQueue()
	scopeHash := ident.Sum(ident.TagScope, []byte("s"))

	q.Enqueue(PendingRewrite{ScopeHash: scopeHash, Compact: 1, Footprint: footprint.NewBuilder(1).Build()})
	fp2 := footprint.NewBuilder(1).WriteNode(scope("only-in-second")).Build()
	q.Enqueue(PendingRewrite{ScopeHash: scopeHash, Compact: 1, Footprint: fp2})

	drained := q.Drain()
	if len(drained) != 1 {
		t.Fatalf("expected exactly one entry after last-wins overwrite, got %d", len(drained))
	}
	if len(drained[0].Footprint.NWrite) != 1 {
		t.Fatalf("expected the second enqueue's payload to win")
	}
}

func TestDrainOrderIsTotalAndStable(t *testing.T) {
	q := NewQueue()
	h1 := ident.Sum(ident.TagScope, []byte("a"))
	h2 := ident.Sum(ident.TagScope, []byte("b"))

	// Insert out of hash order to prove drain re-sorts, not insertion order.
	if h2.Less(h1) {
		h1, h2 = h2, h1
	}
	q.Enqueue(PendingRewrite{ScopeHash: h2, Compact: 1})
	q.Enqueue(PendingRewrite{ScopeHash: h1, Compact: 1})

	drained := q.Drain()
	if !drained[0].ScopeHash.Less(drained[1].ScopeHash) {
		t.Fatalf("expected ascending scope_hash order")
	}

	// Re-draining a freshly built queue from the same logical inputs (same
	// multiset) must produce the identical order.
	q2 := NewQueue()
	q2.Enqueue(PendingRewrite{ScopeHash: h1, Compact: 1})
	q2.Enqueue(PendingRewrite{ScopeHash: h2, Compact: 1})
	drained2 := q2.Drain()
	if drained[0].ScopeHash != drained2[0].ScopeHash || drained[1].ScopeHash != drained2[1].ScopeHash {
		t.Fatalf("drain order not stable across equivalent queues")
	}
}

func TestDrainOrderByCompactThenNonce(t *testing.T) {
	q := NewQueue()
	sameHash := ident.Sum(ident.TagScope, []byte("shared"))
	q.Enqueue(PendingRewrite{ScopeHash: sameHash, Compact: 2})
	q.Enqueue(PendingRewrite{ScopeHash: sameHash, Compact: 1})

	drained := q.Drain()
	if drained[0].Compact != rule.CompactID(1) {
		t.Fatalf("expected ascending compact_rule within equal scope_hash")
	}
}

func TestReserveAtomicRejectsConflict(t *testing.T) {
	a := PendingRewrite{ScopeHash: ident.Sum(ident.TagScope, []byte("a")), Footprint: footprint.NewBuilder(1).WriteNode(scope("x")).Build()}
	b := PendingRewrite{ScopeHash: ident.Sum(ident.TagScope, []byte("b")), Footprint: footprint.NewBuilder(1).WriteNode(scope("x")).Build()}

	result := Reserve([]PendingRewrite{a, b})
	if len(result.Ready) != 1 {
		t.Fatalf("expected exactly one accepted candidate, got %d", len(result.Ready))
	}
	if len(result.Rejected) != 1 {
		t.Fatalf("expected exactly one rejected candidate, got %d", len(result.Rejected))
	}
	if result.Rejected[0].Blocker.Axis != AxisNode {
		t.Fatalf("expected node-axis witness, got %s", result.Rejected[0].Blocker.Axis)
	}
}

func TestReserveIndependentSetAllAccepted(t *testing.T) {
	a := PendingRewrite{ScopeHash: ident.Sum(ident.TagScope, []byte("a")), Footprint: footprint.NewBuilder(1).WriteNode(scope("x")).Build()}
	b := PendingRewrite{ScopeHash: ident.Sum(ident.TagScope, []byte("b")), Footprint: footprint.NewBuilder(1).WriteNode(scope("y")).Build()}

	result := Reserve([]PendingRewrite{a, b})
	if len(result.Ready) != 2 || len(result.Rejected) != 0 {
		t.Fatalf("expected both independent candidates accepted")
	}
}

func TestReserveOrderDeterminesAcceptance(t *testing.T) {
	// Given the same conflicting pair, whichever comes first in drain order
	// wins the reservation — acceptance is deterministic given drain order.
	a := PendingRewrite{ScopeHash: ident.Sum(ident.TagScope, []byte("first")), Footprint: footprint.NewBuilder(1).WriteNode(scope("x")).Build()}
	b := PendingRewrite{ScopeHash: ident.Sum(ident.TagScope, []byte("second")), Footprint: footprint.NewBuilder(1).WriteNode(scope("x")).Build()}

	result := Reserve([]PendingRewrite{a, b})
	if result.Ready[0].ScopeHash != a.ScopeHash {
		t.Fatalf("expected the first-drained candidate to win reservation")
	}
}
