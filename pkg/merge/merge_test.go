package merge

import (
	"errors"
	"testing"

	"github.com/orneryd/warpcore/pkg/ident"
	"github.com/orneryd/warpcore/pkg/op"
)

func node(s string) ident.NodeKey {
	return ident.NodeKey{
		Instance: ident.InstanceID(ident.Sum(ident.TagInstance, []byte("inst"))),
		Local:    ident.NodeID(ident.Sum(ident.TagNode, []byte(s))),
	}
}

func upsert(s string, typ string, origin op.Origin) Stamped {
	return Stamped{
		Op:     op.Op{Kind: op.KindUpsertNode, UpsertNode: &op.UpsertNode{ID: node(s), Type: ident.NewTypeID(typ)}},
		Origin: origin,
	}
}

func TestMergeDedupesIdenticalOpsFromDifferentWorkers(t *testing.T) {
	o1 := op.Origin{IntentID: ident.Sum(ident.TagIntent, []byte("i")), CompactRuleID: 1}
	o2 := op.Origin{IntentID: ident.Sum(ident.TagIntent, []byte("i")), CompactRuleID: 2}

	deltas := []Delta{
		{Ops: []Stamped{upsert("x", "t", o1)}},
		{Ops: []Stamped{upsert("x", "t", o2)}},
	}

	merged, err := Merge(deltas)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if len(merged) != 1 {
		t.Fatalf("expected identical ops from two workers to dedupe to one, got %d", len(merged))
	}
}

func TestMergeReportsConflictOnDivergentOps(t *testing.T) {
	o1 := op.Origin{IntentID: ident.Sum(ident.TagIntent, []byte("i")), CompactRuleID: 1}
	o2 := op.Origin{IntentID: ident.Sum(ident.TagIntent, []byte("i")), CompactRuleID: 2}

	deltas := []Delta{
		{Ops: []Stamped{upsert("x", "type-a", o1)}},
		{Ops: []Stamped{upsert("x", "type-b", o2)}},
	}

	_, err := Merge(deltas)
	var conflict *Conflict
	if !errors.As(err, &conflict) {
		t.Fatalf("expected *Conflict, got %v", err)
	}
	if len(conflict.Origins) != 2 {
		t.Fatalf("expected both origins named in the conflict")
	}
}

func TestMergeIsOrderIndependentOfDeltaSliceOrder(t *testing.T) {
	o1 := op.Origin{IntentID: ident.Sum(ident.TagIntent, []byte("i")), CompactRuleID: 1}
	o2 := op.Origin{IntentID: ident.Sum(ident.TagIntent, []byte("i")), CompactRuleID: 2}

	a := []Delta{{Ops: []Stamped{upsert("x", "t", o1)}}, {Ops: []Stamped{upsert("y", "t", o2)}}}
	b := []Delta{{Ops: []Stamped{upsert("y", "t", o2)}}, {Ops: []Stamped{upsert("x", "t", o1)}}}

	mergedA, err := Merge(a)
	if err != nil {
		t.Fatalf("Merge a: %v", err)
	}
	mergedB, err := Merge(b)
	if err != nil {
		t.Fatalf("Merge b: %v", err)
	}
	if len(mergedA) != len(mergedB) {
		t.Fatalf("expected equal output length regardless of input delta order")
	}
	for i := range mergedA {
		if !op.Equal(mergedA[i], mergedB[i]) {
			t.Fatalf("expected identical canonical order regardless of input delta order")
		}
	}
}

func TestMergeAbortsOnAnyPoisonedDelta(t *testing.T) {
	o1 := op.Origin{IntentID: ident.Sum(ident.TagIntent, []byte("i")), CompactRuleID: 1}
	deltas := []Delta{
		{Ops: []Stamped{upsert("x", "t", o1)}},
		{Poisoned: true, Reason: errors.New("footprint violation")},
	}

	_, err := Merge(deltas)
	var poisoned *PoisonedTick
	if !errors.As(err, &poisoned) {
		t.Fatalf("expected *PoisonedTick, got %v", err)
	}
}

func TestMergeEmptyDeltasProducesEmptyOutput(t *testing.T) {
	merged, err := Merge(nil)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if len(merged) != 0 {
		t.Fatalf("expected empty merge for empty input")
	}
}

func TestMergeOutputOrderIsAscendingByKind(t *testing.T) {
	o1 := op.Origin{IntentID: ident.Sum(ident.TagIntent, []byte("i")), CompactRuleID: 1}
	delOp := Stamped{Op: op.Op{Kind: op.KindDeleteNode, DeleteNode: &op.DeleteNode{Node: node("a")}}, Origin: o1}
	upOp := upsert("b", "t", o1)

	merged, err := Merge([]Delta{{Ops: []Stamped{upOp, delOp}}})
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if len(merged) != 2 {
		t.Fatalf("expected two ops, got %d", len(merged))
	}
	if merged[0].Kind != op.KindDeleteNode || merged[1].Kind != op.KindUpsertNode {
		t.Fatalf("expected DeleteNode before UpsertNode in canonical order, got %v then %v", merged[0].Kind, merged[1].Kind)
	}
}
