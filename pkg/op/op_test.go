package op

import (
	"testing"

	"github.com/orneryd/warpcore/pkg/ident"
)

func key(s string) ident.NodeKey {
	return ident.NodeKey{
		Instance: ident.InstanceID(ident.Sum(ident.TagInstance, []byte("inst"))),
		Local:    ident.NodeID(ident.Sum(ident.TagNode, []byte(s))),
	}
}

func TestOriginLessOrdersByIntentThenRuleThenMatchThenOp(t *testing.T) {
	a := Origin{IntentID: ident.Sum(ident.TagIntent, []byte("a")), CompactRuleID: 1, MatchIndex: 0, OpIndex: 0}
	b := Origin{IntentID: ident.Sum(ident.TagIntent, []byte("b")), CompactRuleID: 0, MatchIndex: 0, OpIndex: 0}
	if a.IntentID.Less(b.IntentID) == b.IntentID.Less(a.IntentID) {
		t.Fatalf("test fixture intent ids must be distinguishable")
	}
	lo, hi := a, b
	if b.IntentID.Less(a.IntentID) {
		lo, hi = b, a
	}
	if !lo.Less(hi) || hi.Less(lo) {
		t.Fatalf("Less must agree with IntentID order when intents differ")
	}

	same := Origin{IntentID: a.IntentID, CompactRuleID: 5, MatchIndex: 2, OpIndex: 9}
	lowerRule := Origin{IntentID: a.IntentID, CompactRuleID: 4, MatchIndex: 2, OpIndex: 9}
	if !lowerRule.Less(same) {
		t.Fatalf("expected lower CompactRuleID to sort first within equal intent")
	}

	lowerMatch := Origin{IntentID: a.IntentID, CompactRuleID: 5, MatchIndex: 1, OpIndex: 9}
	if !lowerMatch.Less(same) {
		t.Fatalf("expected lower MatchIndex to sort first within equal intent and rule")
	}

	lowerOp := Origin{IntentID: a.IntentID, CompactRuleID: 5, MatchIndex: 2, OpIndex: 8}
	if !lowerOp.Less(same) {
		t.Fatalf("expected lower OpIndex to sort first within equal intent, rule, and match")
	}
}

func TestKeyOrdersByKindFirst(t *testing.T) {
	upsertNode := Op{Kind: KindUpsertNode, UpsertNode: &UpsertNode{ID: key("x"), Type: ident.NewTypeID("t")}}
	deleteNode := Op{Kind: KindDeleteNode, DeleteNode: &DeleteNode{Node: key("x")}}

	if !deleteNode.Key().Less(upsertNode.Key()) {
		t.Fatalf("expected DeleteNode (kind 0x05) to sort before UpsertNode (kind 0x06) regardless of id bytes")
	}
}

func TestKeySameNodeDifferentKindNeverTies(t *testing.T) {
	n := key("same")
	a := Op{Kind: KindUpsertNode, UpsertNode: &UpsertNode{ID: n, Type: ident.NewTypeID("t")}}
	b := Op{Kind: KindDeleteNode, DeleteNode: &DeleteNode{Node: n}}
	if a.Key() == b.Key() {
		t.Fatalf("expected distinct sort keys across kinds for the same node")
	}
}

func TestKeyDeterministicAcrossEquivalentOps(t *testing.T) {
	mk := func() Op {
		return Op{Kind: KindUpsertEdge, UpsertEdge: &UpsertEdge{
			ID:   ident.EdgeKey{Instance: key("a").Instance, Local: ident.EdgeID(ident.Sum(ident.TagEdge, []byte("e")))},
			From: key("a"),
			To:   key("b"),
			Type: ident.NewTypeID("edge.t"),
		}}
	}
	if mk().Key() != mk().Key() {
		t.Fatalf("expected identical ops to produce identical sort keys")
	}
}

func TestEqualDetectsDivergentUpsertNode(t *testing.T) {
	a := Op{Kind: KindUpsertNode, UpsertNode: &UpsertNode{ID: key("x"), Type: ident.NewTypeID("t1")}}
	b := Op{Kind: KindUpsertNode, UpsertNode: &UpsertNode{ID: key("x"), Type: ident.NewTypeID("t2")}}
	if Equal(a, b) {
		t.Fatalf("expected divergent Type to make ops unequal despite identical id")
	}
}

func TestEqualTreatsIdenticalOpsAsEqual(t *testing.T) {
	a := Op{Kind: KindUpsertNode, UpsertNode: &UpsertNode{ID: key("x"), Type: ident.NewTypeID("t")}}
	b := Op{Kind: KindUpsertNode, UpsertNode: &UpsertNode{ID: key("x"), Type: ident.NewTypeID("t")}}
	if !Equal(a, b) {
		t.Fatalf("expected value-equal ops to compare Equal")
	}
}

func TestEqualSetAttachmentComparesValue(t *testing.T) {
	owner := key("owner")
	withValue := func(b []byte) Op {
		return Op{Kind: KindSetAttachment, SetAttachment: &SetAttachment{
			Owner: owner,
			Slot:  "slot",
			Value: &AttachmentValue{Kind: AttachmentWireAtom, TypeID: ident.NewTypeID("atom.t"), Bytes: b},
		}}
	}
	if !Equal(withValue([]byte("same")), withValue([]byte("same"))) {
		t.Fatalf("expected identical attachment bytes to compare Equal")
	}
	if Equal(withValue([]byte("a")), withValue([]byte("b"))) {
		t.Fatalf("expected divergent attachment bytes to compare unequal")
	}
}

func TestEqualSetAttachmentClearVsSet(t *testing.T) {
	owner := key("owner")
	cleared := Op{Kind: KindSetAttachment, SetAttachment: &SetAttachment{Owner: owner, Slot: "slot", Value: nil}}
	set := Op{Kind: KindSetAttachment, SetAttachment: &SetAttachment{
		Owner: owner, Slot: "slot",
		Value: &AttachmentValue{Kind: AttachmentWireAtom, TypeID: ident.NewTypeID("t"), Bytes: []byte("x")},
	}}
	if Equal(cleared, set) {
		t.Fatalf("expected a clearing SetAttachment to differ from a value-setting one")
	}
}

func TestKindOrderingMatchesApplicationOrder(t *testing.T) {
	order := []Kind{
		KindOpenPortal, KindUpsertWarpInstance, KindDeleteWarpInstance,
		KindDeleteEdge, KindDeleteNode, KindUpsertNode, KindUpsertEdge, KindSetAttachment,
	}
	for i := 1; i < len(order); i++ {
		if !(order[i-1] < order[i]) {
			t.Fatalf("expected frozen wire tags to be strictly ascending: %v", order)
		}
	}
}
