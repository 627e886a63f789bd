package mutator

import (
	"testing"

	"github.com/orneryd/warpcore/pkg/graph"
	"github.com/orneryd/warpcore/pkg/ident"
	"github.com/orneryd/warpcore/pkg/op"
)

func nodeKey(state *graph.WarpState, s string) ident.NodeKey {
	return ident.NodeKey{Instance: state.Root().Instance, Local: ident.NodeID(ident.Sum(ident.TagNode, []byte(s)))}
}

func TestApplyUpsertNodeThenEdge(t *testing.T) {
	state := graph.NewWarpState()
	a := nodeKey(state, "a")
	b := nodeKey(state, "b")
	edgeID := ident.EdgeID(ident.Sum(ident.TagEdge, []byte("a->b")))

	ops := []op.Op{
		{Kind: op.KindUpsertNode, UpsertNode: &op.UpsertNode{ID: a, Type: ident.NewTypeID("t")}},
		{Kind: op.KindUpsertNode, UpsertNode: &op.UpsertNode{ID: b, Type: ident.NewTypeID("t")}},
		{Kind: op.KindUpsertEdge, UpsertEdge: &op.UpsertEdge{
			ID: ident.EdgeKey{Instance: a.Instance, Local: edgeID}, From: a, To: b, Type: ident.NewTypeID("e"),
		}},
	}
	if err := Apply(state, ops); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	store, _ := state.Instance(a.Instance)
	if !store.HasNode(a.Local) || !store.HasNode(b.Local) {
		t.Fatalf("expected both nodes present")
	}
	if _, ok := store.Edge(edgeID); !ok {
		t.Fatalf("expected edge present")
	}
}

func TestApplyOrdersDeletesBeforeUpserts(t *testing.T) {
	state := graph.NewWarpState()
	a := nodeKey(state, "a")
	store, _ := state.Instance(a.Instance)
	store.InsertNode(a.Local, graph.NodeRecord{})

	// A delete-then-recreate pair in the same batch must apply delete first
	// regardless of slice order, since DeleteNode (kind 0x05) precedes
	// UpsertNode (kind 0x06) in the canonical application order.
	ops := []op.Op{
		{Kind: op.KindUpsertNode, UpsertNode: &op.UpsertNode{ID: a, Type: ident.NewTypeID("t2")}},
		{Kind: op.KindDeleteNode, DeleteNode: &op.DeleteNode{Node: a}},
	}
	if err := Apply(state, ops); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	rec, ok := store.Node(a.Local)
	if !ok {
		t.Fatalf("expected node to exist after delete-then-upsert batch")
	}
	if rec.Type != ident.NewTypeID("t2") {
		t.Fatalf("expected the upsert (applied after the delete) to win")
	}
}

func TestApplyDeleteNodeWithEdgesFails(t *testing.T) {
	state := graph.NewWarpState()
	a := nodeKey(state, "a")
	b := nodeKey(state, "b")
	store, _ := state.Instance(a.Instance)
	store.InsertNode(a.Local, graph.NodeRecord{})
	store.InsertNode(b.Local, graph.NodeRecord{})
	_ = store.UpsertEdge(a.Local, graph.EdgeRecord{ID: ident.EdgeID(ident.Sum(ident.TagEdge, []byte("e"))), From: a.Local, To: b.Local})

	ops := []op.Op{{Kind: op.KindDeleteNode, DeleteNode: &op.DeleteNode{Node: a}}}
	if err := Apply(state, ops); err == nil {
		t.Fatalf("expected delete of a non-isolated node to fail")
	}
}

func TestApplyOpenPortalCreatesChildAndDescendAttachment(t *testing.T) {
	state := graph.NewWarpState()
	owner := state.Root()
	child := graph.NewInstanceID()
	childRoot := ident.NodeID(ident.Sum(ident.TagNode, child[:], []byte("root")))

	ops := []op.Op{{Kind: op.KindOpenPortal, OpenPortal: &op.OpenPortal{
		OwnerKey: owner, Slot: "child", ChildInstance: child, ChildRoot: childRoot,
	}}}
	if err := Apply(state, ops); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	childStore, ok := state.Instance(child)
	if !ok || !childStore.HasNode(childRoot) {
		t.Fatalf("expected child instance with root node to exist")
	}

	ownerStore, _ := state.Instance(owner.Instance)
	att, ok := ownerStore.NodeAttachment(owner.Local, graph.SlotKey("child"))
	if !ok || att.Kind != graph.AttachDescend || att.ChildInstance != child {
		t.Fatalf("expected a Descend attachment pointing at the child instance")
	}

	parent, ok := childStore.Parent()
	if !ok || parent != owner {
		t.Fatalf("expected the child instance's parent to be the portal owner, got %+v ok=%v", parent, ok)
	}
}

func TestApplyDeleteWarpInstanceRejectsWhileReferenced(t *testing.T) {
	state := graph.NewWarpState()
	owner := state.Root()
	child := graph.NewInstanceID()
	childRoot := ident.NodeID(ident.Sum(ident.TagNode, child[:], []byte("root")))

	open := op.Op{Kind: op.KindOpenPortal, OpenPortal: &op.OpenPortal{
		OwnerKey: owner, Slot: "child", ChildInstance: child, ChildRoot: childRoot,
	}}
	if err := Apply(state, []op.Op{open}); err != nil {
		t.Fatalf("Apply open: %v", err)
	}

	del := op.Op{Kind: op.KindDeleteWarpInstance, DeleteWarpInstance: &op.DeleteWarpInstance{InstanceID: child}}
	if err := Apply(state, []op.Op{del}); err == nil {
		t.Fatalf("expected delete of a still-referenced instance to fail")
	}
	if _, ok := state.Instance(child); !ok {
		t.Fatalf("expected the referenced instance to still exist after a rejected delete")
	}
}

func TestApplyDeleteWarpInstanceSucceedsOnceUnreferenced(t *testing.T) {
	state := graph.NewWarpState()
	owner := state.Root()
	child := graph.NewInstanceID()
	childRoot := ident.NodeID(ident.Sum(ident.TagNode, child[:], []byte("root")))

	open := op.Op{Kind: op.KindOpenPortal, OpenPortal: &op.OpenPortal{
		OwnerKey: owner, Slot: "child", ChildInstance: child, ChildRoot: childRoot,
	}}
	if err := Apply(state, []op.Op{open}); err != nil {
		t.Fatalf("Apply open: %v", err)
	}

	// Clearing the owner's portal slot removes the only Descend reference,
	// so the delete that follows must now succeed.
	clear := op.Op{Kind: op.KindSetAttachment, SetAttachment: &op.SetAttachment{Owner: owner, Slot: "child", Value: nil}}
	if err := Apply(state, []op.Op{clear}); err != nil {
		t.Fatalf("Apply clear: %v", err)
	}

	del := op.Op{Kind: op.KindDeleteWarpInstance, DeleteWarpInstance: &op.DeleteWarpInstance{InstanceID: child}}
	if err := Apply(state, []op.Op{del}); err != nil {
		t.Fatalf("expected delete of an unreferenced instance to succeed, got %v", err)
	}
	if _, ok := state.Instance(child); ok {
		t.Fatalf("expected the instance to be gone after delete")
	}
}

func TestApplyUpsertWarpInstanceRecordsParent(t *testing.T) {
	state := graph.NewWarpState()
	parentKey := state.Root()
	fresh := graph.NewInstanceID()

	ops := []op.Op{{Kind: op.KindUpsertWarpInstance, UpsertWarpInstance: &op.UpsertWarpInstance{
		InstanceID: fresh, Parent: &parentKey,
	}}}
	if err := Apply(state, ops); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	store, ok := state.Instance(fresh)
	if !ok {
		t.Fatalf("expected instance to exist")
	}
	got, ok := store.Parent()
	if !ok || got != parentKey {
		t.Fatalf("expected recorded parent %+v, got %+v ok=%v", parentKey, got, ok)
	}
}

func TestApplySetAttachmentClearsOnNilValue(t *testing.T) {
	state := graph.NewWarpState()
	owner := state.Root()
	store, _ := state.Instance(owner.Instance)

	set := op.Op{Kind: op.KindSetAttachment, SetAttachment: &op.SetAttachment{
		Owner: owner, Slot: "s",
		Value: &op.AttachmentValue{Kind: op.AttachmentWireAtom, TypeID: ident.NewTypeID("t"), Bytes: []byte("v")},
	}}
	if err := Apply(state, []op.Op{set}); err != nil {
		t.Fatalf("Apply set: %v", err)
	}
	if _, ok := store.NodeAttachment(owner.Local, graph.SlotKey("s")); !ok {
		t.Fatalf("expected attachment present after set")
	}

	clear := op.Op{Kind: op.KindSetAttachment, SetAttachment: &op.SetAttachment{Owner: owner, Slot: "s", Value: nil}}
	if err := Apply(state, []op.Op{clear}); err != nil {
		t.Fatalf("Apply clear: %v", err)
	}
	if _, ok := store.NodeAttachment(owner.Local, graph.SlotKey("s")); ok {
		t.Fatalf("expected attachment cleared after nil-value set")
	}
}

func TestApplyUpsertEdgeRejectsCrossInstanceEndpoints(t *testing.T) {
	state := graph.NewWarpState()
	a := state.Root()
	otherInstance := graph.NewInstanceID()
	otherStore := state.EnsureInstance(otherInstance)
	bLocal := ident.NodeID(ident.Sum(ident.TagNode, []byte("b")))
	otherStore.InsertNode(bLocal, graph.NodeRecord{})
	b := ident.NodeKey{Instance: otherInstance, Local: bLocal}

	edge := op.Op{Kind: op.KindUpsertEdge, UpsertEdge: &op.UpsertEdge{
		ID: ident.EdgeKey{Instance: a.Instance, Local: ident.EdgeID(ident.Sum(ident.TagEdge, []byte("x")))},
		From: a, To: b, Type: ident.NewTypeID("e"),
	}}
	if err := Apply(state, []op.Op{edge}); err == nil {
		t.Fatalf("expected cross-instance edge endpoints to be rejected")
	}
}
