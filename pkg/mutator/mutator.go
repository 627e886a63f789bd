// Package mutator applies a merged, canonically-ordered op list to a
// WarpState. Deletes precede upserts; every op kind is applied in a single
// fixed order regardless of input order, so mutator re-groups defensively
// rather than trusting caller order. Single-writer, typed errors; a failed
// Apply leaves earlier ops applied, so callers that must hide partial
// application apply to a clone (see Apply).
package mutator

import (
	"errors"
	"fmt"

	"github.com/orneryd/warpcore/pkg/graph"
	"github.com/orneryd/warpcore/pkg/ident"
	"github.com/orneryd/warpcore/pkg/op"
)

// ErrInstanceReferenced is returned when DeleteWarpInstance targets an
// instance still reachable via a Descend attachment elsewhere in the state.
var ErrInstanceReferenced = errors.New("mutator: instance still referenced, refusing delete")

// Apply applies ops to state in the fixed kind order: OpenPortal,
// UpsertWarpInstance, DeleteWarpInstance, DeleteEdge, DeleteNode, UpsertNode,
// UpsertEdge, SetAttachment. It does not assume ops already arrives in that
// order — it buckets defensively and walks each bucket in original relative
// order, so a merge output (already in canonical order) is applied as is.
//
// On the first error, Apply stops and returns it; state may already reflect
// every op applied before the failing one. Callers that need all-or-
// nothing semantics across a whole tick must Apply against a WarpState.Clone
// and only adopt it on success.
func Apply(state *graph.WarpState, ops []op.Op) error {
	buckets := make(map[op.Kind][]op.Op, 8)
	order := []op.Kind{
		op.KindOpenPortal, op.KindUpsertWarpInstance, op.KindDeleteWarpInstance,
		op.KindDeleteEdge, op.KindDeleteNode, op.KindUpsertNode, op.KindUpsertEdge,
		op.KindSetAttachment,
	}
	for _, o := range ops {
		buckets[o.Kind] = append(buckets[o.Kind], o)
	}

	for _, kind := range order {
		for _, o := range buckets[kind] {
			if err := applyOne(state, o); err != nil {
				return fmt.Errorf("mutator: applying %v: %w", kind, err)
			}
		}
	}
	return nil
}

func applyOne(state *graph.WarpState, o op.Op) error {
	switch o.Kind {
	case op.KindOpenPortal:
		return applyOpenPortal(state, o.OpenPortal)
	case op.KindUpsertWarpInstance:
		return applyUpsertWarpInstance(state, o.UpsertWarpInstance)
	case op.KindDeleteWarpInstance:
		return applyDeleteWarpInstance(state, o.DeleteWarpInstance)
	case op.KindDeleteEdge:
		return applyDeleteEdge(state, o.DeleteEdge)
	case op.KindDeleteNode:
		return applyDeleteNode(state, o.DeleteNode)
	case op.KindUpsertNode:
		return applyUpsertNode(state, o.UpsertNode)
	case op.KindUpsertEdge:
		return applyUpsertEdge(state, o.UpsertEdge)
	case op.KindSetAttachment:
		return applySetAttachment(state, o.SetAttachment)
	}
	return fmt.Errorf("mutator: unknown op kind %d", o.Kind)
}

func applyOpenPortal(state *graph.WarpState, p *op.OpenPortal) error {
	owner, ok := state.Instance(p.OwnerKey.Instance)
	if !ok {
		return graph.ErrUnknownWarp
	}
	if !owner.HasNode(p.OwnerKey.Local) {
		return graph.ErrUnknownNode
	}

	child := state.EnsureInstance(p.ChildInstance)
	if !child.HasNode(p.ChildRoot) {
		child.InsertNode(p.ChildRoot, graph.NodeRecord{})
	}
	child.SetRoot(p.ChildRoot)
	child.SetParent(&p.OwnerKey)

	value := toAttachment(&op.AttachmentValue{Kind: op.AttachmentWireDescend, Instance: p.ChildInstance})
	if p.Init != nil && p.Init.Kind == op.AttachmentWireAtom {
		// An explicit Init atom overrides the implicit Descend marker only
		// when the caller deliberately supplied one; otherwise the portal's
		// own Descend pointer is the attachment value.
		value = toAttachment(p.Init)
	}
	owner.SetNodeAttachment(p.OwnerKey.Local, portalSlot(p.Slot), value)
	return nil
}

func applyUpsertWarpInstance(state *graph.WarpState, u *op.UpsertWarpInstance) error {
	store := state.EnsureInstance(u.InstanceID)
	store.SetParent(u.Parent)
	return nil
}

func applyDeleteWarpInstance(state *graph.WarpState, d *op.DeleteWarpInstance) error {
	if instanceReferenced(state, d.InstanceID) {
		return ErrInstanceReferenced
	}
	state.DeleteInstance(d.InstanceID)
	return nil
}

// instanceReferenced scans every instance's node attachments for a Descend
// marker pointing at target (edge attachments are not scanned), so a delete cannot strand a dangling portal
// pointer elsewhere in the state.
func instanceReferenced(state *graph.WarpState, target ident.InstanceID) bool {
	for _, instID := range state.SortedInstanceIDs() {
		store, ok := state.Instance(instID)
		if !ok {
			continue
		}
		for _, nodeID := range store.SortedNodeIDs() {
			for _, slot := range store.NodeAttachmentSlots(nodeID) {
				att, ok := store.NodeAttachment(nodeID, slot)
				if ok && att.Kind == graph.AttachDescend && att.ChildInstance == target {
					return true
				}
			}
		}
	}
	return false
}

func applyDeleteEdge(state *graph.WarpState, d *op.DeleteEdge) error {
	store, ok := state.Instance(d.From.Instance)
	if !ok {
		return graph.ErrUnknownWarp
	}
	return store.DeleteEdge(d.From.Local, d.Edge)
}

func applyDeleteNode(state *graph.WarpState, d *op.DeleteNode) error {
	store, ok := state.Instance(d.Node.Instance)
	if !ok {
		return graph.ErrUnknownWarp
	}
	return store.DeleteNodeIsolated(d.Node.Local)
}

func applyUpsertNode(state *graph.WarpState, u *op.UpsertNode) error {
	store := state.EnsureInstance(u.ID.Instance)
	store.InsertNode(u.ID.Local, graph.NodeRecord{Type: u.Type})
	return nil
}

func applyUpsertEdge(state *graph.WarpState, u *op.UpsertEdge) error {
	if u.ID.Instance != u.From.Instance || u.ID.Instance != u.To.Instance {
		return fmt.Errorf("mutator: edge endpoints must share the edge's instance")
	}
	store, ok := state.Instance(u.ID.Instance)
	if !ok {
		return graph.ErrUnknownWarp
	}
	return store.UpsertEdge(u.From.Local, graph.EdgeRecord{
		ID: u.ID.Local, From: u.From.Local, To: u.To.Local, Type: u.Type,
	})
}

func applySetAttachment(state *graph.WarpState, s *op.SetAttachment) error {
	store, ok := state.Instance(s.Owner.Instance)
	if !ok {
		return graph.ErrUnknownWarp
	}
	value := toAttachment(s.Value)
	if s.IsEdge {
		store.SetEdgeAttachment(s.Edge.Local, graph.SlotKey(s.Slot), value)
		return nil
	}
	store.SetNodeAttachment(s.Owner.Local, graph.SlotKey(s.Slot), value)
	return nil
}

// portalSlot names the attachment slot a portal's Descend marker lives at.
func portalSlot(slot string) graph.SlotKey { return graph.SlotKey(slot) }

func toAttachment(v *op.AttachmentValue) *graph.Attachment {
	if v == nil {
		return nil
	}
	switch v.Kind {
	case op.AttachmentWireAtom:
		a := graph.Atom(v.TypeID, v.Bytes)
		return &a
	case op.AttachmentWireDescend:
		a := graph.Descend(v.Instance)
		return &a
	}
	return nil
}
