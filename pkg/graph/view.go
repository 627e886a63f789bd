package graph

import "github.com/orneryd/warpcore/pkg/ident"

// View is a read-only handle onto a WarpState, bound to the instance a rule
// is currently scoped to. Rule matchers, footprint computers, and executors
// receive a View; they never get a mutable handle to state.
type View struct {
	state    *WarpState
	instance ident.InstanceID
}

// NewView binds a read-only view of state to a specific instance.
func NewView(state *WarpState, instance ident.InstanceID) View {
	return View{state: state, instance: instance}
}

// Instance returns the instance id this view is bound to.
func (v View) Instance() ident.InstanceID { return v.instance }

// Root returns the WarpState's designated root key (readable from any view,
// since descent-stack footprint augmentation needs to walk back to it).
func (v View) Root() ident.NodeKey { return v.state.Root() }

// Node looks up a node record in the bound instance.
func (v View) Node(id ident.NodeID) (NodeRecord, bool) {
	store, ok := v.state.Instance(v.instance)
	if !ok {
		return NodeRecord{}, false
	}
	return store.Node(id)
}

// Edge looks up an edge record in the bound instance.
func (v View) Edge(id ident.EdgeID) (EdgeRecord, bool) {
	store, ok := v.state.Instance(v.instance)
	if !ok {
		return EdgeRecord{}, false
	}
	return store.Edge(id)
}

// NodeAttachment looks up a node's attachment slot in the bound instance.
func (v View) NodeAttachment(id ident.NodeID, slot SlotKey) (Attachment, bool) {
	store, ok := v.state.Instance(v.instance)
	if !ok {
		return Attachment{}, false
	}
	return store.NodeAttachment(id, slot)
}

// EdgeAttachment looks up an edge's attachment slot in the bound instance.
func (v View) EdgeAttachment(id ident.EdgeID, slot SlotKey) (Attachment, bool) {
	store, ok := v.state.Instance(v.instance)
	if !ok {
		return Attachment{}, false
	}
	return store.EdgeAttachment(id, slot)
}

// InOtherInstance returns a view rebound to a different instance, used when
// a rule's scope descends through a portal chain.
func (v View) InOtherInstance(instance ident.InstanceID) View {
	return View{state: v.state, instance: instance}
}

// AttachmentAt returns a NodeAttachment lookup into an arbitrary instance,
// used by descent-stack footprint augmentation to read portal slots on the
// path from root to the scoped instance without rebinding the whole view.
func (v View) AttachmentAt(key ident.NodeKey, slot SlotKey) (Attachment, bool) {
	store, ok := v.state.Instance(key.Instance)
	if !ok {
		return Attachment{}, false
	}
	return store.NodeAttachment(key.Local, slot)
}
