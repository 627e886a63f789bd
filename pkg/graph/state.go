package graph

import (
	"sort"

	"github.com/orneryd/warpcore/pkg/ident"
)

// WarpState is an ordered map InstanceId -> GraphStore with a designated
// root (instance id + local node id), owned by the engine.
type WarpState struct {
	instances map[ident.InstanceID]*GraphStore
	root      ident.NodeKey
}

// NewWarpState creates a WarpState with a freshly allocated genesis
// instance and root node already present, matching the "empty tick" demo
// scenario: hashing an empty WarpState must
// still resolve a root instance and root node.
func NewWarpState() *WarpState {
	ws := &WarpState{instances: make(map[ident.InstanceID]*GraphStore)}
	rootInstance := NewInstanceID()
	rootNode := ident.NodeID(ident.Sum(ident.TagNode, rootInstance[:], []byte("genesis-root")))

	store := NewGraphStore()
	store.InsertNode(rootNode, NodeRecord{})
	store.SetRoot(rootNode)
	ws.instances[rootInstance] = store
	ws.root = ident.NodeKey{Instance: rootInstance, Local: rootNode}
	return ws
}

// Root returns the designated root node key.
func (ws *WarpState) Root() ident.NodeKey { return ws.root }

// Instance returns the GraphStore for id, if it exists.
func (ws *WarpState) Instance(id ident.InstanceID) (*GraphStore, bool) {
	s, ok := ws.instances[id]
	return s, ok
}

// EnsureInstance returns the GraphStore for id, creating an empty one if
// absent. Used by OpenPortal/UpsertWarpInstance application.
func (ws *WarpState) EnsureInstance(id ident.InstanceID) *GraphStore {
	if s, ok := ws.instances[id]; ok {
		return s
	}
	s := NewGraphStore()
	ws.instances[id] = s
	return s
}

// DeleteInstance removes instance id. Caller must have already verified it
// is unreferenced.
func (ws *WarpState) DeleteInstance(id ident.InstanceID) {
	delete(ws.instances, id)
}

// SortedInstanceIDs returns every instance id in ascending order.
func (ws *WarpState) SortedInstanceIDs() []ident.InstanceID {
	ids := make([]ident.InstanceID, 0, len(ws.instances))
	for id := range ws.instances {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].Less(ids[j]) })
	return ids
}

// Clone returns a deep copy of the state, used for diagnostic before/after
// diffing without holding a reference into the live
// state a concurrent commit might mutate.
func (ws *WarpState) Clone() *WarpState {
	out := &WarpState{instances: make(map[ident.InstanceID]*GraphStore, len(ws.instances)), root: ws.root}
	for id, store := range ws.instances {
		clone := NewGraphStore()
		if root, ok := store.RootNode(); ok {
			clone.SetRoot(root)
		}
		if parent, ok := store.Parent(); ok {
			clone.SetParent(&parent)
		}
		for nodeID, rec := range store.nodes {
			clone.nodes[nodeID] = rec
		}
		for from, bucket := range store.edgesFrom {
			nb := make(map[ident.EdgeID]EdgeRecord, len(bucket))
			for eid, rec := range bucket {
				nb[eid] = rec
			}
			clone.edgesFrom[from] = nb
		}
		for to, bucket := range store.edgesTo {
			nb := make(map[ident.EdgeID]EdgeRecord, len(bucket))
			for eid, rec := range bucket {
				nb[eid] = rec
			}
			clone.edgesTo[to] = nb
		}
		for eid, from := range store.edgeIndex {
			clone.edgeIndex[eid] = from
		}
		for owner, att := range store.attachments {
			clone.attachments[owner] = att
		}
		out.instances[id] = clone
	}
	return out
}
