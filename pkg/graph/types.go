// Package graph implements the two-plane graph state model: a skeleton of
// nodes and edges, and a typed attachment plane keyed by (owner, slot).
//
// Two-plane law: skeleton structure is the only thing visible to
// matching, scheduling, hashing reachability, and slicing. The bytes inside
// an Atom attachment are opaque to everything except the rule that declared
// a read of that slot in its footprint. The only engine-recognized
// structural marker inside the attachment plane is Descend(child_instance).
//
// Node/Edge/Store follow a labeled-property-graph shape with deterministic
// accessors (the store itself does no locking), generalized from a single instance
// into an ordered multi-instance WarpState with a designated root, and from
// free-form properties into the skeleton/attachment split needed for
// content addressing.
package graph

import (
	"errors"
	"sort"

	"github.com/google/uuid"

	"github.com/orneryd/warpcore/pkg/ident"
)

// Typed errors for mutation failures. Callers propagate these
// upward; no partial mutation occurs on failure.
var (
	ErrUnknownWarp       = errors.New("graph: unknown instance")
	ErrNodeHasEdges      = errors.New("graph: node has incident edges")
	ErrEdgeBucketMismatch = errors.New("graph: edge id not present in from-bucket")
	ErrUnknownNode       = errors.New("graph: unknown node")
	ErrUnknownEdge       = errors.New("graph: unknown edge")
	ErrEdgeEndpointMissing = errors.New("graph: edge endpoint missing")
)

// NodeRecord is the skeleton record for a node: just its type. Everything
// else about a node lives in the attachment plane.
type NodeRecord struct {
	Type ident.TypeID
}

// EdgeRecord is the skeleton record for an edge.
type EdgeRecord struct {
	ID   ident.EdgeID
	From ident.NodeID
	To   ident.NodeID
	Type ident.TypeID
}

// AttachmentKind distinguishes an opaque Atom from a structural Descend marker.
type AttachmentKind uint8

const (
	// AttachAtom carries opaque typed bytes — invisible to scheduling/matching
	// unless a rule declares an explicit attachment read in its footprint.
	AttachAtom AttachmentKind = 0x01
	// AttachDescend is the one engine-recognized structural marker inside the
	// attachment plane: a pointer to a child graph instance.
	AttachDescend AttachmentKind = 0x02
)

// Attachment is the value stored at (owner element, slot key).
type Attachment struct {
	Kind AttachmentKind

	// Set when Kind == AttachAtom.
	AtomType  ident.TypeID
	AtomBytes []byte

	// Set when Kind == AttachDescend.
	ChildInstance ident.InstanceID
}

// Atom constructs an opaque Atom attachment.
func Atom(typeID ident.TypeID, bytes []byte) Attachment {
	return Attachment{Kind: AttachAtom, AtomType: typeID, AtomBytes: bytes}
}

// Descend constructs a portal attachment pointing at a child instance.
func Descend(child ident.InstanceID) Attachment {
	return Attachment{Kind: AttachDescend, ChildInstance: child}
}

// SlotKey identifies an attachment slot on an owning node or edge.
type SlotKey string

// ownerKind distinguishes which id-space an attachment owner belongs to.
type ownerKind uint8

const (
	ownerNode ownerKind = iota
	ownerEdge
)

type attachmentOwner struct {
	kind ownerKind
	node ident.NodeID
	edge ident.EdgeID
	slot SlotKey
}

// NewInstanceID allocates a fresh InstanceID; NewWarpState uses it for the
// genesis instance (the builtin PortalOpen rule derives its child ids instead).
// Unlike NodeID/EdgeID/TypeID, an InstanceID is not derived from its
// contents — it only needs to be allocated once and never mutated. We mint
// a UUIDv4 and fold it through the domain-separated hash
// so the resulting 32 bytes are still a Hash value like every other
// identifier in the system, and so two genesis calls can never collide.
func NewInstanceID() ident.InstanceID {
	id := uuid.New()
	return ident.InstanceID(ident.Sum(ident.TagInstance, id[:]))
}

// GraphStore is the per-instance storage of the skeleton and attachment
// plane, owned by exactly one Instance within a WarpState.
type GraphStore struct {
	nodes map[ident.NodeID]NodeRecord
	// edgesFrom/edgesTo index edges by source and destination respectively.
	edgesFrom map[ident.NodeID]map[ident.EdgeID]EdgeRecord
	edgesTo   map[ident.NodeID]map[ident.EdgeID]EdgeRecord
	edgeIndex map[ident.EdgeID]ident.NodeID // edge id -> its "from" bucket

	attachments map[attachmentOwner]Attachment

	// root is the instance's own designated entry point — the top-level
	// WarpState root for the genesis instance, or the node OpenPortal minted
	// as ChildRoot for a portal-created instance. Unset for an instance that
	// was created via UpsertWarpInstance without ever being opened as a
	// portal target.
	root    ident.NodeID
	hasRoot bool

	// parent is the node key owning the Descend attachment that reached this
	// instance — set when a portal opens onto it, or explicitly via
	// UpsertWarpInstance. Unset for the genesis instance, which has no
	// parent by construction.
	parent    ident.NodeKey
	hasParent bool
}

// NewGraphStore returns an empty GraphStore.
func NewGraphStore() *GraphStore {
	return &GraphStore{
		nodes:       make(map[ident.NodeID]NodeRecord),
		edgesFrom:   make(map[ident.NodeID]map[ident.EdgeID]EdgeRecord),
		edgesTo:     make(map[ident.NodeID]map[ident.EdgeID]EdgeRecord),
		edgeIndex:   make(map[ident.EdgeID]ident.NodeID),
		attachments: make(map[attachmentOwner]Attachment),
	}
}

// SetRoot records this instance's own designated entry point node. Called
// once at genesis and once per portal open; idempotent for the same id.
func (g *GraphStore) SetRoot(id ident.NodeID) {
	g.root, g.hasRoot = id, true
}

// RootNode returns the instance's designated entry point, if one has been
// recorded via SetRoot.
func (g *GraphStore) RootNode() (ident.NodeID, bool) {
	return g.root, g.hasRoot
}

// SetParent records the node key owning the Descend attachment that reached
// this instance. Called once per portal open; a nil key clears it.
func (g *GraphStore) SetParent(key *ident.NodeKey) {
	if key == nil {
		g.parent, g.hasParent = ident.NodeKey{}, false
		return
	}
	g.parent, g.hasParent = *key, true
}

// Parent returns the instance's recorded parent attachment key, if any.
func (g *GraphStore) Parent() (ident.NodeKey, bool) {
	return g.parent, g.hasParent
}

// InsertNode creates or replaces a node record.
func (g *GraphStore) InsertNode(id ident.NodeID, rec NodeRecord) {
	g.nodes[id] = rec
}

// HasNode reports whether id exists in this store.
func (g *GraphStore) HasNode(id ident.NodeID) bool {
	_, ok := g.nodes[id]
	return ok
}

// Node returns the node record for id, if present.
func (g *GraphStore) Node(id ident.NodeID) (NodeRecord, bool) {
	rec, ok := g.nodes[id]
	return rec, ok
}

// DeleteNodeIsolated removes a node, failing if any edge still touches it.
func (g *GraphStore) DeleteNodeIsolated(id ident.NodeID) error {
	if !g.HasNode(id) {
		return ErrUnknownNode
	}
	if len(g.edgesFrom[id]) > 0 || len(g.edgesTo[id]) > 0 {
		return ErrNodeHasEdges
	}
	delete(g.nodes, id)
	delete(g.edgesFrom, id)
	delete(g.edgesTo, id)
	return nil
}

// UpsertEdge creates or replaces an edge record in the `from` bucket,
// validating both endpoints exist.
func (g *GraphStore) UpsertEdge(from ident.NodeID, rec EdgeRecord) error {
	if !g.HasNode(from) || !g.HasNode(rec.To) {
		return ErrEdgeEndpointMissing
	}
	if existingFrom, ok := g.edgeIndex[rec.ID]; ok && existingFrom != from {
		// Moving an edge's source bucket would violate the "indexed both by
		// source and destination" invariant silently; remove the old entry.
		if bucket, ok := g.edgesFrom[existingFrom]; ok {
			if old, ok := bucket[rec.ID]; ok {
				delete(g.edgesTo[old.To], rec.ID)
			}
			delete(bucket, rec.ID)
		}
	}

	if g.edgesFrom[from] == nil {
		g.edgesFrom[from] = make(map[ident.EdgeID]EdgeRecord)
	}
	g.edgesFrom[from][rec.ID] = rec
	if g.edgesTo[rec.To] == nil {
		g.edgesTo[rec.To] = make(map[ident.EdgeID]EdgeRecord)
	}
	g.edgesTo[rec.To][rec.ID] = rec
	g.edgeIndex[rec.ID] = from
	return nil
}

// DeleteEdge removes edgeID from the `from` bucket, validating it is present
// there.
func (g *GraphStore) DeleteEdge(from ident.NodeID, edgeID ident.EdgeID) error {
	bucket, ok := g.edgesFrom[from]
	if !ok {
		return ErrEdgeBucketMismatch
	}
	rec, ok := bucket[edgeID]
	if !ok {
		return ErrEdgeBucketMismatch
	}
	delete(bucket, edgeID)
	delete(g.edgesTo[rec.To], edgeID)
	delete(g.edgeIndex, edgeID)
	return nil
}

// Edge looks up an edge by id regardless of bucket.
func (g *GraphStore) Edge(id ident.EdgeID) (EdgeRecord, bool) {
	from, ok := g.edgeIndex[id]
	if !ok {
		return EdgeRecord{}, false
	}
	rec, ok := g.edgesFrom[from][id]
	return rec, ok
}

// SetNodeAttachment sets (or clears, when value is nil) the attachment at
// slot on node id.
func (g *GraphStore) SetNodeAttachment(id ident.NodeID, slot SlotKey, value *Attachment) {
	owner := attachmentOwner{kind: ownerNode, node: id, slot: slot}
	g.setAttachment(owner, value)
}

// SetEdgeAttachment sets (or clears) the attachment at slot on edge id.
func (g *GraphStore) SetEdgeAttachment(id ident.EdgeID, slot SlotKey, value *Attachment) {
	owner := attachmentOwner{kind: ownerEdge, edge: id, slot: slot}
	g.setAttachment(owner, value)
}

func (g *GraphStore) setAttachment(owner attachmentOwner, value *Attachment) {
	if value == nil {
		delete(g.attachments, owner)
		return
	}
	g.attachments[owner] = *value
}

// NodeAttachment returns the attachment at slot on node id, if present.
func (g *GraphStore) NodeAttachment(id ident.NodeID, slot SlotKey) (Attachment, bool) {
	v, ok := g.attachments[attachmentOwner{kind: ownerNode, node: id, slot: slot}]
	return v, ok
}

// EdgeAttachment returns the attachment at slot on edge id, if present.
func (g *GraphStore) EdgeAttachment(id ident.EdgeID, slot SlotKey) (Attachment, bool) {
	v, ok := g.attachments[attachmentOwner{kind: ownerEdge, edge: id, slot: slot}]
	return v, ok
}

// NodeAttachmentSlots returns every slot key set on node id, in ascending
// order. Used by hashing to enumerate the full attachment set of a node
// deterministically without assuming well-known slot names.
func (g *GraphStore) NodeAttachmentSlots(id ident.NodeID) []SlotKey {
	return g.ownerSlots(attachmentOwner{kind: ownerNode, node: id})
}

// EdgeAttachmentSlots returns every slot key set on edge id, in ascending order.
func (g *GraphStore) EdgeAttachmentSlots(id ident.EdgeID) []SlotKey {
	return g.ownerSlots(attachmentOwner{kind: ownerEdge, edge: id})
}

func (g *GraphStore) ownerSlots(prefix attachmentOwner) []SlotKey {
	var slots []SlotKey
	for owner := range g.attachments {
		if owner.kind != prefix.kind || owner.node != prefix.node || owner.edge != prefix.edge {
			continue
		}
		slots = append(slots, owner.slot)
	}
	sort.Slice(slots, func(i, j int) bool { return slots[i] < slots[j] })
	return slots
}

// SortedNodeIDs returns every node id in ascending order, for deterministic
// iteration over map-backed storage.
func (g *GraphStore) SortedNodeIDs() []ident.NodeID {
	ids := make([]ident.NodeID, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].Less(ids[j]) })
	return ids
}

// SortedOutgoingEdgeIDs returns the edge ids in the `from` bucket for a
// source node, in ascending order.
func (g *GraphStore) SortedOutgoingEdgeIDs(from ident.NodeID) []ident.EdgeID {
	bucket := g.edgesFrom[from]
	ids := make([]ident.EdgeID, 0, len(bucket))
	for id := range bucket {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].Less(ids[j]) })
	return ids
}

// NodesWithOutgoingEdges returns, in ascending NodeID order, every source
// node that has at least one outgoing edge.
func (g *GraphStore) NodesWithOutgoingEdges() []ident.NodeID {
	ids := make([]ident.NodeID, 0, len(g.edgesFrom))
	for id, bucket := range g.edgesFrom {
		if len(bucket) > 0 {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].Less(ids[j]) })
	return ids
}
