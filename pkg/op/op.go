// Package op defines the WarpOp taxonomy: the eight staged
// mutation kinds workers emit during execution, their canonical sort keys
// for merge, and their fixed application order. Each kind has a stable byte
// layout keyed by its wire tag, in the style of a fixed per-record-type log
// encoding.
package op

import "github.com/orneryd/warpcore/pkg/ident"

// Kind is the WarpOp discriminant. Values are frozen wire tags
// and double as the canonical application order: ascending Kind is the
// order the mutator (pkg/mutator) applies merged ops in.
type Kind uint8

const (
	KindOpenPortal         Kind = 0x01
	KindUpsertWarpInstance Kind = 0x02
	KindDeleteWarpInstance Kind = 0x03
	KindDeleteEdge         Kind = 0x04
	KindDeleteNode         Kind = 0x05
	KindUpsertNode         Kind = 0x06
	KindUpsertEdge         Kind = 0x07
	KindSetAttachment      Kind = 0x08
)

// AttachmentWireKind tags which AttachmentValue variant is on the wire.
type AttachmentWireKind uint8

const (
	AttachmentWireAtom    AttachmentWireKind = 0x01
	AttachmentWireDescend AttachmentWireKind = 0x02
)

// AttachmentValue is the wire/in-memory form of an attachment payload
// carried by SetAttachment or OpenPortal's init field.
type AttachmentValue struct {
	Kind     AttachmentWireKind
	TypeID   ident.TypeID // set when Kind == AttachmentWireAtom
	Bytes    []byte       // set when Kind == AttachmentWireAtom
	Instance ident.InstanceID // set when Kind == AttachmentWireDescend
}

// Op is the sum type of every WarpOp variant. Exactly one of
// the embedded payload structs is meaningful, selected by Kind.
type Op struct {
	Kind Kind

	OpenPortal         *OpenPortal
	UpsertWarpInstance *UpsertWarpInstance
	DeleteWarpInstance *DeleteWarpInstance
	DeleteEdge         *DeleteEdge
	DeleteNode         *DeleteNode
	UpsertNode         *UpsertNode
	UpsertEdge         *UpsertEdge
	SetAttachment      *SetAttachment
}

// OpenPortal creates a child instance and root node if absent, and sets the
// owner's attachment slot to Descend(child_instance).
type OpenPortal struct {
	OwnerKey      ident.NodeKey
	Slot          string
	ChildInstance ident.InstanceID
	ChildRoot     ident.NodeID
	Init          *AttachmentValue
}

// UpsertWarpInstance creates or updates an instance header.
type UpsertWarpInstance struct {
	InstanceID ident.InstanceID
	Parent     *ident.NodeKey
}

// DeleteWarpInstance deletes an instance; it must be unreferenced.
type DeleteWarpInstance struct {
	InstanceID ident.InstanceID
}

// DeleteEdge deletes an edge from the `from` bucket.
type DeleteEdge struct {
	From ident.NodeKey
	Edge ident.EdgeID
}

// DeleteNode deletes a node; fails unless edge-isolated.
type DeleteNode struct {
	Node ident.NodeKey
}

// UpsertNode creates or replaces a node record.
type UpsertNode struct {
	ID   ident.NodeKey
	Type ident.TypeID
}

// UpsertEdge creates or replaces an edge record.
type UpsertEdge struct {
	ID   ident.EdgeKey
	From ident.NodeKey
	To   ident.NodeKey
	Type ident.TypeID
}

// SetAttachment sets or clears an attachment slot on a node or edge owner.
type SetAttachment struct {
	Owner  ident.NodeKey
	IsEdge bool
	Edge   ident.EdgeKey
	Slot   string
	Value  *AttachmentValue // nil clears the slot
}

// Origin stamps an emitted op with its provenance:
// which intent, rule, match, and emission-order index produced it.
type Origin struct {
	IntentID      ident.Hash
	CompactRuleID uint32
	MatchIndex    uint32
	OpIndex       uint32
}

// Less orders origins for the merge sort's tie-break, applied after
// (op_sort_key) ties.
func (o Origin) Less(other Origin) bool {
	if o.IntentID != other.IntentID {
		return o.IntentID.Less(other.IntentID)
	}
	if o.CompactRuleID != other.CompactRuleID {
		return o.CompactRuleID < other.CompactRuleID
	}
	if o.MatchIndex != other.MatchIndex {
		return o.MatchIndex < other.MatchIndex
	}
	return o.OpIndex < other.OpIndex
}

// SortKey is the fixed tuple (kind_tag, primary_id_bytes, secondary_id_bytes,
// tertiary_id_bytes) that establishes the canonical merge and application
// order. Kind doubles as the canonical application order the mutator
// applies merged ops in.
type SortKey struct {
	Kind                         Kind
	Primary, Secondary, Tertiary [32]byte
}

// Less orders sort keys lexicographically by (Kind, Primary, Secondary, Tertiary).
func (k SortKey) Less(o SortKey) bool {
	if k.Kind != o.Kind {
		return k.Kind < o.Kind
	}
	if k.Primary != o.Primary {
		return bytesLess(k.Primary[:], o.Primary[:])
	}
	if k.Secondary != o.Secondary {
		return bytesLess(k.Secondary[:], o.Secondary[:])
	}
	return bytesLess(k.Tertiary[:], o.Tertiary[:])
}

func bytesLess(a, b []byte) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// Key computes the canonical sort key for o. Every variant picks a stable
// (primary, secondary, tertiary) id triple from its own fields; unused
// slots stay zero.
func (o Op) Key() SortKey {
	k := SortKey{Kind: o.Kind}
	switch o.Kind {
	case KindOpenPortal:
		k.Primary = [32]byte(o.OpenPortal.OwnerKey.Instance)
		k.Secondary = [32]byte(o.OpenPortal.OwnerKey.Local)
		k.Tertiary = [32]byte(ident.Sum(ident.TagNode, []byte(o.OpenPortal.Slot)))
	case KindUpsertWarpInstance:
		k.Primary = [32]byte(o.UpsertWarpInstance.InstanceID)
	case KindDeleteWarpInstance:
		k.Primary = [32]byte(o.DeleteWarpInstance.InstanceID)
	case KindDeleteEdge:
		k.Primary = [32]byte(o.DeleteEdge.From.Instance)
		k.Secondary = [32]byte(o.DeleteEdge.Edge)
	case KindDeleteNode:
		k.Primary = [32]byte(o.DeleteNode.Node.Instance)
		k.Secondary = [32]byte(o.DeleteNode.Node.Local)
	case KindUpsertNode:
		k.Primary = [32]byte(o.UpsertNode.ID.Instance)
		k.Secondary = [32]byte(o.UpsertNode.ID.Local)
	case KindUpsertEdge:
		k.Primary = [32]byte(o.UpsertEdge.ID.Instance)
		k.Secondary = [32]byte(o.UpsertEdge.ID.Local)
	case KindSetAttachment:
		k.Primary = [32]byte(o.SetAttachment.Owner.Instance)
		if o.SetAttachment.IsEdge {
			k.Secondary = [32]byte(o.SetAttachment.Edge.Local)
		} else {
			k.Secondary = [32]byte(o.SetAttachment.Owner.Local)
		}
		k.Tertiary = [32]byte(ident.Sum(ident.TagNode, []byte(o.SetAttachment.Slot)))
	}
	return k
}

// Equal reports whether two ops are value-equal. A merge run of ops sharing
// a sort key must all be Equal to each other, or the merge reports a
// conflict rather than guessing which one wins.
func Equal(a, b Op) bool {
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case KindOpenPortal:
		return equalOpenPortal(*a.OpenPortal, *b.OpenPortal)
	case KindUpsertWarpInstance:
		return equalUpsertWarpInstance(*a.UpsertWarpInstance, *b.UpsertWarpInstance)
	case KindDeleteWarpInstance:
		return *a.DeleteWarpInstance == *b.DeleteWarpInstance
	case KindDeleteEdge:
		return *a.DeleteEdge == *b.DeleteEdge
	case KindDeleteNode:
		return *a.DeleteNode == *b.DeleteNode
	case KindUpsertNode:
		return *a.UpsertNode == *b.UpsertNode
	case KindUpsertEdge:
		return *a.UpsertEdge == *b.UpsertEdge
	case KindSetAttachment:
		return equalSetAttachment(*a.SetAttachment, *b.SetAttachment)
	}
	return false
}

func equalAttachmentValue(a, b *AttachmentValue) bool {
	if (a == nil) != (b == nil) {
		return false
	}
	if a == nil {
		return true
	}
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case AttachmentWireAtom:
		return a.TypeID == b.TypeID && string(a.Bytes) == string(b.Bytes)
	case AttachmentWireDescend:
		return a.Instance == b.Instance
	}
	return false
}

func equalOpenPortal(a, b OpenPortal) bool {
	return a.OwnerKey == b.OwnerKey && a.Slot == b.Slot && a.ChildInstance == b.ChildInstance &&
		a.ChildRoot == b.ChildRoot && equalAttachmentValue(a.Init, b.Init)
}

func equalUpsertWarpInstance(a, b UpsertWarpInstance) bool {
	if a.InstanceID != b.InstanceID {
		return false
	}
	if (a.Parent == nil) != (b.Parent == nil) {
		return false
	}
	if a.Parent == nil {
		return true
	}
	return *a.Parent == *b.Parent
}

func equalSetAttachment(a, b SetAttachment) bool {
	return a.Owner == b.Owner && a.IsEdge == b.IsEdge && a.Edge == b.Edge && a.Slot == b.Slot &&
		equalAttachmentValue(a.Value, b.Value)
}
