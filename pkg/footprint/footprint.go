// Package footprint implements the declarative read/write-set model rules
// use to declare their effect on state, and the independence
// check the scheduler uses to decide whether two candidate rewrites may run
// concurrently.
//
// Grounded on other_examples' eth2030 parallel-executor ConflictDetector
// (storage-key-level read/write set tracking for optimistic concurrency),
// generalized from one flat key axis to five axes: nodes, edges,
// attachments, boundary ports, and a coarse factor mask.
package footprint

import (
	"sort"

	"github.com/orneryd/warpcore/pkg/ident"
)

// PortKey identifies a boundary port — a named attachment slot on a node
// that crosses an instance boundary during descent. Portal slots on the
// path to a descended scope are treated as reads of that port.
type PortKey struct {
	Node ident.NodeKey
	Slot string
}

// AttachmentKey identifies an attachment read/write target whose owner may be
// a node or an edge; IsEdge says which of Owner and EdgeOwner applies.
type AttachmentKey struct {
	Owner ident.NodeKey // zero Instance+Local pair is never valid on its own;
	// EdgeOwner is set instead when the owner is an edge.
	EdgeOwner ident.EdgeKey
	IsEdge    bool
	Slot      string
}

// Footprint is the declarative read/write set emitted by a rule for a given
// scope, plus a coarse factor mask used as a cheap prefilter before the
// precise axis comparisons.
type Footprint struct {
	NRead, NWrite []ident.NodeKey
	ERead, EWrite []ident.EdgeKey
	ARead, AWrite []AttachmentKey
	PortsIn       []PortKey
	PortsOut      []PortKey
	FactorMask    uint64
}

// Builder accumulates footprint entries before producing an immutable
// Footprint via Build. Rules use this inside their footprint-computer
// function.
type Builder struct {
	f Footprint
}

// NewBuilder returns an empty footprint builder with the given factor mask.
func NewBuilder(factorMask uint64) *Builder {
	return &Builder{f: Footprint{FactorMask: factorMask}}
}

func (b *Builder) ReadNode(k ident.NodeKey) *Builder  { b.f.NRead = append(b.f.NRead, k); return b }
func (b *Builder) WriteNode(k ident.NodeKey) *Builder { b.f.NWrite = append(b.f.NWrite, k); return b }
func (b *Builder) ReadEdge(k ident.EdgeKey) *Builder  { b.f.ERead = append(b.f.ERead, k); return b }
func (b *Builder) WriteEdge(k ident.EdgeKey) *Builder { b.f.EWrite = append(b.f.EWrite, k); return b }
func (b *Builder) ReadAttachment(k AttachmentKey) *Builder {
	b.f.ARead = append(b.f.ARead, k)
	return b
}
func (b *Builder) WriteAttachment(k AttachmentKey) *Builder {
	b.f.AWrite = append(b.f.AWrite, k)
	return b
}
func (b *Builder) PortIn(k PortKey) *Builder  { b.f.PortsIn = append(b.f.PortsIn, k); return b }
func (b *Builder) PortOut(k PortKey) *Builder { b.f.PortsOut = append(b.f.PortsOut, k); return b }

// Build returns the accumulated Footprint with its node read and write sets
// sorted; the other axes keep the order they were added in.
func (b *Builder) Build() Footprint {
	sort.Slice(b.f.NRead, func(i, j int) bool { return b.f.NRead[i].Less(b.f.NRead[j]) })
	sort.Slice(b.f.NWrite, func(i, j int) bool { return b.f.NWrite[i].Less(b.f.NWrite[j]) })
	return b.f
}

// AugmentWithDescentStack adds a read of every portal slot on the path from
// root to the scope's instance. Each element
// of stack is the (node key, slot) pair through which the scope was reached.
func (f Footprint) AugmentWithDescentStack(stack []PortKey) Footprint {
	out := f
	out.PortsIn = append(append([]PortKey{}, f.PortsIn...), stack...)
	for _, p := range stack {
		out.ARead = append(out.ARead, AttachmentKey{Owner: p.Node, Slot: p.Slot})
	}
	return out
}

func nodeSetsOverlap(a, b []ident.NodeKey) bool {
	seen := make(map[ident.NodeKey]struct{}, len(a))
	for _, k := range a {
		seen[k] = struct{}{}
	}
	for _, k := range b {
		if _, ok := seen[k]; ok {
			return true
		}
	}
	return false
}

func edgeSetsOverlap(a, b []ident.EdgeKey) bool {
	seen := make(map[ident.EdgeKey]struct{}, len(a))
	for _, k := range a {
		seen[k] = struct{}{}
	}
	for _, k := range b {
		if _, ok := seen[k]; ok {
			return true
		}
	}
	return false
}

func attachmentSetsOverlap(a, b []AttachmentKey) bool {
	seen := make(map[AttachmentKey]struct{}, len(a))
	for _, k := range a {
		seen[k] = struct{}{}
	}
	for _, k := range b {
		if _, ok := seen[k]; ok {
			return true
		}
	}
	return false
}

func portSetsOverlap(a, b []PortKey) bool {
	seen := make(map[PortKey]struct{}, len(a))
	for _, k := range a {
		seen[k] = struct{}{}
	}
	for _, k := range b {
		if _, ok := seen[k]; ok {
			return true
		}
	}
	return false
}

func concatNodes(a, b []ident.NodeKey) []ident.NodeKey {
	out := make([]ident.NodeKey, 0, len(a)+len(b))
	out = append(out, a...)
	return append(out, b...)
}

func concatEdges(a, b []ident.EdgeKey) []ident.EdgeKey {
	out := make([]ident.EdgeKey, 0, len(a)+len(b))
	out = append(out, a...)
	return append(out, b...)
}

func concatAttachments(a, b []AttachmentKey) []AttachmentKey {
	out := make([]AttachmentKey, 0, len(a)+len(b))
	out = append(out, a...)
	return append(out, b...)
}

func concatPorts(a, b []PortKey) []PortKey {
	out := make([]PortKey, 0, len(a)+len(b))
	out = append(out, a...)
	return append(out, b...)
}

// Independent reports whether two footprints may run concurrently: they are
// independent iff the factor masks disjoint-shortcut fires,
// or every axis is conflict-free (writes-vs-(reads∪writes), symmetric, plus
// disjoint port sets). Reads-with-reads never conflict.
func Independent(a, b Footprint) bool {
	if a.FactorMask&b.FactorMask == 0 {
		return true
	}

	if nodeSetsOverlap(a.NWrite, concatNodes(b.NRead, b.NWrite)) {
		return false
	}
	if nodeSetsOverlap(b.NWrite, concatNodes(a.NRead, a.NWrite)) {
		return false
	}
	if edgeSetsOverlap(a.EWrite, concatEdges(b.ERead, b.EWrite)) {
		return false
	}
	if edgeSetsOverlap(b.EWrite, concatEdges(a.ERead, a.EWrite)) {
		return false
	}
	if attachmentSetsOverlap(a.AWrite, concatAttachments(b.ARead, b.AWrite)) {
		return false
	}
	if attachmentSetsOverlap(b.AWrite, concatAttachments(a.ARead, a.AWrite)) {
		return false
	}
	aPorts := concatPorts(a.PortsIn, a.PortsOut)
	bPorts := concatPorts(b.PortsIn, b.PortsOut)
	if portSetsOverlap(aPorts, bPorts) {
		return false
	}
	return true
}

// ContainsNodeWrite, ContainsEdgeWrite and ContainsAttachmentWrite report
// whether an op's target falls within f's declared write set for the
// matching axis. Used by the executor's footprint-enforcement boundary.
func (f Footprint) ContainsNodeWrite(k ident.NodeKey) bool {
	for _, w := range f.NWrite {
		if w == k {
			return true
		}
	}
	return false
}

func (f Footprint) ContainsEdgeWrite(k ident.EdgeKey) bool {
	for _, w := range f.EWrite {
		if w == k {
			return true
		}
	}
	return false
}

func (f Footprint) ContainsAttachmentWrite(k AttachmentKey) bool {
	for _, w := range f.AWrite {
		if w == k {
			return true
		}
	}
	return false
}
