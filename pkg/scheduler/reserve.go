package scheduler

import (
	"github.com/orneryd/warpcore/pkg/footprint"
	"github.com/orneryd/warpcore/pkg/ident"
)

// Axis names a footprint dimension, used only for diagnostic witnesses.
type Axis string

const (
	AxisNode       Axis = "node"
	AxisEdge       Axis = "edge"
	AxisAttachment Axis = "attachment"
	AxisPort       Axis = "port"
)

// Witness identifies the first blocking axis-entry a rejected candidate hit.
type Witness struct {
	Axis Axis
	Key  any
}

// Rejected pairs a candidate with the reason it did not make the ready set.
type Rejected struct {
	Candidate PendingRewrite
	Blocker   Witness
}

// ReserveResult is the output of Reserve: the ready set in drain order, and
// every rejected candidate with its blocker witness.
type ReserveResult struct {
	Ready    []PendingRewrite
	Rejected []Rejected
}

// activeFootprintIndex is the set of already-reserved keys, one map per
// axis, built fresh by each Reserve call. It is read and mutated from a
// single thread only.
type activeFootprintIndex struct {
	nodeReads, nodeWrites             map[ident.NodeKey]struct{}
	edgeReads, edgeWrites             map[ident.EdgeKey]struct{}
	attachmentReads, attachmentWrites map[footprint.AttachmentKey]struct{}
	ports                             map[footprint.PortKey]struct{}
}

func newActiveFootprintIndex() *activeFootprintIndex {
	return &activeFootprintIndex{
		nodeReads:         make(map[ident.NodeKey]struct{}),
		nodeWrites:        make(map[ident.NodeKey]struct{}),
		edgeReads:         make(map[ident.EdgeKey]struct{}),
		edgeWrites:        make(map[ident.EdgeKey]struct{}),
		attachmentReads:   make(map[footprint.AttachmentKey]struct{}),
		attachmentWrites:  make(map[footprint.AttachmentKey]struct{}),
		ports:             make(map[footprint.PortKey]struct{}),
	}
}

// check reports the first conflicting axis-entry, if any, between candidate
// f and the currently active (already-reserved) footprints. It never
// mutates the index — phase one of the two-phase reserve.
func (idx *activeFootprintIndex) check(f footprint.Footprint) *Witness {
	for _, k := range f.NWrite {
		if _, ok := idx.nodeReads[k]; ok {
			return &Witness{Axis: AxisNode, Key: k}
		}
		if _, ok := idx.nodeWrites[k]; ok {
			return &Witness{Axis: AxisNode, Key: k}
		}
	}
	for _, k := range f.NRead {
		if _, ok := idx.nodeWrites[k]; ok {
			return &Witness{Axis: AxisNode, Key: k}
		}
	}
	for _, k := range f.EWrite {
		if _, ok := idx.edgeReads[k]; ok {
			return &Witness{Axis: AxisEdge, Key: k}
		}
		if _, ok := idx.edgeWrites[k]; ok {
			return &Witness{Axis: AxisEdge, Key: k}
		}
	}
	for _, k := range f.ERead {
		if _, ok := idx.edgeWrites[k]; ok {
			return &Witness{Axis: AxisEdge, Key: k}
		}
	}
	for _, k := range f.AWrite {
		if _, ok := idx.attachmentReads[k]; ok {
			return &Witness{Axis: AxisAttachment, Key: k}
		}
		if _, ok := idx.attachmentWrites[k]; ok {
			return &Witness{Axis: AxisAttachment, Key: k}
		}
	}
	for _, k := range f.ARead {
		if _, ok := idx.attachmentWrites[k]; ok {
			return &Witness{Axis: AxisAttachment, Key: k}
		}
	}
	for _, k := range f.PortsIn {
		if _, ok := idx.ports[k]; ok {
			return &Witness{Axis: AxisPort, Key: k}
		}
	}
	for _, k := range f.PortsOut {
		if _, ok := idx.ports[k]; ok {
			return &Witness{Axis: AxisPort, Key: k}
		}
	}
	return nil
}

// mark records every axis-entry of f as active. Phase two of the two-phase
// reserve — only called once phase one found no conflict, so reservation is
// all-or-nothing per candidate.
func (idx *activeFootprintIndex) mark(f footprint.Footprint) {
	for _, k := range f.NRead {
		idx.nodeReads[k] = struct{}{}
	}
	for _, k := range f.NWrite {
		idx.nodeWrites[k] = struct{}{}
	}
	for _, k := range f.ERead {
		idx.edgeReads[k] = struct{}{}
	}
	for _, k := range f.EWrite {
		idx.edgeWrites[k] = struct{}{}
	}
	for _, k := range f.ARead {
		idx.attachmentReads[k] = struct{}{}
	}
	for _, k := range f.AWrite {
		idx.attachmentWrites[k] = struct{}{}
	}
	for _, k := range f.PortsIn {
		idx.ports[k] = struct{}{}
	}
	for _, k := range f.PortsOut {
		idx.ports[k] = struct{}{}
	}
}

// Reserve walks drained candidates in order, admitting each into the ready
// set iff none of its axis entries conflicts with those already reserved
// this transaction (factor masks are not consulted). Acceptance is
// deterministic given the drain order.
func Reserve(drained []PendingRewrite) ReserveResult {
	idx := newActiveFootprintIndex()
	result := ReserveResult{}

	for _, candidate := range drained {
		if w := idx.check(candidate.Footprint); w != nil {
			result.Rejected = append(result.Rejected, Rejected{Candidate: candidate, Blocker: *w})
			continue
		}
		idx.mark(candidate.Footprint)
		result.Ready = append(result.Ready, candidate)
	}

	return result
}
