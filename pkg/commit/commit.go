// Package commit computes the content-addressed digests that bind a tick's
// outcome: state_root over the reachable two-plane subgraph, patch_digest
// over the canonical applied op list, and commit_hash v2 binding both to
// their parents and policy.
//
// Uses the same domain-separated, length-prefixed canonical encoding style
// as the rest of pkg/ident's digests, applied here to a BFS reachable-
// subgraph walk rather than a flat node/edge hash.
package commit

import (
	"sort"

	"github.com/orneryd/warpcore/pkg/graph"
	"github.com/orneryd/warpcore/pkg/ident"
	"github.com/orneryd/warpcore/pkg/op"
)

// frontierKey is a node key queued for the BFS walk.
type frontierKey = ident.NodeKey

// StateRoot computes the domain-tagged hash of the reachable two-plane
// subgraph from state.Root(), walking outbound skeleton edges and
// Descend attachments via BFS (not recursion) so cyclic references
// terminate instead of recursing forever.
func StateRoot(state *graph.WarpState) ident.Hash {
	root := state.Root()
	visited := map[frontierKey]struct{}{root: {}}
	queue := []frontierKey{root}
	reachableByInstance := map[ident.InstanceID]map[ident.NodeID]struct{}{
		root.Instance: {root.Local: {}},
	}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		store, ok := state.Instance(cur.Instance)
		if !ok {
			continue
		}
		for _, edgeID := range store.SortedOutgoingEdgeIDs(cur.Local) {
			rec, ok := store.Edge(edgeID)
			if !ok {
				continue
			}
			next := ident.NodeKey{Instance: cur.Instance, Local: rec.To}
			markReachable(reachableByInstance, next)
			if _, seen := visited[next]; !seen {
				visited[next] = struct{}{}
				queue = append(queue, next)
			}
		}

		for _, slot := range store.NodeAttachmentSlots(cur.Local) {
			att, ok := store.NodeAttachment(cur.Local, slot)
			if !ok || att.Kind != graph.AttachDescend {
				continue
			}
			childInstance, ok := state.Instance(att.ChildInstance)
			if !ok {
				continue
			}
			next := childFrontierEntry(att.ChildInstance, childInstance)
			markReachable(reachableByInstance, next)
			if _, seen := visited[next]; !seen {
				visited[next] = struct{}{}
				queue = append(queue, next)
			}
		}
	}

	instanceIDs := make([]ident.InstanceID, 0, len(reachableByInstance))
	for id := range reachableByInstance {
		instanceIDs = append(instanceIDs, id)
	}
	sort.Slice(instanceIDs, func(i, j int) bool { return instanceIDs[i].Less(instanceIDs[j]) })

	stream := [][]byte{root.Instance[:], root.Local[:]}
	for _, instID := range instanceIDs {
		store, _ := state.Instance(instID)
		stream = append(stream, instID[:])
		stream = append(stream, encodeInstanceHeader(store)...)

		nodeIDs := make([]ident.NodeID, 0, len(reachableByInstance[instID]))
		for id := range reachableByInstance[instID] {
			nodeIDs = append(nodeIDs, id)
		}
		sort.Slice(nodeIDs, func(i, j int) bool { return nodeIDs[i].Less(nodeIDs[j]) })

		for _, nodeID := range nodeIDs {
			rec, ok := store.Node(nodeID)
			if !ok {
				continue
			}
			stream = append(stream, nodeID[:], rec.Type[:])
			stream = append(stream, encodeNodeAttachments(store, nodeID)...)
		}

		for _, from := range nodeIDs {
			edgeIDs := store.SortedOutgoingEdgeIDs(from)
			if len(edgeIDs) == 0 {
				continue
			}
			stream = append(stream, from[:], ident.U64LE(uint64(len(edgeIDs))))
			for _, edgeID := range edgeIDs {
				rec, ok := store.Edge(edgeID)
				if !ok {
					continue
				}
				stream = append(stream, edgeID[:], rec.Type[:], rec.To[:])
				stream = append(stream, encodeEdgeAttachments(store, edgeID)...)
			}
		}
	}

	return ident.Sum(ident.TagStateRoot, stream...)
}

// encodeInstanceHeader encodes an instance's own header per the normative
// per-instance encoding: its designated root_node_id and the parent
// attachment key that reached it, each present/absent-tagged so an instance
// missing either still hashes as a total function of its state.
func encodeInstanceHeader(store *graph.GraphStore) [][]byte {
	out := make([][]byte, 0, 4)
	if rootID, ok := store.RootNode(); ok {
		out = append(out, []byte{1}, rootID[:])
	} else {
		out = append(out, []byte{0})
	}
	if parent, ok := store.Parent(); ok {
		out = append(out, []byte{1}, parent.Instance[:], parent.Local[:])
	} else {
		out = append(out, []byte{0})
	}
	return out
}

func markReachable(m map[ident.InstanceID]map[ident.NodeID]struct{}, key ident.NodeKey) {
	if m[key.Instance] == nil {
		m[key.Instance] = make(map[ident.NodeID]struct{})
	}
	m[key.Instance][key.Local] = struct{}{}
}

// childFrontierEntry resolves a portal's child instance to its designated
// entry point (the node OpenPortal minted as ChildRoot), falling back to the
// instance's lowest node id if somehow unset — a child instance always has
// at least one node once realized.
func childFrontierEntry(instance ident.InstanceID, store *graph.GraphStore) ident.NodeKey {
	if root, ok := store.RootNode(); ok {
		return ident.NodeKey{Instance: instance, Local: root}
	}
	sorted := store.SortedNodeIDs()
	if len(sorted) == 0 {
		return ident.NodeKey{Instance: instance}
	}
	return ident.NodeKey{Instance: instance, Local: sorted[0]}
}

// A node or edge may carry several attachment slots, keyed by (owner, slot);
// the canonical stream enumerates all of them in ascending slot order, each
// as its own present/absent-tagged entry, preceded by the slot count so the
// encoding stays a total function of the attachment set.
func encodeNodeAttachments(store *graph.GraphStore, id ident.NodeID) [][]byte {
	slots := store.NodeAttachmentSlots(id)
	out := [][]byte{ident.U64LE(uint64(len(slots)))}
	for _, slot := range slots {
		att, ok := store.NodeAttachment(id, slot)
		if !ok {
			continue
		}
		out = append(out, []byte(slot))
		out = append(out, encodeAttachment(att)...)
	}
	return out
}

func encodeEdgeAttachments(store *graph.GraphStore, id ident.EdgeID) [][]byte {
	slots := store.EdgeAttachmentSlots(id)
	out := [][]byte{ident.U64LE(uint64(len(slots)))}
	for _, slot := range slots {
		att, ok := store.EdgeAttachment(id, slot)
		if !ok {
			continue
		}
		out = append(out, []byte(slot))
		out = append(out, encodeAttachment(att)...)
	}
	return out
}

func encodeAttachment(att graph.Attachment) [][]byte {
	switch att.Kind {
	case graph.AttachAtom:
		return [][]byte{{1}, att.AtomType[:], ident.U64LE(uint64(len(att.AtomBytes))), att.AtomBytes}
	case graph.AttachDescend:
		return [][]byte{{1}, att.ChildInstance[:], ident.U64LE(0), {}}
	}
	return [][]byte{{0}}
}

// PatchDigest hashes the canonical applied op list: version tag, policy id,
// rule-pack id, commit status code, length-prefixed in/out slot lists, and
// ops each encoded with a fixed per-kind format.
func PatchDigest(version uint16, policyID uint32, rulePackID ident.Hash, commitStatus uint8, inSlots, outSlots []string, ops []op.Op) ident.Hash {
	stream := [][]byte{
		ident.U16LE(version),
		ident.U32LE(policyID),
		rulePackID[:],
		{commitStatus},
		ident.LengthPrefixedDigest(stringsToBytes(inSlots))[:],
		ident.LengthPrefixedDigest(stringsToBytes(outSlots))[:],
		ident.U64LE(uint64(len(ops))),
	}
	for _, o := range ops {
		stream = append(stream, encodeOp(o)...)
	}
	return ident.Sum(ident.TagPatchDigest, stream...)
}

func stringsToBytes(ss []string) [][]byte {
	out := make([][]byte, len(ss))
	for i, s := range ss {
		out[i] = []byte(s)
	}
	return out
}

func encodeOp(o op.Op) [][]byte {
	out := [][]byte{{byte(o.Kind)}}
	switch o.Kind {
	case op.KindOpenPortal:
		p := o.OpenPortal
		out = append(out, p.OwnerKey.Instance[:], p.OwnerKey.Local[:], []byte(p.Slot), p.ChildInstance[:], p.ChildRoot[:])
	case op.KindUpsertWarpInstance:
		u := o.UpsertWarpInstance
		out = append(out, u.InstanceID[:])
	case op.KindDeleteWarpInstance:
		d := o.DeleteWarpInstance
		out = append(out, d.InstanceID[:])
	case op.KindDeleteEdge:
		d := o.DeleteEdge
		out = append(out, d.From.Instance[:], d.From.Local[:], d.Edge[:])
	case op.KindDeleteNode:
		d := o.DeleteNode
		out = append(out, d.Node.Instance[:], d.Node.Local[:])
	case op.KindUpsertNode:
		u := o.UpsertNode
		out = append(out, u.ID.Instance[:], u.ID.Local[:], u.Type[:])
	case op.KindUpsertEdge:
		u := o.UpsertEdge
		out = append(out, u.ID.Instance[:], u.ID.Local[:], u.From.Local[:], u.To.Local[:], u.Type[:])
	case op.KindSetAttachment:
		s := o.SetAttachment
		out = append(out, s.Owner.Instance[:], s.Owner.Local[:], []byte(s.Slot))
		if s.Value == nil {
			out = append(out, []byte{0})
		} else {
			out = append(out, []byte{1}, ident.U64LE(uint64(len(s.Value.Bytes))), s.Value.Bytes)
		}
	}
	return out
}

// CommitHash computes commit_hash v2: domain-tagged hash of version, parent
// list, state_root, patch_digest, and policy id. Diagnostic
// digests never feed this hash.
func CommitHash(parents []ident.Hash, stateRoot, patchDigest ident.Hash, policyID uint32) ident.Hash {
	stream := [][]byte{ident.U16LE(2), ident.U64LE(uint64(len(parents)))}
	for _, p := range parents {
		stream = append(stream, p[:])
	}
	stream = append(stream, stateRoot[:], patchDigest[:], ident.U32LE(policyID))
	return ident.Sum(ident.TagCommit, stream...)
}

// PlanDigest, DecisionDigest, and RewritesDigest are diagnostic-only digests,
// each computed the same way over its own canonical encoding but never fed
// into CommitHash. They hash the ready/rejected candidate lists a tick
// produced, for audit and replay tooling — never for commit binding.
func PlanDigest(readyScopeHashes []ident.Hash) ident.Hash {
	items := make([][]byte, len(readyScopeHashes))
	for i, h := range readyScopeHashes {
		items[i] = h[:]
	}
	return ident.Sum(ident.TagPlanDigest, ident.LengthPrefixedDigest(items)[:])
}

func DecisionDigest(rejectedScopeHashes []ident.Hash) ident.Hash {
	items := make([][]byte, len(rejectedScopeHashes))
	for i, h := range rejectedScopeHashes {
		items[i] = h[:]
	}
	return ident.Sum(ident.TagDecision, ident.LengthPrefixedDigest(items)[:])
}

func RewritesDigest(ops []op.Op) ident.Hash {
	var stream [][]byte
	for _, o := range ops {
		stream = append(stream, encodeOp(o)...)
	}
	return ident.Sum(ident.TagRewrites, stream...)
}
