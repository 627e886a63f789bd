// Package executor implements the parallel BOAW (Bucket-Of-Atomic-Writes)
// stage: it shards the reserved ready set, runs rule executors concurrently
// against read-only views, and collects each worker's private delta for
// merge. Shard assignment is fixed by scope rather than claimed through
// work-stealing, and a panicking executor is recovered into a poisoned
// delta rather than crashing the tick.
package executor

import (
	"context"
	"encoding/binary"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/orneryd/warpcore/pkg/footprint"
	"github.com/orneryd/warpcore/pkg/graph"
	"github.com/orneryd/warpcore/pkg/ident"
	"github.com/orneryd/warpcore/pkg/merge"
	"github.com/orneryd/warpcore/pkg/op"
	"github.com/orneryd/warpcore/pkg/rule"
	"github.com/orneryd/warpcore/pkg/scheduler"
)

// NumShards is the frozen protocol constant partitioning the ready set into
// virtual shards.
const NumShards = 256

// ShardMask isolates the low byte of the little-endian-decoded scope id.
const ShardMask = 0xFF

// ShardOf computes the virtual shard a reserved item belongs to: the
// little-endian u64 decoded from the first 8 bytes of scope.Local, masked to
// a byte.
func ShardOf(scope ident.NodeKey) uint8 {
	v := binary.LittleEndian.Uint64(scope.Local[:8])
	return uint8(v & ShardMask)
}

// FootprintViolation reports an op an executor emitted outside its declared
// footprint, or a kind of op a User rule is not authorized to emit.
type FootprintViolation struct {
	Reason string
	Op     op.Op
}

func (v *FootprintViolation) Error() string {
	return fmt.Sprintf("footprint violation: %s", v.Reason)
}

// accumulator is the per-rewrite Emitter a worker hands to a rule's
// Executor. It stamps every emitted op with an OpOrigin whose op_index is
// the emission-order position within this one rewrite.
type accumulator struct {
	origin op.Origin
	out    []merge.Stamped
}

func (a *accumulator) Emit(o op.Op) {
	stamped := merge.Stamped{Op: o, Origin: a.origin}
	a.out = append(a.out, stamped)
	a.origin.OpIndex++
}

// IntentID returns the tick-stable intent hash this rewrite is running
// under, letting an executor derive new identifiers deterministically
// instead of allocating randomness.
func (a *accumulator) IntentID() ident.Hash { return a.origin.IntentID }

// Options configures a tick's execution.
type Options struct {
	Workers           int
	IntentID          ident.Hash
	EnforceFootprints bool
}

// Execute runs every ready candidate's rule executor, sharded across a
// bounded worker pool, and returns one Delta per worker. It
// never mutates state: executors see only graph.Views.
//
// MatchIndex in each emitted op's OpOrigin is the candidate's position
// within the ready slice — ready is already in the scheduler's canonical
// drain-then-reserve order, so this index is itself deterministic and
// worker-count-invariant (an Open Question resolution; see DESIGN.md).
func Execute(ctx context.Context, state *graph.WarpState, registry *rule.Registry, ready []scheduler.PendingRewrite, opts Options) ([]merge.Delta, error) {
	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}
	if workers > NumShards {
		workers = NumShards
	}

	shards := make([][]int, NumShards)
	for i, candidate := range ready {
		s := ShardOf(candidate.ScopeKey)
		shards[s] = append(shards[s], i)
	}

	deltas := make([]merge.Delta, workers)

	g, _ := errgroup.WithContext(ctx)
	claim := make(chan int)
	go func() {
		defer close(claim)
		for s := 0; s < NumShards; s++ {
			if len(shards[s]) == 0 {
				continue
			}
			claim <- s
		}
	}()

	for w := 0; w < workers; w++ {
		w := w
		g.Go(func() error {
			delta := &deltas[w]
			for shardIdx := range claim {
				for _, idx := range shards[shardIdx] {
					candidate := ready[idx]
					if err := executeOne(state, registry, candidate, idx, opts, delta); err != nil {
						delta.Poisoned = true
						delta.Reason = err
						return nil // poisoning is reported via the delta, not a hard error
					}
				}
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return deltas, nil
}

func executeOne(state *graph.WarpState, registry *rule.Registry, candidate scheduler.PendingRewrite, matchIndex int, opts Options, delta *merge.Delta) (err error) {
	reg, lookupErr := registry.LookupByCompact(candidate.Compact)
	if lookupErr != nil {
		return lookupErr
	}

	view := graph.NewView(state, candidate.ScopeKey.Instance)
	acc := &accumulator{origin: op.Origin{
		IntentID:      opts.IntentID,
		CompactRuleID: uint32(candidate.Compact),
		MatchIndex:    uint32(matchIndex),
	}}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("executor: rule %q panicked: %v", reg.Name, r)
		}
	}()

	if runErr := reg.Run(view, candidate.ScopeKey, acc); runErr != nil {
		return fmt.Errorf("executor: rule %q: %w", reg.Name, runErr)
	}

	if opts.EnforceFootprints {
		for _, s := range acc.out {
			if violation := checkFootprint(reg, candidate.Footprint, s.Op); violation != nil {
				return violation
			}
		}
	}

	delta.Ops = append(delta.Ops, acc.out...)
	return nil
}

// checkFootprint validates one emitted op against its rewrite's declared
// footprint and the rule's classification. User rules may only
// emit the five structural/attachment ops against their declared footprint;
// OpenPortal and instance-lifecycle ops require System classification.
func checkFootprint(reg rule.Rule, fp footprint.Footprint, o op.Op) *FootprintViolation {
	switch o.Kind {
	case op.KindOpenPortal, op.KindUpsertWarpInstance, op.KindDeleteWarpInstance:
		if reg.Class != rule.System {
			return &FootprintViolation{Reason: fmt.Sprintf("rule %q is not System-classified but emitted %v", reg.Name, o.Kind), Op: o}
		}
		return nil
	case op.KindUpsertNode:
		if !fp.ContainsNodeWrite(o.UpsertNode.ID) {
			return &FootprintViolation{Reason: fmt.Sprintf("UpsertNode %v outside declared write footprint", o.UpsertNode.ID), Op: o}
		}
	case op.KindDeleteNode:
		if !fp.ContainsNodeWrite(o.DeleteNode.Node) {
			return &FootprintViolation{Reason: fmt.Sprintf("DeleteNode %v outside declared write footprint", o.DeleteNode.Node), Op: o}
		}
	case op.KindUpsertEdge:
		if !fp.ContainsEdgeWrite(o.UpsertEdge.ID) {
			return &FootprintViolation{Reason: fmt.Sprintf("UpsertEdge %v outside declared write footprint", o.UpsertEdge.ID), Op: o}
		}
	case op.KindDeleteEdge:
		key := ident.EdgeKey{Instance: o.DeleteEdge.From.Instance, Local: o.DeleteEdge.Edge}
		if !fp.ContainsEdgeWrite(key) {
			return &FootprintViolation{Reason: fmt.Sprintf("DeleteEdge %v outside declared write footprint", key), Op: o}
		}
	case op.KindSetAttachment:
		s := o.SetAttachment
		owner := footprint.AttachmentKey{Owner: s.Owner, EdgeOwner: s.Edge, IsEdge: s.IsEdge, Slot: s.Slot}
		if !fp.ContainsAttachmentWrite(owner) {
			return &FootprintViolation{Reason: fmt.Sprintf("SetAttachment %v outside declared write footprint", owner), Op: o}
		}
	}
	return nil
}
