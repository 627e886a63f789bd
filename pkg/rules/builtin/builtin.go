// Package builtin provides a small reference rule pack: two User rules and
// one System rule, grounding the rule registry contract in running code so
// the scheduler/executor/merge pipeline has real executors to drive
// end-to-end, instead of leaving the contract purely abstract.
package builtin

import (
	"github.com/orneryd/warpcore/pkg/footprint"
	"github.com/orneryd/warpcore/pkg/graph"
	"github.com/orneryd/warpcore/pkg/ident"
	"github.com/orneryd/warpcore/pkg/op"
	"github.com/orneryd/warpcore/pkg/rule"
)

// StampType is the atom type used to mark a node "seen" by Stamp.
var StampType = ident.NewTypeID("warpcore.builtin.stamp")

// CounterType is the atom type used to hold Increment's running total.
var CounterType = ident.NewTypeID("warpcore.builtin.counter")

// ContainerType is the node type PortalOpen looks for.
var ContainerType = ident.NewTypeID("warpcore.builtin.container")

const (
	stampSlot   graph.SlotKey = "stamp"
	counterSlot graph.SlotKey = "counter"
	childSlot   graph.SlotKey = "child"
)

// Stamp is a User rule: it matches any node whose "stamp" attachment slot is
// absent, and sets it to a fixed one-byte atom. Idempotent — once stamped,
// the matcher no longer fires for that node.
func Stamp(registry *rule.Registry) (rule.Rule, error) {
	match := func(view graph.View, scope ident.NodeKey) bool {
		_, ok := view.NodeAttachment(scope.Local, stampSlot)
		return !ok
	}
	computeFootprint := func(view graph.View, scope ident.NodeKey) footprint.Footprint {
		return footprint.NewBuilder(1).
			ReadAttachment(attachmentKey(scope, stampSlot)).
			WriteAttachment(attachmentKey(scope, stampSlot)).
			Build()
	}
	run := func(view graph.View, scope ident.NodeKey, emit rule.Emitter) error {
		emit.Emit(op.Op{
			Kind: op.KindSetAttachment,
			SetAttachment: &op.SetAttachment{
				Owner: scope,
				Slot:  string(stampSlot),
				Value: &op.AttachmentValue{Kind: op.AttachmentWireAtom, TypeID: StampType, Bytes: []byte{1}},
			},
		})
		return nil
	}
	return registry.Register("warpcore.builtin.stamp", "v1", match, computeFootprint, run, rule.User)
}

// Increment is a User rule: it matches any node carrying a "counter" atom
// attachment encoding a little-endian uint64, and rewrites it to the
// incremented value. A node with no counter slot never matches — Increment
// only advances counters that already exist.
func Increment(registry *rule.Registry) (rule.Rule, error) {
	match := func(view graph.View, scope ident.NodeKey) bool {
		att, ok := view.NodeAttachment(scope.Local, counterSlot)
		return ok && att.Kind == graph.AttachAtom && len(att.AtomBytes) == 8
	}
	computeFootprint := func(view graph.View, scope ident.NodeKey) footprint.Footprint {
		return footprint.NewBuilder(1).
			ReadAttachment(attachmentKey(scope, counterSlot)).
			WriteAttachment(attachmentKey(scope, counterSlot)).
			Build()
	}
	run := func(view graph.View, scope ident.NodeKey, emit rule.Emitter) error {
		att, ok := view.NodeAttachment(scope.Local, counterSlot)
		if !ok {
			return nil
		}
		next := ident.U64LE(decodeU64LE(att.AtomBytes) + 1)
		emit.Emit(op.Op{
			Kind: op.KindSetAttachment,
			SetAttachment: &op.SetAttachment{
				Owner: scope,
				Slot:  string(counterSlot),
				Value: &op.AttachmentValue{Kind: op.AttachmentWireAtom, TypeID: CounterType, Bytes: next},
			},
		})
		return nil
	}
	return registry.Register("warpcore.builtin.increment", "v1", match, computeFootprint, run, rule.User)
}

// PortalOpen is a System rule: it matches a container-typed node with no
// "child" attachment slot yet, and opens a portal — deriving a child
// instance id from the owner scope, slot, and this rewrite's intent hash (so
// the same match always mints the same child, no matter how many times the
// tick is retried), minting its root node, and setting the owner's "child"
// slot to Descend(child_instance). Only a System-classified rule may emit
// OpenPortal; a User rule attempting this is rejected by the executor.
func PortalOpen(registry *rule.Registry) (rule.Rule, error) {
	match := func(view graph.View, scope ident.NodeKey) bool {
		node, ok := view.Node(scope.Local)
		if !ok || node.Type != ContainerType {
			return false
		}
		_, hasChild := view.NodeAttachment(scope.Local, childSlot)
		return !hasChild
	}
	computeFootprint := func(view graph.View, scope ident.NodeKey) footprint.Footprint {
		return footprint.NewBuilder(1).
			ReadAttachment(attachmentKey(scope, childSlot)).
			WriteAttachment(attachmentKey(scope, childSlot)).
			Build()
	}
	run := func(view graph.View, scope ident.NodeKey, emit rule.Emitter) error {
		intentID := emit.IntentID()
		child := ident.InstanceID(ident.Sum(ident.TagInstance,
			scope.Instance[:], scope.Local[:], []byte(childSlot), intentID[:]))
		childRoot := ident.NodeID(ident.Sum(ident.TagNode, child[:], []byte("root")))
		emit.Emit(op.Op{
			Kind: op.KindOpenPortal,
			OpenPortal: &op.OpenPortal{
				OwnerKey:      scope,
				Slot:          string(childSlot),
				ChildInstance: child,
				ChildRoot:     childRoot,
			},
		})
		return nil
	}
	return registry.Register("warpcore.builtin.portal-open", "v1", match, computeFootprint, run, rule.System)
}

// RegisterAll registers every builtin rule into registry, returning them in
// registration order.
func RegisterAll(registry *rule.Registry) ([]rule.Rule, error) {
	var out []rule.Rule
	for _, fn := range []func(*rule.Registry) (rule.Rule, error){Stamp, Increment, PortalOpen} {
		r, err := fn(registry)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func attachmentKey(owner ident.NodeKey, slot graph.SlotKey) footprint.AttachmentKey {
	return footprint.AttachmentKey{Owner: owner, Slot: string(slot)}
}

func decodeU64LE(b []byte) uint64 {
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}
