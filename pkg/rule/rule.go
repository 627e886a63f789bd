// Package rule implements the rule registry: each rule is a value carrying
// a stable 256-bit id, a matcher, a footprint computer, and an executor
// function pointer. Polymorphism is by function pointer, not by
// subclassing, to avoid a deep inheritance hierarchy across rule types.
package rule

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/orneryd/warpcore/pkg/footprint"
	"github.com/orneryd/warpcore/pkg/graph"
	"github.com/orneryd/warpcore/pkg/ident"
	"github.com/orneryd/warpcore/pkg/op"
)

// Classification distinguishes rules that may only touch their declared
// footprint within their own instance (User) from rules authorized to emit
// portal/instance lifecycle ops (System).
type Classification uint8

const (
	User Classification = iota
	System
)

// Matcher reports whether a rule applies at scope, given a read-only view.
type Matcher func(view graph.View, scope ident.NodeKey) bool

// FootprintFn computes the declarative read/write set a rule will exercise
// at scope.
type FootprintFn func(view graph.View, scope ident.NodeKey) footprint.Footprint

// Executor runs a rule's rewrite, emitting ops only through the scoped
// emitter it's given.
type Executor func(view graph.View, scope ident.NodeKey, emit Emitter) error

// Emitter is the scoped op sink an executor must use. Implemented by the
// worker's per-rewrite delta accumulator, which stamps each emitted op with
// an OpOrigin in emission order.
//
// IntentID exposes the tick-stable intent hash this rewrite is running
// under, so an executor that must mint a new identifier (a portal's child
// instance, say) can derive it from tick-stable inputs instead of reaching
// for randomness — the only values visible to an executor are (view, scope,
// emit), and emit.IntentID() is the one of those that varies per rewrite
// without varying per retry.
type Emitter interface {
	Emit(o op.Op)
	IntentID() ident.Hash
}

// CompactID is the compact runtime id assigned to a rule at registration
// time. Unlike the
// 256-bit ID, it is only stable within a single running registry/process —
// it exists purely to make drain-order sort keys cheap to compare.
type CompactID uint32

// Rule is a registered, versioned rewrite rule.
type Rule struct {
	ID               ident.Hash
	Compact          CompactID
	Name             string
	Version          string
	Match            Matcher
	ComputeFootprint FootprintFn
	Run              Executor
	Class            Classification
}

// NewID derives a rule's stable 256-bit id from its namespaced name and
// version.
func NewID(name, version string) ident.Hash {
	return ident.Sum(ident.TagType, []byte("rule:"+name+"@"+version))
}

var (
	// ErrNotFound is returned when a named rule is not registered.
	ErrNotFound = errors.New("rule: not registered")
	// ErrAlreadyRegistered is returned by Register on a duplicate name.
	ErrAlreadyRegistered = errors.New("rule: already registered")
)

// Registry is a thread-safe collection of rules, keyed by name. It has no
// mutable state visible to rules themselves — rules receive only an
// immutable View.
type Registry struct {
	mu        sync.RWMutex
	byName    map[string]Rule
	byCompact map[CompactID]Rule
	nextID    CompactID
}

// NewRegistry returns an empty rule registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]Rule), byCompact: make(map[CompactID]Rule)}
}

// Register adds a rule under its name+version. Re-registering the same name
// is an error — rule identities are meant to be stable, not last-wins like
// the transaction queue's enqueue.
func (r *Registry) Register(name, version string, match Matcher, fp FootprintFn, run Executor, class Classification) (Rule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byName[name]; ok {
		return Rule{}, ErrAlreadyRegistered
	}

	r.nextID++
	reg := Rule{
		ID:               NewID(name, version),
		Compact:          r.nextID,
		Name:             name,
		Version:          version,
		Match:            match,
		ComputeFootprint: fp,
		Run:              run,
		Class:            class,
	}
	r.byName[name] = reg
	r.byCompact[reg.Compact] = reg
	return reg, nil
}

// Lookup returns the registered rule by name.
func (r *Registry) Lookup(name string) (Rule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.byName[name]
	if !ok {
		return Rule{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return reg, nil
}

// LookupByCompact returns the registered rule by its per-registry compact id
// — the form a drained PendingRewrite carries, since the scheduler never
// holds a name.
func (r *Registry) LookupByCompact(id CompactID) (Rule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.byCompact[id]
	if !ok {
		return Rule{}, fmt.Errorf("%w: compact id %d", ErrNotFound, id)
	}
	return reg, nil
}

// All returns every registered rule, sorted by name for deterministic
// iteration in diagnostics/tests.
func (r *Registry) All() []Rule {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Rule, 0, len(r.byName))
	for _, reg := range r.byName {
		out = append(out, reg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
