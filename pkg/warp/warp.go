// Package warp implements the tick orchestrator: the top-level engine API
// that ties the scheduler, executor, merge, mutator, hashing, and
// materialization bus into the begin/apply/commit/abort lifecycle.
//
// Grounded on the teacher's pkg/nornicdb/db.go (a top-level DB type wiring
// storage+cache+schema together behind one API) and pkg/storage/
// transaction.go's Begin/Commit/Rollback naming, generalized to
// begin/apply/commit/abort over the tick-commit pipeline.
package warp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"sync"

	"github.com/orneryd/warpcore/pkg/commit"
	"github.com/orneryd/warpcore/pkg/config"
	"github.com/orneryd/warpcore/pkg/executor"
	"github.com/orneryd/warpcore/pkg/graph"
	"github.com/orneryd/warpcore/pkg/ident"
	"github.com/orneryd/warpcore/pkg/materialize"
	"github.com/orneryd/warpcore/pkg/merge"
	"github.com/orneryd/warpcore/pkg/mutator"
	"github.com/orneryd/warpcore/pkg/op"
	"github.com/orneryd/warpcore/pkg/rule"
	"github.com/orneryd/warpcore/pkg/scheduler"
)

// TxID identifies a live transaction. Zero is reserved for "invalid" —
// Begin never returns it.
type TxID uint64

// Sentinel input errors: caller bugs, not engine faults.
var (
	ErrUnknownTx   = errors.New("warp: unknown transaction")
	ErrUnknownRule = errors.New("warp: unknown rule")
)

// AbortedError is returned by Commit when a tick could not be committed:
// an executor error, a poisoned worker delta, a merge conflict, or a
// mutator failure. No state mutation occurred
// and no snapshot was recorded.
type AbortedError struct {
	Reason error
}

func (a *AbortedError) Error() string { return fmt.Sprintf("warp: tick aborted: %v", a.Reason) }
func (a *AbortedError) Unwrap() error { return a.Reason }

// Outcome reports whether an apply call matched its rule at scope.
type Outcome uint8

const (
	NoMatch Outcome = iota
	Matched
)

// ApplyResult is the result of a single apply() call.
type ApplyResult struct {
	Outcome   Outcome
	ScopeHash ident.Hash
}

// IntentResult is the result of ingest_intent: either a fresh acceptance or
// a dedupe hit against a previously ingested identical byte blob.
type IntentResult struct {
	IntentID  ident.Hash
	Duplicate bool
}

// RejectionCode coarsely classifies why a candidate did not make the ready
// set, for receipt reporting — the precise blocking key stays internal to
// the scheduler.
type RejectionCode uint8

const (
	RejectedNode RejectionCode = iota
	RejectedEdge
	RejectedAttachment
	RejectedPort
)

func rejectionCodeFor(axis scheduler.Axis) RejectionCode {
	switch axis {
	case scheduler.AxisNode:
		return RejectedNode
	case scheduler.AxisEdge:
		return RejectedEdge
	case scheduler.AxisAttachment:
		return RejectedAttachment
	default:
		return RejectedPort
	}
}

// RejectedCandidate is one candidate the reserve phase excluded from the
// ready set.
type RejectedCandidate struct {
	ScopeHash ident.Hash
	Compact   rule.CompactID
	Code      RejectionCode
}

// Receipt carries every diagnostic artifact a successful commit produces,
// beyond the three commitment hashes themselves.
type Receipt struct {
	Accepted       []ident.Hash
	Rejected       []RejectedCandidate
	PlanDigest     ident.Hash
	DecisionDigest ident.Hash
	RewritesDigest ident.Hash
	Materialized   map[string]materialize.Result
	MaterializeErr []error
}

// Snapshot is one committed tick's persisted artifact: root key, parents,
// state_root, patch_digest, commit_hash, policy id and tx id, plus the
// sequence number History orders by. Diagnostic digests live on Receipt.
type Snapshot struct {
	Seq         uint64
	Root        ident.NodeKey
	Parents     []ident.Hash
	StateRoot   ident.Hash
	PatchDigest ident.Hash
	CommitHash  ident.Hash
	PolicyID    uint32
	TxID        TxID
}

// Options configures an Engine. Zero-valued fields default sensibly in
// NewEngine — callers normally build Options from a config.Config via
// FromConfig instead of filling this out by hand.
type Options struct {
	Workers           int
	EnforceFootprints bool
	PolicyID          uint32
	HistoryCapacity   int
	RulePackID        ident.Hash
	// Materialize, if non-nil, is finalized once per successful commit and
	// its result attached to the receipt. A tick with no rule ever
	// appending to it finalizes to an empty result set, not an error.
	Materialize *materialize.Bus
	// Log receives single-line diagnostic messages (aborted ticks, merge
	// conflicts, poisoned workers). Defaults to os.Stderr.
	Log io.Writer
}

// FromConfig builds engine Options from a loaded config.Config, following
// the same policy id (1) every demo tick in this module commits under.
func FromConfig(cfg *config.Config) Options {
	return Options{
		Workers:           cfg.Workers,
		EnforceFootprints: cfg.EnforceFootprints,
		PolicyID:          1,
		HistoryCapacity:   cfg.HistoryCapacity,
	}
}

type txState struct {
	queue *scheduler.Queue
	phase uint32
}

// Engine is the top-level tick-commit pipeline: it owns the WarpState, the
// rule registry, the live transaction set, and the commit history. All
// bookkeeping methods are safe to call from different goroutines, serially
// or not — a single mutex guards the live-tx map and state, matching the
// spec's single-threaded-bookkeeping model while letting the Engine value
// itself be shared the way the teacher's DB type is.
type Engine struct {
	mu       sync.Mutex
	state    *graph.WarpState
	registry *rule.Registry
	opts     Options
	logger   *log.Logger

	txs      map[TxID]*txState
	nextTx   uint64
	intents  map[ident.Hash]struct{}
	history  *History
	lastHash ident.Hash
	hasLast  bool
}

// NewEngine constructs an Engine over state and registry. state is adopted,
// not copied — callers should not mutate it directly once handed to an
// Engine.
func NewEngine(state *graph.WarpState, registry *rule.Registry, opts Options) *Engine {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.HistoryCapacity < 1 {
		opts.HistoryCapacity = 1024
	}
	out := opts.Log
	if out == nil {
		out = os.Stderr
	}
	return &Engine{
		state:    state,
		registry: registry,
		opts:     opts,
		logger:   log.New(out, "warpcore: ", log.LstdFlags),
		txs:      make(map[TxID]*txState),
		intents:  make(map[ident.Hash]struct{}),
		history:  NewHistory(opts.HistoryCapacity),
	}
}

// IngestIntent dedupes an intent blob by content hash. Identical bytes
// ingested twice report Duplicate on the second call; the engine does
// nothing else with the bytes — intent ingestion beyond identify-and-dedupe
// is an external collaborator's concern.
func (e *Engine) IngestIntent(intentBytes []byte) IntentResult {
	id := ident.IntentID(intentBytes)
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.intents[id]; ok {
		return IntentResult{IntentID: id, Duplicate: true}
	}
	e.intents[id] = struct{}{}
	return IntentResult{IntentID: id, Duplicate: false}
}

// Begin opens a new transaction and returns its id.
func (e *Engine) Begin() TxID {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextTx++
	id := TxID(e.nextTx)
	e.txs[id] = &txState{queue: scheduler.NewQueue()}
	return id
}

// Apply matches ruleName at scope within tx and, on a match, enqueues the
// candidate rewrite with its precomputed footprint. Re-applying the same
// rule at the same scope within one transaction overwrites the earlier
// candidate (last-wins), per the queue's own enqueue semantics.
func (e *Engine) Apply(tx TxID, ruleName string, scope ident.NodeKey) (ApplyResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	t, ok := e.txs[tx]
	if !ok {
		return ApplyResult{}, ErrUnknownTx
	}
	reg, err := e.registry.Lookup(ruleName)
	if err != nil {
		return ApplyResult{}, fmt.Errorf("%w: %s", ErrUnknownRule, ruleName)
	}

	view := graph.NewView(e.state, scope.Instance)
	if !reg.Match(view, scope) {
		return ApplyResult{Outcome: NoMatch}, nil
	}

	fp := reg.ComputeFootprint(view, scope)
	scopeHash := ident.ScopeHash(reg.ID, scope)
	t.queue.Enqueue(scheduler.PendingRewrite{
		RuleID:    reg.ID,
		Compact:   reg.Compact,
		ScopeKey:  scope,
		ScopeHash: scopeHash,
		Footprint: fp,
		Phase:     t.phase,
	})
	return ApplyResult{Outcome: Matched, ScopeHash: scopeHash}, nil
}

// Abort discards tx: it is removed from the live set and its queued
// candidates are dropped without ever reaching execution. State is
// untouched.
func (e *Engine) Abort(tx TxID) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.txs[tx]; !ok {
		return ErrUnknownTx
	}
	delete(e.txs, tx)
	return nil
}

// Commit runs tx through the full tick-commit pipeline — drain, reserve,
// execute, merge, apply, hash, record — and removes tx from the live set
// regardless of outcome. On any failure the returned error is an
// *AbortedError and state, history, and the live tx set's absence of tx are
// the only visible effects; no partial mutation or snapshot occurs.
func (e *Engine) Commit(ctx context.Context, tx TxID) (Snapshot, Receipt, []op.Op, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	t, ok := e.txs[tx]
	if !ok {
		return Snapshot{}, Receipt{}, nil, ErrUnknownTx
	}
	delete(e.txs, tx)

	drained := t.queue.Drain()
	reserved := scheduler.Reserve(drained)

	intentID := ident.Sum(ident.TagIntent, ident.U64LE(uint64(tx)))
	deltas, err := executor.Execute(ctx, e.state, e.registry, reserved.Ready, executor.Options{
		Workers:           e.opts.Workers,
		IntentID:          intentID,
		EnforceFootprints: e.opts.EnforceFootprints,
	})
	if err != nil {
		e.logger.Printf("tx %d: executor error: %v", tx, err)
		return Snapshot{}, Receipt{}, nil, &AbortedError{Reason: err}
	}

	mergedOps, err := merge.Merge(deltas)
	if err != nil {
		e.logger.Printf("tx %d: merge aborted: %v", tx, err)
		return Snapshot{}, Receipt{}, nil, &AbortedError{Reason: err}
	}

	clone := e.state.Clone()
	if err := mutator.Apply(clone, mergedOps); err != nil {
		e.logger.Printf("tx %d: apply aborted: %v", tx, err)
		return Snapshot{}, Receipt{}, nil, &AbortedError{Reason: err}
	}

	var matResult map[string]materialize.Result
	var matErrs []error
	if e.opts.Materialize != nil {
		matResult, matErrs = e.opts.Materialize.Finalize()
	}

	inSlots, outSlots := boundarySlots(reserved.Ready)
	stateRoot := commit.StateRoot(clone)
	patchDigest := commit.PatchDigest(2, e.opts.PolicyID, e.opts.RulePackID, 0, inSlots, outSlots, mergedOps)

	var parents []ident.Hash
	if e.hasLast {
		parents = []ident.Hash{e.lastHash}
	}
	commitHash := commit.CommitHash(parents, stateRoot, patchDigest, e.opts.PolicyID)

	snap := Snapshot{
		Seq:         e.history.nextSeq(),
		Root:        clone.Root(),
		Parents:     parents,
		StateRoot:   stateRoot,
		PatchDigest: patchDigest,
		CommitHash:  commitHash,
		PolicyID:    e.opts.PolicyID,
		TxID:        tx,
	}
	e.history.append(snap)
	e.state = clone
	e.lastHash = commitHash
	e.hasLast = true

	receipt := Receipt{
		Accepted:       scopeHashes(reserved.Ready),
		Rejected:       rejectedCandidates(reserved.Rejected),
		PlanDigest:     commit.PlanDigest(scopeHashes(reserved.Ready)),
		DecisionDigest: commit.DecisionDigest(scopeHashes(rejectedOnly(reserved.Rejected))),
		RewritesDigest: commit.RewritesDigest(mergedOps),
		Materialized:   matResult,
		MaterializeErr: matErrs,
	}
	return snap, receipt, mergedOps, nil
}

// SnapshotHistory returns every recorded snapshot with sequence number in
// [from, to], inclusive, in ascending sequence order.
func (e *Engine) SnapshotHistory(from, to uint64) []Snapshot {
	return e.history.Range(from, to)
}

// SnapshotByCommitHash looks up a recorded snapshot by its commit hash.
func (e *Engine) SnapshotByCommitHash(hash ident.Hash) (Snapshot, bool) {
	return e.history.ByCommitHash(hash)
}

func scopeHashes(ready []scheduler.PendingRewrite) []ident.Hash {
	out := make([]ident.Hash, len(ready))
	for i, r := range ready {
		out[i] = r.ScopeHash
	}
	return out
}

func rejectedOnly(rejected []scheduler.Rejected) []scheduler.PendingRewrite {
	out := make([]scheduler.PendingRewrite, len(rejected))
	for i, r := range rejected {
		out[i] = r.Candidate
	}
	return out
}

func rejectedCandidates(rejected []scheduler.Rejected) []RejectedCandidate {
	out := make([]RejectedCandidate, len(rejected))
	for i, r := range rejected {
		out[i] = RejectedCandidate{
			ScopeHash: r.Candidate.ScopeHash,
			Compact:   r.Candidate.Compact,
			Code:      rejectionCodeFor(r.Blocker.Axis),
		}
	}
	return out
}

// boundarySlots collects the sorted, deduplicated set of port slot names the
// ready set declared as inbound and outbound boundary crossings, for
// patch_digest's in/out slot lists.
func boundarySlots(ready []scheduler.PendingRewrite) (in, out []string) {
	inSet := make(map[string]struct{})
	outSet := make(map[string]struct{})
	for _, r := range ready {
		for _, p := range r.Footprint.PortsIn {
			inSet[p.Slot] = struct{}{}
		}
		for _, p := range r.Footprint.PortsOut {
			outSet[p.Slot] = struct{}{}
		}
	}
	in = sortedKeys(inSet)
	out = sortedKeys(outSet)
	return in, out
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
