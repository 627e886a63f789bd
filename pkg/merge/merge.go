// Package merge implements the canonical merge step of the BOAW pipeline:
// flatten every worker's emitted ops into sortable triples, order them
// deterministically, and walk runs of equal sort key — identical ops within
// a run dedupe to one, divergent ops are a hard conflict.
package merge

import (
	"fmt"
	"sort"

	"github.com/orneryd/warpcore/pkg/op"
)

// Stamped pairs an emitted op with the provenance it was stamped with at
// emission time.
type Stamped struct {
	Op     op.Op
	Origin op.Origin
}

// Delta is one worker's private output for a tick. A
// poisoned delta carries no usable ops; its Reason explains why execution
// for that worker never completed cleanly.
type Delta struct {
	Ops      []Stamped
	Poisoned bool
	Reason   error
}

// Conflict reports two or more workers independently emitting divergent ops
// that share a sort key — a correctness violation the merge step must
// surface rather than silently resolve.
type Conflict struct {
	Key     op.SortKey
	Origins []op.Origin
}

func (c *Conflict) Error() string {
	return fmt.Sprintf("merge conflict at sort key %+v across %d origins", c.Key, len(c.Origins))
}

type triple struct {
	key    op.SortKey
	origin op.Origin
	op     op.Op
}

// Merge flattens every non-poisoned delta's ops into (sort_key, origin, op)
// triples, sorts them ascending by (sort_key, origin), and walks runs of
// equal sort_key: a run where every op is Equal dedupes to one; a run with
// any divergent op is a *Conflict.
//
// Merge is a pure function of the delta multiset: the same deltas, worker
// count, and scheduling order always produce the same output.
func Merge(deltas []Delta) ([]op.Op, error) {
	var poisonReasons []error
	var triples []triple
	for _, d := range deltas {
		if d.Poisoned {
			poisonReasons = append(poisonReasons, d.Reason)
			continue
		}
		for _, s := range d.Ops {
			triples = append(triples, triple{key: s.Op.Key(), origin: s.Origin, op: s.Op})
		}
	}
	if len(poisonReasons) > 0 {
		return nil, &PoisonedTick{Reasons: poisonReasons}
	}

	sort.Slice(triples, func(i, j int) bool {
		if triples[i].key != triples[j].key {
			return triples[i].key.Less(triples[j].key)
		}
		return triples[i].origin.Less(triples[j].origin)
	})

	out := make([]op.Op, 0, len(triples))
	i := 0
	for i < len(triples) {
		j := i + 1
		for j < len(triples) && triples[j].key == triples[i].key {
			j++
		}
		run := triples[i:j]
		for k := 1; k < len(run); k++ {
			if !op.Equal(run[0].op, run[k].op) {
				origins := make([]op.Origin, len(run))
				for idx, t := range run {
					origins[idx] = t.origin
				}
				return nil, &Conflict{Key: run[0].key, Origins: origins}
			}
		}
		out = append(out, run[0].op)
		i = j
	}
	return out, nil
}

// PoisonedTick aborts a merge outright: any worker poisoned is a tick-wide
// failure, not a partial result.
type PoisonedTick struct {
	Reasons []error
}

func (p *PoisonedTick) Error() string {
	return fmt.Sprintf("tick aborted: %d poisoned worker delta(s), first: %v", len(p.Reasons), p.Reasons[0])
}

func (p *PoisonedTick) Unwrap() []error { return p.Reasons }
