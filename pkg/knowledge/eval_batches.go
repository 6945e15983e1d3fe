package knowledge

import (
	"strconv"
	"strings"
)

// FilteredBias is added to a candidate that forms another known fact. The
// candidate slot is also rewritten to the positive id, so the slot scores
// exactly one below the positive and never outranks it.
const FilteredBias = -1.0

type factKey struct {
	head, relation, tail int64
	time                 string
}

func newFactKey(head, relation, tail int64, time []int64) factKey {
	var sb strings.Builder
	for i, tok := range time {
		if i > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(strconv.FormatInt(tok, 10))
	}
	return factKey{head: head, relation: relation, tail: tail, time: sb.String()}
}

// FactSet is the set of all known facts used to filter evaluation rankings.
// A fact is identified by its ids and its time context.
type FactSet map[factKey]struct{}

// NewFactSet collects every triple of the given splits.
func NewFactSet(splits ...[]Triple) FactSet {
	fs := make(FactSet)
	for _, split := range splits {
		for _, t := range split {
			fs[newFactKey(t.Head, t.Relation, t.Tail, t.Time)] = struct{}{}
		}
	}
	return fs
}

// Contains reports whether (head, relation, tail) holds at time.
func (fs FactSet) Contains(head, relation, tail int64, time []int64) bool {
	_, ok := fs[newFactKey(head, relation, tail, time)]
	return ok
}

// BuildEvalBatches ranks every test triple against all entities in the given
// direction. Candidates forming another known fact are filtered.
func BuildEvalBatches(test []Triple, known FactSet, numEntities int64, mode Mode, batchSize int) ([]*EvalBatch, error) {
	if !mode.Corrupting() {
		return nil, &ConfigurationError{Field: "mode", Value: mode.String(), Reason: "evaluation requires head-batch or tail-batch"}
	}
	if numEntities <= 0 || batchSize <= 0 {
		return nil, shapeErrorf("eval batches", "entities=%d batch_size=%d must be positive", numEntities, batchSize)
	}

	batches := make([]*EvalBatch, 0, (len(test)+batchSize-1)/batchSize)
	for start := 0; start < len(test); start += batchSize {
		end := start + batchSize
		if end > len(test) {
			end = len(test)
		}

		batch := &EvalBatch{Mode: mode}
		for _, t := range test[start:end] {
			negative, bias, err := filteredCandidates(t, known, numEntities, mode)
			if err != nil {
				return nil, err
			}
			batch.Positive = append(batch.Positive, t)
			batch.Negative = append(batch.Negative, negative)
			batch.FilterBias = append(batch.FilterBias, bias)
		}
		batches = append(batches, batch)
	}
	return batches, nil
}

func filteredCandidates(t Triple, known FactSet, numEntities int64, mode Mode) ([]int64, []float64, error) {
	positive := t.Tail
	if mode == ModeHeadBatch {
		positive = t.Head
	}
	if positive < 0 || positive >= numEntities {
		return nil, nil, shapeErrorf("eval batches", "entity %d outside %d entities", positive, numEntities)
	}

	negative := make([]int64, numEntities)
	bias := make([]float64, numEntities)
	for e := int64(0); e < numEntities; e++ {
		var isFact bool
		if mode == ModeHeadBatch {
			isFact = known.Contains(e, t.Relation, t.Tail, t.Time)
		} else {
			isFact = known.Contains(t.Head, t.Relation, e, t.Time)
		}
		if isFact && e != positive {
			negative[e] = positive
			bias[e] = FilteredBias
			continue
		}
		negative[e] = e
	}
	return negative, bias, nil
}
