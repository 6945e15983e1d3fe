package knowledge

import (
	"math"
	"math/rand"
)

// subsamplingStart is the count a (head, relation) or (tail, inverse
// relation) pair has after its first occurrence.
const subsamplingStart = 4

type pairKey struct {
	a, b int64
}

// Sampler draws training batches: each positive triple is paired with
// negativeSize corrupted heads or tails that do not form a known fact.
type Sampler struct {
	triples      []Triple
	numEntities  int64
	negativeSize int
	batchSize    int
	mode         Mode

	count    map[pairKey]int
	trueHead map[pairKey]map[int64]struct{} // (relation, tail) -> heads
	trueTail map[pairKey]map[int64]struct{} // (head, relation) -> tails

	order  []int
	cursor int
	rng    *rand.Rand
}

// NewSampler indexes triples for negative sampling in the given corruption mode.
func NewSampler(triples []Triple, numEntities int64, negativeSize, batchSize int, mode Mode, rng *rand.Rand) (*Sampler, error) {
	if !mode.Corrupting() {
		return nil, &ConfigurationError{Field: "mode", Value: mode.String(), Reason: "sampler requires head-batch or tail-batch"}
	}
	if len(triples) == 0 {
		return nil, shapeErrorf("sampler", "no training triples")
	}
	if numEntities <= 0 || negativeSize <= 0 || batchSize <= 0 {
		return nil, shapeErrorf("sampler", "entities=%d negative_sample_size=%d batch_size=%d must be positive",
			numEntities, negativeSize, batchSize)
	}

	s := &Sampler{
		triples:      triples,
		numEntities:  numEntities,
		negativeSize: negativeSize,
		batchSize:    batchSize,
		mode:         mode,
		count:        make(map[pairKey]int),
		trueHead:     make(map[pairKey]map[int64]struct{}),
		trueTail:     make(map[pairKey]map[int64]struct{}),
		rng:          rng,
	}

	for _, t := range triples {
		if t.Head < 0 || t.Head >= numEntities || t.Tail < 0 || t.Tail >= numEntities {
			return nil, shapeErrorf("sampler", "triple (%d, %d, %d) outside %d entities", t.Head, t.Relation, t.Tail, numEntities)
		}
		s.count[pairKey{t.Head, t.Relation}]++
		s.count[pairKey{t.Tail, -t.Relation - 1}]++

		rt := pairKey{t.Relation, t.Tail}
		if s.trueHead[rt] == nil {
			s.trueHead[rt] = make(map[int64]struct{})
		}
		s.trueHead[rt][t.Head] = struct{}{}

		hr := pairKey{t.Head, t.Relation}
		if s.trueTail[hr] == nil {
			s.trueTail[hr] = make(map[int64]struct{})
		}
		s.trueTail[hr][t.Tail] = struct{}{}
	}

	s.order = make([]int, len(triples))
	for i := range s.order {
		s.order[i] = i
	}
	s.shuffle()
	return s, nil
}

// Mode returns the corruption mode of the batches this sampler produces.
func (s *Sampler) Mode() Mode {
	return s.mode
}

// Next returns the next batch. The triple order is reshuffled after every
// full pass; the last batch of a pass may be smaller than batchSize.
func (s *Sampler) Next() *Batch {
	if s.cursor >= len(s.order) {
		s.shuffle()
		s.cursor = 0
	}
	end := s.cursor + s.batchSize
	if end > len(s.order) {
		end = len(s.order)
	}

	size := end - s.cursor
	batch := &Batch{
		Positive:          make([]Triple, 0, size),
		Negative:          make([][]int64, 0, size),
		SubsamplingWeight: make([]float64, 0, size),
		Mode:              s.mode,
	}
	for _, idx := range s.order[s.cursor:end] {
		t := s.triples[idx]
		batch.Positive = append(batch.Positive, t)
		batch.Negative = append(batch.Negative, s.sampleNegatives(t))
		batch.SubsamplingWeight = append(batch.SubsamplingWeight, s.subsamplingWeight(t))
	}
	s.cursor = end
	return batch
}

func (s *Sampler) subsamplingWeight(t Triple) float64 {
	freq := s.count[pairKey{t.Head, t.Relation}] + s.count[pairKey{t.Tail, -t.Relation - 1}] + 2*(subsamplingStart-1)
	return math.Sqrt(1 / float64(freq))
}

// sampleNegatives rejects candidates that form a known fact. After
// 100*negativeSize rejections it accepts whatever is drawn, so relations that
// cover every entity still terminate.
func (s *Sampler) sampleNegatives(t Triple) []int64 {
	var exclude map[int64]struct{}
	if s.mode == ModeHeadBatch {
		exclude = s.trueHead[pairKey{t.Relation, t.Tail}]
	} else {
		exclude = s.trueTail[pairKey{t.Head, t.Relation}]
	}

	negatives := make([]int64, 0, s.negativeSize)
	maxRejections := 100 * s.negativeSize
	rejections := 0
	for len(negatives) < s.negativeSize {
		candidate := s.rng.Int63n(s.numEntities)
		if _, known := exclude[candidate]; known && rejections < maxRejections {
			rejections++
			continue
		}
		negatives = append(negatives, candidate)
	}
	return negatives
}

func (s *Sampler) shuffle() {
	s.rng.Shuffle(len(s.order), func(i, j int) {
		s.order[i], s.order[j] = s.order[j], s.order[i]
	})
}

// BidirectionalIterator alternates between a tail-batch and a head-batch
// sampler, starting with tail-batch.
type BidirectionalIterator struct {
	head *Sampler
	tail *Sampler
	step int
}

// NewBidirectionalIterator pairs a head-batch and a tail-batch sampler.
func NewBidirectionalIterator(head, tail *Sampler) (*BidirectionalIterator, error) {
	if head == nil || tail == nil || head.Mode() != ModeHeadBatch || tail.Mode() != ModeTailBatch {
		return nil, &ConfigurationError{Field: "iterator", Value: "bidirectional", Reason: "needs one head-batch and one tail-batch sampler"}
	}
	return &BidirectionalIterator{head: head, tail: tail}, nil
}

// Next returns the next batch, alternating corruption direction.
func (it *BidirectionalIterator) Next() *Batch {
	it.step++
	if it.step%2 == 0 {
		return it.head.Next()
	}
	return it.tail.Next()
}
