package knowledge

import "strconv"

// Mode selects which side of a triple is replaced by candidate entities.
type Mode int

const (
	// ModeSingle scores each triple on its own.
	ModeSingle Mode = iota
	// ModeHeadBatch keeps (relation, tail) and scores a row of candidate heads.
	ModeHeadBatch
	// ModeTailBatch keeps (head, relation) and scores a row of candidate tails.
	ModeTailBatch
)

var modeNames = map[Mode]string{
	ModeSingle:    "single",
	ModeHeadBatch: "head-batch",
	ModeTailBatch: "tail-batch",
}

func (m Mode) String() string {
	if s, ok := modeNames[m]; ok {
		return s
	}
	return "mode(" + strconv.Itoa(int(m)) + ")"
}

// Valid reports whether m is one of the three known modes.
func (m Mode) Valid() bool {
	_, ok := modeNames[m]
	return ok
}

// Corrupting reports whether m replaces heads or tails with candidates.
func (m Mode) Corrupting() bool {
	return m == ModeHeadBatch || m == ModeTailBatch
}

// ParseMode maps "single", "head-batch" or "tail-batch" to a Mode.
func ParseMode(s string) (Mode, error) {
	for m, name := range modeNames {
		if name == s {
			return m, nil
		}
	}
	return 0, &ConfigurationError{Field: "mode", Value: s}
}

// Triple is a (head, relation, tail) fact with its time context.
type Triple struct {
	Head     int64
	Relation int64
	Tail     int64

	// Time holds the time-context token ids, one per bucketed time unit.
	Time []int64
}

// Batch is one unit of training input handed over by the sampler.
type Batch struct {
	Positive          []Triple
	Negative          [][]int64 // [batch][negative_sample_size] candidate ids
	SubsamplingWeight []float64
	Mode              Mode
}

// Validate checks that the batch is rectangular and that its mode corrupts
// either heads or tails. withTime additionally requires equal-length, non-empty
// time contexts.
func (b *Batch) Validate(withTime bool) error {
	const op = "train batch"
	if b == nil || len(b.Positive) == 0 {
		return shapeErrorf(op, "empty batch")
	}
	if !b.Mode.Corrupting() {
		return &ConfigurationError{Field: "mode", Value: b.Mode.String(), Reason: "training requires head-batch or tail-batch"}
	}
	if len(b.SubsamplingWeight) != len(b.Positive) {
		return shapeErrorf(op, "%d subsampling weights for %d positives", len(b.SubsamplingWeight), len(b.Positive))
	}
	if _, err := negativeWidth(op, b.Negative, len(b.Positive)); err != nil {
		return err
	}
	if withTime {
		if _, err := TimeWidth(b.Positive); err != nil {
			return err
		}
	}
	return nil
}

// EvalBatch is one unit of evaluation input: every positive is paired with
// the full candidate row and the filter bias added to the candidate scores.
type EvalBatch struct {
	Positive   []Triple
	Negative   [][]int64
	FilterBias [][]float64
	Mode       Mode
}

// Validate checks that candidates and filter bias have matching shapes.
func (b *EvalBatch) Validate(withTime bool) error {
	const op = "eval batch"
	if b == nil || len(b.Positive) == 0 {
		return shapeErrorf(op, "empty batch")
	}
	if !b.Mode.Corrupting() {
		return &ConfigurationError{Field: "mode", Value: b.Mode.String(), Reason: "evaluation requires head-batch or tail-batch"}
	}
	n, err := negativeWidth(op, b.Negative, len(b.Positive))
	if err != nil {
		return err
	}
	if len(b.FilterBias) != len(b.Positive) {
		return shapeErrorf(op, "%d filter bias rows for %d positives", len(b.FilterBias), len(b.Positive))
	}
	for i, row := range b.FilterBias {
		if len(row) != n {
			return shapeErrorf(op, "filter bias row %d has %d entries, want %d", i, len(row), n)
		}
	}
	if withTime {
		if _, err := TimeWidth(b.Positive); err != nil {
			return err
		}
	}
	return nil
}

// TimeWidth returns the common time-context length of the triples.
func TimeWidth(triples []Triple) (int, error) {
	if len(triples) == 0 {
		return 0, nil
	}
	width := len(triples[0].Time)
	if width == 0 {
		return 0, shapeErrorf("time context", "triple 0 has no time tokens")
	}
	for i, t := range triples {
		if len(t.Time) != width {
			return 0, shapeErrorf("time context", "triple %d has %d tokens, want %d", i, len(t.Time), width)
		}
	}
	return width, nil
}

func negativeWidth(op string, negative [][]int64, rows int) (int, error) {
	if len(negative) != rows {
		return 0, shapeErrorf(op, "%d negative rows for %d positives", len(negative), rows)
	}
	n := len(negative[0])
	if n == 0 {
		return 0, shapeErrorf(op, "negative row 0 is empty")
	}
	for i, row := range negative {
		if len(row) != n {
			return 0, shapeErrorf(op, "negative row %d has %d candidates, want %d", i, len(row), n)
		}
	}
	return n, nil
}
