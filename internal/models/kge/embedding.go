package kge

import (
	"fmt"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/cnclabs/tkge/pkg/knowledge"
	"github.com/cnclabs/tkge/pkg/optim"
)

// Table names one of the three embedding tables.
type Table int

const (
	EntityTable Table = iota
	RelationTable
	TimeTable
)

func (t Table) String() string {
	switch t {
	case EntityTable:
		return "entity"
	case RelationTable:
		return "relation"
	case TimeTable:
		return "time"
	}
	return fmt.Sprintf("Table(%d)", int(t))
}

// EmbeddingStore owns the entity, relation and time-token tables. Tables never
// change size after construction; only the optimizer changes their values.
type EmbeddingStore struct {
	Scale Scale

	params [3]*optim.Param
	values [3]*mat.Dense
	grads  [3]*mat.Dense
}

func newEmbeddingStore(numEntities, numRelations int64, d dims, scale Scale, rng *rand.Rand) *EmbeddingStore {
	s := &EmbeddingStore{Scale: scale}
	rows := [3]int64{numEntities, numRelations, knowledge.NumTimeTokens}
	widths := [3]int{d.entity, d.relation, d.time}
	for t := EntityTable; t <= TimeTable; t++ {
		n, w := int(rows[t]), widths[t]
		value := make([]float64, n*w)
		for i := range value {
			value[i] = (rng.Float64()*2 - 1) * scale.EmbeddingRange
		}
		p := optim.NewParam(t.String()+"_embedding", value)
		s.params[t] = p
		s.values[t] = mat.NewDense(n, w, p.Value)
		s.grads[t] = mat.NewDense(n, w, p.Grad)
	}
	return s
}

// Size returns the number of rows of a table.
func (s *EmbeddingStore) Size(t Table) int64 {
	r, _ := s.values[t].Dims()
	return int64(r)
}

// Dim returns the row width of a table.
func (s *EmbeddingStore) Dim(t Table) int {
	_, c := s.values[t].Dims()
	return c
}

// Row returns a view of one row. Callers must not modify it.
func (s *EmbeddingStore) Row(t Table, id int64) ([]float64, error) {
	if id < 0 || id >= s.Size(t) {
		return nil, &knowledge.ShapeError{
			Op:     "lookup " + t.String(),
			Reason: fmt.Sprintf("id %d outside [0, %d)", id, s.Size(t)),
		}
	}
	return s.values[t].RawRowView(int(id)), nil
}

// Lookup gathers the rows for ids. It fails on the first out-of-range id.
func (s *EmbeddingStore) Lookup(t Table, ids []int64) ([][]float64, error) {
	out := make([][]float64, len(ids))
	for i, id := range ids {
		row, err := s.Row(t, id)
		if err != nil {
			return nil, err
		}
		out[i] = row
	}
	return out, nil
}

func (s *EmbeddingStore) gradRow(t Table, id int64) []float64 {
	return s.grads[t].RawRowView(int(id))
}

func (s *EmbeddingStore) param(t Table) *optim.Param {
	return s.params[t]
}
