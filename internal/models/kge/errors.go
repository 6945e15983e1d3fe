package kge

import "fmt"

// RankingAmbiguityError reports an evaluation row in which the true entity
// does not occupy exactly one unfiltered position, or whose scores cannot be
// totally ordered.
type RankingAmbiguityError struct {
	Mode    string
	Row     int
	Entity  int64
	Matches int
	Reason  string
}

func (e *RankingAmbiguityError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("ranking %s row %d entity %d: %s", e.Mode, e.Row, e.Entity, e.Reason)
	}
	return fmt.Sprintf("ranking %s row %d entity %d: %d matching positions, want 1", e.Mode, e.Row, e.Entity, e.Matches)
}
