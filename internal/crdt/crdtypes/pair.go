package crdtypes

// Pair merges two independent CRDTs component-wise.
type Pair[A Merger[A], B Merger[B]] struct {
	First  A `json:"first"`
	Second B `json:"second"`
}

func (p Pair[A, B]) Merge(other Pair[A, B]) Pair[A, B] {
	return Pair[A, B]{
		First:  p.First.Merge(other.First),
		Second: p.Second.Merge(other.Second),
	}
}
