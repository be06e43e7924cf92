// Package crdtypes provides the built-in CRDT combinators: Max, Min,
// Version, Pair, Sequence, Set and Map. Each composes with the others
// (a Map of Sets, a Pair of Versions, ...) because they all share the
// same Merge(T) T shape crdt.Bind expects.
package crdtypes

import "cmp"

// Max keeps the largest value seen.
type Max[T cmp.Ordered] struct {
	Value T `json:"value"`
}

func (m Max[T]) Merge(other Max[T]) Max[T] {
	if other.Value > m.Value {
		return other
	}
	return m
}

// Min keeps the smallest value seen.
type Min[T cmp.Ordered] struct {
	Value T `json:"value"`
}

func (m Min[T]) Merge(other Min[T]) Min[T] {
	if other.Value < m.Value {
		return other
	}
	return m
}
