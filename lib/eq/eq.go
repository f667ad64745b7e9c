/*package eq is a simple package for telling whether two arrays are equal to
one another. It's mostly used by tests.*/
package eq

import (
	"sort"
)

// Slices returns true if two arrays have the same values in the same order
// and false otherwise.
func Slices[T comparable](x, y []T) bool {
	if len(x) != len(y) {
		return false
	}
	for i := range x {
		if x[i] != y[i] {
			return false
		}
	}
	return true
}

// Strings returns true if two []string arrays are the same and false otherwise.
func Strings(x, y []string) bool { return Slices(x, y) }

// Bytes returns true if two []byte arrays are the same and false otherwise.
func Bytes(x, y []byte) bool { return Slices(x, y) }

// Uint64s returns true if two []uint64 arrays are the same and false otherwise.
func Uint64s(x, y []uint64) bool { return Slices(x, y) }

// Sets returns true if two arrays contain the same elements with the same
// multiplicity, regardless of order. Neither input is modified.
func Sets[T interface{ ~uint64 | ~uint32 | ~int }](x, y []T) bool {
	if len(x) != len(y) {
		return false
	}
	xs, ys := append([]T{}, x...), append([]T{}, y...)
	sort.Slice(xs, func(i, j int) bool { return xs[i] < xs[j] })
	sort.Slice(ys, func(i, j int) bool { return ys[i] < ys[j] })
	return Slices(xs, ys)
}

// Float64sEps returns true if the two []float64 arrays are within eps of one
// another and false otherwise.
func Float64sEps(x, y []float64, eps float64) bool {
	if len(x) != len(y) {
		return false
	}
	for i := range x {
		if x[i]+eps < y[i] || x[i]-eps > y[i] {
			return false
		}
	}
	return true
}
