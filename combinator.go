package atom

import "iter"

// TransformEach applies f to every element and returns the results in
// input order. f must not depend on the order in which elements are visited.
func TransformEach[T, U any](values []T, f func(T) U) []U {
	if values == nil {
		return nil
	}
	out := make([]U, len(values))
	for i, v := range values {
		out[i] = f(v)
	}
	return out
}

// TransformSeq is the lazy form of TransformEach; f runs as the result is ranged over
func TransformSeq[T, U any](seq iter.Seq[T], f func(T) U) iter.Seq[U] {
	return func(yield func(U) bool) {
		for v := range seq {
			if !yield(f(v)) {
				return
			}
		}
	}
}

// ScopedApply runs body against v and returns v unchanged
func ScopedApply[T any](v T, body func(T)) T {
	body(v)
	return v
}

// ScopedLet runs body against v and returns its result
func ScopedLet[T, R any](v T, body func(T) R) R {
	return body(v)
}

// Compose chains transforms left to right. The result is a valid Update
// transform as long as each step is pure.
func Compose[T any](fns ...func(T) T) func(T) T {
	return func(v T) T {
		for _, fn := range fns {
			v = fn(v)
		}
		return v
	}
}
