package nn

import (
	"math"
)

// Float is the set of floating point element types.
type Float interface {
	~float32 | ~float64
}

// MaxAbsDiff calculates the maximum absolute difference between two slices.
// NaN differences are ignored.
func MaxAbsDiff[T Float](a, b []T) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	m := 0.0
	for i := 0; i < n; i++ {
		d := math.Abs(float64(a[i]) - float64(b[i]))
		if d > m {
			m = d
		}
	}
	return m
}

// Min returns the minimum value in a slice
func Min[T Numeric](v []T) T {
	if len(v) == 0 {
		return 0
	}
	m := v[0]
	for _, x := range v {
		if x < m {
			m = x
		}
	}
	return m
}

// Max returns the maximum value in a slice
func Max[T Numeric](v []T) T {
	if len(v) == 0 {
		return 0
	}
	m := v[0]
	for _, x := range v {
		if x > m {
			m = x
		}
	}
	return m
}

// Mean returns the mean value of a slice
func Mean[T Numeric](v []T) float64 {
	if len(v) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range v {
		sum += float64(x)
	}
	return sum / float64(len(v))
}
