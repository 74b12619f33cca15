package services

import (
	"math"
	"time"

	"gonum.org/v1/gonum/stat"
)

func isNaN(v float64) bool { return math.IsNaN(v) }

func nanSlice(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}

// window returns x[i-w+1 : i+1] when the full window exists and holds no NaN.
func window(x []float64, i, w int) ([]float64, bool) {
	if i+1 < w {
		return nil, false
	}
	win := x[i-w+1 : i+1]
	for _, v := range win {
		if isNaN(v) {
			return nil, false
		}
	}
	return win, true
}

// rollingMean is the mean of the trailing w samples, NaN until w are available.
func rollingMean(x []float64, w int) []float64 {
	out := nanSlice(len(x))
	for i := range x {
		if win, ok := window(x, i, w); ok {
			out[i] = stat.Mean(win, nil)
		}
	}
	return out
}

// rollingStd is the sample standard deviation of the trailing w samples.
func rollingStd(x []float64, w int) []float64 {
	out := nanSlice(len(x))
	for i := range x {
		if win, ok := window(x, i, w); ok {
			out[i] = stat.StdDev(win, nil)
		}
	}
	return out
}

// pctChange is x[i]/x[i-1]-1. The first sample and any sample whose
// predecessor is zero or undefined are NaN.
func pctChange(x []float64) []float64 {
	out := nanSlice(len(x))
	for i := 1; i < len(x); i++ {
		out[i] = safeDiv(x[i], x[i-1]) - 1
	}
	return out
}

// shift returns x delayed by k samples.
func shift(x []float64, k int) []float64 {
	out := nanSlice(len(x))
	for i := k; i < len(x); i++ {
		out[i] = x[i-k]
	}
	return out
}

func diff(x []float64) []float64 {
	out := nanSlice(len(x))
	for i := 1; i < len(x); i++ {
		out[i] = x[i] - x[i-1]
	}
	return out
}

// ewm is the adjusted exponentially weighted mean with alpha = 2/(span+1).
// A value is emitted once span defined samples have been seen; undefined
// inputs stay undefined but still age the weights.
func ewm(x []float64, span int) []float64 {
	out := nanSlice(len(x))
	decay := 1 - 2/(float64(span)+1)
	var num, den float64
	seen := 0
	for i, v := range x {
		num *= decay
		den *= decay
		if isNaN(v) {
			continue
		}
		num += v
		den++
		seen++
		if seen >= span {
			out[i] = num / den
		}
	}
	return out
}

// safeDiv returns a/b, or NaN when b is zero or either side is undefined.
func safeDiv(a, b float64) float64 {
	if b == 0 || isNaN(a) || isNaN(b) {
		return math.NaN()
	}
	return a / b
}

func zip(a, b []float64, fn func(a, b float64) float64) []float64 {
	out := make([]float64, len(a))
	for i := range a {
		out[i] = fn(a[i], b[i])
	}
	return out
}

func mapTimes(ts []time.Time, fn func(time.Time) float64) []float64 {
	out := make([]float64, len(ts))
	for i, t := range ts {
		out[i] = fn(t)
	}
	return out
}

// weekday counts from Monday = 0.
func weekday(t time.Time) int { return (int(t.Weekday()) + 6) % 7 }

func quarter(t time.Time) int { return (int(t.Month())-1)/3 + 1 }

func boolFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// bucketIndex returns the index of the right-closed bin containing v given
// ascending inner edges: (-inf,e0] → 0, (e0,e1] → 1, ..., (eN,inf) → N+1.
func bucketIndex(v float64, edges []float64) int {
	for i, e := range edges {
		if v <= e {
			return i
		}
	}
	return len(edges)
}
