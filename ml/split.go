package ml

import (
	"math"
	"math/rand"
	"sort"
)

// TestSize returns the number of held-out rows for n samples: ceil(frac·n),
// kept within [1, n-1] when n > 1.
func TestSize(n int, frac float64) int {
	if n < 2 {
		return 0
	}
	t := int(math.Ceil(frac * float64(n)))
	if t < 1 {
		t = 1
	}
	if t > n-1 {
		t = n - 1
	}
	return t
}

// TrainTestSplit shuffles row indices with a fixed seed and holds out
// TestSize(n, frac) of them. The same (n, frac, seed) always yields the same
// partition.
func TrainTestSplit(n int, frac float64, seed int64) (train, test []int) {
	perm := rand.New(rand.NewSource(seed)).Perm(n)
	t := TestSize(n, frac)
	test = append([]int(nil), perm[:t]...)
	train = append([]int(nil), perm[t:]...)
	return train, test
}

// StratifiedSplit partitions rows so every class appears on both sides.
// Each class with m members contributes round(frac·m) rows to the test set,
// at least one and at most m-1. Classes with fewer than two members must be
// removed by the caller.
func StratifiedSplit(labels []float64, frac float64, seed int64) (train, test []int) {
	byClass := make(map[int][]int)
	for i, v := range labels {
		byClass[int(v)] = append(byClass[int(v)], i)
	}
	classes := make([]int, 0, len(byClass))
	for c := range byClass {
		classes = append(classes, c)
	}
	sort.Ints(classes)

	rng := rand.New(rand.NewSource(seed))
	for _, c := range classes {
		members := byClass[c]
		rng.Shuffle(len(members), func(a, b int) { members[a], members[b] = members[b], members[a] })
		t := int(math.Round(frac * float64(len(members))))
		if t < 1 {
			t = 1
		}
		if t > len(members)-1 {
			t = len(members) - 1
		}
		test = append(test, members[:t]...)
		train = append(train, members[t:]...)
	}
	sort.Ints(train)
	sort.Ints(test)
	return train, test
}

// Take selects rows of X and y by index.
func Take(X [][]float64, y []float64, idx []int) ([][]float64, []float64) {
	xs := make([][]float64, len(idx))
	ys := make([]float64, len(idx))
	for k, i := range idx {
		xs[k] = X[i]
		ys[k] = y[i]
	}
	return xs, ys
}
