package ml

import (
	"math/rand"
	"sort"
)

// treeNode is one node of a flattened CART tree. Leaves have Left == -1.
// Value holds the mean target for regression trees and the class
// distribution for classification trees.
type treeNode struct {
	Feature   int       `json:"feature"`
	Threshold float64   `json:"threshold"`
	Left      int       `json:"left"`
	Right     int       `json:"right"`
	Value     []float64 `json:"value"`
}

func (n treeNode) leaf() bool { return n.Left < 0 }

// DecisionTree is a CART tree using MSE (regression) or Gini (classification)
// impurity. Splits are only placed between distinct feature values.
type DecisionTree struct {
	Classify       bool       `json:"classify"`
	NumClasses     int        `json:"num_classes,omitempty"`
	MaxDepth       int        `json:"max_depth"`
	MinSamplesLeaf int        `json:"min_samples_leaf"`
	MaxFeatures    int        `json:"max_features"`
	NFeatures      int        `json:"n_features"`
	Nodes          []treeNode `json:"nodes"`
	Importances    []float64  `json:"importances"`
}

type treeBuilder struct {
	tree *DecisionTree
	X    [][]float64
	y    []float64
	rng  *rand.Rand
}

// fit grows the tree on the rows listed in idx; idx may contain duplicates.
func (t *DecisionTree) fit(X [][]float64, y []float64, idx []int, rng *rand.Rand) {
	t.NFeatures = len(X[0])
	if t.MaxFeatures <= 0 || t.MaxFeatures > t.NFeatures {
		t.MaxFeatures = t.NFeatures
	}
	if t.MinSamplesLeaf <= 0 {
		t.MinSamplesLeaf = 1
	}
	t.Nodes = t.Nodes[:0]
	t.Importances = make([]float64, t.NFeatures)
	b := &treeBuilder{tree: t, X: X, y: y, rng: rng}
	b.grow(append([]int(nil), idx...), 0)
}

func (b *treeBuilder) leafValue(idx []int) []float64 {
	t := b.tree
	if !t.Classify {
		var sum float64
		for _, i := range idx {
			sum += b.y[i]
		}
		return []float64{sum / float64(len(idx))}
	}
	dist := make([]float64, t.NumClasses)
	for _, i := range idx {
		dist[int(b.y[i])]++
	}
	for c := range dist {
		dist[c] /= float64(len(idx))
	}
	return dist
}

func (b *treeBuilder) impurity(idx []int) float64 {
	n := float64(len(idx))
	if !b.tree.Classify {
		var sum, sq float64
		for _, i := range idx {
			sum += b.y[i]
			sq += b.y[i] * b.y[i]
		}
		mean := sum / n
		v := sq/n - mean*mean
		if v < 0 {
			v = 0
		}
		return v
	}
	counts := make([]float64, b.tree.NumClasses)
	for _, i := range idx {
		counts[int(b.y[i])]++
	}
	return gini(counts, n)
}

func gini(counts []float64, n float64) float64 {
	if n == 0 {
		return 0
	}
	g := 1.0
	for _, c := range counts {
		p := c / n
		g -= p * p
	}
	return g
}

type split struct {
	feature   int
	threshold float64
	pos       int // rows [0,pos) of the sorted order go left
	decrease  float64
	order     []int
}

func (b *treeBuilder) grow(idx []int, depth int) int {
	t := b.tree
	node := len(t.Nodes)
	t.Nodes = append(t.Nodes, treeNode{Feature: -1, Left: -1, Right: -1, Value: b.leafValue(idx)})

	imp := b.impurity(idx)
	if depth >= t.MaxDepth || len(idx) < 2*t.MinSamplesLeaf || imp <= 1e-12 {
		return node
	}
	best, ok := b.bestSplit(idx, imp)
	if !ok {
		return node
	}
	t.Importances[best.feature] += best.decrease

	left := best.order[:best.pos]
	right := best.order[best.pos:]
	l := b.grow(left, depth+1)
	r := b.grow(right, depth+1)
	t.Nodes[node].Feature = best.feature
	t.Nodes[node].Threshold = best.threshold
	t.Nodes[node].Left = l
	t.Nodes[node].Right = r
	return node
}

func (b *treeBuilder) candidateFeatures() []int {
	t := b.tree
	if t.MaxFeatures >= t.NFeatures || b.rng == nil {
		feats := make([]int, t.NFeatures)
		for j := range feats {
			feats[j] = j
		}
		return feats
	}
	return b.rng.Perm(t.NFeatures)[:t.MaxFeatures]
}

// bestSplit returns the split with the largest weighted impurity decrease.
func (b *treeBuilder) bestSplit(idx []int, parentImp float64) (split, bool) {
	t := b.tree
	n := len(idx)
	parent := float64(n) * parentImp
	var best split
	found := false

	for _, f := range b.candidateFeatures() {
		order := append([]int(nil), idx...)
		sort.SliceStable(order, func(a, c int) bool { return b.X[order[a]][f] < b.X[order[c]][f] })

		if t.Classify {
			left := make([]float64, t.NumClasses)
			right := make([]float64, t.NumClasses)
			for _, i := range order {
				right[int(b.y[i])]++
			}
			for pos := 1; pos < n; pos++ {
				c := int(b.y[order[pos-1]])
				left[c]++
				right[c]--
				if pos < t.MinSamplesLeaf || n-pos < t.MinSamplesLeaf {
					continue
				}
				lo, hi := b.X[order[pos-1]][f], b.X[order[pos]][f]
				if lo >= hi {
					continue
				}
				nl, nr := float64(pos), float64(n-pos)
				dec := parent - nl*gini(left, nl) - nr*gini(right, nr)
				if dec > 1e-12 && (!found || dec > best.decrease) {
					best = split{feature: f, threshold: lo + (hi-lo)/2, pos: pos, decrease: dec, order: order}
					found = true
				}
			}
			continue
		}

		var totalSum, totalSq float64
		for _, i := range order {
			totalSum += b.y[i]
			totalSq += b.y[i] * b.y[i]
		}
		var lSum, lSq float64
		for pos := 1; pos < n; pos++ {
			v := b.y[order[pos-1]]
			lSum += v
			lSq += v * v
			if pos < t.MinSamplesLeaf || n-pos < t.MinSamplesLeaf {
				continue
			}
			lo, hi := b.X[order[pos-1]][f], b.X[order[pos]][f]
			if lo >= hi {
				continue
			}
			nl, nr := float64(pos), float64(n-pos)
			rSum, rSq := totalSum-lSum, totalSq-lSq
			lSSE := lSq - lSum*lSum/nl
			rSSE := rSq - rSum*rSum/nr
			dec := parent - lSSE - rSSE
			if dec > 1e-12 && (!found || dec > best.decrease) {
				best = split{feature: f, threshold: lo + (hi-lo)/2, pos: pos, decrease: dec, order: order}
				found = true
			}
		}
	}
	return best, found
}

// predictRow returns the leaf value reached by x.
func (t *DecisionTree) predictRow(x []float64) []float64 {
	i := 0
	for {
		n := t.Nodes[i]
		if n.leaf() {
			return n.Value
		}
		if x[n.Feature] <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
}

// normalizedImportances returns the tree's impurity decreases scaled to sum to one.
func (t *DecisionTree) normalizedImportances() []float64 {
	w := append([]float64(nil), t.Importances...)
	normalize(w)
	return w
}
