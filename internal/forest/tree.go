package forest

import (
	"cmp"
	"math/rand/v2"
	"slices"
)

// builder grows one tree on a bootstrap sample.
type builder struct {
	X           [][]float64
	y           []bool
	params      Params
	maxFeatures int
	rng         *rand.Rand

	weights    []float64
	nodes      []Node
	importance []float64
}

// split is a candidate partition of a node.
type split struct {
	feature   int
	threshold float64
	// weighted child impurity: wL*giniL + wR*giniR
	childImpurity float64
}

func (b *builder) build(classWeight [2]float64) Tree {
	n := len(b.X)
	counts := make([]int, n)
	for range n {
		counts[b.rng.IntN(n)]++
	}

	b.weights = make([]float64, n)
	idx := make([]int, 0, n)
	for i, c := range counts {
		if c == 0 {
			continue
		}
		b.weights[i] = float64(c) * classWeight[label(b.y[i])]
		idx = append(idx, i)
	}

	b.grow(idx, 0)
	return Tree{Nodes: b.nodes}
}

// grow appends the subtree for samples idx and returns its root index.
func (b *builder) grow(idx []int, depth int) int {
	wTotal, wPos := b.sums(idx)
	p := 0.0
	if wTotal > 0 {
		p = wPos / wTotal
	}
	impurity := gini(p)

	id := len(b.nodes)
	b.nodes = append(b.nodes, Node{Feature: -1, Value: p})

	if b.isLeaf(idx, depth, impurity) {
		return id
	}

	best, ok := b.bestSplit(idx)
	if !ok {
		return id
	}

	b.importance[best.feature] += wTotal*impurity - best.childImpurity

	left := make([]int, 0, len(idx))
	right := make([]int, 0, len(idx))
	for _, i := range idx {
		if b.X[i][best.feature] <= best.threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}

	l := b.grow(left, depth+1)
	r := b.grow(right, depth+1)

	b.nodes[id].Feature = best.feature
	b.nodes[id].Threshold = best.threshold
	b.nodes[id].Left = l
	b.nodes[id].Right = r
	return id
}

func (b *builder) isLeaf(idx []int, depth int, impurity float64) bool {
	switch {
	case len(idx) < b.params.MinSamplesSplit:
		return true
	case len(idx) < 2*b.params.MinSamplesLeaf:
		return true
	case b.params.MaxDepth > 0 && depth >= b.params.MaxDepth:
		return true
	case impurity <= 1e-12:
		return true
	}
	return false
}

// bestSplit draws features in random order and evaluates them until
// maxFeatures non-constant features have been tried.
func (b *builder) bestSplit(idx []int) (split, bool) {
	var best split
	found := false

	sorted := make([]int, len(idx))
	tried := 0
	for _, f := range b.rng.Perm(len(b.importance)) {
		if tried >= b.maxFeatures {
			break
		}

		copy(sorted, idx)
		slices.SortFunc(sorted, func(a, c int) int {
			return cmp.Compare(b.X[a][f], b.X[c][f])
		})

		lo, hi := b.X[sorted[0]][f], b.X[sorted[len(sorted)-1]][f]
		if lo == hi {
			continue
		}
		tried++

		if s, ok := b.scanFeature(sorted, f); ok && (!found || s.childImpurity < best.childImpurity) {
			best = s
			found = true
		}
	}

	return best, found
}

// scanFeature sweeps thresholds between consecutive distinct values of
// feature f over samples sorted by that feature.
func (b *builder) scanFeature(sorted []int, f int) (split, bool) {
	wTotal, wPosTotal := b.sums(sorted)
	minLeaf := b.params.MinSamplesLeaf

	var best split
	found := false

	var wLeft, wPosLeft float64
	for k := 0; k < len(sorted)-1; k++ {
		i := sorted[k]
		wLeft += b.weights[i]
		if b.y[i] {
			wPosLeft += b.weights[i]
		}

		cur, next := b.X[i][f], b.X[sorted[k+1]][f]
		if cur == next {
			continue
		}
		if k+1 < minLeaf || len(sorted)-k-1 < minLeaf {
			continue
		}

		wRight := wTotal - wLeft
		wPosRight := wPosTotal - wPosLeft
		child := wLeft*gini(ratio(wPosLeft, wLeft)) + wRight*gini(ratio(wPosRight, wRight))

		if !found || child < best.childImpurity {
			threshold := cur + (next-cur)/2
			if threshold >= next {
				threshold = cur
			}
			best = split{feature: f, threshold: threshold, childImpurity: child}
			found = true
		}
	}

	return best, found
}

func (b *builder) sums(idx []int) (total, positive float64) {
	for _, i := range idx {
		total += b.weights[i]
		if b.y[i] {
			positive += b.weights[i]
		}
	}
	return total, positive
}

func gini(p float64) float64 {
	return 2 * p * (1 - p)
}

func ratio(num, den float64) float64 {
	if den <= 0 {
		return 0
	}
	return num / den
}

func label(fraud bool) int {
	if fraud {
		return 1
	}
	return 0
}
