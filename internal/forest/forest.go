// Package forest implements a random forest of CART classification trees
// with class-balanced sample weighting.
//
// Randomness is confined to Fit: each tree draws from its own PCG stream
// seeded by (Params.Seed, tree index), so a forest is reproducible
// regardless of how trees are scheduled. PredictProba only reads.
package forest

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/opensource-finance/fraudguard/internal/domain"
)

// Params controls training.
type Params struct {
	NTrees          int
	MaxFeatures     int // features tried per split; 0 means sqrt(width)
	MaxDepth        int // 0 means unlimited
	MinSamplesSplit int
	MinSamplesLeaf  int
	Seed            uint64
	Workers         int // concurrent tree builders; 0 means GOMAXPROCS
}

// DefaultParams mirrors a 100-tree balanced forest.
func DefaultParams() Params {
	return Params{
		NTrees:          100,
		MinSamplesSplit: 2,
		MinSamplesLeaf:  1,
		Seed:            42,
	}
}

// Node is one tree node. Leaves have Feature == -1.
// Value is the weighted fraud fraction of the training samples at the node.
type Node struct {
	Feature   int
	Threshold float64
	Left      int
	Right     int
	Value     float64
}

// Tree is a flat, pre-order list of nodes rooted at index 0.
type Tree struct {
	Nodes []Node
}

// Forest is a trained ensemble. Fields are exported for serialization.
type Forest struct {
	Params             Params
	NFeatures          int
	Trees              []Tree
	FeatureImportances []float64
}

// New returns an untrained forest.
func New(params Params) *Forest {
	return &Forest{Params: params.withDefaults()}
}

func (p Params) withDefaults() Params {
	d := DefaultParams()
	if p.NTrees <= 0 {
		p.NTrees = d.NTrees
	}
	if p.MinSamplesSplit < 2 {
		p.MinSamplesSplit = d.MinSamplesSplit
	}
	if p.MinSamplesLeaf < 1 {
		p.MinSamplesLeaf = d.MinSamplesLeaf
	}
	return p
}

// Fit trains the forest on rows X with binary labels y.
func (f *Forest) Fit(ctx context.Context, X [][]float64, y []bool) error {
	if len(X) == 0 {
		return fmt.Errorf("%w: no samples", domain.ErrNotTrainable)
	}
	if len(X) != len(y) {
		return &domain.InputError{Field: "labels", Reason: fmt.Sprintf("has %d entries for %d rows", len(y), len(X))}
	}

	width := len(X[0])
	if width == 0 {
		return &domain.InputError{Field: "features", Reason: "row is empty"}
	}
	for i, row := range X {
		if len(row) != width {
			return &domain.InputError{Field: "features", Reason: fmt.Sprintf("row %d has width %d, want %d", i, len(row), width)}
		}
	}

	var positives int
	for _, label := range y {
		if label {
			positives++
		}
	}
	negatives := len(y) - positives
	if positives == 0 || negatives == 0 {
		return fmt.Errorf("%w: training labels contain a single class", domain.ErrNotTrainable)
	}

	// balanced: n_samples / (n_classes * n_class_samples)
	n := float64(len(y))
	classWeight := [2]float64{
		n / (2 * float64(negatives)),
		n / (2 * float64(positives)),
	}

	params := f.Params.withDefaults()
	maxFeatures := params.MaxFeatures
	if maxFeatures <= 0 {
		maxFeatures = int(math.Sqrt(float64(width)))
	}
	maxFeatures = max(1, min(maxFeatures, width))

	workers := params.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	trees := make([]Tree, params.NTrees)
	importances := make([][]float64, params.NTrees)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := range params.NTrees {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			b := &builder{
				X:           X,
				y:           y,
				params:      params,
				maxFeatures: maxFeatures,
				rng:         rand.New(rand.NewPCG(params.Seed, uint64(i))),
				importance:  make([]float64, width),
			}
			trees[i] = b.build(classWeight)
			importances[i] = b.importance
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("forest training cancelled: %w", err)
	}

	f.Params = params
	f.NFeatures = width
	f.Trees = trees
	f.FeatureImportances = averageImportances(importances, width)
	return nil
}

// PredictProba returns the estimated probability that row x is fraudulent.
func (f *Forest) PredictProba(x []float64) (float64, error) {
	if len(f.Trees) == 0 {
		return 0, domain.ErrNotTrained
	}
	if len(x) != f.NFeatures {
		return 0, &domain.InputError{Field: "features", Reason: fmt.Sprintf("has width %d, want %d", len(x), f.NFeatures)}
	}

	var sum float64
	for i := range f.Trees {
		sum += f.Trees[i].predict(x)
	}
	return sum / float64(len(f.Trees)), nil
}

// Importances returns the normalized mean decrease in impurity per feature.
func (f *Forest) Importances() ([]float64, error) {
	if len(f.Trees) == 0 {
		return nil, domain.ErrNotTrained
	}
	out := make([]float64, len(f.FeatureImportances))
	copy(out, f.FeatureImportances)
	return out, nil
}

// Check verifies the structure of a trained forest, typically one decoded
// from an artifact. Children always follow their parent in pre-order.
func (f *Forest) Check() error {
	if f.NFeatures <= 0 {
		return fmt.Errorf("forest has no features")
	}
	if len(f.Trees) == 0 {
		return domain.ErrNotTrained
	}
	if len(f.FeatureImportances) != f.NFeatures {
		return fmt.Errorf("forest has %d importances for %d features", len(f.FeatureImportances), f.NFeatures)
	}
	for t, tree := range f.Trees {
		if len(tree.Nodes) == 0 {
			return fmt.Errorf("tree %d is empty", t)
		}
		for id, node := range tree.Nodes {
			if math.IsNaN(node.Value) || node.Value < 0 || node.Value > 1 {
				return fmt.Errorf("tree %d node %d has invalid value", t, id)
			}
			if node.Feature == -1 {
				continue
			}
			if node.Feature < 0 || node.Feature >= f.NFeatures {
				return fmt.Errorf("tree %d node %d splits on feature %d", t, id, node.Feature)
			}
			if node.Left <= id || node.Right <= id || node.Left >= len(tree.Nodes) || node.Right >= len(tree.Nodes) {
				return fmt.Errorf("tree %d node %d has invalid children", t, id)
			}
		}
	}
	return nil
}

func (t *Tree) predict(x []float64) float64 {
	id := 0
	for {
		node := &t.Nodes[id]
		if node.Feature < 0 {
			return node.Value
		}
		if x[node.Feature] <= node.Threshold {
			id = node.Left
		} else {
			id = node.Right
		}
	}
}

func averageImportances(perTree [][]float64, width int) []float64 {
	out := make([]float64, width)
	for _, imp := range perTree {
		var total float64
		for _, v := range imp {
			total += v
		}
		if total <= 0 {
			continue
		}
		for i, v := range imp {
			out[i] += v / total
		}
	}

	var total float64
	for _, v := range out {
		total += v
	}
	if total > 0 {
		for i := range out {
			out[i] /= total
		}
	}
	return out
}
