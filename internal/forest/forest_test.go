package forest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/fraudguard/internal/domain"
)

// separable returns 100 rows where the first feature decides the label and
// the second is constant.
func separable() ([][]float64, []bool) {
	X := make([][]float64, 100)
	y := make([]bool, 100)
	for i := range 100 {
		X[i] = []float64{float64(i) / 100, 0}
		y[i] = i >= 50
	}
	return X, y
}

func TestFitAndPredict(t *testing.T) {
	X, y := separable()
	f := New(Params{NTrees: 25, Seed: 7})
	require.NoError(t, f.Fit(context.Background(), X, y))

	high, err := f.PredictProba([]float64{0.9, 0})
	require.NoError(t, err)
	assert.Greater(t, high, 0.9)

	low, err := f.PredictProba([]float64{0.1, 0})
	require.NoError(t, err)
	assert.Less(t, low, 0.1)

	assert.Len(t, f.Trees, 25)
	assert.NoError(t, f.Check())
}

func TestDeterministicTraining(t *testing.T) {
	X, y := separable()
	ctx := context.Background()

	a := New(Params{NTrees: 20, Seed: 99, Workers: 1})
	b := New(Params{NTrees: 20, Seed: 99, Workers: 8})
	require.NoError(t, a.Fit(ctx, X, y))
	require.NoError(t, b.Fit(ctx, X, y))

	assert.Equal(t, a.Trees, b.Trees, "tree structure must not depend on scheduling")
	assert.Equal(t, a.FeatureImportances, b.FeatureImportances)

	for _, row := range X {
		pa, err := a.PredictProba(row)
		require.NoError(t, err)
		pb, err := b.PredictProba(row)
		require.NoError(t, err)
		assert.Equal(t, pa, pb)
	}
}

func TestPredictIsRepeatable(t *testing.T) {
	X, y := separable()
	f := New(Params{NTrees: 10, Seed: 1})
	require.NoError(t, f.Fit(context.Background(), X, y))

	x := []float64{0.49, 0}
	first, err := f.PredictProba(x)
	require.NoError(t, err)
	for range 50 {
		again, err := f.PredictProba(x)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestBalancedClassWeight(t *testing.T) {
	// A single constant feature cannot be split, so every tree is one leaf
	// whose value is the weighted fraud fraction of its bootstrap sample.
	X := make([][]float64, 100)
	y := make([]bool, 100)
	for i := range 100 {
		X[i] = []float64{1}
		y[i] = i < 10
	}

	f := New(Params{NTrees: 100, Seed: 3})
	require.NoError(t, f.Fit(context.Background(), X, y))

	p, err := f.PredictProba([]float64{1})
	require.NoError(t, err)
	assert.InDelta(t, 0.5, p, 0.1, "balanced weighting should offset the 9:1 imbalance")
}

func TestImportances(t *testing.T) {
	X, y := separable()
	f := New(Params{NTrees: 10, Seed: 5})

	_, err := f.Importances()
	assert.ErrorIs(t, err, domain.ErrNotTrained)

	require.NoError(t, f.Fit(context.Background(), X, y))

	imp, err := f.Importances()
	require.NoError(t, err)
	require.Len(t, imp, 2)
	assert.InDelta(t, 1.0, imp[0]+imp[1], 1e-9)
	assert.Equal(t, 0.0, imp[1], "constant feature carries no importance")
	assert.GreaterOrEqual(t, imp[0], 0.0)
}

func TestFitErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("Empty", func(t *testing.T) {
		err := New(DefaultParams()).Fit(ctx, nil, nil)
		assert.ErrorIs(t, err, domain.ErrNotTrainable)
	})

	t.Run("SingleClass", func(t *testing.T) {
		X := [][]float64{{1}, {2}, {3}}
		err := New(DefaultParams()).Fit(ctx, X, []bool{true, true, true})
		assert.ErrorIs(t, err, domain.ErrNotTrainable)

		err = New(DefaultParams()).Fit(ctx, X, []bool{false, false, false})
		assert.ErrorIs(t, err, domain.ErrNotTrainable)
	})

	t.Run("RaggedRows", func(t *testing.T) {
		X := [][]float64{{1, 2}, {3}}
		err := New(DefaultParams()).Fit(ctx, X, []bool{true, false})
		assert.ErrorIs(t, err, domain.ErrMalformedInput)
	})

	t.Run("Cancelled", func(t *testing.T) {
		X, y := separable()
		cctx, cancel := context.WithCancel(ctx)
		cancel()

		f := New(Params{NTrees: 50})
		err := f.Fit(cctx, X, y)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Empty(t, f.Trees)
	})
}

func TestPredictErrors(t *testing.T) {
	_, err := New(DefaultParams()).PredictProba([]float64{1})
	assert.ErrorIs(t, err, domain.ErrNotTrained)

	X, y := separable()
	f := New(Params{NTrees: 5})
	require.NoError(t, f.Fit(context.Background(), X, y))

	_, err = f.PredictProba([]float64{1})
	assert.ErrorIs(t, err, domain.ErrMalformedInput)
}

func TestCheckRejectsCycles(t *testing.T) {
	X, y := separable()
	f := New(Params{NTrees: 3, Seed: 2})
	require.NoError(t, f.Fit(context.Background(), X, y))

	f.Trees[0].Nodes[0].Left = 0
	assert.Error(t, f.Check())
}
