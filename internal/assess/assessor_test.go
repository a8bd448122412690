package assess

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/fraudguard/internal/domain"
	"github.com/opensource-finance/fraudguard/internal/features"
	"github.com/opensource-finance/fraudguard/internal/forest"
	"github.com/opensource-finance/fraudguard/internal/preprocess"
)

var fixedNow = time.Date(2024, 3, 12, 14, 30, 0, 0, time.UTC)

func newTestAssessor(t *testing.T, opts ...Option) *Assessor {
	t.Helper()
	opts = append([]Option{
		WithForestParams(forest.Params{NTrees: 20, Seed: 42}),
		WithClock(func() time.Time { return fixedNow }),
	}, opts...)
	a, err := New(opts...)
	require.NoError(t, err)
	return a
}

// trainingSet returns n labeled transactions in which fraud follows large
// amounts on young accounts.
func trainingSet(n int) []domain.LabeledTransaction {
	rng := rand.New(rand.NewPCG(1, 2))
	types := []string{"send", "withdraw", "deposit", "payment"}
	cities := []string{"Nairobi", "Mombasa", "Kisumu", "Nakuru"}

	out := make([]domain.LabeledTransaction, n)
	for i := range n {
		fraud := i%5 == 0
		amount := 100 + rng.Float64()*5000
		age := 100 + rng.IntN(2000)
		disputes := 0
		if fraud {
			amount = 40000 + rng.Float64()*60000
			age = rng.IntN(30)
			disputes = rng.IntN(4)
		}
		out[i] = domain.LabeledTransaction{
			Transaction: domain.Transaction{
				TxID:             fmt.Sprintf("TX%05d", i),
				Amount:           amount,
				TxType:           types[rng.IntN(len(types))],
				Location:         cities[rng.IntN(len(cities))],
				AccountAgeDays:   age,
				PreviousDisputes: disputes,
				Timestamp:        fixedNow.Add(-time.Duration(i) * time.Hour),
			},
			IsFraud: fraud,
		}
	}
	return out
}

func trainedAssessor(t *testing.T) *Assessor {
	t.Helper()
	a := newTestAssessor(t)
	_, err := a.Fit(context.Background(), trainingSet(300))
	require.NoError(t, err)
	return a
}

func sampleTx() domain.Transaction {
	return domain.Transaction{
		TxID:             "TX-IN-1",
		Amount:           60000,
		TxType:           "send",
		Location:         "Nairobi",
		AccountAgeDays:   10,
		PreviousDisputes: 2,
		Timestamp:        fixedNow,
	}
}

func TestPredictBeforeFit(t *testing.T) {
	a := newTestAssessor(t)

	_, err := a.Predict(context.Background(), sampleTx())
	assert.ErrorIs(t, err, domain.ErrNotTrained)
	assert.Nil(t, a.FeatureImportances())
	assert.Nil(t, a.Model())
	assert.False(t, a.Trained())
}

func TestFit(t *testing.T) {
	a := newTestAssessor(t)
	result, err := a.Fit(context.Background(), trainingSet(300))
	require.NoError(t, err)

	assert.NotEmpty(t, result.ModelVersion)
	assert.Equal(t, 300, result.Samples)
	assert.Equal(t, 60, result.FraudSamples)
	assert.Equal(t, fixedNow, result.TrainedAt)
	assert.Greater(t, result.TrainingAccuracy, 0.9)
	assert.Equal(t, []string{
		"amount", "account_age_days", "previous_disputes",
		"tx_type_deposit", "tx_type_payment", "tx_type_send", "tx_type_withdraw",
		"location_Kisumu", "location_Mombasa", "location_Nairobi", "location_Nakuru",
	}, result.Features)

	imp := a.FeatureImportances()
	require.Len(t, imp, len(result.Features))
	var total float64
	for _, name := range result.Features {
		assert.GreaterOrEqual(t, imp[name], 0.0)
		total += imp[name]
	}
	assert.InDelta(t, 1.0, total, 1e-9)
}

func TestFitReplacesModel(t *testing.T) {
	a := trainedAssessor(t)
	first := a.Model()

	_, err := a.Fit(context.Background(), trainingSet(200))
	require.NoError(t, err)
	second := a.Model()

	assert.NotEqual(t, first.Version, second.Version)
	assert.Equal(t, 200, second.Samples)
	assert.Equal(t, 300, first.Samples, "a published model is never mutated")
}

func TestFitErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("Empty", func(t *testing.T) {
		a := newTestAssessor(t)
		_, err := a.Fit(ctx, nil)
		assert.ErrorIs(t, err, domain.ErrNotTrainable)
		assert.False(t, a.Trained())
	})

	t.Run("AllFraud", func(t *testing.T) {
		set := trainingSet(20)
		for i := range set {
			set[i].IsFraud = true
		}
		_, err := newTestAssessor(t).Fit(ctx, set)
		assert.ErrorIs(t, err, domain.ErrNotTrainable)
	})

	t.Run("AllLegit", func(t *testing.T) {
		set := trainingSet(20)
		for i := range set {
			set[i].IsFraud = false
		}
		_, err := newTestAssessor(t).Fit(ctx, set)
		assert.ErrorIs(t, err, domain.ErrNotTrainable)
	})

	t.Run("MalformedRow", func(t *testing.T) {
		set := trainingSet(20)
		set[7].Location = ""
		_, err := newTestAssessor(t).Fit(ctx, set)
		assert.ErrorIs(t, err, domain.ErrMalformedInput)
		assert.Equal(t, "transactions[7].location", domain.FieldOf(err))
	})

	t.Run("FailureKeepsServingModel", func(t *testing.T) {
		a := trainedAssessor(t)
		before := a.Model()
		_, err := a.Fit(ctx, nil)
		require.Error(t, err)
		assert.Same(t, before, a.Model())
	})
}

func TestPredict(t *testing.T) {
	a := trainedAssessor(t)

	got, err := a.Predict(context.Background(), sampleTx())
	require.NoError(t, err)

	assert.Equal(t, "TX-IN-1", got.TxID)
	assert.Equal(t, domain.RiskHigh, got.RiskLabel)
	assert.Equal(t, domain.ActionBlock, got.Action)
	assert.Greater(t, got.RiskScore, 0.7)
	assert.Equal(t, "high amount (60,000.00), new account, 2 previous disputes", got.Explanation)
	assert.Equal(t, a.Model().Version, got.ModelVersion)
	assert.Equal(t, a.FeatureImportances(), got.FeatureImportances)

	legit := domain.Transaction{
		TxID:           "TX-IN-2",
		Amount:         100,
		TxType:         "payment",
		Location:       "Kisumu",
		AccountAgeDays: 400,
		Timestamp:      fixedNow,
	}
	got, err = a.Predict(context.Background(), legit)
	require.NoError(t, err)
	assert.Equal(t, domain.RiskLow, got.RiskLabel)
	assert.Equal(t, domain.ActionAllow, got.Action)
	assert.Equal(t, "no significant risk factors", got.Explanation)
}

func TestPredictIsIdempotent(t *testing.T) {
	a := trainedAssessor(t)
	tx := sampleTx()

	first, err := a.Predict(context.Background(), tx)
	require.NoError(t, err)
	second, err := a.Predict(context.Background(), tx)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestPredictUnseenCategory(t *testing.T) {
	a := trainedAssessor(t)

	tx := sampleTx()
	tx.Location = "Atlantis"
	tx.TxType = "teleport"

	got, err := a.Predict(context.Background(), tx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, got.RiskScore, 0.0)
	assert.LessOrEqual(t, got.RiskScore, 1.0)
}

func TestPredictMissingTimestampUsesClock(t *testing.T) {
	a := newTestAssessor(t, WithSchema(features.TimeAwareSchema))
	_, err := a.Fit(context.Background(), trainingSet(200))
	require.NoError(t, err)
	assert.Contains(t, a.Model().FeatureNames(), features.Hour)

	withTime := sampleTx()
	without := sampleTx()
	without.Timestamp = time.Time{}

	a1, err := a.Predict(context.Background(), withTime)
	require.NoError(t, err)
	a2, err := a.Predict(context.Background(), without)
	require.NoError(t, err)
	assert.Equal(t, a1.RiskScore, a2.RiskScore)
}

func TestPredictMalformedInput(t *testing.T) {
	a := trainedAssessor(t)

	tests := []struct {
		field string
		edit  func(tx *domain.Transaction)
	}{
		{"tx_id", func(tx *domain.Transaction) { tx.TxID = "" }},
		{"amount", func(tx *domain.Transaction) { tx.Amount = 0 }},
		{"account_age_days", func(tx *domain.Transaction) { tx.AccountAgeDays = -1 }},
		{"previous_disputes", func(tx *domain.Transaction) { tx.PreviousDisputes = -2 }},
		{"tx_type", func(tx *domain.Transaction) { tx.TxType = "" }},
		{"location", func(tx *domain.Transaction) { tx.Location = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.field, func(t *testing.T) {
			tx := sampleTx()
			tt.edit(&tx)
			_, err := a.Predict(context.Background(), tx)
			assert.ErrorIs(t, err, domain.ErrMalformedInput)
			assert.Equal(t, tt.field, domain.FieldOf(err))
		})
	}
}

// constantModel builds a model whose forest always returns p.
func constantModel(t *testing.T, p float64) *Model {
	t.Helper()
	pre := preprocess.New(features.DefaultSchema)
	require.NoError(t, pre.Fit([]features.Vector{
		features.Derive(sampleTx()),
	}))

	width := pre.Width()
	names := pre.FeatureNames()
	f := &forest.Forest{
		Params:             forest.DefaultParams(),
		NFeatures:          width,
		Trees:              []forest.Tree{{Nodes: []forest.Node{{Feature: -1, Value: p}}}},
		FeatureImportances: make([]float64, width),
	}
	return &Model{
		Version:     fmt.Sprintf("const-%v", p),
		Schema:      features.DefaultSchema,
		Pre:         pre,
		Forest:      f,
		Importances: importanceMap(names, f.FeatureImportances),
		TrainedAt:   fixedNow,
	}
}

func TestDecisionBoundaryScenario(t *testing.T) {
	tests := []struct {
		p      float64
		label  domain.RiskLabel
		action domain.Action
	}{
		{0.71, domain.RiskHigh, domain.ActionBlock},
		{0.70, domain.RiskMedium, domain.ActionHold},
		{0.30, domain.RiskMedium, domain.ActionHold},
		{0.29, domain.RiskLow, domain.ActionAllow},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.p), func(t *testing.T) {
			a := newTestAssessor(t)
			require.NoError(t, a.Install(constantModel(t, tt.p)))

			got, err := a.Predict(context.Background(), sampleTx())
			require.NoError(t, err)
			assert.Equal(t, tt.p, got.RiskScore)
			assert.Equal(t, tt.label, got.RiskLabel)
			assert.Equal(t, tt.action, got.Action)
		})
	}
}

func TestInstallRejectsInconsistentModel(t *testing.T) {
	a := newTestAssessor(t)
	m := constantModel(t, 0.5)
	m.Forest.NFeatures++
	m.Forest.FeatureImportances = append(m.Forest.FeatureImportances, 0)

	assert.Error(t, a.Install(m))
	assert.False(t, a.Trained())
	assert.Error(t, a.Install(nil))
}

func TestConcurrentPredictDuringFit(t *testing.T) {
	a := trainedAssessor(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 64)
	for g := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 50 {
				tx := sampleTx()
				tx.TxID = fmt.Sprintf("TX-%d-%d", g, i)
				got, err := a.Predict(ctx, tx)
				if err != nil {
					errs <- err
					return
				}
				if got.RiskScore < 0 || got.RiskScore > 1 {
					errs <- fmt.Errorf("score %v out of range", got.RiskScore)
					return
				}
			}
		}()
	}

	_, err := a.Fit(ctx, trainingSet(150))
	require.NoError(t, err)

	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestConfigOptions(t *testing.T) {
	a, err := New(ConfigOptions(domain.ModelConfig{Trees: 7, Seed: 9, TimeFeatures: true})...)
	require.NoError(t, err)

	assert.Equal(t, 7, a.params.NTrees)
	assert.Equal(t, uint64(9), a.params.Seed)
	assert.Equal(t, features.TimeAwareSchema, a.schema)

	a, err = New(ConfigOptions(domain.ModelConfig{})...)
	require.NoError(t, err)
	assert.Equal(t, forest.DefaultParams().NTrees, a.params.NTrees)
	assert.Equal(t, features.DefaultSchema, a.schema)
}
