// Package assess assembles the fraud risk assessment of a transaction from
// the feature deriver, preprocessor, forest, decision policy and explanation
// generator. The Assessor holds the serving model as one snapshot that is
// replaced wholesale by Fit, Load or Install.
package assess

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/opensource-finance/fraudguard/internal/domain"
	"github.com/opensource-finance/fraudguard/internal/explain"
	"github.com/opensource-finance/fraudguard/internal/features"
	"github.com/opensource-finance/fraudguard/internal/forest"
	"github.com/opensource-finance/fraudguard/internal/policy"
	"github.com/opensource-finance/fraudguard/internal/preprocess"
)

var tracer = otel.Tracer("fraudguard-assess")

// Assessor trains, serves and persists the fraud model.
// Predict is safe for concurrent use; Fit, Load and Install are serialized.
type Assessor struct {
	schema    features.Schema
	params    forest.Params
	now       func() time.Time
	logger    *slog.Logger
	explainer *explain.Generator

	mu    sync.Mutex
	model atomic.Pointer[Model]
}

// Option configures an Assessor.
type Option func(*Assessor)

// WithSchema sets the feature columns used by the next Fit.
func WithSchema(s features.Schema) Option {
	return func(a *Assessor) { a.schema = s }
}

// WithForestParams sets the forest training parameters.
func WithForestParams(p forest.Params) Option {
	return func(a *Assessor) { a.params = p }
}

// WithClock sets the time source used for missing timestamps and training times.
func WithClock(now func() time.Time) Option {
	return func(a *Assessor) { a.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Assessor) { a.logger = l }
}

// WithExplainer replaces the default explanation rules.
func WithExplainer(g *explain.Generator) Option {
	return func(a *Assessor) { a.explainer = g }
}

// New creates an untrained Assessor.
func New(opts ...Option) (*Assessor, error) {
	a := &Assessor{
		schema: features.DefaultSchema,
		params: forest.DefaultParams(),
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}

	if a.schema.Empty() {
		return nil, fmt.Errorf("assessor schema is empty")
	}
	if a.explainer == nil {
		g, err := explain.NewGenerator()
		if err != nil {
			return nil, err
		}
		a.explainer = g
	}
	return a, nil
}

// Fit trains a new model on samples and publishes it once complete.
// On error the serving model, if any, is unchanged.
func (a *Assessor) Fit(ctx context.Context, samples []domain.LabeledTransaction) (*domain.TrainingResult, error) {
	ctx, span := tracer.Start(ctx, "assess.Fit")
	defer span.End()
	span.SetAttributes(attribute.Int("samples", len(samples)))

	a.mu.Lock()
	defer a.mu.Unlock()

	start := time.Now()
	m, accuracy, err := a.train(ctx, samples)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "training failed")
		return nil, err
	}
	a.model.Store(m)

	result := &domain.TrainingResult{
		ModelVersion:     m.Version,
		Samples:          m.Samples,
		FraudSamples:     m.FraudSamples,
		Features:         m.FeatureNames(),
		TrainingAccuracy: accuracy,
		TrainedAt:        m.TrainedAt,
		DurationMs:       time.Since(start).Milliseconds(),
	}

	a.logger.Info("model trained",
		"version", m.Version,
		"samples", m.Samples,
		"fraud_samples", m.FraudSamples,
		"features", len(result.Features),
		"training_accuracy", accuracy,
		"duration_ms", result.DurationMs,
	)
	return result, nil
}

func (a *Assessor) train(ctx context.Context, samples []domain.LabeledTransaction) (*Model, float64, error) {
	if len(samples) == 0 {
		return nil, 0, fmt.Errorf("%w: no labeled transactions", domain.ErrNotTrainable)
	}

	vectors := make([]features.Vector, len(samples))
	labels := make([]bool, len(samples))
	fraud := 0
	for i := range samples {
		if err := samples[i].Validate(); err != nil {
			return nil, 0, rowError(i, err)
		}
		vectors[i] = features.Derive(samples[i].Transaction)
		labels[i] = samples[i].IsFraud
		if samples[i].IsFraud {
			fraud++
		}
	}
	if fraud == 0 || fraud == len(samples) {
		return nil, 0, fmt.Errorf("%w: all %d samples share one label", domain.ErrNotTrainable, len(samples))
	}

	pre := preprocess.New(a.schema)
	if err := pre.Fit(vectors); err != nil {
		return nil, 0, err
	}

	X := make([][]float64, len(vectors))
	for i, v := range vectors {
		row, err := pre.Apply(v)
		if err != nil {
			return nil, 0, rowError(i, err)
		}
		X[i] = row
	}

	f := forest.New(a.params)
	if err := f.Fit(ctx, X, labels); err != nil {
		return nil, 0, err
	}
	weights, err := f.Importances()
	if err != nil {
		return nil, 0, err
	}

	correct := 0
	for i, row := range X {
		p, err := f.PredictProba(row)
		if err != nil {
			return nil, 0, err
		}
		if (p >= 0.5) == labels[i] {
			correct++
		}
	}

	m := &Model{
		Version:      uuid.NewString(),
		Schema:       a.schema,
		Pre:          pre,
		Forest:       f,
		Importances:  importanceMap(pre.FeatureNames(), weights),
		TrainedAt:    a.now().UTC(),
		Samples:      len(samples),
		FraudSamples: fraud,
	}
	return m, float64(correct) / float64(len(samples)), nil
}

// rowError prefixes the offending field of a malformed-input error with its row.
func rowError(row int, err error) error {
	var ie *domain.InputError
	if errors.As(err, &ie) {
		return &domain.InputError{Field: fmt.Sprintf("transactions[%d].%s", row, ie.Field), Reason: ie.Reason}
	}
	return fmt.Errorf("row %d: %w", row, err)
}

// Predict assesses one transaction against the serving model.
// A zero timestamp is replaced by the current time.
func (a *Assessor) Predict(ctx context.Context, tx domain.Transaction) (*domain.RiskAssessment, error) {
	_, span := tracer.Start(ctx, "assess.Predict")
	defer span.End()
	span.SetAttributes(attribute.String("tx_id", tx.TxID))

	m := a.model.Load()
	if m == nil {
		return nil, domain.ErrNotTrained
	}

	if tx.Timestamp.IsZero() {
		tx.Timestamp = a.now()
	}
	if err := tx.Validate(); err != nil {
		span.RecordError(err)
		return nil, err
	}

	v := features.Derive(tx)
	row, err := m.Pre.Apply(v)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	p, err := m.Forest.PredictProba(row)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	d := policy.Decide(p)

	span.SetAttributes(
		attribute.Float64("risk_score", p),
		attribute.String("risk_label", string(d.Label)),
		attribute.String("model_version", m.Version),
	)

	return &domain.RiskAssessment{
		TxID:               tx.TxID,
		RiskScore:          p,
		RiskLabel:          d.Label,
		Action:             d.Action,
		Explanation:        a.explainer.Explain(v),
		FeatureImportances: copyImportances(m.Importances),
		ModelVersion:       m.Version,
	}, nil
}

// FeatureImportances returns a copy of the serving model's importance map,
// or nil if no model is loaded.
func (a *Assessor) FeatureImportances() map[string]float64 {
	m := a.model.Load()
	if m == nil {
		return nil
	}
	return copyImportances(m.Importances)
}

// Model returns the serving snapshot, or nil. Callers must not modify it.
func (a *Assessor) Model() *Model {
	return a.model.Load()
}

// Trained reports whether a model is serving.
func (a *Assessor) Trained() bool {
	return a.model.Load() != nil
}

// Install validates m and publishes it as the serving model.
func (a *Assessor) Install(m *Model) error {
	if m == nil {
		return fmt.Errorf("install: nil model")
	}
	if err := m.Check(); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.model.Store(m)
	return nil
}
