package assess

import (
	"fmt"
	"time"

	"github.com/opensource-finance/fraudguard/internal/features"
	"github.com/opensource-finance/fraudguard/internal/forest"
	"github.com/opensource-finance/fraudguard/internal/preprocess"
)

// Model is one trained model: the fitted preprocessor and the forest trained
// on its output, published together. A Model is never mutated after it has
// been installed in an Assessor.
type Model struct {
	Version      string
	Schema       features.Schema
	Pre          *preprocess.Preprocessor
	Forest       *forest.Forest
	Importances  map[string]float64
	TrainedAt    time.Time
	Samples      int
	FraudSamples int
}

// Check verifies that the parts of m belong together.
func (m *Model) Check() error {
	if m.Version == "" {
		return fmt.Errorf("model has no version")
	}
	if m.Schema.Empty() {
		return fmt.Errorf("model schema is empty")
	}
	if m.Pre == nil || m.Forest == nil {
		return fmt.Errorf("model is missing its preprocessor or forest")
	}
	if err := m.Pre.Check(); err != nil {
		return fmt.Errorf("preprocessor: %w", err)
	}
	if err := m.Forest.Check(); err != nil {
		return fmt.Errorf("forest: %w", err)
	}

	width := m.Pre.Width()
	if width != m.Forest.NFeatures {
		return fmt.Errorf("preprocessor width %d does not match forest width %d", width, m.Forest.NFeatures)
	}
	if len(m.Importances) != width {
		return fmt.Errorf("model has %d importances for %d features", len(m.Importances), width)
	}
	for _, name := range m.Pre.FeatureNames() {
		if _, ok := m.Importances[name]; !ok {
			return fmt.Errorf("model has no importance for feature %s", name)
		}
	}
	return nil
}

// FeatureNames returns the encoded column names in model order.
func (m *Model) FeatureNames() []string {
	return m.Pre.FeatureNames()
}

func importanceMap(names []string, weights []float64) map[string]float64 {
	out := make(map[string]float64, len(names))
	for i, name := range names {
		out[name] = weights[i]
	}
	return out
}

func copyImportances(in map[string]float64) map[string]float64 {
	if in == nil {
		return nil
	}
	out := make(map[string]float64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
