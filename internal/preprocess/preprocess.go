// Package preprocess standardizes numeric features and one-hot encodes
// categorical features. A Preprocessor is fit once and then only read.
package preprocess

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/opensource-finance/fraudguard/internal/domain"
	"github.com/opensource-finance/fraudguard/internal/features"
)

// NumericColumn holds the standardization parameters of one numeric feature.
type NumericColumn struct {
	Name  string
	Mean  float64
	Scale float64
}

// CategoricalColumn holds the sorted levels observed for one categorical feature.
type CategoricalColumn struct {
	Name   string
	Levels []string
}

// Preprocessor maps feature vectors to fixed-width numeric rows.
// Fields are exported so the fitted state can be serialized with the model.
type Preprocessor struct {
	Schema      features.Schema
	Numeric     []NumericColumn
	Categorical []CategoricalColumn
	Fitted      bool
}

// New returns an unfitted preprocessor for the given schema.
func New(schema features.Schema) *Preprocessor {
	return &Preprocessor{Schema: schema}
}

// Fit learns the scaling parameters and categorical levels.
// Numeric schema columns missing from any training vector are left out.
func (p *Preprocessor) Fit(vectors []features.Vector) error {
	if len(vectors) == 0 {
		return fmt.Errorf("%w: no training vectors", domain.ErrNotTrainable)
	}

	var numeric []NumericColumn
	for _, name := range p.Schema.Numeric {
		values, ok := numericValues(vectors, name)
		if !ok {
			continue
		}
		mean, std := stat.PopMeanStdDev(values, nil)
		numeric = append(numeric, NumericColumn{
			Name:  name,
			Mean:  mean,
			Scale: safeScale(std),
		})
	}

	categorical := make([]CategoricalColumn, 0, len(p.Schema.Categorical))
	for _, name := range p.Schema.Categorical {
		seen := make(map[string]struct{})
		for _, v := range vectors {
			level, ok := v.Categorical[name]
			if !ok {
				return &domain.InputError{Field: name, Reason: "is required"}
			}
			seen[level] = struct{}{}
		}
		levels := make([]string, 0, len(seen))
		for level := range seen {
			levels = append(levels, level)
		}
		sort.Strings(levels)
		categorical = append(categorical, CategoricalColumn{Name: name, Levels: levels})
	}

	if len(numeric) == 0 && len(categorical) == 0 {
		return fmt.Errorf("%w: no usable feature columns", domain.ErrNotTrainable)
	}

	p.Numeric = numeric
	p.Categorical = categorical
	p.Fitted = true
	return nil
}

// Apply standardizes and encodes one vector. A categorical level not seen
// during fit encodes as an all-zero block.
func (p *Preprocessor) Apply(v features.Vector) ([]float64, error) {
	if !p.Fitted {
		return nil, domain.ErrNotFitted
	}

	row := make([]float64, p.Width())
	for i, col := range p.Numeric {
		val, ok := v.Numeric[col.Name]
		if !ok {
			return nil, &domain.InputError{Field: col.Name, Reason: "is required"}
		}
		row[i] = (val - col.Mean) / col.Scale
	}

	offset := len(p.Numeric)
	for _, col := range p.Categorical {
		level, ok := v.Categorical[col.Name]
		if !ok {
			return nil, &domain.InputError{Field: col.Name, Reason: "is required"}
		}
		if idx := sort.SearchStrings(col.Levels, level); idx < len(col.Levels) && col.Levels[idx] == level {
			row[offset+idx] = 1
		}
		offset += len(col.Levels)
	}

	return row, nil
}

// Width returns the length of every row produced by Apply.
func (p *Preprocessor) Width() int {
	n := len(p.Numeric)
	for _, col := range p.Categorical {
		n += len(col.Levels)
	}
	return n
}

// FeatureNames returns the output column names: numeric names unchanged,
// then <field>_<level> for every one-hot column.
func (p *Preprocessor) FeatureNames() []string {
	names := make([]string, 0, p.Width())
	for _, col := range p.Numeric {
		names = append(names, col.Name)
	}
	for _, col := range p.Categorical {
		for _, level := range col.Levels {
			names = append(names, col.Name+"_"+level)
		}
	}
	return names
}

// Check verifies the internal consistency of a fitted preprocessor,
// typically one decoded from an artifact.
func (p *Preprocessor) Check() error {
	if !p.Fitted {
		return domain.ErrNotFitted
	}
	if p.Width() == 0 {
		return fmt.Errorf("preprocessor has no columns")
	}
	for _, col := range p.Numeric {
		if col.Name == "" {
			return fmt.Errorf("numeric column without name")
		}
		if math.IsNaN(col.Mean) || math.IsInf(col.Mean, 0) || !(col.Scale > 0) || math.IsInf(col.Scale, 0) {
			return fmt.Errorf("numeric column %s has invalid parameters", col.Name)
		}
	}
	for _, col := range p.Categorical {
		if col.Name == "" {
			return fmt.Errorf("categorical column without name")
		}
		if !sort.StringsAreSorted(col.Levels) {
			return fmt.Errorf("categorical column %s levels are not sorted", col.Name)
		}
		for i := 1; i < len(col.Levels); i++ {
			if col.Levels[i] == col.Levels[i-1] {
				return fmt.Errorf("categorical column %s has duplicate level %q", col.Name, col.Levels[i])
			}
		}
	}
	return nil
}

func numericValues(vectors []features.Vector, name string) ([]float64, bool) {
	values := make([]float64, len(vectors))
	for i, v := range vectors {
		val, ok := v.Numeric[name]
		if !ok {
			return nil, false
		}
		values[i] = val
	}
	return values, true
}

// safeScale gives constant columns unit scale.
func safeScale(std float64) float64 {
	if std < 1e-12 {
		return 1
	}
	return std
}
