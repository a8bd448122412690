package explain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/fraudguard/internal/features"
)

func vector(amount, age, disputes float64) features.Vector {
	return features.Vector{
		Numeric: map[string]float64{
			features.Amount:           amount,
			features.AccountAgeDays:   age,
			features.PreviousDisputes: disputes,
		},
		Categorical: map[string]string{
			features.TxType:   "send_money",
			features.Location: "Nairobi",
		},
	}
}

func TestExplain(t *testing.T) {
	g, err := NewGenerator()
	require.NoError(t, err)

	tests := []struct {
		name string
		v    features.Vector
		want string
	}{
		{"all factors", vector(60000, 10, 2), "high amount (60,000.00), new account, 2 previous disputes"},
		{"none", vector(500, 400, 0), NoRiskFactors},
		{"single dispute", vector(500, 400, 1), "1 previous dispute"},
		{"amount at threshold", vector(50000, 400, 0), NoRiskFactors},
		{"amount with cents", vector(1234567.891, 400, 0), "high amount (1,234,567.89)"},
		{"account at 30 days", vector(100, 30, 0), NoRiskFactors},
		{"new account only", vector(100, 29, 0), "new account"},
		{"new account and disputes", vector(100, 0, 3), "new account, 3 previous disputes"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, g.Explain(tt.v))
		})
	}
}

func TestExplainIgnoresCategoricals(t *testing.T) {
	g, err := NewGenerator()
	require.NoError(t, err)

	a := vector(60000, 10, 2)
	b := vector(60000, 10, 2)
	b.Categorical[features.TxType] = "never_seen"
	b.Categorical[features.Location] = ""

	assert.Equal(t, g.Explain(a), g.Explain(b))
}

func TestCustomRules(t *testing.T) {
	g, err := NewGeneratorWithRules([]Rule{
		{
			ID:         "withdrawal",
			Expression: `tx_type == "withdrawal"`,
			Clause:     func(features.Vector) string { return "cash withdrawal" },
		},
	})
	require.NoError(t, err)

	v := vector(100, 400, 0)
	assert.Equal(t, NoRiskFactors, g.Explain(v))

	v.Categorical[features.TxType] = "withdrawal"
	assert.Equal(t, "cash withdrawal", g.Explain(v))
}

func TestCompileErrors(t *testing.T) {
	_, err := NewGeneratorWithRules([]Rule{{ID: "syntax", Expression: "amount >"}})
	assert.Error(t, err)

	_, err = NewGeneratorWithRules([]Rule{{ID: "not-bool", Expression: "amount + 1.0"}})
	assert.ErrorContains(t, err, "must return bool")

	_, err = NewGeneratorWithRules([]Rule{{ID: "unknown", Expression: "balance > 1.0"}})
	assert.Error(t, err)
}

func TestFormatAmount(t *testing.T) {
	assert.Equal(t, "60,000.00", FormatAmount(60000))
	assert.Equal(t, "999.50", FormatAmount(999.5))
}
