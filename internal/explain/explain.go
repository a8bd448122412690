// Package explain produces the human-readable rationale of an assessment.
// Rule conditions are CEL expressions over the raw feature values and are
// evaluated in a fixed order, independently of the classifier.
package explain

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/opensource-finance/fraudguard/internal/features"
)

// NoRiskFactors is the explanation when no rule triggers.
const NoRiskFactors = "no significant risk factors"

// Rule is one explanation rule: a CEL condition and the clause it adds.
type Rule struct {
	ID         string
	Expression string
	Clause     func(v features.Vector) string
}

type compiledRule struct {
	rule    Rule
	program cel.Program
}

// Generator evaluates the explanation rules. It is safe for concurrent use.
type Generator struct {
	rules []compiledRule
}

// DefaultRules returns the explanation rules in evaluation order.
func DefaultRules() []Rule {
	return []Rule{
		{
			ID:         "high-amount",
			Expression: "amount > 50000.0",
			Clause: func(v features.Vector) string {
				return "high amount (" + FormatAmount(v.Numeric[features.Amount]) + ")"
			},
		},
		{
			ID:         "new-account",
			Expression: "account_age_days < 30.0",
			Clause: func(features.Vector) string {
				return "new account"
			},
		},
		{
			ID:         "previous-disputes",
			Expression: "previous_disputes > 0.0",
			Clause: func(v features.Vector) string {
				n := int(v.Numeric[features.PreviousDisputes])
				if n == 1 {
					return "1 previous dispute"
				}
				return fmt.Sprintf("%d previous disputes", n)
			},
		},
	}
}

// NewGenerator compiles the default rules.
func NewGenerator() (*Generator, error) {
	return NewGeneratorWithRules(DefaultRules())
}

// NewGeneratorWithRules compiles rules, which are evaluated in the given order.
func NewGeneratorWithRules(rules []Rule) (*Generator, error) {
	env, err := cel.NewEnv(
		cel.Variable(features.Amount, cel.DoubleType),
		cel.Variable(features.AccountAgeDays, cel.DoubleType),
		cel.Variable(features.PreviousDisputes, cel.DoubleType),
		cel.Variable(features.TxType, cel.StringType),
		cel.Variable(features.Location, cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	g := &Generator{rules: make([]compiledRule, 0, len(rules))}
	for _, r := range rules {
		ast, issues := env.Compile(r.Expression)
		if issues != nil && issues.Err() != nil {
			return nil, fmt.Errorf("failed to compile rule %s: %w", r.ID, issues.Err())
		}
		if ast.OutputType() != cel.BoolType {
			return nil, fmt.Errorf("rule %s: expression must return bool, got %s", r.ID, ast.OutputType())
		}
		program, err := env.Program(ast)
		if err != nil {
			return nil, fmt.Errorf("failed to create program for rule %s: %w", r.ID, err)
		}
		g.rules = append(g.rules, compiledRule{rule: r, program: program})
	}

	return g, nil
}

// Explain returns the comma-joined clauses of every triggered rule, in rule
// order, or NoRiskFactors.
func (g *Generator) Explain(v features.Vector) string {
	activation := map[string]any{
		features.Amount:           v.Numeric[features.Amount],
		features.AccountAgeDays:   v.Numeric[features.AccountAgeDays],
		features.PreviousDisputes: v.Numeric[features.PreviousDisputes],
		features.TxType:           v.Categorical[features.TxType],
		features.Location:         v.Categorical[features.Location],
	}

	var clauses []string
	for _, r := range g.rules {
		out, _, err := r.program.Eval(activation)
		if err != nil {
			slog.Debug("explanation rule failed", "rule_id", r.rule.ID, "error", err)
			continue
		}
		if out == types.True {
			clauses = append(clauses, r.rule.Clause(v))
		}
	}

	if len(clauses) == 0 {
		return NoRiskFactors
	}
	return strings.Join(clauses, ", ")
}

// FormatAmount renders an amount with thousands separators and two decimals.
func FormatAmount(amount float64) string {
	return message.NewPrinter(language.English).Sprintf("%.2f", amount)
}
