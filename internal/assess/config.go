package assess

import (
	"github.com/opensource-finance/fraudguard/internal/domain"
	"github.com/opensource-finance/fraudguard/internal/features"
	"github.com/opensource-finance/fraudguard/internal/forest"
)

// ConfigOptions translates the model settings into assessor options.
func ConfigOptions(mc domain.ModelConfig) []Option {
	p := forest.DefaultParams()
	if mc.Trees > 0 {
		p.NTrees = mc.Trees
	}
	p.Seed = mc.Seed

	opts := []Option{WithForestParams(p)}
	if mc.TimeFeatures {
		opts = append(opts, WithSchema(features.TimeAwareSchema))
	}
	return opts
}
