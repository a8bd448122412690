// FraudGuard - Fraud risk assessment for mobile money.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

// Command fraudguard-train fits a model on a labeled CSV and writes the
// artifact to disk, optionally storing it in the repository so running
// servers can pick it up via POST /api/v1/model/reload.
package main

import (
	"cmp"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"slices"
	"syscall"

	"github.com/opensource-finance/fraudguard/internal/assess"
	"github.com/opensource-finance/fraudguard/internal/config"
	"github.com/opensource-finance/fraudguard/internal/dataset"
	"github.com/opensource-finance/fraudguard/internal/domain"
	"github.com/opensource-finance/fraudguard/internal/repository"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "fraudguard-train: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("fraudguard-train", flag.ContinueOnError)
	fs.SetOutput(out)
	configPath := fs.String("config", os.Getenv("FRAUDGUARD_CONFIG"), "Path to config file")
	data := fs.String("data", "", "Labeled CSV (defaults to model.training_data)")
	outPath := fs.String("out", "", "Artifact path (defaults to model.path)")
	trees := fs.Int("trees", 0, "Number of trees (defaults to model.trees)")
	seed := fs.Uint64("seed", 0, "Training seed (defaults to model.seed)")
	timeFeatures := fs.Bool("time-features", false, "Add hour and day_of_week features")
	store := fs.Bool("store", false, "Also store the artifact in the configured repository")
	top := fs.Int("top", 10, "Number of feature importances to print")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	mc := cfg.Model
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "data":
			mc.TrainingData = *data
		case "out":
			mc.Path = *outPath
		case "trees":
			mc.Trees = *trees
		case "seed":
			mc.Seed = *seed
		case "time-features":
			mc.TimeFeatures = *timeFeatures
		}
	})
	if mc.TrainingData == "" {
		return errors.New("no training data: pass -data or set model.training_data")
	}

	rows, err := dataset.LoadFile(mc.TrainingData)
	if err != nil {
		return err
	}

	a, err := assess.New(append(assess.ConfigOptions(mc), assess.WithLogger(config.NewLogger(cfg.Logging, os.Stderr)))...)
	if err != nil {
		return err
	}
	result, err := a.Fit(ctx, rows)
	if err != nil {
		return err
	}

	if mc.Path != "" {
		if err := a.SaveFile(mc.Path); err != nil {
			return err
		}
	}
	if *store {
		if err := storeArtifact(ctx, cfg.Repository, a, result); err != nil {
			return fmt.Errorf("store artifact: %w", err)
		}
	}

	printResult(out, result, a.FeatureImportances(), mc.Path, *top)
	return nil
}

func storeArtifact(ctx context.Context, rc domain.RepositoryConfig, a *assess.Assessor, result *domain.TrainingResult) error {
	repo, err := repository.New(rc)
	if err != nil {
		return err
	}
	defer repo.Close()

	data, err := a.MarshalVersion(result.ModelVersion)
	if err != nil {
		return err
	}
	return repo.SaveModelArtifact(ctx, &domain.ModelArtifact{
		Version:      result.ModelVersion,
		Data:         data,
		Samples:      result.Samples,
		FraudSamples: result.FraudSamples,
		CreatedAt:    result.TrainedAt,
	})
}

type importance struct {
	name  string
	value float64
}

func printResult(w io.Writer, r *domain.TrainingResult, imps map[string]float64, path string, top int) {
	fmt.Fprintf(w, "Model version:      %s\n", r.ModelVersion)
	fmt.Fprintf(w, "Samples:            %d (%d fraud)\n", r.Samples, r.FraudSamples)
	fmt.Fprintf(w, "Training accuracy:  %.4f\n", r.TrainingAccuracy)
	fmt.Fprintf(w, "Duration:           %d ms\n", r.DurationMs)
	if path != "" {
		fmt.Fprintf(w, "Artifact:           %s\n", path)
	}

	sorted := make([]importance, 0, len(imps))
	for name, v := range imps {
		sorted = append(sorted, importance{name, v})
	}
	slices.SortFunc(sorted, func(a, b importance) int {
		if c := cmp.Compare(b.value, a.value); c != 0 {
			return c
		}
		return cmp.Compare(a.name, b.name)
	})
	if top > 0 && len(sorted) > top {
		sorted = sorted[:top]
	}

	fmt.Fprintln(w, "\nFeature importances:")
	for _, imp := range sorted {
		fmt.Fprintf(w, "  %-28s %.4f\n", imp.name, imp.value)
	}
}
