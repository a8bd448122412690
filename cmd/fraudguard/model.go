package main

import (
	"bytes"
	"context"
	"errors"
	"io/fs"
	"log/slog"

	"github.com/opensource-finance/fraudguard/internal/assess"
	"github.com/opensource-finance/fraudguard/internal/dataset"
	"github.com/opensource-finance/fraudguard/internal/domain"
	"github.com/opensource-finance/fraudguard/internal/metrics"
	"github.com/opensource-finance/fraudguard/internal/repository"
)

// loadModel installs the serving model from, in order, the model file, the
// latest stored artifact, or a training run on the configured CSV.
// Starting without a model is allowed; predictions answer 503 until one
// is trained.
func loadModel(ctx context.Context, mc domain.ModelConfig, a *assess.Assessor, repo domain.Repository) error {
	if mc.Path != "" {
		err := a.LoadFile(mc.Path)
		switch {
		case err == nil:
			slog.Info("model loaded from file", "path", mc.Path, "version", a.Model().Version)
			metrics.SetModelVersion(a.Model().Version)
			return nil
		case errors.Is(err, fs.ErrNotExist):
			slog.Info("no model file", "path", mc.Path)
		default:
			slog.Warn("model file unusable", "path", mc.Path, "error", err)
		}
	}

	art, err := repo.GetLatestModelArtifact(ctx)
	switch {
	case err == nil:
		if err := a.Load(bytes.NewReader(art.Data)); err != nil {
			slog.Warn("stored model artifact unusable", "version", art.Version, "error", err)
		} else {
			slog.Info("model loaded from repository", "version", art.Version)
			metrics.SetModelVersion(art.Version)
			return nil
		}
	case errors.Is(err, repository.ErrNotFound):
		slog.Info("no stored model artifact")
	default:
		return err
	}

	if mc.TrainingData == "" {
		slog.Warn("starting without a model; train one via POST /api/v1/model/train")
		return nil
	}

	rows, err := dataset.LoadFile(mc.TrainingData)
	if err != nil {
		return err
	}
	result, err := a.Fit(ctx, rows)
	if err != nil {
		metrics.ModelTrainingsTotal.WithLabelValues("failed").Inc()
		return err
	}
	metrics.ModelTrainingsTotal.WithLabelValues("success").Inc()
	metrics.SetModelVersion(result.ModelVersion)

	data, err := a.MarshalVersion(result.ModelVersion)
	if err != nil {
		return err
	}
	if err := repo.SaveModelArtifact(ctx, &domain.ModelArtifact{
		Version:      result.ModelVersion,
		Data:         data,
		Samples:      result.Samples,
		FraudSamples: result.FraudSamples,
		CreatedAt:    result.TrainedAt,
	}); err != nil {
		slog.Error("failed to store model artifact", "error", err)
	}
	if mc.Path != "" {
		if err := a.SaveFileVersion(mc.Path, result.ModelVersion); err != nil {
			slog.Error("failed to write model file", "path", mc.Path, "error", err)
		}
	}

	slog.Info("model trained at startup",
		"version", result.ModelVersion,
		"samples", result.Samples,
		"fraud_samples", result.FraudSamples,
		"training_accuracy", result.TrainingAccuracy,
	)
	return nil
}
