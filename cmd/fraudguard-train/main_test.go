package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/opensource-finance/fraudguard/internal/assess"
	"github.com/opensource-finance/fraudguard/internal/domain"
	"github.com/opensource-finance/fraudguard/internal/repository"
)

func writeCSV(t *testing.T, dir string) string {
	t.Helper()

	var b strings.Builder
	b.WriteString("tx_id,timestamp,amount,tx_type,location,account_age_days,previous_disputes,is_fraud\n")
	for i := range 60 {
		if i%3 == 0 {
			fmt.Fprintf(&b, "F%d,2024-03-12 02:%02d:00,%d,send,Nairobi,%d,2,1\n", i, i, 80000+i, i%15)
		} else {
			fmt.Fprintf(&b, "L%d,2024-03-12 14:%02d:00,%d,withdraw,Kisumu,%d,0,0\n", i, i, 400+i, 700+i)
		}
	}

	path := filepath.Join(dir, "train.csv")
	if err := os.WriteFile(path, []byte(b.String()), 0o600); err != nil {
		t.Fatalf("failed to write csv: %v", err)
	}
	return path
}

func TestRun(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "fg.db")
	t.Setenv("FRAUDGUARD_REPOSITORY_SQLITE_PATH", dbPath)
	t.Setenv("DATABASE_URL", "")

	csvPath := writeCSV(t, dir)
	outPath := filepath.Join(dir, "model.fgm")

	var out bytes.Buffer
	err := run(context.Background(), []string{
		"-data", csvPath,
		"-out", outPath,
		"-trees", "5",
		"-seed", "3",
		"-time-features",
		"-store",
		"-top", "3",
	}, &out)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if !strings.Contains(out.String(), "Samples:            60 (20 fraud)") {
		t.Errorf("unexpected summary:\n%s", out.String())
	}
	if n := strings.Count(out.String(), "\n  "); n != 3 {
		t.Errorf("expected 3 importances printed, got %d", n)
	}

	a, err := assess.New()
	if err != nil {
		t.Fatal(err)
	}
	if err := a.LoadFile(outPath); err != nil {
		t.Fatalf("failed to load artifact: %v", err)
	}
	if _, ok := a.FeatureImportances()["hour"]; !ok {
		t.Error("expected time features in the trained schema")
	}

	repo, err := repository.New(domain.RepositoryConfig{Driver: "sqlite", SQLitePath: dbPath})
	if err != nil {
		t.Fatal(err)
	}
	defer repo.Close()

	art, err := repo.GetLatestModelArtifact(context.Background())
	if err != nil {
		t.Fatalf("expected stored artifact: %v", err)
	}
	if art.Version != a.Model().Version {
		t.Errorf("stored version %s, file version %s", art.Version, a.Model().Version)
	}
}

func TestRunWithoutData(t *testing.T) {
	t.Setenv("FRAUDGUARD_MODEL_TRAINING_DATA", "")
	var out bytes.Buffer
	if err := run(context.Background(), nil, &out); err == nil {
		t.Error("expected error without training data")
	}
}
