package toxicity

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func approxEqual(a, b, tolerance float64) bool {
	diff := a - b
	if diff < 0 {
		diff = -diff
	}
	return diff <= tolerance
}

func TestCompositeWeightedSum(t *testing.T) {
	// spec.md §4.5's worked weighting.
	byCategory := map[string]float64{
		"toxicity":        0.9,
		"severe_toxicity": 0.1,
		"obscene":         0.8,
		"identity_attack": 0.3,
		"insult":          0.7,
		"threat":          0.05,
		"sexual_explicit": 0.4,
	}
	want := 0.05*0.8 + 0.30*0.7 + 0.35*0.3 + 0.20*0.05 + 0.10*0.1
	got := Composite(byCategory)
	if !approxEqual(got, want, 1e-9) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestCompositeIgnoresRawToxicityAndSexualExplicit(t *testing.T) {
	a := Composite(map[string]float64{"toxicity": 1.0})
	b := Composite(map[string]float64{"sexual_explicit": 1.0})
	if a != 0 || b != 0 {
		t.Fatalf("expected toxicity and sexual_explicit to contribute zero weight, got %v %v", a, b)
	}
}

func TestCompositeMissingCategoriesDefaultToZero(t *testing.T) {
	got := Composite(map[string]float64{"insult": 1.0})
	want := 0.30
	if !approxEqual(got, want, 1e-9) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestAverageCompositeEmpty(t *testing.T) {
	if got := AverageComposite(nil); got != 0 {
		t.Fatalf("expected 0 for empty result set, got %v", got)
	}
}

func TestAverageCompositeMean(t *testing.T) {
	results := []Result{
		{Composite: 0.2},
		{Composite: 0.4},
		{Composite: 0.6},
	}
	got := AverageComposite(results)
	if !approxEqual(got, 0.4, 1e-9) {
		t.Fatalf("expected mean 0.4, got %v", got)
	}
}

func TestDownloadSkipsWhenModelAlreadyPresent(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, modelFile), []byte("stub"), 0o644); err != nil {
		t.Fatalf("write stub model file: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, tokenizerFile), []byte("{}"), 0o644); err != nil {
		t.Fatalf("write stub tokenizer file: %v", err)
	}

	e := NewEngine(dir)
	if err := e.Download(context.Background()); err != nil {
		t.Fatalf("expected Download to no-op when model files already exist, got %v", err)
	}
	if e.modelDir != dir {
		t.Fatalf("expected modelDir to remain %s, got %s", dir, e.modelDir)
	}
}
