// Package toxicity scores post text for hostile language patterns using
// a local multi-label ONNX classifier. Grounded on
// original_source/src/toxicity/onnx.rs for the model architecture
// (RoBERTa pad token id 1, 7-category sigmoid output) and spec.md §4.5
// for the composite weighting, which the original leaves as a single
// unweighted "toxicity" label — the composite is this module's own
// synthesis of the model's seven categories.
package toxicity

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/knights-analytics/hugot"
	"github.com/knights-analytics/hugot/options"
	"github.com/knights-analytics/hugot/pipelines"

	charcoalerr "github.com/chaosgreml/charcoal/core/errors"
)

// Categories, in the exact order the unbiased-toxic-roberta-family
// model returns them.
var Categories = []string{
	"toxicity",
	"severe_toxicity",
	"obscene",
	"identity_attack",
	"insult",
	"threat",
	"sexual_explicit",
}

const (
	modelFile     = "model_quantized.onnx"
	tokenizerFile = "tokenizer.json"
)

// HFRepo is the HuggingFace Hub repository Download fetches the
// multi-label toxicity classifier from.
const HFRepo = "citizenlab/unbiased-toxic-roberta"

// Result holds one text's per-category scores and the weighted composite.
type Result struct {
	Composite  float64
	ByCategory map[string]float64
}

// Engine wraps the ONNX toxicity classification pipeline. Lifecycle
// mirrors embedding.Engine: construct, EnsureLoaded, Score*, Close.
type Engine struct {
	modelDir string

	mu       sync.RWMutex
	session  *hugot.Session
	pipeline *pipelines.TextClassificationPipeline
	loaded   bool
}

func NewEngine(modelDir string) *Engine {
	return &Engine{modelDir: modelDir}
}

func (e *Engine) ModelPresent() bool {
	if _, err := os.Stat(filepath.Join(e.modelDir, modelFile)); err != nil {
		return false
	}
	if _, err := os.Stat(filepath.Join(e.modelDir, tokenizerFile)); err != nil {
		return false
	}
	return true
}

func (e *Engine) EnsureLoaded(_ context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.loaded {
		return nil
	}

	if !e.ModelPresent() {
		return charcoalerr.WrapWithTier(charcoalerr.TierUserFixable,
			fmt.Sprintf("toxicity model not found in %s; run `charcoal download-model`", e.modelDir),
			charcoalerr.ErrModelFilesAbsent)
	}

	session, err := hugot.NewORTSession(options.WithIntraOpNumThreads(runtime.NumCPU()))
	if err != nil {
		return charcoalerr.WrapWithTier(charcoalerr.TierPermanent, "create ONNX runtime session", err)
	}

	pipeline, err := hugot.NewPipeline(session, hugot.TextClassificationConfig{
		ModelPath: e.modelDir,
		Name:      "charcoal-toxicity",
		Options: []hugot.TextClassificationOption{
			pipelines.WithMultiLabel(),
			pipelines.WithSigmoid(),
		},
	})
	if err != nil {
		session.Destroy()
		return charcoalerr.WrapWithTier(charcoalerr.TierPermanent, "create text-classification pipeline", err)
	}

	e.session = session
	e.pipeline = pipeline
	e.loaded = true
	return nil
}

// Download fetches the model and tokenizer from HFRepo into modelDir if
// they are not already present, grounded on the teacher's
// core/vectorgraphdb/vamana/embedder/onnx.go's ONNXEmbedder.downloadModel.
// This is what `charcoal download-model` calls; EnsureLoaded itself
// never downloads.
func (e *Engine) Download(_ context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.ModelPresent() {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(e.modelDir), 0o755); err != nil {
		return charcoalerr.WrapWithTier(charcoalerr.TierPermanent, "create model cache directory", err)
	}

	downloadOpts := hugot.NewDownloadOptions()
	modelPath, err := hugot.DownloadModel(HFRepo, filepath.Dir(e.modelDir), downloadOpts)
	if err != nil {
		return charcoalerr.WrapWithTier(charcoalerr.TierTransient,
			fmt.Sprintf("download toxicity model from %s", HFRepo), err)
	}

	e.modelDir = modelPath
	return nil
}

func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session != nil {
		e.session.Destroy()
		e.session = nil
	}
	e.pipeline = nil
	e.loaded = false
	return nil
}

// Score returns the weighted composite and per-category breakdown for a
// single text.
func (e *Engine) Score(ctx context.Context, text string) (Result, error) {
	results, err := e.ScoreBatch(ctx, []string{text})
	if err != nil {
		return Result{}, err
	}
	if len(results) == 0 {
		return Result{}, fmt.Errorf("toxicity: no result returned for input text")
	}
	return results[0], nil
}

// ScoreBatch runs classification across texts in one forward pass and
// maps each row's per-category sigmoid outputs to a Result.
func (e *Engine) ScoreBatch(_ context.Context, texts []string) ([]Result, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.loaded || e.pipeline == nil {
		return nil, charcoalerr.WrapWithTier(charcoalerr.TierUserFixable,
			"toxicity engine not loaded; call EnsureLoaded first", charcoalerr.ErrModelFilesAbsent)
	}

	output, err := e.pipeline.RunPipeline(texts)
	if err != nil {
		return nil, charcoalerr.WrapWithTier(charcoalerr.TierTransient, "toxicity inference failed", err)
	}

	results := make([]Result, len(output.ClassificationOutputs))
	for i, row := range output.ClassificationOutputs {
		byCategory := make(map[string]float64, len(row))
		for _, label := range row {
			byCategory[label.Label] = float64(label.Score)
		}
		results[i] = Result{
			Composite:  Composite(byCategory),
			ByCategory: byCategory,
		}
	}
	return results, nil
}

// Composite implements spec.md §4.5's weighted combination of the
// model's seven output categories. toxicity and sexual_explicit are
// intentionally excluded: sexual_explicit has no allotted weight, and
// raw toxicity is down-weighted to zero here because it primarily
// tracks profanity, which unreliably flags reclaimed and affirming
// language used within the protected community.
func Composite(byCategory map[string]float64) float64 {
	return 0.05*byCategory["obscene"] +
		0.30*byCategory["insult"] +
		0.35*byCategory["identity_attack"] +
		0.20*byCategory["threat"] +
		0.10*byCategory["severe_toxicity"]
}

// AverageComposite is the account-level toxicity score: the arithmetic
// mean of per-post composites across the fetched post set.
func AverageComposite(results []Result) float64 {
	if len(results) == 0 {
		return 0
	}
	var sum float64
	for _, r := range results {
		sum += r.Composite
	}
	return sum / float64(len(results))
}
