// Package embedding wraps a local ONNX sentence-transformer for
// semantic topic-overlap comparison. Grounded on the teacher's
// core/vectorgraphdb/vamana/embedder/onnx.go (hugot Session/Pipeline
// lifecycle) and original_source/src/topics/embeddings.rs (model family,
// pad-token convention, and the mean-pooling semantics hugot's
// FeatureExtractionPipeline performs internally).
package embedding

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/knights-analytics/hugot"
	"github.com/knights-analytics/hugot/options"
	"github.com/knights-analytics/hugot/pipelines"

	charcoalerr "github.com/chaosgreml/charcoal/core/errors"
)

// Dimension is the output size of the all-MiniLM-L6-v2-family model this
// engine is built for, per spec.md §4.4.
const Dimension = 384

// HFRepo is the HuggingFace Hub repository Download fetches the model
// and tokenizer from, matching the teacher's ModelSpec.HFRepo field.
const HFRepo = "sentence-transformers/all-MiniLM-L6-v2"

// modelFile and tokenizerFile are the expected file names inside a
// model directory, matching original_source/src/topics/embeddings.rs's
// SentenceEmbedder::load layout.
const (
	modelFile     = "model.onnx"
	tokenizerFile = "tokenizer.json"
)

// Engine loads and runs the embedding model. A zero Engine is not
// usable; construct with NewEngine and call EnsureLoaded before Embed.
type Engine struct {
	modelDir string

	mu       sync.RWMutex
	session  *hugot.Session
	pipeline *pipelines.FeatureExtractionPipeline
	loaded   bool
}

// NewEngine returns an Engine rooted at modelDir. The model is not
// loaded until EnsureLoaded is called.
func NewEngine(modelDir string) *Engine {
	return &Engine{modelDir: modelDir}
}

// ModelPresent reports whether the expected model files exist on disk,
// without loading them.
func (e *Engine) ModelPresent() bool {
	modelPath := filepath.Join(e.modelDir, modelFile)
	tokenizerPath := filepath.Join(e.modelDir, tokenizerFile)
	if _, err := os.Stat(modelPath); err != nil {
		return false
	}
	if _, err := os.Stat(tokenizerPath); err != nil {
		return false
	}
	return true
}

// EnsureLoaded creates the ONNX session and feature-extraction pipeline
// if they are not already loaded. Returns a TieredError tagged
// ErrModelFilesAbsent (permanent, user-fixable via `charcoal
// download-model`) if the model files are missing.
func (e *Engine) EnsureLoaded(_ context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.loaded {
		return nil
	}

	if !e.ModelPresent() {
		return charcoalerr.WrapWithTier(charcoalerr.TierUserFixable,
			fmt.Sprintf("embedding model not found in %s; run `charcoal download-model`", e.modelDir),
			charcoalerr.ErrModelFilesAbsent)
	}

	session, err := hugot.NewORTSession(options.WithIntraOpNumThreads(runtime.NumCPU()))
	if err != nil {
		return charcoalerr.WrapWithTier(charcoalerr.TierPermanent, "create ONNX runtime session", err)
	}

	pipeline, err := hugot.NewPipeline(session, hugot.FeatureExtractionConfig{
		ModelPath: e.modelDir,
		Name:      "charcoal-embedding",
	})
	if err != nil {
		session.Destroy()
		return charcoalerr.WrapWithTier(charcoalerr.TierPermanent, "create feature-extraction pipeline", err)
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
			fmt.Sprintf("download embedding model from %s", HFRepo), err)
	}

	e.modelDir = modelPath
	return nil
}

// Close releases the underlying ONNX session.
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

// Embed returns a single L2-normalized 384-dim embedding for text.
func (e *Engine) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("embedding: no vector returned for input text")
	}
	return vectors[0], nil
}

// EmbedBatch embeds a batch of texts. hugot's FeatureExtractionPipeline
// performs attention-mask-weighted mean pooling internally (matching
// embeddings.rs's embed_sync); this method L2-normalizes each resulting
// vector, which the original Rust implementation omits but spec.md
// §4.4 requires.
func (e *Engine) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.loaded || e.pipeline == nil {
		return nil, charcoalerr.WrapWithTier(charcoalerr.TierUserFixable,
			"embedding engine not loaded; call EnsureLoaded first", charcoalerr.ErrModelFilesAbsent)
	}

	output, err := e.pipeline.RunPipeline(texts)
	if err != nil {
		return nil, charcoalerr.WrapWithTier(charcoalerr.TierTransient, "embedding inference failed", err)
	}

	vectors := make([][]float32, len(output.Embeddings))
	for i, vec := range output.Embeddings {
		vectors[i] = l2Normalize(vec)
	}
	return vectors, nil
}

// MeanVector averages a set of embeddings into a single centroid and
// L2-normalizes the result, grounded on
// original_source/src/topics/embeddings.rs's mean_embedding, with the
// same normalize-after-averaging addition as EmbedBatch.
func MeanVector(vectors [][]float32) []float32 {
	if len(vectors) == 0 {
		return make([]float32, Dimension)
	}

	sum := make([]float64, Dimension)
	for _, v := range vectors {
		for i := 0; i < Dimension && i < len(v); i++ {
			sum[i] += float64(v[i])
		}
	}

	n := float64(len(vectors))
	mean := make([]float32, Dimension)
	for i, s := range sum {
		mean[i] = float32(s / n)
	}
	return l2Normalize(mean)
}

func l2Normalize(v []float32) []float32 {
	var sumSquares float64
	for _, x := range v {
		sumSquares += float64(x) * float64(x)
	}
	if sumSquares == 0 {
		return v
	}
	norm := float32(math.Sqrt(sumSquares))
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = x / norm
	}
	return out
}
