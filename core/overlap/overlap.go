// Package overlap computes topic-overlap signals between two accounts:
// cosine similarity over dense embedding vectors, and a sparse
// keyword-weight fallback for when the embedding model is unavailable.
//
// Grounded on core/domain/classifier/embedding.go's cosineSimilarity
// (teacher) and original_source/src/topics/embeddings.rs's
// cosine_similarity_embeddings / original_source/src/topics/overlap.rs's
// cosine_from_weights (original).
package overlap

import "math"

// CosineSimilarity computes the cosine of the angle between a and b,
// clamped to [-1, 1]. Returns 0 if the vectors differ in length, are
// empty, or either has zero magnitude. Per spec.md §4.6, when both
// inputs are already L2-normalized the denominator is 1 and this reduces
// to a plain dot product.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	denom := math.Sqrt(normA) * math.Sqrt(normB)
	if denom == 0 {
		return 0
	}

	return clamp(dot/denom, -1, 1)
}

// PositiveOverlap clamps a general cosine similarity into [0, 1], for
// callers (the profile builder) that treat overlap as positive-only per
// spec.md §4.8 step 4.
func PositiveOverlap(cosine float64) float64 {
	return clamp(cosine, 0, 1)
}

// KeywordOverlap computes cosine similarity between two sparse
// keyword->weight maps, treating each as a vector over the union of
// their keys. Used as the fallback when the embedding model is
// unavailable (spec.md §4.8 step 4). Despite the name the original
// source's equivalent function (cosine_from_weights) computes the same
// cosine formula, not a Jaccard ratio; this module names it for what it
// computes.
func KeywordOverlap(a, b map[string]float64) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	var dot float64
	for term, wa := range a {
		if wb, ok := b[term]; ok {
			dot += wa * wb
		}
	}

	var normA, normB float64
	for _, w := range a {
		normA += w * w
	}
	for _, w := range b {
		normB += w * w
	}

	denom := math.Sqrt(normA) * math.Sqrt(normB)
	if denom == 0 {
		return 0
	}

	return clamp(dot/denom, 0, 1)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
