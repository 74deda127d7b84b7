// Package topics extracts a TopicFingerprint from a document set via
// TF-IDF keyword scoring plus co-occurrence clustering.
//
// Grounded on original_source/src/topics/tfidf.rs (algorithm and
// defaults) and original_source/src/topics/fingerprint.rs (the
// TopicFingerprint/TopicCluster shape, ported to core/model).
package topics

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/chaosgreml/charcoal/core/model"
)

// Extractor builds topic fingerprints from a protected user's posts.
type Extractor struct {
	TopNKeywords int
	MaxClusters  int
}

// DefaultExtractor matches spec.md §4.3's defaults.
func DefaultExtractor() Extractor {
	return Extractor{TopNKeywords: 60, MaxClusters: 10}
}

// Extract tokenizes docs, scores terms by TF-IDF across the corpus, and
// clusters the top-N terms by co-occurrence into a TopicFingerprint.
// Returns an error if docs is empty — grounded on tfidf.rs's
// test_extract_empty_fails, which bails rather than returning a hollow
// fingerprint.
func (e Extractor) Extract(docs []string) (*model.TopicFingerprint, error) {
	if len(docs) == 0 {
		return nil, fmt.Errorf("topics: cannot extract a fingerprint from zero documents")
	}

	docTokens := make([][]string, len(docs))
	for i, doc := range docs {
		docTokens[i] = tokenize(doc)
	}

	ranked := e.rankTerms(docTokens)
	if len(ranked) > e.TopNKeywords {
		ranked = ranked[:e.TopNKeywords]
	}

	clusters := clusterKeywords(ranked, docTokens, e.MaxClusters)

	return &model.TopicFingerprint{
		Clusters:  clusters,
		PostCount: len(docs),
	}, nil
}

// rankTerms computes an aggregate TF-IDF score per term across the whole
// corpus (sum of per-document tf*idf) and returns terms ranked
// descending by that score.
func (e Extractor) rankTerms(docTokens [][]string) []model.WeightedTerm {
	docFreq := make(map[string]int)
	termFreq := make([]map[string]float64, len(docTokens))

	for i, tokens := range docTokens {
		counts := make(map[string]int, len(tokens))
		for _, tok := range tokens {
			counts[tok]++
		}
		tf := make(map[string]float64, len(counts))
		n := float64(len(tokens))
		for term, c := range counts {
			if n > 0 {
				tf[term] = float64(c) / n
			}
			docFreq[term]++
		}
		termFreq[i] = tf
	}

	numDocs := float64(len(docTokens))
	scores := make(map[string]float64)
	for i := range docTokens {
		for term, tf := range termFreq[i] {
			idf := math.Log(numDocs / float64(docFreq[term]))
			scores[term] += tf * idf
		}
	}

	ranked := make([]model.WeightedTerm, 0, len(scores))
	for term, score := range scores {
		if score <= 0 {
			continue
		}
		ranked = append(ranked, model.WeightedTerm{Term: term, Weight: score})
	}

	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Weight != ranked[j].Weight {
			return ranked[i].Weight > ranked[j].Weight
		}
		return ranked[i].Term < ranked[j].Term // stable tie-break
	})

	return ranked
}

// clusterKeywords groups the ranked keywords by document co-occurrence.
// Grounded precisely on tfidf.rs::cluster_keywords: build an NxN
// co-occurrence matrix over the ranked terms, then greedily seed clusters
// in ranked order, pulling in each seed's top-5 unassigned co-occurring
// neighbors, labeling by joining the cluster's first three keywords, and
// finally normalizing cluster weights to sum to 1.0.
func clusterKeywords(ranked []model.WeightedTerm, docTokens [][]string, maxClusters int) []model.TopicCluster {
	n := len(ranked)
	if n == 0 {
		return nil
	}

	termIndex := make(map[string]int, n)
	for i, t := range ranked {
		termIndex[t.Term] = i
	}

	// docPresence[i] lists which ranked-term indices appear in document i.
	docPresence := make([][]int, len(docTokens))
	for d, tokens := range docTokens {
		seen := make(map[int]bool)
		for _, tok := range tokens {
			if idx, ok := termIndex[tok]; ok {
				seen[idx] = true
			}
		}
		present := make([]int, 0, len(seen))
		for idx := range seen {
			present = append(present, idx)
		}
		docPresence[d] = present
	}

	cooccurrence := make([][]int, n)
	for i := range cooccurrence {
		cooccurrence[i] = make([]int, n)
	}
	for _, present := range docPresence {
		for _, i := range present {
			for _, j := range present {
				if i != j {
					cooccurrence[i][j]++
				}
			}
		}
	}

	assigned := make([]bool, n)
	var clusters []model.TopicCluster
	totalScore := 0.0
	for _, t := range ranked {
		totalScore += t.Weight
	}

	for seed := 0; seed < n && len(clusters) < maxClusters; seed++ {
		if assigned[seed] {
			continue
		}

		type candidate struct {
			idx   int
			count int
		}
		var candidates []candidate
		for i := 0; i < n; i++ {
			if i == seed || assigned[i] || cooccurrence[seed][i] == 0 {
				continue
			}
			candidates = append(candidates, candidate{idx: i, count: cooccurrence[seed][i]})
		}
		sort.Slice(candidates, func(i, j int) bool {
			return candidates[i].count > candidates[j].count
		})
		if len(candidates) > 5 {
			candidates = candidates[:5]
		}

		members := []int{seed}
		for _, c := range candidates {
			members = append(members, c.idx)
		}

		keywords := make([]model.WeightedTerm, 0, len(members))
		var clusterScore float64
		labelTerms := make([]string, 0, 3)
		for _, idx := range members {
			assigned[idx] = true
			keywords = append(keywords, ranked[idx])
			clusterScore += ranked[idx].Weight
			if len(labelTerms) < 3 {
				labelTerms = append(labelTerms, ranked[idx].Term)
			}
		}

		weight := 0.0
		if totalScore > 0 {
			weight = clusterScore / totalScore
		}

		clusters = append(clusters, model.TopicCluster{
			Label:    strings.Join(labelTerms, " / "),
			Keywords: keywords,
			Weight:   weight,
		})
	}

	normalizeClusterWeights(clusters)

	sort.Slice(clusters, func(i, j int) bool {
		return clusters[i].Weight > clusters[j].Weight
	})

	return clusters
}

func normalizeClusterWeights(clusters []model.TopicCluster) {
	var sum float64
	for _, c := range clusters {
		sum += c.Weight
	}
	if sum == 0 {
		return
	}
	for i := range clusters {
		clusters[i].Weight /= sum
	}
}
