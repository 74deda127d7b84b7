package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/chaosgreml/charcoal/core/embedding"
	"github.com/chaosgreml/charcoal/core/topics"
)

var fingerprintPostLimit int

var fingerprintCmd = &cobra.Command{
	Use:   "fingerprint",
	Short: "Build the protected account's topic fingerprint",
	Long: `Fetch the protected account's recent posts, extract a TF-IDF topic
fingerprint, and — if the embedding model is present — compute its
centroid embedding for cosine-based overlap comparisons. Persists both
to the database for every subsequent score/scan/sweep run to read.`,
	RunE: runFingerprint,
}

func init() {
	fingerprintCmd.Flags().IntVar(&fingerprintPostLimit, "posts", 200, "number of recent posts to fingerprint")
	rootCmd.AddCommand(fingerprintCmd)
}

func runFingerprint(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if a.cfg.BlueskyHandle == "" {
		return fmt.Errorf("BLUESKY_HANDLE is required to build a fingerprint")
	}

	dids, err := a.client.ResolveDIDs(ctx, []string{a.cfg.BlueskyHandle})
	if err != nil {
		return fmt.Errorf("resolve protected handle: %w", err)
	}
	protectedDID, ok := dids[a.cfg.BlueskyHandle]
	if !ok {
		return fmt.Errorf("could not resolve DID for %s", a.cfg.BlueskyHandle)
	}

	posts, err := a.client.FetchRecentPosts(ctx, protectedDID, fingerprintPostLimit)
	if err != nil {
		return fmt.Errorf("fetch protected account posts: %w", err)
	}

	docs := make([]string, 0, len(posts))
	for _, p := range posts {
		if p.Text != "" {
			docs = append(docs, p.Text)
		}
	}
	if len(docs) == 0 {
		return fmt.Errorf("no post text available to fingerprint")
	}

	fp, err := topics.DefaultExtractor().Extract(docs)
	if err != nil {
		return fmt.Errorf("extract topic fingerprint: %w", err)
	}
	fp.PostCount = len(posts)

	if err := a.embed.EnsureLoaded(ctx); err == nil {
		vectors, err := a.embed.EmbedBatch(ctx, docs)
		if err == nil && len(vectors) > 0 {
			fp.Centroid = embedding.MeanVector(vectors)
			if err := a.store.SaveEmbedding(ctx, fp.Centroid); err != nil {
				a.logger.Warn("failed to persist centroid embedding", "err", err)
			}
		}
	} else {
		a.logger.Warn("embedding engine unavailable; fingerprint will have no centroid", "err", err)
	}

	fpJSON, err := json.Marshal(fp)
	if err != nil {
		return fmt.Errorf("marshal fingerprint: %w", err)
	}
	if err := a.store.SaveFingerprint(ctx, string(fpJSON), fp.PostCount); err != nil {
		return fmt.Errorf("save fingerprint: %w", err)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "%s%sfingerprint built%s from %d posts, %d clusters\n",
		colorBold, colorGreen, colorReset, fp.PostCount, len(fp.Clusters))
	for _, cluster := range fp.Clusters {
		terms := make([]string, 0, len(cluster.Keywords))
		for _, kw := range cluster.Keywords {
			terms = append(terms, kw.Term)
		}
		fmt.Fprintf(w, "  %s%s%s (%.2f): %v\n", colorCyan, cluster.Label, colorReset, cluster.Weight, terms)
	}
	return nil
}
