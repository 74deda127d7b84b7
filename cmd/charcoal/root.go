// Command charcoal is Charcoal's CLI: a single protected-account
// operator drives fingerprinting, scanning, and reporting from here.
// Grounded on the teacher's cmd/root.go for the minimal cobra root
// pattern and original_source/src/main.rs for the full command surface
// this binary needs to cover.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/chaosgreml/charcoal/core/behavioral"
	"github.com/chaosgreml/charcoal/core/config"
	"github.com/chaosgreml/charcoal/core/embedding"
	"github.com/chaosgreml/charcoal/core/logging"
	"github.com/chaosgreml/charcoal/core/model"
	"github.com/chaosgreml/charcoal/core/netclient"
	"github.com/chaosgreml/charcoal/core/profile"
	"github.com/chaosgreml/charcoal/core/scoring"
	"github.com/chaosgreml/charcoal/core/storage"
	"github.com/chaosgreml/charcoal/core/toxicity"
)

// ANSI color constants, matching the teacher's cmd/search.go palette —
// no third-party color library appears anywhere in the example corpus.
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorBlue   = "\033[34m"
	colorCyan   = "\033[36m"
	colorGray   = "\033[90m"
	colorBold   = "\033[1m"
)

var rootCmd = &cobra.Command{
	Use:   "charcoal",
	Short: "Predictive threat detection for a protected Bluesky account",
	Long: `Charcoal watches a protected Bluesky account for amplification by hostile
accounts and scores the wider network on toxicity and topic overlap, so
a moderation team sees threats forming before they escalate.`,
}

func Execute() error {
	return rootCmd.Execute()
}

func main() {
	if err := Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s%serror:%s %v\n", colorBold, colorRed, colorReset, err)
		os.Exit(1)
	}
}

// app bundles every dependency a command needs, built fresh per
// invocation from environment-sourced config — per spec.md §6, there is
// no other configuration source.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   storage.Database
	client  *netclient.Client
	embed   *embedding.Engine
	tox     *toxicity.Engine
	builder *profile.Builder
}

func (a *app) Close() {
	a.embed.Close()
	a.tox.Close()
	a.store.Close()
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logger := logging.New(cfg.LogLevel)

	store, err := storage.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}

	client := netclient.New(cfg.PublicAPIURL, cfg.ConstellationURL)
	embed := embedding.NewEngine(filepath.Join(cfg.ModelDir, "embedding"))
	tox := toxicity.NewEngine(filepath.Join(cfg.ModelDir, "toxicity"))
	builder := profile.NewBuilder(client, embed, tox, store, logger)

	// NewBuilder's doc comment calls out BehavioralRules and ScoreWeights
	// as override points for config-sourced values; apply them here so
	// CHARCOAL_PILE_ON_THRESHOLD, CHARCOAL_BENIGN_*, and
	// CHARCOAL_OVERLAP_GATE_THRESHOLD actually reach the scoring path. The
	// other three weights come from Config's defaults; no environment
	// variable sets them.
	builder.BehavioralRules.PileOnCount = cfg.PileOnThreshold
	builder.BehavioralRules.BenignQuoteMax = cfg.BenignQuoteMax
	builder.BehavioralRules.BenignReplyMax = cfg.BenignReplyMax
	builder.ScoreWeights = scoring.Weights{
		ToxicityWeight:       cfg.ToxicityWeight,
		OverlapMultiplier:    cfg.OverlapMultiplier,
		OverlapGateThreshold: cfg.OverlapGateThreshold,
		GateMaxScore:         cfg.GateMaxScore,
	}

	return &app{
		cfg:     cfg,
		logger:  logger,
		store:   store,
		client:  client,
		embed:   embed,
		tox:     tox,
		builder: builder,
	}, nil
}

// loadScoringContext reads the persisted fingerprint and centroid into a
// profile.Context, leaving both nil if no fingerprint has been built
// yet — Builder.Build degrades topic overlap to 0 in that case.
func (a *app) loadScoringContext(ctx context.Context) (profile.Context, error) {
	fingerprintJSON, _, found, err := a.store.GetFingerprint(ctx)
	if err != nil {
		return profile.Context{}, err
	}

	rc := profile.Context{}
	if found {
		var fp model.TopicFingerprint
		if err := json.Unmarshal([]byte(fingerprintJSON), &fp); err != nil {
			a.logger.Warn("stored fingerprint failed to decode; ignoring", "err", err)
		} else {
			rc.Fingerprint = &fp
		}
	}

	if centroid, found, err := a.store.GetEmbedding(ctx); err == nil && found {
		rc.ProtectedCentroid = centroid
	}

	median, err := a.store.GetMedianEngagement(ctx)
	if err != nil {
		return profile.Context{}, err
	}
	rc.MedianEngagement = median

	events, err := a.store.GetEventsForPileOn(ctx)
	if err != nil {
		return profile.Context{}, err
	}
	rc.PileOnDIDs = behavioral.DetectPileOnParticipants(events, a.builder.BehavioralRules)

	return rc, nil
}
