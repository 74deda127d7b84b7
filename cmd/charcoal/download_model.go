package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/chaosgreml/charcoal/core/embedding"
	"github.com/chaosgreml/charcoal/core/toxicity"
)

var downloadModelCmd = &cobra.Command{
	Use:   "download-model",
	Short: "Download the embedding and toxicity ONNX models",
	Long: `Fetch the sentence-embedding and toxicity-classification models from
HuggingFace Hub into CHARCOAL_MODEL_DIR, if they are not already present.
Required before fingerprint/scan/sweep/score can produce non-null
toxicity and topic-overlap scores.`,
	RunE: runDownloadModel,
}

func init() {
	rootCmd.AddCommand(downloadModelCmd)
}

func runDownloadModel(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	w := cmd.OutOrStdout()

	if a.embed.ModelPresent() {
		fmt.Fprintf(w, "%sembedding model already present%s\n", colorGray, colorReset)
	} else {
		fmt.Fprintf(w, "downloading embedding model from %s...\n", embedding.HFRepo)
		if err := a.embed.Download(ctx); err != nil {
			return fmt.Errorf("download embedding model: %w", err)
		}
		fmt.Fprintf(w, "%s%sembedding model downloaded%s\n", colorBold, colorGreen, colorReset)
	}

	if a.tox.ModelPresent() {
		fmt.Fprintf(w, "%stoxicity model already present%s\n", colorGray, colorReset)
	} else {
		fmt.Fprintf(w, "downloading toxicity model from %s...\n", toxicity.HFRepo)
		if err := a.tox.Download(ctx); err != nil {
			return fmt.Errorf("download toxicity model: %w", err)
		}
		fmt.Fprintf(w, "%s%stoxicity model downloaded%s\n", colorBold, colorGreen, colorReset)
	}

	return nil
}
