package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"docqa/src/core/retrieval"
	"docqa/src/log"
)

// evaluateCmd represents the evaluate command
var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Measure retrieval recall@k of a snapshot against a golden set",
	Long: `The evaluate command reads a JSONL golden set, one {"query": ..., "golden_spans": [[start, end], ...]}
object per line, retrieves k chunks per query from a snapshot and reports the mean share of golden
spans covered by the retrieved chunks.`,
	RunE: RunEvaluate,
}

func init() {
	rootCmd.AddCommand(evaluateCmd)
	evaluateCmd.Flags().StringP("evaluate", "e", "", "Evaluation JSONL file path")
	evaluateCmd.MarkFlagRequired("evaluate")
	evaluateCmd.Flags().String("snapshot", "", "snapshot request id (default: latest published)")
	evaluateCmd.Flags().IntP("top-k", "k", 5, "number of chunks retrieved per query")
}

func RunEvaluate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	evaluatePath, _ := cmd.Flags().GetString("evaluate")
	snapshotID, _ := cmd.Flags().GetString("snapshot")
	topK, _ := cmd.Flags().GetInt("top-k")

	evalFile, err := os.Open(evaluatePath)
	if err != nil {
		return fmt.Errorf("failed to open evaluation file: %w", err)
	}
	defer evalFile.Close()

	a, err := newApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.close()

	embedder, err := newEmbedder()
	if err != nil {
		return err
	}

	snapshot, err := a.openSnapshot(ctx, snapshotID)
	if err != nil {
		return err
	}
	defer snapshot.Close()

	retriever := retrieval.NewRetriever(embedder, viper.GetInt("query.top_k"))
	report, err := retriever.Evaluate(ctx, log.WithName("evaluate"), snapshot.Index, evalFile, topK)
	if err != nil {
		return err
	}
	if report.Evaluated == 0 {
		log.Info("No evaluations were processed", "skipped", report.Skipped)
	}

	out, err := json.MarshalIndent(struct {
		Snapshot string `json:"snapshot"`
		*retrieval.EvalReport
	}{snapshot.RequestID, report}, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}
