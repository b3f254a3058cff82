package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"docqa/src/log"
)

// askCmd represents the ask command
var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Answer a question from a published snapshot",
	Long: `The ask command downloads a snapshot (the latest published one unless --snapshot is
given), retrieves the chunks closest to the refined question and asks the model for an answer.`,
	Args: cobra.MinimumNArgs(1),
	RunE: RunAsk,
}

func init() {
	rootCmd.AddCommand(askCmd)

	askCmd.Flags().String("snapshot", "", "snapshot request id (default: latest published)")
	askCmd.Flags().Int("top-k", 0, "number of chunks to retrieve (default: query.top_k)")
	askCmd.Flags().Bool("sources", false, "print the retrieved chunks")
}

func RunAsk(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	question := strings.Join(args, " ")
	snapshotID, _ := cmd.Flags().GetString("snapshot")
	topK, _ := cmd.Flags().GetInt("top-k")
	showSources, _ := cmd.Flags().GetBool("sources")

	a, err := newApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.close()

	embedder, err := newEmbedder()
	if err != nil {
		return err
	}
	svc, err := newAnswerService(embedder)
	if err != nil {
		return err
	}

	snapshot, err := a.openSnapshot(ctx, snapshotID)
	if err != nil {
		return err
	}
	defer snapshot.Close()
	log.Debug("Snapshot opened", "request_id", snapshot.RequestID, "backend", snapshot.Backend)

	ans, err := svc.Ask(ctx, snapshot.Index, question, topK)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, ans.Text)
	if showSources {
		fmt.Fprintf(out, "\nsnapshot %s, refined question: %s\n", snapshot.RequestID, ans.RefinedQuestion)
		for i, src := range ans.Sources {
			fmt.Fprintf(out, "[%d] chunk %d (%d-%d) distance %.4f\n%s\n",
				i+1, src.Chunk.Index, src.Chunk.Start, src.Chunk.End, src.Distance, src.Chunk.Text)
		}
	}
	return nil
}
