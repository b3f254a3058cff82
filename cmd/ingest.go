package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"docqa/src/log"
)

// ingestCmd represents the ingest command
var ingestCmd = &cobra.Command{
	Use:   "ingest <file>",
	Short: "Ingest a document and publish a new index snapshot",
	Long: `The ingest command extracts the text of a pdf, docx, txt, csv or json file, splits it
into overlapping chunks, embeds every chunk, builds an index and publishes it to object storage
under a new request id.`,
	Args: cobra.ExactArgs(1),
	RunE: RunIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)

	ingestCmd.Flags().String("backend", "", "index backend (flat, table)")
	ingestCmd.Flags().Bool("append", false, "append to the latest snapshot of an appendable backend")
	ingestCmd.Flags().Bool("no-progress", false, "do not draw a progress bar")
	viper.BindPFlag("index.backend", ingestCmd.Flags().Lookup("backend"))
	viper.BindPFlag("index.append", ingestCmd.Flags().Lookup("append"))
}

func RunIngest(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	path := args[0]

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	a, err := newApp(ctx, true)
	if err != nil {
		return err
	}
	defer a.close()

	embedder, err := newEmbedder()
	if err != nil {
		return err
	}

	var onEmbedded func(done, total int)
	if quiet, _ := cmd.Flags().GetBool("no-progress"); !quiet {
		onEmbedded = progressReporter()
	}

	pipeline, err := a.newPipeline(embedder, onEmbedded)
	if err != nil {
		return err
	}

	summary, err := pipeline.Ingest(ctx, filepath.Base(path), f)
	if err != nil {
		return err
	}
	if summary.Skipped > 0 {
		log.Info("Some chunks were skipped", "skipped", summary.Skipped, "first_error", summary.FirstError)
	}

	out, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}

// progressReporter draws one bar on stderr, sized on the first report.
func progressReporter() func(done, total int) {
	var (
		once sync.Once
		bar  *progressbar.ProgressBar
	)
	return func(done, total int) {
		once.Do(func() {
			bar = progressbar.NewOptions(total,
				progressbar.OptionSetDescription("embedding chunks"),
				progressbar.OptionSetWriter(os.Stderr),
				progressbar.OptionShowCount(),
				progressbar.OptionClearOnFinish(),
			)
		})
		bar.Add(1)
	}
}
