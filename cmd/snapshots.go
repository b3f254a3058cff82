package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// snapshotsCmd represents the snapshots command
var snapshotsCmd = &cobra.Command{
	Use:   "snapshots",
	Short: "List recorded snapshots, newest first",
	RunE:  RunSnapshots,
}

func init() {
	rootCmd.AddCommand(snapshotsCmd)

	snapshotsCmd.Flags().Int("offset", 0, "number of records to skip")
	snapshotsCmd.Flags().Int("limit", 20, "maximum number of records")
}

func RunSnapshots(cmd *cobra.Command, args []string) error {
	offset, _ := cmd.Flags().GetInt("offset")
	limit, _ := cmd.Flags().GetInt("limit")

	a := &app{}
	defer a.close()
	repo, err := a.openCatalog()
	if err != nil {
		return err
	}

	items, total, err := repo.List(cmd.Context(), offset, limit)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "REQUEST ID\tPARENT\tBACKEND\tSTATUS\tSOURCE\tEMBEDDED\tSKIPPED\tCREATED")
	for _, s := range items {
		parent := s.ParentID
		if parent == "" {
			parent = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%d\t%s\n",
			s.RequestID, parent, s.Backend, s.Status, s.SourceName, s.Embedded, s.Skipped,
			s.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%d of %d snapshots\n", len(items), total)
	return nil
}
