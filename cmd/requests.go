package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/skypass/skypass/internal/config"
	"github.com/skypass/skypass/internal/slug"
)

var requestsCmd = &cobra.Command{
	Use:   "requests",
	Short: "List stored request records",
	RunE:  runRequests,
}

func init() {
	rootCmd.AddCommand(requestsCmd)
}

func runRequests(cmd *cobra.Command, args []string) error {
	s := config.LoadSettings()

	ctx, cancel := signalContext()
	defer cancel()

	st, err := openStore(ctx, s)
	if err != nil {
		return err
	}
	defer st.Close()

	records, err := st.ListAll(ctx)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no requests")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "KEY\tBUNDLE\tLOCATION\tSELECTION\tFULFILLED")
	for _, rec := range records {
		selection := "default"
		if len(rec.SelectedNoradIDs) > 0 {
			selection = fmt.Sprintf("%d sats (sel-%s)", len(rec.SelectedNoradIDs), slug.SelectionHash(rec.SelectedNoradIDs))
		}
		fulfilled := "-"
		if rec.Fulfilled() {
			fulfilled = rec.FulfilledAt.UTC().Format("2006-01-02 15:04")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			rec.RequestKey, rec.BundleSlug, rec.LocationSlug, selection, fulfilled)
	}
	return w.Flush()
}
