package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/skypass/skypass/internal/config"
	"github.com/skypass/skypass/internal/reconcile"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Bulk-load curated requests from a seed file",
	Long: `Seed reads a TOML file of [[requests]] entries and upserts each one into
the request store, deriving the same deterministic keys the request command
would. Entries without a selection get the bundle's default subset. Existing
records are left untouched, so re-seeding is safe.`,
	RunE: runSeed,
}

func init() {
	seedCmd.Flags().String("file", "", "seed file of [[requests]] entries (required)")
	seedCmd.Flags().Bool("reset", false, "clear the request store before seeding")
	_ = seedCmd.MarkFlagRequired("file")

	rootCmd.AddCommand(seedCmd)
}

func runSeed(cmd *cobra.Command, args []string) error {
	s := config.LoadSettings()
	cfg, err := loadConfig(s)
	if err != nil {
		return err
	}

	path, _ := cmd.Flags().GetString("file")
	entries, err := reconcile.LoadSeedFile(path)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	st, err := openStore(ctx, s)
	if err != nil {
		return err
	}
	defer st.Close()

	if reset, _ := cmd.Flags().GetBool("reset"); reset {
		if err := st.Reset(ctx); err != nil {
			return err
		}
		verbosef(s, "request store cleared before seeding")
	}

	res, err := reconcile.SeedAll(ctx, cfg, st, entries)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "seeded %d of %d requests (%d already present)\n",
		res.Created, res.Total, res.Total-res.Created)
	return nil
}
