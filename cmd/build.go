package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/skypass/skypass/internal/config"
	"github.com/skypass/skypass/internal/manifest"
	"github.com/skypass/skypass/internal/passes"
)

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Run one full publish cycle",
	Long: `Build refreshes stale catalogs, computes events for every featured and
requested feed, writes all feed artifacts, and finally replaces the manifest.
Featured-feed failures abort the build; requested-feed failures omit only the
affected feeds.`,
	RunE: runBuild,
}

func init() {
	buildCmd.Flags().String("ephem", "", "path to the ephemeris binary (default skypass-ephem on PATH)")
	buildCmd.Flags().Int("workers", 0, "parallel pass computations")

	rootCmd.AddCommand(buildCmd)
}

func runBuild(cmd *cobra.Command, args []string) error {
	s := config.LoadSettings()
	cfg, err := loadConfig(s)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	emitter, err := newEmitter(s)
	if err != nil {
		return err
	}
	defer emitter.Close()

	st, err := openStore(ctx, s)
	if err != nil {
		return err
	}
	defer st.Close()

	ephemPath, _ := cmd.Flags().GetString("ephem")
	workers, _ := cmd.Flags().GetInt("workers")

	b := &manifest.Builder{
		Config:    cfg,
		Store:     st,
		Catalogs:  newCache(cfg, s),
		Computer:  &passes.ExecComputer{BinPath: ephemPath},
		Encoder:   manifest.ICSEncoder(Version, nil),
		OutDir:    s.OutDir,
		Telemetry: emitter,
		Version:   Version,
		GitSHA:    resolveGitSHA(),
		Workers:   workers,
	}

	m, err := b.Build(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "published %d feeds (%d locations, %d bundles) to %s\n",
		m.Stats.Feeds.Total, m.Stats.Locations.Total, m.Stats.Bundles.Total, s.OutDir)
	return nil
}
