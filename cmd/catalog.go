package cmd

import (
	"errors"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/skypass/skypass/internal/catalog"
	"github.com/skypass/skypass/internal/config"
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Refresh bundle catalogs",
	Long: `Catalog rebuilds the cached satellite listing for every satellite bundle
whose cache is stale. Pass --force to rebuild all of them regardless of age.`,
	RunE: runCatalog,
}

func init() {
	catalogCmd.Flags().Bool("force", false, "rebuild catalogs even when fresh")

	rootCmd.AddCommand(catalogCmd)
}

func runCatalog(cmd *cobra.Command, args []string) error {
	s := config.LoadSettings()
	cfg, err := loadConfig(s)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	mode := catalog.StaleOnly
	if force, _ := cmd.Flags().GetBool("force"); force {
		mode = catalog.ForceAll
	}

	cache := newCache(cfg, s)
	got, errs := cache.RefreshAll(ctx, cfg.Bundles, mode)
	slugs := make([]string, 0, len(got))
	for bundleSlug := range got {
		slugs = append(slugs, bundleSlug)
	}
	sort.Strings(slugs)
	for _, bundleSlug := range slugs {
		cat := got[bundleSlug]
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %d satellites (truncated=%v)\n",
			bundleSlug, len(cat.Satellites), cat.Truncated)
	}
	if len(errs) > 0 {
		return fmt.Errorf("catalog: %d bundle(s) failed: %w", len(errs), errors.Join(errs...))
	}
	return nil
}
