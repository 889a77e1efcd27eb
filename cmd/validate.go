package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/skypass/skypass/internal/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check that the project config parses and is consistent",
	RunE: func(cmd *cobra.Command, args []string) error {
		s := config.LoadSettings()
		ok := true

		cfg, err := loadConfig(s)
		if err != nil {
			fmt.Fprintf(os.Stderr, "✗ config: %v\n", err)
			ok = false
		} else {
			fmt.Fprintf(os.Stderr, "✓ config %s: %d bundles, %d featured locations\n",
				s.ConfigPath, len(cfg.Bundles), len(cfg.FeaturedLocations))
		}

		if !ok {
			os.Exit(1)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
