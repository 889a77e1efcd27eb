package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/skypass/skypass/internal/config"
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Clear all stored requests",
	Long: `Reset deletes every record from the request store. The next build then
publishes only the featured feed set. Refuses to run without --confirm.`,
	RunE: runReset,
}

func init() {
	resetCmd.Flags().Bool("confirm", false, "actually delete all request records")

	rootCmd.AddCommand(resetCmd)
}

func runReset(cmd *cobra.Command, args []string) error {
	if confirm, _ := cmd.Flags().GetBool("confirm"); !confirm {
		return fmt.Errorf("reset deletes all request records; re-run with --confirm")
	}

	s := config.LoadSettings()

	ctx, cancel := signalContext()
	defer cancel()

	st, err := openStore(ctx, s)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.Reset(ctx); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "request store cleared")
	return nil
}
