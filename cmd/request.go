package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/skypass/skypass/internal/config"
	"github.com/skypass/skypass/internal/manifest"
	"github.com/skypass/skypass/internal/reconcile"
)

var requestCmd = &cobra.Command{
	Use:   "request",
	Short: "Reconcile one external feed request",
	Long: `Request validates a JSON request payload, canonicalizes its satellite
selection, derives its deterministic request key, and records it in the
request store. The outcome is printed; created, duplicate, and
already-fulfilled exit zero, rejected and failed exit nonzero.`,
	RunE: runRequest,
}

func init() {
	requestCmd.Flags().String("payload", "", "payload file, or - for stdin (required)")
	requestCmd.Flags().String("bundle", "", "bundle slug declared outside the payload, checked for drift")
	_ = requestCmd.MarkFlagRequired("payload")

	rootCmd.AddCommand(requestCmd)
}

func runRequest(cmd *cobra.Command, args []string) error {
	s := config.LoadSettings()
	cfg, err := loadConfig(s)
	if err != nil {
		return err
	}

	payloadPath, _ := cmd.Flags().GetString("payload")
	declaredBundle, _ := cmd.Flags().GetString("bundle")

	raw, err := readPayload(payloadPath)
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

	r := &reconcile.Reconciler{
		Config:       cfg,
		Store:        st,
		Catalogs:     newCache(cfg, s),
		ManifestPath: filepath.Join(s.OutDir, "feeds", manifest.Name),
		Telemetry:    emitter,
	}

	outcome := r.Apply(ctx, raw, declaredBundle)

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s: %s\n", outcome.Kind, outcome.Detail)
	if outcome.BundleMismatch {
		fmt.Fprintln(out, "note: declared bundle differs from payload; payload used")
	}
	if outcome.RequestKey != "" {
		verbosef(s, "request key: %s", outcome.RequestKey)
	}
	if !outcome.OK() {
		return fmt.Errorf("request %s", outcome.Kind)
	}
	return nil
}

func readPayload(path string) ([]byte, error) {
	if path == "-" {
		raw, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, fmt.Errorf("read payload from stdin: %w", err)
		}
		return raw, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read payload: %w", err)
	}
	return raw, nil
}
