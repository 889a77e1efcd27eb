package cmd

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/skypass/skypass/internal/config"
	"github.com/skypass/skypass/internal/manifest"
	"github.com/skypass/skypass/internal/passes"
	"github.com/skypass/skypass/internal/telemetry"
	"github.com/skypass/skypass/internal/watcher"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Rebuild whenever the config or request store changes",
	Long: `Watch runs an initial build, then monitors the project config and the
request database. Changes trigger a rebuild after a short debounce; changes
arriving while a build is running collapse into a single follow-up build.
Stop with Ctrl-C.`,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().Duration("debounce", 2*time.Second, "quiet period before a rebuild")
	watchCmd.Flags().String("ephem", "", "path to the ephemeris binary (default skypass-ephem on PATH)")

	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	s := config.LoadSettings()

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

	debounce, _ := cmd.Flags().GetDuration("debounce")
	ephemPath, _ := cmd.Flags().GetString("ephem")

	// The config is reloaded per build so edits to it take effect.
	rebuild := func() error {
		cfg, err := loadConfig(s)
		if err != nil {
			return err
		}
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
		}
		m, err := b.Build(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "published %d feeds\n", m.Stats.Feeds.Total)
		return nil
	}

	if err := rebuild(); err != nil {
		return err
	}

	w, err := watcher.New([]string{s.ConfigPath, requestDBPath(s)}, debounce)
	if err != nil {
		return err
	}
	if err := w.Start(); err != nil {
		return err
	}
	defer w.Stop()

	fmt.Fprintf(cmd.OutOrStdout(), "watching %s and %s\n", s.ConfigPath, requestDBPath(s))

	for {
		select {
		case <-ctx.Done():
			return nil
		case trig := <-w.Triggers:
			_ = emitter.Emit(telemetry.Event{
				Kind: telemetry.KindWatchTrigger,
				Data: strings.Join(trig.Files, ","),
			})
			verbosef(s, "rebuild triggered by %s", strings.Join(trig.Files, ", "))
			if err := rebuild(); err != nil {
				// Watch mode keeps running through failed builds; the
				// previous publish stays in place.
				fmt.Fprintf(os.Stderr, "build failed: %v\n", err)
			}
		}
	}
}
