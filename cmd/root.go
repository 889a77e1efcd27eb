package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Version is stamped at build time via -ldflags.
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "skypass",
	Short: "Publish subscribable calendar feeds for astronomical events",
	Long: `Skypass builds subscribable calendar feeds of satellite passes and
planet visibility windows for curated and user-requested locations, and
publishes them atomically together with a manifest that indexes every feed.`,
}

// Execute runs the root command and exits nonzero on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initSettings)

	rootCmd.Version = Version

	rootCmd.PersistentFlags().String("config", "skypass.toml", "project config file")
	rootCmd.PersistentFlags().String("out", "public", "output directory for published artifacts")
	rootCmd.PersistentFlags().String("state", ".skypass", "state directory (request database)")
	rootCmd.PersistentFlags().String("db", "", "request database path (default <state>/requests.db)")
	rootCmd.PersistentFlags().String("telemetry", "", "JSONL telemetry log path")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "verbose output")

	_ = viper.BindPFlag("config_path", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("out_dir", rootCmd.PersistentFlags().Lookup("out"))
	_ = viper.BindPFlag("state_dir", rootCmd.PersistentFlags().Lookup("state"))
	_ = viper.BindPFlag("request_db_path", rootCmd.PersistentFlags().Lookup("db"))
	_ = viper.BindPFlag("telemetry_path", rootCmd.PersistentFlags().Lookup("telemetry"))
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
}

func initSettings() {
	viper.SetConfigName(".skypass")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	if home, err := os.UserHomeDir(); err == nil {
		viper.AddConfigPath(home)
	}

	viper.SetEnvPrefix("SKYPASS")
	viper.AutomaticEnv()

	// It's fine if no config file is found; we use defaults.
	_ = viper.ReadInConfig()
}
