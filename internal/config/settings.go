package config

import "github.com/spf13/viper"

// Settings holds runtime configuration for a skypass invocation.
// Values are populated from .skypass.yaml, SKYPASS_* env vars, and CLI flags.
type Settings struct {
	ConfigPath    string `mapstructure:"config_path"`
	OutDir        string `mapstructure:"out_dir"`
	StateDir      string `mapstructure:"state_dir"`
	RequestDBPath string `mapstructure:"request_db_path"`
	TelemetryPath string `mapstructure:"telemetry_path"`
	Verbose       bool   `mapstructure:"verbose"`
}

// LoadSettings reads runtime settings from viper, applying built-in defaults
// for any values not set by config file, environment, or flags.
func LoadSettings() Settings {
	viper.SetDefault("config_path", "skypass.toml")
	viper.SetDefault("out_dir", "public")
	viper.SetDefault("state_dir", ".skypass")
	viper.SetDefault("request_db_path", ".skypass/requests.db")
	viper.SetDefault("telemetry_path", "")
	viper.SetDefault("verbose", false)

	var s Settings
	_ = viper.Unmarshal(&s)
	return s
}
