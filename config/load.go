package config

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// BindFlags registers the cobra flags viper reads Config from, mirroring
// cuemby-warren/cmd/warren's RunE-closure-over-flags pattern.
func BindFlags(cmd *cobra.Command, v *viper.Viper) {
	flags := cmd.Flags()
	flags.String("config", "", "path to a YAML config file")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.Bool("log-json", false, "emit JSON logs instead of console-formatted")
	flags.String("cache-path", "", "bbolt cache file path (empty: in-memory cache)")
	flags.Int("throttle-threshold", 512, "concurrent subrequest count at or above which new tasks lose NO_THROTTLE")
	flags.String("metrics-addr", "127.0.0.1:9253", "address to serve /metrics on")
	flags.Bool("use-ipv4", true, "resolve over IPv4")
	flags.Bool("use-ipv6", true, "resolve over IPv6")
	flags.Uint16("edns-payload", 4096, "outgoing EDNS(0) UDP payload size advertised on sub-queries")
	flags.Bool("print-config", false, "print the fully-resolved configuration as YAML and exit")

	_ = v.BindPFlag("log_level", flags.Lookup("log-level"))
	_ = v.BindPFlag("log_json", flags.Lookup("log-json"))
	_ = v.BindPFlag("cache_path", flags.Lookup("cache-path"))
	_ = v.BindPFlag("throttle_threshold", flags.Lookup("throttle-threshold"))
	_ = v.BindPFlag("metrics_addr", flags.Lookup("metrics-addr"))
	_ = v.BindPFlag("use_ipv4", flags.Lookup("use-ipv4"))
	_ = v.BindPFlag("use_ipv6", flags.Lookup("use-ipv6"))
	_ = v.BindPFlag("edns_payload", flags.Lookup("edns-payload"))
}

// Load reads configPath (if set) into v, applies environment overrides
// prefixed RESOLVED_, and unmarshals onto a fresh Default() Config.
func Load(v *viper.Viper, configPath string) (*Config, error) {
	cfg := Default()

	v.SetEnvPrefix("resolved")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DumpYAML renders cfg back to YAML, for the daemon's --print-config flag
// to show the fully-resolved configuration (flags and env overrides
// applied) without round-tripping it through viper's own marshaling.
func DumpYAML(cfg *Config) ([]byte, error) {
	return yaml.Marshal(cfg)
}
