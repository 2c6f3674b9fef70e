// Package config implements the declarative configuration struct from
// SPEC_FULL.md §1.2, replacing the original's embedded Lua scripting
// surface. It is loaded with viper bound to cobra flags, in the style
// of cuemby-warren/cmd/warren's wiring.
package config

import (
	"time"
)

// Listener is one address/port the resolver accepts client queries on.
type Listener struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
	Port uint16 `mapstructure:"port" yaml:"port"`
	UDP  bool   `mapstructure:"udp" yaml:"udp"`
	TCP  bool   `mapstructure:"tcp" yaml:"tcp"`
}

// TrustAnchor seeds the trust-anchor store at startup (e.g. the IANA
// root KSK), ahead of any live RFC 5011 refresh.
type TrustAnchor struct {
	Name    string `mapstructure:"name" yaml:"name"`
	KeyTag  uint16 `mapstructure:"key_tag" yaml:"key_tag"`
	Digest  string `mapstructure:"digest" yaml:"digest"`
	DSType  uint8  `mapstructure:"algorithm" yaml:"algorithm"`
}

// Config is the resolver's full startup configuration.
type Config struct {
	Listeners []Listener `mapstructure:"listeners" yaml:"listeners"`

	DialTimeout time.Duration `mapstructure:"dial_timeout" yaml:"dial_timeout"`
	DNSPort     uint16        `mapstructure:"dns_port" yaml:"dns_port"`
	UseIPv4     bool          `mapstructure:"use_ipv4" yaml:"use_ipv4"`
	UseIPv6     bool          `mapstructure:"use_ipv6" yaml:"use_ipv6"`

	CachePath string `mapstructure:"cache_path" yaml:"cache_path"` // empty means in-memory

	ThrottleThreshold int `mapstructure:"throttle_threshold" yaml:"throttle_threshold"`

	// EDNSPayload is the outgoing UDP buffer size advertised on
	// sub-queries sent upstream; spec.md §6 requires max(configured, 4096).
	EDNSPayload uint16 `mapstructure:"edns_payload" yaml:"edns_payload"`

	TrustAnchors []TrustAnchor `mapstructure:"trust_anchors" yaml:"trust_anchors"`

	LogLevel  string `mapstructure:"log_level" yaml:"log_level"`
	LogJSON   bool   `mapstructure:"log_json" yaml:"log_json"`

	MetricsAddr string `mapstructure:"metrics_addr" yaml:"metrics_addr"`
}

// Default returns the configuration a fresh install starts from.
func Default() *Config {
	return &Config{
		Listeners: []Listener{
			{Addr: "127.0.0.1", Port: 5353, UDP: true, TCP: true},
		},
		DialTimeout:       3 * time.Second,
		DNSPort:           53,
		UseIPv4:           true,
		UseIPv6:           true,
		CachePath:         "",
		ThrottleThreshold: 512,
		EDNSPayload:       4096,
		LogLevel:          "info",
		LogJSON:           false,
		MetricsAddr:       "127.0.0.1:9253",
	}
}
