// Package config manages bgpy configuration using koanf/v2.
//
// Supports YAML files, environment variables, and CLI flags.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"strconv"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	yamlv3 "gopkg.in/yaml.v3"
)

// -------------------------------------------------------------------------
// Configuration Structures
// -------------------------------------------------------------------------

// Config holds the complete bgpy configuration.
type Config struct {
	Peer    PeerConfig    `koanf:"peer" yaml:"peer"`
	BGP     BGPConfig     `koanf:"bgp" yaml:"bgp"`
	Trace   TraceConfig   `koanf:"trace" yaml:"trace"`
	Metrics MetricsConfig `koanf:"metrics" yaml:"metrics"`
	Log     LogConfig     `koanf:"log" yaml:"log"`

	// Run lists startup command directives executed before the console
	// is read, e.g. "@run idler 180" or "@after 5 run notifier 6 0".
	Run []string `koanf:"run" yaml:"run"`
}

// PeerConfig identifies the single peer the client connects to.
type PeerConfig struct {
	// Address is the peer's IPv4 address or hostname. Usually supplied
	// as the positional CLI argument rather than in the file.
	Address string `koanf:"address" yaml:"address"`

	// Port is the peer's TCP port (default 179).
	Port uint16 `koanf:"port" yaml:"port"`
}

// BGPConfig holds the local speaker's identity and timing.
type BGPConfig struct {
	// LocalAS is the local autonomous system number (2-octet).
	LocalAS uint16 `koanf:"local_as" yaml:"local_as"`

	// RouterID is the local BGP identifier, written either as a dotted
	// quad ("10.0.0.1") or as a plain integer ("167772161").
	RouterID string `koanf:"router_id" yaml:"router_id"`

	// HoldTime is the hold time in seconds assumed until an OPEN
	// exchange negotiates one: 0 (disabled) or 3-65535.
	HoldTime uint16 `koanf:"hold_time" yaml:"hold_time"`
}

// TraceConfig selects the optional wire-level trace outputs.
type TraceConfig struct {
	// TCPHex dumps every raw inbound and outbound frame as hex.
	TCPHex bool `koanf:"tcp_hex" yaml:"tcp_hex"`
}

// MetricsConfig holds the Prometheus metrics endpoint configuration.
type MetricsConfig struct {
	// Addr is the HTTP listen address for the metrics endpoint
	// (e.g., ":9100"). Empty disables the endpoint.
	Addr string `koanf:"addr" yaml:"addr"`
	// Path is the URL path for the metrics endpoint (e.g., "/metrics").
	Path string `koanf:"path" yaml:"path"`
}

// LogConfig holds the logging configuration.
type LogConfig struct {
	// Level is the log level: "debug", "info", "warn", "error".
	Level string `koanf:"level" yaml:"level"`
	// Format is the log output format: "json" or "text".
	Format string `koanf:"format" yaml:"format"`
}

// RouterAddr parses the RouterID string.
func (bc BGPConfig) RouterAddr() (netip.Addr, error) {
	return ParseRouterID(bc.RouterID)
}

// ParseRouterID accepts a router ID as either an IPv4 dotted quad or a
// decimal 32-bit integer.
func ParseRouterID(s string) (netip.Addr, error) {
	if s == "" {
		return netip.Addr{}, ErrInvalidRouterID
	}
	if n, err := strconv.ParseUint(s, 10, 32); err == nil {
		return netip.AddrFrom4([4]byte{
			byte(n >> 24), byte(n >> 16), byte(n >> 8), byte(n),
		}), nil
	}
	addr, err := netip.ParseAddr(s)
	if err != nil || !addr.Is4() {
		return netip.Addr{}, fmt.Errorf("%q: %w", s, ErrInvalidRouterID)
	}
	return addr, nil
}

// -------------------------------------------------------------------------
// Defaults
// -------------------------------------------------------------------------

// DefaultConfig returns a Config populated with sensible defaults: AS 1,
// router ID 0.0.0.1, a 60 second hold time, the well-known BGP port, and
// metrics disabled.
func DefaultConfig() *Config {
	return &Config{
		Peer: PeerConfig{
			Port: 179,
		},
		BGP: BGPConfig{
			LocalAS:  1,
			RouterID: "0.0.0.1",
			HoldTime: 60,
		},
		Metrics: MetricsConfig{
			Addr: "",
			Path: "/metrics",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// -------------------------------------------------------------------------
// Loader
// -------------------------------------------------------------------------

// envPrefix is the environment variable prefix for bgpy configuration.
// Variables are named BGPY_<section>_<key>, e.g., BGPY_PEER_ADDRESS.
const envPrefix = "BGPY_"

// Load reads configuration from a YAML file at path (skipped when path is
// empty), overlays environment variable overrides (BGPY_ prefix), and
// merges on top of DefaultConfig(). Missing fields inherit defaults.
//
// Environment variable mapping:
//
//	BGPY_PEER_ADDRESS  -> peer.address
//	BGPY_PEER_PORT     -> peer.port
//	BGPY_BGP_LOCAL_AS  -> bgp.local_as
//	BGPY_BGP_ROUTER_ID -> bgp.router_id
//	BGPY_BGP_HOLD_TIME -> bgp.hold_time
//	BGPY_TRACE_TCP_HEX -> trace.tcp_hex
//	BGPY_METRICS_ADDR  -> metrics.addr
//	BGPY_LOG_LEVEL     -> log.level
//	BGPY_LOG_FORMAT    -> log.format
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	// Load defaults first.
	if err := loadDefaults(k, DefaultConfig()); err != nil {
		return nil, fmt.Errorf("load config defaults: %w", err)
	}

	// Load YAML file on top of defaults.
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config from %s: %w", path, err)
		}
	}

	// Load environment variable overrides on top of YAML.
	// BGPY_PEER_ADDRESS -> peer.address (strip prefix, lowercase).
	if err := k.Load(env.Provider(envPrefix, ".", envKeyMapper), nil); err != nil {
		return nil, fmt.Errorf("load env overrides: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// envKeyMapper transforms BGPY_PEER_ADDRESS -> peer.address.
// Strips the BGPY_ prefix, lowercases, and splits the first _ into a
// section separator; later underscores stay (local_as, tcp_hex).
func envKeyMapper(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, envPrefix))
	return strings.Replace(s, "_", ".", 1)
}

// loadDefaults marshals the default config into koanf as the base layer.
func loadDefaults(k *koanf.Koanf, defaults *Config) error {
	defaultMap := map[string]any{
		"peer.address":  defaults.Peer.Address,
		"peer.port":     defaults.Peer.Port,
		"bgp.local_as":  defaults.BGP.LocalAS,
		"bgp.router_id": defaults.BGP.RouterID,
		"bgp.hold_time": defaults.BGP.HoldTime,
		"trace.tcp_hex": defaults.Trace.TCPHex,
		"metrics.addr":  defaults.Metrics.Addr,
		"metrics.path":  defaults.Metrics.Path,
		"log.level":     defaults.Log.Level,
		"log.format":    defaults.Log.Format,
	}

	for key, val := range defaultMap {
		if err := k.Set(key, val); err != nil {
			return fmt.Errorf("set default %s: %w", key, err)
		}
	}

	return nil
}

// -------------------------------------------------------------------------
// Validation
// -------------------------------------------------------------------------

// Validation errors.
var (
	// ErrInvalidLocalAS indicates a zero local AS number.
	ErrInvalidLocalAS = errors.New("bgp.local_as must be 1-65535")

	// ErrInvalidRouterID indicates a router ID that is neither a dotted
	// quad nor a 32-bit integer.
	ErrInvalidRouterID = errors.New("bgp.router_id must be an IPv4 address or 32-bit integer")

	// ErrInvalidHoldTime indicates a hold time outside {0} and 3-65535.
	ErrInvalidHoldTime = errors.New("bgp.hold_time must be 0 or 3-65535")

	// ErrInvalidPeerPort indicates a zero peer port.
	ErrInvalidPeerPort = errors.New("peer.port must be 1-65535")
)

// Validate checks the configuration for logical errors.
// Returns the first validation error encountered.
//
// The peer address is deliberately not required here: it usually arrives
// as the positional CLI argument, and the command layer checks for it.
func Validate(cfg *Config) error {
	if cfg.BGP.LocalAS == 0 {
		return ErrInvalidLocalAS
	}

	if _, err := cfg.BGP.RouterAddr(); err != nil {
		return err
	}

	if ht := cfg.BGP.HoldTime; ht != 0 && ht < 3 {
		return ErrInvalidHoldTime
	}

	if cfg.Peer.Port == 0 {
		return ErrInvalidPeerPort
	}

	return nil
}

// -------------------------------------------------------------------------
// Rendering
// -------------------------------------------------------------------------

// DumpYAML renders the effective configuration, for --dump-config.
func (c *Config) DumpYAML() (string, error) {
	out, err := yamlv3.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("render config: %w", err)
	}
	return string(out), nil
}

// -------------------------------------------------------------------------
// Log Level Parsing
// -------------------------------------------------------------------------

// ParseLogLevel maps a configuration log level string to the corresponding
// slog.Level. Unknown values default to slog.LevelInfo.
//
// Recognized values: "debug", "info", "warn", "error" (case-insensitive).
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
