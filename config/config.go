// File: config/config.go
// Package config holds messenger configuration and its TOML loader.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Values start from Default() and are overlaid only with keys the file
// actually defines.

package config

import (
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/momentics/hioload-xmsgr/api"
	"github.com/momentics/hioload-xmsgr/protocol"
)

// Logging configures the zap logger.
type Logging struct {
	Level       string // debug, info, warn, error
	Format      string // json or console
	Development bool
}

// Metrics configures the prometheus collectors.
type Metrics struct {
	Enabled   bool
	Namespace string
}

// Config holds parameters immutable per messenger.
type Config struct {
	MaxEntriesPerRequest int    // scatter-gather entries per transport request
	MaxBytesPerRequest   int    // byte budget per transport request
	PortShift            int    // added to bind and destination ports
	RDMALocal            string // host substituted when binding a blank address
	NumPortals           int    // transport worker portals
	TraceConnections     bool   // connection and header tracing
	DisableHugePages     bool

	PoolSizeClasses []int
	PoolMaxPerClass int
	PoolPrealloc    int
	PoolHintMax     int // pool hints above this size are ignored

	Features uint64 // feature bits handed to the message encoder

	BindAddr string // host:port bound by the fx lifecycle; empty skips bind

	Logging Logging
	Metrics Metrics
}

// DefaultPoolHintMax is the largest size class a pool hint may add.
const DefaultPoolHintMax = 1 << 20

// Default returns the stock configuration.
func Default() *Config {
	return &Config{
		MaxEntriesPerRequest: protocol.DefaultMaxEntries,
		MaxBytesPerRequest:   protocol.DefaultMaxBytes,
		NumPortals:           1,
		PoolSizeClasses:      []int{64, 256, 1024, os.Getpagesize()},
		PoolMaxPerClass:      4096,
		PoolPrealloc:         15,
		PoolHintMax:          DefaultPoolHintMax,
		Logging:              Logging{Level: "info", Format: "json"},
		Metrics:              Metrics{Enabled: false, Namespace: "xmsgr"},
	}
}

// Limits returns the packer bounds described by the configuration.
func (c *Config) Limits() protocol.Limits {
	return protocol.Limits{MaxEntries: c.MaxEntriesPerRequest, MaxBytes: c.MaxBytesPerRequest}
}

// TransportOptions returns the options handed to the transport on attach.
func (c *Config) TransportOptions() api.TransportOptions {
	return api.TransportOptions{
		MaxEntriesPerRequest: c.MaxEntriesPerRequest,
		MaxBytesPerRequest:   c.MaxBytesPerRequest,
		NumPortals:           c.NumPortals,
		DisableHugePages:     c.DisableHugePages,
		Trace:                c.TraceConnections,
	}
}

// Validate checks ranges and orderings.
func (c *Config) Validate() error {
	bad := func(field string, v any) error {
		return api.NewError(api.ErrCodeInvalidArgument, "invalid configuration").
			WithContext("field", field).WithContext("value", v)
	}
	if err := c.Limits().Validate(); err != nil {
		return err
	}
	if c.PortShift < -65535 || c.PortShift > 65535 {
		return bad("port_shift", c.PortShift)
	}
	if c.NumPortals <= 0 {
		return bad("num_portals", c.NumPortals)
	}
	if len(c.PoolSizeClasses) == 0 {
		return bad("pool.size_classes", c.PoolSizeClasses)
	}
	for i, s := range c.PoolSizeClasses {
		if s <= 0 || (i > 0 && s <= c.PoolSizeClasses[i-1]) {
			return bad("pool.size_classes", c.PoolSizeClasses)
		}
	}
	if c.PoolMaxPerClass <= 0 {
		return bad("pool.max_per_class", c.PoolMaxPerClass)
	}
	if c.PoolPrealloc < 0 || c.PoolPrealloc > c.PoolMaxPerClass {
		return bad("pool.prealloc", c.PoolPrealloc)
	}
	if c.PoolHintMax < 0 {
		return bad("pool.hint_max", c.PoolHintMax)
	}
	switch c.Logging.Format {
	case "", "json", "console":
	default:
		return bad("logging.format", c.Logging.Format)
	}
	return nil
}

type fileLogging struct {
	Level       string `toml:"level"`
	Format      string `toml:"format"`
	Development bool   `toml:"development"`
}

type fileMetrics struct {
	Enabled   bool   `toml:"enabled"`
	Namespace string `toml:"namespace"`
}

type filePool struct {
	SizeClasses []int `toml:"size_classes"`
	MaxPerClass int   `toml:"max_per_class"`
	Prealloc    int   `toml:"prealloc"`
	HintMax     int   `toml:"hint_max"`
}

// fileConfig is the TOML key mapping.
type fileConfig struct {
	MaxEntriesPerRequest int         `toml:"max_entries_per_request"`
	MaxBytesPerRequest   int         `toml:"max_bytes_per_request"`
	PortShift            int         `toml:"port_shift"`
	RDMALocal            string      `toml:"rdma_local"`
	NumPortals           int         `toml:"num_portals"`
	TraceConnections     bool        `toml:"trace_connections"`
	DisableHugePages     bool        `toml:"disable_huge_pages"`
	Features             uint64      `toml:"features"`
	BindAddr             string      `toml:"bind_addr"`
	Pool                 filePool    `toml:"pool"`
	Logging              fileLogging `toml:"logging"`
	Metrics              fileMetrics `toml:"metrics"`
}

// Load reads path over Default and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return nil, fmt.Errorf("load messenger config: %w", err)
	}
	if undec := meta.Undecoded(); len(undec) > 0 {
		keys := make([]string, 0, len(undec))
		for _, k := range undec {
			keys = append(keys, k.String())
		}
		return nil, fmt.Errorf("load messenger config: unknown keys %s", strings.Join(keys, ", "))
	}

	if meta.IsDefined("max_entries_per_request") {
		cfg.MaxEntriesPerRequest = raw.MaxEntriesPerRequest
	}
	if meta.IsDefined("max_bytes_per_request") {
		cfg.MaxBytesPerRequest = raw.MaxBytesPerRequest
	}
	if meta.IsDefined("port_shift") {
		cfg.PortShift = raw.PortShift
	}
	if meta.IsDefined("rdma_local") {
		cfg.RDMALocal = strings.TrimSpace(raw.RDMALocal)
	}
	if meta.IsDefined("num_portals") {
		cfg.NumPortals = raw.NumPortals
	}
	if meta.IsDefined("trace_connections") {
		cfg.TraceConnections = raw.TraceConnections
	}
	if meta.IsDefined("disable_huge_pages") {
		cfg.DisableHugePages = raw.DisableHugePages
	}
	if meta.IsDefined("features") {
		cfg.Features = raw.Features
	}
	if meta.IsDefined("bind_addr") {
		cfg.BindAddr = strings.TrimSpace(raw.BindAddr)
	}
	if meta.IsDefined("pool", "size_classes") {
		cfg.PoolSizeClasses = slices.Clone(raw.Pool.SizeClasses)
	}
	if meta.IsDefined("pool", "max_per_class") {
		cfg.PoolMaxPerClass = raw.Pool.MaxPerClass
	}
	if meta.IsDefined("pool", "prealloc") {
		cfg.PoolPrealloc = raw.Pool.Prealloc
	}
	if meta.IsDefined("pool", "hint_max") {
		cfg.PoolHintMax = raw.Pool.HintMax
	}
	if meta.IsDefined("logging", "level") {
		cfg.Logging.Level = strings.TrimSpace(raw.Logging.Level)
	}
	if meta.IsDefined("logging", "format") {
		cfg.Logging.Format = strings.TrimSpace(raw.Logging.Format)
	}
	if meta.IsDefined("logging", "development") {
		cfg.Logging.Development = raw.Logging.Development
	}
	if meta.IsDefined("metrics", "enabled") {
		cfg.Metrics.Enabled = raw.Metrics.Enabled
	}
	if meta.IsDefined("metrics", "namespace") {
		cfg.Metrics.Namespace = strings.TrimSpace(raw.Metrics.Namespace)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("load messenger config %q: %w", path, err)
	}
	return cfg, nil
}
