// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package config provides the configuration model of the gateway.
//
// Configuration is read from a YAML file. Every field has a default, so an
// empty file yields a gateway with an in-memory store that expects JWT
// bearer tokens signed with the secret in $MCPGW_JWT_SECRET.
package config

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/adrg/xdg"

	"github.com/stacklok/mcpgw/pkg/gateway"
)

// Duration is a wrapper around time.Duration that marshals/unmarshals as a duration string.
// This ensures duration values are serialized as "30s", "1m", etc. instead of nanosecond integers.
type Duration time.Duration

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration: %w", err)
	}
	*d = Duration(dur)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration: %w", err)
	}
	*d = Duration(dur)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Auth modes.
const (
	AuthModeJWT       = "jwt"
	AuthModeAnonymous = "anonymous"
)

// Store types.
const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
	StoreRedis  = "redis"
)

// Config is the gateway configuration.
type Config struct {
	// Listen is the address of the HTTP server.
	Listen string `yaml:"listen" json:"listen"`
	// BasePath is where the proxy is mounted; servers live at {BasePath}/{name}.
	BasePath string `yaml:"basePath" json:"basePath"`

	Auth       AuthConfig       `yaml:"auth" json:"auth"`
	Store      StoreConfig      `yaml:"store" json:"store"`
	Pool       PoolConfig       `yaml:"pool" json:"pool"`
	Health     HealthConfig     `yaml:"health" json:"health"`
	Proxy      ProxyConfig      `yaml:"proxy" json:"proxy"`
	Client     ClientConfig     `yaml:"client" json:"client"`
	Containers ContainersConfig `yaml:"containers" json:"containers"`
	Metrics    MetricsConfig    `yaml:"metrics" json:"metrics"`
	Telemetry  TelemetryConfig  `yaml:"telemetry" json:"telemetry"`

	// Servers are upserted into the store at startup.
	Servers []gateway.ServerDescriptor `yaml:"servers,omitempty" json:"servers,omitempty"`
}

// AuthConfig selects how callers are identified.
type AuthConfig struct {
	// Mode is "jwt" or "anonymous".
	Mode string `yaml:"mode" json:"mode"`
	// SecretEnv names the environment variable holding the HS256 secret.
	SecretEnv string `yaml:"secretEnv" json:"secretEnv"`
	Issuer    string `yaml:"issuer,omitempty" json:"issuer,omitempty"`
	Audience  string `yaml:"audience,omitempty" json:"audience,omitempty"`
	// AnonymousRoles are granted to every caller in anonymous mode.
	AnonymousRoles []string `yaml:"anonymousRoles,omitempty" json:"anonymousRoles,omitempty"`
}

// StoreConfig selects the resource store backend.
type StoreConfig struct {
	Type   string      `yaml:"type" json:"type"`
	SQLite SQLiteStore `yaml:"sqlite" json:"sqlite"`
	Redis  RedisStore  `yaml:"redis" json:"redis"`
}

// SQLiteStore configures the sqlite backend.
type SQLiteStore struct {
	// Path of the database file. Empty means mcpgw/mcpgw.db under the XDG data home.
	Path string `yaml:"path,omitempty" json:"path,omitempty"`
}

// ResolvePath returns Path, or the default location under the XDG data
// home when Path is empty. The parent directory of the default is created.
func (s SQLiteStore) ResolvePath() (string, error) {
	if s.Path != "" {
		return s.Path, nil
	}
	path, err := xdg.DataFile(filepath.Join("mcpgw", "mcpgw.db"))
	if err != nil {
		return "", fmt.Errorf("resolving default sqlite path: %w", err)
	}
	return path, nil
}

// RedisStore configures the redis backend.
type RedisStore struct {
	Addrs       []string `yaml:"addrs" json:"addrs"`
	Username    string   `yaml:"username,omitempty" json:"username,omitempty"`
	PasswordEnv string   `yaml:"passwordEnv,omitempty" json:"passwordEnv,omitempty"`
	DB          int      `yaml:"db" json:"db"`
	KeyPrefix   string   `yaml:"keyPrefix" json:"keyPrefix"`
}

// PoolConfig tunes the connection pool.
type PoolConfig struct {
	MaxConnections   int      `yaml:"maxConnections" json:"maxConnections"`
	MaxPerServer     int      `yaml:"maxPerServer" json:"maxPerServer"`
	AcquireTimeout   Duration `yaml:"acquireTimeout" json:"acquireTimeout"`
	ProbeTimeout     Duration `yaml:"probeTimeout" json:"probeTimeout"`
	ProbeConcurrency int      `yaml:"probeConcurrency" json:"probeConcurrency"`
}

// HealthConfig tunes the background health checker.
type HealthConfig struct {
	// Disabled turns off background rounds; on-demand checks still work.
	Disabled           bool     `yaml:"disabled" json:"disabled"`
	Interval           Duration `yaml:"interval" json:"interval"`
	UnhealthyThreshold int      `yaml:"unhealthyThreshold" json:"unhealthyThreshold"`
	ContainerTimeout   Duration `yaml:"containerTimeout" json:"containerTimeout"`
}

// ProxyConfig tunes request handling.
type ProxyConfig struct {
	RequestTimeout Duration `yaml:"requestTimeout" json:"requestTimeout"`
	DrainTimeout   Duration `yaml:"drainTimeout" json:"drainTimeout"`
	MaxBodyBytes   int64    `yaml:"maxBodyBytes" json:"maxBodyBytes"`
	// RateLimit is requests per second per caller; zero disables it.
	RateLimit      float64 `yaml:"rateLimit" json:"rateLimit"`
	RateBurst      int     `yaml:"rateBurst" json:"rateBurst"`
	AcquireRetries int     `yaml:"acquireRetries" json:"acquireRetries"`
}

// ClientConfig tunes upstream sessions.
type ClientConfig struct {
	HTTPTimeout      Duration `yaml:"httpTimeout" json:"httpTimeout"`
	MaxResponseBytes int64    `yaml:"maxResponseBytes" json:"maxResponseBytes"`
}

// ContainersConfig enables docker-managed upstream servers.
type ContainersConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
	// Host overrides DOCKER_HOST.
	Host    string `yaml:"host,omitempty" json:"host,omitempty"`
	Network string `yaml:"network,omitempty" json:"network,omitempty"`
	// DockerBinary runs stdio servers declared with only an image.
	DockerBinary string `yaml:"dockerBinary" json:"dockerBinary"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Disabled bool   `yaml:"disabled" json:"disabled"`
	Path     string `yaml:"path" json:"path"`
}

// TelemetryConfig configures OTLP export of metrics and traces.
type TelemetryConfig struct {
	Endpoint string            `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`
	Headers  map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`
	Insecure bool              `yaml:"insecure" json:"insecure"`
	Metrics  bool              `yaml:"metrics" json:"metrics"`
	Tracing  bool              `yaml:"tracing" json:"tracing"`
	// SamplingRate is the fraction of traces kept (0.0 to 1.0].
	SamplingRate float64 `yaml:"samplingRate" json:"samplingRate"`
}
