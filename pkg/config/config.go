// Copyright 2025 The axfor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Role is the fixed position of a node in the cache tree
type Role string

const (
	// RoleRoot is the single tree root. It assigns parents and never propagates upward.
	RoleRoot Role = "root"
	// RoleLeaf is every other node. It has exactly one parent.
	RoleLeaf Role = "leaf"
)

// Discovery modes for a leaf's parent address
const (
	DiscoveryAssign = "assign" // ask the root's topology manager
	DiscoveryStatic = "static" // use ParentAddress as is
)

// Coordination backends
const (
	BackendEtcd   = "etcd"
	BackendMemory = "memory"
	BackendNone   = "none"
)

// rootMarker is the PARENT_NODE value that selects the root role
const rootMarker = "ROOT"

// Config unified configuration structure
type Config struct {
	Server ServerConfig `yaml:"server"`
}

// ServerConfig server configuration
type ServerConfig struct {
	// Node identity
	Role          Role   `yaml:"role"`           // root or leaf, default root
	NodeAddress   string `yaml:"node_address"`   // address other nodes use to reach this node
	RootAddress   string `yaml:"root_address"`   // tree root, asked for a parent when discovery.mode=assign
	ParentAddress string `yaml:"parent_address"` // static parent when discovery.mode=static

	// Listeners
	HTTPAddress string `yaml:"http_address"` // Default :5000
	GRPCAddress string `yaml:"grpc_address"` // Default :5001

	// Sub-configurations
	Discovery    DiscoveryConfig    `yaml:"discovery"`
	Coordination CoordinationConfig `yaml:"coordination"`
	Propagation  PropagationConfig  `yaml:"propagation"`
	GRPC         GRPCConfig         `yaml:"grpc"`
	Limits       LimitsConfig       `yaml:"limits"`
	Reliability  ReliabilityConfig  `yaml:"reliability"`
	Log          LogConfig          `yaml:"log"`
	Monitoring   MonitoringConfig   `yaml:"monitoring"`
	Tracing      TracingConfig      `yaml:"tracing"`
}

// DiscoveryConfig parent discovery configuration
type DiscoveryConfig struct {
	Mode           string        `yaml:"mode"`            // assign or static, default assign
	AssignAttempts int           `yaml:"assign_attempts"` // Default 5
	AssignBackoff  time.Duration `yaml:"assign_backoff"`  // Default 1s
	SearchAttempts int           `yaml:"search_attempts"` // Full namespace sweeps, default 5
	SearchBackoff  time.Duration `yaml:"search_backoff"`  // Pause between sweeps, default 5s
}

// CoordinationConfig coordination service configuration
type CoordinationConfig struct {
	Backend     string        `yaml:"backend"`      // etcd, memory or none, default memory
	Endpoints   []string      `yaml:"endpoints"`    // etcd endpoints
	DialTimeout time.Duration `yaml:"dial_timeout"` // Default 5s
	SessionTTL  int           `yaml:"session_ttl"`  // Lease TTL in seconds for ephemeral entries, default 10
	BasePath    string        `yaml:"base_path"`    // Namespace root, default /treecache
	Ephemeral   *bool         `yaml:"ephemeral"`    // Leaf entries vanish with the session, default true
	TLS         TLSConfig     `yaml:"tls"`
}

// TLSConfig client TLS files for the coordination service
type TLSConfig struct {
	CertFile      string `yaml:"cert_file"`
	KeyFile       string `yaml:"key_file"`
	TrustedCAFile string `yaml:"trusted_ca_file"`
}

// Enabled reports whether any TLS material is configured
func (t TLSConfig) Enabled() bool {
	return t.CertFile != "" || t.KeyFile != "" || t.TrustedCAFile != ""
}

// IsEphemeral reports whether leaf entries are bound to the session
func (c CoordinationConfig) IsEphemeral() bool {
	return c.Ephemeral == nil || *c.Ephemeral
}

// PropagationConfig coherence worker configuration
type PropagationConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"` // Upper bound on idle wake-ups, default 5s
	ReadTimeout  time.Duration `yaml:"read_timeout"`  // Read-through deadline, default 2s
	CallTimeout  time.Duration `yaml:"call_timeout"`  // Per upstream write deadline, default 5s
	FillOnRead   *bool         `yaml:"fill_on_read"`  // Cache read-through results locally, default true
}

// ShouldFillOnRead reports whether read-through results are cached locally
func (p PropagationConfig) ShouldFillOnRead() bool {
	return p.FillOnRead == nil || *p.FillOnRead
}

// GRPCConfig gRPC configuration
type GRPCConfig struct {
	// Message size limits
	MaxRecvMsgSize       int    `yaml:"max_recv_msg_size"`      // Default 4MB
	MaxSendMsgSize       int    `yaml:"max_send_msg_size"`      // Default 4MB
	MaxConcurrentStreams uint32 `yaml:"max_concurrent_streams"` // Default 1024

	// Keepalive configuration
	KeepaliveTime         time.Duration `yaml:"keepalive_time"`           // Default 10s
	KeepaliveTimeout      time.Duration `yaml:"keepalive_timeout"`        // Default 10s
	MaxConnectionIdle     time.Duration `yaml:"max_connection_idle"`      // Default 5m
	MaxConnectionAge      time.Duration `yaml:"max_connection_age"`       // Default 10m
	MaxConnectionAgeGrace time.Duration `yaml:"max_connection_age_grace"` // Default 10s

	// Rate limiting configuration
	EnableRateLimit bool `yaml:"enable_rate_limit"` // Default false
	RateLimitQPS    int  `yaml:"rate_limit_qps"`    // Default 0 (no limit)
	RateLimitBurst  int  `yaml:"rate_limit_burst"`  // Default 0 (no limit)
}

// LimitsConfig resource limits configuration
type LimitsConfig struct {
	MaxConnections int `yaml:"max_connections"` // Default 1000
	MaxKeySize     int `yaml:"max_key_size"`    // Default 1536 bytes
	MaxValueSize   int `yaml:"max_value_size"`  // Default 1MB
}

// ReliabilityConfig reliability configuration
type ReliabilityConfig struct {
	ShutdownTimeout     time.Duration `yaml:"shutdown_timeout"`      // Default 30s
	DrainTimeout        time.Duration `yaml:"drain_timeout"`         // Default 5s
	EnablePanicRecovery bool          `yaml:"enable_panic_recovery"` // Default true
}

// LogConfig log configuration
type LogConfig struct {
	Level            string         `yaml:"level"`              // Default info
	Encoding         string         `yaml:"encoding"`           // Default json
	OutputPaths      []string       `yaml:"output_paths"`       // Default ["stdout"]
	ErrorOutputPaths []string       `yaml:"error_output_paths"` // Default ["stderr"]
	Rotation         RotationConfig `yaml:"rotation"`
}

// RotationConfig file output rotation
type RotationConfig struct {
	MaxSizeMB  int  `yaml:"max_size_mb"` // Default 100
	MaxBackups int  `yaml:"max_backups"` // Default 5
	MaxAgeDays int  `yaml:"max_age_days"`
	Compress   bool `yaml:"compress"`
}

// MonitoringConfig monitoring configuration
type MonitoringConfig struct {
	EnablePrometheus     bool          `yaml:"enable_prometheus"`      // Default true
	PrometheusPort       int           `yaml:"prometheus_port"`        // Default 9090
	SlowRequestThreshold time.Duration `yaml:"slow_request_threshold"` // Default 100ms
}

// TracingConfig OpenTelemetry tracing configuration
type TracingConfig struct {
	Enable         bool    `yaml:"enable"`          // Default false
	ServiceName    string  `yaml:"service_name"`    // Default treecache
	JaegerEndpoint string  `yaml:"jaeger_endpoint"` // Collector endpoint, e.g. http://jaeger:14268/api/traces
	SampleRatio    float64 `yaml:"sample_ratio"`    // Default 1.0
}

// DefaultConfig returns a configuration with recommended default values
func DefaultConfig(role Role, nodeAddress string) *Config {
	cfg := &Config{
		Server: ServerConfig{
			Role:        role,
			NodeAddress: nodeAddress,
		},
	}

	cfg.SetDefaults()

	return cfg
}

// LoadConfig loads configuration from a file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.SetDefaults()
	cfg.OverrideFromEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// ReadConfig loads the file at path (defaults only when path is empty),
// applies defaults and environment overrides, but does not validate. Callers
// that layer command line flags on top validate afterwards.
func ReadConfig(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.OverrideFromEnv()
	cfg.SetDefaults()
	return cfg, nil
}

// LoadConfigOrDefault attempts to load configuration from file, uses defaults if file doesn't exist
func LoadConfigOrDefault(path string) (*Config, error) {
	if path != "" {
		cfg, err := LoadConfig(path)
		if err == nil {
			return cfg, nil
		}
		// File exists but has other error
		if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}

	cfg := DefaultConfig("", "")
	cfg.OverrideFromEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// SetDefaults sets default values
func (c *Config) SetDefaults() {
	s := &c.Server

	// Without any role information a node starts as a standalone root
	if s.Role == "" {
		s.Role = RoleRoot
	}
	if s.NodeAddress == "" {
		s.NodeAddress = "127.0.0.1"
	}
	if s.HTTPAddress == "" {
		s.HTTPAddress = ":5000"
	}
	if s.GRPCAddress == "" {
		s.GRPCAddress = ":5001"
	}

	// Discovery defaults
	if s.Discovery.Mode == "" {
		if s.ParentAddress != "" && s.RootAddress == "" {
			s.Discovery.Mode = DiscoveryStatic
		} else {
			s.Discovery.Mode = DiscoveryAssign
		}
	}
	if s.Discovery.AssignAttempts == 0 {
		s.Discovery.AssignAttempts = 5
	}
	if s.Discovery.AssignBackoff == 0 {
		s.Discovery.AssignBackoff = time.Second
	}
	if s.Discovery.SearchAttempts == 0 {
		s.Discovery.SearchAttempts = 5
	}
	if s.Discovery.SearchBackoff == 0 {
		s.Discovery.SearchBackoff = 5 * time.Second
	}

	// Coordination defaults
	if s.Coordination.Backend == "" {
		s.Coordination.Backend = BackendMemory
	}
	if s.Coordination.DialTimeout == 0 {
		s.Coordination.DialTimeout = 5 * time.Second
	}
	if s.Coordination.SessionTTL == 0 {
		s.Coordination.SessionTTL = 10
	}
	if s.Coordination.BasePath == "" {
		s.Coordination.BasePath = "/treecache"
	}

	// Propagation defaults
	if s.Propagation.PollInterval == 0 {
		s.Propagation.PollInterval = 5 * time.Second
	}
	if s.Propagation.ReadTimeout == 0 {
		s.Propagation.ReadTimeout = 2 * time.Second
	}
	if s.Propagation.CallTimeout == 0 {
		s.Propagation.CallTimeout = 5 * time.Second
	}

	// gRPC defaults
	if s.GRPC.MaxRecvMsgSize == 0 {
		s.GRPC.MaxRecvMsgSize = 4194304 // 4MB
	}
	if s.GRPC.MaxSendMsgSize == 0 {
		s.GRPC.MaxSendMsgSize = 4194304 // 4MB
	}
	if s.GRPC.MaxConcurrentStreams == 0 {
		s.GRPC.MaxConcurrentStreams = 1024
	}
	if s.GRPC.KeepaliveTime == 0 {
		s.GRPC.KeepaliveTime = 10 * time.Second
	}
	if s.GRPC.KeepaliveTimeout == 0 {
		s.GRPC.KeepaliveTimeout = 10 * time.Second
	}
	if s.GRPC.MaxConnectionIdle == 0 {
		s.GRPC.MaxConnectionIdle = 5 * time.Minute
	}
	if s.GRPC.MaxConnectionAge == 0 {
		s.GRPC.MaxConnectionAge = 10 * time.Minute
	}
	if s.GRPC.MaxConnectionAgeGrace == 0 {
		s.GRPC.MaxConnectionAgeGrace = 10 * time.Second
	}

	// Limits defaults
	if s.Limits.MaxConnections == 0 {
		s.Limits.MaxConnections = 1000
	}
	if s.Limits.MaxKeySize == 0 {
		s.Limits.MaxKeySize = 1536
	}
	if s.Limits.MaxValueSize == 0 {
		s.Limits.MaxValueSize = 1024 * 1024 // 1MB
	}

	// Reliability defaults
	if s.Reliability.ShutdownTimeout == 0 {
		s.Reliability.ShutdownTimeout = 30 * time.Second
	}
	if s.Reliability.DrainTimeout == 0 {
		s.Reliability.DrainTimeout = 5 * time.Second
	}
	if !s.Reliability.EnablePanicRecovery {
		s.Reliability.EnablePanicRecovery = true
	}

	// Log defaults
	if s.Log.Level == "" {
		s.Log.Level = "info"
	}
	if s.Log.Encoding == "" {
		s.Log.Encoding = "json"
	}
	if len(s.Log.OutputPaths) == 0 {
		s.Log.OutputPaths = []string{"stdout"}
	}
	if len(s.Log.ErrorOutputPaths) == 0 {
		s.Log.ErrorOutputPaths = []string{"stderr"}
	}
	if s.Log.Rotation.MaxSizeMB == 0 {
		s.Log.Rotation.MaxSizeMB = 100
	}
	if s.Log.Rotation.MaxBackups == 0 {
		s.Log.Rotation.MaxBackups = 5
	}

	// Monitoring defaults
	if !s.Monitoring.EnablePrometheus {
		s.Monitoring.EnablePrometheus = true
	}
	if s.Monitoring.PrometheusPort == 0 {
		s.Monitoring.PrometheusPort = 9090
	}
	if s.Monitoring.SlowRequestThreshold == 0 {
		s.Monitoring.SlowRequestThreshold = 100 * time.Millisecond
	}

	// Tracing defaults
	if s.Tracing.ServiceName == "" {
		s.Tracing.ServiceName = "treecache"
	}
	if s.Tracing.SampleRatio == 0 {
		s.Tracing.SampleRatio = 1.0
	}
}

// OverrideFromEnv overrides configuration from environment variables.
//
// Besides the TREECACHE_* variables, the deployment variables PARENT_NODE,
// NODE_ADDRESS and ZOO_SERVERS are honoured: PARENT_NODE=ROOT selects the root
// role, any other value is the root a leaf asks for a parent; ZOO_SERVERS=None
// disables the coordination service.
func (c *Config) OverrideFromEnv() {
	s := &c.Server

	if parent := os.Getenv("PARENT_NODE"); parent != "" {
		if parent == rootMarker {
			s.Role = RoleRoot
		} else {
			s.Role = RoleLeaf
			s.RootAddress = parent
			s.Discovery.Mode = DiscoveryAssign
		}
	}
	if addr := os.Getenv("NODE_ADDRESS"); addr != "" {
		s.NodeAddress = addr
	}
	if zoo := os.Getenv("ZOO_SERVERS"); zoo != "" {
		if strings.EqualFold(zoo, "none") {
			s.Coordination.Backend = BackendNone
		} else {
			s.Coordination.Backend = BackendEtcd
			s.Coordination.Endpoints = splitList(zoo)
		}
	}

	if role := os.Getenv("TREECACHE_ROLE"); role != "" {
		s.Role = Role(strings.ToLower(role))
	}
	if addr := os.Getenv("TREECACHE_NODE_ADDRESS"); addr != "" {
		s.NodeAddress = addr
	}
	if addr := os.Getenv("TREECACHE_ROOT_ADDRESS"); addr != "" {
		s.RootAddress = addr
	}
	if addr := os.Getenv("TREECACHE_PARENT_ADDRESS"); addr != "" {
		s.ParentAddress = addr
		s.Discovery.Mode = DiscoveryStatic
	}
	if addr := os.Getenv("TREECACHE_HTTP_ADDRESS"); addr != "" {
		s.HTTPAddress = addr
	}
	if addr := os.Getenv("TREECACHE_GRPC_ADDRESS"); addr != "" {
		s.GRPCAddress = addr
	}
	if backend := os.Getenv("TREECACHE_COORDINATION_BACKEND"); backend != "" {
		s.Coordination.Backend = strings.ToLower(backend)
	}
	if endpoints := os.Getenv("TREECACHE_COORDINATION_ENDPOINTS"); endpoints != "" {
		s.Coordination.Endpoints = splitList(endpoints)
	}
	if eph := os.Getenv("TREECACHE_COORDINATION_EPHEMERAL"); eph != "" {
		if v, err := strconv.ParseBool(eph); err == nil {
			s.Coordination.Ephemeral = &v
		}
	}

	// Log configuration
	if logLevel := os.Getenv("TREECACHE_LOG_LEVEL"); logLevel != "" {
		s.Log.Level = logLevel
	}
	if logEncoding := os.Getenv("TREECACHE_LOG_ENCODING"); logEncoding != "" {
		s.Log.Encoding = logEncoding
	}

	if endpoint := os.Getenv("TREECACHE_JAEGER_ENDPOINT"); endpoint != "" {
		s.Tracing.Enable = true
		s.Tracing.JaegerEndpoint = endpoint
	}
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate validates the configuration
func (c *Config) Validate() error {
	s := &c.Server

	if s.Role != RoleRoot && s.Role != RoleLeaf {
		return fmt.Errorf("role must be either 'root' or 'leaf'")
	}
	if s.NodeAddress == "" {
		return fmt.Errorf("node_address is required")
	}
	if s.HTTPAddress == "" && s.GRPCAddress == "" {
		return fmt.Errorf("at least one of http_address or grpc_address is required")
	}

	// Leaf needs a way to find its parent
	if s.Role == RoleLeaf {
		switch s.Discovery.Mode {
		case DiscoveryAssign:
			if s.RootAddress == "" {
				return fmt.Errorf("root_address is required when discovery.mode is 'assign'")
			}
		case DiscoveryStatic:
			if s.ParentAddress == "" {
				return fmt.Errorf("parent_address is required when discovery.mode is 'static'")
			}
		default:
			return fmt.Errorf("discovery.mode must be either 'assign' or 'static'")
		}
		if s.Discovery.AssignAttempts <= 0 {
			return fmt.Errorf("discovery.assign_attempts must be > 0")
		}
		if s.Discovery.SearchAttempts <= 0 {
			return fmt.Errorf("discovery.search_attempts must be > 0")
		}
		if s.Discovery.SearchBackoff < 0 || s.Discovery.AssignBackoff < 0 {
			return fmt.Errorf("discovery backoff must be >= 0")
		}
	}

	// Coordination
	switch s.Coordination.Backend {
	case BackendEtcd:
		if len(s.Coordination.Endpoints) == 0 {
			return fmt.Errorf("coordination.endpoints is required for the etcd backend")
		}
	case BackendMemory, BackendNone:
	default:
		return fmt.Errorf("coordination.backend must be one of: etcd, memory, none")
	}
	if s.Coordination.SessionTTL <= 0 {
		return fmt.Errorf("coordination.session_ttl must be > 0")
	}
	if !strings.HasPrefix(s.Coordination.BasePath, "/") {
		return fmt.Errorf("coordination.base_path must start with '/'")
	}

	// Propagation
	if s.Propagation.PollInterval <= 0 {
		return fmt.Errorf("propagation.poll_interval must be > 0")
	}
	if s.Propagation.ReadTimeout <= 0 {
		return fmt.Errorf("propagation.read_timeout must be > 0")
	}
	if s.Propagation.CallTimeout <= 0 {
		return fmt.Errorf("propagation.call_timeout must be > 0")
	}

	// gRPC
	if s.GRPC.MaxRecvMsgSize < 0 {
		return fmt.Errorf("grpc.max_recv_msg_size must be >= 0")
	}
	if s.GRPC.MaxSendMsgSize < 0 {
		return fmt.Errorf("grpc.max_send_msg_size must be >= 0")
	}

	// Limits
	if s.Limits.MaxConnections <= 0 {
		return fmt.Errorf("limits.max_connections must be > 0")
	}
	if s.Limits.MaxKeySize <= 0 {
		return fmt.Errorf("limits.max_key_size must be > 0")
	}
	if s.Limits.MaxValueSize <= 0 {
		return fmt.Errorf("limits.max_value_size must be > 0")
	}

	// Log
	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true,
		"error": true, "dpanic": true, "panic": true, "fatal": true,
	}
	if !validLogLevels[s.Log.Level] {
		return fmt.Errorf("log.level must be one of: debug, info, warn, error, dpanic, panic, fatal")
	}
	if s.Log.Encoding != "json" && s.Log.Encoding != "console" {
		return fmt.Errorf("log.encoding must be either 'json' or 'console'")
	}

	// Tracing
	if s.Tracing.Enable && s.Tracing.JaegerEndpoint == "" {
		return fmt.Errorf("tracing.jaeger_endpoint is required when tracing is enabled")
	}
	if s.Tracing.SampleRatio < 0 || s.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing.sample_ratio must be between 0.0 and 1.0")
	}

	return nil
}

// IsRoot reports whether this node is the tree root
func (c *Config) IsRoot() bool {
	return c.Server.Role == RoleRoot
}
