// Package config defines the server configuration tree, its defaults, and
// the viper-backed loader.
package config

import (
	"fmt"
	"time"
)

// Transport modes.
const (
	TransportStdio = "stdio"
	TransportTCP   = "tcp"
	TransportWS    = "ws"
)

// DefaultMaxFrameBytes bounds a single protocol frame on every transport.
const DefaultMaxFrameBytes = 10 * 1024 * 1024

// Config represents the main configuration structure.
type Config struct {
	Server    ServerConfig    `json:"server" mapstructure:"server"`
	DataDir   string          `json:"data_dir" mapstructure:"data-dir"`
	Auth      AuthConfig      `json:"auth" mapstructure:"auth"`
	Exec      ExecConfig      `json:"exec" mapstructure:"exec"`
	Quota     QuotaConfig     `json:"quota" mapstructure:"quota"`
	Transport TransportConfig `json:"transport" mapstructure:"transport"`
	Policy    PolicyConfig    `json:"policy" mapstructure:"policy"`
	Logging   LogConfig       `json:"logging" mapstructure:"logging"`
	Metrics   MetricsConfig   `json:"metrics" mapstructure:"metrics"`
	Tracing   TracingConfig   `json:"tracing" mapstructure:"tracing"`
}

// ServerConfig names the server as announced in serverInfo.
type ServerConfig struct {
	Name string `json:"name" mapstructure:"name"`
}

// AuthConfig controls token minting and credential hashing.
type AuthConfig struct {
	// SigningSecret signs HS256 tokens and must be at least 32 bytes.
	// Empty means an ephemeral secret: tokens die with the process.
	SigningSecret    string `json:"signing_secret,omitempty" mapstructure:"signing-secret"`
	AccessTTLMinutes int    `json:"access_ttl_minutes" mapstructure:"access-ttl-minutes"`
	RefreshTTLDays   int    `json:"refresh_ttl_days" mapstructure:"refresh-ttl-days"`
	BcryptCost       int    `json:"bcrypt_cost" mapstructure:"bcrypt-cost"`
}

// AccessTTL returns the access token lifetime.
func (a AuthConfig) AccessTTL() time.Duration {
	return time.Duration(a.AccessTTLMinutes) * time.Minute
}

// RefreshTTL returns the refresh token lifetime.
func (a AuthConfig) RefreshTTL() time.Duration {
	return time.Duration(a.RefreshTTLDays) * 24 * time.Hour
}

// ExecConfig controls tool execution and the subprocess worker.
type ExecConfig struct {
	DefaultTimeoutSeconds int `json:"default_timeout_seconds" mapstructure:"default-timeout-seconds"`
	KillGraceSeconds      int `json:"kill_grace_seconds" mapstructure:"kill-grace-seconds"`
	DefaultMemoryMB       int `json:"default_memory_mb" mapstructure:"default-memory-mb"`
}

// DefaultTimeout returns the tool timeout used when a descriptor names none.
func (e ExecConfig) DefaultTimeout() time.Duration {
	return time.Duration(e.DefaultTimeoutSeconds) * time.Second
}

// KillGrace returns the TERM-to-KILL escalation window.
func (e ExecConfig) KillGrace() time.Duration {
	return time.Duration(e.KillGraceSeconds) * time.Second
}

// QuotaConfig sets the default per-client resource ceilings.
type QuotaConfig struct {
	CPUPercent   float64 `json:"cpu_percent" mapstructure:"cpu-percent"`
	MemoryMB     int     `json:"memory_mb" mapstructure:"memory-mb"`
	DiskGB       int     `json:"disk_gb" mapstructure:"disk-gb"`
	MaxProcesses int     `json:"max_processes" mapstructure:"max-processes"`
}

// TransportConfig selects and tunes the listening transport.
type TransportConfig struct {
	Mode          string    `json:"mode" mapstructure:"mode"`
	MaxFrameBytes int       `json:"max_frame_bytes" mapstructure:"max-frame-bytes"`
	TCP           TCPConfig `json:"tcp" mapstructure:"tcp"`
	WS            WSConfig  `json:"ws" mapstructure:"ws"`
}

// TCPConfig tunes the length-prefixed TCP listener.
type TCPConfig struct {
	Host                string `json:"host" mapstructure:"host"`
	Port                int    `json:"port" mapstructure:"port"`
	ReadTimeoutSeconds  int    `json:"read_timeout_seconds" mapstructure:"read-timeout-seconds"`
	WriteTimeoutSeconds int    `json:"write_timeout_seconds" mapstructure:"write-timeout-seconds"`
}

// Addr returns the listen address in host:port form.
func (t TCPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", t.Host, t.Port)
}

// ReadTimeout returns the per-frame read deadline.
func (t TCPConfig) ReadTimeout() time.Duration {
	return time.Duration(t.ReadTimeoutSeconds) * time.Second
}

// WriteTimeout returns the per-frame write deadline.
func (t TCPConfig) WriteTimeout() time.Duration {
	return time.Duration(t.WriteTimeoutSeconds) * time.Second
}

// WSConfig tunes the WebSocket listener.
type WSConfig struct {
	Host string `json:"host" mapstructure:"host"`
	Port int    `json:"port" mapstructure:"port"`
}

// Addr returns the listen address in host:port form.
func (w WSConfig) Addr() string {
	return fmt.Sprintf("%s:%d", w.Host, w.Port)
}

// PolicyConfig points at the optional permission bootstrap file.
type PolicyConfig struct {
	File string `json:"file,omitempty" mapstructure:"file"`
}

// LogConfig represents logging configuration.
type LogConfig struct {
	Level      string `json:"level" mapstructure:"level"`
	ToFile     bool   `json:"to_file" mapstructure:"to-file"`
	Filename   string `json:"filename,omitempty" mapstructure:"filename"`
	JSONFormat bool   `json:"json_format" mapstructure:"json-format"`
	MaxSize    int    `json:"max_size" mapstructure:"max-size"` // MB
	MaxBackups int    `json:"max_backups" mapstructure:"max-backups"`
	MaxAge     int    `json:"max_age" mapstructure:"max-age"` // days
	Compress   bool   `json:"compress" mapstructure:"compress"`
}

// MetricsConfig toggles the Prometheus registry and /metrics endpoint.
type MetricsConfig struct {
	Enabled bool `json:"enabled" mapstructure:"enabled"`
}

// TracingConfig toggles OTLP trace export.
type TracingConfig struct {
	Enabled    bool    `json:"enabled" mapstructure:"enabled"`
	Endpoint   string  `json:"endpoint,omitempty" mapstructure:"endpoint"`
	Insecure   bool    `json:"insecure" mapstructure:"insecure"`
	SampleRate float64 `json:"sample_rate" mapstructure:"sample-rate"`
}

// DefaultConfig returns the configuration used when nothing is provided.
func DefaultConfig() *Config {
	return &Config{
		Server:  ServerConfig{Name: "toolgate"},
		DataDir: "data",
		Auth: AuthConfig{
			AccessTTLMinutes: 60,
			RefreshTTLDays:   7,
			BcryptCost:       10,
		},
		Exec: ExecConfig{
			DefaultTimeoutSeconds: 30,
			KillGraceSeconds:      2,
			DefaultMemoryMB:       128,
		},
		Quota: QuotaConfig{
			CPUPercent:   50,
			MemoryMB:     512,
			DiskGB:       1,
			MaxProcesses: 5,
		},
		Transport: TransportConfig{
			Mode:          TransportStdio,
			MaxFrameBytes: DefaultMaxFrameBytes,
			TCP: TCPConfig{
				Host:                "0.0.0.0",
				Port:                9000,
				ReadTimeoutSeconds:  30,
				WriteTimeoutSeconds: 10,
			},
			WS: WSConfig{
				Host: "0.0.0.0",
				Port: 9001,
			},
		},
		Logging: LogConfig{
			Level:      "info",
			MaxSize:    10,
			MaxBackups: 5,
			MaxAge:     30,
			Compress:   true,
		},
		Metrics: MetricsConfig{Enabled: true},
		Tracing: TracingConfig{SampleRate: 0.1},
	}
}

// Validate normalizes out-of-range values and rejects contradictions that
// cannot be fixed up silently.
func (c *Config) Validate() error {
	defaults := DefaultConfig()

	if c.Server.Name == "" {
		c.Server.Name = defaults.Server.Name
	}
	if c.DataDir == "" {
		c.DataDir = defaults.DataDir
	}

	if c.Auth.SigningSecret != "" && len(c.Auth.SigningSecret) < 32 {
		return fmt.Errorf("auth.signing-secret must be at least 32 bytes, got %d", len(c.Auth.SigningSecret))
	}
	if c.Auth.AccessTTLMinutes <= 0 {
		c.Auth.AccessTTLMinutes = defaults.Auth.AccessTTLMinutes
	}
	if c.Auth.RefreshTTLDays <= 0 {
		c.Auth.RefreshTTLDays = defaults.Auth.RefreshTTLDays
	}
	if c.Auth.BcryptCost < 4 || c.Auth.BcryptCost > 31 {
		c.Auth.BcryptCost = defaults.Auth.BcryptCost
	}

	if c.Exec.DefaultTimeoutSeconds <= 0 {
		c.Exec.DefaultTimeoutSeconds = defaults.Exec.DefaultTimeoutSeconds
	}
	if c.Exec.KillGraceSeconds <= 0 {
		c.Exec.KillGraceSeconds = defaults.Exec.KillGraceSeconds
	}
	if c.Exec.DefaultMemoryMB <= 0 {
		c.Exec.DefaultMemoryMB = defaults.Exec.DefaultMemoryMB
	}

	if c.Quota.CPUPercent <= 0 || c.Quota.CPUPercent > 100 {
		c.Quota.CPUPercent = defaults.Quota.CPUPercent
	}
	if c.Quota.MemoryMB <= 0 {
		c.Quota.MemoryMB = defaults.Quota.MemoryMB
	}
	if c.Quota.DiskGB <= 0 {
		c.Quota.DiskGB = defaults.Quota.DiskGB
	}
	if c.Quota.MaxProcesses <= 0 {
		c.Quota.MaxProcesses = defaults.Quota.MaxProcesses
	}

	switch c.Transport.Mode {
	case TransportStdio, TransportTCP, TransportWS:
	case "":
		c.Transport.Mode = TransportStdio
	default:
		return fmt.Errorf("transport.mode must be one of stdio, tcp, ws; got %q", c.Transport.Mode)
	}
	if c.Transport.MaxFrameBytes <= 0 {
		c.Transport.MaxFrameBytes = DefaultMaxFrameBytes
	}
	if c.Transport.TCP.Port <= 0 || c.Transport.TCP.Port > 65535 {
		return fmt.Errorf("transport.tcp.port out of range: %d", c.Transport.TCP.Port)
	}
	if c.Transport.WS.Port <= 0 || c.Transport.WS.Port > 65535 {
		return fmt.Errorf("transport.ws.port out of range: %d", c.Transport.WS.Port)
	}
	if c.Transport.TCP.ReadTimeoutSeconds <= 0 {
		c.Transport.TCP.ReadTimeoutSeconds = defaults.Transport.TCP.ReadTimeoutSeconds
	}
	if c.Transport.TCP.WriteTimeoutSeconds <= 0 {
		c.Transport.TCP.WriteTimeoutSeconds = defaults.Transport.TCP.WriteTimeoutSeconds
	}

	if c.Logging.Level == "" {
		c.Logging.Level = defaults.Logging.Level
	}
	if c.Logging.ToFile && c.Logging.Filename == "" {
		return fmt.Errorf("logging.to-file requires logging.filename")
	}

	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		c.Tracing.SampleRate = defaults.Tracing.SampleRate
	}
	if c.Tracing.Enabled && c.Tracing.Endpoint == "" {
		return fmt.Errorf("tracing.enabled requires tracing.endpoint")
	}
	return nil
}
