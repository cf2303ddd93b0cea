package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// envPrefix scopes environment overrides, e.g. TOOLGATE_AUTH_SIGNING_SECRET.
const envPrefix = "TOOLGATE"

// Load builds the configuration from defaults, an optional file (JSON or
// YAML, detected by extension), and TOOLGATE_* environment variables, in
// ascending precedence. An empty path skips the file layer.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// setDefaults registers every key so environment overrides resolve even
// without a config file.
func setDefaults(v *viper.Viper) {
	d := DefaultConfig()

	v.SetDefault("server.name", d.Server.Name)
	v.SetDefault("data-dir", d.DataDir)

	v.SetDefault("auth.signing-secret", d.Auth.SigningSecret)
	v.SetDefault("auth.access-ttl-minutes", d.Auth.AccessTTLMinutes)
	v.SetDefault("auth.refresh-ttl-days", d.Auth.RefreshTTLDays)
	v.SetDefault("auth.bcrypt-cost", d.Auth.BcryptCost)

	v.SetDefault("exec.default-timeout-seconds", d.Exec.DefaultTimeoutSeconds)
	v.SetDefault("exec.kill-grace-seconds", d.Exec.KillGraceSeconds)
	v.SetDefault("exec.default-memory-mb", d.Exec.DefaultMemoryMB)

	v.SetDefault("quota.cpu-percent", d.Quota.CPUPercent)
	v.SetDefault("quota.memory-mb", d.Quota.MemoryMB)
	v.SetDefault("quota.disk-gb", d.Quota.DiskGB)
	v.SetDefault("quota.max-processes", d.Quota.MaxProcesses)

	v.SetDefault("transport.mode", d.Transport.Mode)
	v.SetDefault("transport.max-frame-bytes", d.Transport.MaxFrameBytes)
	v.SetDefault("transport.tcp.host", d.Transport.TCP.Host)
	v.SetDefault("transport.tcp.port", d.Transport.TCP.Port)
	v.SetDefault("transport.tcp.read-timeout-seconds", d.Transport.TCP.ReadTimeoutSeconds)
	v.SetDefault("transport.tcp.write-timeout-seconds", d.Transport.TCP.WriteTimeoutSeconds)
	v.SetDefault("transport.ws.host", d.Transport.WS.Host)
	v.SetDefault("transport.ws.port", d.Transport.WS.Port)

	v.SetDefault("policy.file", "")

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.to-file", d.Logging.ToFile)
	v.SetDefault("logging.filename", d.Logging.Filename)
	v.SetDefault("logging.json-format", d.Logging.JSONFormat)
	v.SetDefault("logging.max-size", d.Logging.MaxSize)
	v.SetDefault("logging.max-backups", d.Logging.MaxBackups)
	v.SetDefault("logging.max-age", d.Logging.MaxAge)
	v.SetDefault("logging.compress", d.Logging.Compress)

	v.SetDefault("metrics.enabled", d.Metrics.Enabled)

	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.endpoint", d.Tracing.Endpoint)
	v.SetDefault("tracing.insecure", d.Tracing.Insecure)
	v.SetDefault("tracing.sample-rate", d.Tracing.SampleRate)
}
