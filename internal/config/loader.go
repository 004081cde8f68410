package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	envPrefix            = "WEBTALK"
	envConfigDefaultPath = "WEBTALK_CONFIG_DEFAULT_PATH"
	defaultConfigName    = "config.yaml"
)

// Load builds configuration from defaults, optional config file, env vars, and returns the resolved path.
// Precedence: defaults < config file < env vars < caller overrides.
func Load(logger *zerolog.Logger, explicitPath string) (Config, string, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v, cfg)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	configPath := resolveConfigPath(explicitPath)
	v.SetConfigFile(configPath)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist) {
			if writeErr := writeDefaultConfig(configPath, cfg); writeErr != nil && logger != nil {
				logger.Warn().Err(writeErr).Str("path", configPath).Msg("failed to write default config")
			} else if logger != nil {
				logger.Info().Str("path", configPath).Msg("created default config")
			}
			if readErr := v.ReadInConfig(); readErr != nil && logger != nil {
				logger.Warn().Err(readErr).Str("path", configPath).Msg("failed to read config after writing default")
			}
		} else {
			return cfg, configPath, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, configPath, fmt.Errorf("unmarshal config: %w", err)
	}

	return cfg, configPath, nil
}

// setDefaults registers every key so AutomaticEnv can see it during Unmarshal.
func setDefaults(v *viper.Viper, cfg Config) {
	v.SetDefault("addr", cfg.Addr)
	v.SetDefault("read_header_timeout", cfg.ReadHeaderTimeout)
	v.SetDefault("shutdown_timeout", cfg.ShutdownTimeout)
	v.SetDefault("log_level", cfg.LogLevel)
	v.SetDefault("log_format", cfg.LogFormat)
	v.SetDefault("database_path", cfg.DatabasePath)
	v.SetDefault("upload_dir", cfg.UploadDir)
	v.SetDefault("temp_dir", cfg.TempDir)
	v.SetDefault("max_upload_bytes", cfg.MaxUploadBytes)
	v.SetDefault("max_mobile_upload_bytes", cfg.MaxMobileUploadBytes)
	v.SetDefault("max_rooms", cfg.MaxRooms)
	v.SetDefault("room_timeout_hours", cfg.RoomTimeoutHours)
	v.SetDefault("sweep_interval", cfg.SweepInterval)
	v.SetDefault("admin_password", cfg.AdminPassword)
	v.SetDefault("jwt_secret", cfg.JWTSecret)
	v.SetDefault("jwt_issuer", cfg.JWTIssuer)
	v.SetDefault("jwt_audience", cfg.JWTAudience)
	v.SetDefault("jwt_ttl", cfg.JWTTTL)
	v.SetDefault("rate_limit_per_minute", cfg.RateLimitPerMinute)
}

func resolveConfigPath(explicitPath string) string {
	if explicitPath != "" {
		return explicitPath
	}

	if base := os.Getenv(envConfigDefaultPath); base != "" {
		if err := os.MkdirAll(base, 0o755); err == nil {
			return filepath.Join(base, defaultConfigName)
		}
	}

	cwd, err := os.Getwd()
	if err != nil {
		return defaultConfigName
	}
	return filepath.Join(cwd, defaultConfigName)
}

func writeDefaultConfig(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(defaultFile(cfg))
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// defaultFile renders durations as strings so viper can parse them back.
func defaultFile(cfg Config) map[string]any {
	return map[string]any{
		"addr":                    cfg.Addr,
		"read_header_timeout":     cfg.ReadHeaderTimeout.String(),
		"shutdown_timeout":        cfg.ShutdownTimeout.String(),
		"log_level":               cfg.LogLevel,
		"log_format":              cfg.LogFormat,
		"database_path":           cfg.DatabasePath,
		"upload_dir":              cfg.UploadDir,
		"temp_dir":                cfg.TempDir,
		"max_upload_bytes":        cfg.MaxUploadBytes,
		"max_mobile_upload_bytes": cfg.MaxMobileUploadBytes,
		"max_rooms":               cfg.MaxRooms,
		"room_timeout_hours":      cfg.RoomTimeoutHours,
		"sweep_interval":          cfg.SweepInterval.String(),
		"admin_password":          cfg.AdminPassword,
		"jwt_secret":              cfg.JWTSecret,
		"jwt_issuer":              cfg.JWTIssuer,
		"jwt_audience":            cfg.JWTAudience,
		"jwt_ttl":                 cfg.JWTTTL.String(),
		"rate_limit_per_minute":   cfg.RateLimitPerMinute,
	}
}
