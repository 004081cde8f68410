package config

import (
	"errors"
	"path/filepath"
	"time"
)

// Config holds server configuration values.
type Config struct {
	Addr              string        `mapstructure:"addr" yaml:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`

	LogLevel  string `mapstructure:"log_level" yaml:"log_level"`
	LogFormat string `mapstructure:"log_format" yaml:"log_format"`

	DatabasePath string `mapstructure:"database_path" yaml:"database_path"`
	UploadDir    string `mapstructure:"upload_dir" yaml:"upload_dir"`
	// TempDir holds uploads while they are staged; empty means UploadDir/.tmp.
	TempDir              string `mapstructure:"temp_dir" yaml:"temp_dir"`
	MaxUploadBytes       int64  `mapstructure:"max_upload_bytes" yaml:"max_upload_bytes"`
	MaxMobileUploadBytes int64  `mapstructure:"max_mobile_upload_bytes" yaml:"max_mobile_upload_bytes"`

	MaxRooms         int           `mapstructure:"max_rooms" yaml:"max_rooms"`
	RoomTimeoutHours int           `mapstructure:"room_timeout_hours" yaml:"room_timeout_hours"`
	SweepInterval    time.Duration `mapstructure:"sweep_interval" yaml:"sweep_interval"`

	// AdminPassword enables the admin API; it may be a bcrypt hash.
	AdminPassword string        `mapstructure:"admin_password" yaml:"admin_password"`
	JWTSecret     string        `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	JWTIssuer     string        `mapstructure:"jwt_issuer" yaml:"jwt_issuer"`
	JWTAudience   string        `mapstructure:"jwt_audience" yaml:"jwt_audience"`
	JWTTTL        time.Duration `mapstructure:"jwt_ttl" yaml:"jwt_ttl"`

	RateLimitPerMinute int `mapstructure:"rate_limit_per_minute" yaml:"rate_limit_per_minute"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Addr:                 ":8080",
		ReadHeaderTimeout:    5 * time.Second,
		ShutdownTimeout:      5 * time.Second,
		LogLevel:             "info",
		LogFormat:            "console",
		DatabasePath:         "webtalk.db",
		UploadDir:            "uploads",
		MaxUploadBytes:       10 << 20,
		MaxMobileUploadBytes: 5 << 20,
		MaxRooms:             50,
		RoomTimeoutHours:     24,
		SweepInterval:        10 * time.Minute,
		JWTIssuer:            "webtalk",
		JWTAudience:          "webtalk-admin",
		JWTTTL:               12 * time.Hour,
		RateLimitPerMinute:   120,
	}
}

// UpdateFrom overwrites non-zero command-line overrides into receiver.
func (c *Config) UpdateFrom(other Config) {
	if other.Addr != "" {
		c.Addr = other.Addr
	}
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
	if other.DatabasePath != "" {
		c.DatabasePath = other.DatabasePath
	}
	if other.UploadDir != "" {
		c.UploadDir = other.UploadDir
	}
}

// Validate rejects values the server cannot start with.
func (c *Config) Validate() error {
	var errs []error
	if c.Addr == "" {
		errs = append(errs, errors.New("addr is required"))
	}
	if c.DatabasePath == "" {
		errs = append(errs, errors.New("database_path is required"))
	}
	if c.UploadDir == "" {
		errs = append(errs, errors.New("upload_dir is required"))
	}
	if c.MaxUploadBytes <= 0 {
		errs = append(errs, errors.New("max_upload_bytes must be positive"))
	}
	if c.MaxMobileUploadBytes > c.MaxUploadBytes {
		errs = append(errs, errors.New("max_mobile_upload_bytes must not exceed max_upload_bytes"))
	}
	if c.SweepInterval <= 0 {
		errs = append(errs, errors.New("sweep_interval must be positive"))
	}
	if c.AdminPassword != "" && c.JWTSecret == "" {
		errs = append(errs, errors.New("jwt_secret is required when admin_password is set"))
	}
	return errors.Join(errs...)
}

// StagingDir returns where uploads are staged before they are finalized.
func (c *Config) StagingDir() string {
	if c.TempDir != "" {
		return c.TempDir
	}
	return filepath.Join(c.UploadDir, ".tmp")
}
