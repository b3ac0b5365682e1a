// Package config loads the process-wide configuration for blobcached:
// defaults, optional YAML files, BLOBCACHE_-prefixed environment variables,
// and CLI flags, in increasing precedence, validated before use.
package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/sagarc03/blobcache/httpapi"
)

type configKey struct{}

// WithContext returns a new context carrying cfg.
func WithContext(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, configKey{}, cfg)
}

// FromContext retrieves the config stored by WithContext.
func FromContext(ctx context.Context) (*Config, error) {
	cfg, ok := ctx.Value(configKey{}).(*Config)
	if !ok || cfg == nil {
		return nil, errors.New("config not found in context")
	}
	return cfg, nil
}

// Config is the root configuration struct, with settings grouped into
// nested sections by concern.
type Config struct {
	Server   ServerConfig       `mapstructure:"server"`
	Storage  StorageConfig      `mapstructure:"storage"`
	Metadata MetadataConfig     `mapstructure:"metadata"`
	Auth     AuthConfig         `mapstructure:"auth"`
	CORS     httpapi.CORSConfig `mapstructure:"cors"`
	Reaper   ReaperConfig       `mapstructure:"reaper"`
	Log      LogConfig          `mapstructure:"log"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Port          int    `mapstructure:"port" validate:"required,min=1,max=65535"`
	APIBase       string `mapstructure:"api_base" validate:"required"`
	APIVersion    string `mapstructure:"api_version" validate:"required"`
	MaxUploadSize int64  `mapstructure:"max_upload_size" validate:"min=0"`
}

// StorageConfig holds Object Backend settings.
type StorageConfig struct {
	Dir                 string   `mapstructure:"dir" validate:"required"`
	Backend             string   `mapstructure:"backend" validate:"required,oneof=filesystem s3"`
	MaxFileSizeMB       int64    `mapstructure:"max_file_size_mb" validate:"min=1"`
	MaxTTLMin           int      `mapstructure:"max_ttl_min" validate:"min=1"`
	AllowedMimeTypes    []string `mapstructure:"allowed_mime_types"`
	EnableDeduplication bool     `mapstructure:"enable_deduplication"`

	S3Bucket    string `mapstructure:"s3_bucket"`
	S3Region    string `mapstructure:"s3_region"`
	S3Endpoint  string `mapstructure:"s3_endpoint"`
	S3PathStyle bool   `mapstructure:"s3_path_style"`
}

// MetadataConfig selects and configures the Metadata Store.
type MetadataConfig struct {
	Backend string `mapstructure:"backend" validate:"required,oneof=json kv postgres sqlite"`
	DSN     string `mapstructure:"dsn"` // redis URL, postgres DSN, or sqlite path
}

// AuthConfig holds bearer-token settings.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Token   string `mapstructure:"token"`
}

// ReaperConfig holds scheduling for both background reapers.
type ReaperConfig struct {
	CleanupCron       string `mapstructure:"cleanup_cron" validate:"required"`
	CleanupBatchSize  int    `mapstructure:"cleanup_batch_size" validate:"min=1"`
	OrphanCron        string `mapstructure:"orphan_cron" validate:"required"`
	OrphanGraceWindow int    `mapstructure:"orphan_grace_window_sec" validate:"min=1"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `mapstructure:"level" validate:"required,oneof=debug info warn error"`
	Env   string `mapstructure:"env" validate:"required,oneof=development production"`
}

var flagToViperKey = map[string]string{
	"port":         "server.port",
	"storage-dir":  "storage.dir",
	"metadata-dsn": "metadata.dsn",
	"auth-token":   "auth.token",
	"log-level":    "log.level",
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet) {
	flags.VisitAll(func(f *pflag.Flag) {
		viperKey := f.Name
		if mapped, ok := flagToViperKey[viperKey]; ok {
			viperKey = mapped
		}
		if f.Changed {
			_ = v.BindPFlag(viperKey, f)
		}
	})
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.api_base", "/api")
	v.SetDefault("server.api_version", "v1")
	v.SetDefault("server.max_upload_size", 0)

	v.SetDefault("storage.backend", "filesystem")
	v.SetDefault("storage.max_file_size_mb", 100)
	v.SetDefault("storage.max_ttl_min", 10_080)
	v.SetDefault("storage.allowed_mime_types", []string{})
	v.SetDefault("storage.enable_deduplication", true)
	v.SetDefault("storage.s3_region", "us-east-1")
	// Empty defaults register these keys so Unmarshal picks up their
	// BLOBCACHE_ environment variables.
	v.SetDefault("storage.dir", "")

	v.SetDefault("metadata.backend", "json")
	v.SetDefault("metadata.dsn", "")

	v.SetDefault("auth.enabled", true)
	v.SetDefault("auth.token", "")

	v.SetDefault("reaper.cleanup_cron", "*/10 * * * *")
	v.SetDefault("reaper.cleanup_batch_size", 100)
	v.SetDefault("reaper.orphan_cron", "*/15 * * * *")
	v.SetDefault("reaper.orphan_grace_window_sec", 60)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.env", "development")
}

// Load reads configuration from defaults, optional YAML files, BLOBCACHE_
// environment variables, and flags, in increasing precedence.
func Load(configFiles []string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if len(configFiles) > 0 {
		v.SetConfigFile(configFiles[0])
		if err := v.ReadInConfig(); err != nil {
			slog.Warn("error reading config file", "file", configFiles[0], "error", err)
		}
		for _, cf := range configFiles[1:] {
			v.SetConfigFile(cf)
			if err := v.MergeInConfig(); err != nil {
				slog.Warn("error merging config file", "file", cf, "error", err)
			}
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				slog.Warn("error reading config file", "error", err)
			}
		}
	}

	v.SetEnvPrefix("BLOBCACHE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		bindFlags(v, flags)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.Auth.Enabled && cfg.Auth.Token == "" {
		return nil, errors.New("auth.token is required when auth.enabled is true")
	}

	validate := validator.New()
	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}
