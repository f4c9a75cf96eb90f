// Package app wires configuration, logging, and key material for the
// service entry point.
package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	pkgvalidator "github.com/passq/passq/pkg/validator"
)

// Config represents the runtime configuration for the passq backend.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Keys        KeysConfig        `mapstructure:"keys"`
	Security    SecurityConfig    `mapstructure:"security"`
	Maintenance MaintenanceConfig `mapstructure:"maintenance"`
	GeoIP       GeoIPConfig       `mapstructure:"geoip"`
}

// ServerConfig holds process-level settings.
type ServerConfig struct {
	LogLevel string `mapstructure:"log_level" validate:"omitempty,oneof=debug info warn error"`
}

// DatabaseConfig describes connection options for the supported databases.
type DatabaseConfig struct {
	Driver   string       `mapstructure:"driver" validate:"omitempty,oneof=sqlite postgres postgresql mysql"`
	Path     string       `mapstructure:"path"`
	DSN      string       `mapstructure:"dsn"`
	Postgres DBAuthConfig `mapstructure:"postgres"`
	MySQL    DBAuthConfig `mapstructure:"mysql"`
}

// DBAuthConfig represents host based database parameters.
type DBAuthConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port" validate:"omitempty,min=1,max=65535"`
	Database string `mapstructure:"database"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// AuthConfig captures token and session settings.
type AuthConfig struct {
	Issuer          string        `mapstructure:"issuer"`
	Audience        string        `mapstructure:"audience"`
	AccessTokenTTL  time.Duration `mapstructure:"access_token_ttl" validate:"omitempty,min=1m"`
	RefreshTokenTTL time.Duration `mapstructure:"refresh_token_ttl" validate:"omitempty,min=1h"`
}

// KeysConfig selects and configures the key source. Keys may be supplied
// hex or base64 encoded; raw 32-byte strings also work.
type KeysConfig struct {
	Provider      string          `mapstructure:"provider" validate:"omitempty,oneof=static vault"`
	EncryptionKey string          `mapstructure:"encryption_key"`
	SigningKey    string          `mapstructure:"signing_key"`
	AuditKey      string          `mapstructure:"audit_key"`
	MasterSecret  string          `mapstructure:"master_secret"`
	Vault         VaultKeysConfig `mapstructure:"vault"`
}

// VaultKeysConfig configures the HashiCorp Vault key source.
type VaultKeysConfig struct {
	Address   string        `mapstructure:"address" validate:"omitempty,url"`
	Token     string        `mapstructure:"token"`
	MountPath string        `mapstructure:"mount_path"`
	SecretKey string        `mapstructure:"secret_key"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// SecurityConfig tunes the event recorder and revocation registry.
type SecurityConfig struct {
	RevocationRetention time.Duration `mapstructure:"revocation_retention"`
	EventRetention      time.Duration `mapstructure:"event_retention"`
	AuditRetention      time.Duration `mapstructure:"audit_retention"`
}

// MaintenanceConfig controls the background cleanup scheduler.
type MaintenanceConfig struct {
	Enabled            bool   `mapstructure:"enabled"`
	SessionSchedule    string `mapstructure:"session_schedule"`
	RevocationSchedule string `mapstructure:"revocation_schedule"`
	RetentionSchedule  string `mapstructure:"retention_schedule"`
}

// GeoIPConfig controls the optional geolocation resolver.
type GeoIPConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// LoadConfig initialises application configuration using Viper with sensible
// defaults, then validates it.
func LoadConfig(paths ...string) (*Config, error) {
	v := viper.NewWithOptions(viper.ExperimentalBindStruct())
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.AddConfigPath("./config")
	for _, path := range paths {
		v.AddConfigPath(path)
	}

	setDefaults(v)

	v.SetEnvPrefix("PASSQ")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var cfgErr viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgErr) {
			return nil, fmt.Errorf("config: read file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config, decodeHook()); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := pkgvalidator.Struct(&config); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.log_level", "info")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/passq.sqlite")

	v.SetDefault("auth.issuer", "passq-auth")
	v.SetDefault("auth.audience", "passq-api")
	v.SetDefault("auth.access_token_ttl", "15m")
	v.SetDefault("auth.refresh_token_ttl", "168h") // 7 days

	v.SetDefault("keys.provider", "static")
	v.SetDefault("keys.vault.mount_path", "secret")
	v.SetDefault("keys.vault.secret_key", "passq")
	v.SetDefault("keys.vault.timeout", "10s")

	v.SetDefault("security.revocation_retention", "720h") // 30 days
	v.SetDefault("security.event_retention", "4320h")     // 180 days
	v.SetDefault("security.audit_retention", "2160h")     // 90 days

	v.SetDefault("maintenance.enabled", true)
	v.SetDefault("maintenance.session_schedule", "@hourly")
	v.SetDefault("maintenance.revocation_schedule", "@daily")
	v.SetDefault("maintenance.retention_schedule", "@daily")

	v.SetDefault("geoip.enabled", false)
	v.SetDefault("geoip.timeout", "5s")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}
