package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dmitrijs2005/tokenkeeper/internal/flagx"
	"github.com/dmitrijs2005/tokenkeeper/internal/timex"
	"gopkg.in/yaml.v3"
)

// FileConfig is the on-disk shape of the config file. Durations use
// timex.Duration so both "90s" and "7d" are accepted. Empty fields leave the
// current value alone.
type FileConfig struct {
	HTTPAddr        string         `json:"http_addr" yaml:"http_addr"`
	GRPCAddr        string         `json:"grpc_addr" yaml:"grpc_addr"`
	DatabaseDSN     string         `json:"database_dsn" yaml:"database_dsn"`
	SecretKey       string         `json:"secret_key" yaml:"secret_key"`
	AccessTokenTTL  string         `json:"access_token_ttl" yaml:"access_token_ttl"`
	RefreshTokenTTL string         `json:"refresh_token_ttl" yaml:"refresh_token_ttl"`
	Issuer          string         `json:"issuer" yaml:"issuer"`
	Audience        string         `json:"audience" yaml:"audience"`
	ClockTolerance  timex.Duration `json:"clock_tolerance" yaml:"clock_tolerance"`
	MaxTokenAge     timex.Duration `json:"max_token_age" yaml:"max_token_age"`
	CleanupInterval timex.Duration `json:"cleanup_interval" yaml:"cleanup_interval"`
	TokenStore      string         `json:"token_store" yaml:"token_store"`
	RedisAddr       string         `json:"redis_addr" yaml:"redis_addr"`
	RedisPassword   string         `json:"redis_password" yaml:"redis_password"`
	RedisDB         int            `json:"redis_db" yaml:"redis_db"`
	RedisPrefix     string         `json:"redis_prefix" yaml:"redis_prefix"`
	LogLevel        string         `json:"log_level" yaml:"log_level"`
	AllowedOrigins  []string       `json:"allowed_origins" yaml:"allowed_origins"`
	PasswordHasher  string         `json:"password_hasher" yaml:"password_hasher"`
}

// parseFile overlays the file named by -c/-config, if any. Files ending in
// .yaml or .yml are read as YAML, anything else as JSON.
func parseFile(config *Config) error {
	path := flagx.ConfigFileFlag()
	if path == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("error reading config file: %w", err)
	}

	c := &FileConfig{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, c)
	default:
		err = json.Unmarshal(data, c)
	}
	if err != nil {
		return fmt.Errorf("error parsing config file %s: %w", path, err)
	}

	c.apply(config)
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func (c *FileConfig) apply(config *Config) {
	setString(&config.HTTPAddr, c.HTTPAddr)
	setString(&config.GRPCAddr, c.GRPCAddr)
	setString(&config.DatabaseDSN, c.DatabaseDSN)
	setString(&config.SecretKey, c.SecretKey)
	setString(&config.AccessTokenTTL, c.AccessTokenTTL)
	setString(&config.RefreshTokenTTL, c.RefreshTokenTTL)
	setString(&config.Issuer, c.Issuer)
	setString(&config.Audience, c.Audience)
	setString(&config.TokenStore, c.TokenStore)
	setString(&config.RedisAddr, c.RedisAddr)
	setString(&config.RedisPassword, c.RedisPassword)
	setString(&config.RedisPrefix, c.RedisPrefix)
	setString(&config.LogLevel, c.LogLevel)
	setString(&config.PasswordHasher, c.PasswordHasher)

	if c.ClockTolerance.Duration != 0 {
		config.ClockTolerance = c.ClockTolerance.Duration
	}
	if c.MaxTokenAge.Duration != 0 {
		config.MaxTokenAge = c.MaxTokenAge.Duration
	}
	if c.CleanupInterval.Duration != 0 {
		config.CleanupInterval = c.CleanupInterval.Duration
	}
	if c.RedisDB != 0 {
		config.RedisDB = c.RedisDB
	}
	if len(c.AllowedOrigins) > 0 {
		config.AllowedOrigins = c.AllowedOrigins
	}
}
