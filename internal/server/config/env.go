package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/dmitrijs2005/tokenkeeper/internal/timex"
	"github.com/joho/godotenv"
)

// dotEnvFile is read from the working directory when present. Variables
// already set in the process environment win.
var dotEnvFile = ".env"

func loadDotEnv() error {
	if err := godotenv.Load(dotEnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("error loading %s: %w", dotEnvFile, err)
	}
	return nil
}

func parseEnv(config *Config) error {
	strs := []struct {
		name string
		dst  *string
	}{
		{"HTTP_ADDR", &config.HTTPAddr},
		{"GRPC_ADDR", &config.GRPCAddr},
		{"DATABASE_URL", &config.DatabaseDSN},
		{"JWT_SECRET", &config.SecretKey},
		{"JWT_EXPIRES_IN", &config.AccessTokenTTL},
		{"JWT_REFRESH_EXPIRES_IN", &config.RefreshTokenTTL},
		{"JWT_ISSUER", &config.Issuer},
		{"JWT_AUDIENCE", &config.Audience},
		{"TOKEN_STORE", &config.TokenStore},
		{"REDIS_ADDR", &config.RedisAddr},
		{"REDIS_PASSWORD", &config.RedisPassword},
		{"REDIS_PREFIX", &config.RedisPrefix},
		{"LOG_LEVEL", &config.LogLevel},
		{"PASSWORD_HASHER", &config.PasswordHasher},
	}
	for _, s := range strs {
		if v, ok := os.LookupEnv(s.name); ok {
			*s.dst = v
		}
	}

	durations := []struct {
		name string
		dst  *time.Duration
	}{
		{"JWT_CLOCK_TOLERANCE", &config.ClockTolerance},
		{"JWT_MAX_TOKEN_AGE", &config.MaxTokenAge},
		{"CLEANUP_INTERVAL", &config.CleanupInterval},
	}
	for _, d := range durations {
		if v, ok := os.LookupEnv(d.name); ok {
			parsed, err := timex.Parse(v)
			if err != nil {
				return fmt.Errorf("%s: %w", d.name, err)
			}
			*d.dst = parsed
		}
	}

	if v, ok := os.LookupEnv("REDIS_DB"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("REDIS_DB: %w", err)
		}
		config.RedisDB = n
	}
	if v, ok := os.LookupEnv("ALLOWED_ORIGINS"); ok {
		config.AllowedOrigins = splitList(v)
	}
	return nil
}
