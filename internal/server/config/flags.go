package config

import (
	"flag"
	"os"
	"strings"

	"github.com/dmitrijs2005/tokenkeeper/internal/flagx"
)

var knownFlags = []string{"-a", "-g", "-d", "-s", "-t", "-r", "-store", "-l", "-hasher", "-origins"}

// parseFlags populates selected server Config fields from command-line flags.
//
// Supported flags:
//
//	-a string        HTTP bind address (e.g., ":3000")
//	-g string        gRPC bind address (e.g., ":50051")
//	-d string        PostgreSQL DSN
//	-s string        JWT HMAC secret key
//	-t string        access token lifetime ("15m")
//	-r string        refresh token lifetime ("7d")
//	-store string    refresh token store: postgres or redis
//	-l string        log level
//	-hasher string   password hasher: bcrypt or argon2id
//	-origins string  comma separated CORS origins
//
// os.Args is first filtered with flagx.FilterArgs so flags meant for other
// components do not break parsing.
func parseFlags(config *Config) error {
	args := flagx.FilterArgs(os.Args[1:], knownFlags)

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.HTTPAddr, "a", config.HTTPAddr, "HTTP address and port")
	fs.StringVar(&config.GRPCAddr, "g", config.GRPCAddr, "gRPC address and port")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.SecretKey, "s", config.SecretKey, "JWT secret key")
	fs.StringVar(&config.AccessTokenTTL, "t", config.AccessTokenTTL, "access token lifetime")
	fs.StringVar(&config.RefreshTokenTTL, "r", config.RefreshTokenTTL, "refresh token lifetime")
	fs.StringVar(&config.TokenStore, "store", config.TokenStore, "refresh token store (postgres|redis)")
	fs.StringVar(&config.LogLevel, "l", config.LogLevel, "log level")
	fs.StringVar(&config.PasswordHasher, "hasher", config.PasswordHasher, "password hasher (bcrypt|argon2id)")
	origins := fs.String("origins", strings.Join(config.AllowedOrigins, ","), "comma separated CORS origins")

	if err := fs.Parse(args); err != nil {
		return err
	}

	config.AllowedOrigins = splitList(*origins)
	return nil
}
