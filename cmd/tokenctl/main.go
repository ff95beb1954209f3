// Command tokenctl runs maintenance tasks against the configured refresh
// token store.
//
//	tokenctl purge
//	tokenctl revoke-user -user <id>
//	tokenctl gen-secret [-bytes 32]
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dmitrijs2005/tokenkeeper/internal/server"
	"github.com/dmitrijs2005/tokenkeeper/internal/server/config"
	"github.com/dmitrijs2005/tokenkeeper/internal/server/metrics"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, openAdmin); err != nil {
		fmt.Fprintln(os.Stderr, "tokenctl:", err)
		stop()
		os.Exit(1)
	}
}

// openAdmin connects to the configured storage and returns the token service
// with a function that releases it.
func openAdmin(ctx context.Context) (tokenAdmin, func(), error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	log, err := server.NewLogger(cfg)
	if err != nil {
		return nil, nil, err
	}

	st, err := server.OpenStorage(ctx, cfg, log)
	if err != nil {
		return nil, nil, err
	}
	codec, err := server.NewCodec(cfg)
	if err != nil {
		_ = st.Close()
		return nil, nil, err
	}

	ts := server.NewTokenService(cfg, st, codec, log, metrics.New())
	return ts, func() { _ = st.Close() }, nil
}
