// Package server wires configuration, storage, token services and the HTTP
// and gRPC transports into a runnable application.
package server

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/dmitrijs2005/tokenkeeper/internal/cryptox"
	"github.com/dmitrijs2005/tokenkeeper/internal/logging"
	"github.com/dmitrijs2005/tokenkeeper/internal/server/auth"
	"github.com/dmitrijs2005/tokenkeeper/internal/server/cleanup"
	"github.com/dmitrijs2005/tokenkeeper/internal/server/config"
	"github.com/dmitrijs2005/tokenkeeper/internal/server/metrics"
	"github.com/dmitrijs2005/tokenkeeper/internal/server/rest"
	"github.com/dmitrijs2005/tokenkeeper/internal/server/services"
	"github.com/gin-gonic/gin"

	gs "github.com/dmitrijs2005/tokenkeeper/internal/server/grpc"
)

type App struct {
	config    *config.Config
	logger    logging.Logger
	storage   *Storage
	metrics   *metrics.Metrics
	guard     *auth.Guard
	tokens    *services.TokenService
	auth      *services.AuthService
	scheduler *cleanup.Scheduler
}

// NewLogger builds the JSON logger the server and tokenctl write to stdout.
func NewLogger(cfg *config.Config) (logging.Logger, error) {
	return logging.NewJSONLogger(os.Stdout, cfg.LogLevel)
}

// NewCodec builds the token codec from the signing settings in cfg.
func NewCodec(cfg *config.Config) (*auth.Codec, error) {
	return auth.NewCodec(auth.CodecConfig{
		Secret:   []byte(cfg.SecretKey),
		Issuer:   cfg.Issuer,
		Audience: cfg.Audience,
	})
}

// NewTokenService builds a TokenService over st with the lifetimes in cfg.
func NewTokenService(cfg *config.Config, st *Storage, codec *auth.Codec, log logging.Logger, m *metrics.Metrics) *services.TokenService {
	settings := services.TokenSettings{AccessTTL: cfg.AccessTokenTTL, RefreshTTL: cfg.RefreshTokenTTL}
	return services.NewTokenService(st.DB, st.Repos, codec, settings, log, services.WithMetrics(m))
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	logger, err := NewLogger(c)
	if err != nil {
		return nil, err
	}
	for _, w := range c.Warnings() {
		logger.Warn(ctx, w)
	}

	st, err := OpenStorage(ctx, c, logger)
	if err != nil {
		return nil, err
	}

	m := metrics.New()

	codec, err := NewCodec(c)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	ts := NewTokenService(c, st, codec, logger, m)

	hasher, err := cryptox.NewHasher(c.PasswordHasher)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	as, err := services.NewAuthService(st.DB, st.Repos, ts, hasher, logger)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("auth service init error: %w", err)
	}

	return &App{
		config:    c,
		logger:    logger,
		storage:   st,
		metrics:   m,
		guard:     auth.NewGuard(codec, auth.GuardConfig{ClockTolerance: c.ClockTolerance, MaxTokenAge: c.MaxTokenAge}),
		tokens:    ts,
		auth:      as,
		scheduler: cleanup.New(ts, c.CleanupInterval, logger, cleanup.WithRunOnStart()),
	}, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startHTTPServer(ctx context.Context, cancelFunc context.CancelFunc) {
	gin.SetMode(gin.ReleaseMode)
	h := rest.NewHandler(app.auth, app.tokens, app.logger)
	router := rest.NewRouter(h, app.guard, app.metrics, app.logger, rest.RouterConfig{AllowedOrigins: app.config.AllowedOrigins})

	if err := rest.NewHTTPServer(app.config.HTTPAddr, router, app.logger).Run(ctx); err != nil {
		app.logger.Error(ctx, "HTTP server failed", "error", err)
		cancelFunc()
	}
}

func (app *App) startGRPCServer(ctx context.Context, cancelFunc context.CancelFunc) {
	s := gs.NewGRPCServer(app.config.GRPCAddr, app.logger, app.tokens, app.guard, app.metrics)

	if err := s.Run(ctx); err != nil {
		app.logger.Error(ctx, "gRPC server failed", "error", err)
		cancelFunc()
	}
}

// Run serves until ctx is cancelled, a signal arrives or a server fails,
// then stops the scheduler and closes storage.
func (app *App) Run(ctx context.Context) {

	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(3)
	go func() {
		defer wg.Done()
		app.startHTTPServer(ctx, cancelFunc)
	}()
	go func() {
		defer wg.Done()
		app.startGRPCServer(ctx, cancelFunc)
	}()
	go func() {
		defer wg.Done()
		app.scheduler.Run(ctx)
	}()

	<-ctx.Done()
	app.scheduler.Stop()
	wg.Wait()

	if err := app.storage.Close(); err != nil {
		app.logger.Error(context.Background(), "error closing storage", "error", err)
	}
	app.logger.Info(context.Background(), "App stopped")
}
