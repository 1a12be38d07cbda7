package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/mentalspace/ehr/internal/config"
	"github.com/mentalspace/ehr/internal/platform/auth"
	"github.com/mentalspace/ehr/internal/platform/db"
	"github.com/mentalspace/ehr/internal/platform/jsonx"
	"github.com/mentalspace/ehr/internal/platform/middleware"
)

const (
	requestTimeout = 30 * time.Second
	shutdownGrace  = 10 * time.Second
)

func runServer() error {
	ctx := context.Background()
	cfg, logger, pool, err := bootstrap(ctx)
	if err != nil {
		logger.Fatal().Err(err).Msg("startup failed")
	}
	defer pool.Close()

	a, err := newApp(ctx, cfg, pool, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to wire services")
	}

	e := newEcho(cfg, logger, a.revocations)
	e.Use(db.TenantMiddleware(pool, cfg.DefaultTenant))
	e.Use(middleware.Audit(logger, middleware.NewPGAuditRecorder(pool)))

	apiV1 := e.Group("/api/v1")
	apiV1.Use(middleware.RateLimit(rateLimitConfig(cfg)))
	a.registerRoutes(apiV1)

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/health/db", db.HealthHandler(pool, a.checks...))

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("auth_mode", cfg.ResolvedAuthMode()).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := e.Shutdown(sctx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}

// newEcho builds the server with the request pipeline that runs ahead of
// tenant resolution: request ids, logging, deadlines, recovery, hardening,
// CORS and authentication.
func newEcho(cfg *config.Config, logger zerolog.Logger, revocations auth.RevocationStore) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = middleware.ErrorHandler(logger)
	e.JSONSerializer = jsonx.Serializer{}

	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	// Handlers run on the timeout goroutine, so recovery sits inside it.
	e.Use(middleware.RequestTimeout(requestTimeout, "/api/v1/ws"))
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.SecurityHeaders(cfg.IsProduction()))
	e.Use(middleware.BodyLimit("1M", "25M"))
	e.Use(middleware.Sanitize(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{
			echo.HeaderAuthorization, echo.HeaderContentType, echo.HeaderXRequestID,
			"X-Tenant-ID", "X-Callback-Token",
		},
	}))
	e.Use(auth.Skip(auth.AuthSkipper, authMiddleware(cfg, revocations)))
	return e
}

// authMiddleware picks the identity source for the resolved auth mode.
// Local mode only trusts tokens this service signed; external mode also
// accepts the identity provider's RS256 tokens.
func authMiddleware(cfg *config.Config, revocations auth.RevocationStore) echo.MiddlewareFunc {
	jwtCfg := auth.JWTConfig{SigningKey: []byte(cfg.AuthSigningKey), Revocations: revocations}
	switch cfg.ResolvedAuthMode() {
	case "development":
		var verify echo.MiddlewareFunc
		if cfg.AuthSigningKey != "" {
			verify = auth.JWTMiddleware(jwtCfg)
		}
		return auth.DevAuthMiddleware(cfg.DefaultTenant, verify)
	case "external":
		jwtCfg.Issuer = cfg.AuthIssuer
		jwtCfg.Audience = cfg.AuthAudience
		jwtCfg.JWKSURL = cfg.AuthJWKSURL
	}
	return auth.JWTMiddleware(jwtCfg)
}

func rateLimitConfig(cfg *config.Config) middleware.RateLimitConfig {
	rl := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rl.RequestsPerSecond <= 0 || rl.BurstSize <= 0 {
		return middleware.DefaultRateLimitConfig()
	}
	return rl
}
