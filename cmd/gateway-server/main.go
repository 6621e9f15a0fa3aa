// Package main is the entry point for the Alexander Gateway server.
// Alexander Gateway is a SigV4 re-signing reverse proxy for S3-compatible
// object stores.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/prn-tf/alexander-gateway/internal/auth"
	"github.com/prn-tf/alexander-gateway/internal/cache/memory"
	"github.com/prn-tf/alexander-gateway/internal/cache/redis"
	"github.com/prn-tf/alexander-gateway/internal/config"
	"github.com/prn-tf/alexander-gateway/internal/handler"
	"github.com/prn-tf/alexander-gateway/internal/lock"
	"github.com/prn-tf/alexander-gateway/internal/metrics"
	"github.com/prn-tf/alexander-gateway/internal/pkg/crypto"
	"github.com/prn-tf/alexander-gateway/internal/policy"
	"github.com/prn-tf/alexander-gateway/internal/proxy"
	"github.com/prn-tf/alexander-gateway/internal/repository"
	"github.com/prn-tf/alexander-gateway/internal/repository/store"
	"github.com/prn-tf/alexander-gateway/internal/service"
)

// Version information (set at build time)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// mappingReapInterval is how often expired temporary mappings are removed.
const mappingReapInterval = 10 * time.Minute

// reaperLockKey coordinates the reaper across gateway instances.
const reaperLockKey = "gateway:reaper"

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Logging)
	logger.Info().
		Str("version", Version).
		Str("build_time", BuildTime).
		Str("git_commit", GitCommit).
		Msg("starting alexander gateway")

	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("gateway exited with error")
	}
}

func run(cfg *config.Config, logger zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Upstream.Endpoint == "" {
		return errors.New("upstream.endpoint is required")
	}
	endpoint, err := cfg.Upstream.EndpointURL()
	if err != nil {
		return err
	}
	if cfg.Auth.EncryptionPassphrase == "" {
		return errors.New("auth.encryption_passphrase is required")
	}

	encryptor, err := crypto.NewEncryptorFromPassphrase(cfg.Auth.EncryptionPassphrase)
	if err != nil {
		return fmt.Errorf("initializing encryptor: %w", err)
	}

	// Credential store, optionally fronted by a cache.
	mappingRepo, dbHealth, err := store.Open(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	defer dbHealth.Close()

	var (
		cache  repository.Cache
		locker lock.Locker
	)
	if cfg.Redis.Enabled {
		redisCache, err := redis.NewCache(ctx, redis.Config{
			Addr:        cfg.Redis.Addr(),
			Password:    cfg.Redis.Password,
			DB:          cfg.Redis.DB,
			PoolSize:    cfg.Redis.PoolSize,
			DialTimeout: cfg.Redis.DialTimeout,
		}, logger)
		if err != nil {
			return fmt.Errorf("connecting to redis: %w", err)
		}
		cache = redisCache
		locker = lock.NewRedisLocker(redisCache.Client())
	} else {
		cache = memory.NewCache()
		locker = lock.NewMemoryLocker()
	}
	defer cache.Close()
	mappingRepo = repository.NewCachedMappingRepository(mappingRepo, cache, cfg.Redis.TTL, logger)

	credentialService := service.NewCredentialService(mappingRepo, encryptor, logger)
	stsService := service.NewSTSService(mappingRepo, encryptor, logger)

	pol := buildPolicy(cfg.Policy)
	registry := proxy.NewSessionRegistry(cfg.Server.LogBufferSize, logger)
	dispatcher := proxy.NewDispatcher(proxy.DispatcherConfig{
		MaxInFlight:           cfg.Upstream.MaxInFlight,
		RequestTimeout:        cfg.Upstream.RequestTimeout,
		ResponseHeaderTimeout: cfg.Upstream.ResponseHeaderTimeout,
	})
	defer dispatcher.CloseIdleConnections()

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}

	presigner := proxy.NewPresigner(pol, endpoint, cfg.Upstream.Region, cfg.Auth.PresignedURLExpiration, logger)
	pipeline := proxy.NewPipeline(proxy.Config{
		Endpoint:      endpoint,
		Region:        cfg.Upstream.Region,
		MaxBodySize:   cfg.Upstream.MaxBodySize,
		PresignExpiry: cfg.Auth.PresignedURLExpiration,
	}, pol, dispatcher, registry, presigner, m, logger)

	authCfg := auth.DefaultConfig()
	authCfg.MaxClockSkew = cfg.Auth.MaxClockSkew
	authMiddleware := auth.Middleware(credentialService, handler.ServiceRouting{}, authCfg, logger)

	router := handler.NewRouter(handler.RouterConfig{
		Proxy:          pipeline,
		STSHandler:     handler.NewSTSHandler(stsService, logger),
		LogsHandler:    handler.NewLogsHandler(registry, logger),
		AuthMiddleware: authMiddleware,
		Logger:         logger,
	})

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle(cfg.Metrics.Path, m.Handler())
		metricsServer = &http.Server{
			Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Metrics.Port),
			Handler: mux,
		}
		go func() {
			logger.Info().Str("addr", metricsServer.Addr).Msg("metrics server listening")
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Msg("metrics server failed")
			}
		}()
	}

	// Expired temporary mappings are reaped in the background. The lock
	// keeps multi-instance deployments from reaping concurrently.
	go reapExpiredMappings(ctx, credentialService, locker, logger)

	errCh := make(chan error, 1)
	go func() {
		logger.Info().
			Str("addr", server.Addr).
			Str("upstream", endpoint.String()).
			Msg("gateway listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("server shutdown incomplete")
	}
	if metricsServer != nil {
		metricsServer.Shutdown(shutdownCtx)
	}

	// In-flight sessions must drain before the process exits.
	if remaining := registry.Drain(time.Now().Add(cfg.Server.ShutdownTimeout)); remaining > 0 {
		return fmt.Errorf("%d sessions still open after shutdown grace period", remaining)
	}

	logger.Info().Msg("shutdown complete")
	return nil
}

// buildPolicy converts configured rules into the authorization policy.
func buildPolicy(cfg config.PolicyConfig) policy.Policy {
	if len(cfg.Rules) == 0 && cfg.DefaultAllow {
		return policy.AllowAll{}
	}

	rules := make([]policy.Rule, 0, len(cfg.Rules))
	for _, r := range cfg.Rules {
		effect := policy.Deny
		if strings.EqualFold(r.Effect, "allow") {
			effect = policy.Allow
		}
		rules = append(rules, policy.Rule{
			AccessKeys:    r.AccessKeys,
			Methods:       r.Methods,
			BucketPattern: r.BucketPattern,
			KeyPrefix:     r.KeyPrefix,
			Effect:        effect,
		})
	}
	return policy.NewRulePolicy(rules, cfg.DefaultAllow)
}

func reapExpiredMappings(ctx context.Context, svc *service.CredentialService, locker lock.Locker, logger zerolog.Logger) {
	ticker := time.NewTicker(mappingReapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			acquired, err := locker.Acquire(ctx, reaperLockKey, mappingReapInterval/2)
			if err != nil {
				logger.Warn().Err(err).Msg("failed to acquire reaper lock")
				continue
			}
			if !acquired {
				continue
			}
			if _, err := svc.DeleteExpiredMappings(ctx); err != nil {
				logger.Warn().Err(err).Msg("failed to reap expired mappings")
			}
			if err := locker.Release(ctx, reaperLockKey); err != nil {
				logger.Warn().Err(err).Msg("failed to release reaper lock")
			}
		}
	}
}

// newLogger configures the process logger from the logging settings.
func newLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.TimeFieldFormat = cfg.TimeFormat

	var logger zerolog.Logger
	if cfg.Format == "console" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	} else {
		logger = zerolog.New(os.Stderr)
	}
	return logger.Level(level).With().Timestamp().Logger()
}
