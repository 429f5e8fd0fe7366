// Package main is the entry point for the API server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/commerce-sync/internal/backend"
	"github.com/capitalize-ai/commerce-sync/internal/backend/memory"
	"github.com/capitalize-ai/commerce-sync/internal/backend/postgres"
	"github.com/capitalize-ai/commerce-sync/internal/broker/natsbroker"
	"github.com/capitalize-ai/commerce-sync/internal/broker/redisbroker"
	"github.com/capitalize-ai/commerce-sync/internal/config"
	"github.com/capitalize-ai/commerce-sync/internal/handler"
	"github.com/capitalize-ai/commerce-sync/internal/realtime"
	"github.com/capitalize-ai/commerce-sync/internal/service"
	"github.com/capitalize-ai/commerce-sync/internal/session"
	"github.com/capitalize-ai/commerce-sync/pkg/logger"
	"github.com/capitalize-ai/commerce-sync/pkg/tracing"
)

// broker is a realtime transport shared by every API instance.
type broker interface {
	backend.Realtime
	backend.Publisher
	Ping(ctx context.Context) error
}

func main() {
	cfg := config.Load()

	log, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	if err := cfg.Validate(); err != nil {
		log.Fatal("invalid configuration", zap.Error(err))
	}

	log.Info("starting API server",
		zap.String("backend", cfg.BackendDriver),
		zap.String("broker", cfg.Broker),
	)

	ctx := context.Background()
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "commerce-sync", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(ctx, tp)
		}
	}

	var (
		bus    broker
		closer []func()
	)
	defer func() {
		for i := len(closer) - 1; i >= 0; i-- {
			closer[i]()
		}
	}()

	switch cfg.Broker {
	case config.BrokerNATS:
		nb, err := natsbroker.Connect(ctx, natsbroker.Config{
			URL:      cfg.NATSURL,
			CAFile:   cfg.NATSCAFile,
			CertFile: cfg.NATSCertFile,
			KeyFile:  cfg.NATSKeyFile,
			Token:    cfg.NATSToken,
			Stream:   cfg.NATSStream,
		}, log)
		if err != nil {
			log.Fatal("failed to connect to NATS", zap.Error(err))
		}
		closer = append(closer, nb.Close)
		bus = nb
	case config.BrokerRedis:
		rb, err := redisbroker.Connect(ctx, redisbroker.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}, log)
		if err != nil {
			log.Fatal("failed to connect to Redis", zap.Error(err))
		}
		closer = append(closer, func() { _ = rb.Close() })
		bus = rb
	}

	var (
		store backend.Store
		rt    backend.Realtime
	)
	switch cfg.BackendDriver {
	case config.DriverPostgres:
		opts := []postgres.Option{postgres.WithLogger(log)}
		if bus != nil {
			opts = append(opts, postgres.WithPublisher(bus))
		}
		pg, err := postgres.Connect(ctx, cfg.DatabaseURL, int32(cfg.DatabaseMaxConn), opts...)
		if err != nil {
			log.Fatal("failed to connect to database", zap.Error(err))
		}
		closer = append(closer, pg.Close)
		if cfg.AutoMigrate {
			if err := pg.Migrate(ctx); err != nil {
				log.Fatal("failed to migrate database", zap.Error(err))
			}
		}
		store = pg
		if bus != nil {
			rt = bus
		} else {
			log.Warn("no realtime broker configured, live streams are disabled")
		}
	default:
		opts := []memory.Option{memory.WithLogger(log)}
		if bus != nil {
			opts = append(opts, memory.WithPublisher(bus))
		}
		mem := memory.New(opts...)
		store, rt = mem, mem
		if bus != nil {
			rt = bus
		}
	}

	sessions := session.ContextProvider{}
	verifierOpts := []session.VerifierOption{session.WithLeeway(30 * time.Second)}
	if cfg.JWTIssuer != "" {
		verifierOpts = append(verifierOpts, session.WithIssuer(cfg.JWTIssuer))
	}
	if cfg.JWTAudience != "" {
		verifierOpts = append(verifierOpts, session.WithAudience(cfg.JWTAudience))
	}

	var subscriptions *realtime.Manager
	if rt != nil {
		subscriptions = realtime.NewManager(rt, log)
	}

	checks := map[string]handler.Pinger{"backend": store}
	if bus != nil {
		checks["broker"] = bus
	}

	router := handler.NewRouter(handler.Deps{
		Messaging:         service.NewMessagingService(store, sessions, log),
		Favorites:         service.NewFavoritesService(store, sessions, log),
		Collaboration:     service.NewCollaborationService(store, sessions, log),
		Realtime:          subscriptions,
		Verifier:          session.NewTokenVerifier(cfg.JWTSecret, verifierOpts...),
		Health:            handler.NewHealthHandler(checks),
		RateLimitRequests: cfg.RateLimitRequests,
		RateLimitWindow:   cfg.RateLimitWindow,
		AllowedOrigins:    cfg.AllowedOrigins,
		StreamHeartbeat:   cfg.StreamHeartbeat,
		Logger:            log,
	})

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server stopped")
}

func newLogger(cfg *config.Config) (*logger.Logger, error) {
	if cfg.Env == "development" {
		return logger.NewDevelopment()
	}
	return logger.New(cfg.LogLevel)
}
