package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/parley/chat-app/internal/auth"
	"github.com/parley/chat-app/internal/chat"
	"github.com/parley/chat-app/internal/config"
	"github.com/parley/chat-app/internal/gateway"
	"github.com/parley/chat-app/internal/httpapi"
	"github.com/parley/chat-app/internal/logging"
	"github.com/parley/chat-app/internal/messaging"
	"github.com/parley/chat-app/internal/metrics"
	"github.com/parley/chat-app/internal/ratelimit"
	"github.com/parley/chat-app/internal/session"
	"github.com/parley/chat-app/internal/storage/memory"
	"github.com/parley/chat-app/internal/storage/postgres"
	"github.com/parley/chat-app/internal/ws"
)

// store is what both storage backends provide.
type store interface {
	chat.Store
	chat.UserStore
}

func main() {
	configPath := flag.String("config", "", "Path to YAML/JSON/TOML config file (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
	_ = logger.Sync()
}

func run(cfg config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	limiter, closeLimiter, err := openLimiter(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeLimiter()

	tokens := auth.NewTokenService([]byte(cfg.JWTSecret), cfg.TokenTTL)
	accounts := auth.NewService(st, tokens)

	sessions := session.NewRegistry()
	rooms := session.NewRooms()

	lifecycle := gateway.NewLifecycle(tokens, st, sessions, rooms, limiter, log)
	dispatcher := ws.NewMessageDispatcher(log)
	server := ws.NewServer(cfg.Server(), log, lifecycle, dispatcher.Dispatch)

	local := gateway.NewLocalBroadcaster(rooms, server, log)
	var broadcaster gateway.Broadcaster = local
	if cfg.NATSURL != "" {
		natsCfg := messaging.DefaultNATSConfig()
		natsCfg.URL = cfg.NATSURL
		natsCfg.Name = cfg.ServerName
		nc, err := messaging.NewNATSClient(natsCfg, log)
		if err != nil {
			return fmt.Errorf("connect nats: %w", err)
		}
		defer nc.Close()

		origin := cfg.ServerName + "-" + uuid.NewString()[:8]
		bus := gateway.NewBusBroadcaster(nc, local, origin, log)
		if err := bus.Start(); err != nil {
			return fmt.Errorf("subscribe room events: %w", err)
		}
		broadcaster = bus
	}

	messages := gateway.NewMessageRouter(st, sessions, server, cfg.StoreTimeout, log)
	interactions := gateway.NewInteractionRouter(st, st, broadcaster, cfg.StoreTimeout, log)
	gateway.NewHandlers(messages, interactions, rooms, limiter, cfg.StoreTimeout, log).Register(dispatcher)

	server.Handle("/metrics", metrics.Handler())
	server.Handle("/", httpapi.NewServer(accounts, st, messages, interactions, cfg.StoreTimeout, log))

	log.Info("parley gateway starting",
		zap.String("listen_addr", cfg.ListenAddr),
		zap.String("server_name", cfg.ServerName),
		zap.Bool("postgres", cfg.DatabaseURL != ""),
		zap.Bool("redis", cfg.RedisAddr != ""),
		zap.Bool("nats", cfg.NATSURL != ""))

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutdown signal received", zap.Duration("grace_period", cfg.ShutdownGracePeriod))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func openStore(ctx context.Context, cfg config.Config, log *zap.Logger) (store, func(), error) {
	if cfg.DatabaseURL == "" {
		log.Warn("database_url not set, using the in-memory store")
		return memory.New(), func() {}, nil
	}

	if err := postgres.Migrate(cfg.DatabaseURL); err != nil {
		return nil, nil, fmt.Errorf("migrate: %w", err)
	}

	openCtx, cancel := context.WithTimeout(ctx, cfg.StoreTimeout)
	defer cancel()
	db, err := postgres.Open(openCtx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	return postgres.NewStore(db), func() {
		if err := db.Close(); err != nil {
			log.Warn("close database", zap.Error(err))
		}
	}, nil
}

func openLimiter(ctx context.Context, cfg config.Config, log *zap.Logger) (gateway.Limiter, func(), error) {
	if cfg.RedisAddr == "" {
		log.Info("redis_addr not set, rate limits are per process")
		return ratelimit.NewLocalLimiter(), func() {}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		DialTimeout:  cfg.StoreTimeout,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	})
	pingCtx, cancel := context.WithTimeout(ctx, cfg.StoreTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("connect redis %s: %w", cfg.RedisAddr, err)
	}

	limiter := ratelimit.NewLimiter(client, log)
	return limiter, func() {
		if err := limiter.Close(); err != nil {
			log.Warn("close redis", zap.Error(err))
		}
	}, nil
}
