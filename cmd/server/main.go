package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vedran77/chatspace/internal/config"
	"github.com/vedran77/chatspace/internal/database"
	"github.com/vedran77/chatspace/internal/domain"
	"github.com/vedran77/chatspace/internal/identity"
	"github.com/vedran77/chatspace/internal/logging"
	"github.com/vedran77/chatspace/internal/repository"
	"github.com/vedran77/chatspace/internal/repository/memory"
	postgresrepo "github.com/vedran77/chatspace/internal/repository/postgres"
	"github.com/vedran77/chatspace/internal/repository/redisfeed"
	"github.com/vedran77/chatspace/internal/service"
	"github.com/vedran77/chatspace/internal/transport/http/handlers"
	"github.com/vedran77/chatspace/internal/transport/http/middleware"
	"github.com/vedran77/chatspace/internal/transport/ws"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "", "path to a YAML or TOML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error(ctx, "server stopped", "error", err)
		os.Exit(1)
	}
}

// store is the persistence the gateway runs on.
type store struct {
	users    repository.UserRepository
	messages repository.MessageRepository
	feed     repository.ChangeFeed
	// notifier is set when inserts have to be published explicitly.
	notifier service.Notifier
	close    func()
}

func openStore(ctx context.Context, cfg *config.Config, logger logging.Logger) (*store, error) {
	if cfg.StoreDriver == config.StoreMemory {
		logger.Warn(ctx, "using in-memory store, data is lost on restart")
		mem := memory.NewStore()
		return &store{users: mem.Users(), messages: mem.Messages(), feed: mem.Feed(), close: func() {}}, nil
	}

	pool, err := database.Connect(ctx, cfg.DatabaseDSN())
	if err != nil {
		return nil, err
	}
	logger.Info(ctx, "connected to database")

	if err := database.Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	st := &store{
		users:    postgresrepo.NewUserRepo(pool),
		messages: postgresrepo.NewMessageRepo(pool),
		close:    pool.Close,
	}

	switch cfg.FeedDriver {
	case config.FeedRedis:
		client, err := redisfeed.NewClient(cfg.RedisURL)
		if err != nil {
			pool.Close()
			return nil, err
		}
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			pool.Close()
			return nil, fmt.Errorf("unable to ping redis: %w", err)
		}
		st.feed = redisfeed.NewFeed(client)
		st.notifier = redisfeed.NewPublisher(client, logger)
		st.close = func() {
			client.Close()
			pool.Close()
		}
	default:
		st.feed = postgresrepo.NewListenFeed(pool)
	}
	return st, nil
}

func run(ctx context.Context, cfg *config.Config, logger logging.Logger) error {
	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.close()

	verifier, err := identity.NewVerifier(identity.VerifierConfig{
		Secret:   cfg.IDTokenSecret,
		JWKSURL:  cfg.IDTokenJWKSURL,
		Issuer:   cfg.IDTokenIssuer,
		Audience: cfg.IDTokenAudience,
	})
	if err != nil {
		return err
	}

	// Services
	authService := service.NewAuthService(verifier, st.users, cfg.JWTSecret, cfg.AccessTokenTTL)
	userService := service.NewUserService(st.users)
	messageService := service.NewMessageService(st.messages)
	messageService.SetLogger(logger)
	if st.notifier != nil {
		messageService.SetNotifier(st.notifier)
	}

	// Real-time
	hub := ws.NewHub(logger, domain.TableMessages)
	relay := ws.NewRelay(hub, st.feed, logger)

	router := &handlers.Router{
		Auth:        handlers.NewAuthHandler(authService, logger),
		Users:       handlers.NewUserHandler(userService, logger),
		Messages:    handlers.NewMessageHandler(messageService, logger),
		JWTSecret:   cfg.JWTSecret,
		SendLimiter: middleware.NewRateLimiter(cfg.SendRate, cfg.SendBurst),
		WS:          ws.ServeWS(hub, cfg.JWTSecret, logger),
		Logger:      logger,
	}

	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		return relay.Run(gctx, domain.TableMessages)
	})
	g.Go(func() error {
		logger.Info(gctx, "server listening", "addr", srv.Addr, "store", cfg.StoreDriver, "feed", cfg.FeedDriver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		logger.Info(shutdownCtx, "shutting down")
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
