package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vedran77/chatspace/internal/chatsync"
	"github.com/vedran77/chatspace/internal/cli"
	"github.com/vedran77/chatspace/internal/config"
	"github.com/vedran77/chatspace/internal/logging"
	"github.com/vedran77/chatspace/internal/remote"
	"github.com/vedran77/chatspace/internal/session"
	"github.com/vedran77/chatspace/internal/view"
)

const (
	reconnectBase     = 500 * time.Millisecond
	reconnectMax      = 30 * time.Second
	reconnectAttempts = 10
)

func main() {
	configPath := flag.String("config", "", "path to a YAML or TOML config file")
	token := flag.String("token", os.Getenv("CHATSPACE_ID_TOKEN"), "ID token to log in with")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Logs go to stderr so they don't interleave with the conversation.
	logger := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, *token); err != nil {
		logger.Error(ctx, "client stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger logging.Logger, token string) error {
	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	client, err := remote.NewClient(cfg.GatewayURL, remote.WithLogger(logger))
	if err != nil {
		return err
	}

	opts := []chatsync.Option{
		chatsync.WithHistoryLimit(cfg.HistoryLimit),
		chatsync.WithLogger(logger),
	}
	if cfg.Reconnect {
		opts = append(opts, chatsync.WithReconnect(reconnectBase, reconnectMax, reconnectAttempts))
	}
	engine := chatsync.New(client.Messages(), client.Feed(), opts...)

	term := cli.NewTerminal(view.Projector{Location: loc, Layout: cfg.DateLayout}, os.Stdout, logger)
	ctrl := session.NewController(remote.NewAuthProvider(client), client.Users(), engine,
		session.WithLogger(logger),
		session.WithObserver(term),
	)
	term.Attach(ctrl)
	defer ctrl.Logout(context.Background())

	if token != "" {
		if err := term.Login(ctx, token); err != nil {
			return fmt.Errorf("login: %w", err)
		}
	} else {
		fmt.Println("use /login <id token> to start, /help for commands")
	}

	input := make(chan error, 1)
	go func() {
		// Stdin reads can't be interrupted; this goroutine is abandoned on
		// a signal.
		input <- term.Run(ctx, os.Stdin)
	}()

	select {
	case err := <-input:
		return err
	case <-ctx.Done():
		return nil
	}
}
