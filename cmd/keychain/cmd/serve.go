package cmd

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/layer-3/keychain/adapters/account"
	"github.com/layer-3/keychain/adapters/broadcast"
	"github.com/layer-3/keychain/adapters/callback"
	"github.com/layer-3/keychain/adapters/events"
	"github.com/layer-3/keychain/adapters/store"
	"github.com/layer-3/keychain/adapters/tokenizer"
	"github.com/layer-3/keychain/internal/config"
	"github.com/layer-3/keychain/ports"
	"github.com/layer-3/keychain/service"
	khttp "github.com/layer-3/keychain/transport/http"
	"github.com/layer-3/keychain/transport/rpc"
)

var listenAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the keychain HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if listenAddr != "" {
			cfg.Listen = listenAddr
		}
		return serve(cmd.Context(), cfg)
	},
}

func init() {
	serveCmd.Flags().StringVar(&listenAddr, "listen", "", "listen address, overrides the config")
	rootCmd.AddCommand(serveCmd)
}

func serve(ctx context.Context, cfg config.Config) error {
	if ctx == nil {
		ctx = context.Background()
	}
	logger := cfg.Logger(os.Stderr)
	gin.SetMode(gin.ReleaseMode)

	var redisClient *redis.Client
	if cfg.Store == config.StoreRedis || cfg.Broker == config.BrokerRedis {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("failed to parse Redis URL: %w", err)
		}
		redisClient = redis.NewClient(opts)
		defer redisClient.Close()
	}

	kv, closeStore, err := openStore(cfg, redisClient)
	if err != nil {
		return err
	}
	defer closeStore()

	publisher, subscriber, err := openBroker(cfg, redisClient)
	if err != nil {
		return err
	}
	defer publisher.Close()
	defer subscriber.Close()

	signKey, err := loadSigningKey(cfg.SigningKeyFile, logger)
	if err != nil {
		return err
	}
	tk := tokenizer.NewJWTTokenizer(signKey)
	if cfg.SigningKeyFile == "" {
		// Nobody else holds the generated key, so hand out a surface token.
		token, err := tk.SurfaceToken(defaultSurface, surfaceTokenTTL)
		if err != nil {
			return err
		}
		logger.Warn().Str("surface_token", token).Dur("ttl", surfaceTokenTTL).Msg("issued ephemeral approval surface token")
	}

	acct, err := account.Dial(ctx, cfg.AccountURL)
	if err != nil {
		return fmt.Errorf("failed to dial account at %s: %w", cfg.AccountURL, err)
	}
	defer acct.Close()

	eventPub := events.NewWatermillPublisher(publisher)
	keychain := service.NewKeychain(service.Dependencies{
		Store:       kv,
		Account:     acct,
		Surface:     eventPub,
		Hooks:       eventPub,
		Broadcaster: broadcast.New(publisher, subscriber, logger),
		Tokenizer:   tk,
		Events:      eventPub,
		Headless:    acct,
	}, cfg.Keychain(), logger)

	storage := service.NewStorage(kv)
	notifier := callback.NewHTTPNotifier(&http.Client{Timeout: cfg.CallbackTimeout})
	handlers := khttp.NewHandlers(
		keychain,
		rpc.NewDispatcher(keychain, acct, acct, logger),
		service.NewRedirectService(storage, cfg.RedirectParam, logger),
		service.NewRegistrationService(storage, notifier, cfg.RedirectParam, logger),
		logger,
	)

	server := &http.Server{
		Addr:              cfg.Listen,
		Handler:           khttp.SetupRouter(handlers, tk, logger),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	done := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			done <- fmt.Errorf("server failed: %w", err)
			return
		}
		done <- nil
	}()
	logger.Info().Str("listen", cfg.Listen).Str("store", cfg.Store).Str("broker", cfg.Broker).Str("approval_mode", cfg.ApprovalMode).Msg("keychain started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown failed: %w", err)
		}
		return <-done
	case err := <-done:
		return err
	}
}

func openStore(cfg config.Config, client *redis.Client) (ports.Store, func(), error) {
	switch cfg.Store {
	case config.StoreRedis:
		return store.NewRedisStore(client), func() {}, nil
	case config.StoreBolt:
		s, err := store.OpenBoltStore(cfg.StorePath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open bolt store: %w", err)
		}
		return s, func() { _ = s.Close() }, nil
	default:
		return store.NewMemoryStore(), func() {}, nil
	}
}

func openBroker(cfg config.Config, client *redis.Client) (message.Publisher, message.Subscriber, error) {
	wmLogger := watermill.NewStdLogger(false, false)

	if cfg.Broker != config.BrokerRedis {
		pubSub := gochannel.NewGoChannel(gochannel.Config{}, wmLogger)
		return pubSub, pubSub, nil
	}

	publisher, err := redisstream.NewPublisher(redisstream.PublisherConfig{Client: client}, wmLogger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create Redis publisher: %w", err)
	}
	// No consumer group: every instance sees every signal.
	subscriber, err := redisstream.NewSubscriber(redisstream.SubscriberConfig{Client: client}, wmLogger)
	if err != nil {
		_ = publisher.Close()
		return nil, nil, fmt.Errorf("failed to create Redis subscriber: %w", err)
	}
	return publisher, subscriber, nil
}

func loadSigningKey(path string, logger zerolog.Logger) (*ecdsa.PrivateKey, error) {
	if path == "" {
		logger.Warn().Msg("no signing key configured, approval records will not survive a restart")
		return ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read signing key: %w", err)
	}
	return parseSigningKey(data)
}

func parseSigningKey(data []byte) (*ecdsa.PrivateKey, error) {
	key, err := jwt.ParseECPrivateKeyFromPEM(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse signing key: %w", err)
	}
	return key, nil
}
