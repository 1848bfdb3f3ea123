package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/gregtusar/signalbridge/api"
	"github.com/gregtusar/signalbridge/internal/config"
	"github.com/gregtusar/signalbridge/pkg/coinbase"
	"github.com/gregtusar/signalbridge/pkg/models"
	"github.com/gregtusar/signalbridge/pkg/trader"
)

var (
	cfgFile string
	logger  *logrus.Logger
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "signalbridge",
		Short: "Webhook-to-exchange order bridge",
		Long:  `Receives trading-signal webhooks (TradingView alerts) and converts them into market orders on the Coinbase Advanced Trade API`,
		Run:   runServer,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func runServer(cmd *cobra.Command, args []string) {
	logger = logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	// Flat credential env vars may live in a local .env during development.
	_ = godotenv.Load()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}
	if err := cfg.Validate(); err != nil {
		logger.WithError(err).Fatal("Invalid configuration, refusing to start")
	}

	level, err := logrus.ParseLevel(cfg.Logging.Level)
	if err != nil {
		logger.WithError(err).Error("Invalid log level, using INFO")
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	auth, err := buildAuthenticator(cfg)
	if err != nil {
		logger.WithError(err).Fatal("Failed to build exchange credentials")
	}

	client := coinbase.NewAdvancedTradeClient(auth, cfg.Coinbase.BaseURL, logger)
	resolver := trader.NewPositionResolver(client, logger)
	executor := trader.NewOrderExecutor(client, resolver, logger)

	defaultPair, err := models.ParsePair(cfg.Trading.DefaultProductID)
	if err != nil {
		logger.WithError(err).Fatal("Invalid default product id")
	}
	normalizer := trader.NewSignalNormalizer(defaultPair, decimal.NewFromFloat(cfg.Trading.DefaultQuoteSize))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Coinbase.WebSocket.Enabled {
		if tokens, ok := auth.(coinbase.TokenProvider); ok {
			watcher := coinbase.NewUserEventWatcher(
				cfg.Coinbase.WebSocket.URL,
				tokens,
				time.Duration(cfg.Coinbase.WebSocket.ReconnectDelay)*time.Second,
				cfg.Coinbase.WebSocket.MaxReconnects,
				logger,
			)
			go watcher.Run(ctx)
		} else {
			logger.Warn("User event feed requires jwt auth, skipping")
		}
	}

	server := api.NewServer(normalizer, executor, cfg.Server.RateLimitRPS, logger, fmt.Sprintf("%d", cfg.Server.Port))
	go func() {
		if err := server.Start(); err != nil {
			logger.WithError(err).Fatal("Failed to start webhook server")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("signalbridge is running. Press Ctrl+C to stop.")

	<-sigChan
	logger.Info("Received shutdown signal")

	cancel()
	logger.Info("signalbridge stopped")
}

func buildAuthenticator(cfg *config.Config) (coinbase.Authenticator, error) {
	switch coinbase.AuthType(cfg.Coinbase.AuthType) {
	case coinbase.AuthTypeJWT:
		return coinbase.NewJWTAuthenticator(cfg.Coinbase.APIKeyName, cfg.Coinbase.PrivateKeyPEM)
	default:
		return coinbase.NewHMACAuthenticator(cfg.Coinbase.APIKey, cfg.Coinbase.APISecret, cfg.Coinbase.Passphrase)
	}
}
