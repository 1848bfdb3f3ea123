package config

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/gregtusar/signalbridge/pkg/models"
	"github.com/gregtusar/signalbridge/pkg/secrets"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Coinbase CoinbaseConfig `mapstructure:"coinbase"`
	Trading  TradingConfig  `mapstructure:"trading"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	GCP      GCPConfig      `mapstructure:"gcp"`
}

type ServerConfig struct {
	Port         int     `mapstructure:"port"`
	RateLimitRPS float64 `mapstructure:"rate_limit_rps"`
}

type CoinbaseConfig struct {
	BaseURL string `mapstructure:"base_url"`

	// AuthType selects the credential strategy once at startup:
	// "hmac" (api_key + base64 api_secret) or "jwt" (api_key_name +
	// EC private_key_pem).
	AuthType string `mapstructure:"auth_type"`

	APIKey     string `mapstructure:"api_key"`
	APISecret  string `mapstructure:"api_secret"`
	Passphrase string `mapstructure:"passphrase"`

	APIKeyName    string `mapstructure:"api_key_name"`
	PrivateKeyPEM string `mapstructure:"private_key_pem"`

	WebSocket WebSocketConfig `mapstructure:"websocket"`
}

type WebSocketConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	URL            string `mapstructure:"url"`
	ReconnectDelay int    `mapstructure:"reconnect_delay"`
	MaxReconnects  int    `mapstructure:"max_reconnects"`
}

type TradingConfig struct {
	DefaultProductID string  `mapstructure:"default_product_id"`
	DefaultQuoteSize float64 `mapstructure:"default_quote_size"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

type GCPConfig struct {
	ProjectID       string              `mapstructure:"project_id"`
	UseSecrets      bool                `mapstructure:"use_secrets"`
	CredentialsFile string              `mapstructure:"credentials_file"`
	SecretNames     secrets.SecretNames `mapstructure:"secret_names"`
}

func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/signalbridge")
	}

	v.SetEnvPrefix("SIGNALBRIDGE")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; use defaults and environment
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	overrideFromEnv(&config)

	if config.GCP.UseSecrets && config.GCP.ProjectID != "" {
		ctx := context.Background()
		logger := logrus.New()
		if err := loadSecretsFromGCP(ctx, &config, logger); err != nil {
			return nil, fmt.Errorf("error loading secrets from GCP: %w", err)
		}
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	// Server defaults. Port 10000 matches what most PaaS deployments of
	// this bot have historically exposed.
	v.SetDefault("server.port", 10000)
	v.SetDefault("server.rate_limit_rps", 5.0)

	// Coinbase defaults
	v.SetDefault("coinbase.base_url", "https://api.coinbase.com")
	v.SetDefault("coinbase.auth_type", "hmac")
	v.SetDefault("coinbase.websocket.enabled", false)
	v.SetDefault("coinbase.websocket.url", "wss://advanced-trade-ws.coinbase.com")
	v.SetDefault("coinbase.websocket.reconnect_delay", 5)
	v.SetDefault("coinbase.websocket.max_reconnects", 10)

	// Trading defaults
	v.SetDefault("trading.default_product_id", "BTC-USD")
	v.SetDefault("trading.default_quote_size", 1000.0)

	// Logging defaults
	v.SetDefault("logging.level", "info")

	// GCP defaults
	v.SetDefault("gcp.use_secrets", false)
	v.SetDefault("gcp.project_id", "")
	v.SetDefault("gcp.credentials_file", "")

	secretNames := secrets.DefaultSecretNames()
	v.SetDefault("gcp.secret_names.api_key", secretNames.APIKey)
	v.SetDefault("gcp.secret_names.api_secret", secretNames.APISecret)
	v.SetDefault("gcp.secret_names.passphrase", secretNames.Passphrase)
	v.SetDefault("gcp.secret_names.api_key_name", secretNames.APIKeyName)
	v.SetDefault("gcp.secret_names.private_key", secretNames.PrivateKey)
}

// overrideFromEnv honors the flat variable names the original deployment
// used (CB_* credentials, TRADE_SIZE, PORT) on top of viper's prefixed
// lookup.
func overrideFromEnv(config *Config) {
	if apiKey := os.Getenv("CB_API_KEY"); apiKey != "" {
		config.Coinbase.APIKey = apiKey
	}
	if apiSecret := os.Getenv("CB_API_SECRET"); apiSecret != "" {
		config.Coinbase.APISecret = apiSecret
	}
	if passphrase := os.Getenv("CB_API_PASSPHRASE"); passphrase != "" {
		config.Coinbase.Passphrase = passphrase
	}

	if authType := os.Getenv("CB_AUTH_TYPE"); authType != "" {
		config.Coinbase.AuthType = authType
	}
	if apiKeyName := os.Getenv("CB_API_KEY_NAME"); apiKeyName != "" {
		config.Coinbase.APIKeyName = apiKeyName
	}
	if privateKey := os.Getenv("CB_PRIVATE_KEY"); privateKey != "" {
		config.Coinbase.PrivateKeyPEM = privateKey
	}

	if productID := os.Getenv("DEFAULT_PRODUCT_ID"); productID != "" {
		config.Trading.DefaultProductID = productID
	}
	if size := os.Getenv("TRADE_SIZE"); size != "" {
		if parsed, err := strconv.ParseFloat(size, 64); err == nil {
			config.Trading.DefaultQuoteSize = parsed
		}
	}
	if port := os.Getenv("PORT"); port != "" {
		if parsed, err := strconv.Atoi(port); err == nil {
			config.Server.Port = parsed
		}
	}

	if projectID := os.Getenv("GCP_PROJECT_ID"); projectID != "" {
		config.GCP.ProjectID = projectID
	}
	if useSecrets := os.Getenv("GCP_USE_SECRETS"); useSecrets == "true" {
		config.GCP.UseSecrets = true
	}
}

// Validate enforces the startup contract: the process must refuse traffic
// when credentials or trading defaults are missing or malformed.
func (c *Config) Validate() error {
	switch c.Coinbase.AuthType {
	case "hmac":
		if c.Coinbase.APIKey == "" || c.Coinbase.APISecret == "" {
			return fmt.Errorf("hmac auth selected but api_key/api_secret not set")
		}
	case "jwt":
		if c.Coinbase.APIKeyName == "" || c.Coinbase.PrivateKeyPEM == "" {
			return fmt.Errorf("jwt auth selected but api_key_name/private_key_pem not set")
		}
	default:
		return fmt.Errorf("unknown auth_type %q: want hmac or jwt", c.Coinbase.AuthType)
	}

	if _, err := models.ParsePair(c.Trading.DefaultProductID); err != nil {
		return fmt.Errorf("default_product_id: %w", err)
	}
	if c.Trading.DefaultQuoteSize <= 0 {
		return fmt.Errorf("default_quote_size %v must be positive", c.Trading.DefaultQuoteSize)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port %d out of range", c.Server.Port)
	}
	if c.Server.RateLimitRPS <= 0 {
		return fmt.Errorf("rate_limit_rps %v must be positive", c.Server.RateLimitRPS)
	}
	return nil
}

func loadSecretsFromGCP(ctx context.Context, config *Config, logger *logrus.Logger) error {
	secretManager, err := secrets.NewGCPSecretManager(ctx, config.GCP.ProjectID, config.GCP.CredentialsFile, logger)
	if err != nil {
		return fmt.Errorf("failed to create secret manager: %w", err)
	}
	defer secretManager.Close()

	// Only load secrets that are not already set.
	if config.Coinbase.APIKey == "" {
		config.Coinbase.APIKey = secretManager.GetSecretWithDefault(ctx,
			config.GCP.SecretNames.APIKey, "")
	}
	if config.Coinbase.APISecret == "" {
		config.Coinbase.APISecret = secretManager.GetSecretWithDefault(ctx,
			config.GCP.SecretNames.APISecret, "")
	}
	if config.Coinbase.Passphrase == "" {
		config.Coinbase.Passphrase = secretManager.GetSecretWithDefault(ctx,
			config.GCP.SecretNames.Passphrase, "")
	}
	if config.Coinbase.APIKeyName == "" {
		config.Coinbase.APIKeyName = secretManager.GetSecretWithDefault(ctx,
			config.GCP.SecretNames.APIKeyName, "")
	}
	if config.Coinbase.PrivateKeyPEM == "" {
		config.Coinbase.PrivateKeyPEM = secretManager.GetSecretWithDefault(ctx,
			config.GCP.SecretNames.PrivateKey, "")
	}

	logger.Info("Successfully loaded secrets from GCP Secret Manager")
	return nil
}
