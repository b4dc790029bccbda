package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gregtusar/positrader/pkg/models"
	"github.com/gregtusar/positrader/pkg/rules"
	"github.com/gregtusar/positrader/pkg/secrets"
	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

const envPrefix = "POSITRADER"

type Config struct {
	Server   ServerConfig                 `mapstructure:"server"`
	Coinbase CoinbaseConfig               `mapstructure:"coinbase"`
	Trading  TradingConfig                `mapstructure:"trading"`
	Pairs    map[string]models.PairConfig `mapstructure:"pairs"`
	Rules    []rules.Rule                 `mapstructure:"rules"`
	Database DatabaseConfig               `mapstructure:"database"`
	Logging  LoggingConfig                `mapstructure:"logging"`
	GCP      GCPConfig                    `mapstructure:"gcp"`
	Notify   NotifyConfig                 `mapstructure:"notify"`
	Backtest BacktestConfig               `mapstructure:"backtest"`
}

type ServerConfig struct {
	Port             int    `mapstructure:"port"`
	MetricsNamespace string `mapstructure:"metrics_namespace"`
}

type CoinbaseConfig struct {
	// "legacy" uses key/secret/passphrase, "jwt" uses a cloud API key.
	AuthType          string        `mapstructure:"auth_type"`
	APIKey            string        `mapstructure:"api_key"`
	APISecret         string        `mapstructure:"api_secret"`
	Passphrase        string        `mapstructure:"passphrase"`
	APIKeyName        string        `mapstructure:"api_key_name"`
	PrivateKeyPEM     string        `mapstructure:"private_key_pem"`
	Sandbox           bool          `mapstructure:"sandbox"`
	BaseURL           string        `mapstructure:"base_url"`
	WebSocketURL      string        `mapstructure:"websocket_url"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	FillTimeout       time.Duration `mapstructure:"fill_timeout"`
}

type TradingConfig struct {
	Market          string          `mapstructure:"market"`
	KnownMarkets    []string        `mapstructure:"known_markets"`
	ExcludedPairs   []string        `mapstructure:"excluded_pairs"`
	Virtual         bool            `mapstructure:"virtual"`
	VirtualBalance  decimal.Decimal `mapstructure:"virtual_balance"`
	VirtualFeeRate  decimal.Decimal `mapstructure:"virtual_fee_rate"`
	PriceType       string          `mapstructure:"price_type"`
	MinBalance      decimal.Decimal `mapstructure:"min_balance"`
	Suspended       bool            `mapstructure:"suspended"`
	BuySellGuard    time.Duration   `mapstructure:"buy_sell_guard"`
	TradingInterval time.Duration   `mapstructure:"trading_interval"`
	RulesInterval   time.Duration   `mapstructure:"rules_interval"`
	AccountInterval time.Duration   `mapstructure:"account_interval"`
	StartDelay      time.Duration   `mapstructure:"start_delay"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

type GCPConfig struct {
	ProjectID       string              `mapstructure:"project_id"`
	UseSecrets      bool                `mapstructure:"use_secrets"`
	CredentialsFile string              `mapstructure:"credentials_file"`
	SecretNames     secrets.SecretNames `mapstructure:"secret_names"`
}

type NotifyConfig struct {
	DiscordWebhook string        `mapstructure:"discord_webhook"`
	Username       string        `mapstructure:"username"`
	Timeout        time.Duration `mapstructure:"timeout"`
}

type BacktestConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Snapshots string        `mapstructure:"snapshots"`
	Speed     float64       `mapstructure:"speed"`
	Interval  time.Duration `mapstructure:"interval"`
}

func Load(configPath string, logger *logrus.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("error reading .env: %w", err)
	}

	v, err := newViper(configPath)
	if err != nil {
		return nil, err
	}
	config, err := decode(v)
	if err != nil {
		return nil, err
	}

	if config.GCP.UseSecrets && config.GCP.ProjectID != "" {
		if err := loadSecretsFromGCP(context.Background(), config, logger); err != nil {
			return nil, fmt.Errorf("error loading secrets from GCP: %w", err)
		}
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Watch calls onChange with the rules and pairs of the config file each
// time it is written. Edits with invalid rules or pairs are logged and
// skipped. Without a config file there is nothing to watch.
func Watch(configPath string, logger *logrus.Logger, onChange func(rs []rules.Rule, pairs map[string]models.PairConfig)) error {
	v, err := newViper(configPath)
	if err != nil {
		return err
	}
	if v.ConfigFileUsed() == "" {
		logger.Info("No config file, rules reload disabled")
		return nil
	}

	log := logger.WithField("file", v.ConfigFileUsed())
	v.OnConfigChange(func(e fsnotify.Event) {
		config, err := decode(v)
		if err == nil {
			err = config.validateRules()
		}
		if err != nil {
			log.WithError(err).Error("Ignoring config change")
			return
		}
		log.WithField("rules", len(config.Rules)).Info("Config changed, reloading rules")
		onChange(config.Rules, config.Pairs)
	})
	v.WatchConfig()
	return nil
}

func newViper(configPath string) (*viper.Viper, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/positrader")
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}
	return v, nil
}

func decode(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		decimalHook,
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	overrideFromEnv(&config)
	config.normalize()
	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.metrics_namespace", "positrader")

	v.SetDefault("coinbase.auth_type", "jwt")
	v.SetDefault("coinbase.sandbox", false)
	v.SetDefault("coinbase.requests_per_second", 10)
	v.SetDefault("coinbase.fill_timeout", "30s")

	v.SetDefault("trading.market", "USDT")
	v.SetDefault("trading.known_markets", []string{"BTC", "ETH", "USDC", "USD"})
	v.SetDefault("trading.virtual", true)
	v.SetDefault("trading.virtual_balance", "1000")
	v.SetDefault("trading.virtual_fee_rate", "0.001")
	v.SetDefault("trading.price_type", string(models.PriceTypeLast))
	v.SetDefault("trading.min_balance", "0")
	v.SetDefault("trading.suspended", false)
	v.SetDefault("trading.buy_sell_guard", "10s")
	v.SetDefault("trading.trading_interval", "1s")
	v.SetDefault("trading.rules_interval", "3s")
	v.SetDefault("trading.account_interval", "5s")
	v.SetDefault("trading.start_delay", "5s")

	v.SetDefault("database.path", "./data/positrader.db")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_backups", 5)
	v.SetDefault("logging.max_age_days", 30)

	v.SetDefault("gcp.use_secrets", false)
	v.SetDefault("gcp.project_id", "")

	names := secrets.DefaultSecretNames()
	v.SetDefault("gcp.secret_names.coinbase_api_key", names.CoinbaseAPIKey)
	v.SetDefault("gcp.secret_names.coinbase_api_secret", names.CoinbaseAPISecret)
	v.SetDefault("gcp.secret_names.coinbase_passphrase", names.CoinbasePassphrase)
	v.SetDefault("gcp.secret_names.coinbase_api_key_name", names.CoinbaseAPIKeyName)
	v.SetDefault("gcp.secret_names.coinbase_private_key", names.CoinbasePrivateKey)
	v.SetDefault("gcp.secret_names.discord_webhook", names.DiscordWebhook)

	v.SetDefault("notify.username", "positrader")
	v.SetDefault("notify.timeout", "10s")

	v.SetDefault("backtest.enabled", false)
	v.SetDefault("backtest.speed", 1)
	v.SetDefault("backtest.interval", "1s")
}

func overrideFromEnv(config *Config) {
	if apiKey := os.Getenv("COINBASE_API_KEY"); apiKey != "" {
		config.Coinbase.APIKey = apiKey
	}
	if apiSecret := os.Getenv("COINBASE_API_SECRET"); apiSecret != "" {
		config.Coinbase.APISecret = apiSecret
	}
	if passphrase := os.Getenv("COINBASE_PASSPHRASE"); passphrase != "" {
		config.Coinbase.Passphrase = passphrase
	}
	if apiKeyName := os.Getenv("COINBASE_API_KEY_NAME"); apiKeyName != "" {
		config.Coinbase.APIKeyName = apiKeyName
	}
	if privateKey := os.Getenv("COINBASE_PRIVATE_KEY"); privateKey != "" {
		config.Coinbase.PrivateKeyPEM = privateKey
	}
	if webhook := os.Getenv("DISCORD_WEBHOOK_URL"); webhook != "" {
		config.Notify.DiscordWebhook = webhook
	}

	if projectID := os.Getenv("GCP_PROJECT_ID"); projectID != "" {
		config.GCP.ProjectID = projectID
	}
	if useSecrets := os.Getenv("GCP_USE_SECRETS"); useSecrets == "true" {
		config.GCP.UseSecrets = true
	}
}

// normalize upper-cases pair and market names. Viper lower-cases map keys.
func (c *Config) normalize() {
	c.Trading.Market = strings.ToUpper(c.Trading.Market)
	for i, m := range c.Trading.KnownMarkets {
		c.Trading.KnownMarkets[i] = strings.ToUpper(m)
	}
	for i, p := range c.Trading.ExcludedPairs {
		c.Trading.ExcludedPairs[i] = strings.ToUpper(p)
	}
	pairs := make(map[string]models.PairConfig, len(c.Pairs))
	for pair, pc := range c.Pairs {
		pairs[strings.ToUpper(pair)] = pc
	}
	c.Pairs = pairs
}

func (c *Config) Validate() error {
	if c.Trading.Market == "" {
		return fmt.Errorf("trading.market is required")
	}
	switch models.PriceType(c.Trading.PriceType) {
	case models.PriceTypeBid, models.PriceTypeAsk, models.PriceTypeLast:
	default:
		return fmt.Errorf("trading.price_type %q is not one of bid, ask, last", c.Trading.PriceType)
	}
	for name, d := range map[string]time.Duration{
		"trading.trading_interval": c.Trading.TradingInterval,
		"trading.rules_interval":   c.Trading.RulesInterval,
		"trading.account_interval": c.Trading.AccountInterval,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	if err := c.validateRules(); err != nil {
		return err
	}
	if !c.Trading.Virtual && !c.Backtest.Enabled {
		switch c.Coinbase.AuthType {
		case "jwt":
			if c.Coinbase.APIKeyName == "" || c.Coinbase.PrivateKeyPEM == "" {
				return fmt.Errorf("coinbase jwt auth needs api_key_name and private_key_pem")
			}
		case "legacy":
			if c.Coinbase.APIKey == "" || c.Coinbase.APISecret == "" {
				return fmt.Errorf("coinbase legacy auth needs api_key and api_secret")
			}
		default:
			return fmt.Errorf("coinbase.auth_type %q is not jwt or legacy", c.Coinbase.AuthType)
		}
	}
	if c.Backtest.Enabled {
		if c.Backtest.Snapshots == "" {
			return fmt.Errorf("backtest.snapshots is required when backtest is enabled")
		}
		if c.Backtest.Speed <= 0 {
			return fmt.Errorf("backtest.speed must be positive")
		}
		if c.Backtest.Interval <= 0 {
			return fmt.Errorf("backtest.interval must be positive")
		}
	}
	return nil
}

func (c *Config) validateRules() error {
	for pair, pc := range c.Pairs {
		switch pc.ArbitrageType {
		case "", models.ArbitrageDirect, models.ArbitrageReverse:
		default:
			return fmt.Errorf("pairs.%s.arbitrage_type %q is not direct or reverse", pair, pc.ArbitrageType)
		}
	}
	for _, r := range c.Rules {
		switch r.Action {
		case "", rules.ActionDefault, rules.ActionSwap, rules.ActionArbitrage:
		default:
			return fmt.Errorf("rule %s has unknown action %q", r.Name, r.Action)
		}
	}
	return nil
}

func loadSecretsFromGCP(ctx context.Context, config *Config, logger *logrus.Logger) error {
	secretManager, err := secrets.NewGCPSecretManager(ctx, config.GCP.ProjectID, config.GCP.CredentialsFile, logger)
	if err != nil {
		return fmt.Errorf("failed to create secret manager: %w", err)
	}
	defer secretManager.Close()

	fillSecrets(ctx, config, secretManager)
	logger.Info("Successfully loaded secrets from GCP Secret Manager")
	return nil
}

func fillSecrets(ctx context.Context, config *Config, sm *secrets.GCPSecretManager) {
	names := config.GCP.SecretNames
	sm.Fill(ctx, &config.Coinbase.APIKey, names.CoinbaseAPIKey)
	sm.Fill(ctx, &config.Coinbase.APISecret, names.CoinbaseAPISecret)
	sm.Fill(ctx, &config.Coinbase.Passphrase, names.CoinbasePassphrase)
	sm.Fill(ctx, &config.Coinbase.APIKeyName, names.CoinbaseAPIKeyName)
	sm.Fill(ctx, &config.Coinbase.PrivateKeyPEM, names.CoinbasePrivateKey)
	sm.Fill(ctx, &config.Notify.DiscordWebhook, names.DiscordWebhook)
}
