package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"fxtrader/internal/portfolio"
	"fxtrader/internal/queue"
	"fxtrader/internal/strategy"
)

const (
	configFilePathENV = "CONFIG_FILE"
	configDir         = "configs"
	defaultConfigFile = "values_local.yaml"
	envPrefix         = "FXTRADER"

	// DefaultLiveHeartbeat paces the live dispatcher when engine.heartbeat is unset.
	DefaultLiveHeartbeat = 500 * time.Millisecond
)

type Config struct {
	Engine      EngineConfig    `mapstructure:"engine"`
	Portfolio   PortfolioConfig `mapstructure:"portfolio"`
	Strategy    StrategyConfig  `mapstructure:"strategy"`
	Instruments []string        `mapstructure:"instruments"`
	Data        DataConfig      `mapstructure:"data"`
	Output      OutputConfig    `mapstructure:"output"`
	Queue       QueueConfig     `mapstructure:"queue"`
	Broker      BrokerConfig    `mapstructure:"broker"`
	Telegram    TelegramConfig  `mapstructure:"telegram"`
	DB          string          `mapstructure:"db_dsn"`
	Tracing     TracingConfig   `mapstructure:"tracing"`
	Health      HealthConfig    `mapstructure:"health"`
	Log         LogConfig       `mapstructure:"log"`
}

type EngineConfig struct {
	Heartbeat     time.Duration `mapstructure:"heartbeat"`
	MaxIterations int64         `mapstructure:"max_iterations"`
}

type PortfolioConfig struct {
	BaseCurrency string  `mapstructure:"base_currency"`
	Leverage     float64 `mapstructure:"leverage"`
	Equity       float64 `mapstructure:"equity"`
	RiskPerTrade float64 `mapstructure:"risk_per_trade"`
	OrderPolicy  string  `mapstructure:"order_policy"`
}

type StrategyConfig struct {
	Name        string `mapstructure:"name"`
	ShortWindow int    `mapstructure:"short_window"`
	LongWindow  int    `mapstructure:"long_window"`
	Interval    int    `mapstructure:"interval"`
}

type DataConfig struct {
	Dir string `mapstructure:"dir"`
}

type OutputConfig struct {
	LedgerPath  string `mapstructure:"ledger_path"`
	EquityPath  string `mapstructure:"equity_path"`
	SummaryPath string `mapstructure:"summary_path"`
}

type QueueConfig struct {
	Capacity int    `mapstructure:"capacity"`
	Policy   string `mapstructure:"policy"`
}

type BrokerConfig struct {
	AccountID       string        `mapstructure:"account_id"`
	URL             string        `mapstructure:"url"`
	StreamURL       string        `mapstructure:"stream_url"`
	AccessToken     string        `mapstructure:"access_token"`
	OrdersPerSecond float64       `mapstructure:"orders_per_second"`
	Timeout         time.Duration `mapstructure:"timeout"`
}

type TelegramConfig struct {
	Token  string `mapstructure:"token"`
	ChatID int64  `mapstructure:"chat_id"`
}

type TracingConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
}

type HealthConfig struct {
	Addr string `mapstructure:"addr"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("engine.heartbeat", time.Duration(0))
	v.SetDefault("engine.max_iterations", int64(0))

	v.SetDefault("portfolio.base_currency", "USD")
	v.SetDefault("portfolio.leverage", 1.0)
	v.SetDefault("portfolio.equity", 1000000.0)
	v.SetDefault("portfolio.risk_per_trade", 0.002)
	v.SetDefault("portfolio.order_policy", string(portfolio.OrderAlways))

	v.SetDefault("strategy.name", strategy.NameMovingAverageCross)
	v.SetDefault("strategy.short_window", 10)
	v.SetDefault("strategy.long_window", 50)
	v.SetDefault("strategy.interval", 5)

	v.SetDefault("instruments", []string{"EUR/USD"})
	v.SetDefault("data.dir", "data")

	v.SetDefault("output.ledger_path", "backtest.csv")
	v.SetDefault("output.equity_path", "equity.csv")
	v.SetDefault("output.summary_path", "summary.yaml")

	v.SetDefault("queue.capacity", 1024)
	v.SetDefault("queue.policy", string(queue.PolicyDropOldest))

	v.SetDefault("broker.account_id", "")
	v.SetDefault("broker.url", "")
	v.SetDefault("broker.stream_url", "")
	v.SetDefault("broker.access_token", "")
	v.SetDefault("broker.orders_per_second", 5.0)
	v.SetDefault("broker.timeout", 10*time.Second)

	v.SetDefault("telegram.token", "")
	v.SetDefault("telegram.chat_id", int64(0))
	v.SetDefault("db_dsn", "")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.host", "localhost")
	v.SetDefault("tracing.port", 6831)

	v.SetDefault("health.addr", ":8080")
	v.SetDefault("log.level", "info")
}

// NewConfig reads configs/$CONFIG_FILE (values_local.yaml by default).
func NewConfig() (*Config, error) {
	name := os.Getenv(configFilePathENV)
	if name == "" {
		name = defaultConfigFile
	}
	return Load(filepath.Join(configDir, name))
}

// Load reads the YAML file at path and applies environment overrides. An empty
// path means defaults and environment only.
func Load(path string) (*Config, error) {
	// secrets usually live in .env next to the binary
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// secrets may also come from their bare names
	_ = v.BindEnv("broker.access_token", envPrefix+"_BROKER_ACCESS_TOKEN", "BROKER_ACCESS_TOKEN")
	_ = v.BindEnv("telegram.token", envPrefix+"_TELEGRAM_TOKEN", "TELEGRAM_TOKEN")
	_ = v.BindEnv("db_dsn", envPrefix+"_DB_DSN", "DATABASE_DSN")

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "read config %s", path)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}
	return &cfg, nil
}

// Validate checks what the engine cannot run without.
func (c *Config) Validate() error {
	if len(c.Instruments) == 0 {
		return errors.New("at least one instrument is required")
	}
	for _, ins := range c.Instruments {
		if strings.TrimSpace(ins) == "" {
			return errors.New("empty instrument name")
		}
	}
	if !strategy.Known(c.Strategy.Name) {
		return errors.Errorf("unknown strategy %q", c.Strategy.Name)
	}
	if c.Strategy.Name == strategy.NameMovingAverageCross &&
		(c.Strategy.ShortWindow <= 0 || c.Strategy.ShortWindow >= c.Strategy.LongWindow) {
		return errors.Errorf("short_window (%d) must be positive and below long_window (%d)",
			c.Strategy.ShortWindow, c.Strategy.LongWindow)
	}
	if c.Portfolio.Equity <= 0 {
		return errors.New("portfolio.equity must be positive")
	}
	if c.Portfolio.RiskPerTrade <= 0 || c.Portfolio.RiskPerTrade >= 1 {
		return errors.New("portfolio.risk_per_trade must be in (0, 1)")
	}
	if c.Portfolio.Equity*c.Portfolio.RiskPerTrade < 1000 {
		return errors.New("portfolio.equity * risk_per_trade must give at least one unit (>= 1000)")
	}
	if _, err := portfolio.ParseOrderPolicy(c.Portfolio.OrderPolicy); err != nil {
		return err
	}
	if _, err := queue.ParsePolicy(c.Queue.Policy); err != nil {
		return err
	}
	if c.Engine.Heartbeat < 0 || c.Engine.MaxIterations < 0 {
		return errors.New("engine.heartbeat and engine.max_iterations must not be negative")
	}
	return nil
}

// UseLiveDefaults fills what live trading cannot run with at its backtest default.
// A streaming source never blocks the dispatcher, so it needs a heartbeat.
func (c *Config) UseLiveDefaults() {
	if c.Engine.Heartbeat == 0 {
		c.Engine.Heartbeat = DefaultLiveHeartbeat
	}
}

// ValidateLive also requires the broker endpoints and a positive heartbeat.
func (c *Config) ValidateLive() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.Engine.Heartbeat <= 0 {
		return errors.New("engine.heartbeat must be positive for live trading")
	}
	return c.ValidateBroker()
}

// ValidateBroker checks the broker endpoints and token only.
func (c *Config) ValidateBroker() error {
	if c.Broker.URL == "" || c.Broker.StreamURL == "" {
		return errors.New("broker.url and broker.stream_url are required for live trading")
	}
	if c.Broker.AccessToken == "" {
		return errors.New("broker.access_token is required for live trading")
	}
	return nil
}
