package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"market-scanner/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Universe  UniverseConfig  `mapstructure:"universe"`
	Scan      ScanConfig      `mapstructure:"scan"`
	Sources   SourcesConfig   `mapstructure:"sources"`
	Judge     JudgeConfig     `mapstructure:"judge"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Report    ReportConfig    `mapstructure:"report"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// UniverseConfig points at the instrument list.
type UniverseConfig struct {
	Path string `mapstructure:"path"`
}

// ScanConfig bounds both pipeline stages.
type ScanConfig struct {
	Concurrency     int           `mapstructure:"concurrency"`
	AIGate          int           `mapstructure:"ai_gate"`
	MaxAI           int           `mapstructure:"max_ai"`
	TaskTimeout     time.Duration `mapstructure:"task_timeout"`
	MaxHeadlines    int           `mapstructure:"max_headlines"`
	EquityBenchmark string        `mapstructure:"equity_benchmark"`
	CryptoBenchmark string        `mapstructure:"crypto_benchmark"`
}

// SourcesConfig captures upstream market data connectivity.
type SourcesConfig struct {
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
	Yahoo          YahooConfig   `mapstructure:"yahoo"`
	Binance        BinanceConfig `mapstructure:"binance"`
	News           NewsConfig    `mapstructure:"news"`
	Breaker        BreakerConfig `mapstructure:"breaker"`
}

// YahooConfig covers the chart and quoteSummary endpoints.
type YahooConfig struct {
	ChartURL   string `mapstructure:"chart_url"`
	SummaryURL string `mapstructure:"summary_url"`
}

// BinanceConfig covers the spot klines endpoint.
type BinanceConfig struct {
	BaseURL string `mapstructure:"base_url"`
	Limit   int    `mapstructure:"limit"`
}

// NewsConfig covers the RSS feeds.
type NewsConfig struct {
	GoogleURL string `mapstructure:"google_url"`
	YahooURL  string `mapstructure:"yahoo_url"`
}

// BreakerConfig tunes the per-host circuit breakers.
type BreakerConfig struct {
	ConsecutiveFailures uint32        `mapstructure:"consecutive_failures"`
	OpenTimeout         time.Duration `mapstructure:"open_timeout"`
}

// JudgeConfig configures the chat-completions judge.
type JudgeConfig struct {
	BaseURL           string        `mapstructure:"base_url"`
	APIKey            string        `mapstructure:"api_key"`
	Model             string        `mapstructure:"model"`
	Temperature       float64       `mapstructure:"temperature"`
	Timeout           time.Duration `mapstructure:"timeout"`
	MaxRetries        int           `mapstructure:"max_retries"`
	BaseDelay         time.Duration `mapstructure:"base_delay"`
	DelayStep         time.Duration `mapstructure:"delay_step"`
	MaxDelay          time.Duration `mapstructure:"max_delay"`
	Concurrency       int           `mapstructure:"concurrency"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
}

// AlertingConfig defines gate thresholds and routing.
type AlertingConfig struct {
	ScoreThreshold int             `mapstructure:"score_threshold"`
	Quiet          QuietConfig     `mapstructure:"quiet"`
	DedupeCooldown time.Duration   `mapstructure:"dedupe_cooldown"`
	Channels       []string        `mapstructure:"channels"`
	OneSignal      OneSignalConfig `mapstructure:"onesignal"`
	Telegram       TelegramConfig  `mapstructure:"telegram"`
}

// QuietConfig is the local-time window with no deliveries.
type QuietConfig struct {
	TZ    string `mapstructure:"tz"`
	Start int    `mapstructure:"start"`
	End   int    `mapstructure:"end"`
}

// Location resolves the quiet-hours time zone.
func (q QuietConfig) Location() (*time.Location, error) {
	if q.TZ == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(q.TZ)
}

// OneSignalConfig describes the web push channel.
type OneSignalConfig struct {
	AppID     string `mapstructure:"app_id"`
	RESTKey   string `mapstructure:"rest_key"`
	APIURL    string `mapstructure:"api_url"`
	TargetURL string `mapstructure:"target_url"`
	TagKey    string `mapstructure:"tag_key"`
}

// TelegramConfig describes the Telegram channel.
type TelegramConfig struct {
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// StorageConfig selects where dedupe state lives.
type StorageConfig struct {
	Driver    string      `mapstructure:"driver"`
	StatePath string      `mapstructure:"state_path"`
	Redis     RedisConfig `mapstructure:"redis"`
}

// RedisConfig covers the redis dedupe backend.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Key      string `mapstructure:"key"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// ReportConfig sets where run reports go.
type ReportConfig struct {
	Dir     string `mapstructure:"dir"`
	Archive bool   `mapstructure:"archive"`
}

// SchedulerConfig governs the run cadence.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	AlignToBucket   bool          `mapstructure:"align_to_bucket"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
	RunOnStart      bool          `mapstructure:"run_on_start"`
}

// MetricsConfig configures the prometheus endpoint.
type MetricsConfig struct {
	Addr      string `mapstructure:"addr"`
	Namespace string `mapstructure:"namespace"`
}

const (
	DriverFile     = "file"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"

	ChannelOneSignal = "onesignal"
	ChannelTelegram  = "telegram"
)

// legacyEnv maps keys to the bare environment names older deployments use.
var legacyEnv = map[string]string{
	"judge.api_key":               "OPENAI_API_KEY",
	"alerting.onesignal.rest_key": "ONESIGNAL_REST_KEY",
	"alerting.onesignal.app_id":   "ONESIGNAL_APP_ID",
	"alerting.score_threshold":    "SCORE_THRESHOLD",
	"alerting.quiet.tz":           "QUIET_TZ",
	"alerting.quiet.start":        "QUIET_START",
	"alerting.quiet.end":          "QUIET_END",
	"scan.concurrency":            "CONCURRENCY",
	"scan.max_headlines":          "MAX_HEADLINES",
	"scan.ai_gate":                "AI_GATE",
	"scan.max_ai":                 "MAX_AI",
}

// Load builds configuration from file, environment, and defaults. A .env
// file in the working directory is read first when present.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix("SCANNER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range legacyEnv {
		if err := v.BindEnv(key, "SCANNER_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if hours := os.Getenv("DEDUPE_HOURS"); hours != "" && os.Getenv("SCANNER_ALERTING_DEDUPE_COOLDOWN") == "" {
		d, err := time.ParseDuration(hours + "h")
		if err != nil {
			return nil, fmt.Errorf("parse DEDUPE_HOURS: %w", err)
		}
		cfg.Alerting.DedupeCooldown = d
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "market-scanner")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("universe.path", "universe.yaml")

	v.SetDefault("scan.concurrency", 4)
	v.SetDefault("scan.ai_gate", 58)
	v.SetDefault("scan.max_ai", 3)
	v.SetDefault("scan.task_timeout", "45s")
	v.SetDefault("scan.max_headlines", 4)
	v.SetDefault("scan.equity_benchmark", "SPY")
	v.SetDefault("scan.crypto_benchmark", "BINANCE:BTCUSDT")

	v.SetDefault("sources.request_timeout", "15s")
	v.SetDefault("sources.user_agent", "market-scanner/1.0")
	v.SetDefault("sources.binance.limit", 300)
	v.SetDefault("sources.breaker.consecutive_failures", 5)
	v.SetDefault("sources.breaker.open_timeout", "1m")

	v.SetDefault("judge.base_url", "https://api.openai.com/v1")
	v.SetDefault("judge.model", "gpt-4o-mini")
	v.SetDefault("judge.temperature", 0.2)
	v.SetDefault("judge.timeout", "60s")
	v.SetDefault("judge.max_retries", 4)
	v.SetDefault("judge.base_delay", "2s")
	v.SetDefault("judge.delay_step", "2s")
	v.SetDefault("judge.max_delay", "1m")
	v.SetDefault("judge.concurrency", 2)
	v.SetDefault("judge.requests_per_second", 1.0)

	v.SetDefault("alerting.score_threshold", 70)
	v.SetDefault("alerting.quiet.tz", "Europe/Berlin")
	v.SetDefault("alerting.quiet.start", 23)
	v.SetDefault("alerting.quiet.end", 6)
	v.SetDefault("alerting.dedupe_cooldown", "6h")
	v.SetDefault("alerting.channels", []string{ChannelOneSignal})
	v.SetDefault("alerting.onesignal.api_url", "https://onesignal.com/api/v1/notifications")
	v.SetDefault("alerting.onesignal.tag_key", "signals")
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("storage.driver", DriverFile)
	v.SetDefault("storage.state_path", "state.json")
	v.SetDefault("storage.redis.addr", "localhost:6379")
	v.SetDefault("storage.redis.key", "scanner:pushed")

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")

	v.SetDefault("report.dir", "reports")
	v.SetDefault("report.archive", false)

	v.SetDefault("scheduler.interval", "1h")
	v.SetDefault("scheduler.align_to_bucket", true)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x5343414e))
	v.SetDefault("scheduler.startup_delay", "0s")
	v.SetDefault("scheduler.run_on_start", false)

	v.SetDefault("metrics.namespace", "scanner")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Scan.Concurrency <= 0 {
		return fmt.Errorf("scan.concurrency must be greater than zero")
	}
	if c.Scan.AIGate < 0 || c.Scan.AIGate > 100 {
		return fmt.Errorf("scan.ai_gate must be within 0..100")
	}
	if c.Scan.MaxAI < 0 {
		return fmt.Errorf("scan.max_ai cannot be negative")
	}
	if c.Scan.MaxHeadlines < 0 {
		return fmt.Errorf("scan.max_headlines cannot be negative")
	}
	if c.Judge.MaxRetries < 0 {
		return fmt.Errorf("judge.max_retries cannot be negative")
	}
	if c.Judge.Concurrency <= 0 {
		return fmt.Errorf("judge.concurrency must be greater than zero")
	}
	if c.Alerting.ScoreThreshold < 0 || c.Alerting.ScoreThreshold > 100 {
		return fmt.Errorf("alerting.score_threshold must be within 0..100")
	}
	if !validHour(c.Alerting.Quiet.Start) || !validHour(c.Alerting.Quiet.End) {
		return fmt.Errorf("alerting.quiet.start and alerting.quiet.end must be within 0..23")
	}
	if _, err := c.Alerting.Quiet.Location(); err != nil {
		return fmt.Errorf("alerting.quiet.tz: %w", err)
	}
	if c.Alerting.DedupeCooldown < 0 {
		return fmt.Errorf("alerting.dedupe_cooldown cannot be negative")
	}
	for _, ch := range c.Alerting.Channels {
		switch strings.ToLower(strings.TrimSpace(ch)) {
		case ChannelOneSignal, ChannelTelegram:
		default:
			return fmt.Errorf("alerting.channels: unknown channel %q", ch)
		}
	}
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	switch c.Storage.Driver {
	case DriverFile:
		if c.Storage.StatePath == "" {
			return fmt.Errorf("storage.state_path is required for the file driver")
		}
	case DriverPostgres:
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for the postgres driver")
		}
	case DriverRedis:
		if c.Storage.Redis.Addr == "" {
			return fmt.Errorf("storage.redis.addr is required for the redis driver")
		}
	default:
		return fmt.Errorf("storage.driver must be one of file, postgres, redis")
	}
	if c.Report.Archive && c.Database.DSN == "" {
		return fmt.Errorf("report.archive requires database.dsn")
	}
	return nil
}

// CheckSecrets reports the credentials a live run cannot do without.
func (c *Config) CheckSecrets() error {
	var missing []string
	if c.Judge.APIKey == "" {
		missing = append(missing, "judge.api_key")
	}
	for _, ch := range c.Alerting.Channels {
		switch strings.ToLower(strings.TrimSpace(ch)) {
		case ChannelOneSignal:
			if c.Alerting.OneSignal.AppID == "" {
				missing = append(missing, "alerting.onesignal.app_id")
			}
			if c.Alerting.OneSignal.RESTKey == "" {
				missing = append(missing, "alerting.onesignal.rest_key")
			}
		case ChannelTelegram:
			if c.Alerting.Telegram.BotToken == "" {
				missing = append(missing, "alerting.telegram.bot_token")
			}
			if c.Alerting.Telegram.ChatID == "" {
				missing = append(missing, "alerting.telegram.chat_id")
			}
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing secrets: %s", strings.Join(missing, ", "))
	}
	return nil
}

func validHour(h int) bool { return h >= 0 && h <= 23 }
