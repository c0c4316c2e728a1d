package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/kjannette/p2p-ledger/internal/models"
	"github.com/kjannette/p2p-ledger/internal/session"
)

const (
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
	BackendMemory   = "memory"
)

type LogConfig struct {
	Level       string
	Encoding    string // json | console
	Development bool
}

type Config struct {
	// Secrets (from .env)
	TelegramToken   string
	WebhookURL      string
	BotName         string
	APIKey          string
	CORSAllowOrigin string

	// Ledger storage
	LedgerBackend string
	DBHost        string
	DBPort        int
	DBName        string
	DBUser        string
	DBPassword    string
	SQLitePath    string
	LedgerTimeout time.Duration

	// Rate cache
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// API
	APIPort int

	// Ledger semantics
	Timezone        string
	Location        *time.Location
	DefaultCurrency models.Currency
	ReportCurrency  models.Currency // empty: no conversion
	ProfitFormula   models.Formula
	SessionFlow     string
	SessionTTL      time.Duration
	SweepSchedule   string
	HistoryLimit    int
	Workers         int

	// Rates
	RateP2PEndpoint     string
	RateAsset           string
	RateOffers          int
	RateTimeout         time.Duration
	RateCacheTTL        time.Duration
	RateDefaultUSDRUB   decimal.Decimal
	RateRefreshSchedule string

	Log LogConfig
}

// Load reads .env, then an optional YAML file at path, then the environment.
// Environment variables win.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		}
	}

	cfg := &Config{
		TelegramToken:   v.GetString("telegram_bot_token"),
		WebhookURL:      v.GetString("webhook_url"),
		BotName:         v.GetString("bot_name"),
		APIKey:          v.GetString("api_key"),
		CORSAllowOrigin: v.GetString("cors_allow_origin"),

		LedgerBackend: strings.ToLower(v.GetString("ledger_backend")),
		DBHost:        v.GetString("db_host"),
		DBPort:        v.GetInt("db_port"),
		DBName:        v.GetString("db_name"),
		DBUser:        v.GetString("db_user"),
		DBPassword:    v.GetString("db_password"),
		SQLitePath:    v.GetString("sqlite_path"),
		LedgerTimeout: v.GetDuration("ledger_timeout"),

		RedisAddr:     v.GetString("redis_addr"),
		RedisPassword: v.GetString("redis_password"),
		RedisDB:       v.GetInt("redis_db"),

		APIPort: v.GetInt("api_port"),

		Timezone:      v.GetString("ledger_timezone"),
		SessionFlow:   strings.ToLower(v.GetString("session_flow")),
		SessionTTL:    v.GetDuration("session_ttl"),
		SweepSchedule: v.GetString("session_sweep_schedule"),
		HistoryLimit:  v.GetInt("history_limit"),
		Workers:       v.GetInt("workers"),

		RateP2PEndpoint:     v.GetString("rate_p2p_endpoint"),
		RateAsset:           v.GetString("rate_asset"),
		RateOffers:          v.GetInt("rate_offers"),
		RateTimeout:         v.GetDuration("rate_timeout"),
		RateCacheTTL:        v.GetDuration("rate_cache_ttl"),
		RateRefreshSchedule: v.GetString("rate_refresh_schedule"),

		Log: LogConfig{
			Level:       v.GetString("log_level"),
			Encoding:    v.GetString("log_encoding"),
			Development: v.GetBool("log_development"),
		},
	}

	var errs []error
	var err error
	if cfg.Location, err = time.LoadLocation(cfg.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("LEDGER_TIMEZONE: %w", err))
	}
	if cfg.DefaultCurrency, err = models.ParseCurrency(v.GetString("default_currency")); err != nil {
		errs = append(errs, fmt.Errorf("DEFAULT_CURRENCY: %w", err))
	}
	if rc := strings.TrimSpace(v.GetString("report_currency")); rc != "" {
		if cfg.ReportCurrency, err = models.ParseCurrency(rc); err != nil {
			errs = append(errs, fmt.Errorf("REPORT_CURRENCY: %w", err))
		}
	}
	if cfg.ProfitFormula, err = models.ParseFormula(v.GetString("profit_formula")); err != nil {
		errs = append(errs, fmt.Errorf("PROFIT_FORMULA: %w", err))
	}
	if dr := strings.TrimSpace(v.GetString("rate_default_usd_rub")); dr != "" {
		if cfg.RateDefaultUSDRUB, err = decimal.NewFromString(dr); err != nil {
			errs = append(errs, fmt.Errorf("RATE_DEFAULT_USD_RUB: %w", err))
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("telegram_bot_token", "")
	v.SetDefault("webhook_url", "")
	v.SetDefault("bot_name", "P2PLedger")
	v.SetDefault("api_key", "")
	v.SetDefault("cors_allow_origin", "*")

	v.SetDefault("ledger_backend", BackendPostgres)
	v.SetDefault("db_host", "localhost")
	v.SetDefault("db_port", 5432)
	v.SetDefault("db_name", "p2p_ledger")
	v.SetDefault("db_user", "")
	v.SetDefault("db_password", "")
	v.SetDefault("sqlite_path", "p2p_ledger.db")
	v.SetDefault("ledger_timeout", "5s")

	v.SetDefault("redis_addr", "")
	v.SetDefault("redis_password", "")
	v.SetDefault("redis_db", 0)

	v.SetDefault("api_port", 8080)

	v.SetDefault("ledger_timezone", "UTC")
	v.SetDefault("default_currency", "RUB")
	v.SetDefault("report_currency", "")
	v.SetDefault("profit_formula", string(models.FormulaVolume))
	v.SetDefault("session_flow", session.FlowBasic)
	v.SetDefault("session_ttl", "15m")
	v.SetDefault("session_sweep_schedule", "@every 1m")
	v.SetDefault("history_limit", 10)
	v.SetDefault("workers", 8)

	v.SetDefault("rate_p2p_endpoint", "")
	v.SetDefault("rate_asset", "USDT")
	v.SetDefault("rate_offers", 5)
	v.SetDefault("rate_timeout", "5s")
	v.SetDefault("rate_cache_ttl", "6h")
	v.SetDefault("rate_default_usd_rub", "")
	v.SetDefault("rate_refresh_schedule", "@every 10m")

	v.SetDefault("log_level", "info")
	v.SetDefault("log_encoding", "console")
	v.SetDefault("log_development", false)
}

// Validate checks what the bot needs to serve. needBot is false for
// commands that never talk to Telegram.
func (c *Config) Validate(needBot bool) error {
	var errs []string

	if needBot && c.TelegramToken == "" {
		errs = append(errs, "TELEGRAM_BOT_TOKEN is required")
	}
	switch c.LedgerBackend {
	case BackendPostgres:
		if c.DBUser == "" {
			errs = append(errs, "DB_USER is required for the postgres ledger")
		}
	case BackendSQLite:
		if c.SQLitePath == "" {
			errs = append(errs, "SQLITE_PATH is required for the sqlite ledger")
		}
	case BackendMemory:
	default:
		errs = append(errs, fmt.Sprintf("LEDGER_BACKEND %q must be postgres, sqlite or memory", c.LedgerBackend))
	}
	if _, err := session.FlowByName(c.SessionFlow); err != nil {
		errs = append(errs, "SESSION_FLOW: "+err.Error())
	}
	if c.SessionTTL < 0 {
		errs = append(errs, "SESSION_TTL cannot be negative")
	}
	if c.RateDefaultUSDRUB.IsNegative() {
		errs = append(errs, "RATE_DEFAULT_USD_RUB cannot be negative")
	}
	if c.Workers <= 0 {
		errs = append(errs, "WORKERS must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  %s", strings.Join(errs, "\n  "))
	}
	return nil
}

// Warnings lists settings that are legal but probably unintended.
func (c *Config) Warnings() []string {
	var w []string
	if c.LedgerBackend == BackendMemory {
		w = append(w, "LEDGER_BACKEND=memory: trades are lost on restart")
	}
	if c.APIKey == "" {
		w = append(w, "API_KEY not set: REST API has no authentication")
	}
	if c.ReportCurrency != "" && c.RedisAddr == "" {
		w = append(w, "REDIS_ADDR not set: last-good rates are kept in memory only")
	}
	return w
}

func (c *Config) Print() {
	fmt.Println("=== P2P Arbitrage Ledger Configuration ===")
	fmt.Printf("Bot: %s\n", c.BotName)
	fmt.Printf("Ledger: %s\n", c.ledgerLabel())
	fmt.Printf("Timezone: %s\n", c.Timezone)
	fmt.Println("--------------------------------------")
	fmt.Printf("Profit formula: %s\n", c.ProfitFormula)
	fmt.Printf("Session flow: %s (idle expiry %s)\n", c.SessionFlow, c.SessionTTL)
	fmt.Printf("Default currency: %s\n", c.DefaultCurrency)
	fmt.Printf("Report currency: %s\n", boolLabel(c.ReportCurrency != "", string(c.ReportCurrency), "none"))
	fmt.Println("--------------------------------------")
	fmt.Printf("Rates: %s P2P, %d offers, timeout %s\n", c.RateAsset, c.RateOffers, c.RateTimeout)
	fmt.Printf("Rate cache: %s (ttl %s)\n", boolLabel(c.RedisAddr != "", "redis "+c.RedisAddr, "memory"), c.RateCacheTTL)
	fmt.Printf("Default USD/RUB: %s\n", boolLabel(c.RateDefaultUSDRUB.IsPositive(), c.RateDefaultUSDRUB.String(), "not set"))
	fmt.Printf("API port: %d\n", c.APIPort)
	fmt.Printf("Webhook: %s\n", boolLabel(c.WebhookURL != "", "configured", "not set"))
	fmt.Println("======================================")
}

func (c *Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName)
}

func (c *Config) ledgerLabel() string {
	switch c.LedgerBackend {
	case BackendPostgres:
		return fmt.Sprintf("postgres %s:%d/%s", c.DBHost, c.DBPort, c.DBName)
	case BackendSQLite:
		return "sqlite " + c.SQLitePath
	}
	return c.LedgerBackend
}

func boolLabel(cond bool, ifTrue, ifFalse string) string {
	if cond {
		return ifTrue
	}
	return ifFalse
}
