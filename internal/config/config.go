package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config содержит всю конфигурацию приложения
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Exchange ExchangeConfig
	Trading  TradingConfig
	Risk     RiskConfig
	Logging  LoggingConfig
}

// ServerConfig - настройки HTTP сервера (ops surface)
type ServerConfig struct {
	Port int
	Host string
}

// DatabaseConfig - настройки подключения к БД
type DatabaseConfig struct {
	Host     string
	Port     int
	Name     string
	User     string
	Password string
	SSLMode  string
	// Пустой DB_HOST выключает персистентность: ядро работает без
	// audit-лога, только с логами и метриками
	Enabled bool
}

// ExchangeConfig - настройки биржевого адаптера
type ExchangeConfig struct {
	// DRY_RUN=1 - paper-адаптер вместо живой биржи
	DryRun bool

	BaseURL string
	WSURL   string

	APIKey string
	// Секрет либо открытым текстом (API_SECRET), либо зашифрованный
	// AES-256-GCM (API_SECRET_ENCRYPTED + KEY_PASSPHRASE + KEY_SALT)
	APISecret          string
	APISecretEncrypted string
	KeyPassphrase      string
	KeySalt            string

	RequestTimeout time.Duration
}

// TradingConfig - параметры торгового цикла
type TradingConfig struct {
	Symbols      []string
	TickInterval time.Duration
	SyncInterval time.Duration
	PollInterval time.Duration
	StuckAfter   time.Duration
	BaseSize     float64
}

// RiskConfig - пороги risk engine, переопределяемые окружением
type RiskConfig struct {
	SoftDrawdownLimit    float64
	HardDrawdownLimit    float64
	APIFailureThreshold  int
	MaxSymbolExposureUSD float64
	MaxTotalExposureUSD  float64

	// Оценка доступной ликвидности рынка (notional USD) для liquidity
	// multiplier. LIQUIDITY_USD - per-symbol overrides в формате
	// "BTC-PERP:5000000,ETH-PERP:3000000", LIQUIDITY_USD_DEFAULT - для
	// символов без override.
	LiquidityUSD        map[string]float64
	DefaultLiquidityUSD float64
}

// LiquidityEstimate возвращает оценку ликвидности для символа
func (r RiskConfig) LiquidityEstimate(symbol string) float64 {
	if v, ok := r.LiquidityUSD[symbol]; ok {
		return v
	}
	return r.DefaultLiquidityUSD
}

// LoggingConfig - настройки логирования
type LoggingConfig struct {
	Level  string
	Format string
}

// Load загружает конфигурацию из переменных окружения
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: getEnvAsInt("SERVER_PORT", 8080),
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", ""),
			Port:     getEnvAsInt("DB_PORT", 5432),
			Name:     getEnv("DB_NAME", "hars"),
			User:     getEnv("DB_USER", "hars"),
			Password: getEnv("DB_PASSWORD", ""),
			SSLMode:  getEnv("DB_SSL_MODE", "disable"),
		},
		Exchange: ExchangeConfig{
			DryRun:             getEnvAsBool("DRY_RUN", true),
			BaseURL:            getEnv("EXCHANGE_BASE_URL", "https://api.lighter.xyz"),
			WSURL:              getEnv("EXCHANGE_WS_URL", "wss://api.lighter.xyz/stream"),
			APIKey:             getEnv("API_KEY", ""),
			APISecret:          getEnv("API_SECRET", ""),
			APISecretEncrypted: getEnv("API_SECRET_ENCRYPTED", ""),
			KeyPassphrase:      getEnv("KEY_PASSPHRASE", ""),
			KeySalt:            getEnv("KEY_SALT", ""),
			RequestTimeout:     getEnvAsDuration("EXCHANGE_TIMEOUT", 10*time.Second),
		},
		Trading: TradingConfig{
			Symbols:      getEnvAsSlice("SYMBOLS", []string{"BTC-PERP", "ETH-PERP"}),
			TickInterval: getEnvAsDuration("TICK_INTERVAL", 15*time.Second),
			SyncInterval: getEnvAsDuration("SYNC_INTERVAL", 30*time.Second),
			PollInterval: getEnvAsDuration("RECONCILE_POLL_INTERVAL", 5*time.Second),
			StuckAfter:   getEnvAsDuration("ORDER_STUCK_AFTER", 2*time.Minute),
			BaseSize:     getEnvAsFloat("BASE_ORDER_SIZE", 0.01),
		},
		Risk: RiskConfig{
			SoftDrawdownLimit:    getEnvAsFloat("SOFT_DRAWDOWN_LIMIT", 0.08),
			HardDrawdownLimit:    getEnvAsFloat("HARD_DRAWDOWN_LIMIT", 0.15),
			APIFailureThreshold:  getEnvAsInt("API_FAILURE_THRESHOLD", 5),
			MaxSymbolExposureUSD: getEnvAsFloat("MAX_SYMBOL_EXPOSURE_USD", 50_000),
			MaxTotalExposureUSD:  getEnvAsFloat("MAX_TOTAL_EXPOSURE_USD", 150_000),
			LiquidityUSD:         getEnvAsFloatMap("LIQUIDITY_USD"),
			DefaultLiquidityUSD:  getEnvAsFloat("LIQUIDITY_USD_DEFAULT", 2_000_000),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	cfg.Database.Enabled = cfg.Database.Host != ""

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validate проверяет согласованность конфигурации
func (c *Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("SERVER_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Database.Enabled && (c.Database.Port < 1 || c.Database.Port > 65535) {
		return fmt.Errorf("DB_PORT must be between 1 and 65535, got %d", c.Database.Port)
	}

	if len(c.Trading.Symbols) == 0 {
		return fmt.Errorf("SYMBOLS must contain at least one symbol")
	}
	if c.Trading.TickInterval <= 0 {
		return fmt.Errorf("TICK_INTERVAL must be positive, got %v", c.Trading.TickInterval)
	}
	if c.Trading.BaseSize <= 0 {
		return fmt.Errorf("BASE_ORDER_SIZE must be positive, got %v", c.Trading.BaseSize)
	}

	if c.Risk.SoftDrawdownLimit <= 0 || c.Risk.SoftDrawdownLimit >= 1 {
		return fmt.Errorf("SOFT_DRAWDOWN_LIMIT must be in (0,1), got %v", c.Risk.SoftDrawdownLimit)
	}
	if c.Risk.HardDrawdownLimit <= c.Risk.SoftDrawdownLimit {
		return fmt.Errorf("HARD_DRAWDOWN_LIMIT (%v) must exceed SOFT_DRAWDOWN_LIMIT (%v)",
			c.Risk.HardDrawdownLimit, c.Risk.SoftDrawdownLimit)
	}
	if c.Risk.APIFailureThreshold < 1 {
		return fmt.Errorf("API_FAILURE_THRESHOLD must be at least 1, got %d", c.Risk.APIFailureThreshold)
	}
	if c.Risk.DefaultLiquidityUSD <= 0 {
		return fmt.Errorf("LIQUIDITY_USD_DEFAULT must be positive, got %v", c.Risk.DefaultLiquidityUSD)
	}

	if !c.Exchange.DryRun {
		if c.Exchange.APIKey == "" {
			return fmt.Errorf("API_KEY is required for live trading (set DRY_RUN=1 for paper mode)")
		}
		if c.Exchange.APISecret == "" && c.Exchange.APISecretEncrypted == "" {
			return fmt.Errorf("API_SECRET or API_SECRET_ENCRYPTED is required for live trading")
		}
		if c.Exchange.APISecretEncrypted != "" {
			if c.Exchange.KeyPassphrase == "" || c.Exchange.KeySalt == "" {
				return fmt.Errorf("KEY_PASSPHRASE and KEY_SALT are required to decrypt API_SECRET_ENCRYPTED")
			}
		}
	}

	return nil
}

// DSN возвращает строку подключения к базе данных
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

// DSNWithoutPassword возвращает строку подключения без пароля (для логирования)
func (d DatabaseConfig) DSNWithoutPassword() string {
	return fmt.Sprintf("host=%s port=%d user=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Name, d.SSLMode)
}

// Вспомогательные функции для чтения переменных окружения

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloatMap(key string) map[string]float64 {
	valueStr := os.Getenv(key)
	out := make(map[string]float64)
	if valueStr == "" {
		return out
	}
	for _, entry := range strings.Split(valueStr, ",") {
		parts := strings.SplitN(strings.TrimSpace(entry), ":", 2)
		if len(parts) != 2 {
			continue
		}
		value, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
		if err != nil {
			continue
		}
		out[strings.TrimSpace(parts[0])] = value
	}
	return out
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	parts := strings.Split(valueStr, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
