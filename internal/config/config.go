package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"statarb/pkg/crypto"
	"statarb/pkg/utils"
)

// Config содержит всю конфигурацию приложения
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Security  SecurityConfig
	Exchange  ExchangeConfig
	Strategy  StrategyConfig
	Execution ExecutionConfig
	Phases    PhasesConfig
	Telegram  TelegramConfig
	Logging   LoggingConfig
}

// ServerConfig - настройки HTTP сервера (статус, метрики, websocket)
type ServerConfig struct {
	Enabled bool
	Port    int    `validate:"min=1,max=65535"`
	Host    string `validate:"required"`
	// AllowedOrigins - origins браузерных клиентов (CORS и WebSocket); пусто = только без Origin и localhost
	AllowedOrigins []string
}

// DatabaseConfig - журнал ордеров и уведомлений в Postgres (необязательный)
type DatabaseConfig struct {
	Enabled  bool
	Driver   string `validate:"required_if=Enabled true"`
	Host     string
	Port     int `validate:"min=1,max=65535"`
	Name     string
	User     string
	Password string
	SSLMode  string
}

// SecurityConfig - настройки безопасности
type SecurityConfig struct {
	// EncryptionKey - ключ AES-256 для секретов вида enc:...
	EncryptionKey string
	// APITokenHash - bcrypt-хэш токена API; пусто = API без авторизации
	APITokenHash string
}

// ExchangeConfig - площадка и доступ к ней
type ExchangeConfig struct {
	Name             string `validate:"oneof=dydx paper"`
	IndexerURL       string `validate:"required,url"`
	Address          string `validate:"required_if=Name dydx"`
	SubaccountNumber int    `validate:"min=0"`
	SignerURL        string `validate:"omitempty,url"`
	SignerAPIKey     string
	RateLimit        float64 `validate:"gt=0"`
	RateBurst        float64 `validate:"gt=0"`
	PaperCollateral  float64 `validate:"gte=0"`
	PaperLiveData    bool
}

// StrategyConfig - неизменяемые параметры стратегии.
// Передаётся по значению в конструктор каждого компонента.
type StrategyConfig struct {
	Resolution       string  `validate:"oneof=1MIN 5MINS 15MINS 30MINS 1HOUR 4HOURS 1DAY"`
	Window           int     `validate:"min=2"`
	MaxHalfLife      float64 `validate:"gt=0"`
	ZScoreThresh     float64 `validate:"gt=0"`
	PValueThresh     float64 `validate:"gt=0,lt=1"`
	USDPerTrade      float64 `validate:"gt=0"`
	USDMinCollateral float64 `validate:"gte=0"`
	EntrySlippage    float64 `validate:"gte=0,lt=1"`
	ExitSlippage     float64 `validate:"gte=0,lt=1"`
	FailsafeSlippage float64 `validate:"gt=0,lt=1"`
	MinOrderValueUSD float64 `validate:"gte=0"`
	HistoryWindows   int     `validate:"min=1"`
	HistoryBars      int     `validate:"min=2,max=1000"`
	IgnoreMarkets    []string
}

// ExecutionConfig - опрос ордеров, темп, расписание, файлы
type ExecutionConfig struct {
	PollAttempts    int           `validate:"min=1,max=20"`
	PollDelay       time.Duration `validate:"gte=0"`
	PollBackoff     float64       `validate:"gte=1"`
	UnwindPollDelay time.Duration `validate:"gt=0"`
	PacingDelay     time.Duration `validate:"gte=0"`
	LoopInterval    time.Duration `validate:"gt=0"`
	ScreenSchedule  string
	LedgerPath      string `validate:"required"`
	CandidatesPath  string `validate:"required"`
	ProgressTicker  bool
}

// PhasesConfig - какие фазы цикла включены
type PhasesConfig struct {
	AbortAll         bool
	FindCointegrated bool
	ManageExits      bool
	PlaceTrades      bool
}

// TelegramConfig - внешний канал срочных уведомлений; пустой токен = выключен
type TelegramConfig struct {
	BotToken string
	ChatID   string `validate:"required_with=BotToken"`
	APIURL   string `validate:"required,url"`
}

// LoggingConfig - настройки логирования
type LoggingConfig struct {
	Level  string `validate:"oneof=debug info warn warning error fatal"`
	Format string `validate:"oneof=json console text"`
	Output string
}

var validate = validator.New()

// Load загружает конфигурацию из переменных окружения (и .env, если он есть)
func Load() (*Config, error) {
	_ = godotenv.Load()

	ignore, err := utils.ParseMarketList(getEnv("IGNORE_MARKETS", ""))
	if err != nil {
		return nil, fmt.Errorf("IGNORE_MARKETS: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Enabled: getEnvAsBool("API_ENABLED", true),
			Port:    getEnvAsInt("SERVER_PORT", 8080),
			Host:    getEnv("SERVER_HOST", "0.0.0.0"),

			AllowedOrigins: splitList(getEnv("ALLOWED_ORIGINS", "")),
		},
		Database: DatabaseConfig{
			Enabled:  getEnvAsBool("DB_ENABLED", false),
			Driver:   getEnv("DB_DRIVER", "postgres"),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			Name:     getEnv("DB_NAME", "statarb"),
			User:     getEnv("DB_USER", "statarb"),
			Password: getEnv("DB_PASSWORD", ""),
			SSLMode:  getEnv("DB_SSL_MODE", "disable"),
		},
		Security: SecurityConfig{
			EncryptionKey: getEnv("ENCRYPTION_KEY", ""),
			APITokenHash:  getEnv("API_TOKEN_HASH", ""),
		},
		Exchange: ExchangeConfig{
			Name:             strings.ToLower(getEnv("EXCHANGE", "paper")),
			IndexerURL:       getEnv("DYDX_INDEXER_URL", "https://indexer.dydx.trade"),
			Address:          getEnv("DYDX_ADDRESS", ""),
			SubaccountNumber: getEnvAsInt("DYDX_SUBACCOUNT", 0),
			SignerURL:        getEnv("SIGNER_URL", ""),
			SignerAPIKey:     getEnv("SIGNER_API_KEY", ""),
			RateLimit:        getEnvAsFloat("INDEXER_RATE_LIMIT", 10),
			RateBurst:        getEnvAsFloat("INDEXER_RATE_BURST", 20),
			PaperCollateral:  getEnvAsFloat("PAPER_COLLATERAL", 1000),
			PaperLiveData:    getEnvAsBool("PAPER_LIVE_DATA", true),
		},
		Strategy: StrategyConfig{
			Resolution:       strings.ToUpper(getEnv("RESOLUTION", "1HOUR")),
			Window:           getEnvAsInt("WINDOW", 21),
			MaxHalfLife:      getEnvAsFloat("MAX_HALF_LIFE", 24),
			ZScoreThresh:     getEnvAsFloat("ZSCORE_THRESH", 1.1),
			PValueThresh:     getEnvAsFloat("PVALUE_THRESH", 0.05),
			USDPerTrade:      getEnvAsFloat("USD_PER_TRADE", 25),
			USDMinCollateral: getEnvAsFloat("USD_MIN_COLLATERAL", 100),
			EntrySlippage:    getEnvAsFloat("ENTRY_SLIPPAGE", 0.01),
			ExitSlippage:     getEnvAsFloat("EXIT_SLIPPAGE", 0.05),
			FailsafeSlippage: getEnvAsFloat("FAILSAFE_SLIPPAGE", 0.10),
			MinOrderValueUSD: getEnvAsFloat("MIN_ORDER_VALUE_USD", 1),
			HistoryWindows:   getEnvAsInt("HISTORY_WINDOWS", 4),
			HistoryBars:      getEnvAsInt("HISTORY_BARS", 100),
			IgnoreMarkets:    ignore,
		},
		Execution: ExecutionConfig{
			PollAttempts:    getEnvAsInt("POLL_ATTEMPTS", 3),
			PollDelay:       getEnvAsDuration("POLL_DELAY", 3*time.Second),
			PollBackoff:     getEnvAsFloat("POLL_BACKOFF", 1.0),
			UnwindPollDelay: getEnvAsDuration("UNWIND_POLL_DELAY", 2*time.Second),
			PacingDelay:     getEnvAsDuration("PACING_DELAY", 200*time.Millisecond),
			LoopInterval:    getEnvAsDuration("LOOP_INTERVAL", 30*time.Second),
			ScreenSchedule:  getEnv("SCREEN_SCHEDULE", ""),
			LedgerPath:      getEnv("LEDGER_PATH", "bot_agents.json"),
			CandidatesPath:  getEnv("CANDIDATES_PATH", "cointegrated_pairs.csv"),
			ProgressTicker:  getEnvAsBool("PROGRESS_TICKER", false),
		},
		Phases: PhasesConfig{
			AbortAll:         getEnvAsBool("ABORT_ALL_POSITIONS", false),
			FindCointegrated: getEnvAsBool("FIND_COINTEGRATED", true),
			ManageExits:      getEnvAsBool("MANAGE_EXITS", true),
			PlaceTrades:      getEnvAsBool("PLACE_TRADES", true),
		},
		Telegram: TelegramConfig{
			BotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
			ChatID:   getEnv("TELEGRAM_CHAT_ID", ""),
			APIURL:   getEnv("TELEGRAM_API_URL", "https://api.telegram.org"),
		},
		Logging: LoggingConfig{
			Level:  strings.ToLower(getEnv("LOG_LEVEL", "info")),
			Format: strings.ToLower(getEnv("LOG_FORMAT", "json")),
			Output: getEnv("LOG_OUTPUT", "stdout"),
		},
	}

	// Секреты могут быть зашифрованы (enc:...)
	if err := cfg.revealSecrets(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate проверяет теги и перекрёстные ограничения
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("invalid config %s: failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value())
		}
		return err
	}
	return c.validateRanges()
}

// validateRanges проверяет то, что не выражается тегами
func (c *Config) validateRanges() error {
	if c.Strategy.Window > c.Strategy.HistoryWindows*c.Strategy.HistoryBars {
		return fmt.Errorf("WINDOW must not exceed HISTORY_WINDOWS*HISTORY_BARS, got %d", c.Strategy.Window)
	}

	if c.Strategy.FailsafeSlippage < c.Strategy.EntrySlippage {
		return fmt.Errorf("FAILSAFE_SLIPPAGE must be at least ENTRY_SLIPPAGE, got %v < %v",
			c.Strategy.FailsafeSlippage, c.Strategy.EntrySlippage)
	}

	if c.Execution.ScreenSchedule != "" {
		if _, err := cron.ParseStandard(c.Execution.ScreenSchedule); err != nil {
			return fmt.Errorf("SCREEN_SCHEDULE is not a valid cron expression: %w", err)
		}
	}

	if key := c.Security.EncryptionKey; key != "" && len(key) != 32 {
		return fmt.Errorf("ENCRYPTION_KEY must be exactly 32 bytes for AES-256, got %d", len(key))
	}

	if hash := c.Security.APITokenHash; hash != "" && !crypto.ValidHash(hash) {
		return errors.New("API_TOKEN_HASH is not a bcrypt hash; generate one with `statarb gen-token`")
	}

	if c.Exchange.Name == "dydx" && c.Exchange.SignerURL == "" && (c.Phases.PlaceTrades || c.Phases.ManageExits || c.Phases.AbortAll) {
		return fmt.Errorf("SIGNER_URL is required to trade on dydx; disable PLACE_TRADES, MANAGE_EXITS and ABORT_ALL_POSITIONS for read-only mode")
	}

	return nil
}

// revealSecrets расшифровывает значения с префиксом enc:
func (c *Config) revealSecrets() error {
	secrets := []struct {
		name  string
		value *string
	}{
		{"TELEGRAM_BOT_TOKEN", &c.Telegram.BotToken},
		{"SIGNER_API_KEY", &c.Exchange.SignerAPIKey},
		{"DB_PASSWORD", &c.Database.Password},
	}

	for _, s := range secrets {
		plain, err := crypto.RevealSecret(*s.value, c.Security.EncryptionKey)
		if err != nil {
			return fmt.Errorf("%s: %w", s.name, err)
		}
		*s.value = plain
	}
	return nil
}

// LogConfig параметры логгера
func (c *Config) LogConfig() utils.LogConfig {
	return utils.LogConfig{
		Level:  c.Logging.Level,
		Format: c.Logging.Format,
		Output: c.Logging.Output,
	}
}

// Addr адрес HTTP сервера
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
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

// splitList разбирает список через запятую, пустые элементы отбрасываются
func splitList(value string) []string {
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

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
