package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"golang.org/x/crypto/bcrypt"

	"github.com/irfndi/celebrum-quant/internal/johansen"
)

type Config struct {
	Environment   string              `mapstructure:"environment"`
	LogLevel      string              `mapstructure:"log_level"`
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Telegram      TelegramConfig      `mapstructure:"telegram"`
	Telemetry     TelemetryConfig     `mapstructure:"telemetry"`
	Security      SecurityConfig      `mapstructure:"security"`
	Cointegration CointegrationConfig `mapstructure:"cointegration"`
	HedgeRatio    HedgeRatioConfig    `mapstructure:"hedge_ratio"`
	Alerts        AlertsConfig        `mapstructure:"alerts"`
}

type ServerConfig struct {
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type DatabaseConfig struct {
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	DBName          string `mapstructure:"dbname"`
	SSLMode         string `mapstructure:"sslmode"`
	DatabaseURL     string `mapstructure:"database_url"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime string `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime string `mapstructure:"conn_max_idle_time"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type TelegramConfig struct {
	BotToken string `mapstructure:"bot_token"`
}

type TelemetryConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	OTLPEndpoint   string `mapstructure:"otlp_endpoint"`
	ServiceName    string `mapstructure:"service_name"`
	ServiceVersion string `mapstructure:"service_version"`
	LogLevel       string `mapstructure:"log_level"`
	OTLPLogs       bool   `mapstructure:"otlp_logs"`
}

type SecurityConfig struct {
	JWTSecret   string `mapstructure:"jwt_secret" json:"-" yaml:"-"`
	JWTExpiry   string `mapstructure:"jwt_expiry"`
	BcryptCost  int    `mapstructure:"bcrypt_cost"`
	AdminAPIKey string `mapstructure:"admin_api_key" json:"-" yaml:"-"`
}

// CointegrationConfig holds defaults for Johansen analyses requested by symbol.
type CointegrationConfig struct {
	DefaultLags       int    `mapstructure:"default_lags"`
	DefaultModel      string `mapstructure:"default_model"`
	SignificanceLevel string `mapstructure:"significance_level"`
	WindowSize        int    `mapstructure:"window_size"`
	MaxSeries         int    `mapstructure:"max_series"`
	CacheTTL          string `mapstructure:"cache_ttl"`
	UseLogPrices      bool   `mapstructure:"use_log_prices"`
	PersistReports    bool   `mapstructure:"persist_reports"`
}

// HedgeRatioConfig holds the Kalman filter noise defaults and spread signal thresholds.
type HedgeRatioConfig struct {
	ProcessNoise     float64 `mapstructure:"process_noise"`
	ObservationNoise float64 `mapstructure:"observation_noise"`
	MinVariance      float64 `mapstructure:"min_variance"`
	ZScoreWindow     int     `mapstructure:"zscore_window"`
	EntryZScore      float64 `mapstructure:"entry_zscore"`
	ExitZScore       float64 `mapstructure:"exit_zscore"`
	ReplayLimit      int     `mapstructure:"replay_limit"`
	UseLogPrices     bool    `mapstructure:"use_log_prices"`
	PersistState     bool    `mapstructure:"persist_state"`
}

type AlertsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	ChatID  string `mapstructure:"chat_id"`
}

// GetCacheTTL returns the parsed cache TTL; Load has already validated it.
func (c CointegrationConfig) GetCacheTTL() time.Duration {
	d, err := time.ParseDuration(c.CacheTTL)
	if err != nil {
		return 0
	}
	return d
}

// Model returns the parsed default deterministic model.
func (c CointegrationConfig) Model() johansen.DeterministicModel {
	m, err := johansen.ParseModel(c.DefaultModel)
	if err != nil {
		return johansen.Model1
	}
	return m
}

// Level returns the parsed default significance level.
func (c CointegrationConfig) Level() johansen.SignificanceLevel {
	l, err := johansen.ParseSignificanceLevel(c.SignificanceLevel)
	if err != nil {
		return johansen.Level95
	}
	return l
}

func Load() (*Config, error) {
	// A missing .env is normal outside local development.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath(".")

	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.BindEnv("security.jwt_secret", "JWT_SECRET"); err != nil {
		return nil, fmt.Errorf("failed to bind JWT_SECRET environment variable: %w", err)
	}
	if err := v.BindEnv("security.admin_api_key", "ADMIN_API_KEY"); err != nil {
		return nil, fmt.Errorf("failed to bind ADMIN_API_KEY environment variable: %w", err)
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	config.Environment = strings.ToLower(config.Environment)
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate checks cross-field constraints that defaults cannot guarantee.
func (c *Config) Validate() error {
	if c.Environment != "development" && c.Security.JWTSecret == "" {
		return errors.New("JWT_SECRET environment variable is required in non-development environments")
	}

	if c.Security.JWTExpiry != "" {
		if _, err := time.ParseDuration(c.Security.JWTExpiry); err != nil {
			return fmt.Errorf("invalid JWT expiry duration: %w", err)
		}
	}

	if c.Security.BcryptCost < bcrypt.MinCost || c.Security.BcryptCost > bcrypt.MaxCost {
		return fmt.Errorf("bcrypt cost must be between %d and %d, got %d",
			bcrypt.MinCost, bcrypt.MaxCost, c.Security.BcryptCost)
	}

	if c.Cointegration.DefaultLags < 1 {
		return fmt.Errorf("cointegration default lags must be at least 1, got %d", c.Cointegration.DefaultLags)
	}
	if _, err := johansen.ParseModel(c.Cointegration.DefaultModel); err != nil {
		return fmt.Errorf("invalid cointegration model: %w", err)
	}
	if _, err := johansen.ParseSignificanceLevel(c.Cointegration.SignificanceLevel); err != nil {
		return fmt.Errorf("invalid cointegration significance level: %w", err)
	}
	if c.Cointegration.MaxSeries < 2 || c.Cointegration.MaxSeries > johansen.MaxTabulatedSeries {
		return fmt.Errorf("cointegration max series must be between 2 and %d, got %d",
			johansen.MaxTabulatedSeries, c.Cointegration.MaxSeries)
	}
	if c.Cointegration.CacheTTL != "" {
		if _, err := time.ParseDuration(c.Cointegration.CacheTTL); err != nil {
			return fmt.Errorf("invalid cointegration cache TTL: %w", err)
		}
	}

	if c.HedgeRatio.ProcessNoise < 0 || c.HedgeRatio.ObservationNoise < 0 {
		return fmt.Errorf("hedge ratio noise must be non-negative, got Q=%v R=%v",
			c.HedgeRatio.ProcessNoise, c.HedgeRatio.ObservationNoise)
	}
	if c.HedgeRatio.ZScoreWindow < 2 {
		return fmt.Errorf("hedge ratio z-score window must be at least 2, got %d", c.HedgeRatio.ZScoreWindow)
	}
	if c.HedgeRatio.ExitZScore < 0 || c.HedgeRatio.EntryZScore <= c.HedgeRatio.ExitZScore {
		return fmt.Errorf("hedge ratio entry z-score (%v) must exceed exit z-score (%v) and both be non-negative",
			c.HedgeRatio.EntryZScore, c.HedgeRatio.ExitZScore)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	// Environment
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")

	// Server
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"http://localhost:3000"})

	// Database
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "celebrum_quant")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.database_url", "")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "300s")
	v.SetDefault("database.conn_max_idle_time", "60s")

	// Redis
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	// Telegram
	v.SetDefault("telegram.bot_token", "")

	// Telemetry
	v.SetDefault("telemetry.enabled", true)
	v.SetDefault("telemetry.otlp_endpoint", "")
	v.SetDefault("telemetry.service_name", "celebrum-quant")
	v.SetDefault("telemetry.service_version", "1.0.0")
	v.SetDefault("telemetry.log_level", "info")
	v.SetDefault("telemetry.otlp_logs", false)

	// Security
	v.SetDefault("security.jwt_secret", "")
	v.SetDefault("security.jwt_expiry", "24h")
	v.SetDefault("security.bcrypt_cost", 12)
	v.SetDefault("security.admin_api_key", "")

	// Cointegration
	v.SetDefault("cointegration.default_lags", 1)
	v.SetDefault("cointegration.default_model", "model1")
	v.SetDefault("cointegration.significance_level", "95")
	v.SetDefault("cointegration.window_size", 500)
	v.SetDefault("cointegration.max_series", 6)
	v.SetDefault("cointegration.cache_ttl", "10m")
	v.SetDefault("cointegration.use_log_prices", true)
	v.SetDefault("cointegration.persist_reports", true)

	// Hedge ratio
	v.SetDefault("hedge_ratio.process_noise", 1e-5)
	v.SetDefault("hedge_ratio.observation_noise", 1e-3)
	v.SetDefault("hedge_ratio.min_variance", 1e-8)
	v.SetDefault("hedge_ratio.zscore_window", 30)
	v.SetDefault("hedge_ratio.entry_zscore", 2.0)
	v.SetDefault("hedge_ratio.exit_zscore", 0.5)
	v.SetDefault("hedge_ratio.replay_limit", 1000)
	v.SetDefault("hedge_ratio.use_log_prices", true)
	v.SetDefault("hedge_ratio.persist_state", true)

	// Alerts
	v.SetDefault("alerts.enabled", false)
	v.SetDefault("alerts.chat_id", "")
}
