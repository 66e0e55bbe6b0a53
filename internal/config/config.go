// Package config loads application configuration from environment
// variables with an optional YAML file overlay.
// 環境変数と任意のYAMLファイル上書きからアプリケーション設定を読み込む
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config holds application configuration
// アプリケーション設定を保持
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	API      APIConfig      `yaml:"api"`
	Stock    StockConfig    `yaml:"stock"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// DatabaseConfig holds database configuration
// データベース設定を保持
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
}

// APIConfig holds API server configuration
// APIサーバー設定を保持
type APIConfig struct {
	Port          int           `yaml:"port"`
	ReadTimeout   time.Duration `yaml:"read_timeout"`
	WriteTimeout  time.Duration `yaml:"write_timeout"`
	IdleTimeout   time.Duration `yaml:"idle_timeout"`
	EnableMetrics bool          `yaml:"enable_metrics"`
}

// StockConfig holds stock-core configuration
// 在庫コア固有の設定を保持
type StockConfig struct {
	Backend            string `yaml:"backend"`              // postgres または memory
	ExpiringSoonDays   int    `yaml:"expiring_soon_days"`   // 期限間近とみなす日数
	ReconcileEpsilon   string `yaml:"reconcile_epsilon"`    // 照合許容誤差（10進文字列）
	MaxConflictRetries int    `yaml:"max_conflict_retries"` // 競合時の最大再試行回数
}

// LoggingConfig holds logging configuration
// ログ設定を保持
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json, console
	Output string `yaml:"output"` // stdout, file
}

// Load loads configuration from environment variables. When CONFIG_FILE
// names a YAML file, its values overlay the environment defaults.
// 環境変数から設定を読み込む。CONFIG_FILEでYAMLファイルを指定すると
// その値が環境変数由来の既定値を上書きする。
func Load() (*Config, error) {
	cfg := &Config{
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "stockcore"),
			Password: getEnv("DB_PASSWORD", "password"),
			DBName:   getEnv("DB_NAME", "stockcore_db"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		API: APIConfig{
			Port:          getEnvAsInt("API_PORT", 8080),
			ReadTimeout:   getEnvAsDuration("API_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:  getEnvAsDuration("API_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:   getEnvAsDuration("API_IDLE_TIMEOUT", 60*time.Second),
			EnableMetrics: getEnvAsBool("API_ENABLE_METRICS", true),
		},
		Stock: StockConfig{
			Backend:            getEnv("STOCK_BACKEND", "postgres"),
			ExpiringSoonDays:   getEnvAsInt("STOCK_EXPIRING_SOON_DAYS", 30),
			ReconcileEpsilon:   getEnv("STOCK_RECONCILE_EPSILON", "0.001"),
			MaxConflictRetries: getEnvAsInt("STOCK_MAX_CONFLICT_RETRIES", 3),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
			Output: getEnv("LOG_OUTPUT", "stdout"),
		},
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("設定ファイルの読み込みに失敗しました: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("設定ファイルの解析に失敗しました: %w", err)
		}
	}

	// バリデーション
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("設定バリデーションに失敗しました: %w", err)
	}

	return cfg, nil
}

// Validate validates the configuration
// 設定をバリデーション
func (c *Config) Validate() error {
	// データベース設定チェック（postgresバックエンドの場合のみ）
	if c.Stock.Backend == "postgres" {
		if c.Database.Host == "" {
			return fmt.Errorf("データベースホストが指定されていません")
		}
		if c.Database.Port <= 0 || c.Database.Port > 65535 {
			return fmt.Errorf("無効なデータベースポート: %d", c.Database.Port)
		}
		if c.Database.User == "" {
			return fmt.Errorf("データベースユーザーが指定されていません")
		}
		if c.Database.DBName == "" {
			return fmt.Errorf("データベース名が指定されていません")
		}
	} else if c.Stock.Backend != "memory" {
		return fmt.Errorf("無効なストレージバックエンド: %s", c.Stock.Backend)
	}

	// API設定チェック
	if c.API.Port <= 0 || c.API.Port > 65535 {
		return fmt.Errorf("無効なAPIポート: %d", c.API.Port)
	}

	// 在庫設定チェック
	if c.Stock.ExpiringSoonDays <= 0 {
		return fmt.Errorf("期限間近日数は1以上である必要があります: %d", c.Stock.ExpiringSoonDays)
	}
	if c.Stock.MaxConflictRetries < 0 {
		return fmt.Errorf("最大再試行回数は0以上である必要があります: %d", c.Stock.MaxConflictRetries)
	}
	if _, err := c.ReconcileEpsilon(); err != nil {
		return fmt.Errorf("無効な照合許容誤差: %s", c.Stock.ReconcileEpsilon)
	}

	// ログ設定チェック
	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "fatal": true,
	}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("無効なログレベル: %s", c.Logging.Level)
	}

	validLogFormats := map[string]bool{
		"json": true, "console": true,
	}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("無効なログフォーマット: %s", c.Logging.Format)
	}

	return nil
}

// DSN generates PostgreSQL Data Source Name
// PostgreSQLデータソース名を生成
func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Database.Host,
		c.Database.Port,
		c.Database.User,
		c.Database.Password,
		c.Database.DBName,
		c.Database.SSLMode,
	)
}

// ReconcileEpsilon parses the reconciliation tolerance
// 照合許容誤差を解析
func (c *Config) ReconcileEpsilon() (decimal.Decimal, error) {
	return decimal.NewFromString(c.Stock.ReconcileEpsilon)
}

// ExpiringSoonWindow returns the expiring-soon horizon as a duration
// 期限間近の判定幅をdurationとして返す
func (c *Config) ExpiringSoonWindow() time.Duration {
	return time.Duration(c.Stock.ExpiringSoonDays) * 24 * time.Hour
}

// ヘルパー関数

// getEnv gets environment variable with default value
// デフォルト値付きで環境変数を取得
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets environment variable as integer with default value
// デフォルト値付きで環境変数を整数として取得
func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvAsBool gets environment variable as boolean with default value
// デフォルト値付きで環境変数をbooleanとして取得
func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getEnvAsDuration gets environment variable as duration with default value
// デフォルト値付きで環境変数をdurationとして取得
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
